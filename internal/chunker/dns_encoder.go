package chunker

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultSubdomain sits between record labels and the served domain.
const DefaultSubdomain = "data"

// DefaultTTL is the TXT record TTL in seconds.
const DefaultTTL = 300

var ErrBadManifest = errors.New("malformed manifest")

// Manifest tells a receiver what to expect. Its TXT form is
// TOTAL:CHECKSUM:KIND.
type Manifest struct {
	MessageID   string
	TotalChunks int
	Checksum    string
	Kind        string
}

func (m Manifest) String() string {
	return fmt.Sprintf("%d:%s:%s", m.TotalChunks, m.Checksum, m.Kind)
}

// ParseManifest reads the TXT form of a manifest.
func ParseManifest(msgID, value string) (Manifest, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return Manifest{}, fmt.Errorf("%w: %q", ErrBadManifest, value)
	}
	total, err := strconv.Atoi(parts[0])
	if err != nil || total <= 0 {
		return Manifest{}, fmt.Errorf("%w: bad chunk count %q", ErrBadManifest, parts[0])
	}
	return Manifest{
		MessageID:   msgID,
		TotalChunks: total,
		Checksum:    parts[1],
		Kind:        parts[2],
	}, nil
}

// Verify checks reassembled data against the manifest checksum.
func (m Manifest) Verify(data []byte) error {
	if got := Checksum(data); got != m.Checksum {
		return fmt.Errorf("%w: manifest %s, data %s", ErrChecksum, m.Checksum, got)
	}
	return nil
}

// ManifestLabel is the first label of a manifest record name.
func ManifestLabel(msgID string) string {
	return "m-" + msgID
}

// ChunkLabel is the first label of a chunk record name.
func ChunkLabel(seq int, msgID string) string {
	return fmt.Sprintf("c-%d-%s", seq, msgID)
}

// Label describes a parsed record label.
type Label struct {
	Manifest bool
	Sequence int
	MsgID    string
}

// ParseLabel reads m-<id> or c-<n>-<id> from the first label of name.
func ParseLabel(name string) (Label, bool) {
	label, _, _ := strings.Cut(strings.ToLower(name), ".")

	if id, ok := strings.CutPrefix(label, "m-"); ok && id != "" {
		return Label{Manifest: true, MsgID: id}, true
	}

	rest, ok := strings.CutPrefix(label, "c-")
	if !ok {
		return Label{}, false
	}
	seqStr, id, ok := strings.Cut(rest, "-")
	if !ok || id == "" {
		return Label{}, false
	}
	seq, err := strconv.Atoi(seqStr)
	if err != nil || seq < 0 {
		return Label{}, false
	}
	return Label{Sequence: seq, MsgID: id}, true
}

// DNSRecord is one TXT record.
type DNSRecord struct {
	Name  string // full name without trailing dot
	TTL   int
	Value string
}

// DNSEncoder names records under <subdomain>.<domain>.
type DNSEncoder struct {
	domain    string
	subdomain string
}

// NewDNSEncoder creates an encoder for domain.
func NewDNSEncoder(domain string) *DNSEncoder {
	return &DNSEncoder{
		domain:    strings.TrimSuffix(strings.ToLower(domain), "."),
		subdomain: DefaultSubdomain,
	}
}

// Name builds the full record name for a label.
func (de *DNSEncoder) Name(label string) string {
	return fmt.Sprintf("%s.%s.%s", label, de.subdomain, de.domain)
}

// Records converts a chunked message into its manifest and chunk records.
// The manifest record comes first.
func (de *DNSEncoder) Records(msg *Message) (Manifest, []DNSRecord) {
	manifest := msg.Manifest()
	records := make([]DNSRecord, 0, len(msg.Chunks)+1)
	records = append(records, DNSRecord{
		Name:  de.Name(ManifestLabel(manifest.MessageID)),
		TTL:   DefaultTTL,
		Value: manifest.String(),
	})
	for i, chunk := range msg.Chunks {
		records = append(records, DNSRecord{
			Name:  de.Name(ChunkLabel(i, manifest.MessageID)),
			TTL:   DefaultTTL,
			Value: chunk.Encoded,
		})
	}
	return manifest, records
}

// ZoneFile renders records in BIND zone file syntax.
func (de *DNSEncoder) ZoneFile(records []DNSRecord) string {
	var zone strings.Builder

	zone.WriteString("; simulacra carrier zone\n")
	fmt.Fprintf(&zone, "; Generated: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&zone, "; Records: %d\n\n", len(records))

	for _, record := range records {
		fmt.Fprintf(&zone, "%s. %d IN TXT \"%s\"\n", record.Name, record.TTL, record.Value)
	}
	return zone.String()
}

// ParseZone reads TXT records back from ZoneFile output. Comment and
// non-TXT lines are skipped.
func ParseZone(content string) ([]DNSRecord, error) {
	var records []DNSRecord

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || !strings.Contains(line, " IN TXT ") {
			continue
		}

		fields := strings.Fields(line)
		startQuote := strings.Index(line, `"`)
		endQuote := strings.LastIndex(line, `"`)
		if len(fields) < 5 || startQuote < 0 || endQuote <= startQuote {
			return nil, fmt.Errorf("malformed zone line: %q", line)
		}

		ttl, err := strconv.Atoi(fields[1])
		if err != nil {
			ttl = DefaultTTL
		}
		records = append(records, DNSRecord{
			Name:  strings.TrimSuffix(fields[0], "."),
			TTL:   ttl,
			Value: line[startQuote+1 : endQuote],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("no TXT records found in zone file")
	}
	return records, nil
}
