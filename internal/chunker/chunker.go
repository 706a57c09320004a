// Package chunker splits stego carriers (PNG files or marked text) into
// fragments small enough for a single DNS TXT string and puts them back
// together.
//
// Wire format of one chunk before encoding:
//
//	[MAGIC(4)][MSGID(16)][SEQ(2)][TOTAL(2)][CHECKSUM(4)][PAYLOAD(variable)]
//
// Chunks are self-describing so they survive out-of-order delivery, and the
// keyed BLAKE3 checksum catches corruption.
package chunker

import (
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/zeebo/blake3"
)

const (
	// MAX_DNS_STRING_SIZE is the protocol limit for one TXT string.
	MAX_DNS_STRING_SIZE = 255

	// SAFE_CHUNK_SIZE leaves room below the limit for resolver quirks.
	SAFE_CHUNK_SIZE = 250

	// METADATA_OVERHEAD is Magic(4) + MessageID(16) + Sequence(2) + Total(2) + Checksum(4).
	METADATA_OVERHEAD = 28

	// PAYLOAD_PER_CHUNK_HEX is 250/2 - 28: hex doubles the header as well.
	PAYLOAD_PER_CHUNK_HEX = SAFE_CHUNK_SIZE/2 - METADATA_OVERHEAD

	// PAYLOAD_PER_CHUNK_B32 is floor(250*5/8) - 28.
	PAYLOAD_PER_CHUNK_B32 = SAFE_CHUNK_SIZE*5/8 - METADATA_OVERHEAD

	ENCODE_HEX    = "hex"
	ENCODE_BASE32 = "base32"

	// CHUNK_MAGIC is "SIMC".
	CHUNK_MAGIC = 0x53494D43
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

var (
	ErrNoChunks       = errors.New("no chunks provided")
	ErrIncomplete     = errors.New("incomplete message")
	ErrChecksum       = errors.New("checksum mismatch")
	ErrInvalidChunk   = errors.New("invalid chunk")
	ErrMessageTooLong = errors.New("message too large")
)

// checksumKey domain-separates chunk checksums from message checksums.
var checksumKey = blake3.Sum256([]byte("simulacra chunk checksum v1"))

// ChunkMetadata is the fixed header carried by every chunk.
type ChunkMetadata struct {
	Magic       uint32
	MessageID   [16]byte
	Sequence    uint16 // 0-based
	TotalChunks uint16
	Checksum    uint32 // keyed BLAKE3 of the payload, truncated
}

// Chunk is a single DNS-ready fragment.
type Chunk struct {
	Metadata ChunkMetadata
	Payload  []byte // raw bytes before encoding
	Encoded  string // TXT-safe text
}

// Message is a carrier split into chunks.
type Message struct {
	ID        [16]byte
	Data      []byte
	Kind      string // carrier kind: "image" or "text"
	Chunks    []Chunk
	Encoding  string
	CreatedAt time.Time
}

// IDString is the DNS label form of the message ID.
func (m *Message) IDString() string {
	return hex.EncodeToString(m.ID[:8])
}

// Manifest summarises the message for the m- record.
func (m *Message) Manifest() Manifest {
	return Manifest{
		MessageID:   m.IDString(),
		TotalChunks: len(m.Chunks),
		Checksum:    Checksum(m.Data),
		Kind:        m.Kind,
	}
}

// Config controls chunking.
type Config struct {
	Encoding string // hex or base32 (default)
	Logger   *slog.Logger
}

// Chunker handles message fragmentation.
type Chunker struct {
	config Config
	logger *slog.Logger
}

// New creates a configured chunker.
func New(config Config) *Chunker {
	if config.Encoding == "" {
		config.Encoding = ENCODE_BASE32
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{config: config, logger: logger}
}

// PayloadSize is the number of raw bytes carried per chunk.
func (c *Chunker) PayloadSize() int {
	if c.config.Encoding == ENCODE_HEX {
		return PAYLOAD_PER_CHUNK_HEX
	}
	return PAYLOAD_PER_CHUNK_B32
}

// Split fragments data into DNS-ready chunks.
func (c *Chunker) Split(data []byte, kind string) (*Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty data", ErrInvalidChunk)
	}

	startTime := time.Now()
	payloadSize := c.PayloadSize()
	totalChunks := (len(data) + payloadSize - 1) / payloadSize
	if totalChunks > math.MaxUint16 {
		return nil, fmt.Errorf("%w: requires %d chunks (max %d)", ErrMessageTooLong, totalChunks, math.MaxUint16)
	}

	msg := &Message{
		ID:        generateMessageID(data),
		Data:      data,
		Kind:      kind,
		Chunks:    make([]Chunk, 0, totalChunks),
		Encoding:  c.config.Encoding,
		CreatedAt: time.Now(),
	}

	for i := 0; i < totalChunks; i++ {
		start := i * payloadSize
		end := min(start+payloadSize, len(data))
		payload := data[start:end]

		meta := ChunkMetadata{
			Magic:       CHUNK_MAGIC,
			MessageID:   msg.ID,
			Sequence:    uint16(i),
			TotalChunks: uint16(totalChunks),
			Checksum:    chunkChecksum(payload),
		}
		msg.Chunks = append(msg.Chunks, Chunk{
			Metadata: meta,
			Payload:  payload,
			Encoded:  c.encode(meta, payload),
		})
	}

	c.logger.Debug("message chunked",
		"id", msg.IDString(),
		"bytes", len(data),
		"encoding", c.config.Encoding,
		"chunks", totalChunks,
		"elapsed", time.Since(startTime))

	return msg, nil
}

func (c *Chunker) encode(meta ChunkMetadata, payload []byte) string {
	raw := make([]byte, METADATA_OVERHEAD, METADATA_OVERHEAD+len(payload))
	binary.BigEndian.PutUint32(raw[0:4], meta.Magic)
	copy(raw[4:20], meta.MessageID[:])
	binary.BigEndian.PutUint16(raw[20:22], meta.Sequence)
	binary.BigEndian.PutUint16(raw[22:24], meta.TotalChunks)
	binary.BigEndian.PutUint32(raw[24:28], meta.Checksum)
	raw = append(raw, payload...)

	if c.config.Encoding == ENCODE_HEX {
		return hex.EncodeToString(raw)
	}
	return b32.EncodeToString(raw)
}

// Decode parses a TXT value back into a chunk. The configured encoding is
// tried first, then the other one.
func (c *Chunker) Decode(encoded string) (*Chunk, error) {
	decoders := []func(string) ([]byte, error){b32.DecodeString, hex.DecodeString}
	if c.config.Encoding == ENCODE_HEX {
		slices.Reverse(decoders)
	}

	var lastErr error
	for _, decode := range decoders {
		raw, err := decode(encoded)
		if err != nil {
			lastErr = err
			continue
		}
		chunk, err := parseChunk(raw)
		if err != nil {
			lastErr = err
			continue
		}
		chunk.Encoded = encoded
		return chunk, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidChunk, lastErr)
}

func parseChunk(raw []byte) (*Chunk, error) {
	if len(raw) < METADATA_OVERHEAD {
		return nil, fmt.Errorf("chunk too small: %d bytes", len(raw))
	}

	var meta ChunkMetadata
	meta.Magic = binary.BigEndian.Uint32(raw[0:4])
	if meta.Magic != CHUNK_MAGIC {
		return nil, fmt.Errorf("invalid magic: %x", meta.Magic)
	}
	copy(meta.MessageID[:], raw[4:20])
	meta.Sequence = binary.BigEndian.Uint16(raw[20:22])
	meta.TotalChunks = binary.BigEndian.Uint16(raw[22:24])
	meta.Checksum = binary.BigEndian.Uint32(raw[24:28])

	return &Chunk{Metadata: meta, Payload: raw[METADATA_OVERHEAD:]}, nil
}

// Validate checks a single chunk in isolation.
func (c *Chunker) Validate(chunk *Chunk) error {
	if chunk.Metadata.Magic != CHUNK_MAGIC {
		return fmt.Errorf("%w: magic %x", ErrInvalidChunk, chunk.Metadata.Magic)
	}
	if got := chunkChecksum(chunk.Payload); got != chunk.Metadata.Checksum {
		return fmt.Errorf("%w: expected %x, got %x", ErrChecksum, chunk.Metadata.Checksum, got)
	}
	if chunk.Metadata.Sequence >= chunk.Metadata.TotalChunks {
		return fmt.Errorf("%w: sequence %d out of bounds (total: %d)",
			ErrInvalidChunk, chunk.Metadata.Sequence, chunk.Metadata.TotalChunks)
	}
	if len(chunk.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidChunk)
	}
	if len(chunk.Payload) > max(PAYLOAD_PER_CHUNK_HEX, PAYLOAD_PER_CHUNK_B32) {
		return fmt.Errorf("%w: payload too large: %d", ErrInvalidChunk, len(chunk.Payload))
	}
	return nil
}

// Reassemble reconstructs the data from chunks given in any order.
func (c *Chunker) Reassemble(chunks []Chunk) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	messageID := chunks[0].Metadata.MessageID
	totalExpected := chunks[0].Metadata.TotalChunks
	for _, chunk := range chunks {
		if chunk.Metadata.MessageID != messageID {
			return nil, fmt.Errorf("mixed messages detected: %x vs %x",
				messageID[:8], chunk.Metadata.MessageID[:8])
		}
		if chunk.Metadata.TotalChunks != totalExpected {
			return nil, fmt.Errorf("inconsistent total chunks: %d vs %d",
				totalExpected, chunk.Metadata.TotalChunks)
		}
	}

	sorted := slices.Clone(chunks)
	slices.SortFunc(sorted, func(a, b Chunk) int {
		return int(a.Metadata.Sequence) - int(b.Metadata.Sequence)
	})
	sorted = slices.CompactFunc(sorted, func(a, b Chunk) bool {
		return a.Metadata.Sequence == b.Metadata.Sequence
	})

	if len(sorted) != int(totalExpected) {
		return nil, fmt.Errorf("%w: missing chunks %v", ErrIncomplete, missingChunks(sorted, totalExpected))
	}

	var reassembled []byte
	for i, chunk := range sorted {
		if chunk.Metadata.Sequence != uint16(i) {
			return nil, fmt.Errorf("sequence error at position %d", i)
		}
		if err := c.Validate(&chunk); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		reassembled = append(reassembled, chunk.Payload...)
	}

	c.logger.Debug("message reassembled", "id", hex.EncodeToString(messageID[:8]), "bytes", len(reassembled))
	return reassembled, nil
}

func missingChunks(chunks []Chunk, total uint16) []uint16 {
	present := make(map[uint16]bool, len(chunks))
	for _, chunk := range chunks {
		present[chunk.Metadata.Sequence] = true
	}
	var missing []uint16
	for i := uint16(0); i < total; i++ {
		if !present[i] {
			missing = append(missing, i)
		}
	}
	return missing
}

// generateMessageID hashes the data together with the current time so the
// same carrier published twice gets two IDs.
func generateMessageID(data []byte) [16]byte {
	hasher := blake3.New()
	hasher.Write(data)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(time.Now().UnixNano()))
	hasher.Write(ts[:])

	var id [16]byte
	copy(id[:], hasher.Sum(nil))
	return id
}

func chunkChecksum(payload []byte) uint32 {
	hasher, err := blake3.NewKeyed(checksumKey[:])
	if err != nil {
		panic("chunker: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(payload)
	return binary.BigEndian.Uint32(hasher.Sum(nil))
}

// Checksum is the whole-message checksum carried in the manifest.
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:16])
}
