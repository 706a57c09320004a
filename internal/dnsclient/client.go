// Package dnsclient publishes carriers to a dnsserver and retrieves them
// with plain TXT queries.
package dnsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/faanross/simulacra_stego/internal/chunker"
	"github.com/faanross/simulacra_stego/internal/dnsserver"
	"github.com/miekg/dns"
)

var ErrNotFound = errors.New("record not found")

// Options configures a Client.
type Options struct {
	Server     string        // DNS server host:port
	Domain     string        // served domain
	UploadURL  string        // base URL of the HTTP API
	Timeout    time.Duration // per query / request
	MaxRetries int           // extra attempts per chunk
	RetryDelay time.Duration // grows linearly per attempt
	QueryDelay time.Duration // pause between chunk queries
	Logger     *slog.Logger
	// Progress, when set, is called after each retrieved chunk.
	Progress func(done, total int)
}

// Client talks to one server.
type Client struct {
	opts    Options
	dns     *dns.Client
	http    *http.Client
	encoder *chunker.DNSEncoder
	chunker *chunker.Chunker
	logger  *slog.Logger
}

// New creates a client, filling defaults for unset options.
func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		opts:    opts,
		dns:     &dns.Client{Timeout: opts.Timeout},
		http:    &http.Client{Timeout: opts.Timeout},
		encoder: chunker.NewDNSEncoder(opts.Domain),
		chunker: chunker.New(chunker.Config{Logger: opts.Logger}),
		logger:  opts.Logger,
	}
}

// Upload posts a chunked message to the HTTP API.
func (c *Client) Upload(ctx context.Context, msg *chunker.Message) (*dnsserver.UploadResponse, error) {
	req := dnsserver.UploadRequest{
		MessageID: msg.IDString(),
		Chunks:    make(map[string]string, len(msg.Chunks)),
		Manifest:  msg.Manifest().String(),
	}
	for i, chunk := range msg.Chunks {
		req.Chunks[chunker.ChunkLabel(i, req.MessageID)] = chunk.Encoded
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(c.opts.UploadURL, "/") + "/upload"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("server returned status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var result dnsserver.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	c.logger.Info("message uploaded", "id", result.MessageID, "chunks", result.Chunks, "url", url)
	return &result, nil
}

// Fetch retrieves, reassembles and verifies message msgID.
func (c *Client) Fetch(ctx context.Context, msgID string) ([]byte, chunker.Manifest, error) {
	msgID = strings.ToLower(msgID)

	value, err := c.queryWithRetry(ctx, c.encoder.Name(chunker.ManifestLabel(msgID)))
	if err != nil {
		return nil, chunker.Manifest{}, fmt.Errorf("manifest fetch failed: %w", err)
	}
	manifest, err := chunker.ParseManifest(msgID, value)
	if err != nil {
		return nil, chunker.Manifest{}, err
	}
	c.logger.Debug("manifest retrieved", "id", msgID, "chunks", manifest.TotalChunks, "kind", manifest.Kind)

	chunks := make([]chunker.Chunk, 0, manifest.TotalChunks)
	for i := 0; i < manifest.TotalChunks; i++ {
		value, err := c.queryWithRetry(ctx, c.encoder.Name(chunker.ChunkLabel(i, msgID)))
		if err != nil {
			return nil, manifest, fmt.Errorf("chunk %d: %w", i, err)
		}
		chunk, err := c.chunker.Decode(value)
		if err != nil {
			return nil, manifest, fmt.Errorf("chunk %d: %w", i, err)
		}
		chunks = append(chunks, *chunk)

		if c.opts.Progress != nil {
			c.opts.Progress(i+1, manifest.TotalChunks)
		}
		if c.opts.QueryDelay > 0 && i+1 < manifest.TotalChunks {
			if err := sleep(ctx, c.opts.QueryDelay); err != nil {
				return nil, manifest, err
			}
		}
	}

	data, err := c.chunker.Reassemble(chunks)
	if err != nil {
		return nil, manifest, fmt.Errorf("reassembly failed: %w", err)
	}
	if err := manifest.Verify(data); err != nil {
		return nil, manifest, err
	}
	return data, manifest, nil
}

// Poll asks the server for message IDs new to clientID. The server marks
// them delivered to this client.
func (c *Client) Poll(ctx context.Context, clientID string) ([]string, error) {
	value, err := c.query(ctx, fmt.Sprintf("consume.%s.%s", clientID, c.opts.Domain))
	if err != nil {
		return nil, err
	}
	if value == "" {
		return nil, nil
	}
	return strings.Split(value, ","), nil
}

// Ack marks msgID consumed by clientID.
func (c *Client) Ack(ctx context.Context, msgID, clientID string) error {
	_, err := c.query(ctx, fmt.Sprintf("ack.%s.%s.%s", msgID, clientID, c.opts.Domain))
	return err
}

func (c *Client) queryWithRetry(ctx context.Context, name string) (string, error) {
	value, err := c.query(ctx, name)
	for retry := 0; err != nil && retry < c.opts.MaxRetries; retry++ {
		c.logger.Debug("retrying query", "name", name, "attempt", retry+1, "error", err)
		if serr := sleep(ctx, time.Duration(retry+1)*c.opts.RetryDelay); serr != nil {
			return "", serr
		}
		value, err = c.query(ctx, name)
	}
	return value, err
}

// query returns the first TXT answer for name.
func (c *Client) query(ctx context.Context, name string) (string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeTXT)

	resp, _, err := c.dns.ExchangeContext(ctx, m, c.opts.Server)
	if err != nil {
		return "", err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("%w: %s (%s)", ErrNotFound, name, dns.RcodeToString[resp.Rcode])
	}
	for _, ans := range resp.Answer {
		if txt, ok := ans.(*dns.TXT); ok {
			return strings.Join(txt.Txt, ""), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
