// Package dnsserver publishes chunked stego carriers as DNS TXT records.
//
// Senders upload chunks over HTTP; receivers pull them with ordinary TXT
// queries:
//
//	m-<id>.<sub>.<domain>              manifest "total:checksum:kind"
//	c-<n>-<id>.<sub>.<domain>          chunk n
//	consume.<client>.<domain>          comma separated IDs new to client
//	ack.<id>.<client>.<domain>         mark <id> consumed
package dnsserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/faanross/simulacra_stego/internal/chunker"
	"github.com/miekg/dns"
)

// Server answers TXT queries from a Storage and accepts uploads over HTTP.
type Server struct {
	domain  string
	storage Storage
	queue   *QueueManager
	logger  *slog.Logger
	ttl     uint32
}

// New creates a server for domain backed by storage.
func New(domain string, storage Storage, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		domain:  dns.Fqdn(strings.ToLower(domain)),
		storage: storage,
		queue:   NewQueueManager(storage),
		logger:  logger,
		ttl:     chunker.DefaultTTL,
	}
}

// Storage returns the backing store.
func (s *Server) Storage() Storage {
	return s.storage
}

// ServeDNS implements dns.Handler.
func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	msg := new(dns.Msg)
	msg.SetReply(r)
	msg.Authoritative = true

	clientID := remoteHost(w.RemoteAddr())
	for _, question := range r.Question {
		qname := strings.ToLower(question.Name)
		if !dns.IsSubDomain(s.domain, qname) {
			msg.Rcode = dns.RcodeRefused
			continue
		}
		if question.Qtype != dns.TypeTXT {
			continue
		}

		value, ttl, err := s.resolve(qname, clientID)
		if err != nil {
			s.logger.Debug("query not answered", "name", qname, "client", clientID, "error", err)
			msg.Rcode = dns.RcodeNameError
			continue
		}
		msg.Answer = append(msg.Answer, &dns.TXT{
			Hdr: dns.RR_Header{
				Name:   question.Name,
				Rrtype: dns.TypeTXT,
				Class:  dns.ClassINET,
				Ttl:    ttl,
			},
			Txt: []string{value},
		})
		s.logger.Debug("served", "name", qname, "client", clientID)
	}

	if err := w.WriteMsg(msg); err != nil {
		s.logger.Warn("writing DNS response", "error", err)
	}
}

// resolve maps one query name to a TXT value and TTL.
func (s *Server) resolve(qname, clientID string) (string, uint32, error) {
	rel := strings.TrimSuffix(strings.TrimSuffix(qname, s.domain), ".")
	labels := strings.Split(rel, ".")

	switch {
	case len(labels) == 2 && labels[0] == "consume":
		return s.consume(labels[1])
	case len(labels) == 3 && labels[0] == "ack":
		if err := s.queue.AcknowledgeMessage(labels[1], labels[2]); err != nil {
			return "", 0, err
		}
		s.logger.Info("message acknowledged", "id", labels[1], "client", labels[2])
		return "ok", 0, nil
	}

	label, ok := chunker.ParseLabel(rel)
	if !ok {
		return "", 0, fmt.Errorf("unrecognised name %q", qname)
	}

	if label.Manifest {
		message, err := s.storage.GetMessage(label.MsgID)
		if err != nil {
			return "", 0, err
		}
		if message.State == StateExpired {
			return "", 0, ErrExpired
		}
		if err := s.storage.MarkAsDelivered(label.MsgID, clientID); err != nil {
			return "", 0, err
		}
		return message.Manifest, s.ttl, nil
	}

	value, err := s.storage.GetChunk(label.MsgID, chunker.ChunkLabel(label.Sequence, label.MsgID))
	if err != nil {
		return "", 0, err
	}
	return value, s.ttl, nil
}

func (s *Server) consume(clientID string) (string, uint32, error) {
	messages, err := s.queue.ConsumeMessages(clientID)
	if err != nil {
		return "", 0, err
	}
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	if len(messages) > 0 {
		s.logger.Info("client consumed messages", "client", clientID, "count", len(messages))
	}
	// An empty string is a valid TXT answer meaning "nothing new".
	return strings.Join(ids, ","), 0, nil
}

func remoteHost(addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// UploadRequest is the body of POST /upload.
type UploadRequest struct {
	MessageID string            `json:"message_id"`
	Chunks    map[string]string `json:"chunks"`
	Manifest  string            `json:"manifest"`
}

// UploadResponse is returned by a successful upload.
type UploadResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
	Chunks    int    `json:"chunks"`
}

// MessageStatus is one entry of GET /status.
type MessageStatus struct {
	ID          string    `json:"id"`
	State       string    `json:"state"`
	TotalChunks int       `json:"total_chunks"`
	Manifest    string    `json:"manifest"`
	Consumers   int       `json:"consumers"`
	CreatedAt   time.Time `json:"created_at"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Stats    StorageStats    `json:"stats"`
	Messages []MessageStatus `json:"messages"`
}

// Validate checks that the request describes one complete message.
func (req UploadRequest) Validate() error {
	if req.MessageID == "" || strings.Trim(req.MessageID, "0123456789abcdef") != "" {
		return fmt.Errorf("message_id must be lowercase hex, got %q", req.MessageID)
	}
	manifest, err := chunker.ParseManifest(req.MessageID, req.Manifest)
	if err != nil {
		return err
	}
	if manifest.TotalChunks != len(req.Chunks) {
		return fmt.Errorf("manifest announces %d chunks, upload has %d", manifest.TotalChunks, len(req.Chunks))
	}
	for i := 0; i < manifest.TotalChunks; i++ {
		value, ok := req.Chunks[chunker.ChunkLabel(i, req.MessageID)]
		if !ok {
			return fmt.Errorf("chunk %d missing", i)
		}
		if len(value) == 0 || len(value) > chunker.MAX_DNS_STRING_SIZE {
			return fmt.Errorf("chunk %d has invalid length %d", i, len(value))
		}
	}
	return nil
}

// HTTPHandler serves POST /upload and GET /status.
func (s *Server) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /status", s.handleStatus)
	return mux
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<20)).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.queue.PublishMessage(req.MessageID, req.Chunks, req.Manifest); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, ErrExists) {
			code = http.StatusConflict
		}
		http.Error(w, err.Error(), code)
		return
	}

	s.logger.Info("message uploaded", "id", req.MessageID, "chunks", len(req.Chunks))
	writeJSON(w, UploadResponse{
		Status:    "success",
		MessageID: req.MessageID,
		Chunks:    len(req.Chunks),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var messages []*Message
	if id := r.URL.Query().Get("id"); id != "" {
		msg, err := s.storage.GetMessage(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		messages = []*Message{msg}
	} else {
		var err error
		if messages, err = s.storage.ListMessages(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	resp := StatusResponse{Stats: s.storage.GetStats(), Messages: []MessageStatus{}}
	for _, m := range messages {
		resp.Messages = append(resp.Messages, MessageStatus{
			ID:          m.ID,
			State:       m.State.String(),
			TotalChunks: m.TotalChunks,
			Manifest:    m.Manifest,
			Consumers:   len(m.Consumers),
			CreatedAt:   m.CreatedAt,
		})
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// LoadZone publishes the records of a zone file produced by
// chunker.DNSEncoder.ZoneFile and returns the message ID.
func (s *Server) LoadZone(content string) (string, error) {
	records, err := chunker.ParseZone(content)
	if err != nil {
		return "", err
	}

	req := UploadRequest{Chunks: make(map[string]string)}
	for _, record := range records {
		label, ok := chunker.ParseLabel(record.Name)
		if !ok {
			continue
		}
		if req.MessageID == "" {
			req.MessageID = label.MsgID
		} else if label.MsgID != req.MessageID {
			return "", fmt.Errorf("zone mixes messages %s and %s", req.MessageID, label.MsgID)
		}
		if label.Manifest {
			req.Manifest = record.Value
		} else {
			req.Chunks[chunker.ChunkLabel(label.Sequence, label.MsgID)] = record.Value
		}
	}

	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("zone file: %w", err)
	}
	if err := s.queue.PublishMessage(req.MessageID, req.Chunks, req.Manifest); err != nil {
		return "", err
	}
	s.logger.Info("message loaded from zone", "id", req.MessageID, "chunks", len(req.Chunks))
	return req.MessageID, nil
}

// CleanLoop expires messages older than ttl every interval until ctx is
// done.
func (s *Server) CleanLoop(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.storage.CleanExpired(ttl); n > 0 {
				s.logger.Info("cleaned expired messages", "count", n)
			}
		}
	}
}
