// Package stego hides a text message in an image or text carrier and
// recovers it.
//
// Hide: message → optional encryption → frame (payload + "EOT") → channel.
// Reveal: channel → unframe at the first "EOT" → optional decryption.
//
// Both are pure over their inputs apart from the in-place pixel write of
// a successful image Hide. Distinct carriers may be processed concurrently;
// the same image buffer must not be.
package stego

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/faanross/simulacra_stego/internal/frame"
	"github.com/faanross/simulacra_stego/internal/scrypto"
)

// Service runs Hide and Reveal with one confidentiality configuration.
type Service struct {
	sealer *scrypto.Sealer
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithSealer sets the encryption layer used when a password is given.
func WithSealer(sealer *scrypto.Sealer) Option {
	return func(s *Service) { s.sealer = sealer }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New creates a Service. Without options it uses aes-gcm with default KDF
// cost and slog.Default.
func New(opts ...Option) *Service {
	s := &Service{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.sealer == nil {
		o := scrypto.DefaultOptions()
		o.Logger = s.logger
		s.sealer = scrypto.NewSealer(o)
	}
	return s
}

// Hide embeds message in c. With a non-empty password the message is
// encrypted first. An image carrier is modified in place and returned; a
// text carrier yields a new carrier. On ErrCapacityExceeded the carrier is
// untouched.
func (s *Service) Hide(c Carrier, message, password string) (Carrier, error) {
	if c == nil || c.Empty() {
		return nil, ErrInvalidCarrier
	}
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyPayload
	}

	payload, err := s.sealer.Encrypt(message, password)
	if err != nil {
		return nil, fmt.Errorf("encrypting message: %w", err)
	}

	bits := frame.Frame([]byte(payload))
	if capacity := c.Capacity(); capacity >= 0 && len(bits) > capacity {
		s.logger.Debug("carrier too small", "kind", c.Kind(), "need_bits", len(bits), "capacity_bits", capacity)
		return nil, fmt.Errorf("%w: need %d bits, have %d", ErrCapacityExceeded, len(bits), capacity)
	}

	out, err := c.Embed(bits)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("message hidden",
		"kind", c.Kind(),
		"encrypted", password != "",
		"payload_bytes", len(payload),
		"bits", len(bits))
	return out, nil
}

// Reveal recovers the first terminated message in c, decrypting it when
// password is non-empty.
func (s *Service) Reveal(c Carrier, password string) (string, error) {
	if c == nil || c.Empty() {
		return "", ErrInvalidCarrier
	}
	if !c.HasMarkers() {
		return "", ErrNoHiddenMessage
	}

	payload, terminated := frame.Unframe(c.Extract())
	if !terminated || payload == "" {
		s.logger.Debug("no terminated payload", "kind", c.Kind(), "terminated", terminated)
		return "", ErrNoHiddenMessage
	}

	message, err := s.sealer.Decrypt(payload, password)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	s.logger.Debug("message revealed", "kind", c.Kind(), "payload_bytes", len(payload))
	return message, nil
}

// CapacityReport describes how a message fits a carrier.
type CapacityReport struct {
	Kind         Kind
	CapacityBits int // -1 when unbounded
	RequiredBits int
	Fits         bool
}

// MaxPayloadBytes is the largest payload (after encryption) that fits, or
// -1 when unbounded.
func (r CapacityReport) MaxPayloadBytes() int {
	if r.CapacityBits < 0 {
		return -1
	}
	return max(r.CapacityBits/8-3, 0)
}

// Capacity reports whether message (encrypted under password, when set)
// fits c, without touching c.
func (s *Service) Capacity(c Carrier, message, password string) (CapacityReport, error) {
	if c == nil || c.Empty() {
		return CapacityReport{}, ErrInvalidCarrier
	}

	payload, err := s.sealer.Encrypt(message, password)
	if err != nil {
		return CapacityReport{}, fmt.Errorf("encrypting message: %w", err)
	}

	r := CapacityReport{
		Kind:         c.Kind(),
		CapacityBits: c.Capacity(),
		RequiredBits: frame.Len(len(payload)),
	}
	r.Fits = r.CapacityBits < 0 || r.RequiredBits <= r.CapacityBits
	return r, nil
}

// Hide runs Service.Hide with default settings.
func Hide(c Carrier, message, password string) (Carrier, error) {
	return New().Hide(c, message, password)
}

// Reveal runs Service.Reveal with default settings.
func Reveal(c Carrier, password string) (string, error) {
	return New().Reveal(c, password)
}
