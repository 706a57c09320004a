// Package scrypto is the optional confidentiality layer: password based
// encryption of the payload string before it is framed.
//
// An empty password disables the layer entirely; Encrypt and Decrypt are
// then the identity. Every ciphertext is self-contained text (salt, nonce
// and cipher choice travel with it) and never contains the frame
// terminator.
package scrypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/faanross/simulacra_stego/internal/spec"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/term"
)

// ErrDecrypt covers every decryption failure: wrong password, text that
// was never encrypted, malformed ciphertext.
var ErrDecrypt = errors.New("incorrect password or message was not encrypted")

// Cipher names a password cipher.
type Cipher string

const (
	CipherAESGCM  Cipher = "aes-gcm" // PBKDF2-SHA256 + AES-256-GCM
	CipherAge     Cipher = "age"     // age scrypt recipient
	CipherOpenSSL Cipher = "openssl" // OpenSSL "Salted__" AES-256-CBC, base64
)

// Envelope cipher identifiers (first byte of hex envelopes)
const (
	envelopeAESGCM byte = 0x01
	envelopeAge    byte = 0x02
)

// Envelope flags (second byte of hex envelopes)
const (
	flagCompressed byte = 1 << 0
)

// ParseCipher validates a cipher name.
func ParseCipher(name string) (Cipher, error) {
	switch c := Cipher(strings.ToLower(strings.TrimSpace(name))); c {
	case CipherAESGCM, CipherAge, CipherOpenSSL:
		return c, nil
	case "":
		return CipherAESGCM, nil
	default:
		return "", fmt.Errorf("unknown cipher %q (want aes-gcm, age or openssl)", name)
	}
}

// Options configures a Sealer.
type Options struct {
	Cipher        Cipher // Cipher used by Encrypt; Decrypt detects it
	Iterations    int    // PBKDF2 iterations for aes-gcm
	AgeWorkFactor int    // scrypt log2(N) for age
	Compress      bool   // gzip the plaintext when that makes it smaller
	Logger        *slog.Logger
}

// DefaultOptions returns aes-gcm with the standard KDF cost.
func DefaultOptions() Options {
	return Options{
		Cipher:        CipherAESGCM,
		Iterations:    spec.PBKDF2_ITERS,
		AgeWorkFactor: spec.AGE_WORK_FACTOR,
	}
}

// Sealer encrypts and decrypts payload strings.
type Sealer struct {
	opts   Options
	logger *slog.Logger
}

// NewSealer creates a Sealer; zero-valued options fall back to defaults.
func NewSealer(opts Options) *Sealer {
	def := DefaultOptions()
	if opts.Cipher == "" {
		opts.Cipher = def.Cipher
	}
	if opts.Iterations <= 0 {
		opts.Iterations = def.Iterations
	}
	if opts.AgeWorkFactor <= 0 {
		opts.AgeWorkFactor = def.AgeWorkFactor
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sealer{opts: opts, logger: logger}
}

// Cipher reports the cipher Encrypt uses.
func (s *Sealer) Cipher() Cipher {
	return s.opts.Cipher
}

// Encrypt returns plaintext unchanged when password is empty, otherwise a
// self-contained textual ciphertext.
func (s *Sealer) Encrypt(plaintext, password string) (string, error) {
	if password == "" {
		return plaintext, nil
	}

	switch s.opts.Cipher {
	case CipherOpenSSL:
		return s.sealOpenSSL([]byte(plaintext), []byte(password))
	case CipherAESGCM, CipherAge:
	default:
		return "", fmt.Errorf("unknown cipher %q", s.opts.Cipher)
	}

	data := []byte(plaintext)
	var flags byte
	if s.opts.Compress {
		compressed, err := CompressData(data)
		if err != nil {
			return "", fmt.Errorf("compression failed: %w", err)
		}
		if len(compressed) < len(data) {
			s.logger.Debug("payload compressed", "before", len(data), "after", len(compressed))
			data = compressed
			flags |= flagCompressed
		}
	}

	var (
		id   byte
		body []byte
		err  error
	)
	if s.opts.Cipher == CipherAge {
		id = envelopeAge
		body, err = s.sealAge(data, password)
	} else {
		id = envelopeAESGCM
		body, err = s.sealAESGCM(data, []byte(password))
	}
	if err != nil {
		return "", err
	}

	envelope := make([]byte, 0, 2+len(body))
	envelope = append(envelope, id, flags)
	envelope = append(envelope, body...)

	// Lowercase hex cannot contain the uppercase terminator.
	return hex.EncodeToString(envelope), nil
}

// Decrypt returns ciphertext unchanged when password is empty. Otherwise
// it detects the cipher from the text itself and opens it; every failure
// is reported as ErrDecrypt.
func (s *Sealer) Decrypt(ciphertext, password string) (string, error) {
	if password == "" {
		return ciphertext, nil
	}

	plaintext, err := s.open(ciphertext, []byte(password))
	if err != nil {
		s.logger.Debug("decryption failed", "error", err)
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(plaintext) == 0 {
		return "", fmt.Errorf("%w: empty plaintext", ErrDecrypt)
	}
	if !utf8.Valid(plaintext) {
		return "", fmt.Errorf("%w: plaintext is not valid UTF-8", ErrDecrypt)
	}
	return string(plaintext), nil
}

func (s *Sealer) open(ciphertext string, password []byte) ([]byte, error) {
	if strings.HasPrefix(ciphertext, spec.OPENSSL_PREFIX) {
		return s.openOpenSSL(ciphertext, password)
	}

	envelope, err := hex.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("not a ciphertext envelope: %w", err)
	}
	if len(envelope) < 2 {
		return nil, errors.New("envelope too short")
	}

	id, flags, body := envelope[0], envelope[1], envelope[2:]

	var data []byte
	switch id {
	case envelopeAESGCM:
		data, err = s.openAESGCM(body, password)
	case envelopeAge:
		data, err = s.openAge(body, string(password))
	default:
		return nil, fmt.Errorf("unknown envelope cipher %#x", id)
	}
	if err != nil {
		return nil, err
	}

	if flags&flagCompressed != 0 {
		data, err = DecompressData(data)
		if err != nil {
			return nil, fmt.Errorf("decompression failed: %w", err)
		}
	}
	return data, nil
}

// DeriveKey generates encryption key from password using PBKDF2
func DeriveKey(password, salt []byte, iterations int) []byte {
	return pbkdf2.Key(password, salt, iterations, spec.KEY_SIZE, sha256.New)
}

// Fingerprint returns the first 4 key bytes in hex, safe to log.
func Fingerprint(key []byte) string {
	if len(key) < 4 {
		return ""
	}
	return fmt.Sprintf("%X", key[:4])
}

// GetSecurePassword prompts for password with hidden input
func GetSecurePassword(prompt string, minLen int) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr) // New line after password

	if err != nil {
		return nil, fmt.Errorf("password read failed: %w", err)
	}

	if len(password) < minLen {
		return nil, fmt.Errorf("password must be at least %d characters", minLen)
	}

	return password, nil
}
