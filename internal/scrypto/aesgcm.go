package scrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/faanross/simulacra_stego/internal/spec"
)

// Upper bound on a stored iteration count, so a corrupted header cannot
// stall decryption.
const maxIterations = 10_000_000

// sealAESGCM performs AES-256-GCM encryption.
//
// Body layout: [Iterations(4)][Salt(32)][Nonce(12)][EncryptedData][AuthTag(16)]
// The plaintext is prefixed with MAGIC_HEADER before sealing.
func (s *Sealer) sealAESGCM(data, password []byte) ([]byte, error) {
	// Generate random salt
	salt := make([]byte, spec.SALT_SIZE)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("salt generation failed: %w", err)
	}

	key := DeriveKey(password, salt, s.opts.Iterations)
	s.logger.Debug("key derived",
		"algorithm", "PBKDF2-SHA256",
		"iterations", s.opts.Iterations,
		"fingerprint", Fingerprint(key))

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, spec.NONCE_SIZE)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce generation failed: %w", err)
	}

	// Add magic header to verify decryption
	payload := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(payload[:4], spec.MAGIC_HEADER)
	copy(payload[4:], data)

	body := make([]byte, 4, 4+spec.SALT_SIZE+spec.NONCE_SIZE+len(payload)+spec.TAG_SIZE)
	binary.BigEndian.PutUint32(body[:4], uint32(s.opts.Iterations))
	body = append(body, salt...)
	body = append(body, nonce...)
	// Seal appends ciphertext and tag
	body = gcm.Seal(body, nonce, payload, nil)

	return body, nil
}

// openAESGCM reverses sealAESGCM.
func (s *Sealer) openAESGCM(body, password []byte) ([]byte, error) {
	if len(body) < 4+spec.SALT_SIZE+spec.NONCE_SIZE+spec.TAG_SIZE {
		return nil, errors.New("payload too small for decryption")
	}

	iterations := int(binary.BigEndian.Uint32(body[:4]))
	if iterations <= 0 || iterations > maxIterations {
		return nil, fmt.Errorf("implausible iteration count %d", iterations)
	}

	offset := 4
	salt := body[offset : offset+spec.SALT_SIZE]
	offset += spec.SALT_SIZE

	nonce := body[offset : offset+spec.NONCE_SIZE]
	offset += spec.NONCE_SIZE

	// Remaining is encrypted data + auth tag
	ciphertext := body[offset:]

	key := DeriveKey(password, salt, iterations)
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	if len(plaintext) < 4 {
		return nil, errors.New("decrypted data too small")
	}
	if magic := binary.BigEndian.Uint32(plaintext[:4]); magic != spec.MAGIC_HEADER {
		return nil, fmt.Errorf("invalid magic header: %X (expected %X)", magic, spec.MAGIC_HEADER)
	}

	return plaintext[4:], nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher creation failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("GCM creation failed: %w", err)
	}
	return gcm, nil
}
