package scrypto

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"
)

// sealAge encrypts data to an age scrypt recipient derived from password.
// The body is the binary age file.
func (s *Sealer) sealAge(data []byte, password string) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(password)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}
	recipient.SetWorkFactor(s.opts.AgeWorkFactor)

	var ciphertextBuffer bytes.Buffer
	writer, err := age.Encrypt(&ciphertextBuffer, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}

	s.logger.Debug("age payload sealed", "work_factor", s.opts.AgeWorkFactor, "size", ciphertextBuffer.Len())
	return ciphertextBuffer.Bytes(), nil
}

// openAge decrypts a binary age file with a password identity. The
// identity accepts any work factor up to the configured one, plus margin
// for files written by a more patient sender.
func (s *Sealer) openAge(body []byte, password string) ([]byte, error) {
	identity, err := age.NewScryptIdentity(password)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	identity.SetMaxWorkFactor(max(s.opts.AgeWorkFactor, 22))

	reader, err := age.Decrypt(bytes.NewReader(body), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}

	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return plaintext, nil
}
