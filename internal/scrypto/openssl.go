package scrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/faanross/simulacra_stego/internal/spec"
)

// OpenSSL passphrase mode, as written by `openssl enc -aes-256-cbc -md md5`
// and by JavaScript AES helpers given a string key:
//
//	base64("Salted__" || salt(8) || AES-256-CBC(PKCS#7(plaintext)))
//
// key and IV come from EVP_BytesToKey with a single MD5 round.

// maxResalt bounds how often sealOpenSSL retries for a terminator-free
// encoding.
const maxResalt = 64

func (s *Sealer) sealOpenSSL(data, password []byte) (string, error) {
	for attempt := 0; attempt < maxResalt; attempt++ {
		salt := make([]byte, spec.OPENSSL_SALT_SIZE)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return "", fmt.Errorf("salt generation failed: %w", err)
		}

		key, iv := evpBytesToKey(password, salt)
		block, err := aes.NewCipher(key)
		if err != nil {
			return "", fmt.Errorf("cipher creation failed: %w", err)
		}

		padded := pkcs7Pad(data, aes.BlockSize)
		ciphertext := make([]byte, len(padded))
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

		raw := make([]byte, 0, len(spec.OPENSSL_MAGIC)+len(salt)+len(ciphertext))
		raw = append(raw, spec.OPENSSL_MAGIC...)
		raw = append(raw, salt...)
		raw = append(raw, ciphertext...)

		encoded := base64.StdEncoding.EncodeToString(raw)
		// Base64 can spell the terminator; a fresh salt changes every
		// character after the prefix.
		if !strings.Contains(encoded, spec.TERMINATOR) {
			return encoded, nil
		}
		s.logger.Debug("openssl ciphertext contains terminator, re-salting", "attempt", attempt)
	}
	return "", errors.New("could not produce a terminator-free ciphertext")
}

func (s *Sealer) openOpenSSL(encoded string, password []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 ciphertext: %w", err)
	}

	header := len(spec.OPENSSL_MAGIC) + spec.OPENSSL_SALT_SIZE
	if len(raw) < header+aes.BlockSize || !bytes.HasPrefix(raw, []byte(spec.OPENSSL_MAGIC)) {
		return nil, errors.New("not an OpenSSL salted ciphertext")
	}

	salt := raw[len(spec.OPENSSL_MAGIC):header]
	ciphertext := raw[header:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("ciphertext is not a whole number of blocks")
	}

	key, iv := evpBytesToKey(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher creation failed: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext, aes.BlockSize)
}

// evpBytesToKey derives a 32-byte key and 16-byte IV:
// D_i = MD5(D_{i-1} || password || salt), concatenated.
func evpBytesToKey(password, salt []byte) (key, iv []byte) {
	const need = spec.KEY_SIZE + aes.BlockSize

	var (
		derived []byte
		prev    []byte
	)
	for len(derived) < need {
		h := md5.New()
		h.Write(prev)
		h.Write(password)
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	return derived[:spec.KEY_SIZE], derived[spec.KEY_SIZE:need]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data), len(data)+n)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
