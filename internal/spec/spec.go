package spec

// Framing constants
const (
	TERMINATOR    = "EOT" // Appended after encryption, never encrypted
	BITS_PER_BYTE = 8     // Standard byte size
	BYTES_PER_PX  = 4     // RGBA samples per pixel
	BLUE_OFFSET   = 2     // Blue sample index inside a pixel
)

// Text channel markers
const (
	ZERO_BIT = '\u200b' // zero-width space
	ONE_BIT  = '\u200c' // zero-width non-joiner
)

// Security constants
const (
	SALT_SIZE    = 32     // Salt for PBKDF2
	NONCE_SIZE   = 12     // GCM nonce size
	KEY_SIZE     = 32     // AES-256 key size
	TAG_SIZE     = 16     // GCM authentication tag
	PBKDF2_ITERS = 100000 // PBKDF2 iterations (adjustable for security/speed)

	// Age scrypt work factor (log2 of N)
	AGE_WORK_FACTOR = 18

	// Magic bytes to verify successful decryption
	MAGIC_HEADER = 0xDEADBEEF

	// OpenSSL passphrase format ("Salted__" + 8-byte salt)
	OPENSSL_MAGIC     = "Salted__"
	OPENSSL_SALT_SIZE = 8
	OPENSSL_PREFIX    = "U2FsdGVkX1" // base64 of the magic
)

// Minimum password length enforced by interactive prompts
const MIN_PASSWORD_LEN = 8
