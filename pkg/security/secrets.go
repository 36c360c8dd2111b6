package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// tokenAlphabet is the character set for generated credentials. Alphanumeric
// only, so tokens survive being embedded in URLs and credentials files.
const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateToken generates a random alphanumeric token of the given length.
func GenerateToken(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("token length must be positive, got %d", length)
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}

	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf), nil
}

// MustGenerateToken is GenerateToken for startup paths where entropy failure
// is unrecoverable.
func MustGenerateToken(length int) string {
	token, err := GenerateToken(length)
	if err != nil {
		panic(err)
	}
	return token
}

// DigestSecret computes the hex SHA-256 digest of a secret. Only digests are
// ever persisted.
func DigestSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// VerifySecret compares a presented secret against a stored digest in
// constant time.
func VerifySecret(presented, storedDigest string) bool {
	digest := DigestSecret(presented)
	return subtle.ConstantTimeCompare([]byte(digest), []byte(storedDigest)) == 1
}

// Sha256Hex computes the lowercase hex SHA-256 of a byte buffer. Used for
// archive checksums and S3 payload hashes.
func Sha256Hex(buf []byte) string {
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
