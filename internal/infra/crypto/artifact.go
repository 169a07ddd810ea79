package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
)

const HashAlg = "sha256"

// HashBytes returns the lowercase hex SHA-256 of the raw artifact bytes.
func HashBytes(input []byte) string {
	return sha256Hex(input)
}

func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// NormalizeHash lowercases and trims a caller-supplied digest and reports
// whether it is a well-formed SHA-256 hex string.
func NormalizeHash(raw string) (string, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.TrimPrefix(value, HashAlg+":")
	if len(value) != sha256.Size*2 {
		return value, false
	}
	if _, err := hex.DecodeString(value); err != nil {
		return value, false
	}
	return value, true
}

// Matches compares the stored digest against freshly read bytes.
func Matches(stored string, input []byte) bool {
	normalized, ok := NormalizeHash(stored)
	if !ok {
		return false
	}
	return normalized == HashBytes(input)
}

func sha256Bytes(input []byte) []byte {
	sum := sha256.Sum256(input)
	return sum[:]
}

func sha256Hex(input []byte) string {
	return hex.EncodeToString(sha256Bytes(input))
}
