package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// SecretPrefix starts every raw key.
	SecretPrefix = "sk_live_"
	// VisiblePrefixLen is how much of the raw key is stored in clear for display.
	VisiblePrefixLen = 16
	secretHexLen     = 64
)

// HashAPIKey hashes the raw API key using the same strategy as key creation.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// VisiblePrefix returns the displayable head of a raw key.
func VisiblePrefix(raw string) string {
	if len(raw) <= VisiblePrefixLen {
		return raw
	}
	return raw[:VisiblePrefixLen]
}

// WellFormed reports whether raw has the sk_live_<suffix>_<64 hex> shape.
func WellFormed(raw string) bool {
	rest, ok := strings.CutPrefix(raw, SecretPrefix)
	if !ok {
		return false
	}
	idx := strings.LastIndexByte(rest, '_')
	if idx <= 0 {
		return false
	}
	suffix, secret := rest[:idx], rest[idx+1:]
	if len(secret) != secretHexLen {
		return false
	}
	for _, r := range suffix {
		if !isAlnum(r) {
			return false
		}
	}
	_, err := hex.DecodeString(secret)
	return err == nil
}

func isAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
