// Package auth issues the opaque session tokens carried by the session
// cookie. Only HashToken output is ever persisted.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

const tokenBytes = 32

var ErrInvalidToken = errors.New("invalid token")

// GenerateToken returns a random hex-encoded token.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ValidateToken rejects values that GenerateToken could not have produced,
// so malformed cookies never reach the session backend.
func ValidateToken(token string) error {
	if len(token) != tokenBytes*2 {
		return ErrInvalidToken
	}
	if _, err := hex.DecodeString(token); err != nil {
		return ErrInvalidToken
	}
	return nil
}

func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
