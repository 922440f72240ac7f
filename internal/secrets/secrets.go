// Package secrets generates and protects connection secrets.
//
// A secret has the form "mcpk_<38 base62 chars>". The first PrefixLen
// characters form the non-secret key prefix used for lookup and display.
// Only the bcrypt hash of the full secret is stored for authentication; if
// the owner has a reveal PIN, the full secret is additionally encrypted
// under a PIN-derived key so it can be shown again later.
package secrets

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// SecretPrefix marks connectd-issued keys.
	SecretPrefix = "mcpk_"
	// PrefixLen is the length of the visible, non-secret key prefix.
	PrefixLen = 12
	// randomLen is the number of base62 characters after the marker.
	randomLen = 38
)

const base62 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Generate returns a new raw secret and its visible prefix.
func Generate() (secret, prefix string, err error) {
	buf := make([]byte, randomLen)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("read random: %w", err)
	}
	for i, b := range buf {
		buf[i] = base62[int(b)%len(base62)]
	}
	secret = SecretPrefix + string(buf)
	return secret, secret[:PrefixLen], nil
}

// Hash returns the bcrypt hash of a raw secret or PIN.
func Hash(raw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(h), nil
}

// Verify reports whether raw matches the stored bcrypt hash.
func Verify(hash, raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}
