package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	nonceSizeGCM = 12
	keyLen       = 32 // AES-256
	saltLen      = 16
	sep          = "|" // base64(nonce)|base64(ciphertext)
)

// ErrDecryptFailed is returned when the ciphertext cannot be opened, which
// for GCM covers both a wrong PIN-derived key and tampered data.
var ErrDecryptFailed = errors.New("secret decrypt failed")

// NewSalt returns a fresh random salt for PIN key derivation. Each secret
// gets its own salt at issue time.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	return salt, nil
}

// deriveKey stretches a short numeric PIN into an AES-256 key.
func deriveKey(pin string, salt []byte) []byte {
	return argon2.IDKey([]byte(pin), salt, 1, 64*1024, 4, keyLen)
}

// EncryptWithPin seals plainText under a key derived from pin and salt,
// returning base64(nonce)|base64(ciphertext).
func EncryptWithPin(pin string, salt []byte, plainText string) (string, error) {
	block, err := aes.NewCipher(deriveKey(pin, salt))
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	ct := aesgcm.Seal(nil, nonce, []byte(plainText), nil)
	return base64.StdEncoding.EncodeToString(nonce) + sep +
		base64.StdEncoding.EncodeToString(ct), nil
}

// DecryptWithPin opens a base64(nonce)|base64(ciphertext) blob sealed by
// EncryptWithPin with the same pin and salt.
func DecryptWithPin(pin string, salt []byte, cipherText string) (string, error) {
	parts := strings.Split(cipherText, sep)
	if len(parts) != 2 {
		return "", errors.New("invalid format: expected base64(nonce)|base64(ciphertext)")
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(nonce) != nonceSizeGCM {
		return "", fmt.Errorf("invalid nonce: expected %d bytes, got %d", nonceSizeGCM, len(nonce))
	}

	block, err := aes.NewCipher(deriveKey(pin, salt))
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	pt, err := aesgcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(pt), nil
}
