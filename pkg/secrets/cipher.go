// Package secrets provides the symmetric cipher used for tenant API keys.
package secrets

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	nonceSize = 12
	tagSize   = 16
)

var (
	// ErrInvalidToken is returned when a ciphertext fails authentication or
	// cannot be parsed.
	ErrInvalidToken = errors.New("invalid secret token")
	// ErrWeakKey is returned when the process secret is too short.
	ErrWeakKey = errors.New("secret key must be at least 16 characters")
)

// Cipher is an authenticated symmetric cipher derived from a process secret.
// The keystream is SHA-256(secret || nonce || counter_be32) blocks; the tag is
// HMAC-SHA-256(secret, nonce || ciphertext) truncated to 16 bytes. The wire
// format is base64url(nonce || tag || ciphertext).
type Cipher struct {
	secret []byte
}

// NewCipher creates a cipher from the process secret.
func NewCipher(secretKey string) (*Cipher, error) {
	if len(strings.TrimSpace(secretKey)) < 16 {
		return nil, ErrWeakKey
	}
	return &Cipher{secret: []byte(secretKey)}, nil
}

func (c *Cipher) keystream(nonce []byte, length int) []byte {
	out := make([]byte, 0, length+sha256.Size)
	var counter [4]byte
	for i := uint32(0); len(out) < length; i++ {
		binary.BigEndian.PutUint32(counter[:], i)
		h := sha256.New()
		h.Write(c.secret)
		h.Write(nonce)
		h.Write(counter[:])
		out = h.Sum(out)
	}
	return out[:length]
}

func (c *Cipher) tag(nonce, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(nonce)
	mac.Write(ciphertext)
	return mac.Sum(nil)[:tagSize]
}

// Encrypt encrypts plaintext and returns the encoded token.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	raw := []byte(plaintext)
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	stream := c.keystream(nonce, len(raw))
	ciphertext := make([]byte, len(raw))
	for i := range raw {
		ciphertext[i] = raw[i] ^ stream[i]
	}

	packed := make([]byte, 0, nonceSize+tagSize+len(ciphertext))
	packed = append(packed, nonce...)
	packed = append(packed, c.tag(nonce, ciphertext)...)
	packed = append(packed, ciphertext...)
	return base64.URLEncoding.EncodeToString(packed), nil
}

// Decrypt verifies and decrypts a token produced by Encrypt.
func (c *Cipher) Decrypt(token string) (string, error) {
	packed, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalidToken
	}
	if len(packed) < nonceSize+tagSize {
		return "", ErrInvalidToken
	}

	nonce := packed[:nonceSize]
	tag := packed[nonceSize : nonceSize+tagSize]
	ciphertext := packed[nonceSize+tagSize:]

	if !hmac.Equal(tag, c.tag(nonce, ciphertext)) {
		return "", ErrInvalidToken
	}

	stream := c.keystream(nonce, len(ciphertext))
	plaintext := make([]byte, len(ciphertext))
	for i := range ciphertext {
		plaintext[i] = ciphertext[i] ^ stream[i]
	}
	return string(plaintext), nil
}

// MaskSecret keeps the first and last 4 characters of a secret and replaces the
// middle with asterisks. Secrets of 8 characters or fewer are fully masked.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}
