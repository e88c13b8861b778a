package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyIterations = 100000
	keyLength     = 32
	// Fixed salt: the key must be reproducible from the configured secret alone.
	keySalt = "crasbi.source-connection.password"
)

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// PasswordCipher encrypts source connection passwords at rest with AES-256-GCM.
// Stored passwords must be recoverable because runs authenticate to the source
// with them, so they are encrypted rather than hashed.
type PasswordCipher struct {
	gcm cipher.AEAD
}

// NewPasswordCipher derives the AES key from secret with PBKDF2-SHA256.
func NewPasswordCipher(secret string) (*PasswordCipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption key not set")
	}
	key := pbkdf2.Key([]byte(secret), []byte(keySalt), keyIterations, keyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &PasswordCipher{gcm: gcm}, nil
}

func (c *PasswordCipher) EncryptPassword(plain string) ([]byte, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.gcm.Seal(nonce, nonce, []byte(plain), nil), nil
}

func (c *PasswordCipher) DecryptPassword(data []byte) (string, error) {
	nonceSize := c.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", ErrCiphertextTooShort
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plain, err := c.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
