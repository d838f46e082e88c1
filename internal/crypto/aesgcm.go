package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 1
	argonMemory  = 16 * 1024 // 16 MB
	argonThreads = 2
	keyLen       = 32 // 256 bits
)

// AESGCMCipher is AES-256-GCM with a per-device key derived by argon2id from
// the shared secret and the device id. Output is nonce || ciphertext || tag.
type AESGCMCipher struct {
	aead cipher.AEAD
}

// DeriveKey derives the per-device key
func DeriveKey(secret, deviceID string) []byte {
	salt := []byte("edge-agent/device/" + deviceID)
	return argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, keyLen)
}

// NewAESGCMCipher derives the device key and prepares the AEAD
func NewAESGCMCipher(secret, deviceID string) (*AESGCMCipher, error) {
	if secret == "" {
		return nil, errors.New("aes-gcm cipher: empty secret")
	}

	block, err := aes.NewCipher(DeriveKey(secret, deviceID))
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &AESGCMCipher{aead: gcm}, nil
}

// Encrypt seals plaintext under a fresh random nonce
func (c *AESGCMCipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a nonce-prefixed ciphertext
func (c *AESGCMCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(ciphertext) < ns+c.aead.Overhead() {
		return nil, errors.New("decrypt: ciphertext too short")
	}

	plaintext, err := c.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// Ready reports whether the AEAD is initialized
func (c *AESGCMCipher) Ready() bool {
	return c != nil && c.aead != nil
}
