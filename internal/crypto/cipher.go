// Package crypto protects serialized classification records before they
// leave the device.
package crypto

import (
	"fmt"
	"strings"
)

// Scheme names accepted by New
const (
	SchemeXOR    = "xor"
	SchemeAESGCM = "aes-gcm"
)

// Encryptor is the symmetric transform applied to every outgoing payload.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
	Ready() bool
}

// New builds the encryptor for scheme. deviceID is mixed into the key of
// schemes that derive per-device keys.
func New(scheme, key, deviceID string) (Encryptor, error) {
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case "", SchemeXOR:
		return NewXORCipher([]byte(key))
	case SchemeAESGCM, "aes-256-gcm":
		return NewAESGCMCipher(key, deviceID)
	default:
		return nil, fmt.Errorf("unknown encryption scheme: %s", scheme)
	}
}
