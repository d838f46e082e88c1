package crypto

import "errors"

// XORCipher XORs each byte with a repeating shared key. Encrypt and Decrypt
// are the same transform. It provides no confidentiality or integrity and
// exists for compatibility with receivers that expect it.
type XORCipher struct {
	key []byte
}

// NewXORCipher creates a cipher over a copy of key
func NewXORCipher(key []byte) (*XORCipher, error) {
	if len(key) == 0 {
		return nil, errors.New("xor cipher: empty key")
	}
	return &XORCipher{key: append([]byte(nil), key...)}, nil
}

func (c *XORCipher) apply(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[i] = b ^ c.key[i%len(c.key)]
	}
	return out
}

// Encrypt returns plaintext XORed with the cycled key
func (c *XORCipher) Encrypt(plaintext []byte) ([]byte, error) {
	return c.apply(plaintext), nil
}

// Decrypt returns ciphertext XORed with the cycled key
func (c *XORCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	return c.apply(ciphertext), nil
}

// Ready reports whether a key is installed
func (c *XORCipher) Ready() bool {
	return c != nil && len(c.key) > 0
}
