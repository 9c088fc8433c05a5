package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

const gcmTagSize = 16

// encrypt seals plaintext under an AES-256-GCM key with a fresh random nonce.
// Returns nonce, ciphertext, and the integrity tag separately; storage keeps
// them in distinct columns.
func encrypt(material, plaintext, additionalData []byte) (nonce, ciphertext, tag []byte, err error) {
	aead, err := newAEAD(material)
	if err != nil {
		return nil, nil, nil, err
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, additionalData)
	split := len(sealed) - gcmTagSize
	return nonce, sealed[:split], sealed[split:], nil
}

// decrypt opens a ciphertext+tag pair. Any modification of ciphertext, tag,
// nonce, or additional data fails authentication.
func decrypt(material, nonce, ciphertext, tag, additionalData []byte) ([]byte, error) {
	aead, err := newAEAD(material)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := aead.Open(nil, nonce, sealed, additionalData)
	if err != nil {
		return nil, fmt.Errorf("open ciphertext: %w", err)
	}
	return plaintext, nil
}

func newAEAD(material []byte) (cipher.AEAD, error) {
	if len(material) != 32 {
		return nil, fmt.Errorf("key material must be 32 bytes, got %d", len(material))
	}
	block, err := aes.NewCipher(material)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return aead, nil
}
