package crypto

import (
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the sealing key length
	KeySize = chacha20poly1305.KeySize
	// SaltSize is the key-derivation salt length
	SaltSize = 16
	// Iterations of PBKDF2-SHA256
	Iterations = 100_000
)

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// DeriveKey stretches a passphrase into a sealing key
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, Iterations, KeySize, sha256.New)
}

// GenerateSalt returns a fresh random salt
func GenerateSalt() ([]byte, error) {
	return randomBytes(SaltSize)
}

// Seal encrypts plaintext with XChaCha20-Poly1305. The random nonce is
// prepended to the output.
func Seal(plaintext, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	nonce, err := randomBytes(aead.NonceSize())
	if err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal
func Open(ciphertext, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	nonceSize := aead.NonceSize()
	if len(ciphertext) < nonceSize+aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return aead.Open(nil, nonce, ciphertext, nil)
}
