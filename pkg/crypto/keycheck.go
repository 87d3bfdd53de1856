package crypto

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/blake2b"
)

var keyCheckLabel = []byte("icq keyring check")

// KeyCheck is a keyed BLAKE2b-256 tag over a fixed label. Storing it lets a
// later unlock tell a wrong passphrase from a corrupt ciphertext.
func KeyCheck(key []byte) ([]byte, error) {
	mac, err := blake2b.New256(key)
	if err != nil {
		return nil, err
	}
	mac.Write(keyCheckLabel)
	return mac.Sum(nil), nil
}

// VerifyKeyCheck compares key against a stored KeyCheck tag
func VerifyKeyCheck(key, check []byte) (bool, error) {
	sum, err := KeyCheck(key)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(sum, check) == 1, nil
}

func randomBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
