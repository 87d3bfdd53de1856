package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestKeyCheckVector(t *testing.T) {
	sum, err := KeyCheck(make([]byte, KeySize))
	if err != nil {
		t.Fatalf("KeyCheck() error = %v", err)
	}
	want := "45784d5d7e550df3e11fb143fce89038d93322003f89575f22b72904618088fb"
	if got := hex.EncodeToString(sum); got != want {
		t.Errorf("KeyCheck() = %s, want %s", got, want)
	}
}

func TestVerifyKeyCheck(t *testing.T) {
	key := bytes.Repeat([]byte{1}, KeySize)
	sum, _ := KeyCheck(key)

	tests := []struct {
		name  string
		key   []byte
		check []byte
		want  bool
	}{
		{"match", key, sum, true},
		{"other key", bytes.Repeat([]byte{2}, KeySize), sum, false},
		{"empty check", key, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := VerifyKeyCheck(tt.key, tt.check)
			if err != nil {
				t.Fatalf("VerifyKeyCheck() error = %v", err)
			}
			if ok != tt.want {
				t.Errorf("VerifyKeyCheck() = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestDeriveKey(t *testing.T) {
	salt := bytes.Repeat([]byte{7}, SaltSize)
	k1 := DeriveKey("secret", salt)
	k2 := DeriveKey("secret", salt)
	if len(k1) != KeySize {
		t.Fatalf("DeriveKey() length = %d, want %d", len(k1), KeySize)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("DeriveKey() not deterministic")
	}
	if bytes.Equal(k1, DeriveKey("secret", make([]byte, SaltSize))) {
		t.Error("DeriveKey() ignores the salt")
	}
}

func TestSealOpen(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt() error = %v", err)
	}
	key := DeriveKey("secret", salt)

	for _, plaintext := range [][]byte{[]byte("hunter22"), {}, {0x00, 0xff}} {
		sealed, err := Seal(plaintext, key)
		if err != nil {
			t.Fatalf("Seal() error = %v", err)
		}
		opened, err := Open(sealed, key)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if !bytes.Equal(opened, plaintext) {
			t.Errorf("Open() = %x, want %x", opened, plaintext)
		}
	}

	a, _ := Seal([]byte("same"), key)
	b, _ := Seal([]byte("same"), key)
	if bytes.Equal(a, b) {
		t.Error("Seal() reused a nonce")
	}
}

func TestOpenRejects(t *testing.T) {
	key := DeriveKey("secret", make([]byte, SaltSize))
	sealed, _ := Seal([]byte("password"), key)

	if _, err := Open(sealed, DeriveKey("wrong", make([]byte, SaltSize))); err == nil {
		t.Error("Open() accepted the wrong key")
	}

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 1
	if _, err := Open(tampered, key); err == nil {
		t.Error("Open() accepted modified ciphertext")
	}

	if _, err := Open(sealed[:10], key); err != ErrCiphertextTooShort {
		t.Errorf("Open() short input error = %v, want %v", err, ErrCiphertextTooShort)
	}
}
