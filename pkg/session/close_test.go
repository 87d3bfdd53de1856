package session

import (
	"errors"
	"testing"

	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
)

func closeBlock(pairs ...any) *protocol.TLVBlock {
	b := protocol.NewTLVBlock()
	for i := 0; i < len(pairs); i += 2 {
		tag := pairs[i].(uint16)
		switch v := pairs[i+1].(type) {
		case uint16:
			b.Set(tag, []byte{byte(v >> 8), byte(v)})
		case string:
			b.Set(tag, []byte(v))
		case []byte:
			b.Set(tag, v)
		}
	}
	return b
}

func TestParseCloseDispositions(t *testing.T) {
	tests := []struct {
		name      string
		block     *protocol.TLVBlock
		want      Disposition
		reconnect bool
	}{
		{"empty block", closeBlock(), Forced, true},
		{"rate 0x18", closeBlock(protocol.CloseTLVErrorCode, uint16(0x18)), RateLimited, true},
		{"rate 0x1d", closeBlock(protocol.CloseTLVErrorCode, uint16(0x1d)), RateLimited, true},
		{"bad password 0x04", closeBlock(protocol.CloseTLVErrorCode, uint16(0x04)), BadCredentials, false},
		{"bad uin 0x05", closeBlock(protocol.CloseTLVErrorCode, uint16(0x05)), BadCredentials, false},
		{"unavailable 0x0c", closeBlock(protocol.CloseTLVErrorCode, uint16(0x0c)), Transient, true},
		{"unknown code", closeBlock(protocol.CloseTLVErrorCode, uint16(0x77)), Transient, true},
		{"dual login", closeBlock(protocol.CloseTLVDualLogin, uint16(0x01)), OtherLocation, false},
		{"unknown runtime", closeBlock(protocol.CloseTLVDualLogin, uint16(0x09)), Transient, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseClose(tt.block)
			if r != nil {
				t.Fatalf("ParseClose() redirect = %+v, want none", r)
			}
			ce, ok := AsCloseError(err)
			if !ok {
				t.Fatalf("ParseClose() error = %v, want CloseError", err)
			}
			if ce.Disposition != tt.want {
				t.Errorf("Disposition = %s, want %s", ce.Disposition, tt.want)
			}
			if ce.Disposition.Reconnect() != tt.reconnect {
				t.Errorf("Reconnect() = %v, want %v", ce.Disposition.Reconnect(), tt.reconnect)
			}
			if ce.Error() == "" {
				t.Error("Error() is empty")
			}
		})
	}
}

func TestParseCloseRedirect(t *testing.T) {
	cookie := []byte{0xde, 0xad, 0xbe, 0xef}
	r, err := ParseClose(closeBlock(
		protocol.CloseTLVAccount, "123456",
		protocol.CloseTLVServer, "205.188.1.1:5191",
		protocol.CloseTLVCookie, cookie,
	))
	if err != nil {
		t.Fatalf("ParseClose() error = %v", err)
	}
	if r.Host != "205.188.1.1" || r.Port != 5191 || string(r.Cookie) != string(cookie) {
		t.Errorf("ParseClose() = %+v", r)
	}
	if r.Address() != "205.188.1.1:5191" {
		t.Errorf("Address() = %s", r.Address())
	}

	r, err = ParseClose(closeBlock(protocol.CloseTLVServer, "bos.example", protocol.CloseTLVCookie, cookie))
	if err != nil || r.Port != protocol.DefaultServerPort {
		t.Errorf("ParseClose(no port) = %+v, %v", r, err)
	}

	_, err = ParseClose(closeBlock(protocol.CloseTLVServer, "bos.example"))
	if !errors.Is(err, ErrNoRedirect) {
		t.Errorf("ParseClose(no cookie) error = %v, want %v", err, ErrNoRedirect)
	}

	_, err = ParseClose(closeBlock(protocol.CloseTLVServer, "bos:99999", protocol.CloseTLVCookie, cookie))
	if !errors.Is(err, ErrBadRedirect) {
		t.Errorf("ParseClose(bad port) error = %v, want %v", err, ErrBadRedirect)
	}
}
