package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"empty", nil, ErrTruncated},
		{"flap too short", []byte{0x2a, 0x02, 0x00}, ErrTruncated},
		{"flap bad channel", []byte{0x2a, 0x07, 0x00, 0x01, 0x00, 0x00}, ErrInvalidChannel},
		{"flap length mismatch", []byte{0x2a, 0x02, 0x00, 0x01, 0x00, 0x08, 0x00}, ErrLengthMismatch},
		{"snac too short", []byte{0x2a, 0x02, 0x00, 0x01, 0x00, 0x02, 0x00, 0x01}, ErrTruncated},
		{"unknown legacy version", []byte{0x09, 0x00, 0x00, 0x00}, ErrUnsupportedGeneration},
		{"legacy v2 short", []byte{0x02, 0x00, 0x0a}, ErrTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Decode(tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
			}
			if p != nil {
				t.Errorf("Decode() returned a packet on failure")
			}
			if _, ok := AsDecodeError(err); !ok {
				t.Errorf("Decode() error %T is not a DecodeError", err)
			}
		})
	}
}

func TestDecodeSnacErrorCarriesFrame(t *testing.T) {
	raw := []byte{0x2a, 0x02, 0x00, 0x01, 0x00, 0x02, 0x00, 0x01}
	_, err := Decode(raw)
	de, ok := AsDecodeError(err)
	if !ok {
		t.Fatalf("error = %v", err)
	}
	if !bytes.Equal(de.Bytes, raw) {
		t.Errorf("DecodeError.Bytes = %x, want the whole frame %x", de.Bytes, raw)
	}
	if de.Dump() != "2a02000100020001" {
		t.Errorf("Dump() = %s", de.Dump())
	}
}

func TestDecodePlainLegacy(t *testing.T) {
	b := NewBuffer(0)
	h := &LegacyHeader{Version: GenerationUDPv2, Command: LegacyCmdAck, Sequence: 9, UIN: 42}
	if err := h.EncodeTo(b); err != nil {
		t.Fatalf("EncodeTo() error = %v", err)
	}
	b.PutUint32LE(0xcafe)

	p, err := Decode(b.Bytes())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if p.Generation != GenerationUDPv2 || p.Command != LegacyCmdAck || p.Sequence != 9 || p.UIN != 42 {
		t.Errorf("Decode() = %+v", p)
	}
	if p.Key() != 9 {
		t.Errorf("Key() = %d, want 9", p.Key())
	}
	if v, _ := p.Body().Uint32LE(); v != 0xcafe {
		t.Errorf("body = %x", v)
	}
}

func TestParseCapabilities(t *testing.T) {
	version := ClientVersionCap(1, 2, 3, 0)
	data := append([]byte{}, CapUTF8[:]...)
	data = append(data, CapTyping[:]...)
	data = append(data, version[:]...)

	caps, err := ParseCapabilities(data)
	if err != nil {
		t.Fatalf("ParseCapabilities() error = %v", err)
	}
	if !caps.UTF8 || !caps.Typing || caps.Direct {
		t.Errorf("ParseCapabilities() = %+v", caps)
	}
	if caps.ClientVersion != "ZenTalk ICQ 1.2.3" {
		t.Errorf("ClientVersion = %q", caps.ClientVersion)
	}

	if _, err := ParseCapabilities(data[:20]); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("ParseCapabilities(partial) error = %v", err)
	}
}

func TestTextCharsets(t *testing.T) {
	tests := []struct {
		charset uint16
		text    string
		wire    []byte
	}{
		{CharsetASCII, "hi", []byte("hi")},
		{CharsetUCS2BE, "hé", []byte{0x00, 'h', 0x00, 0xe9}},
		{CharsetLatin1, "hé", []byte{'h', 0xe9}},
	}

	for _, tt := range tests {
		got, err := EncodeText(tt.charset, tt.text)
		if err != nil || !bytes.Equal(got, tt.wire) {
			t.Errorf("EncodeText(%d) = %x, %v; want %x", tt.charset, got, err, tt.wire)
		}
		back, err := DecodeText(tt.charset, tt.wire)
		if err != nil || back != tt.text {
			t.Errorf("DecodeText(%d) = %q, %v; want %q", tt.charset, back, err, tt.text)
		}
	}
}
