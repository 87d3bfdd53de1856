package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestFlapHeaderEncodeDecode(t *testing.T) {
	tests := []struct {
		name   string
		header *FlapHeader
	}{
		{
			name:   "login frame",
			header: &FlapHeader{Channel: ChannelNew, Sequence: 0x1641, Length: 12},
		},
		{
			name:   "data frame",
			header: &FlapHeader{Channel: ChannelData, Sequence: 0xffff, Length: 1024},
		},
		{
			name:   "keepalive",
			header: &FlapHeader{Channel: ChannelPing, Sequence: 7, Length: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.header.Encode()

			if len(encoded) != FlapHeaderSize {
				t.Errorf("Encode() length = %d, want %d", len(encoded), FlapHeaderSize)
			}
			if encoded[0] != FlapStart {
				t.Errorf("Encode() start = %x, want %x", encoded[0], FlapStart)
			}

			decoded := &FlapHeader{}
			if err := decoded.Decode(encoded); err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if *decoded != *tt.header {
				t.Errorf("Decode() = %+v, want %+v", *decoded, *tt.header)
			}
		})
	}
}

func TestFlapHeaderDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"empty", []byte{}, ErrTruncated},
		{"short", []byte{0x2a, 0x02, 0x00}, ErrTruncated},
		{"bad start", []byte{0x2b, 0x02, 0x00, 0x01, 0x00, 0x00}, ErrInvalidStart},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &FlapHeader{}
			err := h.Decode(tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("Decode() error is not a DecodeError: %T", err)
			}
			if !bytes.Equal(de.Bytes, tt.data) {
				t.Errorf("DecodeError.Bytes = %x, want %x", de.Bytes, tt.data)
			}
		})
	}
}

func TestFlapHeaderValidate(t *testing.T) {
	for ch := uint8(0); ch < 8; ch++ {
		h := &FlapHeader{Channel: ch}
		err := h.Validate()
		valid := ch >= ChannelNew && ch <= ChannelPing
		if valid && err != nil {
			t.Errorf("Validate(channel %d) error = %v, want nil", ch, err)
		}
		if !valid && err != ErrInvalidChannel {
			t.Errorf("Validate(channel %d) error = %v, want %v", ch, err, ErrInvalidChannel)
		}
	}
}

func TestFrameLengthFollowsPayload(t *testing.T) {
	f := &Frame{Header: FlapHeader{Channel: ChannelData, Sequence: 3, Length: 999}, Payload: []byte{1, 2, 3}}
	encoded := f.Encode()

	if f.Header.Length != 3 {
		t.Errorf("Header.Length = %d, want 3", f.Header.Length)
	}
	decoded, err := DecodeFrame(encoded)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if !bytes.Equal(decoded.Payload, f.Payload) {
		t.Errorf("Payload = %x, want %x", decoded.Payload, f.Payload)
	}
}

func TestDecodeFrameLengthMismatch(t *testing.T) {
	f := &Frame{Header: FlapHeader{Channel: ChannelData}, Payload: []byte{1, 2, 3, 4}}
	encoded := f.Encode()

	if _, err := DecodeFrame(encoded[:len(encoded)-1]); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("DecodeFrame(short) error = %v, want %v", err, ErrLengthMismatch)
	}
	if _, err := DecodeFrame(append(encoded, 0)); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("DecodeFrame(long) error = %v, want %v", err, ErrLengthMismatch)
	}
}

func TestReadWriteFrame(t *testing.T) {
	buf := &bytes.Buffer{}
	frames := []*Frame{
		{Header: FlapHeader{Channel: ChannelNew, Sequence: 1}, Payload: []byte{0, 0, 0, 1}},
		{Header: FlapHeader{Channel: ChannelData, Sequence: 2}, Payload: bytes.Repeat([]byte{0xab}, 300)},
		{Header: FlapHeader{Channel: ChannelClose, Sequence: 3}},
	}
	for _, f := range frames {
		if err := WriteFrame(buf, f); err != nil {
			t.Fatalf("WriteFrame() error = %v", err)
		}
	}

	for i, want := range frames {
		got, err := ReadFrame(buf)
		if err != nil {
			t.Fatalf("ReadFrame(%d) error = %v", i, err)
		}
		if got.Header != want.Header {
			t.Errorf("ReadFrame(%d) header = %+v, want %+v", i, got.Header, want.Header)
		}
		if !bytes.Equal(got.Payload, want.Payload) && len(want.Payload) > 0 {
			t.Errorf("ReadFrame(%d) payload mismatch", i)
		}
	}
}

func TestReadFrameInvalidChannel(t *testing.T) {
	data := []byte{0x2a, 0x09, 0x00, 0x01, 0x00, 0x00}
	if _, err := ReadFrame(bytes.NewReader(data)); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("ReadFrame() error = %v, want %v", err, ErrInvalidChannel)
	}
}

func TestSnacHeaderRoundTrip(t *testing.T) {
	h := &SnacHeader{Family: FamilyList, Subtype: ListRosterReply, Flags: SnacFlagMore, RequestID: 0x1234}
	body := []byte{0xde, 0xad}

	got, rest, err := DecodeSnac(append(h.Encode(), body...))
	if err != nil {
		t.Fatalf("DecodeSnac() error = %v", err)
	}
	if *got != *h {
		t.Errorf("DecodeSnac() = %+v, want %+v", *got, *h)
	}
	if got.Key() != 0x1234 {
		t.Errorf("Key() = %x, want 1234", got.Key())
	}
	if !bytes.Equal(rest.Rest(), body) {
		t.Errorf("body mismatch")
	}
}

func TestSnacExtraTLVSkipped(t *testing.T) {
	h := &SnacHeader{Family: FamilyBuddy, Subtype: BuddyOnline, Flags: SnacFlagExtraTLV}
	payload := h.Encode()
	payload = append(payload, 0x00, 0x06, 0x00, 0x01, 0x00, 0x02, 0x00, 0x03)
	payload = append(payload, 0x42)

	_, rest, err := DecodeSnac(payload)
	if err != nil {
		t.Fatalf("DecodeSnac() error = %v", err)
	}
	if got := rest.Rest(); !bytes.Equal(got, []byte{0x42}) {
		t.Errorf("body = %x, want 42", got)
	}

	short := append(h.Encode(), 0x00, 0x10, 0x01)
	if _, _, err := DecodeSnac(short); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("DecodeSnac(overrun) error = %v, want %v", err, ErrLengthMismatch)
	}
}
