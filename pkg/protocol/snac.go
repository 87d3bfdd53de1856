package protocol

import (
	"encoding/binary"
)

// SnacHeader is the family/subtype header at the start of every data frame
type SnacHeader struct {
	Family    uint16
	Subtype   uint16
	Flags     uint16
	RequestID uint32
}

// Key returns the correlation key carried in the request id
func (h *SnacHeader) Key() uint16 { return uint16(h.RequestID) }

// HasFlag checks if a flag is set
func (h *SnacHeader) HasFlag(flag uint16) bool {
	return (h.Flags & flag) != 0
}

// Encode encodes the header to bytes
func (h *SnacHeader) Encode() []byte {
	buf := make([]byte, SnacHeaderSize)

	binary.BigEndian.PutUint16(buf[0:2], h.Family)
	binary.BigEndian.PutUint16(buf[2:4], h.Subtype)
	binary.BigEndian.PutUint16(buf[4:6], h.Flags)
	binary.BigEndian.PutUint32(buf[6:10], h.RequestID)

	return buf
}

// DecodeSnac splits a data-channel payload into header and body. When the
// extra-TLV flag is set the length-prefixed TLV preamble is skipped.
func DecodeSnac(payload []byte) (*SnacHeader, *Buffer, error) {
	b := NewReader(payload)
	if b.Remaining() < SnacHeaderSize {
		return nil, nil, decodeError("snac header", 0, payload, ErrTruncated)
	}

	h := &SnacHeader{}
	h.Family, _ = b.Uint16BE()
	h.Subtype, _ = b.Uint16BE()
	h.Flags, _ = b.Uint16BE()
	h.RequestID, _ = b.Uint32BE()

	if h.HasFlag(SnacFlagExtraTLV) {
		n, err := b.Uint16BE()
		if err != nil {
			return nil, nil, err
		}
		if err := b.Skip(int(n)); err != nil {
			return nil, nil, decodeError("snac extra tlv", b.Offset(), payload, ErrLengthMismatch)
		}
	}

	return h, NewReader(b.Rest()), nil
}
