package protocol

import (
	"encoding/binary"
	"io"
)

// FlapHeader is the 6-byte envelope of every TCP frame
type FlapHeader struct {
	Channel  uint8  // FLAP channel
	Sequence uint16 // Per-service frame sequence
	Length   uint16 // Payload length
}

// Frame is a FLAP header plus its payload
type Frame struct {
	Header  FlapHeader
	Payload []byte
}

// Encode encodes the header to bytes
func (h *FlapHeader) Encode() []byte {
	buf := make([]byte, FlapHeaderSize)

	buf[0] = FlapStart
	buf[1] = h.Channel
	binary.BigEndian.PutUint16(buf[2:4], h.Sequence)
	binary.BigEndian.PutUint16(buf[4:6], h.Length)

	return buf
}

// Decode decodes the header from bytes
func (h *FlapHeader) Decode(buf []byte) error {
	if len(buf) < FlapHeaderSize {
		return decodeError("flap header", len(buf), buf, ErrTruncated)
	}
	if buf[0] != FlapStart {
		return decodeError("flap header", 0, buf, ErrInvalidStart)
	}

	h.Channel = buf[1]
	h.Sequence = binary.BigEndian.Uint16(buf[2:4])
	h.Length = binary.BigEndian.Uint16(buf[4:6])

	return nil
}

// Validate validates the header
func (h *FlapHeader) Validate() error {
	if h.Channel < ChannelNew || h.Channel > ChannelPing {
		return ErrInvalidChannel
	}
	return nil
}

// Encode encodes header and payload; the length field is taken from the payload
func (f *Frame) Encode() []byte {
	f.Header.Length = uint16(len(f.Payload))
	out := make([]byte, 0, FlapHeaderSize+len(f.Payload))
	out = append(out, f.Header.Encode()...)
	return append(out, f.Payload...)
}

// DecodeFrame decodes one complete frame. Trailing bytes are a length mismatch.
func DecodeFrame(buf []byte) (*Frame, error) {
	var h FlapHeader
	if err := h.Decode(buf); err != nil {
		return nil, err
	}
	if err := h.Validate(); err != nil {
		return nil, decodeError("flap header", 1, buf, err)
	}
	if int(h.Length) != len(buf)-FlapHeaderSize {
		return nil, decodeError("flap payload", FlapHeaderSize, buf, ErrLengthMismatch)
	}
	return &Frame{Header: h, Payload: buf[FlapHeaderSize:]}, nil
}

// ReadFrame reads one frame from an io.Reader
func ReadFrame(r io.Reader) (*Frame, error) {
	buf := make([]byte, FlapHeaderSize)

	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	var h FlapHeader
	if err := h.Decode(buf); err != nil {
		return nil, err
	}

	if err := h.Validate(); err != nil {
		return nil, decodeError("flap header", 1, buf, err)
	}

	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	return &Frame{Header: h, Payload: payload}, nil
}

// WriteFrame writes a frame to an io.Writer
func WriteFrame(w io.Writer, f *Frame) error {
	_, err := w.Write(f.Encode())
	return err
}
