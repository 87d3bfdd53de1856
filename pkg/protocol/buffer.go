package protocol

import (
	"encoding/binary"
)

// Buffer is an owned, growable byte buffer with an explicit read cursor.
// Writes append. Reads advance the cursor and fail with ErrTruncated past the end.
type Buffer struct {
	data []byte
	rpos int
}

// NewBuffer creates an empty buffer for writing
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity)}
}

// NewReader wraps data for reading. The slice is not copied.
func NewReader(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Bytes returns everything written so far
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of bytes written
func (b *Buffer) Len() int { return len(b.data) }

// Offset returns the read cursor
func (b *Buffer) Offset() int { return b.rpos }

// Remaining returns the number of unread bytes
func (b *Buffer) Remaining() int { return len(b.data) - b.rpos }

// Empty reports whether all bytes have been read
func (b *Buffer) Empty() bool { return b.Remaining() <= 0 }

// ===== WRITE PRIMITIVES =====

func (b *Buffer) PutUint8(v uint8) { b.data = append(b.data, v) }

func (b *Buffer) PutUint16BE(v uint16) { b.data = binary.BigEndian.AppendUint16(b.data, v) }

func (b *Buffer) PutUint16LE(v uint16) { b.data = binary.LittleEndian.AppendUint16(b.data, v) }

func (b *Buffer) PutUint32BE(v uint32) { b.data = binary.BigEndian.AppendUint32(b.data, v) }

func (b *Buffer) PutUint32LE(v uint32) { b.data = binary.LittleEndian.AppendUint32(b.data, v) }

func (b *Buffer) PutBytes(p []byte) { b.data = append(b.data, p...) }

// PutString8 writes a one-byte length prefix followed by s (contact identifiers).
// Strings longer than 255 bytes are cut at 255.
func (b *Buffer) PutString8(s string) {
	if len(s) > 0xff {
		s = s[:0xff]
	}
	b.PutUint8(uint8(len(s)))
	b.data = append(b.data, s...)
}

// PutString16BE writes a big-endian u16 length prefix followed by s
func (b *Buffer) PutString16BE(s string) {
	if len(s) > 0xffff {
		s = s[:0xffff]
	}
	b.PutUint16BE(uint16(len(s)))
	b.data = append(b.data, s...)
}

// PutStringLE writes a little-endian u16 length (counting the terminator),
// s, and a NUL byte (legacy metadata fields)
func (b *Buffer) PutStringLE(s string) {
	if len(s) > 0xfffe {
		s = s[:0xfffe]
	}
	b.PutUint16LE(uint16(len(s) + 1))
	b.data = append(b.data, s...)
	b.data = append(b.data, 0)
}

// PutTLV writes one attribute-block entry
func (b *Buffer) PutTLV(tag uint16, value []byte) {
	b.PutUint16BE(tag)
	b.PutUint16BE(uint16(len(value)))
	b.data = append(b.data, value...)
}

func (b *Buffer) PutTLVString(tag uint16, s string) { b.PutTLV(tag, []byte(s)) }

func (b *Buffer) PutTLVUint16(tag uint16, v uint16) {
	b.PutUint16BE(tag)
	b.PutUint16BE(2)
	b.PutUint16BE(v)
}

func (b *Buffer) PutTLVUint32(tag uint16, v uint32) {
	b.PutUint16BE(tag)
	b.PutUint16BE(4)
	b.PutUint32BE(v)
}

// SetUint16BE overwrites two bytes at off, used to patch length fields
func (b *Buffer) SetUint16BE(off int, v uint16) {
	binary.BigEndian.PutUint16(b.data[off:off+2], v)
}

// SetUint16LE overwrites two bytes at off
func (b *Buffer) SetUint16LE(off int, v uint16) {
	binary.LittleEndian.PutUint16(b.data[off:off+2], v)
}

// ===== READ PRIMITIVES =====

func (b *Buffer) need(op string, n int) error {
	if n < 0 || b.Remaining() < n {
		return decodeError(op, b.rpos, b.data, ErrTruncated)
	}
	return nil
}

func (b *Buffer) Uint8() (uint8, error) {
	if err := b.need("uint8", 1); err != nil {
		return 0, err
	}
	v := b.data[b.rpos]
	b.rpos++
	return v, nil
}

func (b *Buffer) Uint16BE() (uint16, error) {
	if err := b.need("uint16", 2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(b.data[b.rpos:])
	b.rpos += 2
	return v, nil
}

func (b *Buffer) Uint16LE() (uint16, error) {
	if err := b.need("uint16le", 2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(b.data[b.rpos:])
	b.rpos += 2
	return v, nil
}

func (b *Buffer) Uint32BE() (uint32, error) {
	if err := b.need("uint32", 4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(b.data[b.rpos:])
	b.rpos += 4
	return v, nil
}

func (b *Buffer) Uint32LE() (uint32, error) {
	if err := b.need("uint32le", 4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(b.data[b.rpos:])
	b.rpos += 4
	return v, nil
}

// Next returns the next n bytes without copying
func (b *Buffer) Next(n int) ([]byte, error) {
	if err := b.need("bytes", n); err != nil {
		return nil, err
	}
	p := b.data[b.rpos : b.rpos+n]
	b.rpos += n
	return p, nil
}

// Skip advances the cursor by n bytes
func (b *Buffer) Skip(n int) error {
	if err := b.need("skip", n); err != nil {
		return err
	}
	b.rpos += n
	return nil
}

// Rest returns all unread bytes and moves the cursor to the end
func (b *Buffer) Rest() []byte {
	if b.rpos >= len(b.data) {
		return nil
	}
	p := b.data[b.rpos:]
	b.rpos = len(b.data)
	return p
}

// String8 reads a one-byte length prefixed string
func (b *Buffer) String8() (string, error) {
	n, err := b.Uint8()
	if err != nil {
		return "", err
	}
	p, err := b.Next(int(n))
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// String16BE reads a big-endian u16 length prefixed string
func (b *Buffer) String16BE() (string, error) {
	n, err := b.Uint16BE()
	if err != nil {
		return "", err
	}
	p, err := b.Next(int(n))
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// StringLE reads a little-endian u16 length prefixed, NUL-terminated string.
// The terminator is stripped when present.
func (b *Buffer) StringLE() (string, error) {
	n, err := b.Uint16LE()
	if err != nil {
		return "", err
	}
	p, err := b.Next(int(n))
	if err != nil {
		return "", err
	}
	if len(p) > 0 && p[len(p)-1] == 0 {
		p = p[:len(p)-1]
	}
	return string(p), nil
}
