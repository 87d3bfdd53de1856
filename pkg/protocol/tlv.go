package protocol

import (
	"encoding/binary"
	"sort"
)

// TLV is a single attribute-block entry
type TLV struct {
	Tag   uint16
	Value []byte
}

// TLVBlock maps tags to payloads. The first occurrence of a tag wins; the
// insertion order is kept so a block re-encodes to the same bytes.
type TLVBlock struct {
	values map[uint16][]byte
	order  []uint16
}

// NewTLVBlock creates an empty block
func NewTLVBlock() *TLVBlock {
	return &TLVBlock{values: make(map[uint16][]byte)}
}

// ParseTLVs scans every remaining byte of data as TLV entries
func ParseTLVs(data []byte) (*TLVBlock, error) {
	return ReadTLVs(NewReader(data), -1)
}

// ReadTLVs reads count entries from b, or every remaining entry when count
// is negative. A declared length that overruns the buffer fails the block.
func ReadTLVs(b *Buffer, count int) (*TLVBlock, error) {
	block := NewTLVBlock()
	for i := 0; count < 0 || i < count; i++ {
		if count < 0 && b.Empty() {
			break
		}
		if b.Remaining() < 4 {
			return nil, decodeError("tlv header", b.Offset(), b.Bytes(), ErrTruncated)
		}
		tag, _ := b.Uint16BE()
		length, _ := b.Uint16BE()
		if int(length) > b.Remaining() {
			return nil, decodeError("tlv value", b.Offset(), b.Bytes(), ErrLengthMismatch)
		}
		value, _ := b.Next(int(length))
		block.add(tag, value)
	}
	return block, nil
}

// ReadTLVBytes reads a block of exactly length bytes from b
func ReadTLVBytes(b *Buffer, length int) (*TLVBlock, error) {
	p, err := b.Next(length)
	if err != nil {
		return nil, err
	}
	return ParseTLVs(p)
}

func (t *TLVBlock) add(tag uint16, value []byte) {
	if _, exists := t.values[tag]; exists {
		return
	}
	t.values[tag] = value
	t.order = append(t.order, tag)
}

// Set stores value under tag, replacing any previous payload
func (t *TLVBlock) Set(tag uint16, value []byte) {
	if _, exists := t.values[tag]; !exists {
		t.order = append(t.order, tag)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	t.values[tag] = cp
}

// Delete removes tag
func (t *TLVBlock) Delete(tag uint16) {
	if t == nil {
		return
	}
	if _, exists := t.values[tag]; !exists {
		return
	}
	delete(t.values, tag)
	for i, v := range t.order {
		if v == tag {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Get returns the payload of tag
func (t *TLVBlock) Get(tag uint16) ([]byte, bool) {
	if t == nil {
		return nil, false
	}
	v, ok := t.values[tag]
	return v, ok
}

// Has checks if tag is present
func (t *TLVBlock) Has(tag uint16) bool {
	_, ok := t.Get(tag)
	return ok
}

// Len returns the number of entries
func (t *TLVBlock) Len() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

// Tags returns the tags in insertion order
func (t *TLVBlock) Tags() []uint16 {
	if t == nil {
		return nil
	}
	out := make([]uint16, len(t.order))
	copy(out, t.order)
	return out
}

// Entries returns the block as a list in insertion order
func (t *TLVBlock) Entries() []TLV {
	out := make([]TLV, 0, t.Len())
	for _, tag := range t.Tags() {
		out = append(out, TLV{Tag: tag, Value: t.values[tag]})
	}
	return out
}

// SortedEntries returns the block sorted by tag
func (t *TLVBlock) SortedEntries() []TLV {
	out := t.Entries()
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// Uint8 returns the first byte of tag
func (t *TLVBlock) Uint8(tag uint16) (uint8, bool) {
	v, ok := t.Get(tag)
	if !ok || len(v) < 1 {
		return 0, false
	}
	return v[0], true
}

// Uint16 returns tag as a big-endian u16
func (t *TLVBlock) Uint16(tag uint16) (uint16, bool) {
	v, ok := t.Get(tag)
	if !ok || len(v) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(v), true
}

// Uint32 returns tag as a big-endian u32
func (t *TLVBlock) Uint32(tag uint16) (uint32, bool) {
	v, ok := t.Get(tag)
	if !ok || len(v) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}

// String returns tag as a string
func (t *TLVBlock) String(tag uint16) (string, bool) {
	v, ok := t.Get(tag)
	if !ok {
		return "", false
	}
	return string(v), true
}

// Size returns the encoded size in bytes
func (t *TLVBlock) Size() int {
	n := 0
	for _, tag := range t.Tags() {
		n += 4 + len(t.values[tag])
	}
	return n
}

// Encode serializes the block in insertion order
func (t *TLVBlock) Encode() []byte {
	b := NewBuffer(t.Size())
	t.EncodeTo(b)
	return b.Bytes()
}

// EncodeTo appends the block to b
func (t *TLVBlock) EncodeTo(b *Buffer) {
	for _, tag := range t.Tags() {
		b.PutTLV(tag, t.values[tag])
	}
}

// Clone returns a deep copy
func (t *TLVBlock) Clone() *TLVBlock {
	out := NewTLVBlock()
	for _, tag := range t.Tags() {
		out.Set(tag, t.values[tag])
	}
	return out
}

// Merge copies every entry of other into t, replacing existing tags
func (t *TLVBlock) Merge(other *TLVBlock) {
	for _, e := range other.Entries() {
		t.Set(e.Tag, e.Value)
	}
}
