package protocol

import (
	"encoding/binary"
)

// checkDataV4 is the 256-byte sample table of the v4 cipher
const checkDataV4 = "\n[1] You can modify the sounds ICQ makes. Just select \"Sounds\" from the \"preferences/misc\" in ICQ or from the \"Sounds\" in the control panel. Credit: Eran\n" +
	"[2] Can't remember what was said?  Double-click on a user to get a dialog of all messages sent incomin"

// checkDataV5 is the 256-byte sample table of the v5 cipher
var checkDataV5 = [256]byte{
	0x59, 0x60, 0x37, 0x6B, 0x65, 0x62, 0x46, 0x48,
	0x53, 0x61, 0x4C, 0x59, 0x60, 0x57, 0x5B, 0x3D,
	0x5E, 0x34, 0x6D, 0x36, 0x50, 0x3F, 0x6F, 0x67,
	0x53, 0x61, 0x4C, 0x59, 0x40, 0x47, 0x63, 0x39,
	0x50, 0x5F, 0x5F, 0x3F, 0x6F, 0x47, 0x43, 0x69,
	0x48, 0x33, 0x31, 0x64, 0x35, 0x5A, 0x4A, 0x42,
	0x56, 0x40, 0x67, 0x53, 0x41, 0x07, 0x6C, 0x49,
	0x58, 0x3B, 0x4D, 0x46, 0x68, 0x43, 0x69, 0x48,
	0x33, 0x31, 0x44, 0x65, 0x62, 0x46, 0x48, 0x53,
	0x41, 0x07, 0x6C, 0x69, 0x48, 0x33, 0x51, 0x54,
	0x5D, 0x4E, 0x6C, 0x49, 0x38, 0x4B, 0x55, 0x4A,
	0x62, 0x46, 0x48, 0x33, 0x51, 0x34, 0x6D, 0x36,
	0x50, 0x5F, 0x5F, 0x5F, 0x3F, 0x6F, 0x47, 0x63,
	0x59, 0x40, 0x67, 0x33, 0x31, 0x64, 0x35, 0x5A,
	0x6A, 0x52, 0x6E, 0x3C, 0x51, 0x34, 0x6D, 0x36,
	0x50, 0x5F, 0x5F, 0x3F, 0x4F, 0x37, 0x4B, 0x35,
	0x5A, 0x4A, 0x62, 0x66, 0x58, 0x3B, 0x4D, 0x66,
	0x58, 0x5B, 0x5D, 0x4E, 0x6C, 0x49, 0x58, 0x3B,
	0x4D, 0x66, 0x58, 0x3B, 0x4D, 0x46, 0x48, 0x53,
	0x61, 0x4C, 0x59, 0x40, 0x67, 0x33, 0x31, 0x64,
	0x55, 0x6A, 0x32, 0x3E, 0x44, 0x45, 0x52, 0x6E,
	0x3C, 0x31, 0x64, 0x55, 0x6A, 0x52, 0x4E, 0x6C,
	0x69, 0x48, 0x53, 0x61, 0x4C, 0x39, 0x30, 0x6F,
	0x47, 0x63, 0x59, 0x60, 0x57, 0x5B, 0x3D, 0x3E,
	0x64, 0x35, 0x3A, 0x3A, 0x5A, 0x6A, 0x52, 0x4E,
	0x6C, 0x69, 0x48, 0x53, 0x61, 0x6C, 0x49, 0x58,
	0x3B, 0x4D, 0x46, 0x68, 0x63, 0x39, 0x50, 0x5F,
	0x5F, 0x3F, 0x6F, 0x67, 0x53, 0x41, 0x25, 0x41,
	0x3C, 0x51, 0x54, 0x3D, 0x5E, 0x54, 0x5D, 0x4E,
	0x4C, 0x39, 0x50, 0x5F, 0x5F, 0x5F, 0x3F, 0x6F,
	0x47, 0x43, 0x69, 0x48, 0x33, 0x51, 0x54, 0x5D,
	0x6E, 0x3C, 0x31, 0x64, 0x35, 0x5A, 0x00, 0x00,
}

// randSource is the subset of *Sequencer the cipher draws from
type randSource interface {
	Uint32() uint32
	IntN(n int) int
}

// legacyChk1 folds the header bytes both generations sample
func legacyChk1(buf []byte) uint32 {
	return uint32(buf[8])<<24 | uint32(buf[4])<<16 | uint32(buf[2])<<8 | uint32(buf[6])
}

func xorWord(buf []byte, i int, k uint32) {
	for j := 0; j < 4 && i+j < len(buf); j++ {
		buf[i+j] ^= byte(k >> (8 * j))
	}
}

// sampleMatches checks the (offset, byte) sample folded into a checksum.
// Only the low 8 bits of the offset survive, so every congruent offset from
// min upward is tried.
func sampleMatches(buf []byte, raw uint32, min, limit int, table func(byte) byte) bool {
	r2 := byte(raw >> 8)
	if table(r2) != byte(raw) {
		return false
	}
	want := byte(raw >> 16)
	for off := int(raw >> 24); off < limit; off += 256 {
		if off >= min && buf[off] == want {
			return true
		}
	}
	return false
}

// ===== V4 =====

// encryptV4 obfuscates a complete v4 packet in place and returns its checksum.
// The word loop stops at (len+3)/4 and the checksum lands at bytes 16..19.
func encryptV4(buf []byte, r randSource) uint32 {
	l := len(buf)

	chk1 := legacyChk1(buf)
	r1 := r.IntN(l - 4)
	r2 := r.Uint32() & 0xff
	chk2 := uint32(r1)<<24 | uint32(buf[r1])<<16 | r2<<8 | uint32(checkDataV4[r2])
	chk2 ^= 0x00FF00FF
	checksum := chk1 ^ chk2
	key := uint32(l)*0x66756b65 + checksum

	n := (l + 3) >> 2
	for i := 0; i < n; i += 4 {
		xorWord(buf, i, key+uint32(checkDataV4[i&0xff]))
	}

	buf[0] = 0x04
	buf[1] = 0x00
	binary.LittleEndian.PutUint32(buf[16:20], checksum)

	return checksum
}

// decryptV4 reverses encryptV4 in place and verifies the checksum sample
func decryptV4(buf []byte) (uint32, error) {
	l := len(buf)
	if l < LegacyHeaderSizeV4 {
		return 0, decodeError("v4 header", l, buf, ErrTruncated)
	}

	checksum := binary.LittleEndian.Uint32(buf[16:20])
	key := uint32(l)*0x66756b65 + checksum

	n := (l + 3) >> 2
	for i := 0; i < n; i += 4 {
		xorWord(buf, i, key+uint32(checkDataV4[i&0xff]))
	}

	buf[0] = 0x04
	buf[1] = 0x00
	binary.LittleEndian.PutUint32(buf[16:20], 0)

	raw := (checksum ^ legacyChk1(buf)) ^ 0x00FF00FF
	if !sampleMatches(buf, raw, 0, l-4, func(i byte) byte { return checkDataV4[i] }) {
		return checksum, decodeError("v4 checksum", 16, buf, ErrBadChecksum)
	}
	return checksum, nil
}

// ===== V5 =====

// scrambleV5 permutes the checksum bits into the on-wire checkcode
func scrambleV5(cs uint32) uint32 {
	a1 := (cs & 0x0000001F) << 0x0C
	a2 := (cs & 0x03E003E0) << 0x01
	a3 := (cs & 0xF8000400) >> 0x0A
	a4 := (cs & 0x0000F800) << 0x10
	a5 := (cs & 0x041F0000) >> 0x0F
	return a1 + a2 + a3 + a4 + a5
}

// unscrambleV5 is the inverse permutation of scrambleV5
func unscrambleV5(x uint32) uint32 {
	return (x>>0x0C)&0x0000001F |
		(x>>0x01)&0x03E003E0 |
		(x<<0x0A)&0xF8000400 |
		(x>>0x10)&0x0000F800 |
		(x<<0x0F)&0x041F0000
}

// encryptV5 obfuscates a complete v5 packet and returns the (possibly
// extended) packet with its checksum. A bare 24-byte header gets four random
// bytes appended; the checkcode lands at bytes 20..23.
func encryptV5(buf []byte, r randSource) ([]byte, uint32) {
	if len(buf) == LegacyHeaderSizeV5 {
		buf = binary.LittleEndian.AppendUint32(buf, r.Uint32())
	}
	l := len(buf)

	chk1 := legacyChk1(buf)
	r1 := 24 + r.IntN(l-24)
	r2 := r.Uint32() & 0xff
	chk2 := uint32(r1)<<24 | uint32(buf[r1])<<16 | r2<<8 | uint32(checkDataV5[r2])
	chk2 ^= 0x00FF00FF
	checksum := chk1 ^ chk2
	key := uint32(l)*0x68656C6C + checksum

	for i := 10; i < l; i += 4 {
		xorWord(buf, i, key+uint32(checkDataV5[i&0xff]))
	}

	binary.LittleEndian.PutUint32(buf[20:24], scrambleV5(checksum))

	return buf, checksum
}

// decryptV5 reverses encryptV5 in place and verifies the checksum sample
func decryptV5(buf []byte) (uint32, error) {
	l := len(buf)
	if l < LegacyHeaderSizeV5+4 {
		return 0, decodeError("v5 header", l, buf, ErrTruncated)
	}

	checksum := unscrambleV5(binary.LittleEndian.Uint32(buf[20:24]))
	key := uint32(l)*0x68656C6C + checksum

	for i := 10; i < l; i += 4 {
		xorWord(buf, i, key+uint32(checkDataV5[i&0xff]))
	}
	binary.LittleEndian.PutUint32(buf[20:24], 0)

	raw := (checksum ^ legacyChk1(buf)) ^ 0x00FF00FF
	if !sampleMatches(buf, raw, 24, l, func(i byte) byte { return checkDataV5[i] }) {
		return checksum, decodeError("v5 checksum", 20, buf, ErrBadChecksum)
	}
	return checksum, nil
}
