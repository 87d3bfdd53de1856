package protocol

// LegacyHeader is the little-endian UDP header of generations 2, 4 and 5.
// Fields a generation does not carry stay zero.
type LegacyHeader struct {
	Version     Generation
	Command     uint16
	Sequence    uint16
	SubSequence uint16
	UIN         uint32
	SessionID   uint32 // v5
	Random      uint16 // v4
	Checksum    uint32 // v4 checksum, v5 unscrambled checkcode
}

// Size returns the encoded header length of the generation
func (h *LegacyHeader) Size() int {
	switch h.Version {
	case GenerationUDPv2:
		return LegacyHeaderSizeV2
	case GenerationUDPv4:
		return LegacyHeaderSizeV4
	default:
		return LegacyHeaderSizeV5
	}
}

// EncodeTo appends the header with a zero checksum field
func (h *LegacyHeader) EncodeTo(b *Buffer) error {
	switch h.Version {
	case GenerationUDPv2:
		b.PutUint16LE(uint16(GenerationUDPv2))
		b.PutUint16LE(h.Command)
		b.PutUint16LE(h.Sequence)
		b.PutUint32LE(h.UIN)
	case GenerationUDPv4:
		b.PutUint16LE(uint16(GenerationUDPv4))
		b.PutUint16LE(h.Random)
		b.PutUint16LE(0)
		b.PutUint16LE(h.Command)
		b.PutUint16LE(h.Sequence)
		b.PutUint16LE(h.SubSequence)
		b.PutUint32LE(h.UIN)
		b.PutUint32LE(0)
	case GenerationUDPv5:
		b.PutUint16LE(uint16(GenerationUDPv5))
		b.PutUint32LE(0)
		b.PutUint32LE(h.UIN)
		b.PutUint32LE(h.SessionID)
		b.PutUint16LE(h.Command)
		b.PutUint16LE(h.Sequence)
		b.PutUint16LE(h.SubSequence)
		b.PutUint32LE(0)
	default:
		return ErrUnsupportedGeneration
	}
	return nil
}

// decodeLegacyHeader reads a plaintext header. The version word selects the layout.
func decodeLegacyHeader(b *Buffer) (*LegacyHeader, error) {
	ver, err := b.Uint16LE()
	if err != nil {
		return nil, err
	}
	h := &LegacyHeader{Version: Generation(ver)}
	switch h.Version {
	case GenerationUDPv2:
		if b.Remaining() < LegacyHeaderSizeV2-2 {
			return nil, decodeError("v2 header", b.Offset(), b.Bytes(), ErrTruncated)
		}
		h.Command, _ = b.Uint16LE()
		h.Sequence, _ = b.Uint16LE()
		h.UIN, _ = b.Uint32LE()
	case GenerationUDPv4:
		if b.Remaining() < LegacyHeaderSizeV4-2 {
			return nil, decodeError("v4 header", b.Offset(), b.Bytes(), ErrTruncated)
		}
		h.Random, _ = b.Uint16LE()
		_ = b.Skip(2)
		h.Command, _ = b.Uint16LE()
		h.Sequence, _ = b.Uint16LE()
		h.SubSequence, _ = b.Uint16LE()
		h.UIN, _ = b.Uint32LE()
		h.Checksum, _ = b.Uint32LE()
	case GenerationUDPv5:
		if b.Remaining() < LegacyHeaderSizeV5-2 {
			return nil, decodeError("v5 header", b.Offset(), b.Bytes(), ErrTruncated)
		}
		_ = b.Skip(4)
		h.UIN, _ = b.Uint32LE()
		h.SessionID, _ = b.Uint32LE()
		h.Command, _ = b.Uint16LE()
		h.Sequence, _ = b.Uint16LE()
		h.SubSequence, _ = b.Uint16LE()
		h.Checksum, _ = b.Uint32LE()
	default:
		return nil, decodeError("legacy version", 0, b.Bytes(), ErrUnsupportedGeneration)
	}
	return h, nil
}

// sealLegacy builds header plus payload and applies the generation's cipher.
// v2 packets go out in the clear.
func sealLegacy(h *LegacyHeader, payload []byte, r randSource) ([]byte, error) {
	if h.Version == GenerationUDPv4 {
		h.Random = uint16(r.Uint32())
	}
	b := NewBuffer(h.Size() + len(payload))
	if err := h.EncodeTo(b); err != nil {
		return nil, err
	}
	b.PutBytes(payload)
	out := b.Bytes()

	switch h.Version {
	case GenerationUDPv4:
		h.Checksum = encryptV4(out, r)
	case GenerationUDPv5:
		out, h.Checksum = encryptV5(out, r)
	}
	return out, nil
}

// openLegacy decrypts (for v4/v5) a copy of data and splits header and body.
// A checksum failure still returns the decoded header so the caller can log it.
func openLegacy(data []byte) (*LegacyHeader, []byte, error) {
	if len(data) < 2 {
		return nil, nil, decodeError("legacy version", 0, data, ErrTruncated)
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	var (
		sum    uint32
		sumErr error
	)
	switch Generation(uint16(buf[0]) | uint16(buf[1])<<8) {
	case GenerationUDPv4:
		sum, sumErr = decryptV4(buf)
	case GenerationUDPv5:
		sum, sumErr = decryptV5(buf)
	}
	if sumErr != nil {
		if de, ok := AsDecodeError(sumErr); ok && de.Err != ErrBadChecksum {
			return nil, nil, sumErr
		}
	}

	b := NewReader(buf)
	h, err := decodeLegacyHeader(b)
	if err != nil {
		return nil, nil, err
	}
	h.Checksum = sum
	if sumErr != nil {
		return h, nil, decodeError(h.Version.String()+" checksum", 16, data, ErrBadChecksum)
	}
	return h, b.Rest(), nil
}

// decodePlainLegacy splits an unencrypted server packet of any legacy generation
func decodePlainLegacy(data []byte) (*LegacyHeader, []byte, error) {
	b := NewReader(data)
	h, err := decodeLegacyHeader(b)
	if err != nil {
		return nil, nil, err
	}
	return h, b.Rest(), nil
}
