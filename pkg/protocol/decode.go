package protocol

import "fmt"

// Packet is a decoded inbound packet of any generation
type Packet struct {
	Generation  Generation
	Channel     uint8 // FLAP channel; zero for legacy packets
	Sequence    uint16
	SubSequence uint16
	Family      uint16
	Subtype     uint16
	Flags       uint16
	RequestID   uint32
	Command     uint16 // legacy command
	UIN         uint32 // legacy header uin
	Checksum    uint32
	Payload     []byte // SNAC body, channel payload or legacy body
	Raw         []byte
}

// Key returns the correlation key of a data packet
func (p *Packet) Key() uint16 {
	if p.Generation.IsLegacy() {
		return p.Sequence
	}
	return uint16(p.RequestID)
}

// HasFlag checks a SNAC flag
func (p *Packet) HasFlag(flag uint16) bool { return p.Flags&flag != 0 }

// Body returns a fresh reader over the payload
func (p *Packet) Body() *Buffer { return NewReader(p.Payload) }

// String describes the packet for logs
func (p *Packet) String() string {
	if p.Generation.IsLegacy() {
		return fmt.Sprintf("%s cmd=0x%04x seq=%d/%d len=%d", p.Generation, p.Command, p.Sequence, p.SubSequence, len(p.Payload))
	}
	if p.Channel == ChannelData {
		return fmt.Sprintf("flap ch=%d seq=%d snac=0x%04x/0x%04x key=%d len=%d", p.Channel, p.Sequence, p.Family, p.Subtype, p.Key(), len(p.Payload))
	}
	return fmt.Sprintf("flap ch=%d seq=%d len=%d", p.Channel, p.Sequence, len(p.Payload))
}

// Decode parses one complete inbound packet. A FLAP start marker selects the
// TCP framing; anything else is read as a plaintext legacy packet.
func Decode(data []byte) (*Packet, error) {
	if len(data) == 0 {
		return nil, decodeError("packet", 0, data, ErrTruncated)
	}
	if data[0] == FlapStart {
		f, err := DecodeFrame(data)
		if err != nil {
			return nil, err
		}
		return PacketFromFrame(f)
	}
	h, body, err := decodePlainLegacy(data)
	if err != nil {
		return nil, err
	}
	return legacyPacket(h, body, data), nil
}

// DecodeSealed parses a legacy packet produced by the v4 or v5 cipher
func DecodeSealed(data []byte) (*Packet, error) {
	h, body, err := openLegacy(data)
	if err != nil {
		return nil, err
	}
	return legacyPacket(h, body, data), nil
}

// PacketFromFrame splits the SNAC header off a data-channel frame
func PacketFromFrame(f *Frame) (*Packet, error) {
	p := &Packet{
		Generation: GenerationTCPv7,
		Channel:    f.Header.Channel,
		Sequence:   f.Header.Sequence,
		Payload:    f.Payload,
		Raw:        f.Encode(),
	}
	if f.Header.Channel != ChannelData {
		return p, nil
	}

	h, body, err := DecodeSnac(f.Payload)
	if err != nil {
		if de, ok := AsDecodeError(err); ok {
			de.Bytes = p.Raw
		}
		return nil, err
	}
	p.Family = h.Family
	p.Subtype = h.Subtype
	p.Flags = h.Flags
	p.RequestID = h.RequestID
	p.SubSequence = h.Key()
	p.Payload = body.Rest()
	return p, nil
}

func legacyPacket(h *LegacyHeader, body, raw []byte) *Packet {
	return &Packet{
		Generation:  h.Version,
		Sequence:    h.Sequence,
		SubSequence: h.SubSequence,
		Command:     h.Command,
		UIN:         h.UIN,
		Checksum:    h.Checksum,
		Payload:     body,
		Raw:         raw,
	}
}

// ReadRosterItem reads one server list entry: name, group id, item id,
// class and a length-prefixed attribute block
func ReadRosterItem(b *Buffer) (RosterItem, error) {
	var item RosterItem
	var err error
	if item.Name, err = b.String16BE(); err != nil {
		return item, err
	}
	if item.GSID, err = b.Uint16BE(); err != nil {
		return item, err
	}
	if item.SID, err = b.Uint16BE(); err != nil {
		return item, err
	}
	if item.Type, err = b.Uint16BE(); err != nil {
		return item, err
	}
	n, err := b.Uint16BE()
	if err != nil {
		return item, err
	}
	item.TLVs, err = ReadTLVBytes(b, int(n))
	return item, err
}
