// Package protocol implements the ICQ wire codec.
//
// Two framings are supported:
//
//   - TCP (generation 7): FLAP frames (start marker 0x2a, channel, per-service
//     sequence, length) carrying SNAC packets (family, subtype, flags,
//     request id) whose bodies are mostly TLV attribute blocks.
//   - Legacy UDP (generations 2, 4 and 5): little-endian headers, with the
//     v4 and v5 packets obfuscated by the XOR cipher and checksum.
//
// # Buffers
//
// Buffer is a growable byte slice with a read cursor. Every read is bounds
// checked and fails with ErrTruncated instead of reading past the end. Three
// string conventions exist and callers pick one per field:
//
//   - PutString8 / String8: one-byte length (contact identifiers)
//   - PutString16BE / String16BE: big-endian two-byte length
//   - PutStringLE / StringLE: little-endian length including a NUL terminator
//
// # Requests
//
// Request is a closed set of plain structs. Encode serializes any of them
// under an EncodeContext, which carries the Sequencer used to stamp FLAP
// sequences and the correlation key:
//
//	ctx := protocol.EncodeContext{Generation: protocol.GenerationTCPv7, Seq: seq, SubSequence: key}
//	out, err := protocol.Encode(protocol.NewSetStatus(protocol.StatusAway, ip, port, true), ctx)
//
// # Decoding
//
// Decode parses a complete inbound packet into a Packet. Malformed input is
// reported as a *DecodeError carrying the offending bytes; it never panics.
// DecodeSealed opens packets produced by the legacy cipher.
package protocol
