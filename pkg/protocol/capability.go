package protocol

import (
	"bytes"
	"fmt"
)

// CapabilityLength is the size of one capability GUID
const CapabilityLength = 16

// Capability is a 16-byte client feature GUID
type Capability [CapabilityLength]byte

var (
	CapDirect   = Capability{0x09, 0x46, 0x13, 0x44, 0x4c, 0x7f, 0x11, 0xd1, 0x82, 0x22, 0x44, 0x45, 0x53, 0x54, 0x00, 0x00}
	CapSrvRelay = Capability{0x09, 0x46, 0x13, 0x49, 0x4c, 0x7f, 0x11, 0xd1, 0x82, 0x22, 0x44, 0x45, 0x53, 0x54, 0x00, 0x00}
	CapBART     = Capability{0x09, 0x46, 0x13, 0x46, 0x4c, 0x7f, 0x11, 0xd1, 0x82, 0x22, 0x44, 0x45, 0x53, 0x54, 0x00, 0x00}
	CapAIMInter = Capability{0x09, 0x46, 0x13, 0x4d, 0x4c, 0x7f, 0x11, 0xd1, 0x82, 0x22, 0x44, 0x45, 0x53, 0x54, 0x00, 0x00}
	CapUTF8     = Capability{0x09, 0x46, 0x13, 0x4e, 0x4c, 0x7f, 0x11, 0xd1, 0x82, 0x22, 0x44, 0x45, 0x53, 0x54, 0x00, 0x00}
	CapIChat    = Capability{0x09, 0x46, 0x00, 0x00, 0x4c, 0x7f, 0x11, 0xd1, 0x82, 0x22, 0x44, 0x45, 0x53, 0x54, 0x00, 0x00}
	CapTyping   = Capability{0x56, 0x3f, 0xc8, 0x09, 0x0b, 0x6f, 0x41, 0xbd, 0x9f, 0x79, 0x42, 0x26, 0x09, 0xdf, 0xa2, 0xf3}
	CapRTF      = Capability{0x97, 0xb1, 0x27, 0x51, 0x24, 0x3c, 0x43, 0x34, 0xad, 0x22, 0xd6, 0xab, 0xf7, 0x3f, 0x14, 0x92}
)

// Plugin GUIDs carried in presence plugin-status TLVs and type 2 messages
var (
	PluginNormal   = Capability{}
	PluginFollowMe = Capability{0xd3, 0xd4, 0x53, 0x19, 0x8b, 0x32, 0x40, 0x3b, 0xac, 0xc7, 0xd1, 0xa9, 0xe2, 0xb5, 0x81, 0x3e}
)

// clientMarker prefixes the version capability this client advertises
var clientMarker = []byte("ZenTalk ICQ ")

// ClientVersionCap builds the version capability: a 12-byte marker followed
// by major, minor, release and a flags byte
func ClientVersionCap(major, minor, release, flags byte) Capability {
	var c Capability
	copy(c[:], clientMarker)
	c[12], c[13], c[14], c[15] = major, minor, release, flags
	return c
}

// Capabilities is the set a peer advertised in its presence update
type Capabilities struct {
	UTF8          bool
	Typing        bool
	ServerRelay   bool
	Direct        bool
	RTF           bool
	ClientVersion string
	Raw           []Capability
}

// ParseCapabilities decodes a run of 16-byte GUIDs. A trailing partial GUID is
// a length mismatch.
func ParseCapabilities(data []byte) (*Capabilities, error) {
	if len(data)%CapabilityLength != 0 {
		return nil, decodeError("capabilities", len(data)-len(data)%CapabilityLength, data, ErrLengthMismatch)
	}
	caps := &Capabilities{}
	for off := 0; off < len(data); off += CapabilityLength {
		var c Capability
		copy(c[:], data[off:off+CapabilityLength])
		caps.Raw = append(caps.Raw, c)

		switch c {
		case CapUTF8:
			caps.UTF8 = true
		case CapTyping:
			caps.Typing = true
		case CapSrvRelay:
			caps.ServerRelay = true
		case CapDirect:
			caps.Direct = true
		case CapRTF:
			caps.RTF = true
		}
		if bytes.HasPrefix(c[:], clientMarker) {
			caps.ClientVersion = fmt.Sprintf("ZenTalk ICQ %d.%d.%d", c[12], c[13], c[14])
		}
	}
	return caps, nil
}
