package network

import (
	"encoding/binary"
	"net/netip"
	"strconv"
	"time"

	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
	"github.com/ZentaChain/zentalk-icq/pkg/roster"
)

// Presence TLVs of a buddy arrival
const (
	presenceTLVClass       uint16 = 0x0001
	presenceTLVOnlineSince uint16 = 0x0003
	presenceTLVIdle        uint16 = 0x0004
	presenceTLVStatus      uint16 = 0x0006
	presenceTLVIP          uint16 = 0x000a
	presenceTLVDirect      uint16 = 0x000c
	presenceTLVCaps        uint16 = 0x000d
	presenceTLVPlugin      uint16 = 0x0011
)

const (
	pluginIndexStatus = 0x03
	directInfoMinLen  = 11
)

// readUserInfo reads the common user header: id, warning level and a
// counted TLV block
func readUserInfo(b *protocol.Buffer) (string, *protocol.TLVBlock, error) {
	id, err := b.String8()
	if err != nil {
		return "", nil, err
	}
	if _, err := b.Uint16BE(); err != nil {
		return "", nil, err
	}
	count, err := b.Uint16BE()
	if err != nil {
		return "", nil, err
	}
	tlvs, err := protocol.ReadTLVs(b, int(count))
	if err != nil {
		return "", nil, err
	}
	return id, tlvs, nil
}

// presenceUpdate is a decoded arrival, applied to the stored presence
// without touching fields whose TLV was absent
type presenceUpdate struct {
	tlvs *protocol.TLVBlock
	caps *protocol.Capabilities
}

func decodePresence(tlvs *protocol.TLVBlock) (*presenceUpdate, error) {
	u := &presenceUpdate{tlvs: tlvs}
	if raw, ok := tlvs.Get(presenceTLVCaps); ok {
		caps, err := protocol.ParseCapabilities(raw)
		if err != nil {
			return nil, err
		}
		u.caps = caps
	}
	return u, nil
}

// apply updates p in place. Idle time is the one field reset when absent.
func (u *presenceUpdate) apply(p *roster.Presence, now time.Time) {
	t := u.tlvs
	wasOnline := p.Online
	p.Online = true

	if class, ok := t.Uint16(presenceTLVClass); ok {
		if class&protocol.AIMStatusAway != 0 {
			p.Status = protocol.StatusAway
		} else if !t.Has(presenceTLVStatus) {
			p.Status = protocol.StatusOnline
		}
	}
	if status, ok := t.Uint32(presenceTLVStatus); ok {
		p.Status = status
	}
	if ip, ok := t.Uint32(presenceTLVIP); ok && (!wasOnline || ip != 0) {
		p.IP = ip
	}
	if since, ok := t.Uint32(presenceTLVOnlineSince); ok {
		p.OnlineSince = time.Unix(int64(since), 0)
	}

	if minutes, ok := t.Uint16(presenceTLVIdle); ok && minutes > 0 {
		p.IdleSince = now.Add(-time.Duration(minutes) * time.Minute)
	} else {
		p.IdleSince = time.Time{}
	}

	if dc, ok := t.Get(presenceTLVDirect); ok && len(dc) >= directInfoMinLen {
		if ip := binary.BigEndian.Uint32(dc[0:4]); ip != 0 {
			p.RealIP = ip
		}
		if port := binary.BigEndian.Uint32(dc[4:8]); port != 0 {
			p.Port = port
		}
		p.Mode = directMode(dc[8], p.Status)
		p.TCPVersion = binary.BigEndian.Uint16(dc[9:11])
	}

	if u.caps != nil {
		p.Capabilities = *u.caps
	}

	if plugin, ok := t.Get(presenceTLVPlugin); ok {
		if status, ok := followMeStatus(plugin); ok {
			p.PhoneFollowMe = status
		}
	}
}

// directMode normalizes the peer-to-peer mode. Many clients send 0 or 6 for
// indirect; listed or auth-only direct statuses are indirect too.
func directMode(mode uint8, status uint32) uint8 {
	if mode == 0 || mode == 6 || mode == protocol.ModeDenied ||
		status&(protocol.StatusFlagDCAuth|protocol.StatusFlagDCContacts) != 0 {
		return protocol.ModeIndirect
	}
	if mode != protocol.ModeDirect && mode != protocol.ModeIndirect {
		return protocol.ModeDirect
	}
	return mode
}

// followMeStatus reads a plugin-status TLV for the phone follow-me plugin:
// index u8, timestamp u32, 6 bytes, plugin GUID, 1 byte, status u32
func followMeStatus(raw []byte) (uint8, bool) {
	r := protocol.NewReader(raw)
	index, err := r.Uint8()
	if err != nil || index != pluginIndexStatus {
		return 0, false
	}
	if err := r.Skip(4 + 6); err != nil {
		return 0, false
	}
	guid, err := r.Next(protocol.CapabilityLength)
	if err != nil {
		return 0, false
	}
	var plugin protocol.Capability
	copy(plugin[:], guid)
	if plugin != protocol.PluginFollowMe {
		return 0, false
	}
	if err := r.Skip(1); err != nil {
		return 0, false
	}
	status, err := r.Uint32BE()
	if err != nil {
		return 0, false
	}
	return uint8(status), true
}

// isFakeOffline reports a departure that only hides an invisible contact:
// a numeric account with a 4-byte online-since TLV still attached
func isFakeOffline(id string, tlvs *protocol.TLVBlock) bool {
	if _, err := strconv.ParseUint(id, 10, 32); err != nil {
		return false
	}
	v, ok := tlvs.Get(presenceTLVOnlineSince)
	return ok && len(v) == 4
}

// ipString formats a big-endian IPv4 value
func ipString(ip uint32) string {
	if ip == 0 {
		return ""
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], ip)
	return netip.AddrFrom4(b).String()
}
