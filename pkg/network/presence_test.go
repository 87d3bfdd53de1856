package network

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
	"github.com/ZentaChain/zentalk-icq/pkg/roster"
)

func directInfo(ip, port uint32, mode uint8) []byte {
	b := make([]byte, 11)
	binary.BigEndian.PutUint32(b[0:4], ip)
	binary.BigEndian.PutUint32(b[4:8], port)
	b[8] = mode
	binary.BigEndian.PutUint16(b[9:11], protocol.TCPVersion)
	return b
}

func TestPresenceApply(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tlvs := protocol.NewTLVBlock()
	tlvs.Set(presenceTLVStatus, []byte{0, 0, 0, 0x11})
	tlvs.Set(presenceTLVIP, []byte{10, 0, 0, 7})
	tlvs.Set(presenceTLVOnlineSince, []byte{0x65, 0xe1, 0x9c, 0x00})
	tlvs.Set(presenceTLVIdle, []byte{0, 5})
	tlvs.Set(presenceTLVDirect, directInfo(0xc0a80001, 4000, protocol.ModeDirect))
	tlvs.Set(presenceTLVCaps, append(protocol.CapSrvRelay[:], protocol.CapTyping[:]...))

	u, err := decodePresence(tlvs)
	require.NoError(t, err)

	var p roster.Presence
	u.apply(&p, now)
	assert.True(t, p.Online)
	assert.Equal(t, uint32(0x11), p.Status)
	assert.Equal(t, "10.0.0.7", ipString(p.IP))
	assert.Equal(t, time.Unix(0x65e19c00, 0), p.OnlineSince)
	assert.Equal(t, now.Add(-5*time.Minute), p.IdleSince)
	assert.Equal(t, uint32(0xc0a80001), p.RealIP)
	assert.Equal(t, uint32(4000), p.Port)
	assert.Equal(t, protocol.ModeDirect, p.Mode)
	assert.True(t, p.Capabilities.ServerRelay)
	assert.True(t, p.Capabilities.Typing)

	t.Run("absent idle resets", func(t *testing.T) {
		next := protocol.NewTLVBlock()
		next.Set(presenceTLVClass, []byte{0, 0x50})
		u, err := decodePresence(next)
		require.NoError(t, err)
		u.apply(&p, now)
		assert.True(t, p.IdleSince.IsZero())
		assert.Equal(t, protocol.StatusOnline, p.Status, "class without status tlv means online")
		assert.Equal(t, "10.0.0.7", ipString(p.IP), "fields without a tlv are kept")
		assert.Equal(t, uint32(4000), p.Port)
	})

	t.Run("away class bit", func(t *testing.T) {
		next := protocol.NewTLVBlock()
		next.Set(presenceTLVClass, []byte{0, byte(protocol.AIMStatusAway)})
		u, err := decodePresence(next)
		require.NoError(t, err)
		u.apply(&p, now)
		assert.Equal(t, protocol.StatusAway, p.Status)
	})

	t.Run("zero ip keeps the known one", func(t *testing.T) {
		next := protocol.NewTLVBlock()
		next.Set(presenceTLVIP, []byte{0, 0, 0, 0})
		u, err := decodePresence(next)
		require.NoError(t, err)
		u.apply(&p, now)
		assert.Equal(t, "10.0.0.7", ipString(p.IP))
	})
}

func TestDecodePresenceBadCaps(t *testing.T) {
	tlvs := protocol.NewTLVBlock()
	tlvs.Set(presenceTLVCaps, []byte{1, 2, 3})
	_, err := decodePresence(tlvs)
	assert.ErrorIs(t, err, protocol.ErrLengthMismatch)
}

func TestDirectMode(t *testing.T) {
	assert.Equal(t, protocol.ModeIndirect, directMode(0, 0))
	assert.Equal(t, protocol.ModeIndirect, directMode(6, 0))
	assert.Equal(t, protocol.ModeIndirect, directMode(protocol.ModeDenied, 0))
	assert.Equal(t, protocol.ModeIndirect, directMode(protocol.ModeDirect, protocol.StatusFlagDCAuth))
	assert.Equal(t, protocol.ModeDirect, directMode(protocol.ModeDirect, 0))
	assert.Equal(t, protocol.ModeDirect, directMode(0x42, 0), "unknown modes are direct")
}

func TestFollowMeStatus(t *testing.T) {
	b := protocol.NewBuffer(40)
	b.PutUint8(pluginIndexStatus)
	b.PutBytes(make([]byte, 10))
	b.PutBytes(protocol.PluginFollowMe[:])
	b.PutUint8(0)
	b.PutUint32BE(2)

	status, ok := followMeStatus(b.Bytes())
	require.True(t, ok)
	assert.Equal(t, uint8(2), status)

	_, ok = followMeStatus(b.Bytes()[:20])
	assert.False(t, ok)
}

func TestIsFakeOffline(t *testing.T) {
	tlvs := protocol.NewTLVBlock()
	tlvs.Set(presenceTLVOnlineSince, []byte{1, 2, 3, 4})
	assert.True(t, isFakeOffline("12345", tlvs))
	assert.False(t, isFakeOffline("screenname", tlvs))
	assert.False(t, isFakeOffline("12345", protocol.NewTLVBlock()))
}

func TestReadUserInfo(t *testing.T) {
	b := protocol.NewBuffer(32)
	b.PutString8("4242")
	b.PutUint16BE(0)
	b.PutUint16BE(1)
	b.PutTLVUint16(presenceTLVClass, 0x0050)
	b.PutTLV(0x0099, []byte("trailing"))

	r := protocol.NewReader(b.Bytes())
	id, tlvs, err := readUserInfo(r)
	require.NoError(t, err)
	assert.Equal(t, "4242", id)
	assert.Equal(t, 1, tlvs.Len())
	assert.Positive(t, r.Remaining(), "tlvs past the count are left unread")
}
