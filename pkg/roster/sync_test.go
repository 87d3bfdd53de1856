package roster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-icq/pkg/event"
	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
)

func rosterPacket(ts uint32, items ...protocol.RosterItem) *protocol.Buffer {
	b := protocol.NewBuffer(64)
	b.PutUint8(0)
	b.PutUint16BE(uint16(len(items)))
	for _, it := range items {
		b.PutString16BE(it.Name)
		b.PutUint16BE(it.GSID)
		b.PutUint16BE(it.SID)
		b.PutUint16BE(it.Type)
		b.PutUint16BE(uint16(it.TLVs.Size()))
		it.TLVs.EncodeTo(b)
	}
	b.PutUint32BE(ts)
	return protocol.NewReader(b.Bytes())
}

func aliasTLV(alias string) *protocol.TLVBlock {
	t := protocol.NewTLVBlock()
	t.Set(protocol.RosterTLVAlias, []byte(alias))
	t.Set(0x0145, []byte{1, 2}) // unknown tag kept for echo
	return t
}

func TestRosterReplyStagesUntilLast(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SaveContact(&Contact{AccountID: "100", Alias: "old", Synced: true}))

	first := rosterPacket(0,
		protocol.RosterItem{Name: "Friends", GSID: 4, Type: protocol.RosterGroup},
		protocol.RosterItem{Name: "100", GSID: 4, SID: 20, Type: protocol.RosterNormal, TLVs: aliasTLV("Alice")},
	)
	res, err := h.m.HandleRosterReply(first, true)
	require.NoError(t, err)
	assert.Nil(t, res)
	c, _ := h.store.Contact("100")
	assert.Equal(t, "old", c.Alias, "nothing applied before the last packet")

	last := rosterPacket(0x5000,
		protocol.RosterItem{Name: "200", GSID: 4, SID: 21, Type: protocol.RosterNormal},
		protocol.RosterItem{Name: "200", SID: 22, Type: protocol.RosterVisible},
		protocol.RosterItem{Name: "300", SID: 23, Type: protocol.RosterIgnore},
	)
	res, err = h.m.HandleRosterReply(last, false)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.ElementsMatch(t, []string{"200", "300"}, res.Created)
	assert.Equal(t, []string{"100"}, res.Updated)

	c, err = h.store.Contact("100")
	require.NoError(t, err)
	assert.Equal(t, "Alice", c.Alias)
	assert.Equal(t, uint16(20), c.NormalSID)
	assert.Equal(t, uint16(4), c.GSID)
	assert.True(t, c.TLVs.Has(0x0145))

	c, _ = h.store.Contact("200")
	assert.Equal(t, uint16(21), c.NormalSID)
	assert.Equal(t, uint16(22), c.VisibleSID)
	assert.True(t, c.Synced)

	c, _ = h.store.Contact("300")
	assert.True(t, c.InIgnoreList)
	assert.Equal(t, uint16(23), c.IgnoreSID)

	g, err := h.store.GroupByID(4)
	require.NoError(t, err)
	assert.Equal(t, "Friends", g.Name)

	st, _ := h.store.SyncState()
	assert.True(t, st.Synced)
	assert.Equal(t, uint32(0x5000), st.Time)
	assert.Equal(t, uint16(5), st.Count)

	assert.Equal(t, []string{"RosterAck"}, h.conn.names(), "reconciliation only reads")
	assert.Zero(t, res.Exported)
}

func TestFirstSyncExportsLocalOnly(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SaveGroup(&Group{Name: "Local", GSID: 30}))
	require.NoError(t, h.store.SaveContact(&Contact{AccountID: "999", GSID: 30, Alias: "local"}))
	h.m.seed()

	res, err := h.m.HandleRosterReply(rosterPacket(1,
		protocol.RosterItem{Name: "100", GSID: 1, SID: 5, Type: protocol.RosterNormal},
	), false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Exported)

	assert.Equal(t, []string{"EditStart", "ExportItems", "ExportItems", "EditEnd", "RosterAck"}, h.conn.names())
	start := h.conn.out[0].req.(protocol.EditStart)
	assert.True(t, start.Import)
	groups := h.conn.out[1].req.(protocol.ExportItems)
	assert.Equal(t, "Local", groups.Items[0].Name)
	contacts := h.conn.out[2].req.(protocol.ExportItems)
	require.Len(t, contacts.Items, 1)
	assert.Equal(t, "999", contacts.Items[0].Name)

	// later fetches never export again
	h.conn.reset()
	_, err = h.m.HandleRosterReply(rosterPacket(2), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"RosterAck"}, h.conn.names())
}

func TestGroupMatchedByNameMovesContacts(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SaveGroup(&Group{Name: "Work", GSID: 6, Order: 0}))
	require.NoError(t, h.store.SaveGroup(&Group{Name: "Friends", GSID: 5, Order: 1}))
	require.NoError(t, h.store.SaveContact(&Contact{AccountID: "111", GSID: 5}))
	h.m.seed()

	_, err := h.m.HandleRosterReply(rosterPacket(1,
		protocol.RosterItem{Name: "Friends", GSID: 9, Type: protocol.RosterGroup},
	), false)
	require.NoError(t, err)

	_, err = h.store.GroupByID(5)
	assert.ErrorIs(t, err, ErrNotFound)
	g, err := h.store.GroupByID(9)
	require.NoError(t, err)
	assert.Equal(t, "Friends", g.Name)
	assert.False(t, h.m.sids.used[5], "the local group id is free again")

	c, err := h.store.Contact("111")
	require.NoError(t, err)
	assert.Equal(t, uint16(9), c.GSID)

	var exported []protocol.RosterItem
	for _, s := range h.conn.out {
		if req, ok := s.req.(protocol.ExportItems); ok && req.Items[0].Type == protocol.RosterNormal {
			exported = req.Items
		}
	}
	require.Len(t, exported, 1)
	assert.Equal(t, "111", exported[0].Name)
	assert.Equal(t, uint16(9), exported[0].GSID, "exported under the server group")
}

func TestSyncedTriggersCheckExportOnce(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SaveContact(&Contact{AccountID: "1"}))

	n, err := h.m.HandleSynced()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	h.conn.reset()
	n, err = h.m.HandleSynced()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"RosterAck"}, h.conn.names())
}

func TestRosterReplyMalformed(t *testing.T) {
	h := newHarness(t)
	b := protocol.NewBuffer(16)
	b.PutUint8(0)
	b.PutUint16BE(1)
	b.PutString16BE("1")
	b.PutUint16BE(0)
	b.PutUint16BE(1)
	b.PutUint16BE(protocol.RosterNormal)
	b.PutUint16BE(8) // tlv block longer than what follows
	b.PutUint16BE(protocol.RosterTLVAlias)

	_, err := h.m.HandleRosterReply(protocol.NewReader(b.Bytes()), false)
	assert.Error(t, err)
	assert.Empty(t, h.conn.names())
}

func TestAbandonReplaysAfterSync(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.AddContact("42", "", ""))
	ops := h.engine.PendingRoster(1)
	require.Len(t, ops, 1)

	// connection drops mid-bracket
	h.m.Abandon(ops)
	assert.Equal(t, 1, h.engine.CancelAll(1))
	assert.Equal(t, 1, h.m.Retrying())

	conn := &recConn{}
	h.conn = conn
	h.engine.Stop()
	seq := protocol.NewSequencer(2)
	h.engine = event.NewEngine(seq, nil, nil)
	t.Cleanup(h.engine.Stop)
	h.m.tracker = h.engine

	h.m.exportChecked = true
	_, err := h.m.HandleRosterReply(rosterPacket(3), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"RosterAck", "EditStart", "AddToServerList", "EditEnd"}, conn.names())
	assert.Zero(t, h.m.Retrying())
}

func TestServerPushes(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.HandleServerUpdate(protocol.RosterItem{Name: "77", GSID: 2, SID: 9, Type: protocol.RosterNormal, TLVs: aliasTLV("Zed")}))
	c, err := h.store.Contact("77")
	require.NoError(t, err)
	assert.Equal(t, "Zed", c.Alias)
	assert.Equal(t, uint16(9), c.NormalSID)

	require.NoError(t, h.m.HandleServerRemove(protocol.RosterItem{Name: "77", SID: 9, Type: protocol.RosterNormal}))
	c, _ = h.store.Contact("77")
	assert.False(t, c.OnServer())
	assert.False(t, c.Synced)
}

func TestPresenceAndMarkAllOffline(t *testing.T) {
	h := newHarness(t)
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, h.store.SaveContact(&Contact{AccountID: id}))
	}
	for _, id := range []string{"3", "1"} {
		prev, c, err := h.m.UpdatePresence(id, func(p *Presence) {
			p.Online, p.Status = true, protocol.StatusAway
		})
		require.NoError(t, err)
		assert.False(t, prev.Online)
		assert.True(t, c.Presence.Online)
	}

	assert.Equal(t, []string{"1", "3"}, h.m.MarkAllOffline())
	c, _ := h.store.Contact("3")
	assert.False(t, c.Presence.Online)
	assert.Empty(t, h.m.MarkAllOffline())

	_, _, err := h.m.UpdatePresence("nobody", func(*Presence) {})
	assert.ErrorIs(t, err, ErrNotFound)
}
