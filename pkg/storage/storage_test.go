package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-icq/pkg/event"
	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
	"github.com/ZentaChain/zentalk-icq/pkg/roster"
)

func openTemp(t *testing.T, passphrase string) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "icq.db")
	db, err := Open(path, passphrase)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestContactRoundTrip(t *testing.T) {
	db, _ := openTemp(t, "")

	tlvs := protocol.NewTLVBlock()
	tlvs.Set(0x0137, []byte("keep me"))
	tlvs.Set(protocol.RosterTLVAlias, []byte("Ann"))

	since := time.Unix(1700000000, 0)
	in := &roster.Contact{
		AccountID:    "1001",
		Alias:        "Ann",
		GSID:         3,
		NormalSID:    17,
		AwaitingAuth: true,
		Synced:       true,
		TLVs:         tlvs,
		Presence: roster.Presence{
			Online:       true,
			Status:       protocol.StatusAway,
			OnlineSince:  since,
			IP:           0x0a000007,
			Capabilities: protocol.Capabilities{Typing: true, Raw: []protocol.Capability{protocol.CapTyping}},
		},
	}
	require.NoError(t, db.SaveContact(in))

	got, err := db.Contact("1001")
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.Alias)
	assert.Equal(t, uint16(3), got.GSID)
	assert.Equal(t, uint16(17), got.NormalSID)
	assert.True(t, got.AwaitingAuth)
	assert.True(t, got.Synced)
	assert.Equal(t, tlvs.Encode(), got.TLVs.Encode(), "attribute block keeps its order")
	assert.True(t, got.Presence.Online)
	assert.Equal(t, protocol.StatusAway, got.Presence.Status)
	assert.True(t, since.Equal(got.Presence.OnlineSince))
	assert.True(t, got.Presence.IdleSince.IsZero())
	assert.True(t, got.Presence.Capabilities.Typing)

	in.Alias = "Annie"
	in.TLVs = nil
	require.NoError(t, db.SaveContact(in))
	got, err = db.Contact("1001")
	require.NoError(t, err)
	assert.Equal(t, "Annie", got.Alias)
	assert.Equal(t, 0, got.TLVs.Len())

	require.NoError(t, db.SaveContact(&roster.Contact{AccountID: "0999"}))
	all, err := db.Contacts()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "0999", all[0].AccountID)

	require.NoError(t, db.DeleteContact("1001"))
	_, err = db.Contact("1001")
	assert.ErrorIs(t, err, roster.ErrNotFound)
	assert.ErrorIs(t, db.DeleteContact("1001"), roster.ErrNotFound)
}

func TestGroups(t *testing.T) {
	db, _ := openTemp(t, "")

	require.NoError(t, db.SaveGroup(&roster.Group{GSID: 2, Name: "work", Order: 1, Server: true}))
	require.NoError(t, db.SaveGroup(&roster.Group{GSID: 5, Name: "Friends", Order: 0}))

	groups, err := db.Groups()
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "Friends", groups[0].Name)

	g, err := db.GroupByName("work")
	require.NoError(t, err)
	assert.Equal(t, uint16(2), g.GSID)
	assert.True(t, g.Server)

	g.Name = "office"
	require.NoError(t, db.SaveGroup(g))
	g, err = db.GroupByID(2)
	require.NoError(t, err)
	assert.Equal(t, "office", g.Name)

	_, err = db.GroupByName("work")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, db.DeleteGroup(2))
	assert.ErrorIs(t, db.DeleteGroup(2), ErrNotFound)
}

func TestSyncState(t *testing.T) {
	db, _ := openTemp(t, "")

	st, err := db.SyncState()
	require.NoError(t, err)
	assert.Equal(t, roster.SyncState{}, st)

	want := roster.SyncState{Time: 0x5f000000, Count: 12, Synced: true, TopLevel: true, PDInfoSID: 9, Privacy: 4}
	require.NoError(t, db.SaveSyncState(want))
	st, err = db.SyncState()
	require.NoError(t, err)
	assert.Equal(t, want, st)
}

func TestOwner(t *testing.T) {
	t.Run("locked without passphrase", func(t *testing.T) {
		db, _ := openTemp(t, "")
		assert.ErrorIs(t, db.SaveOwner(Owner{AccountID: "1", Password: "x"}), ErrDatabaseLocked)
		_, err := db.Owner()
		assert.ErrorIs(t, err, ErrDatabaseLocked)
	})

	t.Run("sealed round trip", func(t *testing.T) {
		db, path := openTemp(t, "correct horse")
		_, err := db.Owner()
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, db.SaveOwner(Owner{AccountID: "12345", Password: "secret"}))
		require.NoError(t, db.Close())

		_, err = Open(path, "wrong")
		assert.ErrorIs(t, err, ErrInvalidPassword)

		db, err = Open(path, "correct horse")
		require.NoError(t, err)
		defer db.Close()
		o, err := db.Owner()
		require.NoError(t, err)
		assert.Equal(t, Owner{AccountID: "12345", Password: "secret"}, o)
	})
}

type nopSender struct{}

func (nopSender) Send(protocol.Request) error { return nil }

func (nopSender) SendRoster(_ protocol.Request, op event.RosterOp) (*event.RosterOp, error) {
	return &op, nil
}

func TestManagerOverSQLite(t *testing.T) {
	db, path := openTemp(t, "")
	m := roster.NewManager(db, nopSender{}, nil, nil, nil)
	require.NoError(t, m.AddContact("4242", "", "Bob"))
	require.NoError(t, db.Close())

	reopened, err := Open(path, "")
	require.NoError(t, err)
	defer reopened.Close()
	c, err := reopened.Contact("4242")
	require.NoError(t, err)
	assert.Equal(t, "Bob", c.Alias)
	assert.NotZero(t, c.NormalSID, "server id survives a reopen")
}
