// Package roster keeps the local contact list in step with the server-side
// list. Every server mutation is wrapped in an edit bracket and tracked as a
// pending roster operation until its update ack arrives.
package roster

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-icq/pkg/event"
	"github.com/ZentaChain/zentalk-icq/pkg/notify"
	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
)

var (
	ErrListFull     = errors.New("no free server list id")
	ErrGroupExists  = errors.New("group already exists")
	ErrNotOnServer  = errors.New("contact is not on the server list")
	ErrEmptyAccount = errors.New("empty account id")
)

// DefaultBatchSize is how many items one clear packet carries
const DefaultBatchSize = 100

// Sender writes roster requests on the current service connection
type Sender interface {
	Send(req protocol.Request) error
	SendRoster(req protocol.Request, op event.RosterOp) (*event.RosterOp, error)
}

// Tracker is the table of pending roster operations
type Tracker interface {
	PeekRoster(key uint16) (*event.RosterOp, bool)
	ResolveRoster(key uint16, r event.Result, sub any) (*event.RosterOp, bool)
}

// Manager applies roster mutations locally and on the server
type Manager struct {
	store   Store
	sender  Sender
	tracker Tracker
	pub     notify.Publisher
	log     *zap.SugaredLogger
	sids    *SIDGenerator
	batch   int

	mu            sync.Mutex
	stage         *staging
	exportChecked bool
	retry         []event.RosterOp
}

// NewManager creates a manager over store. The id generator is seeded from
// every server id the store already knows.
func NewManager(store Store, sender Sender, tracker Tracker, pub notify.Publisher, log *zap.SugaredLogger) *Manager {
	if pub == nil {
		pub = notify.Discard
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	m := &Manager{
		store:   store,
		sender:  sender,
		tracker: tracker,
		pub:     pub,
		log:     log,
		sids:    NewSIDGenerator(),
		batch:   DefaultBatchSize,
		stage:   newStaging(),
	}
	m.seed()
	return m
}

func (m *Manager) seed() {
	contacts, err := m.store.Contacts()
	if err != nil {
		m.log.Warnw("Failed to seed roster ids", "error", err)
		return
	}
	for _, c := range contacts {
		m.sids.Observe(c.NormalSID, c.VisibleSID, c.InvisibleSID, c.IgnoreSID)
	}
	groups, _ := m.store.Groups()
	for _, g := range groups {
		m.sids.Observe(g.GSID)
	}
	if st, err := m.store.SyncState(); err == nil {
		m.sids.Observe(st.PDInfoSID)
	}
}

// SetBatchSize sets how many items one multi-item packet carries
func (m *Manager) SetBatchSize(n int) {
	if n > 0 {
		m.batch = n
	}
}

// Store returns the backing store
func (m *Manager) Store() Store { return m.store }

func (m *Manager) nextID() (uint16, error) {
	id := m.sids.Next()
	if id == 0 {
		return 0, ErrListFull
	}
	return id, nil
}

// bracket sends EditStart, runs fn and sends EditEnd as three separate
// transmissions. EditEnd is attempted even when fn fails.
func (m *Manager) bracket(importing bool, fn func() error) error {
	if err := m.sender.Send(protocol.NewEditStart(importing)); err != nil {
		return fmt.Errorf("failed to start roster edit: %w", err)
	}
	err := fn()
	if endErr := m.sender.Send(protocol.NewEditEnd()); endErr != nil && err == nil {
		err = fmt.Errorf("failed to end roster edit: %w", endErr)
	}
	return err
}

func (m *Manager) track(req protocol.Request, op event.RosterOp) error {
	_, err := m.sender.SendRoster(req, op)
	return err
}

func (m *Manager) changed(action, contact, group, result string) {
	m.pub.Publish(notify.New(notify.RosterChanged, contact, notify.RosterChange{Action: action, Group: group, Result: result}))
}

// AddContact stores the contact locally and adds it to the server list.
// groupName picks the group; empty means the contact's current group, then
// the first group, then GSID 1.
func (m *Manager) AddContact(accountID, groupName, alias string) error {
	if accountID == "" {
		return ErrEmptyAccount
	}
	c, err := m.store.Contact(accountID)
	if errors.Is(err, ErrNotFound) {
		c = &Contact{AccountID: accountID}
	} else if err != nil {
		return err
	}
	if alias != "" {
		c.Alias = alias
	}

	gsid, created, err := m.resolveGroup(c, groupName)
	if err != nil {
		return err
	}
	if c.NormalSID == 0 {
		if c.NormalSID, err = m.nextID(); err != nil {
			return err
		}
	}
	c.GSID = gsid
	if err := m.store.SaveContact(c); err != nil {
		return fmt.Errorf("failed to save contact %s: %w", accountID, err)
	}

	m.log.Infof("➕ Adding %s to server list (gsid=%d sid=%d)", accountID, gsid, c.NormalSID)
	item := c.Item(gsid, c.NormalSID)
	return m.bracket(false, func() error {
		if created != nil {
			gi := m.groupItem(created)
			if err := m.track(protocol.NewAddToServerList(gi, false),
				event.RosterOp{Action: event.RosterAdd, Contact: created.Name, Items: []protocol.RosterItem{gi}}); err != nil {
				return err
			}
		}
		return m.track(protocol.NewAddToServerList(item, c.AwaitingAuth),
			event.RosterOp{Action: event.RosterAdd, Contact: accountID, Items: []protocol.RosterItem{item}})
	})
}

// resolveGroup finds the gsid for c. A named group that does not exist yet
// is created locally and returned so the caller can add it on the server.
func (m *Manager) resolveGroup(c *Contact, name string) (uint16, *Group, error) {
	if name != "" {
		g, err := m.store.GroupByName(name)
		if err == nil {
			return g.GSID, nil, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return 0, nil, err
		}
		g, err = m.newGroup(name)
		if err != nil {
			return 0, nil, err
		}
		return g.GSID, g, nil
	}
	if c.GSID != 0 {
		if _, err := m.store.GroupByID(c.GSID); err == nil {
			return c.GSID, nil, nil
		}
	}
	groups, err := m.store.Groups()
	if err != nil {
		return 0, nil, err
	}
	if len(groups) > 0 {
		return groups[0].GSID, nil, nil
	}
	return 1, nil, nil
}

func (m *Manager) newGroup(name string) (*Group, error) {
	groups, err := m.store.Groups()
	if err != nil {
		return nil, err
	}
	gsid, err := m.nextID()
	if err != nil {
		return nil, err
	}
	g := &Group{Name: name, GSID: gsid, Order: len(groups)}
	if err := m.store.SaveGroup(g); err != nil {
		return nil, fmt.Errorf("failed to save group %q: %w", name, err)
	}
	return g, nil
}

// AddGroup creates a group locally and on the server
func (m *Manager) AddGroup(name string) (*Group, error) {
	if _, err := m.store.GroupByName(name); err == nil {
		return nil, fmt.Errorf("%w: %q", ErrGroupExists, name)
	}
	g, err := m.newGroup(name)
	if err != nil {
		return nil, err
	}
	item := m.groupItem(g)
	m.log.Infof("➕ Adding group %q (gsid=%d)", name, g.GSID)
	err = m.bracket(false, func() error {
		return m.track(protocol.NewAddToServerList(item, false),
			event.RosterOp{Action: event.RosterAdd, Contact: name, Items: []protocol.RosterItem{item}})
	})
	return g, err
}

// RemoveContact strips the contact from the normal (or ignore), visible and
// invisible lists and deletes it locally once every removal is sent. Each
// removal is its own bracket and its own pending operation; the server ids
// are released as the acks arrive.
func (m *Manager) RemoveContact(accountID string) error {
	c, err := m.store.Contact(accountID)
	if err != nil {
		return err
	}

	var items []protocol.RosterItem
	switch {
	case c.InIgnoreList && c.IgnoreSID != 0:
		items = append(items, protocol.RosterItem{Name: accountID, SID: c.IgnoreSID, Type: protocol.RosterIgnore})
	case c.NormalSID != 0:
		items = append(items, protocol.RosterItem{Name: accountID, GSID: c.GSID, SID: c.NormalSID, Type: protocol.RosterNormal})
	}
	if c.VisibleSID != 0 {
		items = append(items, protocol.RosterItem{Name: accountID, SID: c.VisibleSID, Type: protocol.RosterVisible})
	}
	if c.InvisibleSID != 0 {
		items = append(items, protocol.RosterItem{Name: accountID, SID: c.InvisibleSID, Type: protocol.RosterInvisible})
	}

	m.log.Infof("➖ Removing %s from %d server lists", accountID, len(items))
	for _, item := range items {
		item := item
		if err := m.bracket(false, func() error {
			return m.track(protocol.NewRemoveFromServerList(item),
				event.RosterOp{Action: event.RosterRemove, Contact: accountID, Items: []protocol.RosterItem{item}})
		}); err != nil {
			return err
		}
	}

	if err := m.store.DeleteContact(accountID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to delete contact %s: %w", accountID, err)
	}
	m.changed("remove", accountID, "", "")
	return nil
}

// RemoveGroup deletes a group locally and on the server
func (m *Manager) RemoveGroup(gsid uint16) error {
	g, err := m.store.GroupByID(gsid)
	if err != nil {
		return err
	}
	item := protocol.RosterItem{Name: g.Name, GSID: gsid, Type: protocol.RosterGroup}
	m.log.Infof("➖ Removing group %q", g.Name)
	if err := m.bracket(false, func() error {
		return m.track(protocol.NewRemoveFromServerList(item),
			event.RosterOp{Action: event.RosterRemove, Contact: g.Name, Items: []protocol.RosterItem{item}})
	}); err != nil {
		return err
	}
	return m.store.DeleteGroup(gsid)
}

// ClearServerList removes every contact from the server-side normal list,
// then the invisible list, then the visible list. Each list goes out in
// batches of the batch size, one bracket per batch, each batch its own
// pending operation. Local contacts are kept; their server ids are stripped
// as the acks arrive. It returns the number of items sent.
func (m *Manager) ClearServerList() (int, error) {
	contacts, err := m.store.Contacts()
	if err != nil {
		return 0, err
	}

	sort.Slice(contacts, func(i, j int) bool { return contacts[i].AccountID < contacts[j].AccountID })

	var sent int
	for _, typ := range []uint16{protocol.RosterNormal, protocol.RosterInvisible, protocol.RosterVisible} {
		var items []protocol.RosterItem
		for _, c := range contacts {
			sid := c.listSID(typ)
			if sid == 0 {
				continue
			}
			item := protocol.RosterItem{Name: c.AccountID, SID: sid, Type: typ}
			if typ == protocol.RosterNormal {
				item.GSID = c.GSID
			}
			items = append(items, item)
		}
		for start := 0; start < len(items); start += m.batch {
			batch := items[start:min(start+m.batch, len(items))]
			m.log.Infof("🧹 Deleting %d server list users (type 0x%02x)", len(batch), typ)
			if err := m.clearBatch(batch); err != nil {
				return sent, err
			}
			sent += len(batch)
		}
	}
	return sent, nil
}

func (m *Manager) clearBatch(items []protocol.RosterItem) error {
	return m.bracket(false, func() error {
		return m.track(protocol.NewClearServerList(items),
			event.RosterOp{Action: event.RosterClear, Items: items})
	})
}

// RenameGroup renames a group. GSID 0 is the top-level group, which has no
// name of its own; renaming it refreshes its group list instead.
func (m *Manager) RenameGroup(gsid uint16, name string) error {
	if gsid == 0 {
		return m.updateTopLevel()
	}
	g, err := m.store.GroupByID(gsid)
	if err != nil {
		return err
	}
	g.Name = name
	if err := m.store.SaveGroup(g); err != nil {
		return err
	}
	item := m.groupItem(g)
	return m.bracket(false, func() error {
		return m.track(protocol.NewUpdateToServerList(item, false),
			event.RosterOp{Action: event.RosterRenameGroup, Contact: name, Items: []protocol.RosterItem{item}})
	})
}

// UpdateContact pushes the contact's alias and preserved attributes
func (m *Manager) UpdateContact(accountID, alias string) error {
	c, err := m.store.Contact(accountID)
	if err != nil {
		return err
	}
	if alias != "" {
		c.Alias = alias
	}
	if err := m.store.SaveContact(c); err != nil {
		return err
	}
	if c.NormalSID == 0 {
		return ErrNotOnServer
	}
	item := c.Item(c.GSID, c.NormalSID)
	return m.bracket(false, func() error {
		return m.track(protocol.NewUpdateToServerList(item, c.AwaitingAuth),
			event.RosterOp{Action: event.RosterUpdate, Contact: accountID, Items: []protocol.RosterItem{item}})
	})
}

// SetPrivacy stores the privacy byte in the PDINFO item, creating the item
// the first time
func (m *Manager) SetPrivacy(privacy uint8) error {
	st, err := m.store.SyncState()
	if err != nil {
		return err
	}
	var req protocol.Request
	if st.PDInfoSID == 0 {
		if st.PDInfoSID, err = m.nextID(); err != nil {
			return err
		}
		req = protocol.NewAddPDInfo(st.PDInfoSID, privacy)
	} else {
		req = protocol.NewSetPrivacy(st.PDInfoSID, privacy)
	}
	st.Privacy = privacy
	if err := m.store.SaveSyncState(st); err != nil {
		return err
	}
	item := protocol.RosterItem{SID: st.PDInfoSID, Type: protocol.RosterPDInfo}
	return m.bracket(false, func() error {
		return m.track(req, event.RosterOp{Action: event.RosterPrivacy, Items: []protocol.RosterItem{item}})
	})
}

// groupItem builds a group entry listing its members' ids
func (m *Manager) groupItem(g *Group) protocol.RosterItem {
	var members []uint16
	if contacts, err := m.store.Contacts(); err == nil {
		for _, c := range contacts {
			if c.GSID == g.GSID && c.NormalSID != 0 {
				members = append(members, c.NormalSID)
			}
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return protocol.RosterItem{Name: g.Name, GSID: g.GSID, Type: protocol.RosterGroup, TLVs: memberTLVs(members)}
}

// topLevelItem builds the GSID 0 entry listing every group id
func (m *Manager) topLevelItem() protocol.RosterItem {
	var ids []uint16
	if groups, err := m.store.Groups(); err == nil {
		for _, g := range groups {
			ids = append(ids, g.GSID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return protocol.RosterItem{Type: protocol.RosterGroup, TLVs: memberTLVs(ids)}
}

// updateTopLevel creates the top-level group with its group list the first
// time and updates it afterwards
func (m *Manager) updateTopLevel() error {
	st, err := m.store.SyncState()
	if err != nil {
		return err
	}
	item := m.topLevelItem()
	if !st.TopLevel {
		m.log.Info("Creating top level group")
		return m.bracket(false, func() error {
			return m.track(protocol.NewAddToServerList(item, false),
				event.RosterOp{Action: event.RosterAdd, Items: []protocol.RosterItem{item}})
		})
	}
	m.log.Info("Updating top level group")
	return m.bracket(false, func() error {
		return m.track(protocol.NewUpdateToServerList(item, false),
			event.RosterOp{Action: event.RosterUpdate, Items: []protocol.RosterItem{item}})
	})
}

// updateGroup refreshes a group's member list on the server
func (m *Manager) updateGroup(gsid uint16) error {
	g, err := m.store.GroupByID(gsid)
	if err != nil {
		return err
	}
	item := m.groupItem(g)
	m.log.Infof("Updating group %q", g.Name)
	return m.bracket(false, func() error {
		return m.track(protocol.NewUpdateToServerList(item, false),
			event.RosterOp{Action: event.RosterUpdate, Contact: g.Name, Items: []protocol.RosterItem{item}})
	})
}

// AuthGranted clears the awaiting-authorization marker of a contact
func (m *Manager) AuthGranted(accountID string) error {
	c, err := m.store.Contact(accountID)
	if err != nil {
		return err
	}
	c.AwaitingAuth = false
	c.TLVs.Delete(protocol.RosterTLVAwaitingAuth)
	return m.store.SaveContact(c)
}

// UpdatePresence applies fn to a contact's presence and stores the result.
// It returns the presence before the change.
func (m *Manager) UpdatePresence(accountID string, fn func(*Presence)) (Presence, *Contact, error) {
	c, err := m.store.Contact(accountID)
	if err != nil {
		return Presence{}, nil, err
	}
	prev := c.Presence
	fn(&c.Presence)
	c.Presence.Updated = time.Now()
	if err := m.store.SaveContact(c); err != nil {
		return prev, nil, err
	}
	return prev, c, nil
}

// MarkAllOffline resets every contact's presence, returning those that were
// online
func (m *Manager) MarkAllOffline() []string {
	contacts, err := m.store.Contacts()
	if err != nil {
		m.log.Warnw("Failed to list contacts", "error", err)
		return nil
	}
	var out []string
	for _, c := range contacts {
		if !c.Presence.Online {
			continue
		}
		c.Presence = Presence{Status: protocol.StatusOffline, Updated: time.Now()}
		if err := m.store.SaveContact(c); err != nil {
			m.log.Warnw("Failed to mark contact offline", "contact", c.AccountID, "error", err)
			continue
		}
		out = append(out, c.AccountID)
	}
	sort.Strings(out)
	return out
}
