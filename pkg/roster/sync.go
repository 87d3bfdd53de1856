package roster

import (
	"errors"
	"fmt"
	"time"

	"github.com/ZentaChain/zentalk-icq/pkg/event"
	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
)

// staged holds what a multi-packet roster fetch said about one contact
type staged struct {
	gsid         uint16
	normal       uint16
	visible      uint16
	invisible    uint16
	ignore       uint16
	inIgnore     bool
	awaitingAuth bool
	alias        *string
	cellular     *string
	tlvs         *protocol.TLVBlock
}

type staging struct {
	contacts map[string]*staged
	groups   map[uint16]string
	topLevel bool
	pdinfo   uint16
	privacy  uint8
	count    uint16
	time     uint32
}

func newStaging() *staging {
	return &staging{contacts: make(map[string]*staged), groups: make(map[uint16]string)}
}

func (s *staging) contact(id string) *staged {
	c, ok := s.contacts[id]
	if !ok {
		c = &staged{tlvs: protocol.NewTLVBlock()}
		s.contacts[id] = c
	}
	return c
}

func (s *staging) add(item protocol.RosterItem) {
	switch item.Type {
	case protocol.RosterNormal, protocol.RosterVisible, protocol.RosterInvisible, protocol.RosterIgnore:
		c := s.contact(item.Name)
		c.tlvs.Merge(item.TLVs)
		if v, ok := item.TLVs.String(protocol.RosterTLVAlias); ok {
			c.alias = &v
		}
		if v, ok := item.TLVs.String(protocol.RosterTLVCellular); ok {
			c.cellular = &v
		}
		if item.TLVs.Has(protocol.RosterTLVAwaitingAuth) {
			c.awaitingAuth = true
		}
		if item.GSID != 0 {
			c.gsid = item.GSID
		}
		if item.SID == 0 {
			return
		}
		switch item.Type {
		case protocol.RosterVisible:
			c.visible = item.SID
		case protocol.RosterInvisible:
			c.invisible = item.SID
		case protocol.RosterIgnore:
			c.inIgnore = true
			c.ignore = item.SID
		default:
			c.normal = item.SID
		}
	case protocol.RosterGroup:
		if item.Name != "" && item.GSID != 0 {
			s.groups[item.GSID] = item.Name
		} else {
			s.topLevel = true
		}
	case protocol.RosterPDInfo:
		s.pdinfo = item.SID
		s.privacy, _ = item.TLVs.Uint8(protocol.RosterTLVPrivacy)
	}
}

// Reconciled summarizes one completed roster fetch
type Reconciled struct {
	Created  []string
	Updated  []string
	Groups   int
	Exported int
}

// HandleRosterReply stages one ROSTxREPLY packet. While more is set the
// entries stay staged; the last packet reconciles everything in one pass.
func (m *Manager) HandleRosterReply(b *protocol.Buffer, more bool) (*Reconciled, error) {
	if _, err := b.Uint8(); err != nil { // list version
		return nil, err
	}
	count, err := b.Uint16BE()
	if err != nil {
		return nil, err
	}

	items := make([]protocol.RosterItem, 0, count)
	for i := 0; i < int(count); i++ {
		item, err := protocol.ReadRosterItem(b)
		if err != nil {
			return nil, fmt.Errorf("roster item %d: %w", i, err)
		}
		items = append(items, item)
	}
	ts, err := b.Uint32BE()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	for _, item := range items {
		m.stage.add(item)
	}
	m.stage.count += count
	m.stage.time = ts
	if more {
		m.mu.Unlock()
		return nil, nil
	}
	stage := m.stage
	m.stage = newStaging()
	first := !m.exportChecked
	m.exportChecked = true
	m.mu.Unlock()

	res, err := m.reconcile(stage)
	if err != nil {
		return nil, err
	}
	m.log.Infof("📋 Received end of contact list: %d new, %d updated", len(res.Created), len(res.Updated))

	if first {
		n, err := m.CheckExport()
		if err != nil {
			m.log.Warnw("Roster export failed", "error", err)
		}
		res.Exported = n
	}
	m.activate()
	m.changed("sync", "", "", "ok")
	return res, nil
}

// reconcile writes a completed fetch into the store. It only reads from the
// server; it sends nothing.
func (m *Manager) reconcile(s *staging) (*Reconciled, error) {
	res := &Reconciled{}

	for gsid, name := range s.groups {
		m.sids.Observe(gsid)
		g, err := m.store.GroupByID(gsid)
		switch {
		case err == nil:
			g.Name, g.Server = name, true
		case errors.Is(err, ErrNotFound):
			if byName, err := m.store.GroupByName(name); err == nil {
				old := byName.GSID
				_ = m.store.DeleteGroup(old)
				g = byName
				g.GSID, g.Server = gsid, true
				if err := m.regroup(old, gsid); err != nil {
					return nil, err
				}
				if _, taken := s.groups[old]; !taken {
					m.sids.Release(old)
				}
			} else {
				groups, _ := m.store.Groups()
				g = &Group{Name: name, GSID: gsid, Order: len(groups), Server: true}
			}
		default:
			return nil, err
		}
		if err := m.store.SaveGroup(g); err != nil {
			return nil, err
		}
		res.Groups++
	}

	for id, st := range s.contacts {
		m.sids.Observe(st.normal, st.visible, st.invisible, st.ignore)
		c, err := m.store.Contact(id)
		isNew := errors.Is(err, ErrNotFound)
		if err != nil && !isNew {
			return nil, err
		}
		if isNew {
			c = &Contact{AccountID: id}
		}
		c.NormalSID, c.VisibleSID, c.InvisibleSID, c.IgnoreSID = st.normal, st.visible, st.invisible, st.ignore
		c.InIgnoreList = st.inIgnore
		c.AwaitingAuth = st.awaitingAuth
		c.Synced = true
		if st.gsid != 0 {
			c.GSID = st.gsid
		}
		if st.alias != nil {
			c.Alias = *st.alias
		}
		if st.cellular != nil {
			c.Cellular = *st.cellular
		}
		c.TLVs = st.tlvs
		if err := m.store.SaveContact(c); err != nil {
			return nil, err
		}
		if isNew {
			res.Created = append(res.Created, id)
		} else {
			res.Updated = append(res.Updated, id)
		}
	}

	st, err := m.store.SyncState()
	if err != nil {
		return nil, err
	}
	st.Time, st.Count, st.Synced = s.time, s.count, true
	st.TopLevel = st.TopLevel || s.topLevel
	if s.pdinfo != 0 {
		m.sids.Observe(s.pdinfo)
		st.PDInfoSID, st.Privacy = s.pdinfo, s.privacy
	}
	if err := m.store.SaveSyncState(st); err != nil {
		return nil, err
	}
	return res, nil
}

// HandleSynced answers ROSTxSYNCED: the server list has not changed since
// our timestamp
func (m *Manager) HandleSynced() (int, error) {
	m.mu.Lock()
	first := !m.exportChecked
	m.exportChecked = true
	m.mu.Unlock()

	m.log.Info("📋 Contact list is synchronized")
	var n int
	var err error
	if first {
		n, err = m.CheckExport()
	}
	m.activate()
	return n, err
}

// activate tells the server to start using the list, then replays
// mutations lost to a dropped connection
func (m *Manager) activate() {
	if err := m.sender.Send(protocol.NewRosterAck()); err != nil {
		m.log.Warnw("Failed to activate server contact list", "error", err)
		return
	}
	m.replay()
}

// CheckExport pushes groups and contacts that exist only locally to the
// server in one import bracket: groups first, then contacts. It returns the
// number of exported items.
func (m *Manager) CheckExport() (int, error) {
	groups, err := m.store.Groups()
	if err != nil {
		return 0, err
	}
	contacts, err := m.store.Contacts()
	if err != nil {
		return 0, err
	}

	var groupItems []protocol.RosterItem
	for _, g := range groups {
		if g.Server {
			continue
		}
		groupItems = append(groupItems, protocol.RosterItem{Name: g.Name, GSID: g.GSID, Type: protocol.RosterGroup})
	}

	var contactItems []protocol.RosterItem
	for _, c := range contacts {
		if c.Synced {
			continue
		}
		gsid, _, err := m.resolveGroup(c, "")
		if err != nil {
			return 0, err
		}
		if c.NormalSID == 0 {
			if c.NormalSID, err = m.nextID(); err != nil {
				return 0, err
			}
		}
		c.GSID = gsid
		if err := m.store.SaveContact(c); err != nil {
			return 0, err
		}
		contactItems = append(contactItems, c.Item(gsid, c.NormalSID))
	}

	if len(groupItems) == 0 && len(contactItems) == 0 {
		return 0, nil
	}
	m.log.Infof("📤 Exporting %d groups and %d contacts to the server list", len(groupItems), len(contactItems))
	err = m.bracket(true, func() error {
		if len(groupItems) > 0 {
			if err := m.track(protocol.NewExportItems(groupItems),
				event.RosterOp{Action: event.RosterExport, Items: groupItems}); err != nil {
				return err
			}
		}
		if len(contactItems) > 0 {
			return m.track(protocol.NewExportItems(contactItems),
				event.RosterOp{Action: event.RosterExport, Items: contactItems})
		}
		return nil
	})
	return len(groupItems) + len(contactItems), err
}

// regroup moves every contact filed under the local group id from to the
// server's id for the same group
func (m *Manager) regroup(from, to uint16) error {
	contacts, err := m.store.Contacts()
	if err != nil {
		return err
	}
	for _, c := range contacts {
		if c.GSID != from {
			continue
		}
		c.GSID = to
		if err := m.store.SaveContact(c); err != nil {
			return err
		}
	}
	return nil
}

// HandleUpdateAck resolves the roster op holding key with the server's
// result code and runs the follow-up the mutation needs
func (m *Manager) HandleUpdateAck(key, code uint16) {
	op, ok := m.tracker.PeekRoster(key)
	if !ok {
		m.log.Warnw("Server list update ack without request", "key", key, "code", code)
		return
	}

	switch code {
	case protocol.RosterAckOK:
		m.resolve(op, event.Acked, code)
		m.touch()
		m.afterAck(op)

	case protocol.RosterAckAwaitingAuth:
		if (op.Action == event.RosterAdd || op.Action == event.RosterUpdate) && !op.Corrective && isContact(op) {
			m.log.Infof("%s added to awaiting authorization group on server list", op.Contact)
			if err := m.corrective(op); err != nil {
				m.log.Warnw("Corrective update failed", "contact", op.Contact, "error", err)
				m.resolve(op, event.Failed, err)
			}
			return
		}
		m.resolve(op, event.Acked, code)
		m.touch()
		m.afterAck(op)

	case protocol.RosterAckNotFound:
		m.log.Warnf("User/Group %q not found on server list", op.Contact)
		m.resolve(op, event.Failed, code)
		if op.Action == event.RosterRemove || op.Action == event.RosterClear {
			m.released(op)
		}

	default:
		m.log.Warnf("Unknown error modifying server list: 0x%02x (id %q)", code, op.Contact)
		m.resolve(op, event.Error, code)
	}
	m.changed(op.Action.String(), op.Contact, "", ackName(code))
}

// resolve completes op, and for a corrective resend also the op it corrects
func (m *Manager) resolve(op *event.RosterOp, r event.Result, sub any) {
	m.tracker.ResolveRoster(op.Key, r, sub)
	if op.Corrective {
		m.tracker.ResolveRoster(op.Parent, r, sub)
	}
}

// corrective resends a contact add or update with the authorization flag.
// The original op stays pending until this one is acked.
func (m *Manager) corrective(op *event.RosterOp) error {
	c, err := m.store.Contact(op.Contact)
	if err != nil {
		return err
	}
	c.AwaitingAuth = true
	if err := m.store.SaveContact(c); err != nil {
		return err
	}
	prev := op.Items[0]
	item := c.Item(prev.GSID, prev.SID)
	req := protocol.NewAddToServerList(item, true)
	if op.Action == event.RosterUpdate {
		req = protocol.NewUpdateToServerList(item, true)
	}
	return m.bracket(false, func() error {
		return m.track(req, event.RosterOp{
			Action:     op.Action,
			Contact:    op.Contact,
			Items:      []protocol.RosterItem{item},
			Parent:     op.Key,
			Corrective: true,
		})
	})
}

// released forgets the server ids of a removal or clear the server no
// longer holds. Cleared contacts stay local with the list id stripped.
func (m *Manager) released(op *event.RosterOp) {
	for _, it := range op.Items {
		if it.Type == protocol.RosterGroup {
			m.sids.Release(it.GSID)
			continue
		}
		m.sids.Release(it.SID)
		if op.Action != event.RosterClear {
			continue
		}
		c, err := m.store.Contact(it.Name)
		if err != nil {
			continue
		}
		c.setListSID(it.Type, 0)
		c.Synced = c.OnServer()
		_ = m.store.SaveContact(c)
	}
}

func (m *Manager) afterAck(op *event.RosterOp) {
	if len(op.Items) == 0 {
		return
	}
	item := op.Items[0]
	var err error
	switch op.Action {
	case event.RosterClear:
		m.released(op)
	case event.RosterAdd, event.RosterRemove:
		if op.Action == event.RosterRemove {
			m.released(op)
		}
		switch {
		case item.Type == protocol.RosterGroup && item.GSID == 0:
			err = m.markTopLevel()
		case item.Type == protocol.RosterGroup:
			if op.Action == event.RosterAdd {
				m.markGroupOnServer(item.GSID)
			}
			err = m.updateTopLevel()
		case item.Type == protocol.RosterNormal:
			if op.Action == event.RosterAdd {
				m.markContactSynced(item.Name)
			}
			if item.GSID != 0 {
				err = m.updateGroup(item.GSID)
			}
		}
	case event.RosterExport:
		for _, it := range op.Items {
			if it.Type == protocol.RosterGroup {
				m.markGroupOnServer(it.GSID)
			} else {
				m.markContactSynced(it.Name)
			}
		}
		if op.Items[0].Type == protocol.RosterGroup {
			err = m.updateTopLevel()
		}
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		m.log.Warnw("Roster follow-up failed", "action", op.Action.String(), "error", err)
	}
}

func (m *Manager) markTopLevel() error {
	st, err := m.store.SyncState()
	if err != nil {
		return err
	}
	st.TopLevel = true
	return m.store.SaveSyncState(st)
}

func (m *Manager) markGroupOnServer(gsid uint16) {
	if g, err := m.store.GroupByID(gsid); err == nil && !g.Server {
		g.Server = true
		_ = m.store.SaveGroup(g)
	}
}

func (m *Manager) markContactSynced(accountID string) {
	if c, err := m.store.Contact(accountID); err == nil && !c.Synced {
		c.Synced = true
		_ = m.store.SaveContact(c)
	}
}

func (m *Manager) touch() {
	if st, err := m.store.SyncState(); err == nil {
		st.Time = uint32(time.Now().Unix())
		st.LastChange = time.Now()
		_ = m.store.SaveSyncState(st)
	}
}

// HandleServerUpdate applies an item the server pushed (ROSTxUPD_GROUP or
// a server-side add)
func (m *Manager) HandleServerUpdate(item protocol.RosterItem) error {
	switch item.Type {
	case protocol.RosterGroup:
		if item.GSID == 0 {
			return m.markTopLevel()
		}
		m.sids.Observe(item.GSID)
		g, err := m.store.GroupByID(item.GSID)
		if errors.Is(err, ErrNotFound) {
			groups, _ := m.store.Groups()
			g = &Group{GSID: item.GSID, Order: len(groups)}
		} else if err != nil {
			return err
		}
		g.Name, g.Server = item.Name, true
		return m.store.SaveGroup(g)

	case protocol.RosterNormal, protocol.RosterVisible, protocol.RosterInvisible, protocol.RosterIgnore:
		m.sids.Observe(item.SID)
		c, err := m.store.Contact(item.Name)
		if errors.Is(err, ErrNotFound) {
			c = &Contact{AccountID: item.Name}
		} else if err != nil {
			return err
		}
		switch item.Type {
		case protocol.RosterVisible:
			c.VisibleSID = item.SID
		case protocol.RosterInvisible:
			c.InvisibleSID = item.SID
		case protocol.RosterIgnore:
			c.IgnoreSID, c.InIgnoreList = item.SID, true
		default:
			c.NormalSID = item.SID
			c.GSID = item.GSID
		}
		if c.TLVs == nil {
			c.TLVs = protocol.NewTLVBlock()
		}
		c.TLVs.Merge(item.TLVs)
		if v, ok := item.TLVs.String(protocol.RosterTLVAlias); ok {
			c.Alias = v
		}
		c.AwaitingAuth = c.TLVs.Has(protocol.RosterTLVAwaitingAuth)
		c.Synced = true
		if err := m.store.SaveContact(c); err != nil {
			return err
		}
		m.changed("server_update", c.AccountID, "", "")
	}
	return nil
}

// HandleServerRemove drops a list membership the server removed
func (m *Manager) HandleServerRemove(item protocol.RosterItem) error {
	if item.Type == protocol.RosterGroup {
		if item.GSID == 0 {
			return nil
		}
		m.sids.Release(item.GSID)
		err := m.store.DeleteGroup(item.GSID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	c, err := m.store.Contact(item.Name)
	if err != nil {
		return err
	}
	m.sids.Release(item.SID)
	switch item.Type {
	case protocol.RosterVisible:
		c.VisibleSID = 0
	case protocol.RosterInvisible:
		c.InvisibleSID = 0
	case protocol.RosterIgnore:
		c.IgnoreSID, c.InIgnoreList = 0, false
	default:
		c.NormalSID = 0
	}
	c.Synced = c.OnServer()
	return m.store.SaveContact(c)
}

// Abandon records roster ops cut off by a lost connection. The server may
// or may not have applied their bracket, so each is replayed in full after
// the next sync.
func (m *Manager) Abandon(ops []*event.RosterOp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		if op.Corrective {
			continue
		}
		m.retry = append(m.retry, event.RosterOp{
			Action:  op.Action,
			Contact: op.Contact,
			Items:   op.Items,
		})
	}
	// a fresh connection starts a fresh fetch
	m.stage = newStaging()
}

// Retrying returns the number of ops waiting for replay
func (m *Manager) Retrying() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.retry)
}

func (m *Manager) replay() {
	m.mu.Lock()
	ops := m.retry
	m.retry = nil
	m.mu.Unlock()

	for _, op := range ops {
		if err := m.replayOne(op); err != nil {
			m.log.Warnw("Failed to replay roster operation", "action", op.Action.String(), "contact", op.Contact, "error", err)
		}
	}
}

func (m *Manager) replayOne(op event.RosterOp) error {
	if len(op.Items) == 0 {
		return nil
	}
	item := op.Items[0]
	m.log.Infof("🔁 Replaying %s", op.String())
	switch op.Action {
	case event.RosterAdd:
		switch {
		case item.Type == protocol.RosterGroup && item.GSID == 0:
			return m.updateTopLevel()
		case item.Type == protocol.RosterGroup:
			g, err := m.store.GroupByID(item.GSID)
			if err != nil || g.Server {
				return nil
			}
			gi := m.groupItem(g)
			return m.bracket(false, func() error {
				return m.track(protocol.NewAddToServerList(gi, false),
					event.RosterOp{Action: event.RosterAdd, Contact: g.Name, Items: []protocol.RosterItem{gi}})
			})
		default:
			return m.AddContact(op.Contact, "", "")
		}
	case event.RosterRemove:
		return m.bracket(false, func() error {
			return m.track(protocol.NewRemoveFromServerList(item),
				event.RosterOp{Action: event.RosterRemove, Contact: op.Contact, Items: op.Items})
		})
	case event.RosterClear:
		var items []protocol.RosterItem
		for _, it := range op.Items {
			if c, err := m.store.Contact(it.Name); err == nil && c.listSID(it.Type) == it.SID {
				items = append(items, it)
			}
		}
		if len(items) == 0 {
			return nil
		}
		return m.clearBatch(items)
	case event.RosterUpdate, event.RosterRenameGroup:
		if item.Type == protocol.RosterGroup {
			if item.GSID == 0 {
				return m.updateTopLevel()
			}
			return m.updateGroup(item.GSID)
		}
		return m.UpdateContact(op.Contact, "")
	case event.RosterPrivacy:
		st, err := m.store.SyncState()
		if err != nil {
			return err
		}
		return m.SetPrivacy(st.Privacy)
	case event.RosterExport:
		_, err := m.CheckExport()
		return err
	}
	return nil
}

func isContact(op *event.RosterOp) bool {
	return len(op.Items) > 0 && op.Items[0].Type == protocol.RosterNormal
}

func ackName(code uint16) string {
	switch code {
	case protocol.RosterAckOK:
		return "ok"
	case protocol.RosterAckNotFound:
		return "not_found"
	case protocol.RosterAckExists:
		return "exists"
	case protocol.RosterAckLimit:
		return "limit"
	case protocol.RosterAckAwaitingAuth:
		return "awaiting_auth"
	}
	return fmt.Sprintf("0x%02x", code)
}
