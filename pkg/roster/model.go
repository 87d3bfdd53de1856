package roster

import (
	"sort"
	"strings"
	"time"

	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
)

// Presence is the last known online state of a contact
type Presence struct {
	Online        bool
	Status        uint32
	OnlineSince   time.Time
	IdleSince     time.Time // zero when not idle
	IP            uint32
	RealIP        uint32
	Port          uint32
	Mode          uint8
	TCPVersion    uint16
	Capabilities  protocol.Capabilities
	PhoneFollowMe uint8
	Updated       time.Time
}

// Idle reports whether an idle time is recorded
func (p Presence) Idle() bool { return !p.IdleSince.IsZero() }

// Contact is a roster entry. The server ids are zero until the server holds
// the contact in the matching list.
type Contact struct {
	AccountID string
	Alias     string
	Cellular  string
	GSID      uint16

	NormalSID    uint16
	VisibleSID   uint16
	InvisibleSID uint16
	IgnoreSID    uint16
	InIgnoreList bool
	AwaitingAuth bool
	Synced       bool // the server confirmed the contact

	// Attribute-block entries the server attached to the item; echoed back
	// on every update so they are not lost
	TLVs *protocol.TLVBlock

	Presence Presence
}

// OnServer reports whether any server list holds the contact
func (c *Contact) OnServer() bool {
	return c.NormalSID != 0 || c.VisibleSID != 0 || c.InvisibleSID != 0 || c.IgnoreSID != 0
}

// Clone returns a deep copy
func (c *Contact) Clone() *Contact {
	out := *c
	out.TLVs = c.TLVs.Clone()
	return &out
}

// StripServerIDs clears all four list memberships
func (c *Contact) StripServerIDs() {
	c.NormalSID, c.VisibleSID, c.InvisibleSID, c.IgnoreSID = 0, 0, 0, 0
}

func (c *Contact) listSID(typ uint16) uint16 {
	switch typ {
	case protocol.RosterNormal:
		return c.NormalSID
	case protocol.RosterVisible:
		return c.VisibleSID
	case protocol.RosterInvisible:
		return c.InvisibleSID
	case protocol.RosterIgnore:
		return c.IgnoreSID
	}
	return 0
}

func (c *Contact) setListSID(typ, sid uint16) {
	switch typ {
	case protocol.RosterNormal:
		c.NormalSID = sid
	case protocol.RosterVisible:
		c.VisibleSID = sid
	case protocol.RosterInvisible:
		c.InvisibleSID = sid
	case protocol.RosterIgnore:
		c.IgnoreSID = sid
	}
}

// Item builds the normal-list entry for the contact under gsid, carrying the
// preserved attribute block plus the alias and cellular number
func (c *Contact) Item(gsid, sid uint16) protocol.RosterItem {
	tlvs := c.TLVs.Clone()
	if c.Alias != "" {
		tlvs.Set(protocol.RosterTLVAlias, []byte(c.Alias))
	}
	if c.Cellular != "" {
		tlvs.Set(protocol.RosterTLVCellular, []byte(c.Cellular))
	}
	if c.AwaitingAuth {
		tlvs.Set(protocol.RosterTLVAwaitingAuth, nil)
	}
	itemType := protocol.RosterNormal
	if c.InIgnoreList {
		itemType = protocol.RosterIgnore
	}
	return protocol.RosterItem{Name: c.AccountID, GSID: gsid, SID: sid, Type: itemType, TLVs: tlvs}
}

// Group is a roster group. GSID 0 is the implicit top-level group and is
// never stored.
type Group struct {
	Name   string
	GSID   uint16
	Order  int
	Server bool // the server holds the group
}

// SyncState is what the client remembers between roster fetches
type SyncState struct {
	Time       uint32 // server list timestamp
	Count      uint16 // item count reported with it
	Synced     bool   // a full fetch completed at least once
	TopLevel   bool   // the top-level group exists on the server
	PDInfoSID  uint16
	Privacy    uint8
	LastChange time.Time
}

// SortGroups orders groups by Order, then name
func SortGroups(groups []*Group) {
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Order != groups[j].Order {
			return groups[i].Order < groups[j].Order
		}
		return strings.ToLower(groups[i].Name) < strings.ToLower(groups[j].Name)
	})
}

// memberTLVs encodes ids as the 0x00C8 member list
func memberTLVs(ids []uint16) *protocol.TLVBlock {
	tlvs := protocol.NewTLVBlock()
	if len(ids) == 0 {
		return tlvs
	}
	b := protocol.NewBuffer(len(ids) * 2)
	for _, id := range ids {
		b.PutUint16BE(id)
	}
	tlvs.Set(protocol.RosterTLVGroupIDs, b.Bytes())
	return tlvs
}
