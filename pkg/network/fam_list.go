package network

import (
	"time"

	"github.com/ZentaChain/zentalk-icq/pkg/event"
	"github.com/ZentaChain/zentalk-icq/pkg/notify"
	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
)

func (c *Client) listHandlers() Table {
	return Table{
		protocol.ListError:          c.handleListError,
		protocol.ListRightsGranted:  c.rightsReply(protocol.FamilyList),
		protocol.ListRosterReply:    c.handleRosterReply,
		protocol.ListRosterAdd:      c.handleRosterPush(false),
		protocol.ListRosterUpdate:   c.handleRosterPush(false),
		protocol.ListRosterRemove:   c.handleRosterPush(true),
		protocol.ListUpdateAck:      c.handleUpdateAck,
		protocol.ListRosterSynced:   c.handleRosterSynced,
		protocol.ListEditStart:      c.handleEditBracket,
		protocol.ListEditEnd:        c.handleEditBracket,
		protocol.ListAuthRequestSrv: c.handleAuthRequest,
		protocol.ListAuthResponse:   c.handleAuthResponse,
		protocol.ListAuthAdded:      c.handleAuthAdded,
	}
}

func (c *Client) handleListError(_ *Conn, p *protocol.Packet) error {
	code, err := p.Body().Uint16BE()
	if err != nil {
		return err
	}
	c.log.Warnf("Server list error 0x%04x for request %d", code, p.Key())
	if _, ok := c.engine.PeekRoster(p.Key()); ok {
		c.engine.ResolveRoster(p.Key(), event.Error, code)
	}
	return nil
}

func (c *Client) handleRosterReply(_ *Conn, p *protocol.Packet) error {
	res, err := c.roster.HandleRosterReply(p.Body(), p.HasFlag(protocol.SnacFlagMore))
	if err != nil {
		return err
	}
	if res != nil {
		c.log.Debugw("Roster reconciled", "created", len(res.Created), "updated", len(res.Updated),
			"groups", res.Groups, "exported", res.Exported)
	}
	return nil
}

func (c *Client) handleRosterSynced(_ *Conn, _ *protocol.Packet) error {
	n, err := c.roster.HandleSynced()
	if n > 0 {
		c.log.Infof("📤 Exported %d local roster items", n)
	}
	return err
}

// handleUpdateAck carries one result code per item of the request; the
// first failure decides the outcome
func (c *Client) handleUpdateAck(_ *Conn, p *protocol.Packet) error {
	b := p.Body()
	result := protocol.RosterAckOK
	for !b.Empty() {
		code, err := b.Uint16BE()
		if err != nil {
			return err
		}
		if code != protocol.RosterAckOK && result == protocol.RosterAckOK {
			result = code
		}
	}
	c.roster.HandleUpdateAck(p.Key(), result)
	return nil
}

// handleRosterPush applies changes another client of the owner made
func (c *Client) handleRosterPush(remove bool) Handler {
	return func(_ *Conn, p *protocol.Packet) error {
		b := p.Body()
		for !b.Empty() {
			item, err := protocol.ReadRosterItem(b)
			if err != nil {
				return err
			}
			if remove {
				err = c.roster.HandleServerRemove(item)
			} else {
				err = c.roster.HandleServerUpdate(item)
			}
			if err != nil {
				c.log.Warnw("Failed to apply server list change", "item", item.Name, "error", err)
			}
		}
		return nil
	}
}

func (c *Client) handleEditBracket(_ *Conn, p *protocol.Packet) error {
	c.log.Debugw("Server list edit bracket", "subtype", p.Subtype)
	return nil
}

func (c *Client) handleAuthRequest(_ *Conn, p *protocol.Packet) error {
	b := p.Body()
	from, err := b.String8()
	if err != nil {
		return err
	}
	reason, err := b.String16BE()
	if err != nil {
		return err
	}
	if ct, err := c.roster.Store().Contact(from); err == nil && ct.InIgnoreList {
		return nil
	}
	c.log.Infof("🔑 %s asks for authorization", from)
	c.pub.Publish(notify.New(notify.MessageReceived, from, notify.Message{
		Type:    TypeAuthRequest,
		Text:    reason,
		RawType: protocol.SubAuthRequest,
		Sent:    time.Now(),
	}))
	return nil
}

func (c *Client) handleAuthResponse(_ *Conn, p *protocol.Packet) error {
	b := p.Body()
	from, err := b.String8()
	if err != nil {
		return err
	}
	granted, err := b.Uint8()
	if err != nil {
		return err
	}
	reason, _ := b.String16BE()

	msg := notify.Message{Text: reason, Sent: time.Now()}
	if granted == 1 {
		msg.Type, msg.RawType = TypeAuthGranted, protocol.SubAuthGranted
		if err := c.roster.AuthGranted(from); err != nil {
			c.log.Debugw("Authorization from a contact not in the roster", "contact", from, "error", err)
		}
	} else {
		msg.Type, msg.RawType = TypeAuthRefused, protocol.SubAuthRefused
	}
	c.pub.Publish(notify.New(notify.MessageReceived, from, msg))
	return nil
}

func (c *Client) handleAuthAdded(_ *Conn, p *protocol.Packet) error {
	from, err := p.Body().String8()
	if err != nil {
		return err
	}
	c.pub.Publish(notify.New(notify.MessageReceived, from, notify.Message{
		Type:    TypeAdded,
		RawType: protocol.SubAddedToList,
		Sent:    time.Now(),
	}))
	return nil
}
