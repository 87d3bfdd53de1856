package network

import (
	"errors"
	"time"

	"github.com/ZentaChain/zentalk-icq/pkg/event"
	"github.com/ZentaChain/zentalk-icq/pkg/notify"
	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
	"github.com/ZentaChain/zentalk-icq/pkg/roster"
)

func (c *Client) buddyHandlers() Table {
	return Table{
		protocol.BuddyRightsGranted: c.handleBuddyRights,
		protocol.BuddyOnline:        c.handleBuddyOnline,
		protocol.BuddyOffline:       c.handleBuddyOffline,
	}
}

// handleBuddyRights uploads the client-side contact list in chunks before
// recording the grant
func (c *Client) handleBuddyRights(conn *Conn, p *protocol.Packet) error {
	c.engine.ResolveBySubtype(protocol.FamilyBuddy, p.Subtype, event.Success, nil)

	contacts, err := c.roster.Store().Contacts()
	if err != nil {
		c.log.Warnw("Failed to list contacts for the buddy list", "error", err)
	}
	ids := make([]string, 0, len(contacts))
	for _, ct := range contacts {
		ids = append(ids, ct.AccountID)
	}
	for len(ids) > 0 {
		n := min(len(ids), c.opts.MaxUsersPerPacket)
		c.sendOn(conn, protocol.NewBuddyList(ids[:n], false))
		ids = ids[n:]
	}

	c.rightsGranted(conn, protocol.FamilyBuddy)
	return nil
}

func (c *Client) handleBuddyOnline(_ *Conn, p *protocol.Packet) error {
	id, tlvs, err := readUserInfo(p.Body())
	if err != nil {
		return err
	}
	u, err := decodePresence(tlvs)
	if err != nil {
		return err
	}

	now := time.Now()
	prev, ct, err := c.roster.UpdatePresence(id, func(pr *roster.Presence) { u.apply(pr, now) })
	if errors.Is(err, roster.ErrNotFound) {
		c.log.Debugw("Presence for a contact not in the roster", "contact", id)
		return nil
	}
	if err != nil {
		return err
	}

	if !prev.Online {
		c.log.Infof("👋 %s came online", id)
	}
	c.publishPresence(id, prev, ct.Presence)
	return nil
}

func (c *Client) handleBuddyOffline(_ *Conn, p *protocol.Packet) error {
	id, tlvs, err := readUserInfo(p.Body())
	if err != nil {
		return err
	}
	if isFakeOffline(id, tlvs) {
		c.log.Debugw("Ignoring departure of an invisible contact", "contact", id)
		return nil
	}

	prev, ct, err := c.roster.UpdatePresence(id, func(pr *roster.Presence) {
		*pr = roster.Presence{Status: protocol.StatusOffline}
	})
	if errors.Is(err, roster.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if prev.Online {
		c.publishPresence(id, prev, ct.Presence)
	}
	return nil
}

func (c *Client) publishPresence(id string, prev, cur roster.Presence) {
	status := cur.Status
	if !cur.Online {
		status = protocol.StatusOffline
	}
	previous := prev.Status
	if !prev.Online {
		previous = protocol.StatusOffline
	}
	c.pub.Publish(notify.New(notify.PresenceChanged, id, notify.Presence{
		Status:   status,
		Online:   cur.Online,
		Idle:     cur.Idle(),
		IP:       ipString(cur.IP),
		Client:   cur.Capabilities.ClientVersion,
		Previous: previous,
	}))
}
