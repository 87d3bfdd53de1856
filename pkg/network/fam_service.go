package network

import (
	"fmt"
	"time"

	"github.com/ZentaChain/zentalk-icq/pkg/event"
	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
	"github.com/ZentaChain/zentalk-icq/pkg/session"
)

// ClientVersion is advertised in the capability block
var ClientVersion = protocol.ClientVersionCap(0, 9, 0, 0)

// Self-info TLVs
const (
	selfTLVStatus      uint16 = 0x0006
	selfTLVIP          uint16 = 0x000a
	selfTLVOnlineSince uint16 = 0x0003
)

// Redirect TLVs
const (
	redirectTLVFamily uint16 = 0x000d
	redirectTLVServer uint16 = 0x0005
	redirectTLVCookie uint16 = 0x0006
)

func (c *Client) serviceHandlers() Table {
	return Table{
		protocol.ServiceError:        c.handleServiceError,
		protocol.ServiceServerReady:  c.handleServerReady,
		protocol.ServiceRedirect:     c.handleServiceRedirect,
		protocol.ServiceRateInfo:     c.handleRateInfo,
		protocol.ServiceRateWarning:  c.handleRateWarning,
		protocol.ServicePause:        c.handlePause,
		protocol.ServiceResume:       c.handleResume,
		protocol.ServiceNameInfo:     c.handleNameInfo,
		protocol.ServiceMOTD:         c.handleMOTD,
		protocol.ServiceAckImICQ:     c.handleAckImICQ,
		protocol.ServiceExtendedInfo: c.handleExtendedInfo,
	}
}

func (c *Client) handleServiceError(_ *Conn, p *protocol.Packet) error {
	code, err := p.Body().Uint16BE()
	if err != nil {
		return err
	}
	c.log.Warnf("Service error 0x%04x for request %d", code, p.Key())
	c.engine.Resolve(p.Key(), event.Error, code)
	return nil
}

func (c *Client) handleServerReady(conn *Conn, _ *protocol.Packet) error {
	c.sendOn(conn, protocol.NewImICQ())
	c.sendOn(conn, protocol.NewRequestRateInfo())
	return nil
}

func (c *Client) handleRateInfo(conn *Conn, _ *protocol.Packet) error {
	c.sendOn(conn, protocol.NewRateAck())
	c.sendOn(conn, protocol.NewICQMode(0x0001, 0x0000000b))
	c.sendOn(conn, protocol.NewICQMode(0x0002, 0x00000003))
	c.sendOn(conn, protocol.NewICQMode(0x0004, 0x00000003))
	c.sendOn(conn, protocol.NewCapabilitySettings(ClientVersion))
	c.rightsGranted(conn, protocol.FamilyService)
	return nil
}

// handleAckImICQ requests the owner info, the roster and the rights of
// every family the session waits on
func (c *Client) handleAckImICQ(conn *Conn, _ *protocol.Packet) error {
	c.sendOn(conn, protocol.NewRequestSelfInfo())

	if _, err := c.engine.SendExpect(conn, protocol.NewListRequestRights(), event.Options{
		ReplyFamily:  protocol.FamilyList,
		ReplySubtype: protocol.ListRightsGranted,
	}); err != nil {
		return err
	}

	st, err := c.roster.Store().SyncState()
	if err != nil {
		c.log.Warnw("Failed to read roster sync state", "error", err)
	}
	c.sendOn(conn, protocol.NewRequestList(st.Time, st.Count))

	for _, fam := range []struct{ family, reply uint16 }{
		{protocol.FamilyLocation, protocol.LocationRightsGranted},
		{protocol.FamilyBuddy, protocol.BuddyRightsGranted},
		{protocol.FamilyMessage, protocol.MessageRightsGranted},
		{protocol.FamilyBOS, protocol.BOSRightsGranted},
	} {
		if _, err := c.engine.SendExpect(conn, protocol.NewRequestRights(fam.family), event.Options{
			ReplyFamily:  fam.family,
			ReplySubtype: fam.reply,
		}); err != nil {
			return err
		}
	}
	return nil
}

// rightsReply resolves the rights request of family and records the grant
func (c *Client) rightsReply(family uint16) Handler {
	return func(conn *Conn, p *protocol.Packet) error {
		c.engine.ResolveBySubtype(family, p.Subtype, event.Success, nil)
		c.rightsGranted(conn, family)
		return nil
	}
}

func (c *Client) handleNameInfo(_ *Conn, p *protocol.Packet) error {
	id, tlvs, err := readUserInfo(p.Body())
	if err != nil {
		return err
	}
	c.mu.Lock()
	if status, ok := tlvs.Uint32(selfTLVStatus); ok {
		c.self.Status = status
	}
	if ip, ok := tlvs.Uint32(selfTLVIP); ok {
		c.self.IP = ipString(ip)
	}
	if since, ok := tlvs.Uint32(selfTLVOnlineSince); ok {
		c.self.OnlineSince = time.Unix(int64(since), 0)
	}
	self := c.self
	c.mu.Unlock()

	c.log.Infow("👤 Owner info", "account", id, "status", fmt.Sprintf("0x%08x", self.Status), "ip", self.IP)
	return nil
}

func (c *Client) handleServiceRedirect(_ *Conn, p *protocol.Packet) error {
	tlvs, err := protocol.ParseTLVs(p.Payload)
	if err != nil {
		return err
	}
	family, _ := tlvs.Uint16(redirectTLVFamily)
	server, _ := tlvs.String(redirectTLVServer)
	cookie, _ := tlvs.Get(redirectTLVCookie)

	block := protocol.NewTLVBlock()
	block.Set(protocol.CloseTLVServer, []byte(server))
	block.Set(protocol.CloseTLVCookie, cookie)
	r, err := session.ParseClose(block)
	if err != nil {
		c.engine.ResolveBySubtype(protocol.FamilyService, protocol.ServiceRedirect, event.Failed, err)
		return err
	}
	c.log.Infof("↪️  Service for family 0x%04x is at %s", family, r.Address())
	c.engine.ResolveBySubtype(protocol.FamilyService, protocol.ServiceRedirect, event.Success, r)
	return nil
}

func (c *Client) handleRateWarning(_ *Conn, p *protocol.Packet) error {
	code, _ := p.Body().Uint16BE()
	c.log.Warnf("⚠️  Rate limit warning (code %d), slow down", code)
	return nil
}

// handlePause is the server migrating the session; log on again
func (c *Client) handlePause(_ *Conn, _ *protocol.Packet) error {
	c.log.Warn("⏸️  Server paused the session, logging on again")
	c.teardown(ErrServerPause, teardownLost)
	return nil
}

func (c *Client) handleResume(_ *Conn, _ *protocol.Packet) error {
	c.log.Info("▶️  Server resumed the session")
	return nil
}

func (c *Client) handleMOTD(_ *Conn, p *protocol.Packet) error {
	b := p.Body()
	kind, err := b.Uint16BE()
	if err != nil {
		return err
	}
	c.log.Debugw("Message of the day", "type", kind)
	return nil
}

func (c *Client) handleExtendedInfo(_ *Conn, p *protocol.Packet) error {
	c.log.Debugw("Extended owner info", "bytes", len(p.Payload))
	return nil
}
