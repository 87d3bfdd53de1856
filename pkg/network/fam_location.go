package network

import (
	"github.com/ZentaChain/zentalk-icq/pkg/event"
	"github.com/ZentaChain/zentalk-icq/pkg/notify"
	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
)

const (
	locationTLVProfile uint16 = 0x0002
	locationTLVAway    uint16 = 0x0004
)

func (c *Client) locationHandlers() Table {
	return Table{
		protocol.LocationRightsGranted: c.rightsReply(protocol.FamilyLocation),
		protocol.LocationReplyUserInfo: c.handleUserInfoReply,
	}
}

// handleUserInfoReply answers an away message or profile request
func (c *Client) handleUserInfoReply(_ *Conn, p *protocol.Packet) error {
	b := p.Body()
	id, _, err := readUserInfo(b)
	if err != nil {
		return err
	}
	rest, err := protocol.ParseTLVs(b.Rest())
	if err != nil {
		return err
	}

	var info notify.Info
	if v, ok := rest.Get(locationTLVAway); ok {
		info.AwayMessage = cleanText(string(v))
	}
	if v, ok := rest.Get(locationTLVProfile); ok {
		info.Profile = cleanText(string(v))
	}

	c.engine.Resolve(p.Key(), event.Success, info)
	c.pub.Publish(notify.New(notify.InfoReceived, id, info))
	return nil
}
