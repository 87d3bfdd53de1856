package network

import "github.com/ZentaChain/zentalk-icq/pkg/protocol"

func (c *Client) bosHandlers() Table {
	return Table{
		protocol.BOSRightsGranted: c.rightsReply(protocol.FamilyBOS),
	}
}
