package network

import (
	"github.com/ZentaChain/zentalk-icq/pkg/event"
	"github.com/ZentaChain/zentalk-icq/pkg/notify"
	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
)

func (c *Client) messageHandlers() Table {
	return Table{
		protocol.MessageError:          c.handleMessageError,
		protocol.MessageRightsGranted:  c.rightsReply(protocol.FamilyMessage),
		protocol.MessageServerMessage:  c.handleServerMessage,
		protocol.MessageServerReplyMsg: c.handleServerReplyMsg,
		protocol.MessageServerAck:      c.handleServerAck,
		protocol.MessageTyping:         c.handleTyping,
	}
}

func (c *Client) handleMessageError(_ *Conn, p *protocol.Packet) error {
	code, err := p.Body().Uint16BE()
	if err != nil {
		return err
	}
	ev, ok := c.engine.Resolve(p.Key(), event.Error, code)
	if ok {
		c.log.Warnf("❌ Message to %s failed with code 0x%04x", ev.Contact, code)
	}
	return nil
}

func (c *Client) handleServerMessage(_ *Conn, p *protocol.Packet) error {
	in, err := parseServerMessage(p.Body())
	if err != nil {
		return err
	}
	if in == nil {
		return nil
	}
	c.log.Infow("📨 Message received", "from", in.From, "type", in.Msg.Type)
	c.pub.Publish(notify.New(notify.MessageReceived, in.From, in.Msg))
	return nil
}

// handleServerAck completes a message send
func (c *Client) handleServerAck(_ *Conn, p *protocol.Packet) error {
	c.engine.Resolve(p.Key(), event.Acked, nil)
	return nil
}

// handleServerReplyMsg is a peer's auto-reply to an advanced message
func (c *Client) handleServerReplyMsg(_ *Conn, p *protocol.Packet) error {
	b := p.Body()
	if err := b.Skip(8 + 2); err != nil { // cookie, format
		return err
	}
	from, err := b.String8()
	if err != nil {
		return err
	}
	c.log.Debugw("Message reply", "from", from, "key", p.Key())
	return nil
}

func (c *Client) handleTyping(_ *Conn, p *protocol.Packet) error {
	b := p.Body()
	if err := b.Skip(8 + 2); err != nil { // cookie, channel
		return err
	}
	from, err := b.String8()
	if err != nil {
		return err
	}
	kind, err := b.Uint16BE()
	if err != nil {
		return err
	}
	c.pub.Publish(notify.New(notify.Typing, from, notify.TypingState{Active: kind == protocol.TypingActive}))
	return nil
}
