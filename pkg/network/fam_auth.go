package network

import (
	"strconv"

	"github.com/ZentaChain/zentalk-icq/pkg/notify"
	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
	"github.com/ZentaChain/zentalk-icq/pkg/session"
)

const (
	imageTLVMIME uint16 = 0x0001
	imageTLVData uint16 = 0x0002
)

func (c *Client) authHandlers() Table {
	return Table{
		protocol.AuthError:      c.handleAuthError,
		protocol.AuthNewUIN:     c.handleNewUIN,
		protocol.AuthSaltReply:  c.handleSaltReply,
		protocol.AuthLogonReply: c.handleLogonReply,
		protocol.AuthSendImage:  c.handleVerificationImage,
	}
}

// handleAuthError during registration means the server wants the
// verification step; registration starts over on a fresh connection
func (c *Client) handleAuthError(_ *Conn, p *protocol.Packet) error {
	if c.session.Registering() {
		c.log.Warn("🖼️  Verification required, reconnecting")
		c.session.SetNeedsVerification(true)
		c.restart(true)
		return nil
	}

	code, _ := p.Body().Uint16BE()
	cause := &session.CloseError{Code: code, Disposition: session.Classify(code)}
	c.log.Errorf("❌ Logon error: %v", cause)
	c.teardown(cause, teardownLost)
	return nil
}

// handleNewUIN carries the account id registration assigned. The client
// then logs on with it.
func (c *Client) handleNewUIN(_ *Conn, p *protocol.Packet) error {
	b := p.Body()
	if err := b.Skip(2 + 4 + 40); err != nil { // flags, id, reserved
		return err
	}
	uin, err := b.Uint32LE()
	if err != nil {
		return err
	}
	id := strconv.FormatUint(uint64(uin), 10)

	c.mu.Lock()
	c.account = id
	c.mu.Unlock()
	c.session.SetNeedsVerification(false)

	c.log.Infof("🆕 Registered new account %s", id)
	c.pub.Publish(notify.New(notify.NewOwner, id, nil))
	c.restart(false)
	return nil
}

func (c *Client) handleSaltReply(conn *Conn, p *protocol.Packet) error {
	salt, err := p.Body().String16BE()
	if err != nil {
		return err
	}
	c.mu.Lock()
	account, password := c.account, c.password
	c.mu.Unlock()

	c.log.Debug("Sending salted password hash")
	c.sendOn(conn, protocol.NewNewLogon(account, password, salt))
	c.transition(session.AwaitingLogonReply)
	return nil
}

// handleLogonReply is the SNAC form of the logon reply; it carries the same
// TLVs as the close-channel form
func (c *Client) handleLogonReply(conn *Conn, p *protocol.Packet) error {
	tlvs, err := protocol.ParseTLVs(p.Payload)
	if err != nil {
		return err
	}
	c.logonResult(conn, tlvs)
	return nil
}

func (c *Client) handleVerificationImage(_ *Conn, p *protocol.Packet) error {
	b := p.Body()
	if err := b.Skip(2 + 4); err != nil { // flags, id
		return err
	}
	tlvs, err := protocol.ParseTLVs(b.Rest())
	if err != nil {
		return err
	}
	image, ok := tlvs.Get(imageTLVData)
	if !ok {
		return ErrMissingTLV
	}
	mime, _ := tlvs.String(imageTLVMIME)
	if mime == "" {
		mime = "image/jpeg"
	}

	c.log.Infof("🖼️  Verification image received (%d bytes)", len(image))
	c.pub.Publish(notify.New(notify.VerificationImage, "", notify.Verification{MIME: mime, Image: image}))
	return nil
}
