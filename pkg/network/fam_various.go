package network

import (
	"encoding/binary"
	"strconv"
	"time"

	"github.com/ZentaChain/zentalk-icq/pkg/event"
	"github.com/ZentaChain/zentalk-icq/pkg/notify"
	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
)

const metaTLV uint16 = 0x0001

func (c *Client) variousHandlers() Table {
	return Table{
		protocol.VariousError:     c.handleVariousError,
		protocol.VariousMetaReply: c.handleMetaReply,
	}
}

// metaHeader is the envelope of every meta reply
type metaHeader struct {
	owner   uint32
	command uint16
	key     uint16
}

// readMeta unwraps TLV 1: LE length, owner uin, LE command and the
// correlation key of the request
func readMeta(p *protocol.Packet) (metaHeader, *protocol.Buffer, error) {
	var h metaHeader
	tlvs, err := protocol.ParseTLVs(p.Payload)
	if err != nil {
		return h, nil, err
	}
	raw, ok := tlvs.Get(metaTLV)
	if !ok {
		return h, nil, ErrMissingTLV
	}
	b := protocol.NewReader(raw)
	if _, err := b.Uint16LE(); err != nil {
		return h, nil, err
	}
	if h.owner, err = b.Uint32LE(); err != nil {
		return h, nil, err
	}
	if h.command, err = b.Uint16LE(); err != nil {
		return h, nil, err
	}
	if h.key, err = b.Uint16BE(); err != nil {
		return h, nil, err
	}
	return h, b, nil
}

func (c *Client) handleVariousError(_ *Conn, p *protocol.Packet) error {
	code, err := p.Body().Uint16BE()
	if err != nil {
		return err
	}
	c.log.Warnf("Meta request %d failed with code 0x%04x", p.Key(), code)
	c.finishMeta(p.Key(), event.Failed, p)
	return nil
}

func (c *Client) handleMetaReply(conn *Conn, p *protocol.Packet) error {
	h, b, err := readMeta(p)
	if err != nil {
		return err
	}

	switch h.command {
	case protocol.MetaOfflineMessage:
		return c.handleOfflineMessage(b)
	case protocol.MetaOfflineDone:
		c.log.Debug("📭 Offline messages delivered")
		c.sendOn(conn, protocol.NewSysMsgDoneAck(h.key))
		return nil
	case protocol.MetaReply, protocol.MetaReplyAlt:
		return c.handleMetaResult(h, b, p)
	default:
		c.log.Debugw("Unhandled meta reply", "command", h.command, "key", h.key)
		return nil
	}
}

// handleOfflineMessage reads a stored message: sender, send time, type and
// text
func (c *Client) handleOfflineMessage(b *protocol.Buffer) error {
	uin, err := b.Uint32LE()
	if err != nil {
		return err
	}
	year, err := b.Uint16LE()
	if err != nil {
		return err
	}
	stamp, err := b.Next(4) // month, day, hour, minute
	if err != nil {
		return err
	}
	msgType, err := b.Uint16LE()
	if err != nil {
		return err
	}
	text, err := b.StringLE()
	if err != nil {
		return err
	}

	msg := typedMessage(msgType, cleanText(text))
	msg.Offline = true
	msg.Sent = time.Date(int(year), time.Month(stamp[0]), int(stamp[1]), int(stamp[2]), int(stamp[3]), 0, 0, time.UTC)

	from := strconv.FormatUint(uint64(uin), 10)
	c.log.Infow("📨 Offline message", "from", from, "type", msg.Type, "sent", msg.Sent)
	c.pub.Publish(notify.New(notify.MessageReceived, from, *msg))
	return nil
}

// handleMetaResult completes the request behind key with one reply part
func (c *Client) handleMetaResult(h metaHeader, b *protocol.Buffer, p *protocol.Packet) error {
	subtype, err := b.Uint16LE()
	if err != nil {
		return err
	}
	result, err := b.Uint8()
	if err != nil {
		return err
	}

	switch subtype {
	case protocol.MetaReplySearchFound, protocol.MetaReplySearchLast,
		protocol.MetaReplyWhiteFound, protocol.MetaReplyWhiteLast:
		return c.handleSearchReply(h, subtype, result, b, p)
	}

	if result != protocol.MetaResultSuccess {
		c.log.Debugw("Meta request failed", "key", h.key, "subtype", subtype, "result", result)
		c.finishMeta(h.key, event.Failed, p)
		return nil
	}

	switch subtype {
	case protocol.MetaReplyGeneral:
		info, err := readGeneralInfo(b)
		if err != nil {
			return err
		}
		if ev, ok := c.engine.Lookup(h.key); ok {
			info.UIN = parseUIN(ev.Contact)
			c.pub.Publish(notify.New(notify.InfoReceived, ev.Contact, info))
		}
		c.engine.ResolveExtended(h.key, event.Success, p, true)
	case protocol.MetaReplyPastInfo:
		c.engine.ResolveExtended(h.key, event.Success, p, false)
	case protocol.MetaReplyWork, protocol.MetaReplyMore, protocol.MetaReplyAbout,
		protocol.MetaReplyEmail, protocol.MetaReplyInterests, protocol.MetaReplyBasic,
		protocol.MetaReplyHomepage:
		c.engine.ResolveExtended(h.key, event.Success, p, true)
	default:
		c.finishMeta(h.key, event.Success, p)
	}
	return nil
}

func (c *Client) handleSearchReply(h metaHeader, subtype uint16, result uint8, b *protocol.Buffer, p *protocol.Packet) error {
	if result != protocol.MetaResultSuccess {
		c.engine.ResolveExtended(h.key, event.Success, p, false)
		return nil
	}

	if _, err := b.Uint16LE(); err != nil { // record length
		return err
	}
	found, err := readSearchRecord(b)
	if err != nil {
		return err
	}
	found.Last = subtype&protocol.MetaReplyLastUserFlag != 0
	if rest := b.Rest(); found.Last && len(rest) >= 4 {
		found.More = binary.LittleEndian.Uint32(rest[len(rest)-4:])
	}

	c.pub.Publish(notify.New(notify.SearchResult, strconv.FormatUint(uint64(found.UIN), 10), found))
	c.engine.ResolveExtended(h.key, event.Success, p, !found.Last)
	return nil
}

func readSearchRecord(r *protocol.Buffer) (notify.Search, error) {
	var s notify.Search
	var err error
	if s.UIN, err = r.Uint32LE(); err != nil {
		return s, err
	}
	fields := []*string{&s.Alias, &s.FirstName, &s.LastName, &s.Email}
	for _, f := range fields {
		v, err := r.StringLE()
		if err != nil {
			return s, err
		}
		*f = cleanText(v)
	}
	auth, err := r.Uint8()
	if err != nil {
		return s, err
	}
	s.Auth = auth != 0
	return s, nil
}

func readGeneralInfo(r *protocol.Buffer) (notify.Info, error) {
	var info notify.Info
	fields := []*string{&info.Alias, &info.FirstName, &info.LastName, &info.Email, &info.City}
	for _, f := range fields {
		v, err := r.StringLE()
		if err != nil {
			return info, err
		}
		*f = cleanText(v)
	}
	return info, nil
}

// finishMeta completes the event behind key, whichever table holds it
func (c *Client) finishMeta(key uint16, r event.Result, p *protocol.Packet) {
	ev, ok := c.engine.Lookup(key)
	if !ok {
		c.engine.Resolve(key, r, nil)
		return
	}
	if ev.Kind == event.Extended {
		c.engine.ResolveExtended(key, r, p, false)
		return
	}
	c.engine.Resolve(key, r, p)
}

func parseUIN(id string) uint32 {
	v, _ := strconv.ParseUint(id, 10, 32)
	return uint32(v)
}
