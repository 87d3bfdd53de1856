package network

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ZentaChain/zentalk-icq/pkg/notify"
	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
)

// Message type names published in notify.Message.Type
const (
	TypeMessage     = "message"
	TypeURL         = "url"
	TypeAuthRequest = "auth_request"
	TypeAuthRefused = "auth_refused"
	TypeAuthGranted = "auth_granted"
	TypeServer      = "server"
	TypeAdded       = "added"
	TypeWebPanel    = "web_panel"
	TypeEmailPager  = "email_pager"
	TypeContacts    = "contacts"
	TypeSMS         = "sms"
	TypeUnknown     = "unknown"
)

const (
	fieldSeparator = "\xfe"
	smsTag         = "ICQSMS"
	maxSMSTag      = 255
	maxSMSLength   = 0x7fff
)

// inbound is a message decoded from the server, before publication.
// A nil *inbound with a nil error means the packet carries nothing to
// deliver (a cancel, a receipt, a plugin request).
type inbound struct {
	From string
	Msg  notify.Message
}

// parseServerMessage decodes a message-family SERVER_MESSAGE body
func parseServerMessage(b *protocol.Buffer) (*inbound, error) {
	if err := b.Skip(8); err != nil { // message cookie
		return nil, err
	}
	format, err := b.Uint16BE()
	if err != nil {
		return nil, err
	}
	from, err := b.String8()
	if err != nil {
		return nil, err
	}
	if err := b.Skip(2); err != nil { // warning level
		return nil, err
	}
	count, err := b.Uint16BE()
	if err != nil {
		return nil, err
	}
	if _, err := protocol.ReadTLVs(b, int(count)); err != nil {
		return nil, err
	}
	tlvs, err := protocol.ReadTLVs(b, -1)
	if err != nil {
		return nil, err
	}

	var msg *notify.Message
	switch format {
	case 1:
		msg, err = parseFormat1(tlvs)
	case 2:
		msg, err = parseFormat2(tlvs)
	case 4:
		msg, err = parseFormat4(tlvs)
	default:
		return nil, fmt.Errorf("%w: message format %d", ErrUnsupportedFormat, format)
	}
	if err != nil || msg == nil {
		return nil, err
	}
	msg.Sent = time.Now()
	return &inbound{From: from, Msg: *msg}, nil
}

// parseFormat1 reads a plain text message: TLV 2 holds inner TLVs, 0x0101
// carries charset, sub-charset and the text
func parseFormat1(tlvs *protocol.TLVBlock) (*notify.Message, error) {
	outer, ok := tlvs.Get(0x0002)
	if !ok {
		return nil, fmt.Errorf("%w: format 1 without message block", ErrMissingTLV)
	}
	inner, err := protocol.ParseTLVs(outer)
	if err != nil {
		return nil, err
	}
	body, ok := inner.Get(0x0101)
	if !ok {
		return nil, fmt.Errorf("%w: format 1 without text block", ErrMissingTLV)
	}
	r := protocol.NewReader(body)
	charset, err := r.Uint16BE()
	if err != nil {
		return nil, err
	}
	if _, err := r.Uint16BE(); err != nil {
		return nil, err
	}
	text, err := protocol.DecodeText(charset, r.Rest())
	if err != nil {
		return nil, err
	}
	return &notify.Message{Type: TypeMessage, Text: text, RawType: protocol.SubMsg}, nil
}

// parseFormat2 reads a rendezvous message. Only server-relayed messages on
// the normal plugin channel carry text; everything else is skipped.
func parseFormat2(tlvs *protocol.TLVBlock) (*notify.Message, error) {
	block, ok := tlvs.Get(0x0005)
	if !ok || len(block) == 0 {
		return nil, nil
	}
	r := protocol.NewReader(block)
	kind, err := r.Uint16BE()
	if err != nil {
		return nil, err
	}
	if kind == 1 { // cancel
		return nil, nil
	}
	if err := r.Skip(8); err != nil {
		return nil, err
	}
	capBytes, err := r.Next(protocol.CapabilityLength)
	if err != nil {
		return nil, err
	}
	var capability protocol.Capability
	copy(capability[:], capBytes)
	if capability != protocol.CapSrvRelay {
		return nil, nil
	}

	inner, err := protocol.ReadTLVs(r, -1)
	if err != nil {
		return nil, err
	}
	adv, ok := inner.Get(0x2711)
	if !ok || len(adv) == 0 {
		return nil, nil
	}
	return parseAdvanced(protocol.NewReader(adv))
}

func parseAdvanced(r *protocol.Buffer) (*notify.Message, error) {
	n, err := r.Uint16LE()
	if err != nil {
		return nil, err
	}
	if _, err := r.Uint16LE(); err != nil { // tcp version
		return nil, err
	}
	guid, err := r.Next(protocol.CapabilityLength)
	if err != nil {
		return nil, err
	}
	if err := r.Skip(int(n) - 2 - protocol.CapabilityLength - 2); err != nil {
		return nil, err
	}
	if _, err := r.Uint16LE(); err != nil { // sequence
		return nil, err
	}
	n, err = r.Uint16LE()
	if err != nil {
		return nil, err
	}
	if err := r.Skip(int(n)); err != nil {
		return nil, err
	}

	msgType, err := r.Uint16LE()
	if err != nil {
		return nil, err
	}
	var plugin protocol.Capability
	copy(plugin[:], guid)
	if plugin != protocol.PluginNormal {
		return nil, nil
	}
	if _, err := r.Uint16LE(); err != nil { // status
		return nil, err
	}
	if _, err := r.Uint16LE(); err != nil { // flags
		return nil, err
	}
	n, err = r.Uint16LE()
	if err != nil {
		return nil, err
	}
	raw, err := r.Next(int(n))
	if err != nil {
		return nil, err
	}
	return typedMessage(msgType, cleanText(string(raw))), nil
}

// parseFormat4 reads a typed message: owner uin, LE type and an LE string
// of 0xFE separated fields. SMS carries its own nested layout.
func parseFormat4(tlvs *protocol.TLVBlock) (*notify.Message, error) {
	block, ok := tlvs.Get(0x0005)
	if !ok {
		return nil, fmt.Errorf("%w: format 4 without message block", ErrMissingTLV)
	}
	r := protocol.NewReader(block)
	if _, err := r.Uint32LE(); err != nil {
		return nil, err
	}
	msgType, err := r.Uint16LE()
	if err != nil {
		return nil, err
	}
	if msgType&^protocol.SubFlagMultiRec == protocol.SubSMS {
		msg, err := parseSMS(r)
		if msg != nil {
			msg.Multi = msgType&protocol.SubFlagMultiRec != 0
		}
		return msg, err
	}
	text, err := r.StringLE()
	if err != nil {
		return nil, err
	}
	return typedMessage(msgType, cleanText(text)), nil
}

// typedMessage interprets the text of a typed message. A known type whose
// fields do not parse is delivered as unknown with the raw text kept.
func typedMessage(rawType uint16, text string) *notify.Message {
	msg := &notify.Message{
		RawType: rawType,
		Multi:   rawType&protocol.SubFlagMultiRec != 0,
	}
	t := rawType &^ protocol.SubFlagMultiRec

	switch t {
	case protocol.SubMsg:
		msg.Type, msg.Text = TypeMessage, text
		return msg
	case protocol.SubAuthRefused:
		msg.Type, msg.Text = TypeAuthRefused, text
		return msg
	case protocol.SubAuthGranted:
		msg.Type, msg.Text = TypeAuthGranted, text
		return msg
	case protocol.SubMsgServer:
		msg.Type, msg.Text = TypeServer, text
		return msg
	case protocol.SubURL:
		if f, ok := splitFields(text, 2); ok {
			msg.Type, msg.Text, msg.URL = TypeURL, f[0], f[1]
			return msg
		}
	case protocol.SubAuthRequest, protocol.SubAddedToList:
		if f, ok := splitFields(text, 6); ok {
			msg.Type = TypeAuthRequest
			if t == protocol.SubAddedToList {
				msg.Type = TypeAdded
			} else {
				msg.Text = f[5]
			}
			msg.Alias, msg.FirstName, msg.LastName, msg.Email = f[0], f[1], f[2], f[3]
			return msg
		}
	case protocol.SubWebPanel, protocol.SubEmailPager:
		if f, ok := splitFields(text, 6); ok {
			msg.Type = TypeWebPanel
			if t == protocol.SubEmailPager {
				msg.Type = TypeEmailPager
			}
			msg.Alias, msg.Email, msg.Text = f[0], f[3], f[5]
			return msg
		}
	case protocol.SubContactList:
		if ids, ok := parseContactList(text); ok {
			msg.Type, msg.Contacts = TypeContacts, ids
			return msg
		}
	}

	msg.Type = TypeUnknown
	msg.Text = strings.ReplaceAll(text, fieldSeparator, "\n")
	return msg
}

// splitFields splits s on 0xFE into at least n fields
func splitFields(s string, n int) ([]string, bool) {
	f := strings.SplitN(s, fieldSeparator, n)
	if len(f) < n {
		return nil, false
	}
	return f, true
}

// parseContactList reads "count FE id FE alias FE ..." into the ids
func parseContactList(s string) ([]string, bool) {
	f := strings.Split(strings.TrimSuffix(s, fieldSeparator), fieldSeparator)
	if len(f) < 1 {
		return nil, false
	}
	n, err := strconv.Atoi(f[0])
	if err != nil || n < 0 || len(f) < 1+2*n {
		return nil, false
	}
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, f[1+2*i])
	}
	return ids, true
}

// parseSMS reads the nested SMS block that follows the message type
func parseSMS(r *protocol.Buffer) (*notify.Message, error) {
	if err := r.Skip(21); err != nil {
		return nil, err
	}
	sub, err := r.Uint16LE()
	if err != nil {
		return nil, err
	}
	if sub != 0 { // 2 and 3 are delivery receipts
		return nil, nil
	}
	tagLen, err := r.Uint32LE()
	if err != nil {
		return nil, err
	}
	if tagLen > maxSMSTag {
		return nil, fmt.Errorf("%w: sms tag length %d", ErrBadSMS, tagLen)
	}
	tag, err := r.Next(int(tagLen))
	if err != nil {
		return nil, err
	}
	if strings.TrimRight(string(tag), "\x00") != smsTag {
		return nil, fmt.Errorf("%w: tag %q", ErrBadSMS, tag)
	}
	if err := r.Skip(3); err != nil {
		return nil, err
	}
	if _, err := r.Uint32LE(); err != nil {
		return nil, err
	}
	n, err := r.Uint32LE()
	if err != nil {
		return nil, err
	}
	if n > maxSMSLength {
		return nil, fmt.Errorf("%w: sms length %d", ErrBadSMS, n)
	}
	body, err := r.Next(int(n))
	if err != nil {
		return nil, err
	}

	msg := &notify.Message{Type: TypeSMS, RawType: protocol.SubSMS}
	sender, text, ok := parseSMSBody(body)
	if ok {
		msg.Text, msg.SMSSender = text, sender
	} else {
		msg.Text = strings.TrimRight(string(body), "\x00")
	}
	return msg, nil
}

type smsMessage struct {
	XMLName xml.Name `xml:"sms_message"`
	Sender  string   `xml:"sender"`
	Text    string   `xml:"text"`
}

func parseSMSBody(body []byte) (sender, text string, ok bool) {
	var m smsMessage
	if err := xml.Unmarshal(body[:len(strings.TrimRight(string(body), "\x00"))], &m); err != nil {
		return "", "", false
	}
	return m.Sender, m.Text, true
}

// cleanText drops carriage returns and a trailing NUL
func cleanText(s string) string {
	s = strings.TrimRight(s, "\x00")
	return strings.ReplaceAll(s, "\r", "")
}
