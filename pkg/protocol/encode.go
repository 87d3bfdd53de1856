package protocol

import (
	"crypto/md5"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoSequencer is returned when Encode is called without sequence state
var ErrNoSequencer = errors.New("encode context has no sequencer")

const (
	clientIDString = "ICQBasic"
	aimMD5String   = "AOL Instant Messenger (SM)"
)

var roastTable = [16]byte{
	0xf3, 0x26, 0x81, 0xc4, 0x39, 0x86, 0xdb, 0x92,
	0x71, 0xa3, 0xb9, 0xe6, 0x53, 0x7a, 0x95, 0x7c,
}

// EncodeContext is the session state a request is serialized under
type EncodeContext struct {
	Generation  Generation
	Seq         *Sequencer
	Service     int    // FLAP counter index of the target connection
	SubSequence uint16 // correlation key stamped into the SNAC and meta headers
	OwnerUIN    uint32
	OwnerID     string
}

// Outbound is a serialized request plus the header values it was stamped with
type Outbound struct {
	Name        string
	Bytes       []byte
	Channel     uint8
	Sequence    uint16
	SubSequence uint16
	Family      uint16
	Subtype     uint16
	Command     uint16 // legacy command
	MetaCommand uint16
	Checksum    uint32 // legacy checksum
}

// HasSnac reports whether the packet carries a family/subtype header
func (o *Outbound) HasSnac() bool { return o.Channel == ChannelData }

func (o *Outbound) snac(family, subtype uint16) {
	o.Channel = ChannelData
	o.Family = family
	o.Subtype = subtype
}

// IsLegacyRequest reports whether r belongs to the UDP generations
func IsLegacyRequest(r Request) bool {
	switch r.(type) {
	case LegacyAck, LegacyPing, LegacyAddUser, LegacyRegister, LegacyLogoff:
		return true
	}
	return false
}

// Encode serializes req under ctx. It is the only serializer of every
// Request variant.
func Encode(req Request, ctx EncodeContext) (*Outbound, error) {
	if ctx.Seq == nil {
		return nil, ErrNoSequencer
	}
	if req == nil {
		return nil, ErrUnknownRequest
	}
	if IsLegacyRequest(req) != ctx.Generation.IsLegacy() {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnsupportedGeneration, RequestName(req), ctx.Generation)
	}
	if ctx.Generation.IsLegacy() {
		return encodeLegacy(req, ctx)
	}

	out := &Outbound{Name: RequestName(req), SubSequence: ctx.SubSequence}
	body := NewBuffer(64)

	switch r := req.(type) {
	// ----- channel 1 -----
	case ConnectStart:
		out.Channel = ChannelNew
		body.PutUint32BE(0x00000001)
		body.PutUint32BE(0x80030004)
		body.PutUint32BE(0x00100000)
	case RegisterFirst:
		out.Channel = ChannelNew
		body.PutUint32BE(0x00000001)
	case Logon:
		out.Channel = ChannelNew
		body.PutUint32BE(0x00000001)
		body.PutTLVString(0x0001, r.AccountID)
		body.PutTLV(0x0002, roast(r.Password))
		putClientTLVs(body)
	case SendCookie:
		out.Channel = ChannelNew
		ctx.Seq.InitService(r.Service)
		ctx.Service = r.Service
		body.PutUint32BE(0x00000001)
		body.PutTLV(CloseTLVCookie, r.Cookie)
	case Logoff:
		out.Channel = ChannelClose
	case Ping:
		out.Channel = ChannelPing

	// ----- auth -----
	case Register:
		out.snac(FamilyAuth, AuthRegisterUser)
		putRegistration(body, r.Password)
	case SendVerification:
		out.snac(FamilyAuth, AuthRegisterUser)
		putRegistration(body, r.Password)
		body.PutTLVString(0x0009, r.Code)
	case VerifyRegistration:
		out.snac(FamilyAuth, AuthRequestImage)
	case RequestLogonSalt:
		out.snac(FamilyAuth, AuthRequestSalt)
		body.PutTLVString(0x0001, r.AccountID)
	case NewLogon:
		out.snac(FamilyAuth, AuthLogon)
		body.PutTLVString(0x0001, r.AccountID)
		body.PutTLV(0x0025, saltedHash(r.Salt, r.Password))
		putClientTLVs(body)

	// ----- service -----
	case ImICQ:
		out.snac(FamilyService, ServiceImICQ)
		for _, v := range imICQVersions {
			body.PutUint32BE(v)
		}
	case RequestRateInfo:
		out.snac(FamilyService, ServiceRateRequest)
	case RateAck:
		out.snac(FamilyService, ServiceRateAck)
		body.PutUint32BE(0x00010002)
		body.PutUint32BE(0x00030004)
		body.PutUint16BE(0x0005)
	case RequestSelfInfo:
		out.snac(FamilyService, ServiceRequestSelf)
	case ClientReady:
		out.snac(FamilyService, ServiceClientReady)
		for _, v := range clientReadyVersions {
			body.PutUint32BE(v)
			body.PutUint32BE(0x011008e4)
		}
	case RequestService:
		out.snac(FamilyService, ServiceNewService)
		body.PutUint16BE(r.Family)
	case SetStatus:
		out.snac(FamilyService, ServiceSetStatus)
		putStatus(body, r)

	// ----- rights -----
	case RequestRights:
		sub, ok := rightsSubtypes[r.Family]
		if !ok {
			return nil, fmt.Errorf("%w: rights for family 0x%04x", ErrUnknownRequest, r.Family)
		}
		out.snac(r.Family, sub)
	case ListRequestRights:
		out.snac(FamilyList, ListRightsRequest)
		body.PutTLVUint16(0x000b, 0x000f)

	// ----- location / message / buddy -----
	case CapabilitySettings:
		out.snac(FamilyLocation, LocationSetUserInfo)
		caps := []Capability{CapDirect, CapSrvRelay, CapTyping, r.Version, CapAIMInter, CapRTF, CapIChat, CapBART}
		p := make([]byte, 0, len(caps)*CapabilityLength)
		for _, c := range caps {
			p = append(p, c[:]...)
		}
		body.PutTLV(0x0005, p)
	case ICQMode:
		out.snac(FamilyMessage, MessageSetICQMode)
		body.PutUint16BE(r.Channel)
		body.PutUint32BE(r.Flags)
		body.PutUint16BE(8000)
		body.PutUint16BE(999)
		body.PutUint16BE(999)
		body.PutUint16BE(0)
		body.PutUint16BE(0)
	case ThroughServer:
		out.snac(FamilyMessage, MessageSendServer)
		if err := putThroughServer(body, r, ctx.OwnerUIN); err != nil {
			return nil, err
		}
	case TypingNotification:
		out.snac(FamilyMessage, MessageTyping)
		body.PutUint32BE(0)
		body.PutUint32BE(0)
		body.PutUint16BE(0x0001)
		body.PutString8(r.AccountID)
		if r.Active {
			body.PutUint16BE(TypingActive)
		} else {
			body.PutUint16BE(TypingInactive)
		}
	case RequestInfo:
		out.snac(FamilyLocation, LocationRequestUserInfo)
		body.PutUint32BE(0x00000003)
		body.PutString8(r.AccountID)
	case RequestAwayMessage:
		out.snac(FamilyLocation, LocationInfoRequest)
		body.PutUint16BE(0x0003)
		body.PutString8(r.AccountID)
	case BuddyList:
		if r.Remove {
			out.snac(FamilyBuddy, BuddyRemoveFromList)
		} else {
			out.snac(FamilyBuddy, BuddyAddToList)
		}
		for _, id := range r.AccountIDs {
			body.PutString8(id)
		}

	// ----- server-side roster -----
	case RequestList:
		out.snac(FamilyList, ListRequestRoster)
		body.PutUint32BE(r.Time)
		body.PutUint16BE(r.Count)
	case RosterAck:
		out.snac(FamilyList, ListRosterAck)
	case EditStart:
		out.snac(FamilyList, ListEditStart)
		if r.Import {
			body.PutUint32BE(0x00010000)
		}
	case EditEnd:
		out.snac(FamilyList, ListEditEnd)
	case AddToServerList:
		out.snac(FamilyList, ListRosterAdd)
		putRosterItem(body, withAuth(r.Item, r.AuthRequired))
	case UpdateToServerList:
		out.snac(FamilyList, ListRosterUpdate)
		putRosterItem(body, withAuth(r.Item, r.AuthRequired))
	case RemoveFromServerList:
		out.snac(FamilyList, ListRosterRemove)
		putRosterItem(body, r.Item)
	case ClearServerList:
		out.snac(FamilyList, ListRosterRemove)
		for _, item := range r.Items {
			putRosterItem(body, item)
		}
	case ExportItems:
		out.snac(FamilyList, ListRosterAdd)
		for _, item := range r.Items {
			putRosterItem(body, item)
		}
	case AddPDInfo:
		out.snac(FamilyList, ListRosterAdd)
		putPrivacyItem(body, r.SID, r.Privacy)
	case SetPrivacy:
		out.snac(FamilyList, ListRosterUpdate)
		putPrivacyItem(body, r.SID, r.Privacy)
	case RequestAuth:
		out.snac(FamilyList, ListAuthRequest)
		body.PutString8(r.AccountID)
		body.PutString16BE(r.Message)
		body.PutUint16BE(0)
	case Authorize:
		out.snac(FamilyList, ListAuthGrant)
		body.PutString8(r.AccountID)
		body.PutUint8(0x01)
		body.PutUint32BE(0)

	// ----- extended metadata -----
	case RequestSysMsg:
		out.snac(FamilyVarious, VariousMeta)
		out.MetaCommand = MetaSysMsgRequest
		body.PutUint32BE(0x0001000a)
		body.PutUint16LE(0x0008)
		body.PutUint32LE(ctx.OwnerUIN)
		body.PutUint16LE(MetaSysMsgRequest)
		body.PutUint16BE(0x0200)
	case SysMsgDoneAck:
		out.snac(FamilyVarious, VariousMeta)
		out.MetaCommand = MetaSysMsgDoneAck
		body.PutUint32BE(0x0001000a)
		body.PutUint16LE(0x0008)
		body.PutUint32LE(ctx.OwnerUIN)
		body.PutUint16LE(MetaSysMsgDoneAck)
		body.PutUint16BE(r.ID)
	case SearchByUIN:
		out.snac(FamilyVarious, VariousMeta)
		out.MetaCommand = MetaSearchByUIN
		data := NewBuffer(8)
		data.PutUint32BE(0x36010400)
		data.PutUint32LE(r.UIN)
		putMeta(body, ctx, MetaSearchByUIN, data.Bytes())
	case RequestAllInfo:
		out.snac(FamilyVarious, VariousMeta)
		out.MetaCommand = MetaRequestAllInfo
		if r.Owner {
			out.MetaCommand = MetaRequestOwnerInfo
		}
		data := NewBuffer(4)
		data.PutUint32LE(r.UIN)
		putMeta(body, ctx, out.MetaCommand, data.Bytes())
	case RequestBasicInfo:
		out.snac(FamilyVarious, VariousMeta)
		out.MetaCommand = MetaRequestBasicInfo
		body.PutUint32BE(0x0001000e)
		body.PutUint16LE(0x000c)
		body.PutUint32LE(ctx.OwnerUIN)
		body.PutUint16LE(MetaRequestBasicInfo)
		body.PutUint16LE(ctx.SubSequence)
		body.PutUint32LE(r.UIN)
	case SendSMS:
		out.snac(FamilyVarious, VariousMeta)
		out.MetaCommand = MetaSendSMS
		putMeta(body, ctx, MetaSendSMS, smsBody(r, ctx.OwnerID))
	case SetPassword:
		out.snac(FamilyVarious, VariousMeta)
		out.MetaCommand = MetaSetPassword
		data := NewBuffer(len(r.Password) + 3)
		data.PutStringLE(r.Password)
		putMeta(body, ctx, MetaSetPassword, data.Bytes())

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownRequest, req)
	}

	payload := body.Bytes()
	if out.HasSnac() {
		h := SnacHeader{Family: out.Family, Subtype: out.Subtype, RequestID: uint32(ctx.SubSequence)}
		payload = append(h.Encode(), payload...)
	}
	out.Sequence = ctx.Seq.NextFlap(ctx.Service)
	f := &Frame{Header: FlapHeader{Channel: out.Channel, Sequence: out.Sequence}, Payload: payload}
	out.Bytes = f.Encode()
	return out, nil
}

// ===== HELPER FUNCTIONS =====

var imICQVersions = []uint32{
	0x00010004, 0x00130004, 0x00020001, 0x00030001, 0x00150001,
	0x00040001, 0x00060001, 0x00090001, 0x000a0001, 0x000b0001,
}

var clientReadyVersions = []uint32{
	0x00010004, 0x00020001, 0x00030001, 0x00150001, 0x00040001,
	0x00060001, 0x00090001, 0x000a0001, 0x00130004, 0x000b0004,
}

var rightsSubtypes = map[uint16]uint16{
	FamilyLocation: LocationRequestRights,
	FamilyBuddy:    BuddyRequestRights,
	FamilyMessage:  MessageRequestRights,
	FamilyBOS:      BOSRequestRights,
}

func roast(password string) []byte {
	if len(password) > 8 {
		password = password[:8]
	}
	out := make([]byte, len(password))
	for i := range out {
		out[i] = password[i] ^ roastTable[i%len(roastTable)]
	}
	return out
}

func saltedHash(salt, password string) []byte {
	if len(password) > 8 {
		password = password[:8]
	}
	sum := md5.Sum([]byte(salt + password + aimMD5String))
	return sum[:]
}

func putClientTLVs(b *Buffer) {
	b.PutTLVString(0x0003, clientIDString)
	b.PutTLVUint16(0x0016, 0x010b)
	b.PutTLVUint16(0x0017, 0x0014)
	b.PutTLVUint16(0x0018, 0x0022)
	b.PutTLVUint16(0x0019, 0x0000)
	b.PutTLVUint16(0x001a, 0x0bb8)
	b.PutTLVUint32(0x0014, 0x0000043d)
	b.PutTLVString(0x000f, "en")
	b.PutTLVString(0x000e, "us")
}

func putRegistration(b *Buffer, password string) {
	b.PutUint16BE(0x0001)
	b.PutUint16BE(uint16(len(password) + 51))
	b.PutUint32BE(0)
	b.PutUint32BE(0x28000000)
	for i := 0; i < 8; i++ {
		b.PutUint32BE(0)
	}
	b.PutStringLE(password)
	b.PutUint32BE(0)
	b.PutUint32BE(0xf2070000)
}

func putStatus(b *Buffer, r SetStatus) {
	status := r.Status &^ (StatusFlagPFM | StatusFlagPFMAvail)
	b.PutTLVUint32(0x0006, status)
	if status&StatusFlagPrivate != 0 {
		return
	}

	b.PutUint16BE(0x000c)
	b.PutUint16BE(0x0025)
	b.PutUint32LE(r.LocalIP)
	b.PutUint32BE(r.LocalPort)
	if r.Direct {
		b.PutUint8(ModeDirect)
	} else {
		b.PutUint8(ModeIndirect)
	}
	b.PutUint16BE(TCPVersion)
	b.PutUint32BE(0)
	b.PutUint32BE(0x00000050)
	b.PutUint32BE(0x00000003)
	b.PutUint32BE(0)
	b.PutUint32BE(0)
	b.PutUint32BE(0)
	b.PutUint16BE(0)

	b.PutTLVUint16(0x0008, 0)
}

func putThroughServer(b *Buffer, r ThroughServer, ownerUIN uint32) error {
	format := uint16(4)
	if r.Type == SubMsg {
		format = 1
	}
	b.PutUint32BE(0)
	b.PutUint32BE(0)
	b.PutUint16BE(format)
	b.PutString8(r.AccountID)

	if format == 1 {
		text, err := EncodeText(r.Charset, r.Message)
		if err != nil {
			return fmt.Errorf("failed to encode message text: %w", err)
		}
		tlv := NewBuffer(13 + len(text))
		tlv.PutBytes([]byte{0x05, 0x01, 0x00, 0x01, 0x01, 0x01, 0x01})
		tlv.PutUint16BE(uint16(len(text) + 4))
		tlv.PutUint16BE(r.Charset)
		tlv.PutUint16BE(0)
		tlv.PutBytes(text)
		b.PutTLV(0x0002, tlv.Bytes())
	} else {
		tlv := NewBuffer(9 + len(r.Message))
		tlv.PutUint32LE(ownerUIN)
		tlv.PutUint8(uint8(r.Type))
		tlv.PutUint8(0)
		tlv.PutStringLE(r.Message)
		b.PutTLV(0x0005, tlv.Bytes())
	}

	if r.Offline {
		b.PutUint32BE(0x00060000)
	}
	return nil
}

// withAuth returns item with the awaiting-authorization TLV when required
func withAuth(item RosterItem, auth bool) RosterItem {
	if !auth || item.TLVs.Has(RosterTLVAwaitingAuth) {
		return item
	}
	tlvs := item.TLVs.Clone()
	tlvs.Set(RosterTLVAwaitingAuth, nil)
	item.TLVs = tlvs
	return item
}

func putRosterItem(b *Buffer, item RosterItem) {
	b.PutString16BE(item.Name)
	b.PutUint16BE(item.GSID)
	b.PutUint16BE(item.SID)
	b.PutUint16BE(item.Type)
	b.PutUint16BE(uint16(item.TLVs.Size()))
	item.TLVs.EncodeTo(b)
}

func putPrivacyItem(b *Buffer, sid uint16, privacy uint8) {
	b.PutUint16BE(0) // empty name
	b.PutUint16BE(0)
	b.PutUint16BE(sid)
	b.PutUint16BE(RosterPDInfo)
	b.PutUint16BE(0x0005)
	b.PutUint16BE(RosterTLVPrivacy)
	b.PutUint16BE(0x0001)
	b.PutUint8(privacy)
}

// putMeta wraps data in the TLV 1 metadata envelope: LE length, owner uin,
// 0xD007 marker, correlation key and LE command
func putMeta(b *Buffer, ctx EncodeContext, cmd uint16, data []byte) {
	inner := NewBuffer(10 + len(data))
	inner.PutUint32LE(ctx.OwnerUIN)
	inner.PutUint16BE(VariousMetaMarker)
	inner.PutUint16BE(ctx.SubSequence)
	inner.PutUint16LE(cmd)
	inner.PutBytes(data)

	b.PutUint16BE(0x0001)
	b.PutUint16BE(uint16(inner.Len() + 2))
	b.PutUint16LE(uint16(inner.Len()))
	b.PutBytes(inner.Bytes())
}

const smsTemplate = "<icq_sms_message><destination>%s</destination><text>%s</text>" +
	"<codepage>1252</codepage><encoding>utf8</encoding><senders_UIN>%s</senders_UIN>" +
	"<senders_name>%s</senders_name><delivery_receipt>Yes</delivery_receipt>" +
	"<time>%s</time></icq_sms_message>"

func smsBody(r SendSMS, ownerID string) []byte {
	text := r.Message
	if len(text) > 160 {
		text = text[:160]
	}
	at := r.Time
	if at.IsZero() {
		at = time.Now()
	}
	xml := fmt.Sprintf(smsTemplate, digitsOnly(r.Number), text, ownerID, r.SenderAlias,
		at.UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT"))
	if len(xml) > 459 {
		xml = xml[:459]
	}

	b := NewBuffer(26 + len(xml))
	b.PutUint16BE(0x0001)
	b.PutUint16BE(0x0016)
	for i := 0; i < 4; i++ {
		b.PutUint32BE(0)
	}
	b.PutUint16BE(0)
	b.PutUint16BE(uint16(len(xml) + 1))
	b.PutBytes([]byte(xml))
	b.PutUint8(0)
	return b.Bytes()
}

func digitsOnly(s string) string {
	var sb strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			sb.WriteRune(c)
		}
	}
	return sb.String()
}

// ===== LEGACY =====

var legacyLogoffText = "B_USER_DISCONNECTED"

func encodeLegacy(req Request, ctx EncodeContext) (*Outbound, error) {
	out := &Outbound{Name: RequestName(req)}
	h := &LegacyHeader{Version: ctx.Generation, UIN: ctx.OwnerUIN}
	body := NewBuffer(32)

	switch r := req.(type) {
	case LegacyAck:
		h.Command = LegacyCmdAck
		h.Sequence, h.SubSequence = r.Sequence, r.SubSequence
	case LegacyPing:
		h.Command = LegacyCmdPing
		h.Sequence, h.SubSequence = ctx.Seq.LegacySequence(h.Command)
	case LegacyAddUser:
		h.Command = LegacyCmdAddUser
		h.Sequence, h.SubSequence = ctx.Seq.LegacySequence(h.Command)
		body.PutUint32LE(r.UIN)
	case LegacyLogoff:
		h.Command = LegacyCmdLogoff
		h.Sequence, h.SubSequence = ctx.Seq.LegacySequence(h.Command)
		body.PutStringLE(legacyLogoffText)
		body.PutUint16LE(0x0005)
	case LegacyRegister:
		h.Command = LegacyCmdRegister
		if ctx.Generation == GenerationUDPv2 {
			out.Command = h.Command
			out.Sequence = 1
			out.Bytes = encodeRegisterV2(r.Password)
			return out, nil
		}
		h.Sequence, h.SubSequence, h.SessionID = ctx.Seq.ResetForRegister(ctx.Generation)
		h.UIN = 0
		body.PutStringLE(r.Password)
		body.PutUint32LE(0x000000a0)
		body.PutUint32LE(0x00002461)
		body.PutUint32LE(0x00a00000)
		body.PutUint32LE(0)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownRequest, req)
	}

	if h.Version == GenerationUDPv5 && h.Command != LegacyCmdRegister {
		h.SessionID = ctx.Seq.SessionID()
	}
	data, err := sealLegacy(h, body.Bytes(), ctx.Seq)
	if err != nil {
		return nil, err
	}
	out.Bytes = data
	out.Command = h.Command
	out.Sequence = h.Sequence
	out.SubSequence = h.SubSequence
	out.Checksum = h.Checksum
	return out, nil
}

// encodeRegisterV2 builds the v2 registration packet, which has its own header
func encodeRegisterV2(password string) []byte {
	b := NewBuffer(14 + len(password))
	b.PutUint16LE(uint16(GenerationUDPv2))
	b.PutUint16LE(LegacyCmdRegister)
	b.PutUint16LE(0x0001)
	b.PutUint16LE(0x0002)
	b.PutStringLE(password)
	b.PutUint16LE(0x0072)
	b.PutUint16LE(0x0000)
	return b.Bytes()
}
