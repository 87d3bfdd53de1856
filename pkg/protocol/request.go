package protocol

import (
	"fmt"
	"strings"
	"time"
)

// Request is the closed set of packets this client can send. Every variant
// is a plain struct from this file; Encode is the only serializer.
type Request interface {
	isRequest()
}

type sealed struct{}

func (sealed) isRequest() {}

// RequestName returns the variant name, e.g. "SetStatus"
func RequestName(r Request) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", r), "protocol.")
}

// RosterItem is one server-side list entry as carried by add/update/remove
type RosterItem struct {
	Name string
	GSID uint16
	SID  uint16
	Type uint16
	TLVs *TLVBlock
}

// ===== CONNECTION =====

// ConnectStart opens the login connection (channel 1)
type ConnectStart struct{ sealed }

// RegisterFirst opens a registration connection (channel 1)
type RegisterFirst struct{ sealed }

// Logon authenticates with a roasted password on channel 1
type Logon struct {
	sealed
	AccountID string
	Password  string
}

// SendCookie presents the redirect cookie as the first frame of a service connection
type SendCookie struct {
	sealed
	Cookie  []byte
	Service int
}

// Logoff closes the session (channel 4)
type Logoff struct{ sealed }

// Ping is the channel 5 keepalive
type Ping struct{ sealed }

// ===== AUTH FAMILY =====

type Register struct {
	sealed
	Password string
}

type SendVerification struct {
	sealed
	Password string
	Code     string
}

type VerifyRegistration struct{ sealed }

type RequestLogonSalt struct {
	sealed
	AccountID string
}

// NewLogon authenticates with md5(salt + password[:8] + client string)
type NewLogon struct {
	sealed
	AccountID string
	Password  string
	Salt      string
}

// ===== SERVICE FAMILY =====

type ImICQ struct{ sealed }

type RequestRateInfo struct{ sealed }

type RateAck struct{ sealed }

type RequestSelfInfo struct{ sealed }

type ClientReady struct{ sealed }

// RequestService asks for a redirect to the server hosting family
type RequestService struct {
	sealed
	Family uint16
}

// SetStatus publishes the owner status. Invisible statuses omit the
// direct-connection TLVs.
type SetStatus struct {
	sealed
	Status    uint32
	LocalIP   uint32
	LocalPort uint32
	Direct    bool
}

// ===== RIGHTS =====

// RequestRights asks for the limits of the location, buddy, message or BOS family
type RequestRights struct {
	sealed
	Family uint16
}

// ListRequestRights asks for the server-side roster limits
type ListRequestRights struct{ sealed }

// ===== LOCATION / MESSAGE / BUDDY =====

type CapabilitySettings struct {
	sealed
	Version Capability
}

type ICQMode struct {
	sealed
	Channel uint16
	Flags   uint32
}

// ThroughServer sends a message through the server. Type 1 is sent as a
// format 1 text message, the rest as format 4 typed messages.
type ThroughServer struct {
	sealed
	AccountID string
	Type      uint16
	Message   string
	Charset   uint16
	Offline   bool
}

type TypingNotification struct {
	sealed
	AccountID string
	Active    bool
}

type RequestInfo struct {
	sealed
	AccountID string
}

type RequestAwayMessage struct {
	sealed
	AccountID string
}

// BuddyList adds or removes client-side buddy list entries
type BuddyList struct {
	sealed
	AccountIDs []string
	Remove     bool
}

// ===== LIST FAMILY =====

type RequestList struct {
	sealed
	Time  uint32
	Count uint16
}

type RosterAck struct{ sealed }

// EditStart opens an edit bracket. Import marks the export-on-first-sync bracket.
type EditStart struct {
	sealed
	Import bool
}

type EditEnd struct{ sealed }

// AddToServerList adds one item; AuthRequired appends the awaiting-auth TLV
type AddToServerList struct {
	sealed
	Item         RosterItem
	AuthRequired bool
}

type UpdateToServerList struct {
	sealed
	Item         RosterItem
	AuthRequired bool
}

type RemoveFromServerList struct {
	sealed
	Item RosterItem
}

// ClearServerList removes a batch of items in one packet
type ClearServerList struct {
	sealed
	Items []RosterItem
}

// ExportItems adds a batch of items in one packet (groups or contacts)
type ExportItems struct {
	sealed
	Items []RosterItem
}

// AddPDInfo creates the privacy item
type AddPDInfo struct {
	sealed
	SID     uint16
	Privacy uint8
}

// SetPrivacy updates the privacy item
type SetPrivacy struct {
	sealed
	SID     uint16
	Privacy uint8
}

type RequestAuth struct {
	sealed
	AccountID string
	Message   string
}

type Authorize struct {
	sealed
	AccountID string
}

// ===== VARIOUS (META) FAMILY =====

type RequestSysMsg struct{ sealed }

type SysMsgDoneAck struct {
	sealed
	ID uint16
}

type SearchByUIN struct {
	sealed
	UIN uint32
}

type RequestAllInfo struct {
	sealed
	UIN   uint32
	Owner bool
}

type RequestBasicInfo struct {
	sealed
	UIN uint32
}

type SendSMS struct {
	sealed
	Number      string
	Message     string
	SenderAlias string
	Time        time.Time
}

type SetPassword struct {
	sealed
	Password string
}

// ===== LEGACY UDP =====

type LegacyAck struct {
	sealed
	Sequence    uint16
	SubSequence uint16
}

type LegacyPing struct{ sealed }

type LegacyAddUser struct {
	sealed
	UIN uint32
}

type LegacyRegister struct {
	sealed
	Password string
}

type LegacyLogoff struct{ sealed }

// ===== CONSTRUCTORS =====

func NewConnectStart() Request { return ConnectStart{} }

func NewRegisterFirst() Request { return RegisterFirst{} }

func NewLogonRequest(accountID, password string) Request {
	return Logon{AccountID: accountID, Password: password}
}

func NewSendCookie(cookie []byte, service int) Request {
	return SendCookie{Cookie: cookie, Service: service}
}

func NewLogoff() Request { return Logoff{} }

func NewPing() Request { return Ping{} }

func NewRegister(password string) Request { return Register{Password: password} }

func NewSendVerification(password, code string) Request {
	return SendVerification{Password: password, Code: code}
}

func NewVerifyRegistration() Request { return VerifyRegistration{} }

func NewRequestLogonSalt(accountID string) Request {
	return RequestLogonSalt{AccountID: accountID}
}

func NewNewLogon(accountID, password, salt string) Request {
	return NewLogon{AccountID: accountID, Password: password, Salt: salt}
}

func NewImICQ() Request { return ImICQ{} }

func NewRequestRateInfo() Request { return RequestRateInfo{} }

func NewRateAck() Request { return RateAck{} }

func NewRequestSelfInfo() Request { return RequestSelfInfo{} }

func NewClientReady() Request { return ClientReady{} }

func NewRequestService(family uint16) Request { return RequestService{Family: family} }

func NewSetStatus(status, localIP, localPort uint32, direct bool) Request {
	return SetStatus{Status: status, LocalIP: localIP, LocalPort: localPort, Direct: direct}
}

func NewRequestRights(family uint16) Request { return RequestRights{Family: family} }

func NewListRequestRights() Request { return ListRequestRights{} }

func NewCapabilitySettings(version Capability) Request {
	return CapabilitySettings{Version: version}
}

func NewICQMode(channel uint16, flags uint32) Request {
	return ICQMode{Channel: channel, Flags: flags}
}

func NewThroughServer(accountID string, msgType uint16, message string, charset uint16, offline bool) Request {
	return ThroughServer{AccountID: accountID, Type: msgType, Message: message, Charset: charset, Offline: offline}
}

func NewTypingNotification(accountID string, active bool) Request {
	return TypingNotification{AccountID: accountID, Active: active}
}

func NewRequestInfo(accountID string) Request { return RequestInfo{AccountID: accountID} }

func NewRequestAwayMessage(accountID string) Request {
	return RequestAwayMessage{AccountID: accountID}
}

func NewBuddyList(accountIDs []string, remove bool) Request {
	return BuddyList{AccountIDs: accountIDs, Remove: remove}
}

func NewRequestList(ssTime uint32, count uint16) Request {
	return RequestList{Time: ssTime, Count: count}
}

func NewRosterAck() Request { return RosterAck{} }

func NewEditStart(importing bool) Request { return EditStart{Import: importing} }

func NewEditEnd() Request { return EditEnd{} }

func NewAddToServerList(item RosterItem, authRequired bool) Request {
	return AddToServerList{Item: item, AuthRequired: authRequired}
}

func NewUpdateToServerList(item RosterItem, authRequired bool) Request {
	return UpdateToServerList{Item: item, AuthRequired: authRequired}
}

func NewRemoveFromServerList(item RosterItem) Request {
	return RemoveFromServerList{Item: item}
}

func NewClearServerList(items []RosterItem) Request { return ClearServerList{Items: items} }

func NewExportItems(items []RosterItem) Request { return ExportItems{Items: items} }

func NewAddPDInfo(sid uint16, privacy uint8) Request {
	return AddPDInfo{SID: sid, Privacy: privacy}
}

func NewSetPrivacy(sid uint16, privacy uint8) Request {
	return SetPrivacy{SID: sid, Privacy: privacy}
}

func NewRequestAuth(accountID, message string) Request {
	return RequestAuth{AccountID: accountID, Message: message}
}

func NewAuthorize(accountID string) Request { return Authorize{AccountID: accountID} }

func NewRequestSysMsg() Request { return RequestSysMsg{} }

func NewSysMsgDoneAck(id uint16) Request { return SysMsgDoneAck{ID: id} }

func NewSearchByUIN(uin uint32) Request { return SearchByUIN{UIN: uin} }

func NewRequestAllInfo(uin uint32, owner bool) Request {
	return RequestAllInfo{UIN: uin, Owner: owner}
}

func NewRequestBasicInfo(uin uint32) Request { return RequestBasicInfo{UIN: uin} }

func NewSendSMS(number, message, senderAlias string, at time.Time) Request {
	return SendSMS{Number: number, Message: message, SenderAlias: senderAlias, Time: at}
}

func NewSetPassword(password string) Request { return SetPassword{Password: password} }

func NewLegacyAck(seq, subSeq uint16) Request {
	return LegacyAck{Sequence: seq, SubSequence: subSeq}
}

func NewLegacyPing() Request { return LegacyPing{} }

func NewLegacyAddUser(uin uint32) Request { return LegacyAddUser{UIN: uin} }

func NewLegacyRegister(password string) Request { return LegacyRegister{Password: password} }

func NewLegacyLogoff() Request { return LegacyLogoff{} }
