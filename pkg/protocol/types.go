package protocol

import (
	"fmt"
	"strings"
)

// Generation selects one of the on-wire packet layouts
type Generation uint8

const (
	GenerationUDPv2 Generation = 2
	GenerationUDPv4 Generation = 4
	GenerationUDPv5 Generation = 5
	GenerationTCPv7 Generation = 7
)

// String returns the config spelling of the generation
func (g Generation) String() string {
	switch g {
	case GenerationUDPv2:
		return "udp-v2"
	case GenerationUDPv4:
		return "udp-v4"
	case GenerationUDPv5:
		return "udp-v5"
	case GenerationTCPv7:
		return "tcp-v7"
	}
	return fmt.Sprintf("generation(%d)", uint8(g))
}

// IsLegacy reports whether the generation uses the raw UDP framing
func (g Generation) IsLegacy() bool {
	return g == GenerationUDPv2 || g == GenerationUDPv4 || g == GenerationUDPv5
}

// ParseGeneration parses "udp-v2", "udp-v4", "udp-v5" or "tcp-v7"
func ParseGeneration(s string) (Generation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "udp-v2", "v2":
		return GenerationUDPv2, nil
	case "udp-v4", "v4":
		return GenerationUDPv4, nil
	case "udp-v5", "v5":
		return GenerationUDPv5, nil
	case "tcp-v7", "v7", "":
		return GenerationTCPv7, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedGeneration, s)
}

// FLAP framing
const (
	FlapStart      = 0x2a
	FlapHeaderSize = 6
	SnacHeaderSize = 10

	// Number of independent FLAP sequence counters (one per service connection)
	MaxServices = 32
)

// FLAP channels
const (
	ChannelNew   uint8 = 0x01
	ChannelData  uint8 = 0x02
	ChannelError uint8 = 0x03
	ChannelClose uint8 = 0x04
	ChannelPing  uint8 = 0x05
)

// SNAC header flags
const (
	SnacFlagMore     uint16 = 0x0001 // more packets of this reply follow
	SnacFlagExtraTLV uint16 = 0x8000 // u16 length + TLVs precede the body
)

// SNAC families
const (
	FamilyService  uint16 = 0x0001
	FamilyLocation uint16 = 0x0002
	FamilyBuddy    uint16 = 0x0003
	FamilyMessage  uint16 = 0x0004
	FamilyBOS      uint16 = 0x0009
	FamilyBART     uint16 = 0x0010
	FamilyList     uint16 = 0x0013
	FamilyVarious  uint16 = 0x0015
	FamilyAuth     uint16 = 0x0017
)

// Service family (0x0001)
const (
	ServiceError        uint16 = 0x0001
	ServiceClientReady  uint16 = 0x0002
	ServiceServerReady  uint16 = 0x0003
	ServiceNewService   uint16 = 0x0004
	ServiceRedirect     uint16 = 0x0005
	ServiceRateRequest  uint16 = 0x0006
	ServiceRateInfo     uint16 = 0x0007
	ServiceRateAck      uint16 = 0x0008
	ServiceRateWarning  uint16 = 0x000a
	ServicePause        uint16 = 0x000b
	ServiceResume       uint16 = 0x000d
	ServiceRequestSelf  uint16 = 0x000e
	ServiceNameInfo     uint16 = 0x000f
	ServiceMOTD         uint16 = 0x0013
	ServiceImICQ        uint16 = 0x0017
	ServiceAckImICQ     uint16 = 0x0018
	ServiceSetStatus    uint16 = 0x001e
	ServiceExtendedInfo uint16 = 0x0021
)

// Location family (0x0002)
const (
	LocationRequestRights   uint16 = 0x0002
	LocationRightsGranted   uint16 = 0x0003
	LocationSetUserInfo     uint16 = 0x0004
	LocationReplyUserInfo   uint16 = 0x0006
	LocationRequestUserInfo uint16 = 0x0015
	LocationInfoRequest     uint16 = 0x0005
)

// Buddy family (0x0003)
const (
	BuddyRequestRights  uint16 = 0x0002
	BuddyRightsGranted  uint16 = 0x0003
	BuddyAddToList      uint16 = 0x0004
	BuddyRemoveFromList uint16 = 0x0005
	BuddyOnline         uint16 = 0x000b
	BuddyOffline        uint16 = 0x000c
)

// Message family (0x0004)
const (
	MessageError          uint16 = 0x0001
	MessageSetICQMode     uint16 = 0x0002
	MessageRequestRights  uint16 = 0x0004
	MessageRightsGranted  uint16 = 0x0005
	MessageSendServer     uint16 = 0x0006
	MessageServerMessage  uint16 = 0x0007
	MessageServerReplyMsg uint16 = 0x000b
	MessageServerAck      uint16 = 0x000c
	MessageTyping         uint16 = 0x0014
)

// BOS family (0x0009)
const (
	BOSRequestRights uint16 = 0x0002
	BOSRightsGranted uint16 = 0x0003
)

// List (server-side roster) family (0x0013)
const (
	ListError          uint16 = 0x0001
	ListRightsRequest  uint16 = 0x0002
	ListRightsGranted  uint16 = 0x0003
	ListRequestRoster  uint16 = 0x0005
	ListRosterReply    uint16 = 0x0006
	ListRosterAck      uint16 = 0x0007
	ListRosterAdd      uint16 = 0x0008
	ListRosterUpdate   uint16 = 0x0009
	ListRosterRemove   uint16 = 0x000a
	ListUpdateAck      uint16 = 0x000e
	ListRosterSynced   uint16 = 0x000f
	ListEditStart      uint16 = 0x0011
	ListEditEnd        uint16 = 0x0012
	ListAuthRequest    uint16 = 0x0018
	ListAuthRequestSrv uint16 = 0x0019
	ListAuthGrant      uint16 = 0x001a
	ListAuthResponse   uint16 = 0x001b
	ListAuthAdded      uint16 = 0x001c
)

// Various (extended metadata) family (0x0015)
const (
	VariousError      uint16 = 0x0001
	VariousMeta       uint16 = 0x0002
	VariousMetaReply  uint16 = 0x0003
	VariousMetaMarker uint16 = 0xd007 // BE marker of a meta request body
)

// Auth family (0x0017)
const (
	AuthError        uint16 = 0x0001
	AuthLogon        uint16 = 0x0002
	AuthLogonReply   uint16 = 0x0003
	AuthRegisterUser uint16 = 0x0004
	AuthNewUIN       uint16 = 0x0005
	AuthRequestSalt  uint16 = 0x0006
	AuthSaltReply    uint16 = 0x0007
	AuthRequestImage uint16 = 0x000c
	AuthSendImage    uint16 = 0x000d
)

// Roster item classes
const (
	RosterNormal    uint16 = 0x0000
	RosterGroup     uint16 = 0x0001
	RosterVisible   uint16 = 0x0002
	RosterInvisible uint16 = 0x0003
	RosterPDInfo    uint16 = 0x0004
	RosterIgnore    uint16 = 0x000e
)

// Roster item TLVs
const (
	RosterTLVGroupIDs     uint16 = 0x00c8
	RosterTLVPrivacy      uint16 = 0x00ca
	RosterTLVAwaitingAuth uint16 = 0x0066
	RosterTLVAlias        uint16 = 0x0131
	RosterTLVCellular     uint16 = 0x013a
)

// Roster update-ack error codes
const (
	RosterAckOK           uint16 = 0x0000
	RosterAckNotFound     uint16 = 0x0002
	RosterAckExists       uint16 = 0x0003
	RosterAckLimit        uint16 = 0x000c
	RosterAckAwaitingAuth uint16 = 0x000e
)

// Privacy settings (TLV 0x00CA)
const (
	PrivacyAllowAll   uint8 = 0x01
	PrivacyBlockAll   uint8 = 0x02
	PrivacyAllowPerms uint8 = 0x03
	PrivacyBlockDeny  uint8 = 0x04
	PrivacyAllowList  uint8 = 0x05
)

// ICQ status values; the low word is the status, the high word carries flags
const (
	StatusOnline   uint32 = 0x00000000
	StatusAway     uint32 = 0x00000001
	StatusDND      uint32 = 0x00000002
	StatusNA       uint32 = 0x00000004
	StatusOccupied uint32 = 0x00000010
	StatusFreeChat uint32 = 0x00000020
	StatusOffline  uint32 = 0x0000ffff

	StatusFlagPrivate     uint32 = 0x00000100 // invisible
	StatusFlagPFM         uint32 = 0x00000200
	StatusFlagPFMAvail    uint32 = 0x00000400
	StatusFlagWebPresence uint32 = 0x00010000
	StatusFlagHideIP      uint32 = 0x00020000
	StatusFlagBirthday    uint32 = 0x00080000
	StatusFlagDCAuth      uint32 = 0x10000000
	StatusFlagDCContacts  uint32 = 0x20000000

	AIMStatusAway uint16 = 0x0020
)

// Direct connection modes carried in the DC info TLV
const (
	ModeDenied   uint8 = 0x01
	ModeIndirect uint8 = 0x02
	ModeDirect   uint8 = 0x04

	TCPVersion uint16 = 8
)

// Typing notification values
const (
	TypingInactive uint16 = 0x0000
	TypingTyped    uint16 = 0x0001
	TypingActive   uint16 = 0x0002
)

// Message sub-commands carried by format 4 messages and offline messages
const (
	SubMsg          uint16 = 0x0001
	SubChat         uint16 = 0x0002
	SubFile         uint16 = 0x0003
	SubURL          uint16 = 0x0004
	SubAuthRequest  uint16 = 0x0006
	SubAuthRefused  uint16 = 0x0007
	SubAuthGranted  uint16 = 0x0008
	SubMsgServer    uint16 = 0x0009
	SubAddedToList  uint16 = 0x000c
	SubWebPanel     uint16 = 0x000d
	SubEmailPager   uint16 = 0x000e
	SubContactList  uint16 = 0x0013
	SubSMS          uint16 = 0x001a
	SubFlagMultiRec uint16 = 0x8000
)

// Meta request and reply commands (little-endian inside TLV 1)
const (
	MetaSysMsgRequest  uint16 = 0x003c
	MetaSysMsgDoneAck  uint16 = 0x003e
	MetaOfflineMessage uint16 = 0x0041
	MetaOfflineDone    uint16 = 0x0042
	MetaReply          uint16 = 0x07da
	MetaReplyAlt       uint16 = 0x07d0
	MetaRequest        uint16 = 0x07d0

	MetaSetPassword      uint16 = 0x042e
	MetaRequestAllInfo   uint16 = 0x04b2
	MetaRequestBasicInfo uint16 = 0x04ba
	MetaRequestOwnerInfo uint16 = 0x04d0
	MetaSearchByUIN      uint16 = 0x0569
	MetaSendSMS          uint16 = 0x1482

	MetaResultSuccess  uint8 = 0x0a
	MetaResultFailed   uint8 = 0x32
	MetaResultTimeout  uint8 = 0x14
	MetaResultRejected uint8 = 0x1e
)

// Meta reply sub-types
const (
	MetaReplySetDone      uint16 = 0x0064
	MetaReplySMS          uint16 = 0x0096
	MetaReplyGeneral      uint16 = 0x00c8
	MetaReplyWork         uint16 = 0x00d2
	MetaReplyMore         uint16 = 0x00dc
	MetaReplyAbout        uint16 = 0x00e6
	MetaReplyEmail        uint16 = 0x00eb
	MetaReplyInterests    uint16 = 0x00f0
	MetaReplyPastInfo     uint16 = 0x00fa
	MetaReplyBasic        uint16 = 0x0104
	MetaReplyHomepage     uint16 = 0x010e
	MetaReplySearchFound  uint16 = 0x0190
	MetaReplySearchLast   uint16 = 0x019a
	MetaReplyWhiteFound   uint16 = 0x01a4
	MetaReplyWhiteLast    uint16 = 0x01ae
	MetaReplyLastUserFlag uint16 = 0x0008
)

// Close-channel and logon-reply TLVs
const (
	CloseTLVAccount   uint16 = 0x0001
	CloseTLVServer    uint16 = 0x0005
	CloseTLVCookie    uint16 = 0x0006
	CloseTLVErrorCode uint16 = 0x0008
	CloseTLVDualLogin uint16 = 0x0009
)

// Legacy UDP commands
const (
	LegacyCmdAck      uint16 = 0x000a
	LegacyCmdLogon    uint16 = 0x03e8
	LegacyCmdRegister uint16 = 0x03fc
	LegacyCmdPing     uint16 = 0x042e
	LegacyCmdAddUser  uint16 = 0x053c
	LegacyCmdLogoff   uint16 = 0x0438

	LegacyHeaderSizeV2 = 10
	LegacyHeaderSizeV4 = 20
	LegacyHeaderSizeV5 = 24
)

// Default login server port when a redirect omits one
const DefaultServerPort = 5190
