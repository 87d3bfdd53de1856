package protocol

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"
)

func testContext(gen Generation) EncodeContext {
	return EncodeContext{
		Generation:  gen,
		Seq:         NewSequencer(42),
		SubSequence: 0x0107,
		OwnerUIN:    123456789,
		OwnerID:     "123456789",
	}
}

func mustEncode(t *testing.T, req Request, ctx EncodeContext) (*Outbound, *Packet) {
	t.Helper()
	out, err := Encode(req, ctx)
	if err != nil {
		t.Fatalf("Encode(%s) error = %v", RequestName(req), err)
	}
	if ctx.Generation.IsLegacy() {
		return out, nil
	}
	p, err := Decode(out.Bytes)
	if err != nil {
		t.Fatalf("Decode(%s) error = %v", RequestName(req), err)
	}
	return out, p
}

func unhex(s string) []byte {
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		panic(err)
	}
	return b
}

func TestEncodeRoundTripHeaders(t *testing.T) {
	requests := []Request{
		NewConnectStart(),
		NewPing(),
		NewLogoff(),
		NewClientReady(),
		NewRateAck(),
		NewListRequestRights(),
		NewRequestRights(FamilyBOS),
		NewSetStatus(StatusAway, 0x0100007f, 0, false),
		NewThroughServer("7654321", SubMsg, "hello", CharsetASCII, false),
		NewAddToServerList(RosterItem{Name: "7654321", GSID: 1, SID: 2, Type: RosterNormal}, true),
		NewSearchByUIN(7654321),
		NewEditStart(true),
	}

	for _, req := range requests {
		t.Run(RequestName(req), func(t *testing.T) {
			out, p := mustEncode(t, req, testContext(GenerationTCPv7))

			if p.Channel != out.Channel || p.Sequence != out.Sequence {
				t.Errorf("frame = ch %d seq %d, want ch %d seq %d", p.Channel, p.Sequence, out.Channel, out.Sequence)
			}
			if int(uint16(len(out.Bytes)-FlapHeaderSize)) != len(p.Raw)-FlapHeaderSize {
				t.Errorf("length field does not match payload")
			}
			if out.HasSnac() {
				if p.Family != out.Family || p.Subtype != out.Subtype {
					t.Errorf("snac = 0x%04x/0x%04x, want 0x%04x/0x%04x", p.Family, p.Subtype, out.Family, out.Subtype)
				}
				if p.Key() != 0x0107 {
					t.Errorf("Key() = %x, want 0107", p.Key())
				}
			}
		})
	}
}

func TestListRightsSnac(t *testing.T) {
	out, p := mustEncode(t, NewListRequestRights(), testContext(GenerationTCPv7))
	if out.Family != FamilyList || out.Subtype != ListRightsRequest {
		t.Errorf("outbound snac = 0x%04x/0x%04x, want 0x%04x/0x%04x", out.Family, out.Subtype, FamilyList, ListRightsRequest)
	}
	if p.Subtype != ListRightsRequest {
		t.Errorf("decoded subtype = 0x%04x, want 0x%04x", p.Subtype, ListRightsRequest)
	}
}

func TestEncodeExactPayloads(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string // payload after the FLAP header (and SNAC header for data frames)
	}{
		{"connect start", NewConnectStart(), "00000001 80030004 00100000"},
		{"register first", NewRegisterFirst(), "00000001"},
		{"logoff", NewLogoff(), ""},
		{"rate ack", NewRateAck(), "00010002 00030004 0005"},
		{"list rights", NewListRequestRights(), "000b 0002 000f"},
		{"request service", NewRequestService(FamilyBART), "0010"},
		{"icq mode", NewICQMode(1, 11), "0001 0000000b 1f40 03e7 03e7 0000 0000"},
		{"request list", NewRequestList(0x11223344, 5), "11223344 0005"},
		{"export start", NewEditStart(true), "00010000"},
		{"edit start", NewEditStart(false), ""},
		{"buddy add", NewBuddyList([]string{"1", "22"}, false), "01 31 02 3232"},
		{"authorize", NewAuthorize("42"), "02 3432 01 00000000"},
		{"request auth", NewRequestAuth("42", "hi"), "02 3432 0002 6869 0000"},
		{"typing", NewTypingNotification("42", true), "00000000 00000000 0001 02 3432 0002"},
		{"away message", NewRequestAwayMessage("42"), "0003 02 3432"},
		{"request info", NewRequestInfo("42"), "00000003 02 3432"},
		{"set privacy", NewSetPrivacy(0x0abc, PrivacyBlockAll), "00000000 0abc 0004 0005 00ca 0001 02"},
		{"add pdinfo", NewAddPDInfo(0x0abc, PrivacyAllowAll), "0000 0000 0abc 0004 0005 00ca 0001 01"},
		{"invisible status", NewSetStatus(StatusFlagPrivate|StatusFlagPFM, 0, 0, true), "0006 0004 00000100"},
		{
			"search by uin",
			NewSearchByUIN(7654321),
			"0001 0014 1200 15cd5b07 d007 0107 6905 36010400 b1cb7400",
		},
		{
			"all info for a contact",
			NewRequestAllInfo(7654321, false),
			"0001 0010 0e00 15cd5b07 d007 0107 b204 b1cb7400",
		},
		{
			"offline messages",
			NewRequestSysMsg(),
			"0001000a 0800 15cd5b07 3c00 0200",
		},
		{
			"offline messages done",
			NewSysMsgDoneAck(0x1234),
			"0001000a 0800 15cd5b07 3e00 1234",
		},
		{
			"basic info",
			NewRequestBasicInfo(7654321),
			"0001000e 0c00 15cd5b07 ba04 0701 b1cb7400",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, p := mustEncode(t, tt.req, testContext(GenerationTCPv7))
			want := unhex(tt.want)
			if !bytes.Equal(p.Payload, want) {
				t.Errorf("%s payload = %x, want %x", out.Name, p.Payload, want)
			}
		})
	}
}

func TestEncodeSetStatusDirectInfo(t *testing.T) {
	_, p := mustEncode(t, NewSetStatus(StatusAway|StatusFlagPFMAvail, 0x0100007f, 4000, true), testContext(GenerationTCPv7))

	block, err := ParseTLVs(p.Payload)
	if err != nil {
		t.Fatalf("ParseTLVs() error = %v", err)
	}
	if v, _ := block.Uint32(0x0006); v != StatusAway {
		t.Errorf("status = %x, want %x (PFM flags stripped)", v, StatusAway)
	}
	dc, ok := block.Get(0x000c)
	if !ok || len(dc) != 0x25 {
		t.Fatalf("direct connection TLV length = %d, want 37", len(dc))
	}
	if !bytes.Equal(dc[:4], []byte{0x7f, 0x00, 0x00, 0x01}) {
		t.Errorf("ip = %x, want little-endian 127.0.0.1", dc[:4])
	}
	if dc[8] != ModeDirect {
		t.Errorf("mode = %x, want %x", dc[8], ModeDirect)
	}
	if !block.Has(0x0008) {
		t.Error("error-code TLV missing")
	}
}

func TestEncodeRoastedLogon(t *testing.T) {
	out, p := mustEncode(t, NewLogonRequest("123456789", "password123"), testContext(GenerationTCPv7))
	if out.Channel != ChannelNew {
		t.Fatalf("channel = %d, want %d", out.Channel, ChannelNew)
	}

	b := p.Body()
	if v, _ := b.Uint32BE(); v != 1 {
		t.Fatalf("version = %d, want 1", v)
	}
	block, err := ReadTLVs(b, -1)
	if err != nil {
		t.Fatalf("ReadTLVs() error = %v", err)
	}
	roasted, _ := block.Get(0x0002)
	if len(roasted) != 8 {
		t.Fatalf("roasted password length = %d, want 8", len(roasted))
	}
	for i := range roasted {
		if roasted[i]^roastTable[i] != "password"[i] {
			t.Errorf("roasted byte %d = %x", i, roasted[i])
		}
	}
	if s, _ := block.String(0x0003); s != "ICQBasic" {
		t.Errorf("client id = %q", s)
	}
}

func TestEncodeSaltedLogon(t *testing.T) {
	_, p := mustEncode(t, NewNewLogon("123456789", "password123", "4242"), testContext(GenerationTCPv7))
	block, err := ParseTLVs(p.Payload)
	if err != nil {
		t.Fatalf("ParseTLVs() error = %v", err)
	}
	want := md5.Sum([]byte("4242" + "password" + "AOL Instant Messenger (SM)"))
	if got, _ := block.Get(0x0025); !bytes.Equal(got, want[:]) {
		t.Errorf("hash = %x, want %x", got, want)
	}
}

func TestEncodeRegistration(t *testing.T) {
	_, p := mustEncode(t, NewSendVerification("secret", "ABCD"), testContext(GenerationTCPv7))
	b := p.Body()
	tag, _ := b.Uint16BE()
	length, _ := b.Uint16BE()
	if tag != 1 || int(length) != len("secret")+51 {
		t.Errorf("registration TLV = %x/%d, want 1/%d", tag, length, len("secret")+51)
	}
	_ = b.Skip(int(length))
	rest, err := ReadTLVs(b, -1)
	if err != nil {
		t.Fatalf("ReadTLVs() error = %v", err)
	}
	if s, _ := rest.String(0x0009); s != "ABCD" {
		t.Errorf("verification code = %q", s)
	}
}

func TestEncodeThroughServerFormats(t *testing.T) {
	ctx := testContext(GenerationTCPv7)

	_, p := mustEncode(t, NewThroughServer("42", SubMsg, "hi", CharsetUCS2BE, true), ctx)
	b := p.Body()
	_ = b.Skip(8)
	if f, _ := b.Uint16BE(); f != 1 {
		t.Fatalf("format = %d, want 1", f)
	}
	if id, _ := b.String8(); id != "42" {
		t.Errorf("recipient = %q", id)
	}
	block, err := ReadTLVs(b, -1)
	if err != nil {
		t.Fatalf("ReadTLVs() error = %v", err)
	}
	msg, _ := block.Get(0x0002)
	want := unhex("0501 0001 01 0101 0008 0002 0000 0068 0069")
	if !bytes.Equal(msg, want) {
		t.Errorf("message block = %x, want %x", msg, want)
	}
	if !block.Has(0x0006) {
		t.Error("offline TLV missing")
	}

	_, p = mustEncode(t, NewThroughServer("42", SubURL, "http://x\xfeurl", 0, false), ctx)
	b = p.Body()
	_ = b.Skip(8)
	if f, _ := b.Uint16BE(); f != 4 {
		t.Fatalf("format = %d, want 4", f)
	}
	_, _ = b.String8()
	block, _ = ReadTLVs(b, -1)
	typed, _ := block.Get(0x0005)
	r := NewReader(typed)
	if uin, _ := r.Uint32LE(); uin != 123456789 {
		t.Errorf("owner uin = %d", uin)
	}
	if kind, _ := r.Uint8(); uint16(kind) != SubURL {
		t.Errorf("type = %d, want %d", kind, SubURL)
	}
	_ = r.Skip(1)
	if s, _ := r.StringLE(); s != "http://x\xfeurl" {
		t.Errorf("text = %q", s)
	}
	if block.Has(0x0006) {
		t.Error("offline TLV present on an online message")
	}
}

func TestEncodeRosterItems(t *testing.T) {
	tlvs := NewTLVBlock()
	tlvs.Set(RosterTLVAlias, []byte("Bob"))
	item := RosterItem{Name: "42", GSID: 0x0010, SID: 0x0200, Type: RosterNormal, TLVs: tlvs}

	_, p := mustEncode(t, NewAddToServerList(item, true), testContext(GenerationTCPv7))
	want := unhex("0002 3432 0010 0200 0000 000b 0131 0003 426f62 0066 0000")
	if !bytes.Equal(p.Payload, want) {
		t.Errorf("add payload = %x, want %x", p.Payload, want)
	}
	if tlvs.Has(RosterTLVAwaitingAuth) {
		t.Error("encoding mutated the caller's TLVs")
	}

	tlvs.Set(RosterTLVAwaitingAuth, nil)
	_, p = mustEncode(t, NewUpdateToServerList(item, true), testContext(GenerationTCPv7))
	if p.Subtype != ListRosterUpdate {
		t.Errorf("subtype = %x", p.Subtype)
	}
	if bytes.Count(p.Payload, []byte{0x00, 0x66, 0x00, 0x00}) != 1 {
		t.Errorf("awaiting-auth TLV duplicated: %x", p.Payload)
	}

	groups := []RosterItem{
		{Name: "Friends", GSID: 1, Type: RosterGroup},
		{Name: "Work", GSID: 2, Type: RosterGroup},
	}
	_, p = mustEncode(t, NewExportItems(groups), testContext(GenerationTCPv7))
	want = unhex("0007 467269656e6473 0001 0000 0001 0000 0004 576f726b 0002 0000 0001 0000")
	if !bytes.Equal(p.Payload, want) {
		t.Errorf("export payload = %x, want %x", p.Payload, want)
	}
}

func TestEncodeSMS(t *testing.T) {
	at := time.Date(2024, time.March, 5, 10, 30, 0, 0, time.UTC)
	_, p := mustEncode(t, NewSendSMS("+1 (555) 010-99", "ping", "Ann", at), testContext(GenerationTCPv7))

	b := p.Body()
	_ = b.Skip(4)
	remaining, _ := b.Uint16LE()
	if int(remaining) != b.Remaining() {
		t.Errorf("bytes remaining = %d, actual %d", remaining, b.Remaining())
	}
	body := string(p.Payload)
	for _, part := range []string{
		"<destination>155501099</destination>",
		"<text>ping</text>",
		"<senders_UIN>123456789</senders_UIN>",
		"<senders_name>Ann</senders_name>",
		"<time>Tue, 05 Mar 2024 10:30:00 GMT</time>",
	} {
		if !strings.Contains(body, part) {
			t.Errorf("sms xml missing %q", part)
		}
	}
	if p.Payload[len(p.Payload)-1] != 0 {
		t.Error("sms xml is not NUL terminated")
	}
}

func TestEncodeSendCookieReseedsService(t *testing.T) {
	ctx := testContext(GenerationTCPv7)
	ctx.Service = 2
	for i := 0; i < 5; i++ {
		ctx.Seq.NextFlap(2)
	}
	out, _ := mustEncode(t, NewSendCookie([]byte{1, 2, 3}, 2), ctx)
	if !inLoginFix(out.Sequence) {
		t.Errorf("cookie frame seq = %d, want a login-table seed", out.Sequence)
	}
}

func TestEncodeGenerationMismatch(t *testing.T) {
	if _, err := Encode(NewPing(), testContext(GenerationUDPv5)); !errors.Is(err, ErrUnsupportedGeneration) {
		t.Errorf("Encode(Ping, v5) error = %v", err)
	}
	if _, err := Encode(NewLegacyPing(), testContext(GenerationTCPv7)); !errors.Is(err, ErrUnsupportedGeneration) {
		t.Errorf("Encode(LegacyPing, v7) error = %v", err)
	}
	if _, err := Encode(NewRequestRights(FamilyList), testContext(GenerationTCPv7)); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("Encode(rights for list) error = %v", err)
	}
	if _, err := Encode(NewPing(), EncodeContext{Generation: GenerationTCPv7}); err != ErrNoSequencer {
		t.Errorf("Encode without sequencer error = %v", err)
	}
}

func TestEncodeLegacy(t *testing.T) {
	for _, gen := range []Generation{GenerationUDPv4, GenerationUDPv5} {
		ctx := testContext(gen)

		out, err := Encode(NewLegacyAddUser(7654321), ctx)
		if err != nil {
			t.Fatalf("%s: Encode() error = %v", gen, err)
		}
		p, err := DecodeSealed(out.Bytes)
		if err != nil {
			t.Fatalf("%s: DecodeSealed() error = %v", gen, err)
		}
		if p.Command != LegacyCmdAddUser || p.UIN != 123456789 {
			t.Errorf("%s: header = %+v", gen, p)
		}
		if uin, _ := p.Body().Uint32LE(); uin != 7654321 {
			t.Errorf("%s: body uin = %d", gen, uin)
		}

		ack, err := Encode(NewLegacyAck(0x0033, 0x0044), ctx)
		if err != nil {
			t.Fatalf("%s: Encode(ack) error = %v", gen, err)
		}
		p, err = DecodeSealed(ack.Bytes)
		if err != nil {
			t.Fatalf("%s: DecodeSealed(ack) error = %v", gen, err)
		}
		if p.Sequence != 0x0033 || p.SubSequence != 0x0044 {
			t.Errorf("%s: ack pair = %x/%x", gen, p.Sequence, p.SubSequence)
		}
	}
}

func TestEncodeLegacyRegister(t *testing.T) {
	out, err := Encode(NewLegacyRegister("pw"), testContext(GenerationUDPv2))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want := unhex("0200 fc03 0100 0200 0300 707700 7200 0000")
	if !bytes.Equal(out.Bytes, want) {
		t.Errorf("v2 register = %x, want %x", out.Bytes, want)
	}

	ctx := testContext(GenerationUDPv5)
	out, err = Encode(NewLegacyRegister("pw"), ctx)
	if err != nil {
		t.Fatalf("Encode(v5) error = %v", err)
	}
	p, err := DecodeSealed(out.Bytes)
	if err != nil {
		t.Fatalf("DecodeSealed() error = %v", err)
	}
	if p.SubSequence != 1 || p.Sequence > 0x7fff || p.UIN != 0 {
		t.Errorf("register header = %+v", p)
	}
	if ctx.Seq.SessionID() > 0x3fffffff {
		t.Errorf("session id = %x", ctx.Seq.SessionID())
	}
}

func TestRequestName(t *testing.T) {
	if got := RequestName(NewSetStatus(0, 0, 0, false)); got != "SetStatus" {
		t.Errorf("RequestName() = %q, want SetStatus", got)
	}
}
