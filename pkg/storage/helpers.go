package storage

import (
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
	"github.com/ZentaChain/zentalk-icq/pkg/roster"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic("storage: CBOR encoder initialization failed: " + err.Error())
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic("storage: CBOR decoder initialization failed: " + err.Error())
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// storedTLV keeps the insertion order of an attribute block
type storedTLV struct {
	Tag   uint16 `cbor:"1,keyasint"`
	Value []byte `cbor:"2,keyasint"`
}

func encodeTLVs(block *protocol.TLVBlock) ([]byte, error) {
	if block == nil || block.Len() == 0 {
		return nil, nil
	}
	entries := block.Entries()
	out := make([]storedTLV, len(entries))
	for i, e := range entries {
		out[i] = storedTLV{Tag: e.Tag, Value: e.Value}
	}
	return encMode.Marshal(out)
}

func decodeTLVs(data []byte) (*protocol.TLVBlock, error) {
	block := protocol.NewTLVBlock()
	if len(data) == 0 {
		return block, nil
	}
	var entries []storedTLV
	if err := decMode.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	for _, e := range entries {
		block.Set(e.Tag, e.Value)
	}
	return block, nil
}

type storedPresence struct {
	Online        bool                  `cbor:"1,keyasint"`
	Status        uint32                `cbor:"2,keyasint"`
	OnlineSince   int64                 `cbor:"3,keyasint,omitempty"`
	IdleSince     int64                 `cbor:"4,keyasint,omitempty"`
	IP            uint32                `cbor:"5,keyasint,omitempty"`
	RealIP        uint32                `cbor:"6,keyasint,omitempty"`
	Port          uint32                `cbor:"7,keyasint,omitempty"`
	Mode          uint8                 `cbor:"8,keyasint,omitempty"`
	TCPVersion    uint16                `cbor:"9,keyasint,omitempty"`
	Capabilities  protocol.Capabilities `cbor:"10,keyasint"`
	PhoneFollowMe uint8                 `cbor:"11,keyasint,omitempty"`
	Updated       int64                 `cbor:"12,keyasint,omitempty"`
}

func encodePresence(p roster.Presence) ([]byte, error) {
	return encMode.Marshal(storedPresence{
		Online:        p.Online,
		Status:        p.Status,
		OnlineSince:   unixNano(p.OnlineSince),
		IdleSince:     unixNano(p.IdleSince),
		IP:            p.IP,
		RealIP:        p.RealIP,
		Port:          p.Port,
		Mode:          p.Mode,
		TCPVersion:    p.TCPVersion,
		Capabilities:  p.Capabilities,
		PhoneFollowMe: p.PhoneFollowMe,
		Updated:       unixNano(p.Updated),
	})
}

func decodePresence(data []byte) (roster.Presence, error) {
	if len(data) == 0 {
		return roster.Presence{}, nil
	}
	var s storedPresence
	if err := decMode.Unmarshal(data, &s); err != nil {
		return roster.Presence{}, err
	}
	return roster.Presence{
		Online:        s.Online,
		Status:        s.Status,
		OnlineSince:   fromUnixNano(s.OnlineSince),
		IdleSince:     fromUnixNano(s.IdleSince),
		IP:            s.IP,
		RealIP:        s.RealIP,
		Port:          s.Port,
		Mode:          s.Mode,
		TCPVersion:    s.TCPVersion,
		Capabilities:  s.Capabilities,
		PhoneFollowMe: s.PhoneFollowMe,
		Updated:       fromUnixNano(s.Updated),
	}, nil
}
