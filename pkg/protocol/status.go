package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var statusNames = []struct {
	name   string
	status uint32
}{
	{"online", StatusOnline},
	{"away", StatusAway},
	{"dnd", StatusDND},
	{"na", StatusNA},
	{"occupied", StatusOccupied},
	{"freechat", StatusFreeChat},
	{"invisible", StatusOnline | StatusFlagPrivate},
	{"offline", StatusOffline},
}

// ErrUnknownStatus is returned by ParseStatus
var ErrUnknownStatus = errors.New("unknown status")

// ParseStatus maps a status name to its wire value
func ParseStatus(s string) (uint32, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return StatusOnline, nil
	}
	for _, n := range statusNames {
		if n.name == key {
			return n.status, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// statusBits masks the mode bits out of a status; the flag bits start at
// StatusFlagPrivate
const statusBits uint32 = 0xff

// StatusName names the mode of a status; an invisible online status is
// "invisible"
func StatusName(status uint32) string {
	if status&0xffff == StatusOffline {
		return "offline"
	}
	mode := status & statusBits
	if mode == StatusOnline && status&StatusFlagPrivate != 0 {
		return "invisible"
	}
	// Several bits can be set; the ones with the highest precedence win
	switch {
	case mode&StatusDND != 0:
		return "dnd"
	case mode&StatusOccupied != 0:
		return "occupied"
	case mode&StatusNA != 0:
		return "na"
	case mode&StatusAway != 0:
		return "away"
	case mode&StatusFreeChat != 0:
		return "freechat"
	}
	return "online"
}
