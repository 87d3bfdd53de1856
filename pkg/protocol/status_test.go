package protocol

import (
	"errors"
	"testing"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
	}{
		{"", StatusOnline},
		{"Away", StatusAway},
		{" na ", StatusNA},
		{"invisible", StatusFlagPrivate},
		{"offline", StatusOffline},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			if err != nil {
				t.Fatalf("ParseStatus(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseStatus(%q) = 0x%x, want 0x%x", tt.in, got, tt.want)
			}
		})
	}

	if _, err := ParseStatus("sleeping"); !errors.Is(err, ErrUnknownStatus) {
		t.Errorf("ParseStatus(sleeping) error = %v, want ErrUnknownStatus", err)
	}
}

func TestStatusName(t *testing.T) {
	tests := map[uint32]string{
		StatusOnline:                      "online",
		StatusOnline | StatusFlagPrivate:  "invisible",
		StatusAway | StatusFlagDCAuth:     "away",
		StatusNA | StatusAway:             "na",
		StatusDND | StatusOccupied:        "dnd",
		StatusOffline:                     "offline",
		StatusFreeChat | StatusFlagHideIP: "freechat",
		StatusFlagPrivate | StatusFlagPFM: "invisible",
		StatusAway | StatusFlagPrivate:    "away",
		StatusOffline | StatusFlagDCAuth:  "offline",
	}
	for status, want := range tests {
		if got := StatusName(status); got != want {
			t.Errorf("StatusName(0x%x) = %q, want %q", status, got, want)
		}
	}
}
