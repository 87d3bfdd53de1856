package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
)

func decodeCmd() *cobra.Command {
	var sealed bool

	cmd := &cobra.Command{
		Use:   "decode [hex...]",
		Short: "Decode captured packets",
		Long: `Decode hex-encoded packets and print their headers. Each argument is
one packet; with no arguments packets are read from standard input, one per
line. FLAP frames are recognised by their start marker, anything else is read
as a legacy packet.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				for _, arg := range args {
					decodeOne(arg, sealed)
				}
				return nil
			}
			return decodeLines(cmd.InOrStdin(), sealed)
		},
	}
	cmd.Flags().BoolVar(&sealed, "sealed", false, "legacy packets are encrypted with the v4/v5 cipher")
	return cmd
}

func decodeLines(r io.Reader, sealed bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		decodeOne(line, sealed)
	}
	return scanner.Err()
}

func decodeOne(text string, sealed bool) {
	raw, err := hex.DecodeString(strings.NewReplacer(" ", "", ":", "").Replace(text))
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("✗"), "bad hex:", err)
		return
	}

	var p *protocol.Packet
	if sealed && (len(raw) == 0 || raw[0] != protocol.FlapStart) {
		p, err = protocol.DecodeSealed(raw)
	} else {
		p, err = protocol.Decode(raw)
	}
	if err != nil {
		fmt.Println(errorStyle.Render("✗"), err)
		if de, ok := protocol.AsDecodeError(err); ok {
			field("op", de.Op)
			field("offset", de.Offset)
		}
		return
	}

	fmt.Println(successStyle.Render("✓"), p)
	if p.Generation.IsLegacy() {
		field("uin", p.UIN)
		field("command", fmt.Sprintf("0x%04x", p.Command))
	} else if p.Channel == protocol.ChannelData {
		field("snac", fmt.Sprintf("0x%04x/0x%04x", p.Family, p.Subtype))
		field("flags", fmt.Sprintf("0x%04x", p.Flags))
		field("request id", p.RequestID)
	}
	if p.Generation.IsLegacy() || p.Channel == protocol.ChannelData {
		dumpPayload(p.Payload)
		return
	}
	if tlvs, err := protocol.ParseTLVs(p.Payload); err == nil && tlvs.Len() > 0 {
		for _, t := range tlvs.Entries() {
			field(fmt.Sprintf("tlv 0x%04x", t.Tag), hex.EncodeToString(t.Value))
		}
	}
	dumpPayload(p.Payload)
}

func dumpPayload(b []byte) {
	if len(b) > 0 {
		fmt.Print(hex.Dump(b))
	}
}
