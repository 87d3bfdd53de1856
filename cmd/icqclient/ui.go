package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/ZentaChain/zentalk-icq/pkg/notify"
	"github.com/ZentaChain/zentalk-icq/pkg/protocol"
)

const banner = `
  ╦╔═╗╔═╗  ┌─┐┬  ┬┌─┐┌┐┌┌┬┐
  ║║  ║═╬╗ │  │  │├┤ │││ │
  ╩╚═╝╚═╝╚ └─┘┴─┘┴└─┘┘└┘ ┴
`

var (
	bannerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	kindStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("111")).Bold(true)
)

func printBanner() {
	fmt.Println(bannerStyle.Render(banner))
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Println(successStyle.Render("✓"), fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Println(warnStyle.Render("⚠"), fmt.Sprintf(format, args...))
}

// field prints one aligned label/value line
func field(label string, value any) {
	fmt.Println(labelStyle.Render(label), value)
}

func presenceLabel(p notify.Presence) string {
	label := protocol.StatusName(p.Status)
	if p.Idle {
		label += " (idle)"
	}
	if p.IP != "" {
		label += " " + p.IP
	}
	return label
}
