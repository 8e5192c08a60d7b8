package chatview

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"marketplace-client/internal/api"
	"marketplace-client/internal/runstatus"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	selfStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	peerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	timeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	noticeStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("245"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	liveBadge    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("10")).Padding(0, 1)
	pendingBadge = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("11")).Padding(0, 1)
	downBadge    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("9")).Padding(0, 1)
)

func (m *model) View() string {
	if m.width == 0 {
		return "initializing..."
	}
	title := fmt.Sprintf("Listing #%d with %s", m.opts.ItemID, m.opts.Counterpart)
	header := titleStyle.Render(ansi.Truncate(title, max(m.width, 1), "…"))

	statusLine := statusBadge(m.status)
	room := max(m.width-lipgloss.Width(statusLine)-1, 1)
	switch {
	case m.notice != "":
		statusLine += " " + errorStyle.Render(ansi.Truncate(m.notice, room, "…"))
	case m.warning != "":
		statusLine += " " + noticeStyle.Render(ansi.Truncate(m.warning, room, "…"))
	}
	help := helpStyle.Render("enter send • pgup/pgdown scroll • esc quit")

	return strings.Join([]string{
		header,
		m.transcript.View(),
		statusLine,
		m.input.View(),
		help,
	}, "\n")
}

func statusBadge(status string) string {
	label := strings.TrimSpace(status)
	if label == "" {
		label = runstatus.Disconnected
	}
	switch runstatus.Key(label) {
	case runstatus.KeyConnected:
		return liveBadge.Render(label)
	case runstatus.KeyConnecting, runstatus.KeyReconnecting:
		return pendingBadge.Render(label)
	default:
		return downBadge.Render(label)
	}
}

func (m *model) refreshTranscript(follow bool) {
	width := max(m.transcript.Width, 1)
	lines := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		var line string
		if e.notice != "" {
			line = noticeStyle.Render(e.notice)
		} else {
			line = formatMessage(e.message, m.opts.Identity)
		}
		lines = append(lines, ansi.Wrap(line, width, ""))
	}
	m.transcript.SetContent(strings.Join(lines, "\n"))
	if follow {
		m.transcript.GotoBottom()
	}
}

func formatMessage(msg api.ChatMessage, identity string) string {
	name := peerStyle.Render(msg.SenderID)
	if strings.EqualFold(strings.TrimSpace(msg.SenderID), strings.TrimSpace(identity)) {
		name = selfStyle.Render("you")
	}
	prefix := ""
	if stamp := formatTimestamp(msg.Timestamp); stamp != "" {
		prefix = timeStyle.Render(stamp) + " "
	}
	return prefix + name + ": " + msg.Content
}

// formatTimestamp accepts the server's ISO timestamps with or without a zone.
func formatTimestamp(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.Local().Format("15:04")
		}
	}
	return ""
}

func otherConversationNotice(msg api.ChatMessage, identity string) string {
	peer := msg.SenderID
	if strings.EqualFold(strings.TrimSpace(msg.SenderID), strings.TrimSpace(identity)) {
		peer = msg.RecipientID
	}
	return fmt.Sprintf("new message with %s about listing #%d", peer, msg.ItemID)
}
