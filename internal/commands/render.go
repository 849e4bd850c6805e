package commands

import (
	"fmt"
	"strings"
	"time"

	"huddle/internal/chat"
	"huddle/internal/models"

	"github.com/charmbracelet/lipgloss"
)

const timeLayout = "15:04"

// Renderer formats chat rows for a terminal. Names are colored with the
// sender's presence color when the terminal supports it.
type Renderer struct {
	Location *time.Location

	timeStyle    lipgloss.Style
	idStyle      lipgloss.Style
	systemStyle  lipgloss.Style
	deletedStyle lipgloss.Style
	statusStyle  lipgloss.Style
}

func NewRenderer() *Renderer {
	return &Renderer{
		Location:     time.Local,
		timeStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		idStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("238")),
		systemStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true),
		deletedStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true),
		statusStyle:  lipgloss.NewStyle().Bold(true),
	}
}

// Row renders one line of the message list.
func (r *Renderer) Row(row chat.Row) string {
	m := row.Message
	stamp := time.UnixMilli(m.Timestamp).In(r.location()).Format(timeLayout)

	var prefix string
	switch {
	case m.Kind == models.MessageKindSystem:
		prefix = r.timeStyle.Render(stamp) + " *"
	case row.ShowName:
		name := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(row.Color)).Render(m.Sender)
		prefix = r.timeStyle.Render(stamp) + " " + name + ":"
	default:
		prefix = strings.Repeat(" ", len(stamp)) + "  "
	}

	var body string
	switch {
	case m.Deleted:
		body = r.deletedStyle.Render("message deleted")
	case m.Kind == models.MessageKindSystem:
		body = r.systemStyle.Render(row.Text)
	case m.Kind == models.MessageKindFile:
		body = fmt.Sprintf("shared %s", m.FileName)
		if m.FileType != "" {
			body += " (" + m.FileType + ")"
		}
		if row.DownloadURL != "" {
			body += " " + row.DownloadURL
		}
	default:
		body = row.Text
	}

	line := prefix + " " + body + "  " + r.idStyle.Render("#"+m.ID)
	if row.ShowName && row.Spacing == chat.SpacingWide {
		return "\n" + line
	}
	return line
}

// Status renders the connection line shown above the input.
func (r *Renderer) Status(room string, state models.ConnectionState, unread int) string {
	label := map[models.ConnectionState]string{
		models.ConnectionOpen:       "connected",
		models.ConnectionConnecting: "connecting…",
		models.ConnectionClosed:     "disconnected",
	}[state]
	if label == "" {
		label = string(state)
	}
	status := fmt.Sprintf("#%s %s", room, label)
	if unread > 0 {
		status += fmt.Sprintf(" (%d unread)", unread)
	}
	return r.statusStyle.Render(status)
}

func (r *Renderer) location() *time.Location {
	if r.Location == nil {
		return time.Local
	}
	return r.Location
}
