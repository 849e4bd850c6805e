// Package chat keeps the ordered, deduplicated message log of one room
// and derives what the message list should display.
package chat

import (
	"context"
	"slices"
	"strings"
	"sync"

	"huddle/internal/codec"
	"huddle/internal/content"
	"huddle/internal/models"
	"huddle/internal/storage"

	"github.com/rs/zerolog/log"
)

const (
	// GroupWindow is the largest gap in milliseconds between two messages of
	// one sender that still renders them as a group.
	GroupWindow int64 = 120_000

	// NearBottom is the scroll distance in pixels treated as "at the bottom".
	NearBottom = 64
)

type Spacing int

const (
	SpacingWide Spacing = iota
	SpacingTight
)

// Sender is the outbound side of the chat channel.
type Sender interface {
	Send(v any) error
	State() models.ConnectionState
}

type ColorSource interface {
	Color(name string) string
}

type Config struct {
	Room   string
	Self   string
	Store  storage.LogStore
	Sender Sender
	Colors ColorSource
	Codec  codec.Codec

	// DownloadURL builds the link of a file message.
	DownloadURL func(room, fileName string) string

	OnChange func()
	OnNotice func(notice string)
}

// Row is one rendered line of the message list.
type Row struct {
	Message     models.Message
	ShowName    bool
	Spacing     Spacing
	Color       string
	Text        string
	HTML        string
	DownloadURL string
}

type Log struct {
	cfg Config

	mu       sync.RWMutex
	messages []models.Message
	ids      map[string]struct{}
	unread   int
	distance int
	state    models.ConnectionState
	draft    string
}

func New(cfg Config) *Log {
	return &Log{
		cfg:   cfg,
		ids:   make(map[string]struct{}),
		state: models.ConnectionClosed,
	}
}

// Load restores the persisted log of the room. It is called before the
// transport attaches so the last known state shows up immediately.
func (l *Log) Load() error {
	if l.cfg.Store == nil {
		return nil
	}
	stored, err := l.cfg.Store.LoadLog(l.cfg.Room)
	if err != nil {
		return err
	}

	for i := range stored {
		stored[i] = l.cfg.Codec.Canonical(stored[i])
	}

	l.mu.Lock()
	l.replace(stored)
	l.mu.Unlock()

	l.changed()
	return nil
}

// Run applies transport events in arrival order until events is closed or ctx is done.
func (l *Log) Run(ctx context.Context, events <-chan models.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			l.Apply(ev)
		}
	}
}

// Apply performs the single log mutation an event stands for.
func (l *Log) Apply(ev models.Event) {
	switch ev.Kind {
	case models.EventNotice:
		if l.cfg.OnNotice != nil {
			l.cfg.OnNotice(ev.Notice)
		}
		return
	case models.EventState:
		l.mu.Lock()
		l.state = ev.State
		l.mu.Unlock()
		l.changed()
		return
	}

	l.mu.Lock()
	mutated := false
	switch ev.Kind {
	case models.EventHistory:
		l.replace(ev.Messages)
		mutated = true
	case models.EventAppend:
		mutated = l.append(ev.Message)
	case models.EventDelete:
		mutated = l.tombstone(ev.ID)
	case models.EventClear:
		l.messages = nil
		clear(l.ids)
		l.unread = 0
		mutated = true
	default:
		log.Warn().Str("kind", string(ev.Kind)).Msg("unknown chat event")
	}
	if mutated {
		l.persist()
	}
	l.mu.Unlock()

	if mutated {
		l.changed()
	}
}

// Messages returns a copy of the log, tombstones included.
func (l *Log) Messages() []models.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.messages)
}

func (l *Log) UnreadCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.unread
}

func (l *Log) ConnectionState() models.ConnectionState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// SetScrollDistance records how far in pixels the viewer is from the bottom of the list.
// Getting back near the bottom marks everything as read.
func (l *Log) SetScrollDistance(px int) {
	l.mu.Lock()
	l.distance = max(px, 0)
	reset := l.distance <= NearBottom && l.unread > 0
	if reset {
		l.unread = 0
	}
	l.mu.Unlock()

	if reset {
		l.changed()
	}
}

func (l *Log) ScrollToBottom() {
	l.mu.Lock()
	l.distance = 0
	l.unread = 0
	l.mu.Unlock()
	l.changed()
}

func (l *Log) SetDraft(text string) {
	l.mu.Lock()
	l.draft = text
	l.mu.Unlock()
}

func (l *Log) Draft() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.draft
}

// SendDraft posts the current draft. The message only enters the log when the
// server echoes it back. On failure the draft is kept so nothing typed is lost.
func (l *Log) SendDraft() error {
	l.mu.RLock()
	text := strings.TrimSpace(l.draft)
	l.mu.RUnlock()

	if text == "" {
		return nil
	}
	if l.cfg.Sender == nil {
		return models.ErrNotConnected
	}
	if err := l.cfg.Sender.Send(models.NewChatFrame(l.cfg.Self, text)); err != nil {
		return err
	}

	l.mu.Lock()
	l.draft = ""
	l.mu.Unlock()
	l.changed()
	return nil
}

// DeleteForMe drops a message from the local log only.
func (l *Log) DeleteForMe(id string) {
	l.mu.Lock()
	idx := slices.IndexFunc(l.messages, func(m models.Message) bool { return m.ID == id })
	if idx >= 0 {
		l.messages = slices.Delete(l.messages, idx, idx+1)
		delete(l.ids, id)
		l.persist()
	}
	l.mu.Unlock()

	if idx >= 0 {
		l.changed()
	}
}

// DeleteForEveryone asks the server to delete a message and tombstones
// the local copy right away without waiting for confirmation.
func (l *Log) DeleteForEveryone(id string) error {
	if err := l.sendIntent(models.NewDeleteFrame(id, l.cfg.Self)); err != nil {
		return err
	}

	l.mu.Lock()
	mutated := l.tombstone(id)
	if mutated {
		l.persist()
	}
	l.mu.Unlock()

	if mutated {
		l.changed()
	}
	return nil
}

// ClearForEveryone asks the server to clear the room. The log is emptied
// when the server's clear frame arrives.
func (l *Log) ClearForEveryone() error {
	return l.sendIntent(models.NewClearFrame(l.cfg.Self))
}

// ClearLocal empties the log and forgets the persisted copy.
func (l *Log) ClearLocal() {
	l.mu.Lock()
	l.messages = nil
	clear(l.ids)
	l.unread = 0
	if l.cfg.Store != nil {
		if err := l.cfg.Store.DeleteLog(l.cfg.Room); err != nil {
			log.Warn().Err(err).Str("room", l.cfg.Room).Msg("delete persisted log")
		}
	}
	l.mu.Unlock()
	l.changed()
}

// View derives the rows of the message list.
func (l *Log) View() []Row {
	l.mu.RLock()
	msgs := slices.Clone(l.messages)
	l.mu.RUnlock()

	rows := make([]Row, 0, len(msgs))
	for i, m := range msgs {
		grouped := i > 0 && Grouped(msgs[i-1], m)
		row := Row{
			Message:  m,
			ShowName: !grouped,
			Spacing:  SpacingWide,
		}
		if grouped {
			row.Spacing = SpacingTight
		}
		if l.cfg.Colors != nil {
			row.Color = l.cfg.Colors.Color(m.Sender)
		}
		if !m.Deleted {
			row.Text = m.Text
			if m.Text != "" {
				row.HTML = content.Render(m.Text)
			}
			if m.FileName != "" && l.cfg.DownloadURL != nil {
				row.DownloadURL = l.cfg.DownloadURL(l.cfg.Room, m.FileName)
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// Grouped reports whether next continues the group started by prev.
// Out-of-order pairs are compared by absolute gap.
func Grouped(prev, next models.Message) bool {
	if prev.Sender != next.Sender {
		return false
	}
	gap := next.Timestamp - prev.Timestamp
	if gap < 0 {
		gap = -gap
	}
	return gap < GroupWindow
}

func (l *Log) sendIntent(frame any) error {
	if l.cfg.Sender == nil || l.cfg.Sender.State() != models.ConnectionOpen {
		return models.ErrNotConnected
	}
	return l.cfg.Sender.Send(frame)
}

// replace swaps the log for msgs, keeping the first occurrence of every id.
// Must be called with mu held.
func (l *Log) replace(msgs []models.Message) {
	clear(l.ids)
	l.messages = make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, dup := l.ids[m.ID]; dup {
			continue
		}
		l.ids[m.ID] = struct{}{}
		l.messages = append(l.messages, m)
	}
}

// Must be called with mu held.
func (l *Log) append(m models.Message) bool {
	if _, dup := l.ids[m.ID]; dup {
		return false
	}
	l.ids[m.ID] = struct{}{}
	l.messages = append(l.messages, m)

	if l.distance > NearBottom && m.Sender != l.cfg.Self && m.Kind != models.MessageKindSystem {
		l.unread++
	}
	return true
}

// Must be called with mu held.
func (l *Log) tombstone(id string) bool {
	for i := range l.messages {
		if l.messages[i].ID != id {
			continue
		}
		if l.messages[i].Deleted {
			return false
		}
		l.messages[i].Deleted = true
		return true
	}
	return false
}

// persist writes the whole log under the room key. Must be called with mu held
// so writes land in mutation order.
func (l *Log) persist() {
	if l.cfg.Store == nil {
		return
	}
	if err := l.cfg.Store.SaveLog(l.cfg.Room, l.messages); err != nil {
		log.Warn().Err(err).Str("room", l.cfg.Room).Msg("persist chat log")
	}
}

func (l *Log) changed() {
	if l.cfg.OnChange != nil {
		l.cfg.OnChange()
	}
}
