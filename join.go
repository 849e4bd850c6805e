package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"huddle/internal/commands"
	"huddle/internal/config"
	"huddle/internal/models"
	"huddle/internal/session"

	"github.com/rs/zerolog/log"
)

// terminal prints the chat log incrementally. A row is printed again only
// when it turns into a tombstone.
type terminal struct {
	out      io.Writer
	renderer *commands.Renderer

	mu      sync.Mutex
	printed map[string]bool // id -> deleted when printed
	state   models.ConnectionState
}

func newTerminal(out io.Writer) *terminal {
	return &terminal{
		out:      out,
		renderer: commands.NewRenderer(),
		printed:  make(map[string]bool),
	}
}

func (t *terminal) draw(s *session.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state := s.Chat.ConnectionState(); state != t.state {
		t.state = state
		_, _ = fmt.Fprintln(t.out, t.renderer.Status(s.Room(), state, s.Chat.UnreadCount()))
	}

	rows := s.Chat.View()
	if len(rows) == 0 && len(t.printed) > 0 {
		clear(t.printed)
		_, _ = fmt.Fprintln(t.out, "-- room cleared --")
		return
	}

	for _, row := range rows {
		deleted, seen := t.printed[row.Message.ID]
		if seen && deleted == row.Message.Deleted {
			continue
		}
		t.printed[row.Message.ID] = row.Message.Deleted
		_, _ = fmt.Fprintln(t.out, t.renderer.Row(row))
	}
}

func (t *terminal) notice(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = fmt.Fprintln(t.out, "! "+text)
}

func runJoin(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	term := newTerminal(out)
	redraw := make(chan struct{}, 1)
	notify := func() {
		select {
		case redraw <- struct{}{}:
		default:
		}
	}

	s, err := session.New(cfg, session.Options{
		OnChatChange: notify,
		OnNotice:     term.notice,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Msg("close session")
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	env := commands.Env{Chat: s.Chat, Upload: s.Upload, Out: out}
	term.draw(s)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-redraw:
			term.draw(s)
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			cmd, err := commands.Parse(line)
			if err != nil {
				term.notice(err.Error())
				continue
			}
			quit, err := commands.Execute(ctx, env, cmd)
			if err != nil {
				term.notice(describe(err))
			}
			if quit {
				break loop
			}
		}
	}

	cancel()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func describe(err error) string {
	if errors.Is(err, models.ErrNotConnected) {
		return "not connected, try again once the room is back"
	}
	return err.Error()
}
