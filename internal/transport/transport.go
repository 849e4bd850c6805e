// Package transport owns the reconnecting chat channel.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"huddle/internal/codec"
	"huddle/internal/models"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMinBackoff = 500 * time.Millisecond
	DefaultMaxBackoff = 10 * time.Second
	eventBuffer       = 64
)

var ErrAlreadyRunning = errors.New("transport already running")

// Conn is the part of a websocket connection the transport uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

type DialFunc func(ctx context.Context, url string) (Conn, error)

// Dial opens a websocket with gorilla's default dialer.
func Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Config struct {
	URL        string
	Dial       DialFunc
	Clock      clock.Clock
	Codec      codec.Codec
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Transport is a duplex message channel that reconnects forever until its context ends.
// Inbound frames are decoded and emitted in arrival order, one event per frame.
type Transport struct {
	cfg     Config
	events  chan models.Event
	running atomic.Bool

	mu    sync.RWMutex
	state models.ConnectionState
	conn  Conn

	writeMu sync.Mutex
}

func New(cfg Config) *Transport {
	if cfg.Dial == nil {
		cfg.Dial = Dial
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Codec.Now == nil {
		cfg.Codec.Now = cfg.Clock.Now
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = DefaultMinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = max(DefaultMaxBackoff, cfg.MinBackoff)
	}
	return &Transport{
		cfg:    cfg,
		events: make(chan models.Event, eventBuffer),
		state:  models.ConnectionClosed,
	}
}

// Events is closed when Run returns.
func (t *Transport) Events() <-chan models.Event {
	return t.events
}

func (t *Transport) State() models.ConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Run connects and keeps reconnecting with exponential backoff until ctx is done.
// On return the channel is closed, the state is closed and Events is closed.
func (t *Transport) Run(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer t.teardown()

	backoff := t.cfg.MinBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}

		t.setState(ctx, models.ConnectionConnecting)
		conn, err := t.cfg.Dial(ctx, t.cfg.URL)
		if err == nil {
			backoff = t.cfg.MinBackoff
			err = t.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			return nil
		}

		t.setState(ctx, models.ConnectionClosed)
		log.Warn().Err(err).Str("url", t.cfg.URL).Dur("retry_in", backoff).Msg("chat channel down")

		select {
		case <-ctx.Done():
			return nil
		case <-t.cfg.Clock.After(backoff):
		}
		backoff = min(backoff*2, t.cfg.MaxBackoff)
	}
}

// Send writes one frame. It fails with ErrNotConnected unless the channel is open;
// nothing is queued for later delivery.
func (t *Transport) Send(v any) error {
	t.mu.RLock()
	conn, state := t.conn, t.state
	t.mu.RUnlock()

	if state != models.ConnectionOpen || conn == nil {
		return models.ErrNotConnected
	}

	t.writeMu.Lock()
	err := conn.WriteJSON(v)
	t.writeMu.Unlock()

	if err != nil {
		// The read loop notices the closed connection and reconnects.
		t.dropConn(conn)
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

func (t *Transport) serve(ctx context.Context, conn Conn) error {
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.setState(ctx, models.ConnectionOpen)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Go(func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		t.dropConn(conn)
	})
	defer func() {
		close(done)
		wg.Wait()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if !t.emit(ctx, t.cfg.Codec.Decode(data)) {
			return ctx.Err()
		}
	}
}

func (t *Transport) dropConn(conn Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()
	_ = conn.Close()
}

func (t *Transport) setState(ctx context.Context, state models.ConnectionState) {
	t.mu.Lock()
	changed := t.state != state
	t.state = state
	t.mu.Unlock()

	if changed {
		t.emit(ctx, models.Event{Kind: models.EventState, State: state})
	}
}

func (t *Transport) emit(ctx context.Context, ev models.Event) bool {
	select {
	case t.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *Transport) teardown() {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	changed := t.state != models.ConnectionClosed
	t.state = models.ConnectionClosed
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if changed {
		select {
		case t.events <- models.Event{Kind: models.EventState, State: models.ConnectionClosed}:
		default:
		}
	}
	close(t.events)
}

// RoomURL builds the channel endpoint for a room. The template either contains
// a "{room}" placeholder or gets the room appended as the last path segment.
func RoomURL(template, room string) string {
	escaped := url.PathEscape(room)
	if strings.Contains(template, "{room}") {
		return strings.ReplaceAll(template, "{room}", escaped)
	}
	return strings.TrimRight(template, "/") + "/" + escaped
}
