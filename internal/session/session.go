// Package session builds the client runtime of one room and runs it.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"huddle/internal/chat"
	"huddle/internal/codec"
	"huddle/internal/config"
	"huddle/internal/filestore"
	"huddle/internal/media"
	"huddle/internal/presence"
	"huddle/internal/roster"
	"huddle/internal/storage"
	"huddle/internal/transport"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Options carries the collaborators a session cannot build from config.
// Everything is optional.
type Options struct {
	Clock clock.Clock
	Dial  transport.DialFunc

	// Local describes this participant. An empty ID gets a random one and an
	// empty label falls back to the configured user name.
	Local    roster.Local
	Width    int
	Surfaces func(participantID string) media.Surface

	Leave    func(ctx context.Context) error
	Navigate func(url string)
	LeaveURL string

	OnChatChange   func()
	OnRosterChange func()
	OnNotice       func(notice string)
}

type Session struct {
	cfg   *config.Config
	store storage.Store

	Colors    *presence.Assigner
	Transport *transport.Transport
	Chat      *chat.Log
	Roster    *roster.Roster
	Files     *filestore.Client
}

// New wires the runtime. The persisted chat log is loaded before the
// transport is attached.
func New(cfg *config.Config, opts Options) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	store, err := storage.Open(cfg.Store, cfg.DBFile)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	s := &Session{
		cfg:    cfg,
		store:  store,
		Colors: presence.NewAssigner(store),
	}

	s.Files = filestore.NewClient(cfg.FilesURL, nil)
	if cfg.CacheDir != "" {
		cache, err := filestore.NewLocalFileStore(cfg.CacheDir)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("open file cache: %w", err)
		}
		s.Files.Cache = cache
	}

	s.Transport = transport.New(transport.Config{
		URL:        transport.RoomURL(cfg.ChatURL, cfg.Room),
		Dial:       opts.Dial,
		Clock:      opts.Clock,
		MinBackoff: cfg.ReconnectMin,
		MaxBackoff: cfg.ReconnectMax,
	})

	s.Chat = chat.New(chat.Config{
		Room:        cfg.Room,
		Self:        cfg.UserName,
		Store:       store,
		Sender:      s.Transport,
		Colors:      s.Colors,
		Codec:       codec.Codec{Now: opts.Clock.Now},
		DownloadURL: s.Files.DownloadURL,
		OnChange:    opts.OnChatChange,
		OnNotice:    opts.OnNotice,
	})
	if err := s.Chat.Load(); err != nil {
		log.Warn().Err(err).Str("room", cfg.Room).Msg("load persisted log")
	}

	local := opts.Local
	if local.ID == "" {
		local.ID = uuid.NewString()
	}
	if local.Label == "" {
		local.Label = cfg.UserName
	}
	s.Roster = roster.New(roster.Config{
		Local:    local,
		Clock:    opts.Clock,
		Playback: cfg.Playback,
		Compact:  cfg.Compact,
		PageSize: cfg.PageSize,
		Width:    opts.Width,
		Surfaces: opts.Surfaces,
		Colors:   s.Colors,
		Leave:    opts.Leave,
		Navigate: opts.Navigate,
		LeaveURL: opts.LeaveURL,
		OnChange: opts.OnRosterChange,
	})

	return s, nil
}

func (s *Session) Room() string {
	return s.cfg.Room
}

func (s *Session) User() string {
	return s.cfg.UserName
}

// Run keeps the chat channel connected and feeds its events into the log
// until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.Transport.Run(gCtx)
	})

	g.Go(func() error {
		return s.Chat.Run(gCtx, s.Transport.Events())
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Upload sends a file to the room as the session user. The server announces
// it to everyone with a file message.
func (s *Session) Upload(ctx context.Context, fileName string, r io.Reader) (string, error) {
	return s.Files.Upload(ctx, s.cfg.Room, s.cfg.UserName, fileName, r)
}

// Download fetches a file of the room.
func (s *Session) Download(ctx context.Context, fileName string) ([]byte, error) {
	return s.Files.Download(ctx, s.cfg.Room, fileName)
}

// Close releases the roster and the storage. Run must have returned.
func (s *Session) Close() error {
	s.Roster.Close()
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close storage: %w", err)
	}
	return nil
}
