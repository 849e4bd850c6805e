// Package relay is a development server for the chat wire protocol.
// It keeps a bounded history per room, broadcasts posts, deletions and
// clears to every connected client, and stores room files.
package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"huddle/internal/content"
	"huddle/internal/filestore"
	"huddle/internal/models"

	"github.com/c-pro/geche"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultAddr      = ":8080"
	DefaultMaxUpload = 32 << 20
	shutdownTimeout  = 5 * time.Second
	sniffLen         = 262
)

type Config struct {
	Addr       string
	Uploads    string
	MaxRecords int
	MaxUpload  int64
	Now        func() time.Time
}

// fileMeta describes an uploaded file.
type fileMeta struct {
	Name     string
	MIME     string
	Uploader string
}

type Server struct {
	cfg      Config
	hub      *Hub
	files    *filestore.LocalFileStore
	meta     geche.Geche[string, fileMeta]
	upgrader *websocket.Upgrader
	server   *http.Server

	wg sync.WaitGroup
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.MaxUpload <= 0 {
		cfg.MaxUpload = DefaultMaxUpload
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	files, err := filestore.NewLocalFileStore(cfg.Uploads)
	if err != nil {
		return nil, fmt.Errorf("open uploads: %w", err)
	}

	s := &Server{
		cfg:   cfg,
		hub:   NewHub(HubConfig{MaxRecords: cfg.MaxRecords, Now: cfg.Now}),
		files: files,
		meta:  geche.NewMapCache[string, fileMeta](),
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/ws/{room}", s.handleConnections)
	r.Post("/api/rooms/{room}/files", s.handleUpload)
	r.Get("/api/rooms/{room}/files/{name}", s.handleDownload)

	return r
}

// Run serves until ctx is done, then shuts the server down.
func (s *Server) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(s.Start)

	g.Go(func() error {
		<-gCtx.Done()
		log.Info().Msg("shutting down relay")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("relay shutdown")
		}
		return nil
	})

	return g.Wait()
}

func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("relay started")
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room")
	if err := content.ValidateRoomID(roomID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("upgrade to websocket")
		return
	}

	conn := NewConnection(s.hub, ws, roomID)
	if err := conn.Handle(r.Context()); err != nil {
		log.Debug().Err(err).Str("room", roomID).Msg("connection closed")
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room")
	if err := content.ValidateRoomID(roomID); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUpload)
	if err := r.ParseMultipartForm(s.cfg.MaxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, errors.New("file too large"))
			return
		}
		respondError(w, http.StatusBadRequest, fmt.Errorf("parse form: %w", err))
		return
	}

	user := strings.TrimSpace(r.FormValue("user"))
	if user == "" {
		respondError(w, http.StatusBadRequest, errors.New("user is required"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("missing file: %w", err))
		return
	}
	defer func() { _ = file.Close() }()

	br := bufio.NewReaderSize(file, sniffLen)
	head, _ := br.Peek(sniffLen)
	mime := filestore.Sniff(head)

	name := StoredName(s.cfg.Now(), header.Filename)
	key := filestore.Key(roomID, name)
	size, err := s.files.Save(br, key)
	if err != nil {
		log.Error().Err(err).Str("room", roomID).Msg("store upload")
		respondError(w, http.StatusInternalServerError, errors.New("could not store file"))
		return
	}
	s.meta.Set(key, fileMeta{Name: name, MIME: mime, Uploader: user})

	s.hub.Post(roomID, models.Message{
		Sender:   user,
		Kind:     models.MessageKindFile,
		Text:     header.Filename,
		FileName: name,
		FileType: mime,
	})

	respondJSON(w, http.StatusOK, models.UploadResponse{
		APIResponse: models.APIResponse{Success: true},
		FileName:    name,
		Size:        size,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room")
	name := chi.URLParam(r, "name")

	key := filestore.Key(roomID, name)
	rc, err := s.files.Get(key)
	if err != nil {
		status := http.StatusNotFound
		if !errors.Is(err, models.ErrNotFound) {
			status = http.StatusInternalServerError
		}
		respondError(w, status, err)
		return
	}
	defer func() { _ = rc.Close() }()

	mime := filestore.DefaultMIME
	if meta, err := s.meta.Get(key); err == nil {
		mime = meta.MIME
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if _, err := bufio.NewReader(rc).WriteTo(w); err != nil {
		log.Warn().Err(err).Str("file", name).Msg("write download")
	}
}

// StoredName prefixes an upload with its arrival time and replaces every
// character outside [A-Za-z0-9._-] so the name is safe in a URL path.
func StoredName(now time.Time, original string) string {
	base := filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		}
		return '_'
	}, base)
	if base == "" || base == "." || base == ".." {
		base = "file"
	}
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + base
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode response")
	}
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, models.APIResponse{Success: false, Message: err.Error()})
}
