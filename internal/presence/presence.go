// Package presence assigns stable display colors to participant names.
package presence

import (
	"errors"
	"hash/fnv"
	"sync"

	"huddle/internal/models"

	"github.com/c-pro/geche"
	"github.com/rs/zerolog/log"
)

// Palette is the fixed set of color tokens names hash into.
var Palette = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231",
	"#911eb4", "#42d4f4", "#f032e6", "#9a6324",
	"#469990", "#800000", "#808000", "#000075",
}

// Store persists colors for the lifetime of a session.
type Store interface {
	GetColor(name string) (string, error)
	PutColor(name, token string) error
}

// Assigner maps names to colors. Colors are created lazily on first sight
// and never removed; without a cached entry the color is a pure function of the name.
type Assigner struct {
	store Store
	cache geche.Geche[string, string]
}

func NewAssigner(store Store) *Assigner {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Assigner{
		store: store,
		cache: geche.NewMapCache[string, string](),
	}
}

// Color returns the color token for name.
func (a *Assigner) Color(name string) string {
	if token, err := a.cache.Get(name); err == nil {
		return token
	}

	token, err := a.store.GetColor(name)
	if err != nil || token == "" {
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			log.Warn().Err(err).Str("name", name).Msg("read persisted color")
		}
		token = Hash(name)
		if err := a.store.PutColor(name, token); err != nil {
			log.Warn().Err(err).Str("name", name).Msg("persist color")
		}
	}

	a.cache.Set(name, token)
	return token
}

// Hash picks the palette entry for name with 32-bit FNV-1a.
func Hash(name string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return Palette[h.Sum32()%uint32(len(Palette))]
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	colors map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{colors: make(map[string]string)}
}

func (s *MemoryStore) GetColor(name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.colors[name]
	if !ok {
		return "", models.ErrNotFound
	}
	return token, nil
}

func (s *MemoryStore) PutColor(name, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.colors[name] = token
	return nil
}
