package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"huddle/internal/models"

	"github.com/cockroachdb/pebble/v2"
)

const (
	prefixLog   = "log/"
	prefixColor = "color/"
)

// PebbleStorage keeps logs and colors in a PebbleDB directory.
// Keys are prefixed by record type; values are the same msgpack records as the bbolt backend.
type PebbleStorage struct {
	db *pebble.DB
}

func NewPebbleStorage(dir string) (*PebbleStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create pebble dir: %w", err)
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}
	return &PebbleStorage{db: db}, nil
}

func (s *PebbleStorage) Close() error {
	return s.db.Close()
}

func (s *PebbleStorage) SaveLog(room string, messages []models.Message) error {
	return s.set(prefixLog, newDBLog(room, messages))
}

func (s *PebbleStorage) LoadLog(room string) ([]models.Message, error) {
	var dbLog DBLog
	if err := s.get([]byte(prefixLog+room), &dbLog); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return []models.Message{}, nil
		}
		return nil, fmt.Errorf("failed to load log for room %s: %w", room, err)
	}
	return dbLog.messages(), nil
}

func (s *PebbleStorage) DeleteLog(room string) error {
	return s.db.Delete([]byte(prefixLog+room), pebble.Sync)
}

func (s *PebbleStorage) GetColor(name string) (string, error) {
	var dbColor DBColor
	if err := s.get([]byte(prefixColor+name), &dbColor); err != nil {
		return "", err
	}
	return dbColor.Token, nil
}

func (s *PebbleStorage) PutColor(name, token string) error {
	return s.set(prefixColor, &DBColor{Name: name, Token: token})
}

func (s *PebbleStorage) set(prefix string, item Storeable) error {
	data, err := item.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	key := append([]byte(prefix), item.Key()...)
	return s.db.Set(key, data, pebble.Sync)
}

func (s *PebbleStorage) get(key []byte, item Storeable) error {
	data, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.ErrNotFound
		}
		return err
	}
	defer func() { _ = closer.Close() }()
	return item.UnmarshalBinary(data)
}
