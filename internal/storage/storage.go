package storage

import (
	"fmt"
	"io"
)

// Store is a backend holding both room logs and presence colors.
type Store interface {
	LogStore
	GetColor(name string) (string, error)
	PutColor(name, token string) error
	io.Closer
}

// Open opens the backend named by kind ("bbolt" or "pebble") at path.
func Open(kind, path string) (Store, error) {
	switch kind {
	case "", "bbolt":
		s, err := NewBboltStorage(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "pebble":
		s, err := NewPebbleStorage(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}
