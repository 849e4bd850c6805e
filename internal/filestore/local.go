package filestore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"huddle/internal/models"

	"github.com/rs/zerolog/log"
)

const (
	dirPerm = 0o755
	// shardLen is how many leading key characters name the shard directory.
	shardLen = 2
)

// LocalFileStore keeps room files on the local filesystem. Keys are hex
// digests, so the first shardLen characters spread files over directories.
type LocalFileStore struct {
	root string
}

func NewLocalFileStore(root string) (*LocalFileStore, error) {
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("create file root %s: %w", root, err)
	}
	return &LocalFileStore{root: root}, nil
}

func (s *LocalFileStore) shardPath(key string) string {
	if len(key) <= shardLen {
		return filepath.Join(s.root, key)
	}
	return filepath.Join(s.root, key[:shardLen], key)
}

// Save writes r under key and returns the stored size in bytes. A key that
// already exists keeps its first content and reports that size.
func (s *LocalFileStore) Save(r io.Reader, key string) (int64, error) {
	dst := s.shardPath(key)
	if size, err := s.Size(key); err == nil {
		return size, nil
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return 0, fmt.Errorf("create shard %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("tmp", tmp.Name()).Msg("remove partial upload")
		}
	}()

	size, err := io.Copy(tmp, r)
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close temp file: %w", err)
	}

	// Readers never observe a half-written file
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, fmt.Errorf("publish %s: %w", key, err)
	}
	return size, nil
}

// Size returns the stored size of key, or models.ErrNotFound.
func (s *LocalFileStore) Size(key string) (int64, error) {
	info, err := os.Stat(s.shardPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, models.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", key, err)
	}
	return info.Size(), nil
}

// Get returns models.ErrNotFound for unknown keys.
func (s *LocalFileStore) Get(key string) (io.ReadCloser, error) {
	f, err := os.Open(s.shardPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return f, nil
}

// Delete removes the content under key. Missing keys are not an error.
func (s *LocalFileStore) Delete(key string) error {
	err := os.Remove(s.shardPath(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
