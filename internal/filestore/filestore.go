// Package filestore uploads and downloads room files and keeps them on disk.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// FileStore stores and retrieves file content by key.
type FileStore interface {
	// Save stores the content under key and returns its size in bytes.
	// It is idempotent: an existing key keeps its content.
	Save(r io.Reader, key string) (int64, error)

	// Get retrieves the content stored under key.
	Get(key string) (io.ReadCloser, error)
}

// Key derives the storage key of a room file.
func Key(room, fileName string) string {
	sum := sha256.Sum256([]byte(room + "/" + fileName))
	return hex.EncodeToString(sum[:])
}
