package storage

import (
	"fmt"
	"time"

	"huddle/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketLogs   = []byte("logs")
	bucketColors = []byte("colors")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketLogs); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketColors); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// SaveLog replaces the stored log of a room. Last writer wins.
func (s *BboltStorage) SaveLog(room string, messages []models.Message) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(bucketLogs), newDBLog(room, messages))
	})
}

// LoadLog returns the stored log of a room, or an empty log if there is none.
func (s *BboltStorage) LoadLog(room string) ([]models.Message, error) {
	var dbLog DBLog
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketLogs).Get([]byte(room))
		if data == nil {
			return nil
		}
		return dbLog.UnmarshalBinary(data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load log for room %s: %w", room, err)
	}
	return dbLog.messages(), nil
}

func (s *BboltStorage) DeleteLog(room string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketLogs).Delete([]byte(room))
	})
}

// GetColor returns the persisted color token of a participant name.
func (s *BboltStorage) GetColor(name string) (string, error) {
	var dbColor DBColor
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketColors).Get([]byte(name))
		if data == nil {
			return models.ErrNotFound
		}
		return dbColor.UnmarshalBinary(data)
	})
	return dbColor.Token, err
}

func (s *BboltStorage) PutColor(name, token string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(bucketColors), &DBColor{Name: name, Token: token})
	})
}

func put(b *bbolt.Bucket, item Storeable) error {
	data, err := item.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return b.Put(item.Key(), data)
}
