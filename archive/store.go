package archive

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var archivesBucket = []byte("archives")

// ErrNoRecord is returned by Store.Get for unknown archive names.
var ErrNoRecord = errors.New("archive record not found")

type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Record is the bookkeeping kept for one archive job so that expiry
// survives restarts.
type Record struct {
	Name        string
	Source      string
	Status      Status
	TotalBytes  int64
	CreatedAt   time.Time
	CompletedAt time.Time
	ExpiresAt   time.Time
	Error       string
}

func (r *Record) serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deserialize(data []byte) (*Record, error) {
	var r Record
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Store persists archive records in a bbolt database.
type Store struct {
	db *bolt.DB
}

func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state db %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(archivesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Put(r *Record) error {
	data, err := r.serialize()
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(archivesBucket).Put([]byte(r.Name), data)
	})
}

func (s *Store) Get(name string) (*Record, error) {
	var r *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(archivesBucket).Get([]byte(name))
		if v == nil {
			return ErrNoRecord
		}
		var err error
		r, err = deserialize(v)
		return err
	})
	return r, err
}

func (s *Store) Delete(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(archivesBucket).Delete([]byte(name))
	})
}

// List returns all records ordered by creation time.
func (s *Store) List() ([]*Record, error) {
	var out []*Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(archivesBucket).ForEach(func(_, v []byte) error {
			r, err := deserialize(v)
			if err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Expired returns the finished records whose expiry is at or before now.
func (s *Store) Expired(now time.Time) ([]*Record, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}

	var out []*Record
	for _, r := range all {
		if r.Status != StatusRunning && !r.ExpiresAt.IsZero() && !r.ExpiresAt.After(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
