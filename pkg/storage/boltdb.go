package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketSessions = []byte("sessions")
	bucketMetadata = []byte("raft_metadata")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store rooted at dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "raftsession.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{bucketSessions, bucketMetadata}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func sessionKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%020d", id))
}

// PutSession upserts a session record.
func (s *BoltStore) PutSession(record *SessionRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put(sessionKey(record.ID), data)
	})
}

// GetSession looks up a session record by ID.
func (s *BoltStore) GetSession(id uint64) (*SessionRecord, error) {
	var record SessionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		data := b.Get(sessionKey(id))
		if data == nil {
			return fmt.Errorf("session not found: %d", id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListSessions returns every persisted session record.
func (s *BoltStore) ListSessions() ([]*SessionRecord, error) {
	var records []*SessionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		return b.ForEach(func(k, v []byte) error {
			var record SessionRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	return records, err
}

// DeleteSession removes a session record.
func (s *BoltStore) DeleteSession(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		return b.Delete(sessionKey(id))
	})
}

// SaveRaftMetadata stores an opaque blob of node-identity bookkeeping under
// key (e.g. "cluster_id").
func (s *BoltStore) SaveRaftMetadata(key string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMetadata)
		return b.Put([]byte(key), data)
	})
}

// LoadRaftMetadata retrieves a previously saved metadata blob. A missing
// key returns (nil, nil), not an error: callers treat absence as "not yet
// set" rather than a failure.
func (s *BoltStore) LoadRaftMetadata(key string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMetadata)
		if v := b.Get([]byte(key)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	return data, err
}
