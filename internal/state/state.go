// Package state persists sync bookkeeping in a bbolt database: the
// session token, the device identity, per-game sync cursors, and the
// pending operation queue so work survives a restart.
package state

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/emusync/emusync/internal/errors"
)

var (
	bucketApp     = []byte("app")
	bucketCursors = []byte("cursors")
	bucketQueue   = []byte("queue")

	keyToken    = []byte("session_token")
	keyDeviceID = []byte("device_id")
	keyQueue    = []byte("pending")
)

// SyncCursor records the last version this device agreed on with the
// cloud for one game. Reconciliation compares both sides against it.
type SyncCursor struct {
	VersionID string    `json:"version_id"`
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

// QueuedOp is one persisted pending operation.
type QueuedOp struct {
	GameID     string    `json:"game_id"`
	Op         string    `json:"op"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Store wraps the bbolt database.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the database and ensures all
// buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketApp, bucketCursors, bucketQueue} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- session ---

// Token returns the persisted session token, empty when logged out.
func (s *Store) Token() (string, error) {
	return s.appValue(keyToken)
}

// SetToken persists the session token. An empty token clears it.
func (s *Store) SetToken(token string) error {
	return s.setAppValue(keyToken, token)
}

// DeviceID returns the persisted device identity.
func (s *Store) DeviceID() (string, error) {
	return s.appValue(keyDeviceID)
}

// SetDeviceID persists the device identity assigned at first login.
func (s *Store) SetDeviceID(id string) error {
	return s.setAppValue(keyDeviceID, id)
}

func (s *Store) appValue(key []byte) (string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		value = string(tx.Bucket(bucketApp).Get(key))
		return nil
	})
	return value, err
}

func (s *Store) setAppValue(key []byte, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApp)
		if value == "" {
			return b.Delete(key)
		}
		return b.Put(key, []byte(value))
	})
}

// --- cursors ---

// Cursor returns the stored cursor for a game. ErrNotFound when the
// game has never synced.
func (s *Store) Cursor(gameID string) (SyncCursor, error) {
	var cursor SyncCursor
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketCursors).Get([]byte(gameID))
		if raw == nil {
			return fmt.Errorf("no cursor for game %s: %w", gameID, errors.ErrNotFound)
		}
		return json.Unmarshal(raw, &cursor)
	})
	return cursor, err
}

// SetCursor stores the cursor for a game.
func (s *Store) SetCursor(gameID string, cursor SyncCursor) error {
	raw, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("encoding cursor: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCursors).Put([]byte(gameID), raw)
	})
}

// DeleteCursor removes a game's cursor. Deleting a missing cursor is
// a no-op.
func (s *Store) DeleteCursor(gameID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCursors).Delete([]byte(gameID))
	})
}

// Cursors returns every stored cursor keyed by game id.
func (s *Store) Cursors() (map[string]SyncCursor, error) {
	cursors := make(map[string]SyncCursor)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCursors).ForEach(func(k, v []byte) error {
			var cursor SyncCursor
			if err := json.Unmarshal(v, &cursor); err != nil {
				return fmt.Errorf("decoding cursor for %s: %w", k, err)
			}
			cursors[string(k)] = cursor
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return cursors, nil
}

// --- queue ---

// SaveQueue persists the pending operation queue, replacing whatever
// was stored before. An empty queue clears the record.
func (s *Store) SaveQueue(ops []QueuedOp) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueue)
		if len(ops) == 0 {
			return b.Delete(keyQueue)
		}
		raw, err := json.Marshal(ops)
		if err != nil {
			return fmt.Errorf("encoding queue: %w", err)
		}
		return b.Put(keyQueue, raw)
	})
}

// LoadQueue returns the persisted pending operations, oldest first.
func (s *Store) LoadQueue() ([]QueuedOp, error) {
	var ops []QueuedOp
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketQueue).Get(keyQueue)
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &ops)
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}
