// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

// Package store is the durable local mirror of the shared dataset, backed
// by BadgerDB. It holds the entity records, the per-type sync cursors, the
// pending-push queue and the automation job state. It is the device-local
// source of truth; the cache mirrors it and the remote service is the
// shared authority reconciled by sync.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/kennelsync/kennelsync/internal/models"
)

// Key prefixes for the BadgerDB keyspace.
const (
	entityKeyPrefix   = "entity:"
	cursorKeyPrefix   = "cursor:"
	pendingKeyPrefix  = "pending:"
	jobStateKeyPrefix = "jobstate:"
	overdueKeyPrefix  = "overdue:"
)

// Store wraps the Badger database.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at dir. A failure here is Fatal: the
// application cannot proceed without its local store.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, &models.FatalError{Op: "open local store", Err: err}
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a non-persistent store. Used by tests and by the
// in_memory store config.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, &models.FatalError{Op: "open in-memory store", Err: err}
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func entityKey(t models.EntityType, id string) []byte {
	return []byte(entityKeyPrefix + string(t) + ":" + id)
}

// PutProfile stores a profile record.
func (s *Store) PutProfile(p *models.Profile) error {
	return s.putEntity(models.EntityProfile, p.ID, p)
}

// PutSession stores a session record.
func (s *Store) PutSession(sess *models.Session) error {
	return s.putEntity(models.EntitySession, sess.ID, sess)
}

func (s *Store) putEntity(t models.EntityType, id string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", t, id, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entityKey(t, id), data)
	})
}

// GetProfile retrieves a profile by id. Returns models.ErrNotFound when absent.
func (s *Store) GetProfile(id string) (*models.Profile, error) {
	var p models.Profile
	if err := s.getEntity(models.EntityProfile, id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetSession retrieves a session by id. Returns models.ErrNotFound when absent.
func (s *Store) GetSession(id string) (*models.Session, error) {
	var sess models.Session
	if err := s.getEntity(models.EntitySession, id, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) getEntity(t models.EntityType, id string, v interface{}) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entityKey(t, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get %s %s: %w", t, id, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

// ListProfiles returns every stored profile.
func (s *Store) ListProfiles() ([]models.Profile, error) {
	var out []models.Profile
	err := s.scanPrefix(entityKeyPrefix+string(models.EntityProfile)+":", func(val []byte) error {
		var p models.Profile
		if err := json.Unmarshal(val, &p); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

// ListSessions returns every stored session.
func (s *Store) ListSessions() ([]models.Session, error) {
	var out []models.Session
	err := s.scanPrefix(entityKeyPrefix+string(models.EntitySession)+":", func(val []byte) error {
		var sess models.Session
		if err := json.Unmarshal(val, &sess); err != nil {
			return err
		}
		out = append(out, sess)
		return nil
	})
	return out, err
}

// SessionsForProfile returns every session referencing the profile.
func (s *Store) SessionsForProfile(profileID string) ([]models.Session, error) {
	all, err := s.ListSessions()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, sess := range all {
		if sess.ProfileID == profileID {
			out = append(out, sess)
		}
	}
	return out, nil
}

// scanPrefix iterates values under a key prefix.
func (s *Store) scanPrefix(prefix string, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// Cursor returns the sync high-water mark for an entity type.
// A missing cursor returns the zero time (full window fetch).
func (s *Store) Cursor(t models.EntityType) (time.Time, error) {
	var cursor time.Time
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cursorKeyPrefix + string(t)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get cursor %s: %w", t, err)
		}
		return item.Value(func(val []byte) error {
			parsed, perr := time.Parse(time.RFC3339Nano, string(val))
			if perr != nil {
				return fmt.Errorf("parse cursor %s: %w", t, perr)
			}
			cursor = parsed
			return nil
		})
	})
	return cursor, err
}

// SetCursor advances the sync high-water mark for an entity type.
func (s *Store) SetCursor(t models.EntityType, ts time.Time) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(cursorKeyPrefix+string(t)), []byte(ts.UTC().Format(time.RFC3339Nano)))
	})
}

// ClearCursor resets the cursor. Only the explicit full-resync path calls this.
func (s *Store) ClearCursor(t models.EntityType) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(cursorKeyPrefix + string(t)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}
