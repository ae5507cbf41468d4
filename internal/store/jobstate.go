// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Automation job state: small persisted blobs the background jobs use to
// survive host-revoked time. The backup job records "pending, not yet
// confirmed" here; the rollover job records the last day it completed so a
// missed transition is caught up idempotently. The overdue flag set also
// lives here because it is derived state, never part of a synced entity.

// SetJobState persists a job's resume state under its name.
func (s *Store) SetJobState(name string, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(jobStateKeyPrefix+name), data)
	})
}

// JobState returns a job's resume state. ok is false when none is stored.
func (s *Store) JobState(name string) ([]byte, bool, error) {
	var data []byte
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(jobStateKeyPrefix + name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get job state %s: %w", name, err)
		}
		found = true
		return item.Value(func(val []byte) error {
			data = append([]byte(nil), val...)
			return nil
		})
	})
	return data, found, err
}

// ReplaceOverdue atomically replaces the set of overdue session ids.
// The rollover check writes the whole set on every run, which makes the
// run idempotent: two runs over identical input produce identical state.
func (s *Store) ReplaceOverdue(ids []string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(overdueKeyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		for _, id := range ids {
			if err := txn.Set([]byte(overdueKeyPrefix+id), []byte{1}); err != nil {
				return err
			}
		}
		return nil
	})
}

// OverdueIDs returns the session ids currently flagged overdue.
func (s *Store) OverdueIDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(overdueKeyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			ids = append(ids, strings.TrimPrefix(key, overdueKeyPrefix))
		}
		return nil
	})
	return ids, err
}

// DeleteOverdue clears one session's overdue flag, typically after staff
// complete the session.
func (s *Store) DeleteOverdue(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(overdueKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}
