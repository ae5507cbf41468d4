// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

package store

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/kennelsync/kennelsync/internal/models"
)

// Pending-push queue: local mutations not yet confirmed by the remote
// gateway. The queue is keyed by entity id, so a later local write
// supersedes an earlier queued one (last-writer-wins locally) and at most
// one push per entity is outstanding when connectivity returns.

// PendingEntry is one queued push.
type PendingEntry struct {
	Type     models.EntityType `json:"type"`
	ID       string            `json:"id"`
	Payload  json.RawMessage   `json:"payload"`
	QueuedAt time.Time         `json:"queued_at"`
}

func pendingKey(t models.EntityType, id string) []byte {
	return []byte(pendingKeyPrefix + string(t) + ":" + id)
}

// Enqueue records (or replaces) the pending push for an entity.
func (s *Store) Enqueue(t models.EntityType, id string, payload []byte, queuedAt time.Time) error {
	entry := PendingEntry{Type: t, ID: id, Payload: payload, QueuedAt: queuedAt}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal pending %s %s: %w", t, id, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pendingKey(t, id), data)
	})
}

// Dequeue removes a pending push after the gateway confirms it.
func (s *Store) Dequeue(t models.EntityType, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(pendingKey(t, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// PendingFor reports whether a pending local write exists for the entity.
// Sync merges must preserve such entities instead of letting a remote
// delta overwrite an unconfirmed local change.
func (s *Store) PendingFor(t models.EntityType, id string) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(pendingKey(t, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// Pending returns all queued pushes for a type, oldest first.
func (s *Store) Pending(t models.EntityType) ([]PendingEntry, error) {
	var out []PendingEntry
	err := s.scanPrefix(pendingKeyPrefix+string(t)+":", func(val []byte) error {
		var entry PendingEntry
		if err := json.Unmarshal(val, &entry); err != nil {
			return err
		}
		out = append(out, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	return out, nil
}

// PendingCount returns the queue depth for a type.
func (s *Store) PendingCount(t models.EntityType) (int, error) {
	count := 0
	err := s.scanPrefix(pendingKeyPrefix+string(t)+":", func([]byte) error {
		count++
		return nil
	})
	return count, err
}
