// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

package models

import "sort"

// Last-write-wins merge rules used when a sync cycle folds remote deltas
// into local state. The version with the newer UpdatedAt wins the scalar
// fields; session activity logs are append-only and union by idempotency
// key so a replayed delta is a no-op and concurrent appends from two
// devices both survive.

// RemoteWins reports whether the remote version should replace the local one.
// Equal timestamps keep the local version, which makes replaying an
// identical delta idempotent.
func RemoteWins(local, remote Entity) bool {
	return remote.EntityUpdatedAt().After(local.EntityUpdatedAt())
}

// MergeProfile resolves a local/remote profile pair. Either side may be nil.
func MergeProfile(local, remote *Profile) *Profile {
	if local == nil {
		return remote.Clone()
	}
	if remote == nil {
		return local.Clone()
	}
	if RemoteWins(local, remote) {
		return remote.Clone()
	}
	return local.Clone()
}

// MergeSession resolves a local/remote session pair. Scalar fields follow
// last-write-wins; the activity log is the union of both sides.
func MergeSession(local, remote *Session) *Session {
	if local == nil {
		return remote.Clone()
	}
	if remote == nil {
		return local.Clone()
	}
	winner := local
	loser := remote
	if RemoteWins(local, remote) {
		winner, loser = remote, local
	}
	merged := winner.Clone()
	merged.Activities = MergeActivities(winner.Activities, loser.Activities)
	return merged
}

// MergeActivities unions two activity logs by idempotency key, ordered by
// timestamp (key as tiebreaker) so every device converges to the same sequence.
func MergeActivities(a, b []Activity) []Activity {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	merged := make([]Activity, 0, len(a)+len(b))
	for _, list := range [][]Activity{a, b} {
		for _, act := range list {
			if _, dup := seen[act.Key]; dup {
				continue
			}
			seen[act.Key] = struct{}{}
			merged = append(merged, act)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].At.Equal(merged[j].At) {
			return merged[i].Key < merged[j].Key
		}
		return merged[i].At.Before(merged[j].At)
	})
	return merged
}
