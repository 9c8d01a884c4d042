// Package merge provides pure conflict resolution for multi-device sync:
// last-write-wins with tombstone precedence.
//
// The same functions reconcile server-confirmed entities after a sync pass
// and server-pushed realtime updates from other devices. Re-applying a merge
// is a no-op and the result never depends on input ordering, which is what
// lets devices converge without any global operation order.
package merge

import (
	"sort"

	"github.com/hearthkeep/hearthkeep/internal/models"
)

// Resolution labels how a conflict was decided.
const (
	ResolutionLocalWins  = "local_wins"
	ResolutionRemoteWins = "remote_wins"
	ResolutionTombstone  = "tombstone"
)

// CompareTimestamps returns -1, 0 or +1 ordering a against b. Timezone and
// representation differences are already normalized by models.Timestamp, so
// this is a total order over instants.
func CompareTimestamps(a, b models.Timestamp) int {
	return a.Compare(b)
}

// DetermineConflictWinner resolves one local/remote pair.
//
// A tombstone on either side wins outright regardless of timestamps. With no
// tombstone the later updatedAt wins; an exact tie goes to the remote value,
// favoring convergence toward server state.
func DetermineConflictWinner[E models.Entity](local, remote E) (winner E, resolution string) {
	localDeleted := local.Meta().Deleted()
	remoteDeleted := remote.Meta().Deleted()

	switch {
	case localDeleted && !remoteDeleted:
		return local, ResolutionTombstone
	case remoteDeleted && !localDeleted:
		return remote, ResolutionTombstone
	case localDeleted && remoteDeleted:
		// Both tombstoned: keep the later tombstone, remote on a tie.
		if CompareTimestamps(local.Meta().UpdatedAt, remote.Meta().UpdatedAt) > 0 {
			return local, ResolutionTombstone
		}
		return remote, ResolutionTombstone
	}

	if CompareTimestamps(local.Meta().UpdatedAt, remote.Meta().UpdatedAt) > 0 {
		return local, ResolutionLocalWins
	}
	return remote, ResolutionRemoteWins
}

// MergeEntityArrays merges two entity snapshots per identity, applying
// DetermineConflictWinner pairwise. The result is independent of which
// snapshot is "local" except for exact-timestamp ties, and is returned in a
// deterministic order.
func MergeEntityArrays[E models.Entity](local, remote []E) []E {
	merged, _ := MergeReport("", local, remote)
	return merged
}

// MergeReport is MergeEntityArrays plus a conflict log entry for every pair
// that was actually contested (both sides present with differing state).
// The entity type t only annotates the log entries.
func MergeReport[E models.Entity](t models.EntityType, local, remote []E) ([]E, []models.ConflictLog) {
	// An entity that has been created server-side may appear on one device
	// keyed by server ID and still sit in another device's cache keyed only
	// by local ID. Link the two namespaces before bucketing.
	idByLocal := make(map[string]string)
	for _, e := range local {
		if m := e.Meta(); m.ID != "" && m.LocalID != "" {
			idByLocal[m.LocalID] = string(m.ID)
		}
	}
	for _, e := range remote {
		if m := e.Meta(); m.ID != "" && m.LocalID != "" {
			idByLocal[m.LocalID] = string(m.ID)
		}
	}

	keyOf := func(e E) string {
		m := e.Meta()
		if m.ID != "" {
			return "id:" + string(m.ID)
		}
		if id, ok := idByLocal[m.LocalID]; ok {
			return "id:" + id
		}
		return "local:" + m.LocalID
	}

	// A snapshot can itself hold two records for one entity: a localId-only
	// copy plus the server-identified copy. Fold duplicates with the same
	// winner rule so they collapse before pairing.
	fold := func(m map[string]E, e E) {
		k := keyOf(e)
		existing, ok := m[k]
		if !ok {
			m[k] = e
			return
		}
		winner, _ := DetermineConflictWinner(existing, e)
		if winner.Meta().ID == "" {
			if existing.Meta().ID != "" {
				winner.Meta().ID = existing.Meta().ID
			} else if e.Meta().ID != "" {
				winner.Meta().ID = e.Meta().ID
			}
		}
		m[k] = winner
	}

	localBy := make(map[string]E, len(local))
	for _, e := range local {
		fold(localBy, e)
	}
	remoteBy := make(map[string]E, len(remote))
	for _, e := range remote {
		fold(remoteBy, e)
	}

	keys := make([]string, 0, len(localBy)+len(remoteBy))
	seen := make(map[string]bool)
	for k := range localBy {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range remoteBy {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	now := models.Now()
	var result []E
	var conflicts []models.ConflictLog
	for _, k := range keys {
		l, haveLocal := localBy[k]
		r, haveRemote := remoteBy[k]

		switch {
		case haveLocal && haveRemote:
			winner, resolution := DetermineConflictWinner(l, r)
			// Never lose a server identity the losing side already knew.
			if winner.Meta().ID == "" {
				if l.Meta().ID != "" {
					winner.Meta().ID = l.Meta().ID
				} else if r.Meta().ID != "" {
					winner.Meta().ID = r.Meta().ID
				}
			}
			result = append(result, winner)

			if CompareTimestamps(l.Meta().UpdatedAt, r.Meta().UpdatedAt) != 0 ||
				l.Meta().Deleted() != r.Meta().Deleted() {
				conflicts = append(conflicts, models.ConflictLog{
					EntityType:      t,
					Key:             winner.Meta().Key(),
					LocalTimestamp:  l.Meta().UpdatedAt,
					RemoteTimestamp: r.Meta().UpdatedAt,
					Resolution:      resolution,
					DetectedAt:      now,
				})
			}
		case haveLocal:
			result = append(result, l)
		case haveRemote:
			result = append(result, r)
		}
	}
	return result, conflicts
}
