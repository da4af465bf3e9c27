// Package snapshot holds the latest known quote per (venue, pair) and hands
// out immutable point-in-time copies to reader components.
package snapshot

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dexarb/dexarb-go/internal/models"
)

// Store is the shared quote store. Each (venue, pair) slot is updated
// independently; readers never wait on writers and writers on unrelated
// slots never contend with each other.
type Store struct {
	slots sync.Map // models.SnapshotKey -> *atomic.Pointer[models.Quote]
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Publish installs a quote in its (venue, pair) slot if it is strictly newer
// than what is stored. Stale quotes are silently dropped: under concurrent
// ingestion out-of-order arrival is expected, not an error.
func (s *Store) Publish(q models.Quote) {
	key := models.SnapshotKey{Venue: q.Venue, Pair: q.Pair}

	v, ok := s.slots.Load(key)
	if !ok {
		v, _ = s.slots.LoadOrStore(key, &atomic.Pointer[models.Quote]{})
	}
	slot := v.(*atomic.Pointer[models.Quote])

	for {
		cur := slot.Load()
		if cur != nil && !q.Timestamp.After(cur.Timestamp) {
			return
		}
		if slot.CompareAndSwap(cur, &q) {
			return
		}
	}
}

// Snapshot returns an immutable copy of all populated slots. The returned
// snapshot is never mutated afterwards and may be shared freely by
// concurrent readers.
func (s *Store) Snapshot() *models.PriceSnapshot {
	snap := &models.PriceSnapshot{
		Quotes:  make(map[models.SnapshotKey]models.Quote),
		TakenAt: time.Now(),
	}
	s.slots.Range(func(k, v any) bool {
		if q := v.(*atomic.Pointer[models.Quote]).Load(); q != nil {
			snap.Quotes[k.(models.SnapshotKey)] = *q
		}
		return true
	})
	return snap
}

// Latest returns the current quote for a slot without building a full
// snapshot.
func (s *Store) Latest(venue string, pair models.TradingPair) (models.Quote, bool) {
	v, ok := s.slots.Load(models.SnapshotKey{Venue: venue, Pair: pair})
	if !ok {
		return models.Quote{}, false
	}
	q := v.(*atomic.Pointer[models.Quote]).Load()
	if q == nil {
		return models.Quote{}, false
	}
	return *q, true
}
