package storage

import (
	"sort"
	"sync"
	"time"

	"dhtnode/internal/domain"
	"dhtnode/internal/logger"
)

// MemoryStore is an in-memory, multi-valued, TTL-aware key/value store. It
// is concurrency-safe and is the only Store implementation this node ships:
// persistence is out of scope.
type MemoryStore struct {
	lgr  logger.Logger
	mu   sync.RWMutex
	data map[string][]domain.StoredRecord // key = hex ID
}

// NewMemoryStore creates and returns a new, empty in-memory store.
func NewMemoryStore(lgr logger.Logger) *MemoryStore {
	s := &MemoryStore{
		lgr:  lgr,
		data: make(map[string][]domain.StoredRecord),
	}
	s.lgr.Debug("initialized storage")
	return s
}

// Put inserts rec, resolving its TTL and stamping StoredAt if unset. Fails
// without storing anything if rec.TTL exceeds domain.MaxTTL.
func (s *MemoryStore) Put(rec domain.StoredRecord) error {
	ttl, err := domain.ValidateTTL(rec.TTL)
	if err != nil {
		s.lgr.Warn("Put: rejected", logger.F("key", rec.Key.String()), logger.F("err", err))
		return err
	}
	rec.TTL = ttl
	if rec.StoredAt.IsZero() {
		rec.StoredAt = time.Now()
	}
	key := rec.Key.String()

	s.mu.Lock()
	s.data[key] = append(s.data[key], rec)
	s.mu.Unlock()

	s.lgr.Debug("Put: value stored", logger.FRecord("record", rec))
	return nil
}

// Get returns every live value stored under key.
func (s *MemoryStore) Get(key domain.ID) []domain.StoredRecord {
	k := key.String()
	now := time.Now()

	s.mu.RLock()
	recs := s.data[k]
	out := make([]domain.StoredRecord, 0, len(recs))
	for _, r := range recs {
		if !r.Expired(now) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	s.lgr.Debug("Get: values retrieved", logger.F("key", k), logger.F("count", len(out)))
	return out
}

// ExtractRange returns every live record whose key lies in (from, to].
func (s *MemoryStore) ExtractRange(from, to domain.ID) []domain.StoredRecord {
	now := time.Now()

	s.mu.RLock()
	var result []domain.StoredRecord
	for _, recs := range s.data {
		for _, r := range recs {
			if r.Expired(now) {
				continue
			}
			if r.Key.Between(from, to) {
				result = append(result, r)
			}
		}
	}
	s.mu.RUnlock()

	s.lgr.Debug("ExtractRange: range query completed",
		logger.F("from", from.String()),
		logger.F("to", to.String()),
		logger.F("count", len(result)),
	)
	return result
}

// Delete removes every value stored under key.
func (s *MemoryStore) Delete(key domain.ID) {
	k := key.String()
	s.mu.Lock()
	delete(s.data, k)
	s.mu.Unlock()
	s.lgr.Debug("Delete: key removed", logger.F("key", k))
}

// Merge adds records into the store, dropping any already expired. A
// record with no StoredAt is stamped with the current time, as Put does.
func (s *MemoryStore) Merge(records []domain.StoredRecord) {
	now := time.Now()
	added := 0

	s.mu.Lock()
	for _, r := range records {
		if r.StoredAt.IsZero() {
			r.StoredAt = now
		}
		if r.Expired(now) {
			continue
		}
		key := r.Key.String()
		s.data[key] = append(s.data[key], r)
		added++
	}
	s.mu.Unlock()

	s.lgr.Debug("Merge: records merged", logger.F("received", len(records)), logger.F("added", added))
}

// ExpireTick purges every record whose TTL has elapsed as of now.
func (s *MemoryStore) ExpireTick(now time.Time) int {
	removed := 0

	s.mu.Lock()
	for key, recs := range s.data {
		live := recs[:0]
		for _, r := range recs {
			if r.Expired(now) {
				removed++
				continue
			}
			live = append(live, r)
		}
		if len(live) == 0 {
			delete(s.data, key)
		} else {
			s.data[key] = live
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.lgr.Debug("ExpireTick: records expired", logger.F("removed", removed))
	}
	return removed
}

// All returns a snapshot of every live record currently stored.
func (s *MemoryStore) All() []domain.StoredRecord {
	now := time.Now()

	s.mu.RLock()
	var result []domain.StoredRecord
	for _, recs := range s.data {
		for _, r := range recs {
			if !r.Expired(now) {
				result = append(result, r)
			}
		}
	}
	s.mu.RUnlock()

	return result
}

// DebugLog emits a structured DEBUG-level dump of the store contents.
func (s *MemoryStore) DebugLog() {
	snapshot := s.All()
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].Key.String() < snapshot[j].Key.String()
	})
	entries := make([]map[string]any, 0, len(snapshot))
	for _, r := range snapshot {
		entries = append(entries, map[string]any{
			"key":     r.Key.String(),
			"expires": r.ExpiresAt(),
		})
	}
	s.lgr.Debug("Storage snapshot",
		logger.F("count", len(snapshot)),
		logger.F("records", entries),
	)
}
