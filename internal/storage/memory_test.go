package storage

import (
	"testing"
	"time"

	"dhtnode/internal/domain"
	"dhtnode/internal/logger"
)

func newTestStore(t *testing.T) (*MemoryStore, domain.Space) {
	t.Helper()
	sp, err := domain.NewSpace(8, 3)
	if err != nil {
		t.Fatalf("NewSpace failed: %v", err)
	}
	return NewMemoryStore(&logger.NopLogger{}), sp
}

func TestPutGetMultiValue(t *testing.T) {
	s, sp := newTestStore(t)
	key := sp.FromUint64(42)

	s.Put(domain.StoredRecord{Key: key, RawKey: "k", Value: "v1", TTL: time.Minute})
	s.Put(domain.StoredRecord{Key: key, RawKey: "k", Value: "v2", TTL: time.Minute})

	got := s.Get(key)
	if len(got) != 2 {
		t.Fatalf("expected 2 live values, got %d", len(got))
	}
}

func TestGetExcludesExpired(t *testing.T) {
	s, sp := newTestStore(t)
	key := sp.FromUint64(42)

	s.Put(domain.StoredRecord{
		Key: key, RawKey: "k", Value: "stale",
		TTL:      domain.MinTTL,
		StoredAt: time.Now().Add(-2 * domain.MinTTL),
	})
	s.Put(domain.StoredRecord{Key: key, RawKey: "k", Value: "fresh", TTL: time.Minute})

	got := s.Get(key)
	if len(got) != 1 || got[0].Value != "fresh" {
		t.Fatalf("expected only the fresh value, got %+v", got)
	}
}

func TestPutResolvesUnspecifiedTTLToMax(t *testing.T) {
	s, sp := newTestStore(t)
	key := sp.FromUint64(1)

	if err := s.Put(domain.StoredRecord{Key: key, RawKey: "k", Value: "v", TTL: 0}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got := s.Get(key)
	if len(got) != 1 {
		t.Fatalf("expected 1 value, got %d", len(got))
	}
	if got[0].TTL != domain.MaxTTL {
		t.Errorf("TTL = %v, want %v (unspecified TTL resolves to max)", got[0].TTL, domain.MaxTTL)
	}
}

func TestPutRejectsTTLAboveMax(t *testing.T) {
	s, sp := newTestStore(t)
	key := sp.FromUint64(1)

	err := s.Put(domain.StoredRecord{Key: key, RawKey: "k", Value: "v", TTL: 100 * time.Hour})
	if err == nil {
		t.Fatal("expected Put to fail for ttl > 43200s, got nil error")
	}
	if got := s.Get(key); len(got) != 0 {
		t.Fatalf("expected nothing stored after a rejected Put, got %d values", len(got))
	}
}

func TestExtractRangeRespectsRingInterval(t *testing.T) {
	s, sp := newTestStore(t)

	for _, v := range []uint64{10, 50, 100, 200} {
		s.Put(domain.StoredRecord{Key: sp.FromUint64(v), RawKey: "k", Value: "v", TTL: time.Minute})
	}

	got := s.ExtractRange(sp.FromUint64(5), sp.FromUint64(100))
	if len(got) != 3 { // 10, 50, 100
		t.Fatalf("expected 3 records in (5,100], got %d", len(got))
	}
}

func TestMergeDropsExpiredRecords(t *testing.T) {
	s, sp := newTestStore(t)

	records := []domain.StoredRecord{
		{Key: sp.FromUint64(1), RawKey: "a", Value: "live", TTL: time.Minute},
		{Key: sp.FromUint64(2), RawKey: "b", Value: "dead", TTL: domain.MinTTL, StoredAt: time.Now().Add(-time.Hour)},
	}
	s.Merge(records)

	if got := s.Get(sp.FromUint64(1)); len(got) != 1 {
		t.Errorf("expected live record to be merged, got %d", len(got))
	}
	if got := s.Get(sp.FromUint64(2)); len(got) != 0 {
		t.Errorf("expected expired record to be dropped, got %d", len(got))
	}
}

func TestDeleteRemovesAllValuesUnderKey(t *testing.T) {
	s, sp := newTestStore(t)
	key := sp.FromUint64(9)

	s.Put(domain.StoredRecord{Key: key, RawKey: "k", Value: "v1", TTL: time.Minute})
	s.Put(domain.StoredRecord{Key: key, RawKey: "k", Value: "v2", TTL: time.Minute})

	s.Delete(key)

	if got := s.Get(key); len(got) != 0 {
		t.Fatalf("expected key fully removed, got %d values", len(got))
	}
}

func TestExpireTickRemovesStaleRecords(t *testing.T) {
	s, sp := newTestStore(t)

	s.Put(domain.StoredRecord{
		Key: sp.FromUint64(7), RawKey: "k", Value: "v",
		TTL:      domain.MinTTL,
		StoredAt: time.Now().Add(-time.Hour),
	})

	removed := s.ExpireTick(time.Now())
	if removed != 1 {
		t.Fatalf("expected 1 record removed, got %d", removed)
	}
	if all := s.All(); len(all) != 0 {
		t.Errorf("expected empty store after expiry, got %d records", len(all))
	}
}
