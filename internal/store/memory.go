package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sells-group/market-intel/internal/entity"
	"github.com/sells-group/market-intel/internal/joblock"
	"github.com/sells-group/market-intel/internal/resolve"
)

// MemoryStore is an in-memory Store for tests and single-shot CLI use.
// All operations are safe for concurrent callers.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	entities map[int64]*entity.Record
	aliases  map[string]*entity.Alias // by norm alias
	locks    map[string]*joblock.Lock
	audit    []resolve.AuditEntry
	now      func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		nextID:   1,
		entities: make(map[int64]*entity.Record),
		aliases:  make(map[string]*entity.Alias),
		locks:    make(map[string]*joblock.Lock),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithNow fixes the clock for expiry tests.
func (s *MemoryStore) WithNow(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

// --- entity.Index ---

func (s *MemoryStore) GetByName(_ context.Context, key string) (*entity.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.entities {
		if rec.NormName == key {
			c := *rec
			return &c, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetByTicker(_ context.Context, ticker string) (*entity.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := strings.ToLower(strings.TrimSpace(ticker))
	for _, rec := range s.entities {
		for _, tk := range rec.Tickers {
			if strings.ToLower(tk) == t {
				c := *rec
				return &c, nil
			}
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetAlias(_ context.Context, key string) (*entity.AliasHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.aliases[key]
	if !ok {
		return nil, nil
	}
	rec, ok := s.entities[a.EntityID]
	if !ok {
		return nil, nil
	}
	return &entity.AliasHit{Alias: *a, Entity: *rec}, nil
}

func (s *MemoryStore) ListByKind(_ context.Context, kind entity.Kind) ([]entity.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.Record
	for _, rec := range s.entities {
		if rec.Kind == kind {
			out = append(out, *rec)
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *MemoryStore) ListAll(context.Context) ([]entity.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entity.Record, 0, len(s.entities))
	for _, rec := range s.entities {
		out = append(out, *rec)
	}
	sortRecords(out)
	return out, nil
}

func sortRecords(rs []entity.Record) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
}

// --- seeding ---

func (s *MemoryStore) UpsertEntity(_ context.Context, rec *entity.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, existing := range s.entities {
		if existing.NormName == rec.NormName {
			rec.ID = id
			rec.CreatedAt = existing.CreatedAt
			rec.UpdatedAt = now
			c := *rec
			s.entities[id] = &c
			return nil
		}
	}
	rec.ID = s.nextID
	s.nextID++
	rec.CreatedAt = now
	rec.UpdatedAt = now
	c := *rec
	s.entities[rec.ID] = &c
	return nil
}

func (s *MemoryStore) UpsertAlias(_ context.Context, a *entity.Alias) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.aliases[a.NormAlias]; ok {
		a.ID = existing.ID
	} else {
		a.ID = s.nextID
		s.nextID++
		a.CreatedAt = s.now()
	}
	c := *a
	s.aliases[a.NormAlias] = &c
	return nil
}

// --- joblock.Store ---

func (s *MemoryStore) TryAcquire(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if l, ok := s.locks[key]; ok {
		if l.Status == joblock.StatusProcessing && !l.Expired(now) {
			return false, nil
		}
	}
	s.locks[key] = &joblock.Lock{
		Key:        key,
		Owner:      owner,
		Status:     joblock.StatusProcessing,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, key, owner string, status joblock.Status, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok || l.Owner != owner || l.Status != joblock.StatusProcessing {
		return nil
	}
	l.Status = status
	l.Result = result
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*joblock.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		return nil, nil
	}
	if l.Status == joblock.StatusProcessing && l.Expired(s.now()) {
		return nil, nil
	}
	c := *l
	return &c, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var n int64
	for key, l := range s.locks {
		dead := (l.Status == joblock.StatusProcessing && l.Expired(now)) ||
			(l.Status != joblock.StatusProcessing && l.AcquiredAt.Before(now.Add(-retention)))
		if dead {
			delete(s.locks, key)
			n++
		}
	}
	return n, nil
}

// --- resolve.AuditSink ---

func (s *MemoryStore) LogResolution(_ context.Context, e resolve.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

func (s *MemoryStore) ResolutionStats(_ context.Context, lookback time.Duration) (*ResolutionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-lookback)
	stats := &ResolutionStats{
		ByMethod:      make(map[string]int),
		LookbackHours: int(lookback.Hours()),
		CollectedAt:   s.now(),
	}
	var confSum, latSum float64
	for _, e := range s.audit {
		if e.ResolvedAt.Before(cutoff) {
			continue
		}
		stats.Total++
		stats.ByMethod[string(e.Method)]++
		if e.Method == resolve.MethodNone {
			stats.Unresolved++
		}
		confSum += float64(e.Confidence)
		latSum += float64(e.LatencyMS)
	}
	if stats.Total > 0 {
		stats.AvgConfidence = confSum / float64(stats.Total)
		stats.AvgLatencyMS = latSum / float64(stats.Total)
	}
	return stats, nil
}
