// Package joblock provides a time-boxed mutual-exclusion lock per
// normalized target key, so only one in-flight computation exists per
// target across all callers and process instances sharing one lock store.
package joblock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/market-intel/internal/normalize"
)

// Status is the lifecycle state of a lock:
// absent → processing → {completed | failed} → absent.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Lock is a snapshot of one job lock record.
type Lock struct {
	Key        string    `json:"key"`
	Owner      string    `json:"owner"`
	Status     Status    `json:"status"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	// Result carries an optional payload stored on release for short-term
	// reuse by identical concurrent requests.
	Result []byte `json:"result,omitempty"`
}

// Expired reports whether the lock is logically dead at t.
func (l *Lock) Expired(t time.Time) bool {
	return !l.ExpiresAt.After(t)
}

// Store is the shared lock store. The atomic create result of TryAcquire
// is ground truth: the manager never trusts a prior Get when deciding
// whether to grant a lock.
type Store interface {
	// TryAcquire atomically creates a processing lock if no unexpired one
	// exists for the key. A completed/failed or expired lock is overwritten.
	// Losing a race reports false, never a silent second lock.
	TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// Release transitions an owned processing lock to a terminal status.
	// Releasing a lock owned by someone else is a no-op.
	Release(ctx context.Context, key, owner string, status Status, result []byte) error

	// Get returns the lock for a key, or nil if absent or expired.
	Get(ctx context.Context, key string) (*Lock, error)

	// DeleteExpired garbage-collects terminal locks older than retention
	// and any expired processing locks.
	DeleteExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// Manager coordinates job locks with a deliberate fail-open policy: if the
// lock store is unreachable the surrounding computation still runs, because
// duplicate work is wasteful but not corrupting, while a hard dependency on
// the lock store would take the whole feature down with it.
type Manager struct {
	store Store
	ttl   time.Duration
	log   *zap.Logger
}

// DefaultTTL bounds how long a processing lock may live before readers
// treat it as absent.
const DefaultTTL = 5 * time.Minute

// NewManager creates a lock manager over the given store.
func NewManager(store Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store: store,
		ttl:   ttl,
		log:   zap.L().With(zap.String("component", "joblock")),
	}
}

// NewOwner returns a fresh owner token for one computation.
func NewOwner() string {
	return uuid.New().String()
}

// Acquire attempts to take the processing lock for an already-normalized
// key. Store errors fail open: the caller proceeds without deduplication.
func (m *Manager) Acquire(ctx context.Context, key, owner string) bool {
	if key == "" {
		// Nothing to coordinate on.
		return true
	}
	ok, err := m.store.TryAcquire(ctx, key, owner, m.ttl)
	if err != nil {
		m.log.Warn("lock store unreachable, failing open",
			zap.String("key", key),
			zap.Error(err),
		)
		return true
	}
	if !ok {
		m.log.Debug("lock busy", zap.String("key", key))
	}
	return ok
}

// AcquireKey derives the lock key from a raw target string and acquires it.
// The derived key is returned for the matching Release call.
func (m *Manager) AcquireKey(ctx context.Context, target, owner string) (string, bool) {
	key := normalize.LockKey(target)
	return key, m.Acquire(ctx, key, owner)
}

// Release transitions the owned lock to a terminal status with an optional
// result payload. Store errors are logged and swallowed: the lock will
// expire on its own.
func (m *Manager) Release(ctx context.Context, key, owner string, status Status, result []byte) {
	if key == "" {
		return
	}
	if err := m.store.Release(ctx, key, owner, status, result); err != nil {
		m.log.Warn("lock release failed, relying on expiry",
			zap.String("key", key),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

// Status returns the current lock snapshot for a key, or nil when absent
// or expired. Store errors surface as nil with a warning: callers treat an
// unknown lock state as absent.
func (m *Manager) Status(ctx context.Context, key string) *Lock {
	if key == "" {
		return nil
	}
	l, err := m.store.Get(ctx, key)
	if err != nil {
		m.log.Warn("lock status read failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	return l
}

// Sweep garbage-collects expired and aged-out terminal locks.
func (m *Manager) Sweep(ctx context.Context, retention time.Duration) int64 {
	n, err := m.store.DeleteExpired(ctx, retention)
	if err != nil {
		m.log.Warn("lock sweep failed", zap.Error(err))
		return 0
	}
	return n
}
