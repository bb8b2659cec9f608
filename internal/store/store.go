// Package store provides persistence behind the entity index, the curated
// alias index, the job lock table, and the resolution audit log. SQLite
// backs single-process deployments; Postgres backs fleets sharing one lock
// store; the memory implementation backs tests.
package store

import (
	"context"
	"time"

	"github.com/sells-group/market-intel/internal/entity"
	"github.com/sells-group/market-intel/internal/joblock"
	"github.com/sells-group/market-intel/internal/resolve"
)

// ResolutionStats aggregates the audit log over a lookback window.
type ResolutionStats struct {
	Total         int            `json:"total"`
	ByMethod      map[string]int `json:"by_method"`
	Unresolved    int            `json:"unresolved"`
	AvgConfidence float64        `json:"avg_confidence"`
	AvgLatencyMS  float64        `json:"avg_latency_ms"`
	LookbackHours int            `json:"lookback_hours"`
	CollectedAt   time.Time      `json:"collected_at"`
}

// Store is the full persistence surface. It satisfies the read-mostly
// entity.Index consumed by the resolver, the joblock.Store consumed by the
// lock manager, and the resolve.AuditSink for attempt logging.
type Store interface {
	entity.Index
	joblock.Store
	resolve.AuditSink

	// Seeding / learning write path.
	UpsertEntity(ctx context.Context, rec *entity.Record) error
	UpsertAlias(ctx context.Context, a *entity.Alias) error

	// ResolutionStats summarizes audit entries within the lookback window.
	ResolutionStats(ctx context.Context, lookback time.Duration) (*ResolutionStats, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
