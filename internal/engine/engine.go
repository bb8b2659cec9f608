// Package engine orchestrates the full analysis path: resolve the query to
// an entity, take the per-entity job lock, fan out to every configured
// provider, and fuse the readings per metric into consensus values.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/market-intel/internal/fusion"
	"github.com/sells-group/market-intel/internal/joblock"
	"github.com/sells-group/market-intel/internal/provider"
	"github.com/sells-group/market-intel/internal/resolve"
)

// Report is the output of one analysis run.
type Report struct {
	Query       string                            `json:"query"`
	Resolution  resolve.Result                    `json:"resolution"`
	Metrics     map[string]fusion.ConsensusResult `json:"metrics,omitempty"`
	GeneratedAt time.Time                         `json:"generated_at"`
	Duration    time.Duration                     `json:"duration"`
}

// Resolved reports whether the query mapped to an entity at all.
func (r *Report) Resolved() bool {
	return r.Resolution.Method != resolve.MethodNone
}

// InProgressError is returned when another caller already holds the
// entity's job lock; it carries the observed lock so callers can poll or
// reuse the eventual result.
type InProgressError struct {
	Key  string
	Lock *joblock.Lock
}

func (e *InProgressError) Error() string {
	return fmt.Sprintf("analysis already in progress for %q", e.Key)
}

// Engine wires the resolver, lock manager, and provider registry.
type Engine struct {
	resolver *resolve.Resolver
	locks    *joblock.Manager
	registry *provider.Registry
	log      *zap.Logger
	now      func() time.Time
}

// New creates an engine.
func New(resolver *resolve.Resolver, locks *joblock.Manager, registry *provider.Registry) *Engine {
	return &Engine{
		resolver: resolver,
		locks:    locks,
		registry: registry,
		log:      zap.L().With(zap.String("component", "engine")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Analyze resolves the query and fuses the requested metrics across all
// registered providers. An unresolved query returns a report with no
// metrics and no error; a concurrent run on the same entity returns
// *InProgressError.
func (e *Engine) Analyze(ctx context.Context, query string, metrics []string, rctx *resolve.Context) (*Report, error) {
	started := e.now()

	res := e.resolver.Resolve(ctx, query, rctx)
	report := &Report{Query: query, Resolution: res, GeneratedAt: started}
	if res.Method == resolve.MethodNone || res.Entity == nil {
		report.Duration = time.Since(started)
		return report, nil
	}

	owner := joblock.NewOwner()
	key, ok := e.locks.AcquireKey(ctx, res.Entity.Name, owner)
	if !ok {
		return nil, &InProgressError{Key: key, Lock: e.locks.Status(ctx, key)}
	}

	// Releases must outlive a cancelled request, or the lock would sit
	// until TTL expiry on every aborted run.
	releaseCtx := context.WithoutCancel(ctx)

	readings, err := e.fanOut(ctx, res, metrics)
	if err != nil {
		e.locks.Release(releaseCtx, key, owner, joblock.StatusFailed, nil)
		return nil, err
	}

	report.Metrics = make(map[string]fusion.ConsensusResult, len(metrics))
	for _, metric := range metrics {
		report.Metrics[metric] = fusion.Fuse(metric, readings[metric])
	}
	report.Duration = time.Since(started)

	payload, merr := json.Marshal(report)
	if merr != nil {
		payload = nil
	}
	e.locks.Release(releaseCtx, key, owner, joblock.StatusCompleted, payload)
	return report, nil
}

// fanOut queries every provider for every metric in parallel. A provider
// error drops that source from the affected metric; only context
// cancellation aborts the run.
func (e *Engine) fanOut(ctx context.Context, res resolve.Result, metrics []string) (map[string][]fusion.Reading, error) {
	out := make(map[string][]fusion.Reading, len(metrics))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range e.registry.All() {
		p := p
		for _, metric := range metrics {
			metric := metric
			g.Go(func() error {
				rs, err := p.Fetch(gctx, res.Entity, metric)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					e.log.Warn("provider dropped from fusion",
						zap.String("provider", p.Name()),
						zap.String("metric", metric),
						zap.Error(err),
					)
					return nil
				}
				for i := range rs {
					if rs[i].Source == "" {
						rs[i].Source = p.Name()
					}
					if rs[i].Reliability == 0 {
						rs[i].Reliability = p.Reliability()
					}
				}
				mu.Lock()
				out[metric] = append(out[metric], rs...)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
