// Package provider defines the market-data source abstraction the engine
// fans out to, plus rate-limiting, retry, and circuit-breaker wrappers
// applied per source.
package provider

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/sells-group/market-intel/internal/entity"
	"github.com/sells-group/market-intel/internal/fusion"
	"github.com/sells-group/market-intel/internal/resilience"
)

// Provider fetches metric readings for a resolved entity from one source.
type Provider interface {
	// Name identifies the source; it becomes fusion.Reading.Source.
	Name() string
	// Reliability is the source trust score, 0-100.
	Reliability() int
	// Fetch returns readings for one metric. An error drops the source
	// from the current fusion call; it never aborts the whole run.
	Fetch(ctx context.Context, ent *entity.Record, metric string) ([]fusion.Reading, error)
}

// defaultReliability is the source trust table. Exchange data outranks
// aggregators, aggregators outrank scraped feeds.
var defaultReliability = map[string]int{
	"nse":           95,
	"bse":           90,
	"fmp":           80,
	"yfinance":      78,
	"alpha_vantage": 75,
	"moneycontrol":  70,
	"screener":      65,
}

// ReliabilityFor returns the trust score for a named source, 70 when the
// source is unknown.
func ReliabilityFor(name string) int {
	if r, ok := defaultReliability[name]; ok {
		return r
	}
	return 70
}

// Registry holds the configured providers keyed by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider under its name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider for a name, or nil.
func (r *Registry) Get(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// All returns every registered provider, name-sorted for deterministic
// fan-out order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Provider, 0, len(names))
	for _, name := range names {
		out = append(out, r.providers[name])
	}
	return out
}

// Len reports the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// rateLimited throttles Fetch calls to one source.
type rateLimited struct {
	Provider
	limiter *rate.Limiter
}

// RateLimited wraps p so Fetch waits on a token bucket of r requests per
// second with the given burst.
func RateLimited(p Provider, r rate.Limit, burst int) Provider {
	return &rateLimited{Provider: p, limiter: rate.NewLimiter(r, burst)}
}

func (p *rateLimited) Fetch(ctx context.Context, ent *entity.Record, metric string) ([]fusion.Reading, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.Provider.Fetch(ctx, ent, metric)
}

// retried retries transient Fetch failures.
type retried struct {
	Provider
	cfg resilience.RetryConfig
}

// WithRetry wraps p so transient Fetch errors are retried with backoff.
func WithRetry(p Provider, cfg resilience.RetryConfig) Provider {
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger(p.Name(), "fetch")
	}
	return &retried{Provider: p, cfg: cfg}
}

func (p *retried) Fetch(ctx context.Context, ent *entity.Record, metric string) ([]fusion.Reading, error) {
	return resilience.DoVal(ctx, p.cfg, func(ctx context.Context) ([]fusion.Reading, error) {
		return p.Provider.Fetch(ctx, ent, metric)
	})
}

// guarded short-circuits Fetch while the source's breaker is open.
type guarded struct {
	Provider
	breaker *resilience.CircuitBreaker
}

// WithBreaker wraps p with a circuit breaker from the set, keyed by the
// provider name.
func WithBreaker(p Provider, set *resilience.BreakerSet) Provider {
	return &guarded{Provider: p, breaker: set.Get(p.Name())}
}

func (p *guarded) Fetch(ctx context.Context, ent *entity.Record, metric string) ([]fusion.Reading, error) {
	return resilience.ExecuteVal(ctx, p.breaker, func(ctx context.Context) ([]fusion.Reading, error) {
		return p.Provider.Fetch(ctx, ent, metric)
	})
}
