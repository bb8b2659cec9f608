package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/market-intel/internal/entity"
	"github.com/sells-group/market-intel/internal/fusion"
	"github.com/sells-group/market-intel/internal/joblock"
	"github.com/sells-group/market-intel/internal/kb"
	"github.com/sells-group/market-intel/internal/normalize"
	"github.com/sells-group/market-intel/internal/provider"
	"github.com/sells-group/market-intel/internal/resilience"
	"github.com/sells-group/market-intel/internal/resolve"
	"github.com/sells-group/market-intel/internal/store"
)

// env bundles the wired components a command needs.
type env struct {
	store    store.Store
	resolver *resolve.Resolver
	locks    *joblock.Manager
}

func newEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	knowledge, err := loadKB()
	if err != nil {
		st.Close()
		return nil, err
	}

	return &env{
		store:    st,
		resolver: resolve.NewResolver(st, knowledge, st),
		locks:    joblock.NewManager(st, cfg.Lock.TTL()),
	}, nil
}

func (e *env) Close() {
	_ = e.store.Close()
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.Path)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func loadKB() (*kb.KnowledgeBase, error) {
	if cfg.Resolve.SeedFile != "" {
		return kb.LoadFile(cfg.Resolve.SeedFile, normalize.Key)
	}
	return kb.Load(normalize.Key)
}

// readingsFile maps metric name to readings, the offline input format for
// analyze and fuse runs.
type readingsFile map[string][]fusion.Reading

func loadReadingsFile(path string) (readingsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read readings %s", path)
	}
	var rf readingsFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, eris.Wrap(err, "parse readings file")
	}
	return rf, nil
}

// registryFromReadings builds one provider per distinct source in the
// file, wrapped with the configured rate limit, retry, and breaker. This
// exercises the full fan-out path without live market connections.
func registryFromReadings(rf readingsFile) *provider.Registry {
	bySource := make(map[string]readingsFile)
	for metric, readings := range rf {
		for _, rd := range readings {
			src := rd.Source
			if src == "" {
				src = "file"
			}
			if bySource[src] == nil {
				bySource[src] = make(readingsFile)
			}
			bySource[src][metric] = append(bySource[src][metric], rd)
		}
	}

	breakers := resilience.NewBreakerSet(resilience.CircuitConfig{
		FailureThreshold: cfg.Providers.BreakerThreshold,
	})
	retryCfg := resilience.RetryConfig{MaxAttempts: cfg.Providers.RetryAttempts}

	reg := provider.NewRegistry()
	for source, perMetric := range bySource {
		reliability := provider.ReliabilityFor(source)
		if r, ok := cfg.Providers.Reliability[source]; ok {
			reliability = r
		}
		own := perMetric
		p := provider.Provider(provider.NewStatic(source, reliability,
			func(_ *entity.Record, metric string) []fusion.Reading {
				return own[metric]
			}))
		if cfg.Providers.RatePerSec > 0 {
			p = provider.RateLimited(p, rate.Limit(cfg.Providers.RatePerSec), cfg.Providers.Burst)
		}
		p = provider.WithRetry(p, retryCfg)
		p = provider.WithBreaker(p, breakers)
		reg.Register(p)
	}
	return reg
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal output")
	}
	fmt.Println(string(out))
	return nil
}
