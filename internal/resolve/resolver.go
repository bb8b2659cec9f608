// Package resolve implements the resolution cascade that maps free-text
// queries ("Harpic", "Tata Motors") to canonical business entities. The
// cascade runs a fixed priority order of strategies and stops at the first
// one that clears its acceptance threshold; a store outage during any one
// strategy degrades that strategy to "no match" and the cascade continues.
package resolve

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/market-intel/internal/entity"
	"github.com/sells-group/market-intel/internal/kb"
	"github.com/sells-group/market-intel/internal/normalize"
)

// Acceptance thresholds and confidence constants per strategy.
const (
	exactThreshold  = 95
	aliasThreshold  = 85
	fuzzyThreshold  = 75
	parentThreshold = 60

	// confidenceFloor is the global cutoff: anything below resolves to none
	// and the caller is expected to enqueue background auto-discovery.
	confidenceFloor = 60

	exactConfidence = 100

	// Alias confidences: a brand-to-parent mapping carries an owning-parent
	// reference and is the strongest curated signal; tickers are exchange
	// registered; plain synonyms trail.
	aliasBrandConfidence   = 98
	aliasTickerConfidence  = 95
	aliasSynonymConfidence = 90

	// Fuzzy matches are never treated as certain.
	fuzzyConfidenceCap = 90

	kbExactConfidence    = 95
	kbContainsConfidence = 85

	maxAlternatives = 5
)

// AuditEntry records one resolution attempt for supervised correction.
type AuditEntry struct {
	Query      string    `json:"query"`
	NormQuery  string    `json:"norm_query"`
	EntityID   *int64    `json:"entity_id,omitempty"`
	EntityName string    `json:"entity_name,omitempty"`
	Method     Method    `json:"method"`
	Confidence int       `json:"confidence"`
	LatencyMS  int64     `json:"latency_ms"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// AuditSink receives resolution audit entries. Writes are best-effort:
// a sink failure must never fail the resolution call.
type AuditSink interface {
	LogResolution(ctx context.Context, e AuditEntry) error
}

// Resolver runs the resolution cascade against an injected entity index
// and static knowledge base.
type Resolver struct {
	idx   entity.Index
	kb    *kb.KnowledgeBase
	audit AuditSink
	log   *zap.Logger
}

// NewResolver creates a resolver. kb and audit may be nil; the
// corresponding strategy and logging are then skipped.
func NewResolver(idx entity.Index, knowledge *kb.KnowledgeBase, audit AuditSink) *Resolver {
	return &Resolver{
		idx:   idx,
		kb:    knowledge,
		audit: audit,
		log:   zap.L().With(zap.String("component", "resolver")),
	}
}

// Resolve maps a free-text query to a ResolutionResult. It never returns
// an error: input problems and store outages degrade to lower-confidence
// or no-match outcomes.
func (r *Resolver) Resolve(ctx context.Context, query string, rctx *Context) Result {
	started := time.Now()

	key := normalize.Key(query)
	if key == "" {
		res := None()
		res.Latency = time.Since(started)
		r.logAttempt(ctx, query, key, res)
		return res
	}

	best := None()

	// Strategy order is a hard contract: later strategies assume earlier
	// ones already failed to reach threshold.
	strategies := []struct {
		name      string
		threshold int
		run       func(context.Context, string, *Context) Result
	}{
		{"exact", exactThreshold, r.exactMatch},
		{"alias", aliasThreshold, r.aliasLookup},
		{"fuzzy", fuzzyThreshold, r.fuzzyLookup},
		{"parent_extraction", parentThreshold, r.parentExtraction},
		{"static_kb", confidenceFloor, r.staticFallback},
	}

	for _, s := range strategies {
		res := s.run(ctx, key, rctx)
		if res.Confidence >= s.threshold {
			res.Latency = time.Since(started)
			r.logAttempt(ctx, query, key, res)
			return res
		}
		// A later stage occasionally beats an earlier inconclusive one.
		if res.Confidence > best.Confidence {
			best = res
		}
	}

	if best.Confidence < confidenceFloor {
		best = None()
	}
	best.Latency = time.Since(started)
	r.logAttempt(ctx, query, key, best)
	return best
}

// exactMatch checks the primary index for a normalized-name, ticker, or
// registered-alias equality hit.
func (r *Resolver) exactMatch(ctx context.Context, key string, _ *Context) Result {
	rec, err := r.idx.GetByName(ctx, key)
	if err != nil {
		r.log.Warn("exact: name lookup degraded", zap.Error(err))
		return None()
	}
	if rec == nil {
		t, err := r.idx.GetByTicker(ctx, key)
		if err != nil {
			r.log.Warn("exact: ticker lookup degraded", zap.Error(err))
			return None()
		}
		rec = t
	}
	if rec == nil {
		if cands := r.exactAliasCandidates(ctx, key); len(cands) > 0 {
			rec = cands[0]
		}
	}
	if rec == nil {
		return None()
	}
	return r.hit(rec, exactConfidence, MethodExact, nil)
}

// exactAliasCandidates returns entities whose registered record-level
// aliases equal the key exactly.
func (r *Resolver) exactAliasCandidates(ctx context.Context, key string) []*entity.Record {
	all, err := r.idx.ListAll(ctx)
	if err != nil {
		r.log.Warn("exact: alias scan degraded", zap.Error(err))
		return nil
	}
	var out []*entity.Record
	for i := range all {
		for _, a := range all[i].Aliases {
			if normalize.Key(a) == key {
				out = append(out, &all[i])
				break
			}
		}
	}
	return out
}

// aliasLookup consults the dedicated curated alias/ticker index. This is an
// exact lookup against a curated mapping, not fuzzy matching.
func (r *Resolver) aliasLookup(ctx context.Context, key string, _ *Context) Result {
	hit, err := r.idx.GetAlias(ctx, key)
	if err != nil {
		r.log.Warn("alias: lookup degraded", zap.Error(err))
		return None()
	}
	if hit == nil {
		return None()
	}

	conf := aliasSynonymConfidence
	switch hit.Alias.Kind {
	case entity.AliasBrand:
		conf = aliasBrandConfidence
	case entity.AliasTicker:
		conf = aliasTickerConfidence
	}
	rec := hit.Entity
	return r.hit(&rec, conf, MethodAlias, nil)
}

// fuzzyLookup compares the query against every phonetically-compatible
// candidate name using scaled edit distance.
func (r *Resolver) fuzzyLookup(ctx context.Context, key string, rctx *Context) Result {
	all, err := r.idx.ListAll(ctx)
	if err != nil {
		r.log.Warn("fuzzy: list degraded", zap.Error(err))
		return None()
	}
	return r.fromFuzzy(fuzzyMatch(key, all, rctx), MethodFuzzy)
}

// parentExtraction strips corporate suffix tokens and retries fuzzy match
// against parent entities only. Useful when the query looks like a formal
// registered name rather than a brand.
func (r *Resolver) parentExtraction(ctx context.Context, key string, rctx *Context) Result {
	stripped := normalize.StripSuffixes(key)
	if stripped == "" {
		return None()
	}
	parents, err := r.idx.ListByKind(ctx, entity.KindParent)
	if err != nil {
		r.log.Warn("parent_extraction: list degraded", zap.Error(err))
		return None()
	}
	return r.fromFuzzy(fuzzyMatch(stripped, parents, rctx), MethodParentExtraction)
}

// staticFallback consults the hand-curated knowledge base, which exists
// because the primary matching store may be empty, unavailable, or missing
// a recent addition.
func (r *Resolver) staticFallback(_ context.Context, key string, _ *Context) Result {
	if r.kb == nil {
		return None()
	}
	if e, ok := r.kb.Lookup(key); ok {
		return r.hit(kbRecord(e), kbExactConfidence, MethodStaticKB, nil)
	}
	if e, ok := r.kb.LookupContains(key); ok {
		return r.hit(kbRecord(e), kbContainsConfidence, MethodStaticKB, nil)
	}
	return None()
}

// fromFuzzy converts ranked fuzzy candidates into a Result, capping
// confidence and carrying ranked runners-up as alternatives.
func (r *Resolver) fromFuzzy(scored []fuzzyCandidate, method Method) Result {
	if len(scored) == 0 {
		return None()
	}

	top := scored[0]
	conf := min(top.similarity, fuzzyConfidenceCap)

	var alts []Candidate
	for _, c := range scored[1:] {
		if len(alts) == maxAlternatives {
			break
		}
		alts = append(alts, Candidate{
			Entity:     c.rec,
			Confidence: min(c.similarity, fuzzyConfidenceCap),
			Method:     method,
		})
	}

	rec := top.rec
	return r.hit(&rec, conf, method, alts)
}

func (r *Resolver) hit(rec *entity.Record, conf int, method Method, alts []Candidate) Result {
	res := Result{
		Entity:       rec,
		Confidence:   conf,
		Method:       method,
		Verified:     rec.Verified,
		Alternatives: alts,
	}
	if rec.ID != 0 {
		id := rec.ID
		res.EntityID = &id
	}
	return res
}

// kbRecord synthesizes an unpersisted entity record from a curated entry.
// Brand entries resolve to their owning parent: the parent is the entity
// data is fetched for.
func kbRecord(e *kb.Entry) *entity.Record {
	name := e.Name
	kind := e.Kind
	if e.Parent != "" {
		name = e.Parent
		kind = entity.KindParent
	}
	if kind == "" {
		kind = entity.KindCompany
	}
	return &entity.Record{
		Name:     name,
		NormName: normalize.Key(name),
		Kind:     kind,
		Sector:   e.Sector,
		Region:   e.Region,
		Tickers:  e.Tickers,
		Verified: true, // hand-curated
	}
}

// logAttempt writes the audit entry and a debug log line. Best-effort:
// failures are warned and swallowed so logging can never fail resolution.
func (r *Resolver) logAttempt(ctx context.Context, query, key string, res Result) {
	r.log.Debug("resolved",
		zap.String("query", query),
		zap.String("method", string(res.Method)),
		zap.Int("confidence", res.Confidence),
		zap.Duration("latency", res.Latency),
	)
	if r.audit == nil {
		return
	}
	entry := AuditEntry{
		Query:      query,
		NormQuery:  key,
		EntityID:   res.EntityID,
		Method:     res.Method,
		Confidence: res.Confidence,
		LatencyMS:  res.Latency.Milliseconds(),
		ResolvedAt: time.Now().UTC(),
	}
	if res.Entity != nil {
		entry.EntityName = res.Entity.Name
	}
	if err := r.audit.LogResolution(ctx, entry); err != nil {
		r.log.Warn("audit log write failed", zap.Error(err))
	}
}
