// Package fusion fuses numeric readings about one metric, collected from
// multiple independent and unreliable providers, into a single consensus
// value with a 0-100 confidence score.
package fusion

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Reading is one observation of a metric for an entity.
type Reading struct {
	Value float64 `json:"value"`
	// Source identifies the originating provider.
	Source string `json:"source"`
	// Reliability is the source's trust weight, 0-100.
	Reliability int       `json:"reliability"`
	ObservedAt  time.Time `json:"observed_at"`
	Unit        string    `json:"unit,omitempty"`
}

// DropReason explains why a reading was excluded from consensus.
type DropReason string

const (
	DropSanity  DropReason = "sanity"  // failed type/range checks
	DropAnomaly DropReason = "anomaly" // excessive deviation from median
)

// FlaggedReading is a reading excluded from the consensus value but kept
// for transparency.
type FlaggedReading struct {
	Reading Reading    `json:"reading"`
	Reason  DropReason `json:"reason"`
}

// Status signals the overall outcome of a fusion call. Insufficient data is
// a first-class answer, never an error.
type Status string

const (
	// StatusOK means a consensus value was produced.
	StatusOK Status = "ok"
	// StatusInsufficientData means no readings were supplied.
	StatusInsufficientData Status = "insufficient_data"
	// StatusAllInvalid means every reading failed sanity checks: bad input.
	StatusAllInvalid Status = "all_invalid"
	// StatusAllConflicting means every sanity-valid reading was anomalous:
	// genuine disagreement between otherwise-valid sources.
	StatusAllConflicting Status = "all_conflicting"
)

// ConsensusResult is the fused outcome for one metric.
type ConsensusResult struct {
	Metric string `json:"metric"`
	// Value is nil when no consensus exists; callers must treat that as
	// "insufficient data", not as zero.
	Value      *float64         `json:"value,omitempty"`
	Confidence int              `json:"confidence"`
	Status     Status           `json:"status"`
	Anomalies  []FlaggedReading `json:"anomalies,omitempty"`
	// Sources lists the distinct source identifiers that contributed to
	// the consensus value.
	Sources []string `json:"sources,omitempty"`

	// Diagnostics.
	Median float64 `json:"median,omitempty"`
	Spread float64 `json:"spread,omitempty"`
}

// Confidence factor caps. Four additive factors, clamped to [0, 100].
const (
	reliabilityCapPts = 40
	freshnessCapPts   = 30
	agreementCapPts   = 20
	diversityCapPts   = 10

	// Each anomalous reading signals cross-source conflict and costs a few
	// points, capped so outlier floods cannot zero an otherwise-solid score.
	anomalyPenaltyPts = 5
	anomalyPenaltyCap = 15
)

// Fuse validates readings against the metric's profile, discards outliers,
// and computes a reliability-weighted consensus with a confidence score.
// It never panics or errors: an empty or fully-discarded input yields a
// nil value with confidence 0 and an explanatory status.
func Fuse(metric string, readings []Reading) ConsensusResult {
	return FuseAt(metric, readings, time.Now().UTC())
}

// FuseAt is Fuse with an injectable clock for freshness scoring.
func FuseAt(metric string, readings []Reading, now time.Time) ConsensusResult {
	res := ConsensusResult{Metric: metric, Status: StatusInsufficientData}
	if len(readings) == 0 {
		return res
	}

	profile := ProfileFor(metric)

	// Step 1: sanity filter. Dropped readings are recorded but excluded
	// from all consensus math.
	valid := make([]Reading, 0, len(readings))
	for _, rd := range readings {
		if !saneValue(rd.Value, profile) {
			res.Anomalies = append(res.Anomalies, FlaggedReading{Reading: rd, Reason: DropSanity})
			continue
		}
		valid = append(valid, rd)
	}
	if len(valid) == 0 {
		res.Status = StatusAllInvalid
		return res
	}

	// Step 2: anomaly filter against the median of surviving values.
	med := median(values(valid))
	surviving := make([]Reading, 0, len(valid))
	for _, rd := range valid {
		if relDeviation(rd.Value, med) > profile.AnomalyTolerance {
			res.Anomalies = append(res.Anomalies, FlaggedReading{Reading: rd, Reason: DropAnomaly})
			continue
		}
		surviving = append(surviving, rd)
	}
	if len(surviving) == 0 {
		res.Status = StatusAllConflicting
		zap.L().Warn("fusion: all readings conflict",
			zap.String("metric", metric),
			zap.Float64("median", med),
			zap.Int("readings", len(valid)),
		)
		return res
	}

	// Step 3: reliability-weighted median of the survivors.
	consensus := weightedMedian(surviving)

	lo, hi := minMax(values(surviving))
	res.Status = StatusOK
	res.Value = &consensus
	res.Median = med
	res.Spread = hi - lo
	res.Sources = distinctSources(surviving)

	// Step 4: additive confidence score.
	anomalyCount := 0
	for _, f := range res.Anomalies {
		if f.Reason == DropAnomaly {
			anomalyCount++
		}
	}
	res.Confidence = confidenceScore(surviving, consensus, lo, hi, anomalyCount, now)

	return res
}

// confidenceScore combines source reliability, freshness, cross-source
// agreement, and source diversity, minus a conflict penalty per anomaly.
func confidenceScore(surviving []Reading, consensus, lo, hi float64, anomalies int, now time.Time) int {
	score := reliabilityPoints(surviving) +
		freshnessPoints(surviving, now) +
		agreementPoints(len(surviving), consensus, lo, hi) +
		diversityPoints(distinctSourceCount(surviving))

	penalty := anomalies * anomalyPenaltyPts
	if penalty > anomalyPenaltyCap {
		penalty = anomalyPenaltyCap
	}
	score -= penalty

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// reliabilityPoints scales the mean reliability weight of contributing
// sources to at most 40 points.
func reliabilityPoints(rs []Reading) int {
	total := 0
	for _, rd := range rs {
		w := rd.Reliability
		if w < 0 {
			w = 0
		}
		if w > 100 {
			w = 100
		}
		total += w
	}
	mean := float64(total) / float64(len(rs))
	return int(math.Round(mean / 100 * reliabilityCapPts))
}

// freshnessPoints scores the age of the most recent contributing reading
// in coarse steps, decaying to a floor past 30 days.
func freshnessPoints(rs []Reading, now time.Time) int {
	newest := rs[0].ObservedAt
	for _, rd := range rs[1:] {
		if rd.ObservedAt.After(newest) {
			newest = rd.ObservedAt
		}
	}
	if newest.IsZero() {
		return 4
	}
	age := now.Sub(newest)
	switch {
	case age < 24*time.Hour:
		return freshnessCapPts
	case age < 3*24*time.Hour:
		return 24
	case age < 7*24*time.Hour:
		return 18
	case age < 14*24*time.Hour:
		return 12
	case age < 30*24*time.Hour:
		return 8
	default:
		return 4
	}
}

// agreementPoints scores the inverse of the min-max spread relative to the
// consensus value. Tight agreement scores high; a spread at or beyond the
// consensus magnitude scores zero. A single survivor has no corroboration
// and scores zero.
func agreementPoints(n int, consensus, lo, hi float64) int {
	if n < 2 {
		return 0
	}
	denom := math.Abs(consensus)
	if denom == 0 {
		if hi == lo {
			return agreementCapPts
		}
		return 0
	}
	rel := (hi - lo) / denom
	if rel >= 1 {
		return 0
	}
	return int(math.Round((1 - rel) * agreementCapPts))
}

// diversityPoints scales with the count of distinct contributing sources,
// capped at 3+. A single source earns nothing.
func diversityPoints(distinct int) int {
	if distinct > 3 {
		distinct = 3
	}
	if distinct < 1 {
		return 0
	}
	return (distinct - 1) * diversityCapPts / 2
}

func saneValue(v float64, p MetricProfile) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= p.Min && v <= p.Max
}

func relDeviation(v, med float64) float64 {
	if med == 0 {
		if v == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(v-med) / math.Abs(med)
}

func values(rs []Reading) []float64 {
	out := make([]float64, len(rs))
	for i, rd := range rs {
		out[i] = rd.Value
	}
	return out
}

func median(vs []float64) float64 {
	sorted := append([]float64(nil), vs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// weightedMedian returns the value at which cumulative source reliability
// crosses half the total weight. Zero-weight readings count as weight 1 so
// they can still contribute when nothing better exists.
func weightedMedian(rs []Reading) float64 {
	sorted := append([]Reading(nil), rs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value < sorted[j].Value })

	total := 0
	for _, rd := range sorted {
		total += weightOf(rd)
	}
	half := float64(total) / 2
	cum := 0
	for _, rd := range sorted {
		cum += weightOf(rd)
		if float64(cum) >= half {
			return rd.Value
		}
	}
	return sorted[len(sorted)-1].Value
}

func weightOf(rd Reading) int {
	if rd.Reliability <= 0 {
		return 1
	}
	return rd.Reliability
}

func minMax(vs []float64) (float64, float64) {
	lo, hi := vs[0], vs[0]
	for _, v := range vs[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func distinctSources(rs []Reading) []string {
	seen := make(map[string]bool, len(rs))
	var out []string
	for _, rd := range rs {
		if !seen[rd.Source] {
			seen[rd.Source] = true
			out = append(out, rd.Source)
		}
	}
	sort.Strings(out)
	return out
}

func distinctSourceCount(rs []Reading) int {
	seen := make(map[string]bool, len(rs))
	for _, rd := range rs {
		seen[rd.Source] = true
	}
	return len(seen)
}
