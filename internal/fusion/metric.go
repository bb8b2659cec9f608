package fusion

import "strings"

// MetricProfile declares the plausible range and anomaly tolerance for one
// metric. Every numeric input declares its unit and range up front instead
// of being validated ad hoc downstream.
type MetricProfile struct {
	Metric string `json:"metric"`

	// Min and Max bound sane values; readings outside are dropped before
	// any consensus math.
	Min float64 `json:"min"`
	Max float64 `json:"max"`

	// AnomalyTolerance is the maximum relative deviation from the median
	// before a reading is flagged anomalous. Tight for prices, loose for
	// qualitative ratios.
	AnomalyTolerance float64 `json:"anomaly_tolerance"`
}

// profiles carries the built-in per-metric validation table. Values mirror
// the tolerances the upstream providers have historically warranted.
var profiles = map[string]MetricProfile{
	"price":          {Metric: "price", Min: 0, Max: 1e7, AnomalyTolerance: 0.10},
	"market_cap":     {Metric: "market_cap", Min: 0, Max: 1e15, AnomalyTolerance: 0.25},
	"revenue":        {Metric: "revenue", Min: 0, Max: 1e14, AnomalyTolerance: 0.25},
	"ebitda":         {Metric: "ebitda", Min: -1e13, Max: 1e13, AnomalyTolerance: 0.30},
	"pe_ratio":       {Metric: "pe_ratio", Min: -1000, Max: 10000, AnomalyTolerance: 0.40},
	"roe":            {Metric: "roe", Min: -100, Max: 100, AnomalyTolerance: 0.40},
	"margin":         {Metric: "margin", Min: -100, Max: 100, AnomalyTolerance: 0.40},
	"employee_count": {Metric: "employee_count", Min: 0, Max: 1e8, AnomalyTolerance: 0.30},
}

var defaultProfile = MetricProfile{Metric: "default", Min: -1e15, Max: 1e15, AnomalyTolerance: 0.20}

// ProfileFor returns the validation profile for a metric, falling back to
// a permissive default with a 20% anomaly tolerance.
func ProfileFor(metric string) MetricProfile {
	if p, ok := profiles[strings.ToLower(strings.TrimSpace(metric))]; ok {
		return p
	}
	p := defaultProfile
	p.Metric = metric
	return p
}
