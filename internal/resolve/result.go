package resolve

import (
	"time"

	"github.com/sells-group/market-intel/internal/entity"
)

// Method identifies which cascade strategy produced a match.
type Method string

const (
	MethodExact            Method = "exact"
	MethodAlias            Method = "alias"
	MethodFuzzy            Method = "fuzzy"
	MethodParentExtraction Method = "parent_extraction"
	MethodStaticKB         Method = "static_kb"
	MethodNone             Method = "none"
)

// Candidate is one ranked alternative considered during resolution.
type Candidate struct {
	Entity     entity.Record `json:"entity"`
	Confidence int           `json:"confidence"`
	Method     Method        `json:"method"`
}

// Result is the immutable output of one resolution attempt.
type Result struct {
	// EntityID is set when the match came from the persistent index;
	// static knowledge-base hits synthesize a record without an ID.
	EntityID     *int64         `json:"entity_id,omitempty"`
	Entity       *entity.Record `json:"entity,omitempty"`
	Confidence   int            `json:"confidence"`
	Method       Method         `json:"method"`
	Verified     bool           `json:"verified"`
	Alternatives []Candidate    `json:"alternatives,omitempty"`
	Latency      time.Duration  `json:"latency"`
}

// None returns the canonical no-match result.
func None() Result {
	return Result{Method: MethodNone, Confidence: 0}
}

// Context optionally narrows resolution by the caller's preferred region
// and sector; it is only consulted to break fuzzy-match ties.
type Context struct {
	Region string `json:"region,omitempty"`
	Sector string `json:"sector,omitempty"`
}
