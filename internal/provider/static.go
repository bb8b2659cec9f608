package provider

import (
	"context"

	"github.com/sells-group/market-intel/internal/entity"
	"github.com/sells-group/market-intel/internal/fusion"
)

// Static is a fixed-function provider, used for offline analyze runs and
// as a test double.
type Static struct {
	name        string
	reliability int
	fn          func(ent *entity.Record, metric string) []fusion.Reading
}

// NewStatic creates a provider whose readings come from fn.
func NewStatic(name string, reliability int, fn func(ent *entity.Record, metric string) []fusion.Reading) *Static {
	return &Static{name: name, reliability: reliability, fn: fn}
}

func (s *Static) Name() string     { return s.name }
func (s *Static) Reliability() int { return s.reliability }

func (s *Static) Fetch(_ context.Context, ent *entity.Record, metric string) ([]fusion.Reading, error) {
	if s.fn == nil {
		return nil, nil
	}
	return s.fn(ent, metric), nil
}
