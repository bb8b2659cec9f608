package resolve

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/market-intel/internal/entity"
	"github.com/sells-group/market-intel/internal/kb"
	"github.com/sells-group/market-intel/internal/normalize"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeIndex is a minimal in-memory entity.Index for cascade tests.
type fakeIndex struct {
	records []entity.Record
	aliases map[string]entity.AliasHit
}

func (f *fakeIndex) GetByName(_ context.Context, key string) (*entity.Record, error) {
	for i := range f.records {
		if f.records[i].NormName == key {
			c := f.records[i]
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeIndex) GetByTicker(_ context.Context, ticker string) (*entity.Record, error) {
	for i := range f.records {
		for _, t := range f.records[i].Tickers {
			if normalize.Key(t) == normalize.Key(ticker) {
				c := f.records[i]
				return &c, nil
			}
		}
	}
	return nil, nil
}

func (f *fakeIndex) GetAlias(_ context.Context, key string) (*entity.AliasHit, error) {
	if hit, ok := f.aliases[key]; ok {
		c := hit
		return &c, nil
	}
	return nil, nil
}

func (f *fakeIndex) ListByKind(_ context.Context, kind entity.Kind) ([]entity.Record, error) {
	var out []entity.Record
	for _, r := range f.records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeIndex) ListAll(_ context.Context) ([]entity.Record, error) {
	return append([]entity.Record(nil), f.records...), nil
}

// failingIndex simulates a store outage on every lookup.
type failingIndex struct{}

func (failingIndex) GetByName(context.Context, string) (*entity.Record, error) {
	return nil, eris.New("store down")
}
func (failingIndex) GetByTicker(context.Context, string) (*entity.Record, error) {
	return nil, eris.New("store down")
}
func (failingIndex) GetAlias(context.Context, string) (*entity.AliasHit, error) {
	return nil, eris.New("store down")
}
func (failingIndex) ListByKind(context.Context, entity.Kind) ([]entity.Record, error) {
	return nil, eris.New("store down")
}
func (failingIndex) ListAll(context.Context) ([]entity.Record, error) {
	return nil, eris.New("store down")
}

type captureSink struct {
	entries []AuditEntry
	err     error
}

func (c *captureSink) LogResolution(_ context.Context, e AuditEntry) error {
	c.entries = append(c.entries, e)
	return c.err
}

func tataMotors() entity.Record {
	return entity.Record{
		ID: 1, Name: "Tata Motors", NormName: "tata motors",
		Kind: entity.KindCompany, Tickers: []string{"TATAMOTORS"},
		Sector: "Auto", Region: "India", Verified: true,
	}
}

func TestResolve_ExactByNormalizedName(t *testing.T) {
	idx := &fakeIndex{records: []entity.Record{tataMotors()}}
	r := NewResolver(idx, nil, nil)

	res := r.Resolve(context.Background(), "Tata Motors Ltd.", nil)

	assert.Equal(t, MethodExact, res.Method)
	assert.Equal(t, 100, res.Confidence)
	assert.True(t, res.Verified)
	require.NotNil(t, res.EntityID)
	assert.Equal(t, int64(1), *res.EntityID)
}

func TestResolve_ExactByTicker(t *testing.T) {
	idx := &fakeIndex{records: []entity.Record{tataMotors()}}
	r := NewResolver(idx, nil, nil)

	res := r.Resolve(context.Background(), "TATAMOTORS", nil)

	assert.Equal(t, MethodExact, res.Method)
	assert.Equal(t, 100, res.Confidence)
}

func TestResolve_AliasConfidenceByKind(t *testing.T) {
	reckitt := entity.Record{
		ID: 2, Name: "Reckitt Benckiser India", NormName: "reckitt benckiser india",
		Kind: entity.KindParent, Verified: true,
	}
	cases := []struct {
		kind entity.AliasKind
		want int
	}{
		{entity.AliasBrand, 98},
		{entity.AliasTicker, 95},
		{entity.AliasSynonym, 90},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			idx := &fakeIndex{aliases: map[string]entity.AliasHit{
				"harpic": {
					Alias:  entity.Alias{EntityID: 2, Alias: "Harpic", NormAlias: "harpic", Kind: tc.kind},
					Entity: reckitt,
				},
			}}
			r := NewResolver(idx, nil, nil)

			res := r.Resolve(context.Background(), "Harpic", nil)

			assert.Equal(t, MethodAlias, res.Method)
			assert.Equal(t, tc.want, res.Confidence)
			require.NotNil(t, res.Entity)
			assert.Equal(t, "Reckitt Benckiser India", res.Entity.Name)
		})
	}
}

func TestResolve_FuzzyTypoCappedBelowCertain(t *testing.T) {
	idx := &fakeIndex{records: []entity.Record{tataMotors()}}
	r := NewResolver(idx, nil, nil)

	res := r.Resolve(context.Background(), "Tata Motars", nil)

	assert.Equal(t, MethodFuzzy, res.Method)
	assert.Equal(t, 90, res.Confidence)
	assert.LessOrEqual(t, res.Confidence, 90)
}

func TestResolve_ParentExtraction(t *testing.T) {
	idx := &fakeIndex{records: []entity.Record{{
		ID: 3, Name: "Reckitt Benckiser", NormName: "reckitt benckiser",
		Kind: entity.KindParent, Verified: true,
	}}}
	r := NewResolver(idx, nil, nil)

	// Misspelled, with a corporate token and trailing noise: exact, alias
	// and whole-string fuzzy all fall short, the suffix-stripped retry
	// against parents clears its bar.
	res := r.Resolve(context.Background(), "Reckit Benckiser Co Brands", nil)

	assert.Equal(t, MethodParentExtraction, res.Method)
	assert.GreaterOrEqual(t, res.Confidence, 60)
	assert.Less(t, res.Confidence, 75)
	require.NotNil(t, res.Entity)
	assert.Equal(t, "Reckitt Benckiser", res.Entity.Name)
}

func TestResolve_StaticKBExact(t *testing.T) {
	knowledge, err := kb.Load(normalize.Key)
	require.NoError(t, err)
	r := NewResolver(&fakeIndex{}, knowledge, nil)

	res := r.Resolve(context.Background(), "Harpic", nil)

	assert.Equal(t, MethodStaticKB, res.Method)
	assert.Equal(t, 95, res.Confidence)
	assert.Nil(t, res.EntityID)
	require.NotNil(t, res.Entity)
	assert.Equal(t, "Reckitt Benckiser India", res.Entity.Name)
	assert.Equal(t, entity.KindParent, res.Entity.Kind)
	assert.True(t, res.Verified)
}

func TestResolve_StaticKBContains(t *testing.T) {
	knowledge, err := kb.Load(normalize.Key)
	require.NoError(t, err)
	r := NewResolver(&fakeIndex{}, knowledge, nil)

	res := r.Resolve(context.Background(), "Harpic Toilet Cleaner", nil)

	assert.Equal(t, MethodStaticKB, res.Method)
	assert.Equal(t, 85, res.Confidence)
	require.NotNil(t, res.Entity)
	assert.Equal(t, "Reckitt Benckiser India", res.Entity.Name)
}

func TestResolve_NoMatchBelowFloor(t *testing.T) {
	r := NewResolver(&fakeIndex{}, nil, nil)

	res := r.Resolve(context.Background(), "xqzw vvkt", nil)

	assert.Equal(t, MethodNone, res.Method)
	assert.Equal(t, 0, res.Confidence)
	assert.Nil(t, res.Entity)
}

func TestResolve_EmptyQuery(t *testing.T) {
	r := NewResolver(&fakeIndex{records: []entity.Record{tataMotors()}}, nil, nil)

	res := r.Resolve(context.Background(), "   ", nil)

	assert.Equal(t, MethodNone, res.Method)
	assert.Equal(t, 0, res.Confidence)
}

func TestResolve_StoreOutageDegradesToStaticKB(t *testing.T) {
	knowledge, err := kb.Load(normalize.Key)
	require.NoError(t, err)
	r := NewResolver(failingIndex{}, knowledge, nil)

	res := r.Resolve(context.Background(), "TCS", nil)

	assert.Equal(t, MethodStaticKB, res.Method)
	assert.Equal(t, 95, res.Confidence)
	require.NotNil(t, res.Entity)
	assert.Equal(t, "Tata Consultancy Services", res.Entity.Name)
}

func TestResolve_AuditEntryWritten(t *testing.T) {
	sink := &captureSink{}
	idx := &fakeIndex{records: []entity.Record{tataMotors()}}
	r := NewResolver(idx, nil, sink)

	r.Resolve(context.Background(), "Tata Motors", nil)

	require.Len(t, sink.entries, 1)
	e := sink.entries[0]
	assert.Equal(t, "Tata Motors", e.Query)
	assert.Equal(t, "tata motors", e.NormQuery)
	assert.Equal(t, MethodExact, e.Method)
	assert.Equal(t, 100, e.Confidence)
	assert.Equal(t, "Tata Motors", e.EntityName)
	assert.False(t, e.ResolvedAt.IsZero())
}

func TestResolve_AuditFailureNeverFailsResolution(t *testing.T) {
	sink := &captureSink{err: eris.New("audit table locked")}
	idx := &fakeIndex{records: []entity.Record{tataMotors()}}
	r := NewResolver(idx, nil, sink)

	res := r.Resolve(context.Background(), "Tata Motors", nil)

	assert.Equal(t, MethodExact, res.Method)
	assert.Equal(t, 100, res.Confidence)
}
