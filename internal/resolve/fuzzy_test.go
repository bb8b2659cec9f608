package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/market-intel/internal/entity"
)

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("tata", "tata"))
	assert.Equal(t, 1, levenshtein("tata motors", "tata motars"))
	assert.Equal(t, 4, levenshtein("", "tata"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 100, similarity("infosys", "infosys"))
	assert.Equal(t, 90, similarity("tata motors", "tata motars"))
	assert.Equal(t, 0, similarity("", ""))
}

func TestFuzzyMatch_PhoneticPrefilterExcludesUnrelated(t *testing.T) {
	records := []entity.Record{
		{ID: 1, Name: "Tata Motors", NormName: "tata motors"},
		{ID: 2, Name: "Infosys", NormName: "infosys"},
	}

	scored := fuzzyMatch("tata motars", records, nil)

	require.Len(t, scored, 1)
	assert.Equal(t, int64(1), scored[0].rec.ID)
	assert.Equal(t, 90, scored[0].similarity)
}

func TestFuzzyMatch_AliasesAreCandidateKeys(t *testing.T) {
	records := []entity.Record{
		{ID: 1, Name: "Hindustan Unilever", NormName: "hindustan unilever", Aliases: []string{"HUL"}},
	}

	scored := fuzzyMatch("hul", records, nil)

	require.Len(t, scored, 1)
	assert.Equal(t, "hul", scored[0].matched)
	assert.Equal(t, 100, scored[0].similarity)
}

func TestFuzzyMatch_ContextBreaksTies(t *testing.T) {
	// Both candidates sit at the same edit distance from the query; the
	// caller's region decides.
	records := []entity.Record{
		{ID: 1, Name: "Lizol", NormName: "lizol", Region: "India"},
		{ID: 2, Name: "Lysol", NormName: "lysol", Region: "US"},
	}

	scored := fuzzyMatch("lyzol", records, &Context{Region: "US"})
	require.Len(t, scored, 2)
	assert.Equal(t, int64(2), scored[0].rec.ID)

	// Without context the deterministic name order wins.
	scored = fuzzyMatch("lyzol", records, nil)
	require.Len(t, scored, 2)
	assert.Equal(t, int64(1), scored[0].rec.ID)
}

func TestFuzzyMatch_EmptyQuery(t *testing.T) {
	records := []entity.Record{{ID: 1, NormName: "tata motors"}}
	assert.Empty(t, fuzzyMatch("", records, nil))
}
