package resolve

import (
	"sort"
	"strings"

	"github.com/sells-group/market-intel/internal/entity"
	"github.com/sells-group/market-intel/internal/normalize"
)

// fuzzyCandidate is one entity name or alias scored against the query.
type fuzzyCandidate struct {
	rec        entity.Record
	matched    string // the normalized name/alias that scored
	similarity int
}

// levenshtein computes edit distance between two strings using two rows.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// similarity scores two normalized keys 0-100 from edit distance scaled by
// the longer length.
func similarity(a, b string) int {
	maxLen := max(len(a), len(b))
	if maxLen == 0 {
		return 0
	}
	d := levenshtein(a, b)
	return int((1 - float64(d)/float64(maxLen)) * 100)
}

// fuzzyMatch scores every candidate whose phonetic pre-filter code matches
// the query's, and returns the candidates ranked best-first. The phonetic
// shortlist bounds the edit-distance cost; it is never a match signal on
// its own.
func fuzzyMatch(queryKey string, records []entity.Record, rctx *Context) []fuzzyCandidate {
	queryCode := normalize.PhoneticCode(queryKey)
	if queryCode == "" {
		return nil
	}

	var scored []fuzzyCandidate
	for _, rec := range records {
		best := -1
		matched := ""
		for _, name := range candidateKeys(rec) {
			if normalize.PhoneticCode(name) != queryCode {
				continue
			}
			if s := similarity(queryKey, name); s > best {
				best = s
				matched = name
			}
		}
		if best >= 0 {
			scored = append(scored, fuzzyCandidate{rec: rec, matched: matched, similarity: best})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return fuzzyLess(scored[i], scored[j], rctx)
	})
	return scored
}

// candidateKeys returns the normalized names a record can be matched under.
func candidateKeys(rec entity.Record) []string {
	keys := make([]string, 0, 1+len(rec.Aliases))
	if rec.NormName != "" {
		keys = append(keys, rec.NormName)
	}
	for _, a := range rec.Aliases {
		if k := normalize.Key(a); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// fuzzyLess orders candidates by (a) higher similarity, (b) exact
// region/sector match with the caller's context, (c) shortest candidate
// name, then name for determinism.
func fuzzyLess(a, b fuzzyCandidate, rctx *Context) bool {
	if a.similarity != b.similarity {
		return a.similarity > b.similarity
	}
	am, bm := contextAffinity(a.rec, rctx), contextAffinity(b.rec, rctx)
	if am != bm {
		return am > bm
	}
	if len(a.rec.NormName) != len(b.rec.NormName) {
		return len(a.rec.NormName) < len(b.rec.NormName)
	}
	return a.rec.NormName < b.rec.NormName
}

func contextAffinity(rec entity.Record, rctx *Context) int {
	if rctx == nil {
		return 0
	}
	n := 0
	if rctx.Region != "" && strings.EqualFold(rec.Region, rctx.Region) {
		n++
	}
	if rctx.Sector != "" && strings.EqualFold(rec.Sector, rctx.Sector) {
		n++
	}
	return n
}
