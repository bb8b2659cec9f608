// Package normalize derives canonical comparison keys from free-text
// entity names. All matching layers share these keys so that "Tata Motors
// Ltd.", "TATA MOTORS" and "tata motors" land in the same lookup bucket.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// suffixTokens lists corporate suffix tokens stripped during normalization
// when they appear as whole words at the end of a name.
var suffixTokens = map[string]bool{
	"ltd":          true,
	"limited":      true,
	"inc":          true,
	"incorporated": true,
	"corp":         true,
	"corporation":  true,
	"company":      true,
	"co":           true,
	"group":        true,
	"plc":          true,
	"llc":          true,
	"llp":          true,
	"lp":           true,
	"pvt":          true,
	"private":      true,
	"pllc":         true,
	"india":        true,
}

var (
	nonAlnumRe   = regexp.MustCompile(`[^a-z0-9 ]+`)
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
)

// foldDiacritics decomposes to NFD, drops combining marks, and recomposes,
// so "Nestlé" keys the same as "Nestle".
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Key standardizes an entity name for matching by:
//  1. Trimming whitespace
//  2. Folding diacritics (é → e)
//  3. Lower-casing
//  4. Stripping characters outside [a-z0-9 ]
//  5. Collapsing runs of whitespace
//  6. Stripping trailing corporate suffix tokens (ltd, inc, corp, ...)
//
// Key is pure and idempotent; it never fails. Empty or symbol-only input
// yields "", which callers must treat as "no match possible".
func Key(text string) string {
	s := strings.TrimSpace(text)
	if s == "" {
		return ""
	}

	if folded, _, err := transform.String(foldDiacritics, s); err == nil {
		s = folded
	}

	s = strings.ToLower(s)
	s = strings.NewReplacer("&", " and ", "-", " ", "/", " ").Replace(s)
	s = nonAlnumRe.ReplaceAllString(s, "")
	s = multiSpaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	// Strip suffix tokens from the end, repeatedly: "acme holdings pvt ltd"
	// loses both "pvt" and "ltd". Never strip the final remaining word.
	words := strings.Fields(s)
	for len(words) > 1 && suffixTokens[words[len(words)-1]] {
		words = words[:len(words)-1]
	}

	return strings.Join(words, " ")
}

// StripSuffixes removes corporate suffix tokens anywhere in an
// already-normalized key, not only at the end. Used by the parent-company
// extraction strategy where formal registered names embed suffix tokens
// mid-string ("acme ltd holdings").
func StripSuffixes(key string) string {
	words := strings.Fields(key)
	kept := words[:0]
	for _, w := range words {
		if !suffixTokens[w] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

// LockKey derives the job-lock bucket for a raw target string. It is the
// normalized key with spaces replaced so the result is safe as a flat store
// key. Empty output means the target is not lockable.
func LockKey(text string) string {
	k := Key(text)
	if k == "" {
		return ""
	}
	return strings.ReplaceAll(k, " ", "_")
}
