// Package kb provides the hand-curated static knowledge base used as the
// resolution cascade's last fallback. The primary entity index may be empty,
// unavailable, or missing a recent addition; the knowledge base is always
// loadable and never depends on a store.
package kb

import (
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/market-intel/internal/entity"
)

//go:embed seed.yaml
var defaultSeed []byte

// Entry is one curated mapping from a brand or common name to its canonical
// entity, optionally with an owning parent.
type Entry struct {
	Name    string      `yaml:"name"`
	Kind    entity.Kind `yaml:"kind,omitempty"`
	Parent  string      `yaml:"parent,omitempty"`
	Sector  string      `yaml:"sector,omitempty"`
	Region  string      `yaml:"region,omitempty"`
	Tickers []string    `yaml:"tickers,omitempty"`
	Aliases []string    `yaml:"aliases,omitempty"`
}

type seedFile struct {
	Entries []Entry `yaml:"entries"`
}

// KnowledgeBase indexes curated entries by normalized name and alias.
type KnowledgeBase struct {
	entries []Entry
	byKey   map[string]int // normalized name/alias -> index into entries
}

// Load builds a KnowledgeBase from the embedded default seed.
func Load(keyFn func(string) string) (*KnowledgeBase, error) {
	return parse(defaultSeed, keyFn)
}

// LoadFile builds a KnowledgeBase from a YAML seed file on disk.
func LoadFile(path string, keyFn func(string) string) (*KnowledgeBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "kb: read seed %s", path)
	}
	return parse(data, keyFn)
}

func parse(data []byte, keyFn func(string) string) (*KnowledgeBase, error) {
	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, eris.Wrap(err, "kb: unmarshal seed")
	}

	k := &KnowledgeBase{
		entries: sf.Entries,
		byKey:   make(map[string]int, len(sf.Entries)*2),
	}
	for i, e := range sf.Entries {
		if key := keyFn(e.Name); key != "" {
			k.byKey[key] = i
		}
		for _, a := range e.Aliases {
			if key := keyFn(a); key != "" {
				k.byKey[key] = i
			}
		}
		for _, t := range e.Tickers {
			k.byKey[strings.ToLower(t)] = i
		}
	}
	return k, nil
}

// Len reports the number of curated entries.
func (k *KnowledgeBase) Len() int { return len(k.entries) }

// Entries returns the curated entries in seed order, for bulk import into
// a persistent store.
func (k *KnowledgeBase) Entries() []Entry {
	return append([]Entry(nil), k.entries...)
}

// Lookup finds an entry by exact normalized key.
func (k *KnowledgeBase) Lookup(key string) (*Entry, bool) {
	if key == "" {
		return nil, false
	}
	i, ok := k.byKey[key]
	if !ok {
		return nil, false
	}
	e := k.entries[i]
	return &e, true
}

// LookupContains finds an entry whose registered key appears as a
// whole-word substring of the query key (or vice versa). This catches
// queries like "harpic toilet cleaner" without an exact table hit.
func (k *KnowledgeBase) LookupContains(key string) (*Entry, bool) {
	if key == "" {
		return nil, false
	}
	padded := " " + key + " "
	best := -1
	bestLen := 0
	for registered, i := range k.byKey {
		if len(registered) < 3 {
			continue
		}
		if strings.Contains(padded, " "+registered+" ") && len(registered) > bestLen {
			best = i
			bestLen = len(registered)
		}
	}
	if best < 0 {
		return nil, false
	}
	e := k.entries[best]
	return &e, true
}
