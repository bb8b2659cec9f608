// Package seed imports curated entity and alias lists into the store, from
// knowledge-base YAML files or analyst-maintained spreadsheets.
package seed

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-intel/internal/entity"
	"github.com/sells-group/market-intel/internal/kb"
	"github.com/sells-group/market-intel/internal/normalize"
	"github.com/sells-group/market-intel/internal/store"
)

// Result counts what an import touched.
type Result struct {
	Entities int
	Aliases  int
}

// ImportYAML loads a knowledge-base seed file and upserts its entries as
// verified entities with their aliases and tickers.
func ImportYAML(ctx context.Context, st store.Store, path string) (*Result, error) {
	knowledge, err := kb.LoadFile(path, normalize.Key)
	if err != nil {
		return nil, err
	}
	return importEntries(ctx, st, knowledge.Entries())
}

// ImportEmbedded seeds the store from the built-in knowledge base.
func ImportEmbedded(ctx context.Context, st store.Store) (*Result, error) {
	knowledge, err := kb.Load(normalize.Key)
	if err != nil {
		return nil, err
	}
	return importEntries(ctx, st, knowledge.Entries())
}

func importEntries(ctx context.Context, st store.Store, entries []kb.Entry) (*Result, error) {
	log := zap.L().With(zap.String("component", "seed"))
	res := &Result{}

	// Parents first so brand entries can reference them by id.
	parents := make(map[string]int64)
	for _, e := range entries {
		for _, parent := range []string{pickParentName(e)} {
			if parent == "" {
				continue
			}
			key := normalize.Key(parent)
			if _, ok := parents[key]; ok {
				continue
			}
			rec := entity.Record{
				Name: parent, NormName: key, Kind: entity.KindParent, Verified: true,
			}
			if err := st.UpsertEntity(ctx, &rec); err != nil {
				return nil, eris.Wrapf(err, "seed: upsert parent %s", parent)
			}
			parents[key] = rec.ID
			res.Entities++
		}
	}

	for _, e := range entries {
		if err := importEntry(ctx, st, e, parents, res); err != nil {
			return nil, err
		}
	}

	log.Info("seed import complete",
		zap.Int("entities", res.Entities),
		zap.Int("aliases", res.Aliases),
	)
	return res, nil
}

func importEntry(ctx context.Context, st store.Store, e kb.Entry, parents map[string]int64, res *Result) error {
	key := normalize.Key(e.Name)
	if key == "" {
		return nil
	}

	kind := e.Kind
	if kind == "" {
		kind = entity.KindCompany
	}

	rec := entity.Record{
		Name: e.Name, NormName: key, Kind: kind,
		Aliases: e.Aliases, Tickers: e.Tickers,
		Sector: e.Sector, Region: e.Region, Verified: true,
	}
	if e.Parent != "" {
		if id, ok := parents[normalize.Key(e.Parent)]; ok {
			rec.ParentID = &id
		}
	}
	if err := st.UpsertEntity(ctx, &rec); err != nil {
		return eris.Wrapf(err, "seed: upsert entity %s", e.Name)
	}
	res.Entities++

	// A brand entry's own name is a brand alias of its parent; plain
	// aliases and tickers index the entity itself.
	if e.Parent != "" {
		if parentID, ok := parents[normalize.Key(e.Parent)]; ok {
			if err := upsertAlias(ctx, st, parentID, e.Name, entity.AliasBrand, res); err != nil {
				return err
			}
		}
	}
	for _, a := range e.Aliases {
		if err := upsertAlias(ctx, st, rec.ID, a, entity.AliasSynonym, res); err != nil {
			return err
		}
	}
	for _, t := range e.Tickers {
		if err := upsertAlias(ctx, st, rec.ID, t, entity.AliasTicker, res); err != nil {
			return err
		}
	}
	return nil
}

func upsertAlias(ctx context.Context, st store.Store, entityID int64, alias string, kind entity.AliasKind, res *Result) error {
	norm := normalize.Key(alias)
	if norm == "" {
		return nil
	}
	a := entity.Alias{EntityID: entityID, Alias: alias, NormAlias: norm, Kind: kind}
	if err := st.UpsertAlias(ctx, &a); err != nil {
		return eris.Wrapf(err, "seed: upsert alias %s", alias)
	}
	res.Aliases++
	return nil
}

func pickParentName(e kb.Entry) string {
	return strings.TrimSpace(e.Parent)
}
