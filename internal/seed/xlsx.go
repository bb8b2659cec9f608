package seed

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/market-intel/internal/entity"
	"github.com/sells-group/market-intel/internal/kb"
	"github.com/sells-group/market-intel/internal/store"
)

// xlsx column order for analyst-maintained entity sheets. The first row is
// a header and is skipped.
const (
	colName = iota
	colKind
	colParent
	colSector
	colRegion
	colTickers
	colAliases
	colCount
)

// ImportXLSX upserts entities and aliases from the first sheet of an
// analyst spreadsheet. Multi-valued cells (tickers, aliases) are
// semicolon-separated.
func ImportXLSX(ctx context.Context, st store.Store, path string) (*Result, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "seed: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("seed: xlsx has no sheets")
	}

	var entries []kb.Entry
	for i, row := range f.Sheets[0].Rows {
		if i == 0 {
			continue
		}
		cells := rowStrings(row)
		if len(cells) == 0 || strings.TrimSpace(cells[colName]) == "" {
			continue
		}
		entries = append(entries, entryFromRow(cells))
	}
	return importEntries(ctx, st, entries)
}

func entryFromRow(cells []string) kb.Entry {
	padded := make([]string, colCount)
	copy(padded, cells)
	for i := range padded {
		padded[i] = strings.TrimSpace(padded[i])
	}
	return kb.Entry{
		Name:    padded[colName],
		Kind:    entity.Kind(strings.ToLower(padded[colKind])),
		Parent:  padded[colParent],
		Sector:  padded[colSector],
		Region:  padded[colRegion],
		Tickers: splitList(padded[colTickers]),
		Aliases: splitList(padded[colAliases]),
	}
}

func splitList(cell string) []string {
	if cell == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(cell, ";") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func rowStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, c := range row.Cells {
		cells[j] = c.String()
	}
	return cells
}
