package seed

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/market-intel/internal/entity"
	"github.com/sells-group/market-intel/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestImportEmbedded(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	res, err := ImportEmbedded(ctx, st)
	require.NoError(t, err)
	assert.Greater(t, res.Entities, 20)
	assert.Greater(t, res.Aliases, 10)

	// A brand entry becomes a brand alias of its parent.
	hit, err := st.GetAlias(ctx, "harpic")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, entity.AliasBrand, hit.Alias.Kind)
	assert.Equal(t, "Reckitt Benckiser India", hit.Entity.Name)
	assert.Equal(t, entity.KindParent, hit.Entity.Kind)

	// Tickers index the company itself.
	hit, err = st.GetAlias(ctx, "tcs")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, entity.AliasTicker, hit.Alias.Kind)
	assert.Equal(t, "Tata Consultancy Services", hit.Entity.Name)

	// Brand records carry their parent reference.
	rec, err := st.GetByName(ctx, "blinkit")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.ParentID)
	parent, err := st.GetByName(ctx, "zomato")
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.Equal(t, parent.ID, *rec.ParentID)
}

func TestImportXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entities.xlsx")
	writeSheet(t, path, [][]string{
		{"name", "kind", "parent", "sector", "region", "tickers", "aliases"},
		{"Godrej Consumer", "company", "", "FMCG", "India", "GODREJCP", "godrej"},
		{"Cinthol", "brand", "Godrej Consumer", "FMCG", "India", "", ""},
		{"", "", "", "", "", "", ""},
	})

	st := store.NewMemory()
	ctx := context.Background()

	res, err := ImportXLSX(ctx, st, path)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Entities) // parent row + two entries
	assert.Equal(t, 3, res.Aliases)  // godrej synonym, GODREJCP ticker, cinthol brand

	hit, err := st.GetAlias(ctx, "cinthol")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, entity.AliasBrand, hit.Alias.Kind)
	assert.Equal(t, "Godrej Consumer", hit.Entity.Name)
}

func TestImportXLSX_MissingFile(t *testing.T) {
	_, err := ImportXLSX(context.Background(), store.NewMemory(), "no-such.xlsx")
	require.Error(t, err)
}

func writeSheet(t *testing.T, path string, rows [][]string) {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Entities")
	require.NoError(t, err)
	for _, cells := range rows {
		row := sheet.AddRow()
		for _, v := range cells {
			row.AddCell().Value = v
		}
	}
	require.NoError(t, f.Save(path))
}
