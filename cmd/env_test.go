package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/market-intel/internal/config"
)

func TestLoadReadingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readings.json")
	doc := `{
		"price": [
			{"value": 100, "source": "nse", "reliability": 95, "observed_at": "2026-03-01T10:00:00Z"},
			{"value": 102, "source": "bse", "reliability": 90, "observed_at": "2026-03-01T10:00:00Z"}
		],
		"revenue": [
			{"value": 5000, "source": "fmp", "reliability": 80, "observed_at": "2026-02-28T00:00:00Z"}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	rf, err := loadReadingsFile(path)
	require.NoError(t, err)
	require.Len(t, rf["price"], 2)
	assert.Equal(t, "nse", rf["price"][0].Source)
	assert.Equal(t, 5000.0, rf["revenue"][0].Value)

	_, err = loadReadingsFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestRegistryFromReadings(t *testing.T) {
	cfg = &config.Config{
		Providers: config.ProvidersConfig{
			Reliability:      map[string]int{"custom_feed": 55},
			RatePerSec:       100,
			Burst:            10,
			RetryAttempts:    2,
			BreakerThreshold: 3,
		},
	}

	rf := readingsFile{
		"price": {
			{Value: 100, Source: "nse", ObservedAt: time.Now()},
			{Value: 101, Source: "custom_feed", ObservedAt: time.Now()},
		},
		"revenue": {
			{Value: 900, Source: "nse", ObservedAt: time.Now()},
		},
	}

	reg := registryFromReadings(rf)
	require.Equal(t, 2, reg.Len())

	nse := reg.Get("nse")
	require.NotNil(t, nse)
	readings, err := nse.Fetch(context.Background(), nil, "price")
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, 100.0, readings[0].Value)

	readings, err = nse.Fetch(context.Background(), nil, "revenue")
	require.NoError(t, err)
	require.Len(t, readings, 1)

	custom := reg.Get("custom_feed")
	require.NotNil(t, custom)
	assert.Equal(t, 55, custom.Reliability())
}
