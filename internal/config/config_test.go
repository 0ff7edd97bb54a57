package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 30, cfg.Scrape.TimeoutSecs)
	assert.Equal(t, 50, cfg.Scrape.MaxPages)
	assert.Equal(t, "medium", cfg.Match.MinConfidence)
	assert.Equal(t, 20, cfg.Match.BatchSize)
	assert.InDelta(t, 0.40, cfg.Match.Weights.Embedding, 1e-9)
	assert.InDelta(t, 0.20, cfg.Violation.SevereThreshold, 1e-9)
	assert.InDelta(t, 0.01, cfg.Violation.MinorThreshold, 1e-9)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PRICEWATCH_MATCH_MIN_CONFIDENCE", "low")
	t.Setenv("PRICEWATCH_SCRAPE_MAX_PAGES", "10")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "low", cfg.Match.MinConfidence)
	assert.Equal(t, 10, cfg.Scrape.MaxPages)
}

func TestValidate(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Driver: "postgres", DatabaseURL: "postgres://x"}}
	assert.NoError(t, cfg.Validate())

	cfg.Store.DatabaseURL = ""
	assert.Error(t, cfg.Validate())

	cfg.Store = StoreConfig{Driver: "mysql", DatabaseURL: "x"}
	assert.Error(t, cfg.Validate())
}
