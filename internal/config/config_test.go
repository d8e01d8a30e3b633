package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-settlement/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"DATABASE_URL":           "",
		"REDIS_URL":              "",
		"BASE_CURRENCY":          "",
		"DOCUMENT_CURRENCY":      "",
		"DB_AUTO_MIGRATE":        "",
		"RATE_LIMIT_MAX":         "",
		"PORT":                   "",
		"OBS_TRACING_EXPORTER":   "",
		"PRICING_QUANTITY_TIERS": "",
	})
	require.NoError(t, err)
	require.Equal(t, "PEN", cfg.BaseCurrency)
	require.Equal(t, "PEN", cfg.DocumentCurrency)
	require.Equal(t, 600, cfg.RateLimitMax)
	require.Equal(t, time.Minute, cfg.RateLimitWindow)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.True(t, cfg.Obs.EnablePrometheus)
	require.Equal(t, "otlp", cfg.Obs.TracingExporter)
	require.False(t, cfg.QuantityTiers)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"BASE_CURRENCY":            "usd",
		"DOCUMENT_CURRENCY":        "eur",
		"PREFERENCE_TTL":           "48h",
		"RATE_LIMIT_MAX":           "5",
		"SNAPSHOT_RELOAD_INTERVAL": "bogus",
		"OBS_ENABLE_PROMETHEUS":    "false",
		"CORS_ALLOWED_ORIGINS":     "http://a, http://b ,",
		"PORT":                     ":9000",
		"PRICING_QUANTITY_TIERS":   "true",
		"OBS_TRACING_EXPORTER":     "none",
	})
	require.NoError(t, err)
	require.Equal(t, "USD", cfg.BaseCurrency)
	require.Equal(t, "EUR", cfg.DocumentCurrency)
	require.Equal(t, 48*time.Hour, cfg.PreferenceTTL)
	require.Equal(t, 5, cfg.RateLimitMax)
	require.Equal(t, 5*time.Minute, cfg.SnapshotReloadInterval)
	require.False(t, cfg.Obs.EnablePrometheus)
	require.Equal(t, []string{"http://a", "http://b"}, cfg.CORSAllowedOrigins)
	require.Equal(t, ":9000", cfg.HTTPAddr())
	require.True(t, cfg.QuantityTiers)
	require.Equal(t, "none", cfg.Obs.TracingExporter)
}

func TestLoadRejectsMigrateWithoutDatabase(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{
		"DB_AUTO_MIGRATE": "true",
		"DATABASE_URL":    "",
	})
	require.Error(t, err)
}
