package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("KPI_RECONCILE_INTERVAL", "")
	t.Setenv("KPI_RECONCILE_POLICY", "")
	t.Setenv("EMAIL_TRANSPORT", "")
	t.Setenv("RATE_LIMIT", "")
	t.Setenv("ASSET_LIST", "")
	t.Setenv("ASSET_CACHE_DIR", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.KPI.Interval)
	assert.Equal(t, "placeholder", cfg.KPI.Policy)
	assert.Equal(t, "es-CR", cfg.KPI.Locale)
	assert.Equal(t, "CRC", cfg.KPI.Currency)
	assert.Equal(t, "resend", cfg.Email.Transport)
	assert.Equal(t, 100, cfg.RateLimit)
	assert.Equal(t, "flota-static-v1", cfg.Assets.CacheName)
	assert.Equal(t, DefaultAssets, cfg.Assets.Assets)
	assert.Empty(t, cfg.Assets.CacheDir)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("KPI_RECONCILE_INTERVAL", "5s")
	t.Setenv("KPI_RECONCILE_POLICY", "always")
	t.Setenv("EMAIL_TRANSPORT", "EmailJS")
	t.Setenv("ASSET_LIST", "./index.html, ./app.js ,")
	t.Setenv("ASSET_CACHE_DIR", "/var/lib/flota/assets")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.KPI.Interval)
	assert.Equal(t, "always", cfg.KPI.Policy)
	assert.Equal(t, "emailjs", cfg.Email.Transport)
	assert.Equal(t, []string{"./index.html", "./app.js"}, cfg.Assets.Assets)
	assert.Equal(t, "/var/lib/flota/assets", cfg.Assets.CacheDir)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string][2]string{
		"bad interval":      {"KPI_RECONCILE_INTERVAL", "soon"},
		"negative interval": {"KPI_RECONCILE_INTERVAL", "-1s"},
		"bad policy":        {"KPI_RECONCILE_POLICY", "sometimes"},
		"bad rate limit":    {"RATE_LIMIT", "many"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
