package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

func boolPtr(b bool) *bool {
	return &b
}

const sampleYAML = `
store_mode: MANUAL
num_workers: 6
retry_delay: 1s
crawl_timeout: 5m
storage:
  driver: badger
sources:
  gallito:
    url_template: https://www.gallito.com.uy/inmuebles/casas/alquiler/{department}
    params:
      department: montevideo
      pageSize: "80"
  mercadolibre:
    url_template: https://listado.mercadolibre.com.uy/inmuebles/casas/alquiler/{department}/_PriceRange_0UYU-30000UYU
    params:
      department: [montevideo, canelones]
    num_workers: 4
    enabled: false
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.NumWorkers)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, 5*time.Minute, cfg.CrawlTimeout)
	require.Len(t, cfg.Sources, 2)

	gallito := cfg.Sources["gallito"]
	assert.Equal(t, ParamValue{"montevideo"}, gallito.Params["department"])
	assert.Equal(t, "80", gallito.Params["pageSize"].First())

	meli := cfg.Sources["mercadolibre"]
	assert.Equal(t, ParamValue{"montevideo", "canelones"}, meli.Params["department"])
	assert.False(t, IsSourceEnabled(meli))
	assert.True(t, IsSourceEnabled(gallito))
}

func TestParse_UnsupportedParamType(t *testing.T) {
	_, err := Parse([]byte(`
sources:
  gallito:
    url_template: https://www.gallito.com.uy/{department}
    params:
      department: {code: 10}
`))
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read config")
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0644))
		t.Setenv(EnvStorageDriver, "postgres")
		t.Setenv(EnvStorageDSN, "postgres://u:p@localhost/uyhf?sslmode=disable")
		t.Setenv(EnvStoreMode, "AUTOMATIC")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "postgres", cfg.Storage.Driver)
		assert.Equal(t, "postgres://u:p@localhost/uyhf?sslmode=disable", cfg.Storage.DSN)
		assert.Equal(t, "AUTOMATIC", cfg.StoreMode)
	})
}

func TestApplyEnv_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("UYHF_LISTEN_ADDR=:9999\nUYHF_STATE_DIR=/var/lib/uyhf\n"), 0644))

	// register cleanup that restores the unset state, then clear so the file can set them
	for _, key := range []string{EnvListenAddr, EnvStateDir} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg := &AppConfig{ListenAddr: ":8080"}
	require.NoError(t, ApplyEnv(cfg, envFile))
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "/var/lib/uyhf", cfg.StateDir)
}

func TestApplyEnv_MissingFileIsFine(t *testing.T) {
	cfg := &AppConfig{}
	assert.NoError(t, ApplyEnv(cfg, filepath.Join(t.TempDir(), "absent.env")))
}

func TestGetEffectiveHelpers(t *testing.T) {
	app := AppConfig{NumWorkers: 8, CrawlTimeout: 10 * time.Minute}

	tests := []struct {
		name    string
		src     SourceConfig
		workers int
		timeout time.Duration
		agent   string
	}{
		{"global values", SourceConfig{}, 8, 10 * time.Minute, DefaultUserAgent},
		{"source overrides", SourceConfig{NumWorkers: 3, CrawlTimeout: time.Minute, UserAgent: "custom"}, 3, time.Minute, "custom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.workers, GetEffectiveWorkers(tt.src, app))
			assert.Equal(t, tt.timeout, GetEffectiveCrawlTimeout(tt.src, app))
			assert.Equal(t, tt.agent, GetEffectiveUserAgent(tt.src, app))
		})
	}

	app.UserAgent = "global-agent"
	assert.Equal(t, "global-agent", GetEffectiveUserAgent(SourceConfig{}, app))
	assert.True(t, IsSourceEnabled(SourceConfig{Enabled: boolPtr(true)}))
}
