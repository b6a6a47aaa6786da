package all

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/config"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func validConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := &config.AppConfig{
		StateDir: t.TempDir(),
		Sources: map[string]config.SourceConfig{
			"gallito":      {URLTemplate: "https://www.gallito.com.uy/inmuebles/casas/alquiler/{department}"},
			"mercadolibre": {URLTemplate: "https://listado.mercadolibre.com.uy/inmuebles/casas/alquiler/{department}"},
			"infocasas":    {URLTemplate: "https://www.infocasas.com.uy/alquiler/casas/{department}"},
		},
	}
	for alias, src := range cfg.Sources {
		src.Params = map[string]config.ParamValue{"department": {"montevideo"}}
		cfg.Sources[alias] = src
	}
	_, err := cfg.Validate()
	require.NoError(t, err)
	return cfg
}

func TestNewRegistry(t *testing.T) {
	cfg := validConfig(t)
	log := testLogger()

	reg, err := NewRegistry(cfg, NewDocumentFetcher(cfg, log), log)
	require.NoError(t, err)
	assert.Equal(t, Known(), reg.Aliases())

	a, ok := reg.Get("infocasas")
	require.True(t, ok)
	targets, err := a.Targets()
	require.NoError(t, err)
	assert.Equal(t, "https://www.infocasas.com.uy/alquiler/casas/montevideo", targets[0].URL)
}

func TestNewRegistry_UnknownSource(t *testing.T) {
	cfg := validConfig(t)
	cfg.Sources["craigslist"] = config.SourceConfig{URLTemplate: "https://craigslist.org/uy"}
	log := testLogger()

	_, err := NewRegistry(cfg, NewDocumentFetcher(cfg, log), log)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrUnknownSource)
	assert.Contains(t, err.Error(), "Available sources")
}

func TestNewRegistry_InvalidSourceConfig(t *testing.T) {
	cfg := validConfig(t)
	cfg.Sources["gallito"] = config.SourceConfig{URLTemplate: "https://www.gallito.com.uy/{missing}"}
	log := testLogger()

	_, err := NewRegistry(cfg, NewDocumentFetcher(cfg, log), log)
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
}
