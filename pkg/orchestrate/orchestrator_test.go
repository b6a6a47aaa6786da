package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/config"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/models"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/source"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/storage"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// offlineAdapter serves n posts per source from memory.
type offlineAdapter struct {
	alias    string
	posts    int
	pageErr  error
	priceFor func(i int) string
}

func (a *offlineAdapter) Alias() string { return a.alias }
func (a *offlineAdapter) Targets() ([]source.Target, error) {
	return []source.Target{{URL: "https://" + a.alias + ".example/search"}}, nil
}
func (a *offlineAdapter) DiscoverPages(context.Context, source.Target) (int, error) {
	if a.pageErr != nil {
		return 0, a.pageErr
	}
	return 1, nil
}
func (a *offlineAdapter) HarvestPosts(_ context.Context, _ source.Target, _ int) ([]models.Post, error) {
	posts := make([]models.Post, a.posts)
	for i := range posts {
		posts[i] = models.Post{Link: fmt.Sprintf("https://%s.example/casa/%d", a.alias, i)}
	}
	return posts, nil
}
func (a *offlineAdapter) FetchDetail(_ context.Context, post models.Post) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(`<html><body><h1>` + post.Link + `</h1></body></html>`))
}
func (a *offlineAdapter) ExtractListing(_ context.Context, post models.Post, doc *goquery.Document) (*models.Listing, error) {
	id := post.Link[strings.LastIndex(post.Link, "/")+1:]
	return &models.Listing{
		Source:        a.alias,
		SourceID:      a.alias + "-" + id,
		Title:         "Casa " + id,
		Link:          doc.Find("h1").Text(),
		Address:       "Av. Italia " + id,
		Price:         models.NewMoney(20000, models.CurrencyUYU),
		Department:    "Montevideo",
		Neighbourhood: "Malvín",
		Pictures:      []string{post.Link + ".jpg"},
		Features:      models.Features{"numberBedrooms": 2},
	}, nil
}

type memStore struct {
	mu       sync.Mutex
	listings map[string][]*models.Listing
	calls    map[string]int
	failFor  string
}

func newMemStore() *memStore {
	return &memStore{listings: map[string][]*models.Listing{}, calls: map[string]int{}}
}

func (m *memStore) ReplaceAll(_ context.Context, alias string, listings []*models.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[alias]++
	if alias == m.failFor {
		return fmt.Errorf("%w: disk full", utils.ErrDatabase)
	}
	m.listings[alias] = listings
	return nil
}

func (m *memStore) ListBySource(_ context.Context, alias string) ([]*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listings[alias], nil
}

func (m *memStore) Count(_ context.Context, alias string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listings[alias]), nil
}

func (m *memStore) Close() error { return nil }

func testAppConfig(t *testing.T, aliases ...string) *config.AppConfig {
	t.Helper()
	cfg := &config.AppConfig{StateDir: t.TempDir(), Sources: map[string]config.SourceConfig{}}
	for _, a := range aliases {
		cfg.Sources[a] = config.SourceConfig{URLTemplate: "https://" + a + ".example/search"}
	}
	_, err := cfg.Validate()
	require.NoError(t, err)
	return cfg
}

func newTestOrchestrator(t *testing.T, store storage.ListingStore, adapters ...*offlineAdapter) (*Orchestrator, *config.AppConfig) {
	t.Helper()
	var aliases []string
	var list []source.Adapter
	for _, a := range adapters {
		aliases = append(aliases, a.alias)
		list = append(list, a)
	}
	reg, err := source.NewRegistry(list...)
	require.NoError(t, err)
	cfg := testAppConfig(t, aliases...)
	return NewOrchestrator(cfg, reg, nil, store, testLogger()), cfg
}

func TestRun_StoresEachSource(t *testing.T) {
	store := newMemStore()
	o, _ := newTestOrchestrator(t, store,
		&offlineAdapter{alias: "gallito", posts: 3},
		&offlineAdapter{alias: "infocasas", posts: 2},
	)

	summary, err := o.Run(context.Background(), []string{"infocasas", "gallito"}, models.StoreModeAutomatic)
	require.NoError(t, err)
	assert.NotEmpty(t, summary.RunID)
	assert.Empty(t, summary.Failed())
	require.Len(t, summary.Results, 2)
	assert.Equal(t, "gallito", summary.Results[0].Source)
	assert.Equal(t, 3, summary.Results[0].Accepted)
	assert.True(t, summary.Results[0].Stored)

	assert.Equal(t, map[string]int{"gallito": 1, "infocasas": 1}, store.calls)
	stored, _ := store.ListBySource(context.Background(), "infocasas")
	require.Len(t, stored, 2)
	assert.Equal(t, models.StoreModeAutomatic, stored[0].StoreMode)
	assert.Empty(t, o.GetProgress(), "nothing running after Run returns")
}

func TestRun_UnknownSourceFailsBeforeWork(t *testing.T) {
	store := newMemStore()
	o, _ := newTestOrchestrator(t, store, &offlineAdapter{alias: "gallito", posts: 1})

	_, err := o.Run(context.Background(), []string{"gallito", "olx"}, models.StoreModeManual)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrUnknownSource)
	assert.Contains(t, err.Error(), "Available sources")
	assert.Empty(t, store.calls)
}

func TestRun_EmptyResultKeepsStoredListings(t *testing.T) {
	store := newMemStore()
	broken := &offlineAdapter{alias: "mercadolibre", posts: 2, pageErr: fmt.Errorf("%w: layout changed", utils.ErrPagination)}
	o, cfg := newTestOrchestrator(t, store, broken)

	summary, err := o.Run(context.Background(), []string{"mercadolibre"}, models.StoreModeManual)
	require.NoError(t, err)
	assert.True(t, summary.Results[0].Success)
	assert.False(t, summary.Results[0].Stored)
	assert.Zero(t, store.calls["mercadolibre"])

	cfg.ReplaceOnEmpty = true
	summary, err = o.Run(context.Background(), []string{"mercadolibre"}, models.StoreModeManual)
	require.NoError(t, err)
	assert.True(t, summary.Results[0].Stored)
	assert.Equal(t, 1, store.calls["mercadolibre"])
}

func TestRun_StoreFailureIsIsolated(t *testing.T) {
	store := newMemStore()
	store.failFor = "gallito"
	o, _ := newTestOrchestrator(t, store,
		&offlineAdapter{alias: "gallito", posts: 1},
		&offlineAdapter{alias: "infocasas", posts: 1},
	)

	summary, err := o.Run(context.Background(), []string{"gallito", "infocasas"}, models.StoreModeManual)
	require.NoError(t, err)
	assert.Equal(t, []string{"gallito"}, summary.Failed())
	assert.True(t, errors.Is(summary.Results[0].Err(), utils.ErrDatabase))
	assert.Contains(t, summary.Results[0].Error, "disk full")
	assert.True(t, summary.Results[1].Stored)
}

func TestRun_CancelledRunStoresNothing(t *testing.T) {
	store := newMemStore()
	o, _ := newTestOrchestrator(t, store, &offlineAdapter{alias: "gallito", posts: 3})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := o.Run(ctx, []string{"gallito"}, models.StoreModeManual)
	require.NoError(t, err)
	assert.Equal(t, []string{"gallito"}, summary.Failed())
	assert.Empty(t, store.calls)
}

func TestRun_WithBadgerStore(t *testing.T) {
	store, err := storage.NewBadgerStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	o, _ := newTestOrchestrator(t, store, &offlineAdapter{alias: "gallito", posts: 4})

	_, err = o.Run(context.Background(), []string{"gallito"}, models.StoreModeManual)
	require.NoError(t, err)
	n, err := store.Count(context.Background(), "gallito")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestValidateSourceKeys(t *testing.T) {
	reg, err := source.NewRegistry(&offlineAdapter{alias: "gallito"}, &offlineAdapter{alias: "infocasas"})
	require.NoError(t, err)

	t.Run("all valid", func(t *testing.T) {
		assert.NoError(t, ValidateSourceKeys(reg, []string{"gallito", "infocasas"}))
	})

	t.Run("one invalid", func(t *testing.T) {
		err := ValidateSourceKeys(reg, []string{"gallito", "missing"})
		require.Error(t, err)
		assert.ErrorIs(t, err, utils.ErrUnknownSource)
		assert.Contains(t, err.Error(), "missing")
	})

	t.Run("empty keys no error", func(t *testing.T) {
		assert.NoError(t, ValidateSourceKeys(reg, nil))
	})
}

func TestResolveSourceKeys(t *testing.T) {
	reg, err := source.NewRegistry(
		&offlineAdapter{alias: "gallito"}, &offlineAdapter{alias: "infocasas"}, &offlineAdapter{alias: "mercadolibre"},
	)
	require.NoError(t, err)
	cfg := testAppConfig(t, "gallito", "infocasas", "mercadolibre")
	disabled := false
	ml := cfg.Sources["mercadolibre"]
	ml.Enabled = &disabled
	cfg.Sources["mercadolibre"] = ml

	tests := []struct {
		selector string
		want     []string
		wantErr  bool
	}{
		{"all", []string{"gallito", "infocasas"}, false},
		{"", []string{"gallito", "infocasas"}, false},
		{"mercadolibre", []string{"mercadolibre"}, false},
		{" Gallito , infocasas,gallito ", []string{"gallito", "infocasas"}, false},
		{"gallito,olx", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			got, err := ResolveSourceKeys(cfg, reg, tt.selector)
			if tt.wantErr {
				assert.ErrorIs(t, err, utils.ErrUnknownSource)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
