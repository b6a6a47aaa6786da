package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/config"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/models"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/orchestrate"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/source"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

type stubAdapter struct {
	alias string
}

func (a *stubAdapter) Alias() string                     { return a.alias }
func (a *stubAdapter) Targets() ([]source.Target, error) { return nil, nil }
func (a *stubAdapter) DiscoverPages(context.Context, source.Target) (int, error) {
	return 1, nil
}
func (a *stubAdapter) HarvestPosts(context.Context, source.Target, int) ([]models.Post, error) {
	return nil, nil
}

func (a *stubAdapter) FetchDetail(_ context.Context, post models.Post) (*goquery.Document, error) {
	if strings.HasSuffix(post.Link, "/gone") {
		return nil, utils.WrapErrorf(utils.ErrClientHTTPError, "status 404 Not Found")
	}
	return goquery.NewDocumentFromReader(strings.NewReader("<html><body></body></html>"))
}

func (a *stubAdapter) ExtractListing(_ context.Context, post models.Post, _ *goquery.Document) (*models.Listing, error) {
	l := listing(a.alias, "casa-1", "Casa en Pocitos", "Pocitos", "Amplia, con jardín")
	l.Link = post.Link
	if strings.HasSuffix(post.Link, "/no-pictures") {
		l.Pictures = nil
	}
	return l, nil
}

func listing(alias, id, title, neighbourhood, description string) *models.Listing {
	return &models.Listing{
		Source:        alias,
		SourceID:      id,
		Title:         title,
		Link:          "https://example.uy/" + id,
		Address:       "Av. Brasil 2500",
		Price:         models.NewMoney(25000, models.CurrencyUYU),
		Department:    "Montevideo",
		Neighbourhood: neighbourhood,
		Description:   description,
		Pictures:      []string{"https://img.example/1.jpg"},
		Features:      models.Features{"numberBathrooms": 2},
		StoreMode:     models.StoreModeAutomatic,
	}
}

type fakeImporter struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (f *fakeImporter) Run(ctx context.Context, aliases []string, mode models.StoreMode) (*orchestrate.RunSummary, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	summary := &orchestrate.RunSummary{RunID: "run-1", StoreMode: mode}
	for _, a := range aliases {
		summary.Results = append(summary.Results, orchestrate.SourceResult{Source: a, Success: true, Accepted: 2})
	}
	return summary, nil
}

type fakeStore struct {
	listings map[string][]*models.Listing
	err      error
}

func (s *fakeStore) ReplaceAll(context.Context, string, []*models.Listing) error { return nil }
func (s *fakeStore) ListBySource(_ context.Context, alias string) ([]*models.Listing, error) {
	return s.listings[alias], s.err
}
func (s *fakeStore) Count(_ context.Context, alias string) (int, error) {
	return len(s.listings[alias]), s.err
}
func (s *fakeStore) Close() error { return nil }

func newTestServer(t *testing.T, imp *fakeImporter, store *fakeStore) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	disabled := false
	appCfg := &config.AppConfig{
		StoreMode: "automatic",
		Sources: map[string]config.SourceConfig{
			"gallito":   {URLTemplate: "https://www.gallito.com.uy/inmuebles/casas/alquiler/{department}"},
			"infocasas": {URLTemplate: "https://www.infocasas.com.uy/alquiler/casas", Enabled: &disabled},
		},
	}
	_, err := appCfg.Validate()
	require.NoError(t, err)

	registry, err := source.NewRegistry(&stubAdapter{alias: "gallito"}, &stubAdapter{alias: "infocasas"})
	require.NoError(t, err)

	if store == nil {
		store = &fakeStore{}
	}
	s, err := NewServer(&ServerConfig{
		AppConfig:  appCfg,
		ConfigPath: "config.yaml",
		Transport:  "stdio",
		Logger:     logger,
		Registry:   registry,
		Store:      store,
		Importer:   imp,
	})
	require.NoError(t, err)
	return s
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// decodeResult returns the JSON body of a successful tool result.
func decodeResult(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotNil(t, result)
	require.False(t, result.IsError, "unexpected tool error: %s", resultText(t, result))
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
	return out
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])
	return text.Text
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(&ServerConfig{})
	assert.Error(t, err)

	_, err = NewServer(&ServerConfig{AppConfig: &config.AppConfig{}})
	assert.Error(t, err)
}

func TestHandleListSources(t *testing.T) {
	store := &fakeStore{listings: map[string][]*models.Listing{
		"gallito": {listing("gallito", "g-1", "Casa", "Pocitos", "")},
	}}
	s := newTestServer(t, &fakeImporter{}, store)

	result, err := s.handleListSources(context.Background(), callRequest("list_sources", nil))
	require.NoError(t, err)
	out := decodeResult(t, result)

	assert.EqualValues(t, 2, out["total_sources"])
	sources := out["sources"].([]any)
	require.Len(t, sources, 2)

	gallito := sources[0].(map[string]any)
	assert.Equal(t, "gallito", gallito["source"])
	assert.Equal(t, true, gallito["enabled"])
	assert.EqualValues(t, 1, gallito["stored_listings"])

	infocasas := sources[1].(map[string]any)
	assert.Equal(t, false, infocasas["enabled"])
}

func TestHandlePreviewListing(t *testing.T) {
	s := newTestServer(t, &fakeImporter{}, nil)
	ctx := context.Background()

	t.Run("accepted", func(t *testing.T) {
		result, err := s.handlePreviewListing(ctx, callRequest("preview_listing", map[string]any{
			"source": "gallito",
			"url":    "https://www.gallito.com.uy/casa-1",
		}))
		require.NoError(t, err)
		out := decodeResult(t, result)
		assert.Equal(t, true, out["accepted"])
		assert.NotContains(t, out, "rejected_by")
	})

	t.Run("rejected", func(t *testing.T) {
		result, err := s.handlePreviewListing(ctx, callRequest("preview_listing", map[string]any{
			"source": "gallito",
			"url":    "https://www.gallito.com.uy/no-pictures",
		}))
		require.NoError(t, err)
		out := decodeResult(t, result)
		assert.Equal(t, false, out["accepted"])
		assert.NotEmpty(t, out["rejected_by"])
	})

	t.Run("fetch failure", func(t *testing.T) {
		result, err := s.handlePreviewListing(ctx, callRequest("preview_listing", map[string]any{
			"source": "gallito",
			"url":    "https://www.gallito.com.uy/gone",
		}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "HTTP_404")
	})

	t.Run("unknown source", func(t *testing.T) {
		result, err := s.handlePreviewListing(ctx, callRequest("preview_listing", map[string]any{
			"source": "craigslist",
			"url":    "https://example.com/1",
		}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})

	t.Run("missing url", func(t *testing.T) {
		result, err := s.handlePreviewListing(ctx, callRequest("preview_listing", map[string]any{"source": "gallito"}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})
}

func TestHandleImportSources(t *testing.T) {
	imp := &fakeImporter{release: make(chan struct{})}
	s := newTestServer(t, imp, nil)
	ctx := context.Background()

	result, err := s.handleImportSources(ctx, callRequest("import_sources", map[string]any{"from": "all"}))
	require.NoError(t, err)
	started := decodeResult(t, result)
	assert.Equal(t, "started", started["status"])
	assert.Equal(t, []any{"gallito"}, started["sources"], "disabled sources are skipped by 'all'")
	jobID := started["job_id"].(string)

	result, err = s.handleImportSources(ctx, callRequest("import_sources", map[string]any{"from": "gallito"}))
	require.NoError(t, err)
	again := decodeResult(t, result)
	assert.Equal(t, "already_running", again["status"])
	assert.Equal(t, jobID, again["job_id"])

	close(imp.release)
	require.Eventually(t, func() bool {
		job, ok := s.jobManager.GetJob(jobID)
		return ok && job.Status == "completed"
	}, 2*time.Second, 10*time.Millisecond)

	result, err = s.handleGetJobStatus(ctx, callRequest("get_job_status", map[string]any{"job_id": jobID}))
	require.NoError(t, err)
	status := decodeResult(t, result)
	assert.Equal(t, "completed", status["status"])
	assert.Equal(t, "run-1", status["run_id"])
	assert.Equal(t, map[string]any{"gallito": float64(2)}, status["accepted"])
	assert.Contains(t, status, "completed_at")

	t.Run("unknown source", func(t *testing.T) {
		result, err := s.handleImportSources(ctx, callRequest("import_sources", map[string]any{"from": "craigslist"}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})

	t.Run("missing from", func(t *testing.T) {
		result, err := s.handleImportSources(ctx, callRequest("import_sources", nil))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})

	require.NoError(t, s.Shutdown(ctx))
}

func TestHandleGetJobStatus_Unknown(t *testing.T) {
	s := newTestServer(t, &fakeImporter{}, nil)
	result, err := s.handleGetJobStatus(context.Background(), callRequest("get_job_status", map[string]any{"job_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not found")
}

func TestHandleSearchListings(t *testing.T) {
	store := &fakeStore{listings: map[string][]*models.Listing{
		"gallito": {
			listing("gallito", "g-1", "Casa en Pocitos", "Pocitos", "Luminosa"),
			listing("gallito", "g-2", "Apartamento", "Unión", "Cerca del jardín botánico"),
		},
		"infocasas": {
			listing("infocasas", "i-1", "Casa con jardin", "Malvín", "Parrillero"),
		},
	}}
	s := newTestServer(t, &fakeImporter{}, store)
	ctx := context.Background()

	t.Run("accent insensitive across sources", func(t *testing.T) {
		result, err := s.handleSearchListings(ctx, callRequest("search_listings", map[string]any{"query": "JARDIN"}))
		require.NoError(t, err)
		out := decodeResult(t, result)
		assert.EqualValues(t, 2, out["total_matches"])

		results := out["results"].([]any)
		first := results[0].(map[string]any)
		assert.Equal(t, "g-2", first["source_id"])
		assert.Equal(t, "description", first["match_location"])
		second := results[1].(map[string]any)
		assert.Equal(t, "infocasas", second["source"])
		assert.Equal(t, "title", second["match_location"])
	})

	t.Run("neighbourhood match", func(t *testing.T) {
		result, err := s.handleSearchListings(ctx, callRequest("search_listings", map[string]any{"query": "union"}))
		require.NoError(t, err)
		out := decodeResult(t, result)
		results := out["results"].([]any)
		require.Len(t, results, 1)
		assert.Equal(t, "neighbourhood", results[0].(map[string]any)["match_location"])
	})

	t.Run("single source and limit", func(t *testing.T) {
		result, err := s.handleSearchListings(ctx, callRequest("search_listings", map[string]any{
			"query":       "a",
			"source":      "gallito",
			"max_results": float64(1),
		}))
		require.NoError(t, err)
		out := decodeResult(t, result)
		assert.EqualValues(t, 1, out["total_matches"])
		assert.Equal(t, "gallito", out["source"])
	})

	t.Run("unknown source", func(t *testing.T) {
		result, err := s.handleSearchListings(ctx, callRequest("search_listings", map[string]any{"query": "casa", "source": "nope"}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})

	t.Run("empty query", func(t *testing.T) {
		result, err := s.handleSearchListings(ctx, callRequest("search_listings", map[string]any{"query": "  "}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})
}

func TestHandleSearchListings_StoreFailureSkipsSource(t *testing.T) {
	store := &fakeStore{err: errors.New("disk gone")}
	s := newTestServer(t, &fakeImporter{}, store)

	result, err := s.handleSearchListings(context.Background(), callRequest("search_listings", map[string]any{"query": "casa"}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	assert.EqualValues(t, 0, out["total_matches"])
}

func TestExtractSnippet(t *testing.T) {
	tests := []struct {
		name    string
		content string
		query   string
		maxLen  int
		want    string
	}{
		{"short content returned whole", "Casa luminosa", "zzz", 50, "Casa luminosa"},
		{"no match truncates", "abcdefghij", "zzz", 4, "abcd..."},
		{"match in the middle", "0123456789jardin0123456789", "JARDIN", 10, "...56789jardin01234..."},
		{"match at start", "jardin grande y parrillero", "jardin", 10, "jardin gran..."},
		{"multibyte runes stay whole", "ññññjardínñññ", "jardín", 4, "...ññjardínññ..."},
		{"unaccented query finds accented text", "0123456789jardín0123456789", "jardin", 10, "...56789jardín01234..."},
		{"accented query finds plain text", "0123456789JARDIN0123456789", "jardín", 10, "...56789JARDIN01234..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractSnippet(tt.content, tt.query, tt.maxLen))
		})
	}
}
