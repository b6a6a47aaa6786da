package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

// metaRedirect recognises pages of the form <div id="moved" data-to="...">.
var metaRedirect = SoftRedirect{
	Detect: func(doc *goquery.Document) bool { return doc.Find("#moved").Length() > 0 },
	Target: func(doc *goquery.Document) string { return doc.Find("#moved").AttrOr("data-to", "") },
}

func newTestDocumentFetcher(opts DocumentFetcherOptions) *DocumentFetcher {
	return NewDocumentFetcher(NewFetcher(testClient(), testPolicy(1), testLogger()), opts, testLogger())
}

func TestFetchDocument_ParsesAndSetsURL(t *testing.T) {
	var gotUA, gotLang atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		gotLang.Store(r.Header.Get("X-Test"))
		fmt.Fprint(w, `<html><body><h1 class="title">Casa en Pocitos</h1></body></html>`)
	}))
	defer server.Close()

	df := newTestDocumentFetcher(DocumentFetcherOptions{UserAgent: "test-agent"})
	doc, err := df.FetchDocument(context.Background(), server.URL+"/casa", WithHeader("X-Test", "yes"))
	require.NoError(t, err)

	assert.Equal(t, "Casa en Pocitos", doc.Find("h1.title").Text())
	assert.Equal(t, server.URL+"/casa", doc.Url.String())
	assert.Equal(t, "test-agent", gotUA.Load())
	assert.Equal(t, "yes", gotLang.Load())
}

func TestFetchDocument_FollowsSoftRedirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a":
			fmt.Fprint(w, `<div id="moved" data-to="/b"></div>`)
		case "/b":
			fmt.Fprint(w, `<div id="moved" data-to="c"></div>`)
		case "/c":
			fmt.Fprint(w, `<p id="content">final</p>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	df := newTestDocumentFetcher(DocumentFetcherOptions{})
	doc, err := df.FetchDocument(context.Background(), server.URL+"/a", WithSoftRedirect(metaRedirect))
	require.NoError(t, err)

	assert.Equal(t, "final", doc.Find("#content").Text())
	assert.True(t, strings.HasSuffix(doc.Url.Path, "/c"))
}

func TestFetchDocument_WithoutSoftRedirectOptionReturnsFirstPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<div id="moved" data-to="/elsewhere"></div>`)
	}))
	defer server.Close()

	df := newTestDocumentFetcher(DocumentFetcherOptions{})
	doc, err := df.FetchDocument(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Find("#moved").Length())
}

func TestFetchDocument_RedirectCycleHitsHopLimit(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/x" {
			fmt.Fprint(w, `<div id="moved" data-to="/y"></div>`)
			return
		}
		fmt.Fprint(w, `<div id="moved" data-to="/x"></div>`)
	}))
	defer server.Close()

	df := newTestDocumentFetcher(DocumentFetcherOptions{MaxRedirectHops: 5})
	_, err := df.FetchDocument(context.Background(), server.URL+"/x", WithSoftRedirect(metaRedirect))
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrTooManyRedirects)
	assert.Equal(t, int32(6), hits.Load(), "initial page plus five hops")
}

func TestFetchDocument_RedirectWithoutTarget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<div id="moved"></div>`)
	}))
	defer server.Close()

	df := newTestDocumentFetcher(DocumentFetcherOptions{})
	_, err := df.FetchDocument(context.Background(), server.URL, WithSoftRedirect(metaRedirect))
	assert.ErrorIs(t, err, utils.ErrParsing)
}

func TestFetchDocument_RefusesCrossOriginRedirect(t *testing.T) {
	var foreignHits atomic.Int32
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		foreignHits.Add(1)
		fmt.Fprint(w, `<p id="content">foreign</p>`)
	}))
	defer foreign.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<div id="moved" data-to="%s/elsewhere"></div>`, foreign.URL)
	}))
	defer server.Close()

	df := newTestDocumentFetcher(DocumentFetcherOptions{})
	doc, err := df.FetchDocument(context.Background(), server.URL+"/casa", WithSoftRedirect(metaRedirect))
	require.Error(t, err)
	assert.Nil(t, doc)
	assert.ErrorIs(t, err, utils.ErrParsing)
	assert.Equal(t, int32(0), foreignHits.Load())
}

func TestFetch_ReturnsNilOnFailure(t *testing.T) {
	server, _ := mockServer(t, []int{http.StatusNotFound})

	df := newTestDocumentFetcher(DocumentFetcherOptions{})
	assert.Nil(t, df.Fetch(context.Background(), server.URL))
	assert.Nil(t, df.Fetch(context.Background(), "not a url"))
}

func TestFetchDocument_RespectsRobots(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
			return
		}
		fmt.Fprint(w, `<p>ok</p>`)
	}))
	defer server.Close()

	fetcher := NewFetcher(testClient(), testPolicy(0), testLogger())
	robots := NewRobotsGuard(fetcher, "test-agent", testLogger())
	df := NewDocumentFetcher(fetcher, DocumentFetcherOptions{Robots: robots, UserAgent: "test-agent"}, testLogger())

	_, err := df.FetchDocument(context.Background(), server.URL+"/public")
	assert.NoError(t, err)

	_, err = df.FetchDocument(context.Background(), server.URL+"/private/casa")
	assert.ErrorIs(t, err, utils.ErrRobotsDisallowed)
}

func TestWithUserAgent_DoesNotMutateOriginal(t *testing.T) {
	df := newTestDocumentFetcher(DocumentFetcherOptions{UserAgent: "base"})
	other := df.WithUserAgent("override")
	assert.Equal(t, "base", df.userAgent)
	assert.Equal(t, "override", other.userAgent)
}
