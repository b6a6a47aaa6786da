// Package source defines the listing-site adapter contract and the helpers
// shared by the gallito, mercadolibre and infocasas adapters.
package source

import (
	"context"
	"fmt"
	"sort"

	"github.com/PuerkitoBio/goquery"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/models"
)

// Target is one concrete search of a source: the template expanded with one
// combination of parameter values.
type Target struct {
	URL    string
	Params map[string]string
}

// String returns the target URL.
func (t Target) String() string { return t.URL }

// Adapter crawls one listing site.
type Adapter interface {
	// Alias is the source name used in config, logs and storage.
	Alias() string
	// Targets expands the URL template, one Target per multi-valued parameter value.
	Targets() ([]Target, error)
	// DiscoverPages returns how many index pages the target has. Failure wraps utils.ErrPagination.
	DiscoverPages(ctx context.Context, target Target) (int, error)
	// HarvestPosts returns the posts linked from one index page (1-based).
	HarvestPosts(ctx context.Context, target Target, page int) ([]models.Post, error)
	// ExtractListing builds a listing from a fetched detail page.
	ExtractListing(ctx context.Context, post models.Post, doc *goquery.Document) (*models.Listing, error)
}

// DetailFetcher is implemented by adapters whose detail pages need special
// fetch handling, such as soft redirects.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, post models.Post) (*goquery.Document, error)
}

// Registry maps aliases to adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates a registry holding adapters. Duplicate aliases are an error.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if _, dup := r.adapters[a.Alias()]; dup {
			return nil, fmt.Errorf("duplicate source alias '%s'", a.Alias())
		}
		r.adapters[a.Alias()] = a
	}
	return r, nil
}

// Get returns the adapter for alias.
func (r *Registry) Get(alias string) (Adapter, bool) {
	a, ok := r.adapters[alias]
	return a, ok
}

// Aliases returns all registered aliases, sorted.
func (r *Registry) Aliases() []string {
	aliases := make([]string, 0, len(r.adapters))
	for alias := range r.adapters {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}
