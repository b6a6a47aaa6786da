package storage

import (
	"context"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/models"
)

// ListingStore persists the accepted listings of each source.
type ListingStore interface {
	// ReplaceAll deletes every stored listing of alias and inserts listings,
	// atomically: readers see either the old set or the new one.
	ReplaceAll(ctx context.Context, alias string, listings []*models.Listing) error

	// ListBySource returns the stored listings of alias ordered by source id.
	ListBySource(ctx context.Context, alias string) ([]*models.Listing, error)

	// Count returns how many listings of alias are stored.
	Count(ctx context.Context, alias string) (int, error)

	// Close releases the underlying database.
	Close() error
}
