package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/log"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/models"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

const (
	listingKeyPrefix = "listing:"    // listing:<alias>:<source id>
	listingsDBDir    = "listings_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements ListingStore on an embedded BadgerDB.
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
}

// NewBadgerStore opens (or creates) the listing database under stateDir.
func NewBadgerStore(stateDir string, logger *logrus.Entry) (*BadgerStore, error) {
	dbPath := filepath.Join(stateDir, listingsDBDir)
	logger.Infof("Opening listing database at: %s", dbPath)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("cannot create state directory %s: %w", dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}
	return &BadgerStore{db: db, log: logger}, nil
}

func sourcePrefix(alias string) []byte {
	return []byte(listingKeyPrefix + alias + ":")
}

func listingKey(l *models.Listing) []byte {
	return append(sourcePrefix(l.Source), l.SourceID...)
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// keysWithPrefix lists the keys under prefix inside txn.
func keysWithPrefix(txn *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// ReplaceAll implements ListingStore in a single transaction.
func (s *BadgerStore) ReplaceAll(ctx context.Context, alias string, listings []*models.Listing) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	values := make(map[string][]byte, len(listings))
	for _, l := range listings {
		if l.Source != alias {
			return fmt.Errorf("%w: listing %s does not belong to source '%s'", utils.ErrDatabase, l.Key(), alias)
		}
		data, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("%w: failed to marshal listing %s: %w", utils.ErrParsing, l.Key(), err)
		}
		values[string(listingKey(l))] = data
	}

	deleted := 0
	err := s.dbUpdate(func(txn *badger.Txn) error {
		deleted = 0
		for _, key := range keysWithPrefix(txn, sourcePrefix(alias)) {
			if _, keep := values[string(key)]; keep {
				continue
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			deleted++
		}
		for key, data := range values {
			if err := txn.SetEntry(badger.NewEntry([]byte(key), data)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, badger.ErrTxnTooBig) {
			return fmt.Errorf("%w: %d listings of '%s' do not fit one transaction: %w", utils.ErrDatabase, len(listings), alias, err)
		}
		return fmt.Errorf("%w: replacing listings of '%s': %w", utils.ErrDatabase, alias, err)
	}

	s.log.WithFields(logrus.Fields{"source": alias, "stored": len(values), "deleted": deleted}).Info("Listings replaced")
	return nil
}

// ListBySource implements ListingStore.
func (s *BadgerStore) ListBySource(ctx context.Context, alias string) ([]*models.Listing, error) {
	var listings []*models.Listing
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = sourcePrefix(alias)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var l models.Listing
				if err := json.Unmarshal(val, &l); err != nil {
					s.log.Warnf("Failed to unmarshal listing for key '%s': %v. Skipping.", string(item.Key()), err)
					return nil
				}
				listings = append(listings, &l)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing '%s': %w", utils.ErrDatabase, alias, err)
	}
	sort.Slice(listings, func(i, j int) bool { return listings[i].SourceID < listings[j].SourceID })
	return listings, nil
}

// Count implements ListingStore.
func (s *BadgerStore) Count(_ context.Context, alias string) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		count = len(keysWithPrefix(txn, sourcePrefix(alias)))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: counting '%s': %w", utils.ErrDatabase, alias, err)
	}
	return count, nil
}

// RunGC runs BadgerDB's value log garbage collection until ctx is done.
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Debug("BadgerDB GC goroutine started.")
	for {
		select {
		case <-ticker.C:
			if s.db.IsClosed() {
				return
			}
			var err error
			for err == nil {
				err = s.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection: %v", ctx.Err())
			return
		}
	}
}

// Close implements ListingStore.
func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing listing DB: %v", err)
		return err
	}
	s.log.Debug("Listing DB closed.")
	return nil
}
