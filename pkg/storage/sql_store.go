package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/models"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

// SQL drivers supported by SQLStore.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const insertBatchSize = 50

var listingColumns = []string{
	"source", "source_id", "title", "link", "price_amount", "price_currency",
	"department", "neighbourhood", "store_mode", "payload", "imported_at",
}

const schema = `
CREATE TABLE IF NOT EXISTS listings (
	source         VARCHAR(32)  NOT NULL,
	source_id      VARCHAR(128) NOT NULL,
	title          TEXT         NOT NULL,
	link           TEXT         NOT NULL,
	price_amount   TEXT         NOT NULL,
	price_currency VARCHAR(3)   NOT NULL,
	department     TEXT         NOT NULL DEFAULT '',
	neighbourhood  TEXT         NOT NULL DEFAULT '',
	store_mode     VARCHAR(16)  NOT NULL,
	payload        TEXT         NOT NULL,
	imported_at    TIMESTAMP    NOT NULL,
	PRIMARY KEY (source, source_id)
);
CREATE INDEX IF NOT EXISTS idx_listings_neighbourhood ON listings(source, neighbourhood);
`

// SQLStore implements ListingStore on SQLite or PostgreSQL. Each listing is
// stored as a JSON payload next to a few queryable columns.
type SQLStore struct {
	db     *sql.DB
	driver string
	log    *logrus.Entry
	now    func() time.Time
}

// NewSQLStore opens the database, pings it and creates the schema.
// For sqlite dsn is a file path; for postgres a connection string.
func NewSQLStore(ctx context.Context, driver, dsn string, logger *logrus.Entry) (*SQLStore, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		db, err = sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", dsn))
		if err == nil {
			db.SetMaxOpenConns(1) // single writer
			db.SetConnMaxLifetime(5 * time.Minute)
		}
	case DriverPostgres:
		db, err = sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("%w: unsupported sql driver '%s'", utils.ErrConfigValidation, driver)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: open: %w", utils.ErrDatabase, driver, err)
	}

	if err := ping(ctx, db, driver, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %s: migrate: %w", utils.ErrDatabase, driver, err)
	}

	logger.WithField("driver", driver).Info("Listing database ready")
	return &SQLStore{db: db, driver: driver, log: logger, now: time.Now}, nil
}

// ping waits for the database to accept connections. A postgres server
// starting next to us gets a few attempts.
func ping(ctx context.Context, db *sql.DB, driver string, logger *logrus.Entry) error {
	attempts := 1
	if driver == DriverPostgres {
		attempts = 5
	}
	var err error
	for i := 0; i < attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		logger.WithField("attempt", i+1).Warnf("Database ping failed: %v", err)
		if i < attempts-1 {
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%w: %s: ping failed after %d attempt(s): %w", utils.ErrDatabase, driver, attempts, err)
}

// rebind turns ? placeholders into $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ReplaceAll implements ListingStore: delete and batch insert in one transaction.
func (s *SQLStore) ReplaceAll(ctx context.Context, alias string, listings []*models.Listing) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", utils.ErrDatabase, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM listings WHERE source = ?`), alias)
	if err != nil {
		return fmt.Errorf("%w: clearing '%s': %w", utils.ErrDatabase, alias, err)
	}
	deleted, _ := res.RowsAffected()

	importedAt := s.now().UTC()
	for i := 0; i < len(listings); i += insertBatchSize {
		end := min(i+insertBatchSize, len(listings))
		if err := s.insertBatch(ctx, tx, alias, listings[i:end], importedAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", utils.ErrDatabase, err)
	}
	s.log.WithFields(logrus.Fields{"source": alias, "stored": len(listings), "deleted": deleted}).Info("Listings replaced")
	return nil
}

func (s *SQLStore) insertBatch(ctx context.Context, tx *sql.Tx, alias string, batch []*models.Listing, importedAt time.Time) error {
	row := "(" + strings.TrimSuffix(strings.Repeat("?,", len(listingColumns)), ",") + ")"
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]any, 0, len(batch)*len(listingColumns))

	for _, l := range batch {
		if l.Source != alias {
			return fmt.Errorf("%w: listing %s does not belong to source '%s'", utils.ErrDatabase, l.Key(), alias)
		}
		payload, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("%w: failed to marshal listing %s: %w", utils.ErrParsing, l.Key(), err)
		}
		valueStrings = append(valueStrings, row)
		valueArgs = append(valueArgs,
			l.Source, l.SourceID, l.Title, l.Link, l.Price.Amount.String(), string(l.Price.Currency),
			l.Department, l.Neighbourhood, string(l.StoreMode), string(payload), importedAt)
	}

	query := fmt.Sprintf(`INSERT INTO listings (%s) VALUES %s`,
		strings.Join(listingColumns, ", "), strings.Join(valueStrings, ","))
	if _, err := tx.ExecContext(ctx, s.rebind(query), valueArgs...); err != nil {
		return fmt.Errorf("%w: inserting listings of '%s': %w", utils.ErrDatabase, alias, err)
	}
	return nil
}

// ListBySource implements ListingStore.
func (s *SQLStore) ListBySource(ctx context.Context, alias string) ([]*models.Listing, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT payload FROM listings WHERE source = ? ORDER BY source_id`), alias)
	if err != nil {
		return nil, fmt.Errorf("%w: listing '%s': %w", utils.ErrDatabase, alias, err)
	}
	defer rows.Close()

	var listings []*models.Listing
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", utils.ErrDatabase, err)
		}
		var l models.Listing
		if err := json.Unmarshal([]byte(payload), &l); err != nil {
			s.log.Warnf("Failed to unmarshal stored listing of '%s': %v. Skipping.", alias, err)
			continue
		}
		listings = append(listings, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: listing '%s': %w", utils.ErrDatabase, alias, err)
	}
	return listings, nil
}

// Count implements ListingStore.
func (s *SQLStore) Count(ctx context.Context, alias string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM listings WHERE source = ?`), alias).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: counting '%s': %w", utils.ErrDatabase, alias, err)
	}
	return n, nil
}

// Close implements ListingStore.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
