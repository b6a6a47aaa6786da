package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/config"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

// Open returns the ListingStore selected by cfg.Driver. cfg must have been
// validated (defaults applied).
func Open(ctx context.Context, cfg config.StorageConfig, stateDir string, logger *logrus.Entry) (ListingStore, error) {
	logger = logger.WithField("storage", cfg.Driver)
	switch cfg.Driver {
	case "badger", "":
		return NewBadgerStore(stateDir, logger)
	case DriverSQLite:
		if dir := filepath.Dir(cfg.DSN); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("cannot create sqlite directory %s: %w", dir, err)
			}
		}
		return NewSQLStore(ctx, DriverSQLite, cfg.DSN, logger)
	case DriverPostgres:
		return NewSQLStore(ctx, DriverPostgres, cfg.DSN, logger)
	}
	return nil, fmt.Errorf("%w: unknown storage driver '%s'", utils.ErrConfigValidation, cfg.Driver)
}
