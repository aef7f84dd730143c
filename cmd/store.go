//go:build !integration

package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/atlas-cli/internal/store"
)

// initStore opens the configured store. Default builds carry only the
// SQLite driver; Postgres needs the integration build tag.
func initStore(_ context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "atlas.db"
		}
		return store.NewSQLite(dsn)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
