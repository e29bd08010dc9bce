package cli

import (
	"fmt"

	"github.com/dudufisio/fisioflow/internal/config"
	"github.com/dudufisio/fisioflow/internal/providers"
	"github.com/dudufisio/fisioflow/internal/store"
)

// app bundles what provider commands need: the validated config and a
// resolver over the configured storage.
type app struct {
	cfg      config.Config
	resolver *providers.Resolver
	db       *store.DB
	sqliteKV *store.SQLiteKV // nil with the memory driver
}

// openApp loads the config, applies command-line overrides, opens storage
// and builds the resolver.
func openApp(overrides ...func(*config.Config)) (*app, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(&cfg)
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return nil, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}

	catalog, err := config.Catalog(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	var kv store.KV
	switch cfg.Storage.Driver {
	case "memory":
		kv = store.NewMemoryKV()
		log.Debug().Msg("using in-memory settings storage")
	default:
		if err := paths.EnsureDirs(); err != nil {
			return nil, fmt.Errorf("creating data directories: %w", err)
		}
		dbPath := paths.StoragePath(cfg.Storage)
		a.db, err = store.Open(dbPath, log)
		if err != nil {
			return nil, fmt.Errorf("opening settings database: %w", err)
		}
		a.sqliteKV = store.NewSQLiteKV(a.db)
		kv = a.sqliteKV
		log.Debug().Str("path", dbPath).Msg("using SQLite settings storage")
	}

	a.resolver = providers.NewResolver(kv, catalog, log)
	return a, nil
}

func (a *app) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
