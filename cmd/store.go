package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/jobs"
	"github.com/sells-group/prospect-cli/internal/realtime"
	"github.com/sells-group/prospect-cli/internal/session"
	"github.com/sells-group/prospect-cli/internal/store"
	"github.com/sells-group/prospect-cli/pkg/enrichment"
)

// openStore opens the configured job and lead store.
func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		st, err := store.NewSQLite(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// realtimeEnv is the store as the server uses it plus, for postgres, the
// listener that feeds database notifications into the hub.
type realtimeEnv struct {
	Store    store.Store
	Listener *realtime.PGListener
	raw      store.Store
}

func (e *realtimeEnv) Close() error {
	return e.raw.Close()
}

// initRealtime wires the store to hub. Postgres publishes through its
// triggers; sqlite publishes from the write path.
func initRealtime(ctx context.Context, hub *realtime.Hub) (*realtimeEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	env := &realtimeEnv{Store: st, raw: st}
	switch s := st.(type) {
	case *store.PostgresStore:
		env.Listener = realtime.NewPGListener(realtime.DialPostgres(cfg.Store.DatabaseURL), hub, s)
	default:
		env.Store = store.NewPublishing(st, hub)
	}
	return env, nil
}

// initLauncher returns the remote create-job client when one is
// configured, otherwise a launcher that writes the job row directly.
func initLauncher(st store.Store) jobs.Launcher {
	if cfg.Enrichment.CreateURL != "" {
		return enrichment.Launcher{Client: enrichment.FromConfig(cfg.Enrichment)}
	}
	return jobs.StoreLauncher{Store: st}
}

// sessionKeys names a user's persisted session values.
func sessionKeys(prefix string) func(userID string) jobs.Keys {
	return func(userID string) jobs.Keys {
		return jobs.Keys{
			Job:   session.Key(prefix, userID, session.NameJob),
			Leads: session.Key(prefix, userID, session.NameLeads),
		}
	}
}
