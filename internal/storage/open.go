package storage

import (
	"context"
	"fmt"
	"strings"

	logx "hostwatch/pkg/logx"
)

// DefaultSQLitePath is used when the sqlite driver has no path.
const DefaultSQLitePath = "./data/hostwatch.db"

// Open initializes the configured store and applies pending migrations.
// An empty driver selects sqlite. "none" returns ErrDisabled.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "none":
		return nil, ErrDisabled
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Path) == "" {
			cfg.Path = DefaultSQLitePath
		}
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pgx":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
