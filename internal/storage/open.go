package storage

import (
	"context"
	"fmt"
	"strings"

	logx "larder/pkg/logx"
)

// Store is the persistence API used by the app.
type Store interface {
	// Load returns the last saved state. ok is false when nothing was saved yet.
	Load(ctx context.Context) (st State, ok bool, err error)
	Save(ctx context.Context, st State) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(context.Background(), cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
