package storage

import (
	"context"
	"errors"
	"strings"

	logx "tweetfeeder/pkg/logx"
)

// Store is the append-only event log.
type Store interface {
	AppendEvent(ctx context.Context, e EventRecord) error
	// Recent returns up to limit records, newest last.
	Recent(ctx context.Context, limit int) ([]EventRecord, error)
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
	case "file", "jsonl":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
