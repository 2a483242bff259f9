package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"remindd/internal/reminder"
	logx "remindd/pkg/logx"
)

// Store is the persistence API consumed by the engine, the invoker and the
// HTTP layer.
//
// Keys are reminder IDs and must be globally unique; owner_id is a secondary
// index only and never part of the key. ConditionalUpdate is the optimistic
// write the engine relies on so concurrent invocations for one ID cannot
// double-send or double-increment.
type Store interface {
	Get(ctx context.Context, id string) (reminder.Reminder, error)
	Put(ctx context.Context, rem reminder.Reminder) error
	ConditionalUpdate(ctx context.Context, id string, expectedState reminder.State, expectedRetryCount int, mut Mutation) error
	QueryByOwner(ctx context.Context, ownerID string) ([]reminder.Reminder, error)
	QueryDue(ctx context.Context, before time.Time, limit int) ([]reminder.Reminder, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Open initializes the configured store.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, ErrDisabled
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "dynamo", "dynamodb":
		return openDynamo(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
