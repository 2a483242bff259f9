package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindd/internal/reminder"
	logx "remindd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Get(ctx context.Context, id string) (reminder.Reminder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, fire_at, message, channel, state, retry_count, created_at, updated_at
		 FROM reminders WHERE id = ?`, id)
	return scanReminder(row)
}

func (s *sqliteStore) Put(ctx context.Context, rem reminder.Reminder) error {
	ch, err := json.Marshal(rem.Channel)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reminders(id, owner_id, fire_at, message, channel, state, retry_count, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   owner_id=excluded.owner_id, fire_at=excluded.fire_at, message=excluded.message,
		   channel=excluded.channel, state=excluded.state, retry_count=excluded.retry_count,
		   updated_at=excluded.updated_at`,
		rem.ID, rem.OwnerID, rem.FireAt.UnixMilli(), rem.Message, string(ch),
		string(rem.State), rem.RetryCount, rem.CreatedAt.UnixMilli(), rem.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) ConditionalUpdate(ctx context.Context, id string, expectedState reminder.State, expectedRetryCount int, mut Mutation) error {
	var newState, newRetry, newMessage, newFireAt any
	if mut.State != nil {
		newState = string(*mut.State)
	}
	if mut.RetryCount != nil {
		newRetry = *mut.RetryCount
	}
	if mut.Message != nil {
		newMessage = *mut.Message
	}
	if mut.FireAt != nil {
		newFireAt = mut.FireAt.UnixMilli()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders
		 SET state = COALESCE(?, state), retry_count = COALESCE(?, retry_count),
		     message = COALESCE(?, message), fire_at = COALESCE(?, fire_at), updated_at = ?
		 WHERE id = ? AND state = ? AND retry_count = ?`,
		newState, newRetry, newMessage, newFireAt, mut.UpdatedAt.UnixMilli(),
		id, string(expectedState), expectedRetryCount,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	// Nothing matched: distinguish a missing record from a lost race.
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM reminders WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.ErrNotFound
	}
	if err != nil {
		return err
	}
	return reminder.ErrPreconditionFailed
}

func (s *sqliteStore) QueryByOwner(ctx context.Context, ownerID string) ([]reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, fire_at, message, channel, state, retry_count, created_at, updated_at
		 FROM reminders WHERE owner_id = ? ORDER BY fire_at ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReminders(rows)
}

func (s *sqliteStore) QueryDue(ctx context.Context, before time.Time, limit int) ([]reminder.Reminder, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, fire_at, message, channel, state, retry_count, created_at, updated_at
		 FROM reminders WHERE state = ? AND fire_at <= ?
		 ORDER BY fire_at ASC LIMIT ?`,
		string(reminder.StatePending), before.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReminders(rows)
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (reminder.Reminder, error) {
	var rem reminder.Reminder
	var state, channel string
	var fireAt, createdAt, updatedAt int64
	err := row.Scan(&rem.ID, &rem.OwnerID, &fireAt, &rem.Message, &channel, &state, &rem.RetryCount, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Reminder{}, reminder.ErrNotFound
	}
	if err != nil {
		return reminder.Reminder{}, err
	}
	if err := json.Unmarshal([]byte(channel), &rem.Channel); err != nil {
		return reminder.Reminder{}, fmt.Errorf("decode channel for %s: %w", rem.ID, err)
	}
	rem.State = reminder.State(state)
	rem.FireAt = time.UnixMilli(fireAt).UTC()
	rem.CreatedAt = time.UnixMilli(createdAt).UTC()
	rem.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return rem, nil
}

func collectReminders(rows *sql.Rows) ([]reminder.Reminder, error) {
	var out []reminder.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rem)
	}
	return out, rows.Err()
}
