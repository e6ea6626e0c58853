package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"hostwatch/internal/reminder"
	logx "hostwatch/pkg/logx"
)

// sqlite stores dates as YYYY-MM-DD text so range queries compare
// lexicographically, and instants as RFC3339 UTC text.
const sqliteTimeLayout = time.RFC3339Nano

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (*sqliteStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", p, err)
		}
	}

	if err := migrateSQLite(db, log); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log, now: time.Now}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) stamp() string { return s.now().UTC().Format(sqliteTimeLayout) }

func (s *sqliteStore) Create(ctx context.Context, in NewSubscription) (reminder.Subscription, error) {
	in = normalize(in)
	if err := validateNew(in); err != nil {
		return reminder.Subscription{}, err
	}
	now := s.stamp()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(name, url, brand, expires_at, created_at, updated_at)
		 VALUES(?,?,?,?,?,?)`,
		in.Name, in.URL, in.Brand, in.ExpiresAt.String(), now, now,
	)
	if err != nil {
		return reminder.Subscription{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return reminder.Subscription{}, err
	}
	return s.Get(ctx, id)
}

func (s *sqliteStore) Get(ctx context.Context, id int64) (reminder.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	sub, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Subscription{}, ErrNotFound
	}
	return sub, err
}

func (s *sqliteStore) List(ctx context.Context, includeArchived bool) ([]reminder.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions`
	if !includeArchived {
		q += ` WHERE archived = 0`
	}
	q += ` ORDER BY expires_at IS NULL, expires_at, name`
	return s.query(ctx, q)
}

func (s *sqliteStore) ListActive(ctx context.Context) ([]reminder.Subscription, error) {
	return s.List(ctx, false)
}

func (s *sqliteStore) ListByStage(ctx context.Context, today reminder.Date, st reminder.Stage, threshold int) ([]reminder.Subscription, error) {
	from, to, err := stageBounds(today, st, threshold)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE archived = 0 AND expires_at IS NOT NULL`
	var args []any
	if !from.IsZero() {
		q += ` AND expires_at >= ?`
		args = append(args, from.String())
	}
	if !to.IsZero() {
		q += ` AND expires_at <= ?`
		args = append(args, to.String())
	}
	q += ` ORDER BY expires_at, name`
	return s.query(ctx, q, args...)
}

func (s *sqliteStore) query(ctx context.Context, q string, args ...any) ([]reminder.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []reminder.Subscription
	for rows.Next() {
		sub, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateExpiry(ctx context.Context, id int64, expires reminder.Date) error {
	if expires.IsZero() {
		return fmt.Errorf("%w: expires_at is required", ErrInvalid)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET expires_at = ?, updated_at = ? WHERE id = ?`,
		expires.String(), s.stamp(), id,
	)
	return affectedOne(res, err)
}

func (s *sqliteStore) Update(ctx context.Context, id int64, p Patch) (reminder.Subscription, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return reminder.Subscription{}, err
	}
	next, err := validatePatched(cur, p)
	if err != nil {
		return reminder.Subscription{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET name = ?, url = ?, brand = ?, updated_at = ? WHERE id = ?`,
		next.Name, next.URL, next.Brand, s.stamp(), id,
	)
	if err := affectedOne(res, err); err != nil {
		return reminder.Subscription{}, err
	}
	return next, nil
}

func (s *sqliteStore) SetArchived(ctx context.Context, id int64, archived bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET archived = ?, updated_at = ? WHERE id = ?`,
		boolInt(archived), s.stamp(), id,
	)
	return affectedOne(res, err)
}

func (s *sqliteStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	return affectedOne(res, err)
}

func (s *sqliteStore) RecordReminder(ctx context.Context, id int64, st reminder.Stage, expires reminder.Date, maxCount int, at time.Time) (bool, error) {
	col, err := counterColumn(st)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions
		 SET `+col+` = `+col+` + 1, last_notified_at = ?, last_notified_stage = ?, updated_at = ?
		 WHERE id = ? AND archived = 0 AND expires_at = ? AND `+col+` < ?`,
		at.UTC().Format(sqliteTimeLayout), string(st), s.stamp(), id, expires.String(), maxCount,
	)
	return applied(res, err)
}

func (s *sqliteStore) ResetReminders(ctx context.Context, id int64, expires reminder.Date) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET `+resetCounters+`, updated_at = ? WHERE id = ? AND expires_at = ?`,
		s.stamp(), id, expires.String(),
	)
	return applied(res, err)
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, thread_id, command, target, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(sqliteTimeLayout), e.ActorID, nullStr(e.ActorUsername), e.ChatID, e.ThreadID,
		e.Command, e.Target, boolInt(e.OK), nullStr(e.Error), e.TookMS,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(r rowScanner) (reminder.Subscription, error) {
	var (
		sub      reminder.Subscription
		expires  sql.NullString
		notified sql.NullString
		stage    string
		archived int
		created  string
	)
	err := r.Scan(&sub.ID, &sub.Name, &sub.URL, &sub.Brand, &expires,
		&sub.CountH3, &sub.CountH2, &sub.CountH1, &sub.CountH0,
		&notified, &stage, &archived, &created)
	if err != nil {
		return reminder.Subscription{}, err
	}
	if expires.Valid && strings.TrimSpace(expires.String) != "" {
		// an unparseable date is treated as missing and skipped by the engine
		sub.ExpiresAt, _ = reminder.ParseDate(expires.String)
	}
	if notified.Valid {
		if t, err := time.Parse(sqliteTimeLayout, notified.String); err == nil {
			sub.LastNotifiedAt = &t
		}
	}
	sub.LastNotifiedStage = reminder.Stage(stage)
	sub.Archived = archived != 0
	sub.CreatedAt, _ = time.Parse(sqliteTimeLayout, created)
	return sub, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func applied(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func affectedOne(res sql.Result, err error) error {
	ok, err := applied(res, err)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
