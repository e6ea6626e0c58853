package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"hostwatch/internal/reminder"
	logx "hostwatch/pkg/logx"
)

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (*postgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pool, err := connectPostgres(ctx, dsn, cfg.MaxConns, cfg.ConnectAttempts, log)
	if err != nil {
		return nil, err
	}
	if err := migratePostgres(dsn, log); err != nil {
		pool.Close()
		return nil, err
	}
	return &postgresStore{pool: pool, log: log}, nil
}

// connectPostgres creates the pool and pings it, retrying with exponential
// backoff capped at 16s.
func connectPostgres(ctx context.Context, dsn string, maxConns int32, attempts int, log logx.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	if attempts <= 0 {
		attempts = 5
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				log.Info("connected to database", logx.Int("attempts", attempt))
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		backoff := connectBackoff(attempt)
		log.Warn("database not reachable, retrying",
			logx.Int("attempt", attempt),
			logx.Int("max_attempts", attempts),
			logx.Duration("backoff", backoff),
			logx.Err(err),
		)
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
		case <-t.C:
		}
	}
	return nil, fmt.Errorf("connect to database after %d attempts: %w", attempts, lastErr)
}

func connectBackoff(attempt int) time.Duration {
	return min(time.Duration(1<<(attempt-1))*time.Second, 16*time.Second)
}

func (s *postgresStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *postgresStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return ErrDisabled
	}
	return s.pool.Ping(ctx)
}

func (s *postgresStore) Create(ctx context.Context, in NewSubscription) (reminder.Subscription, error) {
	in = normalize(in)
	if err := validateNew(in); err != nil {
		return reminder.Subscription{}, err
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO subscriptions(name, url, brand, expires_at)
		 VALUES($1,$2,$3,$4)
		 RETURNING `+subscriptionColumns,
		in.Name, in.URL, in.Brand, pgDate(in.ExpiresAt),
	)
	return scanPostgres(row)
}

func (s *postgresStore) Get(ctx context.Context, id int64) (reminder.Subscription, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	sub, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return reminder.Subscription{}, ErrNotFound
	}
	return sub, err
}

func (s *postgresStore) List(ctx context.Context, includeArchived bool) ([]reminder.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions`
	if !includeArchived {
		q += ` WHERE NOT archived`
	}
	q += ` ORDER BY expires_at ASC NULLS LAST, name`
	return s.query(ctx, q)
}

func (s *postgresStore) ListActive(ctx context.Context) ([]reminder.Subscription, error) {
	return s.List(ctx, false)
}

func (s *postgresStore) ListByStage(ctx context.Context, today reminder.Date, st reminder.Stage, threshold int) ([]reminder.Subscription, error) {
	from, to, err := stageBounds(today, st, threshold)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE NOT archived AND expires_at IS NOT NULL`
	var args []any
	if !from.IsZero() {
		args = append(args, pgDate(from))
		q += fmt.Sprintf(` AND expires_at >= $%d`, len(args))
	}
	if !to.IsZero() {
		args = append(args, pgDate(to))
		q += fmt.Sprintf(` AND expires_at <= $%d`, len(args))
	}
	q += ` ORDER BY expires_at, name`
	return s.query(ctx, q, args...)
}

func (s *postgresStore) query(ctx context.Context, q string, args ...any) ([]reminder.Subscription, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []reminder.Subscription
	for rows.Next() {
		sub, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *postgresStore) UpdateExpiry(ctx context.Context, id int64, expires reminder.Date) error {
	if expires.IsZero() {
		return fmt.Errorf("%w: expires_at is required", ErrInvalid)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET expires_at = $1, updated_at = now() WHERE id = $2`,
		pgDate(expires), id,
	)
	return tagOne(tag, err)
}

func (s *postgresStore) Update(ctx context.Context, id int64, p Patch) (reminder.Subscription, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return reminder.Subscription{}, err
	}
	next, err := validatePatched(cur, p)
	if err != nil {
		return reminder.Subscription{}, err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET name = $1, url = $2, brand = $3, updated_at = now() WHERE id = $4`,
		next.Name, next.URL, next.Brand, id,
	)
	if err := tagOne(tag, err); err != nil {
		return reminder.Subscription{}, err
	}
	return next, nil
}

func (s *postgresStore) SetArchived(ctx context.Context, id int64, archived bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE subscriptions SET archived = $1, updated_at = now() WHERE id = $2`, archived, id)
	return tagOne(tag, err)
}

func (s *postgresStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	return tagOne(tag, err)
}

func (s *postgresStore) RecordReminder(ctx context.Context, id int64, st reminder.Stage, expires reminder.Date, maxCount int, at time.Time) (bool, error) {
	col, err := counterColumn(st)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions
		 SET `+col+` = `+col+` + 1, last_notified_at = $1, last_notified_stage = $2, updated_at = now()
		 WHERE id = $3 AND NOT archived AND expires_at = $4 AND `+col+` < $5`,
		at, string(st), id, pgDate(expires), maxCount,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *postgresStore) ResetReminders(ctx context.Context, id int64, expires reminder.Date) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET `+resetCounters+`, updated_at = now() WHERE id = $1 AND expires_at = $2`,
		id, pgDate(expires),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.pool == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, thread_id, command, target, ok, err, took_ms)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.At, e.ActorID, nullStr(e.ActorUsername), e.ChatID, e.ThreadID,
		e.Command, e.Target, e.OK, nullStr(e.Error), e.TookMS,
	)
	return err
}

func pgDate(d reminder.Date) pgtype.Date {
	if d.IsZero() {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: d.Time(time.UTC), Valid: true}
}

func scanPostgres(r pgx.Row) (reminder.Subscription, error) {
	var (
		sub      reminder.Subscription
		expires  pgtype.Date
		notified pgtype.Timestamptz
		stage    string
	)
	err := r.Scan(&sub.ID, &sub.Name, &sub.URL, &sub.Brand, &expires,
		&sub.CountH3, &sub.CountH2, &sub.CountH1, &sub.CountH0,
		&notified, &stage, &sub.Archived, &sub.CreatedAt)
	if err != nil {
		return reminder.Subscription{}, err
	}
	if expires.Valid {
		sub.ExpiresAt = reminder.DateOf(expires.Time)
	}
	if notified.Valid {
		t := notified.Time
		sub.LastNotifiedAt = &t
	}
	sub.LastNotifiedStage = reminder.Stage(stage)
	return sub, nil
}

func tagOne(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
