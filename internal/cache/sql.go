package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

const cacheTable = "cache_entries"

// SQLStore keeps entries in the cache_entries table so they survive a
// restart. Works against sqlite and postgres.
type SQLStore struct {
	db  *sqlx.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	var ph sq.PlaceholderFormat = sq.Question
	if db.DriverName() == "postgres" {
		ph = sq.Dollar
	}

	return &SQLStore{
		db:  db,
		sb:  sq.StatementBuilder.PlaceholderFormat(ph),
		now: time.Now,
	}
}

type cacheRow struct {
	Payload   string `db:"payload"`
	ExpiresAt int64  `db:"expires_at"`
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query, args, err := s.sb.Select("payload", "expires_at").
		From(cacheTable).
		Where(sq.Eq{"cache_key": key}).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("error constructing sql: %s", err)
	}

	var row cacheRow
	err = s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("error fetching cache entry: %w", err)
	}

	if row.ExpiresAt > 0 && row.ExpiresAt <= s.now().UnixMilli() {
		return nil, false, nil
	}

	return []byte(row.Payload), true, nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixMilli()
	}

	query, args, err := s.sb.Insert(cacheTable).
		Columns("cache_key", "payload", "expires_at").
		Values(key, string(value), expiresAt).
		Suffix("ON CONFLICT (cache_key) DO UPDATE SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error upserting cache entry: %w", err)
	}

	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	query, args, err := s.sb.Delete(cacheTable).
		Where(sq.Eq{"cache_key": key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error deleting cache entry: %w", err)
	}

	return nil
}

// PurgeExpired deletes every entry whose TTL has run out.
func (s *SQLStore) PurgeExpired(ctx context.Context) (int64, error) {
	query, args, err := s.sb.Delete(cacheTable).
		Where(sq.And{
			sq.Gt{"expires_at": 0},
			sq.LtOrEq{"expires_at": s.now().UnixMilli()},
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("error constructing sql: %s", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("error purging cache entries: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error counting purged entries: %w", err)
	}

	return n, nil
}
