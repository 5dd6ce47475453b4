// Package sqlitestore implements the registry's store port on an embedded
// SQLite database, for single-binary deployments with no Redis. Semantics
// match redisstore except Publish, which is a no-op: with everything in
// one process the in-memory event bus already reaches every subscriber.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/blackmichael/tweetwall/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER
);
CREATE TABLE IF NOT EXISTS zset (
	key    TEXT NOT NULL,
	member TEXT NOT NULL,
	score  REAL NOT NULL,
	PRIMARY KEY (key, member)
);
CREATE INDEX IF NOT EXISTS zset_score ON zset (key, score);
`

// Store implements domain.Store on SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// now is swappable for expiry tests.
	now func() time.Time
}

// New opens (creating if needed) the database at path and prepares the
// schema. Use path ":memory:" for an ephemeral store.
func New(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The sqlite driver does not support concurrent writers on one
	// connection pool; serialize through a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare schema: %w", err)
	}

	return &Store{db: db, logger: logger, now: time.Now}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value     []byte
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrap("get", err)
	}

	if expiresAt.Valid && expiresAt.Int64 <= s.now().UnixMilli() {
		// Lazy expiry, like Redis TTLs but swept on read.
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
			s.logger.Warn("failed to sweep expired key", "key", key, "error", err)
		}
		return nil, false, nil
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt any
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return wrap("set", err)
	}
	return nil
}

func (s *Store) Del(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return wrap("del", err)
	}
	return nil
}

func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO zset (key, member, score) VALUES (?, ?, ?)
		ON CONFLICT (key, member) DO UPDATE SET score = excluded.score`,
		key, member, score,
	)
	if err != nil {
		return wrap("zadd", err)
	}
	return nil
}

func (s *Store) ZRem(ctx context.Context, key string, member string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM zset WHERE key = ? AND member = ?`, key, member,
	)
	if err != nil {
		return false, wrap("zrem", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) ZRangeRev(ctx context.Context, key string, start, stop int64) ([]string, error) {
	// Mirror Redis range semantics: inclusive indexes, -1 meaning the
	// end of the set.
	limit := int64(-1)
	if stop >= 0 {
		limit = stop - start + 1
		if limit < 0 {
			limit = 0
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT member FROM zset WHERE key = ?
		ORDER BY score DESC, member DESC
		LIMIT ? OFFSET ?`,
		key, limit, start,
	)
	if err != nil {
		return nil, wrap("zrangerev", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, wrap("zrangerev scan", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("zrangerev iterate", err)
	}
	return members, nil
}

func (s *Store) ZScore(ctx context.Context, key string, member string) (float64, bool, error) {
	var score float64
	err := s.db.QueryRowContext(ctx,
		`SELECT score FROM zset WHERE key = ? AND member = ?`, key, member,
	).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrap("zscore", err)
	}
	return score, true, nil
}

func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM zset WHERE key = ?`, key,
	).Scan(&n)
	if err != nil {
		return 0, wrap("zcard", err)
	}
	return n, nil
}

// Publish is a no-op: the embedded store has no pub/sub and local
// subscribers are fed by the in-process bus.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return wrap("ping", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func wrap(op string, err error) error {
	return domain.StorageError("sqlite "+op, err)
}
