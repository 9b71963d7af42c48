package kvstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// DefaultTable is the table PGStore uses when none is given.
const DefaultTable = "companion_kv"

var validTableName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// PGStore keeps keys in a single PostgreSQL table. Used when several agent
// processes share state, or when the device has no writable disk.
type PGStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPGStore creates a PGStore on the given pool. An empty table name selects
// DefaultTable.
func NewPGStore(pool *pgxpool.Pool, table string) (*PGStore, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PGStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the backing table if it does not exist.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM `+s.table+` WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return v, true, nil
}

func (s *PGStore) Set(ctx context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if value == "" {
		return s.Remove(ctx, key)
	}
	return s.put(ctx, s.pool, key, value)
}

func (s *PGStore) SetMulti(ctx context.Context, entries map[string]string) error {
	if err := validateEntries(entries); err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for k, v := range entries {
		if v == "" {
			if _, err := tx.Exec(ctx, `DELETE FROM `+s.table+` WHERE key = $1`, k); err != nil {
				return fmt.Errorf("delete %q: %w", k, err)
			}
			continue
		}
		if err := s.put(ctx, tx, k, v); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PGStore) Remove(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (s *PGStore) put(ctx context.Context, q queryable, key, value string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO `+s.table+` (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}
