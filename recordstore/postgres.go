package recordstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect import
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultTableName = "records"
	dialectPostgres  = "postgres"

	colKey     = "key"
	colValue   = "value"
	colVersion = "version"

	// Transient storage errors (timeout, unreachable replica) are retried a
	// bounded number of times at this boundary only. Version and key
	// conflicts are never retried: re-deciding on a stale read is a business
	// decision, not a transient fault.
	maxAttempts  = 3
	retryBackoff = 50 * time.Millisecond
)

// PostgresStore implements Store on a single table
// (key text primary key, value jsonb, version bigint). CAS is an UPDATE
// conditioned on the stored version; zero rows affected means the caller lost
// the race or the key is gone, distinguished by a follow-up probe.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
	log   *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

type PostgresOption func(*PostgresStore)

func WithTableName(table string) PostgresOption {
	return func(s *PostgresStore) { s.table = table }
}

func WithLogger(log *slog.Logger) PostgresOption {
	return func(s *PostgresStore) { s.log = log }
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{pool: pool, table: defaultTableName}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Record, error) {
	query, _, err := goqu.Dialect(dialectPostgres).
		From(s.table).
		Select(colKey, colValue, colVersion).
		Where(goqu.C(colKey).Eq(key)).
		ToSQL()
	if err != nil {
		return Record{}, err
	}

	var rec Record
	err = s.withRetry(ctx, func() error {
		row := s.pool.QueryRow(ctx, query)
		return row.Scan(&rec.Key, &rec.Value, &rec.Version)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrKeyNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *PostgresStore) InsertIfAbsent(ctx context.Context, key string, value []byte) (Record, error) {
	query, _, err := goqu.Dialect(dialectPostgres).
		Insert(s.table).
		Cols(colKey, colValue, colVersion).
		Vals(goqu.Vals{key, string(value), 1}).
		ToSQL()
	if err != nil {
		return Record{}, err
	}

	err = s.withRetry(ctx, func() error {
		_, execErr := s.pool.Exec(ctx, query)
		return execErr
	})
	if isUniqueViolation(err) {
		return Record{}, ErrKeyExists
	}
	if err != nil {
		return Record{}, err
	}
	return Record{Key: key, Value: value, Version: 1}, nil
}

func (s *PostgresStore) CompareAndSet(ctx context.Context, key string, expectedVersion int64, value []byte) (Record, error) {
	query, _, err := goqu.Dialect(dialectPostgres).
		Update(s.table).
		Set(goqu.Record{
			colValue:   string(value),
			colVersion: goqu.L("? + 1", goqu.C(colVersion)),
		}).
		Where(goqu.C(colKey).Eq(key), goqu.C(colVersion).Eq(expectedVersion)).
		ToSQL()
	if err != nil {
		return Record{}, err
	}

	var tag pgconn.CommandTag
	err = s.withRetry(ctx, func() error {
		var execErr error
		tag, execErr = s.pool.Exec(ctx, query)
		return execErr
	})
	if err != nil {
		return Record{}, err
	}
	if tag.RowsAffected() == 0 {
		// Lost CAS or missing key; probe to tell the two apart.
		if _, getErr := s.Get(ctx, key); errors.Is(getErr, ErrKeyNotFound) {
			return Record{}, ErrKeyNotFound
		}
		if s.log != nil {
			s.log.Info("cas conflict detected", "key", key, "expected_version", expectedVersion)
		}
		return Record{}, ErrVersionMismatch
	}
	return Record{Key: key, Value: value, Version: expectedVersion + 1}, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) (bool, error) {
	query, _, err := goqu.Dialect(dialectPostgres).
		Delete(s.table).
		Where(goqu.C(colKey).Eq(key)).
		ToSQL()
	if err != nil {
		return false, err
	}

	var tag pgconn.CommandTag
	err = s.withRetry(ctx, func() error {
		var execErr error
		tag, execErr = s.pool.Exec(ctx, query)
		return execErr
	})
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Scan(ctx context.Context, prefix string) ([]Record, error) {
	query, _, err := goqu.Dialect(dialectPostgres).
		From(s.table).
		Select(colKey, colValue, colVersion).
		Where(goqu.C(colKey).Like(prefix + "%")).
		Order(goqu.I(colKey).Asc()).
		ToSQL()
	if err != nil {
		return nil, err
	}

	var out []Record
	err = s.withRetry(ctx, func() error {
		rows, queryErr := s.pool.Query(ctx, query)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var rec Record
			if scanErr := rows.Scan(&rec.Key, &rec.Value, &rec.Version); scanErr != nil {
				return scanErr
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil || !isTransient(ctx, err) {
			return err
		}
		if s.log != nil {
			s.log.Warn("transient storage error, retrying",
				"attempt", attempt, "err", err.Error())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff * time.Duration(attempt)):
		}
	}
	return err
}

// isTransient treats network-level failures as retryable. Errors the server
// actually processed (pgconn.PgError) and caller cancellations are not.
func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false
	}
	var pgErr *pgconn.PgError
	return !errors.As(err, &pgErr)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
