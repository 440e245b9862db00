package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"opsbridge.org/internal/errs"
	"opsbridge.org/internal/store"
)

const pgErrUndefinedTable = "42P01"

// Store keeps dataset records in the dataset_records table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; the proxy is read-mostly.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports database reachability for readiness checks.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) List(ctx context.Context, table string) ([]store.Record, error) {
	if err := store.ValidateTable(table); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select partition_key, row_key, data, updated_at
		from dataset_records
		where table_name = $1
		order by row_key
	`, table)
	if err != nil {
		return nil, classify(err, "list %s", table)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var r store.Record
		if err := rows.Scan(&r.PartitionKey, &r.RowKey, &r.Data, &r.Timestamp); err != nil {
			return nil, errs.Wrapf(err, "scan %s", table)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "list %s", table)
	}
	return out, nil
}

func (s *Store) Upsert(ctx context.Context, table string, rec store.Record) error {
	if err := store.ValidateTable(table); err != nil {
		return err
	}
	if rec.RowKey == "" {
		return errs.Validation("row key required")
	}
	if rec.PartitionKey == "" {
		rec.PartitionKey = store.DefaultPartition
	}
	_, err := s.db.ExecContext(ctx, `
		insert into dataset_records(table_name, partition_key, row_key, data, updated_at)
		values ($1, $2, $3, $4, $5)
		on conflict (table_name, partition_key, row_key) do update
		set data = excluded.data, updated_at = excluded.updated_at
	`, table, rec.PartitionKey, rec.RowKey, rec.Data, s.now().UTC())
	if err != nil {
		return classify(err, "upsert %s/%s", table, rec.RowKey)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, table, rowKey string) error {
	if err := store.ValidateTable(table); err != nil {
		return err
	}
	if rowKey == "" {
		return errs.Validation("id required")
	}
	res, err := s.db.ExecContext(ctx, `
		delete from dataset_records
		where table_name = $1 and partition_key = $2 and row_key = $3
	`, table, store.DefaultPartition, rowKey)
	if err != nil {
		return classify(err, "delete %s/%s", table, rowKey)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errs.Mark(errs.Newf("%s/%s not found", table, rowKey), errs.ErrNotFound)
	}
	return nil
}

func classify(err error, format string, args ...any) error {
	wrapped := errs.Wrapf(err, format, args...)
	var pgErr *pgconn.PgError
	if errs.As(err, &pgErr) && pgErr.Code == pgErrUndefinedTable {
		return errs.WithHint(wrapped, "run `opsbridge migrate up` to create dataset_records")
	}
	return wrapped
}
