// Package opstore reads the operational scrape table and persists the
// pipeline's own bookkeeping (watermarks, sync leases, backfill
// cursors) in side tables next to it. The scrape table itself is
// strictly read-only to this package.
package opstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linksmith/chrono-scraper-sub007/pkg/config"
	"github.com/linksmith/chrono-scraper-sub007/pkg/models"
	"github.com/linksmith/chrono-scraper-sub007/pkg/pipeerrors"
)

// DB is the subset of pgxpool.Pool the store uses; pgxmock satisfies
// it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store wraps the operational database.
type Store struct {
	db    DB
	table string
}

// Connect opens a pgx pool from config and verifies connectivity.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, pipeerrors.Wrap(err, pipeerrors.ErrorTypeConfig, "parse database dsn")
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = int32(cfg.MaxConns)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "ping database")
	}
	return pool, nil
}

// New creates a store over an open connection. table is the
// operational scrape table name.
func New(db DB, table string) *Store {
	return &Store{db: db, table: table}
}

// Cursor is a keyset position in (last_mutated, id) order.
type Cursor struct {
	LastMutated time.Time
	ID          int64
}

const recordColumns = `id, url, final_url, status, http_status, fetched_at, last_mutated,
	content_type, content_length, extraction_method, source_kind,
	quality_score, priority_score, error_kind, error_detail`

// ReadPage returns up to limit records strictly after the cursor in
// (last_mutated, id) order. A non-nil upper bounds last_mutated
// exclusively, used by backfill chunks.
func (s *Store) ReadPage(ctx context.Context, after Cursor, upper *time.Time, limit int) ([]models.OperationalRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE (last_mutated > $1 OR (last_mutated = $1 AND id > $2))`,
		recordColumns, s.table)
	args := []any{after.LastMutated, after.ID}
	if upper != nil {
		query += ` AND last_mutated < $3`
		args = append(args, *upper)
	}
	query += fmt.Sprintf(` ORDER BY last_mutated, id LIMIT %d`, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "query operational records")
	}
	defer rows.Close()

	var out []models.OperationalRecord
	for rows.Next() {
		var (
			rec         models.OperationalRecord
			finalURL    *string
			contentType *string
			errorKind   *string
			errorDetail *string
		)
		if err := rows.Scan(
			&rec.ID, &rec.URL, &finalURL, &rec.Status, &rec.HTTPStatus,
			&rec.FetchedAt, &rec.LastMutated, &contentType,
			&rec.ContentLength, &rec.ExtractionMethod, &rec.SourceKind,
			&rec.QualityScore, &rec.PriorityScore, &errorKind, &errorDetail,
		); err != nil {
			return nil, pipeerrors.Wrap(err, pipeerrors.ErrorTypeSchema, "scan operational record")
		}
		rec.FinalURL = deref(finalURL)
		rec.ContentType = deref(contentType)
		rec.ErrorKind = deref(errorKind)
		rec.ErrorDetail = deref(errorDetail)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "iterate operational records")
	}
	return out, nil
}

// MutationBounds returns the min and max last_mutated of the table,
// used to derive a backfill range. ok is false on an empty table.
func (s *Store) MutationBounds(ctx context.Context) (min, max time.Time, ok bool, err error) {
	query := fmt.Sprintf(`SELECT min(last_mutated), max(last_mutated) FROM %s`, s.table)
	var lo, hi *time.Time
	if err := s.db.QueryRow(ctx, query).Scan(&lo, &hi); err != nil {
		return time.Time{}, time.Time{}, false, pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "query mutation bounds")
	}
	if lo == nil || hi == nil {
		return time.Time{}, time.Time{}, false, nil
	}
	return *lo, *hi, true, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
