package opstore

import (
	"context"

	"github.com/linksmith/chrono-scraper-sub007/pkg/pipeerrors"
)

// Bookkeeping tables owned by the pipeline. They live next to the
// operational table but never touch it.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS analytics_watermarks (
		stream     text PRIMARY KEY,
		watermark  timestamptz NOT NULL,
		record_id  bigint NOT NULL DEFAULT 0,
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS analytics_sync_lease (
		stream     text PRIMARY KEY,
		holder     text NOT NULL,
		expires_at timestamptz NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS analytics_backfill_state (
		job         text PRIMARY KEY,
		status      text NOT NULL,
		range_from  timestamptz NOT NULL,
		range_to    timestamptz NOT NULL,
		cursor      timestamptz NOT NULL,
		chunks_done integer NOT NULL DEFAULT 0,
		last_error  text,
		updated_at  timestamptz NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates the bookkeeping tables if missing. Idempotent.
func EnsureSchema(ctx context.Context, db DB) error {
	for _, ddl := range schemaDDL {
		if _, err := db.Exec(ctx, ddl); err != nil {
			return pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "create bookkeeping tables")
		}
	}
	return nil
}
