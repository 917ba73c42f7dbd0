package opstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/linksmith/chrono-scraper-sub007/pkg/pipeerrors"
)

// WatermarkStore persists the per-stream sync position. The watermark
// is the full (last_mutated, id) cursor of the last durably written
// record, never wall clock time: without the id tie-breaker a cycle
// would re-read every row sharing the watermark timestamp forever.
type WatermarkStore struct {
	db DB
}

// NewWatermarkStore creates a watermark store.
func NewWatermarkStore(db DB) *WatermarkStore {
	return &WatermarkStore{db: db}
}

// Get returns the stream's cursor. ok is false when the stream has
// never synced.
func (w *WatermarkStore) Get(ctx context.Context, stream string) (Cursor, bool, error) {
	var cur Cursor
	err := w.db.QueryRow(ctx,
		`SELECT watermark, record_id FROM analytics_watermarks WHERE stream = $1`,
		stream).Scan(&cur.LastMutated, &cur.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Cursor{}, false, nil
	}
	if err != nil {
		return Cursor{}, false, pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "read watermark")
	}
	cur.LastMutated = cur.LastMutated.UTC()
	return cur, true, nil
}

// Set advances (or initializes) the stream's cursor.
func (w *WatermarkStore) Set(ctx context.Context, stream string, cur Cursor) error {
	_, err := w.db.Exec(ctx, `
		INSERT INTO analytics_watermarks (stream, watermark, record_id, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (stream) DO UPDATE
		SET watermark = EXCLUDED.watermark, record_id = EXCLUDED.record_id, updated_at = now()`,
		stream, cur.LastMutated.UTC(), cur.ID)
	if err != nil {
		return pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "write watermark")
	}
	return nil
}

// Reset deletes the stream's watermark so the next cycle starts from
// the beginning of time. Destructive; the CLI gates it behind --force.
func (w *WatermarkStore) Reset(ctx context.Context, stream string) error {
	_, err := w.db.Exec(ctx,
		`DELETE FROM analytics_watermarks WHERE stream = $1`, stream)
	if err != nil {
		return pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "reset watermark")
	}
	return nil
}
