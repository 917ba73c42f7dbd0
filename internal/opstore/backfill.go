package opstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/linksmith/chrono-scraper-sub007/pkg/pipeerrors"
)

// Backfill job statuses.
const (
	BackfillNotStarted = "not_started"
	BackfillRunning    = "running"
	BackfillCompleted  = "completed"
	BackfillFailed     = "failed"
)

// BackfillState is the persisted cursor of one backfill job. Cursor is
// the exclusive lower bound of the next chunk; chunk completion is the
// unit of resumability.
type BackfillState struct {
	Job        string
	Status     string
	From       time.Time
	To         time.Time
	Cursor     time.Time
	ChunksDone int
	LastError  string
	UpdatedAt  time.Time
}

// BackfillStateStore persists backfill job state.
type BackfillStateStore struct {
	db DB
}

// NewBackfillStateStore creates a backfill state store.
func NewBackfillStateStore(db DB) *BackfillStateStore {
	return &BackfillStateStore{db: db}
}

// Get returns the job's persisted state, or a NotStarted zero state
// when the job has never run.
func (b *BackfillStateStore) Get(ctx context.Context, job string) (BackfillState, error) {
	st := BackfillState{Job: job, Status: BackfillNotStarted}
	var lastError *string
	err := b.db.QueryRow(ctx, `
		SELECT status, range_from, range_to, cursor, chunks_done, last_error, updated_at
		FROM analytics_backfill_state WHERE job = $1`, job).
		Scan(&st.Status, &st.From, &st.To, &st.Cursor, &st.ChunksDone, &lastError, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "read backfill state")
	}
	if lastError != nil {
		st.LastError = *lastError
	}
	return st, nil
}

// Put upserts the job's state.
func (b *BackfillStateStore) Put(ctx context.Context, st BackfillState) error {
	var lastError *string
	if st.LastError != "" {
		lastError = &st.LastError
	}
	_, err := b.db.Exec(ctx, `
		INSERT INTO analytics_backfill_state
			(job, status, range_from, range_to, cursor, chunks_done, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (job) DO UPDATE SET
			status = EXCLUDED.status,
			range_from = EXCLUDED.range_from,
			range_to = EXCLUDED.range_to,
			cursor = EXCLUDED.cursor,
			chunks_done = EXCLUDED.chunks_done,
			last_error = EXCLUDED.last_error,
			updated_at = now()`,
		st.Job, st.Status, st.From.UTC(), st.To.UTC(), st.Cursor.UTC(),
		st.ChunksDone, lastError)
	if err != nil {
		return pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "write backfill state")
	}
	return nil
}
