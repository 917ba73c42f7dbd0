// Package backfill migrates historical operational records into the
// analytical store in calendar-month chunks. Chunk completion is the
// unit of resumability: a failed run resumes from the last persisted
// cursor, never from the range start.
package backfill

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/linksmith/chrono-scraper-sub007/internal/opstore"
	"github.com/linksmith/chrono-scraper-sub007/internal/transform"
	"github.com/linksmith/chrono-scraper-sub007/pkg/columnar"
	"github.com/linksmith/chrono-scraper-sub007/pkg/metrics"
	"github.com/linksmith/chrono-scraper-sub007/pkg/models"
	"github.com/linksmith/chrono-scraper-sub007/pkg/pipeerrors"
	"github.com/linksmith/chrono-scraper-sub007/pkg/store"
)

// DefaultJob is the job key under which the single backfill run is
// persisted.
const DefaultJob = "backfill"

// RecordReader pages through the operational table.
type RecordReader interface {
	ReadPage(ctx context.Context, after opstore.Cursor, upper *time.Time, limit int) ([]models.OperationalRecord, error)
	MutationBounds(ctx context.Context) (min, max time.Time, ok bool, err error)
}

// StateStore persists the job cursor.
type StateStore interface {
	Get(ctx context.Context, job string) (opstore.BackfillState, error)
	Put(ctx context.Context, st opstore.BackfillState) error
}

// PageWriter commits transformed records into the analytical store.
type PageWriter interface {
	WritePages(recs []models.AnalyticalRecord, opts columnar.Options) (store.WriteResult, error)
}

// Migrator drives a one-shot, resumable historical backfill.
type Migrator struct {
	reader   RecordReader
	state    StateStore
	writer   PageWriter
	opts     columnar.Options
	pageSize int
	job      string
	log      *zap.Logger
}

// New creates a migrator.
func New(reader RecordReader, state StateStore, writer PageWriter, opts columnar.Options, pageSize int, log *zap.Logger) *Migrator {
	if pageSize <= 0 {
		pageSize = 5000
	}
	return &Migrator{
		reader:   reader,
		state:    state,
		writer:   writer,
		opts:     opts,
		pageSize: pageSize,
		job:      DefaultJob,
		log:      log.Named("backfill"),
	}
}

// Start begins a backfill over [from, to). Zero bounds are derived
// from the operational table's mutation range. Starting a job that
// already completed is rejected; use Resume for interrupted runs.
func (m *Migrator) Start(ctx context.Context, from, to time.Time) error {
	st, err := m.state.Get(ctx, m.job)
	if err != nil {
		return err
	}
	if st.Status == opstore.BackfillRunning || st.Status == opstore.BackfillCompleted {
		return pipeerrors.Newf(pipeerrors.ErrorTypeValidation,
			"backfill job is %s; use resume for interrupted runs", st.Status)
	}

	if from.IsZero() || to.IsZero() {
		lo, hi, ok, err := m.reader.MutationBounds(ctx)
		if err != nil {
			return err
		}
		if !ok {
			m.log.Info("operational table is empty, nothing to backfill")
			return m.state.Put(ctx, opstore.BackfillState{
				Job: m.job, Status: opstore.BackfillCompleted,
			})
		}
		if from.IsZero() {
			from = lo
		}
		if to.IsZero() {
			to = hi.Add(time.Nanosecond) // upper bound is exclusive
		}
	}
	if !to.After(from) {
		return pipeerrors.Newf(pipeerrors.ErrorTypeValidation,
			"backfill range end %s not after start %s", to, from)
	}

	st = opstore.BackfillState{
		Job:    m.job,
		Status: opstore.BackfillRunning,
		From:   from.UTC(),
		To:     to.UTC(),
		Cursor: from.UTC(),
	}
	if err := m.state.Put(ctx, st); err != nil {
		return err
	}
	return m.run(ctx, st)
}

// Resume continues an interrupted or failed run from its persisted
// cursor.
func (m *Migrator) Resume(ctx context.Context) error {
	st, err := m.state.Get(ctx, m.job)
	if err != nil {
		return err
	}
	switch st.Status {
	case opstore.BackfillRunning, opstore.BackfillFailed:
	case opstore.BackfillCompleted:
		m.log.Info("backfill already completed")
		return nil
	default:
		return pipeerrors.New(pipeerrors.ErrorTypeValidation,
			"no backfill run to resume; use start")
	}

	st.Status = opstore.BackfillRunning
	st.LastError = ""
	if err := m.state.Put(ctx, st); err != nil {
		return err
	}
	return m.run(ctx, st)
}

// Status returns the persisted job state.
func (m *Migrator) Status(ctx context.Context) (opstore.BackfillState, error) {
	return m.state.Get(ctx, m.job)
}

// run processes chunks from the cursor to the range end. Each chunk is
// fully read, transformed and written before the cursor advances;
// cancellation is honored at chunk boundaries only.
func (m *Migrator) run(ctx context.Context, st opstore.BackfillState) error {
	for st.Cursor.Before(st.To) {
		if err := ctx.Err(); err != nil {
			return m.fail(st, pipeerrors.Wrap(err, pipeerrors.ErrorTypeTimeout, "backfill canceled"))
		}

		chunkEnd := nextMonthStart(st.Cursor)
		if chunkEnd.After(st.To) {
			chunkEnd = st.To
		}
		chunkID := st.Cursor.Format("2006-01")

		rows, err := m.processChunk(ctx, st.Cursor, chunkEnd)
		if err != nil {
			metrics.BackfillChunks.WithLabelValues("failed").Inc()
			return m.fail(st, pipeerrors.Wrap(err, pipeerrors.TypeOf(err), "backfill chunk "+chunkID))
		}
		metrics.BackfillChunks.WithLabelValues("completed").Inc()

		st.Cursor = chunkEnd
		st.ChunksDone++
		if err := m.state.Put(ctx, st); err != nil {
			return err
		}
		m.log.Info("backfill chunk committed",
			zap.String("chunk", chunkID),
			zap.Int64("rows", rows),
			zap.Time("cursor", st.Cursor))
	}

	st.Status = opstore.BackfillCompleted
	if err := m.state.Put(ctx, st); err != nil {
		return err
	}
	m.log.Info("backfill completed", zap.Int("chunks", st.ChunksDone))
	return nil
}

// processChunk reads every record in [lo, hi), transforms and writes
// them. Operational IDs are positive, so a cursor at (lo, 0) includes
// rows mutated exactly at the chunk start.
func (m *Migrator) processChunk(ctx context.Context, lo, hi time.Time) (int64, error) {
	after := opstore.Cursor{LastMutated: lo}
	var chunk []models.OperationalRecord
	for {
		page, err := m.reader.ReadPage(ctx, after, &hi, m.pageSize)
		if err != nil {
			return 0, err
		}
		if len(page) == 0 {
			break
		}
		chunk = append(chunk, page...)
		last := page[len(page)-1]
		after = opstore.Cursor{LastMutated: last.LastMutated, ID: last.ID}
		if len(page) < m.pageSize {
			break
		}
	}
	if len(chunk) == 0 {
		return 0, nil
	}

	res, err := m.writer.WritePages(transform.Records(chunk), m.opts)
	if err != nil {
		return 0, err
	}
	return res.Rows, nil
}

func (m *Migrator) fail(st opstore.BackfillState, cause error) error {
	st.Status = opstore.BackfillFailed
	st.LastError = cause.Error()
	// Persist with a fresh context so cancellation does not lose the cursor.
	pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if perr := m.state.Put(pctx, st); perr != nil {
		m.log.Error("persisting failed backfill state", zap.Error(perr))
	}
	return cause
}

func nextMonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
