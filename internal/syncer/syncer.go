// Package syncer is the watermark-driven incremental sync engine. One
// cycle reads operational records after the stream's (last_mutated, id)
// cursor, writes them to the analytical store, then advances the
// cursor to the last record written. The id component breaks timestamp
// ties so a quiescent table yields an empty cycle instead of re-reading
// the rows at the watermark. Only one instance runs per stream,
// enforced by an expiring database lease.
package syncer

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/linksmith/chrono-scraper-sub007/internal/opstore"
	"github.com/linksmith/chrono-scraper-sub007/internal/transform"
	"github.com/linksmith/chrono-scraper-sub007/pkg/columnar"
	"github.com/linksmith/chrono-scraper-sub007/pkg/config"
	"github.com/linksmith/chrono-scraper-sub007/pkg/metrics"
	"github.com/linksmith/chrono-scraper-sub007/pkg/models"
	"github.com/linksmith/chrono-scraper-sub007/pkg/pipeerrors"
	"github.com/linksmith/chrono-scraper-sub007/pkg/retry"
	"github.com/linksmith/chrono-scraper-sub007/pkg/store"
)

// Outcome classifies a sync cycle for operators and metrics.
type Outcome string

const (
	OutcomeSynced    Outcome = "synced"
	OutcomeEmpty     Outcome = "empty"
	OutcomeLeaseHeld Outcome = "lease_held"
	OutcomeFailed    Outcome = "failed"
)

// RecordReader pages through the operational table.
type RecordReader interface {
	ReadPage(ctx context.Context, after opstore.Cursor, upper *time.Time, limit int) ([]models.OperationalRecord, error)
}

// Watermarks persists the per-stream sync cursor.
type Watermarks interface {
	Get(ctx context.Context, stream string) (opstore.Cursor, bool, error)
	Set(ctx context.Context, stream string, cur opstore.Cursor) error
}

// Leases enforces single-writer cycles.
type Leases interface {
	Acquire(ctx context.Context, stream, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, stream, holder string) error
}

// PageWriter commits transformed records.
type PageWriter interface {
	WritePages(recs []models.AnalyticalRecord, opts columnar.Options) (store.WriteResult, error)
}

// CycleResult reports what one cycle did.
type CycleResult struct {
	Outcome   Outcome
	Rows      int64
	Files     int
	Watermark time.Time
}

// Engine runs sync cycles for one stream.
type Engine struct {
	reader     RecordReader
	watermarks Watermarks
	leases     Leases
	writer     PageWriter
	opts       columnar.Options
	cfg        config.SyncConfig
	holder     string
	policy     *retry.Policy
	log        *zap.Logger
}

// New creates an engine. The holder identity is derived from the
// hostname and pid so concurrent deployments are distinguishable in
// the lease table.
func New(reader RecordReader, watermarks Watermarks, leases Leases, writer PageWriter, opts columnar.Options, cfg config.SyncConfig, log *zap.Logger) *Engine {
	host, _ := os.Hostname()
	policy := retry.DefaultPolicy()
	if cfg.RetryAttempts > 0 {
		policy.MaxAttempts = cfg.RetryAttempts
	}
	if cfg.RetryDelay > 0 {
		policy.InitialDelay = cfg.RetryDelay
	}
	return &Engine{
		reader:     reader,
		watermarks: watermarks,
		leases:     leases,
		writer:     writer,
		opts:       opts,
		cfg:        cfg,
		holder:     fmt.Sprintf("%s-%d", host, os.Getpid()),
		policy:     policy,
		log:        log.Named("syncer").With(zap.String("stream", cfg.Stream)),
	}
}

// Run loops RunOnce on the configured interval until the context is
// canceled. Cycle failures are logged and retried next tick.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := e.RunOnce(ctx); err != nil {
			e.log.Error("sync cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single sync cycle. A held lease is a no-op, not
// an error. The cursor advances only after every record in the cycle
// is durably written, and always to the (last_mutated, id) of the last
// record written, never to wall clock time.
func (e *Engine) RunOnce(ctx context.Context) (CycleResult, error) {
	ok, err := e.leases.Acquire(ctx, e.cfg.Stream, e.holder, e.cfg.LeaseTTL)
	if err != nil {
		metrics.SyncCycles.WithLabelValues(string(OutcomeFailed)).Inc()
		return CycleResult{Outcome: OutcomeFailed}, err
	}
	if !ok {
		e.log.Debug("sync lease held elsewhere, skipping cycle")
		metrics.SyncCycles.WithLabelValues(string(OutcomeLeaseHeld)).Inc()
		return CycleResult{Outcome: OutcomeLeaseHeld}, nil
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rerr := e.leases.Release(rctx, e.cfg.Stream, e.holder); rerr != nil {
			e.log.Warn("releasing sync lease", zap.Error(rerr))
		}
	}()

	res, err := e.cycle(ctx)
	metrics.SyncCycles.WithLabelValues(string(res.Outcome)).Inc()
	if err == nil && !res.Watermark.IsZero() {
		metrics.WatermarkAge.WithLabelValues(e.cfg.Stream).Set(time.Since(res.Watermark).Seconds())
	}
	return res, err
}

func (e *Engine) cycle(ctx context.Context) (CycleResult, error) {
	cur, _, err := e.watermarks.Get(ctx, e.cfg.Stream)
	if err != nil {
		return CycleResult{Outcome: OutcomeFailed}, err
	}

	page, err := e.reader.ReadPage(ctx, cur, nil, e.cfg.PageSize)
	if err != nil {
		return CycleResult{Outcome: OutcomeFailed}, err
	}
	if len(page) == 0 {
		return CycleResult{Outcome: OutcomeEmpty, Watermark: cur.LastMutated}, nil
	}

	// Within one cycle only the latest state per record ID is
	// authoritative; earlier mutations of the same row would be
	// immediately superseded.
	deduped := latestPerID(page)
	recs := transform.Records(deduped)

	var wres store.WriteResult
	err = e.policy.ExecuteIf(ctx, func() error {
		var werr error
		wres, werr = e.writer.WritePages(recs, e.opts)
		return werr
	}, pipeerrors.IsRetryable)
	if err != nil {
		metrics.RecordsSynced.WithLabelValues(e.cfg.Stream, "failure").Add(float64(len(deduped)))
		return CycleResult{Outcome: OutcomeFailed}, err
	}

	last := page[len(page)-1]
	next := opstore.Cursor{LastMutated: last.LastMutated.UTC(), ID: last.ID}
	if err := e.watermarks.Set(ctx, e.cfg.Stream, next); err != nil {
		return CycleResult{Outcome: OutcomeFailed}, err
	}

	metrics.RecordsSynced.WithLabelValues(e.cfg.Stream, "success").Add(float64(len(deduped)))
	e.log.Info("sync cycle committed",
		zap.Int("rows", len(deduped)),
		zap.Int("files", wres.Files),
		zap.Time("watermark", next.LastMutated),
		zap.Int64("watermark_id", next.ID))
	return CycleResult{
		Outcome:   OutcomeSynced,
		Rows:      wres.Rows,
		Files:     wres.Files,
		Watermark: next.LastMutated,
	}, nil
}

// latestPerID keeps, per record ID, the row with the greatest
// last_mutated, preserving the page's (last_mutated, id) order for the
// survivors.
func latestPerID(page []models.OperationalRecord) []models.OperationalRecord {
	latest := make(map[int64]time.Time, len(page))
	for _, r := range page {
		if t, ok := latest[r.ID]; !ok || r.LastMutated.After(t) {
			latest[r.ID] = r.LastMutated
		}
	}
	out := make([]models.OperationalRecord, 0, len(page))
	seen := make(map[int64]bool, len(latest))
	for _, r := range page {
		if r.LastMutated.Equal(latest[r.ID]) && !seen[r.ID] {
			out = append(out, r)
			seen[r.ID] = true
		}
	}
	return out
}
