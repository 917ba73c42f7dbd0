// Package compact maintains partition health: it rewrites fragmented
// partitions into fewer files, discards superseded duplicate records
// left behind by sync replays, and downsamples expired partitions into
// compressed summaries.
package compact

import (
	"context"
	"fmt"
	"sort"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/linksmith/chrono-scraper-sub007/pkg/columnar"
	"github.com/linksmith/chrono-scraper-sub007/pkg/config"
	"github.com/linksmith/chrono-scraper-sub007/pkg/metrics"
	"github.com/linksmith/chrono-scraper-sub007/pkg/models"
	"github.com/linksmith/chrono-scraper-sub007/pkg/partition"
	"github.com/linksmith/chrono-scraper-sub007/pkg/pipeerrors"
	"github.com/linksmith/chrono-scraper-sub007/pkg/store"
)

// Outcome classifies one partition compaction attempt.
type Outcome string

const (
	OutcomeCompacted Outcome = "compacted"
	OutcomeConflict  Outcome = "conflict"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// Manager scans partitions and compacts the ones that need it.
type Manager struct {
	st   *store.Store
	cfg  config.CompactionConfig
	opts columnar.Options
	log  *zap.Logger
	now  func() time.Time
}

// New creates a manager over an analytical store.
func New(st *store.Store, cfg config.CompactionConfig, opts columnar.Options, log *zap.Logger) *Manager {
	return &Manager{
		st:   st,
		cfg:  cfg,
		opts: opts,
		log:  log.Named("compact"),
		now:  time.Now,
	}
}

// Run compacts on the configured interval until the context is
// canceled. Conflicts and failures are logged and retried next pass.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Pass(ctx); err != nil {
				m.log.Error("compaction pass failed", zap.Error(err))
			}
		}
	}
}

// Pass scans both datasets and compacts every candidate once.
func (m *Manager) Pass(ctx context.Context) error {
	for _, ds := range []partition.Dataset{partition.DatasetPages, partition.DatasetEvents} {
		candidates, err := m.Scan(ds)
		if err != nil {
			return err
		}
		for _, key := range candidates {
			if err := ctx.Err(); err != nil {
				return err
			}
			outcome, err := m.CompactPartition(ctx, key)
			metrics.CompactionPasses.WithLabelValues(string(outcome)).Inc()
			if err != nil && outcome != OutcomeConflict {
				m.log.Error("compacting partition failed",
					zap.String("partition", key.Path()), zap.Error(err))
			}
		}
	}
	return nil
}

// Scan returns the partitions of a dataset that need compaction: too
// many files, undersized files, or files with overlapping mutation
// ranges (the signature of a replayed sync batch).
func (m *Manager) Scan(ds partition.Dataset) ([]partition.Key, error) {
	keys, err := m.st.Partitions(ds)
	if err != nil {
		return nil, err
	}

	var out []partition.Key
	for _, key := range keys {
		man, err := m.st.Snapshot(key)
		if err != nil {
			return nil, err
		}
		if m.needsCompaction(man) {
			out = append(out, key)
		}
	}
	return out, nil
}

func (m *Manager) needsCompaction(man *store.Manifest) bool {
	if len(man.Files) < 2 {
		return false
	}
	if len(man.Files) > m.cfg.MaxFilesPerPartition {
		return true
	}
	for _, f := range man.Files {
		if f.Bytes < m.cfg.SmallFileBytes {
			return true
		}
	}
	return overlapping(man.Files)
}

// overlapping reports whether any two files cover intersecting
// last_mutated ranges. Files without a recorded range count as
// overlapping everything.
func overlapping(files []store.FileEntry) bool {
	sorted := make([]store.FileEntry, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MinLastMutated.Before(sorted[j].MinLastMutated)
	})
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.MaxLastMutated.IsZero() || cur.MinLastMutated.IsZero() {
			return true
		}
		if !cur.MinLastMutated.After(prev.MaxLastMutated) {
			return true
		}
	}
	return false
}

// CompactPartition rewrites one partition into a single file. The swap
// is guarded by the manifest generation read at the start: if anything
// else mutated the partition in between, the pass aborts with a
// conflict and the next cycle retries. Superseded data files are
// removed only after the new manifest is durable.
func (m *Manager) CompactPartition(ctx context.Context, key partition.Key) (Outcome, error) {
	man, err := m.st.Snapshot(key)
	if err != nil {
		return OutcomeFailed, err
	}
	if len(man.Files) < 2 {
		return OutcomeSkipped, nil
	}
	gen := man.Generation

	var batch columnar.Batch
	switch key.Dataset {
	case partition.DatasetPages:
		recs, err := m.readPages(ctx, key, man)
		if err != nil {
			return OutcomeFailed, err
		}
		batch = columnar.PageBatch(dedupeRecords(recs))
	case partition.DatasetEvents:
		evs, err := m.readEvents(ctx, key, man)
		if err != nil {
			return OutcomeFailed, err
		}
		batch = columnar.EventBatch(dedupeEvents(evs))
	default:
		return OutcomeSkipped, nil
	}

	prefix := store.PagePrefix
	if key.Dataset == partition.DatasetEvents {
		prefix = store.EventPrefix
	}
	res, err := columnar.WriteFile(m.st.Dir(key), prefix, batch, m.opts)
	if err != nil {
		return OutcomeFailed, err
	}

	if _, err := m.st.Swap(key, gen, []columnar.FileResult{res}); err != nil {
		if pipeerrors.IsType(err, pipeerrors.ErrorTypeCompactionConflict) {
			m.log.Info("partition changed during compaction, will retry",
				zap.String("partition", key.Path()))
			return OutcomeConflict, err
		}
		return OutcomeFailed, err
	}

	m.log.Info("partition compacted",
		zap.String("partition", key.Path()),
		zap.Int("files_before", len(man.Files)),
		zap.Int64("rows", res.Rows))
	return OutcomeCompacted, nil
}

func (m *Manager) readPages(ctx context.Context, key partition.Key, man *store.Manifest) ([]models.AnalyticalRecord, error) {
	var out []models.AnalyticalRecord
	for _, f := range man.Files {
		recs, err := columnar.ReadPages(ctx, m.st.FilePath(key, f.Name))
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func (m *Manager) readEvents(ctx context.Context, key partition.Key, man *store.Manifest) ([]models.Event, error) {
	var out []models.Event
	for _, f := range man.Files {
		evs, err := columnar.ReadEvents(ctx, m.st.FilePath(key, f.Name))
		if err != nil {
			return nil, err
		}
		out = append(out, evs...)
	}
	return out, nil
}

// dedupeRecords keeps one row per record ID, the one with the greatest
// last_mutated. Output is sorted by (last_mutated, record_id) so
// rewrites are deterministic.
func dedupeRecords(recs []models.AnalyticalRecord) []models.AnalyticalRecord {
	best := make(map[int64]models.AnalyticalRecord, len(recs))
	for _, r := range recs {
		cur, ok := best[r.RecordID]
		if !ok || r.LastMutated.After(cur.LastMutated) {
			best[r.RecordID] = r
		}
	}
	out := make([]models.AnalyticalRecord, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMutated.Equal(out[j].LastMutated) {
			return out[i].LastMutated.Before(out[j].LastMutated)
		}
		return out[i].RecordID < out[j].RecordID
	})
	return out
}

// dedupeEvents collapses events that are identical in every field.
// Events have no primary key, so replayed flushes can only be detected
// by exact identity, payload included. Output is sorted by timestamp,
// then identity, for deterministic rewrites.
func dedupeEvents(evs []models.Event) []models.Event {
	type keyed struct {
		ev  models.Event
		key string
	}
	seen := make(map[string]struct{}, len(evs))
	out := make([]keyed, 0, len(evs))
	for _, ev := range evs {
		payload, err := gojson.Marshal(ev.Payload)
		if err != nil {
			payload = []byte(fmt.Sprintf("%v", ev.Payload))
		}
		k := fmt.Sprintf("%s\x00%d\x00%s\x00%s", ev.Type, ev.Timestamp.UnixNano(), ev.Source, payload)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, keyed{ev: ev, key: k})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ev.Timestamp.Equal(out[j].ev.Timestamp) {
			return out[i].ev.Timestamp.Before(out[j].ev.Timestamp)
		}
		return out[i].key < out[j].key
	})
	result := make([]models.Event, len(out))
	for i, k := range out {
		result[i] = k.ev
	}
	return result
}
