package compact

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/linksmith/chrono-scraper-sub007/pkg/partition"
)

// Summary is the downsampled replacement for an expired partition. It
// preserves the aggregates queries care about after the row-level data
// is gone.
type Summary struct {
	Partition   string    `json:"partition"`
	Rows        int64     `json:"rows"`
	Bytes       int64     `json:"bytes"`
	Successes   int64     `json:"successes"`
	Errors      int64     `json:"errors"`
	AvgQuality  float64   `json:"avg_quality"`
	MinMutation time.Time `json:"min_mutation"`
	MaxMutation time.Time `json:"max_mutation"`
	CreatedAt   time.Time `json:"created_at"`
}

// Downsample replaces every page partition whose day is older than
// cutoff with a compressed summary. Runs only when invoked explicitly;
// there is no automatic retention.
func (m *Manager) Downsample(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := m.st.Partitions(partition.DatasetPages)
	if err != nil {
		return 0, err
	}

	var done int
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if !key.DayStart().Before(cutoff) || m.st.HasSummary(key) {
			continue
		}

		man, err := m.st.Snapshot(key)
		if err != nil {
			return done, err
		}
		if len(man.Files) == 0 {
			continue
		}

		recs, err := m.readPages(ctx, key, man)
		if err != nil {
			return done, err
		}

		sum := Summary{
			Partition: key.Path(),
			Rows:      int64(len(recs)),
			Bytes:     man.TotalBytes(),
			CreatedAt: m.now().UTC(),
		}
		var quality float64
		for _, r := range recs {
			if r.IsSuccess {
				sum.Successes++
			}
			if r.IsError {
				sum.Errors++
			}
			quality += r.QualityScore
			if sum.MinMutation.IsZero() || r.LastMutated.Before(sum.MinMutation) {
				sum.MinMutation = r.LastMutated
			}
			if r.LastMutated.After(sum.MaxMutation) {
				sum.MaxMutation = r.LastMutated
			}
		}
		if len(recs) > 0 {
			sum.AvgQuality = quality / float64(len(recs))
		}

		if err := m.st.Summarize(key, man.Generation, sum); err != nil {
			return done, err
		}
		done++
		m.log.Info("partition downsampled",
			zap.String("partition", key.Path()),
			zap.Int64("rows", sum.Rows))
	}
	return done, nil
}
