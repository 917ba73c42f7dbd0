package compact

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linksmith/chrono-scraper-sub007/pkg/columnar"
	"github.com/linksmith/chrono-scraper-sub007/pkg/config"
	"github.com/linksmith/chrono-scraper-sub007/pkg/models"
	"github.com/linksmith/chrono-scraper-sub007/pkg/partition"
	"github.com/linksmith/chrono-scraper-sub007/pkg/store"
	"github.com/linksmith/chrono-scraper-sub007/pkg/testutil"
)

func testCompactionConfig() config.CompactionConfig {
	return config.CompactionConfig{
		Interval:             time.Minute,
		MaxFilesPerPartition: 8,
		SmallFileBytes:       0, // size heuristic off unless a test sets it
	}
}

func pageRec(id int64, mutated time.Time, status string) models.AnalyticalRecord {
	return models.AnalyticalRecord{
		RecordID:         id,
		LastMutated:      mutated,
		Date:             time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		SourceKind:       "web",
		ExtractionMethod: "css",
		FetchedAt:        mutated.Add(-time.Second),
		URL:              "https://example.org/",
		Status:           status,
		HTTPStatus:       200,
		IsSuccess:        status == models.StatusOK,
		IsError:          status == models.StatusFailed,
		SizeBucket:       models.SizeBucketSmall,
		QualityScore:     0.5,
	}
}

func pagesKey(t *testing.T) partition.Key {
	t.Helper()
	k, err := partition.ParsePath("pages/2024/01/15/method=css/source=web")
	require.NoError(t, err)
	return k
}

func TestCompactPartitionMergesAndDedups(t *testing.T) {
	st := store.New(t.TempDir())
	key := pagesKey(t)
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	// A sync batch and its replay: record 2 appears in both files, the
	// replay carrying a newer state.
	_, _, err := st.WriteBatch(key, store.PagePrefix, columnar.PageBatch{
		pageRec(1, base, models.StatusOK),
		pageRec(2, base.Add(time.Second), models.StatusFailed),
	}, columnar.DefaultOptions())
	require.NoError(t, err)

	_, _, err = st.WriteBatch(key, store.PagePrefix, columnar.PageBatch{
		pageRec(2, base.Add(5*time.Second), models.StatusOK),
		pageRec(3, base.Add(6*time.Second), models.StatusOK),
	}, columnar.DefaultOptions())
	require.NoError(t, err)

	m := New(st, testCompactionConfig(), columnar.DefaultOptions(), testutil.TestLogger(t))
	outcome, err := m.CompactPartition(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompacted, outcome)

	man, err := st.Snapshot(key)
	require.NoError(t, err)
	require.Len(t, man.Files, 1)
	assert.Equal(t, int64(3), man.Files[0].Rows)

	recs, err := columnar.ReadPages(context.Background(), st.FilePath(key, man.Files[0].Name))
	require.NoError(t, err)
	require.Len(t, recs, 3)

	// Record 2 survives with its newest state only.
	byID := map[int64]models.AnalyticalRecord{}
	for _, r := range recs {
		byID[r.RecordID] = r
	}
	assert.Equal(t, models.StatusOK, byID[2].Status)
	assert.True(t, byID[2].LastMutated.Equal(base.Add(5*time.Second)))
	assert.Contains(t, byID, int64(1))
	assert.Contains(t, byID, int64(3))

	// Exactly the compacted file and the manifest remain on disk.
	entries, err := os.ReadDir(st.Dir(key))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCompactSingleFileSkipped(t *testing.T) {
	st := store.New(t.TempDir())
	key := pagesKey(t)
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	_, _, err := st.WriteBatch(key, store.PagePrefix, columnar.PageBatch{
		pageRec(1, base, models.StatusOK),
	}, columnar.DefaultOptions())
	require.NoError(t, err)

	m := New(st, testCompactionConfig(), columnar.DefaultOptions(), testutil.TestLogger(t))
	outcome, err := m.CompactPartition(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
}

func TestScanFindsOverlappingRanges(t *testing.T) {
	st := store.New(t.TempDir())
	key := pagesKey(t)
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	// Disjoint ranges, few files, size heuristic off: healthy.
	_, _, err := st.WriteBatch(key, store.PagePrefix, columnar.PageBatch{
		pageRec(1, base, models.StatusOK),
	}, columnar.DefaultOptions())
	require.NoError(t, err)
	_, _, err = st.WriteBatch(key, store.PagePrefix, columnar.PageBatch{
		pageRec(2, base.Add(10*time.Second), models.StatusOK),
	}, columnar.DefaultOptions())
	require.NoError(t, err)

	m := New(st, testCompactionConfig(), columnar.DefaultOptions(), testutil.TestLogger(t))
	candidates, err := m.Scan(partition.DatasetPages)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	// A replayed batch overlaps the first file's range.
	_, _, err = st.WriteBatch(key, store.PagePrefix, columnar.PageBatch{
		pageRec(1, base, models.StatusOK),
	}, columnar.DefaultOptions())
	require.NoError(t, err)

	candidates, err = m.Scan(partition.DatasetPages)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, key.Path(), candidates[0].Path())
}

func TestScanFindsSmallFiles(t *testing.T) {
	st := store.New(t.TempDir())
	key := pagesKey(t)
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	_, _, err := st.WriteBatch(key, store.PagePrefix, columnar.PageBatch{
		pageRec(1, base, models.StatusOK),
	}, columnar.DefaultOptions())
	require.NoError(t, err)
	_, _, err = st.WriteBatch(key, store.PagePrefix, columnar.PageBatch{
		pageRec(2, base.Add(10*time.Second), models.StatusOK),
	}, columnar.DefaultOptions())
	require.NoError(t, err)

	cfg := testCompactionConfig()
	cfg.SmallFileBytes = 1 << 20 // every test file is tiny
	m := New(st, cfg, columnar.DefaultOptions(), testutil.TestLogger(t))

	candidates, err := m.Scan(partition.DatasetPages)
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestCompactEventsPartition(t *testing.T) {
	st := store.New(t.TempDir())
	ts := time.Date(2024, 1, 15, 7, 10, 0, 0, time.UTC)
	key, err := partition.ParsePath("events/2024/01/15/07/type=system.cpu")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, err := st.WriteBatch(key, store.EventPrefix, columnar.EventBatch{
			{Type: "system.cpu", Timestamp: ts.Add(time.Duration(i) * time.Minute), Source: "host-1"},
		}, columnar.DefaultOptions())
		require.NoError(t, err)
	}

	m := New(st, testCompactionConfig(), columnar.DefaultOptions(), testutil.TestLogger(t))
	outcome, err := m.CompactPartition(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompacted, outcome)

	man, err := st.Snapshot(key)
	require.NoError(t, err)
	require.Len(t, man.Files, 1)
	assert.Equal(t, int64(3), man.Files[0].Rows)
}

// A replayed event flush writes the same events twice. Compaction
// collapses exact duplicates; near-duplicates with differing payloads
// both survive.
func TestCompactEventsDropsExactDuplicates(t *testing.T) {
	st := store.New(t.TempDir())
	ts := time.Date(2024, 1, 15, 7, 10, 0, 0, time.UTC)
	key, err := partition.ParsePath("events/2024/01/15/07/type=system.cpu")
	require.NoError(t, err)

	ev := models.Event{
		Type:      "system.cpu",
		Timestamp: ts,
		Source:    "host-1",
		Payload:   map[string]interface{}{"percent": 42.5},
	}
	other := models.Event{
		Type:      "system.cpu",
		Timestamp: ts,
		Source:    "host-1",
		Payload:   map[string]interface{}{"percent": 43.0},
	}

	_, _, err = st.WriteBatch(key, store.EventPrefix, columnar.EventBatch{ev, other}, columnar.DefaultOptions())
	require.NoError(t, err)
	_, _, err = st.WriteBatch(key, store.EventPrefix, columnar.EventBatch{ev}, columnar.DefaultOptions())
	require.NoError(t, err)

	m := New(st, testCompactionConfig(), columnar.DefaultOptions(), testutil.TestLogger(t))
	outcome, err := m.CompactPartition(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompacted, outcome)

	man, err := st.Snapshot(key)
	require.NoError(t, err)
	require.Len(t, man.Files, 1)
	assert.Equal(t, int64(2), man.Files[0].Rows)

	evs, err := columnar.ReadEvents(context.Background(), st.FilePath(key, man.Files[0].Name))
	require.NoError(t, err)
	require.Len(t, evs, 2)
	percents := map[float64]bool{}
	for _, e := range evs {
		percents[e.Payload["percent"].(float64)] = true
	}
	assert.True(t, percents[42.5])
	assert.True(t, percents[43.0])
}

func TestDownsampleReplacesOldPartitions(t *testing.T) {
	st := store.New(t.TempDir())
	key := pagesKey(t)
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	_, _, err := st.WriteBatch(key, store.PagePrefix, columnar.PageBatch{
		pageRec(1, base, models.StatusOK),
		pageRec(2, base.Add(time.Second), models.StatusFailed),
	}, columnar.DefaultOptions())
	require.NoError(t, err)

	m := New(st, testCompactionConfig(), columnar.DefaultOptions(), testutil.TestLogger(t))

	// Cutoff before the partition's day: nothing to do.
	n, err := m.Downsample(context.Background(), key.DayStart().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, st.HasSummary(key))

	// Cutoff after: replaced by a summary.
	n, err = m.Downsample(context.Background(), key.DayStart().Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, st.HasSummary(key))

	var sum Summary
	require.NoError(t, st.ReadSummary(key, &sum))
	assert.Equal(t, int64(2), sum.Rows)
	assert.Equal(t, int64(1), sum.Successes)
	assert.Equal(t, int64(1), sum.Errors)
	assert.InDelta(t, 0.5, sum.AvgQuality, 1e-9)

	man, err := st.Snapshot(key)
	require.NoError(t, err)
	assert.Empty(t, man.Files)

	// Idempotent: a second pass skips the summarized partition.
	n, err = m.Downsample(context.Background(), key.DayStart().Add(48*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}
