package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linksmith/chrono-scraper-sub007/pkg/columnar"
	"github.com/linksmith/chrono-scraper-sub007/pkg/models"
	"github.com/linksmith/chrono-scraper-sub007/pkg/partition"
	"github.com/linksmith/chrono-scraper-sub007/pkg/pipeerrors"
)

func testKey(t *testing.T) partition.Key {
	t.Helper()
	k, err := partition.ParsePath("pages/2024/01/15/method=css/source=web")
	require.NoError(t, err)
	return k
}

func testBatch(base time.Time, ids ...int64) columnar.PageBatch {
	recs := make([]models.AnalyticalRecord, 0, len(ids))
	for i, id := range ids {
		recs = append(recs, models.AnalyticalRecord{
			RecordID:         id,
			LastMutated:      base.Add(time.Duration(i) * time.Second),
			Date:             time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			SourceKind:       "web",
			ExtractionMethod: "css",
			FetchedAt:        base,
			URL:              "https://example.org/",
			Status:           models.StatusOK,
			HTTPStatus:       200,
			IsSuccess:        true,
			SizeBucket:       models.SizeBucketSmall,
		})
	}
	return recs
}

func TestAppendAndSnapshot(t *testing.T) {
	st := New(t.TempDir())
	key := testKey(t)
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	man, err := st.Snapshot(key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), man.Generation)
	assert.Empty(t, man.Files)

	res, gen, err := st.WriteBatch(key, PagePrefix, testBatch(base, 1, 2), columnar.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)

	man, err = st.Snapshot(key)
	require.NoError(t, err)
	require.Len(t, man.Files, 1)
	assert.Equal(t, res.Name, man.Files[0].Name)
	assert.Equal(t, int64(2), man.Files[0].Rows)
	assert.Equal(t, int64(2), man.TotalRows())
}

// A data file becomes visible only through the manifest: files present
// on disk but not committed must be invisible to readers.
func TestUncommittedFileInvisible(t *testing.T) {
	st := New(t.TempDir())
	key := testKey(t)
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	_, err := columnar.WriteFile(st.Dir(key), PagePrefix, testBatch(base, 1), columnar.DefaultOptions())
	require.NoError(t, err)

	man, err := st.Snapshot(key)
	require.NoError(t, err)
	assert.Empty(t, man.Files)

	keys, err := st.Partitions(partition.DatasetPages)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSwapReplacesFilesAndRemovesOld(t *testing.T) {
	st := New(t.TempDir())
	key := testKey(t)
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	_, _, err := st.WriteBatch(key, PagePrefix, testBatch(base, 1), columnar.DefaultOptions())
	require.NoError(t, err)
	old, gen, err := st.WriteBatch(key, PagePrefix, testBatch(base, 2), columnar.DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, int64(2), gen)

	merged, err := columnar.WriteFile(st.Dir(key), PagePrefix, testBatch(base, 1, 2), columnar.DefaultOptions())
	require.NoError(t, err)

	man, err := st.Swap(key, 2, []columnar.FileResult{merged})
	require.NoError(t, err)
	assert.Equal(t, int64(3), man.Generation)
	require.Len(t, man.Files, 1)
	assert.Equal(t, merged.Name, man.Files[0].Name)

	// Old files are gone, the replacement and manifest remain.
	_, err = os.Stat(filepath.Join(st.Dir(key), old.Name))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(st.Dir(key), merged.Name))
	assert.NoError(t, err)
}

func TestSwapGenerationConflict(t *testing.T) {
	st := New(t.TempDir())
	key := testKey(t)
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	_, _, err := st.WriteBatch(key, PagePrefix, testBatch(base, 1), columnar.DefaultOptions())
	require.NoError(t, err)

	repl, err := columnar.WriteFile(st.Dir(key), PagePrefix, testBatch(base, 1), columnar.DefaultOptions())
	require.NoError(t, err)

	// Stale generation: someone appended after our snapshot.
	_, err = st.Swap(key, 0, []columnar.FileResult{repl})
	require.Error(t, err)
	assert.True(t, pipeerrors.IsType(err, pipeerrors.ErrorTypeCompactionConflict))

	// Partition untouched, and the uncommitted replacement is cleaned
	// up rather than left behind.
	man, err := st.Snapshot(key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), man.Generation)
	require.Len(t, man.Files, 1)
	assert.NotEqual(t, repl.Name, man.Files[0].Name)
	_, err = os.Stat(filepath.Join(st.Dir(key), repl.Name))
	assert.True(t, os.IsNotExist(err))
}

// An Append that fails after the data file was written must not leave
// the file behind: nothing references it and nothing ever will.
func TestWriteBatchCleansUpOnCommitFailure(t *testing.T) {
	st := New(t.TempDir())
	key := testKey(t)
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	require.NoError(t, os.MkdirAll(st.Dir(key), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(st.Dir(key), ManifestName), []byte("{not json"), 0o644))

	_, _, err := st.WriteBatch(key, PagePrefix, testBatch(base, 1), columnar.DefaultOptions())
	require.Error(t, err)

	entries, err := os.ReadDir(st.Dir(key))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ManifestName, entries[0].Name())
}

func TestWritePagesGroupsByPartition(t *testing.T) {
	st := New(t.TempDir())
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	recs := []models.AnalyticalRecord{
		{RecordID: 1, Date: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), SourceKind: "web", ExtractionMethod: "css", LastMutated: base, FetchedAt: base, Status: models.StatusOK, SizeBucket: models.SizeBucketTiny},
		{RecordID: 2, Date: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), SourceKind: "api", ExtractionMethod: "css", LastMutated: base, FetchedAt: base, Status: models.StatusOK, SizeBucket: models.SizeBucketTiny},
		{RecordID: 3, Date: time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC), SourceKind: "web", ExtractionMethod: "css", LastMutated: base, FetchedAt: base, Status: models.StatusOK, SizeBucket: models.SizeBucketTiny},
	}

	res, err := st.WritePages(recs, columnar.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Files)
	assert.Equal(t, int64(3), res.Rows)

	keys, err := st.Partitions(partition.DatasetPages)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.Equal(t, "pages/2024/01/15/method=css/source=api", keys[0].Path())
	assert.Equal(t, "pages/2024/01/15/method=css/source=web", keys[1].Path())
	assert.Equal(t, "pages/2024/01/16/method=css/source=web", keys[2].Path())
}

func TestPartitionsWithin(t *testing.T) {
	st := New(t.TempDir())
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	recs := []models.AnalyticalRecord{
		{RecordID: 1, Date: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), SourceKind: "web", ExtractionMethod: "css", LastMutated: base, FetchedAt: base, Status: models.StatusOK, SizeBucket: models.SizeBucketTiny},
		{RecordID: 2, Date: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), SourceKind: "web", ExtractionMethod: "css", LastMutated: base, FetchedAt: base, Status: models.StatusOK, SizeBucket: models.SizeBucketTiny},
	}
	_, err := st.WritePages(recs, columnar.DefaultOptions())
	require.NoError(t, err)

	keys, err := st.PartitionsWithin([]string{"pages/2024/01/15", "pages/2024/01/16"})
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, 15, keys[0].Day)
}

func TestSummarize(t *testing.T) {
	st := New(t.TempDir())
	key := testKey(t)
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	old, _, err := st.WriteBatch(key, PagePrefix, testBatch(base, 1, 2, 3), columnar.DefaultOptions())
	require.NoError(t, err)

	type summary struct {
		Rows int64 `json:"rows"`
	}
	require.NoError(t, st.Summarize(key, 1, summary{Rows: 3}))
	assert.True(t, st.HasSummary(key))

	var got summary
	require.NoError(t, st.ReadSummary(key, &got))
	assert.Equal(t, int64(3), got.Rows)

	man, err := st.Snapshot(key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), man.Generation)
	assert.Empty(t, man.Files)

	_, err = os.Stat(filepath.Join(st.Dir(key), old.Name))
	assert.True(t, os.IsNotExist(err))

	// Stale generation is rejected.
	err = st.Summarize(key, 1, summary{})
	require.Error(t, err)
	assert.True(t, pipeerrors.IsType(err, pipeerrors.ErrorTypeCompactionConflict))
}
