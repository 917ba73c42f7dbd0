package columnar

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linksmith/chrono-scraper-sub007/pkg/models"
	"github.com/linksmith/chrono-scraper-sub007/pkg/pipeerrors"
)

func testRecord(id int64, mutated time.Time) models.AnalyticalRecord {
	return models.AnalyticalRecord{
		RecordID:         id,
		LastMutated:      mutated,
		Date:             time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		SourceKind:       "crawl",
		ExtractionMethod: "readability",
		FetchedAt:        mutated.Add(-time.Second),
		Year:             2024, Month: 1, Day: 15, Hour: 10, Weekday: 1,
		URL:            "https://example.org/a/b",
		Domain:         "example.org",
		TLD:            "org",
		PathDepth:      2,
		HasQueryParams: false,
		URLParseOK:     true,
		Status:         models.StatusOK,
		HTTPStatus:     200,
		IsSuccess:      true,
		ContentType:    "text/html",
		ContentLength:  2048,
		SizeBucket:     models.SizeBucketSmall,
		QualityScore:   0.7,
		PriorityScore:  0.3,
	}
}

func TestWriteFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	batch := PageBatch{
		testRecord(1, base),
		testRecord(2, base.Add(3*time.Second)),
		testRecord(3, base.Add(9*time.Second)),
	}

	res, err := WriteFile(dir, "pages", batch, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Rows)
	assert.Positive(t, res.Bytes)
	assert.Equal(t, base, res.MinLastMutated)
	assert.Equal(t, base.Add(9*time.Second), res.MaxLastMutated)

	got, err := ReadPages(context.Background(), filepath.Join(dir, res.Name))
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, batch[0].RecordID, got[0].RecordID)
	assert.True(t, got[0].LastMutated.Equal(base))
	assert.Equal(t, "example.org", got[0].Domain)
	assert.Equal(t, "org", got[0].TLD)
	assert.Equal(t, int32(2), got[0].PathDepth)
	assert.True(t, got[0].IsSuccess)
	assert.Equal(t, models.SizeBucketSmall, got[0].SizeBucket)
	assert.InDelta(t, 0.7, got[0].QualityScore, 1e-9)

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, res.Name, entries[0].Name())
}

func TestWriteFileMultipleRowGroups(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	batch := make(PageBatch, 0, 5)
	for i := int64(1); i <= 5; i++ {
		batch = append(batch, testRecord(i, base.Add(time.Duration(i)*time.Second)))
	}
	opts := DefaultOptions()
	opts.RowGroupSize = 2

	res, err := WriteFile(dir, "pages", batch, opts)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Rows)

	// The finished file is in place under its final name and survives
	// the writer teardown intact.
	got, err := ReadPages(context.Background(), filepath.Join(dir, res.Name))
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, r := range got {
		assert.Equal(t, int64(i+1), r.RecordID)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestWriteFileEmptyBatch(t *testing.T) {
	_, err := WriteFile(t.TempDir(), "pages", PageBatch{}, DefaultOptions())
	require.Error(t, err)
	assert.True(t, pipeerrors.IsType(err, pipeerrors.ErrorTypeValidation))
}

func TestWriteFileUniqueNames(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	batch := PageBatch{testRecord(1, base)}

	a, err := WriteFile(dir, "pages", batch, DefaultOptions())
	require.NoError(t, err)
	b, err := WriteFile(dir, "pages", batch, DefaultOptions())
	require.NoError(t, err)

	// Same content, same range tag, still distinct files.
	assert.NotEqual(t, a.Name, b.Name)
}

func TestFileNameRangeTag(t *testing.T) {
	lo := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	hi := lo.Add(9 * time.Second)

	name := fileName("pages", lo, hi)
	gotLo, gotHi, ok := ParseMutationRange(name)
	require.True(t, ok)
	assert.True(t, gotLo.Equal(lo))
	assert.True(t, gotHi.Equal(hi))

	_, _, ok = ParseMutationRange(fileName("events", time.Time{}, time.Time{}))
	assert.False(t, ok)
}

func TestEventRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2024, 1, 15, 7, 30, 0, 0, time.UTC)

	batch := EventBatch{
		{Type: "system.cpu", Timestamp: ts, Source: "host-1", Payload: map[string]interface{}{"percent": 12.5}},
		{Type: "system.mem", Timestamp: ts.Add(time.Second), Source: "host-1"},
	}

	res, err := WriteFile(dir, "events", batch, DefaultOptions())
	require.NoError(t, err)

	got, err := ReadEvents(context.Background(), filepath.Join(dir, res.Name))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "system.cpu", got[0].Type)
	assert.True(t, got[0].Timestamp.Equal(ts))
	require.NotNil(t, got[0].Payload)
	assert.InDelta(t, 12.5, got[0].Payload["percent"].(float64), 1e-9)
	assert.Nil(t, got[1].Payload)
}

func TestReadColumnsProjection(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	batch := PageBatch{testRecord(1, base), testRecord(2, base.Add(time.Second))}

	res, err := WriteFile(dir, "pages", batch, DefaultOptions())
	require.NoError(t, err)

	rows, err := ReadColumns(context.Background(), filepath.Join(dir, res.Name),
		[]string{"record_id", "is_success"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Len(t, rows[0], 2)
	assert.Equal(t, int64(1), rows[0]["record_id"])
	assert.Equal(t, true, rows[0]["is_success"])

	_, err = ReadColumns(context.Background(), filepath.Join(dir, res.Name), []string{"no_such"})
	require.Error(t, err)
	assert.True(t, pipeerrors.IsType(err, pipeerrors.ErrorTypeQuery))
}
