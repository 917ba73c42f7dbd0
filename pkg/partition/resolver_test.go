package partition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linksmith/chrono-scraper-sub007/pkg/models"
)

func pageRecord(day time.Time, source, method string) *models.AnalyticalRecord {
	return &models.AnalyticalRecord{
		Date:             day,
		SourceKind:       source,
		ExtractionMethod: method,
	}
}

func TestPageKeyDeterministic(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	rec := pageRecord(day, "crawl", "readability")

	k1 := PageKey(rec)
	k2 := PageKey(rec)
	assert.Equal(t, k1.Path(), k2.Path())
	assert.Equal(t, "pages/2024/01/15/method=readability/source=crawl", k1.Path())
}

func TestPageKeyNormalizesCategories(t *testing.T) {
	day := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	k := PageKey(pageRecord(day, "Web Crawl", ""))
	assert.Equal(t, "pages/2024/03/02/method=unknown/source=web-crawl", k.Path())
}

func TestEventKeyHourly(t *testing.T) {
	ev := &models.Event{
		Type:      "system.cpu",
		Timestamp: time.Date(2024, 1, 15, 7, 42, 11, 0, time.UTC),
	}
	assert.Equal(t, "events/2024/01/15/07/type=system.cpu", EventKey(ev).Path())
}

func TestParsePathRoundTrip(t *testing.T) {
	cases := []string{
		"pages/2024/01/15/method=css/source=web",
		"pages/2024/12/31/method=unknown/source=unknown",
		"events/2024/01/15/07/type=system.cpu",
	}
	for _, p := range cases {
		k, err := ParsePath(p)
		require.NoError(t, err, p)
		assert.Equal(t, p, k.Path())
	}
}

func TestParsePathRejectsGarbage(t *testing.T) {
	for _, p := range []string{
		"pages",
		"unknown/2024/01/15",
		"pages/2024/13/01",
		"pages/2024/01/15/noequalsign",
		"events/2024/01/15/method=css", // events need an hour
	} {
		_, err := ParsePath(p)
		assert.Error(t, err, p)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "readability", Normalize("Readability"))
	assert.Equal(t, "a-b", Normalize("a/b"))
	assert.Equal(t, models.UnknownCategory, Normalize(""))
	assert.Equal(t, models.UnknownCategory, Normalize("///"))
	assert.Equal(t, "v1.2_x", Normalize(" V1.2_x "))
}

func TestDayPrefixes(t *testing.T) {
	from := time.Date(2024, 1, 30, 10, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 2, 3, 0, 0, 0, time.UTC)

	got := DayPrefixes(DatasetPages, from, to)
	assert.Equal(t, []string{
		"pages/2024/01/30",
		"pages/2024/01/31",
		"pages/2024/02/01",
		"pages/2024/02/02",
	}, got)

	assert.Nil(t, DayPrefixes(DatasetPages, to, from))
}

func TestFiltersMatch(t *testing.T) {
	k, err := ParsePath("pages/2024/01/15/method=css/source=web")
	require.NoError(t, err)

	assert.True(t, Filters{}.Match(k))
	assert.True(t, Filters{"source": {"Web"}}.Match(k))
	assert.True(t, Filters{"source": {"api", "web"}, "method": {"css"}}.Match(k))
	assert.False(t, Filters{"source": {"api"}}.Match(k))
	assert.False(t, Filters{"type": {"x"}}.Match(k))
}

func TestDayStart(t *testing.T) {
	k, err := ParsePath("pages/2024/01/15/method=css/source=web")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), k.DayStart())
}
