// Package transform derives analytical records from operational scrape
// rows. Every derivation is a pure, total function: malformed input
// produces fallback values, never an error and never a dropped record.
package transform

import (
	"net/url"
	"strings"
	"time"

	"github.com/linksmith/chrono-scraper-sub007/pkg/models"
	"github.com/linksmith/chrono-scraper-sub007/pkg/partition"
)

// Record projects one operational record into the analytical schema.
func Record(op *models.OperationalRecord) models.AnalyticalRecord {
	fetched := op.FetchedAt.UTC()
	day := fetched.Truncate(24 * time.Hour)

	rec := models.AnalyticalRecord{
		RecordID:         op.ID,
		LastMutated:      op.LastMutated.UTC(),
		Date:             day,
		SourceKind:       partition.Normalize(op.SourceKind),
		ExtractionMethod: partition.Normalize(op.ExtractionMethod),
		FetchedAt:        fetched,
		Year:             int32(fetched.Year()),
		Month:            int32(fetched.Month()),
		Day:              int32(fetched.Day()),
		Hour:             int32(fetched.Hour()),
		Weekday:          int32(fetched.Weekday()),
		URL:              op.URL,
		Status:           op.Status,
		HTTPStatus:       int32(op.HTTPStatus),
		IsSuccess:        op.Status == models.StatusOK && op.HTTPStatus >= 200 && op.HTTPStatus < 400,
		IsError:          op.Status == models.StatusFailed,
		ErrorKind:        op.ErrorKind,
		ContentType:      normalizeContentType(op.ContentType),
		ContentLength:    op.ContentLength,
		SizeBucket:       SizeBucket(op.ContentLength),
		QualityScore:     op.QualityScore,
		PriorityScore:    op.PriorityScore,
	}

	applyURL(&rec, effectiveURL(op))
	return rec
}

// Records projects a slice, preserving order.
func Records(ops []models.OperationalRecord) []models.AnalyticalRecord {
	out := make([]models.AnalyticalRecord, len(ops))
	for i := range ops {
		out[i] = Record(&ops[i])
	}
	return out
}

// effectiveURL prefers the post-redirect URL when the fetch recorded
// one.
func effectiveURL(op *models.OperationalRecord) string {
	if op.FinalURL != "" {
		return op.FinalURL
	}
	return op.URL
}

// applyURL fills the URL-derived fields. An unparseable or hostless
// URL leaves empty domain/tld, zero depth, false flags and
// URLParseOK=false; the record is kept regardless.
func applyURL(rec *models.AnalyticalRecord, raw string) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return
	}

	rec.URLParseOK = true
	rec.Domain = strings.ToLower(u.Hostname())
	rec.TLD = tldOf(rec.Domain)
	rec.PathDepth = pathDepth(u.Path)
	rec.HasQueryParams = u.RawQuery != ""
}

func tldOf(domain string) string {
	idx := strings.LastIndexByte(domain, '.')
	if idx < 0 || idx == len(domain)-1 {
		return ""
	}
	tld := domain[idx+1:]
	// IPv4 hosts have no TLD.
	if tld != "" && tld[0] >= '0' && tld[0] <= '9' {
		return ""
	}
	return tld
}

func pathDepth(path string) int32 {
	var depth int32
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			depth++
		}
	}
	return depth
}

// SizeBucket maps a content length into a coarse size class for
// low-cardinality grouping.
func SizeBucket(n int64) string {
	switch {
	case n <= 0:
		return models.SizeBucketEmpty
	case n < 1<<10:
		return models.SizeBucketTiny
	case n < 64<<10:
		return models.SizeBucketSmall
	case n < 1<<20:
		return models.SizeBucketMedium
	case n < 16<<20:
		return models.SizeBucketLarge
	default:
		return models.SizeBucketHuge
	}
}

func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
