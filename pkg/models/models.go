// Package models defines the data model of the analytics pipeline: the
// operational scrape record read from PostgreSQL, the fixed analytical
// projection written to the partitioned store, and the schema-light
// event used for pipeline telemetry.
package models

import "time"

// Terminal operational statuses. A record whose Status holds one of
// these values is immutable in the operational store.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// OperationalRecord is one fetch attempt as stored by the scraping
// workers. The pipeline reads these rows and never writes them.
type OperationalRecord struct {
	ID               int64
	URL              string
	FinalURL         string
	Status           string
	HTTPStatus       int
	FetchedAt        time.Time
	LastMutated      time.Time
	ContentType      string
	ContentLength    int64
	ExtractionMethod string
	SourceKind       string
	QualityScore     float64
	PriorityScore    float64
	ErrorKind        string
	ErrorDetail      string
}

// AnalyticalRecord is the append-only columnar projection of one
// operational record. All derived fields come from total functions
// with explicit fallbacks; a record is never dropped for being
// malformed. Identity is (RecordID, LastMutated): compaction keeps
// only the newest LastMutated state per RecordID.
type AnalyticalRecord struct {
	RecordID    int64
	LastMutated time.Time

	// Partition key fields
	Date             time.Time // UTC day of FetchedAt
	SourceKind       string    // normalized, "unknown" when absent
	ExtractionMethod string    // normalized, "unknown" when absent

	// Calendar decomposition of FetchedAt
	FetchedAt time.Time
	Year      int32
	Month     int32
	Day       int32
	Hour      int32
	Weekday   int32

	// URL derivations; zero values with URLParseOK=false when unparseable
	URL            string
	Domain         string
	TLD            string
	PathDepth      int32
	HasQueryParams bool
	URLParseOK     bool

	// Fetch outcome
	Status     string
	HTTPStatus int32
	IsSuccess  bool
	IsError    bool
	ErrorKind  string

	// Content
	ContentType   string
	ContentLength int64
	SizeBucket    string

	QualityScore  float64
	PriorityScore float64
}

// Event is a lightweight operational occurrence buffered in memory and
// flushed to hourly partitions. Payload carries arbitrary keys and is
// serialized to a JSON column at write time.
type Event struct {
	Type      string
	Timestamp time.Time
	Source    string
	Payload   map[string]interface{}
}

// SizeBucket labels, coarsest to finest cut points in bytes.
const (
	SizeBucketEmpty  = "empty"  // 0
	SizeBucketTiny   = "tiny"   // < 1 KiB
	SizeBucketSmall  = "small"  // < 64 KiB
	SizeBucketMedium = "medium" // < 1 MiB
	SizeBucketLarge  = "large"  // < 16 MiB
	SizeBucketHuge   = "huge"   // >= 16 MiB
)

// UnknownCategory is the reserved bucket for missing category values,
// so ingestion never fails on classification gaps.
const UnknownCategory = "unknown"
