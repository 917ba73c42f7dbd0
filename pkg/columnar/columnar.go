// Package columnar persists batches of typed records as Parquet files
// using Apache Arrow. Every write produces a new, uniquely named file
// via a write-to-temp-then-rename protocol, so a concurrent reader
// never observes a partially written file.
package columnar

import (
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/parquet/compress"
)

// Options controls file layout targets.
type Options struct {
	// Compression selects the parquet codec: snappy, zstd, gzip, none.
	Compression string
	// RowGroupSize is the number of rows buffered per row group.
	RowGroupSize int
}

// DefaultOptions mirror the config defaults.
func DefaultOptions() Options {
	return Options{Compression: "snappy", RowGroupSize: 64 * 1024}
}

func (o Options) codec() compress.Compression {
	switch o.Compression {
	case "zstd":
		return compress.Codecs.Zstd
	case "gzip":
		return compress.Codecs.Gzip
	case "none":
		return compress.Codecs.Uncompressed
	default:
		return compress.Codecs.Snappy
	}
}

// FileResult describes one written parquet file.
type FileResult struct {
	// Name is the file's base name inside its partition directory.
	Name string
	// Rows is the number of records written.
	Rows int64
	// Bytes is the final file size.
	Bytes int64
	// MinLastMutated / MaxLastMutated bound the mutation timestamps
	// covered by the file. Zero for datasets without mutation tracking.
	MinLastMutated time.Time
	MaxLastMutated time.Time
}

// Batch is a non-empty, schema-homogeneous set of records ready to be
// written as one file.
type Batch interface {
	// Schema returns the arrow schema shared by every record.
	Schema() *arrow.Schema
	// Len returns the record count.
	Len() int
	// Append appends record i's column values to the builder.
	Append(b *array.RecordBuilder, i int)
}

// MutationRanger is implemented by batches that track the operational
// mutation range they cover; the range is embedded in the file name so
// compaction can recognize superseded duplicates from retried cycles.
type MutationRanger interface {
	MutationRange() (min, max time.Time)
}
