package columnar

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/google/uuid"

	"github.com/linksmith/chrono-scraper-sub007/pkg/pipeerrors"
)

// WriteFile writes a batch as one new parquet file inside dir. The file
// is written under a temporary name and renamed into place only after a
// successful close and sync; on any failure the temp file is removed
// and the caller must retry the whole batch.
func WriteFile(dir, prefix string, batch Batch, opts Options) (FileResult, error) {
	if batch == nil || batch.Len() == 0 {
		return FileResult{}, pipeerrors.New(pipeerrors.ErrorTypeValidation, "empty batch")
	}
	if opts.RowGroupSize <= 0 {
		opts.RowGroupSize = DefaultOptions().RowGroupSize
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return FileResult{}, pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "create partition directory")
	}

	var minMut, maxMut time.Time
	if mr, ok := batch.(MutationRanger); ok {
		minMut, maxMut = mr.MutationRange()
	}
	finalName := fileName(prefix, minMut, maxMut)
	tmpPath := filepath.Join(dir, ".tmp-"+finalName)
	finalPath := filepath.Join(dir, finalName)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return FileResult{}, pipeerrors.Wrap(err, pipeerrors.ErrorTypeWrite, "create temp file")
	}

	discard := func(cause error, msg string) (FileResult, error) {
		f.Close()
		os.Remove(tmpPath)
		return FileResult{}, pipeerrors.Wrap(cause, pipeerrors.ErrorTypeWrite, msg)
	}

	props := parquet.NewWriterProperties(
		parquet.WithCompression(opts.codec()),
		parquet.WithDictionaryDefault(true),
		parquet.WithMaxRowGroupLength(int64(opts.RowGroupSize)),
	)
	alloc := memory.NewGoAllocator()
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(alloc))

	// The parquet writer closes its sink on Close; hand it a writer
	// without Close so the fsync-then-close ordering stays here.
	fw, err := pqarrow.NewFileWriter(batch.Schema(), writeOnly{f}, props, arrowProps)
	if err != nil {
		return discard(err, "create parquet writer")
	}

	builder := array.NewRecordBuilder(alloc, batch.Schema())
	defer builder.Release()

	n := batch.Len()
	for i := 0; i < n; i++ {
		batch.Append(builder, i)

		// Flush a full row group without holding the whole batch in
		// builder memory.
		if (i+1)%opts.RowGroupSize == 0 || i == n-1 {
			rec := builder.NewRecord()
			err := fw.Write(rec)
			rec.Release()
			if err != nil {
				fw.Close()
				return discard(err, "write row group")
			}
		}
	}

	if err := fw.Close(); err != nil {
		return discard(err, "close parquet writer")
	}
	if err := f.Sync(); err != nil {
		return discard(err, "sync temp file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return FileResult{}, pipeerrors.Wrap(err, pipeerrors.ErrorTypeWrite, "close temp file")
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return FileResult{}, pipeerrors.Wrap(err, pipeerrors.ErrorTypeWrite, "rename into place")
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return FileResult{}, pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "stat written file")
	}

	return FileResult{
		Name:           finalName,
		Rows:           int64(n),
		Bytes:          info.Size(),
		MinLastMutated: minMut,
		MaxLastMutated: maxMut,
	}, nil
}

// writeOnly exposes just the Write method of the temp file.
type writeOnly struct {
	w io.Writer
}

func (w writeOnly) Write(p []byte) (int, error) { return w.w.Write(p) }

// fileName builds a unique, lexically sortable name. When the batch
// carries a mutation range it is embedded as zero-padded unix millis so
// compaction can spot overlapping (retried) files by name alone.
func fileName(prefix string, minMut, maxMut time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	if minMut.IsZero() {
		return fmt.Sprintf("%s-%s.parquet", prefix, id)
	}
	return fmt.Sprintf("%s-%013d-%013d-%s.parquet",
		prefix, minMut.UTC().UnixMilli(), maxMut.UTC().UnixMilli(), id)
}

// ParseMutationRange recovers the mutation range embedded by fileName.
// ok is false for names without a range tag.
func ParseMutationRange(name string) (min, max time.Time, ok bool) {
	base := strings.TrimSuffix(name, ".parquet")
	parts := strings.Split(base, "-")
	if len(parts) < 4 {
		return time.Time{}, time.Time{}, false
	}
	// ...-<min>-<max>-<id>
	var lo, hi int64
	if _, err := fmt.Sscanf(parts[len(parts)-3], "%d", &lo); err != nil {
		return time.Time{}, time.Time{}, false
	}
	if _, err := fmt.Sscanf(parts[len(parts)-2], "%d", &hi); err != nil {
		return time.Time{}, time.Time{}, false
	}
	return time.UnixMilli(lo).UTC(), time.UnixMilli(hi).UTC(), true
}
