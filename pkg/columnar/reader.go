package columnar

import (
	"context"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	gojson "github.com/goccy/go-json"

	"github.com/linksmith/chrono-scraper-sub007/pkg/models"
	"github.com/linksmith/chrono-scraper-sub007/pkg/pipeerrors"
)

// ReadColumns reads a parquet file with column projection and returns
// generic rows keyed by column name. A nil columns slice reads every
// column.
func ReadColumns(ctx context.Context, path string, columns []string) ([]map[string]interface{}, error) {
	fr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "open parquet file")
	}
	defer fr.Close()

	alloc := memory.NewGoAllocator()
	arrowReader, err := pqarrow.NewFileReader(fr, pqarrow.ArrowReadProperties{BatchSize: 4096}, alloc)
	if err != nil {
		return nil, pipeerrors.Wrap(err, pipeerrors.ErrorTypeQuery, "create arrow reader")
	}

	schema, err := arrowReader.Schema()
	if err != nil {
		return nil, pipeerrors.Wrap(err, pipeerrors.ErrorTypeQuery, "read parquet schema")
	}

	var colIndices []int
	if len(columns) > 0 {
		colIndices = make([]int, 0, len(columns))
		for _, name := range columns {
			idx := schema.FieldIndices(name)
			if len(idx) == 0 {
				return nil, pipeerrors.Newf(pipeerrors.ErrorTypeQuery, "unknown column %q", name)
			}
			colIndices = append(colIndices, idx[0])
		}
	}

	rr, err := arrowReader.GetRecordReader(ctx, colIndices, nil)
	if err != nil {
		return nil, pipeerrors.Wrap(err, pipeerrors.ErrorTypeQuery, "create record reader")
	}
	defer rr.Release()

	var rows []map[string]interface{}
	for rr.Next() {
		rec := rr.Record()
		n := int(rec.NumRows())
		for i := 0; i < n; i++ {
			row := make(map[string]interface{}, rec.NumCols())
			for c := 0; c < int(rec.NumCols()); c++ {
				row[rec.Schema().Field(c).Name] = colValue(rec.Column(c), i)
			}
			rows = append(rows, row)
		}
	}
	if err := rr.Err(); err != nil {
		return nil, pipeerrors.Wrap(err, pipeerrors.ErrorTypeQuery, "iterate parquet records")
	}

	return rows, nil
}

// ReadPages decodes a page partition file back into typed records.
// Used by compaction to rewrite partitions.
func ReadPages(ctx context.Context, path string) ([]models.AnalyticalRecord, error) {
	rows, err := ReadColumns(ctx, path, nil)
	if err != nil {
		return nil, err
	}

	out := make([]models.AnalyticalRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.AnalyticalRecord{
			RecordID:         asInt64(row["record_id"]),
			LastMutated:      asTime(row["last_mutated"]),
			Date:             asTime(row["date"]),
			SourceKind:       asString(row["source_kind"]),
			ExtractionMethod: asString(row["extraction_method"]),
			FetchedAt:        asTime(row["fetched_at"]),
			Year:             asInt32(row["year"]),
			Month:            asInt32(row["month"]),
			Day:              asInt32(row["day"]),
			Hour:             asInt32(row["hour"]),
			Weekday:          asInt32(row["weekday"]),
			URL:              asString(row["url"]),
			Domain:           asString(row["domain"]),
			TLD:              asString(row["tld"]),
			PathDepth:        asInt32(row["path_depth"]),
			HasQueryParams:   asBool(row["has_query_params"]),
			URLParseOK:       asBool(row["url_parse_ok"]),
			Status:           asString(row["status"]),
			HTTPStatus:       asInt32(row["http_status"]),
			IsSuccess:        asBool(row["is_success"]),
			IsError:          asBool(row["is_error"]),
			ErrorKind:        asString(row["error_kind"]),
			ContentType:      asString(row["content_type"]),
			ContentLength:    asInt64(row["content_length"]),
			SizeBucket:       asString(row["size_bucket"]),
			QualityScore:     asFloat64(row["quality_score"]),
			PriorityScore:    asFloat64(row["priority_score"]),
		})
	}
	return out, nil
}

// ReadEvents decodes an event partition file back into typed events.
func ReadEvents(ctx context.Context, path string) ([]models.Event, error) {
	rows, err := ReadColumns(ctx, path, nil)
	if err != nil {
		return nil, err
	}

	out := make([]models.Event, 0, len(rows))
	for _, row := range rows {
		ev := models.Event{
			Type:      asString(row["event_type"]),
			Timestamp: asTime(row["timestamp"]),
			Source:    asString(row["source"]),
		}
		if raw := asString(row["payload"]); raw != "" {
			payload := map[string]interface{}{}
			if err := gojson.Unmarshal([]byte(raw), &payload); err == nil {
				ev.Payload = payload
			}
		}
		out = append(out, ev)
	}
	return out, nil
}

func colValue(col arrow.Array, i int) interface{} {
	if col.IsNull(i) {
		return nil
	}
	switch c := col.(type) {
	case *array.Boolean:
		return c.Value(i)
	case *array.Int32:
		return c.Value(i)
	case *array.Int64:
		return c.Value(i)
	case *array.Float64:
		return c.Value(i)
	case *array.String:
		return c.Value(i)
	case *array.Timestamp:
		return time.Unix(0, int64(c.Value(i))).UTC()
	case *array.Date32:
		return c.Value(i).ToTime()
	default:
		return nil
	}
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func asInt32(v interface{}) int32 {
	switch n := v.(type) {
	case int32:
		return n
	case int64:
		return int32(n)
	}
	return 0
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	}
	return 0
}

func asFloat64(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}

func asTime(v interface{}) time.Time {
	t, _ := v.(time.Time)
	return t
}
