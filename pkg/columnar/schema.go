package columnar

import (
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	gojson "github.com/goccy/go-json"

	"github.com/linksmith/chrono-scraper-sub007/pkg/models"
)

var pageSchema = arrow.NewSchema([]arrow.Field{
	{Name: "record_id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "last_mutated", Type: arrow.FixedWidthTypes.Timestamp_ns},
	{Name: "date", Type: arrow.FixedWidthTypes.Date32},
	{Name: "source_kind", Type: arrow.BinaryTypes.String},
	{Name: "extraction_method", Type: arrow.BinaryTypes.String},
	{Name: "fetched_at", Type: arrow.FixedWidthTypes.Timestamp_ns},
	{Name: "year", Type: arrow.PrimitiveTypes.Int32},
	{Name: "month", Type: arrow.PrimitiveTypes.Int32},
	{Name: "day", Type: arrow.PrimitiveTypes.Int32},
	{Name: "hour", Type: arrow.PrimitiveTypes.Int32},
	{Name: "weekday", Type: arrow.PrimitiveTypes.Int32},
	{Name: "url", Type: arrow.BinaryTypes.String},
	{Name: "domain", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "tld", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "path_depth", Type: arrow.PrimitiveTypes.Int32},
	{Name: "has_query_params", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "url_parse_ok", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "status", Type: arrow.BinaryTypes.String},
	{Name: "http_status", Type: arrow.PrimitiveTypes.Int32},
	{Name: "is_success", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "is_error", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "error_kind", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "content_type", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "content_length", Type: arrow.PrimitiveTypes.Int64},
	{Name: "size_bucket", Type: arrow.BinaryTypes.String},
	{Name: "quality_score", Type: arrow.PrimitiveTypes.Float64},
	{Name: "priority_score", Type: arrow.PrimitiveTypes.Float64},
}, nil)

var eventSchema = arrow.NewSchema([]arrow.Field{
	{Name: "event_type", Type: arrow.BinaryTypes.String},
	{Name: "timestamp", Type: arrow.FixedWidthTypes.Timestamp_ns},
	{Name: "source", Type: arrow.BinaryTypes.String},
	{Name: "payload", Type: arrow.BinaryTypes.String, Nullable: true},
}, nil)

// PageSchema returns the fixed analytical page schema.
func PageSchema() *arrow.Schema { return pageSchema }

// EventSchema returns the event schema.
func EventSchema() *arrow.Schema { return eventSchema }

// PageBatch adapts analytical records to the Batch interface.
type PageBatch []models.AnalyticalRecord

func (pb PageBatch) Schema() *arrow.Schema { return pageSchema }

func (pb PageBatch) Len() int { return len(pb) }

func (pb PageBatch) Append(b *array.RecordBuilder, i int) {
	r := &pb[i]

	b.Field(0).(*array.Int64Builder).Append(r.RecordID)
	b.Field(1).(*array.TimestampBuilder).Append(arrow.Timestamp(r.LastMutated.UTC().UnixNano()))
	b.Field(2).(*array.Date32Builder).Append(arrow.Date32FromTime(r.Date.UTC()))
	b.Field(3).(*array.StringBuilder).Append(r.SourceKind)
	b.Field(4).(*array.StringBuilder).Append(r.ExtractionMethod)
	b.Field(5).(*array.TimestampBuilder).Append(arrow.Timestamp(r.FetchedAt.UTC().UnixNano()))
	b.Field(6).(*array.Int32Builder).Append(r.Year)
	b.Field(7).(*array.Int32Builder).Append(r.Month)
	b.Field(8).(*array.Int32Builder).Append(r.Day)
	b.Field(9).(*array.Int32Builder).Append(r.Hour)
	b.Field(10).(*array.Int32Builder).Append(r.Weekday)
	b.Field(11).(*array.StringBuilder).Append(r.URL)
	appendNullableString(b.Field(12).(*array.StringBuilder), r.Domain)
	appendNullableString(b.Field(13).(*array.StringBuilder), r.TLD)
	b.Field(14).(*array.Int32Builder).Append(r.PathDepth)
	b.Field(15).(*array.BooleanBuilder).Append(r.HasQueryParams)
	b.Field(16).(*array.BooleanBuilder).Append(r.URLParseOK)
	b.Field(17).(*array.StringBuilder).Append(r.Status)
	b.Field(18).(*array.Int32Builder).Append(r.HTTPStatus)
	b.Field(19).(*array.BooleanBuilder).Append(r.IsSuccess)
	b.Field(20).(*array.BooleanBuilder).Append(r.IsError)
	appendNullableString(b.Field(21).(*array.StringBuilder), r.ErrorKind)
	appendNullableString(b.Field(22).(*array.StringBuilder), r.ContentType)
	b.Field(23).(*array.Int64Builder).Append(r.ContentLength)
	b.Field(24).(*array.StringBuilder).Append(r.SizeBucket)
	b.Field(25).(*array.Float64Builder).Append(r.QualityScore)
	b.Field(26).(*array.Float64Builder).Append(r.PriorityScore)
}

// MutationRange bounds the LastMutated timestamps in the batch.
func (pb PageBatch) MutationRange() (time.Time, time.Time) {
	if len(pb) == 0 {
		return time.Time{}, time.Time{}
	}
	min, max := pb[0].LastMutated, pb[0].LastMutated
	for i := 1; i < len(pb); i++ {
		if pb[i].LastMutated.Before(min) {
			min = pb[i].LastMutated
		}
		if pb[i].LastMutated.After(max) {
			max = pb[i].LastMutated
		}
	}
	return min, max
}

// EventBatch adapts events to the Batch interface. Payloads are JSON
// encoded at append time; encode failures degrade to a null payload
// rather than failing the batch.
type EventBatch []models.Event

func (eb EventBatch) Schema() *arrow.Schema { return eventSchema }

func (eb EventBatch) Len() int { return len(eb) }

func (eb EventBatch) Append(b *array.RecordBuilder, i int) {
	ev := &eb[i]

	b.Field(0).(*array.StringBuilder).Append(ev.Type)
	b.Field(1).(*array.TimestampBuilder).Append(arrow.Timestamp(ev.Timestamp.UTC().UnixNano()))
	b.Field(2).(*array.StringBuilder).Append(ev.Source)

	if len(ev.Payload) == 0 {
		b.Field(3).(*array.StringBuilder).AppendNull()
		return
	}
	data, err := gojson.Marshal(ev.Payload)
	if err != nil {
		b.Field(3).(*array.StringBuilder).AppendNull()
		return
	}
	b.Field(3).(*array.StringBuilder).Append(string(data))
}

func appendNullableString(b *array.StringBuilder, v string) {
	if v == "" {
		b.AppendNull()
		return
	}
	b.Append(v)
}
