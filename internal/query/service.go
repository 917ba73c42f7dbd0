// Package query is the read-only analytics query service. It answers
// aggregate questions over the page dataset by pruning partitions from
// the request's time range and category filters, then scanning only
// the projected columns of the surviving parquet files. It never
// touches the operational database.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/linksmith/chrono-scraper-sub007/pkg/columnar"
	"github.com/linksmith/chrono-scraper-sub007/pkg/config"
	"github.com/linksmith/chrono-scraper-sub007/pkg/metrics"
	"github.com/linksmith/chrono-scraper-sub007/pkg/partition"
	"github.com/linksmith/chrono-scraper-sub007/pkg/pipeerrors"
	"github.com/linksmith/chrono-scraper-sub007/pkg/store"
)

// Supported aggregate metrics.
const (
	MetricCount       = "count"
	MetricSuccessRate = "success_rate"
	MetricAvgQuality  = "avg_quality"
	MetricSumBytes    = "sum_bytes"
)

// groupableColumns are the low-cardinality columns a query may group
// by.
var groupableColumns = map[string]bool{
	"date":              true,
	"source_kind":       true,
	"extraction_method": true,
	"status":            true,
	"size_bucket":       true,
	"content_type":      true,
	"tld":               true,
	"domain":            true,
	"error_kind":        true,
}

// Request describes one aggregate query over [From, To).
type Request struct {
	From        time.Time
	To          time.Time
	SourceKinds []string
	Methods     []string
	GroupBy     []string
	Metrics     []string
	Limit       int
}

// Row is one result group with its computed metric values.
type Row struct {
	Group  map[string]string  `json:"group"`
	Values map[string]float64 `json:"values"`
}

// Result carries the rows plus partial-result bookkeeping: unreadable
// partitions are skipped with a warning rather than failing the whole
// query.
type Result struct {
	Rows       []Row    `json:"rows"`
	Partial    bool     `json:"partial,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Partitions int      `json:"partitions_scanned"`
	FilesRead  int      `json:"files_read"`
}

// Service answers queries over an analytical store.
type Service struct {
	st  *store.Store
	cfg config.QueryConfig
	log *zap.Logger
}

// New creates a query service.
func New(st *store.Store, cfg config.QueryConfig, log *zap.Logger) *Service {
	return &Service{st: st, cfg: cfg, log: log.Named("query")}
}

// Query runs one aggregate query under the configured time budget.
// Exceeding the budget surfaces a timeout error to the caller.
func (s *Service) Query(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := s.query(ctx, req)

	status := "ok"
	switch {
	case err != nil && pipeerrors.IsType(err, pipeerrors.ErrorTypeTimeout):
		status = "timeout"
	case err != nil:
		status = "error"
	case res.Partial:
		status = "partial"
	}
	metrics.QueryLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
	return res, err
}

func (s *Service) query(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	keys, err := s.candidates(req)
	if err != nil {
		return nil, err
	}

	agg := newAggregator(req)
	res := &Result{}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, budgetError(err)
		}

		man, err := s.snapshotWithRetry(key)
		if err != nil {
			res.Partial = true
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("partition %s unreadable, skipped: %v", key.Path(), err))
			s.log.Warn("skipping unreadable partition",
				zap.String("partition", key.Path()), zap.Error(err))
			continue
		}
		res.Partitions++

		for _, f := range man.Files {
			rows, err := columnar.ReadColumns(ctx, s.st.FilePath(key, f.Name), agg.columns())
			if err != nil {
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, budgetError(ctx.Err())
				}
				res.Partial = true
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("file %s unreadable, skipped: %v", f.Name, err))
				continue
			}
			res.FilesRead++
			for _, row := range rows {
				agg.add(row, req)
			}
		}
	}

	limit := req.Limit
	if limit <= 0 || limit > s.cfg.MaxRows {
		limit = s.cfg.MaxRows
	}
	res.Rows = agg.rows(limit)
	return res, nil
}

func validate(req Request) error {
	if req.From.IsZero() || req.To.IsZero() || !req.To.After(req.From) {
		return pipeerrors.New(pipeerrors.ErrorTypeValidation, "query requires a non-empty [from, to) range")
	}
	for _, g := range req.GroupBy {
		if !groupableColumns[g] {
			return pipeerrors.Newf(pipeerrors.ErrorTypeValidation, "cannot group by %q", g)
		}
	}
	for _, m := range req.Metrics {
		switch m {
		case MetricCount, MetricSuccessRate, MetricAvgQuality, MetricSumBytes:
		default:
			return pipeerrors.Newf(pipeerrors.ErrorTypeValidation, "unknown metric %q", m)
		}
	}
	return nil
}

// candidates prunes the partition tree: day prefixes from the time
// range, then category filters against each key's path fields.
func (s *Service) candidates(req Request) ([]partition.Key, error) {
	prefixes := partition.DayPrefixes(partition.DatasetPages, req.From, req.To)
	keys, err := s.st.PartitionsWithin(prefixes)
	if err != nil {
		return nil, err
	}

	filters := partition.Filters{}
	if len(req.SourceKinds) > 0 {
		filters["source"] = req.SourceKinds
	}
	if len(req.Methods) > 0 {
		filters["method"] = req.Methods
	}

	var out []partition.Key
	for _, k := range keys {
		if filters.Match(k) {
			out = append(out, k)
		}
	}
	return out, nil
}

// snapshotWithRetry retries a manifest read once before giving up;
// one failure is routinely a racing manifest swap.
func (s *Service) snapshotWithRetry(key partition.Key) (*store.Manifest, error) {
	man, err := s.st.Snapshot(key)
	if err == nil {
		return man, nil
	}
	return s.st.Snapshot(key)
}

func budgetError(cause error) error {
	return pipeerrors.Wrap(cause, pipeerrors.ErrorTypeTimeout, "query exceeded time budget")
}

// aggregator accumulates per-group counters.
type aggregator struct {
	metrics []string
	groupBy []string
	groups  map[string]*groupAcc
}

type groupAcc struct {
	group   map[string]string
	count   int64
	success int64
	quality float64
	bytes   int64
}

func newAggregator(req Request) *aggregator {
	ms := req.Metrics
	if len(ms) == 0 {
		ms = []string{MetricCount}
	}
	return &aggregator{
		metrics: ms,
		groupBy: req.GroupBy,
		groups:  make(map[string]*groupAcc),
	}
}

// columns returns the projection needed for the requested grouping and
// metrics. fetched_at is always read for range filtering.
func (a *aggregator) columns() []string {
	cols := map[string]bool{"fetched_at": true}
	for _, g := range a.groupBy {
		cols[g] = true
	}
	for _, m := range a.metrics {
		switch m {
		case MetricSuccessRate:
			cols["is_success"] = true
		case MetricAvgQuality:
			cols["quality_score"] = true
		case MetricSumBytes:
			cols["content_length"] = true
		}
	}
	out := make([]string, 0, len(cols))
	for c := range cols {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (a *aggregator) add(row map[string]interface{}, req Request) {
	fetched, _ := row["fetched_at"].(time.Time)
	if fetched.Before(req.From) || !fetched.Before(req.To) {
		return
	}

	group := make(map[string]string, len(a.groupBy))
	keyParts := make([]string, 0, len(a.groupBy))
	for _, g := range a.groupBy {
		v := groupValue(row[g])
		group[g] = v
		keyParts = append(keyParts, v)
	}
	key := strings.Join(keyParts, "\x00")

	acc, ok := a.groups[key]
	if !ok {
		acc = &groupAcc{group: group}
		a.groups[key] = acc
	}
	acc.count++
	if b, _ := row["is_success"].(bool); b {
		acc.success++
	}
	if q, ok := row["quality_score"].(float64); ok {
		acc.quality += q
	}
	acc.bytes += asLength(row["content_length"])
}

func (a *aggregator) rows(limit int) []Row {
	keys := make([]string, 0, len(a.groups))
	for k := range a.groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	out := make([]Row, 0, len(keys))
	for _, k := range keys {
		acc := a.groups[k]
		values := make(map[string]float64, len(a.metrics))
		for _, m := range a.metrics {
			switch m {
			case MetricCount:
				values[m] = float64(acc.count)
			case MetricSuccessRate:
				values[m] = float64(acc.success) / float64(acc.count)
			case MetricAvgQuality:
				values[m] = acc.quality / float64(acc.count)
			case MetricSumBytes:
				values[m] = float64(acc.bytes)
			}
		}
		out = append(out, Row{Group: acc.group, Values: values})
	}
	return out
}

func groupValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.UTC().Format("2006-01-02")
	default:
		return fmt.Sprint(x)
	}
}

func asLength(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	}
	return 0
}
