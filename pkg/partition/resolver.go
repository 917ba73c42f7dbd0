// Package partition maps records to deterministic partition paths and
// back. Everything here is a pure function: writers and the query
// pruner recompute paths independently and must agree byte for byte.
//
// Layout. Time components come first, zero padded so lexical path sort
// equals chronological sort, followed by category fields in sorted
// field-name order:
//
//	pages/2024/01/15/method=css/source=web
//	events/2024/01/15/07/type=system.cpu
package partition

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/linksmith/chrono-scraper-sub007/pkg/models"
)

// Dataset names the top-level record family in the store.
type Dataset string

const (
	// DatasetPages holds analytical page records, partitioned daily.
	DatasetPages Dataset = "pages"
	// DatasetEvents holds telemetry events, partitioned hourly.
	DatasetEvents Dataset = "events"
)

// Category is one low-cardinality partition field.
type Category struct {
	Name  string
	Value string
}

// Key identifies a single partition.
type Key struct {
	Dataset Dataset
	Year    int
	Month   int
	Day     int
	Hour    int // -1 for daily partitions
	// Categories are held in sorted field-name order.
	Categories []Category
}

// PageKey resolves the partition for an analytical page record.
func PageKey(rec *models.AnalyticalRecord) Key {
	d := rec.Date.UTC()
	return Key{
		Dataset: DatasetPages,
		Year:    d.Year(),
		Month:   int(d.Month()),
		Day:     d.Day(),
		Hour:    -1,
		Categories: sortCategories([]Category{
			{Name: "source", Value: Normalize(rec.SourceKind)},
			{Name: "method", Value: Normalize(rec.ExtractionMethod)},
		}),
	}
}

// EventKey resolves the hourly partition for an event.
func EventKey(ev *models.Event) Key {
	t := ev.Timestamp.UTC()
	return Key{
		Dataset: DatasetEvents,
		Year:    t.Year(),
		Month:   int(t.Month()),
		Day:     t.Day(),
		Hour:    t.Hour(),
		Categories: []Category{
			{Name: "type", Value: Normalize(ev.Type)},
		},
	}
}

// Path returns the partition's relative directory under the store root.
func (k Key) Path() string {
	parts := []string{
		string(k.Dataset),
		fmt.Sprintf("%04d", k.Year),
		fmt.Sprintf("%02d", k.Month),
		fmt.Sprintf("%02d", k.Day),
	}
	if k.Hour >= 0 {
		parts = append(parts, fmt.Sprintf("%02d", k.Hour))
	}
	for _, c := range k.Categories {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return path.Join(parts...)
}

// DayStart returns midnight UTC of the partition's day.
func (k Key) DayStart() time.Time {
	return time.Date(k.Year, time.Month(k.Month), k.Day, 0, 0, 0, 0, time.UTC)
}

// Category returns the value for a category field, or "" when absent.
func (k Key) Category(name string) string {
	for _, c := range k.Categories {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// ParsePath is the inverse of Key.Path. It accepts only paths this
// package produced.
func ParsePath(rel string) (Key, error) {
	parts := strings.Split(path.Clean(rel), "/")
	if len(parts) < 4 {
		return Key{}, fmt.Errorf("partition path too short: %q", rel)
	}

	k := Key{Dataset: Dataset(parts[0]), Hour: -1}
	switch k.Dataset {
	case DatasetPages, DatasetEvents:
	default:
		return Key{}, fmt.Errorf("unknown dataset in partition path: %q", rel)
	}

	var err error
	if k.Year, err = strconv.Atoi(parts[1]); err != nil {
		return Key{}, fmt.Errorf("bad year in partition path %q", rel)
	}
	if k.Month, err = strconv.Atoi(parts[2]); err != nil || k.Month < 1 || k.Month > 12 {
		return Key{}, fmt.Errorf("bad month in partition path %q", rel)
	}
	if k.Day, err = strconv.Atoi(parts[3]); err != nil || k.Day < 1 || k.Day > 31 {
		return Key{}, fmt.Errorf("bad day in partition path %q", rel)
	}

	rest := parts[4:]
	if k.Dataset == DatasetEvents {
		if len(rest) == 0 {
			return Key{}, fmt.Errorf("missing hour in event partition path %q", rel)
		}
		if k.Hour, err = strconv.Atoi(rest[0]); err != nil || k.Hour < 0 || k.Hour > 23 {
			return Key{}, fmt.Errorf("bad hour in partition path %q", rel)
		}
		rest = rest[1:]
	}

	for _, p := range rest {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return Key{}, fmt.Errorf("bad category component %q in partition path %q", p, rel)
		}
		k.Categories = append(k.Categories, Category{Name: name, Value: value})
	}
	k.Categories = sortCategories(k.Categories)

	return k, nil
}

// Normalize maps a raw category value into a safe path component.
// Missing or unusable values land in the reserved "unknown" bucket so
// ingestion never fails on a classification gap.
func Normalize(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return models.UnknownCategory
	}
	var b strings.Builder
	b.Grow(len(v))
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return models.UnknownCategory
	}
	return out
}

// DayPrefixes expands a [from, to] range into the relative day-level
// directories of a dataset, for query pruning. Category subdirectories
// are discovered from the store listing, not invented here.
func DayPrefixes(ds Dataset, from, to time.Time) []string {
	from = from.UTC()
	to = to.UTC()
	if to.Before(from) {
		return nil
	}

	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)

	var out []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, path.Join(
			string(ds),
			fmt.Sprintf("%04d", d.Year()),
			fmt.Sprintf("%02d", d.Month()),
			fmt.Sprintf("%02d", d.Day()),
		))
	}
	return out
}

// Filters restricts candidate partitions by category values. A nil or
// empty value set leaves that field unconstrained.
type Filters map[string][]string

// Match reports whether a partition key satisfies the filters. Filter
// values are normalized before comparison.
func (f Filters) Match(k Key) bool {
	for name, values := range f {
		if len(values) == 0 {
			continue
		}
		got := k.Category(name)
		ok := false
		for _, v := range values {
			if got == Normalize(v) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func sortCategories(cs []Category) []Category {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Name < cs[j].Name })
	return cs
}
