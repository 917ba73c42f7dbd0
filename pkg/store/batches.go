package store

import (
	"sort"

	"github.com/linksmith/chrono-scraper-sub007/pkg/columnar"
	"github.com/linksmith/chrono-scraper-sub007/pkg/models"
	"github.com/linksmith/chrono-scraper-sub007/pkg/partition"
)

// File name prefixes per dataset.
const (
	PagePrefix  = "pages"
	EventPrefix = "events"
)

// WriteResult summarizes a grouped batch write.
type WriteResult struct {
	Files int
	Rows  int64
}

// WritePages groups analytical records by partition key and commits
// one file per partition. Group order is deterministic but commit is
// per partition: a failure mid-way leaves earlier partitions committed,
// which is safe under the replay + compaction dedup scheme.
func (s *Store) WritePages(recs []models.AnalyticalRecord, opts columnar.Options) (WriteResult, error) {
	var res WriteResult
	groups := make(map[string][]models.AnalyticalRecord)
	keys := make(map[string]partition.Key)
	for _, r := range recs {
		k := partition.PageKey(&r)
		p := k.Path()
		groups[p] = append(groups[p], r)
		keys[p] = k
	}

	for _, p := range sortedGroupPaths(groups) {
		batch := columnar.PageBatch(groups[p])
		fr, _, err := s.WriteBatch(keys[p], PagePrefix, batch, opts)
		if err != nil {
			return res, err
		}
		res.Files++
		res.Rows += fr.Rows
	}
	return res, nil
}

// WriteEvents groups events by hourly partition key and commits one
// file per partition.
func (s *Store) WriteEvents(evs []models.Event, opts columnar.Options) (WriteResult, error) {
	var res WriteResult
	groups := make(map[string][]models.Event)
	keys := make(map[string]partition.Key)
	for _, ev := range evs {
		k := partition.EventKey(&ev)
		p := k.Path()
		groups[p] = append(groups[p], ev)
		keys[p] = k
	}

	for _, p := range sortedGroupPaths(groups) {
		batch := columnar.EventBatch(groups[p])
		fr, _, err := s.WriteBatch(keys[p], EventPrefix, batch, opts)
		if err != nil {
			return res, err
		}
		res.Files++
		res.Rows += fr.Rows
	}
	return res, nil
}

func sortedGroupPaths[T any](groups map[string][]T) []string {
	paths := make([]string, 0, len(groups))
	for p := range groups {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
