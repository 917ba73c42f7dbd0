// Package store is the partitioned analytical file store. Each
// partition directory holds immutable parquet files plus a
// MANIFEST.json listing the committed set. All mutations go through
// the manifest, so a crash mid-write leaves at worst an orphaned temp
// or data file that no reader will ever see.
package store

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/linksmith/chrono-scraper-sub007/pkg/columnar"
	"github.com/linksmith/chrono-scraper-sub007/pkg/metrics"
	"github.com/linksmith/chrono-scraper-sub007/pkg/partition"
	"github.com/linksmith/chrono-scraper-sub007/pkg/pipeerrors"
)

// SummaryName is the downsampled replacement written by retention in
// place of a partition's data files.
const SummaryName = "SUMMARY.json.zst"

// Store manages partition directories under a single root. Safe for
// concurrent use; mutations to the same partition serialize on a
// per-partition lock.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// New creates a store rooted at dir. The directory is created on
// first write, not here.
func New(root string) *Store {
	return &Store{
		root:  root,
		locks: make(map[string]*sync.Mutex),
		now:   time.Now,
	}
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Dir returns the absolute directory for a partition.
func (s *Store) Dir(key partition.Key) string {
	return filepath.Join(s.root, filepath.FromSlash(key.Path()))
}

// FilePath returns the absolute path of a data file within a partition.
func (s *Store) FilePath(key partition.Key, name string) string {
	return filepath.Join(s.Dir(key), name)
}

func (s *Store) lock(key partition.Key) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := key.Path()
	l, ok := s.locks[p]
	if !ok {
		l = &sync.Mutex{}
		s.locks[p] = l
	}
	return l
}

// Append commits an already-written data file into the partition
// manifest and returns the new generation. The file must live in the
// partition directory; see WriteBatch for the combined path.
func (s *Store) Append(key partition.Key, res columnar.FileResult) (int64, error) {
	l := s.lock(key)
	l.Lock()
	defer l.Unlock()

	dir := s.Dir(key)
	m, err := readManifest(dir)
	if err != nil {
		return 0, err
	}

	m.Files = append(m.Files, entryFromResult(res, s.now()))
	m.Generation++
	m.UpdatedAt = s.now().UTC()

	if err := writeManifest(dir, m); err != nil {
		return 0, err
	}
	return m.Generation, nil
}

// WriteBatch writes a batch into the partition and commits it with a
// single manifest update. The data file is fully durable before the
// manifest mentions it.
func (s *Store) WriteBatch(key partition.Key, prefix string, batch columnar.Batch, opts columnar.Options) (columnar.FileResult, int64, error) {
	res, err := columnar.WriteFile(s.Dir(key), prefix, batch, opts)
	if err != nil {
		return columnar.FileResult{}, 0, err
	}
	gen, err := s.Append(key, res)
	if err != nil {
		// The file never made it into the manifest, so no reader can
		// see it: remove it rather than leak it.
		os.Remove(filepath.Join(s.Dir(key), res.Name))
		return columnar.FileResult{}, 0, err
	}
	metrics.FilesWritten.WithLabelValues(string(key.Dataset)).Inc()
	return res, gen, nil
}

// Snapshot returns the committed manifest for a partition. Missing
// partitions yield an empty generation-zero manifest.
func (s *Store) Snapshot(key partition.Key) (*Manifest, error) {
	l := s.lock(key)
	l.Lock()
	defer l.Unlock()
	return readManifest(s.Dir(key))
}

// Swap atomically replaces the partition's file set, used by
// compaction. expectGen must equal the committed generation at swap
// time or the call fails with a compaction_conflict error and leaves
// the partition untouched. Old files no longer referenced are removed
// only after the new manifest is durable; on any failure the
// never-committed replacement files are removed instead.
func (s *Store) Swap(key partition.Key, expectGen int64, replacements []columnar.FileResult) (*Manifest, error) {
	l := s.lock(key)
	l.Lock()
	defer l.Unlock()

	dir := s.Dir(key)
	discard := func() {
		for _, res := range replacements {
			os.Remove(filepath.Join(dir, res.Name))
		}
	}

	m, err := readManifest(dir)
	if err != nil {
		discard()
		return nil, err
	}
	if m.Generation != expectGen {
		discard()
		return nil, pipeerrors.Newf(pipeerrors.ErrorTypeCompactionConflict,
			"partition %s changed under compaction: generation %d, expected %d",
			key.Path(), m.Generation, expectGen)
	}

	old := m.Files
	next := &Manifest{
		Generation: m.Generation + 1,
		UpdatedAt:  s.now().UTC(),
		Files:      make([]FileEntry, 0, len(replacements)),
	}
	kept := make(map[string]bool, len(replacements))
	for _, res := range replacements {
		next.Files = append(next.Files, entryFromResult(res, s.now()))
		kept[res.Name] = true
	}

	if err := writeManifest(dir, next); err != nil {
		discard()
		return nil, err
	}

	for _, f := range old {
		if !kept[f.Name] {
			os.Remove(filepath.Join(dir, f.Name))
		}
	}
	return next, nil
}

// Summarize replaces a partition's data files with a compressed
// summary document, leaving an empty manifest behind. Same generation
// check as Swap.
func (s *Store) Summarize(key partition.Key, expectGen int64, summary interface{}) error {
	l := s.lock(key)
	l.Lock()
	defer l.Unlock()

	dir := s.Dir(key)
	m, err := readManifest(dir)
	if err != nil {
		return err
	}
	if m.Generation != expectGen {
		return pipeerrors.Newf(pipeerrors.ErrorTypeCompactionConflict,
			"partition %s changed under retention: generation %d, expected %d",
			key.Path(), m.Generation, expectGen)
	}

	if err := writeSummary(dir, summary); err != nil {
		return err
	}

	old := m.Files
	next := &Manifest{Generation: m.Generation + 1, UpdatedAt: s.now().UTC()}
	if err := writeManifest(dir, next); err != nil {
		return err
	}
	for _, f := range old {
		os.Remove(filepath.Join(dir, f.Name))
	}
	return nil
}

// ReadSummary decodes a partition's retention summary into out.
func (s *Store) ReadSummary(key partition.Key, out interface{}) error {
	data, err := os.ReadFile(filepath.Join(s.Dir(key), SummaryName))
	if err != nil {
		return pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "read summary")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return pipeerrors.Wrap(err, pipeerrors.ErrorTypeInternal, "create zstd reader")
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return pipeerrors.Wrap(err, pipeerrors.ErrorTypeInternal, "decompress summary")
	}
	if err := gojson.Unmarshal(raw, out); err != nil {
		return pipeerrors.Wrap(err, pipeerrors.ErrorTypeInternal, "decode summary")
	}
	return nil
}

// HasSummary reports whether retention has already downsampled the
// partition.
func (s *Store) HasSummary(key partition.Key) bool {
	_, err := os.Stat(filepath.Join(s.Dir(key), SummaryName))
	return err == nil
}

// Partitions walks the dataset tree and returns every partition that
// has a committed manifest, sorted by path.
func (s *Store) Partitions(ds partition.Dataset) ([]partition.Key, error) {
	return s.partitionsUnder(string(ds))
}

// PartitionsWithin returns partitions under the given dataset-relative
// prefixes, typically produced by partition.DayPrefixes for time-range
// pruning. Missing prefixes are skipped.
func (s *Store) PartitionsWithin(prefixes []string) ([]partition.Key, error) {
	var out []partition.Key
	for _, p := range prefixes {
		keys, err := s.partitionsUnder(p)
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out, nil
}

func (s *Store) partitionsUnder(rel string) ([]partition.Key, error) {
	base := filepath.Join(s.root, filepath.FromSlash(rel))
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return nil, nil
	}

	var out []partition.Key
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != ManifestName {
			return nil
		}
		relDir, err := filepath.Rel(s.root, filepath.Dir(path))
		if err != nil {
			return err
		}
		key, err := partition.ParsePath(strings.ReplaceAll(relDir, string(filepath.Separator), "/"))
		if err != nil {
			return nil // foreign directory, skip
		}
		out = append(out, key)
		return nil
	})
	if err != nil {
		return nil, pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "walk store")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out, nil
}

func writeSummary(dir string, summary interface{}) error {
	raw, err := gojson.MarshalIndent(summary, "", "  ")
	if err != nil {
		return pipeerrors.Wrap(err, pipeerrors.ErrorTypeInternal, "encode summary")
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return pipeerrors.Wrap(err, pipeerrors.ErrorTypeInternal, "create zstd writer")
	}
	data := enc.EncodeAll(raw, nil)
	enc.Close()

	tmp := filepath.Join(dir, ".tmp-"+SummaryName)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "write summary temp file")
	}
	if err := os.Rename(tmp, filepath.Join(dir, SummaryName)); err != nil {
		os.Remove(tmp)
		return pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "rename summary")
	}
	return nil
}
