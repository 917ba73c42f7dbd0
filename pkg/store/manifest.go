package store

import (
	"os"
	"path/filepath"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/linksmith/chrono-scraper-sub007/pkg/columnar"
	"github.com/linksmith/chrono-scraper-sub007/pkg/pipeerrors"
)

// ManifestName is the per-partition manifest file. A data file exists
// for readers only once the manifest lists it.
const ManifestName = "MANIFEST.json"

// FileEntry describes one committed data file within a partition.
type FileEntry struct {
	Name           string    `json:"name"`
	Rows           int64     `json:"rows"`
	Bytes          int64     `json:"bytes"`
	MinLastMutated time.Time `json:"min_last_mutated"`
	MaxLastMutated time.Time `json:"max_last_mutated"`
	CreatedAt      time.Time `json:"created_at"`
}

// Manifest is the committed view of a partition. Generation increases
// by one on every successful mutation and is the compare value for
// compaction swaps.
type Manifest struct {
	Generation int64       `json:"generation"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Files      []FileEntry `json:"files"`
}

// TotalRows sums the row counts of every listed file.
func (m *Manifest) TotalRows() int64 {
	var n int64
	for _, f := range m.Files {
		n += f.Rows
	}
	return n
}

// TotalBytes sums the byte sizes of every listed file.
func (m *Manifest) TotalBytes() int64 {
	var n int64
	for _, f := range m.Files {
		n += f.Bytes
	}
	return n
}

func entryFromResult(res columnar.FileResult, now time.Time) FileEntry {
	return FileEntry{
		Name:           res.Name,
		Rows:           res.Rows,
		Bytes:          res.Bytes,
		MinLastMutated: res.MinLastMutated,
		MaxLastMutated: res.MaxLastMutated,
		CreatedAt:      now.UTC(),
	}
}

// readManifest loads a partition manifest. A missing manifest is the
// empty generation-zero manifest, not an error.
func readManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return &Manifest{Generation: 0}, nil
		}
		return nil, pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "read manifest")
	}

	var m Manifest
	if err := gojson.Unmarshal(data, &m); err != nil {
		return nil, pipeerrors.Wrap(err, pipeerrors.ErrorTypeInternal, "decode manifest")
	}
	return &m, nil
}

// writeManifest commits a manifest with write-to-temp, fsync and
// atomic rename so readers never observe a torn manifest.
func writeManifest(dir string, m *Manifest) error {
	data, err := gojson.MarshalIndent(m, "", "  ")
	if err != nil {
		return pipeerrors.Wrap(err, pipeerrors.ErrorTypeInternal, "encode manifest")
	}

	tmp := filepath.Join(dir, ".tmp-"+ManifestName)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "create manifest temp file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "write manifest temp file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "sync manifest temp file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "close manifest temp file")
	}
	if err := os.Rename(tmp, filepath.Join(dir, ManifestName)); err != nil {
		os.Remove(tmp)
		return pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "rename manifest")
	}
	return nil
}
