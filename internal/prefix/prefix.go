// Package prefix reads and updates the package metadata of a conda
// environment: the conda-meta/<dist>.json records, the pinned file and the
// history marker.
package prefix

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/SandrineP/mamba/internal/errs"
	"github.com/SandrineP/mamba/internal/specs"
)

const (
	// MetaDir is the metadata directory inside every environment.
	MetaDir = "conda-meta"
	// HistoryFile is the revision log inside MetaDir.
	HistoryFile = "history"
	// PinnedFile lists user pins inside MetaDir, one spec per line.
	PinnedFile = "pinned"
)

// Data is the installed package inventory of one prefix.
type Data struct {
	path     string
	packages map[string]specs.PackageRecord
}

// Load reads every conda-meta/*.json record below path. A prefix without
// conda-meta yields an empty inventory.
func Load(path string) (*Data, error) {
	d := &Data{
		path:     path,
		packages: make(map[string]specs.PackageRecord),
	}

	metaDir := filepath.Join(path, MetaDir)
	entries, err := os.ReadDir(metaDir)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return nil, errs.Wrap(errs.CodeIO, err, "failed to read %s", metaDir)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		file := filepath.Join(metaDir, entry.Name())
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errs.Wrap(errs.CodeIO, err, "failed to read %s", file)
		}

		var rec specs.PackageRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, errs.Wrap(errs.CodeFormat, err, "failed to parse %s", file)
		}
		if rec.Name == "" {
			// Not a package record (e.g. a stray state file).
			continue
		}
		d.packages[rec.Name] = rec
	}

	return d, nil
}

// Path returns the prefix directory.
func (d *Data) Path() string { return d.path }

// Records returns the installed records sorted by name.
func (d *Data) Records() []specs.PackageRecord {
	out := make([]specs.PackageRecord, 0, len(d.packages))
	for _, rec := range d.packages {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the installed record named name.
func (d *Data) Get(name string) (specs.PackageRecord, bool) {
	rec, ok := d.packages[name]
	return rec, ok
}

// Len returns the number of installed packages.
func (d *Data) Len() int { return len(d.packages) }

// Add writes rec to conda-meta and records it as installed.
func (d *Data) Add(rec specs.PackageRecord) error {
	metaDir := filepath.Join(d.path, MetaDir)
	if err := os.MkdirAll(metaDir, 0755); err != nil {
		return errs.Wrap(errs.CodeIO, err, "failed to create %s", metaDir)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", rec.Dist(), err)
	}

	file := filepath.Join(metaDir, rec.Dist()+".json")
	if err := os.WriteFile(file, data, 0644); err != nil {
		return errs.Wrap(errs.CodeIO, err, "failed to write %s", file)
	}

	d.packages[rec.Name] = rec
	return nil
}

// Remove deletes the conda-meta record of the installed package name.
func (d *Data) Remove(name string) error {
	rec, ok := d.packages[name]
	if !ok {
		return errs.New(errs.CodeNotFound, "package %s is not installed in %s", name, d.path)
	}

	file := filepath.Join(d.path, MetaDir, rec.Dist()+".json")
	if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.CodeIO, err, "failed to remove %s", file)
	}

	delete(d.packages, name)
	return nil
}

// HistoryPath returns the path of the revision log.
func (d *Data) HistoryPath() string {
	return filepath.Join(d.path, MetaDir, HistoryFile)
}

// Exists reports whether path is an existing directory.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// IsEnv reports whether path looks like a conda environment.
func IsEnv(path string) bool {
	info, err := os.Stat(filepath.Join(path, MetaDir))
	return err == nil && info.IsDir()
}

// CreateTarget creates path with an empty conda-meta/history marker so the
// directory is recognised as an environment.
func CreateTarget(path string) error {
	metaDir := filepath.Join(path, MetaDir)
	if err := os.MkdirAll(metaDir, 0755); err != nil {
		return errs.Wrap(errs.CodeIO, err, "failed to create %s", metaDir)
	}

	history := filepath.Join(metaDir, HistoryFile)
	f, err := os.OpenFile(history, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errs.Wrap(errs.CodeIO, err, "failed to create %s", history)
	}
	return f.Close()
}
