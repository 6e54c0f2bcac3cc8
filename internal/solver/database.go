package solver

import (
	"slices"
	"sort"

	"github.com/SandrineP/mamba/internal/specs"
)

// Database is what the solver reads: the installed packages of the target
// prefix and every candidate offered by the loaded channels.
type Database interface {
	// Installed returns the installed records sorted by name.
	Installed() []specs.PackageRecord
	// Candidates returns the channel records named name, best first.
	Candidates(name string) []specs.PackageRecord
	// Lookup finds the channel record with the same name, version and build
	// as rec.
	Lookup(rec specs.PackageRecord) (specs.PackageRecord, bool)
	// Close releases the index. The database is unusable afterwards.
	Close() error
}

type repo struct {
	name     string
	priority int
}

// Index is an in-memory Database.
type Index struct {
	repos     []repo
	byName    map[string][]indexed
	installed map[string]specs.PackageRecord
	strict    bool
}

type indexed struct {
	rec      specs.PackageRecord
	priority int
}

// NewIndex returns an empty index. With strictPriority, candidates from a
// higher priority channel always sort before lower priority ones.
func NewIndex(strictPriority bool) *Index {
	return &Index{
		byName:    make(map[string][]indexed),
		installed: make(map[string]specs.PackageRecord),
		strict:    strictPriority,
	}
}

// AddRepo adds the records of one channel subdir. Repos added first get
// the highest priority.
func (ix *Index) AddRepo(name string, records []specs.PackageRecord) {
	priority := -len(ix.repos)
	ix.repos = append(ix.repos, repo{name: name, priority: priority})
	for _, rec := range records {
		ix.byName[rec.Name] = append(ix.byName[rec.Name], indexed{rec: rec, priority: priority})
	}
}

// SetInstalled replaces the installed package set.
func (ix *Index) SetInstalled(records []specs.PackageRecord) {
	ix.installed = make(map[string]specs.PackageRecord, len(records))
	for _, rec := range records {
		ix.installed[rec.Name] = rec
	}
}

// Installed implements Database.
func (ix *Index) Installed() []specs.PackageRecord {
	out := make([]specs.PackageRecord, 0, len(ix.installed))
	for _, rec := range ix.installed {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Candidates implements Database.
func (ix *Index) Candidates(name string) []specs.PackageRecord {
	entries := slices.Clone(ix.byName[name])
	sort.SliceStable(entries, func(i, j int) bool {
		if ix.strict && entries[i].priority != entries[j].priority {
			return entries[i].priority > entries[j].priority
		}
		return specs.CompareRecords(entries[i].rec, entries[j].rec) < 0
	})
	out := make([]specs.PackageRecord, len(entries))
	for i, e := range entries {
		out[i] = e.rec
	}
	return out
}

// Lookup implements Database, preferring a record from rec's channel.
func (ix *Index) Lookup(rec specs.PackageRecord) (specs.PackageRecord, bool) {
	var found specs.PackageRecord
	ok := false
	for _, e := range ix.byName[rec.Name] {
		if !e.rec.SameBuild(rec) {
			continue
		}
		if rec.Channel != "" && specs.ChannelName(e.rec.Channel) == specs.ChannelName(rec.Channel) {
			return e.rec, true
		}
		if !ok {
			found, ok = e.rec, true
		}
	}
	return found, ok
}

// Len returns the number of channel records held.
func (ix *Index) Len() int {
	n := 0
	for _, entries := range ix.byName {
		n += len(entries)
	}
	return n
}

// Close implements Database.
func (ix *Index) Close() error {
	ix.repos = nil
	ix.byName = nil
	ix.installed = nil
	return nil
}
