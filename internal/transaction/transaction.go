// Package transaction plans the set of packages to unlink from and link
// into a prefix. A Transaction is built from a solver solution, from explicit
// package URLs, from a lockfile or from a history revision diff; it never
// contains packages that belong to another package manager.
package transaction

import (
	"cmp"
	"slices"

	"github.com/SandrineP/mamba/internal/errs"
	"github.com/SandrineP/mamba/internal/history"
	"github.com/SandrineP/mamba/internal/lockfile"
	"github.com/SandrineP/mamba/internal/pkgmgr"
	"github.com/SandrineP/mamba/internal/solver"
	"github.com/SandrineP/mamba/internal/specs"
)

// Transaction is a planned change to one prefix.
type Transaction struct {
	Prefix string
	Link   []specs.PackageRecord
	Unlink []specs.PackageRecord

	// UpdateSpecs and RemoveSpecs are recorded in the history entry.
	UpdateSpecs []string
	RemoveSpecs []string
}

// Empty reports whether applying t would change nothing.
func (t *Transaction) Empty() bool {
	return len(t.Link) == 0 && len(t.Unlink) == 0
}

// FromSolution plans the transaction the solver chose for req.
func FromSolution(prefix string, req *solver.Request, sol *solver.Solution) *Transaction {
	t := &Transaction{
		Prefix: prefix,
		Link:   slices.Clone(sol.Link),
		Unlink: slices.Clone(sol.Unlink),
	}
	for _, job := range req.Jobs {
		if install, ok := job.(solver.Install); ok {
			t.UpdateSpecs = append(t.UpdateSpecs, install.Spec.String())
		}
	}
	t.sort()
	return t
}

// FromURLs plans an explicit install of package archive URLs. Records that
// are already installed with the same build are skipped; an installed record
// of the same name is replaced.
func FromURLs(prefix string, installed []specs.PackageRecord, urls []string) (*Transaction, error) {
	records := make([]specs.PackageRecord, 0, len(urls))
	for _, u := range urls {
		rec, err := specs.ParsePackageURL(u)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	t := fromRecords(prefix, installed, records)
	for _, rec := range records {
		t.UpdateSpecs = append(t.UpdateSpecs, rec.URL)
	}
	return t, nil
}

// FromLockfile plans the conda packages of the given categories for
// platform. Packages of other managers are returned as one batch per
// manager, installed from lockDir.
func FromLockfile(prefix string, installed []specs.PackageRecord, lf *lockfile.Lockfile, categories []string, platform, lockDir string) (*Transaction, []pkgmgr.Spec, error) {
	var records []specs.PackageRecord
	var others []pkgmgr.Spec

	for _, manager := range lf.Managers(platform) {
		for _, category := range categories {
			pkgs := lf.PackagesFor(category, platform, manager)
			if manager == "conda" {
				for _, pkg := range pkgs {
					rec, err := pkg.Record()
					if err != nil {
						return nil, nil, err
					}
					records = append(records, rec)
				}
				continue
			}
			for _, pkg := range pkgs {
				others = addOther(others, pkgmgr.Spec{Manager: manager, Cwd: lockDir}, pkg.Name+" @ "+pkg.URL)
			}
		}
	}

	t := fromRecords(prefix, installed, records)
	for _, rec := range records {
		t.UpdateSpecs = append(t.UpdateSpecs, rec.Name+"=="+rec.Version+"="+rec.Build)
	}
	return t, others, nil
}

// addOther appends dep to the batch with the same manager and cwd as key.
func addOther(others []pkgmgr.Spec, key pkgmgr.Spec, dep string) []pkgmgr.Spec {
	for i := range others {
		if others[i].Manager == key.Manager && others[i].Cwd == key.Cwd {
			others[i].Deps = append(others[i].Deps, dep)
			return others
		}
	}
	key.Deps = []string{dep}
	return append(others, key)
}

// Lookup resolves a record recovered from history into a downloadable one.
type Lookup interface {
	Lookup(rec specs.PackageRecord) (specs.PackageRecord, bool)
}

// FromDiff plans the reversal of diff: every package installed since the
// target revision is unlinked and every removed package is linked again.
func FromDiff(prefix string, installed []specs.PackageRecord, diff history.PackageDiff, lookup Lookup) (*Transaction, error) {
	byName := make(map[string]specs.PackageRecord, len(installed))
	for _, rec := range installed {
		byName[rec.Name] = rec
	}

	undoUnlink, undoLink := diff.Undo()
	t := &Transaction{Prefix: prefix}

	for _, rec := range undoUnlink {
		if current, ok := byName[rec.Name]; ok {
			rec = current
		}
		t.Unlink = append(t.Unlink, rec)
	}
	for _, rec := range undoLink {
		resolved, ok := lookup.Lookup(rec)
		if !ok {
			return nil, errs.New(errs.CodeNotFound, "package %s is not available from the configured channels", rec.Identity())
		}
		t.Link = append(t.Link, resolved)
		t.UpdateSpecs = append(t.UpdateSpecs, resolved.Name+"=="+resolved.Version)
	}
	t.sort()
	return t, nil
}

func fromRecords(prefix string, installed, records []specs.PackageRecord) *Transaction {
	byName := make(map[string]specs.PackageRecord, len(installed))
	for _, rec := range installed {
		byName[rec.Name] = rec
	}

	t := &Transaction{Prefix: prefix}
	for _, rec := range records {
		current, ok := byName[rec.Name]
		if ok && current.SameBuild(rec) {
			continue
		}
		if ok {
			t.Unlink = append(t.Unlink, current)
		}
		t.Link = append(t.Link, rec)
	}
	t.sort()
	return t
}

func (t *Transaction) sort() {
	byName := func(a, b specs.PackageRecord) int { return cmp.Compare(a.Name, b.Name) }
	slices.SortStableFunc(t.Link, byName)
	slices.SortStableFunc(t.Unlink, byName)
}
