package history

import (
	"maps"
	"slices"

	"github.com/SandrineP/mamba/internal/specs"
)

// PackageDiff is the net change between a target revision and the current
// state. Installed holds packages present now that were not at the target
// revision (or at another version). Removed holds packages present at the
// target revision that are gone now (or at another version).
type PackageDiff struct {
	Removed   map[string]specs.PackageRecord
	Installed map[string]specs.PackageRecord
}

type revisionChanges struct {
	num       int
	removed   map[string]specs.PackageRecord
	installed map[string]specs.PackageRecord
}

// Reconcile folds every revision after target into a PackageDiff. Undoing
// the diff (removing Installed, installing Removed) restores the package
// set of revision target. Versions decide whether a reinstall cancels an
// earlier removal; builds are not compared.
func Reconcile(requests []UserRequest, target int) PackageDiff {
	var revs []*revisionChanges
	for _, req := range requests {
		if !req.HasChanges() || req.Revision <= target {
			continue
		}
		rev := &revisionChanges{
			num:       req.Revision,
			removed:   make(map[string]specs.PackageRecord),
			installed: make(map[string]specs.PackageRecord),
		}
		for _, d := range req.UnlinkDists {
			rec := specs.ParseDist(d)
			rev.removed[rec.Name] = rec
		}
		for _, d := range req.LinkDists {
			rec := specs.ParseDist(d)
			rev.installed[rec.Name] = rec
		}
		revs = append(revs, rev)
	}

	diff := PackageDiff{
		Removed:   make(map[string]specs.PackageRecord),
		Installed: make(map[string]specs.PackageRecord),
	}

	// consumeInstall applies rev's install of name, if any. Reinstalling the
	// version recorded as removed cancels that removal.
	consumeInstall := func(rev *revisionChanges, name string) bool {
		rec, ok := rev.installed[name]
		if !ok {
			return false
		}
		if prev, ok := diff.Removed[name]; ok && prev.Version == rec.Version {
			delete(diff.Removed, name)
		} else {
			diff.Installed[name] = rec
		}
		delete(rev.installed, name)
		return true
	}

	// consumeRemove is the mirror of consumeInstall.
	consumeRemove := func(rev *revisionChanges, name string) bool {
		rec, ok := rev.removed[name]
		if !ok {
			return false
		}
		if prev, ok := diff.Installed[name]; ok && prev.Version == rec.Version {
			delete(diff.Installed, name)
		} else {
			diff.Removed[name] = rec
		}
		delete(rev.removed, name)
		return true
	}

	for len(revs) > 0 {
		front, later := revs[0], revs[1:]

		// Packages present before front: follow them through every later
		// revision.
		for _, name := range slices.Sorted(maps.Keys(front.removed)) {
			diff.Removed[name] = front.removed[name]
			delete(front.removed, name)

			lastlyRemoved := !consumeInstall(front, name)
			for _, rev := range later {
				if lastlyRemoved {
					lastlyRemoved = !consumeInstall(rev, name)
					continue
				}
				lastlyRemoved = consumeRemove(rev, name)
				if lastlyRemoved {
					lastlyRemoved = !consumeInstall(rev, name)
				}
			}
		}

		// Packages new in front: follow them until they are removed again.
		// A later reinstall starts a fresh chain from its own revision.
		for _, name := range slices.Sorted(maps.Keys(front.installed)) {
			diff.Installed[name] = front.installed[name]
			delete(front.installed, name)

			lastlyRemoved := false
			for _, rev := range later {
				if lastlyRemoved {
					break
				}
				lastlyRemoved = consumeRemove(rev, name)
				if lastlyRemoved {
					lastlyRemoved = !consumeInstall(rev, name)
				}
			}
		}

		revs = later
	}

	return diff
}

// Undo returns the records to unlink and to link to revert diff, each
// sorted by name.
func (d PackageDiff) Undo() (unlink, link []specs.PackageRecord) {
	for _, name := range slices.Sorted(maps.Keys(d.Installed)) {
		unlink = append(unlink, d.Installed[name])
	}
	for _, name := range slices.Sorted(maps.Keys(d.Removed)) {
		link = append(link, d.Removed[name])
	}
	return unlink, link
}

// Empty reports whether the diff changes nothing.
func (d PackageDiff) Empty() bool {
	return len(d.Removed) == 0 && len(d.Installed) == 0
}
