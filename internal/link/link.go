// Package link places extracted packages into a prefix and removes them
// again, keeping conda-meta in sync.
package link

import (
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/SandrineP/mamba/internal/errs"
	"github.com/SandrineP/mamba/internal/prefix"
	"github.com/SandrineP/mamba/internal/specs"
)

// infoDir holds package metadata and is never linked into the prefix.
const infoDir = "info"

// Linker links and unlinks packages.
type Linker struct {
	Logger *log.Logger
}

// New returns a Linker logging to logger, or to the default logger when nil.
func New(logger *log.Logger) *Linker {
	if logger == nil {
		logger = log.Default()
	}
	return &Linker{Logger: logger}
}

// Link hard links every file of the extracted package into env, falling back
// to a copy across devices, and records rec with its file list.
func (l *Linker) Link(env *prefix.Data, extracted string, rec specs.PackageRecord) error {
	var files []string
	err := filepath.WalkDir(extracted, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(extracted, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if rel == infoDir {
				return filepath.SkipDir
			}
			return nil
		}

		dest := filepath.Join(env.Path(), rel)
		if err := place(path, dest, d); err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return errs.Wrap(errs.CodeIO, err, "failed to link %s", rec.Dist())
	}

	slices.Sort(files)
	rec.Files = files
	l.Logger.Debug("linked", "package", rec.Dist(), "files", len(files))
	return env.Add(rec)
}

func place(src, dest string, d fs.DirEntry) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return err
	}

	if d.Type()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dest)
	}
	if err := os.Link(src, dest); err == nil {
		return nil
	}
	return copyFile(src, dest)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Unlink removes the files recorded for rec's installed package and its
// conda-meta record. Directories left empty are removed as well.
func (l *Linker) Unlink(env *prefix.Data, rec specs.PackageRecord) error {
	installed, ok := env.Get(rec.Name)
	if !ok {
		return errs.New(errs.CodeNotFound, "package %s is not installed in %s", rec.Name, env.Path())
	}

	dirs := make(map[string]bool)
	for _, file := range installed.Files {
		path := filepath.Join(env.Path(), filepath.FromSlash(file))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errs.Wrap(errs.CodeIO, err, "failed to remove %s", path)
		}
		for dir := filepath.Dir(path); dir != env.Path() && strings.HasPrefix(dir, env.Path()); dir = filepath.Dir(dir) {
			dirs[dir] = true
		}
	}

	// Deepest first so parents are empty by the time they are visited.
	ordered := slices.Collect(maps.Keys(dirs))
	slices.SortFunc(ordered, func(a, b string) int { return len(b) - len(a) })
	for _, dir := range ordered {
		os.Remove(dir)
	}

	l.Logger.Debug("unlinked", "package", installed.Dist(), "files", len(installed.Files))
	return env.Remove(rec.Name)
}
