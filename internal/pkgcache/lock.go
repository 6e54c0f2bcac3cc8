// Package pkgcache manages the package caches: it locks them for the
// duration of a transaction, downloads package archives into them and
// extracts the archives for linking.
package pkgcache

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/SandrineP/mamba/internal/errs"
)

// LockFileName is created in every locked cache directory.
const LockFileName = ".lock"

// lockPoll is how often a busy lock is retried.
var lockPoll = 100 * time.Millisecond

// Locks holds exclusive locks on a set of cache directories.
type Locks struct {
	files []*os.File
}

// LockAll takes an exclusive lock on every directory in dirs, in sorted
// order of their canonical paths so that concurrent processes cannot
// deadlock. It waits for busy locks until ctx is done.
func LockAll(ctx context.Context, dirs []string) (*Locks, error) {
	paths := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errs.Wrap(errs.CodeIO, err, "failed to create package cache %s", dir)
		}
		canonical, err := filepath.EvalSymlinks(dir)
		if err != nil {
			return nil, errs.Wrap(errs.CodeIO, err, "failed to resolve package cache %s", dir)
		}
		canonical, err = filepath.Abs(canonical)
		if err != nil {
			return nil, errs.Wrap(errs.CodeIO, err, "failed to resolve package cache %s", dir)
		}
		paths = append(paths, canonical)
	}
	slices.Sort(paths)
	paths = slices.Compact(paths)

	locks := &Locks{}
	for _, dir := range paths {
		f, err := lockDir(ctx, dir)
		if err != nil {
			locks.Unlock()
			return nil, err
		}
		locks.files = append(locks.files, f)
	}
	return locks, nil
}

func lockDir(ctx context.Context, dir string) (*os.File, error) {
	path := filepath.Join(dir, LockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errs.Wrap(errs.CodeIO, err, "failed to open lock file %s", path)
	}

	for {
		locked, err := tryLock(f)
		if err != nil {
			f.Close()
			return nil, errs.Wrap(errs.CodeIO, err, "failed to lock %s", path)
		}
		if locked {
			return f, nil
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, errs.Wrap(errs.CodeIO, ctx.Err(), "gave up waiting for lock %s", path)
		case <-time.After(lockPoll):
		}
	}
}

// Unlock releases every lock, in reverse order. It is safe to call more
// than once.
func (l *Locks) Unlock() {
	for i := len(l.files) - 1; i >= 0; i-- {
		unlock(l.files[i])
		l.files[i].Close()
	}
	l.files = nil
}
