//go:build !unix

package pkgcache

import "os"

// Package caches are not locked on platforms without flock(2).
func tryLock(*os.File) (bool, error) { return true, nil }

func unlock(*os.File) {}
