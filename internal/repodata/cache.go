package repodata

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/SandrineP/mamba/internal/errs"
)

// Cache stores raw repodata.json documents keyed by URL. Freshness is the
// file modification time.
type Cache struct {
	dir string
	now func() time.Time
}

// NewCache returns a cache rooted at dir. The directory is created on the
// first Put.
func NewCache(dir string) *Cache {
	return &Cache{dir: dir, now: time.Now}
}

// Get returns the cached document for url. fresh is false when the entry is
// older than ttl; a ttl of 0 never expires. A missing entry returns nil data.
func (c *Cache) Get(url string, ttl time.Duration) (data []byte, fresh bool, err error) {
	path := c.path(url)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.CodeIO, err, "failed to stat cache entry %s", path)
	}

	data, err = os.ReadFile(path)
	if err != nil {
		return nil, false, errs.Wrap(errs.CodeIO, err, "failed to read cache entry %s", path)
	}
	fresh = ttl == 0 || c.now().Sub(info.ModTime()) < ttl
	return data, fresh, nil
}

// Put stores data for url, replacing any previous entry atomically.
func (c *Cache) Put(url string, data []byte) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return errs.Wrap(errs.CodeIO, err, "failed to create cache dir %s", c.dir)
	}
	tmp, err := os.CreateTemp(c.dir, ".repodata-*")
	if err != nil {
		return errs.Wrap(errs.CodeIO, err, "failed to create cache entry")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errs.Wrap(errs.CodeIO, err, "failed to write cache entry")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errs.Wrap(errs.CodeIO, err, "failed to write cache entry")
	}
	if err := os.Rename(tmp.Name(), c.path(url)); err != nil {
		os.Remove(tmp.Name())
		return errs.Wrap(errs.CodeIO, err, "failed to store cache entry")
	}
	return nil
}

// path maps a URL to its cache file.
func (c *Cache) path(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])[:16]+".json")
}
