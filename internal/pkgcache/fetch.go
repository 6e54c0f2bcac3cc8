package pkgcache

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/SandrineP/mamba/internal/errs"
	"github.com/SandrineP/mamba/internal/httputil"
	"github.com/SandrineP/mamba/internal/specs"
)

// RecordFile is written into every extracted package and holds the record
// the package was fetched for.
const RecordFile = "info/repodata_record.json"

// Caches is an ordered list of package cache directories. Extracted
// packages are looked up in every directory and written to the first
// writable one.
type Caches struct {
	Dirs []string
}

// Extracted returns the directory holding the extracted package of rec.
func (c Caches) Extracted(rec specs.PackageRecord) (string, bool) {
	for _, dir := range c.Dirs {
		path := filepath.Join(dir, rec.Dist())
		if _, err := os.Stat(filepath.Join(path, RecordFile)); err == nil {
			return path, true
		}
	}
	return "", false
}

// Has reports whether rec is already extracted in some cache.
func (c Caches) Has(rec specs.PackageRecord) bool {
	_, ok := c.Extracted(rec)
	return ok
}

// WritableDir returns the first cache directory that can be written to.
func (c Caches) WritableDir() (string, error) {
	for _, dir := range c.Dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			continue
		}
		tmp, err := os.CreateTemp(dir, ".writable-*")
		if err != nil {
			continue
		}
		tmp.Close()
		os.Remove(tmp.Name())
		return dir, nil
	}
	return "", errs.New(errs.CodeIO, "no writable package cache in %v", c.Dirs)
}

// Fetcher downloads and extracts package archives.
type Fetcher struct {
	Client *httputil.Client
	Caches Caches
	Logger *log.Logger

	// Parallel bounds concurrent downloads and extractions.
	Parallel int

	// OnDone, when set, is called after each package is ready.
	OnDone func(rec specs.PackageRecord)
}

// NewFetcher returns a Fetcher over dirs.
func NewFetcher(client *httputil.Client, dirs []string, parallel int, logger *log.Logger) *Fetcher {
	if client == nil {
		client = httputil.NewClient()
	}
	if logger == nil {
		logger = log.Default()
	}
	if parallel <= 0 {
		parallel = 4
	}
	return &Fetcher{Client: client, Caches: Caches{Dirs: dirs}, Logger: logger, Parallel: parallel}
}

// FetchAll makes every record available as an extracted package and returns
// the extracted directories keyed by Dist.
func (f *Fetcher) FetchAll(ctx context.Context, records []specs.PackageRecord) (map[string]string, error) {
	dir, err := f.Caches.WritableDir()
	if err != nil {
		return nil, err
	}

	paths := make([]string, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.Parallel)
	for i, rec := range records {
		g.Go(func() error {
			path, err := f.fetch(gctx, dir, rec)
			if err != nil {
				return err
			}
			paths[i] = path
			if f.OnDone != nil {
				f.OnDone(rec)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(records))
	for i, rec := range records {
		out[rec.Dist()] = paths[i]
	}
	return out, nil
}

func (f *Fetcher) fetch(ctx context.Context, dir string, rec specs.PackageRecord) (string, error) {
	if path, ok := f.Caches.Extracted(rec); ok {
		f.Logger.Debug("using cached package", "package", rec.Dist(), "path", path)
		return path, nil
	}
	if rec.URL == "" {
		return "", errs.New(errs.CodeNotFound, "no download URL for %s", rec.Dist())
	}

	archive := filepath.Join(dir, rec.ArchiveName())
	if err := verify(archive, rec); err != nil {
		f.Logger.Info("downloading", "package", rec.Dist())
		if err := f.Client.FetchFile(ctx, rec.URL, archive); err != nil {
			return "", err
		}
		if err := verify(archive, rec); err != nil {
			os.Remove(archive)
			return "", err
		}
	}

	dest := filepath.Join(dir, rec.Dist())
	if err := Extract(archive, dest); err != nil {
		return "", err
	}
	if err := writeRecord(dest, rec); err != nil {
		return "", err
	}
	return dest, nil
}

// verify checks archive against the checksums known for rec. A missing
// archive is reported as an error so callers download it.
func verify(archive string, rec specs.PackageRecord) error {
	f, err := os.Open(archive)
	if err != nil {
		return errs.Wrap(errs.CodeIO, err, "failed to open %s", archive)
	}
	defer f.Close()

	var h hash.Hash
	var want string
	switch {
	case rec.SHA256 != "":
		h, want = sha256.New(), rec.SHA256
	case rec.MD5 != "":
		h, want = md5.New(), rec.MD5
	default:
		return nil
	}
	if _, err := io.Copy(h, f); err != nil {
		return errs.Wrap(errs.CodeIO, err, "failed to read %s", archive)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != want {
		return errs.New(errs.CodeFormat, "checksum mismatch for %s: got %s, want %s", filepath.Base(archive), got, want)
	}
	return nil
}

func writeRecord(dir string, rec specs.PackageRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errs.Wrap(errs.CodeFormat, err, "failed to encode record for %s", rec.Dist())
	}
	path := filepath.Join(dir, filepath.FromSlash(RecordFile))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errs.Wrap(errs.CodeIO, err, "failed to create %s", filepath.Dir(path))
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errs.Wrap(errs.CodeIO, err, "failed to write %s", path)
	}
	return nil
}
