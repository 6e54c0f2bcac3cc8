package repodata

import (
	"cmp"
	"context"
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/SandrineP/mamba/internal/config"
	"github.com/SandrineP/mamba/internal/errs"
	"github.com/SandrineP/mamba/internal/httputil"
	"github.com/SandrineP/mamba/internal/solver"
	"github.com/SandrineP/mamba/internal/specs"
)

// Noarch is the platform independent subdir loaded next to the target
// platform.
const Noarch = "noarch"

// document is the subset of repodata.json that is read.
type document struct {
	Info struct {
		Subdir string `json:"subdir"`
	} `json:"info"`
	Packages      map[string]specs.PackageRecord `json:"packages"`
	CondaPackages map[string]specs.PackageRecord `json:"packages.conda"`
}

// Loader fetches channel indexes.
type Loader struct {
	Client *httputil.Client
	Cache  *Cache
	Logger *log.Logger

	// Parallel bounds concurrent index downloads.
	Parallel int
}

// NewLoader returns a Loader caching under cacheDir.
func NewLoader(client *httputil.Client, cacheDir string, logger *log.Logger) *Loader {
	if client == nil {
		client = httputil.NewClient()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Loader{Client: client, Cache: NewCache(cacheDir), Logger: logger, Parallel: 4}
}

type subdirIndex struct {
	channel Channel
	subdir  string
	records []specs.PackageRecord
}

// Load resolves channels and loads the platform and noarch index of each
// into a new solver index. Channels keep their order as priority.
func (l *Loader) Load(ctx context.Context, cfg config.Context, channels []string) (*solver.Index, error) {
	resolved := make([]Channel, 0, len(channels))
	for _, name := range channels {
		ch, err := ResolveChannel(name, cfg)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, ch)
	}

	subdirs := []string{cfg.Platform, Noarch}
	results := make([]subdirIndex, len(resolved)*len(subdirs))
	ttl := time.Duration(cfg.RepodataTTL) * time.Second

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(l.Parallel, 1))
	for i, ch := range resolved {
		for j, subdir := range subdirs {
			slot := &results[i*len(subdirs)+j]
			g.Go(func() error {
				records, err := l.loadSubdir(gctx, ch, subdir, ttl, cfg.Offline)
				if err != nil {
					return err
				}
				*slot = subdirIndex{channel: ch, subdir: subdir, records: records}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	index := solver.NewIndex(cfg.SolverFlags.StrictRepoPriority)
	for i, ch := range resolved {
		var records []specs.PackageRecord
		for j := range subdirs {
			records = append(records, results[i*len(subdirs)+j].records...)
		}
		index.AddRepo(ch.Name, records)
		l.Logger.Debug("loaded channel", "channel", ch.Name, "packages", len(records))
	}
	return index, nil
}

func (l *Loader) loadSubdir(ctx context.Context, ch Channel, subdir string, ttl time.Duration, offline bool) ([]specs.PackageRecord, error) {
	base := ch.SubdirURL(subdir)
	url := base + "/repodata.json"

	cached, fresh, err := l.Cache.Get(url, ttl)
	if err != nil {
		return nil, err
	}

	data := cached
	if !fresh && !offline {
		l.Logger.Info("fetching index", "url", url)
		fetched, err := l.Client.FetchBytes(ctx, url)
		switch {
		case err == nil:
			data = fetched
			if err := l.Cache.Put(url, data); err != nil {
				l.Logger.Warn("could not cache index", "url", url, "err", err)
			}
		case httputil.IsNotFound(err):
			l.Logger.Debug("no index for subdir", "url", url)
			return nil, nil
		case cached != nil:
			l.Logger.Warn("using stale index", "url", url, "err", err)
		default:
			return nil, err
		}
	}
	if data == nil {
		if offline {
			l.Logger.Warn("no cached index in offline mode", "url", url)
		}
		return nil, nil
	}

	return Parse(data, ch.URL, subdir)
}

// Parse decodes a repodata.json document. Records get their channel,
// subdir, file name and download URL filled in; .conda entries come first
// and shadow the .tar.bz2 archive of the same build.
func Parse(data []byte, channelURL, subdir string) ([]specs.PackageRecord, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errs.Wrap(errs.CodeFormat, err, "invalid repodata for %s/%s", channelURL, subdir)
	}
	if doc.Info.Subdir != "" {
		subdir = doc.Info.Subdir
	}

	seen := make(map[string]bool, len(doc.CondaPackages))
	var out []specs.PackageRecord
	add := func(entries map[string]specs.PackageRecord) {
		for _, fn := range slices.Sorted(maps.Keys(entries)) {
			rec := entries[fn]
			if seen[rec.Dist()] {
				continue
			}
			seen[rec.Dist()] = true
			rec.Filename = fn
			rec.Channel = channelURL
			if rec.Subdir == "" {
				rec.Subdir = subdir
			}
			rec.URL = channelURL + "/" + rec.Subdir + "/" + fn
			out = append(out, rec)
		}
	}
	add(doc.CondaPackages)
	add(doc.Packages)

	slices.SortStableFunc(out, func(a, b specs.PackageRecord) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return specs.CompareRecords(a, b)
	})
	return out, nil
}
