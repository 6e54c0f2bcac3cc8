// Package repodata resolves channels and loads their repodata.json indexes
// into a solver database, caching each index on disk.
package repodata

import (
	"net/url"
	"path/filepath"
	"slices"
	"strings"

	"github.com/SandrineP/mamba/internal/config"
	"github.com/SandrineP/mamba/internal/errs"
	"github.com/SandrineP/mamba/internal/specs"
)

// Channel is a resolved channel: Name is what users type, URL is the base
// that platform directories hang off.
type Channel struct {
	Name string
	URL  string
}

// SubdirURL returns the URL of one platform directory of c.
func (c Channel) SubdirURL(subdir string) string {
	return strings.TrimRight(c.URL, "/") + "/" + subdir
}

// ResolveChannel turns a channel name, URL or local path into a Channel.
// Bare names go through cfg.CustomChannels and then cfg.ChannelAlias.
func ResolveChannel(name string, cfg config.Context) (Channel, error) {
	name = strings.TrimRight(strings.TrimSpace(name), "/")
	if name == "" {
		return Channel{}, errs.New(errs.CodeParse, "empty channel name")
	}

	switch {
	case strings.Contains(name, "://"):
		u, err := url.Parse(name)
		if err != nil {
			return Channel{}, errs.Wrap(errs.CodeParse, err, "invalid channel URL %q", name)
		}
		return Channel{Name: specs.ChannelName(u.Path), URL: name}, nil

	case filepath.IsAbs(name) || strings.HasPrefix(name, "."):
		abs, err := filepath.Abs(name)
		if err != nil {
			return Channel{}, errs.Wrap(errs.CodeIO, err, "failed to resolve channel path %s", name)
		}
		return Channel{Name: filepath.Base(abs), URL: "file://" + filepath.ToSlash(abs)}, nil
	}

	if custom, ok := cfg.CustomChannels[name]; ok {
		return Channel{Name: name, URL: strings.TrimRight(custom, "/")}, nil
	}
	alias := cfg.ChannelAlias
	if alias == "" {
		alias = config.DefaultChannelAlias
	}
	return Channel{Name: name, URL: strings.TrimRight(alias, "/") + "/" + name}, nil
}

// ChannelNames returns the channels to load: the configured ones, followed
// by any channel named in a "channel::name" spec that is not already listed.
func ChannelNames(cfg config.Context, requested []string) []string {
	names := slices.Clone(cfg.Channels)
	for _, raw := range requested {
		ms, err := specs.ParseMatchSpec(raw)
		if err != nil || ms.Channel == "" {
			continue
		}
		if !slices.Contains(names, ms.Channel) {
			names = append(names, ms.Channel)
		}
	}
	return names
}
