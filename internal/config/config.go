// Package config provides the run configuration for mamba.
//
// A Context is an immutable value: it is loaded once from the TOML config
// file, overlaid with command line flags through the With* methods, and then
// passed explicitly to every component that needs it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"

	"github.com/BurntSushi/toml"

	"github.com/SandrineP/mamba/internal/errs"
	"github.com/SandrineP/mamba/internal/solver"
)

const (
	// DefaultChannelAlias is prepended to bare channel names.
	DefaultChannelAlias = "https://conda.anaconda.org"

	// ForceRefreshTTL is the repodata TTL, in seconds, used for the retry
	// after an unsatisfiable solve. Anything cached longer ago is refetched.
	ForceRefreshTTL = 2

	// NoDefaults in a channel list drops the configured channels.
	NoDefaults = "nodefaults"
)

// Dir returns the mamba config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/mamba if XDG_CONFIG_HOME is not set.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "mamba"), nil
}

// Context holds every setting an install run consults.
type Context struct {
	RootPrefix     string
	TargetPrefix   string
	PkgsDirs       []string
	Channels       []string
	ChannelAlias   string
	CustomChannels map[string]string
	Platform       string
	PinnedPackages []string

	// RepodataTTL is the number of seconds a cached repodata.json stays
	// fresh. 0 means never refetch a cached index.
	RepodataTTL     int
	RetryCleanCache bool

	FreezeInstalled bool
	NoPin           bool
	NoPyPin         bool

	DryRun    bool
	JSON      bool
	AlwaysYes bool
	Offline   bool

	SolverFlags    solver.Flags
	Categories     []string
	ExtractThreads int
}

// fileConfig mirrors config.toml. Pointer fields distinguish "unset" from
// an explicit zero value.
type fileConfig struct {
	RootPrefix      *string           `toml:"root_prefix"`
	PkgsDirs        []string          `toml:"pkgs_dirs"`
	Channels        []string          `toml:"channels"`
	ChannelAlias    *string           `toml:"channel_alias"`
	CustomChannels  map[string]string `toml:"custom_channels"`
	Platform        *string           `toml:"platform"`
	PinnedPackages  []string          `toml:"pinned_packages"`
	RepodataTTL     *int              `toml:"local_repodata_ttl"`
	RetryCleanCache *bool             `toml:"retry_clean_cache"`
	FreezeInstalled *bool             `toml:"freeze_installed"`
	AlwaysYes       *bool             `toml:"always_yes"`
	Offline         *bool             `toml:"offline"`
	ExtractThreads  *int              `toml:"extract_threads"`
	AllowDowngrade  *bool             `toml:"allow_downgrade"`
	AllowUninstall  *bool             `toml:"allow_uninstall"`
}

// Default returns the built-in configuration.
func Default() Context {
	root := os.Getenv("MAMBA_ROOT_PREFIX")
	if root == "" {
		if home, err := os.UserHomeDir(); err == nil {
			root = filepath.Join(home, "micromamba")
		} else {
			root = "micromamba"
		}
	}
	return Context{
		RootPrefix:     root,
		PkgsDirs:       []string{filepath.Join(root, "pkgs")},
		ChannelAlias:   DefaultChannelAlias,
		CustomChannels: map[string]string{},
		Platform:       HostPlatform(),
		RepodataTTL:    1,
		SolverFlags:    solver.DefaultFlags(),
		Categories:     []string{"main"},
	}
}

// Load reads the TOML file at path on top of Default. A missing file is not
// an error.
func Load(path string) (Context, error) {
	ctx := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ctx, nil
		}
		return ctx, errs.Wrap(errs.CodeIO, err, "failed to read config %s", path)
	}

	var fc fileConfig
	if _, err := toml.Decode(string(data), &fc); err != nil {
		return ctx, errs.Wrap(errs.CodeFormat, err, "invalid config %s", path)
	}

	if fc.RootPrefix != nil {
		ctx.RootPrefix = *fc.RootPrefix
		ctx.PkgsDirs = []string{filepath.Join(ctx.RootPrefix, "pkgs")}
	}
	if len(fc.PkgsDirs) > 0 {
		ctx.PkgsDirs = fc.PkgsDirs
	}
	if len(fc.Channels) > 0 {
		ctx.Channels = fc.Channels
	}
	if fc.ChannelAlias != nil {
		ctx.ChannelAlias = *fc.ChannelAlias
	}
	for name, url := range fc.CustomChannels {
		ctx.CustomChannels[name] = url
	}
	if fc.Platform != nil {
		ctx.Platform = *fc.Platform
	}
	ctx.PinnedPackages = fc.PinnedPackages
	if fc.RepodataTTL != nil {
		ctx.RepodataTTL = *fc.RepodataTTL
	}
	if fc.RetryCleanCache != nil {
		ctx.RetryCleanCache = *fc.RetryCleanCache
	}
	if fc.FreezeInstalled != nil {
		ctx.FreezeInstalled = *fc.FreezeInstalled
	}
	if fc.AlwaysYes != nil {
		ctx.AlwaysYes = *fc.AlwaysYes
	}
	if fc.Offline != nil {
		ctx.Offline = *fc.Offline
	}
	if fc.ExtractThreads != nil {
		ctx.ExtractThreads = *fc.ExtractThreads
	}
	if fc.AllowDowngrade != nil {
		ctx.SolverFlags.AllowDowngrade = *fc.AllowDowngrade
	}
	if fc.AllowUninstall != nil {
		ctx.SolverFlags.AllowUninstall = *fc.AllowUninstall
	}

	return ctx, nil
}

// WithTargetPrefix returns a copy of c targeting prefix.
func (c Context) WithTargetPrefix(prefix string) Context {
	c.TargetPrefix = prefix
	return c
}

// WithRepodataTTL returns a copy of c with a different repodata TTL.
func (c Context) WithRepodataTTL(seconds int) Context {
	c.RepodataTTL = seconds
	return c
}

// WithChannels returns a copy of c with channels applied as command line
// channels: they take precedence, and "nodefaults" among them drops the
// configured list entirely.
func (c Context) WithChannels(channels []string) Context {
	if len(channels) == 0 {
		return c
	}
	if idx := slices.Index(channels, NoDefaults); idx >= 0 {
		c.Channels = slices.Delete(slices.Clone(channels), idx, idx+1)
		return c
	}
	merged := slices.Clone(channels)
	for _, ch := range c.Channels {
		if !slices.Contains(merged, ch) {
			merged = append(merged, ch)
		}
	}
	c.Channels = merged
	return c
}

// EnvPrefix returns the prefix of the named environment under the root.
func (c Context) EnvPrefix(name string) string {
	if name == "base" {
		return c.RootPrefix
	}
	return filepath.Join(c.RootPrefix, "envs", name)
}

// RepodataCacheDir returns where channel indexes are cached.
func (c Context) RepodataCacheDir() string {
	if len(c.PkgsDirs) == 0 {
		return filepath.Join(c.RootPrefix, "pkgs", "cache")
	}
	return filepath.Join(c.PkgsDirs[0], "cache")
}

// HostPlatform maps the running OS and architecture to a conda subdir.
func HostPlatform() string {
	return platformFor(runtime.GOOS, runtime.GOARCH)
}

func platformFor(goos, goarch string) string {
	osName := map[string]string{"darwin": "osx", "windows": "win"}[goos]
	if osName == "" {
		osName = goos
	}
	arch := map[string]string{
		"amd64":   "64",
		"386":     "32",
		"arm64":   "arm64",
		"ppc64le": "ppc64le",
		"s390x":   "s390x",
	}[goarch]
	if arch == "" {
		arch = goarch
	}
	if goos == "linux" && goarch == "arm64" {
		arch = "aarch64"
	}
	return fmt.Sprintf("%s-%s", osName, arch)
}
