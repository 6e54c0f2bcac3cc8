// Package lockfile reads conda-lock environment lockfiles (version 1).
package lockfile

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/SandrineP/mamba/internal/errs"
	"github.com/SandrineP/mamba/internal/httputil"
	"github.com/SandrineP/mamba/internal/specs"
)

// SupportedVersion is the only lockfile format version understood.
const SupportedVersion = 1

// DefaultCategory applies to packages that declare none.
const DefaultCategory = "main"

// Lockfile is a parsed environment lockfile.
type Lockfile struct {
	Version  int       `yaml:"version"`
	Metadata Metadata  `yaml:"metadata"`
	Packages []Package `yaml:"package"`
}

// Metadata describes how the lockfile was produced.
type Metadata struct {
	Platforms   []string          `yaml:"platforms"`
	Sources     []string          `yaml:"sources"`
	Channels    []Channel         `yaml:"channels"`
	ContentHash map[string]string `yaml:"content_hash"`
}

// Channel is one channel the lock was solved against.
type Channel struct {
	URL         string   `yaml:"url"`
	UsedEnvVars []string `yaml:"used_env_vars"`
}

// Package is one locked package for one platform.
type Package struct {
	Name         string            `yaml:"name"`
	Version      string            `yaml:"version"`
	Manager      string            `yaml:"manager"`
	Platform     string            `yaml:"platform"`
	URL          string            `yaml:"url"`
	Category     string            `yaml:"category"`
	Optional     bool              `yaml:"optional"`
	Hash         Hash              `yaml:"hash"`
	Dependencies map[string]string `yaml:"dependencies"`
}

// Hash holds the archive checksums.
type Hash struct {
	MD5    string `yaml:"md5"`
	SHA256 string `yaml:"sha256"`
}

// Read parses the lockfile at path.
func Read(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.CodeIO, err, "failed to read lockfile %s", path)
	}
	lf, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lf, nil
}

// Parse decodes and validates lockfile content.
func Parse(data []byte) (*Lockfile, error) {
	var lf Lockfile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, errs.Wrap(errs.CodeFormat, err, "invalid lockfile")
	}
	if err := lf.Validate(); err != nil {
		return nil, err
	}
	for i := range lf.Packages {
		if lf.Packages[i].Category == "" {
			lf.Packages[i].Category = DefaultCategory
		}
	}
	return &lf, nil
}

// Validate checks the version and the required package fields.
func (lf *Lockfile) Validate() error {
	if lf.Version != SupportedVersion {
		return errs.New(errs.CodeFormat, "unsupported lockfile version %d (expected %d)", lf.Version, SupportedVersion)
	}
	for i, pkg := range lf.Packages {
		missing := pkg.missingFields()
		if len(missing) > 0 {
			return errs.New(errs.CodeFormat, "package %d (%s) is missing %s", i, pkg.Name, strings.Join(missing, ", "))
		}
	}
	return nil
}

func (p Package) missingFields() []string {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"name", p.Name},
		{"version", p.Version},
		{"manager", p.Manager},
		{"platform", p.Platform},
		{"url", p.URL},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// PackagesFor returns the packages of one category, platform and manager,
// in file order. Any empty argument matches nothing.
func (lf *Lockfile) PackagesFor(category, platform, manager string) []Package {
	if category == "" || platform == "" || manager == "" {
		return nil
	}
	var out []Package
	for _, pkg := range lf.Packages {
		if pkg.Category == category && pkg.Platform == platform && pkg.Manager == manager {
			out = append(out, pkg)
		}
	}
	return out
}

// Managers returns the distinct package managers used for platform, in
// first-seen order.
func (lf *Lockfile) Managers(platform string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, pkg := range lf.Packages {
		if pkg.Platform == platform && !seen[pkg.Manager] {
			seen[pkg.Manager] = true
			out = append(out, pkg.Manager)
		}
	}
	return out
}

// Record converts a conda package into a record carrying its checksums.
func (p Package) Record() (specs.PackageRecord, error) {
	rec, err := specs.ParsePackageURL(p.URL)
	if err != nil {
		return specs.PackageRecord{}, err
	}
	if p.Hash.MD5 != "" {
		rec.MD5 = p.Hash.MD5
	}
	if p.Hash.SHA256 != "" {
		rec.SHA256 = p.Hash.SHA256
	}
	for _, dep := range slices.Sorted(maps.Keys(p.Dependencies)) {
		rec.Depends = append(rec.Depends, strings.TrimSpace(dep+" "+p.Dependencies[dep]))
	}
	return rec, nil
}

// IsLockfileName reports whether name follows the *-lock.yaml convention.
func IsLockfileName(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, "-lock.yaml") || strings.HasSuffix(base, "-lock.yml")
}

// IsRemote reports whether location is a URL rather than a local path.
func IsRemote(location string) bool {
	return strings.Contains(location, "://") && !strings.HasPrefix(location, "file://")
}

// Fetch downloads a remote lockfile into a temporary file and returns its
// path along with a cleanup function.
func Fetch(ctx context.Context, client *httputil.Client, location string) (string, func(), error) {
	tmp, err := os.CreateTemp("", "mamba-*-lock.yaml")
	if err != nil {
		return "", nil, errs.Wrap(errs.CodeIO, err, "failed to create temporary lockfile")
	}
	path := tmp.Name()
	tmp.Close()
	cleanup := func() { os.Remove(path) }

	if err := client.FetchFile(ctx, location, path); err != nil {
		cleanup()
		return "", nil, errs.Wrap(errs.CodeIO, err, "Could not download environment lockfile from %s", location)
	}
	return path, cleanup, nil
}
