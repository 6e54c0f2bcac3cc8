package specs

import (
	"net/url"
	"strings"

	"github.com/SandrineP/mamba/internal/errs"
)

// ParseDist recovers a record from a history identity string such as
// "https://conda.anaconda.org/conda-forge/linux-64::numpy-1.26.0-py311_0".
//
// The channel is the path segment before the last '/', the build is the
// text after the last '-' of the package part and the version the text
// before it. Without any '/', the channel is whatever precedes "::".
//
// Names with a trailing dash separated segment that looks like a version
// are split at the wrong place.
func ParseDist(s string) PackageRecord {
	var channel, pkg string
	if idx := strings.LastIndexByte(s, '/'); idx >= 0 {
		begin := s[:idx]
		channel = begin[strings.LastIndexByte(begin, '/')+1:]
		pkg = s[idx+1:]
	} else {
		// "channel::dist" or a bare dist.
		pkg = s
		if before, _, found := strings.Cut(s, "::"); found {
			channel = before
		}
	}
	rec := PackageRecord{Channel: channel}
	if idx := strings.LastIndex(pkg, "::"); idx >= 0 {
		if IsKnownSubdir(pkg[:idx]) {
			rec.Subdir = pkg[:idx]
		}
		pkg = pkg[idx+2:]
	}

	rest := pkg
	if idx := strings.LastIndexByte(rest, '-'); idx >= 0 {
		rec.Build = rest[idx+1:]
		rest = rest[:idx]
	} else {
		rec.Build = rest
	}
	if idx := strings.LastIndexByte(rest, '-'); idx >= 0 {
		rec.Version = rest[idx+1:]
		rec.Name = rest[:idx]
	} else {
		rec.Version = rest
		rec.Name = rest
	}
	return rec
}

var archiveExtensions = []string{".tar.bz2", ".conda"}

// ParsePackageURL resolves an explicit package URL, optionally carrying an
// md5 or sha256 fragment, into a record. The channel is everything before
// the platform directory.
func ParsePackageURL(raw string) (PackageRecord, error) {
	raw = strings.TrimSpace(raw)
	location, hash, _ := strings.Cut(raw, "#")

	u, err := url.Parse(location)
	if err != nil {
		return PackageRecord{}, errs.Wrap(errs.CodeParse, err, "invalid package URL %q", raw)
	}
	if u.Scheme == "" {
		return PackageRecord{}, errs.New(errs.CodeParse, "package URL %q has no scheme", raw)
	}

	idx := strings.LastIndexByte(location, '/')
	if idx < 0 {
		return PackageRecord{}, errs.New(errs.CodeParse, "package URL %q has no file name", raw)
	}
	filename := location[idx+1:]
	dir := location[:idx]

	stem := ""
	for _, ext := range archiveExtensions {
		if strings.HasSuffix(filename, ext) {
			stem = strings.TrimSuffix(filename, ext)
			break
		}
	}
	if stem == "" {
		return PackageRecord{}, errs.New(errs.CodeParse, "package URL %q does not name a .tar.bz2 or .conda archive", raw)
	}

	buildIdx := strings.LastIndexByte(stem, '-')
	if buildIdx <= 0 {
		return PackageRecord{}, errs.New(errs.CodeParse, "cannot split %q into name-version-build", filename)
	}
	versionIdx := strings.LastIndexByte(stem[:buildIdx], '-')
	if versionIdx <= 0 {
		return PackageRecord{}, errs.New(errs.CodeParse, "cannot split %q into name-version-build", filename)
	}

	rec := PackageRecord{
		Name:     stem[:versionIdx],
		Version:  stem[versionIdx+1 : buildIdx],
		Build:    stem[buildIdx+1:],
		URL:      location,
		Filename: filename,
	}
	if sub := strings.LastIndexByte(dir, '/'); sub >= 0 {
		rec.Subdir = dir[sub+1:]
		rec.Channel = dir[:sub]
	} else {
		rec.Channel = dir
	}
	rec.BuildNumber = buildNumberFromBuild(rec.Build)

	switch len(hash) {
	case 0:
	case 32:
		rec.MD5 = hash
	case 64:
		rec.SHA256 = hash
	default:
		if v, ok := strings.CutPrefix(hash, "sha256:"); ok {
			rec.SHA256 = v
		} else {
			return PackageRecord{}, errs.New(errs.CodeParse, "unrecognised hash %q in package URL", hash)
		}
	}
	return rec, nil
}

// buildNumberFromBuild reads the trailing "_<n>" of a build string.
func buildNumberFromBuild(build string) int {
	idx := strings.LastIndexByte(build, '_')
	digits := build[idx+1:]
	if digits == "" {
		return 0
	}
	n := 0
	for i := 0; i < len(digits); i++ {
		if !isDigit(digits[i]) {
			return 0
		}
		n = n*10 + int(digits[i]-'0')
	}
	return n
}
