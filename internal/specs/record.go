package specs

import (
	"fmt"
	"strings"
)

// PackageRecord identifies one build of a package, either installed in a
// prefix or offered by a channel. The JSON layout follows the
// conda-meta/<dist>.json and repodata.json entry formats.
type PackageRecord struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Build       string   `json:"build"`
	BuildNumber int      `json:"build_number"`
	Channel     string   `json:"channel,omitempty"`
	Subdir      string   `json:"subdir,omitempty"`
	URL         string   `json:"url,omitempty"`
	Filename    string   `json:"fn,omitempty"`
	MD5         string   `json:"md5,omitempty"`
	SHA256      string   `json:"sha256,omitempty"`
	Size        int64    `json:"size,omitempty"`
	Depends     []string `json:"depends,omitempty"`
	Constrains  []string `json:"constrains,omitempty"`
	Files       []string `json:"files,omitempty"`
}

// Dist returns "name-version-build".
func (r PackageRecord) Dist() string {
	return fmt.Sprintf("%s-%s-%s", r.Name, r.Version, r.Build)
}

// Identity returns the history identity string, "channel/subdir::dist".
func (r PackageRecord) Identity() string {
	var sb strings.Builder
	if r.Channel != "" {
		sb.WriteString(strings.TrimRight(r.Channel, "/"))
		sb.WriteString("/")
	}
	if r.Subdir != "" {
		sb.WriteString(r.Subdir)
	}
	if sb.Len() > 0 {
		sb.WriteString("::")
	}
	sb.WriteString(r.Dist())
	return sb.String()
}

// SameBuild reports whether r and o are the same name, version and build.
func (r PackageRecord) SameBuild(o PackageRecord) bool {
	return r.Name == o.Name && r.Version == o.Version && r.Build == o.Build
}

// ArchiveName returns the package file name, defaulting to the .tar.bz2 form.
func (r PackageRecord) ArchiveName() string {
	if r.Filename != "" {
		return r.Filename
	}
	return r.Dist() + ".tar.bz2"
}

// ParsedVersion parses r.Version, returning the zero Version on failure.
func (r PackageRecord) ParsedVersion() Version {
	v, err := ParseVersion(r.Version)
	if err != nil {
		return Version{}
	}
	return v
}

// CompareRecords orders records best-first for solving: higher version,
// then higher build number, then build string.
func CompareRecords(a, b PackageRecord) int {
	if c := b.ParsedVersion().Compare(a.ParsedVersion()); c != 0 {
		return c
	}
	if a.BuildNumber != b.BuildNumber {
		if a.BuildNumber > b.BuildNumber {
			return -1
		}
		return 1
	}
	return strings.Compare(b.Build, a.Build)
}

// ChannelName returns the short name of a channel, e.g. "conda-forge" for
// "https://conda.anaconda.org/conda-forge".
func ChannelName(channel string) string {
	channel = strings.TrimRight(channel, "/")
	if idx := strings.LastIndexByte(channel, '/'); idx >= 0 {
		return channel[idx+1:]
	}
	return channel
}
