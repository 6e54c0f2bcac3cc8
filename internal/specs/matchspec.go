package specs

import (
	"path"
	"regexp"
	"strings"

	"github.com/SandrineP/mamba/internal/errs"
)

// knownSubdirs lists the platform directories recognised after a channel
// name in "channel/subdir::name" specs.
var knownSubdirs = map[string]bool{
	"noarch":        true,
	"linux-32":      true,
	"linux-64":      true,
	"linux-aarch64": true,
	"linux-armv6l":  true,
	"linux-armv7l":  true,
	"linux-ppc64le": true,
	"linux-s390x":   true,
	"osx-64":        true,
	"osx-arm64":     true,
	"win-32":        true,
	"win-64":        true,
	"win-arm64":     true,
	"zos-z":         true,
}

// IsKnownSubdir reports whether s names a conda platform directory.
func IsKnownSubdir(s string) bool { return knownSubdirs[s] }

var (
	// Whitespace directly after an operator or around list separators is
	// dropped so "numpy >= 1.2 , < 2" reads as "numpy >=1.2,<2".
	opSpaceRe  = regexp.MustCompile(`([<>=!~])\s+`)
	sepSpaceRe = regexp.MustCompile(`\s*([,|])\s*`)
	nameRe     = regexp.MustCompile(`^[A-Za-z0-9_.*+-]+$`)
)

// MatchSpec is a parsed package constraint:
//
//	[channel[/subdir]::]name[ version[ build]]
//
// Also accepted are "name==1.0", "name=1.0=build", "name>=1,<2" and the
// bracket form "name[version='>=1',build='py*']".
type MatchSpec struct {
	Channel string
	Subdir  string
	Name    string
	Version VersionSpec
	Build   string
}

// ParseMatchSpec parses a single match spec string.
func ParseMatchSpec(s string) (MatchSpec, error) {
	raw := s
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "#"); idx >= 0 {
		s = strings.TrimSpace(s[:idx])
	}
	if s == "" {
		return MatchSpec{}, errs.New(errs.CodeParse, "empty match spec")
	}

	var ms MatchSpec
	var bracket map[string]string
	if idx := strings.IndexByte(s, '['); idx >= 0 {
		if !strings.HasSuffix(s, "]") {
			return MatchSpec{}, errs.New(errs.CodeParse, "unterminated bracket in match spec %q", raw)
		}
		attrs, err := parseBracket(s[idx+1 : len(s)-1])
		if err != nil {
			return MatchSpec{}, errs.Wrap(errs.CodeParse, err, "invalid match spec %q", raw)
		}
		bracket = attrs
		s = strings.TrimSpace(s[:idx])
	}

	if idx := strings.LastIndex(s, "::"); idx >= 0 {
		ms.Channel, ms.Subdir = splitChannel(s[:idx])
		s = s[idx+2:]
	}

	nameEnd := strings.IndexAny(s, " \t=<>!~|,")
	name := s
	rest := ""
	if nameEnd >= 0 {
		name, rest = s[:nameEnd], strings.TrimSpace(s[nameEnd:])
	}
	if !nameRe.MatchString(name) {
		return MatchSpec{}, errs.New(errs.CodeParse, "invalid package name in match spec %q", raw)
	}
	ms.Name = strings.ToLower(name)

	versionStr, build, err := splitVersionBuild(rest)
	if err != nil {
		return MatchSpec{}, errs.Wrap(errs.CodeParse, err, "invalid match spec %q", raw)
	}

	if val, ok := bracket["version"]; ok {
		versionStr = val
	}
	if val, ok := bracket["build"]; ok {
		build = val
	}
	if val, ok := bracket["channel"]; ok {
		ms.Channel, ms.Subdir = splitChannel(val)
	}
	if val, ok := bracket["subdir"]; ok {
		ms.Subdir = val
	}

	vs, err := ParseVersionSpec(versionStr)
	if err != nil {
		return MatchSpec{}, errs.Wrap(errs.CodeParse, err, "invalid version in match spec %q", raw)
	}
	ms.Version = vs
	if build != "*" {
		ms.Build = build
	}
	return ms, nil
}

// MustParseMatchSpec is ParseMatchSpec that panics on error, for literals.
func MustParseMatchSpec(s string) MatchSpec {
	ms, err := ParseMatchSpec(s)
	if err != nil {
		panic(err)
	}
	return ms
}

func splitChannel(s string) (channel, subdir string) {
	s = strings.TrimRight(s, "/")
	if idx := strings.LastIndexByte(s, '/'); idx >= 0 && knownSubdirs[s[idx+1:]] {
		return s[:idx], s[idx+1:]
	}
	return s, ""
}

func splitVersionBuild(rest string) (version, build string, err error) {
	if rest == "" {
		return "", "", nil
	}
	rest = opSpaceRe.ReplaceAllString(rest, "$1")
	rest = sepSpaceRe.ReplaceAllString(rest, "$1")

	fields := strings.Fields(rest)
	switch {
	case len(fields) > 2:
		return "", "", errs.New(errs.CodeParse, "too many fields in %q", rest)
	case len(fields) == 2:
		return fields[0], fields[1], nil
	}

	// Single token: "=1.2", "=1.2=build", "==1.2=build" or an expression.
	tok := fields[0]
	if strings.HasPrefix(tok, "==") {
		v, b, _ := strings.Cut(tok[2:], "=")
		return "==" + v, b, nil
	}
	if strings.HasPrefix(tok, "=") {
		v, b, found := strings.Cut(tok[1:], "=")
		if found {
			// name=1.2=build pins the exact version.
			return "==" + v, b, nil
		}
		return "=" + v, "", nil
	}
	return tok, "", nil
}

func parseBracket(body string) (map[string]string, error) {
	attrs := make(map[string]string)
	for _, item := range splitOutsideQuotes(body) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key, val, ok := strings.Cut(item, "=")
		if !ok {
			return nil, errs.New(errs.CodeParse, "bracket entry %q is not key=value", item)
		}
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		attrs[strings.TrimSpace(key)] = val
	}
	return attrs, nil
}

func splitOutsideQuotes(s string) []string {
	var out []string
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ',':
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

// Matches reports whether rec satisfies every constraint of the spec.
func (ms MatchSpec) Matches(rec PackageRecord) bool {
	if ms.Name != "*" && ms.Name != strings.ToLower(rec.Name) {
		return false
	}
	if !ms.Version.IsFree() {
		v, err := ParseVersion(rec.Version)
		if err != nil || !ms.Version.Contains(v) {
			return false
		}
	}
	if ms.Build != "" {
		if ok, _ := path.Match(ms.Build, rec.Build); !ok {
			return false
		}
	}
	if ms.Channel != "" && !channelMatches(ms.Channel, rec.Channel) {
		return false
	}
	if ms.Subdir != "" && rec.Subdir != "" && ms.Subdir != rec.Subdir {
		return false
	}
	return true
}

func channelMatches(want, have string) bool {
	want = strings.TrimRight(want, "/")
	have = strings.TrimRight(have, "/")
	if want == have {
		return true
	}
	return ChannelName(have) == ChannelName(want)
}

// IsFree reports whether the spec constrains nothing but the name.
func (ms MatchSpec) IsFree() bool {
	return ms.Version.IsFree() && ms.Build == "" && ms.Channel == ""
}

// String renders the spec in its canonical space separated form.
func (ms MatchSpec) String() string {
	var sb strings.Builder
	if ms.Channel != "" {
		sb.WriteString(ms.Channel)
		if ms.Subdir != "" {
			sb.WriteString("/" + ms.Subdir)
		}
		sb.WriteString("::")
	}
	sb.WriteString(ms.Name)
	switch {
	case ms.Build != "":
		sb.WriteString(" " + ms.Version.String() + " " + ms.Build)
	case !ms.Version.IsFree():
		sb.WriteString(" " + ms.Version.String())
	}
	return sb.String()
}
