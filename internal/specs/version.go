package specs

import (
	"strconv"
	"strings"

	"github.com/SandrineP/mamba/internal/errs"
)

// atom is one "<digits><letters>" run inside a version part.
type atom struct {
	num uint64
	lit string
}

type part []atom

// Version is a parsed conda version string.
//
// Ordering follows conda: an optional integer epoch before '!', dot, dash or
// underscore separated parts, and an optional local segment after '+'.
// Within a part, literals sort as: "*" < "dev" < other < "" < "post".
type Version struct {
	raw   string
	epoch uint64
	parts []part
	local []part
}

// ParseVersion parses a conda version string.
func ParseVersion(s string) (Version, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Version{}, errs.New(errs.CodeParse, "empty version string")
	}
	v := Version{raw: raw}
	rest := strings.ToLower(raw)

	if idx := strings.IndexByte(rest, '!'); idx >= 0 {
		epoch, err := strconv.ParseUint(rest[:idx], 10, 64)
		if err != nil {
			return Version{}, errs.Wrap(errs.CodeParse, err, "invalid epoch in version %q", raw)
		}
		v.epoch = epoch
		rest = rest[idx+1:]
	}

	var localStr string
	if idx := strings.IndexByte(rest, '+'); idx >= 0 {
		localStr = rest[idx+1:]
		rest = rest[:idx]
		if localStr == "" {
			return Version{}, errs.New(errs.CodeParse, "empty local version in %q", raw)
		}
	}

	parts, err := parseParts(rest)
	if err != nil {
		return Version{}, errs.Wrap(errs.CodeParse, err, "invalid version %q", raw)
	}
	v.parts = parts

	if localStr != "" {
		local, err := parseParts(localStr)
		if err != nil {
			return Version{}, errs.Wrap(errs.CodeParse, err, "invalid local version %q", raw)
		}
		v.local = local
	}
	return v, nil
}

// MustParseVersion is ParseVersion that panics on error, for literals.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func parseParts(s string) ([]part, error) {
	if s == "" {
		return nil, errs.New(errs.CodeParse, "missing version parts")
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '-' || r == '_'
	})
	// Separators at the edges or doubled up leave empty fields behind.
	if len(fields) != strings.Count(s, ".")+strings.Count(s, "-")+strings.Count(s, "_")+1 {
		return nil, errs.New(errs.CodeParse, "empty version part")
	}

	parts := make([]part, 0, len(fields))
	for _, f := range fields {
		p, err := parsePart(f)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, nil
}

func parsePart(s string) (part, error) {
	var p part
	i := 0
	for i < len(s) {
		start := i
		for i < len(s) && isDigit(s[i]) {
			i++
		}
		var num uint64
		if i > start {
			n, err := strconv.ParseUint(s[start:i], 10, 64)
			if err != nil {
				return nil, errs.Wrap(errs.CodeParse, err, "numeral out of range in %q", s)
			}
			num = n
		}
		litStart := i
		for i < len(s) && !isDigit(s[i]) {
			c := s[i]
			if !(c >= 'a' && c <= 'z') && c != '*' {
				return nil, errs.New(errs.CodeParse, "invalid character %q in %q", c, s)
			}
			i++
		}
		p = append(p, atom{num: num, lit: s[litStart:i]})
	}
	return p, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// String returns the version as it was written.
func (v Version) String() string { return v.raw }

// IsZero reports whether v is the zero value.
func (v Version) IsZero() bool { return v.raw == "" }

// Compare returns -1, 0 or +1.
func (v Version) Compare(o Version) int {
	if v.epoch != o.epoch {
		if v.epoch < o.epoch {
			return -1
		}
		return 1
	}
	if c := compareParts(v.parts, o.parts); c != 0 {
		return c
	}
	return compareParts(v.local, o.local)
}

// Equal reports whether v and o compare equal ("1.0" equals "1.0.0").
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

// StartsWith reports whether every part of prefix matches the
// corresponding part of v, as in "1.2.*" matching 1.2 and 1.2.3.
func (v Version) StartsWith(prefix Version) bool {
	if v.epoch != prefix.epoch {
		return false
	}
	for i, p := range prefix.parts {
		var c part
		if i < len(v.parts) {
			c = v.parts[i]
		}
		if comparePart(c, p) != 0 {
			return false
		}
	}
	return true
}

// Truncate returns the first n parts of v, e.g. Truncate(2) of 3.11.4 is 3.11.
// The epoch is kept and the local segment dropped.
func (v Version) Truncate(n int) Version {
	body := v.raw
	prefix := ""
	if idx := strings.IndexByte(body, '!'); idx >= 0 {
		prefix, body = body[:idx+1], body[idx+1:]
	}
	if idx := strings.IndexByte(body, '+'); idx >= 0 {
		body = body[:idx]
	}
	seen := 0
	for i := 0; i < len(body); i++ {
		if body[i] == '.' || body[i] == '-' || body[i] == '_' {
			seen++
			if seen == n {
				body = body[:i]
				break
			}
		}
	}
	parts := v.parts
	if n < len(parts) {
		parts = parts[:n]
	}
	return Version{raw: prefix + body, epoch: v.epoch, parts: parts}
}

// PartCount returns the number of dot separated parts.
func (v Version) PartCount() int { return len(v.parts) }

func compareParts(a, b []part) int {
	n := max(len(a), len(b))
	for i := range n {
		var pa, pb part
		if i < len(a) {
			pa = a[i]
		}
		if i < len(b) {
			pb = b[i]
		}
		if c := comparePart(pa, pb); c != 0 {
			return c
		}
	}
	return 0
}

func comparePart(a, b part) int {
	n := max(len(a), len(b))
	for i := range n {
		var aa, ab atom
		if i < len(a) {
			aa = a[i]
		}
		if i < len(b) {
			ab = b[i]
		}
		if c := compareAtom(aa, ab); c != 0 {
			return c
		}
	}
	return 0
}

func compareAtom(a, b atom) int {
	if a.num != b.num {
		if a.num < b.num {
			return -1
		}
		return 1
	}
	ra, rb := literalRank(a.lit), literalRank(b.lit)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	return strings.Compare(a.lit, b.lit)
}

func literalRank(lit string) int {
	switch lit {
	case "*":
		return 0
	case "dev":
		return 1
	case "":
		return 4
	case "post":
		return 5
	default:
		return 3
	}
}
