package specs

import (
	"strings"

	"github.com/SandrineP/mamba/internal/errs"
)

type operator int

const (
	opEqual operator = iota
	opNotEqual
	opGreater
	opGreaterEqual
	opLess
	opLessEqual
	opStartsWith
	opNotStartsWith
	opCompatible
)

type constraint struct {
	op      operator
	version Version
}

func (c constraint) contains(v Version) bool {
	switch c.op {
	case opEqual:
		return v.Compare(c.version) == 0
	case opNotEqual:
		return v.Compare(c.version) != 0
	case opGreater:
		return v.Compare(c.version) > 0
	case opGreaterEqual:
		return v.Compare(c.version) >= 0
	case opLess:
		return v.Compare(c.version) < 0
	case opLessEqual:
		return v.Compare(c.version) <= 0
	case opStartsWith:
		return v.StartsWith(c.version)
	case opNotStartsWith:
		return !v.StartsWith(c.version)
	case opCompatible:
		n := c.version.PartCount() - 1
		return v.Compare(c.version) >= 0 && v.StartsWith(c.version.Truncate(max(n, 1)))
	}
	return false
}

// VersionSpec is a version constraint expression: alternatives separated by
// '|', each a conjunction of ','-separated terms such as ">=1.2", "1.3.*"
// or "!=1.4". The zero value matches every version.
type VersionSpec struct {
	expr string
	any  [][]constraint
}

// ParseVersionSpec parses a version expression. "" and "*" match anything.
func ParseVersionSpec(s string) (VersionSpec, error) {
	s = strings.Join(strings.Fields(s), "")
	if s == "" || s == "*" {
		return VersionSpec{}, nil
	}
	if strings.ContainsAny(s, "()") {
		return VersionSpec{}, errs.New(errs.CodeParse, "parenthesised version expressions are not supported: %q", s)
	}

	vs := VersionSpec{expr: s}
	for _, alt := range strings.Split(s, "|") {
		if alt == "" {
			return VersionSpec{}, errs.New(errs.CodeParse, "empty alternative in %q", s)
		}
		var all []constraint
		for _, term := range strings.Split(alt, ",") {
			c, free, err := parseTerm(term)
			if err != nil {
				return VersionSpec{}, err
			}
			if !free {
				all = append(all, c)
			}
		}
		if len(all) == 0 {
			// One alternative matches everything, so the whole spec does.
			return VersionSpec{}, nil
		}
		vs.any = append(vs.any, all)
	}
	return vs, nil
}

func parseTerm(term string) (constraint, bool, error) {
	if term == "" {
		return constraint{}, false, errs.New(errs.CodeParse, "empty version term")
	}
	ops := []struct {
		prefix string
		op     operator
	}{
		{"==", opEqual},
		{"!=", opNotEqual},
		{">=", opGreaterEqual},
		{"<=", opLessEqual},
		{"~=", opCompatible},
		{">", opGreater},
		{"<", opLess},
		{"=", opStartsWith},
	}
	op := opEqual
	body := term
	explicit := false
	for _, o := range ops {
		if strings.HasPrefix(term, o.prefix) {
			op, body, explicit = o.op, term[len(o.prefix):], true
			break
		}
	}
	if body == "*" {
		if op == opNotEqual {
			return constraint{}, false, errs.New(errs.CodeParse, "version term %q excludes everything", term)
		}
		return constraint{}, true, nil
	}

	glob := false
	switch {
	case strings.HasSuffix(body, ".*"):
		body, glob = strings.TrimSuffix(body, ".*"), true
	case strings.HasSuffix(body, "*"):
		body, glob = strings.TrimSuffix(body, "*"), true
	}
	if strings.Contains(body, "*") {
		return constraint{}, false, errs.New(errs.CodeParse, "unsupported glob in version term %q", term)
	}

	if glob {
		switch op {
		case opEqual:
			op = opStartsWith
		case opNotEqual:
			op = opNotStartsWith
		}
	} else if !explicit {
		op = opEqual
	}

	v, err := ParseVersion(strings.TrimSuffix(body, "."))
	if err != nil {
		return constraint{}, false, err
	}
	return constraint{op: op, version: v}, false, nil
}

// Contains reports whether v satisfies the expression.
func (vs VersionSpec) Contains(v Version) bool {
	if vs.IsFree() {
		return true
	}
	for _, all := range vs.any {
		ok := true
		for _, c := range all {
			if !c.contains(v) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// IsFree reports whether the expression matches every version.
func (vs VersionSpec) IsFree() bool { return len(vs.any) == 0 }

// String returns the normalised expression, "*" when free.
func (vs VersionSpec) String() string {
	if vs.IsFree() {
		return "*"
	}
	return vs.expr
}
