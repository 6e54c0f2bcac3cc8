// Package envfile reads the spec files accepted by install and create:
// environment YAML files, plain or @EXPLICIT text files, and lockfiles.
package envfile

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/SandrineP/mamba/internal/errs"
	"github.com/SandrineP/mamba/internal/pkgmgr"
)

// Contents is what an environment YAML file declares.
type Contents struct {
	Name         string
	Channels     []string
	Dependencies []string
	Others       []pkgmgr.Spec
}

type document struct {
	Name         string    `yaml:"name"`
	Channels     []string  `yaml:"channels"`
	Dependencies yaml.Node `yaml:"dependencies"`
}

// ReadYAML parses an environment file for platform. Mapping entries in the
// dependency list are either sel(...) selectors, merged when they hold for
// platform, or a pip list installed from the file's directory.
func ReadYAML(path, platform string) (*Contents, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.CodeNotFound, "YAML spec file '%s' not found", path)
		}
		return nil, errs.Wrap(errs.CodeIO, err, "failed to read %s", path)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errs.Wrap(errs.CodeFormat, err, "YAML error in spec file '%s'", path)
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, errs.Wrap(errs.CodeIO, err, "failed to resolve %s", path)
	}

	out := &Contents{Name: doc.Name, Channels: doc.Channels}
	hasPip := false

	deps := &doc.Dependencies
	if deps.Kind != 0 && deps.Kind != yaml.SequenceNode {
		return nil, errs.New(errs.CodeFormat, "'dependencies' in %s must be a list", path)
	}

	for _, item := range deps.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			out.Dependencies = append(out.Dependencies, item.Value)

		case yaml.MappingNode:
			for i := 0; i+1 < len(item.Content); i += 2 {
				key, value := item.Content[i].Value, item.Content[i+1]

				switch {
				case strings.HasPrefix(key, "sel("):
					selected, err := EvalSelector(key, platform)
					if err != nil {
						return nil, err
					}
					if !selected {
						continue
					}
					values, err := scalars(value)
					if err != nil {
						return nil, errs.Wrap(errs.CodeFormat, err, "invalid selector entry %s in %s", key, path)
					}
					out.Dependencies = append(out.Dependencies, values...)

				case key == pkgmgr.Pip:
					values, err := scalars(value)
					if err != nil {
						return nil, errs.Wrap(errs.CodeFormat, err, "invalid pip section in %s", path)
					}
					out.Others = append(out.Others, pkgmgr.Spec{Manager: pkgmgr.Pip, Deps: values, Cwd: dir})
					hasPip = true
				}
			}

		default:
			return nil, errs.New(errs.CodeFormat, "bad conversion of 'dependencies' in %s to a list of strings", path)
		}
	}

	if hasPip && !slices.Contains(out.Dependencies, pkgmgr.Pip) {
		out.Dependencies = append(out.Dependencies, pkgmgr.Pip)
	}

	return out, nil
}

// scalars reads a scalar or a list of scalars.
func scalars(n *yaml.Node) ([]string, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return []string{n.Value}, nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(n.Content))
		for _, c := range n.Content {
			if c.Kind != yaml.ScalarNode {
				return nil, errs.New(errs.CodeFormat, "nested entries are not supported (line %d)", c.Line)
			}
			out = append(out, c.Value)
		}
		return out, nil
	default:
		return nil, errs.New(errs.CodeFormat, "expected a string or a list (line %d)", n.Line)
	}
}

// EvalSelector evaluates "sel(win|unix|linux|osx)" for platform. unix holds
// for every non-Windows platform.
func EvalSelector(selector, platform string) (bool, error) {
	if !strings.HasPrefix(selector, "sel(") || !strings.HasSuffix(selector, ")") {
		return false, errs.New(errs.CodeParse, "Couldn't parse selector. Needs to start with sel( and end with )")
	}
	expr := selector[len("sel(") : len(selector)-1]

	isWin := strings.HasPrefix(platform, "win")
	values := map[string]bool{
		"win":   isWin,
		"unix":  !isWin,
		"linux": strings.HasPrefix(platform, "linux"),
		"osx":   strings.HasPrefix(platform, "osx"),
	}

	v, ok := values[expr]
	if !ok {
		return false, errs.New(errs.CodeParse, "Couldn't parse selector. Value not in [unix, linux, osx, win] or additional whitespaces found.")
	}
	return v, nil
}
