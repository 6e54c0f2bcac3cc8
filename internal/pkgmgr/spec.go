// Package pkgmgr installs the parts of an environment that belong to other
// package managers, such as the pip section of an environment file.
package pkgmgr

import "slices"

// Pip is the only foreign manager currently supported.
const Pip = "pip"

// Spec is a batch of requirements for one manager, installed from Cwd so
// relative paths in Deps resolve against the file that declared them.
type Spec struct {
	Manager string
	Deps    []string
	Cwd     string
}

// Equal reports whether s and o describe the same batch.
func (s Spec) Equal(o Spec) bool {
	return s.Manager == o.Manager && s.Cwd == o.Cwd && slices.Equal(s.Deps, o.Deps)
}
