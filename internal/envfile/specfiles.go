package envfile

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/SandrineP/mamba/internal/errs"
	"github.com/SandrineP/mamba/internal/lockfile"
	"github.com/SandrineP/mamba/internal/pkgmgr"
)

// Kind is the format of a spec file.
type Kind int

const (
	KindUnknown Kind = iota
	KindLockfile
	KindYAML
	KindText
)

// KindOf classifies a spec file by name.
func KindOf(name string) Kind {
	switch {
	case lockfile.IsLockfileName(name):
		return KindLockfile
	case strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml"):
		return KindYAML
	default:
		return KindText
	}
}

// FileSpecs merges everything read from --file arguments.
type FileSpecs struct {
	Name     string
	Channels []string
	Specs    []string
	Others   []pkgmgr.Spec

	// Explicit is set by an @EXPLICIT text file; Specs then holds package
	// URLs rather than match specs.
	Explicit         bool
	ExplicitPlatform string

	// Lockfile is the absolute path or URL of a lockfile argument.
	Lockfile string
}

// ReadSpecFiles reads files, which must all be of the same kind.
func ReadSpecFiles(files []string, platform string) (*FileSpecs, error) {
	out := &FileSpecs{}
	if len(files) == 0 {
		return out, nil
	}

	kind := KindUnknown
	for _, f := range files {
		current := KindOf(f)
		if kind != KindUnknown && kind != current {
			return nil, errs.New(errs.CodePrecondition,
				"found multiple spec file types, all spec files must be of same format (yaml, txt, explicit spec, etc.)")
		}
		kind = current
	}

	for _, f := range files {
		switch kind {
		case KindLockfile:
			if strings.HasPrefix(f, "http") {
				out.Lockfile = f
				continue
			}
			abs, err := filepath.Abs(f)
			if err != nil {
				return nil, errs.Wrap(errs.CodeIO, err, "failed to resolve %s", f)
			}
			out.Lockfile = abs

		case KindYAML:
			contents, err := ReadYAML(f, platform)
			if err != nil {
				return nil, err
			}
			out.Channels = append(out.Channels, contents.Channels...)
			if out.Name == "" {
				out.Name = contents.Name
			}
			out.Specs = append(out.Specs, contents.Dependencies...)
			out.Others = append(out.Others, contents.Others...)

		case KindText:
			lines, err := readLines(f)
			if err != nil {
				return nil, err
			}
			if len(lines) == 0 {
				return nil, errs.New(errs.CodePrecondition, "Got an empty file: %s", f)
			}
			if urls, plat, ok := explicitSpecs(lines); ok {
				// An explicit file replaces everything else.
				return &FileSpecs{Specs: urls, Explicit: true, ExplicitPlatform: plat}, nil
			}
			for _, line := range lines {
				trimmed := strings.TrimSpace(line)
				if trimmed == "" || strings.HasPrefix(trimmed, "#") {
					continue
				}
				out.Specs = append(out.Specs, trimmed)
			}
		}
	}

	return out, nil
}

// explicitSpecs returns the entries after an @EXPLICIT marker, plus the
// platform named by a "# platform: " line above it.
func explicitSpecs(lines []string) (urls []string, platform string, ok bool) {
	for i, line := range lines {
		if !strings.HasPrefix(line, "@EXPLICIT") {
			continue
		}
		for _, prev := range lines[:i] {
			if p, found := strings.CutPrefix(prev, "# platform: "); found {
				platform = strings.TrimSpace(p)
				break
			}
		}
		for _, entry := range lines[i+1:] {
			entry = strings.TrimSpace(entry)
			if entry != "" && !strings.HasPrefix(entry, "#") {
				urls = append(urls, entry)
			}
		}
		return urls, platform, true
	}
	return nil, "", false
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.CodeNotFound, "spec file '%s' not found", path)
		}
		return nil, errs.Wrap(errs.CodeIO, err, "failed to open %s", path)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.CodeIO, err, "failed to read %s", path)
	}
	return lines, nil
}
