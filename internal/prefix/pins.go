package prefix

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/SandrineP/mamba/internal/errs"
	"github.com/SandrineP/mamba/internal/specs"
)

// FilePins reads the pins declared in <prefix>/conda-meta/pinned. A missing
// file yields no pins.
func FilePins(path string) ([]string, error) {
	file := filepath.Join(path, MetaDir, PinnedFile)
	f, err := os.Open(file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.CodeIO, err, "failed to open %s", file)
	}
	defer f.Close()

	var pins []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip blank lines and comments.
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		pins = append(pins, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.CodeIO, err, "failed to read %s", file)
	}

	return pins, nil
}

// PythonPin returns "python X.Y.*" for the installed python of d, keeping
// the interpreter minor version stable. It returns "" when python is not
// installed or one of the requested specs names python itself.
func PythonPin(d *Data, requested []string) (string, error) {
	for _, raw := range requested {
		ms, err := specs.ParseMatchSpec(raw)
		if err != nil {
			return "", err
		}
		if ms.Name == "python" {
			return "", nil
		}
	}

	rec, ok := d.Get("python")
	if !ok {
		return "", nil
	}

	v, err := specs.ParseVersion(rec.Version)
	if err != nil {
		return "", err
	}
	return "python " + v.Truncate(2).String() + ".*", nil
}
