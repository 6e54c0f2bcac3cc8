// Package request turns user input into a solver request: freeze and
// install jobs for the requested specs, plus pin jobs collected from the
// prefix and the configuration.
package request

import (
	"fmt"
	"io"

	"github.com/SandrineP/mamba/internal/config"
	"github.com/SandrineP/mamba/internal/errs"
	"github.com/SandrineP/mamba/internal/prefix"
	"github.com/SandrineP/mamba/internal/solver"
	"github.com/SandrineP/mamba/internal/specs"
)

// Build returns a request holding, when freezeInstalled is set, one Freeze
// job per installed record followed by one Install job per raw spec. A spec
// that fails to parse fails the whole request.
func Build(installed []specs.PackageRecord, rawSpecs []string, freezeInstalled bool) (*solver.Request, error) {
	size := len(rawSpecs)
	if freezeInstalled {
		size += len(installed)
	}
	req := &solver.Request{Jobs: make([]solver.Job, 0, size)}

	if freezeInstalled {
		for _, rec := range installed {
			req.Jobs = append(req.Jobs, solver.Freeze{Spec: specs.MatchSpec{Name: rec.Name}})
		}
	}

	for _, raw := range rawSpecs {
		ms, err := specs.ParseMatchSpec(raw)
		if err != nil {
			return nil, err
		}
		req.Jobs = append(req.Jobs, solver.Install{Spec: ms})
	}

	return req, nil
}

// AddPins appends Pin jobs to req. Unless noPin is set, the prefix pinned
// file is read first, then cfg.PinnedPackages. Unless noPyPin is set, the
// installed python is pinned to its minor version. Pins from different
// sources are not deduplicated.
func AddPins(req *solver.Request, cfg config.Context, env *prefix.Data, rawSpecs []string, noPin, noPyPin bool) error {
	if !noPin {
		filePins, err := prefix.FilePins(env.Path())
		if err != nil {
			return err
		}
		for _, raw := range filePins {
			if err := addPin(req, raw); err != nil {
				return err
			}
		}
		for _, raw := range cfg.PinnedPackages {
			if err := addPin(req, raw); err != nil {
				return err
			}
		}
	}

	if !noPyPin {
		pyPin, err := prefix.PythonPin(env, rawSpecs)
		if err != nil {
			return err
		}
		if pyPin != "" {
			if err := addPin(req, pyPin); err != nil {
				return err
			}
		}
	}

	return nil
}

func addPin(req *solver.Request, raw string) error {
	ms, err := specs.ParseMatchSpec(raw)
	if err != nil {
		return errs.Wrap(errs.CodeParse, err, "invalid pin %q", raw)
	}
	req.Jobs = append(req.Jobs, solver.Pin{Spec: ms})
	return nil
}

// WritePins lists the pins of req. Nothing is written when there are none.
func WritePins(w io.Writer, req *solver.Request) error {
	for i, pin := range req.Pins() {
		if i == 0 {
			if _, err := io.WriteString(w, "\nPinned packages:\n\n"); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "  - %s\n", pin.Spec); err != nil {
			return err
		}
	}
	return nil
}
