// Package install drives install, create and revision requests against a
// prefix: it solves the request, plans the transaction and executes it
// under the package cache locks.
package install

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/SandrineP/mamba/internal/config"
	"github.com/SandrineP/mamba/internal/errs"
	"github.com/SandrineP/mamba/internal/output"
	"github.com/SandrineP/mamba/internal/prefix"
	"github.com/SandrineP/mamba/internal/repodata"
	"github.com/SandrineP/mamba/internal/request"
	"github.com/SandrineP/mamba/internal/solver"
	"github.com/SandrineP/mamba/internal/transaction"
)

// maxSolveAttempts bounds the retry after an unsatisfiable solve.
const maxSolveAttempts = 2

// IndexLoader builds the channel database for a solve.
type IndexLoader interface {
	Load(ctx context.Context, cfg config.Context, channels []string) (*solver.Index, error)
}

// UnsatisfiableError is returned when no attempt found a solution.
type UnsatisfiableError struct {
	Problems    []solver.Problem
	Explanation string
}

func (e *UnsatisfiableError) Error() string {
	return "Could not solve for environment specs"
}

// Unwrap exposes the error code to errs.Is.
func (e *UnsatisfiableError) Unwrap() error {
	return errs.New(errs.CodeUnsatisfiable, "Could not solve for environment specs")
}

// Solved is the result of a successful solve. The channel database has
// already been released.
type Solved struct {
	Request     *solver.Request
	Transaction *transaction.Transaction
}

// Orchestrator runs the solve pipeline for one request.
type Orchestrator struct {
	Loader IndexLoader
	Solver *solver.Solver
	Out    io.Writer
	Logger *log.Logger
}

// NewOrchestrator returns an Orchestrator loading channels with loader.
func NewOrchestrator(loader IndexLoader, out io.Writer, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	if out == nil {
		out = io.Discard
	}
	return &Orchestrator{Loader: loader, Solver: solver.New(), Out: out, Logger: logger}
}

// Solve builds and solves the request for rawSpecs against env. When the
// first attempt is unsatisfiable and cfg.RetryCleanCache is set, a second
// attempt reloads the channels with a near-zero repodata TTL.
func (o *Orchestrator) Solve(ctx context.Context, cfg config.Context, env *prefix.Data, rawSpecs []string) (*Solved, error) {
	for attempt := 1; ; attempt++ {
		solved, unsat, err := o.attempt(ctx, cfg, env, rawSpecs)
		if err != nil {
			return nil, err
		}
		if unsat == nil {
			if cfg.JSON {
				if err := output.WriteJSON(o.Out, map[string]bool{"success": true}); err != nil {
					return nil, err
				}
			}
			return solved, nil
		}

		if cfg.RetryCleanCache && attempt < maxSolveAttempts {
			o.Logger.Info("retrying with a refreshed channel cache")
			cfg = cfg.WithRepodataTTL(config.ForceRefreshTTL)
			continue
		}

		if cfg.FreezeInstalled {
			fmt.Fprint(o.Out, "Possible hints:\n  - 'freeze_installed' is turned on\n")
		}
		if cfg.JSON {
			report := map[string]any{"success": false, "solver_problems": unsat.Problems}
			if err := output.WriteJSON(o.Out, report); err != nil {
				return nil, err
			}
		}
		return nil, unsat
	}
}

// attempt runs the pipeline once. The database is closed before returning
// on every path.
func (o *Orchestrator) attempt(ctx context.Context, cfg config.Context, env *prefix.Data, rawSpecs []string) (*Solved, *UnsatisfiableError, error) {
	channels := repodata.ChannelNames(cfg, rawSpecs)
	if len(channels) == 0 && !cfg.Offline {
		o.Logger.Warn("No 'channels' specified")
	}

	var db *solver.Index
	err := o.phase(cfg, "Loading channels", func() error {
		var err error
		db, err = o.Loader.Load(ctx, cfg, channels)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	defer db.Close()

	installed := env.Records()
	db.SetInstalled(installed)

	if cfg.FreezeInstalled && len(installed) > 0 {
		o.Logger.Infof("Locking environment: %d packages frozen", len(installed))
	}
	req, err := request.Build(installed, rawSpecs, cfg.FreezeInstalled)
	if err != nil {
		return nil, nil, err
	}
	if err := request.AddPins(req, cfg, env, rawSpecs, cfg.NoPin, cfg.NoPyPin); err != nil {
		return nil, nil, err
	}
	req.Flags = cfg.SolverFlags
	if err := request.WritePins(o.Out, req); err != nil {
		return nil, nil, err
	}

	var outcome solver.Outcome
	err = o.phase(cfg, "Solving environment", func() error {
		var err error
		outcome, err = o.Solver.Solve(db, req)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to solve: %w", err)
	}

	switch out := outcome.(type) {
	case *solver.Unsatisfiable:
		explanation := out.ExplainProblems(db, output.Palette())
		o.Logger.Error(explanation)
		return nil, &UnsatisfiableError{Problems: out.Problems(db), Explanation: explanation}, nil
	case *solver.Solution:
		tx := transaction.FromSolution(env.Path(), req, out)
		return &Solved{Request: req, Transaction: tx}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unexpected solver outcome %T", outcome)
	}
}

// phase runs fn behind a spinner on Out. JSON output stays machine
// readable, so no spinner is shown there.
func (o *Orchestrator) phase(cfg config.Context, message string, fn func() error) error {
	if cfg.JSON {
		return fn()
	}
	spin := output.NewSpinner(o.Out, message)
	spin.Start()
	defer spin.Stop()
	return fn()
}
