package install

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/SandrineP/mamba/internal/config"
	"github.com/SandrineP/mamba/internal/errs"
	"github.com/SandrineP/mamba/internal/history"
	"github.com/SandrineP/mamba/internal/httputil"
	"github.com/SandrineP/mamba/internal/lockfile"
	"github.com/SandrineP/mamba/internal/output"
	"github.com/SandrineP/mamba/internal/pkgmgr"
	"github.com/SandrineP/mamba/internal/prefix"
	"github.com/SandrineP/mamba/internal/repodata"
	"github.com/SandrineP/mamba/internal/solver"
	"github.com/SandrineP/mamba/internal/specs"
	"github.com/SandrineP/mamba/internal/store"
	"github.com/SandrineP/mamba/internal/transaction"
)

// Options describes one install or create invocation.
type Options struct {
	CreateEnv             bool
	RemovePrefixOnFailure bool
	EnvName               string
	Command               string
	Others                []pkgmgr.Spec
}

func (o Options) run() RunOptions {
	return RunOptions{
		CreateEnv:             o.CreateEnv,
		RemovePrefixOnFailure: o.RemovePrefixOnFailure,
		Others:                o.Others,
		EnvName:               o.EnvName,
		Command:               o.Command,
	}
}

// Manager wires the solve pipeline and the executor for a configuration.
type Manager struct {
	Config config.Context
	Client *httputil.Client
	Loader IndexLoader
	Store  *store.Store
	In     io.Reader
	Out    io.Writer
	Exe    string
	Logger *log.Logger
}

// NewManager returns a Manager loading channels through the repodata cache
// of cfg.
func NewManager(cfg config.Context, st *store.Store, in io.Reader, out io.Writer, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	client := httputil.NewClient()
	client.Logger = logger
	return &Manager{
		Config: cfg,
		Client: client,
		Loader: repodata.NewLoader(client, cfg.RepodataCacheDir(), logger),
		Store:  st,
		In:     in,
		Out:    out,
		Exe:    "mamba",
		Logger: logger,
	}
}

func (m *Manager) executor() *Executor {
	e := NewExecutor(m.Config, m.Client, m.Store, m.In, m.Out, m.Logger)
	e.Exe = m.Exe
	return e
}

// checkTarget validates the target prefix for an install.
func (m *Manager) checkTarget(createEnv bool) error {
	target := m.Config.TargetPrefix
	if target == "" {
		return errs.New(errs.CodePrecondition, "No active target prefix")
	}
	if !createEnv && !prefix.Exists(target) {
		return errs.New(errs.CodePrecondition, "Prefix does not exist at: %s", target)
	}
	return nil
}

// Install solves rawSpecs against the target prefix and applies the result.
func (m *Manager) Install(ctx context.Context, rawSpecs []string, opts Options) (State, error) {
	if err := m.checkTarget(opts.CreateEnv); err != nil {
		return StateBuilt, err
	}

	env, err := prefix.Load(m.Config.TargetPrefix)
	if err != nil {
		return StateBuilt, err
	}

	orch := NewOrchestrator(m.Loader, m.Out, m.Logger)
	solved, err := orch.Solve(ctx, m.Config, env, rawSpecs)
	if err != nil {
		return StateBuilt, err
	}
	return m.executor().Run(ctx, env, solved.Transaction, opts.run())
}

// InstallExplicit installs package URLs without solving.
func (m *Manager) InstallExplicit(ctx context.Context, urls []string, opts Options) (State, error) {
	if m.Config.TargetPrefix == "" {
		return StateBuilt, errs.New(errs.CodePrecondition, "No active target prefix")
	}
	env, err := prefix.Load(m.Config.TargetPrefix)
	if err != nil {
		return StateBuilt, fmt.Errorf("could not load prefix data: %w", err)
	}

	tx, err := transaction.FromURLs(env.Path(), env.Records(), urls)
	if err != nil {
		return StateBuilt, err
	}
	return m.executor().Run(ctx, env, tx, opts.run())
}

// InstallLockfile installs the conda packages of a lockfile for the
// configured platform and categories. location may be a URL. Packages of
// other managers are installed after the native transaction.
func (m *Manager) InstallLockfile(ctx context.Context, location string, categories []string, opts Options) (State, error) {
	if m.Config.TargetPrefix == "" {
		return StateBuilt, errs.New(errs.CodePrecondition, "No active target prefix")
	}

	path := location
	if lockfile.IsRemote(location) {
		m.Logger.Info("Downloading lockfile")
		tmp, cleanup, err := lockfile.Fetch(ctx, m.Client, location)
		if err != nil {
			return StateBuilt, err
		}
		defer cleanup()
		path = tmp
	}
	m.Logger.Debug("Lockfile: " + path)

	lf, err := lockfile.Read(path)
	if err != nil {
		return StateBuilt, err
	}
	env, err := prefix.Load(m.Config.TargetPrefix)
	if err != nil {
		return StateBuilt, fmt.Errorf("could not load prefix data: %w", err)
	}

	lockDir := filepath.Dir(location)
	if lockfile.IsRemote(location) {
		lockDir = "."
	}
	if len(categories) == 0 {
		categories = []string{lockfile.DefaultCategory}
	}
	tx, others, err := transaction.FromLockfile(env.Path(), env.Records(), lf, categories, m.Config.Platform, lockDir)
	if err != nil {
		return StateBuilt, err
	}

	run := opts.run()
	run.Others = append(slices.Clone(run.Others), others...)
	return m.executor().Run(ctx, env, tx, run)
}

// InstallRevision restores the target prefix to a history revision.
func (m *Manager) InstallRevision(ctx context.Context, revision int, opts Options) (State, error) {
	if err := m.checkTarget(false); err != nil {
		return StateBuilt, err
	}
	env, err := prefix.Load(m.Config.TargetPrefix)
	if err != nil {
		return StateBuilt, err
	}

	requests, err := history.Open(env.Path()).UserRequests()
	if err != nil {
		return StateBuilt, err
	}
	// A revision at or past the latest one plans nothing; a negative one
	// undoes the whole history.
	diff := history.Reconcile(requests, revision)

	// Channels are only needed to relink packages; the database is
	// released before execution.
	var lookup transaction.Lookup = noLookup{}
	var db *solver.Index
	if _, link := diff.Undo(); len(link) > 0 {
		if db, err = m.Loader.Load(ctx, m.Config, revisionChannels(m.Config, diff)); err != nil {
			return StateBuilt, err
		}
		db.SetInstalled(env.Records())
		lookup = db
	}
	tx, err := transaction.FromDiff(env.Path(), env.Records(), diff, lookup)
	if db != nil {
		db.Close()
	}
	if err != nil {
		return StateBuilt, err
	}

	if opts.Command == "" {
		opts.Command = fmt.Sprintf("install --revision %d", revision)
	}
	return m.executor().Run(ctx, env, tx, opts.run())
}

// noLookup serves revisions that only unlink packages.
type noLookup struct{}

func (noLookup) Lookup(specs.PackageRecord) (specs.PackageRecord, bool) {
	return specs.PackageRecord{}, false
}

// revisionChannels returns the configured channels plus every channel the
// packages to restore came from.
func revisionChannels(cfg config.Context, diff history.PackageDiff) []string {
	channels := slices.Clone(cfg.Channels)
	_, link := diff.Undo()
	for _, rec := range link {
		if rec.Channel == "" {
			continue
		}
		name := specs.ChannelName(rec.Channel)
		if !slices.Contains(channels, name) {
			channels = append(channels, name)
		}
	}
	return channels
}

// CreateEmpty creates the target prefix with no packages.
func (m *Manager) CreateEmpty(name string) error {
	target := m.Config.TargetPrefix
	if target == "" {
		return errs.New(errs.CodePrecondition, "No active target prefix")
	}
	if err := m.executor().createEnv(target, name); err != nil {
		return err
	}

	fmt.Fprintf(m.Out, "Empty environment created at prefix: %s\n", target)
	if m.Config.JSON {
		return output.WriteJSON(m.Out, map[string]bool{"success": true})
	}
	return nil
}
