package install

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/SandrineP/mamba/internal/config"
	"github.com/SandrineP/mamba/internal/history"
	"github.com/SandrineP/mamba/internal/httputil"
	"github.com/SandrineP/mamba/internal/link"
	"github.com/SandrineP/mamba/internal/output"
	"github.com/SandrineP/mamba/internal/pkgcache"
	"github.com/SandrineP/mamba/internal/pkgmgr"
	"github.com/SandrineP/mamba/internal/prefix"
	"github.com/SandrineP/mamba/internal/shell"
	"github.com/SandrineP/mamba/internal/specs"
	"github.com/SandrineP/mamba/internal/store"
	"github.com/SandrineP/mamba/internal/transaction"
)

// State is the lifecycle position of a transaction run.
type State int

const (
	StateBuilt State = iota
	StateLocked
	StateConfirmed
	StateAborted
	StateExecuted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateLocked:
		return "locked"
	case StateConfirmed:
		return "confirmed"
	case StateAborted:
		return "aborted"
	case StateExecuted:
		return "executed"
	case StateRolledBack:
		return "rolled back"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// RunOptions controls one executor run.
type RunOptions struct {
	// CreateEnv creates the prefix before linking and prints the
	// activation hint afterwards.
	CreateEnv bool
	// RemovePrefixOnFailure deletes the prefix when the run is declined
	// or fails.
	RemovePrefixOnFailure bool
	// Others are installed with their own package manager once the
	// native transaction is done.
	Others []pkgmgr.Spec
	// EnvName is used in the activation hint and the registry.
	EnvName string
	// Command is recorded in the history entry and the journal.
	Command string
}

// otherInstaller installs a non-native spec into prefix.
type otherInstaller func(ctx context.Context, prefix string, spec pkgmgr.Spec) error

// Executor applies planned transactions to a prefix.
type Executor struct {
	Config config.Context
	Client *httputil.Client
	Linker *link.Linker
	Store  *store.Store // optional
	In     io.Reader
	Out    io.Writer
	Exe    string
	Logger *log.Logger

	installOther otherInstaller
}

// NewExecutor returns an Executor for cfg writing to out and prompting on in.
func NewExecutor(cfg config.Context, client *httputil.Client, st *store.Store, in io.Reader, out io.Writer, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.Default()
	}
	if client == nil {
		client = httputil.NewClient()
	}
	e := &Executor{
		Config: cfg,
		Client: client,
		Linker: link.New(logger),
		Store:  st,
		In:     in,
		Out:    out,
		Exe:    "mamba",
		Logger: logger,
	}
	e.installOther = func(ctx context.Context, prefix string, spec pkgmgr.Spec) error {
		return pkgmgr.NewInstaller(prefix, e.Logger).Install(ctx, spec)
	}
	return e
}

// Run takes the package cache locks, asks for confirmation and applies tx
// to env. Declining is not an error: the returned state is StateAborted,
// or StateRolledBack when a fresh prefix was removed.
func (e *Executor) Run(ctx context.Context, env *prefix.Data, tx *transaction.Transaction, opts RunOptions) (State, error) {
	cfg := e.Config
	state := StateBuilt

	locks, err := pkgcache.LockAll(ctx, cfg.PkgsDirs)
	if err != nil {
		return state, err
	}
	defer locks.Unlock()
	state = StateLocked

	caches := pkgcache.Caches{Dirs: cfg.PkgsDirs}
	if cfg.JSON {
		if err := tx.LogJSON(e.Out, caches.Has); err != nil {
			return state, err
		}
	}

	if !e.confirm(tx) {
		state = StateAborted
		if opts.RemovePrefixOnFailure && prefix.Exists(tx.Prefix) {
			if err := e.rollback(tx.Prefix); err != nil {
				return state, err
			}
			state = StateRolledBack
		}
		return state, nil
	}
	state = StateConfirmed

	if opts.CreateEnv && !cfg.DryRun {
		if err := e.createEnv(tx.Prefix, opts.EnvName); err != nil {
			return state, err
		}
	}

	if cfg.DryRun {
		fmt.Fprintln(e.Out, "Dry run. Not executing the transaction.")
	} else if !tx.Empty() {
		if err := e.apply(ctx, env, tx, opts); err != nil {
			if opts.RemovePrefixOnFailure && prefix.Exists(tx.Prefix) {
				if rmErr := e.rollback(tx.Prefix); rmErr != nil {
					e.Logger.Warn("failed to remove prefix", "prefix", tx.Prefix, "error", rmErr)
				} else {
					state = StateRolledBack
				}
			}
			return state, err
		}
	}

	if opts.CreateEnv {
		fmt.Fprint(e.Out, shell.ActivationMessage(e.Exe, tx.Prefix, opts.EnvName))
	}

	if !cfg.DryRun {
		for _, spec := range opts.Others {
			if err := e.installOther(ctx, tx.Prefix, spec); err != nil {
				return state, err
			}
		}
		state = StateExecuted
	}
	return state, nil
}

// confirm prints tx and decides whether to go ahead.
func (e *Executor) confirm(tx *transaction.Transaction) bool {
	if tx.Empty() {
		fmt.Fprintln(e.Out, "All requested packages already installed")
		return true
	}
	tx.Print(e.Out)
	if e.Config.DryRun || e.Config.AlwaysYes {
		return true
	}
	return output.Confirm(e.In, e.Out, "Confirm changes")
}

func (e *Executor) createEnv(path, name string) error {
	if err := prefix.CreateTarget(path); err != nil {
		return err
	}
	if e.Store != nil {
		if err := e.Store.RegisterEnv(path, name); err != nil {
			return err
		}
	}
	return nil
}

// rollback removes a prefix this run created and drops it from the
// registry.
func (e *Executor) rollback(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	if e.Store != nil {
		if err := e.Store.UnregisterEnv(path); err != nil {
			e.Logger.Warn("failed to unregister environment", "prefix", path, "error", err)
		}
	}
	return nil
}

// apply fetches, unlinks and links, then records the revision.
func (e *Executor) apply(ctx context.Context, env *prefix.Data, tx *transaction.Transaction, opts RunOptions) error {
	journal := e.beginJournal(tx.Prefix, opts.Command)

	err := e.link(ctx, env, tx)
	if err == nil {
		err = history.Open(tx.Prefix).Append(history.UserRequest{
			Cmd:         opts.Command,
			LinkDists:   identities(tx.Link),
			UnlinkDists: identities(tx.Unlink),
			UpdateSpecs: tx.UpdateSpecs,
			RemoveSpecs: tx.RemoveSpecs,
		})
	}

	journal.finish(tx, err)
	return err
}

func (e *Executor) link(ctx context.Context, env *prefix.Data, tx *transaction.Transaction) error {
	fetcher := pkgcache.NewFetcher(e.Client, e.Config.PkgsDirs, e.Config.ExtractThreads, e.Logger)
	bar := output.NewProgress(e.Out, len(tx.Link), "Downloading and extracting")
	fetcher.OnDone = func(rec specs.PackageRecord) { bar.Add(rec.Name, rec.Size) }

	extracted, err := fetcher.FetchAll(ctx, tx.Link)
	if err != nil {
		return err
	}
	if len(tx.Link) > 0 {
		bar.Finish()
	}

	for _, rec := range tx.Unlink {
		e.Logger.Debug("unlinking", "package", rec.Dist())
		if err := e.Linker.Unlink(env, rec); err != nil {
			return err
		}
	}
	for _, rec := range tx.Link {
		e.Logger.Debug("linking", "package", rec.Dist())
		if err := e.Linker.Link(env, extracted[rec.Dist()], rec); err != nil {
			return err
		}
	}
	return nil
}

func identities(records []specs.PackageRecord) []string {
	out := make([]string, len(records))
	for i, rec := range records {
		out[i] = rec.Identity()
	}
	return out
}

// journal records a run in the store. Store failures are logged and never
// fail the transaction.
type journal struct {
	store  *store.Store
	id     string
	logger *log.Logger
}

func (e *Executor) beginJournal(path, command string) *journal {
	j := &journal{store: e.Store, logger: e.Logger}
	if e.Store == nil {
		return j
	}
	id, err := e.Store.BeginTransaction(path, command)
	if err != nil {
		e.Logger.Warn("failed to journal transaction", "error", err)
		return j
	}
	j.id = id
	return j
}

func (j *journal) finish(tx *transaction.Transaction, runErr error) {
	if j.id == "" {
		return
	}
	var actions []store.Action
	for _, rec := range tx.Unlink {
		actions = append(actions, store.Action{Action: "unlink", Dist: rec.Identity()})
	}
	for _, rec := range tx.Link {
		actions = append(actions, store.Action{Action: "link", Dist: rec.Identity()})
	}
	if err := j.store.AddActions(j.id, actions); err != nil {
		j.logger.Warn("failed to journal actions", "error", err)
	}

	status := store.StatusCommitted
	if runErr != nil {
		status = store.StatusFailed
	}
	if err := j.store.FinishTransaction(j.id, status); err != nil {
		j.logger.Warn("failed to finish journal entry", "error", err)
	}
}
