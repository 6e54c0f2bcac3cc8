package install

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SandrineP/mamba/internal/config"
	"github.com/SandrineP/mamba/internal/errs"
	"github.com/SandrineP/mamba/internal/history"
	"github.com/SandrineP/mamba/internal/pkgmgr"
	"github.com/SandrineP/mamba/internal/prefix"
	"github.com/SandrineP/mamba/internal/solver"
	"github.com/SandrineP/mamba/internal/specs"
	"github.com/SandrineP/mamba/internal/store"
	"github.com/SandrineP/mamba/internal/transaction"
)

const tinyMD5 = "cce0fa35b2e0729b48c304bdf38d583c"

// fakeLoader serves a fixed channel and records the TTL of every load.
type fakeLoader struct {
	records []specs.PackageRecord
	ttls    []int
}

func (f *fakeLoader) Load(_ context.Context, cfg config.Context, _ []string) (*solver.Index, error) {
	f.ttls = append(f.ttls, cfg.RepodataTTL)
	ix := solver.NewIndex(true)
	ix.AddRepo("local", f.records)
	return ix, nil
}

func tinyRecord(t *testing.T) specs.PackageRecord {
	t.Helper()
	archive, err := filepath.Abs(filepath.Join("..", "pkgcache", "testdata", "tiny-1.0-0.tar.bz2"))
	require.NoError(t, err)
	return specs.PackageRecord{
		Name:     "tiny",
		Version:  "1.0",
		Build:    "0",
		Channel:  "local",
		Subdir:   "linux-64",
		URL:      "file://" + archive,
		Filename: "tiny-1.0-0.tar.bz2",
		MD5:      tinyMD5,
		Size:     512,
	}
}

func testConfig(t *testing.T) config.Context {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.RootPrefix = root
	cfg.PkgsDirs = []string{filepath.Join(root, "pkgs")}
	cfg.Channels = []string{"local"}
	cfg.Platform = "linux-64"
	cfg.AlwaysYes = true
	return cfg.WithTargetPrefix(filepath.Join(root, "envs", "demo"))
}

func quietLogger() *log.Logger {
	return log.NewWithOptions(&bytes.Buffer{}, log.Options{})
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOrchestrator_Solve(t *testing.T) {
	cfg := testConfig(t)
	cfg.JSON = true
	loader := &fakeLoader{records: []specs.PackageRecord{tinyRecord(t)}}
	var out bytes.Buffer

	env, err := prefix.Load(cfg.TargetPrefix)
	require.NoError(t, err)

	solved, err := NewOrchestrator(loader, &out, quietLogger()).Solve(context.Background(), cfg, env, []string{"tiny"})
	require.NoError(t, err)

	require.Len(t, solved.Transaction.Link, 1)
	assert.Equal(t, "tiny", solved.Transaction.Link[0].Name)
	assert.Equal(t, []string{"tiny"}, solved.Transaction.UpdateSpecs)
	assert.Contains(t, out.String(), `"success": true`)
	assert.Len(t, loader.ttls, 1)
}

func TestOrchestrator_ShowsPhases(t *testing.T) {
	cfg := testConfig(t)
	loader := &fakeLoader{records: []specs.PackageRecord{tinyRecord(t)}}
	env, err := prefix.Load(cfg.TargetPrefix)
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = NewOrchestrator(loader, &out, quietLogger()).Solve(context.Background(), cfg, env, []string{"tiny"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Loading channels...\n")
	assert.Contains(t, out.String(), "Solving environment...\n")

	cfg.JSON = true
	out.Reset()
	_, err = NewOrchestrator(loader, &out, quietLogger()).Solve(context.Background(), cfg, env, []string{"tiny"})
	require.NoError(t, err)
	assert.NotContains(t, out.String(), "Solving environment")
}

func TestOrchestrator_RetryCleanCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.RetryCleanCache = true
	cfg.RepodataTTL = 3600
	loader := &fakeLoader{records: []specs.PackageRecord{tinyRecord(t)}}

	env, err := prefix.Load(cfg.TargetPrefix)
	require.NoError(t, err)

	_, err = NewOrchestrator(loader, &bytes.Buffer{}, quietLogger()).Solve(context.Background(), cfg, env, []string{"missing"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeUnsatisfiable))

	var unsat *UnsatisfiableError
	require.True(t, errors.As(err, &unsat))
	assert.NotEmpty(t, unsat.Problems)
	assert.Contains(t, unsat.Explanation, "missing")

	assert.Equal(t, []int{3600, config.ForceRefreshTTL}, loader.ttls)
}

func TestOrchestrator_NoRetry(t *testing.T) {
	cfg := testConfig(t)
	cfg.FreezeInstalled = true
	cfg.JSON = true
	loader := &fakeLoader{records: []specs.PackageRecord{tinyRecord(t)}}
	var out bytes.Buffer

	env, err := prefix.Load(cfg.TargetPrefix)
	require.NoError(t, err)

	_, err = NewOrchestrator(loader, &out, quietLogger()).Solve(context.Background(), cfg, env, []string{"missing"})
	require.Error(t, err)
	assert.Len(t, loader.ttls, 1)
	assert.Contains(t, out.String(), "Possible hints:\n  - 'freeze_installed' is turned on\n")
	assert.Contains(t, out.String(), `"solver_problems"`)
	assert.Contains(t, out.String(), `"success": false`)
}

func TestOrchestrator_ParseError(t *testing.T) {
	cfg := testConfig(t)
	env, err := prefix.Load(cfg.TargetPrefix)
	require.NoError(t, err)

	_, err = NewOrchestrator(&fakeLoader{}, nil, quietLogger()).Solve(context.Background(), cfg, env, []string{"numpy[version"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeParse))
}

func newTestExecutor(cfg config.Context, st *store.Store, in string, out *bytes.Buffer) *Executor {
	return NewExecutor(cfg, nil, st, strings.NewReader(in), out, quietLogger())
}

func TestExecutor_Run(t *testing.T) {
	cfg := testConfig(t)
	st := openStore(t)
	var out bytes.Buffer

	env, err := prefix.Load(cfg.TargetPrefix)
	require.NoError(t, err)
	tx := &transaction.Transaction{
		Prefix:      cfg.TargetPrefix,
		Link:        []specs.PackageRecord{tinyRecord(t)},
		UpdateSpecs: []string{"tiny"},
	}

	var others []pkgmgr.Spec
	e := newTestExecutor(cfg, st, "", &out)
	e.installOther = func(_ context.Context, p string, spec pkgmgr.Spec) error {
		assert.Equal(t, cfg.TargetPrefix, p)
		others = append(others, spec)
		return nil
	}

	pip := pkgmgr.Spec{Manager: pkgmgr.Pip, Deps: []string{"requests"}}
	state, err := e.Run(context.Background(), env, tx, RunOptions{
		CreateEnv: true,
		EnvName:   "demo",
		Command:   "mamba create -n demo tiny",
		Others:    []pkgmgr.Spec{pip},
	})
	require.NoError(t, err)
	assert.Equal(t, StateExecuted, state)

	assert.FileExists(t, filepath.Join(cfg.TargetPrefix, "bin", "tiny"))
	_, ok := env.Get("tiny")
	assert.True(t, ok)

	requests, err := history.Open(cfg.TargetPrefix).UserRequests()
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, []string{"local/linux-64::tiny-1.0-0"}, requests[0].LinkDists)
	assert.Equal(t, []string{"tiny"}, requests[0].UpdateSpecs)
	assert.Equal(t, "mamba create -n demo tiny", requests[0].Cmd)

	envs, err := st.ListEnvs()
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "demo", envs[0].Name)

	recs, err := st.ListTransactions(cfg.TargetPrefix)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, store.StatusCommitted, recs[0].Status)

	assert.Equal(t, []pkgmgr.Spec{pip}, others)
	assert.Contains(t, out.String(), "To activate this environment, use:")
	assert.Contains(t, out.String(), "mamba activate demo")
}

func TestExecutor_Declined(t *testing.T) {
	tests := []struct {
		name          string
		removeOnFail  bool
		wantState     State
		wantDirExists bool
	}{
		{"new env is removed", true, StateRolledBack, false},
		{"existing env is kept", false, StateAborted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.AlwaysYes = false
			require.NoError(t, os.MkdirAll(cfg.TargetPrefix, 0755))

			env, err := prefix.Load(cfg.TargetPrefix)
			require.NoError(t, err)
			tx := &transaction.Transaction{Prefix: cfg.TargetPrefix, Link: []specs.PackageRecord{tinyRecord(t)}}

			var out bytes.Buffer
			e := newTestExecutor(cfg, nil, "n\n", &out)
			e.installOther = func(context.Context, string, pkgmgr.Spec) error {
				t.Fatal("others must not be installed when declined")
				return nil
			}

			state, err := e.Run(context.Background(), env, tx, RunOptions{
				CreateEnv:             true,
				RemovePrefixOnFailure: tt.removeOnFail,
				Others:                []pkgmgr.Spec{{Manager: pkgmgr.Pip, Deps: []string{"x"}}},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, state)
			assert.Equal(t, tt.wantDirExists, prefix.Exists(cfg.TargetPrefix))
			assert.Contains(t, out.String(), "Confirm changes [Y/n]: ")
		})
	}
}

func TestExecutor_DryRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.DryRun = true
	var out bytes.Buffer

	env, err := prefix.Load(cfg.TargetPrefix)
	require.NoError(t, err)
	tx := &transaction.Transaction{Prefix: cfg.TargetPrefix, Link: []specs.PackageRecord{tinyRecord(t)}}

	e := newTestExecutor(cfg, nil, "", &out)
	e.installOther = func(context.Context, string, pkgmgr.Spec) error {
		t.Fatal("others must not be installed in a dry run")
		return nil
	}

	state, err := e.Run(context.Background(), env, tx, RunOptions{
		CreateEnv: true,
		Others:    []pkgmgr.Spec{{Manager: pkgmgr.Pip, Deps: []string{"x"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, state)
	assert.Contains(t, out.String(), "Dry run. Not executing the transaction.")
	assert.NoDirExists(t, cfg.TargetPrefix)
}

func TestExecutor_EmptyTransaction(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, prefix.CreateTarget(cfg.TargetPrefix))
	var out bytes.Buffer

	env, err := prefix.Load(cfg.TargetPrefix)
	require.NoError(t, err)

	state, err := newTestExecutor(cfg, nil, "", &out).Run(context.Background(), env, &transaction.Transaction{Prefix: cfg.TargetPrefix}, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StateExecuted, state)
	assert.Contains(t, out.String(), "All requested packages already installed")

	requests, err := history.Open(cfg.TargetPrefix).UserRequests()
	require.NoError(t, err)
	assert.Empty(t, requests)
}

func TestExecutor_JSON(t *testing.T) {
	cfg := testConfig(t)
	cfg.JSON = true
	cfg.DryRun = true
	var out bytes.Buffer

	env, err := prefix.Load(cfg.TargetPrefix)
	require.NoError(t, err)
	tx := &transaction.Transaction{Prefix: cfg.TargetPrefix, Link: []specs.PackageRecord{tinyRecord(t)}}

	_, err = newTestExecutor(cfg, nil, "", &out).Run(context.Background(), env, tx, RunOptions{})
	require.NoError(t, err)
	assert.Contains(t, out.String(), `"FETCH"`)
	assert.Contains(t, out.String(), `"LINK"`)
}

func TestExecutor_FetchFailureRollsBack(t *testing.T) {
	cfg := testConfig(t)
	st := openStore(t)

	env, err := prefix.Load(cfg.TargetPrefix)
	require.NoError(t, err)
	broken := tinyRecord(t)
	broken.MD5 = "00000000000000000000000000000000"
	tx := &transaction.Transaction{Prefix: cfg.TargetPrefix, Link: []specs.PackageRecord{broken}}

	state, err := newTestExecutor(cfg, st, "", &bytes.Buffer{}).Run(context.Background(), env, tx, RunOptions{
		CreateEnv:             true,
		RemovePrefixOnFailure: true,
	})
	require.Error(t, err)
	assert.Equal(t, StateRolledBack, state)
	assert.NoDirExists(t, cfg.TargetPrefix)

	recs, err := st.ListTransactions(cfg.TargetPrefix)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, store.StatusFailed, recs[0].Status)

	envs, err := st.ListEnvs()
	require.NoError(t, err)
	assert.Empty(t, envs, "a rolled back environment must not stay registered")
}

func newTestManager(t *testing.T, cfg config.Context, out *bytes.Buffer) *Manager {
	t.Helper()
	m := NewManager(cfg, openStore(t), strings.NewReader(""), out, quietLogger())
	m.Loader = &fakeLoader{records: []specs.PackageRecord{tinyRecord(t)}}
	return m
}

func TestManager_Install(t *testing.T) {
	cfg := testConfig(t)
	var out bytes.Buffer
	m := newTestManager(t, cfg, &out)

	_, err := m.Install(context.Background(), []string{"tiny"}, Options{})
	require.Error(t, err, "installing into a missing prefix needs CreateEnv")
	assert.True(t, errs.Is(err, errs.CodePrecondition))

	state, err := m.Install(context.Background(), []string{"tiny"}, Options{CreateEnv: true, EnvName: "demo"})
	require.NoError(t, err)
	assert.Equal(t, StateExecuted, state)
	assert.FileExists(t, filepath.Join(cfg.TargetPrefix, "bin", "tiny"))

	// Installing again changes nothing.
	out.Reset()
	_, err = m.Install(context.Background(), []string{"tiny"}, Options{})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "All requested packages already installed")
}

func TestManager_NoTargetPrefix(t *testing.T) {
	cfg := testConfig(t)
	cfg.TargetPrefix = ""
	m := newTestManager(t, cfg, &bytes.Buffer{})

	_, err := m.Install(context.Background(), []string{"tiny"}, Options{CreateEnv: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No active target prefix")
}

func TestManager_InstallExplicit(t *testing.T) {
	cfg := testConfig(t)
	var out bytes.Buffer
	m := newTestManager(t, cfg, &out)

	rec := tinyRecord(t)
	url := rec.URL + "#" + tinyMD5
	state, err := m.InstallExplicit(context.Background(), []string{url}, Options{CreateEnv: true})
	require.NoError(t, err)
	assert.Equal(t, StateExecuted, state)
	assert.FileExists(t, filepath.Join(cfg.TargetPrefix, "bin", "tiny"))
}

func TestManager_InstallRevision(t *testing.T) {
	cfg := testConfig(t)
	var out bytes.Buffer
	m := newTestManager(t, cfg, &out)

	require.NoError(t, prefix.CreateTarget(cfg.TargetPrefix))
	h := history.Open(cfg.TargetPrefix)
	require.NoError(t, h.Append(history.UserRequest{LinkDists: []string{"local/linux-64::tiny-1.0-0"}}))
	require.NoError(t, h.Append(history.UserRequest{UnlinkDists: []string{"local/linux-64::tiny-1.0-0"}}))

	state, err := m.InstallRevision(context.Background(), 0, Options{})
	require.NoError(t, err)
	assert.Equal(t, StateExecuted, state)
	assert.FileExists(t, filepath.Join(cfg.TargetPrefix, "bin", "tiny"))

	requests, err := h.UserRequests()
	require.NoError(t, err)
	require.Len(t, requests, 3)
	assert.Equal(t, "install --revision 0", requests[2].Cmd)

	out.Reset()
	state, err = m.InstallRevision(context.Background(), 7, Options{})
	require.NoError(t, err)
	assert.Equal(t, StateExecuted, state)
	assert.Contains(t, out.String(), "All requested packages already installed")
	requests, err = h.UserRequests()
	require.NoError(t, err)
	assert.Len(t, requests, 3, "a revision past the latest one changes nothing")

	state, err = m.InstallRevision(context.Background(), -1, Options{})
	require.NoError(t, err)
	assert.Equal(t, StateExecuted, state)
	assert.NoFileExists(t, filepath.Join(cfg.TargetPrefix, "bin", "tiny"))
	requests, err = h.UserRequests()
	require.NoError(t, err)
	require.Len(t, requests, 4)
	require.Len(t, requests[3].UnlinkDists, 1)
	assert.Contains(t, requests[3].UnlinkDists[0], "tiny-1.0-0")
}

func TestManager_CreateEmpty(t *testing.T) {
	cfg := testConfig(t)
	cfg.JSON = true
	var out bytes.Buffer
	m := newTestManager(t, cfg, &out)

	require.NoError(t, m.CreateEmpty("demo"))
	assert.FileExists(t, filepath.Join(cfg.TargetPrefix, "conda-meta", "history"))
	assert.Contains(t, out.String(), "Empty environment created at prefix: "+cfg.TargetPrefix)
	assert.Contains(t, out.String(), `"success": true`)

	envs, err := m.Store.ListEnvs()
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, cfg.TargetPrefix, envs[0].Prefix)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "rolled back", StateRolledBack.String())
	assert.Equal(t, "State(42)", State(42).String())
}
