package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNotInitialized(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer s.Close()

	_, err = s.ListEnvs()
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ListEnvs() on empty db error = %v, want ErrNotInitialized", err)
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := s.RegisterEnv("/envs/a", "a"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer s.Close()
	envs, err := s.ListEnvs()
	if err != nil {
		t.Fatalf("ListEnvs() error: %v", err)
	}
	if len(envs) != 1 || envs[0].Name != "a" {
		t.Errorf("envs = %+v, want one env named a", envs)
	}
}

func TestEnvRegistry(t *testing.T) {
	s := openTest(t)

	for _, e := range [][2]string{{"/envs/b", "b"}, {"/envs/a", "a"}, {"/tmp/x", ""}} {
		if err := s.RegisterEnv(e[0], e[1]); err != nil {
			t.Fatalf("RegisterEnv(%s) error: %v", e[0], err)
		}
	}
	// Re-registering renames but does not duplicate.
	if err := s.RegisterEnv("/envs/b", "bee"); err != nil {
		t.Fatal(err)
	}

	envs, err := s.ListEnvs()
	if err != nil {
		t.Fatalf("ListEnvs() error: %v", err)
	}
	if len(envs) != 3 {
		t.Fatalf("len(envs) = %d, want 3", len(envs))
	}
	if envs[0].Prefix != "/envs/a" || envs[1].Name != "bee" || envs[2].Name != "" {
		t.Errorf("unexpected envs: %+v %+v %+v", envs[0], envs[1], envs[2])
	}

	if err := s.UnregisterEnv("/envs/a"); err != nil {
		t.Fatal(err)
	}
	envs, err = s.ListEnvs()
	if err != nil {
		t.Fatal(err)
	}
	if len(envs) != 2 || envs[0].Prefix != "/envs/b" {
		t.Errorf("envs after unregister = %+v", envs)
	}
	// Unknown prefixes are ignored.
	if err := s.UnregisterEnv("/envs/missing"); err != nil {
		t.Errorf("UnregisterEnv(missing) error: %v", err)
	}
}

func TestTransactionJournal(t *testing.T) {
	s := openTest(t)

	id, err := s.BeginTransaction("/envs/a", "install numpy")
	if err != nil {
		t.Fatalf("BeginTransaction() error: %v", err)
	}
	if len(id) != 36 {
		t.Errorf("id = %q, want a uuid", id)
	}

	actions := []Action{
		{Action: "unlink", Dist: "numpy-1.25.0-py312_0"},
		{Action: "link", Dist: "numpy-1.26.4-py312_0"},
	}
	if err := s.AddActions(id, actions); err != nil {
		t.Fatalf("AddActions() error: %v", err)
	}

	rec, err := onlyTransaction(t, s, "/envs/a")
	if err != nil {
		t.Fatalf("ListTransactions() error: %v", err)
	}
	if rec.Status != StatusRunning || rec.FinishedAt != nil {
		t.Errorf("new transaction = %+v, want running and unfinished", rec)
	}
	if len(rec.Actions) != 2 || rec.Actions[0] != actions[0] || rec.Actions[1] != actions[1] {
		t.Errorf("Actions = %+v, want %+v", rec.Actions, actions)
	}

	if err := s.FinishTransaction(id, StatusCommitted); err != nil {
		t.Fatalf("FinishTransaction() error: %v", err)
	}
	rec, err = onlyTransaction(t, s, "/envs/a")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusCommitted || rec.FinishedAt == nil {
		t.Errorf("finished transaction = %+v", rec)
	}

	if err := s.FinishTransaction("missing", StatusFailed); err == nil {
		t.Error("expected error for unknown transaction")
	}
}

func onlyTransaction(t *testing.T, s *Store, prefix string) (*TxRecord, error) {
	t.Helper()
	recs, err := s.ListTransactions(prefix)
	if err != nil {
		return nil, err
	}
	if len(recs) != 1 {
		t.Fatalf("len(transactions) = %d, want 1", len(recs))
	}
	return recs[0], nil
}

func TestListTransactions(t *testing.T) {
	s := openTest(t)

	first, _ := s.BeginTransaction("/envs/a", "create")
	second, _ := s.BeginTransaction("/envs/a", "install x")
	if _, err := s.BeginTransaction("/envs/b", "create"); err != nil {
		t.Fatal(err)
	}

	recs, err := s.ListTransactions("/envs/a")
	if err != nil {
		t.Fatalf("ListTransactions() error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}
	if recs[0].ID != second || recs[1].ID != first {
		t.Errorf("order = [%s %s], want most recent first", recs[0].ID, recs[1].ID)
	}
	if recs[0].Command != "install x" {
		t.Errorf("Command = %q", recs[0].Command)
	}
}
