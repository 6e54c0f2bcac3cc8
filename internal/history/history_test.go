package history

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const sampleHistory = `==> 2024-01-10 09:12:44 <==
# cmd: micromamba create -n demo python=3.12
# conda version: 3.8.0
+conda-forge/linux-64::python-3.12.1-hab00c5b_1_cpython
+conda-forge/linux-64::zlib-1.2.13-hd590300_5
# update specs: ["python=3.12"]
==> 2024-02-02 17:00:01 <==
# cmd: micromamba install zlib=1.3
-conda-forge/linux-64::zlib-1.2.13-hd590300_5
+conda-forge/linux-64::zlib-1.3.1-h4ab18f5_1
# update specs: ['zlib=1.3']
==> 2024-03-03 08:30:00 <==
# cmd: micromamba remove zlib
-conda-forge/linux-64::zlib-1.3.1-h4ab18f5_1
# remove specs: ["zlib"]
# neutered specs: []
`

func TestParse(t *testing.T) {
	reqs, err := Parse(strings.NewReader(sampleHistory))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(reqs) != 3 {
		t.Fatalf("expected 3 revisions, got %d", len(reqs))
	}

	first := reqs[0]
	if first.Revision != 0 || first.Date != "2024-01-10 09:12:44" {
		t.Errorf("first header = %d %q", first.Revision, first.Date)
	}
	if first.Cmd != "micromamba create -n demo python=3.12" {
		t.Errorf("Cmd = %q", first.Cmd)
	}
	if first.CondaVersion != "3.8.0" {
		t.Errorf("CondaVersion = %q", first.CondaVersion)
	}
	if len(first.LinkDists) != 2 || len(first.UnlinkDists) != 0 {
		t.Errorf("first dists = %v / %v", first.LinkDists, first.UnlinkDists)
	}
	if !reflect.DeepEqual(first.UpdateSpecs, []string{"python=3.12"}) {
		t.Errorf("UpdateSpecs = %v", first.UpdateSpecs)
	}

	if !reflect.DeepEqual(reqs[1].UpdateSpecs, []string{"zlib=1.3"}) {
		t.Errorf("single quoted specs = %v", reqs[1].UpdateSpecs)
	}
	if reqs[2].Revision != 2 || !reflect.DeepEqual(reqs[2].RemoveSpecs, []string{"zlib"}) {
		t.Errorf("third revision = %+v", reqs[2])
	}
	if len(reqs[2].NeuteredSpecs) != 0 {
		t.Errorf("NeuteredSpecs = %v", reqs[2].NeuteredSpecs)
	}
}

func TestParse_IgnoresLinesBeforeHeader(t *testing.T) {
	reqs, err := Parse(strings.NewReader("+stray::pkg-1-0\n# cmd: nothing\n"))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(reqs) != 0 {
		t.Errorf("expected no revisions, got %d", len(reqs))
	}
}

func TestFormatRoundTrip(t *testing.T) {
	req := UserRequest{
		Date:        "2024-05-05 10:00:00",
		Cmd:         "mamba install numpy",
		LinkDists:   []string{"conda-forge/linux-64::numpy-2.0.0-py312_0"},
		UnlinkDists: []string{"conda-forge/linux-64::numpy-1.26.4-py312_0"},
		UpdateSpecs: []string{"numpy>=2"},
	}

	text := Format(req)
	if !strings.HasPrefix(text, "==> 2024-05-05 10:00:00 <==\n# cmd: mamba install numpy\n") {
		t.Errorf("unexpected header:\n%s", text)
	}
	if strings.Contains(text, "remove specs") {
		t.Errorf("empty spec lists should not be written:\n%s", text)
	}

	reqs, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("expected 1 revision, got %d", len(reqs))
	}
	got := reqs[0]
	if !reflect.DeepEqual(got.LinkDists, req.LinkDists) || !reflect.DeepEqual(got.UnlinkDists, req.UnlinkDists) {
		t.Errorf("dists = %v / %v", got.LinkDists, got.UnlinkDists)
	}
	if !reflect.DeepEqual(got.UpdateSpecs, req.UpdateSpecs) {
		t.Errorf("UpdateSpecs = %v", got.UpdateSpecs)
	}
}

func TestFileAppend(t *testing.T) {
	prefix := t.TempDir()
	f := Open(prefix)

	reqs, err := f.UserRequests()
	if err != nil {
		t.Fatalf("UserRequests() error: %v", err)
	}
	if len(reqs) != 0 {
		t.Fatalf("expected empty history, got %d", len(reqs))
	}

	if err := f.Append(UserRequest{Cmd: "first", LinkDists: []string{"conda-forge/noarch::tzdata-2024a-h0_0"}}); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := f.Append(UserRequest{Cmd: "second", UnlinkDists: []string{"conda-forge/noarch::tzdata-2024a-h0_0"}}); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	if f.Path() != filepath.Join(prefix, "conda-meta", "history") {
		t.Errorf("Path() = %q", f.Path())
	}
	if _, err := os.Stat(f.Path()); err != nil {
		t.Fatalf("history not written: %v", err)
	}

	reqs, err = f.UserRequests()
	if err != nil {
		t.Fatalf("UserRequests() error: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(reqs))
	}
	if reqs[1].Revision != 1 || reqs[1].Cmd != "second" {
		t.Errorf("second revision = %+v", reqs[1])
	}
	if reqs[0].Date == "" {
		t.Error("Append() should fill in the date")
	}
}

type failingCloser struct {
	bytes.Buffer
	err error
}

func (f *failingCloser) Close() error { return f.err }

func TestWriteRevision_ReportsCloseError(t *testing.T) {
	diskFull := errors.New("no space left on device")
	w := &failingCloser{err: diskFull}
	req := UserRequest{Date: "2024-01-10 09:12:44", Cmd: "micromamba install zlib"}

	if err := writeRevision(w, req); !errors.Is(err, diskFull) {
		t.Fatalf("writeRevision() error = %v, want %v", err, diskFull)
	}
	if !strings.Contains(w.String(), "==> 2024-01-10 09:12:44 <==") {
		t.Errorf("revision not written:\n%s", w.String())
	}

	w = &failingCloser{}
	if err := writeRevision(w, req); err != nil {
		t.Errorf("writeRevision() error = %v", err)
	}
}
