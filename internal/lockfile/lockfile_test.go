package lockfile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SandrineP/mamba/internal/errs"
	"github.com/SandrineP/mamba/internal/httputil"
)

func testdata(name string) string {
	return filepath.Join("testdata", name)
}

func TestRead_MissingFile(t *testing.T) {
	_, err := Read("this/file/does/not/exist-lock.yaml")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeIO))
}

func TestRead_UnsupportedVersion(t *testing.T) {
	_, err := Read(testdata("bad_version-lock.yaml"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeFormat))
	assert.Contains(t, err.Error(), "unsupported lockfile version 2")
}

func TestRead_InvalidPackage(t *testing.T) {
	_, err := Read(testdata("bad_package-lock.yaml"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeFormat))
	assert.Contains(t, err.Error(), "missing platform")
}

func TestRead_NoPackages(t *testing.T) {
	lf, err := Read(testdata("no_package-lock.yaml"))
	require.NoError(t, err)
	assert.Empty(t, lf.Packages)
	assert.Equal(t, []string{"linux-64"}, lf.Metadata.Platforms)
}

func TestRead_ImplicitCategory(t *testing.T) {
	lf, err := Read(testdata("multiple_categories-lock.yaml"))
	require.NoError(t, err)

	var tzdata *Package
	for i := range lf.Packages {
		if lf.Packages[i].Name == "tzdata" {
			tzdata = &lf.Packages[i]
		}
	}
	require.NotNil(t, tzdata)
	assert.Equal(t, DefaultCategory, tzdata.Category)
}

func TestPackagesFor(t *testing.T) {
	lf, err := Read(testdata("multiple_categories-lock.yaml"))
	require.NoError(t, err)

	assert.Empty(t, lf.PackagesFor("", "", ""))

	tests := []struct {
		category, platform, manager string
		want                        []string
	}{
		{"main", "linux-64", "conda", []string{"python", "zlib", "tzdata"}},
		{"main", "linux-64", "pip", []string{"requests", "urllib3"}},
		{"dev", "linux-64", "conda", []string{"pytest", "pluggy"}},
		{"dev", "linux-64", "pip", []string{"black"}},
		{"main", "osx-arm64", "conda", []string{"python"}},
		{"nonesuch", "linux-64", "conda", nil},
	}
	for _, tt := range tests {
		var got []string
		for _, pkg := range lf.PackagesFor(tt.category, tt.platform, tt.manager) {
			got = append(got, pkg.Name)
		}
		assert.Equal(t, tt.want, got, "PackagesFor(%q, %q, %q)", tt.category, tt.platform, tt.manager)
	}

	assert.Equal(t, []string{"conda", "pip"}, lf.Managers("linux-64"))
}

func TestPackageRecord(t *testing.T) {
	lf, err := Read(testdata("multiple_categories-lock.yaml"))
	require.NoError(t, err)

	rec, err := lf.Packages[0].Record()
	require.NoError(t, err)
	assert.Equal(t, "python", rec.Name)
	assert.Equal(t, "3.12.1", rec.Version)
	assert.Equal(t, "hab00c5b_1_cpython", rec.Build)
	assert.Equal(t, "linux-64", rec.Subdir)
	assert.Equal(t, "https://conda.anaconda.org/conda-forge", rec.Channel)
	assert.Equal(t, "0bab699354cbd66959550eb9b9866620", rec.MD5)
	assert.Equal(t, []string{"tzdata", "zlib >=1.2.13,<2.0a0"}, rec.Depends)
}

func TestIsLockfileName(t *testing.T) {
	valid := []string{
		"something-lock.yaml",
		"something-lock.yml",
		"/some/dir/something-lock.yaml",
		"/some/dir/something-lock.yml",
		"../../some/dir/something-lock.yaml",
		"../../some/dir/something-lock.yml",
	}
	for _, name := range valid {
		assert.True(t, IsLockfileName(name), name)
	}

	invalid := []string{
		"something",
		"something-lock",
		"/some/dir/something",
		"../../some/dir/something",
		"something.yaml",
		"something.yml",
		"/some/dir/something.yaml",
		"../../some/dir/something.yml",
	}
	for _, name := range invalid {
		assert.False(t, IsLockfileName(name), name)
	}
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://example.com/env-lock.yaml"))
	assert.False(t, IsRemote("env-lock.yaml"))
	assert.False(t, IsRemote("file:///tmp/env-lock.yaml"))
}

func TestFetch(t *testing.T) {
	content, err := os.ReadFile(testdata("no_package-lock.yaml"))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/env-lock.yaml" {
			http.NotFound(w, r)
			return
		}
		w.Write(content)
	}))
	defer srv.Close()

	client := httputil.NewClient()
	client.Delay = time.Millisecond

	path, cleanup, err := Fetch(context.Background(), client, srv.URL+"/env-lock.yaml")
	require.NoError(t, err)
	lf, err := Read(path)
	require.NoError(t, err)
	assert.Empty(t, lf.Packages)
	cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, _, err = Fetch(context.Background(), client, srv.URL+"/missing-lock.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Could not download environment lockfile from "+srv.URL+"/missing-lock.yaml")
}
