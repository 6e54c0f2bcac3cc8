package link

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SandrineP/mamba/internal/errs"
	"github.com/SandrineP/mamba/internal/prefix"
	"github.com/SandrineP/mamba/internal/specs"
)

func extracted(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{
		"info/index.json":       "{}",
		"bin/demo":              "#!/bin/sh\n",
		"lib/python/demo.py":    "print('hi')\n",
		"share/doc/demo/README": "docs",
	} {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	require.NoError(t, os.Symlink("demo", filepath.Join(dir, "bin", "demo-alias")))
	return dir
}

func TestLinkUnlink(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, prefix.CreateTarget(root))
	env, err := prefix.Load(root)
	require.NoError(t, err)

	// A file owned by nothing must survive unlinking.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "share"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "share", "keep"), []byte("x"), 0644))

	rec := specs.PackageRecord{Name: "demo", Version: "1.0", Build: "0"}
	l := New(nil)
	require.NoError(t, l.Link(env, extracted(t), rec))

	installed, ok := env.Get("demo")
	require.True(t, ok)
	assert.Equal(t, []string{"bin/demo", "bin/demo-alias", "lib/python/demo.py", "share/doc/demo/README"}, installed.Files)
	assert.FileExists(t, filepath.Join(root, "bin", "demo"))
	assert.NoDirExists(t, filepath.Join(root, "info"))
	assert.FileExists(t, filepath.Join(root, prefix.MetaDir, "demo-1.0-0.json"))
	target, err := os.Readlink(filepath.Join(root, "bin", "demo-alias"))
	require.NoError(t, err)
	assert.Equal(t, "demo", target)

	reloaded, err := prefix.Load(root)
	require.NoError(t, err)
	recorded, ok := reloaded.Get("demo")
	require.True(t, ok)
	assert.Equal(t, installed.Files, recorded.Files)

	require.NoError(t, l.Unlink(reloaded, rec))
	assert.NoFileExists(t, filepath.Join(root, "bin", "demo"))
	assert.NoDirExists(t, filepath.Join(root, "lib"))
	assert.NoDirExists(t, filepath.Join(root, "share", "doc"))
	assert.FileExists(t, filepath.Join(root, "share", "keep"))
	assert.NoFileExists(t, filepath.Join(root, prefix.MetaDir, "demo-1.0-0.json"))
	assert.DirExists(t, filepath.Join(root, prefix.MetaDir))
	_, ok = reloaded.Get("demo")
	assert.False(t, ok)
}

func TestUnlink_NotInstalled(t *testing.T) {
	env, err := prefix.Load(t.TempDir())
	require.NoError(t, err)

	err = New(nil).Unlink(env, specs.PackageRecord{Name: "ghost"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeNotFound))
}
