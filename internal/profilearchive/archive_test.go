package profilearchive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportImport_RoundTripsDirectoryContents(t *testing.T) {
	profilesDir := t.TempDir()
	a := New(profilesDir)

	userDir := filepath.Join(profilesDir, "alice")
	require.NoError(t, os.MkdirAll(filepath.Join(userDir, "Default"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "Default", "cookies.sqlite"), []byte("data"), 0o644))

	archivePath := filepath.Join(t.TempDir(), "alice.tar.gz")
	require.NoError(t, a.Export("alice", archivePath))

	other := New(t.TempDir())
	require.NoError(t, other.Import("alice", archivePath))

	restored, err := os.ReadFile(filepath.Join(other.userDir("alice"), "Default", "cookies.sqlite"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(restored))
}

func TestExport_MissingProfileFails(t *testing.T) {
	a := New(t.TempDir())
	err := a.Export("nobody", filepath.Join(t.TempDir(), "out.tar.gz"))
	assert.Error(t, err)
}

func TestImport_RefusesToOverwriteExistingProfile(t *testing.T) {
	profilesDir := t.TempDir()
	a := New(profilesDir)
	require.NoError(t, os.MkdirAll(a.userDir("alice"), 0o755))

	err := a.Import("alice", filepath.Join(t.TempDir(), "whatever.tar.gz"))
	assert.Error(t, err)
}
