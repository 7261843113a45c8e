package downloads

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redf0x1/camofox-browser/pkg/models"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(Options{
		DownloadsDir:        t.TempDir(),
		MaxDownloadsPerUser: 3,
		MaxFileSizeMB:       1,
		TTL:                 time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestBeginAndFinalize_Success(t *testing.T) {
	r := newTestRegistry(t)

	info := r.Begin("alice", "tab-1", "https://example.com/a.pdf", "report.pdf")
	assert.Equal(t, models.DownloadPending, info.Status)
	assert.Equal(t, info.ID+"_report.pdf", info.SavedFilename)

	writeFile(t, r.Path(info), 100)
	r.Finalize(info.ID, "")

	got, ok := r.Get(info.ID, "alice")
	require.True(t, ok)
	assert.Equal(t, models.DownloadCompleted, got.Status)
	assert.EqualValues(t, 100, got.Size)
	require.NotNil(t, got.CompletedAt)
}

func TestFinalize_EngineFailureMarksFailed(t *testing.T) {
	r := newTestRegistry(t)
	info := r.Begin("alice", "tab-1", "https://example.com/a", "a.bin")

	r.Finalize(info.ID, "network error")

	got, ok := r.Get(info.ID, "alice")
	require.True(t, ok)
	assert.Equal(t, models.DownloadFailed, got.Status)
}

func TestFinalize_CanceledMessageMarksCanceled(t *testing.T) {
	r := newTestRegistry(t)
	info := r.Begin("alice", "tab-1", "https://example.com/a", "a.bin")

	r.Finalize(info.ID, "download was canceled by user")

	got, ok := r.Get(info.ID, "alice")
	require.True(t, ok)
	assert.Equal(t, models.DownloadCanceled, got.Status)
}

func TestFinalize_OversizedFileDeletedAndMarkedFailed(t *testing.T) {
	r := newTestRegistry(t)
	info := r.Begin("alice", "tab-1", "https://example.com/a", "big.bin")

	writeFile(t, r.Path(info), 2*1024*1024)
	r.Finalize(info.ID, "")

	got, ok := r.Get(info.ID, "alice")
	require.True(t, ok)
	assert.Equal(t, models.DownloadFailed, got.Status)

	_, statErr := os.Stat(r.Path(info))
	assert.True(t, os.IsNotExist(statErr), "oversized file must be deleted")
}

func TestGet_CrossUserDenied(t *testing.T) {
	r := newTestRegistry(t)
	info := r.Begin("alice", "tab-1", "https://example.com/a", "a.bin")

	_, ok := r.Get(info.ID, "mallory")
	assert.False(t, ok)
}

func TestBegin_EvictsOldestNonPendingOverCap(t *testing.T) {
	r := newTestRegistry(t)

	var completed []*models.DownloadInfo
	for i := 0; i < 3; i++ {
		info := r.Begin("alice", "tab-1", "https://example.com/a", "a.bin")
		writeFile(t, r.Path(info), 10)
		r.Finalize(info.ID, "")
		completed = append(completed, info)
		time.Sleep(2 * time.Millisecond)
	}

	newest := r.Begin("alice", "tab-1", "https://example.com/b", "b.bin")
	writeFile(t, r.Path(newest), 10)
	r.Finalize(newest.ID, "")

	_, stillThere := r.Get(completed[0].ID, "alice")
	assert.False(t, stillThere, "oldest completed entry must be evicted once over the per-user cap")

	all := r.ForUser("alice")
	assert.LessOrEqual(t, len(all), 4)
}

func TestRecent_FiltersByTabAndWindow(t *testing.T) {
	r := newTestRegistry(t)
	info := r.Begin("alice", "tab-1", "https://example.com/a", "a.bin")

	recent := r.Recent("tab-1", time.Hour)
	require.Len(t, recent, 1)
	assert.Equal(t, info.ID, recent[0].ID)

	none := r.Recent("tab-2", time.Hour)
	assert.Empty(t, none)
}

func TestDelete_RemovesFileAndEntry(t *testing.T) {
	r := newTestRegistry(t)
	info := r.Begin("alice", "tab-1", "https://example.com/a", "a.bin")
	writeFile(t, r.Path(info), 10)

	assert.True(t, r.Delete(info.ID, "alice"))
	_, ok := r.Get(info.ID, "alice")
	assert.False(t, ok)
	_, statErr := os.Stat(r.Path(info))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSanitizeFilename_ReplacesSeparatorsAndCapsLength(t *testing.T) {
	assert.Equal(t, "a_b_c", sanitizeFilename("a/b\\c"))
	assert.Equal(t, "download", sanitizeFilename(""))
	assert.Len(t, sanitizeFilename(strings.Repeat("a", 500)), 200)
}

func TestGuessMime_UsesLastExtension(t *testing.T) {
	assert.Equal(t, "application/pdf", guessMime("report.final.pdf"))
	assert.Equal(t, "application/octet-stream", guessMime("noextension"))
}

func TestCleanupUser_RemovesExpiredEntriesForThatUserOnly(t *testing.T) {
	r := newTestRegistry(t)
	r.ttl = time.Millisecond

	aliceInfo := r.Begin("alice", "tab-1", "https://example.com/a", "a.bin")
	writeFile(t, r.Path(aliceInfo), 10)
	r.Finalize(aliceInfo.ID, "")

	bobInfo := r.Begin("bob", "tab-2", "https://example.com/b", "b.bin")
	writeFile(t, r.Path(bobInfo), 10)
	r.Finalize(bobInfo.ID, "")

	time.Sleep(5 * time.Millisecond)

	r.CleanupUser("alice")

	_, aliceStillThere := r.Get(aliceInfo.ID, "alice")
	assert.False(t, aliceStillThere, "expired entry for the cleaned-up user must be removed")
	_, bobStillThere := r.Get(bobInfo.ID, "bob")
	assert.True(t, bobStillThere, "cleanup is scoped to the requested user only")
}

func TestCleanupUser_NeverTouchesPendingEntries(t *testing.T) {
	r := newTestRegistry(t)
	r.ttl = time.Millisecond

	info := r.Begin("alice", "tab-1", "https://example.com/a", "a.bin")
	time.Sleep(5 * time.Millisecond)

	r.CleanupUser("alice")

	_, ok := r.Get(info.ID, "alice")
	assert.True(t, ok, "a pending download must never be swept, expired or not")
}

func TestReconcile_AdoptsOrphanedFilesOnStartup(t *testing.T) {
	dir := t.TempDir()
	userDir := filepath.Join(dir, "alice")
	require.NoError(t, os.MkdirAll(userDir, 0o755))

	id := "11111111-1111-1111-1111-111111111111"
	orphanPath := filepath.Join(userDir, id+"_report.pdf")
	writeFile(t, orphanPath, 42)

	r, err := New(Options{DownloadsDir: dir, MaxDownloadsPerUser: 10, MaxFileSizeMB: 10, TTL: time.Hour})
	require.NoError(t, err)
	defer r.Close()

	got, ok := r.Get(id, "alice")
	require.True(t, ok)
	assert.Equal(t, models.DownloadCompleted, got.Status)
	assert.Equal(t, "unknown", got.TabID)
	assert.Equal(t, "application/pdf", got.MimeType)
}
