package resources

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redf0x1/camofox-browser/internal/enginetest"
)

func TestExtract_FiltersByExtension(t *testing.T) {
	page := enginetest.NewPage("https://example.com", nil)
	page.SetEvaluate(func(string) (any, error) {
		return map[string]any{
			"images": []any{
				map[string]any{"url": "https://example.com/a.png", "text": "a"},
				map[string]any{"url": "https://example.com/b.jpg", "text": "b"},
			},
			"links":     []any{},
			"media":     []any{},
			"documents": []any{},
			"blobUrls":  []any{},
		}, nil
	})

	res, err := Extract(page, ExtractOptions{ExtensionFilter: []string{"png"}})
	require.NoError(t, err)
	require.Len(t, res.Resources, 1)
	assert.Equal(t, "https://example.com/a.png", res.Resources[0].URL)
}

func TestExtract_NoFilterReturnsEverything(t *testing.T) {
	page := enginetest.NewPage("https://example.com", nil)
	page.SetEvaluate(func(string) (any, error) {
		return map[string]any{
			"images":    []any{map[string]any{"url": "https://example.com/a.png"}},
			"links":     []any{map[string]any{"url": "https://example.com/b"}},
			"media":     []any{},
			"documents": []any{},
			"blobUrls":  []any{},
		}, nil
	})

	res, err := Extract(page, ExtractOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Resources, 2)
}

func TestClampCandidates_EnforcesBounds(t *testing.T) {
	many := make([]string, 1000)
	got := clampCandidates(many, 0)
	assert.Len(t, got, 50, "default maxFiles is 50")

	got = clampCandidates(many, 9999)
	assert.Len(t, got, 500, "hard cap is 500")
}

func TestBatchDownloader_DataURI(t *testing.T) {
	dir := t.TempDir()
	d := NewBatchDownloader(BatchOptions{MaxBlobSizeMB: 1, MaxFileSizeMB: 1, DestDir: dir})

	results := d.Download(context.Background(), nil, nil, []string{"data:text/plain;base64,aGVsbG8="}, 1, false)
	require.Len(t, results, 1)
	assert.Equal(t, "completed", results[0].Status)

	data, err := os.ReadFile(results[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestBatchDownloader_BlobRefusedWhenResolveDisabled(t *testing.T) {
	d := NewBatchDownloader(BatchOptions{MaxBlobSizeMB: 1, MaxFileSizeMB: 1, DestDir: t.TempDir()})

	results := d.Download(context.Background(), nil, nil, []string{"blob:https://example.com/abc"}, 1, false)
	require.Len(t, results, 1)
	assert.Equal(t, "failed", results[0].Status)
}

func TestBatchDownloader_BlobResolvedWhenEnabled(t *testing.T) {
	page := enginetest.NewPage("https://example.com", nil)
	page.SetEvaluate(func(string) (any, error) {
		return map[string]any{"base64": "aGVsbG8=", "mimeType": "text/plain"}, nil
	})
	d := NewBatchDownloader(BatchOptions{MaxBlobSizeMB: 1, MaxFileSizeMB: 1, DestDir: t.TempDir()})

	results := d.Download(context.Background(), page, nil, []string{"blob:https://example.com/abc"}, 1, true)
	require.Len(t, results, 1)
	assert.Equal(t, "completed", results[0].Status)

	data, err := os.ReadFile(results[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestBatchDownloader_BlobEnabledButNoPageFails(t *testing.T) {
	d := NewBatchDownloader(BatchOptions{MaxBlobSizeMB: 1, MaxFileSizeMB: 1, DestDir: t.TempDir()})

	results := d.Download(context.Background(), nil, nil, []string{"blob:https://example.com/abc"}, 1, true)
	require.Len(t, results, 1)
	assert.Equal(t, "failed", results[0].Status)
}

func TestBatchDownloader_HTTPFetchViaRequestClient(t *testing.T) {
	page := enginetest.NewPage("https://example.com", nil)
	d := NewBatchDownloader(BatchOptions{MaxBlobSizeMB: 1, MaxFileSizeMB: 1, DestDir: t.TempDir()})

	results := d.Download(context.Background(), nil, page.Request(), []string{"https://example.com/file.bin"}, 1, false)
	require.Len(t, results, 1)
	assert.Equal(t, "completed", results[0].Status)
	data, err := os.ReadFile(results[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "fake-body", string(data))
}

func TestBatchDownloader_UnsupportedSchemeFails(t *testing.T) {
	d := NewBatchDownloader(BatchOptions{DestDir: t.TempDir()})
	results := d.Download(context.Background(), nil, nil, []string{"ftp://example.com/x"}, 1, false)
	require.Len(t, results, 1)
	assert.Equal(t, "failed", results[0].Status)
}
