// Package resources implements the ResourceExtractor and BatchDownloader
// from spec §4.11: a scoped, page-side DOM walk that collects candidate
// resource URLs, and a bounded-concurrency downloader that fetches them
// (including data: and blob: URIs) subject to size caps.
package resources

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/redf0x1/camofox-browser/internal/apperr"
	"github.com/redf0x1/camofox-browser/internal/engine"
	"github.com/redf0x1/camofox-browser/pkg/models"
)

const (
	maxLazyLoadScrolls = 50
	maxBlobReplacement = 25
	fetchTimeout       = 30 * time.Second
)

// ExtractOptions configures one extraction pass.
type ExtractOptions struct {
	ContainerSelector string // default "body"
	ExtensionFilter   []string
	ResolveBlobs      bool
}

// ExtractResult is what one extraction pass returns.
type ExtractResult struct {
	Resources []models.ResourceDescriptor
	BlobURLs  []string
}

// blobExtraction is the shape the in-page extraction script is expected to
// return, one entry per discovered resource plus the set of blob: URLs
// observed.
type blobExtraction struct {
	Images    []rawResource `json:"images"`
	Links     []rawResource `json:"links"`
	Media     []rawResource `json:"media"`
	Documents []rawResource `json:"documents"`
	BlobURLs  []string      `json:"blobUrls"`
}

type rawResource struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// extractionScript walks containerSelector, collecting per-type resource
// URLs normalized against the document base. The real implementation is a
// small piece of page-side JavaScript handed to engine.Page.Evaluate; its
// exact source lives alongside the HTTP handler wiring since it is pure
// glue, not orchestration logic.
const extractionScript = `(containerSelector) => window.__camofoxExtractResources(containerSelector)`

// Extract runs the extraction script after scrolling up to 50 img elements
// into view to trigger lazy-load, then normalizes and filters the result.
// The lazy-load scroll runs on every call; ExtractOptions has no switch
// to skip it.
func Extract(page engine.Page, opts ExtractOptions) (*ExtractResult, error) {
	container := opts.ContainerSelector
	if container == "" {
		container = "body"
	}

	triggerLazyLoad(page, container)

	raw, err := page.Evaluate(context.Background(), fmt.Sprintf("(%s)(%q)", extractionScript, container))
	if err != nil {
		return nil, apperr.Engine(err, "resource extraction failed")
	}

	parsed, ok := raw.(map[string]any)
	if !ok {
		return &ExtractResult{}, nil
	}

	extraction := decodeExtraction(parsed)

	filterSet := make(map[string]bool, len(opts.ExtensionFilter))
	for _, ext := range opts.ExtensionFilter {
		filterSet[normalizeExt(ext)] = true
	}

	var result ExtractResult
	add := func(kind string, items []rawResource) {
		for _, item := range items {
			if len(filterSet) > 0 && !filterSet[extOf(item.URL)] {
				continue
			}
			result.Resources = append(result.Resources, models.ResourceDescriptor{
				Kind: kind, URL: item.URL, Text: item.Text,
			})
		}
	}
	add("image", extraction.Images)
	add("link", extraction.Links)
	add("media", extraction.Media)
	add("document", extraction.Documents)

	result.BlobURLs = extraction.BlobURLs

	if opts.ResolveBlobs {
		resolveBlobURLs(page, &result)
	}

	return &result, nil
}

func triggerLazyLoad(page engine.Page, container string) {
	loc := page.Locator(container + " img")
	count, err := loc.Count()
	if err != nil {
		return
	}
	if count > maxLazyLoadScrolls {
		count = maxLazyLoadScrolls
	}
	for i := 0; i < count; i++ {
		_ = loc.Nth(i).ScrollIntoViewIfNeeded()
	}
}

func decodeExtraction(m map[string]any) blobExtraction {
	var out blobExtraction
	out.Images = decodeResourceList(m["images"])
	out.Links = decodeResourceList(m["links"])
	out.Media = decodeResourceList(m["media"])
	out.Documents = decodeResourceList(m["documents"])
	if raw, ok := m["blobUrls"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				out.BlobURLs = append(out.BlobURLs, s)
			}
		}
	}
	return out
}

func decodeResourceList(v any) []rawResource {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]rawResource, 0, len(items))
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		r := rawResource{}
		if s, ok := obj["url"].(string); ok {
			r.URL = s
		}
		if s, ok := obj["text"].(string); ok {
			r.Text = s
		}
		out = append(out, r)
	}
	return out
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func extOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	path := rawURL
	if err == nil {
		path = u.Path
	}
	return strings.ToLower(filepath.Ext(path))
}

// ResolveBlobs resolves a caller-supplied set of blob: URLs in-page to data
// URIs directly, for the standalone resolve-blobs route (as opposed to
// Extract's own blob resolution pass over URLs it just discovered).
func ResolveBlobs(page engine.Page, blobURLs []string) map[string]string {
	result := &ExtractResult{BlobURLs: blobURLs}
	for _, u := range blobURLs {
		result.Resources = append(result.Resources, models.ResourceDescriptor{Kind: "blob", URL: u})
	}
	resolveBlobURLs(page, result)

	resolved := make(map[string]string, len(blobURLs))
	for i, original := range blobURLs {
		if resolvedURL := result.Resources[i].URL; resolvedURL != original {
			resolved[original] = resolvedURL
		}
	}
	return resolved
}

// resolveBlobURLs runs the blob->data-URI resolution inside the page
// (fetch -> Blob -> FileReader data URL) and replaces at most 25 blob URLs
// with their resolved data URIs.
func resolveBlobURLs(page engine.Page, result *ExtractResult) {
	limit := len(result.BlobURLs)
	if limit > maxBlobReplacement {
		limit = maxBlobReplacement
	}
	for i := 0; i < limit; i++ {
		blobURL := result.BlobURLs[i]
		dataURI, err := resolveBlobToDataURI(page, blobURL)
		if err != nil {
			continue
		}
		for j := range result.Resources {
			if result.Resources[j].URL == blobURL {
				result.Resources[j].URL = dataURI
			}
		}
	}
}

// resolveBlobToDataURI resolves a single blob: URL in-page to a data URI via
// the page's injected __camofoxResolveBlob helper (fetch -> Blob ->
// FileReader data URL), shared by extraction's blob pass and batch-download's
// blob: candidates.
func resolveBlobToDataURI(page engine.Page, blobURL string) (string, error) {
	raw, err := page.Evaluate(context.Background(), fmt.Sprintf("window.__camofoxResolveBlob(%q)", blobURL))
	if err != nil {
		return "", fmt.Errorf("resolve blob in page: %w", err)
	}
	resolved, ok := raw.(map[string]any)
	if !ok {
		return "", fmt.Errorf("blob resolution returned no data")
	}
	base64Data, _ := resolved["base64"].(string)
	mimeType, _ := resolved["mimeType"].(string)
	if base64Data == "" {
		return "", fmt.Errorf("blob resolution returned no data")
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64Data), nil
}

// BatchDownloader fetches a bounded set of candidate URLs concurrently.
type BatchDownloader struct {
	sem          *semaphore.Weighted
	maxBlobBytes int64
	maxFileBytes int64
	destDir      string
}

// BatchOptions configures a BatchDownloader.
type BatchOptions struct {
	MaxBatchConcurrency int // default 5
	MaxBlobSizeMB       int
	MaxFileSizeMB       int
	DestDir             string
}

// NewBatchDownloader creates a downloader bounded by a semaphore of the
// configured concurrency.
func NewBatchDownloader(opts BatchOptions) *BatchDownloader {
	concurrency := opts.MaxBatchConcurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	return &BatchDownloader{
		sem:          semaphore.NewWeighted(int64(concurrency)),
		maxBlobBytes: int64(opts.MaxBlobSizeMB) * 1024 * 1024,
		maxFileBytes: int64(opts.MaxFileSizeMB) * 1024 * 1024,
		destDir:      opts.DestDir,
	}
}

// clampCandidates enforces the [1, 500] bound on maxFiles with a default
// of 50, per spec §4.11.
func clampCandidates(candidates []string, maxFiles int) []string {
	if maxFiles <= 0 {
		maxFiles = 50
	}
	if maxFiles > 500 {
		maxFiles = 500
	}
	if maxFiles < 1 {
		maxFiles = 1
	}
	if len(candidates) > maxFiles {
		candidates = candidates[:maxFiles]
	}
	return candidates
}

// Download runs the batch: every candidate is registered pending, then
// transitions to completed or failed under the bounded semaphore. resolveBlobs
// gates whether blob: candidates are resolved in-page via page (nil refuses
// them unconditionally). If every candidate fails, the caller is expected to
// have already marked failed entries via the returned results — there is no
// separate "whole batch failed" state here, since failures are per item by
// construction.
func (d *BatchDownloader) Download(ctx context.Context, page engine.Page, reqClient engine.RequestClient, candidates []string, maxFiles int, resolveBlobs bool) []models.BatchDownloadResult {
	candidates = clampCandidates(candidates, maxFiles)
	results := make([]models.BatchDownloadResult, len(candidates))

	done := make(chan struct{}, len(candidates))
	for i, rawURL := range candidates {
		i, rawURL := i, rawURL
		go func() {
			defer func() { done <- struct{}{} }()
			if err := d.sem.Acquire(ctx, 1); err != nil {
				results[i] = models.BatchDownloadResult{URL: rawURL, Status: "failed", Error: err.Error()}
				return
			}
			defer d.sem.Release(1)
			results[i] = d.downloadOne(ctx, page, reqClient, rawURL, resolveBlobs)
		}()
	}
	for range candidates {
		<-done
	}
	return results
}

func (d *BatchDownloader) downloadOne(ctx context.Context, page engine.Page, reqClient engine.RequestClient, rawURL string, resolveBlobs bool) models.BatchDownloadResult {
	result := models.BatchDownloadResult{URL: rawURL, Status: "pending"}

	switch {
	case strings.HasPrefix(rawURL, "data:"):
		data, err := decodeDataURI(rawURL)
		if err != nil {
			return fail(result, err)
		}
		if int64(len(data)) > d.maxBlobBytes {
			return fail(result, fmt.Errorf("data uri exceeds max blob size"))
		}
		path, err := d.write(rawURL, data)
		if err != nil {
			return fail(result, err)
		}
		return complete(result, path, int64(len(data)))

	case strings.HasPrefix(rawURL, "blob:"):
		if !resolveBlobs {
			return fail(result, fmt.Errorf("blob URL resolution is disabled for this request"))
		}
		if page == nil {
			return fail(result, fmt.Errorf("blob URL requires an open tab for in-page resolution"))
		}
		dataURI, err := resolveBlobToDataURI(page, rawURL)
		if err != nil {
			return fail(result, err)
		}
		data, err := decodeDataURI(dataURI)
		if err != nil {
			return fail(result, err)
		}
		if int64(len(data)) > d.maxBlobBytes {
			return fail(result, fmt.Errorf("resolved blob exceeds max blob size"))
		}
		path, err := d.write(rawURL, data)
		if err != nil {
			return fail(result, err)
		}
		return complete(result, path, int64(len(data)))

	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
		defer cancel()
		status, body, err := reqClient.Get(fetchCtx, rawURL, fetchTimeout)
		if err != nil {
			return fail(result, err)
		}
		if status >= 400 {
			return fail(result, fmt.Errorf("http status %d", status))
		}
		if int64(len(body)) > d.maxFileBytes {
			return fail(result, fmt.Errorf("response exceeds max file size"))
		}
		path, err := d.write(rawURL, body)
		if err != nil {
			return fail(result, err)
		}
		return complete(result, path, int64(len(body)))

	default:
		return fail(result, fmt.Errorf("unsupported URL scheme"))
	}
}

func fail(result models.BatchDownloadResult, err error) models.BatchDownloadResult {
	result.Status = "failed"
	result.Error = err.Error()
	return result
}

func complete(result models.BatchDownloadResult, path string, size int64) models.BatchDownloadResult {
	result.Status = "completed"
	result.Path = path
	result.SizeByte = size
	return result
}

func decodeDataURI(dataURI string) ([]byte, error) {
	idx := strings.Index(dataURI, ",")
	if idx < 0 {
		return nil, fmt.Errorf("malformed data URI")
	}
	header := dataURI[5:idx]
	payload := dataURI[idx+1:]
	if strings.Contains(header, ";base64") {
		return base64.StdEncoding.DecodeString(payload)
	}
	decoded, err := url.QueryUnescape(payload)
	if err != nil {
		return nil, err
	}
	return []byte(decoded), nil
}

func (d *BatchDownloader) write(sourceURL string, data []byte) (string, error) {
	if err := os.MkdirAll(d.destDir, 0o755); err != nil {
		return "", err
	}
	name := filepath.Base(sourceURL)
	if name == "" || name == "." || name == "/" {
		name = "resource.bin"
	}
	path := filepath.Join(d.destDir, fmt.Sprintf("%d_%s", time.Now().UnixNano(), sanitizeName(name)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func sanitizeName(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "?", "_", "#", "_")
	return replacer.Replace(name)
}
