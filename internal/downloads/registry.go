// Package downloads implements the DownloadRegistry from spec §4.10: an
// in-memory map of DownloadInfo backed by a debounced, atomically-rewritten
// JSON file, with per-user LRU capping, TTL cleanup, and crash-safe
// startup reconciliation against the files actually on disk.
package downloads

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/redf0x1/camofox-browser/pkg/models"
)

const registryFileName = "registry.json"

var mimeByExt = map[string]string{
	"pdf": "application/pdf", "zip": "application/zip", "gz": "application/gzip",
	"json": "application/json", "csv": "text/csv", "txt": "text/plain",
	"html": "text/html", "htm": "text/html", "png": "image/png",
	"jpg": "image/jpeg", "jpeg": "image/jpeg", "gif": "image/gif",
	"webp": "image/webp", "svg": "image/svg+xml", "mp4": "video/mp4",
	"webm": "video/webm", "mp3": "audio/mpeg", "wav": "audio/wav",
}

// guessMime implements guessFromExtension: case-insensitive, last-dot
// extension lookup, defaulting to application/octet-stream.
func guessMime(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return "application/octet-stream"
	}
	ext := strings.ToLower(filename[idx+1:])
	if mime, ok := mimeByExt[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

var sanitizeRe = regexp.MustCompile(`[\\/]`)

// sanitizeFilename replaces path separators with "_", strips NUL bytes, trims
// whitespace, caps the length at 200 chars, and falls back to "download"
// for an empty result, per spec §4.10.
func sanitizeFilename(name string) string {
	name = sanitizeRe.ReplaceAllString(name, "_")
	name = strings.ReplaceAll(name, "\x00", "")
	name = strings.TrimSpace(name)
	if len(name) > 200 {
		name = name[:200]
	}
	if name == "" {
		name = "download"
	}
	return name
}

// uuidPrefixRe matches the "{uuid}_{rest}" shape a reconciled file must
// have to be adopted on startup.
var uuidPrefixRe = regexp.MustCompile(`^([0-9a-fA-F-]{36})_(.+)$`)

// Registry is the DownloadRegistry.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*models.DownloadInfo

	downloadsDir        string
	maxDownloadsPerUser int
	maxFileSizeBytes    int64
	ttl                 time.Duration

	saveTimer *time.Timer
	stop      chan struct{}
	stopOnce  sync.Once
}

// Options configures a Registry.
type Options struct {
	DownloadsDir        string
	MaxDownloadsPerUser int
	MaxFileSizeMB       int
	TTL                 time.Duration
}

// New loads (or creates) the registry file, reconciles it against disk, and
// starts the TTL sweep.
func New(opts Options) (*Registry, error) {
	r := &Registry{
		entries:             make(map[string]*models.DownloadInfo),
		downloadsDir:        opts.DownloadsDir,
		maxDownloadsPerUser: opts.MaxDownloadsPerUser,
		maxFileSizeBytes:    int64(opts.MaxFileSizeMB) * 1024 * 1024,
		ttl:                 opts.TTL,
		stop:                make(chan struct{}),
	}
	if err := r.reconcile(); err != nil {
		return nil, fmt.Errorf("reconcile download registry: %w", err)
	}
	go r.sweepLoop()
	return r, nil
}

func (r *Registry) registryPath() string {
	return filepath.Join(r.downloadsDir, registryFileName)
}

func (r *Registry) userDir(userID string) string {
	return filepath.Join(r.downloadsDir, url.QueryEscape(userID))
}

// reconcile implements startup reconciliation from spec §4.10: load the
// registry file, drop entries whose file no longer exists, then scan every
// user directory for orphaned "{uuid}_{rest}" files and adopt them.
func (r *Registry) reconcile() error {
	if err := os.MkdirAll(r.downloadsDir, 0o755); err != nil {
		return err
	}

	if data, err := os.ReadFile(r.registryPath()); err == nil {
		var loaded map[string]*models.DownloadInfo
		if err := json.Unmarshal(data, &loaded); err == nil {
			for id, info := range loaded {
				path := filepath.Join(r.userDir(info.UserID), info.SavedFilename)
				if _, statErr := os.Stat(path); statErr == nil {
					r.entries[id] = info
				}
			}
		} else {
			log.Printf("⚠️  discarding unreadable download registry: %v", err)
		}
	}

	entries, err := os.ReadDir(r.downloadsDir)
	if err != nil {
		return err
	}
	known := make(map[string]bool)
	for _, e := range r.entries {
		known[e.SavedFilename+"\x00"+e.UserID] = true
	}

	for _, dirEnt := range entries {
		if !dirEnt.IsDir() {
			continue
		}
		userID, err := url.QueryUnescape(dirEnt.Name())
		if err != nil {
			continue
		}
		userDirPath := filepath.Join(r.downloadsDir, dirEnt.Name())
		files, err := os.ReadDir(userDirPath)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			if known[f.Name()+"\x00"+userID] {
				continue
			}
			m := uuidPrefixRe.FindStringSubmatch(f.Name())
			if m == nil {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			id := m[1]
			r.entries[id] = &models.DownloadInfo{
				ID:                id,
				UserID:            userID,
				TabID:             "unknown",
				SavedFilename:     f.Name(),
				SuggestedFilename: m[2],
				MimeType:          guessMime(m[2]),
				Size:              info.Size(),
				Status:            models.DownloadCompleted,
				CreatedAt:         info.ModTime(),
			}
		}
	}

	return r.persistNow()
}

// Begin registers a pending download and returns its info. Caller is
// responsible for starting the actual saveAs against the chosen path.
func (r *Registry) Begin(userID, tabID, sourceURL, suggestedFilename string) *models.DownloadInfo {
	id := uuid.New().String()
	sanitized := sanitizeFilename(suggestedFilename)
	info := &models.DownloadInfo{
		ID:                id,
		UserID:            userID,
		TabID:             tabID,
		URL:               sourceURL,
		SuggestedFilename: sanitized,
		SavedFilename:     fmt.Sprintf("%s_%s", id, sanitized),
		Status:            models.DownloadPending,
		CreatedAt:         time.Now(),
	}

	if err := os.MkdirAll(r.userDir(userID), 0o755); err != nil {
		log.Printf("⚠️  failed to create download directory for %s: %v", userID, err)
	}

	r.mu.Lock()
	r.evictOverCapLocked(userID)
	r.entries[id] = info
	r.mu.Unlock()

	r.schedulePersist()
	return info
}

// Path returns the absolute on-disk path a Begin'd download should be
// saved to.
func (r *Registry) Path(info *models.DownloadInfo) string {
	return filepath.Join(r.userDir(info.UserID), info.SavedFilename)
}

// Finalize implements finalizeDownload from spec §4.10: on engine failure,
// mark failed or canceled; otherwise stat the file, enforce the size cap,
// and mark completed.
func (r *Registry) Finalize(downloadID string, engineFailure string) {
	r.mu.Lock()
	info, ok := r.entries[downloadID]
	r.mu.Unlock()
	if !ok {
		return
	}

	if engineFailure != "" {
		status := models.DownloadFailed
		if strings.Contains(strings.ToLower(engineFailure), "canceled") {
			status = models.DownloadCanceled
		}
		r.mu.Lock()
		info.Status = status
		info.Error = engineFailure
		r.mu.Unlock()
		r.schedulePersist()
		return
	}

	path := r.Path(info)
	stat, err := os.Stat(path)
	if err != nil {
		r.mu.Lock()
		info.Status = models.DownloadFailed
		info.Error = err.Error()
		r.mu.Unlock()
		r.schedulePersist()
		return
	}

	if stat.Size() > r.maxFileSizeBytes {
		_ = os.Remove(path)
		r.mu.Lock()
		info.Status = models.DownloadFailed
		info.Error = fmt.Sprintf("file exceeds max size of %d bytes", r.maxFileSizeBytes)
		r.mu.Unlock()
		r.schedulePersist()
		return
	}

	now := time.Now()
	r.mu.Lock()
	info.Size = stat.Size()
	info.Status = models.DownloadCompleted
	info.CompletedAt = &now
	r.mu.Unlock()
	r.schedulePersist()
}

// evictOverCapLocked implements the per-user cap from spec §4.10: if the
// user already has maxDownloadsPerUser entries, evict the oldest
// non-pending one (by completedAt, falling back to createdAt), deleting
// its file first. Must be called with r.mu held.
func (r *Registry) evictOverCapLocked(userID string) {
	count := 0
	for _, e := range r.entries {
		if e.UserID == userID {
			count++
		}
	}
	if count < r.maxDownloadsPerUser {
		return
	}

	var oldestID string
	var oldestTime time.Time
	first := true
	for id, e := range r.entries {
		if e.UserID != userID || e.Status == models.DownloadPending {
			continue
		}
		ts := e.CreatedAt
		if e.CompletedAt != nil {
			ts = *e.CompletedAt
		}
		if first || ts.Before(oldestTime) {
			oldestTime = ts
			oldestID = id
			first = false
		}
	}
	if oldestID == "" {
		return
	}
	victim := r.entries[oldestID]
	_ = os.Remove(r.Path(victim))
	delete(r.entries, oldestID)
}

// Get returns a download by id if it belongs to userID.
func (r *Registry) Get(downloadID, userID string) (*models.DownloadInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.entries[downloadID]
	if !ok || info.UserID != userID {
		return nil, false
	}
	return info, true
}

// Delete unlinks the file (ignoring errors) and removes the entry.
func (r *Registry) Delete(downloadID, userID string) bool {
	r.mu.Lock()
	info, ok := r.entries[downloadID]
	if !ok || info.UserID != userID {
		r.mu.Unlock()
		return false
	}
	_ = os.Remove(r.Path(info))
	delete(r.entries, downloadID)
	r.mu.Unlock()
	r.schedulePersist()
	return true
}

// ForUser lists every download belonging to userID.
func (r *Registry) ForUser(userID string) []*models.DownloadInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.DownloadInfo
	for _, e := range r.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// Recent implements getRecentDownloads(tabId, windowMs) from spec §4.10.
func (r *Registry) Recent(tabID string, window time.Duration) []*models.DownloadInfo {
	cutoff := time.Now().Add(-window)
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.DownloadInfo
	for _, e := range r.entries {
		if e.TabID == tabID && !e.CreatedAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// CleanupUser implements the "run download cleanup" step of
// closeSessionsForUser from spec §4.5: the same terminal-entry TTL sweep as
// the background sweeper (sweep, below), but scoped to one user and run
// synchronously as a session tears down rather than waiting for the next
// 60s tick. Pending entries are left alone, same as the background sweep,
// since a download can still be writing after its owning session closes.
func (r *Registry) CleanupUser(userID string) {
	cutoff := time.Now().Add(-r.ttl)
	r.mu.Lock()
	var expired []string
	for id, e := range r.entries {
		if e.UserID != userID || e.Status == models.DownloadPending {
			continue
		}
		if e.CreatedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		e := r.entries[id]
		_ = os.Remove(r.Path(e))
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if len(expired) > 0 {
		r.schedulePersist()
	}
}

func (r *Registry) schedulePersist() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveTimer != nil {
		return
	}
	r.saveTimer = time.AfterFunc(1*time.Second, func() {
		r.mu.Lock()
		r.saveTimer = nil
		r.mu.Unlock()
		if err := r.persistNow(); err != nil {
			log.Printf("⚠️  failed to persist download registry: %v", err)
		}
	})
}

// persistNow writes the registry to a tmp file and renames it into place,
// so a crash mid-write never leaves a truncated registry.json.
func (r *Registry) persistNow() error {
	r.mu.Lock()
	snapshot := make(map[string]*models.DownloadInfo, len(r.entries))
	for k, v := range r.entries {
		snapshot[k] = v
	}
	r.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := r.registryPath() + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, r.registryPath())
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep implements TTL cleanup from spec §4.10: remove any terminal entry
// older than ttl. Pending entries are never touched.
func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.ttl)
	r.mu.Lock()
	var expired []string
	for id, e := range r.entries {
		if e.Status == models.DownloadPending {
			continue
		}
		if e.CreatedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		e := r.entries[id]
		_ = os.Remove(r.Path(e))
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if len(expired) > 0 {
		r.schedulePersist()
	}
}

// Close stops the TTL sweep and flushes any pending save.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	_ = r.persistNow()
}

