package api

import (
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/redf0x1/camofox-browser/internal/apperr"
)

// UserDownloads handles GET /users/:userId/downloads.
func (s *Server) UserDownloads(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	writeJSON(w, http.StatusOK, s.core.Downloads.ForUser(userID))
}

// GetDownload handles GET /downloads/:downloadId?userId=.
func (s *Server) GetDownload(w http.ResponseWriter, r *http.Request) {
	downloadID := mux.Vars(r)["downloadId"]
	userID := queryUserID(r)
	info, ok := s.core.Downloads.Get(downloadID, userID)
	if !ok {
		writeError(w, apperr.NotFound("download not found"))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// DeleteDownload handles DELETE /downloads/:downloadId?userId=.
func (s *Server) DeleteDownload(w http.ResponseWriter, r *http.Request) {
	downloadID := mux.Vars(r)["downloadId"]
	userID := queryUserID(r)
	if !s.core.Downloads.Delete(downloadID, userID) {
		writeError(w, apperr.NotFound("download not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// DownloadContent handles GET /downloads/:downloadId/content?userId=,
// streaming the saved file back with a content-disposition filename.
func (s *Server) DownloadContent(w http.ResponseWriter, r *http.Request) {
	downloadID := mux.Vars(r)["downloadId"]
	userID := queryUserID(r)
	info, ok := s.core.Downloads.Get(downloadID, userID)
	if !ok {
		writeError(w, apperr.NotFound("download not found"))
		return
	}
	if info.Status != "completed" {
		writeError(w, apperr.Conflict("download is not complete (status=%s)", info.Status))
		return
	}

	path := s.core.Downloads.Path(info)
	f, err := os.Open(path)
	if err != nil {
		writeError(w, apperr.NotFound("download file missing on disk"))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", info.MimeType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+info.SuggestedFilename+"\"")
	w.WriteHeader(http.StatusOK)
	buf := make([]byte, 64*1024)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
		}
		if readErr != nil {
			return
		}
	}
}
