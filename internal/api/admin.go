package api

import (
	"io"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/redf0x1/camofox-browser/internal/apperr"
)

// AdminStop handles POST /admin/stop (admin-key gated), per spec §6.1 ("the
// admin stop endpoint requires x-admin-key"). It answers immediately, then
// signals cmd/server/main.go's shutdown select loop so the process runs
// through the exact same graceful-shutdown sequence (HTTP drain, then
// core.Shutdown) that SIGTERM/SIGINT already trigger.
func (s *Server) AdminStop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true, "stopping": true})
	go s.requestStop()
}

// ImportProfile handles POST /admin/profiles/:userId/import (admin-key
// gated): the request body is a tar.gz archive previously produced by
// ExportProfile, streamed to a temp file and extracted into userID's
// profile directory. Mirrors ExportProfile's raw-body streaming rather
// than a multipart form, matching the content type Export responds with.
func (s *Server) ImportProfile(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	tmp, err := os.CreateTemp("", "camofox-profile-import-*.tar.gz")
	if err != nil {
		writeError(w, apperr.Engine(err, "failed to create import temp file"))
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r.Body); err != nil {
		tmp.Close()
		writeError(w, apperr.Validation("failed to read uploaded archive"))
		return
	}
	tmp.Close()

	if err := s.core.Archiver.Import(userID, tmpPath); err != nil {
		writeError(w, apperr.Conflict("%v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ExportProfile handles POST /admin/profiles/:userId/export (admin-key
// gated): tars and streams the user's persistent profile directory.
func (s *Server) ExportProfile(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	tmp, err := os.CreateTemp("", "camofox-profile-export-*.tar.gz")
	if err != nil {
		writeError(w, apperr.Engine(err, "failed to create export temp file"))
		return
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := s.core.Archiver.Export(userID, tmpPath); err != nil {
		writeError(w, apperr.NotFound("%v", err))
		return
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		writeError(w, apperr.Engine(err, "failed to open export archive"))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+userID+"-profile.tar.gz\"")
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
