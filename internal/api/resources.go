package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/redf0x1/camofox-browser/internal/apperr"
	"github.com/redf0x1/camofox-browser/internal/resources"
	"github.com/redf0x1/camofox-browser/internal/session"
)

type extractResourcesRequest struct {
	UserID            string   `json:"userId"`
	ContainerSelector string   `json:"containerSelector,omitempty"`
	ExtensionFilter   []string `json:"extensionFilter,omitempty"`
	ResolveBlobs      bool     `json:"resolveBlobs,omitempty"`
}

// ExtractResources handles POST /tabs/:tabId/extract-resources.
func (s *Server) ExtractResources(w http.ResponseWriter, r *http.Request) {
	tabID := mux.Vars(r)["tabId"]
	var req extractResourcesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.runTabOp(w, r, tabID, req.UserID, func(ctx context.Context, tab *session.Tab) (any, error) {
		return resources.Extract(tab.Page, resources.ExtractOptions{
			ContainerSelector: req.ContainerSelector,
			ExtensionFilter:   req.ExtensionFilter,
			ResolveBlobs:      req.ResolveBlobs,
		})
	})
}

type batchDownloadRequest struct {
	UserID       string   `json:"userId"`
	Candidates   []string `json:"candidates"`
	MaxFiles     int      `json:"maxFiles,omitempty"`
	ResolveBlobs bool     `json:"resolveBlobs,omitempty"`
}

// BatchDownload handles POST /tabs/:tabId/batch-download. resolveBlobs gates
// whether blob: candidates are resolved in-page, per spec §4.11; it is not
// hardcoded since the same tab may batch-download with it on or off across
// requests.
func (s *Server) BatchDownload(w http.ResponseWriter, r *http.Request) {
	tabID := mux.Vars(r)["tabId"]
	var req batchDownloadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Candidates) == 0 {
		writeError(w, apperr.Validation("candidates is required"))
		return
	}
	s.runTabOp(w, r, tabID, req.UserID, func(ctx context.Context, tab *session.Tab) (any, error) {
		return s.core.Batch.Download(ctx, tab.Page, tab.Page.Request(), req.Candidates, req.MaxFiles, req.ResolveBlobs), nil
	})
}

type resolveBlobsRequest struct {
	UserID   string   `json:"userId"`
	BlobURLs []string `json:"blobUrls"`
}

// ResolveBlobs handles POST /tabs/:tabId/resolve-blobs: resolves a set of
// blob: URLs in-page to data URIs without a full resource extraction pass.
func (s *Server) ResolveBlobs(w http.ResponseWriter, r *http.Request) {
	tabID := mux.Vars(r)["tabId"]
	var req resolveBlobsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.runTabOp(w, r, tabID, req.UserID, func(ctx context.Context, tab *session.Tab) (any, error) {
		return resources.ResolveBlobs(tab.Page, req.BlobURLs), nil
	})
}

// TabDownloads handles GET /tabs/:tabId/downloads.
func (s *Server) TabDownloads(w http.ResponseWriter, r *http.Request) {
	tabID := mux.Vars(r)["tabId"]
	userID := queryUserID(r)
	if _, ok := s.core.Sessions.FindTabByID(tabID, userID); !ok {
		writeError(w, apperr.NotFound("tab not found"))
		return
	}
	downloads := s.core.Downloads.ForUser(userID)
	out := make([]any, 0, len(downloads))
	for _, d := range downloads {
		if d.TabID == tabID {
			out = append(out, d)
		}
	}
	writeJSON(w, http.StatusOK, out)
}
