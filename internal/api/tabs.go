package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/redf0x1/camofox-browser/internal/actions"
	"github.com/redf0x1/camofox-browser/internal/apperr"
	"github.com/redf0x1/camofox-browser/internal/engine"
	"github.com/redf0x1/camofox-browser/internal/resources"
	"github.com/redf0x1/camofox-browser/internal/session"
	"github.com/redf0x1/camofox-browser/internal/snapshot"
	"github.com/redf0x1/camofox-browser/pkg/models"
)

type createTabRequest struct {
	UserID     string              `json:"userId"`
	SessionKey string              `json:"sessionKey"`
	Seed       *models.SeedOptions `json:"seed,omitempty"`
}

// CreateTab handles POST /tabs: resolves (or launches) the user's
// persistent session, opens a new page against it, and registers the tab
// under the requested tab group (sessionKey, defaulting to userId).
func (s *Server) CreateTab(w http.ResponseWriter, r *http.Request) {
	var req createTabRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.UserID == "" {
		writeError(w, apperr.Validation("userId is required"))
		return
	}
	listItemID := req.SessionKey
	if listItemID == "" {
		listItemID = req.UserID
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.core.Config.HandlerTimeout)
	defer cancel()

	sess, err := s.core.Sessions.GetSession(ctx, req.UserID, req.Seed)
	if err != nil {
		writeError(w, err)
		return
	}

	page, err := sess.Context.NewPage(ctx)
	if err != nil {
		writeError(w, apperr.Engine(err, "failed to open new page"))
		return
	}

	tabID := uuid.New().String()
	tab := &session.Tab{
		ID:    tabID,
		Page:  page,
		Refs:  snapshot.NewRefTable(),
		State: models.TabCreated,
	}
	s.wireDownloads(req.UserID, tabID, page)
	s.core.Sessions.AddTab(req.UserID, listItemID, tab)

	writeJSON(w, http.StatusCreated, map[string]string{"tabId": tabID})
}

// wireDownloads subscribes the page's download event to the
// DownloadRegistry, the way spec §4.10's "download start" is triggered.
func (s *Server) wireDownloads(userID, tabID string, page engine.Page) {
	page.OnDownload(func(d engine.Download) {
		info := s.core.Downloads.Begin(userID, tabID, d.URL, d.SuggestedFilename)
		path := s.core.Downloads.Path(info)
		go func() {
			var failure string
			if err := d.SaveAs(path); err != nil {
				failure = err.Error()
			} else if msg := d.Failure(); msg != "" {
				failure = msg
			}
			s.core.Downloads.Finalize(info.ID, failure)
		}()
	})
}

// ListTabs handles GET /tabs?userId=.
func (s *Server) ListTabs(w http.ResponseWriter, r *http.Request) {
	userID := queryUserID(r)
	if userID == "" {
		writeError(w, apperr.Validation("userId is required"))
		return
	}
	tabs := s.core.Sessions.ListTabs(userID)
	out := make([]map[string]any, 0, len(tabs))
	for _, t := range tabs {
		out = append(out, map[string]any{
			"tabId": t.ID,
			"url":   t.Page.URL(),
			"state": string(t.State),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type deleteTabRequest struct {
	UserID     string `json:"userId"`
	ListItemID string `json:"listItemId"`
}

// DeleteTab handles DELETE /tabs/:tabId.
func (s *Server) DeleteTab(w http.ResponseWriter, r *http.Request) {
	tabID := mux.Vars(r)["tabId"]
	userID := queryUserID(r)
	var req deleteTabRequest
	if userID == "" {
		_ = decodeJSON(r, &req)
		userID = req.UserID
	}
	if userID == "" {
		writeError(w, apperr.Validation("userId is required"))
		return
	}

	tab, ok := s.core.Sessions.FindTabByID(tabID, userID)
	if !ok {
		writeError(w, apperr.NotFound("tab not found"))
		return
	}

	s.core.TabLock.ClearTabLock(tabID)
	tab.State = models.TabClosed
	if err := tab.Page.Close(); err != nil {
		writeError(w, apperr.Engine(err, "failed to close tab"))
		return
	}

	listItemID := req.ListItemID
	if listItemID == "" {
		listItemID = userID
	}
	s.core.Sessions.RemoveTab(userID, listItemID, tabID)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// DeleteGroup handles DELETE /tabs/group/:listItemId.
func (s *Server) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	listItemID := mux.Vars(r)["listItemId"]
	userID := queryUserID(r)
	if userID == "" {
		writeError(w, apperr.Validation("userId is required"))
		return
	}
	s.core.Sessions.RemoveGroup(userID, listItemID)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type navigateRequest struct {
	UserID  string `json:"userId"`
	URL     string `json:"url"`
	Timeout int    `json:"timeoutMs,omitempty"`
}

// Navigate handles POST /tabs/:tabId/navigate, recording navigation
// outcomes in the health tracker per spec §7 ("incremented only for
// navigation").
func (s *Server) Navigate(w http.ResponseWriter, r *http.Request) {
	tabID := mux.Vars(r)["tabId"]
	var req navigateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	timeout := time.Duration(req.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s.runTabOp(w, r, tabID, req.UserID, func(ctx context.Context, tab *session.Tab) (any, error) {
		s.core.Health.BeginOp()
		defer s.core.Health.EndOp()

		if err := actions.Navigate(ctx, tab, req.URL, timeout); err != nil {
			s.core.Health.RecordNavFailure()
			return nil, err
		}
		s.core.Health.RecordNavSuccess()
		return map[string]any{"ok": true, "url": tab.Page.URL()}, nil
	})
}

// Snapshot handles GET /tabs/:tabId/snapshot?userId=&offset=.
func (s *Server) Snapshot(w http.ResponseWriter, r *http.Request) {
	tabID := mux.Vars(r)["tabId"]
	userID := queryUserID(r)
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	cfg := s.core.Config
	s.runTabOp(w, r, tabID, userID, func(ctx context.Context, tab *session.Tab) (any, error) {
		result, err := actions.Snapshot(ctx, tab, snapshot.Options{
			AriaTimeout: cfg.BuildRefsTimeout,
			MaxChars:    cfg.MaxSnapshotChars,
			TailChars:   cfg.SnapshotTailChars,
			Offset:      offset,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"snapshot":   result.Window.Content,
			"refsCount":  result.RefCount,
			"truncated":  result.Window.Truncated,
			"totalChars": result.Window.TotalChars,
			"offset":     result.Window.Offset,
			"hasMore":    result.Window.HasMore,
			"nextOffset": nullableInt(result.Window.HasMore, result.Window.NextOffset),
		}, nil
	})
}

func nullableInt(present bool, v int) any {
	if !present {
		return nil
	}
	return v
}

type refRequest struct {
	UserID string `json:"userId"`
	Ref    string `json:"ref"`
}

// Click handles POST /tabs/:tabId/click, inlining any downloads the click
// triggered within the last 3 s (spec §4.10 "Recent downloads").
func (s *Server) Click(w http.ResponseWriter, r *http.Request) {
	tabID := mux.Vars(r)["tabId"]
	var req refRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.runTabOp(w, r, tabID, req.UserID, func(ctx context.Context, tab *session.Tab) (any, error) {
		if err := actions.Click(req.Ref, tab); err != nil {
			return nil, err
		}
		recent := s.core.Downloads.Recent(tabID, 3*time.Second)
		return map[string]any{"ok": true, "url": tab.Page.URL(), "downloads": recent}, nil
	})
}

type typeRequest struct {
	UserID     string `json:"userId"`
	Ref        string `json:"ref"`
	Value      string `json:"value"`
	ClearFirst bool   `json:"clearFirst"`
	PressEnter bool   `json:"pressEnter"`
}

// Type handles POST /tabs/:tabId/type.
func (s *Server) Type(w http.ResponseWriter, r *http.Request) {
	tabID := mux.Vars(r)["tabId"]
	var req typeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.runTabOp(w, r, tabID, req.UserID, func(ctx context.Context, tab *session.Tab) (any, error) {
		if err := actions.Type(req.Ref, req.Value, req.ClearFirst, req.PressEnter, tab); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})
}

type pressRequest struct {
	UserID string `json:"userId"`
	Key    string `json:"key"`
}

// Press handles POST /tabs/:tabId/press.
func (s *Server) Press(w http.ResponseWriter, r *http.Request) {
	tabID := mux.Vars(r)["tabId"]
	var req pressRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.runTabOp(w, r, tabID, req.UserID, func(ctx context.Context, tab *session.Tab) (any, error) {
		if err := actions.Press(req.Key, tab); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})
}

type scrollRequest struct {
	UserID string   `json:"userId"`
	Ref    string   `json:"ref"`
	Top    *float64 `json:"top,omitempty"`
	Left   *float64 `json:"left,omitempty"`
	DeltaX *float64 `json:"deltaX,omitempty"`
	DeltaY *float64 `json:"deltaY,omitempty"`
}

// Scroll handles POST /tabs/:tabId/scroll (page-level: scrolls the body
// element, addressed the same way as scroll-element).
func (s *Server) Scroll(w http.ResponseWriter, r *http.Request) {
	s.scrollImpl(w, r, "body")
}

// ScrollElement handles POST /tabs/:tabId/scroll-element.
func (s *Server) ScrollElement(w http.ResponseWriter, r *http.Request) {
	s.scrollImpl(w, r, "")
}

func (s *Server) scrollImpl(w http.ResponseWriter, r *http.Request, fallbackRef string) {
	tabID := mux.Vars(r)["tabId"]
	var req scrollRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ref := req.Ref
	if ref == "" && fallbackRef != "" {
		ref = fallbackRef
	}
	s.runTabOp(w, r, tabID, req.UserID, func(ctx context.Context, tab *session.Tab) (any, error) {
		metrics, err := actions.ScrollElement(ref, req.Top, req.Left, req.DeltaX, req.DeltaY, tab)
		if err != nil {
			return nil, err
		}
		return metrics, nil
	})
}

type historyRequest struct {
	UserID string `json:"userId"`
}

// Back handles POST /tabs/:tabId/back.
func (s *Server) Back(w http.ResponseWriter, r *http.Request) { s.historyImpl(w, r, actions.Back) }

// Forward handles POST /tabs/:tabId/forward.
func (s *Server) Forward(w http.ResponseWriter, r *http.Request) {
	s.historyImpl(w, r, actions.Forward)
}

// Refresh handles POST /tabs/:tabId/refresh.
func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	s.historyImpl(w, r, actions.Refresh)
}

func (s *Server) historyImpl(w http.ResponseWriter, r *http.Request, op func(*session.Tab) error) {
	tabID := mux.Vars(r)["tabId"]
	var req historyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.runTabOp(w, r, tabID, req.UserID, func(ctx context.Context, tab *session.Tab) (any, error) {
		if err := op(tab); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true, "url": tab.Page.URL()}, nil
	})
}

type waitRequest struct {
	UserID  string `json:"userId"`
	Timeout int    `json:"timeoutMs"`
}

// Wait handles POST /tabs/:tabId/wait: a plain timed pause, useful when an
// agent knows a page needs a fixed settle time before its next snapshot.
func (s *Server) Wait(w http.ResponseWriter, r *http.Request) {
	tabID := mux.Vars(r)["tabId"]
	var req waitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	d := time.Duration(req.Timeout) * time.Millisecond
	if d <= 0 || d > 30*time.Second {
		d = time.Second
	}
	s.runTabOp(w, r, tabID, req.UserID, func(ctx context.Context, tab *session.Tab) (any, error) {
		tab.Page.WaitForTimeout(d)
		return map[string]bool{"ok": true}, nil
	})
}

// Links handles GET /tabs/:tabId/links: a thin wrapper over resource
// extraction scoped to the "link" kind.
func (s *Server) Links(w http.ResponseWriter, r *http.Request) {
	tabID := mux.Vars(r)["tabId"]
	userID := queryUserID(r)
	s.runTabOp(w, r, tabID, userID, func(ctx context.Context, tab *session.Tab) (any, error) {
		result, err := resources.Extract(tab.Page, resources.ExtractOptions{})
		if err != nil {
			return nil, err
		}
		links := make([]models.ResourceDescriptor, 0, len(result.Resources))
		for _, res := range result.Resources {
			if res.Kind == "link" {
				links = append(links, res)
			}
		}
		return links, nil
	})
}

// Screenshot handles GET /tabs/:tabId/screenshot?fullPage=.
func (s *Server) Screenshot(w http.ResponseWriter, r *http.Request) {
	tabID := mux.Vars(r)["tabId"]
	userID := queryUserID(r)
	fullPage := r.URL.Query().Get("fullPage") == "true"

	tab, ok := s.core.Sessions.FindTabByID(tabID, userID)
	if !ok {
		writeError(w, apperr.NotFound("tab not found"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.core.Config.HandlerTimeout)
	defer cancel()

	outcomeCh := make(chan opOutcome, 1)
	go func() {
		result, err := s.core.Concurrency.WithUserLimit(ctx, userID, func(ctx context.Context) (any, error) {
			return s.core.TabLock.WithTabLock(tabID, s.core.Config.TabLockTimeout, func() (any, error) {
				tab.ToolCallCount++
				return tab.Page.Screenshot(fullPage)
			})
		})
		outcomeCh <- opOutcome{result: result, err: err}
	}()

	var out opOutcome
	select {
	case out = <-outcomeCh:
	case <-ctx.Done():
		writeError(w, apperr.Timeout("request timed out"))
		return
	}
	if out.err != nil {
		writeError(w, out.err)
		return
	}
	png, _ := out.result.([]byte)
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// Stats handles GET /tabs/:tabId/stats: a read-only dump of the tab's
// bookkeeping fields, no TabLock required since it only reads values the
// mutex-protected session map already owns.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	tabID := mux.Vars(r)["tabId"]
	userID := queryUserID(r)
	tab, ok := s.core.Sessions.FindTabByID(tabID, userID)
	if !ok {
		writeError(w, apperr.NotFound("tab not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tabId":         tab.ID,
		"url":           tab.Page.URL(),
		"state":         string(tab.State),
		"visitedUrls":   tab.VisitedURLs,
		"toolCallCount": tab.ToolCallCount,
		"refsCount":     tab.Refs.Len(),
	})
}

// TabCookies handles GET /tabs/:tabId/cookies: exports the owning
// session's context cookies (cookies are context-scoped, not page-scoped).
func (s *Server) TabCookies(w http.ResponseWriter, r *http.Request) {
	tabID := mux.Vars(r)["tabId"]
	userID := queryUserID(r)
	if _, ok := s.core.Sessions.FindTabByID(tabID, userID); !ok {
		writeError(w, apperr.NotFound("tab not found"))
		return
	}
	sess, ok := s.core.Sessions.GetExistingSession(userID)
	if !ok {
		writeError(w, apperr.NotFound("session not found"))
		return
	}
	cookies, err := sess.Context.Cookies()
	if err != nil {
		writeError(w, apperr.Engine(err, "failed to read cookies"))
		return
	}
	writeJSON(w, http.StatusOK, cookies)
}

