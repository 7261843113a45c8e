// Package session implements the SessionRegistry from spec §4.5: sessions
// (per user) keyed by sessionKey, holding tab groups and tabs, plus the
// tabId→sessionKey reverse index that lets a request name a tab without
// re-walking every session.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redf0x1/camofox-browser/internal/apperr"
	"github.com/redf0x1/camofox-browser/internal/engine"
	"github.com/redf0x1/camofox-browser/internal/pool"
	"github.com/redf0x1/camofox-browser/internal/snapshot"
	"github.com/redf0x1/camofox-browser/pkg/models"
)

// Tab owns one engine page and its current ref table. It is the unit
// addressed by tabId everywhere in the HTTP surface.
type Tab struct {
	ID            string
	Page          engine.Page
	Refs          *snapshot.RefTable
	State         models.TabState
	VisitedURLs   []string
	ToolCallCount int
	LastSnapshot  *string
}

// TabGroup is a named set of tabs within a session, addressed by
// sessionKey (alias listItemId per spec §3).
type TabGroup struct {
	ListItemID string
	Tabs       map[string]*Tab
}

// Session holds the pooled browser context handle and the tab groups
// created against it.
type Session struct {
	Key        string
	UserID     string
	Context    engine.Context
	TabGroups  map[string]*TabGroup
	LastAccess time.Time
}

type sessionFuture struct {
	done    chan struct{}
	session *Session
	err     error
}

func (f *sessionFuture) wait() (*Session, error) {
	<-f.done
	return f.session, f.err
}

// Registry is the SessionRegistry: sessionKey -> Session plus the
// tabId -> sessionKey reverse index.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	launching map[string]*sessionFuture
	tabIndex  map[string]string // tabId -> sessionKey

	pool        *pool.Pool
	maxSessions int
	idleTimeout time.Duration

	downloadCleanup func(userID string)

	stop     chan struct{}
	stopOnce sync.Once
}

// New constructs a Registry, wires a pool eviction callback to drop the
// matching session (the on-disk profile is left untouched — only the
// in-memory session graph is torn down), and starts the idle reaper.
func New(p *pool.Pool, maxSessions int, idleTimeout time.Duration) *Registry {
	if idleTimeout < 60*time.Second {
		idleTimeout = 60 * time.Second
	}
	r := &Registry{
		sessions:    make(map[string]*Session),
		launching:   make(map[string]*sessionFuture),
		tabIndex:    make(map[string]string),
		pool:        p,
		maxSessions: maxSessions,
		idleTimeout: idleTimeout,
		stop:        make(chan struct{}),
	}
	p.OnEviction(r.onContextEvicted)
	go r.reapLoop()
	return r
}

// SetDownloadCleanup wires the DownloadRegistry's per-user cleanup into
// CloseSessionsForUser, per spec §4.5 ("close pool context, drop all
// sessions prefixed by user, run download cleanup"). Session and download
// registries are constructed independently in internal/core, so this is
// wired after the fact the same way pool.Pool.OnEviction is.
func (r *Registry) SetDownloadCleanup(fn func(userID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downloadCleanup = fn
}

func (r *Registry) onContextEvicted(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := userID
	if s, ok := r.sessions[key]; ok {
		for _, tg := range s.TabGroups {
			for tabID := range tg.Tabs {
				delete(r.tabIndex, tabID)
			}
		}
		delete(r.sessions, key)
		log.Printf("session %s dropped: underlying context was evicted from the pool", key)
	}
}

// sessionKey computes the SessionRegistry key for a user. Per spec §3,
// sessionKey == userId: persistent profiles pin a single context per user.
func sessionKey(userID string) string { return userID }

// GetSession implements getSession(userId, overrides?) from spec §4.5:
// single-flight creation, MAX_SESSIONS admission control, and lastAccess
// refresh on every call that finds a live session.
func (r *Registry) GetSession(ctx context.Context, userID string, seed *models.SeedOptions) (*Session, error) {
	key := sessionKey(userID)

	r.mu.Lock()
	if s, ok := r.sessions[key]; ok {
		s.LastAccess = time.Now()
		r.mu.Unlock()
		return s, nil
	}
	if f, ok := r.launching[key]; ok {
		r.mu.Unlock()
		return f.wait()
	}
	if len(r.sessions)+len(r.launching) >= r.maxSessions {
		r.mu.Unlock()
		return nil, apperr.Busy("maximum session count (%d) reached", r.maxSessions)
	}
	future := &sessionFuture{done: make(chan struct{})}
	r.launching[key] = future
	r.mu.Unlock()

	entry, err := r.pool.EnsureContext(ctx, userID, seed)

	r.mu.Lock()
	delete(r.launching, key)
	if err != nil {
		r.mu.Unlock()
		future.err = err
		close(future.done)
		return nil, err
	}
	s := &Session{
		Key:        key,
		UserID:     userID,
		Context:    entry.Context,
		TabGroups:  make(map[string]*TabGroup),
		LastAccess: time.Now(),
	}
	r.sessions[key] = s
	r.mu.Unlock()

	future.session = s
	close(future.done)
	return s, nil
}

// AddTab registers a newly created tab under a session's tab group,
// indexed both by the group and by the reverse tabId index.
func (r *Registry) AddTab(userID, listItemID string, tab *Tab) {
	key := sessionKey(userID)
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		return
	}
	tg, ok := s.TabGroups[listItemID]
	if !ok {
		tg = &TabGroup{ListItemID: listItemID, Tabs: make(map[string]*Tab)}
		s.TabGroups[listItemID] = tg
	}
	tg.Tabs[tab.ID] = tab
	r.tabIndex[tab.ID] = key
}

// FindTabByID implements findTabById(tabId, userId) from spec §4.5: use the
// reverse index if present and owned by userID, else scan the user's
// sessions and repopulate the index on hit. Returns (nil, false) if not
// found or if the index points to another user, which prevents cross-tenant
// access by tabId guessing.
func (r *Registry) FindTabByID(tabID, userID string) (*Tab, bool) {
	key := sessionKey(userID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.tabIndex[tabID]; ok {
		if owner != key {
			return nil, false
		}
		s, ok := r.sessions[key]
		if !ok {
			return nil, false
		}
		for _, tg := range s.TabGroups {
			if t, ok := tg.Tabs[tabID]; ok {
				return t, true
			}
		}
		delete(r.tabIndex, tabID)
		return nil, false
	}

	s, ok := r.sessions[key]
	if !ok {
		return nil, false
	}
	for _, tg := range s.TabGroups {
		if t, ok := tg.Tabs[tabID]; ok {
			r.tabIndex[tabID] = key
			return t, true
		}
	}
	return nil, false
}

// GetExistingSession looks up a live session without launching one, for
// routes that operate on a session's context (e.g. cookie import/export)
// but must not implicitly create a browser for a user who never opened a
// tab.
func (r *Registry) GetExistingSession(userID string) (*Session, bool) {
	key := sessionKey(userID)
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	return s, ok
}

// ListTabs returns every tab belonging to userID across all of its tab
// groups, for GET /tabs.
func (r *Registry) ListTabs(userID string) []*Tab {
	key := sessionKey(userID)
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		return nil
	}
	var out []*Tab
	for _, tg := range s.TabGroups {
		for _, t := range tg.Tabs {
			out = append(out, t)
		}
	}
	return out
}

// RemoveTab deletes a tab from its group and the reverse index, removing
// the group itself once it becomes empty.
func (r *Registry) RemoveTab(userID, listItemID, tabID string) {
	key := sessionKey(userID)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tabIndex, tabID)
	s, ok := r.sessions[key]
	if !ok {
		return
	}
	tg, ok := s.TabGroups[listItemID]
	if !ok {
		return
	}
	delete(tg.Tabs, tabID)
	if len(tg.Tabs) == 0 {
		delete(s.TabGroups, listItemID)
	}
}

// RemoveGroup deletes an entire tab group and every tab's reverse-index
// entry within it, for DELETE /tabs/group/:listItemId.
func (r *Registry) RemoveGroup(userID, listItemID string) {
	key := sessionKey(userID)
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		return
	}
	tg, ok := s.TabGroups[listItemID]
	if !ok {
		return
	}
	for tabID := range tg.Tabs {
		delete(r.tabIndex, tabID)
	}
	delete(s.TabGroups, listItemID)
}

// CloseSessionsForUser closes the pool context for userID, drops its
// session, and runs download cleanup for userID, per spec §4.5.
func (r *Registry) CloseSessionsForUser(ctx context.Context, userID string) error {
	key := sessionKey(userID)
	r.mu.Lock()
	if s, ok := r.sessions[key]; ok {
		for _, tg := range s.TabGroups {
			for tabID := range tg.Tabs {
				delete(r.tabIndex, tabID)
			}
		}
		delete(r.sessions, key)
	}
	cleanup := r.downloadCleanup
	r.mu.Unlock()

	if cleanup != nil {
		cleanup(userID)
	}
	return r.pool.CloseContext(ctx, userID)
}

// CloseAllSessions closes every pooled context and drops every session, for
// process shutdown.
func (r *Registry) CloseAllSessions(ctx context.Context) {
	r.mu.Lock()
	r.sessions = make(map[string]*Session)
	r.tabIndex = make(map[string]string)
	r.mu.Unlock()
	r.pool.CloseAll(ctx)
}

// Close stops the idle reaper.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Registry) reapLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.reapIdle()
		}
	}
}

func (r *Registry) reapIdle() {
	cutoff := time.Now().Add(-r.idleTimeout)

	r.mu.Lock()
	var expired []string
	for key, s := range r.sessions {
		if s.LastAccess.Before(cutoff) {
			expired = append(expired, key)
		}
	}
	r.mu.Unlock()

	for _, key := range expired {
		log.Printf("reaping idle session %s (idle > %s)", key, r.idleTimeout)
		if err := r.CloseSessionsForUser(context.Background(), key); err != nil {
			log.Printf("⚠️  error reaping session %s: %v", key, err)
		}
	}
}
