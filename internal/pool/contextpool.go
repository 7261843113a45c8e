// Package pool implements the ContextPool from spec §4.4: a bounded LRU of
// persistent browser contexts keyed by userId, with single-flight launch
// and eviction callbacks so subscribers can drop references before a
// context is closed. The SessionRegistry is the only subscriber wired up;
// the DownloadRegistry does not register one.
package pool

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/redf0x1/camofox-browser/internal/browser"
	"github.com/redf0x1/camofox-browser/internal/engine"
	"github.com/redf0x1/camofox-browser/pkg/models"
)

// Entry is one pooled, persistent browser context.
type Entry struct {
	UserID     string
	Context    engine.Context
	Instance   *browser.Instance
	ProfileDir string
	LastAccess time.Time
	Headless   string

	seedApplied bool
	launch      *launchFuture
}

type launchFuture struct {
	done  chan struct{}
	entry *Entry
	err   error
}

func (f *launchFuture) wait() (*Entry, error) {
	<-f.done
	return f.entry, f.err
}

// EvictionCallback is invoked, in registration order, before a context is
// closed — either by LRU eviction or by an explicit CloseContext.
type EvictionCallback func(userID string)

// Pool is the bounded LRU of pooled browser contexts.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*Entry

	dockerPool  *browser.Pool
	playwright  *playwright.Playwright
	profilesDir string
	maxSize     int
	headless    string

	callbacks []EvictionCallback
}

// New creates a ContextPool. dockerPool launches the isolated Chrome
// containers; pw is the shared playwright-go driver used to attach to each
// one over CDP.
func New(dockerPool *browser.Pool, pw *playwright.Playwright, profilesDir string, maxSize int, headless string) *Pool {
	return &Pool{
		entries:     make(map[string]*Entry),
		dockerPool:  dockerPool,
		playwright:  pw,
		profilesDir: profilesDir,
		maxSize:     maxSize,
		headless:    headless,
	}
}

// OnEviction registers a callback fired before a context closes.
func (p *Pool) OnEviction(cb EvictionCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = append(p.callbacks, cb)
}

// EnsureContext implements ensureContext(userId, seedOptions?) from spec
// §4.4.
func (p *Pool) EnsureContext(ctx context.Context, userID string, seed *models.SeedOptions) (*Entry, error) {
	p.mu.Lock()
	if e, ok := p.entries[userID]; ok {
		if e.launch != nil {
			f := e.launch
			p.mu.Unlock()
			return f.wait()
		}
		if !p.dockerPool.IsHealthy(ctx, e.Instance.ContainerID) {
			delete(p.entries, userID)
		} else {
			e.LastAccess = time.Now()
			if seed != nil {
				log.Printf("⚠️  ignoring new seed options for %s: persistent context already launched", userID)
			}
			p.mu.Unlock()
			return e, nil
		}
	}

	future := &launchFuture{done: make(chan struct{})}
	placeholder := &Entry{UserID: userID, launch: future}
	p.entries[userID] = placeholder
	p.mu.Unlock()

	entry, err := p.launch(ctx, userID, seed)

	p.mu.Lock()
	if err != nil {
		delete(p.entries, userID)
		p.mu.Unlock()
		future.err = err
		close(future.done)
		return nil, err
	}
	p.entries[userID] = entry
	p.mu.Unlock()

	future.entry = entry
	close(future.done)

	p.evictIfOverCapacity(ctx)

	return entry, nil
}

func (p *Pool) launch(ctx context.Context, userID string, seed *models.SeedOptions) (*Entry, error) {
	profileDir := filepath.Join(p.profilesDir, url.QueryEscape(userID))

	inst, err := p.dockerPool.Launch(ctx, browser.LaunchOptions{
		UserID:     userID,
		ProfileDir: profileDir,
		Headless:   p.headless,
	})
	if err != nil {
		return nil, fmt.Errorf("launch container for %s: %w", userID, err)
	}

	var seedApply *engine.SeedApply
	if seed != nil {
		seedApply = &engine.SeedApply{Locale: seed.Locale}
		if seed.Viewport != nil {
			seedApply.Viewport = &engine.Size{Width: seed.Viewport.Width, Height: seed.Viewport.Height}
		}
	}

	engCtx, err := engine.ConnectOverCDP(p.playwright, inst.ConnectURL, seedApply)
	if err != nil {
		_ = p.dockerPool.Stop(ctx, inst.ContainerID)
		return nil, fmt.Errorf("attach to browser for %s: %w", userID, err)
	}

	return &Entry{
		UserID:      userID,
		Context:     engCtx,
		Instance:    inst,
		ProfileDir:  profileDir,
		LastAccess:  time.Now(),
		Headless:    p.headless,
		seedApplied: seed != nil,
	}, nil
}

// evictIfOverCapacity drops the least-recently-used, non-launching entry
// until the pool is back within maxSize. Eviction callbacks fire before the
// context is closed.
func (p *Pool) evictIfOverCapacity(ctx context.Context) {
	for {
		p.mu.Lock()
		if len(p.entries) <= p.maxSize {
			p.mu.Unlock()
			return
		}

		var oldestKey string
		var oldest time.Time
		first := true
		for k, e := range p.entries {
			if e.launch != nil {
				continue
			}
			if first || e.LastAccess.Before(oldest) {
				oldest = e.LastAccess
				oldestKey = k
				first = false
			}
		}
		if oldestKey == "" {
			p.mu.Unlock()
			return
		}
		victim := p.entries[oldestKey]
		delete(p.entries, oldestKey)
		callbacks := append([]EvictionCallback(nil), p.callbacks...)
		p.mu.Unlock()

		for _, cb := range callbacks {
			cb(oldestKey)
		}
		if err := victim.Context.Close(); err != nil {
			log.Printf("⚠️  error closing evicted context for %s: %v", oldestKey, err)
		}
		if err := p.dockerPool.Stop(ctx, victim.Instance.ContainerID); err != nil {
			log.Printf("⚠️  error stopping evicted container for %s: %v", oldestKey, err)
		}
	}
}

// RestartContext awaits any pending launch, closes the existing context,
// then relaunches — used when a display-mode toggle requires a fresh
// context.
func (p *Pool) RestartContext(ctx context.Context, userID string, headless string) (*Entry, error) {
	p.mu.Lock()
	e, ok := p.entries[userID]
	p.mu.Unlock()
	if ok {
		if e.launch != nil {
			_, _ = e.launch.wait()
		}
		_ = p.CloseContext(ctx, userID)
	}

	prevHeadless := p.headless
	if headless != "" {
		p.mu.Lock()
		p.headless = headless
		p.mu.Unlock()
	}
	defer func() {
		p.mu.Lock()
		p.headless = prevHeadless
		p.mu.Unlock()
	}()

	return p.EnsureContext(ctx, userID, nil)
}

// CloseContext awaits any pending launch (ignoring its error), closes the
// context, and deletes the entry.
func (p *Pool) CloseContext(ctx context.Context, userID string) error {
	p.mu.Lock()
	e, ok := p.entries[userID]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	delete(p.entries, userID)
	callbacks := append([]EvictionCallback(nil), p.callbacks...)
	p.mu.Unlock()

	if e.launch != nil {
		entry, err := e.launch.wait()
		if err != nil {
			return nil
		}
		e = entry
	}

	for _, cb := range callbacks {
		cb(userID)
	}

	if err := e.Context.Close(); err != nil {
		log.Printf("⚠️  error closing context for %s: %v", userID, err)
	}
	if e.Instance != nil {
		return p.dockerPool.Stop(ctx, e.Instance.ContainerID)
	}
	return nil
}

// CloseAll best-effort closes every pooled entry.
func (p *Pool) CloseAll(ctx context.Context) {
	p.mu.Lock()
	keys := make([]string, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	p.mu.Unlock()

	for _, k := range keys {
		if err := p.CloseContext(ctx, k); err != nil {
			log.Printf("⚠️  error closing context for %s during shutdown: %v", k, err)
		}
	}
}

// Size reports the current number of pooled entries (including in-flight
// launches), for the health endpoint.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// ActiveUserIDs lists userIds with a live (non-launching) pooled entry.
func (p *Pool) ActiveUserIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.entries))
	for k, e := range p.entries {
		if e.launch == nil {
			ids = append(ids, k)
		}
	}
	return ids
}

// CurrentHeadless reports the headless mode userID's pooled context was
// actually launched with, if one exists. Callers that need a value
// regardless (e.g. to compute a toggle for a user with no live context
// yet) fall back to the pool's configured default headless mode.
func (p *Pool) CurrentHeadless(userID string) (headless string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, exists := p.entries[userID]; exists && e.launch == nil {
		return e.Headless, true
	}
	return p.headless, false
}

// Instance returns the Docker/CDP instance backing userID's pooled
// context, if one is currently live. Used by the debug WebSocket proxy to
// find the CDP endpoint to dial.
func (p *Pool) Instance(userID string) (*browser.Instance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[userID]
	if !ok || e.launch != nil {
		return nil, false
	}
	return e.Instance, true
}
