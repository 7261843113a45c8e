// Package core wires every long-lived singleton (spec §9 "Global mutable
// state ... express as an owned Core struct, not free globals") into one
// struct with init/shutdown hooks, the way the teacher's cmd/server/main.go
// wires its region manager, context manager, and session manager together
// — except here the wiring lives in its own package so cmd/server stays a
// thin entrypoint.
package core

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/redf0x1/camofox-browser/internal/browser"
	"github.com/redf0x1/camofox-browser/internal/concurrency"
	"github.com/redf0x1/camofox-browser/internal/config"
	"github.com/redf0x1/camofox-browser/internal/downloads"
	"github.com/redf0x1/camofox-browser/internal/health"
	"github.com/redf0x1/camofox-browser/internal/pool"
	"github.com/redf0x1/camofox-browser/internal/profilearchive"
	"github.com/redf0x1/camofox-browser/internal/ratelimit"
	"github.com/redf0x1/camofox-browser/internal/resources"
	"github.com/redf0x1/camofox-browser/internal/session"
	"github.com/redf0x1/camofox-browser/internal/tablock"
)

// Core owns every process-wide singleton the control plane needs: the
// Docker-backed browser pool, the playwright-go driver attached to it, and
// every orchestration component layered on top.
type Core struct {
	Config *config.Config

	RateLimiter *ratelimit.Limiter
	Health      *health.Tracker

	dockerPool *browser.Pool
	pw         *playwright.Playwright

	Pool        *pool.Pool
	Sessions    *session.Registry
	Concurrency *concurrency.Limiter
	TabLock     *tablock.Lock
	Downloads   *downloads.Registry
	Batch       *resources.BatchDownloader
	Archiver    *profilearchive.Archiver
}

// New launches the Docker pool, attaches playwright-go to it, and wires
// every orchestration singleton on top. Callers own calling Shutdown.
func New(cfg *config.Config) (*Core, error) {
	dockerPool, err := browser.NewPool(cfg.ChromeImage)
	if err != nil {
		return nil, fmt.Errorf("create docker pool: %w", err)
	}

	imgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	log.Println("⏳ ensuring Chrome image is available...")
	if err := dockerPool.EnsureImage(imgCtx); err != nil {
		return nil, fmt.Errorf("ensure chrome image: %w", err)
	}
	log.Println("✓ Chrome image ready")

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright driver: %w", err)
	}

	ctxPool := pool.New(dockerPool, pw, cfg.ProfilesDir, cfg.MaxPoolSize, cfg.Headless)
	log.Println("✓ context pool initialized")

	sessions := session.New(ctxPool, cfg.MaxSessions, cfg.SessionIdleTimeout)
	log.Println("✓ session registry initialized")

	downloadsRegistry, err := downloads.New(downloads.Options{
		DownloadsDir:        cfg.DownloadsDir,
		MaxDownloadsPerUser: cfg.MaxDownloadsPerUser,
		MaxFileSizeMB:       cfg.MaxFileSizeMB,
		TTL:                 cfg.DownloadTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("init download registry: %w", err)
	}
	log.Println("✓ download registry initialized")

	sessions.SetDownloadCleanup(downloadsRegistry.CleanupUser)

	batch := resources.NewBatchDownloader(resources.BatchOptions{
		MaxBatchConcurrency: cfg.MaxBatchConcurrency,
		MaxBlobSizeMB:       cfg.MaxBlobSizeMB,
		MaxFileSizeMB:       cfg.MaxFileSizeMB,
		DestDir:             cfg.DownloadsDir,
	})

	return &Core{
		Config:      cfg,
		RateLimiter: ratelimit.NewLimiter(),
		Health:      health.NewTracker(cfg.FailureThreshold, cfg.HealthProbeInterval),
		dockerPool:  dockerPool,
		pw:          pw,
		Pool:        ctxPool,
		Sessions:    sessions,
		Concurrency: concurrency.New(cfg.MaxConcurrentPerUser),
		TabLock:     tablock.New(),
		Downloads:   downloadsRegistry,
		Batch:       batch,
		Archiver:    profilearchive.New(cfg.ProfilesDir),
	}, nil
}

// Shutdown marks the health tracker as recovering (so /health answers 503
// immediately), then closes every session/context and the Docker/playwright
// drivers, best-effort, in reverse dependency order.
func (c *Core) Shutdown(ctx context.Context) {
	c.Health.SetRecovering(true)

	c.Sessions.CloseAllSessions(ctx)
	c.Sessions.Close()
	c.Downloads.Close()
	c.RateLimiter.Close()
	c.Health.Close()

	if err := c.pw.Stop(); err != nil {
		log.Printf("⚠️  error stopping playwright driver: %v", err)
	}
	if err := c.dockerPool.Close(); err != nil {
		log.Printf("⚠️  error closing docker client: %v", err)
	}
}
