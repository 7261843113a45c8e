package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/redf0x1/camofox-browser/internal/api"
	"github.com/redf0x1/camofox-browser/internal/config"
	"github.com/redf0x1/camofox-browser/internal/core"
	"github.com/redf0x1/camofox-browser/internal/proxy"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	log.Println("Starting camofox-browser control plane...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Println("✓ config loaded")

	c, err := core.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize core: %v", err)
	}
	log.Println("✓ core initialized (docker pool, playwright driver, context pool, session registry)")

	proxyServer := proxy.NewServer(c.Sessions, c.Pool)
	log.Println("✓ debug WebSocket proxy initialized")

	server := api.NewServer(c, proxyServer)
	router := server.SetupRoutes()
	log.Println("✓ HTTP routes configured")

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d\n", cfg.Port)
		log.Println("🔍 Debug: WebSocket CDP proxy available per tab")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case <-server.StopRequested():
		log.Println("🛑 shutdown requested via POST /admin/stop")
	}

	log.Println("⏳ Shutting down server gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("⚠️  HTTP server forced to shutdown: %v", err)
	}

	c.Shutdown(ctx)

	log.Println("✅ Server stopped cleanly")
}
