// Package config parses and validates the process environment once at
// startup into an immutable Config struct. Every tunable documented in the
// spec is enumerated with its default; an unparsable integer falls back to
// that default (and logs a warning), while an invalid port or a directory
// that cannot be created fails Load outright.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config is the immutable, fully-resolved process configuration.
type Config struct {
	Port    int
	AdminKey string
	APIKey   string
	NodeEnv  string

	CookiesDir   string
	ProfilesDir  string
	DownloadsDir string

	DownloadTTL          time.Duration
	MaxFileSizeMB        int
	MaxBlobSizeMB        int
	MaxDownloadsPerUser  int

	HandlerTimeout      time.Duration
	MaxConcurrentPerUser int

	MaxSnapshotChars   int
	SnapshotTailChars  int
	BuildRefsTimeout   time.Duration
	TabLockTimeout     time.Duration

	HealthProbeInterval time.Duration
	FailureThreshold    int

	YTTimeout time.Duration

	Headless  string // "true" | "false" | "virtual"
	ProxyHost string
	ProxyPort string
	ProxyUser string
	ProxyPass string

	MaxPoolSize         int
	SessionIdleTimeout  time.Duration
	MaxSessions         int

	EvalExtendedRateMax    int
	EvalExtendedRateWindow time.Duration

	ChromeImage         string
	MaxBatchConcurrency int
}

const envPrefix = "CAMOFOX"

// envKeys lists every key Load reads, each explicitly bound with BindEnv
// on top of AutomaticEnv so `viper.AllSettings`/config dumps and
// mocked-env tests see them even before a value is ever set.
var envKeys = []string{
	"ADMIN_KEY", "API_KEY", "NODE_ENV",
	"COOKIES_DIR", "PROFILES_DIR", "DOWNLOADS_DIR",
	"HEADLESS", "PROXY_HOST", "PROXY_PORT", "PROXY_USER", "PROXY_PASS",
	"PORT",
	"MAX_FILE_SIZE_MB", "MAX_BLOB_SIZE_MB", "MAX_DOWNLOADS_PER_USER", "DOWNLOAD_TTL_MS",
	"HANDLER_TIMEOUT_MS", "MAX_CONCURRENT_PER_USER",
	"MAX_SNAPSHOT_CHARS", "SNAPSHOT_TAIL_CHARS", "BUILD_REFS_TIMEOUT_MS", "TAB_LOCK_TIMEOUT_MS",
	"HEALTH_PROBE_INTERVAL_MS", "FAILURE_THRESHOLD",
	"YT_TIMEOUT_MS",
	"MAX_POOL_SIZE", "SESSION_IDLE_TIMEOUT_MS", "MAX_SESSIONS",
	"EVAL_EXTENDED_RATE_LIMIT_MAX", "EVAL_EXTENDED_RATE_LIMIT_WINDOW_MS",
	"CHROME_IMAGE", "MAX_BATCH_CONCURRENCY",
}

// Load builds Config from the environment. Invalid integers fall back to
// their documented default; an invalid port or an uncreatable directory is
// a fatal error.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s%s: %w", envPrefix+"_", key, err)
		}
	}

	cfg := &Config{}

	cfg.AdminKey = v.GetString("ADMIN_KEY")
	cfg.APIKey = v.GetString("API_KEY")
	cfg.NodeEnv = getStringDefault(v, "NODE_ENV", "development")

	cfg.CookiesDir = getStringDefault(v, "COOKIES_DIR", "./storage/cookies")
	cfg.ProfilesDir = getStringDefault(v, "PROFILES_DIR", "./storage/profiles")
	cfg.DownloadsDir = getStringDefault(v, "DOWNLOADS_DIR", "./storage/downloads")

	cfg.Headless = getStringDefault(v, "HEADLESS", "true")
	cfg.ProxyHost = v.GetString("PROXY_HOST")
	cfg.ProxyPort = v.GetString("PROXY_PORT")
	cfg.ProxyUser = v.GetString("PROXY_USER")
	cfg.ProxyPass = v.GetString("PROXY_PASS")

	port := getIntWithDefault(v, "PORT", 8080)
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d: must be between 1 and 65535", port)
	}
	cfg.Port = port

	cfg.MaxFileSizeMB = getIntWithDefault(v, "MAX_FILE_SIZE_MB", 200)
	cfg.MaxBlobSizeMB = getIntWithDefault(v, "MAX_BLOB_SIZE_MB", 50)
	cfg.MaxDownloadsPerUser = getIntWithDefault(v, "MAX_DOWNLOADS_PER_USER", 500)
	cfg.DownloadTTL = time.Duration(getIntWithDefault(v, "DOWNLOAD_TTL_MS", 24*60*60*1000)) * time.Millisecond

	cfg.HandlerTimeout = time.Duration(getIntWithDefault(v, "HANDLER_TIMEOUT_MS", 30_000)) * time.Millisecond
	cfg.MaxConcurrentPerUser = getIntWithDefault(v, "MAX_CONCURRENT_PER_USER", 3)

	cfg.MaxSnapshotChars = getIntWithDefault(v, "MAX_SNAPSHOT_CHARS", 80_000)
	cfg.SnapshotTailChars = getIntWithDefault(v, "SNAPSHOT_TAIL_CHARS", 5_000)
	cfg.BuildRefsTimeout = time.Duration(getIntWithDefault(v, "BUILD_REFS_TIMEOUT_MS", 12_000)) * time.Millisecond
	cfg.TabLockTimeout = time.Duration(getIntWithDefault(v, "TAB_LOCK_TIMEOUT_MS", 30_000)) * time.Millisecond

	cfg.HealthProbeInterval = time.Duration(getIntWithDefault(v, "HEALTH_PROBE_INTERVAL_MS", 60_000)) * time.Millisecond
	cfg.FailureThreshold = getIntWithDefault(v, "FAILURE_THRESHOLD", 3)

	cfg.YTTimeout = time.Duration(getIntWithDefault(v, "YT_TIMEOUT_MS", 60_000)) * time.Millisecond

	cfg.MaxPoolSize = getIntWithDefault(v, "MAX_POOL_SIZE", 50)
	cfg.SessionIdleTimeout = time.Duration(getIntWithDefault(v, "SESSION_IDLE_TIMEOUT_MS", 30*60*1000)) * time.Millisecond
	if cfg.SessionIdleTimeout < 60*time.Second {
		cfg.SessionIdleTimeout = 60 * time.Second
	}

	cfg.EvalExtendedRateMax = getIntWithDefault(v, "EVAL_EXTENDED_RATE_LIMIT_MAX", 20)
	cfg.EvalExtendedRateWindow = time.Duration(getIntWithDefault(v, "EVAL_EXTENDED_RATE_LIMIT_WINDOW_MS", 60_000)) * time.Millisecond

	cfg.MaxSessions = getIntWithDefault(v, "MAX_SESSIONS", 50)
	cfg.ChromeImage = getStringDefault(v, "CHROME_IMAGE", "browserless/chrome:latest")
	cfg.MaxBatchConcurrency = getIntWithDefault(v, "MAX_BATCH_CONCURRENCY", 5)

	for _, dir := range []string{cfg.CookiesDir, cfg.ProfilesDir, cfg.DownloadsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %q: %w", dir, err)
		}
	}

	if cfg.APIKey == "" {
		log.Println("⚠️  No API_KEY configured — script evaluation and cookie import endpoints are open")
	}

	return cfg, nil
}

func getStringDefault(v *viper.Viper, key, def string) string {
	if s := v.GetString(key); s != "" {
		return s
	}
	return def
}

// getIntWithDefault reads an env-bound int, logging and falling back to def
// on a parse failure rather than failing startup.
func getIntWithDefault(v *viper.Viper, key string, def int) int {
	raw := v.GetString(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("⚠️  invalid integer for %s%s=%q, using default %d", envPrefix+"_", key, raw, def)
		return def
	}
	return n
}
