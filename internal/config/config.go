package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the tabdesk host process.
type Config struct {
	// CDP connection settings
	CDPAddress    string
	CDPPort       int
	LaunchBrowser bool
	Headless      bool
	BrowserBinary string
	ProfileDir    string

	// API and logging
	BindAddr         string
	PortAutoFallback bool
	PortCandidates   []string
	LogLevel         string
	LogFile          string

	// Storage
	DataDir  string
	CacheDir string

	// Tab behaviour
	MaxTabs      int
	ChromeHeight int

	// Sync timing
	BroadcastDebounce     time.Duration
	AutosaveDebounce      time.Duration
	AutosaveSchedule      string
	SessionContentTimeout time.Duration
	WarmupStagger         time.Duration

	// Diagnostics. Empty values disable them.
	EventJournal string
	SyncWebhook  string

	KeymapPath string
	Keymap     *Keymap
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:            getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:               getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		LaunchBrowser:         getEnvBoolOrDefault("TABDESK_LAUNCH_BROWSER", true),
		Headless:              getEnvBoolOrDefault("TABDESK_HEADLESS", false),
		BrowserBinary:         os.Getenv("TABDESK_BROWSER_BINARY"),
		ProfileDir:            getEnvOrDefault("TABDESK_PROFILE_DIR", "./browser_profile"),
		BindAddr:              getEnvOrDefault("TABDESK_BIND_ADDR", "127.0.0.1:8190"),
		PortAutoFallback:      getEnvBoolOrDefault("TABDESK_PORT_AUTO_FALLBACK", true),
		PortCandidates:        getEnvCSVOrDefault("TABDESK_PORT_CANDIDATES", []string{"127.0.0.1:8191", "127.0.0.1:8192", "127.0.0.1:8193"}),
		LogLevel:              strings.ToLower(getEnvOrDefault("TABDESK_LOG_LEVEL", "info")),
		LogFile:               getEnvOrDefault("TABDESK_LOG_FILE", "logs/tabdesk.log"),
		DataDir:               getEnvOrDefault("TABDESK_DATA_DIR", "./data"),
		CacheDir:              getEnvOrDefault("TABDESK_CACHE_DIR", "./data/snapshots"),
		MaxTabs:               getEnvIntOrDefault("TABDESK_MAX_TABS", 7),
		ChromeHeight:          getEnvIntOrDefault("TABDESK_CHROME_HEIGHT", 40),
		BroadcastDebounce:     getEnvMillisOrDefault("BROADCAST_DEBOUNCE_MS", 120),
		AutosaveDebounce:      getEnvMillisOrDefault("AUTOSAVE_DEBOUNCE_MS", 1000),
		AutosaveSchedule:      getEnvOrDefault("AUTOSAVE_SCHEDULE", "@every 30s"),
		SessionContentTimeout: getEnvMillisOrDefault("SESSION_CONTENT_TIMEOUT_MS", 1500),
		WarmupStagger:         getEnvMillisOrDefault("WARMUP_STAGGER_MS", 200),
		EventJournal:          getEnvOrDefault("TABDESK_EVENT_JOURNAL", "logs/tab-events.jsonl"),
		SyncWebhook:           os.Getenv("TABDESK_SYNC_WEBHOOK"),
		KeymapPath:            getEnvOrDefault("TABDESK_KEYMAP", "./config/keymap.yaml"),
	}
	if cfg.MaxTabs < 1 {
		cfg.MaxTabs = 1
	}
	if cfg.ChromeHeight < 0 {
		cfg.ChromeHeight = 0
	}
	if strings.EqualFold(cfg.AutosaveSchedule, "off") {
		cfg.AutosaveSchedule = ""
	}
	if strings.EqualFold(cfg.EventJournal, "off") {
		cfg.EventJournal = ""
	}

	keymap, err := LoadKeymap(cfg.KeymapPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Debug("no keymap file, using defaults", "path", cfg.KeymapPath)
		keymap = DefaultKeymap()
	case err != nil:
		return nil, err
	}
	cfg.Keymap = keymap

	return cfg, nil
}

// GetCDPURL returns the full CDP HTTP endpoint used by chromedp remote allocator.
func (c *Config) GetCDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvCSVOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

// getEnvMillisOrDefault reads a millisecond count. Negative values fall back
// to the default.
func getEnvMillisOrDefault(key string, defaultMS int) time.Duration {
	ms := getEnvIntOrDefault(key, defaultMS)
	if ms < 0 {
		ms = defaultMS
	}
	return time.Duration(ms) * time.Millisecond
}
