package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures all tunable settings for the chatda overlay daemon.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Browser  BrowserConfig  `yaml:"browser"`
	Site     SiteConfig     `yaml:"site"`
	Bubble   BubbleConfig   `yaml:"bubble"`
	Storage  StorageConfig  `yaml:"storage"`
	Backend  BackendConfig  `yaml:"backend"`
	MCP      MCPConfig      `yaml:"mcp"`
	Mangle   MangleConfig   `yaml:"mangle"`
	Recorder RecorderConfig `yaml:"recorder"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	// LogFile receives JSON logs when set; stderr otherwise.
	LogFile string `yaml:"log_file"`
	// LogLevel is one of debug | info | warn | error.
	LogLevel string `yaml:"log_level"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// AutoStart controls whether the daemon launches/attaches to Chrome at startup.
	AutoStart bool `yaml:"auto_start"`
	// Headless controls whether Chrome runs in headless mode (default: false, the overlay is for people).
	Headless *bool `yaml:"headless"`
	// StartURL is opened in the overlay tab on startup.
	StartURL string `yaml:"start_url"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// EventPollMs is how often the injected event queue is drained.
	EventPollMs int `yaml:"event_poll_ms"`
	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`
}

// SiteConfig is the host DOM contract. It is versioned by the host's markup, not by us.
type SiteConfig struct {
	ListingURL   string `yaml:"listing_url"`
	DetailPrefix string `yaml:"detail_prefix"`
	// AnchorSelector is the host menu region that receives the launcher and the mount point.
	AnchorSelector     string `yaml:"anchor_selector"`
	ContainerSelector  string `yaml:"container_selector"`
	ItemSelector       string `yaml:"item_selector"`
	LoadMoreSelector   string `yaml:"load_more_selector"`
	CardDetailSelector string `yaml:"card_detail_selector"`
	CardTextSelector   string `yaml:"card_text_selector"`
	MountID            string `yaml:"mount_id"`
	LauncherID         string `yaml:"launcher_id"`
	IconURL            string `yaml:"icon_url"`
	CompareLabel       string `yaml:"compare_label"`
	// AccentColor is the background of the compare hover label.
	AccentColor string `yaml:"accent_color"`
	// RescanDelay lets the host finish appending items after "load more" is clicked.
	RescanDelay string `yaml:"rescan_delay"`
}

type BubbleConfig struct {
	FadeAfter string `yaml:"fade_after"`
	HideAfter string `yaml:"hide_after"`
	Header    string `yaml:"header"`
}

// StorageConfig selects the session-scoped store for messages and compared products.
type StorageConfig struct {
	// Backend is one of browser | redis | memory.
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	SessionTTL    string `yaml:"session_ttl"`
}

type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// MangleConfig controls the embedded fact log.
type MangleConfig struct {
	Enable          bool   `yaml:"enable"`
	// SchemaPath adds rules from a file on top of the built-in overlay schema.
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

type RecorderConfig struct {
	Enable bool   `yaml:"enable"`
	Dir    string `yaml:"dir"`
}

// DefaultConfig targets the refrigerator pages the overlay was built for.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:     "chatda",
			Version:  "0.1.0",
			LogLevel: "info",
		},
		Browser: BrowserConfig{
			AutoStart:                true,
			StartURL:                 "https://www.samsung.com/sec/refrigerators/all-refrigerators/",
			DefaultNavigationTimeout: "15s",
			EventPollMs:              250,
			ViewportWidth:            1920,
			ViewportHeight:           1080,
		},
		Site: SiteConfig{
			ListingURL:         "https://www.samsung.com/sec/refrigerators/all-refrigerators/",
			DetailPrefix:       "https://www.samsung.com/sec/refrigerators/",
			AnchorSelector:     ".menu01",
			ItemSelector:       ".item-inner",
			LoadMoreSelector:   "#morePrd",
			CardDetailSelector: ".card-detail",
			CardTextSelector:   "span",
			MountID:            "summaryPlace",
			LauncherID:         "chatDAIcon",
			CompareLabel:       "ChatDA에서 비교하기",
			AccentColor:        "#1428a0",
			RescanDelay:        "300ms",
		},
		Bubble: BubbleConfig{
			FadeAfter: "3s",
			HideAfter: "12s",
			Header:    "이 제품의 특징이에요",
		},
		Storage: StorageConfig{
			Backend:    "browser",
			RedisAddr:  "localhost:6379",
			SessionTTL: "12h",
		},
		Backend: BackendConfig{
			BaseURL: "http://localhost:8000",
			Timeout: "20s",
		},
		Mangle: MangleConfig{
			Enable:          true,
			FactBufferLimit: 2048,
		},
		Recorder: RecorderConfig{
			Dir: "data/traces",
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

// Validate ensures required fields exist so the daemon can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Browser.AutoStart {
		if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
			return errors.New("browser.debugger_url or browser.launch must be provided")
		}
	}
	if c.Site.ListingURL == "" || c.Site.DetailPrefix == "" {
		return errors.New("site.listing_url and site.detail_prefix are required")
	}
	if c.Site.AnchorSelector == "" || c.Site.ItemSelector == "" {
		return errors.New("site.anchor_selector and site.item_selector are required")
	}
	if c.Site.MountID == "" || c.Site.LauncherID == "" {
		return errors.New("site.mount_id and site.launcher_id are required")
	}
	switch strings.ToLower(c.Storage.Backend) {
	case "browser", "memory":
	case "redis":
		if c.Storage.RedisAddr == "" {
			return errors.New("storage.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Bubble.FadeDuration() >= c.Bubble.HideDuration() {
		return errors.New("bubble.fade_after must be shorter than bubble.hide_after")
	}
	return nil
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDuration(b.DefaultNavigationTimeout, 15*time.Second)
}

// EventPollInterval returns how often the page event queue is drained.
func (b BrowserConfig) EventPollInterval() time.Duration {
	if b.EventPollMs <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(b.EventPollMs) * time.Millisecond
}

// IsHeadless returns whether Chrome should run headless (default: false).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return false
	}
	return *b.Headless
}

func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1920
	}
	return b.ViewportWidth
}

func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 1080
	}
	return b.ViewportHeight
}

func (s SiteConfig) RescanDelayDuration() time.Duration {
	return parseDuration(s.RescanDelay, 300*time.Millisecond)
}

func (b BubbleConfig) FadeDuration() time.Duration {
	return parseDuration(b.FadeAfter, 3*time.Second)
}

func (b BubbleConfig) HideDuration() time.Duration {
	return parseDuration(b.HideAfter, 12*time.Second)
}

func (s StorageConfig) TTL() time.Duration {
	return parseDuration(s.SessionTTL, 12*time.Hour)
}

func (b BackendConfig) RequestTimeout() time.Duration {
	return parseDuration(b.Timeout, 20*time.Second)
}
