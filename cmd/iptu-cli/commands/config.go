package commands

import (
	"errors"
	"fmt"
	"iptu-backend/internal/events"
	"iptu-backend/internal/portal"
	"iptu-backend/internal/runlock"
	"iptu-backend/lib/configutil"
	configlibsql "iptu-backend/lib/configutil/libsql"
	"log/slog"
	"os"
	"strings"
	"time"
)

type TranscriptionConfig struct {
	ApiKey   string `json:"api_key"`
	Model    string `json:"model"`
	Language string `json:"language"`
}

type TimeoutsConfig struct {
	NavigationSeconds int `json:"navigation_seconds"`
	ActionSeconds     int `json:"action_seconds"`
	InterceptSeconds  int `json:"intercept_seconds"`
	ResultsSeconds    int `json:"results_seconds"`
	DownloadSeconds   int `json:"download_seconds"`
	DownloadPauseMs   int `json:"download_pause_ms"`
}

type RetryConfig struct {
	Attempts       int     `json:"attempts"`
	BackoffSeconds float64 `json:"backoff_seconds"`
}

type Config struct {
	TargetUrl     string              `json:"target_url"`
	Headless      *bool               `json:"headless"`
	ForceUpdate   bool                `json:"force_update"`
	// Schedule is the cron spec used by watch.
	Schedule      string              `json:"schedule"`
	Database      configlibsql.Struct `json:"database"`
	// ScreenshotDir receives a screenshot of every failed headless extraction.
	ScreenshotDir string              `json:"screenshot_dir"`
	HttpDumpDir   string              `json:"http_dump_dir"`
	Transcription TranscriptionConfig `json:"transcription"`
	FFmpegPath    string              `json:"ffmpeg_path"`
	// BrowserPath overrides the bundled chromium.
	BrowserPath   string              `json:"browser_path"`
	Selectors     portal.Selectors    `json:"selectors"`
	Timeouts      TimeoutsConfig      `json:"timeouts"`
	Retry         RetryConfig         `json:"retry"`
	Nats          events.NATSConfig   `json:"nats"`
	Redis         runlock.Config      `json:"redis"`
}

func (c Config) IsHeadless() bool {
	return c.Headless == nil || *c.Headless
}

func seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

func (c *Config) applyDefaults() {
	if c.Database.File == "" && c.Database.Url == "" {
		c.Database.File = "data/iptu.db"
	}
	if c.ScreenshotDir == "" {
		c.ScreenshotDir = "data/erros"
	}
	if c.HttpDumpDir == "" {
		c.HttpDumpDir = "<dev_state>/resty"
	}
	if c.Retry.Attempts <= 0 {
		c.Retry.Attempts = 3
	}
	if c.Retry.BackoffSeconds <= 0 {
		c.Retry.BackoffSeconds = 5
	}
	if c.Timeouts.DownloadPauseMs <= 0 {
		c.Timeouts.DownloadPauseMs = 1000
	}
	c.Selectors = c.Selectors.Merge(portal.DefaultSelectors())
}

// applyEnv lets the environment (and .env) override the config file.
func (c *Config) applyEnv() error {
	configutil.EnvString(&c.TargetUrl, "TARGET_URL")
	configutil.EnvString(&c.Transcription.ApiKey, "OPENAI_API_KEY")

	var conn string
	configutil.EnvString(&conn, "DB_CONNECTION")
	if conn != "" {
		if strings.Contains(conn, "://") {
			c.Database.Url = conn
		} else {
			c.Database.File = strings.TrimPrefix(conn, "file:")
			c.Database.Url = ""
		}
	}

	if _, ok := os.LookupEnv("HEADLESS"); ok {
		headless := c.IsHeadless()
		err := configutil.EnvBool(&headless, "HEADLESS")
		if err != nil {
			return err
		}
		c.Headless = &headless
	}
	return configutil.EnvBool(&c.ForceUpdate, "FORCE_UPDATE")
}

func (c Config) validate() error {
	if c.TargetUrl == "" {
		return fmt.Errorf("target_url is not set (config file or TARGET_URL)")
	}
	return nil
}

// LoadConfig reads the config file, a missing file is fine as long as the
// environment provides what is needed.
func LoadConfig(path string) (Config, error) {
	cfg, err := configutil.ReadConfig[Config](path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("no config file, using defaults and environment", "path", path)
		err = nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	err = cfg.applyEnv()
	if err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	return cfg, cfg.validate()
}
