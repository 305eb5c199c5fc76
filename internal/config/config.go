package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/discombobulate/discombobulate/internal/ui"
)

// ProxyEnv overrides youtube.proxy when set.
const ProxyEnv = "DISCOMBOBULATE_PROXY"

// Config holds discombobulate runtime configuration loaded from TOML.
type Config struct {
	UI       UIConfig       `toml:"ui"`
	Player   PlayerConfig   `toml:"player"`
	Resolver ResolverConfig `toml:"resolver"`
	Search   SearchConfig   `toml:"search"`
	History  HistoryConfig  `toml:"history"`
	Autoplay AutoplayConfig `toml:"autoplay"`
	YouTube  YouTubeConfig  `toml:"youtube"`
}

type UIConfig struct {
	NoEmoji bool   `toml:"no_emoji"`
	Theme   string `toml:"theme"`
}

type PlayerConfig struct {
	MPVPath            string   `toml:"mpv_path"`
	IPC                string   `toml:"ipc"`
	ExtraArgs          []string `toml:"extra_args"`
	ProgressIntervalMS int      `toml:"progress_interval_ms"`
	SeekSmall          int      `toml:"seek_small_seconds"`
}

type ResolverConfig struct {
	TimeoutMS int `toml:"timeout_ms"`
	// MaxBitrate caps the automatic rendition choice, in bits per second.
	// 0 picks the best available.
	MaxBitrate int `toml:"max_bitrate"`
}

type SearchConfig struct {
	Suffix       *string  `toml:"suffix"`
	Limit        int      `toml:"limit"`
	Sources      []string `toml:"sources"`
	CacheMinutes int      `toml:"cache_minutes"`
}

type HistoryConfig struct {
	MaxEntries int    `toml:"max_entries"`
	DBPath     string `toml:"db_path"`
}

// AutoplayConfig uses pointers so that a missing key means "use default".
type AutoplayConfig struct {
	Enabled       *bool `toml:"enabled"`
	ExcludePlayed *bool `toml:"exclude_played"`
}

type YouTubeConfig struct {
	Proxy             string  `toml:"proxy"`
	AutoInstall       *bool   `toml:"auto_install"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Load reads configuration from disk. If path is empty, a default OS-specific
// location is used. A missing file yields the defaults.
func Load(path string) (*Config, string, error) {
	cfgPath := path
	if cfgPath == "" {
		var err error
		cfgPath, err = defaultPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve config path: %w", err)
		}
	}

	var cfg Config
	data, err := os.ReadFile(cfgPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, cfgPath, fmt.Errorf("read config: %w", err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, cfgPath, fmt.Errorf("parse config: %w", err)
		}
	}

	applyDefaults(&cfg)
	if proxy := strings.TrimSpace(os.Getenv(ProxyEnv)); proxy != "" {
		cfg.YouTube.Proxy = proxy
	}

	if err := Validate(cfg); err != nil {
		return nil, cfgPath, err
	}

	return &cfg, cfgPath, nil
}

func defaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	name := "discombobulate"
	if runtime.GOOS == "windows" {
		name = "Discombobulate"
	}
	return filepath.Join(dir, name, "config.toml"), nil
}

func applyDefaults(cfg *Config) {
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = ui.DefaultTheme
	}
	if cfg.Player.MPVPath == "" {
		cfg.Player.MPVPath = "mpv"
	}
	if cfg.Player.ProgressIntervalMS == 0 {
		cfg.Player.ProgressIntervalMS = 1000
	}
	if cfg.Player.SeekSmall == 0 {
		cfg.Player.SeekSmall = 5
	}
	if cfg.Resolver.TimeoutMS == 0 {
		cfg.Resolver.TimeoutMS = 20000
	}
	if cfg.Search.Suffix == nil {
		cfg.Search.Suffix = ptr(" music")
	}
	if cfg.Search.Limit == 0 {
		cfg.Search.Limit = 20
	}
	if len(cfg.Search.Sources) == 0 {
		cfg.Search.Sources = []string{"ytmusic", "youtube"}
	}
	if cfg.Search.CacheMinutes == 0 {
		cfg.Search.CacheMinutes = 30
	}
	if cfg.History.MaxEntries == 0 {
		cfg.History.MaxEntries = 20
	}
	if cfg.Autoplay.Enabled == nil {
		cfg.Autoplay.Enabled = ptr(true)
	}
	if cfg.Autoplay.ExcludePlayed == nil {
		cfg.Autoplay.ExcludePlayed = ptr(true)
	}
	if cfg.YouTube.AutoInstall == nil {
		cfg.YouTube.AutoInstall = ptr(false)
	}
}

func ptr[T any](v T) *T { return &v }

// Validate performs semantic validation of config.
func Validate(cfg Config) error {
	if cfg.Resolver.TimeoutMS < 0 {
		return errors.New("resolver.timeout_ms must not be negative")
	}
	if cfg.Resolver.MaxBitrate < 0 {
		return errors.New("resolver.max_bitrate must not be negative")
	}
	if cfg.Player.ProgressIntervalMS < 0 {
		return errors.New("player.progress_interval_ms must not be negative")
	}
	if cfg.Search.Limit < 0 || cfg.Search.Limit > 100 {
		return errors.New("search.limit must be 0-100")
	}
	if cfg.History.MaxEntries < 0 {
		return errors.New("history.max_entries must not be negative")
	}
	if cfg.YouTube.RequestsPerSecond < 0 {
		return errors.New("youtube.requests_per_second must not be negative")
	}
	if !ui.ValidTheme(cfg.UI.Theme) {
		return fmt.Errorf("unknown ui.theme %q (available: %s)", cfg.UI.Theme, strings.Join(ui.ThemeNames(), ", "))
	}
	for _, src := range cfg.Search.Sources {
		switch strings.ToLower(strings.TrimSpace(src)) {
		case "youtube", "ytmusic":
		default:
			return fmt.Errorf("unknown search source: %s", src)
		}
	}
	if _, err := os.Stat(cfg.Player.MPVPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if _, lookErr := execLookPath(cfg.Player.MPVPath); lookErr != nil {
				return fmt.Errorf("mpv not found (%s): %w", cfg.Player.MPVPath, lookErr)
			}
		}
	}
	return nil
}

func (c Config) ResolverTimeout() time.Duration {
	return time.Duration(c.Resolver.TimeoutMS) * time.Millisecond
}

func (c Config) ProgressInterval() time.Duration {
	return time.Duration(c.Player.ProgressIntervalMS) * time.Millisecond
}

func (c Config) SearchCacheTTL() time.Duration {
	return time.Duration(c.Search.CacheMinutes) * time.Minute
}

func (c Config) SearchSuffix() string {
	if c.Search.Suffix == nil {
		return ""
	}
	return *c.Search.Suffix
}

func (c Config) AutoplayEnabled() bool { return c.Autoplay.Enabled == nil || *c.Autoplay.Enabled }

func (c Config) ExcludePlayed() bool {
	return c.Autoplay.ExcludePlayed == nil || *c.Autoplay.ExcludePlayed
}

func (c Config) AutoInstall() bool { return c.YouTube.AutoInstall != nil && *c.YouTube.AutoInstall }

// DeadlineContext returns a context bounded by the resolver timeout, for
// one-shot CLI operations.
func (c Config) DeadlineContext() (context.Context, context.CancelFunc) {
	d := c.ResolverTimeout()
	if d == 0 {
		d = 20 * time.Second
	}
	return context.WithTimeout(context.Background(), d)
}

// execLookPath is a test seam.
var execLookPath = func(file string) (string, error) {
	return exec.LookPath(file)
}

// LookPath resolves an executable the way Validate does.
func LookPath(file string) (string, error) { return execLookPath(file) }
