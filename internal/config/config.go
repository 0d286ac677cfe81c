package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/TheUltimateAbsol/technews/internal/forest"
	"github.com/TheUltimateAbsol/technews/internal/models"
)

// ErrNoSources is returned when every source is disabled
var ErrNoSources = errors.New("no scraper source enabled")

// Config holds the application configuration
type Config struct {
	Scraper ScraperConfig `mapstructure:"scraper"`
	Forest  ForestConfig  `mapstructure:"forest"`
	Storage StorageConfig `mapstructure:"storage"`
	Server  ServerConfig  `mapstructure:"server"`
	Report  ReportConfig  `mapstructure:"report"`
	Log     LogConfig     `mapstructure:"log"`
}

// ScraperConfig holds scraper-related configuration
type ScraperConfig struct {
	PollInterval string        `mapstructure:"poll_interval"`
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      string        `mapstructure:"timeout"`
	Sources      SourcesConfig `mapstructure:"sources"`
}

// SourcesConfig lists the forums to pull threads from
type SourcesConfig struct {
	Scored ScoredSourceConfig `mapstructure:"scored"`
	Reddit RedditSourceConfig `mapstructure:"reddit"`
}

// ScoredSourceConfig configures a communities.win style JSON API
type ScoredSourceConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	BaseURL      string        `mapstructure:"base_url"`
	Community    string        `mapstructure:"community"`
	PostLimit    int           `mapstructure:"post_limit"`
	RequestDelay string        `mapstructure:"request_delay"`
	RootParent   string        `mapstructure:"root_parent"`
	Forest       *ForestConfig `mapstructure:"forest"`
}

// RedditSourceConfig configures the old.reddit HTML scraper
type RedditSourceConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	BaseURL      string        `mapstructure:"base_url"`
	Subreddits   []string      `mapstructure:"subreddits"`
	Listing      string        `mapstructure:"listing"`
	PostLimit    int           `mapstructure:"post_limit"`
	MaxAge       string        `mapstructure:"max_age"`
	RequestDelay string        `mapstructure:"request_delay"`
	Forest       *ForestConfig `mapstructure:"forest"`
}

// ForestConfig bounds the comment forest kept per post
type ForestConfig struct {
	RootLimit   int    `mapstructure:"root_limit"`
	BranchLimit int    `mapstructure:"branch_limit"`
	MaxDepth    int    `mapstructure:"max_depth"`
	Fields      string `mapstructure:"fields"`
}

// StorageConfig holds storage-related configuration
type StorageConfig struct {
	Type string `mapstructure:"type"`
	Path string `mapstructure:"path"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port       string `mapstructure:"port"`
	Host       string `mapstructure:"host"`
	RequestLog bool   `mapstructure:"request_log"`
}

// ReportConfig holds report file settings
type ReportConfig struct {
	Path   string `mapstructure:"path"`
	Format string `mapstructure:"format"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Loader reads configuration from a file and the environment
type Loader struct {
	v     *viper.Viper
	found bool
}

// NewLoader creates a loader. An empty path searches for config.yaml in the
// working directory and ./config.
func NewLoader(path string) *Loader {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	// Environment variable bindings
	v.SetEnvPrefix("technews")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("log.level", "TECHNEWS_LOG_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("storage.path", "TECHNEWS_STORAGE_PATH")
	_ = v.BindEnv("server.port", "TECHNEWS_SERVER_PORT", "PORT")

	return &Loader{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scraper.poll_interval", "5m")
	v.SetDefault("scraper.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	v.SetDefault("scraper.timeout", "30s")

	v.SetDefault("scraper.sources.scored.enabled", true)
	v.SetDefault("scraper.sources.scored.base_url", "https://patriots.win")
	v.SetDefault("scraper.sources.scored.community", "thedonald")
	v.SetDefault("scraper.sources.scored.post_limit", 20)
	v.SetDefault("scraper.sources.scored.request_delay", "1s")
	v.SetDefault("scraper.sources.scored.root_parent", "0")

	v.SetDefault("scraper.sources.reddit.enabled", false)
	v.SetDefault("scraper.sources.reddit.base_url", "https://old.reddit.com")
	v.SetDefault("scraper.sources.reddit.subreddits", []string{
		"hardware", "nintendoswitch2", "gamingleaksandrumours", "intel", "amd", "rebubble", "singularity",
	})
	v.SetDefault("scraper.sources.reddit.listing", "hot")
	v.SetDefault("scraper.sources.reddit.post_limit", 10)
	v.SetDefault("scraper.sources.reddit.max_age", "24h")
	v.SetDefault("scraper.sources.reddit.request_delay", "2s")

	v.SetDefault("forest.root_limit", 10)
	v.SetDefault("forest.branch_limit", 4)
	v.SetDefault("forest.max_depth", 4)
	v.SetDefault("forest.fields", "full")

	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.path", "./data/posts.db")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.request_log", true)
	v.SetDefault("report.path", "combined.json")
	v.SetDefault("log.level", "info")
}

// Load reads and validates the configuration. A missing config file is not
// an error; defaults and environment variables apply.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		l.found = true
	}
	return l.decode()
}

// ConfigFileUsed reports the file the configuration was read from, if any
func (l *Loader) ConfigFileUsed() string {
	if !l.found {
		return ""
	}
	return l.v.ConfigFileUsed()
}

func (l *Loader) decode() (*Config, error) {
	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Watch reloads the configuration whenever the config file changes and
// hands the result (or the validation error) to onChange. It does nothing
// when no config file was found.
func (l *Loader) Watch(onChange func(*Config, error)) {
	if !l.found {
		return
	}
	l.v.OnConfigChange(func(in fsnotify.Event) {
		if !in.Has(fsnotify.Write) && !in.Has(fsnotify.Create) {
			return
		}
		onChange(l.decode())
	})
	l.v.WatchConfig()
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Validate checks values that would otherwise fail later at runtime
func (c *Config) Validate() error {
	if d, err := c.PollInterval(); err != nil {
		return err
	} else if d == 0 {
		return fmt.Errorf("scraper.poll_interval must be positive")
	}
	if _, err := parseDuration("scraper.timeout", c.Scraper.Timeout); err != nil {
		return err
	}
	if _, err := c.Forest.Build(); err != nil {
		return fmt.Errorf("forest: %w", err)
	}

	scored, reddit := c.Scraper.Sources.Scored, c.Scraper.Sources.Reddit
	if !scored.Enabled && !reddit.Enabled {
		return ErrNoSources
	}
	if scored.Enabled {
		if scored.BaseURL == "" {
			return fmt.Errorf("scraper.sources.scored.base_url is required")
		}
		if _, err := parseDuration("scraper.sources.scored.request_delay", scored.RequestDelay); err != nil {
			return err
		}
		if scored.Forest != nil {
			if _, err := scored.Forest.Build(); err != nil {
				return fmt.Errorf("scraper.sources.scored.forest: %w", err)
			}
		}
	}
	if reddit.Enabled {
		if reddit.BaseURL == "" {
			return fmt.Errorf("scraper.sources.reddit.base_url is required")
		}
		switch reddit.Listing {
		case "hot", "new", "top", "rising":
		default:
			return fmt.Errorf("unsupported reddit listing: %q", reddit.Listing)
		}
		if _, err := parseDuration("scraper.sources.reddit.request_delay", reddit.RequestDelay); err != nil {
			return err
		}
		if _, err := parseDuration("scraper.sources.reddit.max_age", reddit.MaxAge); err != nil {
			return err
		}
		if reddit.Forest != nil {
			if _, err := reddit.Forest.Build(); err != nil {
				return fmt.Errorf("scraper.sources.reddit.forest: %w", err)
			}
		}
	}

	switch c.Storage.Type {
	case "sqlite":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	return nil
}

// PollInterval parses the scraper poll interval
func (c *Config) PollInterval() (time.Duration, error) {
	return parseDuration("scraper.poll_interval", c.Scraper.PollInterval)
}

// Build converts the forest section into builder limits. The sentinel is
// left empty; it belongs to the source a thread came from.
func (f ForestConfig) Build() (forest.Config, error) {
	if f.RootLimit < 0 || f.BranchLimit < 0 {
		return forest.Config{}, fmt.Errorf("limits must not be negative (root_limit=%d, branch_limit=%d)", f.RootLimit, f.BranchLimit)
	}
	if f.MaxDepth < 1 {
		return forest.Config{}, fmt.Errorf("max_depth must be at least 1, got %d", f.MaxDepth)
	}
	fields, err := forest.ParseFieldPolicy(f.Fields)
	if err != nil {
		return forest.Config{}, err
	}
	return forest.Config{
		RootLimit:   f.RootLimit,
		BranchLimit: f.BranchLimit,
		MaxDepth:    f.MaxDepth,
		Fields:      fields,
	}, nil
}

// RootParentID returns the parent id the scored API uses for top-level comments
func (s ScoredSourceConfig) RootParentID() models.CommentID {
	return models.CommentID(s.RootParent)
}

// Duration parses a duration that Validate has already checked
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", key, value)
	}
	return d, nil
}
