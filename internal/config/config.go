package config

import (
	"fmt"
	"path"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Storage    StorageConfig    `mapstructure:"storage"`
	TMDB       TMDBConfig       `mapstructure:"tmdb"`
	MoviePilot MoviePilotConfig `mapstructure:"moviepilot"`
	Features   FeaturesConfig   `mapstructure:"features"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Type   string       `mapstructure:"type"` // "rclone", "alist", "webdav", "local"
	Rclone RcloneConfig `mapstructure:"rclone"`
	Alist  AlistConfig  `mapstructure:"alist"`
	WebDAV WebDAVConfig `mapstructure:"webdav"`
	Local  LocalConfig  `mapstructure:"local"`
}

// RcloneConfig holds rclone backend configuration.
type RcloneConfig struct {
	Remote string `mapstructure:"remote"` // e.g. "gdrive:media/tv"
}

// AlistConfig holds Alist backend configuration.
type AlistConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Token    string `mapstructure:"token"`
	Path     string `mapstructure:"path"`
}

// WebDAVConfig holds WebDAV backend configuration.
type WebDAVConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Path     string `mapstructure:"path"`
}

// LocalConfig holds local filesystem backend configuration.
type LocalConfig struct {
	Path string `mapstructure:"path"`
}

// TMDBConfig holds catalog client configuration.
type TMDBConfig struct {
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	Language string `mapstructure:"language"`
	Timeout  int    `mapstructure:"timeout"` // seconds
}

// MoviePilotConfig holds automation dispatcher configuration.
type MoviePilotConfig struct {
	URL                string `mapstructure:"url"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	AutoSubscribe      bool   `mapstructure:"auto_subscribe"`
	AutoDownload       bool   `mapstructure:"auto_download"`
	SubscribeThreshold int    `mapstructure:"subscribe_threshold"`
	Timeout            int    `mapstructure:"timeout"` // seconds
}

// FeaturesConfig holds run behavior tuning.
type FeaturesConfig struct {
	MaxShows        int      `mapstructure:"max_shows"`        // 0 = unlimited
	Concurrency     int      `mapstructure:"concurrency"`      // parallel show resolutions
	VideoExtensions []string `mapstructure:"video_extensions"` // empty = built-in defaults
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // "console" or "json"
	Path       string `mapstructure:"path"`   // directory for log files, empty = console only
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// FilePaths are the per-library output locations, derived from the
// configured storage root so libraries on different backends never
// share a cache or clobber each other's reports.
type FilePaths struct {
	Cache   string
	Report  string
	Skipped string
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.showgap")
	}

	v.SetEnvPrefix("SHOWGAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults + env vars
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// The config is returned alongside a validation error so callers
	// with command-line overrides can repair and re-validate it.
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.type", "local")

	v.SetDefault("tmdb.base_url", "https://api.themoviedb.org/3")
	v.SetDefault("tmdb.language", "en-US")
	v.SetDefault("tmdb.timeout", 30)

	v.SetDefault("moviepilot.auto_subscribe", true)
	v.SetDefault("moviepilot.auto_download", false)
	v.SetDefault("moviepilot.subscribe_threshold", 0)
	v.SetDefault("moviepilot.timeout", 30)

	v.SetDefault("features.max_shows", 0)
	v.SetDefault("features.concurrency", 4)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Validate checks that the selected storage backend is fully configured.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "rclone":
		if c.Storage.Rclone.Remote == "" {
			return fmt.Errorf("storage.rclone.remote is required for rclone storage")
		}
	case "alist":
		if c.Storage.Alist.URL == "" {
			return fmt.Errorf("storage.alist.url is required for alist storage")
		}
		if c.Storage.Alist.Token == "" && (c.Storage.Alist.Username == "" || c.Storage.Alist.Password == "") {
			return fmt.Errorf("alist storage needs either a token or username and password")
		}
	case "webdav":
		if c.Storage.WebDAV.URL == "" {
			return fmt.Errorf("storage.webdav.url is required for webdav storage")
		}
	case "local":
		if c.Storage.Local.Path == "" {
			return fmt.Errorf("storage.local.path is required for local storage")
		}
	default:
		return fmt.Errorf("unsupported storage type %q", c.Storage.Type)
	}
	return nil
}

// LibraryName returns the last path component of the configured storage
// root, used to key per-library output files.
func (c *Config) LibraryName() string {
	var root string
	switch c.Storage.Type {
	case "rclone":
		root = c.Storage.Rclone.Remote
	case "alist":
		root = c.Storage.Alist.Path
	case "webdav":
		root = c.Storage.WebDAV.Path
	case "local":
		root = c.Storage.Local.Path
	}

	base := path.Base(strings.ReplaceAll(strings.TrimRight(root, "/"), "\\", "/"))
	if base == "" || base == "." || base == "/" {
		return c.Storage.Type + "_media"
	}
	// rclone remotes look like "gdrive:media"; strip the remote name
	if i := strings.LastIndex(base, ":"); i >= 0 {
		base = base[i+1:]
	}
	if base == "" {
		return c.Storage.Type + "_media"
	}
	return base
}

// Paths returns the cache, report and skipped-log locations for this library.
func (c *Config) Paths() FilePaths {
	name := c.LibraryName()
	return FilePaths{
		Cache:   name + "_cache.json",
		Report:  name + "_missing_report.txt",
		Skipped: name + "_skipped_files.log",
	}
}
