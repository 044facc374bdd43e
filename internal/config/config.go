package config

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config holds all the settings for the worker.
type Config struct {
	Endpoint            string  `mapstructure:"endpoint"`
	APIKey              string  `mapstructure:"api_key"`
	LegacyAPIKey        string  `mapstructure:"legacy_api_key"`
	Enabled             bool    `mapstructure:"enabled"`
	WorkerID            string  `mapstructure:"worker_id"`
	ModelsDir           string  `mapstructure:"models_dir"`
	CacheFile           string  `mapstructure:"cache_file"`
	LogFile             string  `mapstructure:"log_file"`
	MinFreeDiskGB       float64 `mapstructure:"min_free_disk_gb"`
	MaxDownloadAttempts int     `mapstructure:"max_download_attempts"`
	DownloadBackoffBase float64 `mapstructure:"download_backoff_base"`
	SavePreviewSidecars bool    `mapstructure:"save_preview_sidecars"`
}

// Key returns the credential to authenticate with. The legacy key only
// applies when no primary key is configured.
func (c *Config) Key() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return c.LegacyAPIKey
}

// HasCredentials reports whether any usable credential is present.
func (c *Config) HasCredentials() bool {
	return c.APIKey != "" || c.LegacyAPIKey != ""
}

// CredentialsChanged reports whether a config update rotated anything that
// authenticates the link. The connection must be torn down when it does.
func CredentialsChanged(old, updated *Config) bool {
	return old.Endpoint != updated.Endpoint ||
		old.APIKey != updated.APIKey ||
		old.LegacyAPIKey != updated.LegacyAPIKey
}

// Load initializes Viper and merges all config sources.
func Load(path string) (*Config, error) {
	// 1. Set Defaults
	viper.SetDefault("enabled", true)
	viper.SetDefault("models_dir", "models")
	viper.SetDefault("cache_file", "hashcache.json")
	viper.SetDefault("min_free_disk_gb", 1.0)
	viper.SetDefault("max_download_attempts", 3)
	viper.SetDefault("download_backoff_base", 2.0)
	viper.SetDefault("save_preview_sidecars", true)

	// 2. Read from File
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		// It's okay if the config file is missing; we might use Env vars.
	}

	viper.SetEnvPrefix("MHW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.WorkerID == "" {
		cfg.WorkerID = uuid.NewString()
	}
	return &cfg, nil
}

// Store is the shared read-mostly view of the current configuration.
// The runtime may apply updated settings while the loops are live, so
// every reader snapshots through Get rather than holding a *Config.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
}

func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg}
}

func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Set swaps in a new config and reports whether credentials rotated.
func (s *Store) Set(cfg *Config) (rotated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rotated = CredentialsChanged(s.cfg, cfg)
	s.cfg = cfg
	return rotated
}
