package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/value"
)

// Config represents the daemon configuration.
type Config struct {
	Version     string            `yaml:"version"`
	Service     ServiceConfig     `yaml:"service"`
	Storage     StorageConfig     `yaml:"storage"`
	Restore     RestoreConfig     `yaml:"restore"`
	StorageMode StorageModeConfig `yaml:"storage_mode"`
	Erase       EraseConfig       `yaml:"erase"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	History     HistoryConfig     `yaml:"history"`
	// Defaults are the values returned for keys that were never set.
	Defaults map[string]any `yaml:"defaults,omitempty"`
}

// ServiceConfig represents the HTTP transport settings.
type ServiceConfig struct {
	Listen          string        `yaml:"listen"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// TrustedOrigins may select wallpapers outside the wallpaper directory.
	TrustedOrigins []string `yaml:"trusted_origins,omitempty"`
}

// StorageConfig selects the persistence backend by DSN
// (memory://, file://path.json, sqlite://path.db, postgres://...).
type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

// RestoreConfig represents the consistency/restore engine settings.
type RestoreConfig struct {
	DefaultsFile  string        `yaml:"defaults_file"`
	RingtoneDir   string        `yaml:"ringtone_dir"`
	WallpaperDir  string        `yaml:"wallpaper_dir"`
	MediaDir      string        `yaml:"media_dir"`
	BuildInfoFile string        `yaml:"build_info_file"`
	SweepInterval time.Duration `yaml:"sweep_interval"` // 0 disables the periodic sweep
	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// StorageModeConfig represents the hardware event intake.
type StorageModeConfig struct {
	NATSURL       string `yaml:"nats_url,omitempty"` // empty disables the NATS source
	SubjectPrefix string `yaml:"subject_prefix"`
	EventBuffer   int    `yaml:"event_buffer"`

	// ConnectRetries bounds NATS connection attempts after the first; negative disables.
	ConnectRetries int              `yaml:"connect_retries"`
	RetryBackoff   RetryBackoffMode `yaml:"retry_backoff"`
	RetryInitial   time.Duration    `yaml:"retry_initial"`
	RetryMax       time.Duration    `yaml:"retry_max"`
}

// EraseConfig represents the partition erase service.
type EraseConfig struct {
	Enabled bool   `yaml:"enabled"`
	FlagDir string `yaml:"flag_dir"`
}

// LoggingConfig represents log output settings.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// MetricsConfig represents the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// HistoryConfig represents the change journal.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // sqlite file, or ":memory:"
	// MaxRecords bounds the journal; 0 keeps everything.
	MaxRecords int `yaml:"max_records"`
}

// Load loads configuration from the specified file.
func Load(configPath string) (*Config, error) {
	if err := loadEnvFile(); err != nil {
		fmt.Fprintf(os.Stderr, "Note: .env file not found or couldn't be loaded: %v\n", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, errors.ConfigError("configuration file not found").WithContext("path", configPath).Build()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to read config file").Fatal().Build()
	}
	return Parse(data)
}

// Parse decodes YAML content after expanding ${VAR} references, then applies defaults
// and validates.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to unmarshal config").Fatal().Build()
	}
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultValues converts the configured defaults into setting values.
func (c *Config) DefaultValues() (map[string]value.Value, error) {
	out := make(map[string]value.Value, len(c.Defaults))
	for key, raw := range c.Defaults {
		v, err := value.FromAny(raw)
		if err != nil {
			return nil, errors.ConfigError("invalid default value").WithCause(err).WithContext("key", key).Build()
		}
		out[key] = v
	}
	return out, nil
}

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return errors.ConfigError("configuration file already exists (use --force to overwrite)").
			WithContext("path", configPath).Build()
	}

	example := Config{
		Version: currentVersion,
		Service: ServiceConfig{
			Listen:          ":8088",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Storage: StorageConfig{DSN: "sqlite://./prefsd.db"},
		Restore: RestoreConfig{
			DefaultsFile:  "/etc/prefsd/defaults.json",
			RingtoneDir:   "/media/internal/ringtones",
			WallpaperDir:  "/media/internal/wallpapers",
			MediaDir:      "/media/internal",
			BuildInfoFile: "/etc/build-info",
			SweepInterval: 15 * time.Minute,
			Watch:         true,
			WatchDebounce: 500 * time.Millisecond,
		},
		StorageMode: StorageModeConfig{
			NATSURL:        "${NATS_URL}",
			SubjectPrefix:  "prefsd.storage",
			EventBuffer:    64,
			ConnectRetries: 5,
			RetryBackoff:   RetryBackoffExponential,
			RetryInitial:   time.Second,
			RetryMax:       30 * time.Second,
		},
		Erase:   EraseConfig{Enabled: false, FlagDir: "/var/lib/prefsd/erase"},
		Logging: LoggingConfig{Level: LogLevelInfo, Format: LogFormatText},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		History: HistoryConfig{Enabled: true, Path: "./prefsd-journal.db", MaxRecords: 10000},
		Defaults: map[string]any{
			"volume": 60,
			"locale": "en_US",
		},
	}

	data, err := yaml.Marshal(&example)
	if err != nil {
		return errors.WrapError(err, errors.CategoryInternal, "failed to marshal config").Build()
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "failed to write config file").Build()
	}
	return nil
}
