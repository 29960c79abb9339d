package config

import "time"

const currentVersion = "1"

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

// ServiceDefaultApplier handles Service configuration defaults.
type ServiceDefaultApplier struct{}

func (ServiceDefaultApplier) Domain() string { return "service" }

func (ServiceDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Service.Listen == "" {
		cfg.Service.Listen = ":8088"
	}
	if cfg.Service.ReadTimeout <= 0 {
		cfg.Service.ReadTimeout = 10 * time.Second
	}
	if cfg.Service.WriteTimeout <= 0 {
		cfg.Service.WriteTimeout = 10 * time.Second
	}
	if cfg.Service.ShutdownTimeout <= 0 {
		cfg.Service.ShutdownTimeout = 5 * time.Second
	}
	return nil
}

// StorageDefaultApplier handles Storage configuration defaults.
type StorageDefaultApplier struct{}

func (StorageDefaultApplier) Domain() string { return "storage" }

func (StorageDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "file://./prefsd-state.json"
	}
	return nil
}

// RestoreDefaultApplier handles Restore configuration defaults.
type RestoreDefaultApplier struct{}

func (RestoreDefaultApplier) Domain() string { return "restore" }

func (RestoreDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Restore.WatchDebounce <= 0 {
		cfg.Restore.WatchDebounce = 500 * time.Millisecond
	}
	return nil
}

// StorageModeDefaultApplier handles StorageMode configuration defaults.
type StorageModeDefaultApplier struct{}

func (StorageModeDefaultApplier) Domain() string { return "storage_mode" }

func (StorageModeDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.StorageMode.SubjectPrefix == "" {
		cfg.StorageMode.SubjectPrefix = "prefsd.storage"
	}
	if cfg.StorageMode.EventBuffer == 0 {
		cfg.StorageMode.EventBuffer = 64
	}
	if cfg.StorageMode.ConnectRetries == 0 {
		cfg.StorageMode.ConnectRetries = 5
	}
	cfg.StorageMode.RetryBackoff = NormalizeRetryBackoff(string(cfg.StorageMode.RetryBackoff))
	if cfg.StorageMode.RetryInitial == 0 {
		cfg.StorageMode.RetryInitial = time.Second
	}
	if cfg.StorageMode.RetryMax == 0 {
		cfg.StorageMode.RetryMax = 30 * time.Second
	}
	return nil
}

// ObservabilityDefaultApplier handles Logging and Metrics defaults.
type ObservabilityDefaultApplier struct{}

func (ObservabilityDefaultApplier) Domain() string { return "observability" }

func (ObservabilityDefaultApplier) ApplyDefaults(cfg *Config) error {
	cfg.Logging.Level = NormalizeLogLevel(string(cfg.Logging.Level))
	cfg.Logging.Format = NormalizeLogFormat(string(cfg.Logging.Format))
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	return nil
}

// HistoryDefaultApplier handles History configuration defaults.
type HistoryDefaultApplier struct{}

func (HistoryDefaultApplier) Domain() string { return "history" }

func (HistoryDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.History.Path == "" {
		cfg.History.Path = "./prefsd-journal.db"
	}
	return nil
}

var defaultAppliers = []DefaultApplier{
	ServiceDefaultApplier{},
	StorageDefaultApplier{},
	RestoreDefaultApplier{},
	StorageModeDefaultApplier{},
	ObservabilityDefaultApplier{},
	HistoryDefaultApplier{},
}

func applyDefaults(cfg *Config) error {
	if cfg.Version == "" {
		cfg.Version = currentVersion
	}
	for _, applier := range defaultAppliers {
		if err := applier.ApplyDefaults(cfg); err != nil {
			return err
		}
	}
	return nil
}
