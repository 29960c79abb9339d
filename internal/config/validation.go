package config

import (
	"strings"

	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
)

// ValidateConfig validates the complete configuration structure.
func ValidateConfig(cfg *Config) error {
	return newConfigurationValidator(cfg).validate()
}

// configurationValidator coordinates validation across configuration domains.
type configurationValidator struct {
	config *Config
}

func newConfigurationValidator(config *Config) *configurationValidator {
	return &configurationValidator{config: config}
}

func (cv *configurationValidator) validate() error {
	for _, step := range []func() error{
		cv.validateVersion,
		cv.validateService,
		cv.validateRestore,
		cv.validateStorageMode,
		cv.validateErase,
		cv.validateHistory,
		cv.validateDefaults,
	} {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func (cv *configurationValidator) validateVersion() error {
	if cv.config.Version != currentVersion {
		return errors.ConfigError("unsupported configuration version").
			WithContext("version", cv.config.Version).Build()
	}
	return nil
}

func (cv *configurationValidator) validateService() error {
	if !strings.Contains(cv.config.Service.Listen, ":") {
		return errors.ConfigError("service.listen must be host:port").
			WithContext("listen", cv.config.Service.Listen).Build()
	}
	return nil
}

func (cv *configurationValidator) validateRestore() error {
	r := cv.config.Restore
	if r.SweepInterval < 0 {
		return errors.ConfigError("restore.sweep_interval must not be negative").Build()
	}
	if r.Watch && r.DefaultsFile == "" {
		return errors.ConfigError("restore.watch requires restore.defaults_file").Build()
	}
	return nil
}

func (cv *configurationValidator) validateStorageMode() error {
	if cv.config.StorageMode.EventBuffer < 1 {
		return errors.ConfigError("storage_mode.event_buffer must be positive").Build()
	}
	if cv.config.StorageMode.RetryInitial < 0 || cv.config.StorageMode.RetryMax < 0 {
		return errors.ConfigError("storage_mode retry delays cannot be negative").Build()
	}
	return nil
}

func (cv *configurationValidator) validateHistory() error {
	if cv.config.History.MaxRecords < 0 {
		return errors.ConfigError("history.max_records cannot be negative").Build()
	}
	return nil
}

func (cv *configurationValidator) validateErase() error {
	if cv.config.Erase.Enabled && cv.config.Erase.FlagDir == "" {
		return errors.ConfigError("erase.flag_dir is required when erase is enabled").Build()
	}
	return nil
}

func (cv *configurationValidator) validateDefaults() error {
	_, err := cv.config.DefaultValues()
	return err
}
