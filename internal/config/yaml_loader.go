package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

var errNoYAMLConfig = errors.New("no YAML configuration found")

var configSearchPaths = []string{"./configs", "../configs", "../../configs"}

// loadYAMLConfig loads operational configuration from YAML files based on the environment.
// It first loads defaults.yaml, then overlays environment-specific configuration
// (local.yaml, nonprod.yaml, or prod.yaml) when present.
func loadYAMLConfig(env Environment) (*viper.Viper, error) {
	v := newYAMLViper("defaults")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, errNoYAMLConfig
		}
		return nil, fmt.Errorf("failed to read defaults config: %w", err)
	}

	var envConfigFile string
	switch env {
	case NonProd:
		envConfigFile = "nonprod"
	case Prod:
		envConfigFile = "prod"
	default:
		envConfigFile = "local"
	}

	envViper := newYAMLViper(envConfigFile)
	if err := envViper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read %s config: %w", envConfigFile, err)
		}
		return v, nil
	}

	if err := v.MergeConfigMap(envViper.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to merge environment config: %w", err)
	}

	return v, nil
}

func newYAMLViper(name string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName(name)
	for _, path := range configSearchPaths {
		v.AddConfigPath(path)
	}
	return v
}

// applyYAMLOverrides decodes alert thresholds and retry strategies from the
// YAML overlay onto cfg. Missing files leave the built-in defaults in place.
func applyYAMLOverrides(cfg *Config) error {
	v, err := loadYAMLConfig(cfg.Environment.Environment)
	if errors.Is(err, errNoYAMLConfig) {
		return nil
	}
	if err != nil {
		return err
	}

	if v.IsSet("alerts") {
		if err := v.UnmarshalKey("alerts", &cfg.Monitor.Thresholds); err != nil {
			return fmt.Errorf("failed to decode alert thresholds: %w", err)
		}
	}

	if v.IsSet("recovery.strategies") {
		overrides := map[string]RetryStrategyConfig{}
		if err := v.UnmarshalKey("recovery.strategies", &overrides); err != nil {
			return fmt.Errorf("failed to decode retry strategies: %w", err)
		}
		if cfg.Recovery.Strategies == nil {
			cfg.Recovery.Strategies = map[string]RetryStrategyConfig{}
		}
		for kind, override := range overrides {
			cfg.Recovery.Strategies[kind] = mergeStrategy(cfg.Recovery.Strategies[kind], override)
		}
	}

	return nil
}

func mergeStrategy(base, override RetryStrategyConfig) RetryStrategyConfig {
	if override.MaxAttempts > 0 {
		base.MaxAttempts = override.MaxAttempts
	}
	if override.InitialBackoff > 0 {
		base.InitialBackoff = override.InitialBackoff
	}
	if override.MaxBackoff > 0 {
		base.MaxBackoff = override.MaxBackoff
	}
	if override.Multiplier > 0 {
		base.Multiplier = override.Multiplier
	}
	return base
}
