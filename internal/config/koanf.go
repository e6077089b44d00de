// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where the config file is searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/recdeck/config.yaml",
	"/etc/recdeck/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8742,
			Timeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "/data/recdeck",
		},
		Images: ImagesConfig{
			Enabled:      true,
			Dir:          "/data/recdeck/images",
			TTL:          24 * time.Hour,
			FetchTimeout: 10 * time.Second,
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			EmbeddedHost:   "127.0.0.1",
			EmbeddedPort:   4222,
			IntakeRate:     200,
			IntakeBurst:    500,
			RequestTimeout: 2 * time.Second,
		},
		Manager: ManagerConfig{
			MaxRecsPerSource: 5,
			CoalesceWindow:   100 * time.Millisecond,
			CardMaxWidth:     600,
			CardMaxHeight:    400,
		},
		Ranker: RankerConfig{
			SpreadFactor:        1.0,
			GroupStarterScore:   0.001,
			InstallBonus:        0.3,
			OutOfBoxBonus:       0.005,
			BonusFadePeriodDays: 0.5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are the fields that may arrive as comma-separated
// strings from environment variables.
var sliceConfigPaths = []string{
	"ranker.seed_default",
	"ranker.seed_partner",
	"ranker.usage_excluded",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to config paths.
// Unmapped variables are ignored so unrelated environment noise cannot
// leak into the configuration.
func envTransformFunc(key string) string {
	envMappings := map[string]string{
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",

		"data_path": "database.path",

		"images_enabled":       "images.enabled",
		"images_dir":           "images.dir",
		"images_ttl":           "images.ttl",
		"images_fetch_timeout": "images.fetch_timeout",

		"nats_url":             "nats.url",
		"nats_embedded":        "nats.embedded_server",
		"nats_embedded_host":   "nats.embedded_host",
		"nats_embedded_port":   "nats.embedded_port",
		"nats_intake_rate":     "nats.intake_rate",
		"nats_intake_burst":    "nats.intake_burst",
		"nats_request_timeout": "nats.request_timeout",

		"max_recs_per_source": "manager.max_recs_per_source",
		"coalesce_window":     "manager.coalesce_window",
		"card_max_width":      "manager.card_max_width",
		"card_max_height":     "manager.card_max_height",

		"rank_spread_factor":          "ranker.spread_factor",
		"rank_group_starter_score":    "ranker.group_starter_score",
		"rank_install_bonus":          "ranker.install_bonus",
		"rank_out_of_box_bonus":       "ranker.out_of_box_bonus",
		"rank_bonus_fade_period_days": "ranker.bonus_fade_period_days",
		"rank_seed_default":           "ranker.seed_default",
		"rank_seed_partner":           "ranker.seed_partner",
		"rank_usage_excluded":         "ranker.usage_excluded",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
