// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

// Package config provides layered configuration loading: built-in
// defaults, an optional YAML file, then environment variables, each
// layer overriding the previous one.
package config

import (
	"fmt"
	"time"
)

// Config holds all service configuration. It is immutable after Load and
// safe for concurrent reads.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Images   ImagesConfig   `koanf:"images"`
	NATS     NATSConfig     `koanf:"nats"`
	Manager  ManagerConfig  `koanf:"manager"`
	Ranker   RankerConfig   `koanf:"ranker"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// DatabaseConfig holds the engagement store settings.
type DatabaseConfig struct {
	// Path is the data directory; the SQLite file and the out-of-box
	// marker live under it.
	Path string `koanf:"path"`
}

// ImagesConfig holds the card image cache settings.
type ImagesConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Dir          string        `koanf:"dir"`
	TTL          time.Duration `koanf:"ttl"`
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
}

// NATSConfig holds the notification bus settings.
type NATSConfig struct {
	URL            string        `koanf:"url"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	EmbeddedHost   string        `koanf:"embedded_host"`
	EmbeddedPort   int           `koanf:"embedded_port"`
	IntakeRate     int           `koanf:"intake_rate"`
	IntakeBurst    int           `koanf:"intake_burst"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// ManagerConfig holds the delivery pipeline settings.
type ManagerConfig struct {
	MaxRecsPerSource int           `koanf:"max_recs_per_source"`
	CoalesceWindow   time.Duration `koanf:"coalesce_window"`
	CardMaxWidth     int           `koanf:"card_max_width"`
	CardMaxHeight    int           `koanf:"card_max_height"`
}

// RankerConfig holds the scoring parameters and seed lists.
type RankerConfig struct {
	SpreadFactor        float64 `koanf:"spread_factor"`
	GroupStarterScore   float64 `koanf:"group_starter_score"`
	InstallBonus        float64 `koanf:"install_bonus"`
	OutOfBoxBonus       float64 `koanf:"out_of_box_bonus"`
	BonusFadePeriodDays float64 `koanf:"bonus_fade_period_days"`

	// SeedDefault and SeedPartner order sources for the one-time
	// out-of-box ranking, best first.
	SeedDefault []string `koanf:"seed_default"`
	SeedPartner []string `koanf:"seed_partner"`

	// UsageExcluded lists source keys that never contribute usage scores
	// (e.g. system settings).
	UsageExcluded []string `koanf:"usage_excluded"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Images.Enabled && c.Images.Dir == "" {
		return fmt.Errorf("images.dir is required when the image cache is enabled")
	}
	if !c.NATS.EmbeddedServer && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats.embedded_server is false")
	}
	if c.Manager.MaxRecsPerSource < 0 {
		return fmt.Errorf("manager.max_recs_per_source must not be negative")
	}
	if c.Manager.CoalesceWindow <= 0 {
		return fmt.Errorf("manager.coalesce_window must be positive")
	}
	for name, v := range map[string]float64{
		"ranker.spread_factor":          c.Ranker.SpreadFactor,
		"ranker.group_starter_score":    c.Ranker.GroupStarterScore,
		"ranker.install_bonus":          c.Ranker.InstallBonus,
		"ranker.out_of_box_bonus":       c.Ranker.OutOfBoxBonus,
		"ranker.bonus_fade_period_days": c.Ranker.BonusFadePeriodDays,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %v", name, v)
		}
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of trace, debug, info, warn, error; got %q", c.Logging.Level)
	}
	return nil
}
