// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8742 {
		t.Errorf("Server.Port = %d, want 8742", cfg.Server.Port)
	}
	if cfg.Manager.CoalesceWindow != 100*time.Millisecond {
		t.Errorf("Manager.CoalesceWindow = %v, want 100ms", cfg.Manager.CoalesceWindow)
	}
	if cfg.Ranker.SpreadFactor != 1.0 {
		t.Errorf("Ranker.SpreadFactor = %v, want 1.0", cfg.Ranker.SpreadFactor)
	}
	if !cfg.NATS.EmbeddedServer {
		t.Error("NATS.EmbeddedServer should default to true")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("MAX_RECS_PER_SOURCE", "3")
	t.Setenv("RANK_SEED_DEFAULT", "tv.store, tv.movies ,tv.music")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Manager.MaxRecsPerSource != 3 {
		t.Errorf("MaxRecsPerSource = %d, want 3", cfg.Manager.MaxRecsPerSource)
	}
	want := []string{"tv.store", "tv.movies", "tv.music"}
	if len(cfg.Ranker.SeedDefault) != len(want) {
		t.Fatalf("SeedDefault = %v, want %v", cfg.Ranker.SeedDefault, want)
	}
	for i, s := range want {
		if cfg.Ranker.SeedDefault[i] != s {
			t.Errorf("SeedDefault[%d] = %q, want %q", i, cfg.Ranker.SeedDefault[i], s)
		}
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("server:\n  port: 8080\nmanager:\n  max_recs_per_source: 7\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080 from file", cfg.Server.Port)
	}
	if cfg.Manager.MaxRecsPerSource != 7 {
		t.Errorf("MaxRecsPerSource = %d, want 7 from file", cfg.Manager.MaxRecsPerSource)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config { return defaultConfig() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(*Config) {}, false},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, true},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, true},
		{"empty database path", func(c *Config) { c.Database.Path = "" }, true},
		{"images enabled without dir", func(c *Config) { c.Images.Dir = "" }, true},
		{"images disabled without dir", func(c *Config) {
			c.Images.Enabled = false
			c.Images.Dir = ""
		}, false},
		{"external nats without url", func(c *Config) {
			c.NATS.EmbeddedServer = false
			c.NATS.URL = ""
		}, true},
		{"negative cap", func(c *Config) { c.Manager.MaxRecsPerSource = -1 }, true},
		{"zero coalesce window", func(c *Config) { c.Manager.CoalesceWindow = 0 }, true},
		{"negative spread", func(c *Config) { c.Ranker.SpreadFactor = -0.5 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
