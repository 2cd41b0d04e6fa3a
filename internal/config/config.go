// Package config handles configuration loading for the FIST server.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ExampleFolder is the folder literal that resolves to Session.ExampleFolder.
const ExampleFolder = "EXAMPLE"

// Config represents the server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Cache     CacheConfig     `yaml:"cache"`
	Render    RenderConfig    `yaml:"render"`
	Autofetch AutofetchConfig `yaml:"autofetch"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// SessionConfig selects the instrument and the folder browsed at startup.
type SessionConfig struct {
	Instrument    string `yaml:"instrument"`
	Folder        string `yaml:"folder"`
	ExampleFolder string `yaml:"example_folder"`
	Filetype      string `yaml:"filetype"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	FrameSizeMB     int `yaml:"frame_size_mb"`
	FrameTTLMinutes int `yaml:"frame_ttl_minutes"`
	HeaderEntries   int `yaml:"header_entries"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	DefaultPalette string `yaml:"default_palette"`
}

// AutofetchConfig controls the periodic rescan-and-jump ticker.
type AutofetchConfig struct {
	IntervalMS int  `yaml:"interval_ms"`
	Enabled    bool `yaml:"enabled"`
}

// Interval returns the tick period.
func (a AutofetchConfig) Interval() time.Duration {
	return time.Duration(a.IntervalMS) * time.Millisecond
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	cfg := Config{Log: LogConfig{Console: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        5006,
			CORSOrigins: []string{"http://localhost:5006", "http://localhost:5173"},
			Title:       "FIST",
		},
		Session: SessionConfig{
			Instrument:    "KPF",
			ExampleFolder: "./example",
		},
		Cache: CacheConfig{
			FrameSizeMB:     64,
			FrameTTLMinutes: 10,
			HeaderEntries:   256,
		},
		Render: RenderConfig{
			DefaultPalette: "viridis",
		},
		Autofetch: AutofetchConfig{
			IntervalMS: 2000,
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if cfg.Session.Instrument == "" {
		cfg.Session.Instrument = defaults.Session.Instrument
	}
	if cfg.Session.ExampleFolder == "" {
		cfg.Session.ExampleFolder = defaults.Session.ExampleFolder
	}
	if cfg.Cache.FrameSizeMB == 0 {
		cfg.Cache.FrameSizeMB = defaults.Cache.FrameSizeMB
	}
	if cfg.Cache.FrameTTLMinutes == 0 {
		cfg.Cache.FrameTTLMinutes = defaults.Cache.FrameTTLMinutes
	}
	if cfg.Cache.HeaderEntries == 0 {
		cfg.Cache.HeaderEntries = defaults.Cache.HeaderEntries
	}
	if cfg.Render.DefaultPalette == "" {
		cfg.Render.DefaultPalette = defaults.Render.DefaultPalette
	}
	if cfg.Autofetch.IntervalMS <= 0 {
		cfg.Autofetch.IntervalMS = defaults.Autofetch.IntervalMS
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
}

// ResolveFolder maps the EXAMPLE literal (any case) to the bundled example folder.
func (c *Config) ResolveFolder(folder string) string {
	if strings.EqualFold(strings.TrimSpace(folder), ExampleFolder) {
		return c.Session.ExampleFolder
	}
	return folder
}
