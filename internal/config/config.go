package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the global ~/.helpchat/config.toml.
type Config struct {
	DefaultProfile string             `toml:"default_profile"`
	Profiles       map[string]Profile `toml:"profiles"`
}

// Profile is the connection setup of one support session.
type Profile struct {
	Endpoint          string `toml:"endpoint"`
	UploadEndpoint    string `toml:"upload_endpoint"`
	SiteID            int64  `toml:"site_id"`
	ChannelID         string `toml:"channel_id"`
	ClientToken       string `toml:"client_token"`
	ClientHash        string `toml:"client_hash"`
	Locale            string `toml:"locale"`
	LocaleFile        string `toml:"locale_file"`
	UploadConcurrency int    `toml:"upload_concurrency"`
	UploadLimitMB     int    `toml:"upload_limit_mb"`
	LogLevel          string `toml:"log_level"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault reads config from path, treating a missing file as empty.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Config{}, nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// LoadEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ProfileName returns name, or the configured default, or "default".
func (c *Config) ProfileName(name string) string {
	switch {
	case name != "":
		return name
	case c.DefaultProfile != "":
		return c.DefaultProfile
	default:
		return "default"
	}
}

// Profile returns the named profile with HELPCHAT_* environment overrides
// applied. An unknown name yields an env-only profile.
func (c *Config) Profile(name string) (Profile, error) {
	p := c.Profiles[c.ProfileName(name)]
	if err := p.applyEnv(os.LookupEnv); err != nil {
		return Profile{}, err
	}
	p.applyDefaults()
	return p, nil
}

func (p *Profile) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"HELPCHAT_ENDPOINT":        &p.Endpoint,
		"HELPCHAT_UPLOAD_ENDPOINT": &p.UploadEndpoint,
		"HELPCHAT_CHANNEL_ID":      &p.ChannelID,
		"HELPCHAT_CLIENT_TOKEN":    &p.ClientToken,
		"HELPCHAT_CLIENT_HASH":     &p.ClientHash,
		"HELPCHAT_LOCALE":          &p.Locale,
		"HELPCHAT_LOG_LEVEL":       &p.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("HELPCHAT_SITE_ID"); ok && v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("HELPCHAT_SITE_ID: %w", err)
		}
		p.SiteID = id
	}
	return nil
}

func (p *Profile) applyDefaults() {
	if p.Locale == "" {
		p.Locale = "en"
	}
	if p.UploadConcurrency <= 0 {
		p.UploadConcurrency = 3
	}
	if p.UploadLimitMB <= 0 {
		p.UploadLimitMB = 10
	}
	if p.LogLevel == "" {
		p.LogLevel = "info"
	}
}

// Validate reports the first missing required setting.
func (p Profile) Validate() error {
	if p.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}
	if p.ClientToken == "" {
		return fmt.Errorf("client_token cannot be empty")
	}
	if p.SiteID < 0 {
		return fmt.Errorf("site_id must be >= 0")
	}
	return nil
}
