// Package config loads and validates the panel client configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultFile is the conventional config file name.
const DefaultFile = "test_panel_config.json"

// Defaults applied when the file omits a key.
const (
	DefaultCheckInterval = 600
	DefaultTimeout       = 30
)

// Endpoint suffixes users paste into api_url by accident; normalization
// strips them back to the base URL.
var endpointSuffixes = []string{
	"/api/submit.php",
	"/api/retests.php",
	"/api/tests.php",
	"/api/user.php",
	"/api/logs.php",
	"/api/notifications.php",
}

// Config is the client configuration. Intervals and timeouts are seconds.
type Config struct {
	// Base URL of the panel API, without the /api suffix
	APIURL string `json:"api_url"`
	// Panel-issued key, always sk_ prefixed
	APIKey string `json:"api_key"`
	// Seconds between background retest checks
	CheckInterval int `json:"check_interval"`
	// Whether the daemon polls for retests at all
	AutoCheckRetests bool `json:"auto_check_retests"`
	// Per-request timeout in seconds
	Timeout int `json:"timeout"`
}

// Load reads a config file, applying defaults for missing keys and
// normalizing the API URL.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Config{
		CheckInterval:    DefaultCheckInterval,
		AutoCheckRetests: true,
		Timeout:          DefaultTimeout,
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.APIURL = NormalizeURL(cfg.APIURL)
	return &cfg, nil
}

// SearchPaths returns the default config locations in lookup order.
func SearchPaths() []string {
	paths := []string{DefaultFile, "config.json"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".steam_test_panel.json"),
			filepath.Join(home, DefaultFile),
		)
	}
	return paths
}

// Search returns the first existing default config location.
func Search() (string, error) {
	paths := SearchPaths()
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("config file not found, searched: %s", strings.Join(paths, ", "))
}

// Validate returns every configuration problem at once so the user can fix
// the file in a single pass.
func (c *Config) Validate() error {
	var errs []error
	if c.APIURL == "" {
		errs = append(errs, errors.New("api_url is required"))
	}
	if c.APIKey == "" {
		errs = append(errs, errors.New("api_key is required"))
	}
	if !strings.HasPrefix(c.APIKey, "sk_") {
		errs = append(errs, errors.New("api_key should start with 'sk_'"))
	}
	return errors.Join(errs...)
}

// RequestTimeout returns the per-request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// Interval returns the background check interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.CheckInterval) * time.Second
}

// WriteTemplate writes a starter config for the user to fill in.
func WriteTemplate(path string) error {
	template := Config{
		APIURL:           "http://localhost/test_api",
		APIKey:           "sk_your_api_key_here",
		CheckInterval:    DefaultCheckInterval,
		AutoCheckRetests: true,
		Timeout:          DefaultTimeout,
	}
	data, err := json.MarshalIndent(&template, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config template: %w", err)
	}
	return nil
}

// NormalizeURL trims an API base URL: whitespace, a missing scheme, and any
// trailing /api or endpoint path a user pasted from the browser.
func NormalizeURL(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}

	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" {
		u, err = url.Parse("https://" + value)
		if err != nil {
			return strings.TrimRight(value, "/")
		}
	}

	path := strings.TrimRight(u.Path, "/")
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, "/api") {
		path = path[:len(path)-len("/api")]
	} else {
		for _, suffix := range endpointSuffixes {
			if strings.HasSuffix(lower, suffix) {
				path = path[:len(path)-len(suffix)]
				break
			}
		}
	}
	path = strings.TrimRight(path, "/")

	return u.Scheme + "://" + u.Host + path
}
