// Package config loads SDK configuration from environment variables
// (spec.md §5 "Environment variables"), with an optional local YAML
// overlay file for settings a caller prefers not to manage via the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults match spec.md §5's persisted-state and timeout defaults.
const (
	DefaultSuperfaceDir      = "superface"
	DefaultCacheDir          = ".cache"
	DefaultSandboxTimeout    = 100 * time.Millisecond
	DefaultCacheTimeout      = 24 * time.Hour
	DefaultMetricDebounceMin = 1 * time.Second
	DefaultMetricDebounceMax = 60 * time.Second
)

var sdkTokenPattern = regexp.MustCompile(`^sfs_[^_]+_[0-9A-F]{8}$`)

// Config is the fully resolved SDK configuration.
type Config struct {
	SuperfacePath          string
	APIURL                 string
	SDKToken               string
	DisableMetricReporting bool
	SandboxTimeout         time.Duration
	CacheTimeout           time.Duration
	MetricDebounceTimeMin  time.Duration
	MetricDebounceTimeMax  time.Duration
}

// overlay is the shape of an optional onesdk.yaml file, each field
// shadowing the corresponding environment variable when the environment
// variable is unset.
type overlay struct {
	SuperfacePath          string `yaml:"superface_path"`
	APIURL                 string `yaml:"api_url"`
	SDKToken               string `yaml:"sdk_token"`
	DisableMetricReporting *bool  `yaml:"disable_metric_reporting"`
	SandboxTimeoutMs       *int64 `yaml:"sandbox_timeout_ms"`
	CacheTimeoutMs         *int64 `yaml:"cache_timeout_ms"`
	MetricDebounceMinMs    *int64 `yaml:"metric_debounce_time_min_ms"`
	MetricDebounceMaxMs    *int64 `yaml:"metric_debounce_time_max_ms"`
}

// Load reads configuration from the environment, then applies
// overlayPath (if it exists) for any field the environment left unset.
// An empty overlayPath skips the overlay step entirely.
func Load(overlayPath string) (*Config, error) {
	c := &Config{
		SuperfacePath:         os.Getenv("SUPERFACE_PATH"),
		APIURL:                os.Getenv("SUPERFACE_API_URL"),
		SDKToken:              os.Getenv("SUPERFACE_SDK_TOKEN"),
		SandboxTimeout:        DefaultSandboxTimeout,
		CacheTimeout:          DefaultCacheTimeout,
		MetricDebounceTimeMin: DefaultMetricDebounceMin,
		MetricDebounceTimeMax: DefaultMetricDebounceMax,
	}

	if v := os.Getenv("SUPERFACE_DISABLE_METRIC_REPORTING"); v != "" {
		c.DisableMetricReporting = v == "true" || v == "1"
	}
	if v := os.Getenv("SUPERFACE_SANDBOX_TIMEOUT"); v != "" {
		d, err := parseMillis(v)
		if err != nil {
			return nil, fmt.Errorf("SUPERFACE_SANDBOX_TIMEOUT: %w", err)
		}
		c.SandboxTimeout = d
	}
	if v := os.Getenv("SUPERFACE_CACHE_TIMEOUT"); v != "" {
		d, err := parseMillis(v)
		if err != nil {
			return nil, fmt.Errorf("SUPERFACE_CACHE_TIMEOUT: %w", err)
		}
		c.CacheTimeout = d
	}
	if v := os.Getenv("SUPERFACE_METRIC_DEBOUNCE_TIME_MIN"); v != "" {
		d, err := parseMillis(v)
		if err != nil {
			return nil, fmt.Errorf("SUPERFACE_METRIC_DEBOUNCE_TIME_MIN: %w", err)
		}
		c.MetricDebounceTimeMin = d
	}
	if v := os.Getenv("SUPERFACE_METRIC_DEBOUNCE_TIME_MAX"); v != "" {
		d, err := parseMillis(v)
		if err != nil {
			return nil, fmt.Errorf("SUPERFACE_METRIC_DEBOUNCE_TIME_MAX: %w", err)
		}
		c.MetricDebounceTimeMax = d
	}

	if c.SDKToken != "" && !sdkTokenPattern.MatchString(c.SDKToken) {
		return nil, fmt.Errorf("SUPERFACE_SDK_TOKEN does not match the expected format sfs_<id>_<8 hex digits>")
	}

	if overlayPath != "" {
		if err := applyOverlay(c, overlayPath); err != nil {
			return nil, err
		}
	}

	if c.SuperfacePath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving default superface path: %w", err)
		}
		c.SuperfacePath = filepath.Join(cwd, DefaultSuperfaceDir)
	}

	return c, nil
}

// CachePath returns the parsed-AST cache directory under the resolved
// superface path.
func (c *Config) CachePath() string {
	return filepath.Join(c.SuperfacePath, DefaultCacheDir)
}

// SuperJSONPath returns the path to the normalized super-document file.
func (c *Config) SuperJSONPath() string {
	return filepath.Join(c.SuperfacePath, "super.json")
}

func parseMillis(v string) (time.Duration, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("expected an integer number of milliseconds, got %q", v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func applyOverlay(c *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config overlay %s: %w", path, err)
	}

	var o overlay
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return fmt.Errorf("parsing config overlay %s: %w", path, err)
	}

	if c.SuperfacePath == "" && o.SuperfacePath != "" {
		c.SuperfacePath = o.SuperfacePath
	}
	if c.APIURL == "" && o.APIURL != "" {
		c.APIURL = o.APIURL
	}
	if c.SDKToken == "" && o.SDKToken != "" {
		if !sdkTokenPattern.MatchString(o.SDKToken) {
			return fmt.Errorf("config overlay sdk_token does not match the expected format sfs_<id>_<8 hex digits>")
		}
		c.SDKToken = o.SDKToken
	}
	if os.Getenv("SUPERFACE_DISABLE_METRIC_REPORTING") == "" && o.DisableMetricReporting != nil {
		c.DisableMetricReporting = *o.DisableMetricReporting
	}
	if os.Getenv("SUPERFACE_SANDBOX_TIMEOUT") == "" && o.SandboxTimeoutMs != nil {
		c.SandboxTimeout = time.Duration(*o.SandboxTimeoutMs) * time.Millisecond
	}
	if os.Getenv("SUPERFACE_CACHE_TIMEOUT") == "" && o.CacheTimeoutMs != nil {
		c.CacheTimeout = time.Duration(*o.CacheTimeoutMs) * time.Millisecond
	}
	if os.Getenv("SUPERFACE_METRIC_DEBOUNCE_TIME_MIN") == "" && o.MetricDebounceMinMs != nil {
		c.MetricDebounceTimeMin = time.Duration(*o.MetricDebounceMinMs) * time.Millisecond
	}
	if os.Getenv("SUPERFACE_METRIC_DEBOUNCE_TIME_MAX") == "" && o.MetricDebounceMaxMs != nil {
		c.MetricDebounceTimeMax = time.Duration(*o.MetricDebounceMaxMs) * time.Millisecond
	}

	return nil
}
