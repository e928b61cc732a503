package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"grantcsv/internal/slogutil"
)

const (
	// DefaultDir holds the config file, page cache and run history.
	DefaultDir = ".grantcsv"
	// DefaultFile is the config file looked up when no path is given.
	DefaultFile = "config.toml"
	// EnvPrefix prefixes every environment override, e.g. GRANTCSV_API_BASEURL.
	EnvPrefix = "GRANTCSV"
	// ReferencePlaceholder is substituted into api.submissionsPath.
	ReferencePlaceholder = "{ggisReferenceNumber}"
)

// Config represents the complete grantcsv configuration
type Config struct {
	API     APIConfig     `json:"api" mapstructure:"api" toml:"api" yaml:"api"`
	Fetch   FetchConfig   `json:"fetch" mapstructure:"fetch" toml:"fetch" yaml:"fetch"`
	Columns ColumnsConfig `json:"columns" mapstructure:"columns" toml:"columns" yaml:"columns"`
	Output  OutputConfig  `json:"output" mapstructure:"output" toml:"output" yaml:"output"`
	Cache   CacheConfig   `json:"cache" mapstructure:"cache" toml:"cache" yaml:"cache"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics" toml:"metrics" yaml:"metrics"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging" toml:"logging" yaml:"logging"`

	source string
}

// APIConfig describes the submissions endpoint
type APIConfig struct {
	BaseURL         string `json:"baseUrl" mapstructure:"baseUrl" toml:"baseUrl" yaml:"baseUrl"`
	ReferenceNumber string `json:"referenceNumber" mapstructure:"referenceNumber" toml:"referenceNumber" yaml:"referenceNumber"`
	APIKey          string `json:"apiKey" mapstructure:"apiKey" toml:"apiKey,omitempty" yaml:"apiKey"`
	SubmissionsPath string `json:"submissionsPath" mapstructure:"submissionsPath" toml:"submissionsPath" yaml:"submissionsPath"`
	PageParam       string `json:"pageParam" mapstructure:"pageParam" toml:"pageParam" yaml:"pageParam"`
	UserAgent       string `json:"userAgent" mapstructure:"userAgent" toml:"userAgent" yaml:"userAgent"`
}

// FetchConfig tunes the page fetcher
type FetchConfig struct {
	MaxConcurrency    int `json:"maxConcurrency" mapstructure:"maxConcurrency" toml:"maxConcurrency" yaml:"maxConcurrency"`
	TimeoutSeconds    int `json:"timeoutSeconds" mapstructure:"timeoutSeconds" toml:"timeoutSeconds" yaml:"timeoutSeconds"`
	MaxAttempts       int `json:"maxAttempts" mapstructure:"maxAttempts" toml:"maxAttempts" yaml:"maxAttempts"`
	BackoffBaseMs     int `json:"backoffBaseMs" mapstructure:"backoffBaseMs" toml:"backoffBaseMs" yaml:"backoffBaseMs"`
	BackoffCapMs      int `json:"backoffCapMs" mapstructure:"backoffCapMs" toml:"backoffCapMs" yaml:"backoffCapMs"`
	RequestIntervalMs int `json:"requestIntervalMs" mapstructure:"requestIntervalMs" toml:"requestIntervalMs" yaml:"requestIntervalMs"`
}

// ColumnsConfig controls column naming and the constant-column filter
type ColumnsConfig struct {
	IncludeQuestionID  bool     `json:"includeQuestionId" mapstructure:"includeQuestionId" toml:"includeQuestionId" yaml:"includeQuestionId"`
	PrefixSectionTitle bool     `json:"prefixSectionTitle" mapstructure:"prefixSectionTitle" toml:"prefixSectionTitle" yaml:"prefixSectionTitle"`
	SectionSeparators  bool     `json:"sectionSeparators" mapstructure:"sectionSeparators" toml:"sectionSeparators" yaml:"sectionSeparators"`
	DropConstant       bool     `json:"dropConstant" mapstructure:"dropConstant" toml:"dropConstant" yaml:"dropConstant"`
	IgnoreEmpty        bool     `json:"ignoreEmpty" mapstructure:"ignoreEmpty" toml:"ignoreEmpty" yaml:"ignoreEmpty"`
	KeepPatterns       []string `json:"keepPatterns" mapstructure:"keepPatterns" toml:"keepPatterns" yaml:"keepPatterns"`
}

// OutputConfig controls where the CSV goes
type OutputConfig struct {
	// Path is the output file; empty derives one from the form name.
	Path        string `json:"path" mapstructure:"path" toml:"path" yaml:"path"`
	Compression string `json:"compression" mapstructure:"compression" toml:"compression" yaml:"compression"`
}

// CacheConfig controls the local page cache
type CacheConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled" toml:"enabled" yaml:"enabled"`
	Path       string `json:"path" mapstructure:"path" toml:"path" yaml:"path"`
	TTLSeconds int    `json:"ttlSeconds" mapstructure:"ttlSeconds" toml:"ttlSeconds" yaml:"ttlSeconds"`
}

// MetricsConfig controls the optional Pushgateway push
type MetricsConfig struct {
	PushgatewayURL string `json:"pushgatewayUrl" mapstructure:"pushgatewayUrl" toml:"pushgatewayUrl" yaml:"pushgatewayUrl"`
	Job            string `json:"job" mapstructure:"job" toml:"job" yaml:"job"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level" toml:"level" yaml:"level"`
	File       string `json:"file" mapstructure:"file" toml:"file" yaml:"file"`
	MaxSize    string `json:"maxSize" mapstructure:"maxSize" toml:"maxSize" yaml:"maxSize"`
	MaxBackups int    `json:"maxBackups" mapstructure:"maxBackups" toml:"maxBackups" yaml:"maxBackups"`
}

// Compression values accepted by output.compression
var Compressions = []string{"none", "gzip", "zstd"}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			SubmissionsPath: "/api/open-data/submissions/" + ReferencePlaceholder,
			PageParam:       "pageNumber",
			UserAgent:       "grantcsv",
		},
		Fetch: FetchConfig{
			MaxConcurrency:    10,
			TimeoutSeconds:    60,
			MaxAttempts:       3,
			BackoffBaseMs:     400,
			BackoffCapMs:      4000,
			RequestIntervalMs: 500,
		},
		Columns: ColumnsConfig{
			SectionSeparators: true,
			DropConstant:      true,
			KeepPatterns:      []string{},
		},
		Output: OutputConfig{
			Compression: "none",
		},
		Cache: CacheConfig{
			Enabled:    false,
			Path:       filepath.Join(DefaultDir, "cache.db"),
			TTLSeconds: 900,
		},
		Metrics: MetricsConfig{
			Job: "grantcsv",
		},
		Logging: LoggingConfig{
			Level:      "warn",
			MaxSize:    "10MB",
			MaxBackups: 3,
		},
	}
}

// defaults flattens DefaultConfig into viper keys. Every key must be
// registered for environment overrides to reach it.
func defaults() map[string]interface{} {
	d := DefaultConfig()
	return map[string]interface{}{
		"api.baseUrl":                d.API.BaseURL,
		"api.referenceNumber":        d.API.ReferenceNumber,
		"api.apiKey":                 d.API.APIKey,
		"api.submissionsPath":        d.API.SubmissionsPath,
		"api.pageParam":              d.API.PageParam,
		"api.userAgent":              d.API.UserAgent,
		"fetch.maxConcurrency":       d.Fetch.MaxConcurrency,
		"fetch.timeoutSeconds":       d.Fetch.TimeoutSeconds,
		"fetch.maxAttempts":          d.Fetch.MaxAttempts,
		"fetch.backoffBaseMs":        d.Fetch.BackoffBaseMs,
		"fetch.backoffCapMs":         d.Fetch.BackoffCapMs,
		"fetch.requestIntervalMs":    d.Fetch.RequestIntervalMs,
		"columns.includeQuestionId":  d.Columns.IncludeQuestionID,
		"columns.prefixSectionTitle": d.Columns.PrefixSectionTitle,
		"columns.sectionSeparators":  d.Columns.SectionSeparators,
		"columns.dropConstant":       d.Columns.DropConstant,
		"columns.ignoreEmpty":        d.Columns.IgnoreEmpty,
		"columns.keepPatterns":       d.Columns.KeepPatterns,
		"output.path":                d.Output.Path,
		"output.compression":         d.Output.Compression,
		"cache.enabled":              d.Cache.Enabled,
		"cache.path":                 d.Cache.Path,
		"cache.ttlSeconds":           d.Cache.TTLSeconds,
		"metrics.pushgatewayUrl":     d.Metrics.PushgatewayURL,
		"metrics.job":                d.Metrics.Job,
		"logging.level":              d.Logging.Level,
		"logging.file":               d.Logging.File,
		"logging.maxSize":            d.Logging.MaxSize,
		"logging.maxBackups":         d.Logging.MaxBackups,
	}
}

// Keys returns every configuration key, sorted.
func Keys() []string {
	d := defaults()
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EnvVar returns the environment variable that overrides key, e.g.
// "fetch.maxAttempts" -> "GRANTCSV_FETCH_MAXATTEMPTS".
func EnvVar(key string) string {
	if key == "api.apiKey" {
		return EnvPrefix + "_API_KEY"
	}
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// LoadConfig loads configuration from path, or from ./.grantcsv/config.toml
// when path is empty. A missing default file is not an error; a missing
// explicit file is. Environment variables (GRANTCSV_<SECTION>_<KEY>, plus
// GRANTCSV_API_KEY) override file values.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("api.apiKey", EnvPrefix+"_API_KEY", EnvPrefix+"_API_APIKEY"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFile, filepath.Ext(DefaultFile)))
		v.SetConfigType("toml")
		v.AddConfigPath(DefaultDir)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.source = v.ConfigFileUsed()

	return &cfg, nil
}

// Source returns the file the config was read from, or "" for defaults.
func (c *Config) Source() string {
	return c.source
}

// Save writes the configuration as TOML. The API key is never written.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	out := *c
	out.API.APIKey = ""

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	enc := toml.NewEncoder(f)
	enc.Indent = ""
	if err := enc.Encode(out); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// UnknownKeys returns the keys in a TOML config file that no field
// consumes, sorted. Non-TOML files are not inspected.
func UnknownKeys(path string) ([]string, error) {
	if !strings.EqualFold(filepath.Ext(path), ".toml") {
		return nil, nil
	}

	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, k := range md.Undecoded() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	return keys, nil
}

// Validate checks the settings every command relies on.
func (c *Config) Validate() error {
	if !strings.Contains(c.API.SubmissionsPath, ReferencePlaceholder) {
		return &ConfigError{Field: "api.submissionsPath", Message: "must include " + ReferencePlaceholder}
	}
	if c.API.PageParam == "" {
		return &ConfigError{Field: "api.pageParam", Message: "must not be empty"}
	}

	positive := []struct {
		field string
		value int
	}{
		{"fetch.maxConcurrency", c.Fetch.MaxConcurrency},
		{"fetch.timeoutSeconds", c.Fetch.TimeoutSeconds},
		{"fetch.maxAttempts", c.Fetch.MaxAttempts},
		{"fetch.backoffBaseMs", c.Fetch.BackoffBaseMs},
		{"fetch.backoffCapMs", c.Fetch.BackoffCapMs},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return &ConfigError{Field: p.field, Message: "must be positive"}
		}
	}
	if c.Fetch.RequestIntervalMs < 0 {
		return &ConfigError{Field: "fetch.requestIntervalMs", Message: "must not be negative"}
	}
	if c.Fetch.BackoffCapMs < c.Fetch.BackoffBaseMs {
		return &ConfigError{Field: "fetch.backoffCapMs", Message: "must be at least fetch.backoffBaseMs"}
	}

	for _, p := range c.Columns.KeepPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return &ConfigError{Field: "columns.keepPatterns", Message: err.Error()}
		}
	}

	if !validCompression(c.Output.Compression) {
		return &ConfigError{Field: "output.compression", Message: "must be one of " + strings.Join(Compressions, ", ")}
	}

	if c.Cache.Enabled && c.Cache.Path == "" {
		return &ConfigError{Field: "cache.path", Message: "required when the cache is enabled"}
	}
	if c.Cache.TTLSeconds < 0 {
		return &ConfigError{Field: "cache.ttlSeconds", Message: "must not be negative"}
	}

	if c.Metrics.PushgatewayURL != "" {
		if err := checkHTTPURL(c.Metrics.PushgatewayURL); err != nil {
			return &ConfigError{Field: "metrics.pushgatewayUrl", Message: err.Error()}
		}
	}

	if c.Logging.Level != "" && !slogutil.ValidLevel(c.Logging.Level) {
		return &ConfigError{Field: "logging.level", Message: "unknown level " + c.Logging.Level}
	}
	if _, err := slogutil.ParseSize(c.Logging.MaxSize); err != nil {
		return &ConfigError{Field: "logging.maxSize", Message: err.Error()}
	}

	return nil
}

// ValidateRemote additionally checks the settings needed to call the API.
func (c *Config) ValidateRemote() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.API.BaseURL == "" {
		return &ConfigError{Field: "api.baseUrl", Message: "required"}
	}
	if err := checkHTTPURL(c.API.BaseURL); err != nil {
		return &ConfigError{Field: "api.baseUrl", Message: err.Error()}
	}
	if strings.TrimSpace(c.API.ReferenceNumber) == "" {
		return &ConfigError{Field: "api.referenceNumber", Message: "required"}
	}
	if strings.TrimSpace(c.API.APIKey) == "" {
		return &ConfigError{Field: "api.apiKey", Message: "required (set " + EnvPrefix + "_API_KEY)"}
	}
	return nil
}

func validCompression(s string) bool {
	for _, c := range Compressions {
		if s == c {
			return true
		}
	}
	return false
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
