package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/insightloom/internal/ai"
	"github.com/KaramelBytes/insightloom/internal/utils"
)

// EnvPrefix prefixes every environment override, e.g. INSIGHTLOOM_API_KEY.
const EnvPrefix = "INSIGHTLOOM"

// Global configuration structure.
type Global struct {
	// Text generation
	Provider          string  `mapstructure:"provider" yaml:"provider"`
	APIKey            string  `mapstructure:"api_key" yaml:"api_key"`
	Model             string  `mapstructure:"model" yaml:"model"`
	BaseURL           string  `mapstructure:"base_url" yaml:"base_url"`
	OllamaHost        string  `mapstructure:"ollama_host" yaml:"ollama_host"`
	MaxTokens         int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	FollowUpMaxTokens int     `mapstructure:"follow_up_max_tokens" yaml:"follow_up_max_tokens"`
	Temperature       float64 `mapstructure:"temperature" yaml:"temperature"`
	HistoryWindow     int     `mapstructure:"history_window" yaml:"history_window"`

	// HTTP/Retry configuration
	LLMTimeoutSec    int `mapstructure:"llm_timeout_sec" yaml:"llm_timeout_sec"`
	LLMRetries       int `mapstructure:"llm_retries" yaml:"llm_retries"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`
	LLMRatePerMin    int `mapstructure:"llm_rate_per_min" yaml:"llm_rate_per_min"`

	// Models catalog sync
	ModelsCatalogURL string `mapstructure:"models_catalog_url" yaml:"models_catalog_url"`
	ModelsCatalog    string `mapstructure:"models_catalog" yaml:"models_catalog"`

	// Reports and ingest
	Retention        int `mapstructure:"retention" yaml:"retention"`
	PreviewRows      int `mapstructure:"preview_rows" yaml:"preview_rows"`
	MaxUploadMB      int `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
	AsyncThresholdKB int `mapstructure:"async_threshold_kb" yaml:"async_threshold_kb"`
	Workers          int `mapstructure:"workers" yaml:"workers"`

	// Storage
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	DBPath  string `mapstructure:"db_path" yaml:"db_path"`
	Store   string `mapstructure:"store" yaml:"store"`

	// Server
	ListenAddr        string `mapstructure:"listen_addr" yaml:"listen_addr"`
	HealthCacheTTLSec int    `mapstructure:"health_cache_ttl_sec" yaml:"health_cache_ttl_sec"`

	// Logging
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ai.ProviderOpenRouter)
	v.SetDefault("api_key", "")
	v.SetDefault("model", "openai/gpt-4o-mini")
	v.SetDefault("base_url", "")
	v.SetDefault("ollama_host", ai.DefaultOllamaHost)
	v.SetDefault("max_tokens", 1500)
	v.SetDefault("follow_up_max_tokens", 800)
	v.SetDefault("temperature", 0.3)
	v.SetDefault("history_window", 5)
	// HTTP/retry defaults
	v.SetDefault("llm_timeout_sec", 90)
	v.SetDefault("llm_retries", 2)
	v.SetDefault("retry_base_delay_ms", 500)
	v.SetDefault("retry_max_delay_ms", 4000)
	v.SetDefault("llm_rate_per_min", 30)
	v.SetDefault("models_catalog_url", "")
	v.SetDefault("models_catalog", "")
	v.SetDefault("retention", 5)
	v.SetDefault("preview_rows", 100)
	v.SetDefault("max_upload_mb", 10)
	v.SetDefault("async_threshold_kb", 512)
	v.SetDefault("workers", 2)
	v.SetDefault("data_dir", "~/.insightloom")
	v.SetDefault("db_path", "")
	v.SetDefault("store", "sqlite")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("health_cache_ttl_sec", 60)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// DefaultPath is ~/.insightloom/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".insightloom", "config.yaml"), nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: env > config file > defaults. A missing config file is not an error.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		path, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(filepath.Dir(path))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) && !(cfgFile != "" && errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.resolvePaths()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Global) resolvePaths() {
	c.DataDir = utils.ExpandHome(c.DataDir)
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "insightloom.db")
	}
	c.DBPath = utils.ExpandHome(c.DBPath)
}

// UploadDir is where spooled uploads live.
func (c *Global) UploadDir() string { return filepath.Join(c.DataDir, "uploads") }

// MaxUploadBytes is max_upload_mb in bytes.
func (c *Global) MaxUploadBytes() int64 { return int64(c.MaxUploadMB) << 20 }

// AsyncThresholdBytes is async_threshold_kb in bytes.
func (c *Global) AsyncThresholdBytes() int64 { return int64(c.AsyncThresholdKB) << 10 }

// Validate rejects values no component can run with.
func (c *Global) Validate() error {
	var errs []error
	known := false
	for _, p := range ai.Providers() {
		known = known || p == c.Provider
	}
	if !known {
		errs = append(errs, fmt.Errorf("provider %q is not one of %s", c.Provider, strings.Join(ai.Providers(), ", ")))
	}
	switch c.Store {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("store %q must be sqlite or memory", c.Store))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be json or console", c.LogFormat))
	}
	if c.Retention < 1 {
		errs = append(errs, fmt.Errorf("retention must be at least 1, got %d", c.Retention))
	}
	if c.MaxUploadMB < 1 {
		errs = append(errs, fmt.Errorf("max_upload_mb must be at least 1, got %d", c.MaxUploadMB))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature %.2f out of range [0, 2]", c.Temperature))
	}
	if c.LLMRetries < 0 {
		errs = append(errs, fmt.Errorf("llm_retries must not be negative"))
	}
	if c.HistoryWindow < 0 {
		errs = append(errs, fmt.Errorf("history_window must not be negative, got %d", c.HistoryWindow))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.PreviewRows < 0 {
		errs = append(errs, fmt.Errorf("preview_rows must not be negative, got %d", c.PreviewRows))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Set assigns key from its string form, parsed as the field's YAML type.
func (c *Global) Set(key, value string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("unmarshal yaml: %w", err)
	}
	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown key: %s", key)
	}
	m[key] = &yaml.Node{Kind: yaml.ScalarNode, Value: value}
	if b, err = yaml.Marshal(m); err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	next := *c
	if err := yaml.Unmarshal(b, &next); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.insightloom/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	path := cfgFile
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := utils.SafeWriteFile(path, b); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Mask hides most of a credential, e.g. "abc****xyz".
func Mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 6 {
		return "******"
	}
	return s[:3] + "****" + s[len(s)-3:]
}
