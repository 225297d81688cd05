package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KaramelBytes/insightloom/internal/ai"
	cfgpkg "github.com/KaramelBytes/insightloom/internal/config"
)

var (
	// Global flags
	cfgFile  string
	debug    bool
	logLevel string
	// Retry/HTTP flags (override config if set)
	flagLLMTimeoutSec    int
	flagLLMRetries       int
	flagRetryBaseDelayMs int
	flagRetryMaxDelayMs  int

	// Loaded configuration
	cfg    *cfgpkg.Global
	cfgErr error
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "insightloom",
	Short: "InsightLoom: upload tabular data, get statistics and AI-written insights",
	Long: `InsightLoom ingests CSV/TSV files, computes per-column statistics in one
streaming pass and asks a text-generation model for insights about the
aggregated summary. Raw rows never leave the machine.`,
	SilenceUsage: true,
}

// Execute is the entry point called by main.main()
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.insightloom/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagLLMTimeoutSec, "llm-timeout", 0, "per-attempt LLM timeout in seconds (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagLLMRetries, "llm-retries", -1, "retries on transient LLM errors (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagRetryBaseDelayMs, "retry-base-ms", 0, "base retry backoff in ms (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagRetryMaxDelayMs, "retry-max-ms", 0, "max retry backoff cap in ms (overrides config)")
}

func loadConfig() {
	cfg, cfgErr = nil, nil
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// commands that need config report cfgErr themselves
		cfgErr = err
		return
	}
	cfg = c

	f := rootCmd.PersistentFlags()
	if f.Changed("llm-timeout") && flagLLMTimeoutSec > 0 {
		cfg.LLMTimeoutSec = flagLLMTimeoutSec
	}
	if f.Changed("llm-retries") && flagLLMRetries >= 0 {
		cfg.LLMRetries = flagLLMRetries
	}
	if f.Changed("retry-base-ms") && flagRetryBaseDelayMs > 0 {
		cfg.RetryBaseDelayMs = flagRetryBaseDelayMs
	}
	if f.Changed("retry-max-ms") && flagRetryMaxDelayMs > 0 {
		cfg.RetryMaxDelayMs = flagRetryMaxDelayMs
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if debug {
		cfg.LogLevel, cfg.LogFormat = "debug", "console"
	}
	l, err := cfgpkg.InitLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠ Warning: %v\n", err)
	} else {
		logger = l
	}

	if cfg.ModelsCatalog != "" {
		m, err := ai.LoadCatalogFromJSON(cfg.ModelsCatalog)
		if err != nil {
			logger.Warn("load models catalog", zap.String("path", cfg.ModelsCatalog), zap.Error(err))
		} else {
			ai.MergeCatalog(m)
		}
	}
	if cfg.ModelsCatalogURL != "" {
		m, err := fetchCatalog(cfg.ModelsCatalogURL)
		if err != nil {
			logger.Warn("models auto-sync failed", zap.String("url", cfg.ModelsCatalogURL), zap.Error(err))
		} else {
			ai.MergeCatalog(m)
		}
	}
}

// requireConfig returns the loaded config or the reason it failed to load.
func requireConfig() (*cfgpkg.Global, error) {
	if cfg == nil {
		if cfgErr != nil {
			return nil, cfgErr
		}
		return nil, fmt.Errorf("no configuration loaded")
	}
	return cfg, nil
}

// fetchCatalog downloads a JSON model catalog.
func fetchCatalog(url string) (map[string]ai.ModelInfo, error) {
	client := &http.Client{Timeout: 20 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("fetch: unexpected status %s: %s", resp.Status, string(b))
	}
	var m map[string]ai.ModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return m, nil
}
