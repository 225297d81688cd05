package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/KaramelBytes/insightloom/internal/ai"
	"github.com/KaramelBytes/insightloom/internal/analysis"
	cfgpkg "github.com/KaramelBytes/insightloom/internal/config"
	"github.com/KaramelBytes/insightloom/internal/health"
	"github.com/KaramelBytes/insightloom/internal/ingest"
	"github.com/KaramelBytes/insightloom/internal/insight"
	"github.com/KaramelBytes/insightloom/internal/report"
	"github.com/KaramelBytes/insightloom/internal/service"
	"github.com/KaramelBytes/insightloom/internal/store"
	"github.com/KaramelBytes/insightloom/internal/utils"
)

// app holds the wired components for one process.
type app struct {
	cfg     *cfgpkg.Global
	store   store.Store
	reports *report.Manager
	runtime ai.Runtime
	gen     *insight.Generator
	svc     *service.Service
}

func openStore(c *cfgpkg.Global) (store.Store, error) {
	switch c.Store {
	case "memory":
		return store.NewMemory(), nil
	default:
		if err := utils.EnsureDir(c.DataDir); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		s, err := store.NewSQLite(c.DBPath)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(context.Background()); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	}
}

func generatorConfig(c *cfgpkg.Global) insight.Config {
	return insight.Config{
		Model:             c.Model,
		MaxTokens:         c.MaxTokens,
		FollowUpMaxTokens: c.FollowUpMaxTokens,
		Temperature:       c.Temperature,
		Timeout:           time.Duration(c.LLMTimeoutSec) * time.Second,
		Retries:           c.LLMRetries,
		BaseDelay:         time.Duration(c.RetryBaseDelayMs) * time.Millisecond,
		MaxDelay:          time.Duration(c.RetryMaxDelayMs) * time.Millisecond,
		RatePerMin:        c.LLMRatePerMin,
		HistoryWindow:     c.HistoryWindow,
	}
}

// newApp wires store, report manager, runtime, generator, ingest pool and
// health monitor from c.
func newApp(ctx context.Context, c *cfgpkg.Global, log *zap.Logger) (*app, error) {
	st, err := openStore(c)
	if err != nil {
		return nil, err
	}
	mgr := report.NewManager(st, report.WithRetention(c.Retention), report.WithLogger(log.Named("reports")))
	if err := mgr.Enforce(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	rt, err := ai.GetRuntime(ctx, c.Provider, ai.RuntimeConfig{
		HTTPTimeout: time.Duration(c.LLMTimeoutSec) * time.Second,
		APIKey:      c.APIKey,
		BaseURL:     c.BaseURL,
		Host:        c.OllamaHost,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	gen := insight.New(rt, generatorConfig(c), log.Named("insight"))

	if err := utils.EnsureDir(c.UploadDir()); err != nil {
		log.Warn("create upload dir", zap.String("dir", c.UploadDir()), zap.Error(err))
	}
	proc := ingest.NewProcessor(mgr, analysis.DefaultOptions(), c.PreviewRows, log.Named("ingest"))
	runner := ingest.NewRunner(proc, ingest.RunnerConfig{
		Workers:        c.Workers,
		AsyncThreshold: c.AsyncThresholdBytes(),
	}, log.Named("ingest"))
	mon := health.NewMonitor(st, gen, c.UploadDir(), time.Duration(c.HealthCacheTTLSec)*time.Second, log.Named("health"))

	svc := service.New(service.Deps{
		Reports:        mgr,
		Runner:         runner,
		Generator:      gen,
		Health:         mon,
		UploadDir:      c.UploadDir(),
		MaxUploadBytes: c.MaxUploadBytes(),
		Logger:         log.Named("service"),
	})
	return &app{cfg: c, store: st, reports: mgr, runtime: rt, gen: gen, svc: svc}, nil
}

// Close drains the ingest pool and releases the store and runtime.
func (a *app) Close(ctx context.Context) error {
	err := a.svc.Shutdown(ctx)
	if c, ok := a.runtime.(io.Closer); ok {
		_ = c.Close()
	}
	if cerr := a.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// withApp loads config, wires the app, runs fn and closes the app.
func withApp(ctx context.Context, fn func(*app) error) error {
	c, err := requireConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, c, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = a.Close(sctx)
	}()
	return fn(a)
}
