// Package insight turns a compact dataset summary into narrative insights and
// follow-up answers through a text-generation runtime, with bounded retries,
// outbound pacing and a record of the last call for health reporting.
package insight

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/KaramelBytes/insightloom/internal/ai"
	"github.com/KaramelBytes/insightloom/internal/apperr"
	"github.com/KaramelBytes/insightloom/internal/model"
	"github.com/KaramelBytes/insightloom/internal/summary"
	"github.com/KaramelBytes/insightloom/internal/utils"
)

// Config controls generation and retry behaviour.
type Config struct {
	Model             string
	MaxTokens         int
	FollowUpMaxTokens int
	Temperature       float64
	// Timeout bounds each attempt, not the whole call.
	Timeout       time.Duration
	Retries       int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	RatePerMin    int
	HistoryWindow int
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		Model:             "openai/gpt-4o-mini",
		MaxTokens:         1500,
		FollowUpMaxTokens: 800,
		Temperature:       0.3,
		Timeout:           90 * time.Second,
		Retries:           2,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          4 * time.Second,
		RatePerMin:        30,
		HistoryWindow:     5,
	}
}

// CallStatus is the outcome of the most recent call to the runtime.
type CallStatus struct {
	At       time.Time
	OK       bool
	Err      error
	Duration time.Duration
}

// Generator produces insights. Safe for concurrent use.
type Generator struct {
	rt      ai.Runtime
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	mu   sync.Mutex
	last *CallStatus
}

// New returns a Generator over rt. Zero-valued config fields take defaults;
// Retries < 0 disables retrying.
func New(rt ai.Runtime, cfg Config, logger *zap.Logger) *Generator {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.FollowUpMaxTokens <= 0 {
		cfg.FollowUpMaxTokens = def.FollowUpMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.HistoryWindow < 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = max(def.MaxDelay, cfg.BaseDelay)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	burst := 1
	if cfg.RatePerMin > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RatePerMin))
		burst = min(cfg.RatePerMin, 5)
	}
	return &Generator{
		rt:      rt,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Model returns the configured model name.
func (g *Generator) Model() string { return g.cfg.Model }

// Initial generates the insights report for s.
func (g *Generator) Initial(ctx context.Context, s *summary.Summary) (string, error) {
	if s == nil {
		return "", apperr.Validation("summary", "is required")
	}
	msgs := initialMessages(s, promptBudget(g.cfg.Model, g.cfg.MaxTokens))
	return g.call(ctx, "generate insights", ai.GenerateRequest{
		Model:       g.cfg.Model,
		Messages:    msgs,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
}

// FollowUp answers question using s, the first characters of insights and
// the most recent exchanges of history.
func (g *Generator) FollowUp(ctx context.Context, s *summary.Summary, insights string, history []model.FollowUp, question string) (string, error) {
	if s == nil {
		return "", apperr.Validation("summary", "is required")
	}
	if strings.TrimSpace(question) == "" {
		return "", apperr.Validation("question", "must not be empty")
	}
	msgs := followUpMessages(s, insights, history, g.cfg.HistoryWindow, question,
		promptBudget(g.cfg.Model, g.cfg.FollowUpMaxTokens))
	return g.call(ctx, "answer follow-up", ai.GenerateRequest{
		Model:       g.cfg.Model,
		Messages:    msgs,
		MaxTokens:   g.cfg.FollowUpMaxTokens,
		Temperature: g.cfg.Temperature,
	})
}

// Ping makes one minimal call with no retries and no pacing.
func (g *Generator) Ping(ctx context.Context) error {
	_, err := g.attempt(ctx, ai.GenerateRequest{
		Model:     g.cfg.Model,
		Messages:  []ai.Message{{Role: "user", Content: "Reply with the single word: ok"}},
		MaxTokens: 5,
	})
	if err == nil {
		return nil
	}
	if ai.IsConfigError(err) {
		return &apperr.LLMConfigError{Err: err}
	}
	return &apperr.LLMError{Op: "ping", Attempts: 1, Err: err}
}

// LastCall returns the most recent call outcome, if any call was made.
func (g *Generator) LastCall() (CallStatus, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == nil {
		return CallStatus{}, false
	}
	return *g.last, true
}

func (g *Generator) call(ctx context.Context, op string, req ai.GenerateRequest) (string, error) {
	attempts := g.cfg.Retries + 1
	if g.logger.Core().Enabled(zap.DebugLevel) {
		sections := make(map[string]string, len(req.Messages))
		for i, m := range req.Messages {
			sections[fmt.Sprintf("%d:%s", i, m.Role)] = m.Content
		}
		g.logger.Debug("prompt built", zap.String("op", op), zap.Any("tokens", utils.TokenBreakdown(sections)))
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", &apperr.LLMError{Op: op, Attempts: attempt - 1, Err: firstErr(lastErr, err)}
		}
		resp, err := g.attempt(ctx, req)
		if err == nil {
			g.logUsage(op, attempt, resp)
			return resp.Text(), nil
		}
		lastErr = err
		fields := []zap.Field{zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err)}

		switch {
		case ai.IsConfigError(err):
			g.logger.Error("text generation misconfigured", fields...)
			return "", &apperr.LLMConfigError{Err: err}
		case ctx.Err() != nil:
			return "", &apperr.LLMError{Op: op, Attempts: attempt, Err: ctx.Err()}
		case !ai.IsTransient(err):
			g.logger.Warn("text generation rejected", fields...)
			return "", &apperr.LLMError{Op: op, Attempts: attempt, Err: err}
		case attempt == attempts:
			g.logger.Warn("text generation failed", fields...)
			return "", &apperr.LLMError{Op: op, Attempts: attempt, Err: err}
		}

		delay := g.backoff(attempt)
		if ra := ai.RetryAfter(err); ra > delay {
			delay = ra
		}
		g.logger.Info("retrying text generation", append(fields, zap.Duration("delay", delay))...)
		if err := g.sleep(ctx, delay); err != nil {
			return "", &apperr.LLMError{Op: op, Attempts: attempt, Err: lastErr}
		}
	}
	return "", &apperr.LLMError{Op: op, Attempts: attempts, Err: lastErr}
}

// attempt runs one bounded request and records its outcome.
func (g *Generator) attempt(ctx context.Context, req ai.GenerateRequest) (*ai.GenerateResponse, error) {
	actx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	start := g.now()
	resp, err := g.rt.Generate(actx, req)
	if err == nil && strings.TrimSpace(resp.Text()) == "" {
		err = &ai.EmptyResponseError{Reason: "blank completion", RequestID: resp.RequestID}
	}
	if err != nil && actx.Err() != nil && ctx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) {
		// the per-attempt deadline fired; report it as a timeout
		err = errors.Join(context.DeadlineExceeded, err)
	}
	g.mu.Lock()
	g.last = &CallStatus{At: g.now(), OK: err == nil, Err: err, Duration: g.now().Sub(start)}
	g.mu.Unlock()
	return resp, err
}

// backoff is BaseDelay doubled per attempt, capped at MaxDelay, +/- 20%.
func (g *Generator) backoff(attempt int) time.Duration {
	d := g.cfg.BaseDelay
	for i := 1; i < attempt && d < g.cfg.MaxDelay; i++ {
		d *= 2
	}
	return withJitter(min(d, g.cfg.MaxDelay))
}

func (g *Generator) logUsage(op string, attempt int, resp *ai.GenerateResponse) {
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("model", g.cfg.Model),
		zap.Int("attempt", attempt),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.String("request_id", resp.RequestID),
	}
	if cost, ok := ai.EstimateCostUSD(g.cfg.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens); ok {
		fields = append(fields, zap.Float64("estimated_cost_usd", cost))
	}
	g.logger.Info("text generated", fields...)
}

// withJitter returns a backoff duration with +/- 20% jitter applied.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 500 * time.Millisecond
	}
	// jitter factor in [0.8, 1.2)
	f := 0.8 + rand.Float64()*0.4
	out := time.Duration(float64(d) * f)
	if out <= 0 {
		return d
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
