// Package health reports whether the store, the text-generation endpoint and
// the upload directory are usable.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/KaramelBytes/insightloom/internal/ai"
	"github.com/KaramelBytes/insightloom/internal/apperr"
	"github.com/KaramelBytes/insightloom/internal/insight"
	"github.com/KaramelBytes/insightloom/internal/utils"
)

// Status of one probe or of the whole service.
type Status string

const (
	Healthy  Status = "healthy"
	Degraded Status = "degraded"
	Error    Status = "error"
)

// Probe is the outcome of one check.
type Probe struct {
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
	// Cached is set when the llm probe reused a recent real call.
	Cached bool `json:"cached,omitempty"`
}

// Report aggregates all probes.
type Report struct {
	Overall   Status    `json:"status"`
	Store     Probe     `json:"store"`
	LLM       Probe     `json:"llm"`
	Storage   Probe     `json:"storage"`
	CheckedAt time.Time `json:"checked_at"`
}

// Pinger is satisfied by store.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LLMProber is satisfied by *insight.Generator.
type LLMProber interface {
	Ping(ctx context.Context) error
	LastCall() (insight.CallStatus, bool)
}

// DefaultLLMTimeout bounds a live llm probe.
const DefaultLLMTimeout = 15 * time.Second

// Monitor runs the probes.
type Monitor struct {
	store      Pinger
	llm        LLMProber
	uploadDir  string
	ttl        time.Duration
	llmTimeout time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewMonitor returns a Monitor. A real llm call younger than ttl stands in
// for a live probe; ttl <= 0 always probes.
func NewMonitor(store Pinger, llm LLMProber, uploadDir string, ttl time.Duration, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		store:      store,
		llm:        llm,
		uploadDir:  uploadDir,
		ttl:        ttl,
		llmTimeout: DefaultLLMTimeout,
		logger:     logger,
		now:        time.Now,
	}
}

// Check runs every probe concurrently. It never returns an error: failures
// are reported in the probe they belong to.
func (m *Monitor) Check(ctx context.Context) Report {
	var rep Report
	g, gctx := errgroup.WithContext(ctx)
	g.Go(m.guard("store", &rep.Store, func() Probe { return m.checkStore(gctx) }))
	g.Go(m.guard("llm", &rep.LLM, func() Probe { return m.checkLLM(gctx) }))
	g.Go(m.guard("storage", &rep.Storage, m.checkStorage))
	_ = g.Wait()

	rep.Overall = overall(rep)
	rep.CheckedAt = m.now().UTC()
	if rep.Overall != Healthy {
		m.logger.Warn("health check",
			zap.String("status", string(rep.Overall)),
			zap.String("store", string(rep.Store.Status)),
			zap.String("llm", string(rep.LLM.Status)),
			zap.String("storage", string(rep.Storage.Status)))
	}
	return rep
}

// guard writes the probe result into dst, turning a panic into an error probe.
func (m *Monitor) guard(name string, dst *Probe, fn func() Probe) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("health probe panicked", zap.String("probe", name), zap.Any("panic", r))
				*dst = Probe{Status: Error, Detail: fmt.Sprintf("probe panicked: %v", r)}
			}
		}()
		*dst = fn()
		return nil
	}
}

func overall(r Report) Status {
	switch {
	case r.Store.Status == Error:
		return Error
	case r.Store.Status != Healthy, r.LLM.Status != Healthy, r.Storage.Status != Healthy:
		return Degraded
	default:
		return Healthy
	}
}

func (m *Monitor) checkStore(ctx context.Context) Probe {
	if m.store == nil {
		return Probe{Status: Error, Detail: "no store configured"}
	}
	if err := m.store.Ping(ctx); err != nil {
		return Probe{Status: Error, Detail: err.Error()}
	}
	return Probe{Status: Healthy}
}

func (m *Monitor) checkLLM(ctx context.Context) Probe {
	if m.llm == nil {
		return Probe{Status: Error, Detail: "no text-generation endpoint configured"}
	}
	if last, ok := m.llm.LastCall(); ok && m.ttl > 0 && m.now().Sub(last.At) < m.ttl {
		p := llmProbe(last.Err)
		p.Cached = true
		return p
	}
	pctx, cancel := context.WithTimeout(ctx, m.llmTimeout)
	defer cancel()
	return llmProbe(m.llm.Ping(pctx))
}

func llmProbe(err error) Probe {
	if err == nil {
		return Probe{Status: Healthy}
	}
	var ce *apperr.LLMConfigError
	if errors.As(err, &ce) || ai.IsConfigError(err) {
		return Probe{Status: Error, Detail: err.Error()}
	}
	return Probe{Status: Degraded, Detail: err.Error()}
}

func (m *Monitor) checkStorage() Probe {
	if err := utils.CheckWritable(m.uploadDir); err != nil {
		return Probe{Status: Degraded, Detail: err.Error()}
	}
	return Probe{Status: Healthy}
}
