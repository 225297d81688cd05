// Package service is the application boundary used by the HTTP API and the
// CLI. It ties ingest, report lifecycle, insight generation and health
// together and owns their cross-cutting rules.
package service

import (
	"context"
	"io"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/KaramelBytes/insightloom/internal/apperr"
	"github.com/KaramelBytes/insightloom/internal/health"
	"github.com/KaramelBytes/insightloom/internal/ingest"
	"github.com/KaramelBytes/insightloom/internal/model"
	"github.com/KaramelBytes/insightloom/internal/report"
	"github.com/KaramelBytes/insightloom/internal/summary"
)

// MaxQuestionRunes bounds a follow-up question after trimming.
const MaxQuestionRunes = 500

// Generator produces insight text from a compact summary.
// *insight.Generator satisfies it.
type Generator interface {
	Initial(ctx context.Context, s *summary.Summary) (string, error)
	FollowUp(ctx context.Context, s *summary.Summary, insights string, history []model.FollowUp, question string) (string, error)
}

// HealthChecker is satisfied by *health.Monitor.
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

// Deps wires a Service.
type Deps struct {
	Reports   *report.Manager
	Runner    *ingest.Runner
	Generator Generator
	Health    HealthChecker
	// UploadDir receives spooled uploads.
	UploadDir      string
	MaxUploadBytes int64
	Summary        summary.Options
	Logger         *zap.Logger
}

// Service implements the InsightLoom operations.
type Service struct {
	reports   *report.Manager
	runner    *ingest.Runner
	gen       Generator
	health    HealthChecker
	uploadDir string
	maxBytes  int64
	sumOpt    summary.Options
	logger    *zap.Logger

	insights singleflight.Group
}

// New returns a Service over d.
func New(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = ingest.DefaultMaxBytes
	}
	if d.Summary.MaxBytes <= 0 {
		d.Summary = summary.DefaultOptions()
	}
	return &Service{
		reports:   d.Reports,
		runner:    d.Runner,
		gen:       d.Generator,
		health:    d.Health,
		uploadDir: d.UploadDir,
		maxBytes:  d.MaxUploadBytes,
		sumOpt:    d.Summary,
		logger:    d.Logger,
	}
}

// IngestResult is the outcome of an upload. Report is nil while the job runs
// in the background.
type IngestResult struct {
	Job    ingest.Job
	Report *model.Report
}

// Async reports whether the caller has to poll the job.
func (r IngestResult) Async() bool { return r.Report == nil }

// Ingest validates and spools r, then analyzes it. Small files are analyzed
// before returning; larger ones return a queued job. size < 0 means unknown.
func (s *Service) Ingest(ctx context.Context, filename string, r io.Reader, size int64) (IngestResult, error) {
	up, err := s.spool(filename, r, size)
	if err != nil {
		return IngestResult{}, err
	}
	job, rep, err := s.runner.Submit(ctx, up)
	if err != nil {
		return IngestResult{Job: job}, err
	}
	return IngestResult{Job: job, Report: rep}, nil
}

// IngestAsync is Ingest without waiting, whatever the size.
func (s *Service) IngestAsync(ctx context.Context, filename string, r io.Reader, size int64) (ingest.Job, error) {
	up, err := s.spool(filename, r, size)
	if err != nil {
		return ingest.Job{}, err
	}
	return s.runner.Enqueue(up)
}

func (s *Service) spool(filename string, r io.Reader, size int64) (*ingest.Upload, error) {
	if err := ingest.Validate(filename, size, s.maxBytes); err != nil {
		return nil, err
	}
	up, err := ingest.Spool(s.uploadDir, filename, r, s.maxBytes)
	if err != nil {
		return nil, err
	}
	return up, nil
}

// MaxUploadBytes is the accepted file size.
func (s *Service) MaxUploadBytes() int64 { return s.maxBytes }

// Job returns an ingest job by id.
func (s *Service) Job(id string) (ingest.Job, error) {
	j, ok := s.runner.Job(id)
	if !ok {
		return ingest.Job{}, &apperr.NotFoundError{Kind: "job", ID: id}
	}
	return j, nil
}

// ListReports returns the retained reports, newest first.
func (s *Service) ListReports(ctx context.Context) ([]*model.Report, error) {
	return s.reports.List(ctx)
}

// GetReport returns one report.
func (s *Service) GetReport(ctx context.Context, id string) (*model.Report, error) {
	return s.reports.Get(ctx, id)
}

// DeleteReport removes a report and its spooled file.
func (s *Service) DeleteReport(ctx context.Context, id string) error {
	return s.reports.Delete(ctx, id)
}

// Summary returns the compact summary sent to the text-generation endpoint
// for a report.
func (s *Service) Summary(ctx context.Context, id string) (*summary.Summary, error) {
	rep, err := s.reports.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.compact(rep)
}

func (s *Service) compact(rep *model.Report) (*summary.Summary, error) {
	return summary.Compact(
		summary.Meta{Filename: rep.OriginalFilename, RowCount: rep.RowCount},
		rep.Columns, rep.ColumnStats, s.sumOpt)
}

// GenerateInsights produces the initial insights for a report once. A report
// that already has insights is returned unchanged without an external call.
// Concurrent calls for the same report share one call, which keeps running if
// the caller goes away; its result is stored only if the report still exists.
func (s *Service) GenerateInsights(ctx context.Context, id string) (*model.Report, error) {
	rep, err := s.reports.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rep.HasInsights() {
		return rep, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := s.insights.DoChan(id, func() (any, error) {
		return s.generate(detached, id)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Report).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) generate(ctx context.Context, id string) (*model.Report, error) {
	rep, err := s.reports.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rep.HasInsights() {
		return rep, nil
	}
	sum, err := s.compact(rep)
	if err != nil {
		return nil, err
	}
	text, err := s.gen.Initial(ctx, sum)
	if err != nil {
		s.logger.Warn("insights failed", zap.String("report_id", id), zap.String("kind", apperr.Kind(err)), zap.Error(err))
		return nil, err
	}
	out, err := s.reports.SetInsights(ctx, id, text)
	if err != nil {
		if apperr.IsNotFound(err) {
			s.logger.Info("report deleted while generating insights, result dropped", zap.String("report_id", id))
		}
		return nil, err
	}
	s.logger.Info("insights generated", zap.String("report_id", id))
	return out, nil
}

// FollowUpResult is one answered question and the updated report.
type FollowUpResult struct {
	Question string
	Answer   string
	Report   *model.Report
}

// AskFollowUp answers question in the context of the report and appends the
// exchange. Exchanges on one report are stored in the order they were asked.
func (s *Service) AskFollowUp(ctx context.Context, id, question string) (FollowUpResult, error) {
	q, err := normalizeQuestion(question)
	if err != nil {
		return FollowUpResult{}, err
	}
	ticket, err := s.reports.BeginFollowUp(ctx, id)
	if err != nil {
		return FollowUpResult{}, err
	}
	detached := context.WithoutCancel(ctx)

	answer, err := s.answer(detached, id, q)
	if err != nil {
		ticket.Abandon()
		return FollowUpResult{}, err
	}
	rep, err := ticket.Commit(detached, q, answer)
	if err != nil {
		return FollowUpResult{}, err
	}
	s.logger.Info("follow-up answered", zap.String("report_id", id), zap.Int("follow_ups", len(rep.FollowUpAnswers)))
	return FollowUpResult{Question: q, Answer: answer, Report: rep}, nil
}

func (s *Service) answer(ctx context.Context, id, question string) (string, error) {
	rep, err := s.reports.Get(ctx, id)
	if err != nil {
		return "", err
	}
	sum, err := s.compact(rep)
	if err != nil {
		return "", err
	}
	return s.gen.FollowUp(ctx, sum, rep.Insights, rep.FollowUpAnswers, question)
}

func normalizeQuestion(q string) (string, error) {
	q = strings.TrimSpace(q)
	switch {
	case q == "":
		return "", apperr.Validation("question", "question is required")
	case utf8.RuneCountInString(q) > MaxQuestionRunes:
		return "", apperr.Validation("question", "question must be at most %d characters", MaxQuestionRunes)
	}
	return q, nil
}

// Health runs the health probes.
func (s *Service) Health(ctx context.Context) health.Report {
	return s.health.Check(ctx)
}

// Shutdown stops the ingest pool, waiting for running jobs until ctx ends.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.runner.Shutdown(ctx)
}
