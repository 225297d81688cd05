package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/KaramelBytes/insightloom/internal/analysis"
	"github.com/KaramelBytes/insightloom/internal/apperr"
	"github.com/KaramelBytes/insightloom/internal/model"
)

// ReportCreator persists a freshly analyzed report. *report.Manager satisfies it.
type ReportCreator interface {
	Create(ctx context.Context, r *model.Report) (*model.Report, error)
}

// Processor turns a spooled upload into a stored report.
type Processor struct {
	reports     ReportCreator
	opt         analysis.Options
	previewRows int
	logger      *zap.Logger
}

// NewProcessor returns a Processor. previewRows <= 0 uses the sample size.
func NewProcessor(reports ReportCreator, opt analysis.Options, previewRows int, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if previewRows > 0 && previewRows > opt.SampleRows {
		opt.SampleRows = previewRows
	}
	return &Processor{reports: reports, opt: opt, previewRows: previewRows, logger: logger}
}

// Process reads, aggregates and stores up. On failure the spooled file is removed.
func (p *Processor) Process(ctx context.Context, up *Upload) (*model.Report, error) {
	start := time.Now()
	rep, err := p.process(ctx, up)
	if err != nil {
		if derr := up.Discard(); derr != nil {
			p.logger.Warn("discard upload", zap.String("upload_id", up.ID), zap.Error(derr))
		}
		p.logger.Warn("ingest failed",
			zap.String("upload_id", up.ID),
			zap.String("filename", up.Filename),
			zap.String("kind", apperr.Kind(err)),
			zap.Error(err))
		return nil, err
	}
	p.logger.Info("ingest complete",
		zap.String("report_id", rep.ID),
		zap.String("filename", up.Filename),
		zap.Int64("bytes", up.Size),
		zap.Int("rows", rep.RowCount),
		zap.Duration("took", time.Since(start)))
	return rep, nil
}

func (p *Processor) process(ctx context.Context, up *Upload) (*model.Report, error) {
	rd, err := Open(up.Path, up.Filename, up.UTF8)
	if err != nil {
		return nil, err
	}
	defer rd.Close()

	res, err := analysis.Analyze(ctx, rd, p.opt)
	if err != nil {
		return nil, err
	}
	if res.RowCount == 0 {
		return nil, apperr.Validation("file", "the uploaded file contains no data rows")
	}
	warnings := append(append([]string(nil), rd.Warnings()...), res.Warnings...)
	return p.reports.Create(ctx, &model.Report{
		OriginalFilename: up.Filename,
		RowCount:         res.RowCount,
		Columns:          res.Columns,
		ColumnStats:      res.Stats,
		PreviewData:      res.PreviewRecords(p.previewRows),
		Warnings:         warnings,
		FilePath:         up.Path,
	})
}
