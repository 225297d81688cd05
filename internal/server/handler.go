// Package server exposes the service over HTTP with gin.
package server

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KaramelBytes/insightloom/internal/apperr"
	"github.com/KaramelBytes/insightloom/internal/health"
	"github.com/KaramelBytes/insightloom/internal/ingest"
	"github.com/KaramelBytes/insightloom/internal/model"
	"github.com/KaramelBytes/insightloom/internal/service"
)

// API is the part of *service.Service the handlers use.
type API interface {
	Ingest(ctx context.Context, filename string, r io.Reader, size int64) (service.IngestResult, error)
	Job(id string) (ingest.Job, error)
	ListReports(ctx context.Context) ([]*model.Report, error)
	GetReport(ctx context.Context, id string) (*model.Report, error)
	DeleteReport(ctx context.Context, id string) error
	GenerateInsights(ctx context.Context, id string) (*model.Report, error)
	AskFollowUp(ctx context.Context, id, question string) (service.FollowUpResult, error)
	Health(ctx context.Context) health.Report
	MaxUploadBytes() int64
}

// Handler serves the REST endpoints.
type Handler struct {
	api    API
	logger *zap.Logger
}

// NewHandler returns a Handler over api.
func NewHandler(api API, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{api: api, logger: logger}
}

// RegisterRoutes mounts the endpoints under /api.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.POST("/upload/", h.Upload)
		api.GET("/jobs/:id", h.GetJob)
		api.GET("/reports/", h.ListReports)
		api.GET("/reports/:id/", h.GetReport)
		api.DELETE("/reports/:id/", h.DeleteReport)
		api.POST("/reports/:id/insights/", h.GenerateInsights)
		api.POST("/reports/:id/follow-up/", h.FollowUp)
		api.GET("/health/", h.Health)
	}
}

// reportView adds the derived status to the full report.
type reportView struct {
	*model.Report
	Status model.Status `json:"status"`
}

func viewOf(r *model.Report) reportView { return reportView{Report: r, Status: r.Status()} }

// Upload handles POST /api/upload/
func (h *Handler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || errors.Is(err, multipart.ErrMessageTooLarge) {
			h.fail(c, ingest.TooLarge(h.api.MaxUploadBytes()))
			return
		}
		h.fail(c, apperr.Validation("file", "no file provided, please upload a CSV file"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.fail(c, err)
		return
	}
	defer f.Close()

	res, err := h.api.Ingest(c.Request.Context(), fh.Filename, f, fh.Size)
	if err != nil {
		h.fail(c, err)
		return
	}
	if res.Async() {
		c.JSON(http.StatusAccepted, res.Job)
		return
	}
	c.JSON(http.StatusCreated, viewOf(res.Report))
}

// GetJob handles GET /api/jobs/:id
func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.api.Job(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListReports handles GET /api/reports/
func (h *Handler) ListReports(c *gin.Context) {
	reports, err := h.api.ListReports(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	items := make([]model.ReportListItem, 0, len(reports))
	for _, r := range reports {
		items = append(items, r.ListItem())
	}
	c.JSON(http.StatusOK, gin.H{"reports": items, "total": len(items)})
}

// GetReport handles GET /api/reports/:id/
func (h *Handler) GetReport(c *gin.Context) {
	r, err := h.api.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(r))
}

// DeleteReport handles DELETE /api/reports/:id/
func (h *Handler) DeleteReport(c *gin.Context) {
	if err := h.api.DeleteReport(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GenerateInsights handles POST /api/reports/:id/insights/
func (h *Handler) GenerateInsights(c *gin.Context) {
	r, err := h.api.GenerateInsights(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(r))
}

type followUpRequest struct {
	Question string `json:"question"`
}

// FollowUp handles POST /api/reports/:id/follow-up/
func (h *Handler) FollowUp(c *gin.Context) {
	var req followUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.Validation("body", "expected a JSON object with a question"))
		return
	}
	res, err := h.api.AskFollowUp(c.Request.Context(), c.Param("id"), req.Question)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"question": res.Question,
		"answer":   res.Answer,
		"report":   viewOf(res.Report),
	})
}

// Health handles GET /api/health/
func (h *Handler) Health(c *gin.Context) {
	rep := h.api.Health(c.Request.Context())
	code := http.StatusOK
	if rep.Overall == health.Error {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, rep)
}

// StatusOf maps an error kind to its HTTP status.
func StatusOf(err error) int {
	switch apperr.Kind(err) {
	case "validation":
		return http.StatusBadRequest
	case "parse":
		return http.StatusUnprocessableEntity
	case "llm":
		return http.StatusBadGateway
	case "llm_config":
		return http.StatusServiceUnavailable
	case "not_found":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	code := StatusOf(err)
	kind := apperr.Kind(err)
	msg := err.Error()
	switch {
	case errors.Is(err, ingest.ErrClosed):
		code, msg = http.StatusServiceUnavailable, "server is shutting down"
	case code == http.StatusInternalServerError:
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("kind", kind),
			zap.Error(err))
		msg = "internal error"
	default:
		h.logger.Info("request rejected",
			zap.String("path", c.FullPath()),
			zap.String("kind", kind),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(code, gin.H{"error": msg, "kind": kind})
}
