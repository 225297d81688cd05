package model

import (
	"time"

	"github.com/KaramelBytes/insightloom/internal/analysis"
)

// Status is derived from a Report's contents.
type Status string

const (
	StatusUploaded          Status = "uploaded"
	StatusInsightsGenerated Status = "insights_generated"
)

// FollowUp is one question/answer exchange. Append-only.
type FollowUp struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	AskedAt  time.Time `json:"asked_at"`
}

// Report is the persisted result of analyzing one dataset.
type Report struct {
	ID               string                          `json:"id"`
	OriginalFilename string                          `json:"original_filename"`
	RowCount         int                             `json:"row_count"`
	Columns          []string                        `json:"columns"`
	ColumnStats      map[string]analysis.ColumnStats `json:"column_stats"`
	PreviewData      []map[string]any                `json:"preview_data"`
	Insights         string                          `json:"insights,omitempty"`
	FollowUpAnswers  []FollowUp                      `json:"follow_up_answers"`
	Warnings         []string                        `json:"warnings,omitempty"`
	// FilePath is the spooled upload backing this report, removed with it.
	FilePath  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status reports the lifecycle stage.
func (r *Report) Status() Status {
	if r.HasInsights() {
		return StatusInsightsGenerated
	}
	return StatusUploaded
}

// HasInsights reports whether insights were generated.
func (r *Report) HasInsights() bool { return r.Insights != "" }

// Clone returns a deep copy so callers never share mutable state with the store.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	out := *r
	out.Columns = append([]string(nil), r.Columns...)
	if r.ColumnStats != nil {
		out.ColumnStats = make(map[string]analysis.ColumnStats, len(r.ColumnStats))
		for k, v := range r.ColumnStats {
			out.ColumnStats[k] = v.Clone()
		}
	}
	if r.PreviewData != nil {
		out.PreviewData = make([]map[string]any, len(r.PreviewData))
		for i, row := range r.PreviewData {
			cp := make(map[string]any, len(row))
			for k, v := range row {
				cp[k] = v
			}
			out.PreviewData[i] = cp
		}
	}
	out.FollowUpAnswers = append([]FollowUp(nil), r.FollowUpAnswers...)
	out.Warnings = append([]string(nil), r.Warnings...)
	return &out
}

// ReportListItem is the listing view: no preview or full stats.
type ReportListItem struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	RowCount         int       `json:"row_count"`
	ColumnCount      int       `json:"column_count"`
	Status           Status    `json:"status"`
	FollowUps        int       `json:"follow_up_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// ListItem returns the listing view of r.
func (r *Report) ListItem() ReportListItem {
	return ReportListItem{
		ID:               r.ID,
		OriginalFilename: r.OriginalFilename,
		RowCount:         r.RowCount,
		ColumnCount:      len(r.Columns),
		Status:           r.Status(),
		FollowUps:        len(r.FollowUpAnswers),
		CreatedAt:        r.CreatedAt,
	}
}
