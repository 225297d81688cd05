// Package store persists Reports.
package store

import (
	"context"
	"errors"

	"github.com/KaramelBytes/insightloom/internal/model"
)

// ErrNotFound is returned (possibly wrapped) when an id has no report.
var ErrNotFound = errors.New("not found")

// Store is the durable report store. Implementations must be safe for
// concurrent use and must not retain caller-owned reports.
type Store interface {
	Create(ctx context.Context, r *model.Report) error
	Get(ctx context.Context, id string) (*model.Report, error)
	// List returns all reports, newest first by created_at, insertion order
	// breaking ties.
	List(ctx context.Context) ([]*model.Report, error)
	// Update persists the mutable fields: insights, follow-ups, warnings, updated_at.
	Update(ctx context.Context, r *model.Report) error
	Delete(ctx context.Context, id string) error
	// Ping performs a trivial write and read.
	Ping(ctx context.Context) error
	Close() error
}
