package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/KaramelBytes/insightloom/internal/model"
)

// Memory is an in-process Store. Reports are deep-copied on the way in and out.
type Memory struct {
	mu      sync.RWMutex
	reports map[string]memEntry
	seq     int64
	closed  bool
}

type memEntry struct {
	seq    int64
	report *model.Report
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{reports: make(map[string]memEntry)}
}

var errClosed = fmt.Errorf("memory store closed")

func (m *Memory) Create(ctx context.Context, r *model.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	if _, ok := m.reports[r.ID]; ok {
		return fmt.Errorf("memory: duplicate report id %s", r.ID)
	}
	m.seq++
	m.reports[r.ID] = memEntry{seq: m.seq, report: r.Clone()}
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*model.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errClosed
	}
	e, ok := m.reports[id]
	if !ok {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	return e.report.Clone(), nil
}

func (m *Memory) List(ctx context.Context) ([]*model.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errClosed
	}
	entries := make([]memEntry, 0, len(m.reports))
	for _, e := range m.reports {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].report.CreatedAt, entries[j].report.CreatedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return entries[i].seq > entries[j].seq
	})
	out := make([]*model.Report, len(entries))
	for i, e := range entries {
		out[i] = e.report.Clone()
	}
	return out, nil
}

func (m *Memory) Update(ctx context.Context, r *model.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	e, ok := m.reports[r.ID]
	if !ok {
		return fmt.Errorf("report %s: %w", r.ID, ErrNotFound)
	}
	cp := e.report.Clone()
	cp.Insights = r.Insights
	cp.FollowUpAnswers = append([]model.FollowUp(nil), r.FollowUpAnswers...)
	cp.Warnings = append([]string(nil), r.Warnings...)
	cp.UpdatedAt = r.UpdatedAt
	e.report = cp
	m.reports[r.ID] = e
	return nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	if _, ok := m.reports[id]; !ok {
		return fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	delete(m.reports, id)
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errClosed
	}
	return ctx.Err()
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
