// Package report owns the Report lifecycle: creation with eviction of the
// oldest reports beyond the retention cap, explicit deletion, and serialized
// per-report mutation of insights and follow-ups.
package report

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KaramelBytes/insightloom/internal/apperr"
	"github.com/KaramelBytes/insightloom/internal/model"
	"github.com/KaramelBytes/insightloom/internal/store"
)

// DefaultRetention is the number of reports kept when none is configured.
const DefaultRetention = 5

// Manager mediates all access to persisted reports.
type Manager struct {
	store     store.Store
	retention int
	logger    *zap.Logger
	now       func() time.Time

	// mu orders creation, eviction and deletion against listing so a listing
	// never observes more than retention reports.
	mu          sync.RWMutex
	lastCreated time.Time

	slotsMu sync.Mutex
	slots   map[string]*slot
}

// slot is the exclusive section for one report id. Follow-up tickets are
// served strictly in issue order.
type slot struct {
	mu      sync.Mutex
	cond    *sync.Cond
	refs    int
	next    uint64
	serving uint64
}

// Option customizes a Manager.
type Option func(*Manager)

// WithRetention sets the retention cap. Values below 1 are ignored.
func WithRetention(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.retention = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a Manager over s.
func NewManager(s store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:     s,
		retention: DefaultRetention,
		logger:    zap.NewNop(),
		now:       time.Now,
		slots:     make(map[string]*slot),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Retention returns the configured cap.
func (m *Manager) Retention() int { return m.retention }

// Create assigns an id and timestamps, persists r, and evicts the oldest
// reports beyond the retention cap before returning.
func (m *Manager) Create(ctx context.Context, r *model.Report) (*model.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r = r.Clone()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := m.now().UTC()
	// keep created_at strictly increasing so recency is unambiguous
	if !now.After(m.lastCreated) {
		now = m.lastCreated.Add(time.Nanosecond)
	}
	r.CreatedAt, r.UpdatedAt = now, now

	if err := m.store.Create(ctx, r); err != nil {
		return nil, &apperr.PersistenceError{Op: "create", Err: err}
	}
	m.lastCreated = now
	m.logger.Info("report created",
		zap.String("report_id", r.ID),
		zap.String("filename", r.OriginalFilename),
		zap.Int("rows", r.RowCount),
		zap.Int("columns", len(r.Columns)))

	if err := m.evictLocked(ctx); err != nil {
		// List still caps its output, so the cap holds for readers.
		m.logger.Error("eviction failed", zap.Error(err))
	}
	return r, nil
}

// Enforce evicts anything beyond the retention cap, e.g. after the cap was lowered.
func (m *Manager) Enforce(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictLocked(ctx)
}

func (m *Manager) evictLocked(ctx context.Context) error {
	all, err := m.store.List(ctx)
	if err != nil {
		return &apperr.PersistenceError{Op: "list", Err: err}
	}
	if len(all) <= m.retention {
		return nil
	}
	var errs []error
	for _, old := range all[m.retention:] {
		if err := m.store.Delete(ctx, old.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		m.removeFile(old)
		m.logger.Info("report evicted", zap.String("report_id", old.ID), zap.Time("created_at", old.CreatedAt))
	}
	if len(errs) > 0 {
		return &apperr.PersistenceError{Op: "evict", Err: errors.Join(errs...)}
	}
	return nil
}

// Get returns a copy of the report.
func (m *Manager) Get(ctx context.Context, id string) (*model.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, storeErr("get", id, err)
	}
	return r, nil
}

// List returns retained reports, newest first. Never more than the cap.
func (m *Manager) List(ctx context.Context) ([]*model.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, &apperr.PersistenceError{Op: "list", Err: err}
	}
	if len(all) > m.retention {
		all = all[:m.retention]
	}
	return all, nil
}

// Delete removes a report and its spooled file. A missing id is a NotFoundError.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.store.Get(ctx, id)
	if err != nil {
		return storeErr("get", id, err)
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return storeErr("delete", id, err)
	}
	m.removeFile(r)
	m.logger.Info("report deleted", zap.String("report_id", id))
	return nil
}

// SetInsights stores insights once. If the report already has insights it is
// returned unchanged; if it no longer exists a NotFoundError is returned.
func (m *Manager) SetInsights(ctx context.Context, id, text string) (*model.Report, error) {
	s := m.acquire(id)
	defer m.release(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, storeErr("get", id, err)
	}
	if r.HasInsights() {
		return r, nil
	}
	next := r.Clone()
	next.Insights = text
	next.UpdatedAt = m.now().UTC()
	if err := m.store.Update(ctx, next); err != nil {
		return nil, storeErr("update", id, err)
	}
	return next, nil
}

// Ticket reserves a position in a report's follow-up sequence. Exactly one of
// Commit or Abandon must be called.
type Ticket struct {
	m    *Manager
	id   string
	seq  uint64
	slot *slot
	once sync.Once
}

// BeginFollowUp reserves the next follow-up position for the report.
func (m *Manager) BeginFollowUp(ctx context.Context, id string) (*Ticket, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return nil, err
	}
	s := m.acquire(id)
	s.mu.Lock()
	seq := s.next
	s.next++
	s.mu.Unlock()
	return &Ticket{m: m, id: id, seq: seq, slot: s}, nil
}

// Commit appends the exchange after every earlier ticket on the same report
// has committed or abandoned.
func (t *Ticket) Commit(ctx context.Context, question, answer string) (*model.Report, error) {
	var (
		out *model.Report
		err error
	)
	done := false
	t.once.Do(func() {
		done = true
		t.turn(func() {
			out, err = t.m.appendFollowUp(ctx, t.id, question, answer)
		})
	})
	if !done {
		return nil, errors.New("follow-up ticket already used")
	}
	return out, err
}

// Abandon gives up the position without writing. Safe to call after Commit.
func (t *Ticket) Abandon() {
	t.once.Do(func() { t.turn(func() {}) })
}

func (t *Ticket) turn(fn func()) {
	s := t.slot
	s.mu.Lock()
	for s.serving != t.seq {
		s.cond.Wait()
	}
	fn()
	s.serving++
	s.cond.Broadcast()
	s.mu.Unlock()
	t.m.release(t.id)
}

func (m *Manager) appendFollowUp(ctx context.Context, id, question, answer string) (*model.Report, error) {
	r, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, storeErr("get", id, err)
	}
	next := r.Clone()
	now := m.now().UTC()
	next.FollowUpAnswers = append(next.FollowUpAnswers, model.FollowUp{Question: question, Answer: answer, AskedAt: now})
	next.UpdatedAt = now
	if err := m.store.Update(ctx, next); err != nil {
		return nil, storeErr("update", id, err)
	}
	return next, nil
}

func (m *Manager) acquire(id string) *slot {
	m.slotsMu.Lock()
	defer m.slotsMu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		s = &slot{}
		s.cond = sync.NewCond(&s.mu)
		m.slots[id] = s
	}
	s.refs++
	return s
}

func (m *Manager) release(id string) {
	m.slotsMu.Lock()
	defer m.slotsMu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return
	}
	s.refs--
	if s.refs <= 0 {
		delete(m.slots, id)
	}
}

func (m *Manager) removeFile(r *model.Report) {
	if r == nil || r.FilePath == "" {
		return
	}
	if err := os.Remove(r.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("remove spooled file", zap.String("report_id", r.ID), zap.Error(err))
	}
}

func storeErr(op, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(id)
	}
	return &apperr.PersistenceError{Op: op, Err: err}
}
