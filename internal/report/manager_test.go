package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/insightloom/internal/apperr"
	"github.com/KaramelBytes/insightloom/internal/model"
	"github.com/KaramelBytes/insightloom/internal/store"
)

func newReport(name string) *model.Report {
	return &model.Report{OriginalFilename: name, RowCount: 1, Columns: []string{"a"}}
}

func TestCreateEvictsOldestBeyondRetention(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m := NewManager(store.NewMemory(), WithRetention(5))

	var created []*model.Report
	for i := 0; i < 6; i++ {
		r := newReport(fmt.Sprintf("f%d.csv", i))
		r.FilePath = filepath.Join(dir, fmt.Sprintf("f%d.csv", i))
		require.NoError(t, os.WriteFile(r.FilePath, []byte("a\n1\n"), 0o644))
		out, err := m.Create(ctx, r)
		require.NoError(t, err)
		created = append(created, out)

		list, err := m.List(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(list), 5)
	}

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 5)
	for i, r := range list {
		// newest first
		assert.Equal(t, created[5-i].ID, r.ID)
	}
	_, err = m.Get(ctx, created[0].ID)
	assert.True(t, apperr.IsNotFound(err))
	_, statErr := os.Stat(created[0].FilePath)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "evicted file removed")
	_, statErr = os.Stat(created[1].FilePath)
	assert.NoError(t, statErr)
}

func TestCreateOrdersSameInstantCreations(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManager(store.NewMemory(), WithRetention(2), WithClock(func() time.Time { return fixed }))
	ctx := context.Background()
	a, _ := m.Create(ctx, newReport("a"))
	b, _ := m.Create(ctx, newReport("b"))
	c, _ := m.Create(ctx, newReport("c"))
	assert.True(t, b.CreatedAt.After(a.CreatedAt))
	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, c.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)
}

func TestEnforceTrimsAfterCapLowered(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	big := NewManager(s, WithRetention(5))
	for i := 0; i < 5; i++ {
		_, err := big.Create(ctx, newReport("x"))
		require.NoError(t, err)
	}
	small := NewManager(s, WithRetention(2))
	require.NoError(t, small.Enforce(ctx))
	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDeleteIsExplicitAndReportsMissing(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemory())
	r, err := m.Create(ctx, newReport("a"))
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, r.ID))

	err = m.Delete(ctx, r.ID)
	var nf *apperr.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, r.ID, nf.ID)

	_, err = m.SetInsights(ctx, r.ID, "late")
	assert.True(t, apperr.IsNotFound(err))
}

func TestSetInsightsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemory())
	r, err := m.Create(ctx, newReport("a"))
	require.NoError(t, err)

	first, err := m.SetInsights(ctx, r.ID, "first")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInsightsGenerated, first.Status())

	second, err := m.SetInsights(ctx, r.ID, "second")
	require.NoError(t, err)
	assert.Equal(t, "first", second.Insights)
}

func TestFollowUpsCommitInTicketOrder(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemory())
	r, err := m.Create(ctx, newReport("a"))
	require.NoError(t, err)

	t1, err := m.BeginFollowUp(ctx, r.ID)
	require.NoError(t, err)
	t2, err := m.BeginFollowUp(ctx, r.ID)
	require.NoError(t, err)

	// the second answer arrives first and must wait
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := t2.Commit(ctx, "Q2", "A2")
		assert.NoError(t, err)
	}()
	select {
	case <-done:
		t.Fatal("second ticket committed before the first")
	case <-time.After(50 * time.Millisecond):
	}
	_, err = t1.Commit(ctx, "Q1", "A1")
	require.NoError(t, err)
	<-done

	got, err := m.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, got.FollowUpAnswers, 2)
	assert.Equal(t, "Q1", got.FollowUpAnswers[0].Question)
	assert.Equal(t, "A1", got.FollowUpAnswers[0].Answer)
	assert.Equal(t, "Q2", got.FollowUpAnswers[1].Question)
}

func TestAbandonedTicketUnblocksSuccessor(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemory())
	r, _ := m.Create(ctx, newReport("a"))

	t1, _ := m.BeginFollowUp(ctx, r.ID)
	t2, _ := m.BeginFollowUp(ctx, r.ID)
	t1.Abandon()
	t1.Abandon()
	_, err := t2.Commit(ctx, "Q2", "A2")
	require.NoError(t, err)
	_, err = t2.Commit(ctx, "again", "again")
	assert.Error(t, err)

	got, _ := m.Get(ctx, r.ID)
	require.Len(t, got.FollowUpAnswers, 1)
	assert.Equal(t, "Q2", got.FollowUpAnswers[0].Question)
}

func TestManyConcurrentFollowUpsKeepAskOrder(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemory())
	r, _ := m.Create(ctx, newReport("a"))

	const n = 20
	tickets := make([]*Ticket, n)
	for i := range tickets {
		tk, err := m.BeginFollowUp(ctx, r.ID)
		require.NoError(t, err)
		tickets[i] = tk
	}
	var wg sync.WaitGroup
	for i := n - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := tickets[i].Commit(ctx, fmt.Sprintf("Q%d", i), fmt.Sprintf("A%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, _ := m.Get(ctx, r.ID)
	require.Len(t, got.FollowUpAnswers, n)
	for i, f := range got.FollowUpAnswers {
		assert.Equal(t, fmt.Sprintf("Q%d", i), f.Question)
	}
	m.slotsMu.Lock()
	assert.Empty(t, m.slots, "slots released")
	m.slotsMu.Unlock()
}

func TestFollowUpOnDeletedReportLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	m := NewManager(s)
	r, _ := m.Create(ctx, newReport("a"))
	tk, err := m.BeginFollowUp(ctx, r.ID)
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, r.ID))

	_, err = tk.Commit(ctx, "q", "a")
	assert.True(t, apperr.IsNotFound(err))
	all, _ := s.List(ctx)
	assert.Empty(t, all)
}

type failingStore struct{ store.Store }

func (failingStore) Create(context.Context, *model.Report) error { return errors.New("disk full") }

func TestCreateSurfacesPersistenceError(t *testing.T) {
	m := NewManager(failingStore{store.NewMemory()})
	_, err := m.Create(context.Background(), newReport("a"))
	var pe *apperr.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "create", pe.Op)
}
