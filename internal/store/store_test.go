package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/insightloom/internal/analysis"
	"github.com/KaramelBytes/insightloom/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleReport(id string, created time.Time) *model.Report {
	return &model.Report{
		ID:               id,
		OriginalFilename: id + ".csv",
		RowCount:         4,
		Columns:          []string{"age", "city"},
		ColumnStats: map[string]analysis.ColumnStats{
			"age": {Kind: analysis.KindNumeric, Numeric: &analysis.NumericStats{Mean: 31.67, Median: 30, Min: 25, Max: 40, NullCount: 1, TotalCount: 3}},
			"city": {Kind: analysis.KindCategorical, Categorical: &analysis.CategoricalStats{
				TopValues: []analysis.ValueCount{{Value: "NY", Count: 3}, {Value: "LA", Count: 1}}, DistinctCount: 2, TotalCount: 4,
			}},
		},
		PreviewData: []map[string]any{{"age": 25.0, "city": "NY"}, {"age": nil, "city": "LA"}},
		FilePath:    "/tmp/" + id + ".csv",
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"sqlite": newTestSQLiteStore(t),
		"memory": NewMemory(),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now().UTC()
			in := sampleReport("r1", now)
			require.NoError(t, s.Create(ctx, in))

			got, err := s.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, in.Columns, got.Columns)
			assert.Equal(t, in.ColumnStats, got.ColumnStats)
			assert.Equal(t, in.PreviewData, got.PreviewData)
			assert.Equal(t, in.FilePath, got.FilePath)
			assert.True(t, in.CreatedAt.Equal(got.CreatedAt))
			assert.Empty(t, got.Insights)

			got.Insights = "trend up"
			got.FollowUpAnswers = append(got.FollowUpAnswers, model.FollowUp{Question: "q", Answer: "a", AskedAt: now})
			got.UpdatedAt = now.Add(time.Second)
			require.NoError(t, s.Update(ctx, got))

			again, err := s.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, "trend up", again.Insights)
			require.Len(t, again.FollowUpAnswers, 1)
			assert.Equal(t, "q", again.FollowUpAnswers[0].Question)
		})
	}
}

func TestStoreNotFound(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, "missing"), ErrNotFound)
			assert.ErrorIs(t, s.Update(ctx, sampleReport("missing", time.Now())), ErrNotFound)
		})
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Now().UTC()
			require.NoError(t, s.Create(ctx, sampleReport("old", base)))
			require.NoError(t, s.Create(ctx, sampleReport("new", base.Add(time.Minute))))
			// same timestamp as "new": insertion order breaks the tie
			require.NoError(t, s.Create(ctx, sampleReport("newer", base.Add(time.Minute))))

			list, err := s.List(ctx)
			require.NoError(t, err)
			ids := make([]string, len(list))
			for i, r := range list {
				ids[i] = r.ID
			}
			assert.Equal(t, []string{"newer", "new", "old"}, ids)

			require.NoError(t, s.Delete(ctx, "new"))
			list, err = s.List(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 2)
		})
	}
}

func TestStorePing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Ping(context.Background()))
			require.NoError(t, s.Close())
			assert.Error(t, s.Ping(context.Background()))
		})
	}
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	in := sampleReport("r", time.Now())
	require.NoError(t, m.Create(ctx, in))
	in.Columns[0] = "mutated"
	got, err := m.Get(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, "age", got.Columns[0])
}
