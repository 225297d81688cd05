package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/insightloom/internal/analysis"
	"github.com/KaramelBytes/insightloom/internal/apperr"
	"github.com/KaramelBytes/insightloom/internal/model"
	"github.com/KaramelBytes/insightloom/internal/report"
	"github.com/KaramelBytes/insightloom/internal/store"
	"github.com/KaramelBytes/insightloom/internal/summary"
)

const peopleCSV = "age,city\n25,NY\n30,NY\n40,LA\n,NY\n"

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("data.CSV", 10, 100))
	assert.NoError(t, Validate("data.tsv", 10, 100))
	assert.NoError(t, Validate("data.csv", -1, 100), "unknown size is checked while spooling")

	for name, err := range map[string]error{
		"missing name": Validate(" ", 10, 100),
		"wrong ext":    Validate("data.xlsx", 10, 100),
		"too large":    Validate("data.csv", 101, 100),
		"empty":        Validate("data.csv", 0, 100),
	} {
		var ve *apperr.ValidationError
		assert.ErrorAs(t, err, &ve, name)
	}
}

func TestSpoolHashesAndDetectsEncoding(t *testing.T) {
	dir := t.TempDir()
	up, err := Spool(dir, "people.csv", iotest.OneByteReader(strings.NewReader("name\nJosé\nZoë\n")), 1<<20)
	require.NoError(t, err)
	assert.True(t, up.UTF8, "runes split across writes are still valid")
	assert.Equal(t, int64(len("name\nJosé\nZoë\n")), up.Size)
	assert.Len(t, up.Digest, 64)
	assert.Equal(t, ".csv", filepath.Ext(up.Path))
	assert.Equal(t, "people.csv", up.Filename)

	again, err := Spool(dir, "copy.csv", strings.NewReader("name\nJosé\nZoë\n"), 1<<20)
	require.NoError(t, err)
	assert.Equal(t, up.Digest, again.Digest)
	assert.NotEqual(t, up.Path, again.Path)

	latin, err := Spool(dir, "latin.csv", bytes.NewReader([]byte("name\ncaf\xe9\n")), 1<<20)
	require.NoError(t, err)
	assert.False(t, latin.UTF8)
}

func TestSpoolEnforcesCapWhileStreaming(t *testing.T) {
	dir := t.TempDir()
	_, err := Spool(dir, "big.csv", strings.NewReader(strings.Repeat("x", 101)), 100)
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = Spool(dir, "empty.csv", strings.NewReader(""), 100)
	require.ErrorAs(t, err, &ve)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected uploads leave nothing behind")
}

func spool(t *testing.T, name string, content []byte) *Upload {
	t.Helper()
	up, err := Spool(t.TempDir(), name, bytes.NewReader(content), 1<<20)
	require.NoError(t, err)
	return up
}

func readAll(t *testing.T, rd *Reader) [][]string {
	t.Helper()
	var rows [][]string
	for {
		row, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return rows
		}
		require.NoError(t, err)
		rows = append(rows, row)
	}
}

func TestOpenStripsBOMAndSniffsDelimiter(t *testing.T) {
	up := spool(t, "semi.csv", append([]byte{0xEF, 0xBB, 0xBF}, []byte("a;b;\"c;d\"\n1;2;3\n")...))
	rd, err := Open(up.Path, up.Filename, up.UTF8)
	require.NoError(t, err)
	defer rd.Close()

	assert.Equal(t, ';', rd.Delimiter())
	assert.Equal(t, []string{"a", "b", "c;d"}, rd.Header())
	assert.Equal(t, [][]string{{"1", "2", "3"}}, readAll(t, rd))
}

func TestOpenUsesTabForTSV(t *testing.T) {
	up := spool(t, "x.tsv", []byte("a,b\tc\n1,2\t3\n"))
	rd, err := Open(up.Path, up.Filename, up.UTF8)
	require.NoError(t, err)
	defer rd.Close()
	assert.Equal(t, []string{"a,b", "c"}, rd.Header())
}

func TestSniffDelimiter(t *testing.T) {
	assert.Equal(t, ',', sniffDelimiter([]byte("a,b,c\n1;2;3;4;5")))
	assert.Equal(t, '|', sniffDelimiter([]byte("a|b|c")))
	assert.Equal(t, '\t', sniffDelimiter([]byte("a\tb")))
	assert.Equal(t, ',', sniffDelimiter([]byte("single")))
	assert.Equal(t, ',', sniffDelimiter([]byte(`"x;y;z",b`)))
}

func TestOpenDecodesLatin1(t *testing.T) {
	up := spool(t, "latin.csv", []byte("name,city\ncaf\xe9,M\xfcnchen\n"))
	require.False(t, up.UTF8)
	rd, err := Open(up.Path, up.Filename, up.UTF8)
	require.NoError(t, err)
	defer rd.Close()
	assert.Equal(t, [][]string{{"café", "München"}}, readAll(t, rd))
	require.NotEmpty(t, rd.Warnings())
	assert.Contains(t, rd.Warnings()[0], "Latin-1")
}

func TestOpenNormalizesRaggedRows(t *testing.T) {
	up := spool(t, "ragged.csv", []byte("a,b,c\n1\n1,2,3,4\n"))
	rd, err := Open(up.Path, up.Filename, up.UTF8)
	require.NoError(t, err)
	defer rd.Close()
	assert.Equal(t, [][]string{{"1", "", ""}, {"1", "2", "3"}}, readAll(t, rd))
	require.Len(t, rd.Warnings(), 1)
	assert.Contains(t, rd.Warnings()[0], "line 3")
}

func TestDedupeHeader(t *testing.T) {
	assert.Equal(t,
		[]string{"a", "a.2", "Unnamed: 2", "a.1", "b"},
		dedupeHeader([]string{"a", " a ", "", "a.1", "b"}))
}

func TestParseErrorCarriesLine(t *testing.T) {
	err := parseError(&csv.ParseError{StartLine: 7, Line: 9, Column: 3, Err: csv.ErrQuote}, 1)
	var pe *apperr.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 9, pe.Line)
	assert.ErrorIs(t, err, csv.ErrQuote)
}

func newManager() *report.Manager {
	return report.NewManager(store.NewMemory())
}

func TestProcessBuildsReport(t *testing.T) {
	m := newManager()
	p := NewProcessor(m, analysis.DefaultOptions(), 2, nil)
	up := spool(t, "people.csv", []byte(peopleCSV))

	rep, err := p.Process(context.Background(), up)
	require.NoError(t, err)
	assert.Equal(t, "people.csv", rep.OriginalFilename)
	assert.Equal(t, 4, rep.RowCount)
	assert.Equal(t, []string{"age", "city"}, rep.Columns)
	assert.Len(t, rep.PreviewData, 2)
	assert.Equal(t, up.Path, rep.FilePath)

	age := rep.ColumnStats["age"]
	require.NotNil(t, age.Numeric)
	assert.Equal(t, 31.67, age.Numeric.Mean)
	assert.Equal(t, 1, age.Numeric.NullCount)
	city := rep.ColumnStats["city"]
	require.NotNil(t, city.Categorical)
	assert.Equal(t, []analysis.ValueCount{{Value: "NY", Count: 3}, {Value: "LA", Count: 1}}, city.Categorical.TopValues)

	stored, err := m.Get(context.Background(), rep.ID)
	require.NoError(t, err)
	assert.Equal(t, rep.RowCount, stored.RowCount)
}

func TestProcessPersistsHugeMagnitudes(t *testing.T) {
	db, err := store.NewSQLite(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate(context.Background()))
	m := report.NewManager(db)
	p := NewProcessor(m, analysis.DefaultOptions(), 2, nil)
	up := spool(t, "huge.csv", []byte("x,city\n1e307,NY\n2e307,LA\n3e307,NY\n"))

	rep, err := p.Process(context.Background(), up)
	require.NoError(t, err)

	stored, err := m.Get(context.Background(), rep.ID)
	require.NoError(t, err)
	x := stored.ColumnStats["x"].Numeric
	require.NotNil(t, x)
	assert.InEpsilon(t, 2e307, x.Mean, 1e-9)
	assert.Equal(t, 3e307, x.Max)

	s, err := summary.Compact(summary.Meta{Filename: stored.OriginalFilename, RowCount: stored.RowCount}, stored.Columns, stored.ColumnStats, summary.DefaultOptions())
	require.NoError(t, err)
	_, err = s.JSON()
	require.NoError(t, err)
}

func TestProcessRejectsHeaderOnlyFile(t *testing.T) {
	p := NewProcessor(newManager(), analysis.DefaultOptions(), 10, nil)
	up := spool(t, "header.csv", []byte("a,b\n"))
	_, err := p.Process(context.Background(), up)
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
	_, statErr := os.Stat(up.Path)
	assert.True(t, os.IsNotExist(statErr), "failed uploads are discarded")
}

func TestRunnerAwaitsSmallUploads(t *testing.T) {
	r := NewRunner(NewProcessor(newManager(), analysis.DefaultOptions(), 10, nil), RunnerConfig{Workers: 1, AsyncThreshold: 1 << 20}, nil)
	defer r.Shutdown(context.Background())

	job, rep, err := r.Submit(context.Background(), spool(t, "people.csv", []byte(peopleCSV)))
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, JobDone, job.Status)
	assert.Equal(t, rep.ID, job.ReportID)
}

func waitJob(t *testing.T, r *Runner, id string, pred func(Job) bool) Job {
	t.Helper()
	var j Job
	require.Eventually(t, func() bool {
		var ok bool
		j, ok = r.Job(id)
		return ok && pred(j)
	}, 5*time.Second, 5*time.Millisecond)
	return j
}

func TestRunnerQueuesLargeUploads(t *testing.T) {
	r := NewRunner(NewProcessor(newManager(), analysis.DefaultOptions(), 10, nil), RunnerConfig{Workers: 1, AsyncThreshold: 1}, nil)
	defer r.Shutdown(context.Background())

	job, rep, err := r.Submit(context.Background(), spool(t, "people.csv", []byte(peopleCSV)))
	require.NoError(t, err)
	assert.Nil(t, rep)
	assert.Equal(t, JobQueued, job.Status)

	done := waitJob(t, r, job.ID, Job.Finished)
	assert.Equal(t, JobDone, done.Status)
	assert.NotEmpty(t, done.ReportID)

	bad, _, err := r.Submit(context.Background(), spool(t, "header.csv", []byte("a,b\n")))
	require.NoError(t, err)
	failed := waitJob(t, r, bad.ID, Job.Finished)
	assert.Equal(t, JobFailed, failed.Status)
	assert.Equal(t, "validation", failed.ErrorKind)
}

// gatedCreator blocks Create until released and counts calls.
type gatedCreator struct {
	inner   ReportCreator
	release chan struct{}
	calls   int32
}

func (g *gatedCreator) Create(ctx context.Context, r *model.Report) (*model.Report, error) {
	atomic.AddInt32(&g.calls, 1)
	<-g.release
	return g.inner.Create(ctx, r)
}

func TestRunnerCoalescesIdenticalUploads(t *testing.T) {
	gate := &gatedCreator{inner: newManager(), release: make(chan struct{})}
	r := NewRunner(NewProcessor(gate, analysis.DefaultOptions(), 10, nil), RunnerConfig{Workers: 2, AsyncThreshold: 1}, nil)
	defer r.Shutdown(context.Background())

	first := spool(t, "a.csv", []byte(peopleCSV))
	second := spool(t, "b.csv", []byte(peopleCSV))
	j1, _, err := r.Submit(context.Background(), first)
	require.NoError(t, err)
	j2, _, err := r.Submit(context.Background(), second)
	require.NoError(t, err)

	running := func(j Job) bool { return j.Status == JobRunning }
	waitJob(t, r, j1.ID, running)
	waitJob(t, r, j2.ID, running)
	time.Sleep(50 * time.Millisecond)
	close(gate.release)

	d1 := waitJob(t, r, j1.ID, Job.Finished)
	d2 := waitJob(t, r, j2.ID, Job.Finished)
	assert.Equal(t, int32(1), atomic.LoadInt32(&gate.calls))
	assert.Equal(t, d1.ReportID, d2.ReportID)

	var remaining int
	for _, p := range []string{first.Path, second.Path} {
		if _, err := os.Stat(p); err == nil {
			remaining++
		}
	}
	assert.Equal(t, 1, remaining, "only the stored report's file is kept")
}

func TestRunnerBoundsJobHistory(t *testing.T) {
	r := NewRunner(NewProcessor(newManager(), analysis.DefaultOptions(), 10, nil), RunnerConfig{Workers: 2, JobHistory: 3}, nil)
	defer r.Shutdown(context.Background())

	var ids []string
	for i := 0; i < 5; i++ {
		job, _, err := r.Submit(context.Background(), spool(t, "p.csv", []byte(peopleCSV+strings.Repeat("\n", i))))
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	_, ok := r.Job(ids[0])
	assert.False(t, ok)
	_, ok = r.Job(ids[4])
	assert.True(t, ok)
}

func TestRunnerEnqueueNeverWaits(t *testing.T) {
	r := NewRunner(NewProcessor(newManager(), analysis.DefaultOptions(), 10, nil), RunnerConfig{AsyncThreshold: 1 << 30}, nil)
	defer r.Shutdown(context.Background())

	job, err := r.Enqueue(spool(t, "p.csv", []byte(peopleCSV)))
	require.NoError(t, err)
	assert.Equal(t, JobQueued, job.Status)
	assert.Equal(t, JobDone, waitJob(t, r, job.ID, Job.Finished).Status)
}

func TestRunnerRejectsAfterShutdown(t *testing.T) {
	r := NewRunner(NewProcessor(newManager(), analysis.DefaultOptions(), 10, nil), RunnerConfig{}, nil)
	require.NoError(t, r.Shutdown(context.Background()))
	up := spool(t, "p.csv", []byte(peopleCSV))
	_, _, err := r.Submit(context.Background(), up)
	assert.ErrorIs(t, err, ErrClosed)
	_, statErr := os.Stat(up.Path)
	assert.True(t, os.IsNotExist(statErr))
}
