package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/KaramelBytes/insightloom/internal/apperr"
	"github.com/KaramelBytes/insightloom/internal/model"
)

// JobStatus is the lifecycle state of an ingest job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job tracks one upload through analysis.
type Job struct {
	ID         string    `json:"job_id"`
	Filename   string    `json:"filename"`
	Status     JobStatus `json:"status"`
	ReportID   string    `json:"report_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Finished reports whether the job reached a terminal state.
func (j Job) Finished() bool { return j.Status == JobDone || j.Status == JobFailed }

// DefaultJobHistory bounds how many finished jobs stay pollable.
const DefaultJobHistory = 100

// RunnerConfig sizes the pool.
type RunnerConfig struct {
	Workers int
	// Uploads smaller than this are awaited by Submit.
	AsyncThreshold int64
	JobHistory     int
}

// Runner executes ingest jobs on a bounded pool.
type Runner struct {
	proc      *Processor
	sem       *semaphore.Weighted
	sf        singleflight.Group
	threshold int64
	history   int
	logger    *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	jobs   map[string]*Job
	order  []string
	closed bool
}

// ErrClosed is returned by Submit after Shutdown.
var ErrClosed = errors.New("ingest: runner is shut down")

// NewRunner starts a pool over proc.
func NewRunner(proc *Processor, cfg RunnerConfig, logger *zap.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.JobHistory <= 0 {
		cfg.JobHistory = DefaultJobHistory
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		proc:      proc,
		sem:       semaphore.NewWeighted(int64(cfg.Workers)),
		threshold: cfg.AsyncThreshold,
		history:   cfg.JobHistory,
		logger:    logger,
		baseCtx:   ctx,
		cancel:    cancel,
		jobs:      make(map[string]*Job),
	}
}

// IsAsync reports whether an upload of size bytes is processed in the background.
func (r *Runner) IsAsync(size int64) bool {
	return r.threshold > 0 && size >= r.threshold
}

// Submit queues up. Small uploads are awaited and return the report; large
// ones return immediately with a queued job. Work is detached from ctx: a
// caller that goes away only stops waiting.
func (r *Runner) Submit(ctx context.Context, up *Upload) (Job, *model.Report, error) {
	async := r.IsAsync(up.Size)
	job, done, err := r.start(up, async)
	if err != nil || async {
		return job, nil, err
	}
	select {
	case res := <-done:
		j, _ := r.Job(job.ID)
		return j, res.report, res.err
	case <-ctx.Done():
		j, _ := r.Job(job.ID)
		return j, nil, ctx.Err()
	}
}

// Enqueue queues up and returns without waiting, whatever its size.
func (r *Runner) Enqueue(up *Upload) (Job, error) {
	job, _, err := r.start(up, true)
	return job, err
}

func (r *Runner) start(up *Upload, async bool) (Job, <-chan result, error) {
	job, err := r.newJob(up)
	if err != nil {
		_ = up.Discard()
		return Job{}, nil, err
	}
	r.logger.Info("ingest job queued",
		zap.String("job_id", job.ID),
		zap.String("filename", up.Filename),
		zap.Int64("bytes", up.Size),
		zap.Bool("async", async))
	done := make(chan result, 1)
	go func() {
		defer r.wg.Done()
		done <- r.run(job.ID, up)
	}()
	return job, done, nil
}

type result struct {
	report *model.Report
	err    error
}

func (r *Runner) run(jobID string, up *Upload) result {
	if err := r.sem.Acquire(r.baseCtx, 1); err != nil {
		_ = up.Discard()
		r.finish(jobID, nil, err)
		return result{err: err}
	}
	defer r.sem.Release(1)
	r.update(jobID, func(j *Job) { j.Status = JobRunning })

	// identical content in flight is aggregated once
	v, err, shared := r.sf.Do(up.Digest, func() (any, error) {
		return r.proc.Process(r.baseCtx, up)
	})
	var rep *model.Report
	if err == nil {
		rep = v.(*model.Report).Clone()
		if shared && rep.FilePath != up.Path {
			_ = up.Discard()
		}
	} else if shared {
		_ = up.Discard()
	}
	r.finish(jobID, rep, err)
	return result{report: rep, err: err}
}

// Job returns a snapshot of the job.
func (r *Runner) Job(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Shutdown stops accepting work and waits for running jobs until ctx ends,
// then cancels them.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	waited := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-waited
		return ctx.Err()
	}
}

// newJob registers a job and reserves its slot in the wait group.
func (r *Runner) newJob(up *Upload) (Job, error) {
	j := &Job{ID: uuid.NewString(), Filename: up.Filename, Status: JobQueued, CreatedAt: time.Now().UTC()}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Job{}, ErrClosed
	}
	r.wg.Add(1)
	r.jobs[j.ID] = j
	r.order = append(r.order, j.ID)
	r.trimLocked()
	return *j, nil
}

func (r *Runner) update(id string, fn func(*Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		fn(j)
	}
}

func (r *Runner) finish(id string, rep *model.Report, err error) {
	r.update(id, func(j *Job) {
		j.FinishedAt = time.Now().UTC()
		if err != nil {
			j.Status = JobFailed
			j.Error = err.Error()
			j.ErrorKind = apperr.Kind(err)
			if errors.Is(err, context.Canceled) {
				j.ErrorKind = "canceled"
			}
			return
		}
		j.Status = JobDone
		j.ReportID = rep.ID
	})
	r.mu.Lock()
	r.trimLocked()
	r.mu.Unlock()
}

// trimLocked drops the oldest finished jobs beyond the history bound.
// Unfinished jobs are never dropped.
func (r *Runner) trimLocked() {
	excess := len(r.order) - r.history
	if excess <= 0 {
		return
	}
	kept := r.order[:0]
	for _, id := range r.order {
		if excess > 0 && r.jobs[id].Finished() {
			delete(r.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}
