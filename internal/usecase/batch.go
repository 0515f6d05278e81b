package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"go.ngs.io/dsg-ingest/internal/logger"
)

// BatchItem is the outcome of one request of a batch.
type BatchItem struct {
	Request LoadRequest
	Result  *LoadResult
	Err     error
}

// RunBatch executes independent loads with at most limit running at once.
// A failed load does not stop the others. Items are returned in request order.
func (uc *LoadUseCase) RunBatch(ctx context.Context, reqs []LoadRequest, limit int) []BatchItem {
	if limit < 1 {
		limit = 1
	}
	items := make([]BatchItem, len(reqs))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, req := range reqs {
		items[i].Request = req
		g.Go(func() error {
			items[i].Result, items[i].Err = uc.Execute(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return items
}

// Job states before a load reports its own status.
const (
	JobQueued  = "queued"
	JobRunning = "running"
)

// Job is a load submitted to a Jobs tracker.
type Job struct {
	ID         string      `json:"id"`
	Status     string      `json:"status"`
	Request    LoadRequest `json:"request"`
	Result     *LoadResult `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

type executor interface {
	execute(ctx context.Context, id string, req LoadRequest) (*LoadResult, error)
}

// Jobs runs submitted loads in the background with bounded concurrency and
// keeps their state in memory.
type Jobs struct {
	exec executor
	sem  *semaphore.Weighted
	log  logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string
}

// NewJobs creates a tracker running at most maxConcurrent loads of uc.
func NewJobs(uc *LoadUseCase, maxConcurrent int, log logger.Logger) *Jobs {
	return newJobs(uc, maxConcurrent, log)
}

func newJobs(exec executor, maxConcurrent int, log logger.Logger) *Jobs {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if log == nil {
		log = logger.NopLogger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Jobs{
		exec:   exec,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*Job),
	}
}

// Submit validates req and queues it. The returned job is a snapshot.
func (j *Jobs) Submit(req LoadRequest) (Job, error) {
	if err := req.Validate(); err != nil {
		return Job{}, fmt.Errorf("invalid request: %w", err)
	}
	job := &Job{
		ID:        uuid.NewString(),
		Status:    JobQueued,
		Request:   req,
		CreatedAt: time.Now().UTC(),
	}
	j.mu.Lock()
	if j.ctx.Err() != nil {
		j.mu.Unlock()
		return Job{}, fmt.Errorf("job tracker is shut down")
	}
	j.jobs[job.ID] = job
	j.order = append(j.order, job.ID)
	snapshot := *job
	// Add and cancel are ordered by mu.
	j.wg.Add(1)
	j.mu.Unlock()

	go j.run(job.ID, req)
	return snapshot, nil
}

func (j *Jobs) run(id string, req LoadRequest) {
	defer j.wg.Done()
	if err := j.sem.Acquire(j.ctx, 1); err != nil {
		j.finish(id, nil, fmt.Errorf("canceled before start: %w", err))
		return
	}
	defer j.sem.Release(1)

	j.update(id, func(job *Job) {
		now := time.Now().UTC()
		job.Status = JobRunning
		job.StartedAt = &now
	})
	// Shutdown stops queued jobs only; a running load completes.
	res, err := j.exec.execute(context.WithoutCancel(j.ctx), id, req)
	j.finish(id, res, err)
}

func (j *Jobs) finish(id string, res *LoadResult, err error) {
	j.update(id, func(job *Job) {
		now := time.Now().UTC()
		job.FinishedAt = &now
		job.Result = res
		switch {
		case res != nil:
			job.Status = string(res.Status)
		default:
			job.Status = string(StatusFailed)
		}
		if err != nil {
			job.Error = err.Error()
		}
	})
	if err != nil {
		j.log.Warnf("job %s: %v", id, err)
	}
}

func (j *Jobs) update(id string, fn func(*Job)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if job, ok := j.jobs[id]; ok {
		fn(job)
	}
}

// Get returns a snapshot of the job with the given ID.
func (j *Jobs) Get(id string) (Job, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	job, ok := j.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// List returns snapshots of every job, newest first.
func (j *Jobs) List() []Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Job, 0, len(j.order))
	for i := len(j.order) - 1; i >= 0; i-- {
		out = append(out, *j.jobs[j.order[i]])
	}
	return out
}

// Shutdown cancels queued jobs and waits for running loads to finish or for
// ctx to end.
func (j *Jobs) Shutdown(ctx context.Context) error {
	j.mu.Lock()
	j.cancel()
	j.mu.Unlock()
	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
