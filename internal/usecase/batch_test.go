package usecase

import (
	"context"
	"sync"
	"testing"
	"time"
)

type blockingExecutor struct {
	release chan struct{}

	mu      sync.Mutex
	running int
	peak    int
}

func (e *blockingExecutor) execute(_ context.Context, id string, _ LoadRequest) (*LoadResult, error) {
	e.mu.Lock()
	e.running++
	e.peak = max(e.peak, e.running)
	e.mu.Unlock()

	<-e.release

	e.mu.Lock()
	e.running--
	e.mu.Unlock()
	return &LoadResult{ID: id, Status: StatusCompleted, ValuesLoaded: 1}, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestJobs_BoundedConcurrency(t *testing.T) {
	exec := &blockingExecutor{release: make(chan struct{})}
	jobs := newJobs(exec, 1, nil)

	first, err := jobs.Submit(doradoRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if first.Status != JobQueued {
		t.Errorf("initial status: got %s", first.Status)
	}
	second, err := jobs.Submit(doradoRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, "a running job", func() bool {
		a, _ := jobs.Get(first.ID)
		b, _ := jobs.Get(second.ID)
		return a.Status == JobRunning || b.Status == JobRunning
	})
	a, _ := jobs.Get(first.ID)
	b, _ := jobs.Get(second.ID)
	if a.Status == JobRunning && b.Status == JobRunning {
		t.Fatal("both jobs running with a limit of one")
	}

	close(exec.release)
	waitFor(t, "both jobs to finish", func() bool {
		a, _ := jobs.Get(first.ID)
		b, _ := jobs.Get(second.ID)
		return a.FinishedAt != nil && b.FinishedAt != nil
	})
	if exec.peak != 1 {
		t.Errorf("peak concurrency: got %d, want 1", exec.peak)
	}

	list := jobs.List()
	if len(list) != 2 || list[0].ID != second.ID {
		t.Errorf("list order: %+v", list)
	}
	for _, job := range list {
		if job.Status != string(StatusCompleted) || job.Result == nil || job.Result.ID != job.ID {
			t.Errorf("job %s: %+v", job.ID, job)
		}
	}
	if err := jobs.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestJobs_SubmitInvalid(t *testing.T) {
	jobs := newJobs(&blockingExecutor{release: make(chan struct{})}, 1, nil)
	if _, err := jobs.Submit(LoadRequest{}); err == nil {
		t.Error("expected validation error")
	}
	if len(jobs.List()) != 0 {
		t.Error("invalid request was queued")
	}
}

func TestJobs_ShutdownCancelsQueued(t *testing.T) {
	exec := &blockingExecutor{release: make(chan struct{})}
	jobs := newJobs(exec, 1, nil)

	running, _ := jobs.Submit(doradoRequest())
	waitFor(t, "the first job to start", func() bool {
		j, _ := jobs.Get(running.ID)
		return j.Status == JobRunning
	})
	queued, _ := jobs.Submit(doradoRequest())

	shutdown := make(chan error, 1)
	go func() { shutdown <- jobs.Shutdown(context.Background()) }()

	waitFor(t, "the queued job to be canceled", func() bool {
		j, _ := jobs.Get(queued.ID)
		return j.FinishedAt != nil
	})
	if j, _ := jobs.Get(queued.ID); j.Status != string(StatusFailed) || j.Error == "" {
		t.Errorf("queued job: %+v", j)
	}

	close(exec.release)
	if err := <-shutdown; err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if j, _ := jobs.Get(running.ID); j.Status != string(StatusCompleted) {
		t.Errorf("running job: %+v", j)
	}
	if _, err := jobs.Submit(doradoRequest()); err == nil {
		t.Error("Submit after shutdown succeeded")
	}
}
