package service

import (
	"context"
	"slices"
	"sync"
	"time"
)

// JobLocks is exported for the external test package.
type JobLocks = jobLocks

// ── jobLocks ───────────────────────────────────────────────

// jobLocks keeps at most one run per sync job in flight. A cron tick, a
// file event and a manual run of the same job are serialised, so its
// checkpoint only ever moves forward from the run that saved it.
type jobLocks struct {
	mu       sync.Mutex
	inFlight map[string]time.Time // job ID -> run start
	runs     sync.WaitGroup
}

// Acquire claims jobID for a run. It reports false while another run of
// the same job holds it.
func (l *jobLocks) Acquire(jobID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.inFlight[jobID]; busy {
		return false
	}
	if l.inFlight == nil {
		l.inFlight = make(map[string]time.Time)
	}
	l.inFlight[jobID] = time.Now()
	l.runs.Add(1)
	return true
}

// Release ends the run holding jobID. Releasing a job that is not held
// does nothing.
func (l *jobLocks) Release(jobID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.inFlight[jobID]; !held {
		return
	}
	delete(l.inFlight, jobID)
	l.runs.Done()
}

// InFlight lists the jobs with a run in progress, sorted by ID.
func (l *jobLocks) InFlight() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.inFlight))
	for id := range l.inFlight {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// StartedAt returns when the in-flight run of jobID began.
func (l *jobLocks) StartedAt(jobID string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.inFlight[jobID]
	return t, ok
}

// Drain waits for every in-flight run to finish. It returns ctx.Err() if
// ctx ends first; the runs keep going.
func (l *jobLocks) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
