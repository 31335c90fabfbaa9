package release

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"postbot/internal/planner"
	"postbot/internal/task/scheduler"
	logx "postbot/pkg/logx"
)

// OnceScheduler fires a job once at a given time.
type OnceScheduler interface {
	AddOnce(name string, at time.Time, timeout time.Duration, job scheduler.Job) error
	Remove(name string) bool
}

// Registry holds today's pending release jobs. A job leaves the registry when
// it fires or is cancelled.
// Release jobs get no scheduler timeout: a started batch always finishes.
type Registry struct {
	mu    sync.Mutex
	sched OnceScheduler
	jobs  map[string]planner.Entry
	log   logx.Logger
}

func NewRegistry(sched OnceScheduler, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{sched: sched, jobs: map[string]planner.Entry{}, log: log}
}

// RegisterAll schedules run for every entry. Entries that fail to register are
// skipped and reported in the joined error.
func (r *Registry) RegisterAll(entries []planner.Entry, run func(ctx context.Context, e planner.Entry) error) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	n := 0
	for _, e := range entries {
		e := e
		id := e.JobID
		job := func(ctx context.Context) error {
			r.mu.Lock()
			_, live := r.jobs[id]
			delete(r.jobs, id)
			r.mu.Unlock()
			if !live {
				return nil
			}
			return run(ctx, e)
		}
		if err := r.sched.AddOnce(id, e.DueTime, 0, job); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		r.jobs[id] = e
		n++
	}
	if n > 0 {
		r.log.Debug("release jobs registered", logx.Int("count", n))
	}
	return n, errors.Join(errs...)
}

// Cancel removes one job. Unknown or already fired ids are a no-op.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[jobID]; !ok {
		return false
	}
	delete(r.jobs, jobID)
	r.sched.Remove(jobID)
	return true
}

// Clear cancels every pending job and reports how many there were.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.jobs)
	for id := range r.jobs {
		r.sched.Remove(id)
	}
	r.jobs = map[string]planner.Entry{}
	if n > 0 {
		r.log.Debug("release jobs cleared", logx.Int("count", n))
	}
	return n
}

// List returns pending jobs ordered by due time.
func (r *Registry) List() []planner.Entry {
	r.mu.Lock()
	out := make([]planner.Entry, 0, len(r.jobs))
	for _, e := range r.jobs {
		out = append(out, e)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DueTime.Before(out[j].DueTime) })
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
