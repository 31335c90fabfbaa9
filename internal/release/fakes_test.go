package release

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"postbot/internal/queue"
	"postbot/internal/storage"
	"postbot/internal/task/scheduler"
)

type fakePublisher struct {
	mu   sync.Mutex
	fail map[string]bool
	sent []string
}

func (p *fakePublisher) Publish(_ context.Context, it queue.Item) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[it.UniqueID] {
		return errors.New("chat not found")
	}
	p.sent = append(p.sent, it.UniqueID)
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *fakeNotifier) NotifyOwner(_ context.Context, text string) error {
	n.mu.Lock()
	n.texts = append(n.texts, text)
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}

type fakeAuditor struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (a *fakeAuditor) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
	return nil
}

// fakeSched keeps jobs in maps; tests fire them by hand.
type fakeSched struct {
	mu    sync.Mutex
	now   time.Time
	once  map[string]scheduler.Job
	at    map[string]time.Time
	tmo   map[string]time.Duration
	daily map[string]string
	dJobs map[string]scheduler.Job
}

func newFakeSched(now time.Time) *fakeSched {
	return &fakeSched{
		now:   now,
		once:  map[string]scheduler.Job{},
		at:    map[string]time.Time{},
		tmo:   map[string]time.Duration{},
		daily: map[string]string{},
		dJobs: map[string]scheduler.Job{},
	}
}

func (f *fakeSched) AddOnce(name string, at time.Time, timeout time.Duration, job scheduler.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.once[name] = job
	f.at[name] = at
	f.tmo[name] = timeout
	return nil
}

func (f *fakeSched) AddDaily(name, atHHMM string, _ time.Duration, job scheduler.Job) error {
	if _, _, err := scheduler.ParseHHMM(atHHMM); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.daily[name] = atHHMM
	f.dJobs[name] = job
	return nil
}

func (f *fakeSched) Remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, a := f.once[name]
	_, b := f.daily[name]
	delete(f.once, name)
	delete(f.at, name)
	delete(f.daily, name)
	delete(f.dJobs, name)
	return a || b
}

func (f *fakeSched) Now() time.Time { return f.now }

func (f *fakeSched) onceJob(name string) scheduler.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.once[name]
}

// fire runs and forgets a one-shot job, like a real timer would.
func (f *fakeSched) fire(t *testing.T, name string) {
	t.Helper()
	f.mu.Lock()
	job := f.once[name]
	delete(f.once, name)
	delete(f.at, name)
	f.mu.Unlock()
	if job == nil {
		t.Fatalf("no one-shot job %q", name)
	}
	_ = job(context.Background())
}

func (f *fakeSched) onceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.once)
}

func newQueue(t *testing.T, uniq ...string) *queue.Store {
	t.Helper()
	s, err := queue.Open(afero.NewMemMapFs(), "/q.json", queue.WithRand(rand.New(rand.NewSource(1))))
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	for _, u := range uniq {
		if err := s.Enqueue(context.Background(), queue.Item{ID: "file-" + u, UniqueID: u}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	return s
}

func uniqueIDs(items []queue.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.UniqueID)
	}
	return out
}
