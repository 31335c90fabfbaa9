package planner

import (
	"math/rand"
	"testing"
	"time"
)

// scriptRand answers Intn from fixed scripts keyed by n.
type scriptRand struct {
	scripts map[int][]int
}

func (s *scriptRand) Intn(n int) int {
	q := s.scripts[n]
	if len(q) == 0 {
		return 0
	}
	v := q[0]
	s.scripts[n] = q[1:]
	return v
}

func mustPlanner(t *testing.T, cfg Config, r Rand) *Planner {
	t.Helper()
	p, err := New(cfg, r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func hm(t time.Time) string { return t.Format("15:04") }

func TestPlanAlternatingGaps(t *testing.T) {
	t.Parallel()
	r := &scriptRand{scripts: map[int][]int{
		2: {0, 1, 0, 1, 0, 1}, // gaps 2h,3h,2h,3h,2h,3h
		3: {0, 1, 2, 0, 1},    // counts 2,3,4,2,3
	}}
	p := mustPlanner(t, DefaultConfig(), r)
	now := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)

	got := p.Plan(now)
	wantTimes := []string{"10:00", "13:00", "15:00", "18:00", "20:00"}
	wantCounts := []int{2, 3, 4, 2, 3}
	if len(got) != len(wantTimes) {
		t.Fatalf("got %d entries, want %d", len(got), len(wantTimes))
	}
	for i, e := range got {
		if hm(e.DueTime) != wantTimes[i] || e.ReleaseCount != wantCounts[i] {
			t.Errorf("entry %d = %s x%d, want %s x%d", i, hm(e.DueTime), e.ReleaseCount, wantTimes[i], wantCounts[i])
		}
		if e.JobID == "" {
			t.Errorf("entry %d has empty job id", i)
		}
	}
}

func TestPlanLateStartsFromNow(t *testing.T) {
	t.Parallel()
	r := &scriptRand{scripts: map[int][]int{2: {0, 0, 0}}}
	p := mustPlanner(t, DefaultConfig(), r)
	now := time.Date(2026, 3, 10, 17, 30, 0, 0, time.UTC)

	got := p.Plan(now)
	if len(got) != 2 || hm(got[0].DueTime) != "19:30" || hm(got[1].DueTime) != "21:30" {
		t.Fatalf("late plan = %v", got)
	}
}

func TestPlanIgnoresTriggerJitter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		now  time.Time
		want []string
	}{
		{"fired late at window start", time.Date(2026, 3, 10, 8, 0, 0, 3e6, time.UTC), []string{"10:00:00", "12:00:00", "14:00:00"}},
		{"fired late mid window", time.Date(2026, 3, 10, 17, 30, 0, 3e6, time.UTC), []string{"19:30:00", "21:30:00"}},
		{"seconds into the minute", time.Date(2026, 3, 10, 17, 30, 42, 0, time.UTC), []string{"19:30:00", "21:30:00"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := mustPlanner(t, DefaultConfig(), &scriptRand{})
			got := p.Plan(tt.now)
			if len(got) < len(tt.want) {
				t.Fatalf("plan = %v", got)
			}
			for i, w := range tt.want {
				d := got[i].DueTime
				if d.Format("15:04:05") != w || d.Nanosecond() != 0 {
					t.Fatalf("entry %d = %s, want %s", i, d.Format("15:04:05.000"), w)
				}
			}
		})
	}
}

func TestPlanAfterWindowIsEmpty(t *testing.T) {
	t.Parallel()
	p := mustPlanner(t, DefaultConfig(), rand.New(rand.NewSource(1)))
	now := time.Date(2026, 3, 10, 21, 30, 0, 0, time.UTC)
	if got := p.Plan(now); len(got) != 0 {
		t.Fatalf("expected empty plan, got %v", got)
	}
}

func TestPlanInvariants(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+3", 3*3600)
	for seed := int64(0); seed < 50; seed++ {
		p := mustPlanner(t, DefaultConfig(), rand.New(rand.NewSource(seed)))
		now := time.Date(2026, 6, 1, 6, 0, 0, 0, loc)
		got := p.Plan(now)
		if len(got) == 0 {
			t.Fatalf("seed %d: empty plan for a full window", seed)
		}
		end := time.Date(2026, 6, 1, 23, 0, 0, 0, loc)
		prev := time.Date(2026, 6, 1, 8, 0, 0, 0, loc)
		ids := map[string]bool{}
		for _, e := range got {
			gap := e.DueTime.Sub(prev)
			if gap != 2*time.Hour && gap != 3*time.Hour {
				t.Fatalf("seed %d: gap %s", seed, gap)
			}
			if !e.DueTime.Before(end) {
				t.Fatalf("seed %d: %s not before window end", seed, e.DueTime)
			}
			if e.ReleaseCount < 2 || e.ReleaseCount > 4 {
				t.Fatalf("seed %d: count %d", seed, e.ReleaseCount)
			}
			if e.DueTime.Location() != loc {
				t.Fatalf("seed %d: location %s", seed, e.DueTime.Location())
			}
			if ids[e.JobID] {
				t.Fatalf("seed %d: duplicate job id %s", seed, e.JobID)
			}
			ids[e.JobID] = true
			prev = e.DueTime
		}
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	bad := []func(*Config){
		func(c *Config) { c.WindowEnd = c.WindowStart },
		func(c *Config) { c.IntervalMin = 0 },
		func(c *Config) { c.IntervalMax = time.Hour },
		func(c *Config) { c.CountMin = 0 },
		func(c *Config) { c.CountMax = 1 },
		func(c *Config) { c.WindowEnd = 25 * time.Hour },
	}
	for i, mut := range bad {
		c := DefaultConfig()
		mut(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestFormatTimes(t *testing.T) {
	t.Parallel()
	if got := FormatTimes(nil); got != "none" {
		t.Fatalf("FormatTimes(nil) = %q", got)
	}
	d := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	got := FormatTimes([]Entry{{DueTime: d, ReleaseCount: 2}, {DueTime: d.Add(3 * time.Hour), ReleaseCount: 4}})
	if got != "10:00 (2), 13:00 (4)" {
		t.Fatalf("FormatTimes = %q", got)
	}
}
