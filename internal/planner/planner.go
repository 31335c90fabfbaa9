// Package planner builds the randomized release plan for a single day.
package planner

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Rand is the random source the planner draws from.
type Rand interface {
	Intn(n int) int
}

// Config bounds a daily plan. Window times are offsets from local midnight.
type Config struct {
	WindowStart  time.Duration
	WindowEnd    time.Duration
	IntervalMin  time.Duration
	IntervalMax  time.Duration
	IntervalStep time.Duration
	CountMin     int
	CountMax     int
}

func DefaultConfig() Config {
	return Config{
		WindowStart:  8 * time.Hour,
		WindowEnd:    23 * time.Hour,
		IntervalMin:  2 * time.Hour,
		IntervalMax:  3 * time.Hour,
		IntervalStep: time.Hour,
		CountMin:     2,
		CountMax:     4,
	}
}

func (c Config) Validate() error {
	switch {
	case c.WindowStart < 0 || c.WindowEnd > 24*time.Hour:
		return errors.New("planner: window must be within one day")
	case c.WindowEnd <= c.WindowStart:
		return errors.New("planner: window end must be after window start")
	case c.IntervalMin <= 0:
		return errors.New("planner: interval min must be positive")
	case c.IntervalMax < c.IntervalMin:
		return errors.New("planner: interval max must be >= interval min")
	case c.IntervalStep < 0:
		return errors.New("planner: interval step must not be negative")
	case c.CountMin < 1:
		return errors.New("planner: count min must be at least 1")
	case c.CountMax < c.CountMin:
		return errors.New("planner: count max must be >= count min")
	}
	return nil
}

// Entry is one planned release.
type Entry struct {
	JobID        string
	DueTime      time.Time
	ReleaseCount int
}

type Planner struct {
	mu  sync.Mutex
	cfg Config
	rng Rand
}

// New returns a planner. A nil rng uses a time-seeded source.
func New(cfg Config, rng Rand) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, rng: rng}, nil
}

// SetConfig swaps the bounds used by later calls to Plan.
func (p *Planner) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	return nil
}

func (p *Planner) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Plan lays out today's releases after max(window start, now) with now cut to
// the minute, spaced by
// random gaps, stopping at the window end. A late call returns no entries.
func (p *Planner) Plan(now time.Time) []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := atOffset(now, p.cfg.WindowStart)
	end := atOffset(now, p.cfg.WindowEnd)

	// whole minutes keep trigger jitter out of the slots
	t := start
	if m := minuteOf(now); m.After(t) {
		t = m
	}
	var out []Entry
	for {
		t = t.Add(p.gapLocked())
		if !t.Before(end) {
			break
		}
		out = append(out, Entry{
			JobID:        "release-" + t.Format("1504") + "-" + uuid.NewString()[:8],
			DueTime:      t,
			ReleaseCount: p.cfg.CountMin + p.rng.Intn(p.cfg.CountMax-p.cfg.CountMin+1),
		})
	}
	return out
}

// gapLocked draws a gap in [IntervalMin, IntervalMax]. With a step the gap is
// IntervalMin plus a whole number of steps.
func (p *Planner) gapLocked() time.Duration {
	lo, hi := p.cfg.IntervalMin, p.cfg.IntervalMax
	if hi == lo {
		return lo
	}
	if step := p.cfg.IntervalStep; step > 0 {
		n := int((hi - lo) / step)
		return lo + time.Duration(p.rng.Intn(n+1))*step
	}
	return lo + time.Duration(p.rng.Intn(int(hi-lo)+1))
}

func minuteOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, t.Location())
}

func atOffset(now time.Time, off time.Duration) time.Time {
	y, m, d := now.Date()
	h := int(off / time.Hour)
	mm := int((off % time.Hour) / time.Minute)
	return time.Date(y, m, d, h, mm, 0, 0, now.Location())
}

// FormatTimes renders due times as a comma separated HH:MM list.
func FormatTimes(entries []Entry) string {
	if len(entries) == 0 {
		return "none"
	}
	s := ""
	for i, e := range entries {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s (%d)", e.DueTime.Format("15:04"), e.ReleaseCount)
	}
	return s
}
