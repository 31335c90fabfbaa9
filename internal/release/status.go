package release

import (
	"fmt"
	"strings"
	"time"
)

type Report struct {
	Enabled        bool        `json:"enabled"`
	TriggerAt      string      `json:"trigger_at"`
	QueueSize      int         `json:"queue_size"`
	RemainingToday []time.Time `json:"remaining_today"`
}

// StatusReporter summarizes queue and scheduler state. It has no side effects.
type StatusReporter struct {
	auto  *AutoScheduler
	queue interface{ Len() int }
}

func NewStatusReporter(auto *AutoScheduler, q interface{ Len() int }) *StatusReporter {
	return &StatusReporter{auto: auto, queue: q}
}

func (r *StatusReporter) Report() Report {
	st := r.auto.State()
	rep := Report{Enabled: st.Enabled, TriggerAt: st.TriggerAt, QueueSize: r.queue.Len()}
	for _, e := range st.Entries {
		rep.RemainingToday = append(rep.RemainingToday, e.DueTime)
	}
	return rep
}

func (rep Report) Text() string {
	var b strings.Builder
	if rep.Enabled {
		fmt.Fprintf(&b, "auto posting: on (daily plan at %s)\n", rep.TriggerAt)
	} else {
		b.WriteString("auto posting: off\n")
	}
	fmt.Fprintf(&b, "queue: %d items\n", rep.QueueSize)
	if len(rep.RemainingToday) == 0 {
		b.WriteString("remaining today: none")
		return b.String()
	}
	times := make([]string, 0, len(rep.RemainingToday))
	for _, t := range rep.RemainingToday {
		times = append(times, t.Format("15:04"))
	}
	b.WriteString("remaining today: " + strings.Join(times, ", "))
	return b.String()
}
