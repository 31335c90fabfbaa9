package scheduler

import (
	"sort"
	"time"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Running: s.c != nil, Timezone: s.loc.String()}
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		} else if sched, err := s.parser.Parse(d.spec); err == nil {
			it.Next = sched.Next(time.Now().In(s.loc))
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	s.mu.Unlock()

	s.tmu.Lock()
	for name, d := range s.once {
		snap.Once = append(snap.Once, OnceInfo{Name: name, At: d.at})
	}
	s.tmu.Unlock()
	sort.Slice(snap.Once, func(i, j int) bool { return snap.Once[i].At.Before(snap.Once[j].At) })

	if sup := s.sup.Load(); sup != nil {
		c := sup.Counters()
		snap.Active, snap.Panics = c.Active, c.Panics
	}
	return snap
}
