package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	logx "postbot/pkg/logx"
)

// AddDaily runs job every day at HH:MM in the scheduler timezone.
// A schedule with the same name is replaced.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job Job) error {
	h, m, err := ParseHHMM(atHHMM)
	if err != nil {
		return err
	}
	return s.addCron(name, fmt.Sprintf("%d %d * * *", m, h), timeout, job)
}

func (s *Service) addCron(name, spec string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeScheduleLocked(name)
	s.removeOnce(name)

	s.defs = append(s.defs, scheduleDef{name: name, spec: spec, timeout: timeout, job: job})
	if s.c == nil {
		// registered with cron on Start
		return nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		s.defs = s.defs[:len(s.defs)-1]
		return err
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec), logx.Time("next", s.c.Entry(d.entryID).Next))
	return nil
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	name, timeout, job := d.name, d.timeout, d.job
	eid, err := s.c.AddFunc(d.spec, func() { s.run(name, timeout, job) })
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

// AddOnce runs job once at the given time. Times in the past fire immediately.
// A one-shot with the same name is replaced; its previous timer never fires.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if at.IsZero() {
		return errors.New("at required")
	}
	if job == nil {
		return errors.New("job required")
	}

	s.mu.Lock()
	s.removeScheduleLocked(name)
	running := s.c != nil
	s.mu.Unlock()

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if old, ok := s.once[name]; ok && old.timer != nil {
		_ = old.timer.Stop()
	}
	s.ver++
	d := &onceDef{at: at, timeout: timeout, job: job, ver: s.ver}
	s.once[name] = d
	if running {
		s.armLocked(name, d)
	}
	return nil
}

// armLocked starts the timer for d. Call with s.tmu held.
func (s *Service) armLocked(name string, d *onceDef) {
	delay := time.Until(d.at)
	if delay < 0 {
		delay = 0
	}
	ver := d.ver
	d.timer = time.AfterFunc(delay, func() {
		s.tmu.Lock()
		cur, ok := s.once[name]
		if !ok || cur.ver != ver {
			s.tmu.Unlock()
			return
		}
		delete(s.once, name)
		s.tmu.Unlock()
		s.run(name, cur.timeout, cur.job)
	})
}

// armAllLocked re-creates timers for pending one-shots after Start.
func (s *Service) armAllLocked() {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	for name, d := range s.once {
		if d.timer == nil {
			s.armLocked(name, d)
		}
	}
}

// Remove unschedules name. It reports whether anything was removed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()
	if s.removeOnce(name) {
		removed = true
	}
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// removeScheduleLocked drops cron defs named name. Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) removeOnce(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	d, ok := s.once[name]
	if !ok {
		return false
	}
	if d.timer != nil {
		_ = d.timer.Stop()
	}
	delete(s.once, name)
	return true
}

// run executes job in its own supervised goroutine. The job context is not
// canceled by Stop so a started run finishes its work; timeout still applies.
func (s *Service) run(name string, timeout time.Duration, job Job) {
	sup := s.sup.Load()
	if sup == nil {
		s.log.Warn("trigger fired while stopped", logx.String("name", name))
		return
	}
	sup.Go0("job."+name, func(ctx context.Context) {
		jctx := context.WithoutCancel(ctx)
		if timeout > 0 {
			var cancel context.CancelFunc
			jctx, cancel = context.WithTimeout(jctx, timeout)
			defer cancel()
		}
		start := time.Now()
		log := s.log.With(logx.String("job", name))
		log.Debug("job started")
		if err := job(jctx); err != nil {
			log.Warn("job failed", logx.Duration("took", time.Since(start)), logx.Err(err))
			return
		}
		log.Debug("job done", logx.Duration("took", time.Since(start)))
	})
}

// ParseHHMM parses a 24h wall clock time such as "08:00".
func ParseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
