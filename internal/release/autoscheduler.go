package release

import (
	"context"
	"fmt"
	"sync"
	"time"

	"postbot/internal/eventbus"
	"postbot/internal/planner"
	"postbot/internal/queue"
	"postbot/internal/storage"
	"postbot/internal/task/scheduler"
	logx "postbot/pkg/logx"
)

const planJobName = "autopost.plan"

// DailyScheduler fires a recurring job at a wall-clock time.
type DailyScheduler interface {
	AddDaily(name, atHHMM string, timeout time.Duration, job scheduler.Job) error
	Remove(name string) bool
	Now() time.Time
}

type AutoConfig struct {
	TriggerAt  string        // HH:MM of the daily planning run
	JobTimeout time.Duration // bounds the planning run, not the releases
}

// State is the auto-posting state. Entries is empty whenever Enabled is false.
type State struct {
	Enabled   bool
	TriggerAt string
	Entries   []planner.Entry
}

type AutoDeps struct {
	Scheduler DailyScheduler
	Planner   *planner.Planner
	Registry  *Registry
	Pipeline  *Pipeline
	Queue     interface{ Len() int }
	Notifier  Notifier
	Bus       eventbus.Bus
	Auditor   Auditor
	Logger    logx.Logger
}

// AutoScheduler turns the daily plan into release jobs while enabled.
// It starts disabled.
type AutoScheduler struct {
	mu      sync.Mutex
	enabled bool
	cfg     AutoConfig
	d       AutoDeps
	log     logx.Logger
}

func NewAutoScheduler(cfg AutoConfig, d AutoDeps) *AutoScheduler {
	if cfg.TriggerAt == "" {
		cfg.TriggerAt = "08:00"
	}
	log := d.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	return &AutoScheduler{cfg: cfg, d: d, log: log.With(logx.String("comp", "autopost"))}
}

// Enable registers the daily planning trigger. It never runs a plan for a
// trigger time that already passed today. It reports whether the state changed.
func (a *AutoScheduler) Enable(ctx context.Context, actorID int64) (bool, error) {
	a.mu.Lock()
	if a.enabled {
		a.mu.Unlock()
		return false, nil
	}
	if err := a.d.Scheduler.AddDaily(planJobName, a.cfg.TriggerAt, a.cfg.JobTimeout, a.planJob); err != nil {
		a.mu.Unlock()
		return false, fmt.Errorf("autopost: register daily trigger: %w", err)
	}
	a.enabled = true
	at := a.cfg.TriggerAt
	a.mu.Unlock()

	a.log.Info("auto posting enabled", logx.String("trigger_at", at), logx.Int64("actor_id", actorID))
	a.toggled(ctx, true, actorID)
	return true, nil
}

// Disable unregisters the daily trigger and cancels today's pending jobs.
// It returns whether the state changed and how many jobs were cancelled.
func (a *AutoScheduler) Disable(ctx context.Context, actorID int64) (bool, int) {
	a.mu.Lock()
	if !a.enabled {
		a.mu.Unlock()
		return false, 0
	}
	a.enabled = false
	a.d.Scheduler.Remove(planJobName)
	cleared := a.d.Registry.Clear()
	a.mu.Unlock()

	a.log.Info("auto posting disabled", logx.Int("cancelled", cleared), logx.Int64("actor_id", actorID))
	a.toggled(ctx, false, actorID)
	return true, cleared
}

func (a *AutoScheduler) planJob(ctx context.Context) error {
	_, err := a.RunPlan(ctx)
	return err
}

// RunPlan replaces today's jobs with a fresh plan and reports it to the owner.
// It does nothing while disabled.
func (a *AutoScheduler) RunPlan(ctx context.Context) ([]planner.Entry, error) {
	a.mu.Lock()
	if !a.enabled {
		a.mu.Unlock()
		return nil, nil
	}
	a.d.Registry.Clear()
	entries := a.d.Planner.Plan(a.d.Scheduler.Now())
	_, regErr := a.d.Registry.RegisterAll(entries, a.releaseJob)
	a.mu.Unlock()

	if regErr != nil {
		a.log.Warn("some release jobs were not registered", logx.Err(regErr))
	}
	size := 0
	if a.d.Queue != nil {
		size = a.d.Queue.Len()
	}
	a.log.Info("daily plan created", logx.Int("entries", len(entries)), logx.Int("queue", size))

	due := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		due = append(due, e.DueTime)
	}
	eventbus.Publish(a.d.Bus, eventbus.PlanCreated, eventbus.PlanEvent{Entries: len(entries), DueTimes: due})
	a.audit(ctx, storage.AuditEntry{Action: storage.ActionPlan, Requested: len(entries)})
	a.notify(ctx, FormatPlan(entries, size))
	return entries, regErr
}

func (a *AutoScheduler) releaseJob(ctx context.Context, e planner.Entry) error {
	_, err := a.d.Pipeline.Run(ctx, e.ReleaseCount, queue.Sequential, TriggerScheduled)
	return err
}

// Apply swaps the trigger time and the planning job timeout. An enabled scheduler moves its
// daily trigger right away.
func (a *AutoScheduler) Apply(cfg AutoConfig) error {
	if cfg.TriggerAt == "" {
		cfg.TriggerAt = "08:00"
	}
	if _, _, err := scheduler.ParseHHMM(cfg.TriggerAt); err != nil {
		return fmt.Errorf("autopost: trigger time: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	changed := cfg != a.cfg
	a.cfg = cfg
	if !a.enabled || !changed {
		return nil
	}
	if err := a.d.Scheduler.AddDaily(planJobName, cfg.TriggerAt, cfg.JobTimeout, a.planJob); err != nil {
		return fmt.Errorf("autopost: move daily trigger: %w", err)
	}
	return nil
}

func (a *AutoScheduler) State() State {
	a.mu.Lock()
	st := State{Enabled: a.enabled, TriggerAt: a.cfg.TriggerAt}
	a.mu.Unlock()
	if st.Enabled {
		st.Entries = a.d.Registry.List()
	}
	return st
}

func (a *AutoScheduler) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

func (a *AutoScheduler) toggled(ctx context.Context, on bool, actorID int64) {
	eventbus.Publish(a.d.Bus, eventbus.AutopostToggled, eventbus.AutopostEvent{Enabled: on, ActorID: actorID})
	action := storage.ActionAutopostOff
	if on {
		action = storage.ActionAutopostOn
	}
	a.audit(ctx, storage.AuditEntry{Action: action, ActorID: actorID})
}

func (a *AutoScheduler) audit(ctx context.Context, e storage.AuditEntry) {
	if a.d.Auditor == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.d.Auditor.AppendAudit(actx, e); err != nil {
		a.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}

func (a *AutoScheduler) notify(ctx context.Context, text string) {
	if a.d.Notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := a.d.Notifier.NotifyOwner(nctx, text); err != nil {
		a.log.Debug("plan report failed", logx.Err(err))
	}
}

// FormatPlan renders the owner report for a new daily plan.
func FormatPlan(entries []planner.Entry, queueSize int) string {
	if len(entries) == 0 {
		return fmt.Sprintf("no releases planned for today\nqueue: %d items", queueSize)
	}
	return fmt.Sprintf("today's plan: %s\nqueue: %d items", planner.FormatTimes(entries), queueSize)
}
