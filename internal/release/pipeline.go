package release

import (
	"context"
	"fmt"
	"strings"
	"time"

	"postbot/internal/eventbus"
	"postbot/internal/queue"
	"postbot/internal/storage"
	logx "postbot/pkg/logx"
)

// Selector takes items out of the queue.
type Selector interface {
	Select(ctx context.Context, count int, mode queue.Mode) ([]queue.Item, error)
	Len() int
}

type Notifier interface {
	NotifyOwner(ctx context.Context, text string) error
}

type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

// Result is the outcome of publishing one item. Err is nil on success.
type Result struct {
	Item queue.Item
	Err  error
}

type Summary struct {
	Trigger   Trigger
	Mode      queue.Mode
	Requested int
	Attempted int
	Succeeded int
	Failed    int
	Remaining int
	Took      time.Duration
	Results   []Result
}

type Pipeline struct {
	sel    Selector
	pub    Publisher
	notify Notifier
	bus    eventbus.Bus
	audit  Auditor
	log    logx.Logger
}

type PipelineOption func(*Pipeline)

func WithBus(b eventbus.Bus) PipelineOption { return func(p *Pipeline) { p.bus = b } }
func WithAuditor(a Auditor) PipelineOption { return func(p *Pipeline) { p.audit = a } }
func WithLogger(l logx.Logger) PipelineOption { return func(p *Pipeline) { p.log = l } }

func NewPipeline(sel Selector, pub Publisher, notify Notifier, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{sel: sel, pub: pub, notify: notify}
	for _, o := range opts {
		o(p)
	}
	if p.log.IsZero() {
		p.log = logx.Nop()
	}
	return p
}

// Run releases up to count items. Publish failures are reported per item and
// never returned; the only error is a failure to take items from the queue.
// Failed items are not put back. Once items are taken, every one of them is
// published even if ctx ends; publishes carry no deadline of their own.
// Concurrent runs only share the queue lock.
func (p *Pipeline) Run(ctx context.Context, count int, mode queue.Mode, trigger Trigger) (Summary, error) {
	start := time.Now()
	sum := Summary{Trigger: trigger, Mode: mode, Requested: count}
	log := p.log.With(logx.String("trigger", string(trigger)), logx.String("mode", mode.String()), logx.Int("requested", count))

	items, err := p.sel.Select(ctx, count, mode)
	if err != nil {
		sum.Remaining = p.sel.Len()
		sum.Took = time.Since(start)
		log.Error("release aborted", logx.Err(err))
		p.report(ctx, fmt.Sprintf("release aborted: could not take items from the queue: %v", err))
		p.finish(ctx, sum, err)
		return sum, fmt.Errorf("release: select: %w", err)
	}
	if len(items) == 0 {
		sum.Took = time.Since(start)
		log.Info("nothing to release")
		p.report(ctx, "nothing to release: the queue is empty")
		p.finish(ctx, sum, nil)
		return sum, nil
	}

	// taken items are gone from the queue; finish them regardless of ctx
	ctx = context.WithoutCancel(ctx)
	sum.Results = make([]Result, 0, len(items))
	for _, it := range items {
		err := p.pub.Publish(ctx, it)
		sum.Attempted++
		sum.Results = append(sum.Results, Result{Item: it, Err: err})

		ev := eventbus.ReleaseItemEvent{UniqueID: it.UniqueID, Trigger: string(trigger), OK: err == nil}
		if err != nil {
			sum.Failed++
			ev.Error = err.Error()
			log.Warn("publish failed", logx.String("unique_id", it.UniqueID), logx.Err(err))
			p.report(ctx, fmt.Sprintf("failed to publish %s: %v", it.UniqueID, err))
		} else {
			sum.Succeeded++
		}
		eventbus.Publish(p.bus, eventbus.ReleaseItem, ev)
	}

	sum.Remaining = p.sel.Len()
	sum.Took = time.Since(start)
	log.Info("release done",
		logx.Int("succeeded", sum.Succeeded),
		logx.Int("failed", sum.Failed),
		logx.Int("remaining", sum.Remaining),
		logx.Duration("took", sum.Took),
	)
	p.report(ctx, FormatSummary(sum))
	p.finish(ctx, sum, nil)
	return sum, nil
}

func (p *Pipeline) report(ctx context.Context, text string) {
	if p.notify == nil {
		return
	}
	// reports must go out even when the caller's deadline is spent
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := p.notify.NotifyOwner(rctx, text); err != nil {
		p.log.Debug("owner report failed", logx.Err(err))
	}
}

func (p *Pipeline) finish(ctx context.Context, sum Summary, runErr error) {
	ev := eventbus.ReleaseBatchEvent{
		Trigger:   string(sum.Trigger),
		Mode:      sum.Mode.String(),
		Requested: sum.Requested,
		Attempted: sum.Attempted,
		Succeeded: sum.Succeeded,
		Failed:    sum.Failed,
		Took:      sum.Took,
	}
	if runErr != nil {
		ev.Error = runErr.Error()
	}
	eventbus.Publish(p.bus, eventbus.ReleaseBatch, ev)

	if p.audit == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.audit.AppendAudit(actx, storage.AuditEntry{
		Action:    storage.ActionRelease,
		Trigger:   string(sum.Trigger),
		Mode:      sum.Mode.String(),
		Requested: sum.Requested,
		OK:        sum.Succeeded,
		Fail:      sum.Failed,
		Error:     ev.Error,
		TookMS:    sum.Took.Milliseconds(),
	}); err != nil {
		p.log.Warn("audit append failed", logx.Err(err))
	}
}

// FormatSummary renders the owner report for a finished batch.
func FormatSummary(s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "released %d of %d (%s, %s)", s.Succeeded, s.Attempted, s.Trigger, s.Mode)
	if s.Failed > 0 {
		fmt.Fprintf(&b, "\nfailed: %d", s.Failed)
	}
	fmt.Fprintf(&b, "\nqueue: %d left", s.Remaining)
	return b.String()
}
