// Package bot holds the operator surface: chat commands and media intake.
package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"postbot/internal/eventbus"
	"postbot/internal/queue"
	"postbot/internal/release"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	"postbot/internal/transport/telegram/router"
	logx "postbot/pkg/logx"
)

type Config struct {
	PostDefault    int
	PostMax        int
	RandomMin      int
	RandomMax      int
	BatchSize      int
	HistoryDefault int
	HistoryMax     int
	CommandTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		PostDefault:    1,
		PostMax:        20,
		RandomMin:      2,
		RandomMax:      5,
		BatchSize:      5,
		HistoryDefault: 5,
		HistoryMax:     50,
		CommandTimeout: 2 * time.Minute,
	}
}

func (c Config) Validate() error {
	switch {
	case c.PostDefault < 1 || c.PostMax < c.PostDefault:
		return fmt.Errorf("bot: need 1 <= post default (%d) <= post max (%d)", c.PostDefault, c.PostMax)
	case c.RandomMin < 1 || c.RandomMax < c.RandomMin:
		return fmt.Errorf("bot: need 1 <= random min (%d) <= random max (%d)", c.RandomMin, c.RandomMax)
	case c.BatchSize < 1:
		return fmt.Errorf("bot: batch size must be positive, got %d", c.BatchSize)
	case c.HistoryDefault < 1 || c.HistoryMax < c.HistoryDefault:
		return fmt.Errorf("bot: need 1 <= history default (%d) <= history max (%d)", c.HistoryDefault, c.HistoryMax)
	}
	return nil
}

// AuditReader lists recorded release batches.
type AuditReader interface {
	RecentAudit(ctx context.Context, action string, limit int) ([]storage.AuditEntry, error)
}

type Deps struct {
	Queue    *queue.Store
	Pipeline *release.Pipeline
	Auto     *release.AutoScheduler
	Status   *release.StatusReporter
	Audit    AuditReader // nil when audit storage is off
	Bus      eventbus.Bus
	Rand     *rand.Rand
	Logger   logx.Logger
}

type Bot struct {
	mu  sync.Mutex
	cfg Config
	rng *rand.Rand

	d   Deps
	log logx.Logger
}

func New(cfg Config, d Deps) (*Bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := d.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	log := d.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bot{cfg: cfg, rng: rng, d: d, log: log.With(logx.String("comp", "bot"))}, nil
}

// Apply swaps command bounds. Invalid configs are rejected and the old one kept.
func (b *Bot) Apply(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	b.cfg = cfg
	b.mu.Unlock()
	return nil
}

func (b *Bot) config() Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

func (b *Bot) intn(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rng.Intn(n)
}

// HandleMedia enqueues media sent by the owner.
func (b *Bot) HandleMedia(ctx context.Context, req *router.Request, m kit.Media) error {
	it := queue.FromMedia(m)
	err := b.d.Queue.Enqueue(ctx, it)
	switch {
	case errors.Is(err, queue.ErrDuplicate):
		eventbus.Publish(b.d.Bus, eventbus.QueueDuplicate, eventbus.QueueEvent{UniqueID: it.UniqueID, Kind: string(it.Kind), Pending: b.d.Queue.Len()})
		return req.Reply(ctx, "already queued")
	case errors.Is(err, queue.ErrInvalid):
		return req.Reply(ctx, "cannot queue this media")
	case err != nil:
		_ = req.Reply(ctx, "could not save the queue, item not added")
		return err
	}
	n := b.d.Queue.Len()
	eventbus.Publish(b.d.Bus, eventbus.QueueEnqueued, eventbus.QueueEvent{UniqueID: it.UniqueID, Kind: string(it.Kind), Pending: n})
	return req.Reply(ctx, fmt.Sprintf("added to queue (%d pending)", n))
}

// Commands returns the operator command set. /help is added by the router.
// Release commands carry no timeout: a started batch runs to the end.
func (b *Bot) Commands() []router.Command {
	timeout := b.config().CommandTimeout
	return []router.Command{
		{Name: "start", Description: "check the bot is alive", Usage: "/start", Handle: b.cmdStart},
		{Name: "marko", Description: "connectivity check", Usage: "/marko", Handle: b.cmdMarko},
		{Name: "post", Aliases: []string{"p"}, Description: "release items in order", Usage: "/post [N]", Handle: b.cmdPost},
		{Name: "random", Aliases: []string{"r"}, Description: "release a random batch in random order", Usage: "/random", Handle: b.cmdRandom},
		{Name: "five", Description: "release a fixed batch in order", Usage: "/five", Handle: b.cmdFive},
		{Name: "schedule", Description: "turn daily auto posting on or off", Usage: "/schedule on|off", Timeout: timeout, Handle: b.cmdSchedule},
		{Name: "status", Aliases: []string{"s"}, Description: "auto posting state and today's plan", Usage: "/status", Timeout: timeout, Handle: b.cmdStatus},
		{Name: "count", Aliases: []string{"c"}, Description: "queue size", Usage: "/count", Timeout: timeout, Handle: b.cmdCount},
		{Name: "history", Description: "recent release batches", Usage: "/history [N]", Timeout: timeout, Handle: b.cmdHistory},
	}
}

func (b *Bot) cmdStart(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, "bot is active")
}

func (b *Bot) cmdMarko(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, "polo")
}

func (b *Bot) cmdPost(ctx context.Context, req *router.Request) error {
	cfg := b.config()
	n := cfg.PostDefault
	if len(req.Args) > 0 {
		v, err := strconv.Atoi(req.Args[0])
		if err != nil || v < 1 || v > cfg.PostMax {
			return req.Reply(ctx, fmt.Sprintf("usage: /post [N], N between 1 and %d", cfg.PostMax))
		}
		n = v
	}
	return b.release(ctx, req, n, queue.Sequential)
}

func (b *Bot) cmdRandom(ctx context.Context, req *router.Request) error {
	cfg := b.config()
	n := cfg.RandomMin + b.intn(cfg.RandomMax-cfg.RandomMin+1)
	return b.release(ctx, req, n, queue.Random)
}

func (b *Bot) cmdFive(ctx context.Context, req *router.Request) error {
	return b.release(ctx, req, b.config().BatchSize, queue.Sequential)
}

// release runs a manual batch. The pipeline reports the outcome to the
// owner, including an empty queue.
func (b *Bot) release(ctx context.Context, _ *router.Request, n int, mode queue.Mode) error {
	_, err := b.d.Pipeline.Run(ctx, n, mode, release.TriggerManual)
	return err
}

func (b *Bot) cmdSchedule(ctx context.Context, req *router.Request) error {
	arg := ""
	if len(req.Args) > 0 {
		arg = strings.ToLower(req.Args[0])
	}
	switch arg {
	case "on", "enable", "1":
		changed, err := b.d.Auto.Enable(ctx, req.FromID)
		if err != nil {
			_ = req.Reply(ctx, "could not enable auto posting")
			return err
		}
		st := b.d.Auto.State()
		if !changed {
			return req.Reply(ctx, "auto posting is already on")
		}
		return req.Reply(ctx, fmt.Sprintf("auto posting enabled, daily plan at %s", st.TriggerAt))
	case "off", "disable", "0":
		changed, cleared := b.d.Auto.Disable(ctx, req.FromID)
		if !changed {
			return req.Reply(ctx, "auto posting is already off")
		}
		return req.Reply(ctx, fmt.Sprintf("auto posting disabled, %d pending releases cancelled", cleared))
	default:
		state := "off"
		if b.d.Auto.Enabled() {
			state = "on"
		}
		return req.Reply(ctx, fmt.Sprintf("auto posting is %s\nusage: /schedule on|off", state))
	}
}

func (b *Bot) cmdStatus(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, b.d.Status.Report().Text())
}

func (b *Bot) cmdCount(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, fmt.Sprintf("queue: %d items", b.d.Queue.Len()))
}

func (b *Bot) cmdHistory(ctx context.Context, req *router.Request) error {
	if b.d.Audit == nil {
		return req.Reply(ctx, "history is off: audit storage is disabled")
	}
	cfg := b.config()
	n := cfg.HistoryDefault
	if len(req.Args) > 0 {
		v, err := strconv.Atoi(req.Args[0])
		if err != nil || v < 1 {
			return req.Reply(ctx, "usage: /history [N]")
		}
		n = min(v, cfg.HistoryMax)
	}
	entries, err := b.d.Audit.RecentAudit(ctx, storage.ActionRelease, n)
	if err != nil {
		_ = req.Reply(ctx, "could not read history")
		return err
	}
	return req.Reply(ctx, FormatHistory(entries))
}

// FormatHistory renders release batches, newest first.
func FormatHistory(entries []storage.AuditEntry) string {
	if len(entries) == 0 {
		return "no releases recorded yet"
	}
	var sb strings.Builder
	sb.WriteString("recent releases:")
	for _, e := range entries {
		fmt.Fprintf(&sb, "\n%s %s %s: %d ok", e.At.Format("01-02 15:04"), e.Trigger, e.Mode, e.OK)
		if e.Fail > 0 {
			fmt.Fprintf(&sb, ", %d failed", e.Fail)
		}
		if e.Error != "" {
			sb.WriteString(", aborted")
		}
	}
	return sb.String()
}
