package bot

import (
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"postbot/internal/eventbus"
	"postbot/internal/planner"
	"postbot/internal/queue"
	"postbot/internal/release"
	"postbot/internal/storage"
	"postbot/internal/task/scheduler"
	kit "postbot/internal/transport"
	"postbot/internal/transport/telegram/router"
	logx "postbot/pkg/logx"
)

type replyAdapter struct {
	mu      sync.Mutex
	replies []string
}

func (a *replyAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *replyAdapter) Stop(context.Context) error                     { return nil }
func (a *replyAdapter) SendMedia(context.Context, kit.ChatTarget, kit.Media, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}

func (a *replyAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	a.replies = append(a.replies, text)
	a.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (a *replyAdapter) last(t *testing.T) string {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.replies) == 0 {
		t.Fatal("no reply sent")
	}
	return a.replies[len(a.replies)-1]
}

type recPublisher struct {
	mu   sync.Mutex
	sent []string
}

func (p *recPublisher) Publish(_ context.Context, it queue.Item) error {
	p.mu.Lock()
	p.sent = append(p.sent, it.UniqueID)
	p.mu.Unlock()
	return nil
}

type recNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *recNotifier) NotifyOwner(_ context.Context, text string) error {
	n.mu.Lock()
	n.texts = append(n.texts, text)
	n.mu.Unlock()
	return nil
}

type harness struct {
	bot   *Bot
	ad    *replyAdapter
	q     *queue.Store
	pub   *recPublisher
	note  *recNotifier
	audit storage.Store
	bus   eventbus.Bus
}

func newHarness(t *testing.T, withAudit bool) *harness {
	t.Helper()
	q, err := queue.Open(afero.NewMemMapFs(), "/queue.json", queue.WithRand(rand.New(rand.NewSource(3))))
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{ad: &replyAdapter{}, q: q, pub: &recPublisher{}, note: &recNotifier{}, bus: eventbus.New()}

	var opts []release.PipelineOption
	if withAudit {
		st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "audit.jsonl")}, logx.Nop())
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = st.Close() })
		h.audit = st
		opts = append(opts, release.WithAuditor(st))
	}
	pipe := release.NewPipeline(q, h.pub, h.note, opts...)

	sched := scheduler.New(scheduler.Config{Timezone: "UTC"}, logx.Nop())
	pl, err := planner.New(planner.DefaultConfig(), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	auto := release.NewAutoScheduler(release.AutoConfig{TriggerAt: "07:30"}, release.AutoDeps{
		Scheduler: sched,
		Planner:   pl,
		Registry:  release.NewRegistry(sched, logx.Nop()),
		Pipeline:  pipe,
		Queue:     q,
		Notifier:  h.note,
	})

	deps := Deps{
		Queue:    q,
		Pipeline: pipe,
		Auto:     auto,
		Status:   release.NewStatusReporter(auto, q),
		Bus:      h.bus,
		Rand:     rand.New(rand.NewSource(9)),
	}
	if h.audit != nil {
		deps.Audit = h.audit
	}
	b, err := New(DefaultConfig(), deps)
	if err != nil {
		t.Fatal(err)
	}
	h.bot = b
	return h
}

func (h *harness) run(t *testing.T, name string, args ...string) string {
	t.Helper()
	for _, c := range h.bot.Commands() {
		if c.Name != name {
			continue
		}
		req := &router.Request{Command: name, Args: args, FromID: 42, Adapter: h.ad}
		_ = c.Handle(context.Background(), req)
		return h.ad.last(t)
	}
	t.Fatalf("no command %q", name)
	return ""
}

func (h *harness) fill(t *testing.T, uniq ...string) {
	t.Helper()
	for _, u := range uniq {
		if err := h.q.Enqueue(context.Background(), queue.Item{ID: "f-" + u, UniqueID: u}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSimpleReplies(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)
	h.fill(t, "a", "b")
	tests := []struct {
		cmd  string
		args []string
		want string
	}{
		{"start", nil, "bot is active"},
		{"marko", nil, "polo"},
		{"count", nil, "queue: 2 items"},
		{"status", nil, "auto posting: off\nqueue: 2 items\nremaining today: none"},
		{"history", nil, "history is off: audit storage is disabled"},
		{"schedule", nil, "auto posting is off\nusage: /schedule on|off"},
		{"post", []string{"zero"}, "usage: /post [N], N between 1 and 20"},
		{"post", []string{"21"}, "usage: /post [N], N between 1 and 20"},
	}
	for _, tt := range tests {
		if got := h.run(t, tt.cmd, tt.args...); got != tt.want {
			t.Errorf("/%s %v = %q, want %q", tt.cmd, tt.args, got, tt.want)
		}
	}
}

func TestMediaIntake(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)
	events, unsub := h.bus.Subscribe(8)
	defer unsub()
	req := &router.Request{Command: "media", FromID: 42, Adapter: h.ad}
	ctx := context.Background()

	_ = h.bot.HandleMedia(ctx, req, kit.Media{Kind: kit.MediaVideo, FileID: "f1", UniqueID: "u1"})
	if got := h.ad.last(t); got != "added to queue (1 pending)" {
		t.Fatalf("reply = %q", got)
	}
	_ = h.bot.HandleMedia(ctx, req, kit.Media{Kind: kit.MediaPhoto, FileID: "f2", UniqueID: "u1"})
	if got := h.ad.last(t); got != "already queued" {
		t.Fatalf("reply = %q", got)
	}
	_ = h.bot.HandleMedia(ctx, req, kit.Media{Kind: kit.MediaPhoto})
	if got := h.ad.last(t); got != "cannot queue this media" {
		t.Fatalf("reply = %q", got)
	}

	items := h.q.Items()
	if len(items) != 1 || items[0].Kind != kit.MediaVideo || items[0].ID != "f1" {
		t.Fatalf("queue = %+v", items)
	}
	if e := <-events; e.Type != eventbus.QueueEnqueued {
		t.Fatalf("first event = %s", e.Type)
	}
	if e := <-events; e.Type != eventbus.QueueDuplicate {
		t.Fatalf("second event = %s", e.Type)
	}
}

func TestReleaseCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)
	h.fill(t, "a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l")
	ctx := context.Background()
	cmd := func(name string, args ...string) {
		for _, c := range h.bot.Commands() {
			if c.Name == name {
				_ = c.Handle(ctx, &router.Request{Command: name, Args: args, FromID: 42, Adapter: h.ad})
				return
			}
		}
		t.Fatalf("no command %q", name)
	}

	cmd("post")
	if strings.Join(h.pub.sent, "") != "a" {
		t.Fatalf("/post sent %v", h.pub.sent)
	}
	cmd("post", "2")
	if strings.Join(h.pub.sent, "") != "abc" {
		t.Fatalf("/post 2 sent %v", h.pub.sent)
	}
	cmd("five")
	if strings.Join(h.pub.sent, "") != "abcdefgh" {
		t.Fatalf("/five sent %v", h.pub.sent)
	}
	before := h.q.Len()
	cmd("random")
	took := before - h.q.Len()
	if took < 2 || took > 4 || len(h.pub.sent) != 8+took {
		t.Fatalf("/random released %d with %d left", took, h.q.Len())
	}

	got := h.run(t, "history", "2")
	lines := strings.Split(got, "\n")
	if lines[0] != "recent releases:" || len(lines) != 3 || !strings.Contains(lines[1], "manual random") {
		t.Fatalf("/history 2 = %q", got)
	}
	if !strings.Contains(lines[2], "manual sequential: 5 ok") {
		t.Fatalf("/history 2 second line = %q", lines[2])
	}

	// pipeline reports land with the owner, not as command replies
	h.note.mu.Lock()
	n := len(h.note.texts)
	h.note.mu.Unlock()
	if n != 4 {
		t.Fatalf("owner reports = %d, want 4", n)
	}
}

func TestReleaseOnEmptyQueue(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)
	events, unsub := h.bus.Subscribe(8)
	defer unsub()
	h.bot.d.Pipeline = release.NewPipeline(h.q, h.pub, h.note, release.WithAuditor(h.audit), release.WithBus(h.bus))

	for _, c := range h.bot.Commands() {
		if c.Name == "post" {
			_ = c.Handle(context.Background(), &router.Request{Command: "post", FromID: 42, Adapter: h.ad})
		}
	}
	if len(h.pub.sent) != 0 || len(h.ad.replies) != 0 {
		t.Fatalf("sent %v, replies %q", h.pub.sent, h.ad.replies)
	}
	h.note.mu.Lock()
	texts := append([]string(nil), h.note.texts...)
	h.note.mu.Unlock()
	if len(texts) != 1 || texts[0] != "nothing to release: the queue is empty" {
		t.Fatalf("owner reports = %q", texts)
	}
	got, err := h.audit.RecentAudit(context.Background(), storage.ActionRelease, 5)
	if err != nil || len(got) != 1 || got[0].Trigger != string(release.TriggerManual) || got[0].OK != 0 {
		t.Fatalf("audit = %+v, %v", got, err)
	}
	if e := <-events; e.Type != eventbus.ReleaseBatch {
		t.Fatalf("event = %s", e.Type)
	}
}

func TestReleaseCommandsHaveNoTimeout(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)
	for _, c := range h.bot.Commands() {
		switch c.Name {
		case "post", "random", "five":
			if c.Timeout != 0 {
				t.Errorf("/%s timeout = %v, want none", c.Name, c.Timeout)
			}
		case "schedule", "history":
			if c.Timeout != DefaultConfig().CommandTimeout {
				t.Errorf("/%s timeout = %v", c.Name, c.Timeout)
			}
		}
	}
}

func TestScheduleToggle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)
	steps := []struct {
		arg  string
		want string
	}{
		{"on", "auto posting enabled, daily plan at 07:30"},
		{"ON", "auto posting is already on"},
		{"", "auto posting is on\nusage: /schedule on|off"},
		{"off", "auto posting disabled, 0 pending releases cancelled"},
		{"off", "auto posting is already off"},
	}
	for _, s := range steps {
		var args []string
		if s.arg != "" {
			args = []string{s.arg}
		}
		if got := h.run(t, "schedule", args...); got != s.want {
			t.Fatalf("/schedule %q = %q, want %q", s.arg, got, s.want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	bad := []func(*Config){
		func(c *Config) { c.PostDefault = 0 },
		func(c *Config) { c.PostMax = 0 },
		func(c *Config) { c.RandomMin = 6 },
		func(c *Config) { c.BatchSize = 0 },
		func(c *Config) { c.HistoryMax = 1 },
	}
	for i, mut := range bad {
		cfg := DefaultConfig()
		mut(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
	h := newHarness(t, false)
	cfg := DefaultConfig()
	cfg.RandomMin = 0
	if err := h.bot.Apply(cfg); err == nil {
		t.Fatal("Apply accepted an invalid config")
	}
	cfg = DefaultConfig()
	cfg.BatchSize = 3
	if err := h.bot.Apply(cfg); err != nil || h.bot.config().BatchSize != 3 {
		t.Fatalf("Apply = %v", err)
	}
}

func TestFormatHistory(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 4, 10, 5, 0, 0, time.UTC)
	got := FormatHistory([]storage.AuditEntry{
		{At: at, Trigger: "scheduled", Mode: "sequential", OK: 2, Fail: 1},
		{At: at, Trigger: "manual", Mode: "sequential", Error: "disk full"},
	})
	want := "recent releases:\n03-04 10:05 scheduled sequential: 2 ok, 1 failed\n03-04 10:05 manual sequential: 0 ok, aborted"
	if got != want {
		t.Fatalf("FormatHistory = %q, want %q", got, want)
	}
	if FormatHistory(nil) != "no releases recorded yet" {
		t.Fatal("empty history text")
	}
}
