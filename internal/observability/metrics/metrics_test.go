package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"postbot/internal/eventbus"
	logx "postbot/pkg/logx"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := New(reg, Sources{
		QueueLen:    func() int { return 7 },
		PendingJobs: func() int { return 3 },
		BusDropped:  func() uint64 { return 2 },
	})
	return m, reg
}

func TestObserve(t *testing.T) {
	t.Parallel()
	m, reg := newTestMetrics(t)

	events := []eventbus.Event{
		{Type: eventbus.QueueEnqueued, Data: eventbus.QueueEvent{UniqueID: "a", Kind: "video"}},
		{Type: eventbus.QueueEnqueued, Data: eventbus.QueueEvent{UniqueID: "b"}},
		{Type: eventbus.QueueDuplicate, Data: eventbus.QueueEvent{UniqueID: "b"}},
		{Type: eventbus.ReleaseItem, Data: eventbus.ReleaseItemEvent{Trigger: "manual", OK: true}},
		{Type: eventbus.ReleaseItem, Data: eventbus.ReleaseItemEvent{Trigger: "manual", OK: false}},
		{Type: eventbus.ReleaseBatch, Time: time.Unix(1700000000, 0), Data: eventbus.ReleaseBatchEvent{Trigger: "manual", Mode: "random", Took: time.Second}},
		{Type: eventbus.AutopostToggled, Data: eventbus.AutopostEvent{Enabled: true}},
		{Type: eventbus.PlanCreated, Data: eventbus.PlanEvent{Entries: 5}},
		{Type: "something.else", Data: 1},
	}
	for _, e := range events {
		m.Observe(e)
	}

	checks := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"postbot_queue_enqueued_total", map[string]string{"kind": "video"}, 1},
		{"postbot_queue_enqueued_total", map[string]string{"kind": "photo"}, 1},
		{"postbot_queue_duplicates_total", nil, 1},
		{"postbot_release_items_total", map[string]string{"trigger": "manual", "result": "ok"}, 1},
		{"postbot_release_items_total", map[string]string{"trigger": "manual", "result": "failed"}, 1},
		{"postbot_release_batches_total", map[string]string{"trigger": "manual", "mode": "random"}, 1},
		{"postbot_release_last_timestamp_seconds", nil, 1700000000},
		{"postbot_plans_total", nil, 1},
		{"postbot_plan_entries", nil, 5},
		{"postbot_autopost_enabled", nil, 1},
		{"postbot_queue_size", nil, 7},
		{"postbot_release_jobs_pending", nil, 3},
		{"postbot_eventbus_dropped_total", nil, 2},
	}
	for _, c := range checks {
		if got := value(t, reg, c.name, c.labels); got != c.want {
			t.Errorf("%s%v = %v, want %v", c.name, c.labels, got, c.want)
		}
	}

	m.Observe(eventbus.Event{Type: eventbus.AutopostToggled, Data: eventbus.AutopostEvent{Enabled: false}})
	if value(t, reg, "postbot_autopost_enabled", nil) != 0 || value(t, reg, "postbot_plan_entries", nil) != 0 {
		t.Fatal("disable should zero the autopost gauges")
	}
}

// value reads one sample from the registry; -1 means not found.
func value(t *testing.T, g prometheus.Gatherer, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := g.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			have := map[string]string{}
			for _, lp := range m.GetLabel() {
				have[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if have[k] != v {
					continue next
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	return -1
}

func TestConsume(t *testing.T) {
	t.Parallel()
	m, reg := newTestMetrics(t)
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Consume(ctx, bus, logx.Nop()) }()

	deadline := time.Now().Add(2 * time.Second)
	for value(t, reg, "postbot_queue_duplicates_total", nil) < 1 {
		if time.Now().After(deadline) {
			t.Fatal("event never observed")
		}
		// the subscriber may not be attached yet; keep publishing
		eventbus.Publish(bus, eventbus.QueueDuplicate, eventbus.QueueEvent{UniqueID: "x"})
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Consume = %v", err)
	}
}

func TestHandlerRoutes(t *testing.T) {
	t.Parallel()
	_, reg := newTestMetrics(t)
	s := NewServer(ServerConfig{}, reg, func() any { return map[string]int{"queue_size": 7} }, logx.Nop())

	tests := []struct {
		name   string
		token  string
		path   string
		header string
		code   int
		body   string
	}{
		{"healthz open", "secret", "/healthz", "", http.StatusOK, "ok"},
		{"metrics no auth", "", "/metrics", "", http.StatusOK, "postbot_queue_size 7"},
		{"metrics missing token", "secret", "/metrics", "", http.StatusUnauthorized, "unauthorized"},
		{"metrics bearer", "secret", "/metrics", "Bearer secret", http.StatusOK, "postbot_release_jobs_pending 3"},
		{"status query token", "secret", "/status?token=secret", "", http.StatusOK, `"queue_size":7`},
		{"status wrong token", "secret", "/status?token=nope", "", http.StatusUnauthorized, ""},
		{"unknown path", "", "/nope", "", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			s.Handler(tt.token).ServeHTTP(rec, req)
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d", rec.Code, tt.code)
			}
			if tt.body != "" && !strings.Contains(rec.Body.String(), tt.body) {
				t.Fatalf("body %q does not contain %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestStatusUnavailable(t *testing.T) {
	t.Parallel()
	s := NewServer(ServerConfig{}, prometheus.NewRegistry(), nil, logx.Nop())
	rec := httptest.NewRecorder()
	s.Handler("").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:9464": true,
		"localhost:80":   true,
		"[::1]:9464":     true,
		":9464":          false,
		"0.0.0.0:9464":   false,
		"10.0.0.2:9464":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()
	s := NewServer(ServerConfig{}, prometheus.NewRegistry(), nil, logx.Nop())
	ctx := context.Background()
	s.Start(ctx) // disabled: no-op
	if s.Enabled() {
		t.Fatal("server should be disabled")
	}
	s.Reconfigure(ctx, ServerConfig{Enabled: true, Addr: "127.0.0.1:0"})
	if !s.Enabled() {
		t.Fatal("server should be enabled")
	}
	sctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	s.Reconfigure(sctx, ServerConfig{})
	s.Stop(sctx) // second stop is a no-op
}
