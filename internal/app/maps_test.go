package app

import (
	"testing"
	"time"

	"postbot/internal/bot"
	"postbot/internal/config"
	"postbot/internal/planner"
)

func baseConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{
			Token:        "123:abc",
			OwnerUserIDs: []int64{42},
			Channel:      "@pics",
			GroupLog:     "-1001",
		},
		Queue: config.QueueConfig{Path: "./queue.json"},
	}
}

func TestMapDefaults(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	if err := validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}

	pc, err := mapPlannerConfig(cfg)
	if err != nil || pc != planner.DefaultConfig() {
		t.Fatalf("planner = %+v, %v", pc, err)
	}
	ac, err := mapAutoConfig(cfg)
	if err != nil || ac.TriggerAt != defaultPlanAt || ac.JobTimeout != defaultJobTimeout {
		t.Fatalf("auto = %+v, %v", ac, err)
	}
	bc, err := mapBotConfig(cfg)
	if err != nil || bc != bot.DefaultConfig() {
		t.Fatalf("bot = %+v, %v", bc, err)
	}
	if _, enabled, err := mapStorageConfig(cfg); enabled || err != nil {
		t.Fatalf("storage enabled = %v, %v", enabled, err)
	}
	mc, err := mapMetricsConfig(cfg)
	if err != nil || mc.Enabled || mc.ReadTimeout != 5*time.Second || mc.IdleTimeout != time.Minute {
		t.Fatalf("metrics = %+v, %v", mc, err)
	}
	if target, err := mapChannel(cfg); err != nil || target.Username != "@pics" {
		t.Fatalf("channel = %+v, %v", target, err)
	}
	if logChat(cfg) != -1001 {
		t.Fatalf("logChat = %d", logChat(cfg))
	}
}

func TestMapOverrides(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Autopost = config.AutopostConfig{
		Timezone:    "Europe/Berlin",
		PlanAt:      "07:15",
		WindowStart: "09:00",
		WindowEnd:   "21:30",
		GapMin:      "90m",
		GapMax:      "2h",
		GapStep:     "15m",
		CountMin:    1,
		CountMax:    3,
		JobTimeout:  "5m",
	}
	cfg.Commands.PostMax = 10
	cfg.Storage = &config.StorageConfig{Driver: "SQLite", Path: " audit.db ", BusyTimeout: "2s"}

	pc, err := mapPlannerConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	want := planner.Config{
		WindowStart:  9 * time.Hour,
		WindowEnd:    21*time.Hour + 30*time.Minute,
		IntervalMin:  90 * time.Minute,
		IntervalMax:  2 * time.Hour,
		IntervalStep: 15 * time.Minute,
		CountMin:     1,
		CountMax:     3,
	}
	if pc != want {
		t.Fatalf("planner = %+v, want %+v", pc, want)
	}
	if ac, _ := mapAutoConfig(cfg); ac.TriggerAt != "07:15" || ac.JobTimeout != 5*time.Minute {
		t.Fatalf("auto = %+v", ac)
	}
	if tz, err := mapTimezone(cfg); err != nil || tz != "Europe/Berlin" {
		t.Fatalf("timezone = %q, %v", tz, err)
	}
	if bc, _ := mapBotConfig(cfg); bc.PostMax != 10 || bc.PostDefault != 1 {
		t.Fatalf("bot = %+v", bc)
	}
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled || sc.Driver != "sqlite" || sc.Path != "audit.db" || sc.BusyTimeout != 2*time.Second {
		t.Fatalf("storage = %+v, %v, %v", sc, enabled, err)
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		mod  func(*config.Config)
	}{
		{"missing token", func(c *config.Config) { c.Telegram.Token = "" }},
		{"bad timezone", func(c *config.Config) { c.Autopost.Timezone = "Mars/Olympus" }},
		{"inverted window", func(c *config.Config) {
			c.Autopost.WindowStart = "20:00"
			c.Autopost.WindowEnd = "10:00"
		}},
		{"gap max below min", func(c *config.Config) {
			c.Autopost.GapMin = "3h"
			c.Autopost.GapMax = "1h"
		}},
		{"count max below min", func(c *config.Config) {
			c.Autopost.CountMin = 4
			c.Autopost.CountMax = 2
		}},
		{"post default above max", func(c *config.Config) {
			c.Commands.PostDefault = 30
			c.Commands.PostMax = 20
		}},
		{"unknown storage driver", func(c *config.Config) { c.Storage = &config.StorageConfig{Driver: "redis", Path: "x"} }},
		{"storage without path", func(c *config.Config) { c.Storage = &config.StorageConfig{Driver: "file"} }},
		{"negative notifier rate", func(c *config.Config) { c.Notifier = &config.NotifierConfig{RatePerSec: -1} }},
		{"bad metrics timeout", func(c *config.Config) { c.Metrics.ReadTimeout = "soon" }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig()
			tc.mod(cfg)
			if err := validate(cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestStorageDisabledDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " None "} {
		cfg := baseConfig()
		cfg.Storage = &config.StorageConfig{Driver: driver}
		if _, enabled, err := mapStorageConfig(cfg); enabled || err != nil {
			t.Fatalf("driver %q: enabled = %v, %v", driver, enabled, err)
		}
	}
}
