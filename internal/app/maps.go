package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"postbot/internal/bot"
	"postbot/internal/config"
	"postbot/internal/notifier"
	"postbot/internal/observability/metrics"
	"postbot/internal/planner"
	"postbot/internal/release"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

const (
	defaultPollTimeout = 10 * time.Second
	defaultJobTimeout  = 10 * time.Minute
	defaultPlanAt      = "08:00"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// logChat returns the log chat id, 0 when unset or invalid.
func logChat(cfg *config.Config) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapChannel(cfg *config.Config) (kit.ChatTarget, error) {
	id, user, err := config.ParseChat(cfg.Telegram.Channel)
	if err != nil {
		return kit.ChatTarget{}, fmt.Errorf("telegram.channel: %w", err)
	}
	return kit.ChatTarget{ChatID: id, Username: user, ThreadID: cfg.Telegram.ChannelThreadID}, nil
}

func mapPlannerConfig(cfg *config.Config) (planner.Config, error) {
	a := cfg.Autopost
	def := planner.DefaultConfig()
	var (
		out planner.Config
		err error
	)
	if out.WindowStart, err = config.ParseClockOrDefault("autopost.window_start", a.WindowStart, def.WindowStart); err != nil {
		return planner.Config{}, err
	}
	if out.WindowEnd, err = config.ParseClockOrDefault("autopost.window_end", a.WindowEnd, def.WindowEnd); err != nil {
		return planner.Config{}, err
	}
	if out.IntervalMin, err = config.ParseDurationOrDefault("autopost.gap_min", a.GapMin, def.IntervalMin); err != nil {
		return planner.Config{}, err
	}
	if out.IntervalMax, err = config.ParseDurationOrDefault("autopost.gap_max", a.GapMax, def.IntervalMax); err != nil {
		return planner.Config{}, err
	}
	if out.IntervalStep, err = config.ParseDurationOrDefault("autopost.gap_step", a.GapStep, def.IntervalStep); err != nil {
		return planner.Config{}, err
	}
	out.CountMin, out.CountMax = def.CountMin, def.CountMax
	if a.CountMin > 0 {
		out.CountMin = a.CountMin
	}
	if a.CountMax > 0 {
		out.CountMax = a.CountMax
	}
	if err := out.Validate(); err != nil {
		return planner.Config{}, fmt.Errorf("autopost: %w", err)
	}
	return out, nil
}

func mapAutoConfig(cfg *config.Config) (release.AutoConfig, error) {
	at := strings.TrimSpace(cfg.Autopost.PlanAt)
	if at == "" {
		at = defaultPlanAt
	}
	timeout, err := config.ParseDurationOrDefault("autopost.job_timeout", cfg.Autopost.JobTimeout, defaultJobTimeout)
	if err != nil {
		return release.AutoConfig{}, err
	}
	return release.AutoConfig{TriggerAt: at, JobTimeout: timeout}, nil
}

func mapTimezone(cfg *config.Config) (string, error) {
	tz := strings.TrimSpace(cfg.Autopost.Timezone)
	if tz == "" {
		return "", nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "", fmt.Errorf("autopost.timezone: invalid %q: %w", tz, err)
	}
	return tz, nil
}

func mapBotConfig(cfg *config.Config) (bot.Config, error) {
	c := cfg.Commands
	out := bot.DefaultConfig()
	set := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	set(&out.PostDefault, c.PostDefault)
	set(&out.PostMax, c.PostMax)
	set(&out.RandomMin, c.RandomMin)
	set(&out.RandomMax, c.RandomMax)
	set(&out.BatchSize, c.BatchSize)
	set(&out.HistoryDefault, c.HistoryDefault)
	set(&out.HistoryMax, c.HistoryMax)
	d, err := config.ParseDurationOrDefault("commands.timeout", c.Timeout, out.CommandTimeout)
	if err != nil {
		return bot.Config{}, err
	}
	out.CommandTimeout = d
	if err := out.Validate(); err != nil {
		return bot.Config{}, fmt.Errorf("commands: %w", err)
	}
	return out, nil
}

// mapNotifierConfig leaves zero fields to the notifier defaults.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg.Notifier == nil {
		return notifier.Config{}, nil
	}
	if cfg.Notifier.RatePerSec < 0 || cfg.Notifier.HistorySize < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: rate_per_sec and history_size must be >= 0")
	}
	return notifier.Config{RatePerSec: cfg.Notifier.RatePerSec, HistorySize: cfg.Notifier.HistorySize}, nil
}

// mapStorageConfig reports enabled=false when the section is missing or the
// driver is "none".
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	switch driver {
	case "file", "sqlite", "sqlite3":
	default:
		return storage.Config{}, false, fmt.Errorf("storage.driver: unknown %q", cfg.Storage.Driver)
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required for driver %q", driver)
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(cfg.Storage.Path), BusyTimeout: busy}, true, nil
}

func mapMetricsConfig(cfg *config.Config) (metrics.ServerConfig, error) {
	m := cfg.Metrics
	out := metrics.ServerConfig{
		Enabled:       m.Enabled,
		Addr:          strings.TrimSpace(m.Addr),
		Token:         strings.TrimSpace(m.Token),
		AllowInsecure: m.AllowInsecure,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("metrics.read_timeout", m.ReadTimeout, 5*time.Second); err != nil {
		return metrics.ServerConfig{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationOrDefault("metrics.write_timeout", m.WriteTimeout, 10*time.Second); err != nil {
		return metrics.ServerConfig{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("metrics.idle_timeout", m.IdleTimeout, time.Minute); err != nil {
		return metrics.ServerConfig{}, err
	}
	return out, nil
}

// validate runs every mapping so a bad reload is rejected before commit.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapChannel(cfg); err != nil {
		return err
	}
	if _, err := mapPlannerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapAutoConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTimezone(cfg); err != nil {
		return err
	}
	if _, err := mapBotConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	_, err := mapMetricsConfig(cfg)
	return err
}
