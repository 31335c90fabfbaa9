package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Validate checks fields that have no sane default. Component level bounds
// (planner windows, command ranges) are checked where they are applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if len(cfg.Telegram.OwnerUserIDs) == 0 {
		errs = append(errs, errors.New("telegram.owner_user_ids needs at least one id"))
	}
	if _, _, err := ParseChat(cfg.Telegram.Channel); err != nil {
		errs = append(errs, fmt.Errorf("telegram.channel: %w", err))
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			errs = append(errs, fmt.Errorf("telegram.group_log: want a numeric chat id, got %q", g))
		}
	}
	if strings.TrimSpace(cfg.Queue.Path) == "" {
		errs = append(errs, errors.New("queue.path is required"))
	}

	durations := map[string]string{
		"telegram.poll_timeout": cfg.Telegram.PollTimeout,
		"autopost.gap_min":      cfg.Autopost.GapMin,
		"autopost.gap_max":      cfg.Autopost.GapMax,
		"autopost.gap_step":     cfg.Autopost.GapStep,
		"autopost.job_timeout":  cfg.Autopost.JobTimeout,
		"commands.timeout":      cfg.Commands.Timeout,
		"metrics.read_timeout":  cfg.Metrics.ReadTimeout,
		"metrics.write_timeout": cfg.Metrics.WriteTimeout,
		"metrics.idle_timeout":  cfg.Metrics.IdleTimeout,
	}
	if cfg.Storage != nil {
		durations["storage.busy_timeout"] = cfg.Storage.BusyTimeout
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	for path, raw := range map[string]string{
		"autopost.plan_at":      cfg.Autopost.PlanAt,
		"autopost.window_start": cfg.Autopost.WindowStart,
		"autopost.window_end":   cfg.Autopost.WindowEnd,
	} {
		if _, err := ParseClockOrDefault(path, raw, 0); err != nil {
			errs = append(errs, err)
		}
	}
	if at := strings.TrimSpace(cfg.Autopost.PlanAt); strings.HasPrefix(at, "24") {
		errs = append(errs, errors.New("autopost.plan_at: must be before 24:00"))
	}
	return errors.Join(errs...)
}

// ParseChat reads "@username" or a numeric chat id.
func ParseChat(raw string) (chatID int64, username string, err error) {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return 0, "", errors.New("empty chat")
	case strings.HasPrefix(s, "@"):
		if len(s) < 2 {
			return 0, "", fmt.Errorf("invalid username %q", raw)
		}
		return 0, s, nil
	}
	id, perr := strconv.ParseInt(s, 10, 64)
	if perr != nil || id == 0 {
		return 0, "", fmt.Errorf("want @username or a numeric chat id, got %q", raw)
	}
	return id, "", nil
}
