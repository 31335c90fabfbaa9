package config

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings, wall-clock times are "HH:MM".
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Queue    QueueConfig    `json:"queue"`
	Autopost AutopostConfig `json:"autopost"`
	Commands CommandsConfig `json:"commands,omitempty"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Metrics  MetricsConfig   `json:"metrics,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// Channel is the publish target: "@username" or a numeric chat id.
	Channel         string `json:"channel"`
	ChannelThreadID int    `json:"channel_thread_id,omitempty"`
	// GroupLog is the numeric chat id of the log chat (optional).
	GroupLog    string `json:"group_log,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// QueueConfig locates the queue file. Changing it needs a restart.
//
// Example:
//
//	"queue": { "path": "./data/queue.json" }
type QueueConfig struct {
	Path string `json:"path"`
}

// AutopostConfig drives the daily planner and the planning trigger.
//
// Defaults (when fields are omitted/zero):
//   - plan_at: "08:00"
//   - window_start / window_end: "08:00" / "23:00"
//   - gap_min / gap_max / gap_step: "2h" / "3h" / "1h"
//   - count_min / count_max: 2 / 4
//   - job_timeout: "10m"
//   - seed: 0 (time based)
type AutopostConfig struct {
	Timezone    string `json:"timezone,omitempty"`
	PlanAt      string `json:"plan_at,omitempty"`
	WindowStart string `json:"window_start,omitempty"`
	WindowEnd   string `json:"window_end,omitempty"`
	GapMin      string `json:"gap_min,omitempty"`
	GapMax      string `json:"gap_max,omitempty"`
	GapStep     string `json:"gap_step,omitempty"`
	CountMin    int    `json:"count_min,omitempty"`
	CountMax    int    `json:"count_max,omitempty"`
	JobTimeout  string `json:"job_timeout,omitempty"`
	Seed        int64  `json:"seed,omitempty"`
}

// CommandsConfig bounds the manual release commands. Zero values use defaults.
type CommandsConfig struct {
	PostDefault    int    `json:"post_default,omitempty"`
	PostMax        int    `json:"post_max,omitempty"`
	RandomMin      int    `json:"random_min,omitempty"`
	RandomMax      int    `json:"random_max,omitempty"`
	BatchSize      int    `json:"batch_size,omitempty"`
	HistoryDefault int    `json:"history_default,omitempty"`
	HistoryMax     int    `json:"history_max,omitempty"`
	Timeout        string `json:"timeout,omitempty"`
}

// NotifierConfig controls owner reports.
type NotifierConfig struct {
	RatePerSec  int `json:"rate_per_sec"`
	HistorySize int `json:"history_size"`
}

// StorageConfig controls the audit store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/audit.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// MetricsConfig controls the optional HTTP endpoint for /metrics, /healthz
// and /status. Prefer a loopback addr; anything else needs a token or
// allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9464"
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
