package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	rtsup "postbot/internal/runtime/supervisor"
	logx "postbot/pkg/logx"
)

type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Moscow"; empty means Local
}

// Job is a unit of scheduled work.
type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	entryID cron.EntryID
}

type onceDef struct {
	at      time.Time
	timeout time.Duration
	job     Job
	ver     uint64
	timer   *time.Timer
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// one-shot timers keyed by name; ver guards against stale callbacks
	tmu  sync.Mutex
	once map[string]*onceDef
	ver  uint64

	sup atomic.Pointer[rtsup.Supervisor]
	now func() time.Time
}

type ScheduleInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

type OnceInfo struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

type Snapshot struct {
	Running   bool           `json:"running"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
	Once      []OnceInfo     `json:"once"`
	Active    int64          `json:"active"`
	Panics    uint64         `json:"panics"`
}
