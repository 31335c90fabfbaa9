package eventbus

import "time"

const (
	QueueEnqueued   = "queue.enqueued"
	QueueDuplicate  = "queue.duplicate"
	ReleaseItem     = "release.item"
	ReleaseBatch    = "release.batch"
	PlanCreated     = "plan.created"
	AutopostToggled = "autopost.toggled"
)

type QueueEvent struct {
	UniqueID string `json:"unique_id"`
	Kind     string `json:"kind,omitempty"`
	Pending  int    `json:"pending"`
}

type ReleaseItemEvent struct {
	UniqueID string `json:"unique_id"`
	Trigger  string `json:"trigger"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

type ReleaseBatchEvent struct {
	Trigger   string        `json:"trigger"`
	Mode      string        `json:"mode"`
	Requested int           `json:"requested"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Took      time.Duration `json:"took"`
	Error     string        `json:"error,omitempty"`
}

type PlanEvent struct {
	Entries  int         `json:"entries"`
	DueTimes []time.Time `json:"due_times"`
}

type AutopostEvent struct {
	Enabled bool  `json:"enabled"`
	ActorID int64 `json:"actor_id,omitempty"`
}
