package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Audit actions.
const (
	ActionRelease     = "release"
	ActionPlan        = "plan"
	ActionAutopostOn  = "autopost.on"
	ActionAutopostOff = "autopost.off"
)

// AuditEntry records one release batch or operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At        time.Time `json:"at"`
	ActorID   int64     `json:"actor_id,omitempty"`
	Action    string    `json:"action"`
	Trigger   string    `json:"trigger,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	Requested int       `json:"requested,omitempty"`
	OK        int       `json:"ok"`
	Fail      int       `json:"fail"`
	Error     string    `json:"error,omitempty"`
	TookMS    int64     `json:"took_ms,omitempty"`
	MetaJSON  string    `json:"meta,omitempty"`
}
