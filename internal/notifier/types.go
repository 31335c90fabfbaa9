package notifier

import "time"

type Config struct {
	RatePerSec  int
	HistorySize int
}

type HistoryItem struct {
	At    time.Time `json:"at"`
	Text  string    `json:"text"`
	Error string    `json:"error,omitempty"`
}
