package queue

import (
	"context"
	"fmt"
	"strings"
)

// Mode decides which items a selection takes.
type Mode int

const (
	Sequential Mode = iota
	Random
)

func (m Mode) String() string {
	switch m {
	case Random:
		return "random"
	default:
		return "sequential"
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sequential", "seq":
		return Sequential, nil
	case "random", "rand":
		return Random, nil
	default:
		return Sequential, fmt.Errorf("unknown selection mode %q", s)
	}
}

// Select removes up to count items in the given mode. A non-positive count or
// an empty queue yields an empty result and no error.
func (s *Store) Select(ctx context.Context, count int, mode Mode) ([]Item, error) {
	if count <= 0 {
		return nil, nil
	}
	if mode == Random {
		return s.PopRandom(ctx, count)
	}
	return s.PopFront(ctx, count)
}
