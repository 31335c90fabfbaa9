package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

var ErrNoTargets = errors.New("notifier: no owner chats configured")

// Service is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	adapter kit.Adapter
	cfg     Config
	limiter *rate.Limiter
	targets []kit.ChatTarget

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, log: log}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	s.cfg = cfg
	// burst = rate per sec, so short spikes don't block too hard
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// SetOwners directs notifications to the private chats of the given users.
func (s *Service) SetOwners(ids []int64) {
	targets := make([]kit.ChatTarget, 0, len(ids))
	for _, id := range ids {
		if id != 0 {
			targets = append(targets, kit.ChatTarget{ChatID: id})
		}
	}
	s.mu.Lock()
	s.targets = targets
	s.mu.Unlock()
}

// NotifyOwner sends text to every owner chat. Failures are logged and joined
// into the returned error; they never block later notifications.
func (s *Service) NotifyOwner(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.mu.Lock()
	targets := append([]kit.ChatTarget(nil), s.targets...)
	lim := s.limiter
	s.mu.Unlock()
	if len(targets) == 0 {
		s.record(text, ErrNoTargets)
		return ErrNoTargets
	}

	var errs []error
	for _, to := range targets {
		if err := lim.Wait(ctx); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := s.adapter.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true}); err != nil {
			s.log.Warn("owner notification failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
			errs = append(errs, fmt.Errorf("chat %d: %w", to.ChatID, err))
		}
	}
	err := errors.Join(errs...)
	s.record(text, err)
	return err
}

func (s *Service) record(text string, err error) {
	it := HistoryItem{At: time.Now(), Text: text}
	if err != nil {
		it.Error = err.Error()
	}
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, it)
	if over := len(s.history) - limit; over > 0 {
		s.history = append([]HistoryItem(nil), s.history[over:]...)
	}
	s.hmu.Unlock()
}

// History returns recent notifications, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}
