package release

import (
	"context"
	"errors"
	"sync"

	"postbot/internal/queue"
	kit "postbot/internal/transport"
)

// Publisher delivers one item downstream.
type Publisher interface {
	Publish(ctx context.Context, it queue.Item) error
}

var ErrNoChannel = errors.New("release: channel not configured")

// ChannelPublisher re-sends queued media to a Telegram channel by file id.
type ChannelPublisher struct {
	adapter kit.Adapter

	mu     sync.RWMutex
	target kit.ChatTarget
}

func NewChannelPublisher(adapter kit.Adapter, target kit.ChatTarget) *ChannelPublisher {
	return &ChannelPublisher{adapter: adapter, target: target}
}

func (p *ChannelPublisher) SetTarget(t kit.ChatTarget) {
	p.mu.Lock()
	p.target = t
	p.mu.Unlock()
}

func (p *ChannelPublisher) Target() kit.ChatTarget {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.target
}

func (p *ChannelPublisher) Publish(ctx context.Context, it queue.Item) error {
	to := p.Target()
	if to.IsZero() {
		return ErrNoChannel
	}
	_, err := p.adapter.SendMedia(ctx, to, it.Media(), nil)
	return err
}
