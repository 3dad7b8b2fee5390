package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MockProvider records messages in memory for tests and local runs
type MockProvider struct {
	mu         sync.RWMutex
	channel    Channel
	sent       []*Message
	failOnSend bool
	delay      time.Duration
}

func NewMockProvider(channel Channel) *MockProvider {
	return &MockProvider{channel: channel}
}

func (p *MockProvider) Send(ctx context.Context, msg *Message) error {
	p.mu.RLock()
	delay := p.delay
	p.mu.RUnlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failOnSend {
		return fmt.Errorf("mock %s send failure", p.channel)
	}
	if msg.Channel != p.channel {
		return fmt.Errorf("mock %s provider cannot send %s", p.channel, msg.Channel)
	}

	copied := *msg
	p.sent = append(p.sent, &copied)
	return nil
}

// SetFailOnSend sets whether Send should fail
func (p *MockProvider) SetFailOnSend(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failOnSend = fail
}

// SetDelay makes every Send wait d first, like a slow upstream
func (p *MockProvider) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

// Sent returns copies of every message sent so far
func (p *MockProvider) Sent() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Message, 0, len(p.sent))
	for _, m := range p.sent {
		out = append(out, *m)
	}
	return out
}

// ConsoleProvider logs messages instead of sending them (development)
type ConsoleProvider struct {
	logger *zap.Logger
}

func NewConsoleProvider(logger *zap.Logger) *ConsoleProvider {
	return &ConsoleProvider{logger: logger}
}

func (p *ConsoleProvider) Send(ctx context.Context, msg *Message) error {
	p.logger.Info("notification",
		zap.String("id", msg.ID),
		zap.String("channel", string(msg.Channel)),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}
