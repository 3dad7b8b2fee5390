package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DispatcherConfig holds dispatcher configuration
type DispatcherConfig struct {
	Workers       int
	BufferSize    int
	RetryAttempts int
	RetryDelay    time.Duration
	// DrainTimeout bounds how long Stop keeps delivering queued messages
	DrainTimeout  time.Duration
	FromEmail     string
}

// DefaultDispatcherConfig returns default configuration
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:       4,
		BufferSize:    1000,
		RetryAttempts: 3,
		RetryDelay:    5 * time.Second,
		DrainTimeout:  10 * time.Second,
	}
}

// Dispatcher is the Transport used in production. Send calls only enqueue;
// a pool of workers hands messages to the providers and retries failures.
// On shutdown the workers keep delivering what is queued until the queue is
// empty or DrainTimeout passes; whatever is left then counts as dropped.
type Dispatcher struct {
	email  Provider
	sms    Provider
	config DispatcherConfig
	logger *zap.Logger

	queue chan *Message

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// base outlives the Start context so draining can still send
	base       context.Context
	cancel     context.CancelFunc
	drainOnce  sync.Once
	drainTimer *time.Timer
	expired    chan struct{}

	accepted atomic.Int64
	sent     atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64
}

func NewDispatcher(email, sms Provider, config DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.BufferSize < 1 {
		config.BufferSize = 1
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDispatcherConfig().DrainTimeout
	}
	return &Dispatcher{
		email:   email,
		sms:     sms,
		config:  config,
		logger:  logger,
		queue:   make(chan *Message, config.BufferSize),
		stopCh:  make(chan struct{}),
		expired: make(chan struct{}),
	}
}

// Start launches the worker pool. Cancelling ctx or calling Stop starts
// the drain; Stop waits for it.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return fmt.Errorf("dispatcher already started")
	}
	d.started = true
	d.base, d.cancel = context.WithCancel(context.WithoutCancel(ctx))

	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	return nil
}

// Stop refuses new messages, lets the workers drain the queue for up to
// DrainTimeout and waits for them. Messages still queued are dropped.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher not started")
	}
	d.started = false
	d.mu.Unlock()

	d.beginDrain()
	close(d.stopCh)
	d.wg.Wait()
	d.drainTimer.Stop()
	if d.cancel != nil {
		d.cancel()
	}

	if n := len(d.queue); n > 0 {
		d.dropped.Add(int64(n))
		d.logger.Warn("dispatcher stopped with queued messages", zap.Int("dropped", n))
	}
	return nil
}

// beginDrain arms the drain deadline once. When it fires, in-flight sends
// are cancelled and workers stop taking from the queue.
func (d *Dispatcher) beginDrain() {
	d.drainOnce.Do(func() {
		d.drainTimer = time.AfterFunc(d.config.DrainTimeout, func() {
			close(d.expired)
			if d.cancel != nil {
				d.cancel()
			}
		})
	})
}

func (d *Dispatcher) SendEmail(ctx context.Context, to, subject, body string) error {
	return d.enqueue(&Message{
		Channel: ChannelEmail,
		From:    d.config.FromEmail,
		To:      to,
		Subject: subject,
		Body:    body,
	})
}

func (d *Dispatcher) SendSMS(ctx context.Context, to, message string) error {
	return d.enqueue(&Message{
		Channel: ChannelSMS,
		To:      to,
		Body:    message,
	})
}

func (d *Dispatcher) enqueue(msg *Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("%s recipient is empty", msg.Channel)
	}
	if d.provider(msg.Channel) == nil {
		return fmt.Errorf("%s provider not configured", msg.Channel)
	}

	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		return fmt.Errorf("dispatcher not running")
	}

	msg.ID = uuid.New().String()
	msg.Status = StatusPending
	msg.CreatedAt = time.Now().UTC()

	select {
	case d.queue <- msg:
		d.accepted.Add(1)
		return nil
	default:
		d.dropped.Add(1)
		return fmt.Errorf("notification buffer full")
	}
}

func (d *Dispatcher) provider(ch Channel) Provider {
	switch ch {
	case ChannelEmail:
		return d.email
	case ChannelSMS:
		return d.sms
	}
	return nil
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			d.beginDrain()
			d.drain()
			return
		case <-d.stopCh:
			d.drain()
			return
		case msg := <-d.queue:
			d.deliver(msg)
		}
	}
}

// drain delivers queued messages until the queue is empty or the drain
// deadline passes.
func (d *Dispatcher) drain() {
	for {
		select {
		case <-d.expired:
			return
		default:
		}
		select {
		case msg := <-d.queue:
			d.deliver(msg)
		default:
			return
		}
	}
}

// deliver retries a message up to RetryAttempts times on the same worker.
// A message abandoned because the drain deadline passed counts as dropped.
func (d *Dispatcher) deliver(msg *Message) {
	ctx := d.base
	attempts := d.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	provider := d.provider(msg.Channel)

	for msg.Attempts < attempts {
		msg.Attempts++
		err := provider.Send(ctx, msg)
		if err == nil {
			now := time.Now().UTC()
			msg.SentAt = &now
			msg.Status = StatusSent
			d.sent.Add(1)
			return
		}
		if ctx.Err() != nil {
			d.dropped.Add(1)
			return
		}

		msg.ErrorMessage = err.Error()
		d.logger.Warn("notification send failed",
			zap.String("id", msg.ID),
			zap.String("channel", string(msg.Channel)),
			zap.Int("attempt", msg.Attempts),
			zap.Error(err),
		)

		if msg.Attempts >= attempts {
			break
		}
		select {
		case <-ctx.Done():
			d.dropped.Add(1)
			return
		case <-time.After(d.config.RetryDelay):
		}
	}

	msg.Status = StatusFailed
	d.failed.Add(1)
}

// Stats returns a snapshot of the dispatcher counters
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Accepted: d.accepted.Load(),
		Sent:     d.sent.Load(),
		Failed:   d.failed.Load(),
		Dropped:  d.dropped.Load(),
	}
}

var _ Transport = (*Dispatcher)(nil)
