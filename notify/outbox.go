package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

var (
	ErrOutboxFull   = errors.New("notify: outbox full")
	ErrOutboxClosed = errors.New("notify: outbox closed")
)

// OutboxConfig tunes buffering and retry.
type OutboxConfig struct {
	BufferSize      int
	Workers         int
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	SendTimeout     time.Duration
}

// DefaultOutboxConfig returns the settings used when fields are zero.
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		BufferSize:      256,
		Workers:         2,
		MaxTries:        5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		SendTimeout:     5 * time.Second,
	}
}

// OutboxStats is a point-in-time view of outbox counters.
type OutboxStats struct {
	Enqueued uint64
	Sent     uint64
	Failed   uint64
	Dropped  uint64
}

// Outbox queues messages and delivers them through a Sender.
type Outbox struct {
	sender Sender
	cfg    OutboxConfig
	logger *slog.Logger

	// mu orders Enqueue against Close so nothing lands after the drain.
	mu     sync.RWMutex
	closed bool
	queue  chan Message
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	enqueued atomic.Uint64
	sent     atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64
}

// NewOutbox starts cfg.Workers delivery goroutines.
func NewOutbox(sender Sender, cfg OutboxConfig, logger *slog.Logger) *Outbox {
	def := DefaultOutboxConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = def.MaxTries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	o := &Outbox{
		sender: sender,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Message, cfg.BufferSize),
		stop:   make(chan struct{}),
	}
	o.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go o.worker()
	}
	return o
}

// Enqueue schedules msg without blocking. It assigns ID and CreatedAt when
// they are empty.
func (o *Outbox) Enqueue(msg Message) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrOutboxClosed
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	select {
	case o.queue <- msg:
		o.enqueued.Add(1)
		return nil
	default:
		o.dropped.Add(1)
		return ErrOutboxFull
	}
}

func (o *Outbox) worker() {
	defer o.wg.Done()
	for {
		select {
		case msg := <-o.queue:
			o.deliver(msg)
		case <-o.stop:
			for {
				select {
				case msg := <-o.queue:
					o.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (o *Outbox) deliver(msg Message) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = o.cfg.InitialInterval
	expo.MaxInterval = o.cfg.MaxInterval

	attempt := 0
	_, err := backoff.Retry(context.Background(), func() (struct{}, error) {
		attempt++
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.SendTimeout)
		defer cancel()

		err := o.sender.Send(ctx, msg)
		if err != nil {
			o.logger.Warn("notification send failed",
				slog.String("message_id", msg.ID),
				slog.String("kind", string(msg.Kind)),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(o.cfg.MaxTries),
	)
	if err != nil {
		o.failed.Add(1)
		o.logger.Error("notification abandoned",
			slog.String("message_id", msg.ID),
			slog.String("kind", string(msg.Kind)),
			slog.Int("attempts", attempt),
		)
		return
	}
	o.sent.Add(1)
}

// Close stops accepting messages and waits for queued ones to be attempted,
// or for ctx to end.
func (o *Outbox) Close(ctx context.Context) error {
	o.once.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.mu.Unlock()
		close(o.stop)
	})

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the current counters.
func (o *Outbox) Stats() OutboxStats {
	return OutboxStats{
		Enqueued: o.enqueued.Load(),
		Sent:     o.sent.Load(),
		Failed:   o.failed.Load(),
		Dropped:  o.dropped.Load(),
	}
}
