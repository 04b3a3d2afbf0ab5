package notify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"clinic-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrDisabled   = errors.New("notifications disabled")
	ErrNoSender   = errors.New("no sender for channel")
	ErrDuplicate  = errors.New("duplicate notification suppressed")
	ErrDropped    = errors.New("notification dropped by rate limit")
	ErrSendFailed = errors.New("notification send failed")
)

const recipientWindow = time.Hour

type Config struct {
	Enabled             bool
	EmailEnabled        bool
	SMSEnabled          bool
	DedupTTL            time.Duration
	PerRecipientPerHour int
	GlobalRatePerSecond float64
	GlobalBurst         int
	MaxRetries          int
	BackoffBase         float64
	BackoffUnit         time.Duration
	QueueSize           int
	Workers             int
}

func (c Config) withDefaults() Config {
	if c.DedupTTL <= 0 {
		c.DedupTTL = 10 * time.Minute
	}
	if c.GlobalRatePerSecond <= 0 {
		c.GlobalRatePerSecond = 5
	}
	if c.GlobalBurst <= 0 {
		c.GlobalBurst = 20
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffBase < 1 {
		c.BackoffBase = 2
	}
	if c.BackoffUnit <= 0 {
		c.BackoffUnit = time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	return c
}

// Dispatcher delivers messages. Deliver is synchronous; Notify queues for the worker pool.
type Dispatcher struct {
	cfg     Config
	senders map[Channel]Sender
	dedup   Deduper
	quota   Quota
	limiter *rate.Limiter
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	mu     sync.RWMutex
	queue  chan Message
	done   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Nil dedup or quota fall back to in-memory implementations.
func NewDispatcher(cfg Config, senders map[Channel]Sender, dedup Deduper, quota Quota) *Dispatcher {
	cfg = cfg.withDefaults()
	if dedup == nil {
		dedup = NewMemoryDeduper(10000)
	}
	if quota == nil {
		quota = NewMemoryQuota(cfg.PerRecipientPerHour, recipientWindow)
	}
	return &Dispatcher{
		cfg:     cfg,
		senders: senders,
		dedup:   dedup,
		quota:   quota,
		limiter: rate.NewLimiter(rate.Limit(cfg.GlobalRatePerSecond), cfg.GlobalBurst),
		logger:  util.Named("notify"),
		sleep:   sleepContext,
		queue:   make(chan Message, cfg.QueueSize),
		done:    make(chan struct{}),
	}
}

// Deliver sends msg now. The returned error is for bookkeeping only; business flows should use Notify.
func (d *Dispatcher) Deliver(ctx context.Context, msg Message) error {
	log := d.logger.With(
		zap.String("channel", string(msg.Channel)),
		zap.String("recipient", msg.Recipient),
		zap.String("dedup_key", msg.DedupKey))

	if !msg.Critical && !d.channelEnabled(msg.Channel) {
		log.Debug("Notification skipped, channel disabled")
		d.record(msg.Channel, "disabled")
		return ErrDisabled
	}

	sender, ok := d.senders[msg.Channel]
	if !ok || sender == nil {
		log.Warn("No sender configured")
		d.record(msg.Channel, "no_sender")
		return fmt.Errorf("%w: %s", ErrNoSender, msg.Channel)
	}

	claimed := false
	if msg.DedupKey != "" {
		ok, err := d.dedup.Claim(ctx, msg.DedupKey, d.cfg.DedupTTL)
		switch {
		case err != nil:
			// dedup store unavailable: send anyway
			log.Warn("Dedup claim failed", zap.Error(err))
		case !ok:
			log.Info("Duplicate notification suppressed")
			d.record(msg.Channel, "duplicate")
			return ErrDuplicate
		default:
			claimed = true
		}
	}

	err := d.deliverClaimed(ctx, msg, sender, log)
	if err != nil && claimed {
		if rerr := d.dedup.Release(context.WithoutCancel(ctx), msg.DedupKey); rerr != nil {
			log.Warn("Dedup release failed", zap.Error(rerr))
		}
	}
	return err
}

func (d *Dispatcher) deliverClaimed(ctx context.Context, msg Message, sender Sender, log *zap.Logger) error {
	allowed, err := d.quota.Allow(ctx, msg.Recipient)
	if err != nil {
		log.Warn("Recipient quota check failed", zap.Error(err))
		allowed = true
	}
	if !allowed {
		log.Warn("Notification dropped, recipient hourly limit reached")
		d.record(msg.Channel, "rate_limited")
		return ErrDropped
	}

	if !d.limiter.Allow() {
		log.Warn("Notification dropped, global rate limit reached")
		d.record(msg.Channel, "rate_limited")
		return ErrDropped
	}

	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := d.sleep(ctx, d.backoff(attempt)); err != nil {
				lastErr = err
				break
			}
		}

		lastErr = sender.Send(ctx, msg.Recipient, msg.Subject, msg.Body)
		if lastErr == nil {
			d.record(msg.Channel, "sent")
			return nil
		}
		log.Warn("Notification attempt failed", zap.Int("attempt", attempt+1), zap.Error(lastErr))
	}

	log.Error("Notification failed after retries", zap.Error(lastErr))
	d.record(msg.Channel, "failed")
	return fmt.Errorf("%w: %v", ErrSendFailed, lastErr)
}

// backoff is unit × base^attempt for the attempt-th retry
func (d *Dispatcher) backoff(attempt int) time.Duration {
	return time.Duration(float64(d.cfg.BackoffUnit) * math.Pow(d.cfg.BackoffBase, float64(attempt)))
}

func (d *Dispatcher) channelEnabled(ch Channel) bool {
	if !d.cfg.Enabled {
		return false
	}
	switch ch {
	case ChannelEmail:
		return d.cfg.EmailEnabled
	case ChannelSMS:
		return d.cfg.SMSEnabled
	}
	return true
}

func (d *Dispatcher) record(ch Channel, result string) {
	util.NotificationsTotal.WithLabelValues(string(ch), result).Inc()
}

// Notify queues msg for background delivery. A full or stopped queue drops the message.
func (d *Dispatcher) Notify(msg Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("Dispatcher stopped, notification dropped", zap.String("recipient", msg.Recipient))
		return
	}
	select {
	case d.queue <- msg:
	default:
		d.logger.Warn("Notification queue full, dropping", zap.String("recipient", msg.Recipient))
		d.record(msg.Channel, "queue_full")
	}
}

// Start runs the delivery workers and the in-memory janitor until Stop.
func (d *Dispatcher) Start(ctx context.Context, sweepInterval time.Duration) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for msg := range d.queue {
				_ = d.Deliver(ctx, msg)
			}
		}()
	}

	if sweepInterval > 0 {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.janitor(ctx, sweepInterval)
		}()
	}

	d.logger.Info("Notification dispatcher started", zap.Int("workers", d.cfg.Workers))
}

func (d *Dispatcher) janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case <-ticker.C:
			for _, s := range []interface{}{d.dedup, d.quota} {
				if sw, ok := s.(sweeper); ok {
					sw.Sweep()
				}
			}
		}
	}
}

// Stop closes the queue and waits for queued messages to drain.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
		close(d.done)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
