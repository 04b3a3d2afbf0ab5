package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu       sync.Mutex
	failures int
	sent     []string
	attempts int
}

func (s *fakeSender) Send(ctx context.Context, recipient, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	if s.failures > 0 {
		s.failures--
		return errors.New("smtp unavailable")
	}
	s.sent = append(s.sent, recipient)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func testConfig() Config {
	return Config{
		Enabled:             true,
		EmailEnabled:        true,
		SMSEnabled:          true,
		DedupTTL:            10 * time.Minute,
		PerRecipientPerHour: 10,
		GlobalRatePerSecond: 100,
		GlobalBurst:         100,
		MaxRetries:          3,
		BackoffBase:         2,
		BackoffUnit:         time.Second,
	}
}

func newTestDispatcher(cfg Config, sender Sender) (*Dispatcher, *[]time.Duration) {
	d := NewDispatcher(cfg, map[Channel]Sender{ChannelEmail: sender, ChannelSMS: sender}, nil, nil)
	var delays []time.Duration
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		delays = append(delays, dur)
		return ctx.Err()
	}
	return d, &delays
}

func email(key string) Message {
	return Message{Channel: ChannelEmail, Recipient: "asha@example.com", Subject: "s", Body: "b", DedupKey: key}
}

func TestDeliverSuppressesDuplicatesWithinTTL(t *testing.T) {
	sender := &fakeSender{}
	d, _ := newTestDispatcher(testConfig(), sender)
	ctx := context.Background()

	require.NoError(t, d.Deliver(ctx, email("payment_success_pay_1")))
	assert.ErrorIs(t, d.Deliver(ctx, email("payment_success_pay_1")), ErrDuplicate)
	require.NoError(t, d.Deliver(ctx, email("payment_success_pay_2")))

	assert.Equal(t, 2, sender.count())
}

func TestDeliverRetriesWithExponentialBackoff(t *testing.T) {
	sender := &fakeSender{failures: 2}
	d, delays := newTestDispatcher(testConfig(), sender)

	require.NoError(t, d.Deliver(context.Background(), email("k")))
	assert.Equal(t, 3, sender.attempts)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *delays)
}

func TestDeliverGivesUpAndReleasesDedupKey(t *testing.T) {
	sender := &fakeSender{failures: 100}
	d, delays := newTestDispatcher(testConfig(), sender)
	ctx := context.Background()

	err := d.Deliver(ctx, email("reminder_7:email"))
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.Equal(t, 4, sender.attempts)
	assert.Len(t, *delays, 3)

	// the key was released so a later attempt can still go out
	sender.failures = 0
	require.NoError(t, d.Deliver(ctx, email("reminder_7:email")))
}

func TestDeliverEnforcesPerRecipientLimit(t *testing.T) {
	cfg := testConfig()
	cfg.PerRecipientPerHour = 2
	sender := &fakeSender{}
	d, _ := newTestDispatcher(cfg, sender)
	ctx := context.Background()

	require.NoError(t, d.Deliver(ctx, email("")))
	require.NoError(t, d.Deliver(ctx, email("")))
	assert.ErrorIs(t, d.Deliver(ctx, email("")), ErrDropped)

	other := email("")
	other.Recipient = "ravi@example.com"
	assert.NoError(t, d.Deliver(ctx, other))
}

func TestDeliverEnforcesGlobalBurst(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalRatePerSecond = 0.001
	cfg.GlobalBurst = 1
	cfg.PerRecipientPerHour = 0
	sender := &fakeSender{}
	d, _ := newTestDispatcher(cfg, sender)
	ctx := context.Background()

	require.NoError(t, d.Deliver(ctx, email("")))
	assert.ErrorIs(t, d.Deliver(ctx, email("")), ErrDropped)
	assert.Equal(t, 1, sender.count())
}

func TestDisabledFlagSkipsAllButCritical(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	sender := &fakeSender{}
	d, _ := newTestDispatcher(cfg, sender)
	ctx := context.Background()

	assert.ErrorIs(t, d.Deliver(ctx, email("")), ErrDisabled)

	otp := email("")
	otp.Critical = true
	assert.NoError(t, d.Deliver(ctx, otp))
	assert.Equal(t, 1, sender.count())
}

func TestChannelFlag(t *testing.T) {
	cfg := testConfig()
	cfg.SMSEnabled = false
	sender := &fakeSender{}
	d, _ := newTestDispatcher(cfg, sender)

	sms := Message{Channel: ChannelSMS, Recipient: "+911234567890", Body: "b"}
	assert.ErrorIs(t, d.Deliver(context.Background(), sms), ErrDisabled)
	assert.NoError(t, d.Deliver(context.Background(), email("")))
}

func TestNotifyDeliversInBackgroundAndDrainsOnStop(t *testing.T) {
	sender := &fakeSender{}
	cfg := testConfig()
	cfg.Workers = 2
	d, _ := newTestDispatcher(cfg, sender)
	d.Start(context.Background(), 0)

	for i := 0; i < 5; i++ {
		m := email("")
		m.DedupKey = string(rune('a' + i))
		d.Notify(m)
	}
	d.Stop()

	assert.Equal(t, 5, sender.count())

	// after Stop messages are dropped instead of panicking
	assert.NotPanics(t, func() { d.Notify(email("late")) })
}

func TestMissingSender(t *testing.T) {
	d := NewDispatcher(testConfig(), map[Channel]Sender{}, nil, nil)
	assert.ErrorIs(t, d.Deliver(context.Background(), email("")), ErrNoSender)
}
