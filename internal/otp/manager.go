// Package otp issues and verifies short-lived one-time codes keyed by email.
// Only an HMAC of each code is kept in memory.
package otp

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"clinic-service/internal/expiring"
	"clinic-service/internal/util"

	"go.uber.org/zap"
)

var (
	ErrRateLimited     = errors.New("otp: too many requests")
	ErrExpired         = errors.New("otp: code expired or not found")
	ErrTooManyAttempts = errors.New("otp: too many verification attempts")
	ErrInvalid         = errors.New("otp: invalid code")
	ErrNotFound        = errors.New("otp: no pending code")
)

// RateLimitError carries how long the caller should wait
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s, retry in %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// InvalidCodeError is returned on a mismatch while attempts remain
type InvalidCodeError struct {
	Remaining int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("%s, %d attempts remaining", ErrInvalid, e.Remaining)
}

func (e *InvalidCodeError) Unwrap() error { return ErrInvalid }

// Config tunes the manager. Zero fields fall back to defaults.
type Config struct {
	CodeTTL            time.Duration
	MaxAttempts        int
	MinAttemptInterval time.Duration
	RequestLimit       int
	RequestWindow      time.Duration
	MaxEntries         int
}

func (c Config) withDefaults() Config {
	if c.CodeTTL <= 0 {
		c.CodeTTL = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RequestLimit <= 0 {
		c.RequestLimit = 3
	}
	if c.RequestWindow <= 0 {
		c.RequestWindow = 15 * time.Minute
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 10000
	}
	return c
}

type record[P any] struct {
	hash        []byte
	attempts    int
	lastAttempt time.Time
	payload     P
	hasPayload  bool
}

// Manager is safe for concurrent use. P is the pending payload type released on success.
type Manager[P any] struct {
	cfg      Config
	pepper   []byte
	records  *expiring.Map[string, *record[P]]
	requests *expiring.Map[string, []time.Time]
	reqMu    sync.Mutex
	now      func() time.Time
	logger   *zap.Logger
}

// NewManager creates a manager with a random HMAC pepper.
func NewManager[P any](cfg Config) (*Manager[P], error) {
	pepper := make([]byte, 32)
	if _, err := rand.Read(pepper); err != nil {
		return nil, fmt.Errorf("generate otp pepper: %w", err)
	}
	return newManager[P](cfg, pepper, time.Now), nil
}

func newManager[P any](cfg Config, pepper []byte, now func() time.Time) *Manager[P] {
	cfg = cfg.withDefaults()
	return &Manager[P]{
		cfg:      cfg,
		pepper:   pepper,
		records:  expiring.New[string, *record[P]](expiring.WithMaxSize(cfg.MaxEntries), expiring.WithClock(now)),
		requests: expiring.New[string, []time.Time](expiring.WithMaxSize(cfg.MaxEntries), expiring.WithClock(now)),
		now:      now,
		logger:   util.Named("otp"),
	}
}

// Normalize canonicalizes an email identifier
func Normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// Generate issues a fresh 6-digit code for identifier and returns it in plaintext.
func (m *Manager[P]) Generate(identifier string) (string, error) {
	id := Normalize(identifier)
	if id == "" {
		return "", errors.New("otp: empty identifier")
	}

	if err := m.admitRequest(id); err != nil {
		util.OTPRequestsTotal.WithLabelValues("generate", "rate_limited").Inc()
		return "", err
	}

	code, err := randomCode()
	if err != nil {
		return "", err
	}

	rec := &record[P]{hash: m.hash(code)}
	if prev, ok := m.records.Get(id); ok && prev.hasPayload {
		rec.payload = prev.payload
		rec.hasPayload = true
	}
	m.records.Set(id, rec, m.cfg.CodeTTL)

	util.OTPRequestsTotal.WithLabelValues("generate", "issued").Inc()
	return code, nil
}

// admitRequest applies the sliding request window for id.
func (m *Manager[P]) admitRequest(id string) error {
	m.reqMu.Lock()
	defer m.reqMu.Unlock()

	now := m.now()
	cutoff := now.Add(-m.cfg.RequestWindow)

	var window []time.Time
	if prev, ok := m.requests.Get(id); ok {
		for _, t := range prev {
			if t.After(cutoff) {
				window = append(window, t)
			}
		}
	}

	if len(window) >= m.cfg.RequestLimit {
		return &RateLimitError{RetryAfter: window[0].Add(m.cfg.RequestWindow).Sub(now)}
	}

	window = append(window, now)
	m.requests.Set(id, window, m.cfg.RequestWindow)
	return nil
}

// SetPayload attaches pending data that Verify hands back on success.
func (m *Manager[P]) SetPayload(identifier string, payload P) error {
	ok := m.records.Update(Normalize(identifier), func(r *record[P]) (*record[P], bool) {
		r.payload = payload
		r.hasPayload = true
		return r, true
	})
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Verify checks code for identifier. On success the record is consumed and its payload returned.
func (m *Manager[P]) Verify(identifier, code string) (P, error) {
	var zero P
	id := Normalize(identifier)
	now := m.now()

	_, expired, ok := m.records.Lookup(id)
	if !ok {
		util.OTPRequestsTotal.WithLabelValues("verify", "missing").Inc()
		return zero, ErrExpired
	}
	if expired {
		m.records.Delete(id)
		util.OTPRequestsTotal.WithLabelValues("verify", "expired").Inc()
		return zero, ErrExpired
	}

	var (
		result   error
		payload  P
		attempts int
	)
	found := m.records.Update(id, func(r *record[P]) (*record[P], bool) {
		defer func() { attempts = r.attempts }()
		if r.attempts >= m.cfg.MaxAttempts {
			result = ErrTooManyAttempts
			return r, false
		}
		if !r.lastAttempt.IsZero() && now.Sub(r.lastAttempt) < m.cfg.MinAttemptInterval {
			result = &RateLimitError{RetryAfter: m.cfg.MinAttemptInterval - now.Sub(r.lastAttempt)}
			return r, true
		}

		r.attempts++
		r.lastAttempt = now

		if hmac.Equal(r.hash, m.hash(code)) {
			payload = r.payload
			return r, false
		}
		if r.attempts >= m.cfg.MaxAttempts {
			result = ErrTooManyAttempts
			return r, false
		}
		result = &InvalidCodeError{Remaining: m.cfg.MaxAttempts - r.attempts}
		return r, true
	})

	if !found {
		return zero, ErrExpired
	}

	switch {
	case result == nil:
		util.OTPRequestsTotal.WithLabelValues("verify", "ok").Inc()
		return payload, nil
	case errors.Is(result, ErrTooManyAttempts):
		m.logger.Warn("OTP locked after too many attempts", zap.String("identifier", id), zap.Int("attempts", attempts))
		util.OTPRequestsTotal.WithLabelValues("verify", "locked").Inc()
	case errors.Is(result, ErrRateLimited):
		util.OTPRequestsTotal.WithLabelValues("verify", "rate_limited").Inc()
	default:
		util.OTPRequestsTotal.WithLabelValues("verify", "invalid").Inc()
	}
	return zero, result
}

// Sweep drops expired codes and stale request windows, then enforces the size cap.
func (m *Manager[P]) Sweep() int {
	return m.records.Sweep() + m.requests.Sweep()
}

// Pending reports how many codes are currently stored.
func (m *Manager[P]) Pending() int {
	return m.records.Len()
}

// Run sweeps on every interval until ctx is done.
func (m *Manager[P]) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug("OTP sweep", zap.Int("removed", n))
			}
		}
	}
}

func (m *Manager[P]) hash(code string) []byte {
	mac := hmac.New(sha256.New, m.pepper)
	mac.Write([]byte(code))
	return mac.Sum(nil)
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
