package otp

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type registration struct {
	Name string
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }
func wrong(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func newTestManager(cfg Config) (*Manager[registration], *clock) {
	c := &clock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	return newManager[registration](cfg, []byte("test-pepper"), c.now), c
}

func TestGenerateAndVerifyReturnsPayload(t *testing.T) {
	m, _ := newTestManager(Config{})

	code, err := m.Generate("  A@B.com ")
	require.NoError(t, err)
	require.Len(t, code, 6)
	require.NoError(t, m.SetPayload("a@b.com", registration{Name: "Asha"}))

	got, err := m.Verify("a@b.com", code)
	require.NoError(t, err)
	assert.Equal(t, "Asha", got.Name)

	_, err = m.Verify("a@b.com", code)
	assert.ErrorIs(t, err, ErrExpired, "a consumed code cannot be reused")
}

func TestCodeIsStoredHashed(t *testing.T) {
	m, _ := newTestManager(Config{})
	code, err := m.Generate("a@b.com")
	require.NoError(t, err)

	rec, ok := m.records.Get("a@b.com")
	require.True(t, ok)
	assert.NotEqual(t, []byte(code), rec.hash)
	assert.Len(t, rec.hash, 32)
}

func TestGenerateRateLimit(t *testing.T) {
	m, c := newTestManager(Config{RequestLimit: 3, RequestWindow: 15 * time.Minute})

	for i := 0; i < 3; i++ {
		_, err := m.Generate("a@b.com")
		require.NoError(t, err)
		c.advance(time.Minute)
	}

	code, err := m.Generate("a@b.com")
	assert.Empty(t, code)
	require.ErrorIs(t, err, ErrRateLimited)

	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 12*time.Minute, rl.RetryAfter)

	c.advance(12 * time.Minute)
	_, err = m.Generate("a@b.com")
	assert.NoError(t, err, "the oldest request left the window")
}

func TestVerifyExpired(t *testing.T) {
	m, c := newTestManager(Config{CodeTTL: 5 * time.Minute})
	code, err := m.Generate("a@b.com")
	require.NoError(t, err)

	c.advance(5*time.Minute + time.Second)
	_, err = m.Verify("a@b.com", code)
	assert.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, 0, m.Pending())
}

func TestVerifyLocksAfterMaxAttempts(t *testing.T) {
	m, c := newTestManager(Config{MaxAttempts: 5, MinAttemptInterval: 2 * time.Second})
	code, err := m.Generate("a@b.com")
	require.NoError(t, err)

	for i := 1; i < 5; i++ {
		_, err := m.Verify("a@b.com", wrong(code))
		var inv *InvalidCodeError
		require.True(t, errors.As(err, &inv), "attempt %d", i)
		assert.Equal(t, 5-i, inv.Remaining)
		c.advance(3 * time.Second)
	}

	_, err = m.Verify("a@b.com", wrong(code))
	assert.ErrorIs(t, err, ErrTooManyAttempts)
	assert.Equal(t, 0, m.Pending())

	c.advance(3 * time.Second)
	_, err = m.Verify("a@b.com", code)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyTooFastIsRateLimitedWithoutCountingAttempt(t *testing.T) {
	m, c := newTestManager(Config{MaxAttempts: 5, MinAttemptInterval: 2 * time.Second})
	code, err := m.Generate("a@b.com")
	require.NoError(t, err)

	_, err = m.Verify("a@b.com", wrong(code))
	require.ErrorIs(t, err, ErrInvalid)

	_, err = m.Verify("a@b.com", code)
	assert.ErrorIs(t, err, ErrRateLimited)

	c.advance(2 * time.Second)
	_, err = m.Verify("a@b.com", code)
	assert.NoError(t, err)
}

func TestSetPayloadRequiresRecord(t *testing.T) {
	m, _ := newTestManager(Config{})
	assert.ErrorIs(t, m.SetPayload("nobody@b.com", registration{}), ErrNotFound)
}

func TestRegenerateKeepsPayloadAndResetsAttempts(t *testing.T) {
	m, c := newTestManager(Config{MaxAttempts: 2, MinAttemptInterval: time.Second})
	first, err := m.Generate("a@b.com")
	require.NoError(t, err)
	require.NoError(t, m.SetPayload("a@b.com", registration{Name: "Ravi"}))

	_, err = m.Verify("a@b.com", wrong(first))
	require.ErrorIs(t, err, ErrInvalid)
	c.advance(time.Minute)

	second, err := m.Generate("a@b.com")
	require.NoError(t, err)
	c.advance(time.Second)

	got, err := m.Verify("a@b.com", second)
	require.NoError(t, err)
	assert.Equal(t, "Ravi", got.Name)
}

func TestSweepDropsExpiredRecordsAndWindows(t *testing.T) {
	m, c := newTestManager(Config{CodeTTL: time.Minute, RequestWindow: 15 * time.Minute})
	_, err := m.Generate("a@b.com")
	require.NoError(t, err)

	c.advance(2 * time.Minute)
	assert.Equal(t, 1, m.Sweep())

	c.advance(15 * time.Minute)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 0, m.requests.Len())
}
