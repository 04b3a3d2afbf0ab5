package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "0.18", cfg.Business.TaxRate)
	assert.Equal(t, 2*time.Hour, cfg.Reminder.Window)
	assert.Equal(t, 10*time.Minute, cfg.Notify.DedupTTL)
	assert.True(t, cfg.Notify.Enabled)
	assert.Equal(t, 3, cfg.OTP.RequestLimit)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("NOTIFY_DEDUP_TTL", "120")
	t.Setenv("REMINDER_WINDOW", "90m")
	t.Setenv("NOTIFICATIONS_ENABLED", "false")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("OTP_REQUEST_LIMIT", "not-a-number")

	cfg := Load()

	assert.Equal(t, 2*time.Minute, cfg.Notify.DedupTTL)
	assert.Equal(t, 90*time.Minute, cfg.Reminder.Window)
	assert.False(t, cfg.Notify.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3, cfg.OTP.RequestLimit)
}

func TestValidateProductionRejectsDevelopmentDefaults(t *testing.T) {
	t.Setenv("ENV", "production")

	err := Load().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "PAYMENT_PROVIDER")

	t.Setenv("JWT_SECRET", "s3cr3t-from-vault")
	t.Setenv("PAYMENT_PROVIDER", "razorpay")
	t.Setenv("RAZORPAY_KEY_ID", "rzp_live_key")
	t.Setenv("RAZORPAY_KEY_SECRET", "rzp_live_secret")
	assert.NoError(t, Load().Validate())
}

func TestValidateDevelopmentAllowsMock(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("PAYMENT_PROVIDER", "mock")

	assert.NoError(t, Load().Validate())
}

func TestValidateRazorpayNeedsCredentials(t *testing.T) {
	t.Setenv("PAYMENT_PROVIDER", "razorpay")
	t.Setenv("RAZORPAY_KEY_ID", "")
	t.Setenv("RAZORPAY_KEY_SECRET", "")

	err := Load().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RAZORPAY_KEY_ID")
}
