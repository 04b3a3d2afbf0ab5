// Package notify renders domain events into outbound messages and delivers them with
// dedup, rate limiting and bounded retries.
package notify

import (
	"context"

	"clinic-service/internal/util"

	"go.uber.org/zap"
)

// Channel is an outbound transport
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Sender delivers one rendered message over a single channel
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// Message is a rendered notification ready for delivery
type Message struct {
	Channel   Channel
	Recipient string
	Subject   string
	Body      string
	// DedupKey suppresses repeats within the dedup TTL. Empty disables dedup.
	DedupKey string
	// Critical messages are sent even when notifications are switched off.
	Critical bool
}

// LogSender writes messages to the log instead of sending them. Used when no gateway is configured.
type LogSender struct {
	channel Channel
	logger  *zap.Logger
}

func NewLogSender(channel Channel) *LogSender {
	return &LogSender{channel: channel, logger: util.Named("notify")}
}

func (s *LogSender) Send(ctx context.Context, recipient, subject, body string) error {
	s.logger.Info("Notification (log only)",
		zap.String("channel", string(s.channel)),
		zap.String("recipient", recipient),
		zap.String("subject", subject))
	return nil
}
