package notify

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// EmailSender delivers mail over SMTP
type EmailSender struct {
	dialer     *gomail.Dialer
	from       string
	senderName string
}

// NewEmailSender creates an SMTP sender
func NewEmailSender(host string, port int, username, password, from, senderName string) *EmailSender {
	return &EmailSender{
		dialer:     gomail.NewDialer(host, port, username, password),
		from:       from,
		senderName: senderName,
	}
}

// Send sends a plain text email
func (s *EmailSender) Send(ctx context.Context, recipient, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(s.from, s.senderName))
	m.SetHeader("To", recipient)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
