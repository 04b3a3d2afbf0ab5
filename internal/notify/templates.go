package notify

import (
	"context"
	"fmt"
	"strings"

	"clinic-service/internal/events"
	"clinic-service/internal/models"
)

// Subscriber is the registration side of the event bus
type Subscriber interface {
	Subscribe(name string, h events.Handler) error
}

// Templates renders domain events into messages
type Templates struct {
	adminEmail string
	renderers  map[string]func(ev models.Event) []Message
}

func NewTemplates(adminEmail string) *Templates {
	t := &Templates{adminEmail: adminEmail}
	t.renderers = map[string]func(models.Event) []Message{
		models.EventAppointmentBooked:   t.appointmentBooked,
		models.EventAdminAlert:          t.adminAlert,
		models.EventPaymentSuccess:      t.paymentSuccess,
		models.EventPaymentFailed:       t.paymentFailed,
		models.EventAppointmentRejected: t.appointmentRejected,
		models.EventRefundInitiated:     t.refundInitiated,
		models.EventOTPRequested:        t.otpRequested,
		models.EventPasswordReset:       t.passwordReset,
		models.EventUserRegistered:      t.welcome,
		models.EventAppointmentReminder: t.reminder,
	}
	return t
}

// Names lists every event with a template
func (t *Templates) Names() []string {
	names := make([]string, 0, len(t.renderers))
	for name := range t.renderers {
		names = append(names, name)
	}
	return names
}

// Render returns the messages for ev, or nil when it has no template
func (t *Templates) Render(ev models.Event) []Message {
	fn, ok := t.renderers[ev.Name]
	if !ok {
		return nil
	}
	return fn(ev)
}

// Subscribe binds the named events (all templated events when names is empty) to background delivery.
func (d *Dispatcher) Subscribe(bus Subscriber, t *Templates, names ...string) error {
	if len(names) == 0 {
		names = t.Names()
	}
	for _, name := range names {
		err := bus.Subscribe(name, func(ctx context.Context, ev models.Event) error {
			for _, msg := range t.Render(ev) {
				d.Notify(msg)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
	}
	return nil
}

// both returns an email and, when a phone is known, an SMS with per-channel dedup keys
func both(p models.EventPayload, key, subject, body string, critical bool) []Message {
	var msgs []Message
	if p.Email != "" {
		msgs = append(msgs, Message{
			Channel: ChannelEmail, Recipient: p.Email, Subject: subject, Body: body,
			DedupKey: withChannel(key, ChannelEmail), Critical: critical,
		})
	}
	if p.Phone != "" {
		msgs = append(msgs, Message{
			Channel: ChannelSMS, Recipient: p.Phone, Subject: subject, Body: body,
			DedupKey: withChannel(key, ChannelSMS), Critical: critical,
		})
	}
	return msgs
}

func emailOnly(p models.EventPayload, key, subject, body string, critical bool) []Message {
	if p.Email == "" {
		return nil
	}
	return []Message{{
		Channel: ChannelEmail, Recipient: p.Email, Subject: subject, Body: body,
		DedupKey: withChannel(key, ChannelEmail), Critical: critical,
	}}
}

func withChannel(key string, ch Channel) string {
	if key == "" {
		return ""
	}
	return key + ":" + string(ch)
}

func greeting(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Hello,"
	}
	return fmt.Sprintf("Hello %s,", name)
}

func money(p models.EventPayload) string {
	return strings.TrimSpace(p.Amount.StringFixed(2) + " " + p.Currency)
}

func (t *Templates) appointmentBooked(ev models.Event) []Message {
	p := ev.Payload
	body := fmt.Sprintf("%s\n\nYour appointment with %s on %s at %s has been booked. "+
		"Please complete the payment to confirm it.\n\nAppointment #%d",
		greeting(p.Name), p.DoctorName, p.Date, p.TimeSlot, p.AppointmentID)
	return both(p, fmt.Sprintf("appointment_booked_%d", p.AppointmentID), "Appointment booked", body, false)
}

func (t *Templates) adminAlert(ev models.Event) []Message {
	if t.adminEmail == "" {
		return nil
	}
	p := ev.Payload
	body := p.Message
	if body == "" {
		body = fmt.Sprintf("New appointment #%d for %s with %s on %s at %s.",
			p.AppointmentID, p.Name, p.DoctorName, p.Date, p.TimeSlot)
	}
	return []Message{{
		Channel:   ChannelEmail,
		Recipient: t.adminEmail,
		Subject:   "Admin alert",
		Body:      body,
		DedupKey:  "admin_alert_" + ev.EventID,
	}}
}

func (t *Templates) paymentSuccess(ev models.Event) []Message {
	p := ev.Payload
	body := fmt.Sprintf("%s\n\nWe received your payment of %s for appointment #%d. "+
		"Your appointment is confirmed.\n\nTransaction: %s",
		greeting(p.Name), money(p), p.AppointmentID, p.TransactionID)
	return both(p, "payment_success_"+p.TransactionID, "Payment received", body, false)
}

func (t *Templates) paymentFailed(ev models.Event) []Message {
	p := ev.Payload
	body := fmt.Sprintf("%s\n\nYour payment of %s for appointment #%d could not be verified. "+
		"You can retry the payment from your appointments page.",
		greeting(p.Name), money(p), p.AppointmentID)
	return emailOnly(p, fmt.Sprintf("payment_failed_%d", p.PaymentID), "Payment failed", body, false)
}

func (t *Templates) appointmentRejected(ev models.Event) []Message {
	p := ev.Payload
	reason := p.Reason
	if reason == "" {
		reason = "no reason given"
	}
	body := fmt.Sprintf("%s\n\nYour appointment #%d on %s at %s was cancelled by the clinic (%s).",
		greeting(p.Name), p.AppointmentID, p.Date, p.TimeSlot, reason)
	return both(p, fmt.Sprintf("appointment_rejected_%d", p.AppointmentID), "Appointment cancelled", body, false)
}

func (t *Templates) refundInitiated(ev models.Event) []Message {
	p := ev.Payload
	body := fmt.Sprintf("%s\n\nA refund of %s for appointment #%d has been initiated.\n\nRefund: %s",
		greeting(p.Name), money(p), p.AppointmentID, p.RefundID)
	return emailOnly(p, "refund_initiated_"+p.RefundID, "Refund initiated", body, false)
}

func (t *Templates) otpRequested(ev models.Event) []Message {
	p := ev.Payload
	body := fmt.Sprintf("%s\n\nYour verification code is %s. It expires in 5 minutes.\n"+
		"If you did not request this, ignore this email.", greeting(p.Name), p.Code)
	return emailOnly(p, "", "Your verification code", body, true)
}

func (t *Templates) passwordReset(ev models.Event) []Message {
	p := ev.Payload
	body := fmt.Sprintf("%s\n\nUse the link below to reset your password. It expires in 30 minutes.\n\n%s\n\n"+
		"If you did not request a reset, ignore this email.", greeting(p.Name), p.Link)
	return emailOnly(p, "", "Reset your password", body, true)
}

func (t *Templates) welcome(ev models.Event) []Message {
	p := ev.Payload
	body := fmt.Sprintf("%s\n\nYour account is ready. You can now book appointments.", greeting(p.Name))
	return emailOnly(p, "welcome_"+p.Email, "Welcome", body, false)
}

func (t *Templates) reminder(ev models.Event) []Message {
	p := ev.Payload
	body := fmt.Sprintf("%s\n\nReminder: your appointment with %s is coming up at %s on %s.",
		greeting(p.Name), p.DoctorName, p.TimeSlot, p.Date)
	return both(p, fmt.Sprintf("reminder_%d", p.AppointmentID), "Appointment reminder", body, false)
}
