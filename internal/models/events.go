package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event names
const (
	EventAppointmentBooked   = "appointment.booked"
	EventAppointmentRejected = "appointment.rejected"
	EventAppointmentReminder = "appointment.reminder"
	EventAdminAlert          = "admin.alert"
	EventPaymentSuccess      = "payment.success"
	EventPaymentFailed       = "payment.failed"
	EventRefundInitiated     = "refund.initiated"
	EventOTPRequested        = "otp.requested"
	EventUserRegistered      = "user.registered"
	EventPasswordReset       = "password.reset"
)

// Event is a named fact published after the state it describes has committed
type Event struct {
	EventID    string       `json:"event_id"`
	Name       string       `json:"name"`
	OccurredAt time.Time    `json:"occurred_at"`
	Payload    EventPayload `json:"payload"`
}

// EventPayload carries what notification templates need. Unused fields stay zero.
type EventPayload struct {
	Email         string          `json:"email,omitempty"`
	Phone         string          `json:"phone,omitempty"`
	Name          string          `json:"name,omitempty"`
	DoctorName    string          `json:"doctor_name,omitempty"`
	AppointmentID int64           `json:"appointment_id,omitempty"`
	PaymentID     int64           `json:"payment_id,omitempty"`
	Date          string          `json:"date,omitempty"`
	TimeSlot      string          `json:"time_slot,omitempty"`
	Amount        decimal.Decimal `json:"amount,omitempty"`
	Currency      string          `json:"currency,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	RefundID      string          `json:"refund_id,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Code          string          `json:"-"`
	Link          string          `json:"-"`
	Message       string          `json:"message,omitempty"`
}
