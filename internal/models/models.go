package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a login identity. Patients and doctors hang off it.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	Name         string    `db:"name" json:"name"`
	Phone        string    `db:"phone" json:"phone,omitempty"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Patient is the clinical profile of a user
type Patient struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Phone     string    `db:"phone" json:"phone,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Doctor represents a practitioner with a consultation fee
type Doctor struct {
	ID              int64           `db:"id" json:"id"`
	UserID          int64           `db:"user_id" json:"user_id"`
	Name            string          `db:"name" json:"name"`
	Email           string          `db:"email" json:"email"`
	Specialization  string          `db:"specialization" json:"specialization"`
	ConsultationFee decimal.Decimal `db:"consultation_fee" json:"consultation_fee"`
}

// Appointment is a booking of one slot with one doctor
type Appointment struct {
	ID        int64     `db:"id" json:"id"`
	PatientID int64     `db:"patient_id" json:"patient_id"`
	DoctorID  int64     `db:"doctor_id" json:"doctor_id"`
	Date      string    `db:"appointment_date" json:"date"`
	TimeSlot  string    `db:"time_slot" json:"time_slot"`
	Status    string    `db:"status" json:"status"`
	Reason    string    `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// AppointmentContact joins an appointment with the people needed to notify about it
type AppointmentContact struct {
	AppointmentID int64  `db:"appointment_id"`
	Date          string `db:"appointment_date"`
	TimeSlot      string `db:"time_slot"`
	Status        string `db:"status"`
	PatientUserID int64  `db:"patient_user_id"`
	PatientName   string `db:"patient_name"`
	PatientEmail  string `db:"patient_email"`
	PatientPhone  string `db:"patient_phone"`
	DoctorName    string `db:"doctor_name"`
}

// Invoice is unique per appointment
type Invoice struct {
	ID            int64           `db:"id" json:"id"`
	AppointmentID int64           `db:"appointment_id" json:"appointment_id"`
	PatientID     int64           `db:"patient_id" json:"patient_id"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	PaymentStatus string          `db:"payment_status" json:"payment_status"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Payment is one attempt to settle an invoice
type Payment struct {
	ID            int64           `db:"id" json:"id"`
	InvoiceID     int64           `db:"invoice_id" json:"invoice_id"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Method        string          `db:"method" json:"method"`
	TransactionID string          `db:"transaction_id" json:"transaction_id"`
	Status        string          `db:"status" json:"status"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Appointment statuses
const (
	AppointmentStatusCreated        = "CREATED"
	AppointmentStatusPaymentPending = "PAYMENT_PENDING"
	AppointmentStatusConfirmed      = "CONFIRMED"
	AppointmentStatusCancelled      = "CANCELLED"
)

// Invoice statuses
const (
	InvoiceStatusPending = "Pending"
	InvoiceStatusPaid    = "Paid"
	InvoiceStatusFailed  = "Failed"
)

// Payment statuses
const (
	PaymentStatusInitiated = "INITIATED"
	PaymentStatusSuccess   = "SUCCESS"
	PaymentStatusFailed    = "FAILED"
	// a capture on an invoice that was already paid, returned to the payer
	PaymentStatusRefunded  = "REFUNDED"
)

// User roles
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)
