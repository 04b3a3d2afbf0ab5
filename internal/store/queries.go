package store

import (
	"context"

	"clinic-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// Querier is the set of statements available both on the pool and inside a transaction.
type Querier interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	UpdateUserPassword(ctx context.Context, userID int64, passwordHash string) error
	GetPatientByUserID(ctx context.Context, userID int64) (*models.Patient, error)
	CreatePatient(ctx context.Context, patient *models.Patient) error
	GetDoctorByID(ctx context.Context, id int64) (*models.Doctor, error)

	ListBookedSlots(ctx context.Context, doctorID int64, date string) ([]string, error)
	SlotTaken(ctx context.Context, doctorID int64, date, slot string) (bool, error)
	CreateAppointment(ctx context.Context, appt *models.Appointment) error
	GetAppointmentForUpdate(ctx context.Context, id int64) (*models.Appointment, error)
	TransitionAppointment(ctx context.Context, id int64, to string, from ...string) (bool, error)
	GetAppointmentContact(ctx context.Context, id int64) (*models.AppointmentContact, error)

	UpsertInvoice(ctx context.Context, invoice *models.Invoice) error
	UpdateInvoiceStatus(ctx context.Context, invoiceID int64, status string) error
	GetInvoiceByID(ctx context.Context, id int64) (*models.Invoice, error)
	GetInvoiceForUpdate(ctx context.Context, id int64) (*models.Invoice, error)
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentForUpdate(ctx context.Context, id int64) (*models.Payment, error)
	SettlePayment(ctx context.Context, id int64, status, transactionID string) error
	FindSuccessfulPayment(ctx context.Context, appointmentID int64) (*models.Payment, error)
}

// Queries runs statements against either *sqlx.DB or *sqlx.Tx.
type Queries struct {
	db sqlx.ExtContext
}

var _ Querier = (*Queries)(nil)
