package store

import (
	"context"
	"fmt"

	"clinic-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// UpsertInvoice creates the invoice for an appointment or refreshes its amount. There is
// at most one invoice per appointment.
func (q *Queries) UpsertInvoice(ctx context.Context, invoice *models.Invoice) error {
	query := `
		INSERT INTO invoices (appointment_id, patient_id, amount, payment_status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (appointment_id) DO UPDATE
		SET amount = EXCLUDED.amount,
			payment_status = EXCLUDED.payment_status,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`

	return sqlx.GetContext(ctx, q.db, invoice, query,
		invoice.AppointmentID, invoice.PatientID, invoice.Amount, invoice.PaymentStatus)
}

// UpdateInvoiceStatus sets the payment status on an invoice
func (q *Queries) UpdateInvoiceStatus(ctx context.Context, invoiceID int64, status string) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE invoices SET payment_status = $1, updated_at = NOW() WHERE id = $2",
		status, invoiceID)
	if err != nil {
		return fmt.Errorf("update invoice %d: %w", invoiceID, err)
	}
	return requireRow(res)
}

// GetInvoiceByID retrieves an invoice
func (q *Queries) GetInvoiceByID(ctx context.Context, id int64) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := sqlxGet(ctx, q.db, &invoice, "SELECT * FROM invoices WHERE id = $1", id); err != nil {
		return nil, fmt.Errorf("get invoice %d: %w", id, err)
	}
	return &invoice, nil
}

// GetInvoiceForUpdate loads and row-locks an invoice so payment attempts on it settle one at a time
func (q *Queries) GetInvoiceForUpdate(ctx context.Context, id int64) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := sqlxGet(ctx, q.db, &invoice, "SELECT * FROM invoices WHERE id = $1 FOR UPDATE", id); err != nil {
		return nil, fmt.Errorf("get invoice %d: %w", id, err)
	}
	return &invoice, nil
}

// CreatePayment records a payment attempt
func (q *Queries) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (invoice_id, amount, method, transaction_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return sqlx.GetContext(ctx, q.db, payment, query,
		payment.InvoiceID, payment.Amount, payment.Method, payment.TransactionID, payment.Status)
}

// GetPaymentForUpdate loads and row-locks a payment so concurrent confirmations serialize
func (q *Queries) GetPaymentForUpdate(ctx context.Context, id int64) (*models.Payment, error) {
	var payment models.Payment
	if err := sqlxGet(ctx, q.db, &payment, "SELECT * FROM payments WHERE id = $1 FOR UPDATE", id); err != nil {
		return nil, fmt.Errorf("get payment %d: %w", id, err)
	}
	return &payment, nil
}

// SettlePayment writes the final status and provider transaction id
func (q *Queries) SettlePayment(ctx context.Context, id int64, status, transactionID string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE payments SET status = $1, transaction_id = $2, updated_at = NOW()
		WHERE id = $3`,
		status, transactionID, id)
	if err != nil {
		return fmt.Errorf("settle payment %d: %w", id, err)
	}
	return requireRow(res)
}

// FindSuccessfulPayment returns the settled payment on the appointment's invoice
func (q *Queries) FindSuccessfulPayment(ctx context.Context, appointmentID int64) (*models.Payment, error) {
	var payment models.Payment
	err := sqlxGet(ctx, q.db, &payment, `
		SELECT p.* FROM payments p
		JOIN invoices i ON i.id = p.invoice_id
		WHERE i.appointment_id = $1 AND p.status = $2
		ORDER BY p.updated_at DESC
		LIMIT 1`,
		appointmentID, models.PaymentStatusSuccess)
	if err != nil {
		return nil, fmt.Errorf("find successful payment for appointment %d: %w", appointmentID, err)
	}
	return &payment, nil
}
