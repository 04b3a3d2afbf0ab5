package store

import (
	"context"
	"fmt"

	"clinic-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// DATE is rendered back as YYYY-MM-DD so it round-trips through models.Appointment.Date
const appointmentColumns = `id, patient_id, doctor_id,
	to_char(appointment_date, 'YYYY-MM-DD') AS appointment_date,
	time_slot, status, reason, created_at, updated_at`

// ListBookedSlots returns slots held by non-cancelled appointments
func (q *Queries) ListBookedSlots(ctx context.Context, doctorID int64, date string) ([]string, error) {
	var slots []string
	err := sqlx.SelectContext(ctx, q.db, &slots, `
		SELECT time_slot FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2 AND status <> $3`,
		doctorID, date, models.AppointmentStatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("list booked slots: %w", err)
	}
	return slots, nil
}

// SlotTaken reports whether a non-cancelled appointment already holds the slot
func (q *Queries) SlotTaken(ctx context.Context, doctorID int64, date, slot string) (bool, error) {
	var taken bool
	err := sqlx.GetContext(ctx, q.db, &taken, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1 AND appointment_date = $2 AND time_slot = $3 AND status <> $4
		)`, doctorID, date, slot, models.AppointmentStatusCancelled)
	return taken, err
}

// CreateAppointment inserts an appointment. A concurrent booking of the same slot is
// rejected by the partial unique index and reported as ErrSlotTaken.
func (q *Queries) CreateAppointment(ctx context.Context, appt *models.Appointment) error {
	query := `
		INSERT INTO appointments (patient_id, doctor_id, appointment_date, time_slot, status, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := sqlx.GetContext(ctx, q.db, appt, query,
		appt.PatientID, appt.DoctorID, appt.Date, appt.TimeSlot, appt.Status, appt.Reason)
	if isUniqueViolation(err, activeSlotIndex) {
		return ErrSlotTaken
	}
	return err
}

// GetAppointmentForUpdate loads and row-locks an appointment
func (q *Queries) GetAppointmentForUpdate(ctx context.Context, id int64) (*models.Appointment, error) {
	var appt models.Appointment
	err := sqlxGet(ctx, q.db, &appt,
		"SELECT "+appointmentColumns+" FROM appointments WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, fmt.Errorf("get appointment %d: %w", id, err)
	}
	return &appt, nil
}

// TransitionAppointment moves an appointment to status `to` only if it is currently in one
// of `from`. It reports whether a row changed.
func (q *Queries) TransitionAppointment(ctx context.Context, id int64, to string, from ...string) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE appointments SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)`,
		to, id, pq.Array(from))
	if err != nil {
		return false, fmt.Errorf("transition appointment %d to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetAppointmentContact joins the appointment with patient and doctor details
func (q *Queries) GetAppointmentContact(ctx context.Context, id int64) (*models.AppointmentContact, error) {
	var contact models.AppointmentContact
	err := sqlxGet(ctx, q.db, &contact, contactSelect+" WHERE a.id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("get appointment contact %d: %w", id, err)
	}
	return &contact, nil
}

const contactSelect = `
	SELECT a.id AS appointment_id,
		to_char(a.appointment_date, 'YYYY-MM-DD') AS appointment_date,
		a.time_slot, a.status,
		p.user_id AS patient_user_id, p.name AS patient_name,
		p.email AS patient_email, p.phone AS patient_phone,
		d.name AS doctor_name
	FROM appointments a
	JOIN patients p ON p.id = a.patient_id
	JOIN doctors d ON d.id = a.doctor_id`
