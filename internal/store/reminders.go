package store

import (
	"context"
	"fmt"

	"clinic-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ListReminderCandidates returns confirmed appointments on the given dates that have not
// been reminded yet
func (s *Store) ListReminderCandidates(ctx context.Context, dates []string) ([]models.AppointmentContact, error) {
	var contacts []models.AppointmentContact
	err := sqlx.SelectContext(ctx, s.db, &contacts, contactSelect+`
		LEFT JOIN appointment_reminders r ON r.appointment_id = a.id
		WHERE a.status = $1
			AND a.appointment_date = ANY($2::date[])
			AND r.appointment_id IS NULL
		ORDER BY a.appointment_date, a.time_slot`,
		models.AppointmentStatusConfirmed, pq.Array(dates))
	if err != nil {
		return nil, fmt.Errorf("list reminder candidates: %w", err)
	}
	return contacts, nil
}

// RecordReminder marks an appointment as reminded. Recording twice is a no-op.
func (s *Store) RecordReminder(ctx context.Context, appointmentID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO appointment_reminders (appointment_id)
		VALUES ($1)
		ON CONFLICT (appointment_id) DO NOTHING`, appointmentID)
	if err != nil {
		return fmt.Errorf("record reminder %d: %w", appointmentID, err)
	}
	return nil
}
