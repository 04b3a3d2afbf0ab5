package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"clinic-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetUserByID retrieves a user by ID
func (q *Queries) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := sqlxGet(ctx, q.db, &user, "SELECT * FROM users WHERE id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &user, nil
}

// GetUserByEmail looks up a user by normalised email
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := sqlxGet(ctx, q.db, &user, "SELECT * FROM users WHERE email = $1", email)
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &user, nil
}

// CreateUser inserts a user; an existing email yields ErrDuplicate
func (q *Queries) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (email, name, phone, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err := sqlxGet(ctx, q.db, user, query,
		user.Email, user.Name, user.Phone, user.PasswordHash, user.Role)
	if isUniqueViolation(err, "") {
		return ErrDuplicate
	}
	return err
}

// UpdateUserPassword replaces the stored password hash
func (q *Queries) UpdateUserPassword(ctx context.Context, userID int64, passwordHash string) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2",
		passwordHash, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// GetPatientByUserID returns the patient profile owned by a user
func (q *Queries) GetPatientByUserID(ctx context.Context, userID int64) (*models.Patient, error) {
	var patient models.Patient
	err := sqlxGet(ctx, q.db, &patient, "SELECT * FROM patients WHERE user_id = $1", userID)
	if err != nil {
		return nil, fmt.Errorf("get patient for user %d: %w", userID, err)
	}
	return &patient, nil
}

// CreatePatient creates a patient profile
func (q *Queries) CreatePatient(ctx context.Context, patient *models.Patient) error {
	query := `
		INSERT INTO patients (user_id, name, email, phone)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := sqlxGet(ctx, q.db, patient, query,
		patient.UserID, patient.Name, patient.Email, patient.Phone)
	if isUniqueViolation(err, "") {
		return ErrDuplicate
	}
	return err
}

// GetDoctorByID retrieves a doctor by ID
func (q *Queries) GetDoctorByID(ctx context.Context, id int64) (*models.Doctor, error) {
	var doctor models.Doctor
	err := sqlxGet(ctx, q.db, &doctor,
		"SELECT id, user_id, name, email, specialization, consultation_fee FROM doctors WHERE id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("get doctor %d: %w", id, err)
	}
	return &doctor, nil
}

// sqlxGet maps sql.ErrNoRows to ErrNotFound
func sqlxGet(ctx context.Context, db sqlx.QueryerContext, dest interface{}, query string, args ...interface{}) error {
	err := sqlx.GetContext(ctx, db, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
