package service

import (
	"context"
	"errors"
	"fmt"

	"clinic-service/internal/payment"
	"clinic-service/internal/store"
)

var (
	ErrNotFound           = store.ErrNotFound
	ErrSlotConflict       = errors.New("time slot is no longer available")
	ErrForbidden          = errors.New("not allowed to act on this resource")
	ErrInvalidState       = errors.New("operation not allowed in current state")
	ErrConflict           = errors.New("already exists")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// ValidationError reports bad caller input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// Repository is the slice of the store the services need
type Repository interface {
	store.Querier
	WithTx(ctx context.Context, fn func(q store.Querier, hooks *store.Hooks) error) error
}

// ProviderResolver looks up a payment provider by configured name
type ProviderResolver interface {
	Get(name string) (payment.Provider, error)
}
