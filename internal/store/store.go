package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"clinic-service/internal/util"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

var (
	ErrNotFound  = errors.New("record not found")
	ErrSlotTaken = errors.New("time slot already booked")
	ErrDuplicate = errors.New("duplicate record")
)

const (
	uniqueViolation    = "23505"
	activeSlotIndex    = "appointments_active_slot_uniq"
	defaultMaxIdleConn = 5
)

type Store struct {
	*Queries
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore creates a new database store
func NewStore(databaseURL string, maxOpenConns int) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// a full pool makes callers wait for a connection rather than fail
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConn)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{Queries: &Queries{db: db}, db: db, logger: util.Named("store")}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema creates tables and the constraints the booking and invoice invariants rely on.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// WithTx runs fn inside one transaction on a single connection. Hooks registered by fn run
// only after a successful commit.
func (s *Store) WithTx(ctx context.Context, fn func(q Querier, hooks *Hooks) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	hooks := &Hooks{}
	if err := fn(&Queries{db: tx}, hooks); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	hooks.Run(context.WithoutCancel(ctx), s.logger)
	return nil
}

// Hooks collects side effects that must only happen once a transaction has committed.
type Hooks struct {
	fns []func(ctx context.Context)
}

// OnCommit queues fn for after commit
func (h *Hooks) OnCommit(fn func(ctx context.Context)) {
	h.fns = append(h.fns, fn)
}

// Run executes queued hooks in order. A panicking hook is logged and does not stop the rest.
func (h *Hooks) Run(ctx context.Context, logger *zap.Logger) {
	for i, fn := range h.fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Post-commit hook panicked", zap.Int("hook", i), zap.Any("panic", r))
				}
			}()
			fn(ctx)
		}()
	}
	h.fns = nil
}

// Len reports the number of queued hooks
func (h *Hooks) Len() int {
	return len(h.fns)
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
