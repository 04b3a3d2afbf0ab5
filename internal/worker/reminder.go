package worker

import (
	"context"
	"errors"
	"time"

	"clinic-service/internal/expiring"
	"clinic-service/internal/models"
	"clinic-service/internal/notify"
	"clinic-service/internal/timezone"
	"clinic-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReminderStore lists reminder candidates and durably records sent reminders
type ReminderStore interface {
	ListReminderCandidates(ctx context.Context, dates []string) ([]models.AppointmentContact, error)
	RecordReminder(ctx context.Context, appointmentID int64) error
}

type ReminderConfig struct {
	Window       time.Duration
	Interval     time.Duration
	InitialDelay time.Duration
}

// ReminderScheduler sends one reminder per confirmed appointment shortly before it starts.
type ReminderScheduler struct {
	cfg        ReminderConfig
	store      ReminderStore
	templates  *notify.Templates
	dispatcher Deliverer
	loc        *time.Location
	sent       *expiring.Map[int64, struct{}]
	now        func() time.Time
	logger     *zap.Logger
}

// NewReminderScheduler creates a scheduler working in the clinic's timezone
func NewReminderScheduler(cfg ReminderConfig, store ReminderStore, templates *notify.Templates, dispatcher Deliverer, loc *time.Location) *ReminderScheduler {
	if cfg.Window <= 0 {
		cfg.Window = 2 * time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &ReminderScheduler{
		cfg:        cfg,
		store:      store,
		templates:  templates,
		dispatcher: dispatcher,
		loc:        loc,
		sent:       expiring.New[int64, struct{}](),
		now:        time.Now,
		logger:     util.Named("reminders"),
	}
}

// Start runs a first tick after the initial delay and then one per interval, until ctx ends.
func (s *ReminderScheduler) Start(ctx context.Context) {
	s.logger.Info("Starting reminder scheduler",
		zap.Duration("initial_delay", s.cfg.InitialDelay),
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("window", s.cfg.Window))

	select {
	case <-ctx.Done():
		return
	case <-time.After(s.cfg.InitialDelay):
	}
	s.Tick(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reminder scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick sends reminders for appointments starting within the window and returns how many went out.
func (s *ReminderScheduler) Tick(ctx context.Context) int {
	now := s.now().In(s.loc)
	s.sent.Sweep()

	today, tomorrow := timezone.Dates(now, s.loc)
	candidates, err := s.store.ListReminderCandidates(ctx, []string{today, tomorrow})
	if err != nil {
		s.logger.Error("Failed to list reminder candidates", zap.Error(err))
		return 0
	}

	sent := 0
	for _, c := range candidates {
		if _, done := s.sent.Get(c.AppointmentID); done {
			continue
		}

		start, err := models.SlotStart(c.Date, c.TimeSlot, s.loc)
		if err != nil {
			s.logger.Warn("Skipping appointment with bad slot", zap.Int64("appointment_id", c.AppointmentID), zap.Error(err))
			continue
		}
		if start.Before(now) || start.After(now.Add(s.cfg.Window)) {
			continue
		}

		if s.remind(ctx, c) {
			sent++
		}
	}
	return sent
}

// remind delivers the reminder for one appointment. Failures are logged and never abort the tick.
func (s *ReminderScheduler) remind(ctx context.Context, c models.AppointmentContact) bool {
	log := s.logger.With(zap.Int64("appointment_id", c.AppointmentID))

	ev := models.Event{
		EventID:    uuid.New().String(),
		Name:       models.EventAppointmentReminder,
		OccurredAt: s.now(),
		Payload: models.EventPayload{
			Email:         c.PatientEmail,
			Phone:         c.PatientPhone,
			Name:          c.PatientName,
			DoctorName:    c.DoctorName,
			AppointmentID: c.AppointmentID,
			Date:          c.Date,
			TimeSlot:      c.TimeSlot,
		},
	}

	msgs := s.templates.Render(ev)
	if len(msgs) == 0 {
		log.Warn("No contact details for reminder")
		s.sent.Set(c.AppointmentID, struct{}{}, 24*time.Hour)
		return false
	}

	delivered := false
	for _, msg := range msgs {
		err := s.dispatcher.Deliver(ctx, msg)
		switch {
		case err == nil, errors.Is(err, notify.ErrDuplicate):
			delivered = true
		case errors.Is(err, notify.ErrDisabled):
			log.Debug("Reminder channel disabled", zap.String("channel", string(msg.Channel)))
		default:
			log.Warn("Reminder delivery failed", zap.String("channel", string(msg.Channel)), zap.Error(err))
		}
	}
	if !delivered {
		return false
	}

	s.sent.Set(c.AppointmentID, struct{}{}, 24*time.Hour)
	if err := s.store.RecordReminder(ctx, c.AppointmentID); err != nil {
		log.Error("Failed to record reminder", zap.Error(err))
	}
	util.RemindersSentTotal.Inc()
	log.Info("Reminder sent")
	return true
}
