package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinic-service/internal/events"
	"clinic-service/internal/models"
	"clinic-service/internal/store"
	"clinic-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// AppointmentService books, lists and rejects appointments
type AppointmentService struct {
	repo      Repository
	providers ProviderResolver
	bus       events.Publisher
	loc       *time.Location
	currency  string
	now       func() time.Time
	logger    *zap.Logger
}

// NewAppointmentService creates a new appointment service
func NewAppointmentService(repo Repository, providers ProviderResolver, bus events.Publisher, loc *time.Location, currency string) *AppointmentService {
	return &AppointmentService{
		repo:      repo,
		providers: providers,
		bus:       bus,
		loc:       loc,
		currency:  currency,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// BookRequest represents a request to book an appointment
type BookRequest struct {
	UserID   int64  `json:"-"`
	DoctorID int64  `json:"doctor_id" binding:"required"`
	Date     string `json:"date" binding:"required"`
	TimeSlot string `json:"time_slot" binding:"required"`
	Reason   string `json:"reason"`
}

// Availability lists the free slots of a doctor on a date
type Availability struct {
	DoctorID int64    `json:"doctor_id"`
	Date     string   `json:"date"`
	Slots    []string `json:"available_slots"`
}

// RejectResult reports what a rejection did
type RejectResult struct {
	AppointmentID    int64  `json:"appointment_id"`
	Status           string `json:"status"`
	AlreadyCancelled bool   `json:"already_cancelled"`
	RefundID         string `json:"refund_id,omitempty"`
}

// Book creates an appointment for the caller. The slot check and insert share one
// transaction and the partial unique index catches concurrent inserts.
func (s *AppointmentService) Book(ctx context.Context, req BookRequest) (appt *models.Appointment, err error) {
	ctx, span := util.StartSpan(ctx, "AppointmentService.Book",
		attribute.Int64("doctor_id", req.DoctorID), attribute.String("date", req.Date))
	defer func() { util.EndSpan(span, err) }()

	if err := s.validateSlot(req.Date, req.TimeSlot); err != nil {
		util.BookingFailuresTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	err = s.repo.WithTx(ctx, func(q store.Querier, hooks *store.Hooks) error {
		user, err := q.GetUserByID(ctx, req.UserID)
		if err != nil {
			return err
		}
		patient, err := resolvePatient(ctx, q, user)
		if err != nil {
			return err
		}
		doctor, err := q.GetDoctorByID(ctx, req.DoctorID)
		if err != nil {
			return err
		}

		taken, err := q.SlotTaken(ctx, doctor.ID, req.Date, req.TimeSlot)
		if err != nil {
			return fmt.Errorf("check slot: %w", err)
		}
		if taken {
			return ErrSlotConflict
		}

		appt = &models.Appointment{
			PatientID: patient.ID,
			DoctorID:  doctor.ID,
			Date:      req.Date,
			TimeSlot:  req.TimeSlot,
			Status:    models.AppointmentStatusCreated,
			Reason:    strings.TrimSpace(req.Reason),
		}
		if err := q.CreateAppointment(ctx, appt); err != nil {
			if errors.Is(err, store.ErrSlotTaken) {
				return ErrSlotConflict
			}
			return fmt.Errorf("create appointment: %w", err)
		}

		payload := models.EventPayload{
			Email:         patient.Email,
			Phone:         patient.Phone,
			Name:          patient.Name,
			DoctorName:    doctor.Name,
			AppointmentID: appt.ID,
			Date:          appt.Date,
			TimeSlot:      appt.TimeSlot,
		}
		hooks.OnCommit(func(ctx context.Context) {
			s.bus.Publish(ctx, models.EventAppointmentBooked, payload)
		})
		hooks.OnCommit(func(ctx context.Context) {
			alert := payload
			alert.Message = fmt.Sprintf("New appointment #%d: %s with %s on %s at %s",
				appt.ID, patient.Name, doctor.Name, appt.Date, appt.TimeSlot)
			s.bus.Publish(ctx, models.EventAdminAlert, alert)
		})
		return nil
	})
	if err != nil {
		reason := "db_error"
		switch {
		case errors.Is(err, ErrSlotConflict):
			reason = "slot_conflict"
		case errors.Is(err, ErrNotFound):
			reason = "not_found"
		}
		util.BookingFailuresTotal.WithLabelValues(reason).Inc()
		return nil, err
	}

	util.AppointmentsBookedTotal.Inc()
	s.logger.Info("Appointment booked",
		zap.Int64("appointment_id", appt.ID),
		zap.Int64("doctor_id", appt.DoctorID),
		zap.String("date", appt.Date),
		zap.String("time_slot", appt.TimeSlot))
	return appt, nil
}

// resolvePatient returns the caller's patient profile, creating it on first booking
func resolvePatient(ctx context.Context, q store.Querier, user *models.User) (*models.Patient, error) {
	patient, err := q.GetPatientByUserID(ctx, user.ID)
	if err == nil {
		return patient, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	patient = &models.Patient{UserID: user.ID, Name: user.Name, Email: user.Email, Phone: user.Phone}
	if err := q.CreatePatient(ctx, patient); err != nil {
		return nil, fmt.Errorf("create patient profile: %w", err)
	}
	return patient, nil
}

// Availability returns the fixed schedule minus slots held by non-cancelled appointments
func (s *AppointmentService) Availability(ctx context.Context, doctorID int64, date string) (*Availability, error) {
	if _, err := time.ParseInLocation(models.DateLayout, date, s.loc); err != nil {
		return nil, invalid("date", "must be YYYY-MM-DD")
	}
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}

	booked, err := s.repo.ListBookedSlots(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(booked))
	for _, slot := range booked {
		taken[slot] = true
	}

	free := make([]string, 0, len(models.TimeSlots))
	for _, slot := range models.TimeSlots {
		if !taken[slot] {
			free = append(free, slot)
		}
	}
	return &Availability{DoctorID: doctorID, Date: date, Slots: free}, nil
}

// Reject cancels an appointment and refunds a settled payment on a best-effort basis.
func (s *AppointmentService) Reject(ctx context.Context, appointmentID int64, reason string) (res *RejectResult, err error) {
	ctx, span := util.StartSpan(ctx, "AppointmentService.Reject", attribute.Int64("appointment_id", appointmentID))
	defer func() { util.EndSpan(span, err) }()

	res = &RejectResult{AppointmentID: appointmentID, Status: models.AppointmentStatusCancelled}
	reason = strings.TrimSpace(reason)

	err = s.repo.WithTx(ctx, func(q store.Querier, hooks *store.Hooks) error {
		appt, err := q.GetAppointmentForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt.Status == models.AppointmentStatusCancelled {
			res.AlreadyCancelled = true
			return nil
		}

		if _, err := q.TransitionAppointment(ctx, appt.ID, models.AppointmentStatusCancelled,
			models.AppointmentStatusCreated, models.AppointmentStatusPaymentPending, models.AppointmentStatusConfirmed); err != nil {
			return err
		}

		contact, err := q.GetAppointmentContact(ctx, appt.ID)
		if err != nil {
			return err
		}
		payload := contactPayload(contact)
		payload.Reason = reason

		hooks.OnCommit(func(ctx context.Context) {
			s.bus.Publish(ctx, models.EventAppointmentRejected, payload)
			res.RefundID = s.refund(ctx, appt.ID, payload)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !res.AlreadyCancelled {
		util.AppointmentsRejectedTotal.Inc()
		s.logger.Info("Appointment rejected",
			zap.Int64("appointment_id", appointmentID),
			zap.String("reason", reason),
			zap.String("refund_id", res.RefundID))
	}
	return res, nil
}

// refund returns the refund id, or "" when there was nothing to refund or the gateway refused.
func (s *AppointmentService) refund(ctx context.Context, appointmentID int64, payload models.EventPayload) string {
	log := s.logger.With(zap.Int64("appointment_id", appointmentID))

	paid, err := s.repo.FindSuccessfulPayment(ctx, appointmentID)
	if errors.Is(err, store.ErrNotFound) {
		return ""
	}
	if err != nil {
		log.Error("Refund lookup failed", zap.Error(err))
		util.RefundsTotal.WithLabelValues("lookup_failed").Inc()
		return ""
	}

	provider, err := s.providers.Get(paid.Method)
	if err != nil {
		log.Error("Refund provider unavailable", zap.String("method", paid.Method), zap.Error(err))
		util.RefundsTotal.WithLabelValues("failed").Inc()
		return ""
	}

	start := time.Now()
	refund, err := provider.Refund(ctx, paid.TransactionID, paid.Amount)
	util.ProviderLatency.WithLabelValues(string(provider.Name()), "refund").Observe(time.Since(start).Seconds())
	if err != nil {
		log.Error("Refund failed", zap.Int64("payment_id", paid.ID), zap.Error(err))
		util.RefundsTotal.WithLabelValues("failed").Inc()
		return ""
	}

	util.RefundsTotal.WithLabelValues("initiated").Inc()
	payload.PaymentID = paid.ID
	payload.Amount = paid.Amount
	payload.Currency = s.currency
	payload.TransactionID = paid.TransactionID
	payload.RefundID = refund.RefundID
	s.bus.Publish(ctx, models.EventRefundInitiated, payload)
	return refund.RefundID
}

func (s *AppointmentService) validateSlot(date, slot string) error {
	day, err := time.ParseInLocation(models.DateLayout, date, s.loc)
	if err != nil {
		return invalid("date", "must be YYYY-MM-DD")
	}
	if !models.IsValidSlot(slot) {
		return invalid("time_slot", "not part of the clinic schedule")
	}

	now := s.now().In(s.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	if day.Before(today) {
		return invalid("date", "cannot book in the past")
	}

	start, err := models.SlotStart(date, slot, s.loc)
	if err != nil {
		return invalid("time_slot", err.Error())
	}
	if !start.After(now) {
		return invalid("time_slot", "slot has already started")
	}
	return nil
}

func contactPayload(c *models.AppointmentContact) models.EventPayload {
	return models.EventPayload{
		Email:         c.PatientEmail,
		Phone:         c.PatientPhone,
		Name:          c.PatientName,
		DoctorName:    c.DoctorName,
		AppointmentID: c.AppointmentID,
		Date:          c.Date,
		TimeSlot:      c.TimeSlot,
	}
}
