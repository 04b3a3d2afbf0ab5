package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"clinic-service/internal/events"
	"clinic-service/internal/models"
	"clinic-service/internal/payment"
	"clinic-service/internal/store"
	"clinic-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PaymentService drives the invoice and payment lifecycle of an appointment
type PaymentService struct {
	repo            Repository
	providers       ProviderResolver
	bus             events.Publisher
	providerName    string
	taxRate         decimal.Decimal
	currency        string
	providerTimeout time.Duration
	logger          *zap.Logger
}

// PaymentConfig holds the business settings used to price and charge appointments
type PaymentConfig struct {
	Provider        string
	TaxRate         decimal.Decimal
	Currency        string
	ProviderTimeout time.Duration
}

// NewPaymentService creates a new payment service
func NewPaymentService(repo Repository, providers ProviderResolver, bus events.Publisher, cfg PaymentConfig) *PaymentService {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 15 * time.Second
	}
	return &PaymentService{
		repo:            repo,
		providers:       providers,
		bus:             bus,
		providerName:    cfg.Provider,
		taxRate:         cfg.TaxRate,
		currency:        cfg.Currency,
		providerTimeout: cfg.ProviderTimeout,
		logger:          util.GetLogger(),
	}
}

// InitiateResponse is returned to the client to complete payment with the provider
type InitiateResponse struct {
	PaymentID     int64           `json:"payment_id"`
	InvoiceID     int64           `json:"invoice_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Provider      string          `json:"provider"`
	TransactionID string          `json:"transaction_id"`
	Payload       map[string]any  `json:"payload,omitempty"`
}

// ConfirmResponse reports the settled state of a payment
type ConfirmResponse struct {
	PaymentID         int64  `json:"payment_id"`
	Status            string `json:"status"`
	AppointmentStatus string `json:"appointment_status,omitempty"`
	Idempotent        bool   `json:"idempotent"`
	Overpaid          bool   `json:"overpaid,omitempty"`
	RefundID          string `json:"refund_id,omitempty"`
}

// Amount is the consultation fee plus tax, rounded to two decimals
func Amount(fee, taxRate decimal.Decimal) decimal.Decimal {
	return fee.Mul(decimal.NewFromInt(1).Add(taxRate)).Round(2)
}

// Initiate prices the appointment, upserts its invoice and opens a payment with the provider.
// Everything rolls back together if any step fails.
func (s *PaymentService) Initiate(ctx context.Context, appointmentID, userID int64) (resp *InitiateResponse, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Initiate", attribute.Int64("appointment_id", appointmentID))
	defer func() { util.EndSpan(span, err) }()

	provider, err := s.providers.Get(s.providerName)
	if err != nil {
		return nil, err
	}
	util.PaymentAttemptsTotal.WithLabelValues(string(provider.Name())).Inc()

	err = s.repo.WithTx(ctx, func(q store.Querier, hooks *store.Hooks) error {
		appt, err := q.GetAppointmentForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		if err := ensureOwner(ctx, q, userID, appt.PatientID); err != nil {
			return err
		}
		if appt.Status != models.AppointmentStatusCreated && appt.Status != models.AppointmentStatusPaymentPending {
			return fmt.Errorf("%w: appointment is %s", ErrInvalidState, appt.Status)
		}

		doctor, err := q.GetDoctorByID(ctx, appt.DoctorID)
		if err != nil {
			return err
		}

		invoice := &models.Invoice{
			AppointmentID: appt.ID,
			PatientID:     appt.PatientID,
			Amount:        Amount(doctor.ConsultationFee, s.taxRate),
			PaymentStatus: models.InvoiceStatusPending,
		}
		if err := q.UpsertInvoice(ctx, invoice); err != nil {
			return fmt.Errorf("upsert invoice: %w", err)
		}

		result, err := s.initiateWithProvider(ctx, provider, invoice)
		if err != nil {
			return err
		}

		pay := &models.Payment{
			InvoiceID:     invoice.ID,
			Amount:        invoice.Amount,
			Method:        string(provider.Name()),
			TransactionID: result.TransactionID,
			Status:        models.PaymentStatusInitiated,
		}
		if err := q.CreatePayment(ctx, pay); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}

		if _, err := q.TransitionAppointment(ctx, appt.ID, models.AppointmentStatusPaymentPending,
			models.AppointmentStatusCreated, models.AppointmentStatusPaymentPending); err != nil {
			return err
		}

		resp = &InitiateResponse{
			PaymentID:     pay.ID,
			InvoiceID:     invoice.ID,
			Amount:        invoice.Amount,
			Currency:      s.currency,
			Provider:      pay.Method,
			TransactionID: pay.TransactionID,
			Payload:       result.Payload,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Payment initiated",
		zap.Int64("appointment_id", appointmentID),
		zap.Int64("payment_id", resp.PaymentID),
		zap.String("amount", resp.Amount.StringFixed(2)),
		zap.String("provider", resp.Provider))
	return resp, nil
}

func (s *PaymentService) initiateWithProvider(ctx context.Context, provider payment.Provider, invoice *models.Invoice) (*payment.InitiateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	start := time.Now()
	result, err := provider.Initiate(ctx, invoice.Amount, s.currency, map[string]string{
		"appointment_id": strconv.FormatInt(invoice.AppointmentID, 10),
		"invoice_id":     strconv.FormatInt(invoice.ID, 10),
		"receipt":        "appt_" + strconv.FormatInt(invoice.AppointmentID, 10),
	})
	util.ProviderLatency.WithLabelValues(string(provider.Name()), "initiate").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("provider initiate: %w", err)
	}
	return result, nil
}

// Confirm verifies a payment with the provider it was opened with. Confirming an already
// settled payment returns the settled status and has no side effects. A paid invoice is
// never downgraded, and a second valid capture on it is refunded instead of re-confirming.
func (s *PaymentService) Confirm(ctx context.Context, paymentID, userID int64, v payment.Verification) (resp *ConfirmResponse, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Confirm", attribute.Int64("payment_id", paymentID))
	defer func() { util.EndSpan(span, err) }()

	err = s.repo.WithTx(ctx, func(q store.Querier, hooks *store.Hooks) error {
		pay, err := q.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		invoice, err := q.GetInvoiceByID(ctx, pay.InvoiceID)
		if err != nil {
			return err
		}
		if err := ensureOwner(ctx, q, userID, invoice.PatientID); err != nil {
			return err
		}

		if pay.Status != models.PaymentStatusInitiated {
			resp = &ConfirmResponse{PaymentID: pay.ID, Status: pay.Status, Idempotent: true}
			return nil
		}

		// lock order is payment, appointment, invoice; Initiate takes appointment then invoice
		if _, err := q.GetAppointmentForUpdate(ctx, invoice.AppointmentID); err != nil {
			return err
		}
		invoice, err = q.GetInvoiceForUpdate(ctx, pay.InvoiceID)
		if err != nil {
			return err
		}
		alreadyPaid := invoice.PaymentStatus == models.InvoiceStatusPaid

		provider, err := s.providers.Get(pay.Method)
		if err != nil {
			return err
		}

		vctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
		start := time.Now()
		ok, err := provider.Verify(vctx, pay.TransactionID, v)
		util.ProviderLatency.WithLabelValues(string(provider.Name()), "verify").Observe(time.Since(start).Seconds())
		cancel()
		if err != nil {
			return fmt.Errorf("provider verify: %w", err)
		}

		contact, err := q.GetAppointmentContact(ctx, invoice.AppointmentID)
		if err != nil {
			return err
		}
		payload := contactPayload(contact)
		payload.PaymentID = pay.ID
		payload.Amount = pay.Amount
		payload.Currency = s.currency

		if !ok {
			if err := q.SettlePayment(ctx, pay.ID, models.PaymentStatusFailed, pay.TransactionID); err != nil {
				return err
			}
			resp = &ConfirmResponse{PaymentID: pay.ID, Status: models.PaymentStatusFailed, AppointmentStatus: contact.Status}
			if alreadyPaid {
				// a stale attempt on a settled invoice; the patient has nothing to retry
				s.logger.Info("Stale payment attempt failed on paid invoice",
					zap.Int64("payment_id", pay.ID), zap.Int64("invoice_id", invoice.ID))
				return nil
			}
			if err := q.UpdateInvoiceStatus(ctx, invoice.ID, models.InvoiceStatusFailed); err != nil {
				return err
			}
			payload.TransactionID = pay.TransactionID
			payload.Reason = "verification failed"
			hooks.OnCommit(func(ctx context.Context) {
				util.PaymentFailedTotal.Inc()
				s.bus.Publish(ctx, models.EventPaymentFailed, payload)
			})
			return nil
		}

		settlementID := v.PaymentID
		if settlementID == "" {
			settlementID = pay.TransactionID
		}
		// the settlement id replaces the order id as the transaction reference
		if err := q.SettlePayment(ctx, pay.ID, models.PaymentStatusSuccess, settlementID); err != nil {
			return err
		}
		payload.TransactionID = settlementID

		if alreadyPaid {
			resp = &ConfirmResponse{PaymentID: pay.ID, Status: models.PaymentStatusSuccess, AppointmentStatus: contact.Status, Overpaid: true}
			settled := *pay
			settled.TransactionID = settlementID
			hooks.OnCommit(func(ctx context.Context) {
				resp.RefundID, resp.Status = s.refundOverpayment(ctx, provider, &settled, payload)
			})
			return nil
		}

		if err := q.UpdateInvoiceStatus(ctx, invoice.ID, models.InvoiceStatusPaid); err != nil {
			return err
		}
		confirmed, err := q.TransitionAppointment(ctx, invoice.AppointmentID, models.AppointmentStatusConfirmed,
			models.AppointmentStatusCreated, models.AppointmentStatusPaymentPending)
		if err != nil {
			return err
		}

		apptStatus := models.AppointmentStatusConfirmed
		if !confirmed {
			apptStatus = contact.Status
		}
		hooks.OnCommit(func(ctx context.Context) {
			util.PaymentSuccessTotal.Inc()
			s.bus.Publish(ctx, models.EventPaymentSuccess, payload)
			if !confirmed {
				alert := payload
				alert.Message = fmt.Sprintf("Payment %s settled for appointment #%d which is %s",
					settlementID, payload.AppointmentID, apptStatus)
				s.bus.Publish(ctx, models.EventAdminAlert, alert)
			}
		})
		resp = &ConfirmResponse{PaymentID: pay.ID, Status: models.PaymentStatusSuccess, AppointmentStatus: apptStatus}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Payment confirmation processed",
		zap.Int64("payment_id", paymentID),
		zap.String("status", resp.Status),
		zap.Bool("idempotent", resp.Idempotent),
		zap.Bool("overpaid", resp.Overpaid))
	return resp, nil
}

// refundOverpayment returns a second capture on a paid invoice to the payer and alerts the
// admins either way. It reports the refund id and the payment's resulting status.
func (s *PaymentService) refundOverpayment(ctx context.Context, provider payment.Provider, pay *models.Payment, payload models.EventPayload) (string, string) {
	log := s.logger.With(zap.Int64("payment_id", pay.ID), zap.Int64("appointment_id", payload.AppointmentID))

	alert := payload
	start := time.Now()
	rctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	refund, err := provider.Refund(rctx, pay.TransactionID, pay.Amount)
	cancel()
	util.ProviderLatency.WithLabelValues(string(provider.Name()), "refund").Observe(time.Since(start).Seconds())
	if err != nil {
		log.Error("Overpayment refund failed", zap.Error(err))
		util.RefundsTotal.WithLabelValues("failed").Inc()
		alert.Message = fmt.Sprintf("Duplicate payment %s on paid appointment #%d could not be refunded: %v",
			pay.TransactionID, payload.AppointmentID, err)
		s.bus.Publish(ctx, models.EventAdminAlert, alert)
		return "", models.PaymentStatusSuccess
	}

	util.RefundsTotal.WithLabelValues("initiated").Inc()
	status := models.PaymentStatusRefunded
	if err := s.repo.SettlePayment(ctx, pay.ID, models.PaymentStatusRefunded, pay.TransactionID); err != nil {
		log.Error("Failed to mark overpayment refunded", zap.Error(err))
		status = models.PaymentStatusSuccess
	}

	payload.RefundID = refund.RefundID
	s.bus.Publish(ctx, models.EventRefundInitiated, payload)
	alert.RefundID = refund.RefundID
	alert.Message = fmt.Sprintf("Duplicate payment %s on paid appointment #%d was refunded (%s)",
		pay.TransactionID, payload.AppointmentID, refund.RefundID)
	s.bus.Publish(ctx, models.EventAdminAlert, alert)
	return refund.RefundID, status
}

// ensureOwner fails closed unless userID owns the patient profile
func ensureOwner(ctx context.Context, q store.Querier, userID, patientID int64) error {
	patient, err := q.GetPatientByUserID(ctx, userID)
	if err != nil {
		return ErrForbidden
	}
	if patient.ID != patientID {
		return ErrForbidden
	}
	return nil
}
