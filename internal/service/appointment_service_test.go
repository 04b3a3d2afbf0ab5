package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"clinic-service/internal/models"
	"clinic-service/internal/payment"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ist = time.FixedZone("IST", 5*3600+1800)

type fixture struct {
	repo     *fakeRepo
	bus      *recorder
	appts    *AppointmentService
	payments *PaymentService
	doctorID int64
	userID   int64
}

func newFixture(t *testing.T, provs providers, providerName string) *fixture {
	t.Helper()
	if provs == nil {
		provs = providers{string(payment.Mock): payment.NewMockProvider()}
	}
	if providerName == "" {
		providerName = string(payment.Mock)
	}

	repo := newFakeRepo()
	doctorID, userID := repo.seed()
	bus := &recorder{}

	appts := NewAppointmentService(repo, provs, bus, ist, "INR")
	appts.now = func() time.Time { return time.Date(2030, 1, 10, 10, 0, 0, 0, ist) }

	pays := NewPaymentService(repo, provs, bus, PaymentConfig{
		Provider: providerName,
		TaxRate:  decimal.RequireFromString("0.18"),
		Currency: "INR",
	})

	return &fixture{repo: repo, bus: bus, appts: appts, payments: pays, doctorID: doctorID, userID: userID}
}

func (f *fixture) book(t *testing.T, date, slot string) *models.Appointment {
	t.Helper()
	appt, err := f.appts.Book(context.Background(), BookRequest{UserID: f.userID, DoctorID: f.doctorID, Date: date, TimeSlot: slot})
	require.NoError(t, err)
	return appt
}

func TestBookCreatesPatientAndPublishesAfterCommit(t *testing.T) {
	f := newFixture(t, nil, "")

	appt := f.book(t, "2030-01-11", "10:00 AM")
	assert.Equal(t, models.AppointmentStatusCreated, appt.Status)

	patient, err := f.repo.GetPatientByUserID(context.Background(), f.userID)
	require.NoError(t, err)
	assert.Equal(t, patient.ID, appt.PatientID)
	assert.Equal(t, "asha@example.com", patient.Email)

	assert.Equal(t, []string{models.EventAppointmentBooked, models.EventAdminAlert}, f.bus.names())
	booked, _ := f.bus.find(models.EventAppointmentBooked)
	assert.Equal(t, "Dr Rao", booked.DoctorName)
	assert.Equal(t, appt.ID, booked.AppointmentID)
}

func TestBookValidation(t *testing.T) {
	f := newFixture(t, nil, "")
	ctx := context.Background()

	cases := []BookRequest{
		{Date: "2030-01-09", TimeSlot: "10:00 AM"}, // yesterday
		{Date: "2030-01-10", TimeSlot: "09:30 AM"}, // earlier today
		{Date: "2030-01-11", TimeSlot: "01:00 PM"}, // lunch break
		{Date: "11-01-2030", TimeSlot: "10:00 AM"}, // bad format
	}
	for i, req := range cases {
		req.UserID = f.userID
		req.DoctorID = f.doctorID
		_, err := f.appts.Book(ctx, req)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr, "case %d", i)
	}
	assert.Empty(t, f.bus.names())
}

func TestBookUnknownDoctor(t *testing.T) {
	f := newFixture(t, nil, "")
	_, err := f.appts.Book(context.Background(), BookRequest{UserID: f.userID, DoctorID: 999, Date: "2030-01-11", TimeSlot: "10:00 AM"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, f.bus.names())
}

func TestConcurrentBookingOnlyOneWins(t *testing.T) {
	f := newFixture(t, nil, "")
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.appts.Book(ctx, BookRequest{UserID: f.userID, DoctorID: f.doctorID, Date: "2030-01-11", TimeSlot: "11:00 AM"})
		}(i)
	}
	wg.Wait()

	success, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			success++
		case assert.ErrorIs(t, err, ErrSlotConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, success)
	assert.Equal(t, n-1, conflicts)
}

func TestAvailability(t *testing.T) {
	f := newFixture(t, nil, "")
	ctx := context.Background()

	appt := f.book(t, "2030-01-11", "09:00 AM")
	f.book(t, "2030-01-11", "02:00 PM")

	avail, err := f.appts.Availability(ctx, f.doctorID, "2030-01-11")
	require.NoError(t, err)
	assert.Len(t, avail.Slots, len(models.TimeSlots)-2)
	assert.NotContains(t, avail.Slots, "09:00 AM")
	assert.NotContains(t, avail.Slots, "02:00 PM")

	// cancelled appointments free their slot
	_, err = f.appts.Reject(ctx, appt.ID, "doctor unavailable")
	require.NoError(t, err)
	avail, err = f.appts.Availability(ctx, f.doctorID, "2030-01-11")
	require.NoError(t, err)
	assert.Contains(t, avail.Slots, "09:00 AM")

	_, err = f.appts.Availability(ctx, f.doctorID, "tomorrow")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRejectRefundsSettledPayment(t *testing.T) {
	f := newFixture(t, nil, "")
	ctx := context.Background()

	appt := f.book(t, "2030-01-11", "03:00 PM")
	init, err := f.payments.Initiate(ctx, appt.ID, f.userID)
	require.NoError(t, err)
	_, err = f.payments.Confirm(ctx, init.PaymentID, f.userID, payment.Verification{OrderID: init.TransactionID, PaymentID: "mock_pay_1", Signature: "x"})
	require.NoError(t, err)

	res, err := f.appts.Reject(ctx, appt.ID, "clinic closed")
	require.NoError(t, err)
	assert.False(t, res.AlreadyCancelled)
	assert.NotEmpty(t, res.RefundID)

	refund, ok := f.bus.find(models.EventRefundInitiated)
	require.True(t, ok)
	assert.Equal(t, res.RefundID, refund.RefundID)
	assert.True(t, refund.Amount.Equal(decimal.RequireFromString("590.00")))
	rejected, ok := f.bus.find(models.EventAppointmentRejected)
	require.True(t, ok)
	assert.Equal(t, "clinic closed", rejected.Reason)

	stored, err := f.repo.GetAppointmentForUpdate(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentStatusCancelled, stored.Status)

	// second rejection is a no-op
	before := len(f.bus.names())
	res, err = f.appts.Reject(ctx, appt.ID, "again")
	require.NoError(t, err)
	assert.True(t, res.AlreadyCancelled)
	assert.Len(t, f.bus.names(), before)
}

func TestRejectSurvivesRefundFailure(t *testing.T) {
	mock := payment.NewMockProvider()
	f := newFixture(t, providers{string(payment.Mock): failingRefunds{mock}}, "")
	ctx := context.Background()

	appt := f.book(t, "2030-01-12", "04:00 PM")
	init, err := f.payments.Initiate(ctx, appt.ID, f.userID)
	require.NoError(t, err)
	_, err = f.payments.Confirm(ctx, init.PaymentID, f.userID, payment.Verification{PaymentID: "mock_pay_2"})
	require.NoError(t, err)

	res, err := f.appts.Reject(ctx, appt.ID, "")
	require.NoError(t, err)
	assert.Empty(t, res.RefundID)

	_, refunded := f.bus.find(models.EventRefundInitiated)
	assert.False(t, refunded)
	_, rejected := f.bus.find(models.EventAppointmentRejected)
	assert.True(t, rejected)
}

func TestRejectUnknownAppointment(t *testing.T) {
	f := newFixture(t, nil, "")
	_, err := f.appts.Reject(context.Background(), 12345, "")
	assert.ErrorIs(t, err, ErrNotFound)
}
