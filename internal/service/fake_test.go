package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"clinic-service/internal/models"
	"clinic-service/internal/payment"
	"clinic-service/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// fakeState is an in-memory Querier. It is not safe for concurrent use on its own;
// fakeRepo serializes access.
type fakeState struct {
	nextID       int64
	users        map[int64]models.User
	patients     map[int64]models.Patient
	doctors      map[int64]models.Doctor
	appointments map[int64]models.Appointment
	invoices     map[int64]models.Invoice
	payments     map[int64]models.Payment
}

func newFakeState() *fakeState {
	return &fakeState{
		nextID:       100,
		users:        map[int64]models.User{},
		patients:     map[int64]models.Patient{},
		doctors:      map[int64]models.Doctor{},
		appointments: map[int64]models.Appointment{},
		invoices:     map[int64]models.Invoice{},
		payments:     map[int64]models.Payment{},
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (f *fakeState) clone() *fakeState {
	return &fakeState{
		nextID:       f.nextID,
		users:        copyMap(f.users),
		patients:     copyMap(f.patients),
		doctors:      copyMap(f.doctors),
		appointments: copyMap(f.appointments),
		invoices:     copyMap(f.invoices),
		payments:     copyMap(f.payments),
	}
}

func (f *fakeState) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeState) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (f *fakeState) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeState) CreateUser(ctx context.Context, user *models.User) error {
	if _, err := f.GetUserByEmail(ctx, user.Email); err == nil {
		return store.ErrDuplicate
	}
	user.ID = f.id()
	user.CreatedAt = time.Now()
	f.users[user.ID] = *user
	return nil
}

func (f *fakeState) UpdateUserPassword(ctx context.Context, userID int64, passwordHash string) error {
	u, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.PasswordHash = passwordHash
	f.users[userID] = u
	return nil
}

func (f *fakeState) GetPatientByUserID(ctx context.Context, userID int64) (*models.Patient, error) {
	for _, p := range f.patients {
		if p.UserID == userID {
			p := p
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeState) CreatePatient(ctx context.Context, patient *models.Patient) error {
	if _, err := f.GetPatientByUserID(ctx, patient.UserID); err == nil {
		return store.ErrDuplicate
	}
	patient.ID = f.id()
	f.patients[patient.ID] = *patient
	return nil
}

func (f *fakeState) GetDoctorByID(ctx context.Context, id int64) (*models.Doctor, error) {
	d, ok := f.doctors[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (f *fakeState) ListBookedSlots(ctx context.Context, doctorID int64, date string) ([]string, error) {
	var slots []string
	for _, a := range f.appointments {
		if a.DoctorID == doctorID && a.Date == date && a.Status != models.AppointmentStatusCancelled {
			slots = append(slots, a.TimeSlot)
		}
	}
	return slots, nil
}

func (f *fakeState) SlotTaken(ctx context.Context, doctorID int64, date, slot string) (bool, error) {
	slots, _ := f.ListBookedSlots(ctx, doctorID, date)
	for _, s := range slots {
		if s == slot {
			return true, nil
		}
	}
	return false, nil
}

// CreateAppointment enforces the same uniqueness as the partial index
func (f *fakeState) CreateAppointment(ctx context.Context, appt *models.Appointment) error {
	taken, _ := f.SlotTaken(ctx, appt.DoctorID, appt.Date, appt.TimeSlot)
	if taken {
		return store.ErrSlotTaken
	}
	appt.ID = f.id()
	f.appointments[appt.ID] = *appt
	return nil
}

func (f *fakeState) GetAppointmentForUpdate(ctx context.Context, id int64) (*models.Appointment, error) {
	a, ok := f.appointments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (f *fakeState) TransitionAppointment(ctx context.Context, id int64, to string, from ...string) (bool, error) {
	a, ok := f.appointments[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if a.Status == s {
			a.Status = to
			f.appointments[id] = a
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeState) GetAppointmentContact(ctx context.Context, id int64) (*models.AppointmentContact, error) {
	a, ok := f.appointments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	p := f.patients[a.PatientID]
	d := f.doctors[a.DoctorID]
	return &models.AppointmentContact{
		AppointmentID: a.ID,
		Date:          a.Date,
		TimeSlot:      a.TimeSlot,
		Status:        a.Status,
		PatientUserID: p.UserID,
		PatientName:   p.Name,
		PatientEmail:  p.Email,
		PatientPhone:  p.Phone,
		DoctorName:    d.Name,
	}, nil
}

func (f *fakeState) UpsertInvoice(ctx context.Context, invoice *models.Invoice) error {
	for id, inv := range f.invoices {
		if inv.AppointmentID == invoice.AppointmentID {
			inv.Amount = invoice.Amount
			inv.PaymentStatus = invoice.PaymentStatus
			f.invoices[id] = inv
			*invoice = inv
			return nil
		}
	}
	invoice.ID = f.id()
	f.invoices[invoice.ID] = *invoice
	return nil
}

func (f *fakeState) UpdateInvoiceStatus(ctx context.Context, invoiceID int64, status string) error {
	inv, ok := f.invoices[invoiceID]
	if !ok {
		return store.ErrNotFound
	}
	inv.PaymentStatus = status
	f.invoices[invoiceID] = inv
	return nil
}

func (f *fakeState) GetInvoiceByID(ctx context.Context, id int64) (*models.Invoice, error) {
	inv, ok := f.invoices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &inv, nil
}

func (f *fakeState) GetInvoiceForUpdate(ctx context.Context, id int64) (*models.Invoice, error) {
	return f.GetInvoiceByID(ctx, id)
}

func (f *fakeState) CreatePayment(ctx context.Context, p *models.Payment) error {
	p.ID = f.id()
	f.payments[p.ID] = *p
	return nil
}

func (f *fakeState) GetPaymentForUpdate(ctx context.Context, id int64) (*models.Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (f *fakeState) SettlePayment(ctx context.Context, id int64, status, transactionID string) error {
	p, ok := f.payments[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Status = status
	p.TransactionID = transactionID
	f.payments[id] = p
	return nil
}

func (f *fakeState) FindSuccessfulPayment(ctx context.Context, appointmentID int64) (*models.Payment, error) {
	for _, p := range f.payments {
		inv := f.invoices[p.InvoiceID]
		if inv.AppointmentID == appointmentID && p.Status == models.PaymentStatusSuccess {
			p := p
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

// fakeRepo serializes transactions and restores the snapshot on error
type fakeRepo struct {
	mu    sync.Mutex
	state *fakeState
	txs   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{state: newFakeState()}
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(q store.Querier, hooks *store.Hooks) error) error {
	r.mu.Lock()
	snapshot := r.state.clone()
	hooks := &store.Hooks{}
	r.txs++
	if err := fn(r.state, hooks); err != nil {
		r.state = snapshot
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	hooks.Run(ctx, zap.NewNop())
	return nil
}

func (r *fakeRepo) locked(fn func(s *fakeState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.state)
}

func (r *fakeRepo) GetUserByID(ctx context.Context, id int64) (u *models.User, err error) {
	r.locked(func(s *fakeState) { u, err = s.GetUserByID(ctx, id) })
	return
}

func (r *fakeRepo) GetUserByEmail(ctx context.Context, email string) (u *models.User, err error) {
	r.locked(func(s *fakeState) { u, err = s.GetUserByEmail(ctx, email) })
	return
}

func (r *fakeRepo) CreateUser(ctx context.Context, user *models.User) (err error) {
	r.locked(func(s *fakeState) { err = s.CreateUser(ctx, user) })
	return
}

func (r *fakeRepo) UpdateUserPassword(ctx context.Context, userID int64, hash string) (err error) {
	r.locked(func(s *fakeState) { err = s.UpdateUserPassword(ctx, userID, hash) })
	return
}

func (r *fakeRepo) GetPatientByUserID(ctx context.Context, userID int64) (p *models.Patient, err error) {
	r.locked(func(s *fakeState) { p, err = s.GetPatientByUserID(ctx, userID) })
	return
}

func (r *fakeRepo) CreatePatient(ctx context.Context, patient *models.Patient) (err error) {
	r.locked(func(s *fakeState) { err = s.CreatePatient(ctx, patient) })
	return
}

func (r *fakeRepo) GetDoctorByID(ctx context.Context, id int64) (d *models.Doctor, err error) {
	r.locked(func(s *fakeState) { d, err = s.GetDoctorByID(ctx, id) })
	return
}

func (r *fakeRepo) ListBookedSlots(ctx context.Context, doctorID int64, date string) (slots []string, err error) {
	r.locked(func(s *fakeState) { slots, err = s.ListBookedSlots(ctx, doctorID, date) })
	return
}

func (r *fakeRepo) SlotTaken(ctx context.Context, doctorID int64, date, slot string) (taken bool, err error) {
	r.locked(func(s *fakeState) { taken, err = s.SlotTaken(ctx, doctorID, date, slot) })
	return
}

func (r *fakeRepo) CreateAppointment(ctx context.Context, appt *models.Appointment) (err error) {
	r.locked(func(s *fakeState) { err = s.CreateAppointment(ctx, appt) })
	return
}

func (r *fakeRepo) GetAppointmentForUpdate(ctx context.Context, id int64) (a *models.Appointment, err error) {
	r.locked(func(s *fakeState) { a, err = s.GetAppointmentForUpdate(ctx, id) })
	return
}

func (r *fakeRepo) TransitionAppointment(ctx context.Context, id int64, to string, from ...string) (ok bool, err error) {
	r.locked(func(s *fakeState) { ok, err = s.TransitionAppointment(ctx, id, to, from...) })
	return
}

func (r *fakeRepo) GetAppointmentContact(ctx context.Context, id int64) (c *models.AppointmentContact, err error) {
	r.locked(func(s *fakeState) { c, err = s.GetAppointmentContact(ctx, id) })
	return
}

func (r *fakeRepo) UpsertInvoice(ctx context.Context, invoice *models.Invoice) (err error) {
	r.locked(func(s *fakeState) { err = s.UpsertInvoice(ctx, invoice) })
	return
}

func (r *fakeRepo) UpdateInvoiceStatus(ctx context.Context, id int64, status string) (err error) {
	r.locked(func(s *fakeState) { err = s.UpdateInvoiceStatus(ctx, id, status) })
	return
}

func (r *fakeRepo) GetInvoiceByID(ctx context.Context, id int64) (inv *models.Invoice, err error) {
	r.locked(func(s *fakeState) { inv, err = s.GetInvoiceByID(ctx, id) })
	return
}

func (r *fakeRepo) GetInvoiceForUpdate(ctx context.Context, id int64) (inv *models.Invoice, err error) {
	r.locked(func(s *fakeState) { inv, err = s.GetInvoiceForUpdate(ctx, id) })
	return
}

func (r *fakeRepo) CreatePayment(ctx context.Context, p *models.Payment) (err error) {
	r.locked(func(s *fakeState) { err = s.CreatePayment(ctx, p) })
	return
}

func (r *fakeRepo) GetPaymentForUpdate(ctx context.Context, id int64) (p *models.Payment, err error) {
	r.locked(func(s *fakeState) { p, err = s.GetPaymentForUpdate(ctx, id) })
	return
}

func (r *fakeRepo) SettlePayment(ctx context.Context, id int64, status, txID string) (err error) {
	r.locked(func(s *fakeState) { err = s.SettlePayment(ctx, id, status, txID) })
	return
}

func (r *fakeRepo) FindSuccessfulPayment(ctx context.Context, appointmentID int64) (p *models.Payment, err error) {
	r.locked(func(s *fakeState) { p, err = s.FindSuccessfulPayment(ctx, appointmentID) })
	return
}

// seed adds a doctor with fee 500 and a patient user, returning their ids
func (r *fakeRepo) seed() (doctorID, userID int64) {
	r.locked(func(s *fakeState) {
		doc := models.User{Email: "dr.rao@example.com", Name: "Dr Rao", Role: models.RoleDoctor}
		_ = s.CreateUser(context.Background(), &doc)
		doctorID = s.id()
		s.doctors[doctorID] = models.Doctor{ID: doctorID, UserID: doc.ID, Name: "Dr Rao", ConsultationFee: decimal.RequireFromString("500")}

		u := models.User{Email: "asha@example.com", Name: "Asha", Phone: "+911234567890", Role: models.RolePatient}
		_ = s.CreateUser(context.Background(), &u)
		userID = u.ID
	})
	return doctorID, userID
}

// recorder captures published events
type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) Publish(ctx context.Context, name string, payload models.EventPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, models.Event{Name: name, Payload: payload})
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Name)
	}
	return out
}

func (r *recorder) find(name string) (models.EventPayload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Name == name {
			return ev.Payload, true
		}
	}
	return models.EventPayload{}, false
}

// providers is a static ProviderResolver
type providers map[string]payment.Provider

func (p providers) Get(name string) (payment.Provider, error) {
	if pr, ok := p[name]; ok {
		return pr, nil
	}
	return nil, payment.ErrUnknownProvider
}

// failingRefunds wraps a provider and fails every refund
type failingRefunds struct {
	payment.Provider
}

func (f failingRefunds) Refund(ctx context.Context, ref string, amount decimal.Decimal) (*payment.RefundResult, error) {
	return nil, errors.New("gateway down")
}
