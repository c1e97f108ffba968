package payments

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/zaidy-mughal/telehealth-backend/internal/appointments"
	"github.com/zaidy-mughal/telehealth-backend/internal/scheduling"
)

// In-memory collaborators mirroring the conditional-update discipline of
// the real repositories.

type fakeAppointments struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*appointments.Appointment
}

func newFakeAppointments() *fakeAppointments {
	return &fakeAppointments{rows: make(map[uuid.UUID]*appointments.Appointment)}
}

func (f *fakeAppointments) add(a *appointments.Appointment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[a.ID] = a
}

func (f *fakeAppointments) GetByID(_ context.Context, id uuid.UUID) (*appointments.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return nil, appointments.ErrAppointmentNotFound
	}
	copied := *a
	return &copied, nil
}

func (f *fakeAppointments) Transition(_ context.Context, id uuid.UUID, to appointments.Status, from ...appointments.Status) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if a.Status == s {
			a.Status = to
			return true, nil
		}
	}
	return false, nil
}

type fakeSlots struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*scheduling.TimeSlot
}

func newFakeSlots() *fakeSlots {
	return &fakeSlots{rows: make(map[uuid.UUID]*scheduling.TimeSlot)}
}

func (f *fakeSlots) add(s *scheduling.TimeSlot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[s.ID] = s
}

func (f *fakeSlots) GetByID(_ context.Context, id uuid.UUID) (*scheduling.TimeSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return nil, scheduling.ErrSlotNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSlots) Reserve(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return scheduling.ErrSlotNotFound
	}
	if s.IsBooked {
		return scheduling.ErrSlotAlreadyBooked
	}
	s.IsBooked = true
	return nil
}

func (f *fakeSlots) Release(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return scheduling.ErrSlotNotFound
	}
	s.IsBooked = false
	return nil
}

type fakePayments struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]*Payment
	refunds map[uuid.UUID]*Refund

	policies []RefundPolicy

	setIntentRefErr error
}

func newFakePayments() *fakePayments {
	return &fakePayments{
		rows:     make(map[uuid.UUID]*Payment),
		refunds:  make(map[uuid.UUID]*Refund),
		policies: DefaultPolicies(),
	}
}

func (f *fakePayments) InsertPending(_ context.Context, p *Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.rows {
		if existing.SlotID == p.SlotID && !existing.Status.Terminal() {
			return ErrDuplicatePendingPayment
		}
	}
	copied := *p
	f.rows[p.ID] = &copied
	return nil
}

func (f *fakePayments) SetIntentRef(_ context.Context, id uuid.UUID, intentID, clientSecret string) error {
	if f.setIntentRefErr != nil {
		return f.setIntentRefErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return ErrPaymentNotFound
	}
	p.IntentID = intentID
	p.ClientSecret = clientSecret
	return nil
}

func (f *fakePayments) SetPaymentMethod(_ context.Context, id uuid.UUID, method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.rows[id]; ok {
		p.PaymentMethod = method
	}
	return nil
}

func (f *fakePayments) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	copied := *p
	return &copied, nil
}

func (f *fakePayments) GetByIntentID(_ context.Context, intentID string) (*Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rows {
		if p.IntentID == intentID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (f *fakePayments) LatestForAppointment(_ context.Context, appointmentID uuid.UUID) (*Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *Payment
	for _, p := range f.rows {
		if p.AppointmentID != appointmentID {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, ErrPaymentNotFound
	}
	copied := *latest
	return &copied, nil
}

func (f *fakePayments) Transition(_ context.Context, id uuid.UUID, to Status, from ...Status) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if p.Status == s {
			p.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePayments) CreateRefund(_ context.Context, ref *Refund) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *ref
	f.refunds[ref.ID] = &copied
	return nil
}

func (f *fakePayments) SetRefundProviderID(_ context.Context, id uuid.UUID, providerRefundID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.refunds[id]
	if !ok {
		return ErrRefundNotFound
	}
	ref.ProviderRefundID = providerRefundID
	return nil
}

func (f *fakePayments) GetRefundByProviderID(_ context.Context, providerRefundID string) (*Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ref := range f.refunds {
		if ref.ProviderRefundID == providerRefundID {
			copied := *ref
			return &copied, nil
		}
	}
	return nil, ErrRefundNotFound
}

func (f *fakePayments) LatestRefundForPayment(_ context.Context, paymentID uuid.UUID) (*Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *Refund
	for _, ref := range f.refunds {
		if ref.PaymentID != paymentID {
			continue
		}
		if latest == nil || ref.CreatedAt.After(latest.CreatedAt) {
			latest = ref
		}
	}
	if latest == nil {
		return nil, ErrRefundNotFound
	}
	copied := *latest
	return &copied, nil
}

func (f *fakePayments) TransitionRefund(_ context.Context, id uuid.UUID, to RefundStatus, from ...RefundStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.refunds[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if ref.Status == s {
			ref.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePayments) ActivePolicies(context.Context) ([]RefundPolicy, error) {
	return f.policies, nil
}

type fakeProcessor struct {
	mu sync.Mutex

	createIntentErr error
	createRefundErr error

	intents       []IntentParams
	cancellations []string
	refunds       []RefundParams
}

func (f *fakeProcessor) CreateIntent(_ context.Context, params IntentParams) (*Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createIntentErr != nil {
		return nil, f.createIntentErr
	}
	f.intents = append(f.intents, params)
	return &Intent{
		ID:           "pi_" + params.PaymentID[:8],
		ClientSecret: "secret_" + params.PaymentID[:8],
		Status:       "requires_payment_method",
	}, nil
}

func (f *fakeProcessor) CancelIntent(_ context.Context, intentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancellations = append(f.cancellations, intentID)
	return nil
}

func (f *fakeProcessor) CreateRefund(_ context.Context, params RefundParams) (*ProviderRefund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createRefundErr != nil {
		return nil, f.createRefundErr
	}
	f.refunds = append(f.refunds, params)
	return &ProviderRefund{ID: "re_" + params.RefundID[:8], Status: "pending"}, nil
}

type fakeNotifier struct {
	mu            sync.Mutex
	confirmations int
	failures      int
	refundsOK     int
	refundsFailed int
}

func (f *fakeNotifier) SendAppointmentConfirmation(context.Context, uuid.UUID, uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmations++
}

func (f *fakeNotifier) SendPaymentFailed(context.Context, uuid.UUID, uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
}

func (f *fakeNotifier) SendRefundSuccess(context.Context, uuid.UUID, uuid.UUID, int64, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refundsOK++
}

func (f *fakeNotifier) SendRefundFailed(context.Context, uuid.UUID, uuid.UUID, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refundsFailed++
}

type fakeTracker struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{seen: make(map[string]bool)}
}

func (f *fakeTracker) AlreadyProcessed(_ context.Context, provider, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[provider+":"+eventID], nil
}

func (f *fakeTracker) MarkProcessed(_ context.Context, provider, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := provider + ":" + eventID
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

var errBoom = errors.New("boom")
