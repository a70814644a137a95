package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fakeRepo is a mutex-protected in-memory Repository for service and detector
// tests. Range queries use the same half-open overlap predicate as the SQL
// implementation.
type fakeRepo struct {
	mu            sync.Mutex
	clients       map[uuid.UUID]*Client
	professionals map[uuid.UUID]*Professional
	rules         map[uuid.UUID]*AvailabilityRule
	slots         map[uuid.UUID]*Slot
	appointments  map[uuid.UUID]*Appointment
	blocks        map[uuid.UUID]*BlockedPeriod
	events        []BookingEvent
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		clients:       make(map[uuid.UUID]*Client),
		professionals: make(map[uuid.UUID]*Professional),
		rules:         make(map[uuid.UUID]*AvailabilityRule),
		slots:         make(map[uuid.UUID]*Slot),
		appointments:  make(map[uuid.UUID]*Appointment),
		blocks:        make(map[uuid.UUID]*BlockedPeriod),
	}
}

func (f *fakeRepo) addClient() uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.clients[id] = &Client{ID: id, Name: "client"}
	return id
}

func (f *fakeRepo) addProfessional(tz string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.professionals[id] = &Professional{ID: id, Name: "professional", Timezone: tz}
	return id
}

func (f *fakeRepo) addSlot(professionalID uuid.UUID, start, end time.Time, status SlotStatus) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.slots[id] = &Slot{
		ID:             id,
		ProfessionalID: professionalID,
		StartTime:      start,
		EndTime:        end,
		Timezone:       "UTC",
		Status:         status,
	}
	return id
}

func (f *fakeRepo) addAppointment(professionalID, clientID uuid.UUID, start, end time.Time, status AppointmentStatus) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.appointments[id] = &Appointment{
		ID:             id,
		ClientID:       clientID,
		ProfessionalID: professionalID,
		StartTime:      start,
		EndTime:        end,
		Status:         status,
	}
	return id
}

func (f *fakeRepo) addBlock(professionalID uuid.UUID, start, end time.Time) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.blocks[id] = &BlockedPeriod{
		ID:             id,
		ProfessionalID: professionalID,
		StartTime:      start,
		EndTime:        end,
	}
	return id
}

func (f *fakeRepo) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	slot, ok := f.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *slot
	return &cp, nil
}

func (f *fakeRepo) ListSlotsInRange(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Slot
	for _, s := range f.slots {
		if s.ProfessionalID == professionalID && s.Status != SlotCancelled &&
			Overlaps(s.StartTime, s.EndTime, from, to) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListAppointmentsInRange(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Appointment
	for _, a := range f.appointments {
		if a.ProfessionalID == professionalID && a.Status != ApptCancelled &&
			Overlaps(a.StartTime, a.EndTime, from, to) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListClientAppointmentsInRange(ctx context.Context, clientID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Appointment
	for _, a := range f.appointments {
		if a.ClientID == clientID && a.Status != ApptCancelled &&
			Overlaps(a.StartTime, a.EndTime, from, to) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListBlocksInRange(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]BlockedPeriod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []BlockedPeriod
	for _, b := range f.blocks {
		if b.ProfessionalID == professionalID && Overlaps(b.StartTime, b.EndTime, from, to) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetClientByID(ctx context.Context, id uuid.UUID) (*Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[id]
	if !ok {
		return nil, ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeRepo) GetProfessionalByID(ctx context.Context, id uuid.UUID) (*Professional, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.professionals[id]
	if !ok {
		return nil, ErrProfessionalNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) CreateRule(ctx context.Context, rule *AvailabilityRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rule
	f.rules[rule.ID] = &cp
	return nil
}

func (f *fakeRepo) GetRule(ctx context.Context, id uuid.UUID) (*AvailabilityRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRepo) ListActiveRules(ctx context.Context) ([]AvailabilityRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []AvailabilityRule
	for _, r := range f.rules {
		if r.Active {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeRepo) DeleteUnbookedGeneratedSlots(ctx context.Context, ruleID uuid.UUID, from, to time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, s := range f.slots {
		if s.RuleID != nil && *s.RuleID == ruleID && s.Status == SlotAvailable &&
			!s.StartTime.Before(from) && s.StartTime.Before(to) {
			delete(f.slots, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) InsertSlots(ctx context.Context, slots []Slot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range slots {
		cp := s
		f.slots[s.ID] = &cp
	}
	return nil
}

func (f *fakeRepo) DeleteSlots(ctx context.Context, ids []uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := f.slots[id]; ok {
			delete(f.slots, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) ListOpenSlots(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Slot
	for _, s := range f.slots {
		if s.ProfessionalID == professionalID && s.Status == SlotAvailable &&
			Overlaps(s.StartTime, s.EndTime, from, to) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeRepo) CreateAppointmentForSlot(ctx context.Context, slot *Slot, clientID uuid.UUID, notes string) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, ok := f.slots[slot.ID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if current.Status != SlotAvailable {
		return nil, ErrSlotStale
	}
	current.Status = SlotBooked
	current.BookedBy = &clientID

	appt := &Appointment{
		ID:             uuid.New(),
		SlotID:         current.ID,
		ClientID:       clientID,
		ProfessionalID: current.ProfessionalID,
		StartTime:      current.StartTime,
		EndTime:        current.EndTime,
		Status:         ApptScheduled,
		Notes:          notes,
		CreatedAt:      time.Now(),
	}
	f.appointments[appt.ID] = appt

	cp := *appt
	return &cp, nil
}

func (f *fakeRepo) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) CancelAppointment(ctx context.Context, id uuid.UUID, now time.Time) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appointments[id]
	if !ok || a.Status.Terminal() {
		return nil, ErrAppointmentNotFound
	}
	a.Status = ApptCancelled

	if slot, ok := f.slots[a.SlotID]; ok && slot.StartTime.After(now) {
		slot.Status = SlotAvailable
		slot.BookedBy = nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) CreateBlock(ctx context.Context, block *BlockedPeriod) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *block
	f.blocks[block.ID] = &cp
	return nil
}

func (f *fakeRepo) DeleteBlock(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.blocks[id]; !ok {
		return ErrBlockNotFound
	}
	delete(f.blocks, id)
	return nil
}

func (f *fakeRepo) InsertEvent(ctx context.Context, ev BookingEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeRepo) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.EventType)
	}
	return out
}
