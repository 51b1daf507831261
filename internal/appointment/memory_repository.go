package appointment

import (
	"bytes"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type slotKey struct {
	doctorID uuid.UUID
	start    int64
}

type memState struct {
	doctors      map[uuid.UUID]Doctor
	slots        map[uuid.UUID]TimeSlot
	slotIndex    map[slotKey]uuid.UUID
	appointments map[uuid.UUID]Appointment
}

func (s *memState) clone() *memState {
	return &memState{
		doctors:      maps.Clone(s.doctors),
		slots:        maps.Clone(s.slots),
		slotIndex:    maps.Clone(s.slotIndex),
		appointments: maps.Clone(s.appointments),
	}
}

// MemoryRepository keeps everything in process. Transactions work on a private
// copy of the state that replaces the live state only when fn succeeds.
//
// Each transaction copies the whole store and writers run one at a time, so this
// backend is meant for tests, demos and the simulator at small scale. Readers only
// wait for the final swap, never for an open transaction.
type MemoryRepository struct {
	writeMu sync.Mutex   // serializes writers
	mu      sync.RWMutex // guards state against readers
	state   *memState
	now     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: &memState{
			doctors:      make(map[uuid.UUID]Doctor),
			slots:        make(map[uuid.UUID]TimeSlot),
			slotIndex:    make(map[slotKey]uuid.UUID),
			appointments: make(map[uuid.UUID]Appointment),
		},
		now: time.Now,
	}
}

// lockWrite takes both locks for an in-place write and returns the unlock.
func (r *MemoryRepository) lockWrite() func() {
	r.writeMu.Lock()
	r.mu.Lock()
	return func() {
		r.mu.Unlock()
		r.writeMu.Unlock()
	}
}

// AddDoctor inserts or replaces a doctor.
func (r *MemoryRepository) AddDoctor(d Doctor) {
	defer r.lockWrite()()
	now := r.now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	r.state.doctors[d.ID] = d
}

func (r *MemoryRepository) GetDoctor(_ context.Context, scope Scope, id uuid.UUID) (*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.state.doctors[id]
	if !ok || !scope.Allows(d.TenantID) {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) GetDoctorByUserID(_ context.Context, scope Scope, userID uuid.UUID) (*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.state.doctors {
		if d.UserID == userID && scope.Allows(d.TenantID) {
			return &d, nil
		}
	}
	return nil, ErrDoctorNotFound
}

func (r *MemoryRepository) ListDoctors(_ context.Context) ([]Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := slices.Collect(maps.Values(r.state.doctors))
	slices.SortFunc(out, func(a, b Doctor) int { return bytes.Compare(a.ID[:], b.ID[:]) })
	return out, nil
}

func (r *MemoryRepository) GetSlot(_ context.Context, scope Scope, id uuid.UUID) (*TimeSlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.state.slots[id]
	if !ok || !scope.Allows(s.TenantID) {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) ListSlots(_ context.Context, scope Scope, f SlotFilter) ([]TimeSlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []TimeSlot
	for _, s := range r.state.slots {
		if !scope.Allows(s.TenantID) {
			continue
		}
		if f.DoctorID != uuid.Nil && s.DoctorID != f.DoctorID {
			continue
		}
		if !f.Date.IsZero() && !s.Date.Equal(f.Date) {
			continue
		}
		if !f.From.IsZero() && s.StartTime.Before(f.From) {
			continue
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b TimeSlot) int { return a.StartTime.Compare(b.StartTime) })
	return out, nil
}

func (r *MemoryRepository) GetAppointment(_ context.Context, scope Scope, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.state.appointments[id]
	if !ok || !scope.Allows(a.TenantID) {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) ListAppointmentsByPatient(_ context.Context, scope Scope, patientID uuid.UUID) ([]Appointment, error) {
	return r.listAppointments(scope, func(a Appointment) bool { return a.PatientID == patientID }), nil
}

func (r *MemoryRepository) ListAppointmentsByDoctor(_ context.Context, scope Scope, doctorID uuid.UUID) ([]Appointment, error) {
	return r.listAppointments(scope, func(a Appointment) bool { return a.DoctorID == doctorID }), nil
}

func (r *MemoryRepository) listAppointments(scope Scope, match func(Appointment) bool) []Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Appointment
	for _, a := range r.state.appointments {
		if scope.Allows(a.TenantID) && match(a) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b Appointment) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out
}

func (r *MemoryRepository) InsertSlotIfAbsent(_ context.Context, slot TimeSlot) (bool, error) {
	defer r.lockWrite()()
	key := slotKey{doctorID: slot.DoctorID, start: slot.StartTime.UnixNano()}
	if _, ok := r.state.slotIndex[key]; ok {
		return false, nil
	}
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	if slot.State == "" {
		slot.State = SlotAvailable
	}
	now := r.now()
	slot.CreatedAt, slot.UpdatedAt = now, now
	r.state.slots[slot.ID] = slot
	r.state.slotIndex[key] = slot.ID
	return true, nil
}

func (r *MemoryRepository) DeletePastUnbookedSlots(_ context.Context, before time.Time) (int64, error) {
	defer r.lockWrite()()
	var n int64
	for id, s := range r.state.slots {
		if s.StartTime.Before(before) && s.State != SlotBooked && s.AppointmentID == nil {
			r.state.deleteSlot(id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) SetSlotsState(_ context.Context, doctorID uuid.UUID, ids []uuid.UUID, from, to SlotState) ([]uuid.UUID, error) {
	defer r.lockWrite()()
	var affected []uuid.UUID
	now := r.now()
	for _, id := range ids {
		s, ok := r.state.slots[id]
		if !ok || s.DoctorID != doctorID || s.AppointmentID != nil {
			continue
		}
		switch s.State {
		case to:
		case from:
			s.State = to
			s.UpdatedAt = now
			r.state.slots[id] = s
		default:
			continue
		}
		if !slices.Contains(affected, id) {
			affected = append(affected, id)
		}
	}
	return affected, nil
}

func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	// Only writers replace or mutate state, so it is stable while writeMu is held.
	tx := &memTx{state: r.state.clone(), now: r.now}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.state = tx.state
	r.mu.Unlock()
	return nil
}

func (s *memState) deleteSlot(id uuid.UUID) {
	slot, ok := s.slots[id]
	if !ok {
		return
	}
	delete(s.slotIndex, slotKey{doctorID: slot.DoctorID, start: slot.StartTime.UnixNano()})
	delete(s.slots, id)
}

type memTx struct {
	state *memState
	now   func() time.Time
}

func (t *memTx) GetSlotForUpdate(_ context.Context, id uuid.UUID) (*TimeSlot, error) {
	s, ok := t.state.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (t *memTx) SetSlotState(_ context.Context, id uuid.UUID, state SlotState) error {
	s, ok := t.state.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	s.State = state
	s.UpdatedAt = t.now()
	t.state.slots[id] = s
	return nil
}

func (t *memTx) GetAppointmentForUpdate(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := t.state.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (t *memTx) CreateAppointment(_ context.Context, a *Appointment) error {
	slot, ok := t.state.slots[a.TimeSlotID]
	if !ok {
		return ErrSlotNotFound
	}
	if slot.AppointmentID != nil {
		return ErrSlotTaken
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := t.now()
	a.CreatedAt, a.UpdatedAt = now, now
	t.state.appointments[a.ID] = *a

	id := a.ID
	slot.AppointmentID = &id
	t.state.slots[slot.ID] = slot
	return nil
}

func (t *memTx) DeleteAppointment(_ context.Context, id uuid.UUID) (bool, error) {
	a, ok := t.state.appointments[id]
	if !ok {
		return false, nil
	}
	delete(t.state.appointments, id)
	if slot, ok := t.state.slots[a.TimeSlotID]; ok {
		slot.AppointmentID = nil
		t.state.slots[slot.ID] = slot
	}
	return true, nil
}

func (t *memTx) MoveAppointment(_ context.Context, id, newSlotID uuid.UUID) error {
	a, ok := t.state.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	next, ok := t.state.slots[newSlotID]
	if !ok {
		return ErrSlotNotFound
	}
	if next.AppointmentID != nil {
		return ErrSlotTaken
	}
	if prev, ok := t.state.slots[a.TimeSlotID]; ok {
		prev.AppointmentID = nil
		t.state.slots[prev.ID] = prev
	}
	apptID := a.ID
	next.AppointmentID = &apptID
	t.state.slots[next.ID] = next

	a.TimeSlotID = newSlotID
	a.UpdatedAt = t.now()
	t.state.appointments[id] = a
	return nil
}

func (t *memTx) UpdateAppointmentIntake(_ context.Context, id uuid.UUID, in Intake, note string) error {
	a, ok := t.state.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	a.Intake = in
	a.Note = note
	a.UpdatedAt = t.now()
	t.state.appointments[id] = a
	return nil
}

func (t *memTx) UpdateWorkingHours(_ context.Context, doctorID uuid.UUID, wh WorkingHours) error {
	d, ok := t.state.doctors[doctorID]
	if !ok {
		return ErrDoctorNotFound
	}
	d.WorkingHours = wh
	d.UpdatedAt = t.now()
	t.state.doctors[doctorID] = d
	return nil
}

func (t *memTx) DeleteUnbookedSlotsFrom(_ context.Context, doctorID uuid.UUID, from time.Time) (int64, error) {
	var n int64
	for id, s := range t.state.slots {
		if s.DoctorID == doctorID && !s.StartTime.Before(from) && s.State != SlotBooked && s.AppointmentID == nil {
			t.state.deleteSlot(id)
			n++
		}
	}
	return n, nil
}
