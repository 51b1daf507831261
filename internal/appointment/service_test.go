package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-booking-core/internal/lock"
	"github.com/hackgods/slot-booking-core/internal/notify"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type failingLocker struct{}

func (failingLocker) Acquire(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("lock backend unreachable")
}

func (failingLocker) Release(context.Context, string) error { return nil }

type fixture struct {
	repo     *MemoryRepository
	svc      *Service
	pub      *recordingPublisher
	doctor   Doctor
	doctorC  Caller
	patient  Caller
	patient2 Caller
	slots    []TimeSlot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithLocker(t, lock.NewMemoryLocker())
}

func newFixtureWithLocker(t *testing.T, locker lock.Locker) *fixture {
	t.Helper()

	tenantID := uuid.New()
	repo := NewMemoryRepository()
	doctor := newDoctor(tenantID, WorkingHours{Start: "09:00", End: "11:00", SlotDuration: 30}, "")
	repo.AddDoctor(doctor)

	log := quietLogger()
	gen := NewGenerator(repo, log, 2)
	if _, err := gen.Generate(context.Background(), nil); err != nil {
		t.Fatalf("generate: %v", err)
	}
	slots, err := repo.ListSlots(context.Background(), PlatformScope, SlotFilter{DoctorID: doctor.ID})
	if err != nil || len(slots) != 8 {
		t.Fatalf("expected 8 slots, got %d (%v)", len(slots), err)
	}

	pub := &recordingPublisher{}
	return &fixture{
		repo:     repo,
		svc:      NewService(repo, locker, gen, pub, log, time.Second),
		pub:      pub,
		doctor:   doctor,
		doctorC:  Caller{UserID: doctor.UserID, Role: RoleDoctor, TenantID: tenantID},
		patient:  Caller{UserID: uuid.New(), Role: RolePatient, TenantID: tenantID, Name: "Ada Lovelace", Email: "ada@example.com"},
		patient2: Caller{UserID: uuid.New(), Role: RolePatient, TenantID: tenantID, Name: "Alan Turing", Email: "alan@example.com"},
		slots:    slots,
	}
}

func (f *fixture) request(slot TimeSlot) BookRequest {
	return BookRequest{
		DoctorID:    slot.DoctorID,
		TimeSlotID:  slot.ID,
		Phone:       "+1 555 0100",
		Gender:      "female",
		DateOfBirth: "1990-04-12",
		Address:     "1 Main St, Springfield",
		Note:        "first visit",
	}
}

func (f *fixture) slot(t *testing.T, id uuid.UUID) TimeSlot {
	t.Helper()
	s, err := f.repo.GetSlot(context.Background(), PlatformScope, id)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	return *s
}

func expectKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("expected %s, got %s (%v)", want, got, err)
	}
}

func TestBook_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.patient, f.request(f.slots[0]))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if appt.PatientID != f.patient.UserID || appt.TenantID != f.patient.TenantID {
		t.Fatalf("unexpected appointment %+v", appt)
	}
	if appt.Name != "Ada Lovelace" || appt.Email != "ada@example.com" {
		t.Fatalf("expected profile defaults, got name=%q email=%q", appt.Name, appt.Email)
	}

	s := f.slot(t, f.slots[0].ID)
	if s.State != SlotBooked || s.AppointmentID == nil || *s.AppointmentID != appt.ID {
		t.Fatalf("slot not linked to appointment: %+v", s)
	}

	if got := f.pub.types(); len(got) != 1 || got[0] != notify.EventSlotUpdated {
		t.Fatalf("expected one slot:updated event, got %v", got)
	}
}

func TestBook_ConcurrentAttemptsOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	target := f.slots[1]

	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			caller := Caller{UserID: uuid.New(), Role: RolePatient, TenantID: f.doctor.TenantID}
			_, err := f.svc.Book(context.Background(), caller, f.request(target))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case KindOf(err) == KindConflict:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != attempts-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d and %d", attempts-1, successes, conflicts)
	}

	appts, _ := f.repo.ListAppointmentsByDoctor(context.Background(), PlatformScope, f.doctor.ID)
	if len(appts) != 1 || appts[0].TimeSlotID != target.ID {
		t.Fatalf("expected exactly one appointment on the slot, got %d", len(appts))
	}
}

func TestBook_AlreadyBookedIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Book(ctx, f.patient, f.request(f.slots[0])); err != nil {
		t.Fatalf("book: %v", err)
	}
	_, err := f.svc.Book(ctx, f.patient2, f.request(f.slots[0]))
	expectKind(t, err, KindConflict)
}

func TestBook_MissingSlotIsConflict(t *testing.T) {
	f := newFixture(t)
	req := f.request(f.slots[0])
	req.TimeSlotID = uuid.New()

	_, err := f.svc.Book(context.Background(), f.patient, req)
	expectKind(t, err, KindConflict)
}

func TestBook_ValidationErrors(t *testing.T) {
	f := newFixture(t)

	req := f.request(f.slots[0])
	req.Phone = ""
	req.Gender = "unknown"
	req.DateOfBirth = time.Now().AddDate(1, 0, 0).Format(dateLayout)
	req.Note = string(make([]byte, 501))

	_, err := f.svc.Book(context.Background(), f.patient, req)
	expectKind(t, err, KindValidation)

	fields := FieldsOf(err)
	for _, name := range []string{"phone", "gender", "dob", "note"} {
		if _, ok := fields[name]; !ok {
			t.Errorf("expected a message for %s, got %v", name, fields)
		}
	}
	if s := f.slot(t, f.slots[0].ID); s.State != SlotAvailable {
		t.Fatalf("slot must stay available after a rejected booking, got %s", s.State)
	}
}

func TestBook_DoctorMismatchIsValidation(t *testing.T) {
	f := newFixture(t)
	req := f.request(f.slots[0])
	req.DoctorID = uuid.New()

	_, err := f.svc.Book(context.Background(), f.patient, req)
	expectKind(t, err, KindValidation)
}

func TestBook_OtherTenantCannotSeeSlot(t *testing.T) {
	f := newFixture(t)
	outsider := Caller{UserID: uuid.New(), Role: RolePatient, TenantID: uuid.New()}

	_, err := f.svc.Book(context.Background(), outsider, f.request(f.slots[0]))
	expectKind(t, err, KindConflict)
	if s := f.slot(t, f.slots[0].ID); s.State != SlotAvailable {
		t.Fatalf("slot must stay available, got %s", s.State)
	}
}

func TestBook_LockBackendFailureIsInternal(t *testing.T) {
	f := newFixtureWithLocker(t, failingLocker{})

	_, err := f.svc.Book(context.Background(), f.patient, f.request(f.slots[0]))
	expectKind(t, err, KindInternal)
	if s := f.slot(t, f.slots[0].ID); s.State != SlotAvailable || s.AppointmentID != nil {
		t.Fatalf("nothing may be written when the lock backend fails, got %+v", s)
	}
}

func TestBook_HeldLockIsConflict(t *testing.T) {
	locker := lock.NewMemoryLocker()
	f := newFixtureWithLocker(t, locker)
	ctx := context.Background()

	if ok, _ := locker.Acquire(ctx, lock.SlotKey(f.slots[0].ID), time.Minute); !ok {
		t.Fatal("could not pre-acquire lock")
	}
	_, err := f.svc.Book(ctx, f.patient, f.request(f.slots[0]))
	expectKind(t, err, KindConflict)
	if !errors.Is(err, ErrSlotBusy) {
		t.Fatalf("expected ErrSlotBusy, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.patient, f.request(f.slots[0]))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	expectKind(t, f.svc.Cancel(ctx, f.patient2, appt.ID), KindForbidden)

	if err := f.svc.Cancel(ctx, f.patient, appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if s := f.slot(t, appt.TimeSlotID); s.State != SlotAvailable || s.AppointmentID != nil {
		t.Fatalf("slot not freed: %+v", s)
	}

	expectKind(t, f.svc.Cancel(ctx, f.patient, appt.ID), KindNotFound)

	types := f.pub.types()
	if types[len(types)-1] != notify.EventAppointmentCanceled {
		t.Fatalf("expected appointment:canceled last, got %v", types)
	}

	if _, err := f.svc.Book(ctx, f.patient2, f.request(f.slots[0])); err != nil {
		t.Fatalf("freed slot should be bookable again: %v", err)
	}
}

func TestReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.slots[0], f.slots[1]

	appt, err := f.svc.Book(ctx, f.patient, f.request(a))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	moved, err := f.svc.Reschedule(ctx, f.patient, appt.ID, b.ID)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if moved.ID != appt.ID || moved.TimeSlotID != b.ID {
		t.Fatalf("unexpected appointment after reschedule: %+v", moved)
	}

	if s := f.slot(t, a.ID); s.State != SlotAvailable || s.AppointmentID != nil {
		t.Fatalf("old slot not freed: %+v", s)
	}
	if s := f.slot(t, b.ID); s.State != SlotBooked || s.AppointmentID == nil || *s.AppointmentID != appt.ID {
		t.Fatalf("new slot not linked: %+v", s)
	}

	want := []string{notify.EventSlotUpdated, notify.EventSlotUpdated, notify.EventSlotUpdated, notify.EventAppointmentRescheduled}
	got := f.pub.types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

func TestReschedule_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.patient, f.request(f.slots[0]))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	other, err := f.svc.Book(ctx, f.patient2, f.request(f.slots[1]))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	_, err = f.svc.Reschedule(ctx, f.patient, appt.ID, appt.TimeSlotID)
	expectKind(t, err, KindValidation)

	_, err = f.svc.Reschedule(ctx, f.patient, appt.ID, other.TimeSlotID)
	expectKind(t, err, KindConflict)

	_, err = f.svc.Reschedule(ctx, f.patient, appt.ID, uuid.New())
	expectKind(t, err, KindNotFound)

	_, err = f.svc.Reschedule(ctx, f.patient2, appt.ID, f.slots[2].ID)
	expectKind(t, err, KindForbidden)

	_, err = f.svc.Reschedule(ctx, f.patient, uuid.New(), f.slots[2].ID)
	expectKind(t, err, KindNotFound)

	if s := f.slot(t, f.slots[0].ID); s.State != SlotBooked || *s.AppointmentID != appt.ID {
		t.Fatalf("failed reschedules must leave the original slot booked: %+v", s)
	}
}

func TestUpdateIntake(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.patient, f.request(f.slots[0]))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	phone, note := "+44 20 7946 0000", "moved to London"
	updated, err := f.svc.UpdateIntake(ctx, f.patient, appt.ID, IntakeUpdate{Phone: &phone, Note: &note})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Phone != phone || updated.Note != note || updated.Address != appt.Address {
		t.Fatalf("unexpected intake after update: %+v", updated)
	}

	bad := "robot"
	_, err = f.svc.UpdateIntake(ctx, f.patient, appt.ID, IntakeUpdate{Gender: &bad})
	expectKind(t, err, KindValidation)

	_, err = f.svc.UpdateIntake(ctx, f.patient2, appt.ID, IntakeUpdate{Phone: &phone})
	expectKind(t, err, KindForbidden)
}

func TestDisableEnableSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.slots[3]

	res, err := f.svc.DisableSlots(ctx, f.doctorC, []uuid.UUID{s.ID})
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if res.Requested != 1 || len(res.Affected) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := f.slot(t, s.ID); got.State != SlotDisabled || got.AppointmentID != nil {
		t.Fatalf("slot not disabled: %+v", got)
	}

	_, err = f.svc.Book(ctx, f.patient, f.request(s))
	expectKind(t, err, KindConflict)

	if _, err := f.svc.EnableSlots(ctx, f.doctorC, []uuid.UUID{s.ID}); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if _, err := f.svc.Book(ctx, f.patient, f.request(s)); err != nil {
		t.Fatalf("enabled slot should be bookable: %v", err)
	}
}

func TestDisableSlots_SkipsBookedAndForeignSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.patient, f.request(f.slots[0]))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	res, err := f.svc.DisableSlots(ctx, f.doctorC, []uuid.UUID{appt.TimeSlotID, uuid.New(), f.slots[4].ID})
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if res.Requested != 3 || len(res.Affected) != 1 || res.Affected[0] != f.slots[4].ID {
		t.Fatalf("unexpected result %+v", res)
	}

	_, err = f.svc.DisableSlots(ctx, f.doctorC, []uuid.UUID{appt.TimeSlotID})
	expectKind(t, err, KindValidation)

	_, err = f.svc.DisableSlots(ctx, f.doctorC, nil)
	expectKind(t, err, KindValidation)

	_, err = f.svc.DisableSlots(ctx, f.patient, []uuid.UUID{f.slots[5].ID})
	expectKind(t, err, KindForbidden)

	types := f.pub.types()
	if types[len(types)-1] != notify.EventAvailabilityChanged {
		t.Fatalf("expected availability:changed, got %v", types)
	}
}

func TestUpdateWorkingHours_KeepsBookedSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.patient, f.request(f.slots[0]))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	wh := WorkingHours{Start: "13:00", End: "14:00", SlotDuration: 60}
	doctor, err := f.svc.UpdateWorkingHours(ctx, f.doctorC, wh)
	if err != nil {
		t.Fatalf("update hours: %v", err)
	}
	if doctor.WorkingHours != wh {
		t.Fatalf("unexpected working hours %+v", doctor.WorkingHours)
	}

	slots, _ := f.repo.ListSlots(ctx, PlatformScope, SlotFilter{DoctorID: f.doctor.ID})
	if len(slots) != 3 {
		t.Fatalf("expected the booked slot plus 2 new slots, got %d", len(slots))
	}
	var keptBooked bool
	for _, s := range slots {
		if s.ID == appt.TimeSlotID {
			keptBooked = s.State == SlotBooked
			continue
		}
		if h := s.StartTime.UTC().Hour(); h != 13 {
			t.Fatalf("unexpected regenerated slot at %s", s.StartTime)
		}
	}
	if !keptBooked {
		t.Fatal("booked slot must survive a working hours change")
	}

	_, err = f.svc.UpdateWorkingHours(ctx, f.doctorC, WorkingHours{Start: "14:00", End: "13:00", SlotDuration: 30})
	expectKind(t, err, KindValidation)

	_, err = f.svc.UpdateWorkingHours(ctx, f.patient, wh)
	expectKind(t, err, KindForbidden)
}

func TestGetAppointment_Visibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.patient, f.request(f.slots[0]))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	admin := Caller{UserID: uuid.New(), Role: RoleAdmin, TenantID: f.doctor.TenantID}
	super := Caller{UserID: uuid.New(), Role: RoleSuperAdmin}
	foreignAdmin := Caller{UserID: uuid.New(), Role: RoleAdmin, TenantID: uuid.New()}

	for _, c := range []Caller{f.patient, f.doctorC, admin, super} {
		if _, err := f.svc.GetAppointment(ctx, c, appt.ID); err != nil {
			t.Errorf("%s should see the appointment: %v", c.Role, err)
		}
	}

	_, err = f.svc.GetAppointment(ctx, f.patient2, appt.ID)
	expectKind(t, err, KindForbidden)

	_, err = f.svc.GetAppointment(ctx, foreignAdmin, appt.ID)
	expectKind(t, err, KindNotFound)
}

func TestReadHelpers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Book(ctx, f.patient, f.request(f.slots[0])); err != nil {
		t.Fatalf("book: %v", err)
	}

	mine, err := f.svc.MyAppointments(ctx, f.patient)
	if err != nil || len(mine) != 1 {
		t.Fatalf("expected 1 appointment, got %d (%v)", len(mine), err)
	}
	theirs, err := f.svc.MyAppointments(ctx, f.patient2)
	if err != nil || len(theirs) != 0 {
		t.Fatalf("expected no appointments, got %d (%v)", len(theirs), err)
	}

	byDoctor, err := f.svc.DoctorAppointments(ctx, f.doctorC)
	if err != nil || len(byDoctor) != 1 {
		t.Fatalf("expected 1 doctor appointment, got %d (%v)", len(byDoctor), err)
	}

	day := f.slots[0].Date.Format(dateLayout)
	slots, err := f.svc.ListDoctorSlots(ctx, f.patient, f.doctor.ID, day)
	if err != nil || len(slots) != 4 {
		t.Fatalf("expected 4 slots on %s, got %d (%v)", day, len(slots), err)
	}
	if slots[0].State != SlotBooked {
		t.Fatalf("expected first slot booked, got %s", slots[0].State)
	}

	_, err = f.svc.ListDoctorSlots(ctx, f.patient, f.doctor.ID, "10/03/2025")
	expectKind(t, err, KindValidation)

	outsider := Caller{UserID: uuid.New(), Role: RolePatient, TenantID: uuid.New()}
	_, err = f.svc.ListDoctorSlots(ctx, outsider, f.doctor.ID, day)
	expectKind(t, err, KindNotFound)
}

// interleavingRepository runs a hook once, right after the first GetAppointment
// returns, to commit a competing write between a pre-read and its transaction.
type interleavingRepository struct {
	*MemoryRepository
	afterGet func()
}

func (r *interleavingRepository) GetAppointment(ctx context.Context, scope Scope, id uuid.UUID) (*Appointment, error) {
	a, err := r.MemoryRepository.GetAppointment(ctx, scope, id)
	if hook := r.afterGet; hook != nil {
		r.afterGet = nil
		hook()
	}
	return a, err
}

func TestCancel_FreesSlotMovedByConcurrentReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.slots[0], f.slots[1]

	appt, err := f.svc.Book(ctx, f.patient, f.request(a))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	repo := &interleavingRepository{MemoryRepository: f.repo}
	repo.afterGet = func() {
		if _, err := f.svc.Reschedule(ctx, f.patient, appt.ID, b.ID); err != nil {
			t.Errorf("reschedule: %v", err)
		}
	}
	svc := NewService(repo, lock.NewMemoryLocker(), f.svc.generator, f.pub, quietLogger(), time.Second)

	if err := svc.Cancel(ctx, f.patient, appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		if s := f.slot(t, id); s.State != SlotAvailable || s.AppointmentID != nil {
			t.Fatalf("slot %s left unavailable: %+v", id, s)
		}
	}
	if _, err := f.repo.GetAppointment(ctx, PlatformScope, appt.ID); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("appointment should be gone, got %v", err)
	}

	ev := f.pub.events[len(f.pub.events)-1]
	if ev.Type != notify.EventAppointmentCanceled {
		t.Fatalf("expected appointment:canceled last, got %s", ev.Type)
	}

	if _, err := f.svc.Book(ctx, f.patient2, f.request(b)); err != nil {
		t.Fatalf("rescheduled-to slot should be bookable after cancel: %v", err)
	}
}

func TestReschedule_ReadersNeverSeeIntermediateState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.slots[0], f.slots[1]

	appt, err := f.svc.Book(ctx, f.patient, f.request(a))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	check := func() bool {
		slots, err := f.repo.ListSlots(ctx, PlatformScope, SlotFilter{DoctorID: f.doctor.ID})
		if err != nil {
			t.Errorf("list slots: %v", err)
			return false
		}
		booked := 0
		for _, s := range slots {
			if s.ID != a.ID && s.ID != b.ID {
				continue
			}
			switch {
			case s.State == SlotBooked:
				booked++
				if s.AppointmentID == nil || *s.AppointmentID != appt.ID {
					t.Errorf("booked slot %s not linked to the appointment: %+v", s.ID, s)
					return false
				}
			case s.AppointmentID != nil:
				t.Errorf("free slot %s still linked: %+v", s.ID, s)
				return false
			}
		}
		if booked != 1 {
			t.Errorf("expected exactly one of the two slots booked, got %d", booked)
			return false
		}

		got, err := f.svc.GetAppointment(ctx, f.patient, appt.ID)
		if err != nil {
			t.Errorf("get appointment: %v", err)
			return false
		}
		if got.TimeSlotID != a.ID && got.TimeSlotID != b.ID {
			t.Errorf("appointment points at unexpected slot %s", got.TimeSlotID)
			return false
		}
		return true
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if !check() {
					return
				}
			}
		}()
	}

	targets := [2]uuid.UUID{b.ID, a.ID}
	for i := 0; i < 200; i++ {
		if _, err := f.svc.Reschedule(ctx, f.patient, appt.ID, targets[i%2]); err != nil {
			t.Errorf("reschedule %d: %v", i, err)
			break
		}
	}
	close(stop)
	wg.Wait()
}

func TestGetAppointment_DoctorWithoutProfileIsForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.patient, f.request(f.slots[0]))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	stranger := Caller{UserID: uuid.New(), Role: RoleDoctor, TenantID: f.doctor.TenantID}
	_, err = f.svc.GetAppointment(ctx, stranger, appt.ID)
	expectKind(t, err, KindForbidden)
}
