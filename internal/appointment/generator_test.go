package appointment

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newDoctor(tenantID uuid.UUID, wh WorkingHours, tz string) Doctor {
	return Doctor{
		ID:           uuid.New(),
		TenantID:     tenantID,
		UserID:       uuid.New(),
		Name:         "Dr. Test",
		WorkingHours: wh,
		Timezone:     tz,
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestPlanDay_SplitsWorkingHours(t *testing.T) {
	d := newDoctor(uuid.New(), WorkingHours{Start: "09:00", End: "10:00", SlotDuration: 30}, "")
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	windows, err := PlanDay(d, day, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(windows))
	}
	if !windows[0].Start.Equal(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected first start %s", windows[0].Start)
	}
	if !windows[1].End.Equal(time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected last end %s", windows[1].End)
	}
}

func TestPlanDay_DropsTrailingPartialWindow(t *testing.T) {
	d := newDoctor(uuid.New(), WorkingHours{Start: "09:00", End: "10:00", SlotDuration: 45}, "")

	windows, err := PlanDay(d, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("expected 1 window, got %d", len(windows))
	}
	if got := windows[0].End.Sub(windows[0].Start); got != 45*time.Minute {
		t.Fatalf("expected 45m window, got %s", got)
	}
}

func TestPlanDay_RejectsInvalidHours(t *testing.T) {
	cases := []WorkingHours{
		{Start: "10:00", End: "09:00", SlotDuration: 30},
		{Start: "10:00", End: "10:00", SlotDuration: 30},
		{Start: "9:00", End: "10:00", SlotDuration: 30},
		{Start: "09:00", End: "24:00", SlotDuration: 30},
		{Start: "09:00", End: "10:00", SlotDuration: 0},
	}
	for _, wh := range cases {
		_, err := PlanDay(newDoctor(uuid.New(), wh, ""), time.Now(), time.UTC)
		if !errors.Is(err, ErrInvalidWorkingHours) {
			t.Errorf("%+v: expected ErrInvalidWorkingHours, got %v", wh, err)
		}
	}
}

func TestPlanDay_UsesDoctorTimezone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	d := newDoctor(uuid.New(), WorkingHours{Start: "09:00", End: "09:30", SlotDuration: 30}, "Asia/Kolkata")

	windows, err := PlanDay(d, time.Date(2025, 3, 10, 0, 0, 0, 0, loc), loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("expected 1 window, got %d", len(windows))
	}
	want := time.Date(2025, 3, 10, 3, 30, 0, 0, time.UTC)
	if !windows[0].Start.Equal(want) {
		t.Fatalf("expected start %s, got %s", want, windows[0].Start.UTC())
	}
}

func TestGenerator_IsIdempotent(t *testing.T) {
	repo := NewMemoryRepository()
	d := newDoctor(uuid.New(), WorkingHours{Start: "09:00", End: "10:00", SlotDuration: 30}, "")
	repo.AddDoctor(d)

	gen := NewGenerator(repo, quietLogger(), 3)
	gen.now = fixedClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))

	first, err := gen.Generate(context.Background(), nil)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Created != 6 || first.Existing != 0 {
		t.Fatalf("first run: expected 6 created, got %+v", first)
	}

	second, err := gen.Generate(context.Background(), &d.ID)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Created != 0 || second.Existing != 6 {
		t.Fatalf("second run: expected 0 created and 6 existing, got %+v", second)
	}

	slots, _ := repo.ListSlots(context.Background(), PlatformScope, SlotFilter{DoctorID: d.ID})
	if len(slots) != 6 {
		t.Fatalf("expected 6 stored slots, got %d", len(slots))
	}
	for _, s := range slots {
		if s.State != SlotAvailable || s.TenantID != d.TenantID {
			t.Fatalf("unexpected slot %+v", s)
		}
	}
	if !slots[0].Date.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected first slot on 2025-03-10, got %s", slots[0].Date)
	}
}

func TestGenerator_SkipsDoctorWithBadTimezone(t *testing.T) {
	repo := NewMemoryRepository()
	good := newDoctor(uuid.New(), WorkingHours{Start: "09:00", End: "10:00", SlotDuration: 60}, "")
	bad := newDoctor(uuid.New(), WorkingHours{Start: "09:00", End: "10:00", SlotDuration: 60}, "Mars/Olympus")
	repo.AddDoctor(good)
	repo.AddDoctor(bad)

	gen := NewGenerator(repo, quietLogger(), 2)
	res, err := gen.Generate(context.Background(), nil)
	if err == nil {
		t.Fatal("expected an error for the bad timezone")
	}
	if res.Doctors != 2 || res.Failed != 1 || res.Created != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestGenerator_UnknownDoctor(t *testing.T) {
	gen := NewGenerator(NewMemoryRepository(), quietLogger(), 1)
	id := uuid.New()
	if _, err := gen.Generate(context.Background(), &id); !errors.Is(err, ErrDoctorNotFound) {
		t.Fatalf("expected ErrDoctorNotFound, got %v", err)
	}
}
