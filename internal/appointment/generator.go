package appointment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const DefaultHorizonDays = 15

type GenerateResult struct {
	Doctors  int
	Created  int
	Existing int
	Failed   int
}

// Generator materializes a rolling horizon of bookable slots for doctors.
// Running it repeatedly never duplicates a slot.
type Generator struct {
	repo        Repository
	log         *logrus.Logger
	horizonDays int
	now         func() time.Time
}

func NewGenerator(repo Repository, log *logrus.Logger, horizonDays int) *Generator {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	return &Generator{
		repo:        repo,
		log:         log,
		horizonDays: horizonDays,
		now:         time.Now,
	}
}

// Generate creates missing slots for one doctor, or for every doctor when doctorID is nil.
// A doctor that fails is logged and skipped; the failures are returned joined.
func (g *Generator) Generate(ctx context.Context, doctorID *uuid.UUID) (GenerateResult, error) {
	var doctors []Doctor
	if doctorID != nil {
		d, err := g.repo.GetDoctor(ctx, PlatformScope, *doctorID)
		if err != nil {
			return GenerateResult{}, fmt.Errorf("load doctor %s: %w", *doctorID, err)
		}
		doctors = []Doctor{*d}
	} else {
		all, err := g.repo.ListDoctors(ctx)
		if err != nil {
			return GenerateResult{}, fmt.Errorf("list doctors: %w", err)
		}
		doctors = all
	}

	var (
		res  GenerateResult
		errs []error
	)
	for _, d := range doctors {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		created, existing, err := g.generateForDoctor(ctx, d)
		res.Doctors++
		res.Created += created
		res.Existing += existing
		if err != nil {
			res.Failed++
			g.log.WithError(err).WithField("doctor_id", d.ID).Warn("slot generation failed for doctor")
			errs = append(errs, err)
		}
	}

	g.log.WithFields(logrus.Fields{
		"doctors":  res.Doctors,
		"created":  res.Created,
		"existing": res.Existing,
		"failed":   res.Failed,
	}).Info("slot generation finished")

	return res, errors.Join(errs...)
}

func (g *Generator) generateForDoctor(ctx context.Context, d Doctor) (created, existing int, err error) {
	loc, err := d.Location()
	if err != nil {
		return 0, 0, err
	}

	today := startOfDay(g.now(), loc)
	for i := 0; i < g.horizonDays; i++ {
		day := today.AddDate(0, 0, i)
		windows, err := PlanDay(d, day, loc)
		if err != nil {
			return created, existing, err
		}
		date := civilDate(day, loc)
		for _, w := range windows {
			ok, err := g.repo.InsertSlotIfAbsent(ctx, TimeSlot{
				TenantID:  d.TenantID,
				DoctorID:  d.ID,
				Date:      date,
				StartTime: w.Start.UTC(),
				EndTime:   w.End.UTC(),
				State:     SlotAvailable,
			})
			if err != nil {
				return created, existing, fmt.Errorf("insert slot for doctor %s at %s: %w", d.ID, w.Start.Format(time.RFC3339), err)
			}
			if ok {
				created++
			} else {
				existing++
			}
		}
	}
	return created, existing, nil
}

// PlanDay splits the doctor's working hours on date into consecutive windows of
// SlotDuration minutes. A trailing window that would run past the end is dropped.
func PlanDay(d Doctor, date time.Time, loc *time.Location) ([]SlotWindow, error) {
	if err := d.WorkingHours.check(); err != nil {
		return nil, err
	}
	sh, sm, _ := parseClock(d.Start)
	eh, em, _ := parseClock(d.End)

	y, m, day := date.In(loc).Date()
	start := time.Date(y, m, day, sh, sm, 0, 0, loc)
	end := time.Date(y, m, day, eh, em, 0, 0, loc)
	step := time.Duration(d.SlotDuration) * time.Minute

	var out []SlotWindow
	for s := start; ; s = s.Add(step) {
		e := s.Add(step)
		if e.After(end) {
			break
		}
		out = append(out, SlotWindow{Start: s, End: e})
	}
	return out, nil
}

// check validates working hours without the struct validator so PlanDay stays usable on its own.
func (wh WorkingHours) check() error {
	sh, sm, err := parseClock(wh.Start)
	if err != nil {
		return fmt.Errorf("%w: start: %v", ErrInvalidWorkingHours, err)
	}
	eh, em, err := parseClock(wh.End)
	if err != nil {
		return fmt.Errorf("%w: end: %v", ErrInvalidWorkingHours, err)
	}
	if sh*60+sm >= eh*60+em {
		return fmt.Errorf("%w: start %s must be before end %s", ErrInvalidWorkingHours, wh.Start, wh.End)
	}
	if wh.SlotDuration <= 0 {
		return fmt.Errorf("%w: slot duration must be positive", ErrInvalidWorkingHours)
	}
	return nil
}

// parseClock parses a 24h "HH:MM" clock string.
func parseClock(s string) (hour, minute int, err error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, 0, fmt.Errorf("clock %q is not HH:MM", s)
	}
	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("clock %q has invalid hour", s)
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("clock %q has invalid minute", s)
	}
	return hour, minute, nil
}
