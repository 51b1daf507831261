package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/slot-booking-core/internal/appointment"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakePruner struct {
	rec    *recorder
	err    error
	before time.Time
}

func (p *fakePruner) DeletePastUnbookedSlots(_ context.Context, before time.Time) (int64, error) {
	p.rec.add("prune")
	p.before = before
	if p.err != nil {
		return 0, p.err
	}
	return 3, nil
}

type fakeGenerator struct {
	rec *recorder
	err error
}

func (g *fakeGenerator) Generate(_ context.Context, doctorID *uuid.UUID) (appointment.GenerateResult, error) {
	g.rec.add("generate")
	if doctorID != nil {
		return appointment.GenerateResult{}, errors.New("maintenance must generate for every doctor")
	}
	return appointment.GenerateResult{Doctors: 1, Created: 4}, g.err
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestRunOnce_PrunesThenGenerates(t *testing.T) {
	rec := &recorder{}
	pruner := &fakePruner{rec: rec}
	m := NewMaintenance(pruner, &fakeGenerator{rec: rec}, quietLogger(), Config{})
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	if err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := rec.snapshot(); len(got) != 2 || got[0] != "prune" || got[1] != "generate" {
		t.Fatalf("expected prune then generate, got %v", got)
	}
	if !pruner.before.Equal(now) {
		t.Fatalf("expected prune cutoff %s, got %s", now, pruner.before)
	}
}

func TestRunOnce_GeneratesEvenWhenPruneFails(t *testing.T) {
	rec := &recorder{}
	pruneErr, genErr := errors.New("prune down"), errors.New("generate down")
	m := NewMaintenance(&fakePruner{rec: rec, err: pruneErr}, &fakeGenerator{rec: rec, err: genErr}, quietLogger(), Config{})

	err := m.RunOnce(context.Background())
	if !errors.Is(err, pruneErr) || !errors.Is(err, genErr) {
		t.Fatalf("expected both failures joined, got %v", err)
	}
	if got := rec.snapshot(); len(got) != 2 {
		t.Fatalf("expected both jobs to run, got %v", got)
	}
}

func TestStart_RunsAtStartupAndStopsWithContext(t *testing.T) {
	rec := &recorder{}
	m := NewMaintenance(&fakePruner{rec: rec}, &fakeGenerator{rec: rec}, quietLogger(), Config{Spec: "@every 1h"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.snapshot()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("startup run never happened")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	m := NewMaintenance(&fakePruner{rec: &recorder{}}, &fakeGenerator{rec: &recorder{}}, quietLogger(), Config{Spec: "every tuesday"})
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected a parse error")
	}
}
