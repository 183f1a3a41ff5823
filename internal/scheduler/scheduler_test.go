package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(Options{
		DependencyWait: 200 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	}, zerolog.Nop())
}

func TestRegisterRejectsUnknownDependency(t *testing.T) {
	r := testRegistry(t)
	err := r.Register(Job{Name: "evaluate", Spec: "@every 1m", DependsOn: []string{"ingest"}, Run: func(ctx context.Context) error { return nil }})
	if err == nil {
		t.Fatal("registering against an unknown dependency should fail")
	}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := testRegistry(t)
	job := Job{Name: "ingest", Spec: "@every 1m", Run: func(ctx context.Context) error { return nil }}
	if err := r.Register(job); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	if err := r.Register(job); err == nil {
		t.Fatal("duplicate registration should fail")
	}
}

func TestNoOverlappingRuns(t *testing.T) {
	r := testRegistry(t)

	release := make(chan struct{})
	started := make(chan struct{})
	var runs int32

	err := r.Register(Job{
		Name: "ingest",
		Spec: "@every 1h",
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			close(started)
			<-release
			return nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	go func() { _ = r.RunNow("ingest") }()
	<-started

	// Second fire while the first run is held open: must be skipped, not
	// queued.
	if err := r.RunNow("ingest"); err != nil {
		t.Fatalf("run now: %v", err)
	}
	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("overlapping fire must not start a second run, got %d runs", got)
	}

	status := r.Status()
	if status[0].LastOutcome != OutcomeSkipped {
		t.Fatalf("skip should be recorded, got %q", status[0].LastOutcome)
	}

	close(release)
}

func TestDependentWaitsForProducer(t *testing.T) {
	r := testRegistry(t)

	var sequence []string
	producerDone := make(chan struct{})

	if err := r.Register(Job{
		Name: "ingest",
		Spec: "@every 1h",
		Run: func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			sequence = append(sequence, "ingest")
			close(producerDone)
			return nil
		},
	}); err != nil {
		t.Fatalf("register ingest: %v", err)
	}
	if err := r.Register(Job{
		Name:      "evaluate",
		Spec:      "@every 1h",
		DependsOn: []string{"ingest"},
		Run: func(ctx context.Context) error {
			sequence = append(sequence, "evaluate")
			return nil
		},
	}); err != nil {
		t.Fatalf("register evaluate: %v", err)
	}

	go func() { _ = r.RunNow("ingest") }()
	if err := r.RunNow("evaluate"); err != nil {
		t.Fatalf("run evaluate: %v", err)
	}
	<-producerDone

	if len(sequence) != 2 || sequence[0] != "ingest" || sequence[1] != "evaluate" {
		t.Fatalf("evaluate must wait for ingest's terminal outcome, got %v", sequence)
	}
}

func TestDependentDegradesOnTimeout(t *testing.T) {
	r := testRegistry(t)

	stall := make(chan struct{})
	if err := r.Register(Job{
		Name: "ingest",
		Spec: "@every 1h",
		Run: func(ctx context.Context) error {
			<-stall
			return nil
		},
	}); err != nil {
		t.Fatalf("register ingest: %v", err)
	}

	ran := false
	if err := r.Register(Job{
		Name:      "evaluate",
		Spec:      "@every 1h",
		DependsOn: []string{"ingest"},
		Run: func(ctx context.Context) error {
			ran = true
			return nil
		},
	}); err != nil {
		t.Fatalf("register evaluate: %v", err)
	}

	go func() { _ = r.RunNow("ingest") }()
	time.Sleep(10 * time.Millisecond)

	start := time.Now()
	if err := r.RunNow("evaluate"); err != nil {
		t.Fatalf("run evaluate: %v", err)
	}
	if !ran {
		t.Fatal("dependent must run against last known state after the bounded wait")
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("dependent should have waited close to the bound, waited %v", elapsed)
	}

	close(stall)
}

func TestJobFailureIsRecordedNotFatal(t *testing.T) {
	r := testRegistry(t)

	if err := r.Register(Job{
		Name: "ingest",
		Spec: "@every 1h",
		Run: func(ctx context.Context) error {
			return errors.New("all sources exhausted")
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := r.RunNow("ingest"); err != nil {
		t.Fatalf("run now itself should not fail: %v", err)
	}

	status := r.Status()
	if status[0].LastOutcome != OutcomeFailure {
		t.Fatalf("failure outcome should be recorded, got %q", status[0].LastOutcome)
	}
	if status[0].LastError == "" {
		t.Fatal("failure detail should be recorded")
	}
}

func TestPanickingJobIsIsolated(t *testing.T) {
	r := testRegistry(t)

	if err := r.Register(Job{
		Name: "ingest",
		Spec: "@every 1h",
		Run: func(ctx context.Context) error {
			panic("boom")
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := r.RunNow("ingest"); err != nil {
		t.Fatalf("panic must be contained: %v", err)
	}
	if status := r.Status(); status[0].LastOutcome != OutcomeFailure {
		t.Fatalf("panic should surface as failure, got %q", status[0].LastOutcome)
	}
}

func TestDeadlineCancelsRun(t *testing.T) {
	r := testRegistry(t)

	var sawCancel atomic.Bool
	if err := r.Register(Job{
		Name:     "ingest",
		Spec:     "@every 1h",
		Deadline: 20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			sawCancel.Store(true)
			return ctx.Err()
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	r.Start(context.Background())
	defer r.Stop()

	if err := r.RunNow("ingest"); err != nil {
		t.Fatalf("run now: %v", err)
	}
	if !sawCancel.Load() {
		t.Fatal("job should observe its deadline")
	}
}

func TestStatusReportsSchedule(t *testing.T) {
	r := testRegistry(t)
	if err := r.Register(Job{Name: "ingest", Spec: "@every 15m", Run: func(ctx context.Context) error { return nil }}); err != nil {
		t.Fatalf("register: %v", err)
	}

	r.Start(context.Background())
	defer r.Stop()

	status := r.Status()
	if len(status) != 1 || status[0].Name != "ingest" || status[0].Spec != "@every 15m" {
		t.Fatalf("unexpected status %+v", status)
	}
	if status[0].NextRun.IsZero() {
		t.Fatal("next run should be computed once started")
	}
}
