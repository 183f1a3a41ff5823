// Package scheduler owns job timers, execution ordering, and overlap
// protection for the pipeline's fixed set of jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"gold-rate-alerts/internal/metrics"
)

// Outcome is a job run's terminal result.
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeSkipped Outcome = "skipped"
)

// Job declares a scheduled unit of work. Spec accepts standard 5-field cron
// expressions and descriptors such as "@every 15m"; wall-clock specs are
// interpreted in the registry's location.
type Job struct {
	Name      string
	Spec      string
	DependsOn []string
	Deadline  time.Duration
	Run       func(ctx context.Context) error
}

// JobStatus is the read-only diagnostic view of one job.
type JobStatus struct {
	Name        string    `json:"name"`
	Spec        string    `json:"spec"`
	DependsOn   []string  `json:"depends_on,omitempty"`
	LastRun     time.Time `json:"last_run"`
	NextRun     time.Time `json:"next_run"`
	LastOutcome Outcome   `json:"last_outcome"`
	LastError   string    `json:"last_error,omitempty"`
}

// Options tune the registry.
type Options struct {
	Location *time.Location
	// DependencyWait bounds how long a dependent job waits for its
	// producer's cycle to reach a terminal outcome before degrading.
	DependencyWait time.Duration
	// PollInterval is how often a waiting dependent re-checks its
	// producer. Exposed for tests.
	PollInterval time.Duration
}

type managedJob struct {
	def     Job
	entryID cron.EntryID

	// runMu is held for the duration of a run; TryLock failing means the
	// prior run is still in progress and the fire is skipped, not queued.
	runMu sync.Mutex

	stateMu        sync.Mutex
	lastRun        time.Time
	lastOutcome    Outcome
	lastErr        string
	lastTerminalAt time.Time
}

// Registry drives the registered jobs. After a restart, next fire times are
// computed from wall-clock time only; missed cycles are not replayed, since
// snapshot staleness already signals old data and replay would risk
// duplicate alert storms.
type Registry struct {
	cron   *cron.Cron
	opts   Options
	logger zerolog.Logger

	mu    sync.Mutex
	jobs  map[string]*managedJob
	order []string

	baseCtx context.Context
}

// New constructs a job registry.
func New(opts Options, logger zerolog.Logger) *Registry {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.DependencyWait <= 0 {
		opts.DependencyWait = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	return &Registry{
		cron:    cron.New(cron.WithLocation(opts.Location)),
		opts:    opts,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		jobs:    make(map[string]*managedJob),
		baseCtx: context.Background(),
	}
}

// Register adds a job. Dependencies must already be registered, which keeps
// the dependency graph acyclic by construction.
func (r *Registry) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("scheduler: job needs a name and a run function")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.Name]; exists {
		return fmt.Errorf("scheduler: job %q already registered", job.Name)
	}
	for _, dep := range job.DependsOn {
		if _, ok := r.jobs[dep]; !ok {
			return fmt.Errorf("scheduler: job %q depends on unregistered job %q", job.Name, dep)
		}
	}

	managed := &managedJob{def: job}
	entryID, err := r.cron.AddFunc(job.Spec, func() {
		r.fire(managed)
	})
	if err != nil {
		return fmt.Errorf("scheduler: parse spec %q for job %q: %w", job.Spec, job.Name, err)
	}
	managed.entryID = entryID
	r.jobs[job.Name] = managed
	r.order = append(r.order, job.Name)

	r.logger.Info().Str("job", job.Name).Str("spec", job.Spec).
		Strs("depends_on", job.DependsOn).Msg("job registered")
	return nil
}

// Start begins firing jobs. ctx cancellation propagates into running jobs.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	r.baseCtx = ctx
	r.mu.Unlock()
	r.cron.Start()
	r.logger.Info().Msg("scheduler started")
}

// Stop halts timers and waits for in-flight runs started by cron to return.
func (r *Registry) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info().Msg("scheduler stopped")
}

// RunNow fires a job outside its schedule, with the same overlap and
// dependency handling.
func (r *Registry) RunNow(name string) error {
	r.mu.Lock()
	managed, ok := r.jobs[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	r.fire(managed)
	return nil
}

// Status reports every job in registration order.
func (r *Registry) Status() []JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]JobStatus, 0, len(r.order))
	for _, name := range r.order {
		managed := r.jobs[name]
		managed.stateMu.Lock()
		status := JobStatus{
			Name:        managed.def.Name,
			Spec:        managed.def.Spec,
			DependsOn:   managed.def.DependsOn,
			LastRun:     managed.lastRun,
			NextRun:     r.cron.Entry(managed.entryID).Next,
			LastOutcome: managed.lastOutcome,
			LastError:   managed.lastErr,
		}
		managed.stateMu.Unlock()
		out = append(out, status)
	}
	return out
}

func (r *Registry) fire(managed *managedJob) {
	fireAt := time.Now()

	if !managed.runMu.TryLock() {
		metrics.JobSkips.WithLabelValues(managed.def.Name).Inc()
		r.logger.Warn().Str("job", managed.def.Name).
			Msg("previous run still in progress, skipping fire")
		managed.stateMu.Lock()
		managed.lastOutcome = OutcomeSkipped
		managed.stateMu.Unlock()
		return
	}
	defer managed.runMu.Unlock()

	r.mu.Lock()
	ctx := r.baseCtx
	r.mu.Unlock()

	for _, dep := range managed.def.DependsOn {
		r.awaitDependency(ctx, managed.def.Name, dep, fireAt)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if managed.def.Deadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, managed.def.Deadline)
		defer cancel()
	}

	managed.stateMu.Lock()
	managed.lastRun = fireAt
	managed.stateMu.Unlock()

	r.logger.Debug().Str("job", managed.def.Name).Msg("job starting")
	err := r.runIsolated(runCtx, managed.def)

	outcome := OutcomeSuccess
	errMsg := ""
	if err != nil {
		outcome = OutcomeFailure
		errMsg = err.Error()
		r.logger.Error().Err(err).Str("job", managed.def.Name).Msg("job failed")
	} else {
		r.logger.Debug().Str("job", managed.def.Name).Msg("job completed")
	}
	metrics.JobRuns.WithLabelValues(managed.def.Name, string(outcome)).Inc()

	managed.stateMu.Lock()
	managed.lastOutcome = outcome
	managed.lastErr = errMsg
	managed.lastTerminalAt = time.Now()
	managed.stateMu.Unlock()
}

// runIsolated converts a panicking job into a failed outcome so that one
// faulty job can never take down the scheduler process.
func (r *Registry) runIsolated(ctx context.Context, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("scheduler: job %q panicked: %v", job.Name, rec)
		}
	}()
	return job.Run(ctx)
}

// awaitDependency blocks until the producer has reached a terminal outcome
// at or after fireAt, or the bounded wait elapses. On timeout the dependent
// proceeds against the last known state; degrading beats stalling the whole
// pipeline.
func (r *Registry) awaitDependency(ctx context.Context, dependent, producer string, fireAt time.Time) {
	r.mu.Lock()
	managed, ok := r.jobs[producer]
	r.mu.Unlock()
	if !ok {
		return
	}

	deadline := time.Now().Add(r.opts.DependencyWait)
	for {
		managed.stateMu.Lock()
		terminal := managed.lastTerminalAt
		managed.stateMu.Unlock()
		if !terminal.Before(fireAt) {
			return
		}
		if time.Now().After(deadline) {
			r.logger.Warn().Str("job", dependent).Str("dependency", producer).
				Msg("dependency did not complete in time, proceeding with last known state")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.opts.PollInterval):
		}
	}
}
