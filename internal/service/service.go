package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"gold-rate-alerts/internal/alerts"
	"gold-rate-alerts/internal/compose"
	"gold-rate-alerts/internal/config"
	"gold-rate-alerts/internal/dispatch"
	"gold-rate-alerts/internal/ingest"
	"gold-rate-alerts/internal/rates"
	"gold-rate-alerts/internal/scheduler"
)

// RecipientSource yields the recipients that composed messages go to.
type RecipientSource interface {
	List(ctx context.Context) ([]compose.Recipient, error)
}

// ExternalSource contributes one optional section to the morning brief.
// A failing source is skipped, never fatal to the brief.
type ExternalSource interface {
	Name() string
	Section(ctx context.Context) (compose.Section, error)
}

// AdvisoryLocker guards a cycle so that only one process runs it.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error)
}

// Service orchestrates ingestion, alert evaluation, and message delivery.
type Service struct {
	cache      *rates.Cache
	pipeline   *ingest.Pipeline
	alerts     *alerts.Store
	evaluator  *alerts.Evaluator
	dispatcher *dispatch.Dispatcher
	recipients RecipientSource
	external   []ExternalSource
	locker     AdvisoryLocker
	logger     zerolog.Logger

	cities       []string
	lockKey      int64
	ingestSpec   string
	evaluateSpec string
	briefSpec    string
	jobDeadline  time.Duration

	cycle atomic.Uint64
}

// New constructs the orchestration service.
func New(cfg *config.Config, cache *rates.Cache, pipeline *ingest.Pipeline, alertStore *alerts.Store, evaluator *alerts.Evaluator, dispatcher *dispatch.Dispatcher, recipients RecipientSource, external []ExternalSource, locker AdvisoryLocker, logger zerolog.Logger) *Service {
	return &Service{
		cache:        cache,
		pipeline:     pipeline,
		alerts:       alertStore,
		evaluator:    evaluator,
		dispatcher:   dispatcher,
		recipients:   recipients,
		external:     external,
		locker:       locker,
		logger:       logger.With().Str("component", "service").Logger(),
		cities:       cfg.Rates.Cities,
		lockKey:      cfg.Scheduler.AdvisoryLockKey,
		ingestSpec:   cfg.Scheduler.IngestSpec,
		evaluateSpec: cfg.Scheduler.EvaluateSpec,
		briefSpec:    cfg.Scheduler.BriefSpec,
		jobDeadline:  cfg.Scheduler.JobDeadline,
	}
}

// RegisterJobs installs the ingest, evaluate, and brief jobs. Evaluate
// waits on ingest so it sees the cycle's snapshots, and the brief waits
// on both so it summarizes settled data.
func (s *Service) RegisterJobs(reg *scheduler.Registry) error {
	jobs := []scheduler.Job{
		{
			Name:     "ingest",
			Spec:     s.ingestSpec,
			Deadline: s.jobDeadline,
			Run:      s.RunIngest,
		},
		{
			Name:      "evaluate",
			Spec:      s.evaluateSpec,
			DependsOn: []string{"ingest"},
			Deadline:  s.jobDeadline,
			Run:       s.RunEvaluate,
		},
		{
			Name:      "brief",
			Spec:      s.briefSpec,
			DependsOn: []string{"ingest", "evaluate"},
			Deadline:  s.jobDeadline,
			Run:       s.RunBrief,
		},
	}
	for _, job := range jobs {
		if err := reg.Register(job); err != nil {
			return fmt.Errorf("register job %s: %w", job.Name, err)
		}
	}
	return nil
}

// Cycle reports the current ingestion cycle counter.
func (s *Service) Cycle() uint64 {
	return s.cycle.Load()
}

// RunIngest advances the cycle counter and refreshes every city.
func (s *Service) RunIngest(ctx context.Context) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Msg("skip ingest because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	cycle := s.cycle.Add(1)
	outcomes := s.pipeline.IngestAll(ctx, s.cities, cycle)

	failed := 0
	for _, outcome := range outcomes {
		if outcome.Result == ingest.ResultFailed {
			failed++
		}
	}
	s.logger.Info().
		Uint64("cycle", cycle).
		Int("cities", len(outcomes)).
		Int("failed", failed).
		Msg("ingest cycle complete")

	if failed == len(outcomes) && len(outcomes) > 0 {
		return fmt.Errorf("ingest cycle %d: all %d cities failed", cycle, failed)
	}
	return nil
}

// RunEvaluate walks every cached city/metal pair, evaluates crossings,
// and dispatches per-recipient trigger notifications for the events
// raised in this cycle.
func (s *Service) RunEvaluate(ctx context.Context) error {
	cycle := s.cycle.Load()
	events := s.evaluateAll(ctx, cycle)
	if len(events) == 0 {
		return nil
	}

	s.logger.Info().Uint64("cycle", cycle).Int("events", len(events)).Msg("alerts triggered")
	return s.deliver(ctx, nil, events, nil, cycle)
}

// RunBrief composes the daily market summary for every recipient,
// folding in whatever external sections are reachable.
func (s *Service) RunBrief(ctx context.Context) error {
	cycle := s.cycle.Load()
	snapshots := s.cache.All()
	if len(snapshots) == 0 {
		s.logger.Warn().Uint64("cycle", cycle).Msg("brief skipped, no snapshots cached yet")
		return nil
	}
	return s.deliver(ctx, snapshots, nil, s.externalSections(ctx), cycle)
}

func (s *Service) evaluateAll(ctx context.Context, cycle uint64) []alerts.TriggerEvent {
	var events []alerts.TriggerEvent
	for _, city := range s.cities {
		for _, metal := range []rates.Metal{rates.Gold, rates.Silver} {
			key := rates.Key{City: city, Metal: metal}
			curr, ok := s.cache.Latest(key)
			if !ok {
				continue
			}
			var prevPtr *rates.Snapshot
			if prev, ok := s.cache.Previous(key); ok {
				prevPtr = &prev
			}
			events = append(events, s.evaluator.EvaluateKey(ctx, prevPtr, &curr, cycle)...)
		}
	}
	return events
}

func (s *Service) deliver(ctx context.Context, snapshots []rates.Snapshot, events []alerts.TriggerEvent, external []compose.Section, cycle uint64) error {
	if s.recipients == nil || s.dispatcher == nil {
		return nil
	}
	recipients, err := s.recipients.List(ctx)
	if err != nil {
		return fmt.Errorf("list recipients: %w", err)
	}

	now := time.Now().UTC()
	var messages []compose.Message
	for _, recipient := range recipients {
		msg, ok := compose.Compose(recipient, snapshots, events, external, cycle, now)
		if !ok {
			continue
		}
		messages = append(messages, msg)
	}
	if len(messages) == 0 {
		return nil
	}

	results := s.dispatcher.DispatchAll(ctx, messages)
	for _, result := range results {
		if result.Status == dispatch.Delivered {
			continue
		}
		s.logger.Warn().
			Str("recipient", result.Recipient).
			Str("status", string(result.Status)).
			Int("attempts", result.Attempts).
			Err(result.Err).
			Msg("message not delivered")
	}
	return nil
}

func (s *Service) externalSections(ctx context.Context) []compose.Section {
	var sections []compose.Section
	for _, source := range s.external {
		section, err := source.Section(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Str("source", source.Name()).Msg("external section unavailable")
			continue
		}
		sections = append(sections, section)
	}
	return sections
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
