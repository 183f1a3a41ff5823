package alerts

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gold-rate-alerts/internal/metrics"
	"gold-rate-alerts/internal/rates"
)

// Subscriber receives trigger events outside the composer's dispatch path,
// e.g. for in-session acknowledgment by the command layer.
type Subscriber func(TriggerEvent)

// Evaluator detects threshold crossings between consecutive snapshots and
// drives alert state transitions.
type Evaluator struct {
	store  *Store
	logger zerolog.Logger

	subMu sync.RWMutex
	subs  []Subscriber
}

// NewEvaluator constructs an evaluator over an alert store.
func NewEvaluator(store *Store, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		store:  store,
		logger: logger.With().Str("component", "evaluator").Logger(),
	}
}

// Subscribe registers a callback invoked synchronously for every emitted
// trigger event.
func (e *Evaluator) Subscribe(sub Subscriber) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.subs = append(e.subs, sub)
}

// EvaluateKey evaluates all alerts watching one snapshot key. Crossing
// detection needs both snapshots: an alert fires only when the previous
// value was outside its zone and the current value is inside, never merely
// because the price remains in the zone. With no previous snapshot the
// current one is only the new baseline. A stale current snapshot suppresses
// evaluation entirely: its value may be invalid, and a zero or frozen rate
// must not fire alerts.
func (e *Evaluator) EvaluateKey(ctx context.Context, prev, curr *rates.Snapshot, cycle uint64) []TriggerEvent {
	if curr == nil || curr.Stale {
		return nil
	}
	if prev == nil {
		return nil
	}

	events := make([]TriggerEvent, 0)
	now := time.Now().UTC()

	for _, alert := range e.store.ForKey(curr.Key()) {
		switch alert.State {
		case StateActive:
			if event, ok := e.checkCrossing(ctx, alert, *prev, *curr, cycle, now); ok {
				events = append(events, event)
			}
		case StateTriggered:
			e.maybeRearm(ctx, alert, *curr)
		}
	}
	return events
}

func (e *Evaluator) checkCrossing(ctx context.Context, alert Alert, prev, curr rates.Snapshot, cycle uint64, now time.Time) (TriggerEvent, bool) {
	prevValue, okPrev := alert.watchedValue(prev)
	currValue, okCurr := alert.watchedValue(curr)
	if !okPrev || !okCurr {
		return TriggerEvent{}, false
	}
	if alert.satisfied(prevValue) || !alert.satisfied(currValue) {
		return TriggerEvent{}, false
	}

	// Crossing detected. The CAS transition is the exactly-once guard: if a
	// concurrent pass already moved this alert, the event here is stale and
	// is discarded.
	if err := e.store.transition(ctx, alert.ID, StateActive, StateTriggered, &now); err != nil {
		if errors.Is(err, ErrConflict) {
			e.logger.Warn().Str("alert_id", alert.ID.String()).Msg("transition lost race, discarding event")
		} else {
			e.logger.Error().Err(err).Str("alert_id", alert.ID.String()).Msg("transition failed")
		}
		return TriggerEvent{}, false
	}

	alert.State = StateTriggered
	alert.LastTriggeredAt = &now
	event := TriggerEvent{Alert: alert, Snapshot: curr, Direction: alert.Condition, Cycle: cycle}

	metrics.TriggerEvents.WithLabelValues(string(alert.Condition)).Inc()
	e.logger.Info().Str("alert_id", alert.ID.String()).Str("owner", alert.Owner).
		Str("city", alert.City).Str("condition", string(alert.Condition)).
		Str("target", alert.Target.String()).Str("value", currValue.String()).
		Msg("alert triggered")

	e.fanOut(event)
	return event, true
}

// maybeRearm re-activates an auto re-arm alert once the price has returned
// past its target, so the next excursion can fire again. One-shot alerts
// stay triggered until explicitly re-armed.
func (e *Evaluator) maybeRearm(ctx context.Context, alert Alert, curr rates.Snapshot) {
	if alert.Rearm != RearmAuto {
		return
	}
	value, ok := alert.watchedValue(curr)
	if !ok || alert.satisfied(value) {
		return
	}
	if err := e.store.transition(ctx, alert.ID, StateTriggered, StateActive, nil); err != nil {
		if !errors.Is(err, ErrConflict) {
			e.logger.Error().Err(err).Str("alert_id", alert.ID.String()).Msg("re-arm failed")
		}
		return
	}
	e.logger.Info().Str("alert_id", alert.ID.String()).Msg("alert re-armed")
}

func (e *Evaluator) fanOut(event TriggerEvent) {
	e.subMu.RLock()
	subs := make([]Subscriber, len(e.subs))
	copy(subs, e.subs)
	e.subMu.RUnlock()

	for _, sub := range subs {
		sub(event)
	}
}
