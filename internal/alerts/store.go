package alerts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gold-rate-alerts/internal/rates"
)

var (
	// ErrNotFound indicates the alert id is unknown.
	ErrNotFound = errors.New("alerts: not found")
	// ErrConflict indicates a concurrent state transition won the race.
	// The losing transition is discarded, not retried.
	ErrConflict = errors.New("alerts: concurrent transition conflict")
	// ErrTerminal indicates the alert was already cancelled.
	ErrTerminal = errors.New("alerts: alert is cancelled")
)

// Repository is the durable write-through behind the in-memory store. A nil
// Repository keeps alerts purely in memory.
type Repository interface {
	SaveAlert(ctx context.Context, alert Alert) error
	UpdateAlertState(ctx context.Context, id uuid.UUID, from, to State, triggeredAt *time.Time) (bool, error)
	ListAlerts(ctx context.Context) ([]Alert, error)
}

// Store holds alert definitions and guards every state transition so two
// overlapping evaluation passes cannot double-transition the same alert.
type Store struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*Alert
	repo   Repository
	logger zerolog.Logger
}

// NewStore constructs an alert store.
func NewStore(repo Repository, logger zerolog.Logger) *Store {
	return &Store{
		byID:   make(map[uuid.UUID]*Alert),
		repo:   repo,
		logger: logger.With().Str("component", "alert_store").Logger(),
	}
}

// Load hydrates the in-memory set from the repository. Cancelled alerts are
// not loaded.
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	stored, err := s.repo.ListAlerts(ctx)
	if err != nil {
		return fmt.Errorf("load alerts: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range stored {
		if stored[i].State == StateCancelled {
			continue
		}
		alert := stored[i]
		s.byID[alert.ID] = &alert
	}
	s.logger.Info().Int("count", len(s.byID)).Msg("alerts loaded")
	return nil
}

// Create registers a new alert in active state.
func (s *Store) Create(ctx context.Context, alert Alert) (Alert, error) {
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	if alert.State == "" {
		alert.State = StateActive
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	if alert.Rearm == "" {
		alert.Rearm = RearmNone
	}
	if !alert.Target.IsPositive() {
		return Alert{}, fmt.Errorf("alerts: target must be positive, got %s", alert.Target)
	}

	if s.repo != nil {
		if err := s.repo.SaveAlert(ctx, alert); err != nil {
			return Alert{}, fmt.Errorf("persist alert: %w", err)
		}
	}

	s.mu.Lock()
	stored := alert
	s.byID[alert.ID] = &stored
	s.mu.Unlock()

	s.logger.Info().Str("alert_id", alert.ID.String()).Str("owner", alert.Owner).
		Str("condition", string(alert.Condition)).Str("target", alert.Target.String()).
		Msg("alert created")
	return alert, nil
}

// Cancel moves an alert to the terminal cancelled state.
func (s *Store) Cancel(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	alert, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if alert.State == StateCancelled {
		s.mu.Unlock()
		return ErrTerminal
	}
	from := alert.State
	alert.State = StateCancelled
	s.mu.Unlock()

	if s.repo != nil {
		if _, err := s.repo.UpdateAlertState(ctx, id, from, StateCancelled, nil); err != nil {
			return fmt.Errorf("persist cancel: %w", err)
		}
	}
	return nil
}

// Rearm explicitly re-activates a triggered one-shot alert.
func (s *Store) Rearm(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, StateTriggered, StateActive, nil)
}

// Get returns a copy of an alert.
func (s *Store) Get(id uuid.UUID) (Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.byID[id]
	if !ok {
		return Alert{}, false
	}
	return *alert, true
}

// ForKey returns copies of all non-cancelled alerts watching a snapshot key,
// in stable creation order.
func (s *Store) ForKey(key rates.Key) []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Alert, 0)
	for _, alert := range s.byID {
		if alert.State == StateCancelled {
			continue
		}
		if alert.Key() == key {
			out = append(out, *alert)
		}
	}
	sortAlerts(out)
	return out
}

// ActiveForOwner returns copies of an owner's active alerts.
func (s *Store) ActiveForOwner(owner string) []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Alert, 0)
	for _, alert := range s.byID {
		if alert.Owner == owner && alert.State == StateActive {
			out = append(out, *alert)
		}
	}
	sortAlerts(out)
	return out
}

// All returns copies of every non-cancelled alert.
func (s *Store) All() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Alert, 0, len(s.byID))
	for _, alert := range s.byID {
		if alert.State == StateCancelled {
			continue
		}
		out = append(out, *alert)
	}
	sortAlerts(out)
	return out
}

// transition performs a compare-and-set state change under the store lock.
// A mismatch between the expected and actual state means a concurrent pass
// already transitioned the alert; the caller must discard its event.
func (s *Store) transition(ctx context.Context, id uuid.UUID, from, to State, triggeredAt *time.Time) error {
	s.mu.Lock()
	alert, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if alert.State == StateCancelled {
		s.mu.Unlock()
		return ErrTerminal
	}
	if alert.State != from {
		s.mu.Unlock()
		return fmt.Errorf("%w: expected %s, found %s", ErrConflict, from, alert.State)
	}
	alert.State = to
	if triggeredAt != nil {
		ts := *triggeredAt
		alert.LastTriggeredAt = &ts
	}
	s.mu.Unlock()

	if s.repo != nil {
		moved, err := s.repo.UpdateAlertState(ctx, id, from, to, triggeredAt)
		if err != nil {
			s.logger.Error().Err(err).Str("alert_id", id.String()).Msg("failed to persist state transition")
		} else if !moved {
			s.logger.Warn().Str("alert_id", id.String()).Msg("repository rejected state transition")
		}
	}
	return nil
}

func sortAlerts(list []Alert) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID.String() < list[j].ID.String()
	})
}
