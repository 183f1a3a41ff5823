// Package alerts owns price alert definitions, their state machine, and
// crossing-based evaluation against consecutive rate snapshots.
package alerts

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gold-rate-alerts/internal/rates"
)

// Condition is the direction an alert watches.
type Condition string

const (
	Below Condition = "below"
	Above Condition = "above"
)

// State is the alert lifecycle state. Cancelled is terminal.
type State string

const (
	StateActive    State = "active"
	StateTriggered State = "triggered"
	StateCancelled State = "cancelled"
)

// RearmPolicy controls whether a triggered alert can fire again.
type RearmPolicy string

const (
	// RearmNone is one-shot: once triggered the alert stays triggered
	// until its owner explicitly re-arms or cancels it.
	RearmNone RearmPolicy = "none"
	// RearmAuto re-activates the alert once the price returns past the
	// target, allowing it to fire on the next crossing.
	RearmAuto RearmPolicy = "auto"
)

// Alert is a user-defined price threshold.
type Alert struct {
	ID              uuid.UUID
	Owner           string
	City            string
	Metal           rates.Metal
	Tier            rates.Tier
	Condition       Condition
	Target          decimal.Decimal
	State           State
	Rearm           RearmPolicy
	CreatedAt       time.Time
	LastTriggeredAt *time.Time
}

// Key returns the snapshot key this alert watches.
func (a Alert) Key() rates.Key {
	return rates.Key{City: a.City, Metal: a.Metal}
}

// satisfied reports whether value is inside the alert's zone. Ties count as
// satisfying, for both directions.
func (a Alert) satisfied(value decimal.Decimal) bool {
	if a.Condition == Below {
		return value.LessThanOrEqual(a.Target)
	}
	return value.GreaterThanOrEqual(a.Target)
}

// watchedValue extracts the tier this alert compares against. Alerts without
// an explicit tier watch the base rate.
func (a Alert) watchedValue(snap rates.Snapshot) (decimal.Decimal, bool) {
	tier := a.Tier
	if tier == "" {
		tier = rates.Tier24K
	}
	value, ok := snap.Tiers[tier]
	return value, ok
}

// TriggerEvent is emitted exactly once per detected crossing. It lives only
// for the evaluation cycle that produced it.
type TriggerEvent struct {
	Alert     Alert
	Snapshot  rates.Snapshot
	Direction Condition
	Cycle     uint64
}
