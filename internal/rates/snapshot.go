package rates

import (
	"time"

	"github.com/shopspring/decimal"
)

// Metal identifies a tracked instrument.
type Metal string

const (
	Gold   Metal = "gold"
	Silver Metal = "silver"
)

// Tier names a purity level derived from the 24k base rate.
type Tier string

const (
	Tier24K Tier = "24k"
	Tier22K Tier = "22k"
	Tier18K Tier = "18k"
	Tier14K Tier = "14k"
)

// Purity ratios relative to 24k. Derived tiers are always computed from the
// base rate with these constants, never sourced independently.
var purityRatios = map[Tier]decimal.Decimal{
	Tier24K: decimal.NewFromInt(1),
	Tier22K: decimal.RequireFromString("0.9166"),
	Tier18K: decimal.RequireFromString("0.750"),
	Tier14K: decimal.RequireFromString("0.585"),
}

// Key addresses a snapshot in the cache.
type Key struct {
	City  string
	Metal Metal
}

// Snapshot is the canonical rate observation for one (city, metal) pair.
// All prices are INR per gram; Tiers is recomputed from Base on construction.
type Snapshot struct {
	City       string
	Metal      Metal
	Base       decimal.Decimal
	Tiers      map[Tier]decimal.Decimal
	USDPerOz   decimal.Decimal
	USDINR     decimal.Decimal
	Source     string
	CapturedAt time.Time
	Cycle      uint64
	Stale      bool
}

// NewSnapshot builds a snapshot and derives all purity tiers from base.
func NewSnapshot(city string, metal Metal, base decimal.Decimal, capturedAt time.Time) Snapshot {
	return Snapshot{
		City:       city,
		Metal:      metal,
		Base:       base,
		Tiers:      DeriveTiers(metal, base),
		CapturedAt: capturedAt,
	}
}

// DeriveTiers computes purity-adjusted rates from the base value. Silver has
// a single tier, so only the base is mapped.
func DeriveTiers(metal Metal, base decimal.Decimal) map[Tier]decimal.Decimal {
	if metal != Gold {
		return map[Tier]decimal.Decimal{Tier24K: base}
	}
	tiers := make(map[Tier]decimal.Decimal, len(purityRatios))
	for tier, ratio := range purityRatios {
		tiers[tier] = base.Mul(ratio).Round(0)
	}
	return tiers
}

// Key returns the cache key for this snapshot.
func (s Snapshot) Key() Key {
	return Key{City: s.City, Metal: s.Metal}
}

// Age reports how long ago the snapshot was captured.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CapturedAt)
}
