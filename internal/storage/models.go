package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateRow is a persisted snapshot observation for one (city, metal) pair.
type RateRow struct {
	City       string
	Metal      string
	Base       decimal.Decimal
	Tier22K    *decimal.Decimal
	Tier18K    *decimal.Decimal
	Tier14K    *decimal.Decimal
	USDPerOz   *decimal.Decimal
	USDINR     *decimal.Decimal
	Source     string
	Cycle      int64
	Stale      bool
	CapturedAt time.Time
	CreatedAt  time.Time
}
