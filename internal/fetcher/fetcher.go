package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnavailable indicates one upstream source failed; the pipeline falls
// through to the next ranked provider.
var ErrUnavailable = errors.New("fetcher: source unavailable")

// Quote is a raw rate observation for one city, before derived tiers are
// computed. Gold24K and Silver are INR per gram.
type Quote struct {
	City      string
	Gold24K   decimal.Decimal
	Silver    decimal.Decimal
	GoldUSDOz decimal.Decimal
	USDINR    decimal.Decimal
	Source    string
	AsOf      time.Time
}

// Provider retrieves a quote for a city from one upstream source. Providers
// are tried in ranked order by the ingestion pipeline; a provider reports an
// error rather than returning a partial or zero-valued quote.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, city string) (Quote, error)
}
