package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const spotSymbolGold = "XAU"

var gramsPerTroyOz = decimal.RequireFromString("31.1035")

// SpotOptions parameterise the international spot provider.
type SpotOptions struct {
	BaseURL    string
	ForexURL   string
	PremiumPct decimal.Decimal
	Timeout    time.Duration
	UserAgent  string
}

// Spot derives a local retail rate from the international spot price and the
// USD-INR conversion rate. It ranks below the retail board because the
// configured premium only approximates city-level duties.
type Spot struct {
	opts     SpotOptions
	logger   zerolog.Logger
	client   *http.Client
	baseURL  string
	forexURL string
}

// NewSpot constructs a spot-derived provider.
func NewSpot(opts SpotOptions, logger zerolog.Logger) *Spot {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Spot{
		opts:     opts,
		logger:   logger.With().Str("component", "spot_fetcher").Logger(),
		client:   &http.Client{Timeout: timeout},
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		forexURL: strings.TrimRight(opts.ForexURL, "/"),
	}
}

// Name identifies the provider in ranked-source configuration.
func (s *Spot) Name() string { return "spot" }

// Fetch computes an INR-per-gram quote from the USD spot price. The same
// derived value is used for every city; it exists so that alert evaluation
// can degrade to an approximation when the retail board is down.
func (s *Spot) Fetch(ctx context.Context, city string) (Quote, error) {
	if s.baseURL == "" || s.forexURL == "" {
		return Quote{}, fmt.Errorf("%w: spot urls not configured", ErrUnavailable)
	}

	usdOz, err := s.fetchSpotUSD(ctx)
	if err != nil {
		return Quote{}, err
	}
	usdinr, err := s.fetchUSDINR(ctx)
	if err != nil {
		return Quote{}, err
	}

	perGram := usdOz.Div(gramsPerTroyOz).Mul(usdinr)
	if !s.opts.PremiumPct.IsZero() {
		markup := decimal.NewFromInt(1).Add(s.opts.PremiumPct.Div(decimal.NewFromInt(100)))
		perGram = perGram.Mul(markup)
	}

	return Quote{
		City:      city,
		Gold24K:   perGram.Round(2),
		GoldUSDOz: usdOz,
		USDINR:    usdinr,
		Source:    s.Name(),
		AsOf:      time.Now().UTC(),
	}, nil
}

func (s *Spot) fetchSpotUSD(ctx context.Context) (decimal.Decimal, error) {
	payload, err := s.get(ctx, s.baseURL+"/price/"+spotSymbolGold)
	if err != nil {
		return decimal.Decimal{}, err
	}

	var res struct {
		Price float64 `json:"price"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: decode spot response: %v", ErrUnavailable, err)
	}
	if res.Price <= 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: spot price not positive", ErrUnavailable)
	}
	return decimal.NewFromFloat(res.Price), nil
}

func (s *Spot) fetchUSDINR(ctx context.Context) (decimal.Decimal, error) {
	payload, err := s.get(ctx, s.forexURL+"/latest/USD")
	if err != nil {
		return decimal.Decimal{}, err
	}

	var res struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: decode forex response: %v", ErrUnavailable, err)
	}
	inr, ok := res.Rates["INR"]
	if !ok || inr <= 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: forex response missing INR", ErrUnavailable)
	}
	return decimal.NewFromFloat(inr), nil
}

func (s *Spot) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "goldwatch/1.0")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError("spot", resp.StatusCode, payload)
	}
	return payload, nil
}

type errorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseHTTPError(source string, status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		switch {
		case apiErr.Description != "":
			return fmt.Errorf("%w: %s api error (%d): %s", ErrUnavailable, source, status, apiErr.Description)
		case apiErr.Message != "":
			return fmt.Errorf("%w: %s api error (%d): %s", ErrUnavailable, source, status, apiErr.Message)
		case apiErr.ErrorType != "":
			return fmt.Errorf("%w: %s api error (%d): %s", ErrUnavailable, source, status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%w: %s api error (%d): %s", ErrUnavailable, source, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%w: %s api error (%d)", ErrUnavailable, source, status)
}

var _ Provider = (*Spot)(nil)
