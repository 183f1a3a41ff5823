package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// RetailOptions parameterise the retail board provider.
type RetailOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Retail fetches published city rates from a retail board feed. This is the
// highest-ranked source because it reflects the rate actually charged in the
// city, inclusive of local duties.
type Retail struct {
	opts    RetailOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewRetail constructs a retail board provider.
func NewRetail(opts RetailOptions, logger zerolog.Logger) *Retail {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")

	return &Retail{
		opts:    opts,
		logger:  logger.With().Str("component", "retail_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Name identifies the provider in ranked-source configuration.
func (r *Retail) Name() string { return "retail" }

// Fetch retrieves the published rates for one city.
func (r *Retail) Fetch(ctx context.Context, city string) (Quote, error) {
	if r.baseURL == "" {
		return Quote{}, fmt.Errorf("%w: retail base url not configured", ErrUnavailable)
	}

	endpoint := r.baseURL + "/rates/" + url.PathEscape(strings.ToLower(city))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(r.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "goldwatch/1.0")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Quote{}, parseHTTPError("retail", resp.StatusCode, payload)
	}

	var board boardResponse
	if err := json.Unmarshal(payload, &board); err != nil {
		return Quote{}, fmt.Errorf("%w: decode board response: %v", ErrUnavailable, err)
	}

	gold, err := decimal.NewFromString(board.Gold24K)
	if err != nil {
		return Quote{}, fmt.Errorf("parse gold rate: %w", err)
	}
	if gold.IsZero() {
		return Quote{}, fmt.Errorf("%w: board returned zero gold rate", ErrUnavailable)
	}

	silver := decimal.Zero
	if board.Silver != "" {
		if silver, err = decimal.NewFromString(board.Silver); err != nil {
			return Quote{}, fmt.Errorf("parse silver rate: %w", err)
		}
	}

	usdinr := decimal.Zero
	if board.USDINR != "" {
		if usdinr, err = decimal.NewFromString(board.USDINR); err != nil {
			return Quote{}, fmt.Errorf("parse usd-inr rate: %w", err)
		}
	}

	return Quote{
		City:    city,
		Gold24K: gold,
		Silver:  silver,
		USDINR:  usdinr,
		Source:  r.Name(),
		AsOf:    time.Now().UTC(),
	}, nil
}

type boardResponse struct {
	City    string `json:"city"`
	Gold24K string `json:"gold_24k"`
	Silver  string `json:"silver"`
	USDINR  string `json:"usd_inr"`
	Date    string `json:"rate_date"`
}

var _ Provider = (*Retail)(nil)
