// Package dispatch delivers composed messages through the external messaging
// gateway with bounded concurrency, retry, and idempotency.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gold-rate-alerts/internal/compose"
	"gold-rate-alerts/internal/metrics"
)

var (
	// ErrTransient marks a delivery failure worth retrying (timeout,
	// throttling).
	ErrTransient = errors.New("dispatch: transient failure")
	// ErrPermanent marks a delivery failure that must not be retried
	// (invalid recipient).
	ErrPermanent = errors.New("dispatch: permanent failure")
)

// Status is the terminal outcome of one message.
type Status string

const (
	Delivered Status = "delivered"
	Deferred  Status = "deferred"
	Failed    Status = "failed"
)

// Result reports the outcome for one message.
type Result struct {
	Recipient string
	Status    Status
	Attempts  int
	Err       error
}

// Gateway is the external messaging channel. The idempotency key lets the
// channel's own dedup absorb a retry whose first attempt succeeded upstream
// but timed out locally.
type Gateway interface {
	Send(ctx context.Context, recipient, content, idempotencyKey string) error
}

// Options tune dispatcher behaviour.
type Options struct {
	MaxInFlight int
	MaxAttempts int
	RetryBase   time.Duration
}

// Dispatcher sends composed messages. Sends for different recipients run in
// parallel up to MaxInFlight; a single recipient gets one message per cycle,
// so per-recipient ordering never arises.
type Dispatcher struct {
	gateway Gateway
	opts    Options
	logger  zerolog.Logger
}

// New constructs a dispatcher.
func New(gateway Gateway, opts Options, logger zerolog.Logger) *Dispatcher {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 4
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Second
	}
	return &Dispatcher{
		gateway: gateway,
		opts:    opts,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
	}
}

// DispatchAll sends every message, blocking until all have reached a
// terminal outcome or ctx is cancelled. One recipient's failure never blocks
// another's delivery.
func (d *Dispatcher) DispatchAll(ctx context.Context, messages []compose.Message) []Result {
	results := make([]Result, len(messages))
	sem := make(chan struct{}, d.opts.MaxInFlight)
	var wg sync.WaitGroup

	for i := range messages {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = Result{Recipient: messages[i].Recipient.ID, Status: Deferred, Err: ctx.Err()}
				return
			}
			results[i] = d.Dispatch(ctx, messages[i])
		}(i)
	}
	wg.Wait()
	return results
}

// Dispatch sends one message with bounded exponential-backoff retries.
func (d *Dispatcher) Dispatch(ctx context.Context, msg compose.Message) Result {
	result := Result{Recipient: msg.Recipient.ID}
	content := msg.Render()

	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		result.Attempts = attempt

		err := d.gateway.Send(ctx, msg.Recipient.ID, content, msg.IdempotencyKey)
		if err == nil {
			result.Status = Delivered
			metrics.DispatchResults.WithLabelValues(string(Delivered)).Inc()
			d.logger.Debug().Str("recipient", msg.Recipient.ID).Int("attempt", attempt).Msg("message delivered")
			return result
		}

		result.Err = err
		if errors.Is(err, ErrPermanent) {
			result.Status = Failed
			metrics.DispatchResults.WithLabelValues(string(Failed)).Inc()
			d.logger.Error().Err(err).Str("recipient", msg.Recipient.ID).Msg("permanent delivery failure")
			return result
		}

		if attempt == d.opts.MaxAttempts {
			break
		}
		backoff := d.opts.RetryBase << (attempt - 1)
		d.logger.Warn().Err(err).Str("recipient", msg.Recipient.ID).
			Int("attempt", attempt).Dur("backoff", backoff).Msg("transient delivery failure, retrying")

		select {
		case <-ctx.Done():
			result.Status = Deferred
			result.Err = ctx.Err()
			metrics.DispatchResults.WithLabelValues(string(Deferred)).Inc()
			return result
		case <-time.After(backoff):
		}
	}

	result.Status = Deferred
	metrics.DispatchResults.WithLabelValues(string(Deferred)).Inc()
	d.logger.Error().Err(result.Err).Str("recipient", msg.Recipient.ID).
		Int("attempts", result.Attempts).Msg("delivery deferred after exhausting retries")
	return result
}
