package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"gold-rate-alerts/internal/alerts"
	"gold-rate-alerts/internal/compose"
	"gold-rate-alerts/internal/dispatch"
	"gold-rate-alerts/internal/rates"
)

// SimulateOptions describe one synthetic crossing to run end to end.
type SimulateOptions struct {
	City      string
	Condition string
	Target    decimal.Decimal
	Previous  decimal.Decimal
	Current   decimal.Decimal
}

// SimulateCrossing drives a synthetic previous/current price pair through
// the evaluator, composer, and dispatcher, exactly as a live cycle would.
func (a *App) SimulateCrossing(ctx context.Context, opts SimulateOptions) error {
	condition := alerts.Condition(opts.Condition)
	if condition != alerts.Below && condition != alerts.Above {
		return fmt.Errorf("condition must be %q or %q", alerts.Below, alerts.Above)
	}

	store := alerts.NewStore(nil, a.Logger)
	alert, err := store.Create(ctx, alerts.Alert{
		Owner:     "simulated",
		City:      opts.City,
		Metal:     rates.Gold,
		Condition: condition,
		Target:    opts.Target,
	})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	prev := rates.NewSnapshot(opts.City, rates.Gold, opts.Previous, now.Add(-15*time.Minute))
	prev.Source = "simulated"
	curr := rates.NewSnapshot(opts.City, rates.Gold, opts.Current, now)
	curr.Source = "simulated"

	evaluator := alerts.NewEvaluator(store, a.Logger)
	events := evaluator.EvaluateKey(ctx, &prev, &curr, 1)
	if len(events) == 0 {
		return errors.New("no crossing detected for the given prices")
	}

	recipient := compose.Recipient{ID: "simulated", Name: alert.Owner, PreferredCity: opts.City}
	msg, ok := compose.Compose(recipient, nil, events, nil, 1, now)
	if !ok {
		return errors.New("nothing to compose")
	}

	dispatcher := dispatch.New(a.newGateway(), dispatch.Options{
		MaxAttempts: a.Config.Dispatch.MaxAttempts,
		RetryBase:   a.Config.Dispatch.RetryBase,
	}, a.Logger)

	result := dispatcher.Dispatch(ctx, msg)
	if result.Status != dispatch.Delivered {
		return fmt.Errorf("simulated delivery %s after %d attempts: %w", result.Status, result.Attempts, result.Err)
	}

	a.Logger.Info().Str("alert_id", alert.ID.String()).Msg("simulated crossing delivered")
	return nil
}
