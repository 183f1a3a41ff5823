package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gold-rate-alerts/internal/alerts"
	"gold-rate-alerts/internal/rates"
)

// CreateAlertOptions carry the fields of a new alert.
type CreateAlertOptions struct {
	Owner     string
	City      string
	Metal     string
	Tier      string
	Condition string
	Target    decimal.Decimal
	Rearm     string
}

func (a *App) openAlertStore(ctx context.Context) (*alerts.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database not configured; cannot manage alerts")
	}

	alertStore := alerts.NewStore(store, a.Logger)
	if err := alertStore.Load(ctx); err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("load alerts: %w", err)
	}
	return alertStore, closeStore, nil
}

// ListAlerts prints every non-cancelled alert.
func (a *App) ListAlerts(ctx context.Context) error {
	store, closeStore, err := a.openAlertStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	list := store.All()
	if len(list) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tOwner\tCity\tMetal\tTier\tCondition\tTarget\tState\tRearm\tLast Triggered")
	for _, alert := range list {
		triggered := "-"
		if alert.LastTriggeredAt != nil {
			triggered = alert.LastTriggeredAt.UTC().Format(time.RFC3339)
		}
		tier := string(alert.Tier)
		if tier == "" {
			tier = string(rates.Tier24K)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.ID, alert.Owner, alert.City, alert.Metal, tier,
			alert.Condition, alert.Target.StringFixed(0), alert.State, alert.Rearm, triggered)
	}
	writer.Flush()
	return nil
}

// CreateAlert registers a new alert and prints its id.
func (a *App) CreateAlert(ctx context.Context, opts CreateAlertOptions) error {
	metal := rates.Metal(opts.Metal)
	if metal != rates.Gold && metal != rates.Silver {
		return fmt.Errorf("metal must be %q or %q", rates.Gold, rates.Silver)
	}
	condition := alerts.Condition(opts.Condition)
	if condition != alerts.Below && condition != alerts.Above {
		return fmt.Errorf("condition must be %q or %q", alerts.Below, alerts.Above)
	}
	rearm := alerts.RearmPolicy(opts.Rearm)
	if rearm != "" && rearm != alerts.RearmNone && rearm != alerts.RearmAuto {
		return fmt.Errorf("rearm must be %q or %q", alerts.RearmNone, alerts.RearmAuto)
	}

	store, closeStore, err := a.openAlertStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	alert, err := store.Create(ctx, alerts.Alert{
		Owner:     opts.Owner,
		City:      opts.City,
		Metal:     metal,
		Tier:      rates.Tier(opts.Tier),
		Condition: condition,
		Target:    opts.Target,
		Rearm:     rearm,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, alert.ID.String())
	return nil
}

// CancelAlert moves an alert to the terminal cancelled state.
func (a *App) CancelAlert(ctx context.Context, id string) error {
	alertID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid alert id: %w", err)
	}

	store, closeStore, err := a.openAlertStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return store.Cancel(ctx, alertID)
}

// RearmAlert returns a triggered one-shot alert to active.
func (a *App) RearmAlert(ctx context.Context, id string) error {
	alertID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid alert id: %w", err)
	}

	store, closeStore, err := a.openAlertStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return store.Rearm(ctx, alertID)
}
