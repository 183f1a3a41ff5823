package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints recent persisted rates for one city.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show rates")
	}
	if closeStore != nil {
		defer closeStore()
	}

	rows, err := store.ListRecentRates(ctx, opts.City, opts.Limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stdout, "no rates found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Captured (UTC)\tMetal\t24K\t22K\t18K\tSource\tStale")

	for _, row := range rows {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%v\n",
			row.CapturedAt.UTC().Format(time.RFC3339),
			row.Metal,
			row.Base.StringFixed(0),
			formatOptional(row.Tier22K),
			formatOptional(row.Tier18K),
			row.Source,
			row.Stale,
		)
	}

	writer.Flush()
	return nil
}

func formatOptional(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(0)
}
