package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"gold-rate-alerts/internal/rates"
	"gold-rate-alerts/internal/storage"
)

const defaultExportWindow = 7 * 24 * time.Hour

// Export renders a city's gold rate history as CSV and/or a PNG chart of
// the purity tiers.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.City == "" {
		return errors.New("--city is required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	rows, err := store.ListRatesBetween(ctx, opts.City, rates.Gold, from, to)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.Logger.Info().Str("city", opts.City).Msg("no rates found for export window")
		return nil
	}

	downsampled := downsampleRows(rows, opts.MaxPoints)
	a.Logger.Info().Int("total", len(rows)).Int("exported", len(downsampled)).
		Str("city", opts.City).Msg("exporting rates")

	if opts.CSVPath != "" {
		if err := writeRatesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRatesPNG(opts.PNGPath, opts.City, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRows(rows []storage.RateRow, max int) []storage.RateRow {
	if max <= 0 || len(rows) <= max {
		return rows
	}

	result := make([]storage.RateRow, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		result = append(result, rows[idx])
	}
	return result
}

func writeRatesCSV(path string, rows []storage.RateRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"captured_at", "city", "gold_24k", "gold_22k", "gold_18k", "gold_14k", "source", "stale"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		stale := "false"
		if row.Stale {
			stale = "true"
		}
		record := []string{
			row.CapturedAt.Format(time.RFC3339),
			row.City,
			row.Base.String(),
			formatOptional(row.Tier22K),
			formatOptional(row.Tier18K),
			formatOptional(row.Tier14K),
			row.Source,
			stale,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeRatesPNG(path, city string, rows []storage.RateRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(rows))
	base := make([]float64, len(rows))
	tier22 := make([]float64, len(rows))
	tier18 := make([]float64, len(rows))

	for i, row := range rows {
		x[i] = row.CapturedAt
		base[i] = row.Base.InexactFloat64()
		if row.Tier22K != nil {
			tier22[i] = row.Tier22K.InexactFloat64()
		}
		if row.Tier18K != nil {
			tier18[i] = row.Tier18K.InexactFloat64()
		}
	}

	rateFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Title:  city + " gold (INR/gram)",
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "INR per gram",
			ValueFormatter: rateFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "24K",
				XValues: x,
				YValues: base,
			},
			chart.TimeSeries{
				Name:    "22K",
				XValues: x,
				YValues: tier22,
			},
			chart.TimeSeries{
				Name:    "18K",
				XValues: x,
				YValues: tier18,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
