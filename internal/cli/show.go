package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"gold-rate-alerts/internal/app"
)

var (
	showCity  string
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent persisted rates for a city",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showCity == "" {
			return fmt.Errorf("--city is required")
		}
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			City:  showCity,
			Limit: showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showCity, "city", "", "City to display rates for")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rates to display")
}
