package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"gold-rate-alerts/internal/app"
)

var (
	simulateCity      string
	simulateCondition string
	simulateTarget    float64
	simulatePrevious  float64
	simulateCurrent   float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-crossing",
	Short: "Drive a synthetic price crossing through evaluation and delivery",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateTarget <= 0 || simulatePrevious <= 0 || simulateCurrent <= 0 {
			return errors.New("--target, --previous, and --current must be greater than 0")
		}

		opts := app.SimulateOptions{
			City:      simulateCity,
			Condition: simulateCondition,
			Target:    decimal.NewFromFloat(simulateTarget),
			Previous:  decimal.NewFromFloat(simulatePrevious),
			Current:   decimal.NewFromFloat(simulateCurrent),
		}
		return getApp().SimulateCrossing(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateCity, "city", "Mumbai", "City for the synthetic snapshots")
	simulateCmd.Flags().StringVar(&simulateCondition, "condition", "below", "Alert condition (below or above)")
	simulateCmd.Flags().Float64Var(&simulateTarget, "target", 0, "Alert target in INR per gram")
	simulateCmd.Flags().Float64Var(&simulatePrevious, "previous", 0, "Previous 24k rate in INR per gram")
	simulateCmd.Flags().Float64Var(&simulateCurrent, "current", 0, "Current 24k rate in INR per gram")
}
