package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"gold-rate-alerts/internal/app"
)

var (
	alertOwner     string
	alertCity      string
	alertMetal     string
	alertTier      string
	alertCondition string
	alertTarget    float64
	alertRearm     string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage price alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListAlerts(cmd.Context())
	},
}

var alertsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertOwner == "" || alertCity == "" {
			return errors.New("--owner and --city are required")
		}
		if alertTarget <= 0 {
			return errors.New("--target must be greater than 0")
		}

		opts := app.CreateAlertOptions{
			Owner:     alertOwner,
			City:      alertCity,
			Metal:     alertMetal,
			Tier:      alertTier,
			Condition: alertCondition,
			Target:    decimal.NewFromFloat(alertTarget),
			Rearm:     alertRearm,
		}
		return getApp().CreateAlert(cmd.Context(), opts)
	},
}

var alertsCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().CancelAlert(cmd.Context(), args[0])
	},
}

var alertsRearmCmd = &cobra.Command{
	Use:   "rearm <id>",
	Short: "Return a triggered alert to active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RearmAlert(cmd.Context(), args[0])
	},
}

func init() {
	alertsCreateCmd.Flags().StringVar(&alertOwner, "owner", "", "Owner of the alert")
	alertsCreateCmd.Flags().StringVar(&alertCity, "city", "", "City to watch")
	alertsCreateCmd.Flags().StringVar(&alertMetal, "metal", "gold", "Metal to watch (gold or silver)")
	alertsCreateCmd.Flags().StringVar(&alertTier, "tier", "", "Purity tier to watch (defaults to 24k)")
	alertsCreateCmd.Flags().StringVar(&alertCondition, "condition", "below", "Alert condition (below or above)")
	alertsCreateCmd.Flags().Float64Var(&alertTarget, "target", 0, "Target rate in INR per gram")
	alertsCreateCmd.Flags().StringVar(&alertRearm, "rearm", "none", "Rearm policy (none or auto)")

	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsCreateCmd)
	alertsCmd.AddCommand(alertsCancelCmd)
	alertsCmd.AddCommand(alertsRearmCmd)
}
