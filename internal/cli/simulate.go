package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"btcgold-correlation/internal/app"
)

var simulateOpts app.SimulateOptions

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the pipeline offline with fixed quotes in a scratch directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := getApp().Simulate(cmd.Context(), simulateOpts)
		for _, report := range res.Reports {
			printReport(cmd.OutOrStdout(), report)
		}
		if res.DataDir != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "artifacts in %s\n", res.DataDir)
		}
		return err
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateOpts.BTCPrice, "btc", 0, "BTC price in the quote currency")
	simulateCmd.Flags().Float64Var(&simulateOpts.BTCMarketCap, "market-cap", 0, "BTC market cap")
	simulateCmd.Flags().Float64Var(&simulateOpts.GoldPrice, "gold", 0, "Gold price per ounce")
	simulateCmd.Flags().Float64Var(&simulateOpts.GoldChange, "gold-change", 0, "Gold daily percent change")
	simulateCmd.Flags().StringVar(&simulateOpts.DataDir, "dir", "", "Directory for simulated files (default: a new temp dir)")
	simulateCmd.Flags().IntVar(&simulateOpts.Runs, "runs", 3, "Number of simulated daily runs")
}
