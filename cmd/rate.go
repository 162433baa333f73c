package cmd

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"celofx/config"
	"celofx/pkg/fixedpoint"
	"celofx/pkg/parser"
	"celofx/pkg/slippage"
)

var (
	rateBase   string
	rateQuote  string
	rateManual string
	rateAmount string
)

var rateCmd = &cobra.Command{
	Use:   "rate",
	Short: "Show the current FX rate",
	Long: `Fetch the FX rate from the configured provider and show it in the 8-decimal
fixed-point form a quote commits to.

Examples:
  celofx rate
  celofx rate --base USD --quote EUR
  celofx rate --amount 250
  celofx rate --manual 5.10 --amount 10`,
	Run: runRate,
}

func init() {
	rootCmd.AddCommand(rateCmd)

	rateCmd.Flags().StringVar(&rateBase, "base", "", "Base currency (default from rate.base)")
	rateCmd.Flags().StringVar(&rateQuote, "quote", "", "Quote currency (default from rate.quote)")
	rateCmd.Flags().StringVar(&rateManual, "manual", "", "Use this rate instead of fetching one")
	rateCmd.Flags().StringVar(&rateAmount, "amount", "", "Estimate the output for this amount")
}

// currentRate returns the manual rate when one is given and fetches from the
// provider otherwise.
func currentRate(ctx context.Context, cfg *config.Config, manual, base, quote string, jsonOutput bool) (*big.Int, error) {
	if manual != "" {
		return fixedpoint.ParseRate(manual)
	}

	provider, err := newRateProvider(cfg)
	if err != nil {
		return nil, err
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = fmt.Sprintf(" Fetching %s/%s from %s...", base, quote, provider.Name())
		s.Start()
	}
	value, err := provider.Rate(ctx, base, quote)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		return nil, err
	}
	return fixedpoint.ToRateFixed(value)
}

func runRate(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	cfg := config.Get()

	base := strings.ToUpper(rateBase)
	if base == "" {
		base = cfg.Rate.Base
	}
	quote := strings.ToUpper(rateQuote)
	if quote == "" {
		quote = cfg.Rate.Quote
	}

	fixed, err := currentRate(cmd.Context(), cfg, rateManual, base, quote, jsonOutput)
	if err != nil {
		exitWith(cmd, err)
	}

	var amountIn, estimate, minOut *big.Int
	if rateAmount != "" {
		amountIn, err = parser.ValidateAmount(rateAmount)
		if err != nil {
			exitWith(cmd, err)
		}
		estimate = fixedpoint.EstimateOut(amountIn, fixed)
		minOut, err = slippage.MinOut(amountIn, fixed, cfg.SlippageBps)
		if err != nil {
			exitWith(cmd, err)
		}
	}

	if jsonOutput {
		output := map[string]interface{}{
			"base":       base,
			"quote":      quote,
			"rate":       fixedpoint.FormatRate(fixed),
			"rate_fixed": fixed.String(),
		}
		if amountIn != nil {
			output["amount_in"] = fixedpoint.FormatAmount(amountIn)
			output["estimated_out"] = fixedpoint.FormatAmount(estimate)
			output["min_out"] = fixedpoint.FormatAmount(minOut)
			output["slippage_bps"] = cfg.SlippageBps
		}
		printJSON(output)
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                       FX RATE")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("\n  Pair:              %s/%s\n", color.YellowString(base), color.YellowString(quote))
	fmt.Printf("  Rate:              %s\n", color.CyanString(fixedpoint.FormatRate(fixed)))
	fmt.Printf("  Fixed (1e8):       %s\n", color.HiBlackString(fixed.String()))
	if amountIn != nil {
		fmt.Printf("  Amount In:         %s %s\n", fixedpoint.FormatAmount(amountIn), base)
		fmt.Printf("  Estimated Out:     ~%s %s\n", fixedpoint.FormatAmountFixed(estimate, 6), quote)
		fmt.Printf("  Minimum Out:       %s %s (%d bps)\n", fixedpoint.FormatAmountFixed(minOut, 6), quote, cfg.SlippageBps)
	}
	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}
