package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"celofx/config"
	"celofx/pkg/fixedpoint"
	"celofx/pkg/metrics"
	"celofx/pkg/quote"
	"celofx/pkg/types"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <quote.json>",
	Short: "Check a signed quote without using it",
	Long: `Recover the signer of a quote, check it against the configured authority and
report whether it is valid, expired, already consumed or rejected. The quote is
not consumed.

Examples:
  celofx verify quote.json
  celofx verify quote.json --json`,
	Args: cobra.ExactArgs(1),
	Run:  runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	cfg := config.Get()

	q, err := readQuoteFile(args[0])
	if err != nil {
		exitWith(cmd, err)
	}

	consumed, err := openStore(cfg)
	if err != nil {
		exitWith(cmd, err)
	}
	defer consumed.Close()

	validator, err := newValidator(cfg, consumed, metrics.Nop{})
	if err != nil {
		exitWith(cmd, err)
	}

	state, hash, stateErr := validator.State(cmd.Context(), q)

	if jsonOutput {
		output := map[string]interface{}{
			"state":      state,
			"commitment": hash.Hex(),
			"authority":  validator.Authority().Hex(),
		}
		if stateErr != nil {
			output["error"] = stateErr.Error()
			output["kind"] = types.KindOf(stateErr)
		}
		printJSON(output)
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                  QUOTE VERIFICATION")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("\n  State:             %s\n", coloredState(state))
	fmt.Printf("  Pair:              %s -> %s\n", symbolOf(cfg, q.FromToken), symbolOf(cfg, q.ToToken))
	fmt.Printf("  Rate:              %s\n", fixedpoint.FormatRate(q.Rate))
	fmt.Printf("  Signed At:         %d\n", q.Timestamp)
	fmt.Printf("  Commitment:        %s\n", color.HiBlackString("%s", hash.Hex()))
	fmt.Printf("  Authority:         %s\n", validator.Authority().Hex())
	if stateErr != nil {
		fmt.Printf("  Reason:            %s\n", color.RedString("%s: %v", types.KindOf(stateErr), stateErr))
	}
	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func coloredState(state quote.State) string {
	label := strings.ToUpper(string(state))
	switch state {
	case quote.StateValid:
		return color.GreenString(label)
	case quote.StateConsumed:
		return color.CyanString(label)
	case quote.StateExpired:
		return color.YellowString(label)
	case quote.StateRejected:
		return color.RedString(label)
	default:
		return label
	}
}
