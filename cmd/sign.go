package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"celofx/config"
	"celofx/pkg/fixedpoint"
	"celofx/pkg/logger"
	"celofx/pkg/metrics"
	"celofx/pkg/parser"
	"celofx/pkg/types"
)

var (
	signFrom string
	signTo   string
	signRate string
	signOut  string
	signYes  bool
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Issue a signed rate quote",
	Long: `Sign the current FX rate with the quote authority key. The quote commits to
the token pair, the 8-decimal rate, the signing time, the chain and the verifier
contract, and can be used once within five minutes.

Examples:
  celofx sign
  celofx sign --rate 5.10 --out quote.json
  celofx sign --from cUSD --to cEUR --yes`,
	Run: runSign,
}

func init() {
	rootCmd.AddCommand(signCmd)

	signCmd.Flags().StringVar(&signFrom, "from", "", "Token being sold (default from pair.from)")
	signCmd.Flags().StringVar(&signTo, "to", "", "Token being bought (default from pair.to)")
	signCmd.Flags().StringVar(&signRate, "rate", "", "Sign this rate instead of fetching one")
	signCmd.Flags().StringVarP(&signOut, "out", "o", "", "Write the quote to a file")
	signCmd.Flags().BoolVarP(&signYes, "yes", "y", false, "Sign without a confirmation prompt")
}

func pairOrDefault(cfg *config.Config, from, to string) (string, string) {
	if from == "" {
		from = cfg.Pair.From
	}
	if to == "" {
		to = cfg.Pair.To
	}
	return parser.NormalizeTokenSymbol(from), parser.NormalizeTokenSymbol(to)
}

func runSign(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	cfg := config.Get()
	ctx := cmd.Context()

	fromSymbol, toSymbol := pairOrDefault(cfg, signFrom, signTo)
	from, to, err := resolvePair(cfg, fromSymbol, toSymbol)
	if err != nil {
		exitWith(cmd, err)
	}

	issuer, err := newIssuer(cfg, signYes, metrics.Nop{})
	if err != nil {
		exitWith(cmd, err)
	}
	j, err := openJournal(cfg)
	if err != nil {
		exitWith(cmd, err)
	}

	fixed, err := currentRate(ctx, cfg, signRate, cfg.Rate.Base, cfg.Rate.Quote, jsonOutput)
	if err != nil {
		exitWith(cmd, err)
	}

	q, signErr := issuer.Issue(ctx, from, to, fixed)
	var commitment common.Hash
	if signErr == nil {
		hash, err := issuer.Domain().Hash(q)
		if err != nil {
			exitWith(cmd, err)
		}
		commitment = hash
	} else {
		q = &types.Quote{FromToken: from, ToToken: to, Rate: fixed}
	}
	if _, err := j.RecordQuote(q, commitment, signErr); err != nil {
		logger.Warn("failed to journal quote", zap.Error(err))
	}
	if signErr != nil {
		exitWith(cmd, signErr)
	}

	if signOut != "" {
		data, err := json.MarshalIndent(q, "", "  ")
		if err != nil {
			exitWith(cmd, err)
		}
		if err := os.WriteFile(signOut, data, 0600); err != nil {
			exitWith(cmd, fmt.Errorf("failed to write quote: %w", err))
		}
	}

	if jsonOutput {
		printJSON(q)
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     SIGNED QUOTE")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("\n  Pair:              %s -> %s\n", color.YellowString(fromSymbol), color.YellowString(toSymbol))
	fmt.Printf("  Rate:              %s\n", color.CyanString(fixedpoint.FormatRate(q.Rate)))
	fmt.Printf("  Signed At:         %d\n", q.Timestamp)
	fmt.Printf("  Commitment:        %s\n", color.HiBlackString("%s", commitment.Hex()))
	fmt.Printf("  Signature:         %s\n", color.HiBlackString("0x%x", q.Signature))
	if signOut != "" {
		fmt.Printf("  Saved To:          %s\n", signOut)
	}
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("\nThe quote is valid for 5 minutes. Swap with:")
	color.Cyan("  celofx swap <amount> %s to %s --last\n", fromSymbol, toSymbol)
}
