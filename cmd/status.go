package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"celofx/config"
	"celofx/pkg/fixedpoint"
	"celofx/pkg/store"
	"celofx/pkg/types"
)

var (
	watchStatus   bool
	watchInterval int
)

var statusCmd = &cobra.Command{
	Use:   "status <commitment-hash>",
	Short: "Check whether a quote was consumed",
	Long: `Look up the consumption record of a quote by its commitment hash.

Examples:
  celofx status 0x5f1c...e2a9
  celofx status 0x5f1c...e2a9 --watch
  celofx status 0x5f1c...e2a9 --watch --interval 10`,
	Args: cobra.ExactArgs(1),
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Poll until the quote is consumed")
	statusCmd.Flags().IntVar(&watchInterval, "interval", 5, "Polling interval in seconds (when watching)")
}

func parseCommitment(raw string) (common.Hash, error) {
	decoded, err := hexutil.Decode(raw)
	if err != nil || len(decoded) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: invalid commitment hash %q", types.ErrParse, raw)
	}
	return common.BytesToHash(decoded), nil
}

func runStatus(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	cfg := config.Get()
	ctx := cmd.Context()

	key, err := parseCommitment(args[0])
	if err != nil {
		exitWith(cmd, err)
	}

	consumed, err := openStore(cfg)
	if err != nil {
		exitWith(cmd, err)
	}
	defer consumed.Close()

	if watchStatus {
		if jsonOutput {
			fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
			return
		}
		fmt.Printf("\nWatching commitment %s\n", color.CyanString(key.Hex()))
		fmt.Printf("Checking every %d seconds. Press Ctrl+C to stop.\n\n", watchInterval)

		ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
		defer ticker.Stop()
		for {
			rec, err := consumed.Get(ctx, key)
			if err == nil {
				displayRecord(cfg, rec)
				return
			}
			if !errors.Is(err, store.ErrNotFound) {
				color.Red("Error: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}

	rec, err := consumed.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		if jsonOutput {
			printJSON(map[string]interface{}{"commitment": key.Hex(), "consumed": false})
			return
		}
		color.Yellow("\nCommitment %s has not been consumed.\n", key.Hex())
		return
	}
	if err != nil {
		exitWith(cmd, err)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"commitment":  rec.Key.Hex(),
			"consumed":    true,
			"from_token":  rec.FromToken.Hex(),
			"to_token":    rec.ToToken.Hex(),
			"rate":        fixedpoint.FormatRate(rec.Rate),
			"timestamp":   rec.Timestamp,
			"executor":    rec.Executor.Hex(),
			"amount_in":   fixedpoint.FormatAmount(rec.AmountIn),
			"amount_out":  fixedpoint.FormatAmount(rec.AmountOut),
			"reference":   rec.Reference,
			"consumed_at": rec.ConsumedAt,
		})
		return
	}
	displayRecord(cfg, rec)
}

func displayRecord(cfg *config.Config, rec *store.Record) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                        QUOTE CONSUMED")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Commitment:      %s\n", color.CyanString(rec.Key.Hex()))
	fmt.Printf("  Consumed At:     %s\n", rec.ConsumedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("  Pair:            %s -> %s\n", symbolOf(cfg, rec.FromToken), symbolOf(cfg, rec.ToToken))
	fmt.Printf("  Rate:            %s\n", fixedpoint.FormatRate(rec.Rate))
	fmt.Printf("  Executor:        %s\n", rec.Executor.Hex())
	if rec.AmountIn != nil {
		fmt.Printf("  Amount In:       %s\n", fixedpoint.FormatAmount(rec.AmountIn))
	}
	if rec.AmountOut != nil {
		fmt.Printf("  Amount Out:      %s\n", fixedpoint.FormatAmount(rec.AmountOut))
	}
	if rec.Reference != "" {
		fmt.Printf("  Reference:       %s\n", color.HiBlackString("%s", rec.Reference))
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}
