package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"celofx/config"
	"celofx/pkg/fixedpoint"
	"celofx/pkg/journal"
	"celofx/pkg/logger"
	"celofx/pkg/metrics"
	"celofx/pkg/parser"
	"celofx/pkg/swap"
	"celofx/pkg/types"
)

var (
	swapQuoteFile   string
	swapUseLast     bool
	swapRate        string
	swapSlippageBps uint64
	noConfirm       bool
)

var swapCmd = &cobra.Command{
	Use:   "swap <amount> <source-token> to <dest-token>",
	Short: "Swap stablecoins at a signed rate",
	Long: `Approve the input token and swap it through the verifier contract at a signed
rate. The contract rejects quotes older than five minutes, quotes that were
already used and outputs below the slippage floor.

The quote is taken from --quote, from the last quote signed with 'celofx sign'
(--last), or signed now with the configured authority key.

Examples:
  celofx swap 10 cUSD to cREAL
  celofx swap 10 USD to BRL --rate 5.10
  celofx swap 250 cUSD to cREAL --quote quote.json --slippage-bps 30
  celofx swap 10 cUSD to cREAL --last --yes`,
	Args: cobra.MinimumNArgs(1),
	Run:  runSwap,
}

func init() {
	rootCmd.AddCommand(swapCmd)

	swapCmd.Flags().StringVar(&swapQuoteFile, "quote", "", "Read a signed quote from this file")
	swapCmd.Flags().BoolVar(&swapUseLast, "last", false, "Use the last quote signed with 'celofx sign'")
	swapCmd.Flags().StringVar(&swapRate, "rate", "", "Sign this rate instead of fetching one")
	swapCmd.Flags().Uint64Var(&swapSlippageBps, "slippage-bps", 0, "Maximum slippage in basis points (default from slippage_bps)")
	swapCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompts")
}

func readQuoteFile(path string) (*types.Quote, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read quote: %w", err)
	}
	var q types.Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func runSwap(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	cfg := config.Get()
	ctx := cmd.Context()

	// Parse the command
	swapCommand, err := parser.ParseSwapCommand(strings.Join(args, " "))
	if err != nil {
		exitWith(cmd, err)
	}
	amountIn, err := parser.ValidateAmount(swapCommand.Amount)
	if err != nil {
		exitWith(cmd, err)
	}
	from, to, err := resolvePair(cfg, swapCommand.FromSymbol, swapCommand.ToSymbol)
	if err != nil {
		exitWith(cmd, err)
	}

	bps := cfg.SlippageBps
	if cmd.Flags().Changed("slippage-bps") {
		bps = swapSlippageBps
	}

	j, err := openJournal(cfg)
	if err != nil {
		exitWith(cmd, err)
	}
	client, err := dialLedger(cfg)
	if err != nil {
		exitWith(cmd, err)
	}
	defer client.Close()

	orchestrator := swap.NewOrchestrator(client, mustVerifier(cmd, cfg),
		swap.WithSlippageBps(bps),
		swap.WithLogger(logger.Named("swap")))

	var session *swap.Session
	switch {
	case swapQuoteFile != "" || swapUseLast:
		session = swap.NewSession(nil, orchestrator)
		q, err := loadQuote(j)
		if err != nil {
			exitWith(cmd, err)
		}
		if err := session.Load(q); err != nil {
			exitWith(cmd, err)
		}
	default:
		issuer, err := newIssuer(cfg, noConfirm, metrics.Nop{})
		if err != nil {
			exitWith(cmd, err)
		}
		session = swap.NewSession(issuer, orchestrator)
		fixed, err := currentRate(ctx, cfg, swapRate, cfg.Rate.Base, cfg.Rate.Quote, jsonOutput)
		if err != nil {
			exitWith(cmd, err)
		}
		q, signErr := session.Sign(ctx, from, to, fixed)
		if q != nil {
			if hash, err := issuer.Domain().Hash(q); err == nil {
				if _, err := j.RecordQuote(q, hash, nil); err != nil {
					logger.Warn("failed to journal quote", zap.Error(err))
				}
			}
		}
		if signErr != nil {
			exitWith(cmd, signErr)
		}
	}

	q := session.Quote()
	if q.FromToken != from || q.ToToken != to {
		exitWith(cmd, fmt.Errorf("%w: quote is for %s -> %s, not %s -> %s", types.ErrParse,
			symbolOf(cfg, q.FromToken), symbolOf(cfg, q.ToToken), swapCommand.FromSymbol, swapCommand.ToSymbol))
	}
	minOut, err := orchestrator.MinOut(amountIn, q)
	if err != nil {
		exitWith(cmd, err)
	}

	if !jsonOutput {
		displaySwapQuote(swapCommand, amountIn, minOut, q, bps)
		if !noConfirm && !confirmSwap() {
			fmt.Println("\nSwap cancelled.")
			os.Exit(0)
		}
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Approving and swapping..."
		s.Start()
	}
	settlement, swapErr := session.Swap(ctx, amountIn)
	if !jsonOutput {
		s.Stop()
	}

	if _, err := j.RecordSwap(amountIn, q, settlement, swapErr); err != nil {
		logger.Warn("failed to journal swap", zap.Error(err))
	}
	if swapErr != nil {
		exitWith(cmd, swapErr)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"tx_hash":    settlement.Reference,
			"commitment": settlement.QuoteHash.Hex(),
			"amount_in":  fixedpoint.FormatAmount(settlement.AmountIn),
			"min_out":    fixedpoint.FormatAmount(settlement.MinOut),
			"amount_out": fixedpoint.FormatAmount(settlement.AmountOut),
			"executor":   settlement.Executor.Hex(),
			"status":     "settled",
		})
		return
	}
	displaySettlement(cfg, swapCommand, settlement)
}

func mustVerifier(cmd *cobra.Command, cfg *config.Config) common.Address {
	verifier, err := cfg.VerifierAddress()
	if err != nil {
		exitWith(cmd, err)
	}
	return verifier
}

func loadQuote(j *journal.Journal) (*types.Quote, error) {
	if swapQuoteFile != "" {
		return readQuoteFile(swapQuoteFile)
	}
	q, err := j.LatestQuote()
	if err != nil {
		return nil, fmt.Errorf("no signed quote in the journal. Run 'celofx sign' first: %w", err)
	}
	return q, nil
}

func displaySwapQuote(swapCommand *types.SwapCommand, amountIn, minOut *big.Int, q *types.Quote, bps uint64) {
	age := time.Since(time.Unix(int64(q.Timestamp), 0)).Truncate(time.Second)

	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     SWAP QUOTE")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  From:              %s %s\n", fixedpoint.FormatAmount(amountIn), color.YellowString(swapCommand.FromSymbol))
	fmt.Printf("  To:                ~%s %s\n", fixedpoint.FormatAmountFixed(fixedpoint.EstimateOut(amountIn, q.Rate), 6), color.YellowString(swapCommand.ToSymbol))
	fmt.Printf("  Minimum Out:       %s %s (%d bps)\n", fixedpoint.FormatAmountFixed(minOut, 6), swapCommand.ToSymbol, bps)
	fmt.Printf("  Rate:              %s\n", color.CyanString(fixedpoint.FormatRate(q.Rate)))
	fmt.Printf("  Quote Age:         %s (expires after 5m)\n", age)

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func displaySettlement(cfg *config.Config, swapCommand *types.SwapCommand, settlement *types.Settlement) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     SWAP SETTLED")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Transaction:       %s\n", color.CyanString(settlement.Reference))
	fmt.Printf("  Commitment:        %s\n", color.HiBlackString("%s", settlement.QuoteHash.Hex()))
	fmt.Printf("  Sold:              %s %s\n", fixedpoint.FormatAmount(settlement.AmountIn), swapCommand.FromSymbol)
	if settlement.AmountOut != nil {
		fmt.Printf("  Received:          %s %s\n", color.GreenString(fixedpoint.FormatAmountFixed(settlement.AmountOut, 6)), swapCommand.ToSymbol)
	}
	fmt.Printf("  Minimum Out:       %s %s\n", fixedpoint.FormatAmountFixed(settlement.MinOut, 6), swapCommand.ToSymbol)
	if url := cfg.TxURL(settlement.Reference); url != "" {
		fmt.Printf("  Explorer:          %s\n", url)
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
	printSuccess("Swap complete.")
}

func confirmSwap() bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("\nProceed with swap? (y/N): ")

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
