package cmd

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"celofx/config"
	"celofx/pkg/fixedpoint"
	"celofx/pkg/journal"
)

var historyKind string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show signed quotes and swap attempts",
	Long: `Display the local journal of quotes signed with 'celofx sign' and swaps
attempted with 'celofx swap', oldest first.

Examples:
  celofx history
  celofx history --kind swap
  celofx history --json`,
	Run: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyKind, "kind", "", "Filter by entry kind (quote, swap)")
}

func runHistory(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	cfg := config.Get()

	kind := journal.EntryKind(strings.ToLower(historyKind))
	if kind != "" && kind != journal.KindQuote && kind != journal.KindSwap {
		exitWith(cmd, fmt.Errorf("unknown entry kind %q. Use quote or swap", historyKind))
	}

	j, err := openJournal(cfg)
	if err != nil {
		exitWith(cmd, err)
	}
	entries := j.List(kind)

	if jsonOutput {
		printJSON(entries)
		return
	}

	if len(entries) == 0 {
		color.Yellow("\nNo history found in %s.\n", j.Path())
		fmt.Println("\nSign a quote with:")
		color.Cyan("  celofx sign\n")
		return
	}

	settled := 0
	for _, e := range entries {
		if e.Status == journal.StatusSettled {
			settled++
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 110))
	color.Green("                                         HISTORY")
	fmt.Println(strings.Repeat("=", 110))
	fmt.Printf("\n  Entries:   %s\n", color.CyanString("%d", len(entries)))
	fmt.Printf("  Settled:   %s\n\n", color.GreenString("%d", settled))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tKIND\tPAIR\tRATE\tAMOUNT IN\tAMOUNT OUT\tSTATUS\tCOMMITMENT")
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for _, e := range entries {
		pair, rate := "", ""
		if e.Quote != nil {
			pair = fmt.Sprintf("%s -> %s", symbolOf(cfg, e.Quote.FromToken), symbolOf(cfg, e.Quote.ToToken))
			rate = fixedpoint.FormatRate(e.Quote.Rate)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Created.Local().Format("2006-01-02 15:04"),
			e.Kind,
			pair,
			rate,
			formatStored(e.Amount),
			formatStored(e.AmountOut),
			entryStatus(e),
			truncateString(e.Commitment, 14))
	}

	w.Flush()
	fmt.Println("\n" + strings.Repeat("=", 110) + "\n")
}

// formatStored renders a journaled 18-decimal integer.
func formatStored(raw string) string {
	if raw == "" {
		return ""
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return raw
	}
	return fixedpoint.FormatAmountFixed(v, 4)
}

func entryStatus(e *journal.Entry) string {
	status := strings.ToUpper(string(e.Status))
	switch e.Status {
	case journal.StatusSigned, journal.StatusSettled:
		return color.GreenString(status)
	case journal.StatusRejected, journal.StatusFailed:
		if e.ErrorKind != "" {
			return color.RedString("%s (%s)", status, e.ErrorKind)
		}
		return color.RedString(status)
	default:
		return status
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
