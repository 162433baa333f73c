package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"celofx/config"
	"celofx/pkg/types"
)

var filterSymbol string

var tokensCmd = &cobra.Command{
	Use:     "list-tokens",
	Aliases: []string{"tokens", "ls"},
	Short:   "List the stable tokens configured for the network",
	Long: `List the stable tokens configured for the selected network. Addresses come
from the built-in network presets and any tokens.<SYMBOL> overrides.

Examples:
  celofx tokens
  celofx tokens --symbol real`,
	Run: runListTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)

	tokensCmd.Flags().StringVar(&filterSymbol, "symbol", "", "Filter by token symbol")
}

func runListTokens(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	cfg := config.Get()

	tokens, err := cfg.TokenList()
	if err != nil {
		exitWith(cmd, err)
	}

	if filterSymbol != "" {
		var temp []types.Token
		for _, token := range tokens {
			if strings.Contains(token.Symbol, strings.ToUpper(filterSymbol)) {
				temp = append(temp, token)
			}
		}
		tokens = temp
	}

	if jsonOutput {
		printJSON(tokens)
		return
	}
	displayTokens(cfg, tokens)
}

func displayTokens(cfg *config.Config, tokens []types.Token) {
	if len(tokens) == 0 {
		fmt.Println("\nNo tokens found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                       SUPPORTED TOKENS")
	fmt.Println(strings.Repeat("=", 70))

	color.Cyan("\n%s (chain %d)", strings.ToUpper(cfg.Network.Name), cfg.Network.ChainID)
	fmt.Println(strings.Repeat("-", 70))
	for _, token := range tokens {
		fmt.Printf("  %-10s  %2d decimals  %s\n",
			color.YellowString(token.Symbol),
			token.Decimals,
			color.HiBlackString("%s", token.Address.Hex()))
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	fmt.Printf("\nTotal: %d tokens\n\n", len(tokens))
}
