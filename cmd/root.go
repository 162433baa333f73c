package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"celofx/config"
	"celofx/pkg/logger"
	"celofx/pkg/types"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "celofx",
	Short: "Swap Celo stablecoins at an authority-signed FX rate",
	Long: `celofx swaps Celo stablecoins (cUSD, cREAL, cEUR) at an off-chain FX rate
that a designated authority signs. The verifier contract accepts each signed
quote once, within five minutes of signing, and enforces a slippage floor.

Examples:
  celofx rate
  celofx sign --rate 5.10
  celofx swap 10 cUSD to cREAL
  celofx verify quote.json
  celofx status 0x5f1c...e2a9
  celofx serve`,
	Version: "0.1.0",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		return logger.Init(level, cfg.Log.Development)
	},
	SilenceUsage: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel its context.
func Execute() error {
	defer logger.Sync()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default $HOME/.celofx.yaml)")
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.Load()
}

// exitWith prints err and exits, as JSON when requested.
func exitWith(cmd *cobra.Command, err error) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		printJSON(map[string]interface{}{
			"error": err.Error(),
			"kind":  types.KindOf(err),
		})
	} else {
		printError(err)
	}
	os.Exit(1)
}

func printError(err error) {
	kind := types.KindOf(err)
	switch {
	case kind == types.KindUnknown:
		fmt.Printf("\n%s %v\n\n", color.RedString("Error:"), err)
	case kind.Recoverable():
		fmt.Printf("\n%s %v\n", color.YellowString("%s:", kind), err)
		fmt.Printf("The quote was not consumed and can be retried until it expires.\n\n")
	default:
		fmt.Printf("\n%s %v\n\n", color.RedString("%s:", kind), err)
	}
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", color.GreenString(message))
}

func printJSON(v interface{}) {
	jsonData, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(jsonData))
}
