package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"celofx/config"
	"celofx/pkg/fixedpoint"
	"celofx/pkg/ledger"
	"celofx/pkg/logger"
	"celofx/pkg/metrics"
	"celofx/pkg/server"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the quote verification service over a local ledger",
	Long: `Run an HTTP service that verifies quotes and settles swaps against an
in-process ledger. Pool reserves come from server.reserves.<SYMBOL> and every
new executor is credited server.balances.<SYMBOL> once.

The service is for demos and testing. Swap requests are not authenticated,
so any caller can spend any executor's local balance. Output is always paid
to the named executor.

Routes:
  GET  /healthz
  POST /v1/quotes/verify
  GET  /v1/quotes/{hash}
  POST /v1/swaps
  GET  /metrics

Examples:
  celofx serve
  celofx serve --listen 0.0.0.0:8080`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default from server.listen)")
}

// tokenAmounts resolves a symbol to amount map into token addresses.
func tokenAmounts(cfg *config.Config, in map[string]string) (map[common.Address]*big.Int, error) {
	out := make(map[common.Address]*big.Int, len(in))
	for symbol, raw := range in {
		token, err := cfg.TokenAddress(symbol)
		if err != nil {
			return nil, err
		}
		amount, err := fixedpoint.ToAmountFixed(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", symbol, err)
		}
		if amount.Sign() < 0 {
			return nil, fmt.Errorf("%s: amount must not be negative", symbol)
		}
		out[token] = amount
	}
	return out, nil
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := config.Get()
	ctx := cmd.Context()

	listen := serveListen
	if listen == "" {
		listen = cfg.Server.Listen
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheus(reg)

	consumed, err := openStore(cfg)
	if err != nil {
		exitWith(cmd, err)
	}
	defer consumed.Close()

	validator, err := newValidator(cfg, consumed, recorder)
	if err != nil {
		exitWith(cmd, err)
	}
	local, err := ledger.NewLocal(validator,
		ledger.WithFeeBps(cfg.Server.FeeBps),
		ledger.WithLedgerLogger(logger.Named("ledger")))
	if err != nil {
		exitWith(cmd, err)
	}

	reserves, err := tokenAmounts(cfg, cfg.Server.Reserves)
	if err != nil {
		exitWith(cmd, err)
	}
	for token, amount := range reserves {
		local.Mint(token, local.Verifier(), amount)
	}
	faucet, err := tokenAmounts(cfg, cfg.Server.Balances)
	if err != nil {
		exitWith(cmd, err)
	}

	srv, err := server.New(server.Config{
		Ledger:      local,
		SlippageBps: cfg.SlippageBps,
		Faucet:      faucet,
		Gatherer:    reg,
		Metrics:     recorder,
		Logger:      logger.Named("server"),
	})
	if err != nil {
		exitWith(cmd, err)
	}

	httpServer := &http.Server{
		Addr:              listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                  CELOFX VERIFICATION SERVICE")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("\n  Listening:   %s\n", color.CyanString("http://%s", listen))
	fmt.Printf("  Chain:       %s (%d)\n", cfg.Network.Name, cfg.Network.ChainID)
	fmt.Printf("  Verifier:    %s\n", local.Verifier().Hex())
	fmt.Printf("  Authority:   %s\n", validator.Authority().Hex())
	fmt.Printf("  Store:       %s\n", cfg.Store.Backend)
	color.Yellow("\n• Press Ctrl+C to stop gracefully\n")
	fmt.Println(strings.Repeat("=", 70) + "\n")

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			exitWith(cmd, err)
		}
		return
	case <-ctx.Done():
	}

	color.Yellow("\nReceived shutdown signal. Stopping server gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	color.Green("\n✓ Server stopped.\n")
}
