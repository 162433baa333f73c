package cmd

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"celofx/config"
	"celofx/pkg/journal"
	"celofx/pkg/ledger"
	"celofx/pkg/logger"
	"celofx/pkg/metrics"
	"celofx/pkg/quote"
	"celofx/pkg/rate"
	"celofx/pkg/store"
)

func domainFor(cfg *config.Config) (quote.Domain, error) {
	verifier, err := cfg.VerifierAddress()
	if err != nil {
		return quote.Domain{}, err
	}
	return quote.NewDomain(cfg.ChainID(), verifier), nil
}

// newSigner loads the quote authority key. With skipPrompt unset every
// signature is confirmed on the terminal first.
func newSigner(cfg *config.Config, skipPrompt bool) (*quote.KeySigner, error) {
	var approver quote.Approver
	if !skipPrompt {
		approver = quote.NewPromptApprover(os.Stdin, os.Stderr)
	}
	switch {
	case cfg.Signer.Keystore != "":
		return quote.NewKeystoreSigner(cfg.Signer.Keystore, cfg.Signer.Passphrase, approver)
	case cfg.Signer.Key != "":
		return quote.NewKeySignerFromHex(cfg.Signer.Key, approver)
	default:
		return nil, fmt.Errorf("no quote signer configured. Set CELOFX_SIGNER_KEY or signer.keystore in .celofx.yaml")
	}
}

func newIssuer(cfg *config.Config, skipPrompt bool, rec metrics.Recorder) (*quote.Issuer, error) {
	domain, err := domainFor(cfg)
	if err != nil {
		return nil, err
	}
	signer, err := newSigner(cfg, skipPrompt)
	if err != nil {
		return nil, err
	}
	return quote.NewIssuer(domain, signer,
		quote.WithIssuerLogger(logger.Named("issuer")),
		quote.WithIssuerMetrics(rec)), nil
}

// newValidator checks quotes against the configured authority. When no
// authority is configured the signer key stands in for it.
func newValidator(cfg *config.Config, consumed store.ConsumptionStore, rec metrics.Recorder) (*quote.Validator, error) {
	domain, err := domainFor(cfg)
	if err != nil {
		return nil, err
	}
	authority, err := authorityFor(cfg)
	if err != nil {
		return nil, err
	}
	return quote.NewValidator(domain, authority, consumed,
		quote.WithLogger(logger.Named("validator")),
		quote.WithMetrics(rec)), nil
}

func authorityFor(cfg *config.Config) (common.Address, error) {
	if cfg.Authority != "" || (cfg.Signer.Key == "" && cfg.Signer.Keystore == "") {
		return cfg.AuthorityAddress()
	}
	signer, err := newSigner(cfg, true)
	if err != nil {
		return common.Address{}, err
	}
	return signer.Address(), nil
}

func openStore(cfg *config.Config) (store.ConsumptionStore, error) {
	consumed, err := store.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open consumption store: %w", err)
	}
	return consumed, nil
}

func openJournal(cfg *config.Config) (*journal.Journal, error) {
	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return j, nil
}

func newRateProvider(cfg *config.Config) (rate.Provider, error) {
	return rate.Build(rate.Config{
		Provider:          cfg.Rate.Provider,
		URL:               cfg.Rate.URL,
		Timeout:           cfg.Rate.Timeout,
		Static:            cfg.Rate.Static,
		RequestsPerSecond: cfg.Rate.RequestsPerSecond,
	})
}

func dialLedger(cfg *config.Config) (*ledger.EVMClient, error) {
	verifier, err := cfg.VerifierAddress()
	if err != nil {
		return nil, err
	}
	return ledger.DialEVM(cfg.Network.RPCURL, cfg.WalletKey, ledger.EVMConfig{
		ChainID:  cfg.ChainID(),
		Verifier: verifier,
	}, logger.Named("ledger"))
}

func resolvePair(cfg *config.Config, from, to string) (common.Address, common.Address, error) {
	fromAddr, err := cfg.TokenAddress(from)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	toAddr, err := cfg.TokenAddress(to)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return fromAddr, toAddr, nil
}

func symbolOf(cfg *config.Config, addr common.Address) string {
	if symbol, ok := cfg.TokenSymbol(addr); ok {
		return symbol
	}
	return addr.Hex()
}
