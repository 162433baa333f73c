package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"celofx/pkg/types"
)

// Config holds the application configuration
type Config struct {
	Network     NetworkConfig
	Verifier    string
	Authority   string
	Signer      SignerConfig
	WalletKey   string
	Pair        PairConfig
	Tokens      map[string]string
	SlippageBps uint64
	Rate        RateConfig
	Store       StoreConfig
	JournalPath string
	Log         LogConfig
	Server      ServerConfig
}

// NetworkConfig selects the chain
type NetworkConfig struct {
	Name        string
	ChainID     int64
	RPCURL      string
	ExplorerURL string
}

// SignerConfig holds the quote authority key, raw or in a keystore file
type SignerConfig struct {
	Key        string
	Keystore   string
	Passphrase string
}

// PairConfig is the default token pair
type PairConfig struct {
	From string
	To   string
}

// RateConfig configures the FX rate provider
type RateConfig struct {
	Provider          string
	URL               string
	Base              string
	Quote             string
	Static            float64
	Timeout           time.Duration
	RequestsPerSecond float64
}

// StoreConfig selects the consumption store
type StoreConfig struct {
	Backend string
	Path    string
}

// LogConfig configures zap
type LogConfig struct {
	Level       string
	Development bool
}

// ServerConfig configures `celofx serve` and its local ledger
type ServerConfig struct {
	Listen   string
	FeeBps   uint64
	Reserves map[string]string
	Balances map[string]string
}

var globalConfig *Config

// Load reads configuration from environment variables and the optional
// .celofx.yaml in $HOME or the working directory
func Load() (*Config, error) {
	return load("")
}

// LoadFile reads configuration from an explicit file plus the environment
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName(".celofx")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME")
		viper.AddConfigPath(".")
	}

	// Set default values
	viper.SetDefault("network.chain_id", AlfajoresChainID)
	viper.SetDefault("pair.from", "CUSD")
	viper.SetDefault("pair.to", "CREAL")
	viper.SetDefault("slippage_bps", 50)
	viper.SetDefault("rate.provider", "exchangerate")
	viper.SetDefault("rate.url", "https://api.exchangerate.host")
	viper.SetDefault("rate.base", "USD")
	viper.SetDefault("rate.quote", "BRL")
	viper.SetDefault("rate.timeout", 10*time.Second)
	viper.SetDefault("store.backend", "file")
	viper.SetDefault("log.level", "warn")
	viper.SetDefault("server.listen", "127.0.0.1:8545")

	// Read from environment variables, CELOFX_NETWORK_RPC_URL and so on
	viper.SetEnvPrefix("CELOFX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		Network: NetworkConfig{
			ChainID:     viper.GetInt64("network.chain_id"),
			RPCURL:      viper.GetString("network.rpc_url"),
			ExplorerURL: viper.GetString("network.explorer_url"),
		},
		Verifier:  viper.GetString("verifier"),
		Authority: viper.GetString("authority"),
		Signer: SignerConfig{
			Key:        viper.GetString("signer.key"),
			Keystore:   viper.GetString("signer.keystore"),
			Passphrase: viper.GetString("signer.passphrase"),
		},
		WalletKey: viper.GetString("wallet.key"),
		Pair: PairConfig{
			From: strings.ToUpper(viper.GetString("pair.from")),
			To:   strings.ToUpper(viper.GetString("pair.to")),
		},
		Tokens:      make(map[string]string),
		SlippageBps: viper.GetUint64("slippage_bps"),
		Rate: RateConfig{
			Provider:          viper.GetString("rate.provider"),
			URL:               viper.GetString("rate.url"),
			Base:              strings.ToUpper(viper.GetString("rate.base")),
			Quote:             strings.ToUpper(viper.GetString("rate.quote")),
			Static:            viper.GetFloat64("rate.static"),
			Timeout:           viper.GetDuration("rate.timeout"),
			RequestsPerSecond: viper.GetFloat64("rate.requests_per_second"),
		},
		Store: StoreConfig{
			Backend: viper.GetString("store.backend"),
			Path:    viper.GetString("store.path"),
		},
		JournalPath: viper.GetString("journal.path"),
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
		Server: ServerConfig{
			Listen:   viper.GetString("server.listen"),
			FeeBps:   viper.GetUint64("server.fee_bps"),
			Reserves: upperKeys(viper.GetStringMapString("server.reserves")),
			Balances: upperKeys(viper.GetStringMapString("server.balances")),
		},
	}

	if preset, ok := Networks[cfg.Network.ChainID]; ok {
		cfg.Network.Name = preset.Name
		if cfg.Network.RPCURL == "" {
			cfg.Network.RPCURL = preset.RPCURL
		}
		if cfg.Network.ExplorerURL == "" {
			cfg.Network.ExplorerURL = preset.ExplorerURL
		}
		for symbol, addr := range preset.Tokens {
			cfg.Tokens[symbol] = addr
		}
	}
	for symbol, addr := range upperKeys(viper.GetStringMapString("tokens")) {
		cfg.Tokens[symbol] = addr
	}

	globalConfig = cfg
	return cfg, nil
}

func upperKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToUpper(k)] = v
	}
	return out
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}

// Set updates the global configuration
func Set(cfg *Config) {
	globalConfig = cfg
}

// ChainID returns the configured chain id
func (c *Config) ChainID() *big.Int {
	return big.NewInt(c.Network.ChainID)
}

// VerifierAddress returns the verifier contract address
func (c *Config) VerifierAddress() (common.Address, error) {
	return parseAddress("verifier", c.Verifier)
}

// AuthorityAddress returns the designated quote signer
func (c *Config) AuthorityAddress() (common.Address, error) {
	return parseAddress("authority", c.Authority)
}

// TokenAddress resolves a token symbol for the configured network
func (c *Config) TokenAddress(symbol string) (common.Address, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	addr, ok := c.Tokens[symbol]
	if !ok {
		return common.Address{}, fmt.Errorf("token %s is not configured for chain %d", symbol, c.Network.ChainID)
	}
	return parseAddress("tokens."+symbol, addr)
}

// TokenSymbol finds the configured symbol for addr
func (c *Config) TokenSymbol(addr common.Address) (string, bool) {
	for symbol, a := range c.Tokens {
		if common.IsHexAddress(a) && common.HexToAddress(a) == addr {
			return symbol, true
		}
	}
	return "", false
}

// TokenList returns every configured token sorted by symbol
func (c *Config) TokenList() ([]types.Token, error) {
	tokens := make([]types.Token, 0, len(c.Tokens))
	for symbol := range c.Tokens {
		addr, err := c.TokenAddress(symbol)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, types.Token{Symbol: symbol, Address: addr, Decimals: 18})
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Symbol < tokens[j].Symbol })
	return tokens, nil
}

// TxURL links a transaction on the network explorer
func (c *Config) TxURL(hash string) string {
	if c.Network.ExplorerURL == "" {
		return ""
	}
	return strings.TrimRight(c.Network.ExplorerURL, "/") + "/tx/" + hash
}

func parseAddress(key, value string) (common.Address, error) {
	if value == "" {
		return common.Address{}, fmt.Errorf("%s is not configured. Set CELOFX_%s or add it to .celofx.yaml", key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s is not a valid address: %q", key, value)
	}
	return common.HexToAddress(value), nil
}
