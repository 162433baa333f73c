package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Setenv("HOME", t.TempDir())
	t.Cleanup(viper.Reset)
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, AlfajoresChainID, cfg.Network.ChainID)
	assert.Equal(t, "alfajores", cfg.Network.Name)
	assert.Equal(t, "https://alfajores-forno.celo-testnet.org", cfg.Network.RPCURL)
	assert.Equal(t, uint64(50), cfg.SlippageBps)
	assert.Equal(t, "USD", cfg.Rate.Base)
	assert.Equal(t, "BRL", cfg.Rate.Quote)
	assert.Equal(t, 10*time.Second, cfg.Rate.Timeout)
	assert.Equal(t, "file", cfg.Store.Backend)

	cusd, err := cfg.TokenAddress("cusd")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x874069Fa1Eb16D44d622F2e0Ca25eeA172369bC1"), cusd)
	assert.Same(t, cfg, Get())
}

func TestLoadEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("CELOFX_NETWORK_CHAIN_ID", "42220")
	t.Setenv("CELOFX_VERIFIER", "0x1111111111111111111111111111111111111111")
	t.Setenv("CELOFX_SLIPPAGE_BPS", "75")
	t.Setenv("CELOFX_RATE_PROVIDER", "static")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "celo", cfg.Network.Name)
	assert.Equal(t, "https://forno.celo.org", cfg.Network.RPCURL)
	assert.Equal(t, "https://celoscan.io/tx/0xabc", cfg.TxURL("0xabc"))
	assert.Equal(t, uint64(75), cfg.SlippageBps)
	assert.Equal(t, "static", cfg.Rate.Provider)

	verifier, err := cfg.VerifierAddress()
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), verifier)

	creal, err := cfg.TokenAddress("CREAL")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xe8537a3d056DA446677B9E9d6c5dB704EaAb4787"), creal)
}

func TestLoadFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "celofx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
network:
  chain_id: 44787
  rpc_url: http://localhost:8545
authority: "0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1"
tokens:
  cUSD: "0x00000000000000000000000000000000000000c1"
  gold: "0x00000000000000000000000000000000000000c2"
store:
  backend: sqlite
  path: /tmp/consumed.db
server:
  reserves:
    creal: "10000"
`), 0600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8545", cfg.Network.RPCURL)
	assert.Equal(t, "https://alfajores.celoscan.io", cfg.Network.ExplorerURL)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "10000", cfg.Server.Reserves["CREAL"])

	authority, err := cfg.AuthorityAddress()
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1"), authority)

	cusd, err := cfg.TokenAddress("CUSD")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000c1"), cusd, "file overrides the preset")

	symbol, ok := cfg.TokenSymbol(common.HexToAddress("0x00000000000000000000000000000000000000c2"))
	require.True(t, ok)
	assert.Equal(t, "GOLD", symbol)

	tokens, err := cfg.TokenList()
	require.NoError(t, err)
	require.Len(t, tokens, 4)
	assert.Equal(t, "CEUR", tokens[0].Symbol)
	assert.Equal(t, 18, tokens[0].Decimals)
}

func TestLoadFileMissing(t *testing.T) {
	isolate(t)
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestAddressErrors(t *testing.T) {
	cfg := &Config{Verifier: "not-an-address", Tokens: map[string]string{"BAD": "0x12"}}

	_, err := cfg.VerifierAddress()
	require.Error(t, err)

	_, err = cfg.AuthorityAddress()
	require.ErrorContains(t, err, "CELOFX_AUTHORITY")

	_, err = cfg.TokenAddress("bad")
	require.Error(t, err)

	_, err = cfg.TokenAddress("CUSD")
	require.Error(t, err)

	assert.Empty(t, cfg.TxURL("0x1"))
}
