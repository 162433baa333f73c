package config

// Network is a known Celo deployment
type Network struct {
	Name        string
	ChainID     int64
	RPCURL      string
	ExplorerURL string
	Tokens      map[string]string
}

const (
	AlfajoresChainID int64 = 44787
	CeloChainID      int64 = 42220
)

// Networks holds the built-in presets keyed by chain id
var Networks = map[int64]Network{
	AlfajoresChainID: {
		Name:        "alfajores",
		ChainID:     AlfajoresChainID,
		RPCURL:      "https://alfajores-forno.celo-testnet.org",
		ExplorerURL: "https://alfajores.celoscan.io",
		Tokens: map[string]string{
			"CUSD":  "0x874069Fa1Eb16D44d622F2e0Ca25eeA172369bC1",
			"CREAL": "0xE4D517785D091D3c54818832dB6094bcc2744545",
			"CEUR":  "0x10c892A6EC43a53E45D0B916B4b7D383B1b78C0F",
		},
	},
	CeloChainID: {
		Name:        "celo",
		ChainID:     CeloChainID,
		RPCURL:      "https://forno.celo.org",
		ExplorerURL: "https://celoscan.io",
		Tokens: map[string]string{
			"CUSD":  "0x765DE816845861e75A25fCA122bb6898B8B1282a",
			"CREAL": "0xe8537a3d056DA446677B9E9d6c5dB704EaAb4787",
			"CEUR":  "0xD8763CBa276a3738E6DE85b4b3bF5FDed6D6cA73",
		},
	},
}
