package quote

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"celofx/pkg/types"
)

// ProtocolName is the domain string of the v1 commitment.
const ProtocolName = "CELOFX_RATE_V1"

// ProtocolVersion is keccak256(ProtocolName), the first word of every v1 commitment.
var ProtocolVersion = crypto.Keccak256Hash([]byte(ProtocolName))

// commitmentArgs mirrors abi.encode(bytes32, uint256, address, address, address, uint256, uint256):
// seven static 32-byte words, no offsets or length prefixes.
var commitmentArgs = mustArguments("bytes32", "uint256", "address", "address", "address", "uint256", "uint256")

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func mustArguments(kinds ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(kinds))
	for _, kind := range kinds {
		typ, err := abi.NewType(kind, "", nil)
		if err != nil {
			panic(fmt.Sprintf("quote: abi type %s: %v", kind, err))
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}

// CommitmentHash builds the canonical digest a quote authority signs.
func CommitmentHash(version common.Hash, chainID *big.Int, verifier, from, to common.Address, rate *big.Int, timestamp uint64) (common.Hash, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return common.Hash{}, errors.New("quote: chain id must be positive")
	}
	if rate == nil || rate.Sign() <= 0 {
		return common.Hash{}, errors.New("quote: rate must be positive")
	}
	if rate.Cmp(maxUint256) > 0 || chainID.Cmp(maxUint256) > 0 {
		return common.Hash{}, errors.New("quote: value exceeds uint256")
	}

	encoded, err := commitmentArgs.Pack(
		[32]byte(version),
		chainID,
		verifier,
		from,
		to,
		rate,
		new(big.Int).SetUint64(timestamp),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("quote: encode commitment: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// Domain binds commitments to one protocol version, chain and verifying contract.
type Domain struct {
	Version  common.Hash
	ChainID  *big.Int
	Verifier common.Address
}

// NewDomain returns a v1 domain for the given chain and verifier.
func NewDomain(chainID *big.Int, verifier common.Address) Domain {
	d := Domain{Version: ProtocolVersion, Verifier: verifier}
	if chainID != nil {
		d.ChainID = new(big.Int).Set(chainID)
	}
	return d
}

// Hash computes the commitment hash for q under d. The signature is ignored.
func (d Domain) Hash(q *types.Quote) (common.Hash, error) {
	if q == nil {
		return common.Hash{}, errors.New("quote: nil quote")
	}
	return CommitmentHash(d.Version, d.ChainID, d.Verifier, q.FromToken, q.ToToken, q.Rate, q.Timestamp)
}
