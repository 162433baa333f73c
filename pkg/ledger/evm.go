package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"celofx/pkg/quote"
	"celofx/pkg/types"
)

// ERC20 approve and balanceOf, plus the verifier's swapWithProof
const ledgerABI = `[
{"constant":false,"inputs":[{"name":"_spender","type":"address"},{"name":"_value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
{"inputs":[{"name":"fromToken","type":"address"},{"name":"toToken","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"minOut","type":"uint256"},{"name":"rate","type":"uint256"},{"name":"ts","type":"uint256"},{"name":"sig","type":"bytes"},{"name":"executor","type":"address"}],"name":"swapWithProof","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

var parsedLedgerABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(ledgerABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// Backend is the subset of ethclient.Client the EVM client needs.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// EVMConfig describes the chain and the verifier contract.
type EVMConfig struct {
	ChainID  *big.Int
	Verifier common.Address
	// GasLimit of 0 means estimate with a 20% buffer.
	GasLimit uint64
	// GasPrice of nil means ask the node.
	GasPrice *big.Int
	// MineTimeout bounds the wait for each receipt.
	MineTimeout time.Duration
}

// EVMClient settles swaps against the deployed verifier contract.
type EVMClient struct {
	cfg        EVMConfig
	backend    Backend
	privateKey *ecdsa.PrivateKey
	from       common.Address
	logger     *zap.Logger
	closer     func()
}

var _ Client = (*EVMClient)(nil)

// DialEVM connects to rpcURL and signs with the hex privateKey.
func DialEVM(rpcURL, privateKey string, cfg EVMConfig, logger *zap.Logger) (*EVMClient, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("RPC URL not configured")
	}
	if privateKey == "" {
		return nil, fmt.Errorf("wallet private key not configured")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	c, err := NewEVMClient(client, key, cfg, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	c.closer = client.Close
	return c, nil
}

// NewEVMClient wraps an existing backend.
func NewEVMClient(backend Backend, key *ecdsa.PrivateKey, cfg EVMConfig, logger *zap.Logger) (*EVMClient, error) {
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id not configured")
	}
	if cfg.Verifier == (common.Address{}) {
		return nil, fmt.Errorf("verifier address not configured")
	}
	if cfg.MineTimeout <= 0 {
		cfg.MineTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EVMClient{
		cfg:        cfg,
		backend:    backend,
		privateKey: key,
		from:       crypto.PubkeyToAddress(key.PublicKey),
		logger:     logger,
	}, nil
}

func (e *EVMClient) Address() common.Address {
	return e.from
}

// Approve sends an ERC20 approve and waits for it to be mined. Every
// failure is an authorization failure.
func (e *EVMClient) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: approval amount must not be negative", types.ErrAuthorizationFailed)
	}

	balance, err := e.BalanceOf(ctx, token, e.from)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrAuthorizationFailed, err)
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: insufficient funds: have %s, need %s", types.ErrAuthorizationFailed, balance, amount)
	}

	data, err := parsedLedgerABI.Pack("approve", spender, amount)
	if err != nil {
		return fmt.Errorf("%w: failed to pack approve data: %w", types.ErrAuthorizationFailed, err)
	}

	receipt, err := e.transact(ctx, token, data)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrAuthorizationFailed, err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: approve transaction %s reverted", types.ErrAuthorizationFailed, receipt.TxHash.Hex())
	}

	e.logger.Info("approval mined",
		zap.String("token", token.Hex()),
		zap.String("spender", spender.Hex()),
		zap.String("tx", receipt.TxHash.Hex()))
	return nil
}

// SwapWithProof simulates the swap, then sends it. A simulated revert is
// classified without spending gas.
func (e *EVMClient) SwapWithProof(ctx context.Context, req *types.SwapRequest) (*types.Settlement, error) {
	if err := checkRequest(req); err != nil {
		return nil, err
	}
	q := req.Quote
	executor := req.Executor
	if executor == (common.Address{}) {
		executor = e.from
	}

	hash, err := quote.NewDomain(e.cfg.ChainID, e.cfg.Verifier).Hash(q)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrBadSignature, err)
	}

	data, err := parsedLedgerABI.Pack("swapWithProof",
		q.FromToken, q.ToToken, req.AmountIn, req.MinOut,
		q.Rate, new(big.Int).SetUint64(q.Timestamp), q.Signature, executor)
	if err != nil {
		return nil, fmt.Errorf("failed to pack swapWithProof data: %w", err)
	}

	before, err := e.BalanceOf(ctx, q.ToToken, executor)
	if err != nil {
		return nil, err
	}

	msg := ethereum.CallMsg{From: e.from, To: &e.cfg.Verifier, Data: data}
	if _, err := e.backend.CallContract(ctx, msg, nil); err != nil {
		return nil, classifyRevert(err)
	}

	receipt, err := e.transact(ctx, e.cfg.Verifier, data)
	if err != nil {
		return nil, classifyRevert(err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		// Replay at the failing block to recover the reason.
		if _, err := e.backend.CallContract(ctx, msg, receipt.BlockNumber); err != nil {
			return nil, classifyRevert(err)
		}
		return nil, fmt.Errorf("swap transaction %s reverted", receipt.TxHash.Hex())
	}

	settlement := &types.Settlement{
		Reference: receipt.TxHash.Hex(),
		QuoteHash: hash,
		AmountIn:  new(big.Int).Set(req.AmountIn),
		MinOut:    new(big.Int).Set(req.MinOut),
		Executor:  executor,
		SettledAt: time.Now().UTC(),
	}
	if after, err := e.BalanceOf(ctx, q.ToToken, executor); err == nil {
		settlement.AmountOut = new(big.Int).Sub(after, before)
	} else {
		e.logger.Warn("failed to read output balance", zap.Error(err))
	}

	e.logger.Info("swap mined",
		zap.String("tx", receipt.TxHash.Hex()),
		zap.String("commitment", hash.Hex()),
		zap.Uint64("gas_used", receipt.GasUsed))
	return settlement, nil
}

// BalanceOf reads an ERC20 balance.
func (e *EVMClient) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	data, err := parsedLedgerABI.Pack("balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf data: %w", err)
	}

	result, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}
	return new(big.Int).SetBytes(result), nil
}

func (e *EVMClient) transact(ctx context.Context, to common.Address, data []byte) (*ethtypes.Receipt, error) {
	nonce, err := e.backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := e.getGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	gasLimit := e.cfg.GasLimit
	if gasLimit == 0 {
		estimated, err := e.backend.EstimateGas(ctx, ethereum.CallMsg{From: e.from, To: &to, Data: data})
		if err != nil {
			return nil, fmt.Errorf("failed to estimate gas: %w", err)
		}
		gasLimit = estimated * 120 / 100
	}

	tx := ethtypes.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(e.cfg.ChainID), e.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := e.backend.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	e.logger.Debug("transaction sent", zap.String("tx", signedTx.Hash().Hex()), zap.Uint64("nonce", nonce))

	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.MineTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, e.backend, signedTx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for transaction %s: %w", signedTx.Hash().Hex(), err)
	}
	return receipt, nil
}

func (e *EVMClient) getGasPrice(ctx context.Context) (*big.Int, error) {
	if e.cfg.GasPrice != nil {
		return new(big.Int).Set(e.cfg.GasPrice), nil
	}
	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	return gasPrice, nil
}

// Close closes the RPC connection when the client dialed it.
func (e *EVMClient) Close() {
	if e.closer != nil {
		e.closer()
	}
}

var revertKinds = []struct {
	reason string
	err    error
}{
	{"bad sig", types.ErrBadSignature},
	{"stale quote", types.ErrStaleQuote},
	{"quote used", types.ErrQuoteAlreadyUsed},
	{"insufficient liquidity", types.ErrInsufficientLiquidity},
	{"slippage", types.ErrActualOutBelowMinOut},
	{"insufficient funds", types.ErrAuthorizationFailed},
	{"insufficient allowance", types.ErrAuthorizationFailed},
	{"exceeds allowance", types.ErrAuthorizationFailed},
	{"exceeds balance", types.ErrAuthorizationFailed},
}

// classifyRevert maps a contract revert reason onto a protocol error. Node
// and transport failures carry no revert reason and are wrapped unchanged.
func classifyRevert(err error) error {
	reason, ok := revertReason(err)
	if ok {
		reason = strings.ToLower(reason)
		for _, k := range revertKinds {
			if strings.Contains(reason, k.reason) {
				return fmt.Errorf("%w: %s", k.err, reason)
			}
		}
	}
	return fmt.Errorf("swap failed: %w", err)
}

const executionReverted = "execution reverted"

// revertReason extracts the reason string of a reverted call, preferring the
// ABI-encoded revert data over the node's message.
func revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if encoded, ok := dataErr.ErrorData().(string); ok {
			if data, decodeErr := hexutil.Decode(encoded); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason, true
				}
			}
		}
	}
	msg := err.Error()
	idx := strings.Index(msg, executionReverted)
	if idx < 0 {
		return "", false
	}
	return strings.TrimLeft(msg[idx+len(executionReverted):], ": "), true
}
