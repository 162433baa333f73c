package quote

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"celofx/pkg/fixedpoint"
	"celofx/pkg/types"
)

// SignRequest is what a signing authority is asked to approve.
type SignRequest struct {
	Hash     common.Hash
	Quote    *types.Quote
	ChainID  *big.Int
	Verifier common.Address
}

// Signer produces EIP-191 personal-message signatures over commitment hashes.
// A rejected or cancelled request returns an error wrapping types.ErrSigningRejected.
type Signer interface {
	Address() common.Address
	SignHash(ctx context.Context, req *SignRequest) ([]byte, error)
}

// Approver gates a signature on an external decision, usually a human.
type Approver interface {
	Approve(ctx context.Context, req *SignRequest) error
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, req *SignRequest) error

// Approve calls f.
func (f ApproverFunc) Approve(ctx context.Context, req *SignRequest) error {
	return f(ctx, req)
}

// KeySigner signs with an in-process secp256k1 key.
type KeySigner struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	approver Approver
}

// NewKeySigner wraps key. A nil approver signs every request.
func NewKeySigner(key *ecdsa.PrivateKey, approver Approver) *KeySigner {
	return &KeySigner{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		approver: approver,
	}
}

// NewKeySignerFromHex parses a hex private key, with or without 0x prefix.
func NewKeySignerFromHex(hexKey string, approver Approver) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signer key: %w", err)
	}
	return NewKeySigner(key, approver), nil
}

// NewKeystoreSigner decrypts an Ethereum v3 keystore file.
func NewKeystoreSigner(path, passphrase string, approver Approver) (*KeySigner, error) {
	if path == "" {
		return nil, errors.New("keystore path is required")
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore: %w", err)
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt keystore: %w", err)
	}
	return NewKeySigner(decrypted.PrivateKey, approver), nil
}

// Address returns the signing address.
func (s *KeySigner) Address() common.Address {
	return s.address
}

// SignHash asks the approver, then signs req.Hash with the personal-message prefix.
func (s *KeySigner) SignHash(ctx context.Context, req *SignRequest) ([]byte, error) {
	if req == nil {
		return nil, errors.New("nil sign request")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrSigningRejected, err)
	}
	if s.approver != nil {
		if err := s.approver.Approve(ctx, req); err != nil {
			if errors.Is(err, types.ErrSigningRejected) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", types.ErrSigningRejected, err)
		}
	}
	return SignPersonal(s.key, req.Hash)
}

// SignPersonal signs keccak256("\x19Ethereum Signed Message:\n32" || hash) and
// returns [R || S || V] with V in {27, 28}.
func SignPersonal(key *ecdsa.PrivateKey, hash common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(hash.Bytes()), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign hash: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverSigner returns the address that produced sig over the prefixed hash.
// Malformed and high-s signatures are rejected with types.ErrBadSignature.
func RecoverSigner(hash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: signature length %d", types.ErrBadSignature, len(sig))
	}
	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}

	r := new(big.Int).SetBytes(normalized[:32])
	s := new(big.Int).SetBytes(normalized[32:64])
	if !crypto.ValidateSignatureValues(normalized[crypto.RecoveryIDOffset], r, s, true) {
		return common.Address{}, fmt.Errorf("%w: invalid signature values", types.ErrBadSignature)
	}

	pub, err := crypto.SigToPub(accounts.TextHash(hash.Bytes()), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", types.ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// PromptApprover asks for a y/N answer on a terminal. Cancelling ctx while
// waiting rejects the request.
type PromptApprover struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPromptApprover reads answers from in and writes prompts to out.
func NewPromptApprover(in io.Reader, out io.Writer) *PromptApprover {
	return &PromptApprover{in: bufio.NewReader(in), out: out}
}

// Approve prints the quote under signature and waits for the answer.
func (p *PromptApprover) Approve(ctx context.Context, req *SignRequest) error {
	q := req.Quote
	fmt.Fprintf(p.out, "\nSign rate %s (%s -> %s) at %d?\n", fixedpoint.FormatRate(q.Rate), q.FromToken.Hex(), q.ToToken.Hex(), q.Timestamp)
	fmt.Fprintf(p.out, "  Commitment: %s\n", req.Hash.Hex())
	fmt.Fprint(p.out, "Approve signature? (y/N): ")

	type answer struct {
		line string
		err  error
	}
	answers := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		answers <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", types.ErrSigningRejected, ctx.Err())
	case a := <-answers:
		if a.err != nil && a.line == "" {
			return fmt.Errorf("%w: %v", types.ErrSigningRejected, a.err)
		}
		response := strings.TrimSpace(strings.ToLower(a.line))
		if response == "y" || response == "yes" {
			return nil
		}
		return fmt.Errorf("%w: declined by operator", types.ErrSigningRejected)
	}
}
