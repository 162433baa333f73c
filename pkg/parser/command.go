package parser

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"celofx/pkg/fixedpoint"
	"celofx/pkg/types"
)

// MaxAmount is the largest amount accepted from a user, in whole tokens.
var MaxAmount = new(big.Int).Mul(big.NewInt(1_000_000), fixedpoint.AmountScale)

var swapPattern = regexp.MustCompile(`^(\S+)\s+([A-Z0-9]+)\s+(?:TO|->)\s+([A-Z0-9]+)$`)

var aliases = map[string]string{
	"USD":  "CUSD",
	"BRL":  "CREAL",
	"REAL": "CREAL",
	"EUR":  "CEUR",
}

// ParseSwapCommand parses a natural language swap command
// Examples:
//   - "swap 10 cUSD to cREAL"
//   - "2.5 USD to BRL"
//   - "100 cEUR -> cUSD"
func ParseSwapCommand(command string) (*types.SwapCommand, error) {
	command = strings.Join(strings.Fields(strings.ToUpper(command)), " ")
	command = strings.TrimPrefix(command, "SWAP ")

	matches := swapPattern.FindStringSubmatch(command)
	if matches == nil {
		return nil, fmt.Errorf("%w: invalid swap command format. Expected: 'swap <amount> <token> to <token>' (e.g., 'swap 10 cUSD to cREAL')", types.ErrParse)
	}

	cmd := &types.SwapCommand{
		Amount:     matches[1],
		FromSymbol: NormalizeTokenSymbol(matches[2]),
		ToSymbol:   NormalizeTokenSymbol(matches[3]),
	}
	if err := ValidateSwapCommand(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// ValidateSwapCommand checks that a command names two different tokens and a
// usable amount.
func ValidateSwapCommand(cmd *types.SwapCommand) error {
	if cmd.FromSymbol == "" {
		return fmt.Errorf("%w: source token is required", types.ErrParse)
	}
	if cmd.ToSymbol == "" {
		return fmt.Errorf("%w: destination token is required", types.ErrParse)
	}
	if cmd.FromSymbol == cmd.ToSymbol {
		return fmt.Errorf("%w: cannot swap %s to itself", types.ErrParse, cmd.FromSymbol)
	}
	_, err := ValidateAmount(cmd.Amount)
	return err
}

// ValidateAmount parses a user amount into 18-decimal fixed point. It must
// be a number greater than 0 and at most MaxAmount.
func ValidateAmount(amount string) (*big.Int, error) {
	if strings.TrimSpace(amount) == "" {
		return nil, fmt.Errorf("%w: amount is required", types.ErrParse)
	}
	fixed, err := fixedpoint.ToAmountFixed(amount)
	if err != nil {
		return nil, err
	}
	if fixed.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than 0", types.ErrParse)
	}
	if fixed.Cmp(MaxAmount) > 0 {
		return nil, fmt.Errorf("%w: amount %s is too large", types.ErrParse, strings.TrimSpace(amount))
	}
	return fixed, nil
}

// NormalizeTokenSymbol normalizes token symbols to the stable token names
func NormalizeTokenSymbol(symbol string) string {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))
	if normalized, exists := aliases[symbol]; exists {
		return normalized
	}
	return symbol
}
