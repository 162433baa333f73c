package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"celofx/pkg/types"
)

func TestParseSwapCommand(t *testing.T) {
	tests := []struct {
		input string
		want  types.SwapCommand
	}{
		{"swap 10 cUSD to cREAL", types.SwapCommand{Amount: "10", FromSymbol: "CUSD", ToSymbol: "CREAL"}},
		{"2.5 USD to BRL", types.SwapCommand{Amount: "2.5", FromSymbol: "CUSD", ToSymbol: "CREAL"}},
		{"  SWAP   .5  ceur ->  usd ", types.SwapCommand{Amount: ".5", FromSymbol: "CEUR", ToSymbol: "CUSD"}},
		{"1000000 real to eur", types.SwapCommand{Amount: "1000000", FromSymbol: "CREAL", ToSymbol: "CEUR"}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSwapCommand(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestParseSwapCommandInvalid(t *testing.T) {
	for _, input := range []string{
		"",
		"swap cUSD to cREAL",
		"10 cUSD cREAL",
		"10 cUSD to cUSD",
		"10 USD to cUSD",
		"abc cUSD to cREAL",
		"0 cUSD to cREAL",
		"-1 cUSD to cREAL",
		"1000001 cUSD to cREAL",
	} {
		_, err := ParseSwapCommand(input)
		require.ErrorIs(t, err, types.ErrParse, "input %q", input)
	}
}

func TestValidateAmount(t *testing.T) {
	got, err := ValidateAmount("1.5")
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", got.String())

	got, err = ValidateAmount("1000000")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Cmp(MaxAmount))

	for _, bad := range []string{"", "  ", "NaN", "1e3", "0", "0.000", "1000000.000000000000000001", "1.0000000000000000001"} {
		_, err := ValidateAmount(bad)
		require.ErrorIs(t, err, types.ErrParse, "amount %q", bad)
	}
}

func TestNormalizeTokenSymbol(t *testing.T) {
	assert.Equal(t, "CUSD", NormalizeTokenSymbol(" usd "))
	assert.Equal(t, "CREAL", NormalizeTokenSymbol("brl"))
	assert.Equal(t, "CREAL", NormalizeTokenSymbol("Real"))
	assert.Equal(t, "CEUR", NormalizeTokenSymbol("eur"))
	assert.Equal(t, "CUSD", NormalizeTokenSymbol("cUSD"))
	assert.Equal(t, "CELO", NormalizeTokenSymbol("celo"))
}
