package ir

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/allotment/internal/fault"
)

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input    string
		decimals int
		expected *big.Int
	}{
		{"777777", 18, tokens(777777)},
		{"0.5", 18, new(big.Int).Div(tokens(1), big.NewInt(2))},
		{"1e3", 18, tokens(1000)},
		{"0", 18, big.NewInt(0)},
		{"12.340", 2, big.NewInt(1234)},
		{"42", 0, big.NewInt(42)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input, tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, 0, tt.expected.Cmp(got), "got %s", got)
		})
	}
}

func TestParseAmountRejects(t *testing.T) {
	for _, input := range []string{"", "abc", "-1", "Infinity", "NaN", "0.001"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseAmount(input, 2)
			require.Error(t, err)
			assert.True(t, fault.IsCode(err, fault.CodeInvalidArgument))
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "777777", FormatAmount(tokens(777777), 18))
	assert.Equal(t, "0.5", FormatAmount(new(big.Int).Div(tokens(1), big.NewInt(2)), 18))
	assert.Equal(t, "1000", FormatAmount(tokens(1000), 18))
	assert.Equal(t, "0", FormatAmount(big.NewInt(0), 18))
	assert.Equal(t, "0", FormatAmount(nil, 18))
}

func TestParseBaseUnits(t *testing.T) {
	v, err := ParseBaseUnits("777777000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, 0, tokens(777777).Cmp(v))

	_, err = ParseBaseUnits("-5")
	assert.True(t, fault.IsCode(err, fault.CodeInvalidArgument))
	_, err = ParseBaseUnits("1.5")
	assert.Error(t, err)
}

func TestParseTime(t *testing.T) {
	unix, err := ParseTime("1604534400")
	require.NoError(t, err)
	assert.Equal(t, int64(1604534400), unix)

	rfc, err := ParseTime("2020-11-05T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, int64(1604534400), rfc)

	assert.Equal(t, "2020-11-05T00:00:00Z", FormatTime(1604534400))

	_, err = ParseTime("tomorrow")
	assert.True(t, fault.IsCode(err, fault.CodeInvalidArgument))
}

func TestParseAccount(t *testing.T) {
	a, err := ParseAccount("  éve ")
	require.NoError(t, err)
	assert.Equal(t, Account("éve"), a)

	_, err = ParseAccount("   ")
	assert.True(t, fault.IsCode(err, fault.CodeInvalidArgument))
}

func TestActionValid(t *testing.T) {
	for _, a := range Actions {
		assert.True(t, a.Valid(), a)
	}
	assert.False(t, Action("burn").Valid())
}
