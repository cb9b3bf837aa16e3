package amount

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr error
	}{
		{in: "10", want: "10"},
		{in: "0.000001", want: "0.000001"},
		{in: "12.500000", want: "12.5"},
		{in: "", wantErr: ErrEmpty},
		{in: "abc", wantErr: ErrFormat},
		{in: "0", wantErr: ErrNegative},
		{in: "-3", wantErr: ErrNegative},
		{in: "1.0000001", wantErr: ErrPrecision},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), got.String())
		})
	}
}

func TestSunConversions(t *testing.T) {
	d := decimal.RequireFromString("12.345678")

	assert.Equal(t, big.NewInt(12_345_678), ToSun(d))
	assert.Equal(t, int64(12_345_678), ToSunInt64(d))
	assert.True(t, FromSun(big.NewInt(12_345_678)).Equal(d))
	assert.True(t, FromSunInt64(12_345_678).Equal(d))
	assert.True(t, FromSun(nil).IsZero())

	assert.Equal(t, int64(1), ToSunInt64(decimal.RequireFromString("0.0000019")))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "10.500000", Format(decimal.RequireFromString("10.5")))
}
