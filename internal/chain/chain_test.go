package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAsset(t *testing.T) {
	tests := []struct {
		in    string
		want  Asset
		valid bool
	}{
		{"USDT", AssetUSDT, true},
		{"usdt", AssetUSDT, true},
		{" Trx ", AssetTRX, true},
		{"BTC", Asset("btc"), false},
		{"", Asset(""), false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseAsset(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.valid, got.Valid())
		})
	}
}
