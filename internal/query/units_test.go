package query_test

import (
	"testing"

	"VaultLedger/internal/ledger"
	"VaultLedger/internal/query"

	"github.com/stretchr/testify/require"
)

func TestUnits(t *testing.T) {
	usdc, _ := ledger.GetAssetID("USDC")
	qi, _ := ledger.GetAssetID("QI")

	tests := []struct {
		amount int64
		asset  ledger.AssetID
		want   string
	}{
		{1_000_000, usdc, "1"},
		{1_234_567, usdc, "1.234567"},
		{-5, usdc, "-0.000005"},
		{150_000_000, qi, "1.5"},
		{0, usdc, "0"},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, query.Units(tc.amount, tc.asset).String())
	}
}
