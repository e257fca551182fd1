package projection_test

import (
	"testing"
	"time"

	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/projection"
	"VaultLedger/internal/vault"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	stratA = uuid.MustParse("20000000-0000-0000-0000-00000000000a")
	stratB = uuid.MustParse("20000000-0000-0000-0000-00000000000b")
	t0     = time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
)

func TestHarvestHistory_NewestFirst(t *testing.T) {
	h := projection.NewHarvestHistory()
	for i := int64(1); i <= 5; i++ {
		id := stratA
		if i%2 == 0 {
			id = stratB
		}
		h.Add(projection.HarvestEntry{Sequence: i, StrategyID: id})
	}

	got := h.QueryByStrategy(stratA, 10)
	require.Len(t, got, 3)
	require.Equal(t, []int64{5, 3, 1}, []int64{got[0].Sequence, got[1].Sequence, got[2].Sequence})

	all := h.QueryByStrategy(uuid.Nil, 2)
	require.Len(t, all, 2)
	require.Equal(t, int64(5), all[0].Sequence)
	require.Equal(t, 5, h.Len())
}

func TestNewProjectionOutput_Harvest(t *testing.T) {
	holder := uuid.MustParse("10000000-0000-0000-0000-000000000001")
	usdc, _ := ledger.GetAssetID("USDC")

	env := &event.EventEnvelope{
		Sequence:  42,
		EventType: event.EventTypeHarvest,
		Timestamp: t0,
		Result: vault.ReportResult{
			StrategyID: stratA,
			Gain:       1_000,
			Fees:       vault.FeeBreakdown{Management: 10, Performance: 100},
			FeeShares:  105,
			TotalDebt:  50_000,
		},
	}
	batch := &ledger.Batch{Journals: []ledger.Journal{{
		DebitAccount:  ledger.HolderWallet(holder, usdc),
		CreditAccount: ledger.External(ledger.SubTypeExternalDeposits, usdc),
		AssetID:       usdc,
		Amount:        7,
	}}}
	summary := &vault.Summary{PricePerShare: 1_010_000}

	out := projection.NewProjectionOutput(env, batch, summary)

	require.Equal(t, int64(42), out.Sequence)
	require.Equal(t, "Harvest", out.EventType)
	require.Len(t, out.JournalEntries, 1)
	require.Equal(t, "holder:"+holder.String()+":wallet:USDC", out.JournalEntries[0].DebitAccount)
	require.Equal(t, "external:deposits:USDC", out.JournalEntries[0].CreditAccount)

	require.NotNil(t, out.Harvest)
	require.Equal(t, stratA, out.Harvest.StrategyID)
	require.Equal(t, int64(110), out.Harvest.Fees)
	require.Equal(t, int64(1_010_000), out.Harvest.PricePerShare)
	require.Equal(t, t0, out.Harvest.Timestamp)
}

func TestNewProjectionOutput_NonHarvest(t *testing.T) {
	env := &event.EventEnvelope{Sequence: 1, EventType: event.EventTypeUpdateVault, Timestamp: t0}
	out := projection.NewProjectionOutput(env, nil, nil)
	require.Nil(t, out.Harvest)
	require.Empty(t, out.JournalEntries)
}
