package persistence_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/persistence"
	"VaultLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func envelope(seq int64) *event.EventEnvelope {
	depositor := uuid.MustParse("10000000-0000-0000-0000-000000000001")
	env := &event.EventEnvelope{
		Sequence:       seq,
		IdempotencyKey: uuid.NewString(),
		EventType:      event.EventTypeDeposit,
		Stream:         event.StreamHolder,
		Timestamp:      time.Date(2022, 6, 1, 0, 0, int(seq), 0, time.UTC),
		SourceSequence: seq,
		Payload:        []byte(`{"depositor":"` + depositor.String() + `","amount":100}`),
		Result:         map[string]int64{"shares": 100},
	}
	env.StateHash[0] = byte(seq + 1)
	return env
}

func TestPersistenceWorker_WritesAndReplays(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	in := make(chan persistence.CoreOutput, 8)
	worker := persistence.NewPersistenceWorker(db, in, 2, 20*time.Millisecond,
		observability.NewMetricsWith(prometheus.NewRegistry()), zerolog.Nop())

	envs := make([]*event.EventEnvelope, 3)
	for i := range envs {
		envs[i] = envelope(int64(i))
		out, err := persistence.NewCoreOutput(envs[i], nil)
		require.NoError(t, err)
		in <- out
	}
	close(in)
	require.NoError(t, worker.Run(ctx))

	sm := persistence.NewSnapshotManager(db)
	latest, err := sm.GetLatestSequence(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), latest)

	rows, err := sm.LoadEventsFrom(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, int64(1), rows[0].Sequence)
	require.Equal(t, "Deposit", rows[0].EventType)
	require.JSONEq(t, string(envs[1].Payload), string(rows[0].Payload))

	hash, err := sm.GetStateHashAt(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, envs[2].StateHash[:], hash)
	_, err = sm.GetStateHashAt(ctx, 99)
	require.ErrorIs(t, err, sql.ErrNoRows)

	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate("Deposit", envs[0].IdempotencyKey)
	require.NoError(t, err)
	require.True(t, dup)
	dup, err = checker.IsDuplicate("Deposit", uuid.NewString())
	require.NoError(t, err)
	require.False(t, dup)
}

func TestSnapshotManager_SaveLoadPrune(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	sm := persistence.NewSnapshotManager(db)

	none, err := sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.Nil(t, none, "cold start")

	usdc, _ := ledger.GetAssetID("USDC")
	want := ledger.HolderWallet(uuid.MustParse("10000000-0000-0000-0000-000000000001"), usdc)
	for seq := int64(10); seq <= 30; seq += 10 {
		_, err := sm.SaveSnapshot(ctx, &persistence.SnapshotData{
			Sequence:      seq,
			StateHash:     make([]byte, 32),
			Balances:      map[string]int64{want.AccountPath(): seq},
			SequenceState: map[string]int64{"holder": seq},
			CreatedAt:     time.Now().UTC(),
		})
		require.NoError(t, err)
		require.NoError(t, sm.MarkVerified(ctx, seq))
	}

	got, err := sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(30), got.Sequence)
	require.Equal(t, int64(30), got.Balances[want.AccountPath()])

	pruned, err := sm.PruneSnapshots(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), pruned)
}

func TestMigrator_Status(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	m := persistence.NewMigrator(db, testutil.MigrationsDir(t), zerolog.Nop())
	applied, pending, err := m.Status(context.Background())
	require.NoError(t, err)
	require.Empty(t, pending)
	require.Len(t, applied, 2)
}
