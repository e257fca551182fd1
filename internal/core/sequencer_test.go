package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"VaultLedger/internal/core"
	"VaultLedger/internal/event"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestSequencer_SubmitAndView(t *testing.T) {
	defer goleak.VerifyNone(t)

	c, _, _ := newTestCore(t)
	seq := core.NewSequencer(c, 16, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = seq.Run(ctx)
	}()

	cs := newCommands()
	fund := cs.fund(alice, 100*usdc)
	out, err := seq.Submit(ctx, fund)
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Equal(t, int64(0), out.Envelope.Sequence)

	// duplicate
	out, err = seq.Submit(ctx, fund)
	require.NoError(t, err)
	require.Nil(t, out)

	require.NoError(t, seq.Enqueue(ctx, cs.deposit(alice, 100*usdc)))

	var shares int64
	require.NoError(t, seq.View(ctx, func(c *core.DeterministicCore) {
		shares = c.Vault().BalanceOf(alice)
	}))
	require.Equal(t, int64(100*usdc), shares)

	cancel()
	wg.Wait()

	_, err = seq.Submit(context.Background(), cs.fund(bob, 1))
	require.ErrorIs(t, err, core.ErrSequencerStopped)
}

func TestReplay_ReproducesLoggedHashes(t *testing.T) {
	live, persistChan, _ := newTestCore(t)
	cs := newCommands()
	seeded(t, live, cs)

	// a rejected command leaves a hole in the holder stream
	_, err := live.Apply(cs.withdraw(bob, 10_000*usdc))
	require.Error(t, err)
	apply(t, live, cs.withdraw(bob, 100*usdc))

	logged := drainOutputs(persistChan)

	replayed, replayPersist, _ := newTestCore(t)
	for _, o := range logged {
		evt := reparse(t, o.Envelope)
		require.NoError(t, replayed.Replay(evt, o.Envelope.Sequence, o.Envelope.StateHash))
	}

	require.Empty(t, drainOutputs(replayPersist))
	require.Equal(t, live.GetStateHash(), replayed.GetStateHash())
	require.Equal(t, live.GetSequence(), replayed.GetSequence())
}

func TestReplay_RejectedFutureCommandDoesNotMoveClock(t *testing.T) {
	live, persistChan, _ := newTestCore(t)
	cs := newCommands()
	seeded(t, live, cs)
	apply(t, live, cs.airdrop(10*100_000_000))
	before := live.Now()

	// stamped an hour ahead, and rejected
	late := cs.withdraw(bob, 10_000*usdc)
	late.TimestampUs = cs.ts.Add(time.Hour).UnixMicro()
	_, err := live.Apply(late)
	require.Error(t, err)
	require.True(t, live.Now().Equal(before))

	harvest := cs.harvest(stratA)
	apply(t, live, harvest)
	require.True(t, live.Now().Equal(time.UnixMicro(harvest.TimestampUs)))

	replayed, _, _ := newTestCore(t)
	for _, o := range drainOutputs(persistChan) {
		evt := reparse(t, o.Envelope)
		require.NoError(t, replayed.Replay(evt, o.Envelope.Sequence, o.Envelope.StateHash))
	}
	require.Equal(t, live.GetStateHash(), replayed.GetStateHash())
}

func TestReplay_DetectsDivergence(t *testing.T) {
	live, _, _ := newTestCore(t)
	cs := newCommands()
	outs := apply(t, live, cs.fund(alice, usdc))

	replayed, _, _ := newTestCore(t)
	var wrong [32]byte
	err := replayed.Replay(reparse(t, outs[0].Envelope), 0, wrong)
	require.True(t, errors.Is(err, core.ErrStateHashMismatch))
}

// reparse rebuilds a command from its logged envelope.
func reparse(t *testing.T, env *event.EventEnvelope) event.Event {
	t.Helper()
	var evt event.Event
	switch env.EventType {
	case event.EventTypeFundWallet:
		evt = &event.FundWallet{}
	case event.EventTypeDeposit:
		evt = &event.Deposit{}
	case event.EventTypeWithdraw:
		evt = &event.Withdraw{}
	case event.EventTypeAddStrategy:
		evt = &event.AddStrategy{}
	case event.EventTypeHarvest:
		evt = &event.Harvest{}
	case event.EventTypeRewardAirdrop:
		evt = &event.RewardAirdrop{}
	default:
		t.Fatalf("no decoder for %s", env.EventType)
	}
	require.NoError(t, json.Unmarshal(env.Payload, evt))
	return evt
}
