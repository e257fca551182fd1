package main

import (
	"fmt"
	"math"
	"time"

	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/projection"
	"VaultLedger/internal/recorder"
	"VaultLedger/internal/strategy"
	"VaultLedger/internal/vault"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	genesis    = time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	treasury   = uuid.MustParse("5c0e3f7a-0000-4000-8000-00000000fee5")
	strategist = uuid.MustParse("5c0e3f7a-0000-4000-8000-000000000057")
)

// sim drives one in-memory core through a scenario and records each step.
type sim struct {
	run      string
	core     *core.DeterministicCore
	persist  chan core.CoreOutput
	rec      recorder.Recorder
	harvests *projection.HarvestHistory
	logger   zerolog.Logger

	next map[event.Stream]int64
	n    int
	now  time.Time
	log  []recorder.Step
}

func newSim(run string, rec recorder.Recorder, logger zerolog.Logger) (*sim, error) {
	venue := strategy.DefaultVenueConfig()
	persist := make(chan core.CoreOutput, 1)
	c, err := core.NewDeterministicCore(core.Config{
		Genesis: genesis,
		Vault: vault.Config{
			ID:                uuid.NewSHA1(uuid.NameSpaceURL, []byte("vaultsim/"+run)),
			Want:              venue.Want,
			DepositLimit:      math.MaxInt64,
			ManagementFeeBps:  200,
			PerformanceFeeBps: 1_000,
			FeeRecipient:      treasury,
		},
		Venue:               venue,
		IdempotencyCapacity: 4096,
	}, persist, make(chan core.CoreOutput, 1), nil, nil)
	if err != nil {
		return nil, err
	}
	return &sim{
		run:      run,
		core:     c,
		persist:  persist,
		rec:      rec,
		harvests: projection.NewHarvestHistory(),
		logger:   logger,
		next:     make(map[event.Stream]int64),
		now:      genesis,
	}, nil
}

func (s *sim) meta(stream event.Stream) event.Meta {
	s.n++
	s.now = s.now.Add(time.Minute)
	seq := s.next[stream]
	s.next[stream] = seq + 1
	return event.Meta{
		CommandID:   fmt.Sprintf("%s-%d", s.run, s.n),
		Sequence:    seq,
		TimestampUs: s.now.UnixMicro(),
	}
}

func (s *sim) advance(d time.Duration) { s.now = s.now.Add(d) }

// apply runs one command and records the vault after it. A rejection is
// recorded and returned.
func (s *sim) apply(evt event.Event) (*core.CoreOutput, error) {
	out, err := s.core.Apply(evt)
	select {
	case <-s.persist:
	default:
	}

	v := s.core.Vault()
	step := recorder.Step{
		Run:           s.run,
		Index:         len(s.log),
		Command:       evt.EventType().String(),
		Sequence:      s.core.GetSequence() - 1,
		At:            s.core.Now(),
		TotalAssets:   v.TotalAssets(),
		TotalSupply:   v.TotalSupply(),
		TotalIdle:     v.TotalIdle(),
		TotalDebt:     v.TotalDebt(),
		LockedProfit:  v.LockedProfit(),
		PricePerShare: v.PricePerShare(),
	}
	if err != nil {
		step.Rejected = err.Error()
	}
	s.log = append(s.log, step)
	if recErr := s.rec.RecordStep(&step); recErr != nil {
		return out, fmt.Errorf("record step: %w", recErr)
	}
	if err != nil {
		s.logger.Debug().Err(err).Str("command", step.Command).Msg("rejected")
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("%s %s was dropped", evt.EventType(), evt.IdempotencyKey())
	}

	if r, ok := out.Envelope.Result.(vault.ReportResult); ok {
		s.harvests.Add(projection.NewHarvestEntry(out.Envelope.Sequence, out.Envelope.Timestamp, r, v.PricePerShare()))
		if err := s.rec.RecordHarvest(&recorder.Harvest{
			Run:         s.run,
			Sequence:    out.Envelope.Sequence,
			Strategy:    r.StrategyID.String(),
			Gain:        r.Gain,
			Loss:        r.Loss,
			DebtPayment: r.DebtPayment,
			Credit:      r.Credit,
			Fees:        r.Fees.Total(),
			FeeShares:   r.FeeShares,
			At:          out.Envelope.Timestamp,
		}); err != nil {
			return out, fmt.Errorf("record harvest: %w", err)
		}
	}
	return out, nil
}

// --- Commands ---

func (s *sim) fundAndDeposit(holder uuid.UUID, amount int64) error {
	if _, err := s.apply(&event.FundWallet{Meta: s.meta(event.StreamHolder), Holder: holder, Amount: amount}); err != nil {
		return err
	}
	_, err := s.apply(&event.Deposit{Meta: s.meta(event.StreamHolder), Depositor: holder, Amount: amount})
	return err
}

// withdrawAll redeems every share the holder owns.
func (s *sim) withdrawAll(holder uuid.UUID, maxLossBps int64) (vault.WithdrawResult, error) {
	out, err := s.apply(&event.Withdraw{
		Meta:       s.meta(event.StreamHolder),
		Owner:      holder,
		Shares:     s.core.Vault().BalanceOf(holder),
		MaxLossBps: maxLossBps,
	})
	if err != nil {
		return vault.WithdrawResult{}, err
	}
	w, ok := out.Envelope.Result.(vault.WithdrawResult)
	if !ok {
		return vault.WithdrawResult{}, fmt.Errorf("withdraw returned %T", out.Envelope.Result)
	}
	return w, nil
}

func (s *sim) addStrategy(id uuid.UUID, ratio int64) error {
	_, err := s.apply(&event.AddStrategy{
		Meta:              s.meta(event.StreamGovernance),
		Strategy:          id,
		Strategist:        strategist,
		DebtRatio:         ratio,
		MaxDebtPerHarvest: math.MaxInt64,
	})
	return err
}

func (s *sim) setDebtRatio(id uuid.UUID, ratio int64) error {
	_, err := s.apply(&event.UpdateStrategy{
		Meta:     s.meta(event.StreamGovernance),
		Strategy: id,
		Param:    event.StrategyParamDebtRatio,
		Value:    ratio,
	})
	return err
}

func (s *sim) harvest(id uuid.UUID) (vault.ReportResult, error) {
	out, err := s.apply(&event.Harvest{Meta: s.meta(event.StreamKeeper), Strategy: id})
	if err != nil {
		return vault.ReportResult{}, err
	}
	r, _ := out.Envelope.Result.(vault.ReportResult)
	return r, nil
}

// airdropAPY pays stakers the rewards a principal earns at aprBps over
// elapsed.
func (s *sim) airdropAPY(principal, aprBps int64, elapsed time.Duration) error {
	rewards, err := s.core.Venue().RewardsForAPY(principal, aprBps, int64(elapsed/time.Second))
	if err != nil {
		return err
	}
	_, err = s.apply(&event.RewardAirdrop{Meta: s.meta(event.StreamVenue), Amount: rewards})
	return err
}

func (s *sim) migrate(from, to uuid.UUID) error {
	_, err := s.apply(&event.MigrateStrategy{Meta: s.meta(event.StreamGovernance), Strategy: from, NewStrategy: to})
	return err
}

func (s *sim) emergencyExit(id uuid.UUID) error {
	_, err := s.apply(&event.StrategyEmergencyExit{Meta: s.meta(event.StreamGovernance), Strategy: id})
	return err
}

func (s *sim) wallet(holder uuid.UUID) int64 {
	return s.core.Book().Balance(ledger.HolderWallet(holder, s.core.Vault().Want()))
}

func (s *sim) estimatedAssets(id uuid.UUID) int64 {
	ad, ok := s.core.Vault().Adapter(id)
	if !ok {
		return 0
	}
	return ad.EstimatedTotalAssets()
}
