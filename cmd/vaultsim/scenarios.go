package main

import (
	"fmt"
	"sort"
	"time"

	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/vault"

	"github.com/google/uuid"
)

const usdc = 1_000_000

var (
	alice  = uuid.MustParse("5c0e3f7a-0000-4000-8000-0000000000a1")
	bob    = uuid.MustParse("5c0e3f7a-0000-4000-8000-0000000000b2")
	carol  = uuid.MustParse("5c0e3f7a-0000-4000-8000-0000000000c3")
	stratA = uuid.MustParse("5c0e3f7a-0000-4000-8000-00000000a000")
	stratB = uuid.MustParse("5c0e3f7a-0000-4000-8000-00000000b000")
)

// scenario is a self-checking script: it returns an error when the vault
// leaves the expected envelope.
type scenario struct {
	name  string
	about string
	run   func(s *sim) error
}

var scenarios = map[string]scenario{
	"a": {
		name:  "a",
		about: "deposit, invest everything, withdraw within 1% loss",
		run:   scenarioA,
	},
	"b": {
		name:  "b",
		about: "three depositors, one week of 20% APR rewards, sequential exits",
		run:   scenarioB,
	},
	"c": {
		name:  "c",
		about: "debt ratio 100% -> 50% -> 100% -> 50% -> 0% with harvests",
		run:   scenarioC,
	},
	"migration": {
		name:  "migration",
		about: "migrate an invested strategy and keep debt and assets",
		run:   scenarioMigration,
	},
	"emergency-exit": {
		name:  "emergency-exit",
		about: "exit a strategy, repay the vault, withdraw",
		run:   scenarioEmergencyExit,
	},
}

func scenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func within(name string, got, want, tolerance int64) error {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		return fmt.Errorf("%s: got %d, want %d ± %d", name, got, want, tolerance)
	}
	return nil
}

// slippage is the tolerance for one round trip through the pool.
func slippage(amount int64) int64 { return fpmath.BpsOf(amount, 100) }

func scenarioA(s *sim) error {
	amount := int64(100_000 * usdc)
	if err := s.addStrategy(stratA, fpmath.MaxBps); err != nil {
		return err
	}
	if err := s.fundAndDeposit(alice, amount); err != nil {
		return err
	}

	r, err := s.harvest(stratA)
	if err != nil {
		return err
	}
	if r.Credit != amount || r.Gain != 0 || r.Loss != 0 || r.DebtPayment != 0 {
		return fmt.Errorf("first harvest: %+v", r)
	}
	if err := within("estimated assets", s.estimatedAssets(stratA), amount, slippage(amount)); err != nil {
		return err
	}

	if _, err := s.withdrawAll(alice, 100); err != nil {
		return err
	}
	if paid := s.wallet(alice); paid < fpmath.BpsOf(amount, 9_900) {
		return fmt.Errorf("alice got %d of %d", paid, amount)
	}
	return nil
}

func scenarioB(s *sim) error {
	deposits := []struct {
		holder     uuid.UUID
		amount     int64
		maxLossBps int64
	}{
		{alice, 100_000 * usdc, 100},
		{bob, 10_000 * usdc, 100},
		{carol, 100_000 * usdc, 250},
	}

	if err := s.addStrategy(stratA, fpmath.MaxBps); err != nil {
		return err
	}
	var total int64
	for _, d := range deposits {
		if err := s.fundAndDeposit(d.holder, d.amount); err != nil {
			return err
		}
		total += d.amount
	}
	if _, err := s.harvest(stratA); err != nil {
		return err
	}

	week := 7 * 24 * time.Hour
	s.advance(week)
	if err := s.airdropAPY(total, 2_000, week); err != nil {
		return err
	}
	r, err := s.harvest(stratA)
	if err != nil {
		return err
	}
	if r.Gain <= 0 {
		return fmt.Errorf("rewards harvest reported no gain: %+v", r)
	}
	s.advance(vault.DefaultProfitUnlock)

	for _, d := range deposits {
		w, err := s.withdrawAll(d.holder, d.maxLossBps)
		if err != nil {
			return fmt.Errorf("withdraw %s: %w", d.holder, err)
		}
		if w.Loss > fpmath.BpsOf(w.Value, d.maxLossBps) {
			return fmt.Errorf("withdraw %s: loss %d above %d bps of %d", d.holder, w.Loss, d.maxLossBps, w.Value)
		}
		if floor := fpmath.BpsOf(d.amount, fpmath.MaxBps-d.maxLossBps); s.wallet(d.holder) < floor {
			return fmt.Errorf("withdraw %s: got %d, floor %d", d.holder, s.wallet(d.holder), floor)
		}
	}
	if supply := s.core.Vault().TotalSupply(); supply != s.core.Vault().BalanceOf(treasury) {
		return fmt.Errorf("holder shares left after full exit: %d", supply)
	}
	return nil
}

func scenarioC(s *sim) error {
	amount := int64(100_000 * usdc)
	if err := s.addStrategy(stratA, fpmath.MaxBps); err != nil {
		return err
	}
	if err := s.fundAndDeposit(alice, amount); err != nil {
		return err
	}
	if _, err := s.harvest(stratA); err != nil {
		return err
	}
	if debt := s.core.Vault().TotalDebt(); debt != amount {
		return fmt.Errorf("initial debt %d, want %d", debt, amount)
	}

	for _, step := range []struct {
		ratio    int64
		wantDebt int64
	}{
		{5_000, amount / 2},
		{10_000, amount},
		{5_000, amount / 2},
		{0, 0},
	} {
		s.advance(time.Hour)
		if err := s.setDebtRatio(stratA, step.ratio); err != nil {
			return err
		}
		if _, err := s.harvest(stratA); err != nil {
			return err
		}
		name := fmt.Sprintf("debt at ratio %d", step.ratio)
		if err := within(name, s.core.Vault().TotalDebt(), step.wantDebt, slippage(amount)); err != nil {
			return err
		}
		if err := within("estimated "+name, s.estimatedAssets(stratA), step.wantDebt, slippage(amount)); err != nil {
			return err
		}
	}
	return nil
}

func scenarioMigration(s *sim) error {
	amount := int64(100_000 * usdc)
	if err := s.addStrategy(stratA, fpmath.MaxBps); err != nil {
		return err
	}
	if err := s.fundAndDeposit(alice, amount); err != nil {
		return err
	}
	if _, err := s.harvest(stratA); err != nil {
		return err
	}
	s.advance(24 * time.Hour)
	if err := s.airdropAPY(amount, 1_000, 24*time.Hour); err != nil {
		return err
	}

	v := s.core.Vault()
	debt, assets, pps := v.DebtOf(stratA), v.TotalAssets(), v.PricePerShare()
	if err := s.migrate(stratA, stratB); err != nil {
		return err
	}

	if got := v.DebtOf(stratB); got != debt {
		return fmt.Errorf("migrated debt %d, want %d", got, debt)
	}
	if got := v.TotalAssets(); got != assets {
		return fmt.Errorf("total assets %d after migration, want %d", got, assets)
	}
	if acct, ok := v.Strategy(stratA); !ok || acct.Status() != vault.StatusMigrated {
		return fmt.Errorf("old strategy not marked migrated")
	}

	// rewards moved with the positions
	r, err := s.harvest(stratB)
	if err != nil {
		return err
	}
	if r.Gain <= 0 {
		return fmt.Errorf("new strategy harvest reported no gain: %+v", r)
	}
	if v.PricePerShare() < pps {
		return fmt.Errorf("price per share fell across migration: %d < %d", v.PricePerShare(), pps)
	}
	return nil
}

func scenarioEmergencyExit(s *sim) error {
	amount := int64(100_000 * usdc)
	if err := s.addStrategy(stratA, fpmath.MaxBps); err != nil {
		return err
	}
	if err := s.fundAndDeposit(alice, amount); err != nil {
		return err
	}
	if _, err := s.harvest(stratA); err != nil {
		return err
	}

	if err := s.emergencyExit(stratA); err != nil {
		return err
	}
	r, err := s.harvest(stratA)
	if err != nil {
		return err
	}
	if !r.EmergencyExit {
		return fmt.Errorf("exit harvest not flagged: %+v", r)
	}
	if debt := s.core.Vault().TotalDebt(); debt != 0 {
		return fmt.Errorf("debt %d left after exit", debt)
	}
	if err := within("idle after exit", s.core.Vault().TotalIdle(), amount, slippage(amount)); err != nil {
		return err
	}

	if _, err := s.withdrawAll(alice, 100); err != nil {
		return err
	}
	if paid := s.wallet(alice); paid < fpmath.BpsOf(amount, 9_900) {
		return fmt.Errorf("alice got %d of %d", paid, amount)
	}
	return nil
}
