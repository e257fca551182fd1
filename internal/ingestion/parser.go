package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"VaultLedger/internal/event"
	fpmath "VaultLedger/internal/math"

	"github.com/google/uuid"
)

var ErrMalformedCommand = errors.New("malformed command")

// ParseRawEvent converts a RawEvent into a typed command. The event type is
// the last token of the NATS subject.
func ParseRawEvent(raw RawEvent) (event.Event, error) {
	return ParseCommand(EventTypeFromSubject(raw.Subject), raw.Data)
}

// EventTypeFromSubject returns the last token of a subject such as
// vault.holder.Deposit.
func EventTypeFromSubject(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}
	return subject
}

// ParseCommand decodes a JSON command of the named type and checks the
// fields the core cannot default. Unknown fields are rejected so a typo in
// a producer does not silently drop a parameter.
func ParseCommand(eventType string, data []byte) (event.Event, error) {
	et, ok := event.ParseEventType(eventType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrMalformedCommand, eventType)
	}

	evt := newCommand(et)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(evt); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrMalformedCommand, eventType, err)
	}

	if err := validate(evt); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCommand, eventType, err)
	}
	return evt, nil
}

func newCommand(et event.EventType) event.Event {
	switch et {
	case event.EventTypeFundWallet:
		return &event.FundWallet{}
	case event.EventTypeDeposit:
		return &event.Deposit{}
	case event.EventTypeWithdraw:
		return &event.Withdraw{MaxLossBps: event.DefaultMaxLossBps}
	case event.EventTypeTransferShares:
		return &event.TransferShares{}
	case event.EventTypePayout:
		return &event.Payout{}
	case event.EventTypeHarvest:
		return &event.Harvest{}
	case event.EventTypeTend:
		return &event.Tend{}
	case event.EventTypeAddStrategy:
		return &event.AddStrategy{}
	case event.EventTypeUpdateStrategy:
		return &event.UpdateStrategy{}
	case event.EventTypeRevokeStrategy:
		return &event.RevokeStrategy{}
	case event.EventTypeRemoveStrategy:
		return &event.RemoveStrategy{}
	case event.EventTypeMigrateStrategy:
		return &event.MigrateStrategy{}
	case event.EventTypeStrategyEmergencyExit:
		return &event.StrategyEmergencyExit{}
	case event.EventTypeSetHealthCheck:
		return &event.SetHealthCheck{}
	case event.EventTypeSetEmergencyShutdown:
		return &event.SetEmergencyShutdown{}
	case event.EventTypeUpdateVault:
		return &event.UpdateVault{}
	case event.EventTypeSetFeeRecipient:
		return &event.SetFeeRecipient{}
	case event.EventTypeSweep:
		return &event.Sweep{}
	case event.EventTypeRewardAirdrop:
		return &event.RewardAirdrop{}
	default:
		panic(fmt.Sprintf("ingestion: no decoder for %s", et))
	}
}

func validate(evt event.Event) error {
	if evt.IdempotencyKey() == "" {
		return errors.New("command_id is required")
	}
	if evt.SourceSequence() < 0 {
		return errors.New("sequence must not be negative")
	}
	if evt.OccurredAt().UnixMicro() <= 0 {
		return errors.New("timestamp_us is required")
	}

	switch e := evt.(type) {
	case *event.FundWallet:
		return all(required("holder", e.Holder), positive("amount", e.Amount))
	case *event.Payout:
		return all(required("holder", e.Holder), positive("amount", e.Amount))
	case *event.Deposit:
		return all(required("depositor", e.Depositor), positive("amount", e.Amount))
	case *event.Withdraw:
		return all(required("owner", e.Owner), positive("shares", e.Shares), bps("max_loss_bps", e.MaxLossBps))
	case *event.TransferShares:
		return all(required("from", e.From), required("to", e.To), positive("shares", e.Shares))
	case *event.Harvest:
		return required("strategy_id", e.Strategy)
	case *event.Tend:
		return required("strategy_id", e.Strategy)
	case *event.AddStrategy:
		return all(
			required("strategy_id", e.Strategy),
			bps("debt_ratio", e.DebtRatio),
			bps("performance_fee_bps", e.PerformanceFeeBps),
			nonNegative("min_debt_per_harvest", e.MinDebtPerHarvest),
			nonNegative("max_debt_per_harvest", e.MaxDebtPerHarvest),
			nonNegative("pool.max_single_deposit", e.Pool.MaxSingleDeposit),
			nonNegative("pool.min_deposit_period_s", e.Pool.MinDepositPeriod),
		)
	case *event.UpdateStrategy:
		switch e.Param {
		case event.StrategyParamDebtRatio, event.StrategyParamMinDebtPerHarvest,
			event.StrategyParamMaxDebtPerHarvest, event.StrategyParamPerformanceFee:
		default:
			return fmt.Errorf("unknown param %q", e.Param)
		}
		return all(required("strategy_id", e.Strategy), nonNegative("value", e.Value))
	case *event.RevokeStrategy:
		return required("strategy_id", e.Strategy)
	case *event.RemoveStrategy:
		return required("strategy_id", e.Strategy)
	case *event.MigrateStrategy:
		if e.Strategy == e.NewStrategy {
			return errors.New("new_strategy_id must differ from strategy_id")
		}
		return all(required("strategy_id", e.Strategy), required("new_strategy_id", e.NewStrategy))
	case *event.StrategyEmergencyExit:
		return required("strategy_id", e.Strategy)
	case *event.SetHealthCheck:
		if e.Enabled {
			if err := all(bps("profit_limit_bps", e.ProfitLimitBps), bps("loss_limit_bps", e.LossLimitBps)); err != nil {
				return err
			}
		}
		return required("strategy_id", e.Strategy)
	case *event.UpdateVault:
		switch e.Param {
		case event.VaultParamDepositLimit, event.VaultParamManagementFee,
			event.VaultParamPerformanceFee, event.VaultParamProfitUnlockPeriod:
		default:
			return fmt.Errorf("unknown param %q", e.Param)
		}
		return nonNegative("value", e.Value)
	case *event.SetFeeRecipient:
		return required("recipient", e.Recipient)
	case *event.Sweep:
		if e.Asset == "" {
			return errors.New("asset is required")
		}
		return required("recipient", e.Recipient)
	case *event.RewardAirdrop:
		return positive("amount", e.Amount)
	}
	return nil
}

func all(errs ...error) error {
	return errors.Join(errs...)
}

func required(field string, id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func positive(field string, v int64) error {
	if v <= 0 {
		return fmt.Errorf("%s must be positive, got %d", field, v)
	}
	return nil
}

func nonNegative(field string, v int64) error {
	if v < 0 {
		return fmt.Errorf("%s must not be negative, got %d", field, v)
	}
	return nil
}

func bps(field string, v int64) error {
	if v < 0 || v > fpmath.MaxBps {
		return fmt.Errorf("%s must be within 0..%d, got %d", field, fpmath.MaxBps, v)
	}
	return nil
}
