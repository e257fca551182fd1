package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"VaultLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a projection has no row for the request.
var ErrNotFound = errors.New("not found")

// QueryService provides read-only access to projection tables. Every
// response carries as_of_sequence, the last command the projections saw.
type QueryService struct {
	db    *sql.DB
	want  ledger.AssetID
	share ledger.AssetID
}

func NewQueryService(db *sql.DB, want, share ledger.AssetID) *QueryService {
	return &QueryService{db: db, want: want, share: share}
}

// Units converts a smallest-unit amount of asset into whole units.
func Units(amount int64, asset ledger.AssetID) decimal.Decimal {
	decimals := 0
	if a, ok := ledger.GetAsset(asset); ok {
		decimals = a.Decimals
	}
	return decimal.New(amount, -int32(decimals))
}

func (qs *QueryService) units(amount int64) decimal.Decimal {
	return Units(amount, qs.want)
}

// GetVault returns the projected vault.
func (qs *QueryService) GetVault(ctx context.Context) (*VaultResponse, error) {
	var (
		r                                                   VaultResponse
		assets, supply, idle, debt, locked, pps, depositLim int64
	)
	err := qs.db.QueryRowContext(ctx, `
		SELECT vault_id, total_assets, total_supply, total_idle, total_debt, debt_ratio,
		       locked_profit, price_per_share, deposit_limit, management_fee_bps,
		       performance_fee_bps, fee_recipient, emergency_shutdown, last_report, last_sequence
		FROM projections.vault_state
		LIMIT 1
	`).Scan(
		&r.VaultID, &assets, &supply, &idle, &debt, &r.DebtRatioBps,
		&locked, &pps, &depositLim, &r.ManagementFeeBps,
		&r.PerformanceFeeBps, &r.FeeRecipient, &r.EmergencyShutdown, &r.LastReport, &r.AsOfSequence,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vault: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	r.Asset = qs.want.String()
	r.TotalAssets = qs.units(assets)
	r.TotalSupply = Units(supply, qs.share)
	r.TotalIdle = qs.units(idle)
	r.TotalDebt = qs.units(debt)
	r.LockedProfit = qs.units(locked)
	r.PricePerShare = qs.units(pps)
	r.DepositLimit = qs.units(depositLim)
	r.RawPricePerShare = pps
	return &r, nil
}

// ListStrategies returns every strategy the vault has known, queued ones
// first in queue order.
func (qs *QueryService) ListStrategies(ctx context.Context) ([]StrategyResponse, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT strategy_id, status, queue_position, debt_ratio, min_debt_per_harvest,
		       max_debt_per_harvest, performance_fee_bps, strategist, total_debt,
		       total_gain, total_loss, activation, last_report, migrated_to, last_sequence
		FROM projections.strategies
		ORDER BY queue_position ASC NULLS LAST, activation ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StrategyResponse
	for rows.Next() {
		var (
			s                                  StrategyResponse
			queuePos                           sql.NullInt64
			migrated                           uuid.NullUUID
			minDebt, maxDebt, debt, gain, loss int64
		)
		if err := rows.Scan(
			&s.StrategyID, &s.Status, &queuePos, &s.DebtRatioBps, &minDebt,
			&maxDebt, &s.PerformanceFeeBps, &s.Strategist, &debt,
			&gain, &loss, &s.Activation, &s.LastReport, &migrated, &s.AsOfSequence,
		); err != nil {
			return nil, err
		}
		if queuePos.Valid {
			p := int(queuePos.Int64)
			s.QueuePosition = &p
		}
		if migrated.Valid {
			s.MigratedTo = &migrated.UUID
		}
		s.MinDebtPerHarvest = qs.units(minDebt)
		s.MaxDebtPerHarvest = qs.units(maxDebt)
		s.TotalDebt = qs.units(debt)
		s.TotalGain = qs.units(gain)
		s.TotalLoss = qs.units(loss)
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetShares returns a holder's shares, their value at the projected price
// per share and the holder's loose want.
func (qs *QueryService) GetShares(ctx context.Context, holder uuid.UUID) (*SharesResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	shares, err := qs.getProjectedBalance(ctx, ledger.HolderWallet(holder, qs.share))
	if err != nil {
		return nil, err
	}
	wallet, err := qs.getProjectedBalance(ctx, ledger.HolderWallet(holder, qs.want))
	if err != nil {
		return nil, err
	}

	var pps int64
	err = qs.db.QueryRowContext(ctx, `SELECT price_per_share FROM projections.vault_state LIMIT 1`).Scan(&pps)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	sharesDec := Units(shares, qs.share)
	return &SharesResponse{
		Holder:       holder,
		Shares:       sharesDec,
		Value:        sharesDec.Mul(qs.units(pps)).Truncate(int32(qs.decimals())),
		Wallet:       qs.units(wallet),
		RawShares:    shares,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetHarvestHistory returns harvests newest first. strategyID nil means all
// strategies; beforeSequence pages backwards.
func (qs *QueryService) GetHarvestHistory(
	ctx context.Context,
	strategyID *uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]HarvestResponse, error) {
	query := `
		SELECT sequence, strategy_id, gain, loss, debt_payment, credit, fees, fee_shares,
		       debt_outstanding, total_debt, emergency_exit, price_per_share, timestamp
		FROM projections.harvest_history
		WHERE TRUE
	`
	args := []any{}
	argIdx := 1

	if strategyID != nil {
		query += fmt.Sprintf(" AND strategy_id = $%d", argIdx)
		args = append(args, *strategyID)
		argIdx++
	}

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []HarvestResponse
	for rows.Next() {
		var (
			h                                                            HarvestResponse
			gain, loss, payment, credit, fees, feeShares, outstanding, debt, pps int64
		)
		if err := rows.Scan(
			&h.Sequence, &h.StrategyID, &gain, &loss, &payment, &credit, &fees, &feeShares,
			&outstanding, &debt, &h.EmergencyExit, &pps, &h.Timestamp,
		); err != nil {
			return nil, err
		}
		h.Gain = qs.units(gain)
		h.Loss = qs.units(loss)
		h.DebtPayment = qs.units(payment)
		h.Credit = qs.units(credit)
		h.Fees = qs.units(fees)
		h.FeeShares = Units(feeShares, qs.share)
		h.DebtOutstanding = qs.units(outstanding)
		h.TotalDebt = qs.units(debt)
		h.PricePerShare = qs.units(pps)
		history = append(history, h)
	}

	return history, rows.Err()
}

// GetJournalHistory returns journal entries touching accounts whose path
// starts with accountPrefix (for example "holder:<id>:"), newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	accountPrefix string,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	pattern := accountPrefix + "%"

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []any{pattern}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var (
			e       JournalHistoryEntry
			assetID uint16
			amount  int64
			tsMicro int64
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &assetID, &amount,
			&e.JournalType, &tsMicro,
		); err != nil {
			return nil, err
		}
		asset := ledger.AssetID(assetID)
		e.Asset = asset.String()
		e.Amount = Units(amount, asset)
		e.Timestamp = time.UnixMicro(tsMicro).UTC()
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log and that
// projected balances sum to zero per asset.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) AS total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var (
			assetID uint16
			total   int64
		)
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			Asset:     ledger.AssetID(assetID).String(),
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) decimals() int {
	if a, ok := ledger.GetAsset(qs.want); ok {
		return a.Decimals
	}
	return 0
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, key ledger.AccountKey) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance FROM projections.balances
		WHERE account_path = $1 AND asset_id = $2
	`, key.AccountPath(), uint16(key.AssetID)).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}
