package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/vault"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ProjectionOutput is what the projection worker needs from one applied
// command.
type ProjectionOutput struct {
	Sequence       int64
	EventType      string
	JournalEntries []JournalEntry
	Vault          *vault.Summary
	Harvest        *HarvestEntry
	Timestamp      time.Time
}

// JournalEntry is a simplified journal for projection consumption.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
}

// NewProjectionOutput builds the projection input for an applied command.
// summary may be nil, in which case only balances and the watermark move.
func NewProjectionOutput(env *event.EventEnvelope, batch *ledger.Batch, summary *vault.Summary) ProjectionOutput {
	out := ProjectionOutput{
		Sequence:  env.Sequence,
		EventType: env.EventType.String(),
		Vault:     summary,
		Timestamp: env.Timestamp,
	}
	if batch != nil {
		out.JournalEntries = make([]JournalEntry, 0, len(batch.Journals))
		for _, j := range batch.Journals {
			out.JournalEntries = append(out.JournalEntries, JournalEntry{
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				AssetID:       uint16(j.AssetID),
				Amount:        j.Amount,
			})
		}
	}
	if r, ok := env.Result.(vault.ReportResult); ok {
		var pps int64
		if summary != nil {
			pps = summary.PricePerShare
		}
		h := NewHarvestEntry(env.Sequence, env.Timestamp, r, pps)
		out.Harvest = &h
	}
	return out
}

// ProjectionWorker updates projection tables from applied commands.
// The projection channel is non-blocking with drop; projections that fall
// behind are rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if output.Sequence <= pw.lastSeq && pw.lastSeq > 0 {
				continue
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				// Projections are eventually consistent; keep going
				pw.logger.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
				continue
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues(output.EventType).Observe(time.Since(start).Seconds())
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range output.JournalEntries {
		if err := updateBalanceProjection(ctx, tx, j, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if output.Vault != nil {
		if err := upsertVault(ctx, tx, output.Vault, output.Sequence); err != nil {
			return fmt.Errorf("vault projection: %w", err)
		}
		if err := upsertStrategies(ctx, tx, output.Vault, output.Sequence); err != nil {
			return fmt.Errorf("strategy projection: %w", err)
		}
	}

	if output.Harvest != nil {
		if err := insertHarvest(ctx, tx, *output.Harvest); err != nil {
			return fmt.Errorf("harvest projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func updateBalanceProjection(ctx context.Context, tx *sql.Tx, j JournalEntry, seq int64) error {
	// Debit account: balance increases
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, j.DebitAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	// Credit account: balance decreases
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3::BIGINT, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, j.CreditAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	return nil
}

func upsertVault(ctx context.Context, tx *sql.Tx, s *vault.Summary, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.vault_state
			(vault_id, total_assets, total_supply, total_idle, total_debt, debt_ratio,
			 locked_profit, price_per_share, deposit_limit, management_fee_bps,
			 performance_fee_bps, fee_recipient, emergency_shutdown, last_report, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (vault_id) DO UPDATE SET
			total_assets = $2, total_supply = $3, total_idle = $4, total_debt = $5,
			debt_ratio = $6, locked_profit = $7, price_per_share = $8, deposit_limit = $9,
			management_fee_bps = $10, performance_fee_bps = $11, fee_recipient = $12,
			emergency_shutdown = $13, last_report = $14, last_sequence = $15
	`, s.ID, s.TotalAssets, s.TotalSupply, s.TotalIdle, s.TotalDebt, s.DebtRatio,
		s.LockedProfit, s.PricePerShare, s.DepositLimit, s.ManagementFeeBps,
		s.PerformanceFeeBps, s.FeeRecipient, s.EmergencyShutdown, s.Vesting.LastReport, seq)
	return err
}

func upsertStrategies(ctx context.Context, tx *sql.Tx, s *vault.Summary, seq int64) error {
	position := make(map[uuid.UUID]int, len(s.Queue))
	for i, id := range s.Queue {
		position[id] = i
	}

	for id, a := range s.Strategies {
		var queuePos *int
		if p, ok := position[id]; ok {
			queuePos = &p
		}
		var migratedTo *uuid.UUID
		if a.MigratedTo != uuid.Nil {
			migratedTo = &a.MigratedTo
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.strategies
				(strategy_id, status, queue_position, debt_ratio, min_debt_per_harvest,
				 max_debt_per_harvest, performance_fee_bps, strategist, total_debt,
				 total_gain, total_loss, activation, last_report, migrated_to, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (strategy_id) DO UPDATE SET
				status = $2, queue_position = $3, debt_ratio = $4, min_debt_per_harvest = $5,
				max_debt_per_harvest = $6, performance_fee_bps = $7, strategist = $8,
				total_debt = $9, total_gain = $10, total_loss = $11, last_report = $13,
				migrated_to = $14, last_sequence = $15
		`, id, a.Status().String(), queuePos, a.DebtRatio, a.MinDebtPerHarvest,
			a.MaxDebtPerHarvest, a.PerformanceFeeBps, a.Strategist, a.TotalDebt,
			a.TotalGain, a.TotalLoss, a.Activation, a.LastReport, migratedTo, seq); err != nil {
			return err
		}
	}
	return nil
}

func insertHarvest(ctx context.Context, tx *sql.Tx, h HarvestEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.harvest_history
			(sequence, strategy_id, gain, loss, debt_payment, credit, fees, fee_shares,
			 debt_outstanding, total_debt, emergency_exit, price_per_share, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (sequence) DO NOTHING
	`, h.Sequence, h.StrategyID, h.Gain, h.Loss, h.DebtPayment, h.Credit, h.Fees,
		h.FeeShares, h.DebtOutstanding, h.TotalDebt, h.EmergencyExit, h.PricePerShare, h.Timestamp)
	return err
}

// RebuildProjections rebuilds balances and harvest history from the event
// log. Vault and strategy rows are refreshed by the next applied command.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.harvest_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Debits increase, credits decrease
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT account_path, asset_id, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, asset_id, amount AS delta, sequence
			FROM event_log.journal
			UNION ALL
			SELECT credit_account, asset_id, -amount, sequence
			FROM event_log.journal
		) moves
		GROUP BY account_path, asset_id
	`)
	if err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	// Price per share is not in the log; rebuilt rows carry 0.
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.harvest_history
			(sequence, strategy_id, gain, loss, debt_payment, credit, fees, fee_shares,
			 debt_outstanding, total_debt, emergency_exit, price_per_share, timestamp)
		SELECT sequence,
		       (result->>'strategy_id')::UUID,
		       (result->>'gain')::BIGINT,
		       (result->>'loss')::BIGINT,
		       (result->>'debt_payment')::BIGINT,
		       (result->>'credit')::BIGINT,
		       (result->'fees'->>'management')::BIGINT
		         + (result->'fees'->>'performance')::BIGINT
		         + (result->'fees'->>'strategist')::BIGINT,
		       (result->>'fee_shares')::BIGINT,
		       (result->>'debt_outstanding')::BIGINT,
		       (result->>'total_debt')::BIGINT,
		       (result->>'emergency_exit')::BOOLEAN,
		       0,
		       timestamp
		FROM event_log.events
		WHERE event_type = 'Harvest' AND result IS NOT NULL
	`)
	if err != nil {
		return fmt.Errorf("rebuild harvest history: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		SELECT 'main', COALESCE(MAX(sequence), 0), NOW() FROM event_log.events
	`); err != nil {
		return fmt.Errorf("rebuild watermark: %w", err)
	}

	logger.Info().Msg("projection rebuild complete")
	return nil
}
