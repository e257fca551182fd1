package recorder

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder writes simulator runs to a SQLite file.
type SQLiteRecorder struct {
	db     *sql.DB
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewSQLiteRecorder opens (or creates) the database and its tables.
func NewSQLiteRecorder(dbPath string, logger zerolog.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, logger: logger}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Debug().Str("path", dbPath).Msg("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS steps (
			run             TEXT    NOT NULL,
			idx             INTEGER NOT NULL,
			command         TEXT    NOT NULL,
			sequence        INTEGER NOT NULL,
			at_us           INTEGER NOT NULL,
			rejected        TEXT,
			total_assets    INTEGER NOT NULL,
			total_supply    INTEGER NOT NULL,
			total_idle      INTEGER NOT NULL,
			total_debt      INTEGER NOT NULL,
			locked_profit   INTEGER NOT NULL,
			price_per_share INTEGER NOT NULL,
			PRIMARY KEY (run, idx)
		)`,

		`CREATE TABLE IF NOT EXISTS harvests (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			run          TEXT    NOT NULL,
			sequence     INTEGER NOT NULL,
			strategy     TEXT    NOT NULL,
			gain         INTEGER NOT NULL,
			loss         INTEGER NOT NULL,
			debt_payment INTEGER NOT NULL,
			credit       INTEGER NOT NULL,
			fees         INTEGER NOT NULL,
			fee_shares   INTEGER NOT NULL,
			at_us        INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_harvests_run ON harvests(run, sequence)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordStep(s *Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rejected sql.NullString
	if s.Rejected != "" {
		rejected = sql.NullString{String: s.Rejected, Valid: true}
	}
	_, err := r.db.Exec(`INSERT INTO steps
		(run, idx, command, sequence, at_us, rejected,
		 total_assets, total_supply, total_idle, total_debt, locked_profit, price_per_share)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.Run, s.Index, s.Command, s.Sequence, s.At.UnixMicro(), rejected,
		s.TotalAssets, s.TotalSupply, s.TotalIdle, s.TotalDebt, s.LockedProfit, s.PricePerShare,
	)
	if err != nil {
		return fmt.Errorf("record step %s/%d: %w", s.Run, s.Index, err)
	}
	return nil
}

func (r *SQLiteRecorder) RecordHarvest(h *Harvest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO harvests
		(run, sequence, strategy, gain, loss, debt_payment, credit, fees, fee_shares, at_us)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		h.Run, h.Sequence, h.Strategy, h.Gain, h.Loss, h.DebtPayment, h.Credit, h.Fees, h.FeeShares, h.At.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("record harvest %s/%d: %w", h.Run, h.Sequence, err)
	}
	return nil
}

// Steps returns a run's steps in order.
func (r *SQLiteRecorder) Steps(run string) ([]Step, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT idx, command, sequence, at_us, rejected,
			total_assets, total_supply, total_idle, total_debt, locked_profit, price_per_share
		FROM steps WHERE run = ? ORDER BY idx`, run)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var out []Step
	for rows.Next() {
		s := Step{Run: run}
		var atUs int64
		var rejected sql.NullString
		if err := rows.Scan(&s.Index, &s.Command, &s.Sequence, &atUs, &rejected,
			&s.TotalAssets, &s.TotalSupply, &s.TotalIdle, &s.TotalDebt, &s.LockedProfit, &s.PricePerShare); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		s.At = time.UnixMicro(atUs).UTC()
		s.Rejected = rejected.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// HarvestCount returns how many harvests a run recorded.
func (r *SQLiteRecorder) HarvestCount(run string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM harvests WHERE run = ?`, run).Scan(&n); err != nil {
		return 0, fmt.Errorf("count harvests: %w", err)
	}
	return n, nil
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
