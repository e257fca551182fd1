package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/strategy"
	"VaultLedger/internal/vault"

	"github.com/google/uuid"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidCommand = errors.New("invalid command")

	ErrStateHashMismatch = errors.New("state hash mismatch")
)

// Config wires the vault the core owns.
type Config struct {
	StartSequence int64

	// Genesis is the clock origin. It must be the same on every start so a
	// replay reproduces the same vesting schedule.
	Genesis time.Time

	Vault vault.Config
	Venue strategy.VenueConfig

	IdempotencyCapacity int
}

// DeterministicCore is the single-threaded command processor
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	book              *ledger.Book
	validator         *ledger.InvariantValidator
	clock             *vault.ManualClock
	vault             *vault.Vault
	venue             *strategy.Venue
	pools             map[uuid.UUID]event.PoolTerms
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput

	// replaying is set while the log is fed back through Apply on startup
	replaying bool
}

type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte

	// View is the vault after the command; nil during replay.
	View *vault.Summary
}

// lenientStreams tolerate source sequence gaps.
var lenientStreams = map[event.Stream]bool{
	event.StreamKeeper: true,
	event.StreamVenue:  true,
}

func NewDeterministicCore(
	cfg Config,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) (*DeterministicCore, error) {
	balanceTracker := ledger.NewBalanceTracker()
	book := ledger.NewBook(balanceTracker)
	clock := vault.NewManualClock(cfg.Genesis.UTC())

	v, err := vault.New(cfg.Vault, book, clock)
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	if cfg.Venue.Want != v.Want() {
		return nil, fmt.Errorf("core: venue want %s differs from vault want %s", cfg.Venue.Want, v.Want())
	}
	venue, err := strategy.NewVenue(cfg.Venue, book)
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}

	capacity := cfg.IdempotencyCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}

	return &DeterministicCore{
		sequence:          cfg.StartSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		book:              book,
		validator:         ledger.NewInvariantValidator(balanceTracker),
		clock:             clock,
		vault:             v,
		venue:             venue,
		pools:             make(map[uuid.UUID]event.PoolTerms),
		idempotency:       NewIdempotencyChecker(capacity, dbChecker, metrics),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}, nil
}

// Apply is the main processing pipeline. It returns the emitted output, or
// nil with a nil error when the command was a duplicate or stale.
func (c *DeterministicCore) Apply(evt event.Event) (*CoreOutput, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	if idempotencyKey == "" {
		c.recordRejected(eventType, "invalid")
		return nil, fmt.Errorf("%w: empty idempotency key", ErrInvalidCommand)
	}

	// Step 1: Idempotency check (two-tier). During replay the DB tier knows
	// every logged command, so only the LRU is consulted.
	var isDuplicate bool
	if c.replaying {
		isDuplicate = c.idempotency.IsKnown(eventType, idempotencyKey)
	} else {
		isDuplicate = c.idempotency.IsDuplicate(eventType, idempotencyKey)
	}

	// Step 2: Sequence validation per stream
	partition := c.getPartition(evt)
	sourceSequence := evt.SourceSequence()

	// The log holds only accepted commands, so a replayed strict stream has
	// holes where rejected commands consumed a number.
	if c.replaying || lenientStreams[evt.Stream()] {
		skipped, err := c.sequenceValidator.ValidateLenientSequence(partition, sourceSequence)
		if err != nil {
			c.recordRejected(eventType, "stale")
			return nil, nil
		}
		if skipped && !c.replaying && c.metrics != nil {
			c.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
		}
	} else if err := c.sequenceValidator.ValidateSequence(partition, sourceSequence, isDuplicate); err != nil {
		c.recordSequenceError(eventType, partition, err)
		return nil, fmt.Errorf("sequence validation failed: %w", err)
	}

	if isDuplicate {
		c.recordRejected(eventType, "duplicate")
		return nil, nil
	}

	// Step 3: Move the clock to the command's versioned timestamp. The
	// clock never goes back, so a late command runs at the current time.
	// A rejected command is not logged, so its move is undone.
	ts := evt.OccurredAt()
	if ts.UnixMicro() <= 0 {
		c.recordRejected(eventType, "invalid")
		return nil, fmt.Errorf("%w: %s %s has no timestamp", ErrInvalidCommand, eventType, idempotencyKey)
	}
	prevNow := c.clock.Now()
	c.clock.Set(ts)
	now := c.clock.Now()
	c.book.Begin(idempotencyKey, c.sequence, now.UnixMicro())

	// Step 4: Dispatch. Every handler is atomic: on error the book, the
	// vault and the adapters are as they were.
	result, err := c.dispatchEvent(evt)
	if err != nil {
		c.book.Drain()
		c.clock.Reset(prevNow)
		c.recordRejected(eventType, RejectReason(err))
		return nil, fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 5: Collect the journals the command produced
	batch := c.book.Drain()
	if batch == nil {
		// State-only commands (parameter updates, no-op harvests) still get
		// an envelope in the log.
		batch = &ledger.Batch{
			EventRef:  idempotencyKey,
			Sequence:  c.sequence,
			Timestamp: now.UnixMicro(),
			Journals:  []ledger.Journal{},
		}
	} else if err := c.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: malformed batch: %v", err))
	}

	// Step 6: State digest and hash chain
	hashStart := time.Now()
	stateDigest := c.computeStateDigest(batch)
	prevHash := c.hasher.Tip()
	stateHash := c.hasher.Next(c.sequence, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode applied command %s: %v", idempotencyKey, err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Stream:         evt.Stream(),
		StrategyID:     evt.StrategyID(),
		Timestamp:      now,
		SourceSequence: sourceSequence,
		Payload:        payload,
		Result:         result,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	// Step 7: Post-checks. A violation after a successful command means the
	// ledger is corrupt; stop rather than persist it.
	if err := c.postCheckInvariants(batch); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated at seq %d: %v", c.sequence, err))
	}

	output := CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		StateDelta: stateDigest,
	}
	c.sequence++

	// Step 8: Emit. The persist channel blocks (backpressure); projections
	// are dropped when full and rebuilt from the log. Replayed commands are
	// already persisted.
	if !c.replaying {
		summary := c.vault.Summary()
		output.View = &summary
		c.persistChan <- output

		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}

	// Step 9: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	c.recordApplied(eventType, batch, result, start)

	return &output, nil
}

// Replay re-applies a logged command and checks it lands on the logged
// sequence and state hash. Nothing is emitted.
func (c *DeterministicCore) Replay(evt event.Event, sequence int64, stateHash [32]byte) error {
	if sequence != c.sequence {
		return fmt.Errorf("replay: log sequence %d, core at %d", sequence, c.sequence)
	}
	c.replaying = true
	defer func() { c.replaying = false }()

	out, err := c.Apply(evt)
	if err != nil {
		return fmt.Errorf("replay seq %d: %w", sequence, err)
	}
	if out == nil {
		return fmt.Errorf("replay seq %d: command %s skipped", sequence, evt.IdempotencyKey())
	}
	if out.Envelope.StateHash != stateHash {
		return fmt.Errorf("%w: seq %d expected %x, got %x", ErrStateHashMismatch, sequence, stateHash, out.Envelope.StateHash)
	}
	return nil
}

// getPartition determines partition key for sequence validation
func (c *DeterministicCore) getPartition(evt event.Event) string {
	return fmt.Sprintf("stream:%s", evt.Stream())
}

// computeStateDigest creates canonical bytes for the state hash: every
// account the batch touched with its balance, then the vault's own state.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}

	// Sort by AccountPath (deterministic string ordering)
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64+256)

	for _, key := range accounts {
		balance := c.balanceTracker.GetBalance(key)

		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)

		digest = appendInt64LE(digest, balance)
	}

	return c.appendVaultDigest(digest)
}

func (c *DeterministicCore) appendVaultDigest(digest []byte) []byte {
	st := c.vault.Export()
	digest = appendInt64LE(digest, st.TotalSupply)
	digest = appendInt64LE(digest, st.TotalIdle)
	digest = appendInt64LE(digest, st.TotalDebt)
	digest = appendInt64LE(digest, st.DebtRatio)
	digest = appendInt64LE(digest, st.Vesting.Locked)
	digest = appendInt64LE(digest, st.Vesting.LastReport.UnixMicro())
	digest = appendBool(digest, st.EmergencyShutdown)

	for _, id := range st.Queue {
		acct := st.Strategies[id]
		digest = append(digest, id[:]...)
		digest = appendInt64LE(digest, acct.TotalDebt)
		digest = appendInt64LE(digest, acct.DebtRatio)
		digest = appendInt64LE(digest, acct.TotalGain)
		digest = appendInt64LE(digest, acct.TotalLoss)
		digest = appendInt64LE(digest, acct.LastReport.UnixMicro())
		if ad, ok := c.vault.Adapter(id); ok {
			digest = appendBool(digest, ad.EmergencyExit())
		}
	}
	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func appendBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// postCheckInvariants validates the vault against the book after a command
func (c *DeterministicCore) postCheckInvariants(batch *ledger.Batch) error {
	// Touched accounts stay non-negative
	for _, j := range batch.Journals {
		for _, key := range []ledger.AccountKey{j.DebitAccount, j.CreditAccount} {
			if key.IsExternal() {
				continue
			}
			if err := c.balanceTracker.ValidateNonNegative(key); err != nil {
				return fmt.Errorf("post-check balance: %w", err)
			}
		}
	}

	// The idle account backs totalIdle
	idleKey := ledger.VaultIdle(c.vault.ID(), c.vault.Want())
	if err := c.validator.ValidateCovers(idleKey, c.vault.TotalIdle()); err != nil {
		return fmt.Errorf("post-check idle: %w", err)
	}

	// Shares outstanding equal what the issuance account has emitted
	issuanceKey := ledger.External(ledger.SubTypeShareIssuance, c.vault.ShareAsset())
	if err := c.validator.ValidateEquals(issuanceKey, -c.vault.TotalSupply()); err != nil {
		return fmt.Errorf("post-check supply: %w", err)
	}

	// totalDebt and debtRatio are the sums over the queue
	var debt, ratio int64
	for _, id := range c.vault.Queue() {
		acct, _ := c.vault.Strategy(id)
		if acct.TotalDebt < 0 {
			return fmt.Errorf("post-check debt: strategy %s has negative debt %d", id, acct.TotalDebt)
		}
		debt += acct.TotalDebt
		ratio += acct.DebtRatio
	}
	if debt != c.vault.TotalDebt() {
		return fmt.Errorf("post-check debt: strategies owe %d, vault records %d", debt, c.vault.TotalDebt())
	}
	if ratio != c.vault.DebtRatio() || ratio > fpmath.MaxBps {
		return fmt.Errorf("post-check ratio: strategies sum to %d, vault records %d", ratio, c.vault.DebtRatio())
	}

	// Periodic full sweep: every asset sums to zero, no internal overdraft
	if c.sequence > 0 && c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("post-check global: %w (at seq %d)", err, c.sequence)
		}
		if err := c.validator.ValidateNonNegative(); err != nil {
			return fmt.Errorf("post-check global: %w (at seq %d)", err, c.sequence)
		}
	}

	return nil
}

// --- Metrics ---

func (c *DeterministicCore) recordRejected(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func (c *DeterministicCore) recordSequenceError(eventType, partition string, err error) {
	reason := "sequence"
	if c.metrics != nil {
		switch {
		case errors.Is(err, ErrSequenceGap):
			reason = "gap"
			c.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
		case errors.Is(err, ErrOutOfOrder):
			reason = "out_of_order"
			c.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
		}
	}
	c.recordRejected(eventType, reason)
}

func (c *DeterministicCore) recordApplied(eventType string, batch *ledger.Batch, result any, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
	c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	c.metrics.CoreSequence.Set(float64(c.sequence))
	c.metrics.DedupLRUSize.Set(float64(c.idempotency.recent.Size()))

	for _, j := range batch.Journals {
		c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
	}

	switch r := result.(type) {
	case vault.ReportResult:
		id := r.StrategyID.String()
		outcome := "flat"
		switch {
		case r.Loss > 0:
			outcome = "loss"
		case r.Gain > 0:
			outcome = "gain"
		}
		c.metrics.HarvestsTotal.WithLabelValues(id, outcome).Inc()
		c.metrics.HarvestGain.WithLabelValues(id).Add(float64(r.Gain))
		c.metrics.HarvestLoss.WithLabelValues(id).Add(float64(r.Loss))
		c.metrics.FeeSharesMinted.Add(float64(r.FeeShares))
	case vault.WithdrawResult:
		if gross := r.Paid + r.Loss; gross > 0 {
			c.metrics.WithdrawalLossBps.Observe(float64(r.Loss) * float64(fpmath.MaxBps) / float64(gross))
		}
	}

	c.metrics.ObserveVault(observability.VaultSample{
		TotalAssets:   c.vault.TotalAssets(),
		TotalDebt:     c.vault.TotalDebt(),
		TotalIdle:     c.vault.TotalIdle(),
		TotalSupply:   c.vault.TotalSupply(),
		PricePerShare: c.vault.PricePerShare(),
		LockedProfit:  c.vault.LockedProfit(),
		DebtRatio:     c.vault.DebtRatio(),
		Shutdown:      c.vault.EmergencyShutdown(),
	})
	for _, id := range c.vault.Queue() {
		acct, _ := c.vault.Strategy(id)
		c.metrics.ObserveStrategy(observability.StrategySample{
			ID:        id.String(),
			TotalDebt: acct.TotalDebt,
			DebtRatio: acct.DebtRatio,
			TotalGain: acct.TotalGain,
			TotalLoss: acct.TotalLoss,
		})
	}
}

// --- Accessors ---

// Vault exposes the owned vault for read-only inspection. Callers must not
// invoke it concurrently with the core goroutine.
func (c *DeterministicCore) Vault() *vault.Vault {
	return c.vault
}

// Venue exposes the simulated pool.
func (c *DeterministicCore) Venue() *strategy.Venue {
	return c.venue
}

// Book exposes the double-entry book.
func (c *DeterministicCore) Book() *ledger.Book {
	return c.book
}

// Now returns the core's versioned time.
func (c *DeterministicCore) Now() time.Time {
	return c.clock.Now()
}

// GetSequence returns the next global sequence number to assign.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.Tip()
}

// ExpectedSequence returns the next source sequence a stream must send.
func (c *DeterministicCore) ExpectedSequence(stream event.Stream) int64 {
	return c.sequenceValidator.GetExpectedSequence(fmt.Sprintf("stream:%s", stream))
}
