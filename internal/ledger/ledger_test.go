package ledger_test

import (
	"errors"
	"testing"

	"VaultLedger/internal/ledger"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func usdc(t *testing.T) ledger.AssetID {
	t.Helper()
	id, ok := ledger.GetAssetID("USDC")
	if !ok {
		t.Fatal("USDC should be a known asset")
	}
	return id
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_HolderPath(t *testing.T) {
	holder := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := ledger.HolderWallet(holder, usdc(t))

	path := key.AccountPath()
	expected := "holder:550e8400-e29b-41d4-a716-446655440000:wallet:USDC"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.External(ledger.SubTypeExternalSlippage, usdc(t))

	if path := key.AccountPath(); path != "external:slippage:USDC" {
		t.Errorf("got %q, want %q", path, "external:slippage:USDC")
	}
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	id := uuid.New()
	keys := []ledger.AccountKey{
		ledger.HolderWallet(id, usdc(t)),
		ledger.VaultIdle(id, usdc(t)),
		ledger.StrategyWallet(id, usdc(t)),
		ledger.VenueAccount(id, ledger.SubTypeStaked, usdc(t)),
		ledger.External(ledger.SubTypeShareIssuance, usdc(t)),
	}

	for _, key := range keys {
		got, err := ledger.ParseAccountPath(key.AccountPath())
		if err != nil {
			t.Fatalf("parse %s: %v", key.AccountPath(), err)
		}
		if got != key {
			t.Errorf("round trip mismatch for %s", key.AccountPath())
		}
	}
}

func TestParseAccountPath_Malformed(t *testing.T) {
	for _, path := range []string{"", "holder:nope:wallet:USDC", "vault:x", "external:deposits:DOGE"} {
		if _, err := ledger.ParseAccountPath(path); err == nil {
			t.Errorf("expected error for %q", path)
		}
	}
}

func TestRegisterAsset_Idempotent(t *testing.T) {
	a := ledger.RegisterAsset("yvTEST", 6)
	b := ledger.RegisterAsset("yvTEST", 6)
	if a != b {
		t.Fatalf("re-registering returned %d then %d", a, b)
	}
	if name, _ := ledger.GetAssetName(a); name != "yvTEST" {
		t.Errorf("got name %q", name)
	}
}

// ============================================================================
// Test: Book
// ============================================================================

func TestBook_TransferMovesBalance(t *testing.T) {
	book := ledger.NewBook(ledger.NewBalanceTracker())
	book.Begin("cmd-1", 1, 1000)
	holder := uuid.New()
	asset := usdc(t)

	src := ledger.External(ledger.SubTypeExternalDeposits, asset)
	dst := ledger.HolderWallet(holder, asset)
	if err := book.Transfer(src, dst, 1_000_000, ledger.JournalTypeFund); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if got := book.Balance(dst); got != 1_000_000 {
		t.Errorf("holder: got %d, want 1_000_000", got)
	}
	if got := book.Balance(src); got != -1_000_000 {
		t.Errorf("external: got %d, want -1_000_000", got)
	}
}

func TestBook_InternalOverdraftRejected(t *testing.T) {
	book := ledger.NewBook(ledger.NewBalanceTracker())
	book.Begin("cmd-1", 1, 1000)
	asset := usdc(t)

	err := book.Transfer(ledger.HolderWallet(uuid.New(), asset), ledger.VaultIdle(uuid.New(), asset), 1, ledger.JournalTypeDeposit)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("want ErrInsufficientBalance, got %v", err)
	}
}

func TestBook_CrossAssetRejected(t *testing.T) {
	book := ledger.NewBook(ledger.NewBalanceTracker())
	qi, _ := ledger.GetAssetID("QI")

	err := book.Transfer(ledger.External(ledger.SubTypeExternalRewards, qi), ledger.HolderWallet(uuid.New(), usdc(t)), 1, ledger.JournalTypeReward)
	if !errors.Is(err, ledger.ErrInvalidTransfer) {
		t.Fatalf("want ErrInvalidTransfer, got %v", err)
	}
}

func TestBook_RewindRestoresBalances(t *testing.T) {
	tracker := ledger.NewBalanceTracker()
	book := ledger.NewBook(tracker)
	book.Begin("cmd-1", 1, 1000)
	asset := usdc(t)
	holder := ledger.HolderWallet(uuid.New(), asset)
	vault := ledger.VaultIdle(uuid.New(), asset)

	if err := book.Transfer(ledger.External(ledger.SubTypeExternalDeposits, asset), holder, 500, ledger.JournalTypeFund); err != nil {
		t.Fatal(err)
	}
	before := tracker.Snapshot()
	cp := book.Checkpoint()

	if err := book.Transfer(holder, vault, 300, ledger.JournalTypeDeposit); err != nil {
		t.Fatal(err)
	}
	book.Rewind(cp)

	if diff := cmp.Diff(before, tracker.Snapshot()); diff != "" {
		t.Errorf("balances differ after rewind (-want +got):\n%s", diff)
	}

	batch := book.Drain()
	if batch == nil || len(batch.Journals) != 1 {
		t.Fatalf("expected one surviving journal, got %+v", batch)
	}
}

func TestBook_DrainDeterministicIDs(t *testing.T) {
	asset := usdc(t)
	holder := uuid.New()
	run := func() *ledger.Batch {
		book := ledger.NewBook(ledger.NewBalanceTracker())
		book.Begin("cmd-42", 42, 1000)
		_ = book.Transfer(ledger.External(ledger.SubTypeExternalDeposits, asset), ledger.HolderWallet(holder, asset), 7, ledger.JournalTypeFund)
		return book.Drain()
	}

	a, b := run(), run()
	if a.BatchID != b.BatchID || a.Journals[0].JournalID != b.Journals[0].JournalID {
		t.Error("replaying the same command should produce the same ids")
	}
	if err := a.Validate(); err != nil {
		t.Errorf("drained batch invalid: %v", err)
	}
}

func TestBook_DrainEmpty(t *testing.T) {
	book := ledger.NewBook(ledger.NewBalanceTracker())
	book.Begin("noop", 1, 0)
	if book.Drain() != nil {
		t.Error("drain with no transfers should return nil")
	}
}

// ============================================================================
// Test: Batch.Validate
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{BatchID: uuid.New()}
	if err := batch.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_Malformed(t *testing.T) {
	asset := usdc(t)
	batchID := uuid.New()
	a := ledger.HolderWallet(uuid.New(), asset)
	b := ledger.VaultIdle(uuid.New(), asset)

	cases := map[string]ledger.Journal{
		"zero amount":     {BatchID: batchID, DebitAccount: a, CreditAccount: b, AssetID: asset, Amount: 0},
		"negative amount": {BatchID: batchID, DebitAccount: a, CreditAccount: b, AssetID: asset, Amount: -5},
		"self transfer":   {BatchID: batchID, DebitAccount: a, CreditAccount: a, AssetID: asset, Amount: 5},
		"foreign batch":   {BatchID: uuid.New(), DebitAccount: a, CreditAccount: b, AssetID: asset, Amount: 5},
		"asset mismatch":  {BatchID: batchID, DebitAccount: a, CreditAccount: b, AssetID: asset + 1, Amount: 5},
	}

	for name, j := range cases {
		t.Run(name, func(t *testing.T) {
			batch := &ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{j}}
			if err := batch.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_GlobalBalanceZero(t *testing.T) {
	tracker := ledger.NewBalanceTracker()
	book := ledger.NewBook(tracker)
	book.Begin("cmd", 1, 0)
	asset := usdc(t)
	holder := ledger.HolderWallet(uuid.New(), asset)
	vault := ledger.VaultIdle(uuid.New(), asset)

	_ = book.Transfer(ledger.External(ledger.SubTypeExternalDeposits, asset), holder, 1_000, ledger.JournalTypeFund)
	_ = book.Transfer(holder, vault, 400, ledger.JournalTypeDeposit)

	v := ledger.NewInvariantValidator(tracker)
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("zero-sum violated: %v", err)
	}
	if err := v.ValidateNonNegative(); err != nil {
		t.Errorf("non-negative violated: %v", err)
	}
	if err := v.ValidateEquals(vault, 400); err != nil {
		t.Error(err)
	}
	if err := v.ValidateCovers(vault, 500); err == nil {
		t.Error("vault holds 400, recording 500 should fail")
	}
}

func TestInvariantValidator_DetectsImbalance(t *testing.T) {
	tracker := ledger.NewBalanceTracker()
	tracker.SetBalance(ledger.HolderWallet(uuid.New(), usdc(t)), 10)

	if err := ledger.NewInvariantValidator(tracker).ValidateGlobalBalance(); err == nil {
		t.Error("a one-sided balance should break zero-sum")
	}
}
