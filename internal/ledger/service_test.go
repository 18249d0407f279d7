package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spraxxx/pantry-ledger/internal/ledger"
	"go.uber.org/zap"
)

var ctx = context.Background()

func newService(t *testing.T, opts ...ledger.Option) *ledger.Service {
	t.Helper()
	return ledger.New(ctx, ledger.NopPersister{}, zap.NewNop(), opts...)
}

// capturePersister records every saved snapshot so tests can inspect and
// manipulate the persisted entry sequence.
type capturePersister struct {
	last *ledger.Snapshot
}

func (c *capturePersister) Load(context.Context) (*ledger.Snapshot, error) {
	return &ledger.Snapshot{Accounts: make(map[string]*ledger.Account)}, nil
}

func (c *capturePersister) Save(_ context.Context, snap *ledger.Snapshot) error {
	c.last = snap
	return nil
}

// failPersister always fails its saves.
type failPersister struct {
	failAfter int
	saves     int
}

func (f *failPersister) Load(context.Context) (*ledger.Snapshot, error) {
	return &ledger.Snapshot{Accounts: make(map[string]*ledger.Account)}, nil
}

func (f *failPersister) Save(context.Context, *ledger.Snapshot) error {
	f.saves++
	if f.saves > f.failAfter {
		return errors.New("storage unavailable")
	}
	return nil
}

func TestRecordTransaction_chainsAndAggregates(t *testing.T) {
	svc := newService(t)

	e1, err := svc.RecordTransaction(ctx, ledger.KindTaskCompletion, "bot_1", "first", ledger.CreditMap{ledger.CreditComputational: 2.0}, nil)
	if err != nil {
		t.Fatal(err)
	}
	e2, err := svc.RecordTransaction(ctx, ledger.KindCharitableImpact, "bot_1", "second", ledger.CreditMap{ledger.CreditCharitable: 1.0}, nil)
	if err != nil {
		t.Fatal(err)
	}
	e3, err := svc.RecordTransaction(ctx, ledger.KindGovernanceAction, "bot_1", "third", ledger.CreditMap{ledger.CreditCommunity: 0.5}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if e1.HashPrevious != "" {
		t.Errorf("first entry hash_previous: got %q, want empty", e1.HashPrevious)
	}
	if e2.HashPrevious != e1.HashCurrent {
		t.Errorf("chain broken: e2.HashPrevious=%q, want %q", e2.HashPrevious, e1.HashCurrent)
	}
	if e3.HashPrevious != e2.HashCurrent {
		t.Errorf("chain broken: e3.HashPrevious=%q, want %q", e3.HashPrevious, e2.HashCurrent)
	}
	if svc.TailHash() != e3.HashCurrent {
		t.Errorf("tail hash: got %q, want %q", svc.TailHash(), e3.HashCurrent)
	}

	balances := svc.Balance("bot_1", "")
	want := ledger.CreditMap{
		ledger.CreditComputational: 2.0,
		ledger.CreditCharitable:    1.0,
		ledger.CreditCommunity:     0.5,
		ledger.CreditEfficiency:    0,
		ledger.CreditTransparency:  0,
	}
	for category, amount := range want {
		if balances[category] != amount {
			t.Errorf("balance[%s]: got %v, want %v", category, balances[category], amount)
		}
	}

	acct := svc.AccountSummary("bot_1")
	if acct == nil {
		t.Fatal("account not created")
	}
	if acct.TransactionCount != 3 {
		t.Errorf("transaction count: got %d, want 3", acct.TransactionCount)
	}
	if acct.AccountType != ledger.AccountBot {
		t.Errorf("account type: got %q, want bot", acct.AccountType)
	}

	if result := svc.VerifyChain(); !result.OK {
		t.Errorf("fresh chain failed verification: %+v", result)
	}
}

func TestRecordTransaction_invalidInput(t *testing.T) {
	svc := newService(t)

	if _, err := svc.RecordTransaction(ctx, ledger.KindBotWelcome, "", "no actor", nil, nil); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Errorf("empty actor: got %v, want ErrInvalidInput", err)
	}
	if _, err := svc.RecordTransaction(ctx, "made_up_kind", "bot_1", "bad kind", nil, nil); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Errorf("unknown kind: got %v, want ErrInvalidInput", err)
	}
	if _, err := svc.RecordTransaction(ctx, ledger.KindBotWelcome, "bot_1", "bad category", ledger.CreditMap{"karma": 1}, nil); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Errorf("unknown category: got %v, want ErrInvalidInput", err)
	}

	if svc.Len() != 0 {
		t.Errorf("rejected input mutated the store: %d entries", svc.Len())
	}
	if acct := svc.AccountSummary("bot_1"); acct != nil {
		t.Error("rejected input created an account")
	}
}

func TestRecordTransaction_zeroCreditAuditEntry(t *testing.T) {
	svc := newService(t)

	if _, err := svc.RecordTransaction(ctx, ledger.KindGovernanceAction, "system", "rule review", nil, nil); err != nil {
		t.Fatal(err)
	}
	if svc.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", svc.Len())
	}
	acct := svc.AccountSummary("system")
	if acct == nil || acct.TransactionCount != 1 {
		t.Error("zero-credit entry must still touch the account")
	}
}

func TestTamperDetection_fieldMutation(t *testing.T) {
	svc := newService(t)
	if _, err := svc.RecordTransaction(ctx, ledger.KindTaskCompletion, "bot_1", "legit", ledger.CreditMap{ledger.CreditComputational: 1}, nil); err != nil {
		t.Fatal(err)
	}

	// Entries returned by queries share memory with the store; mutating one
	// simulates in-process tampering without touching hash_current.
	tampered := svc.TransactionsByActor("bot_1", 1)[0]
	tampered.ActorID = "bot_evil"

	result := svc.VerifyChain()
	if result.OK {
		t.Fatal("verification passed on tampered entry")
	}
	if result.FirstViolation == nil || *result.FirstViolation != 0 {
		t.Errorf("first violation: got %v, want 0", result.FirstViolation)
	}
}

func TestBreakDetection_removedEntry(t *testing.T) {
	capture := &capturePersister{}
	svc := ledger.New(ctx, capture, zap.NewNop())

	for i := 0; i < 4; i++ {
		if _, err := svc.RecordTransaction(ctx, ledger.KindTaskSubmission, "consumer_1", "tick", nil, nil); err != nil {
			t.Fatal(err)
		}
	}

	entries := capture.last.Entries
	// Drop entry 2; entry 3 still points at the missing hash.
	broken := append(append([]*ledger.Entry{}, entries[:2]...), entries[3])

	result := ledger.NewVerifier(zap.NewNop()).VerifyChain(broken)
	if result.OK {
		t.Fatal("verification passed on chain with removed entry")
	}
	if result.FirstViolation == nil || *result.FirstViolation != 2 {
		t.Errorf("first violation: got %v, want 2", result.FirstViolation)
	}
}

func TestRecordTransaction_timestampSurvivesDatabaseRoundTrip(t *testing.T) {
	capture := &capturePersister{}
	svc := ledger.New(ctx, capture, zap.NewNop())

	for i := 0; i < 3; i++ {
		if _, err := svc.RecordTransaction(ctx, ledger.KindTaskCompletion, "bot_1", "tick", ledger.CreditMap{ledger.CreditComputational: 1}, nil); err != nil {
			t.Fatal(err)
		}
	}

	// TIMESTAMPTZ keeps microseconds; anything finer in the stored hash
	// would make every entry rehash differently after a Postgres reload.
	entries := capture.last.Entries
	for _, e := range entries {
		if !e.Timestamp.Equal(e.Timestamp.Truncate(time.Microsecond)) {
			t.Errorf("entry %s timestamp carries sub-microsecond digits: %v", e.EntryID, e.Timestamp)
		}
		e.Timestamp = e.Timestamp.Truncate(time.Microsecond)
	}

	result := ledger.NewVerifier(zap.NewNop()).VerifyChain(entries)
	if !result.OK {
		t.Errorf("chain failed verification after timestamp round trip: %+v", result)
	}
}

func TestRecordTransaction_metadataIsolatedFromCaller(t *testing.T) {
	svc := newService(t)

	meta := map[string]any{
		"task":   "t-1",
		"nested": map[string]any{"station": "prep"},
		"tags":   []any{"daily"},
	}
	entry, err := svc.RecordTransaction(ctx, ledger.KindTaskCompletion, "bot_1", "done", nil, meta)
	if err != nil {
		t.Fatal(err)
	}

	meta["task"] = "rewritten"
	meta["nested"].(map[string]any)["station"] = "loading"
	meta["tags"].([]any)[0] = "weekly"

	if entry.Metadata["task"] != "t-1" {
		t.Errorf("stored metadata mutated via caller's map: %v", entry.Metadata["task"])
	}
	if got := entry.Metadata["nested"].(map[string]any)["station"]; got != "prep" {
		t.Errorf("stored nested metadata mutated via caller's map: %v", got)
	}
	if got := entry.Metadata["tags"].([]any)[0]; got != "daily" {
		t.Errorf("stored metadata slice mutated via caller's map: %v", got)
	}

	if result := svc.VerifyChain(); !result.OK {
		t.Errorf("caller-side mutation invalidated the chain: %+v", result)
	}
}

func TestVerifyChain_emptyLedger(t *testing.T) {
	svc := newService(t)
	if result := svc.VerifyChain(); !result.OK {
		t.Errorf("empty ledger must verify clean: %+v", result)
	}
}

func TestPersistenceWarning_commitSurvivesFlushFailure(t *testing.T) {
	persist := &failPersister{failAfter: 2}
	svc := ledger.New(ctx, persist, zap.NewNop())

	for i := 0; i < 2; i++ {
		if _, err := svc.RecordTransaction(ctx, ledger.KindTaskCompletion, "bot_1", "ok", ledger.CreditMap{ledger.CreditComputational: 1}, nil); err != nil {
			t.Fatal(err)
		}
	}

	entry, err := svc.RecordTransaction(ctx, ledger.KindTaskCompletion, "bot_1", "third", ledger.CreditMap{ledger.CreditComputational: 1}, nil)
	if !errors.Is(err, ledger.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if entry == nil {
		t.Fatal("entry must be returned alongside the persistence warning")
	}

	// The write is committed in memory despite the failed flush.
	if svc.Len() != 3 {
		t.Errorf("expected 3 entries in memory, got %d", svc.Len())
	}
	if got := svc.Balance("bot_1", ledger.CreditComputational)[ledger.CreditComputational]; got != 3 {
		t.Errorf("balance: got %v, want 3", got)
	}

	stats := svc.Statistics()
	if !stats.PersistenceDegraded {
		t.Error("statistics must flag persistence degradation")
	}
	if !stats.LedgerIntegrity {
		t.Error("chain must still verify after a flush failure")
	}
}

func TestSpendCredits(t *testing.T) {
	svc := newService(t)
	if _, err := svc.AwardCredits(ctx, "bot_1", ledger.CreditComputational, 5, "seed"); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.SpendCredits(ctx, "bot_1", ledger.CreditComputational, 2, "render job"); err != nil {
		t.Fatal(err)
	}

	if got := svc.Balance("bot_1", ledger.CreditComputational)[ledger.CreditComputational]; got != 3 {
		t.Errorf("balance after spend: got %v, want 3", got)
	}
	acct := svc.AccountSummary("bot_1")
	if acct.LifetimeEarned[ledger.CreditComputational] != 5 {
		t.Errorf("lifetime earned must not decrease on spend: got %v", acct.LifetimeEarned[ledger.CreditComputational])
	}

	// Overdraft rejected before any mutation.
	if _, err := svc.SpendCredits(ctx, "bot_1", ledger.CreditComputational, 100, "too much"); !errors.Is(err, ledger.ErrInsufficientCredits) {
		t.Errorf("overdraft: got %v, want ErrInsufficientCredits", err)
	}
	if svc.Len() != 2 {
		t.Errorf("overdraft must not append: got %d entries", svc.Len())
	}

	if result := svc.VerifyChain(); !result.OK {
		t.Errorf("chain invalid after spend: %+v", result)
	}
}

func TestQueries_mostRecentFirst(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	svc := newService(t, ledger.WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))

	for i := 0; i < 3; i++ {
		if _, err := svc.RecordTransaction(ctx, ledger.KindTaskCompletion, "bot_1", "a", nil, nil); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.RecordTransaction(ctx, ledger.KindEnergyUsage, "consumer_1", "b", nil, nil); err != nil {
			t.Fatal(err)
		}
	}

	byActor := svc.TransactionsByActor("bot_1", 0)
	if len(byActor) != 3 {
		t.Fatalf("expected 3 entries for bot_1, got %d", len(byActor))
	}
	for i := 1; i < len(byActor); i++ {
		if byActor[i].Timestamp.After(byActor[i-1].Timestamp) {
			t.Error("TransactionsByActor not sorted most recent first")
		}
	}

	byKind := svc.TransactionsByKind(ledger.KindEnergyUsage, 2)
	if len(byKind) != 2 {
		t.Fatalf("limit not applied: got %d entries", len(byKind))
	}
	if byKind[0].Timestamp.Before(byKind[1].Timestamp) {
		t.Error("TransactionsByKind not sorted most recent first")
	}
	for _, e := range byKind {
		if e.Kind != ledger.KindEnergyUsage {
			t.Errorf("wrong kind in result: %s", e.Kind)
		}
	}
}

func TestTopByCategory_ordersAndBreaksTies(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	svc := newService(t, ledger.WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))

	awards := []struct {
		actor  string
		amount float64
	}{
		{"bot_small", 1},
		{"bot_tied_early", 5},
		{"bot_tied_late", 5},
		{"bot_big", 9},
	}
	for _, a := range awards {
		if _, err := svc.AwardCredits(ctx, a.actor, ledger.CreditCharitable, a.amount, "gift"); err != nil {
			t.Fatal(err)
		}
	}

	top := svc.TopByCategory(ledger.CreditCharitable, 3)
	if len(top) != 3 {
		t.Fatalf("expected 3 accounts, got %d", len(top))
	}
	if top[0].AccountID != "bot_big" {
		t.Errorf("rank 1: got %s, want bot_big", top[0].AccountID)
	}
	if top[1].AccountID != "bot_tied_early" || top[2].AccountID != "bot_tied_late" {
		t.Errorf("tie must break on earliest created_at: got %s, %s", top[1].AccountID, top[2].AccountID)
	}
}

func TestStatistics_aggregates(t *testing.T) {
	svc := newService(t)
	if _, err := svc.RecordTransaction(ctx, ledger.KindTaskCompletion, "bot_1", "a", ledger.CreditMap{ledger.CreditComputational: 2}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RecordTransaction(ctx, ledger.KindTaskCompletion, "consumer_1", "b", ledger.CreditMap{ledger.CreditComputational: 1}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AwardCredits(ctx, "bot_1", ledger.CreditCharitable, 4, "donation"); err != nil {
		t.Fatal(err)
	}

	stats := svc.Statistics()
	if stats.TotalEntries != 3 {
		t.Errorf("total entries: got %d, want 3", stats.TotalEntries)
	}
	if stats.TotalAccounts != 2 {
		t.Errorf("total accounts: got %d, want 2", stats.TotalAccounts)
	}
	if stats.TransactionCounts[ledger.KindTaskCompletion] != 2 {
		t.Errorf("task_completion count: got %d, want 2", stats.TransactionCounts[ledger.KindTaskCompletion])
	}
	if stats.TotalCreditsAwarded[ledger.CreditComputational] != 3 {
		t.Errorf("computational total: got %v, want 3", stats.TotalCreditsAwarded[ledger.CreditComputational])
	}
	if !stats.LedgerIntegrity {
		t.Error("fresh ledger must report integrity")
	}
	if stats.PersistenceDegraded {
		t.Error("healthy persister must not report degradation")
	}
}

func TestTransparencyReport(t *testing.T) {
	svc := newService(t)
	if _, err := svc.AwardCredits(ctx, "bot_1", ledger.CreditCharitable, 3, "meal fund"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AwardCredits(ctx, "consumer_1", ledger.CreditCharitable, 1, "meal fund"); err != nil {
		t.Fatal(err)
	}

	report := svc.TransparencyReport()
	if !report.Verification.OK {
		t.Error("report must include a passing verification for a clean chain")
	}
	if report.TotalCharitableImpact != 4 {
		t.Errorf("total charitable impact: got %v, want 4", report.TotalCharitableImpact)
	}
	charitable := report.TopContributors[ledger.CreditCharitable]
	if len(charitable) != 2 || charitable[0].AccountID != "bot_1" {
		t.Errorf("top charitable contributors wrong: %+v", charitable)
	}
	if !report.Statistics.LedgerIntegrity {
		t.Error("report statistics must carry the integrity flag")
	}
}

func TestBalance_unknownActorIsZero(t *testing.T) {
	svc := newService(t)
	balances := svc.Balance("ghost", "")
	for category, amount := range balances {
		if amount != 0 {
			t.Errorf("unknown actor balance[%s]: got %v, want 0", category, amount)
		}
	}
	if svc.AccountSummary("ghost") != nil {
		t.Error("balance query must not create an account")
	}
}

func TestAccountTypeInference(t *testing.T) {
	svc := newService(t)
	for actor, want := range map[string]ledger.AccountType{
		"bot_7":      ledger.AccountBot,
		"consumer_3": ledger.AccountConsumer,
		"scheduler":  ledger.AccountSystem,
		"governance": ledger.AccountSystem,
	} {
		if _, err := svc.RecordTransaction(ctx, ledger.KindBotWelcome, actor, "hello", nil, nil); err != nil {
			t.Fatal(err)
		}
		if got := svc.AccountSummary(actor).AccountType; got != want {
			t.Errorf("account type for %s: got %q, want %q", actor, got, want)
		}
	}
}
