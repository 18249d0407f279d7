// Package ledger implements the tamper-evident credit ledger: an
// append-only, hash-chained transaction log with per-account balance
// aggregates.
//
// The chain starts at an empty hash_previous sentinel. Every entry records
// the SHA-256 of its predecessor, so removal, reordering, or in-place edits
// are detectable via VerifyChain. The write path is serialised end-to-end
// behind a single exclusive lock: the chain hash of entry N depends on entry
// N-1, and two writers reading the same tail would both claim the same
// hash_previous.
package ledger

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultHistoryLimit caps per-actor and per-kind history queries when the
// caller does not supply a limit.
const DefaultHistoryLimit = 50

// FlushRecordFunc is an optional callback for recording persistence flush
// outcomes (wired to Prometheus in the API layer).
type FlushRecordFunc func(ok bool)

// TransactionRecordFunc is an optional callback invoked once per committed
// transaction.
type TransactionRecordFunc func(kind TransactionKind)

// Service is the ledger recorder and query surface. All mutation goes
// through RecordTransaction (and its Award/Spend wrappers); reads operate on
// snapshots taken under the shared lock.
type Service struct {
	mu       sync.RWMutex
	store    *Store
	registry *Registry
	verifier *Verifier
	persist  Persister
	logger   *zap.Logger

	saveTimeout time.Duration
	now         func() time.Time

	// degraded is set when a flush fails (or the startup load was corrupt)
	// and cleared by the next successful save. Surfaced in Statistics so
	// report consumers can see divergence risk without reading logs.
	degraded bool

	onFlush  FlushRecordFunc
	onRecord TransactionRecordFunc
}

// Option configures a Service.
type Option func(*Service)

// WithSaveTimeout bounds the persistence flush on each write.
func WithSaveTimeout(d time.Duration) Option {
	return func(s *Service) { s.saveTimeout = d }
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithFlushRecorder sets the flush outcome callback.
func WithFlushRecorder(fn FlushRecordFunc) Option {
	return func(s *Service) { s.onFlush = fn }
}

// WithTransactionRecorder sets the per-transaction callback.
func WithTransactionRecorder(fn TransactionRecordFunc) Option {
	return func(s *Service) { s.onRecord = fn }
}

// New creates a Service and loads any existing ledger from the persister.
//
// A corrupt or unreadable backing store is a data-loss risk, not a startup
// failure: the service starts empty, logs the condition at error level, and
// flags itself degraded until the next successful save.
func New(ctx context.Context, persist Persister, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:       NewStore(),
		registry:    NewRegistry(),
		verifier:    NewVerifier(logger),
		persist:     persist,
		logger:      logger,
		saveTimeout: 5 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	snap, err := persist.Load(ctx)
	if err != nil {
		s.logger.Error("ledger load failed, starting empty: persisted history is unreadable",
			zap.Error(err),
		)
		s.degraded = true
		return s
	}

	s.store.replace(snap.Entries)
	s.registry.replace(snap.Accounts)
	if len(snap.Entries) > 0 {
		s.logger.Info("ledger loaded",
			zap.Int("entries", len(snap.Entries)),
			zap.Int("accounts", s.registry.Len()),
			zap.String("tail", s.store.TailHash()),
		)
	}
	return s
}

// RecordTransaction appends a new entry to the chain and updates the actor's
// account. It returns the committed entry.
//
// Failure semantics: invalid input and chain violations abort before any
// state changes. A persistence failure after the in-memory commit returns
// the committed entry together with an error wrapping ErrPersistence; the
// write is deliberately not rolled back (availability over durability).
func (s *Service) RecordTransaction(ctx context.Context, kind TransactionKind, actorID, description string, credits CreditMap, metadata map[string]any) (*Entry, error) {
	if actorID == "" {
		return nil, fmt.Errorf("%w: actor_id must not be empty", ErrInvalidInput)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown transaction kind %q", ErrInvalidInput, kind)
	}
	for category, amount := range credits {
		if !category.Valid() {
			return nil, fmt.Errorf("%w: unknown credit category %q", ErrInvalidInput, category)
		}
		if math.IsNaN(amount) || math.IsInf(amount, 0) {
			return nil, fmt.Errorf("%w: credit amount for %q is not a finite number", ErrInvalidInput, category)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.commit(kind, actorID, description, credits, metadata)
	if err != nil {
		return nil, err
	}
	return entry, s.flush(ctx, entry)
}

// commit builds, hashes, appends, and aggregates one entry. Callers must
// hold the write lock.
func (s *Service) commit(kind TransactionKind, actorID, description string, credits CreditMap, metadata map[string]any) (*Entry, error) {
	// Timestamp resolution is capped at microseconds: TIMESTAMPTZ stores
	// nothing finer, so a finer-grained hash would fail rehashing after a
	// reload from Postgres.
	entry := &Entry{
		EntryID:        newEntryID(),
		Timestamp:      s.now().UTC().Truncate(time.Microsecond),
		Kind:           kind,
		ActorID:        actorID,
		Description:    description,
		CreditsAwarded: credits.Clone(),
		Metadata:       cloneMetadata(metadata),
		HashPrevious:   s.store.TailHash(),
	}

	hash, err := hashEntry(entry)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	entry.HashCurrent = hash

	if _, err := s.store.Append(entry); err != nil {
		return nil, err
	}
	s.registry.apply(actorID, entry.CreditsAwarded, entry.Timestamp)

	s.logger.Info("transaction recorded",
		zap.String("entry_id", entry.EntryID),
		zap.String("kind", string(kind)),
		zap.String("actor_id", actorID),
	)
	if s.onRecord != nil {
		s.onRecord(kind)
	}
	return entry, nil
}

// flush persists the full ledger state after a commit. Callers must hold
// the write lock.
func (s *Service) flush(ctx context.Context, entry *Entry) error {
	saveCtx, cancel := context.WithTimeout(ctx, s.saveTimeout)
	defer cancel()

	var err error
	if inc, ok := s.persist.(IncrementalPersister); ok {
		err = inc.AppendEntry(saveCtx, entry, s.registry.snapshot())
	} else {
		err = s.persist.Save(saveCtx, &Snapshot{
			Entries:  s.store.Entries(),
			Accounts: s.registry.snapshot(),
		})
	}

	if s.onFlush != nil {
		s.onFlush(err == nil)
	}
	if err != nil {
		s.degraded = true
		s.logger.Warn("ledger flush failed: in-memory state is ahead of durable storage",
			zap.String("entry_id", entry.EntryID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.degraded = false
	return nil
}

// AwardCredits records a charitable_impact transaction crediting a single
// category.
func (s *Service) AwardCredits(ctx context.Context, actorID string, category CreditCategory, amount float64, reason string) (*Entry, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: unknown credit category %q", ErrInvalidInput, category)
	}
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, fmt.Errorf("%w: award amount must be positive", ErrInvalidInput)
	}
	return s.RecordTransaction(ctx, KindCharitableImpact, actorID,
		fmt.Sprintf("Credit award: %s", reason),
		CreditMap{category: amount},
		map[string]any{"award_reason": reason, "credit_type": string(category)},
	)
}

// SpendCredits records an expenditure as a negative-amount entry. The
// balance decreases; lifetime earnings do not. Overdraft is rejected before
// any mutation.
func (s *Service) SpendCredits(ctx context.Context, actorID string, category CreditCategory, amount float64, reason string) (*Entry, error) {
	if actorID == "" {
		return nil, fmt.Errorf("%w: actor_id must not be empty", ErrInvalidInput)
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%w: unknown credit category %q", ErrInvalidInput, category)
	}
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, fmt.Errorf("%w: spend amount must be positive", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registry.Balance(actorID, category)[category] < amount {
		return nil, fmt.Errorf("%w: %s balance below %v for %s",
			ErrInsufficientCredits, category, amount, actorID)
	}

	entry, err := s.commit(KindOutputConsumption, actorID,
		fmt.Sprintf("Credit spend: %s", reason),
		CreditMap{category: -amount},
		map[string]any{"spend_reason": reason, "credit_type": string(category)},
	)
	if err != nil {
		return nil, err
	}
	return entry, s.flush(ctx, entry)
}

// Balance returns the actor's balances. An empty category returns every
// category.
func (s *Service) Balance(actorID string, category CreditCategory) CreditMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.Balance(actorID, category)
}

// AccountSummary returns a snapshot of the actor's account, or nil for an
// actor the ledger has never seen.
func (s *Service) AccountSummary(actorID string) *Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.Summary(actorID)
}

// TopByCategory returns up to limit accounts ranked by lifetime earnings in
// the given category.
func (s *Service) TopByCategory(category CreditCategory, limit int) []*Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.TopByCategory(category, limit)
}

// TransactionsByActor returns the actor's entries, most recent first.
func (s *Service) TransactionsByActor(actorID string, limit int) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterRecent(s.store.Entries(), limit, func(e *Entry) bool {
		return e.ActorID == actorID
	})
}

// TransactionsByKind returns entries of one kind, most recent first.
func (s *Service) TransactionsByKind(kind TransactionKind, limit int) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterRecent(s.store.Entries(), limit, func(e *Entry) bool {
		return e.Kind == kind
	})
}

// filterRecent collects matching entries in reverse insertion order, then
// stable-sorts by timestamp descending so clock skew between entries cannot
// reorder ties.
func filterRecent(entries []*Entry, limit int, match func(*Entry) bool) []*Entry {
	var out []*Entry
	for i := len(entries) - 1; i >= 0; i-- {
		if match(entries[i]) {
			out = append(out, entries[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// VerifyChain walks the full chain under the read lock.
func (s *Service) VerifyChain() VerificationResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verifier.VerifyChain(s.store.Entries())
}

// Statistics is a consistent read-side aggregate over the whole ledger.
type Statistics struct {
	TotalEntries        int                     `json:"total_entries"`
	TotalAccounts       int                     `json:"total_accounts"`
	TransactionCounts   map[TransactionKind]int `json:"transaction_counts"`
	TotalCreditsAwarded CreditMap               `json:"total_credits_awarded"`
	LedgerIntegrity     bool                    `json:"ledger_integrity"`
	OldestEntryAgeHours float64                 `json:"oldest_entry_age_hours"`
	PersistenceDegraded bool                    `json:"persistence_degraded"`
}

// Statistics computes ledger-wide aggregates under a single read lock so a
// concurrent write can never produce a half-updated view.
func (s *Service) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statisticsLocked()
}

func (s *Service) statisticsLocked() Statistics {
	entries := s.store.Entries()

	counts := make(map[TransactionKind]int)
	totals := make(CreditMap, len(Categories))
	for _, c := range Categories {
		totals[c] = 0
	}
	for _, e := range entries {
		counts[e.Kind]++
		for category, amount := range e.CreditsAwarded {
			totals[category] += amount
		}
	}

	var oldestHours float64
	if len(entries) > 0 {
		oldestHours = s.now().Sub(entries[0].Timestamp).Hours()
	}

	return Statistics{
		TotalEntries:        len(entries),
		TotalAccounts:       s.registry.Len(),
		TransactionCounts:   counts,
		TotalCreditsAwarded: totals,
		LedgerIntegrity:     s.verifier.VerifyChain(entries).OK,
		OldestEntryAgeHours: oldestHours,
		PersistenceDegraded: s.degraded,
	}
}

// Contributor is one row in the transparency report's per-category ranking.
type Contributor struct {
	AccountID   string  `json:"account_id"`
	DisplayName string  `json:"display_name"`
	TotalEarned float64 `json:"total_earned"`
}

// TransparencyReport is the full public accountability snapshot.
type TransparencyReport struct {
	GeneratedAt           time.Time                        `json:"report_generated_at"`
	Statistics            Statistics                       `json:"ledger_statistics"`
	TopContributors       map[CreditCategory][]Contributor `json:"top_contributors_by_credit_type"`
	Verification          VerificationResult               `json:"chain_verification"`
	TotalCharitableImpact float64                          `json:"total_charitable_impact"`
}

// TransparencyReport builds the accountability snapshot, including a fresh
// chain verification, under a single read lock.
func (s *Service) TransparencyReport() TransparencyReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.store.Entries()

	top := make(map[CreditCategory][]Contributor, len(Categories))
	for _, category := range Categories {
		ranked := s.registry.TopByCategory(category, 10)
		contributors := make([]Contributor, 0, len(ranked))
		for _, acct := range ranked {
			contributors = append(contributors, Contributor{
				AccountID:   acct.AccountID,
				DisplayName: acct.DisplayName,
				TotalEarned: acct.LifetimeEarned[category],
			})
		}
		top[category] = contributors
	}

	var charitable float64
	for _, e := range entries {
		charitable += e.CreditsAwarded[CreditCharitable]
	}

	return TransparencyReport{
		GeneratedAt:           s.now().UTC(),
		Statistics:            s.statisticsLocked(),
		TopContributors:       top,
		Verification:          s.verifier.VerifyChain(entries),
		TotalCharitableImpact: charitable,
	}
}

// Len returns the number of entries in the chain.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Len()
}

// TailHash returns the current chain tip, or the empty string for an empty
// ledger.
func (s *Service) TailHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.TailHash()
}
