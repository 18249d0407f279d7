package ledger

import (
	"fmt"
	"strings"
	"time"
)

// TransactionKind classifies the business reason a ledger entry was recorded.
type TransactionKind string

const (
	KindBotWelcome        TransactionKind = "bot_welcome"
	KindTaskSubmission    TransactionKind = "task_submission"
	KindTaskCompletion    TransactionKind = "task_completion"
	KindOutputStorage     TransactionKind = "output_storage"
	KindOutputConsumption TransactionKind = "output_consumption"
	KindEnergyUsage       TransactionKind = "energy_usage"
	KindCharitableImpact  TransactionKind = "charitable_impact"
	KindGovernanceAction  TransactionKind = "governance_action"
)

// Kinds lists every valid transaction kind.
var Kinds = []TransactionKind{
	KindBotWelcome,
	KindTaskSubmission,
	KindTaskCompletion,
	KindOutputStorage,
	KindOutputConsumption,
	KindEnergyUsage,
	KindCharitableImpact,
	KindGovernanceAction,
}

// Valid reports whether k is a member of the closed kind set.
func (k TransactionKind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// CreditCategory is a tagged classification of symbolic credit tracked
// independently per account.
type CreditCategory string

const (
	CreditComputational CreditCategory = "computational"
	CreditCharitable    CreditCategory = "charitable"
	CreditEfficiency    CreditCategory = "efficiency"
	CreditTransparency  CreditCategory = "transparency"
	CreditCommunity     CreditCategory = "community"
)

// Categories lists every valid credit category.
var Categories = []CreditCategory{
	CreditComputational,
	CreditCharitable,
	CreditEfficiency,
	CreditTransparency,
	CreditCommunity,
}

// Valid reports whether c is a member of the closed category set.
func (c CreditCategory) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// CreditMap maps credit categories to amounts. Negative amounts represent
// expenditures on the spend path.
type CreditMap map[CreditCategory]float64

// Clone returns a shallow copy of m. A nil map clones to an empty map.
func (m CreditMap) Clone() CreditMap {
	out := make(CreditMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// cloneMetadata deep-copies a metadata document so callers mutating their
// map after a record call cannot alter a stored entry. Values are
// JSON-shaped: nested maps, slices, and scalars. A nil map clones to an
// empty map.
func cloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneMetadataValue(v)
	}
	return out
}

func cloneMetadataValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMetadata(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneMetadataValue(item)
		}
		return out
	default:
		return val
	}
}

// Entry is a single immutable record in the credit ledger. Once appended its
// fields are never mutated; HashCurrent is computed exactly once at creation.
type Entry struct {
	EntryID        string          `json:"entry_id"`
	Timestamp      time.Time       `json:"timestamp"`
	Kind           TransactionKind `json:"transaction_kind"`
	ActorID        string          `json:"actor_id"`
	Description    string          `json:"description"`
	CreditsAwarded CreditMap       `json:"credits_awarded"`
	Metadata       map[string]any  `json:"metadata"`

	// HashPrevious is the HashCurrent of the preceding entry, or the empty
	// string for the first entry in the chain.
	HashPrevious string `json:"hash_previous"`
	HashCurrent  string `json:"hash_current"`
}

// AccountType is inferred from the actor identifier's naming convention the
// first time an actor is seen.
type AccountType string

const (
	AccountBot      AccountType = "bot"
	AccountConsumer AccountType = "consumer"
	AccountSystem   AccountType = "system"
)

// Account aggregates the credit history of a single actor. Accounts are
// created lazily on first reference and never deleted.
type Account struct {
	AccountID   string      `json:"account_id"`
	AccountType AccountType `json:"account_type"`
	DisplayName string      `json:"display_name"`

	// Balances track the current spendable total per category; they go down
	// on the spend path. LifetimeEarned only ever accumulates.
	Balances       CreditMap `json:"balances"`
	LifetimeEarned CreditMap `json:"lifetime_earned"`

	TransactionCount int       `json:"transaction_count"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity"`
}

// clone returns a deep copy so callers can hold snapshots outside the lock.
func (a *Account) clone() *Account {
	cp := *a
	cp.Balances = a.Balances.Clone()
	cp.LifetimeEarned = a.LifetimeEarned.Clone()
	return &cp
}

// Snapshot is the durable wire format: the full entry sequence in chain
// order plus every account keyed by account ID.
type Snapshot struct {
	Entries  []*Entry            `json:"entries"`
	Accounts map[string]*Account `json:"accounts"`
}

// VerificationResult is the outcome of a full chain walk.
type VerificationResult struct {
	OK bool `json:"ok"`

	// FirstViolation is the index of the first entry whose recomputed hash
	// or chain link failed. Nil when OK.
	FirstViolation *int `json:"first_violation_index,omitempty"`

	// Reason describes the first violation in operator terms.
	Reason string `json:"reason,omitempty"`
}

// Err returns nil for a clean walk, or an error wrapping
// ErrIntegrityViolation describing the first violation.
func (r VerificationResult) Err() error {
	if r.OK {
		return nil
	}
	if r.FirstViolation != nil {
		return fmt.Errorf("%w at index %d: %s", ErrIntegrityViolation, *r.FirstViolation, r.Reason)
	}
	return fmt.Errorf("%w: %s", ErrIntegrityViolation, r.Reason)
}

// accountTypeFor maps an actor identifier to its account type using the
// pantry naming convention: bot_* and consumer_* prefixes, system otherwise.
func accountTypeFor(actorID string) AccountType {
	switch {
	case strings.HasPrefix(actorID, "bot_"):
		return AccountBot
	case strings.HasPrefix(actorID, "consumer_"):
		return AccountConsumer
	default:
		return AccountSystem
	}
}
