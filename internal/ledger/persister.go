package ledger

import "context"

// Persister is the durable storage contract for the full ledger state.
// Implementations live in internal/storage.
type Persister interface {
	// Load reads the persisted snapshot at startup. A missing backing store
	// returns an empty snapshot and no error; corruption returns an error.
	Load(ctx context.Context) (*Snapshot, error)

	// Save durably writes the full ledger state.
	Save(ctx context.Context, snap *Snapshot) error
}

// IncrementalPersister is implemented by adapters that can flush a single
// new entry without rewriting the whole entry sequence. The recorder prefers
// this path when available.
type IncrementalPersister interface {
	AppendEntry(ctx context.Context, entry *Entry, accounts map[string]*Account) error
}

// NopPersister keeps the ledger purely in memory. Used by tests and
// ephemeral runs.
type NopPersister struct{}

func (NopPersister) Load(context.Context) (*Snapshot, error) {
	return &Snapshot{Accounts: make(map[string]*Account)}, nil
}

func (NopPersister) Save(context.Context, *Snapshot) error { return nil }
