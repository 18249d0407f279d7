package ledger

import "errors"

var (
	// ErrChainViolation means an append carried a hash_previous that does not
	// match the current chain tail. Outside a concurrency bug this is
	// unreachable; it is fatal to the single append, not to the process.
	ErrChainViolation = errors.New("ledger: chain violation on append")

	// ErrIntegrityViolation means a chain walk found a tampered or corrupted
	// entry. It is reported, never auto-repaired.
	ErrIntegrityViolation = errors.New("ledger: integrity violation")

	// ErrPersistence means the durable flush failed after the entry was
	// committed in memory. The write is NOT rolled back; in-memory and
	// on-disk state diverge until the next successful save.
	ErrPersistence = errors.New("ledger: persistence failure after commit")

	// ErrInvalidInput covers empty actor IDs and values outside the closed
	// kind/category sets. Rejected before any mutation.
	ErrInvalidInput = errors.New("ledger: invalid input")

	// ErrInsufficientCredits rejects a spend that would overdraw a balance.
	ErrInsufficientCredits = errors.New("ledger: insufficient credits")
)
