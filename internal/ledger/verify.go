package ledger

import (
	"fmt"

	"go.uber.org/zap"
)

// Verifier walks the chain recomputing hashes and checking links. It never
// mutates state and is safe to run at any time the Service read lock allows.
type Verifier struct {
	logger *zap.Logger
}

// NewVerifier creates a Verifier. The logger is injected so tests can
// capture output deterministically.
func NewVerifier(logger *zap.Logger) *Verifier {
	return &Verifier{logger: logger}
}

// VerifyChain checks every entry in order and reports the first violation.
//
// Two independent checks per entry: the stored hash_previous must equal the
// predecessor's stored hash_current (a mismatch means entries were removed,
// reordered, or inserted between the two), and the recomputed content hash
// must equal the stored hash_current (a mismatch means the entry itself was
// altered after the fact).
func (v *Verifier) VerifyChain(entries []*Entry) VerificationResult {
	for i, entry := range entries {
		if i == 0 {
			if entry.HashPrevious != "" {
				return v.violation(i, "first entry has non-empty hash_previous")
			}
		} else if entry.HashPrevious != entries[i-1].HashCurrent {
			return v.violation(i, fmt.Sprintf("chain link broken before entry %s", entry.EntryID))
		}

		recomputed, err := hashEntry(entry)
		if err != nil {
			return v.violation(i, fmt.Sprintf("entry %s cannot be rehashed: %v", entry.EntryID, err))
		}
		if recomputed != entry.HashCurrent {
			return v.violation(i, fmt.Sprintf("entry %s content hash mismatch", entry.EntryID))
		}
	}
	return VerificationResult{OK: true}
}

func (v *Verifier) violation(index int, reason string) VerificationResult {
	v.logger.Error("ledger integrity violation",
		zap.Int("index", index),
		zap.String("reason", reason),
	)
	idx := index
	return VerificationResult{OK: false, FirstViolation: &idx, Reason: reason}
}
