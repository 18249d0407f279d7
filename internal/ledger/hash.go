package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// hashEntry computes the SHA-256 content hash of an entry over a canonical
// key-sorted JSON encoding of every field except hash_current.
//
// The canonical form is frozen: encoding/json marshals map keys in sorted
// order, timestamps are RFC3339Nano in UTC, and the field names below never
// change. Altering any of this invalidates every previously computed hash.
func hashEntry(e *Entry) (string, error) {
	canonical := map[string]any{
		"entry_id":         e.EntryID,
		"timestamp":        e.Timestamp.UTC().Format(time.RFC3339Nano),
		"transaction_kind": string(e.Kind),
		"actor_id":         e.ActorID,
		"description":      e.Description,
		"credits_awarded":  e.CreditsAwarded,
		"metadata":         e.Metadata,
		"hash_previous":    e.HashPrevious,
	}

	data, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("canonicalize entry %s: %w", e.EntryID, err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// newEntryID returns an opaque unique entry identifier.
func newEntryID() string {
	return uuid.NewString()
}
