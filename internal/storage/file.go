// Package storage provides persistence adapters for the credit ledger:
// a JSON snapshot file (the canonical wire format), an append-only log
// segment, and a PostgreSQL store. All implement ledger.Persister.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spraxxx/pantry-ledger/internal/ledger"
	"go.uber.org/zap"
)

// FileStore persists the ledger as a single JSON document
// ({"entries": [...], "accounts": {...}}), rewritten in full on every save.
// Simple and matches the wire contract exactly; rewrite cost grows linearly
// with ledger size; prefer LogStore for long-lived ledgers.
type FileStore struct {
	path   string
	logger *zap.Logger
}

// NewFileStore creates a FileStore writing to path.
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// Load implements ledger.Persister. A missing file yields an empty snapshot.
func (f *FileStore) Load(_ context.Context) (*ledger.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &ledger.Snapshot{Accounts: make(map[string]*ledger.Account)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger file %s: %w", f.path, err)
	}

	var snap ledger.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse ledger file %s: %w", f.path, err)
	}
	if snap.Accounts == nil {
		snap.Accounts = make(map[string]*ledger.Account)
	}
	return &snap, nil
}

// Save implements ledger.Persister. The document is written to a temp file
// in the same directory and renamed over the target, so a crash mid-write
// never leaves a truncated ledger behind.
func (f *FileStore) Save(_ context.Context, snap *ledger.Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write ledger temp file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace ledger file: %w", err)
	}

	f.logger.Debug("ledger saved",
		zap.String("path", f.path),
		zap.Int("entries", len(snap.Entries)),
	)
	return nil
}
