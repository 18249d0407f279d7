package storage

import (
	"bufio"
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

// LogStore persists entries to an append-only JSONL segment plus a compact
// account snapshot rewritten per save. Each transaction writes only its own
// entry line, so save cost stays constant as the chain grows. Load replays
// the segment in file order, which is chain order.
type LogStore struct {
	dir    string
	logger *zap.Logger
}

const (
	segmentFile  = "entries.log"
	accountsFile = "accounts.json"
)

// NewLogStore creates a LogStore rooted at dir.
func NewLogStore(dir string, logger *zap.Logger) *LogStore {
	return &LogStore{dir: dir, logger: logger}
}

// Load implements ledger.Persister.
func (l *LogStore) Load(_ context.Context) (*ledger.Snapshot, error) {
	snap := &ledger.Snapshot{Accounts: make(map[string]*ledger.Account)}

	seg, err := os.Open(filepath.Join(l.dir, segmentFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("open entry segment: %w", err)
	}
	if err == nil {
		defer seg.Close()
		scanner := bufio.NewScanner(seg)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			if len(scanner.Bytes()) == 0 {
				continue
			}
			var entry ledger.Entry
			if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
				return nil, fmt.Errorf("parse entry segment line %d: %w", line, err)
			}
			snap.Entries = append(snap.Entries, &entry)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read entry segment: %w", err)
		}
	}

	data, err := os.ReadFile(filepath.Join(l.dir, accountsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read account snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &snap.Accounts); err != nil {
		return nil, fmt.Errorf("parse account snapshot: %w", err)
	}
	return snap, nil
}

// AppendEntry implements ledger.IncrementalPersister: one JSONL line for the
// new entry, then the rewritten account snapshot.
func (l *LogStore) AppendEntry(_ context.Context, entry *ledger.Entry, accounts map[string]*ledger.Account) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry %s: %w", entry.EntryID, err)
	}

	seg, err := os.OpenFile(filepath.Join(l.dir, segmentFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open entry segment: %w", err)
	}
	if _, err := seg.Write(append(line, '\n')); err != nil {
		seg.Close()
		return fmt.Errorf("append entry %s: %w", entry.EntryID, err)
	}
	if err := seg.Close(); err != nil {
		return fmt.Errorf("close entry segment: %w", err)
	}

	return l.writeAccounts(accounts)
}

// Save implements ledger.Persister by rewriting the full segment. Used for
// compaction and by callers that bypass the incremental path.
func (l *LogStore) Save(_ context.Context, snap *ledger.Snapshot) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	path := filepath.Join(l.dir, segmentFile)
	tmp := path + ".tmp"
	seg, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open entry segment temp: %w", err)
	}
	w := bufio.NewWriter(seg)
	for _, entry := range snap.Entries {
		line, err := json.Marshal(entry)
		if err != nil {
			seg.Close()
			return fmt.Errorf("marshal entry %s: %w", entry.EntryID, err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			seg.Close()
			return fmt.Errorf("write entry segment: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		seg.Close()
		return fmt.Errorf("flush entry segment: %w", err)
	}
	if err := seg.Close(); err != nil {
		return fmt.Errorf("close entry segment: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace entry segment: %w", err)
	}

	return l.writeAccounts(snap.Accounts)
}

func (l *LogStore) writeAccounts(accounts map[string]*ledger.Account) error {
	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal accounts: %w", err)
	}

	path := filepath.Join(l.dir, accountsFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write account snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace account snapshot: %w", err)
	}
	return nil
}
