package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spraxxx/pantry-ledger/internal/ledger"
	"go.uber.org/zap"
)

// advisoryLockKey serialises concurrent appends at the database level. The
// value is arbitrary but must be consistent across all writer instances.
const advisoryLockKey = int64(7_420_118_334)

// PostgresStore persists the ledger to PostgreSQL. Entries are append-only
// rows ordered by position; accounts are upserted per save.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Migrate creates the ledger tables if they do not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_entries (
			position         BIGSERIAL PRIMARY KEY,
			entry_id         TEXT UNIQUE NOT NULL,
			ts               TIMESTAMPTZ NOT NULL,
			transaction_kind TEXT NOT NULL,
			actor_id         TEXT NOT NULL,
			description      TEXT NOT NULL,
			credits_awarded  JSONB NOT NULL,
			metadata         JSONB NOT NULL,
			hash_previous    TEXT NOT NULL,
			hash_current     TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS ledger_entries_actor_idx ON ledger_entries (actor_id);
		CREATE TABLE IF NOT EXISTS credit_accounts (
			account_id        TEXT PRIMARY KEY,
			account_type      TEXT NOT NULL,
			display_name      TEXT NOT NULL,
			balances          JSONB NOT NULL,
			lifetime_earned   JSONB NOT NULL,
			transaction_count INT NOT NULL,
			created_at        TIMESTAMPTZ NOT NULL,
			last_activity     TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}
	return nil
}

// Load implements ledger.Persister. Entries are rehydrated in position
// order, which is chain order.
func (p *PostgresStore) Load(ctx context.Context) (*ledger.Snapshot, error) {
	snap := &ledger.Snapshot{Accounts: make(map[string]*ledger.Account)}

	rows, err := p.pool.Query(ctx, `
		SELECT entry_id, ts, transaction_kind, actor_id, description,
		       credits_awarded, metadata, hash_previous, hash_current
		FROM ledger_entries ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		entry := &ledger.Entry{}
		var credits, metadata []byte
		if err := rows.Scan(
			&entry.EntryID, &entry.Timestamp, &entry.Kind, &entry.ActorID,
			&entry.Description, &credits, &metadata,
			&entry.HashPrevious, &entry.HashCurrent,
		); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		if err := json.Unmarshal(credits, &entry.CreditsAwarded); err != nil {
			return nil, fmt.Errorf("parse credits for entry %s: %w", entry.EntryID, err)
		}
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata for entry %s: %w", entry.EntryID, err)
		}
		snap.Entries = append(snap.Entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read ledger entries: %w", err)
	}

	acctRows, err := p.pool.Query(ctx, `
		SELECT account_id, account_type, display_name, balances,
		       lifetime_earned, transaction_count, created_at, last_activity
		FROM credit_accounts`)
	if err != nil {
		return nil, fmt.Errorf("query credit accounts: %w", err)
	}
	defer acctRows.Close()

	for acctRows.Next() {
		acct := &ledger.Account{}
		var balances, lifetime []byte
		if err := acctRows.Scan(
			&acct.AccountID, &acct.AccountType, &acct.DisplayName,
			&balances, &lifetime, &acct.TransactionCount,
			&acct.CreatedAt, &acct.LastActivity,
		); err != nil {
			return nil, fmt.Errorf("scan credit account: %w", err)
		}
		if err := json.Unmarshal(balances, &acct.Balances); err != nil {
			return nil, fmt.Errorf("parse balances for %s: %w", acct.AccountID, err)
		}
		if err := json.Unmarshal(lifetime, &acct.LifetimeEarned); err != nil {
			return nil, fmt.Errorf("parse lifetime earnings for %s: %w", acct.AccountID, err)
		}
		snap.Accounts[acct.AccountID] = acct
	}
	if err := acctRows.Err(); err != nil {
		return nil, fmt.Errorf("read credit accounts: %w", err)
	}
	return snap, nil
}

// AppendEntry implements ledger.IncrementalPersister: one entry insert plus
// account upserts under a transaction-scoped advisory lock.
func (p *PostgresStore) AppendEntry(ctx context.Context, entry *ledger.Entry, accounts map[string]*ledger.Account) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	credits, err := json.Marshal(entry.CreditsAwarded)
	if err != nil {
		return fmt.Errorf("marshal credits: %w", err)
	}
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries
			(entry_id, ts, transaction_kind, actor_id, description,
			 credits_awarded, metadata, hash_previous, hash_current)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (entry_id) DO NOTHING`,
		entry.EntryID, entry.Timestamp, entry.Kind, entry.ActorID,
		entry.Description, credits, metadata,
		entry.HashPrevious, entry.HashCurrent,
	); err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	for _, acct := range accounts {
		if err := upsertAccount(ctx, tx.Exec, acct); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}

	p.logger.Debug("ledger entry persisted",
		zap.String("entry_id", entry.EntryID),
		zap.String("kind", string(entry.Kind)),
	)
	return nil
}

// Save implements ledger.Persister by inserting any entries missing from the
// table and upserting all accounts. Existing rows are never updated; the
// chain is append-only on disk as well.
func (p *PostgresStore) Save(ctx context.Context, snap *ledger.Snapshot) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	for _, entry := range snap.Entries {
		credits, err := json.Marshal(entry.CreditsAwarded)
		if err != nil {
			return fmt.Errorf("marshal credits: %w", err)
		}
		metadata, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO ledger_entries
				(entry_id, ts, transaction_kind, actor_id, description,
				 credits_awarded, metadata, hash_previous, hash_current)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (entry_id) DO NOTHING`,
			entry.EntryID, entry.Timestamp, entry.Kind, entry.ActorID,
			entry.Description, credits, metadata,
			entry.HashPrevious, entry.HashCurrent,
		); err != nil {
			return fmt.Errorf("insert ledger entry %s: %w", entry.EntryID, err)
		}
	}

	for _, acct := range snap.Accounts {
		if err := upsertAccount(ctx, tx.Exec, acct); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

type execFunc func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)

func upsertAccount(ctx context.Context, exec execFunc, acct *ledger.Account) error {
	balances, err := json.Marshal(acct.Balances)
	if err != nil {
		return fmt.Errorf("marshal balances: %w", err)
	}
	lifetime, err := json.Marshal(acct.LifetimeEarned)
	if err != nil {
		return fmt.Errorf("marshal lifetime earnings: %w", err)
	}

	if _, err := exec(ctx, `
		INSERT INTO credit_accounts
			(account_id, account_type, display_name, balances,
			 lifetime_earned, transaction_count, created_at, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account_id) DO UPDATE SET
			balances = EXCLUDED.balances,
			lifetime_earned = EXCLUDED.lifetime_earned,
			transaction_count = EXCLUDED.transaction_count,
			last_activity = EXCLUDED.last_activity`,
		acct.AccountID, acct.AccountType, acct.DisplayName,
		balances, lifetime, acct.TransactionCount,
		acct.CreatedAt, acct.LastActivity,
	); err != nil {
		return fmt.Errorf("upsert account %s: %w", acct.AccountID, err)
	}
	return nil
}
