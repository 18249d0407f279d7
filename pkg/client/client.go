// Package client provides the Go SDK for the pantry credit ledger HTTP API.
// It is the interface the bot, task, and governance drivers use to record
// transactions and read balances and transparency reports.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RecordRequest is the payload for RecordTransaction.
type RecordRequest struct {
	Kind        string             `json:"transaction_kind"`
	ActorID     string             `json:"actor_id"`
	Description string             `json:"description,omitempty"`
	Credits     map[string]float64 `json:"credits_awarded,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
}

// CreditRequest is the payload for AwardCredits and SpendCredits.
type CreditRequest struct {
	ActorID  string  `json:"actor_id"`
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
	Reason   string  `json:"reason,omitempty"`
}

// WriteResult holds the outcome of a write call. PersistenceWarning is
// non-empty when the entry committed in memory but the durable flush failed.
type WriteResult struct {
	EntryID            string `json:"entry_id"`
	HashCurrent        string `json:"hash_current"`
	PersistenceWarning string `json:"persistence_warning,omitempty"`
}

// BalanceResult holds an actor's per-category balances.
type BalanceResult struct {
	ActorID  string             `json:"actor_id"`
	Balances map[string]float64 `json:"balances"`
}

// AccountSummary mirrors GET /accounts/:id.
type AccountSummary struct {
	AccountID        string             `json:"account_id"`
	AccountType      string             `json:"account_type"`
	DisplayName      string             `json:"display_name"`
	Balances         map[string]float64 `json:"balances"`
	LifetimeEarned   map[string]float64 `json:"lifetime_earned"`
	TransactionCount int                `json:"transaction_count"`
	CreatedAt        time.Time          `json:"created_at"`
	LastActivity     time.Time          `json:"last_activity"`
	AccountAgeDays   float64            `json:"account_age_days"`
}

// Transaction mirrors a ledger entry as returned by the history endpoints.
type Transaction struct {
	EntryID      string             `json:"entry_id"`
	Timestamp    time.Time          `json:"timestamp"`
	Kind         string             `json:"transaction_kind"`
	ActorID      string             `json:"actor_id"`
	Description  string             `json:"description"`
	Credits      map[string]float64 `json:"credits_awarded"`
	Metadata     map[string]any     `json:"metadata"`
	HashPrevious string             `json:"hash_previous"`
	HashCurrent  string             `json:"hash_current"`
}

// VerifyResult mirrors GET /ledger/verify.
type VerifyResult struct {
	OK             bool   `json:"ok"`
	FirstViolation *int   `json:"first_violation_index,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Statistics mirrors GET /statistics.
type Statistics struct {
	TotalEntries        int                `json:"total_entries"`
	TotalAccounts       int                `json:"total_accounts"`
	TransactionCounts   map[string]int     `json:"transaction_counts"`
	TotalCreditsAwarded map[string]float64 `json:"total_credits_awarded"`
	LedgerIntegrity     bool               `json:"ledger_integrity"`
	OldestEntryAgeHours float64            `json:"oldest_entry_age_hours"`
	PersistenceDegraded bool               `json:"persistence_degraded"`
}

// Client is the ledger SDK entry point.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBearerToken attaches a write token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.bearerToken = token }
}

// New creates a Client for the ledger service at base (e.g.
// "http://localhost:8080").
func New(base string, opts ...Option) *Client {
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecordTransaction records a transaction and returns the write result.
func (c *Client) RecordTransaction(ctx context.Context, req RecordRequest) (*WriteResult, error) {
	var out WriteResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/transactions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AwardCredits awards credits in one category.
func (c *Client) AwardCredits(ctx context.Context, req CreditRequest) (*WriteResult, error) {
	var out WriteResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/credits/award", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SpendCredits spends credits in one category.
func (c *Client) SpendCredits(ctx context.Context, req CreditRequest) (*WriteResult, error) {
	var out WriteResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/credits/spend", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance fetches an actor's balances. category may be empty for all.
func (c *Client) Balance(ctx context.Context, actorID, category string) (*BalanceResult, error) {
	path := "/api/v1/accounts/" + url.PathEscape(actorID) + "/balance"
	if category != "" {
		path += "?category=" + url.QueryEscape(category)
	}
	var out BalanceResult
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Account fetches an actor's account summary.
func (c *Client) Account(ctx context.Context, actorID string) (*AccountSummary, error) {
	var out AccountSummary
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+url.PathEscape(actorID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TransactionsByActor fetches an actor's history, most recent first.
func (c *Client) TransactionsByActor(ctx context.Context, actorID string, limit int) ([]Transaction, error) {
	path := "/api/v1/accounts/" + url.PathEscape(actorID) + "/transactions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

// TransactionsByKind fetches entries of one kind, most recent first.
func (c *Client) TransactionsByKind(ctx context.Context, kind string, limit int) ([]Transaction, error) {
	path := "/api/v1/transactions?kind=" + url.QueryEscape(kind)
	if limit > 0 {
		path += "&limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

// Statistics fetches ledger-wide aggregates.
func (c *Client) Statistics(ctx context.Context) (*Statistics, error) {
	var out Statistics
	if err := c.do(ctx, http.MethodGet, "/api/v1/statistics", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TransparencyReport fetches the full accountability snapshot as a generic
// document for display.
func (c *Client) TransparencyReport(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/v1/reports/transparency", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Verify asks the service to walk the full chain.
func (c *Client) Verify(ctx context.Context) (*VerifyResult, error) {
	var out VerifyResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/ledger/verify", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do executes one JSON round trip against the ledger API.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}
