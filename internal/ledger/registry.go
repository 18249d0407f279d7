package ledger

import (
	"sort"
	"time"
)

// Registry maps actor identifiers to their aggregate credit accounts.
// Accounts are created lazily by the recorder and never deleted. Like Store,
// it relies on the Service lock for concurrency safety.
type Registry struct {
	accounts map[string]*Account
}

// NewRegistry returns an empty account registry.
func NewRegistry() *Registry {
	return &Registry{accounts: make(map[string]*Account)}
}

// apply credits the given amounts to the actor's account, creating it on
// first sight. Positive amounts accumulate into both balances and lifetime
// totals; negative amounts (spend path) only reduce balances.
func (r *Registry) apply(actorID string, credits CreditMap, at time.Time) {
	acct, ok := r.accounts[actorID]
	if !ok {
		acct = &Account{
			AccountID:      actorID,
			AccountType:    accountTypeFor(actorID),
			DisplayName:    actorID,
			Balances:       make(CreditMap),
			LifetimeEarned: make(CreditMap),
			CreatedAt:      at,
		}
		r.accounts[actorID] = acct
	}

	for category, amount := range credits {
		acct.Balances[category] += amount
		if amount > 0 {
			acct.LifetimeEarned[category] += amount
		}
	}

	acct.TransactionCount++
	acct.LastActivity = at
}

// Balance returns the actor's balance for one category, or for every
// category when category is empty. Unknown actors report zero balances.
func (r *Registry) Balance(actorID string, category CreditCategory) CreditMap {
	acct, ok := r.accounts[actorID]
	if !ok {
		if category != "" {
			return CreditMap{category: 0}
		}
		out := make(CreditMap, len(Categories))
		for _, c := range Categories {
			out[c] = 0
		}
		return out
	}

	if category != "" {
		return CreditMap{category: acct.Balances[category]}
	}
	out := make(CreditMap, len(Categories))
	for _, c := range Categories {
		out[c] = acct.Balances[c]
	}
	return out
}

// Summary returns a snapshot of the actor's account, or nil when the actor
// has never appeared in the ledger.
func (r *Registry) Summary(actorID string) *Account {
	acct, ok := r.accounts[actorID]
	if !ok {
		return nil
	}
	return acct.clone()
}

// TopByCategory returns up to limit accounts ordered by lifetime earnings in
// the given category, descending. Ties break on earliest creation time.
func (r *Registry) TopByCategory(category CreditCategory, limit int) []*Account {
	ranked := make([]*Account, 0, len(r.accounts))
	for _, acct := range r.accounts {
		if acct.LifetimeEarned[category] > 0 {
			ranked = append(ranked, acct)
		}
	}

	sort.Slice(ranked, func(i, j int) bool {
		ei, ej := ranked[i].LifetimeEarned[category], ranked[j].LifetimeEarned[category]
		if ei != ej {
			return ei > ej
		}
		return ranked[i].CreatedAt.Before(ranked[j].CreatedAt)
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	out := make([]*Account, len(ranked))
	for i, acct := range ranked {
		out[i] = acct.clone()
	}
	return out
}

// Len returns the number of accounts.
func (r *Registry) Len() int {
	return len(r.accounts)
}

// snapshot deep-copies every account for persistence.
func (r *Registry) snapshot() map[string]*Account {
	out := make(map[string]*Account, len(r.accounts))
	for id, acct := range r.accounts {
		out[id] = acct.clone()
	}
	return out
}

// replace swaps in rehydrated accounts at load time.
func (r *Registry) replace(accounts map[string]*Account) {
	if accounts == nil {
		accounts = make(map[string]*Account)
	}
	for _, acct := range accounts {
		if acct.Balances == nil {
			acct.Balances = make(CreditMap)
		}
		if acct.LifetimeEarned == nil {
			acct.LifetimeEarned = make(CreditMap)
		}
	}
	r.accounts = accounts
}
