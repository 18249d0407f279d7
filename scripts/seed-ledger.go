//go:build ignore

// seed-ledger.go populates a running ledger instance with a realistic day of
// pantry activity: bot onboarding, task submissions and completions, energy
// draws, charitable awards, and a couple of spends. Useful for demoing the
// transparency report against non-empty data.
//
// Run with: go run scripts/seed-ledger.go [-server http://localhost:8080] [-token <jwt>]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/spraxxx/pantry-ledger/pkg/client"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "ledger base URL")
	token := flag.String("token", "", "write token, if the server requires one")
	flag.Parse()

	opts := []client.Option{}
	if *token != "" {
		opts = append(opts, client.WithBearerToken(*token))
	}
	c := client.New(*server, opts...)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	records := []client.RecordRequest{
		{Kind: "bot_welcome", ActorID: "bot_prep_1", Description: "Prep station bot onboarded", Credits: map[string]float64{"community": 1}},
		{Kind: "bot_welcome", ActorID: "bot_delivery_1", Description: "Delivery bot onboarded", Credits: map[string]float64{"community": 1}},
		{Kind: "task_submission", ActorID: "consumer_garcia", Description: "Requested meal prep for shelter dropoff", Metadata: map[string]any{"meals": 40}},
		{Kind: "task_completion", ActorID: "bot_prep_1", Description: "Prepared 40 meals", Credits: map[string]float64{"computational": 4, "charitable": 2}},
		{Kind: "energy_usage", ActorID: "bot_prep_1", Description: "Solar draw during prep shift", Credits: map[string]float64{"efficiency": 0.5}, Metadata: map[string]any{"kwh": 3.2}},
		{Kind: "task_completion", ActorID: "bot_delivery_1", Description: "Delivered meals to shelter", Credits: map[string]float64{"computational": 2, "charitable": 3}},
		{Kind: "charitable_impact", ActorID: "consumer_garcia", Description: "Sponsored the shelter run", Credits: map[string]float64{"charitable": 5}},
		{Kind: "governance_action", ActorID: "system_council", Description: "Weekly quorum vote recorded", Metadata: map[string]any{"proposal": "menu-rotation-12"}},
	}

	for _, r := range records {
		res, err := c.RecordTransaction(ctx, r)
		if err != nil {
			fmt.Fprintf(os.Stderr, "record %s/%s: %v\n", r.Kind, r.ActorID, err)
			os.Exit(1)
		}
		if res.PersistenceWarning != "" {
			fmt.Fprintf(os.Stderr, "warning: %s\n", res.PersistenceWarning)
		}
		fmt.Printf("recorded %-18s %-18s %s\n", r.Kind, r.ActorID, res.EntryID)
	}

	if _, err := c.SpendCredits(ctx, client.CreditRequest{
		ActorID: "bot_prep_1", Category: "computational", Amount: 1, Reason: "overnight model refresh",
	}); err != nil {
		fmt.Fprintf(os.Stderr, "spend: %v\n", err)
		os.Exit(1)
	}

	verify, err := c.Verify(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("chain ok: %v\n", verify.OK)

	stats, err := c.Statistics(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "statistics: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(out))
}
