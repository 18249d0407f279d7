package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/spraxxx/pantry-ledger/internal/api"
	"github.com/spraxxx/pantry-ledger/pkg/client"
)

// version is overridden at release time via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL  string
	writeToken string
	cfgFile    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Pantry credit ledger CLI",
	Long: `ledgerctl is the command-line interface for the pantry credit ledger.

It records credit transactions, queries balances and transaction history,
and produces statistics and transparency reports from a running ledgerd.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.ledgerctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if writeToken == "" {
			writeToken = viper.GetString("write_token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.ledgerctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "ledgerd base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&writeToken, "token", "", "bearer token for write endpoints")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(awardCmd)
	rootCmd.AddCommand(spendCmd)
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() *client.Client {
	opts := []client.Option{}
	if writeToken != "" {
		opts = append(opts, client.WithBearerToken(writeToken))
	}
	return client.New(serverURL, opts...)
}

func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// ── record ───────────────────────────────────────────────────────────────────

var (
	recordKind        string
	recordActor       string
	recordDescription string
	recordCredits     map[string]string
	recordMetadata    map[string]string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a transaction in the ledger",
	Example: `  ledgerctl record --kind task_completion --actor bot_1 \
      --description "Task finished" --credit computational=2.0 --credit charitable=1.0`,
	RunE: func(cmd *cobra.Command, args []string) error {
		credits := make(map[string]float64, len(recordCredits))
		for category, raw := range recordCredits {
			var amount float64
			if _, err := fmt.Sscanf(raw, "%g", &amount); err != nil {
				return fmt.Errorf("credit %s: %q is not a number", category, raw)
			}
			credits[category] = amount
		}
		metadata := make(map[string]any, len(recordMetadata))
		for k, v := range recordMetadata {
			metadata[k] = v
		}

		ctx, cancel := cmdContext()
		defer cancel()

		res, err := newClient().RecordTransaction(ctx, client.RecordRequest{
			Kind:        recordKind,
			ActorID:     recordActor,
			Description: recordDescription,
			Credits:     credits,
			Metadata:    metadata,
		})
		if err != nil {
			return err
		}
		printWriteResult(res)
		return nil
	},
}

func init() {
	recordCmd.Flags().StringVar(&recordKind, "kind", "", "transaction kind (required)")
	recordCmd.Flags().StringVar(&recordActor, "actor", "", "actor ID (required)")
	recordCmd.Flags().StringVar(&recordDescription, "description", "", "human-readable description")
	recordCmd.Flags().StringToStringVar(&recordCredits, "credit", nil, "credit to award, category=amount (repeatable)")
	recordCmd.Flags().StringToStringVar(&recordMetadata, "meta", nil, "metadata key=value (repeatable)")
	_ = recordCmd.MarkFlagRequired("kind")
	_ = recordCmd.MarkFlagRequired("actor")
}

// ── award / spend ────────────────────────────────────────────────────────────

var (
	creditActor    string
	creditCategory string
	creditAmount   float64
	creditReason   string
)

func addCreditFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&creditActor, "actor", "", "actor ID (required)")
	cmd.Flags().StringVar(&creditCategory, "category", "", "credit category (required)")
	cmd.Flags().Float64Var(&creditAmount, "amount", 0, "credit amount (required)")
	cmd.Flags().StringVar(&creditReason, "reason", "", "reason for the operation")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("amount")
}

var awardCmd = &cobra.Command{
	Use:   "award",
	Short: "Award credits to an actor",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		res, err := newClient().AwardCredits(ctx, client.CreditRequest{
			ActorID: creditActor, Category: creditCategory,
			Amount: creditAmount, Reason: creditReason,
		})
		if err != nil {
			return err
		}
		printWriteResult(res)
		return nil
	},
}

var spendCmd = &cobra.Command{
	Use:   "spend",
	Short: "Spend credits from an actor's balance",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		res, err := newClient().SpendCredits(ctx, client.CreditRequest{
			ActorID: creditActor, Category: creditCategory,
			Amount: creditAmount, Reason: creditReason,
		})
		if err != nil {
			return err
		}
		printWriteResult(res)
		return nil
	},
}

func init() {
	addCreditFlags(awardCmd)
	addCreditFlags(spendCmd)
}

func printWriteResult(res *client.WriteResult) {
	fmt.Printf("recorded %s\n", res.EntryID)
	if res.PersistenceWarning != "" {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", res.PersistenceWarning)
	}
}

// ── balance / account ────────────────────────────────────────────────────────

var balanceCategory string

var balanceCmd = &cobra.Command{
	Use:   "balance <actor-id>",
	Short: "Show an actor's credit balances",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		res, err := newClient().Balance(ctx, args[0], balanceCategory)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CATEGORY\tBALANCE")
		for _, category := range sortedKeys(res.Balances) {
			fmt.Fprintf(w, "%s\t%g\n", category, res.Balances[category])
		}
		return w.Flush()
	},
}

func init() {
	balanceCmd.Flags().StringVar(&balanceCategory, "category", "", "restrict to one credit category")
}

var accountCmd = &cobra.Command{
	Use:   "account <actor-id>",
	Short: "Show an actor's full account summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		acct, err := newClient().Account(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Account:       %s (%s)\n", acct.AccountID, acct.AccountType)
		fmt.Printf("Transactions:  %d\n", acct.TransactionCount)
		fmt.Printf("Created:       %s (%.1f days ago)\n", acct.CreatedAt.Format(time.RFC3339), acct.AccountAgeDays)
		fmt.Printf("Last activity: %s\n", acct.LastActivity.Format(time.RFC3339))
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CATEGORY\tBALANCE\tLIFETIME")
		for _, category := range sortedKeys(acct.Balances) {
			fmt.Fprintf(w, "%s\t%g\t%g\n", category, acct.Balances[category], acct.LifetimeEarned[category])
		}
		return w.Flush()
	},
}

// ── history ──────────────────────────────────────────────────────────────────

var (
	historyActor string
	historyKind  string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent transactions by actor or by kind",
	RunE: func(cmd *cobra.Command, args []string) error {
		if (historyActor == "") == (historyKind == "") {
			return fmt.Errorf("exactly one of --actor or --kind is required")
		}

		ctx, cancel := cmdContext()
		defer cancel()

		var (
			txs []client.Transaction
			err error
		)
		if historyActor != "" {
			txs, err = newClient().TransactionsByActor(ctx, historyActor, historyLimit)
		} else {
			txs, err = newClient().TransactionsByKind(ctx, historyKind, historyLimit)
		}
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tKIND\tACTOR\tDESCRIPTION")
		for _, tx := range txs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				tx.Timestamp.Format(time.RFC3339), tx.Kind, tx.ActorID, tx.Description)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyActor, "actor", "", "filter by actor ID")
	historyCmd.Flags().StringVar(&historyKind, "kind", "", "filter by transaction kind")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "maximum entries to return (default 50)")
}

// ── stats / report / verify ──────────────────────────────────────────────────

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ledger-wide statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		stats, err := newClient().Statistics(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Entries:           %d\n", stats.TotalEntries)
		fmt.Printf("Accounts:          %d\n", stats.TotalAccounts)
		fmt.Printf("Integrity:         %v\n", stats.LedgerIntegrity)
		fmt.Printf("Oldest entry age:  %.1fh\n", stats.OldestEntryAgeHours)
		if stats.PersistenceDegraded {
			fmt.Println("Persistence:       DEGRADED (in-memory state is ahead of durable storage)")
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CATEGORY\tTOTAL AWARDED")
		for _, category := range sortedKeys(stats.TotalCreditsAwarded) {
			fmt.Fprintf(w, "%s\t%g\n", category, stats.TotalCreditsAwarded[category])
		}
		return w.Flush()
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the full transparency report as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		report, err := newClient().TransparencyReport(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the integrity of the hash chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		res, err := newClient().Verify(ctx)
		if err != nil {
			return err
		}
		if res.OK {
			fmt.Println("chain OK")
			return nil
		}
		return fmt.Errorf("chain VIOLATION at index %d: %s", *res.FirstViolation, res.Reason)
	},
}

// ── token / version ──────────────────────────────────────────────────────────

var (
	tokenSecret  string
	tokenSubject string
	tokenTTL     int64
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a write token for the ledger API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenSecret == "" {
			tokenSecret = viper.GetString("write_secret")
		}
		if tokenSecret == "" {
			return fmt.Errorf("--secret is required (or set write_secret in config)")
		}
		token, err := api.NewWriteToken(tokenSecret, tokenSubject, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "shared write secret configured on ledgerd")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "ledgerctl", "token subject")
	tokenCmd.Flags().Int64Var(&tokenTTL, "ttl", 3600, "token lifetime in seconds (0 = no expiry)")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ledgerctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
