package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tradeguard/compliance-engine/internal/config"
	"github.com/tradeguard/compliance-engine/internal/domain"
	"github.com/tradeguard/compliance-engine/internal/service"
	"github.com/tradeguard/compliance-engine/internal/storage/postgres"
	pkglogger "github.com/tradeguard/compliance-engine/pkg/logger"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "compliance",
		Short: "Pre-Trade Compliance admin CLI",
		Long: `Administrative tooling for the pre-trade compliance engine.
Manages the restricted-instrument registry, inspects trading requests
and exports the audit trail.`,
	}

	// restricted subcommands
	var restrictedCmd = &cobra.Command{
		Use:   "restricted",
		Short: "Manage the restricted-instrument registry",
	}

	var restrictedAddCmd = &cobra.Command{
		Use:   "add [symbol]",
		Short: "Add a symbol to the restricted list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			kind, _ := cmd.Flags().GetString("kind")
			actor, _ := cmd.Flags().GetString("actor")
			reason, _ := cmd.Flags().GetString("reason")
			return addRestricted(args[0], name, kind, actor, reason)
		},
	}
	restrictedAddCmd.Flags().StringP("name", "n", "", "Display name of the instrument")
	restrictedAddCmd.Flags().StringP("kind", "k", "equity", "Instrument kind (equity|bond)")
	restrictedAddCmd.Flags().StringP("actor", "a", "", "Administrator id (required)")
	restrictedAddCmd.Flags().StringP("reason", "r", "", "Reason for restricting")
	_ = restrictedAddCmd.MarkFlagRequired("actor")

	var restrictedRemoveCmd = &cobra.Command{
		Use:   "remove [symbol]",
		Short: "Remove a symbol from the restricted list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, _ := cmd.Flags().GetString("actor")
			reason, _ := cmd.Flags().GetString("reason")
			return removeRestricted(args[0], actor, reason)
		},
	}
	restrictedRemoveCmd.Flags().StringP("actor", "a", "", "Administrator id (required)")
	restrictedRemoveCmd.Flags().StringP("reason", "r", "", "Reason for lifting the restriction")
	_ = restrictedRemoveCmd.MarkFlagRequired("actor")

	var restrictedListCmd = &cobra.Command{
		Use:   "list",
		Short: "List currently restricted instruments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRestricted()
		},
	}

	restrictedCmd.AddCommand(restrictedAddCmd, restrictedRemoveCmd, restrictedListCmd)

	// requests subcommands
	var requestsCmd = &cobra.Command{
		Use:   "requests",
		Short: "Inspect trading requests",
	}

	var requestsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List trading requests as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			submitter, _ := cmd.Flags().GetString("submitter")
			page, _ := cmd.Flags().GetInt("page")
			size, _ := cmd.Flags().GetInt("size")
			return listRequests(status, submitter, page, size)
		},
	}
	requestsListCmd.Flags().StringP("status", "s", "", "Filter by status (pending|approved|rejected)")
	requestsListCmd.Flags().StringP("submitter", "u", "", "Filter by submitter id")
	requestsListCmd.Flags().IntP("page", "p", 1, "Page number")
	requestsListCmd.Flags().IntP("size", "z", 100, "Page size")

	requestsCmd.AddCommand(requestsListCmd)

	// audit subcommands
	var auditCmd = &cobra.Command{
		Use:   "audit",
		Short: "Export and maintain the audit trail",
	}

	var auditExportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export audit entries as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, _ := cmd.Flags().GetString("actor")
			action, _ := cmd.Flags().GetString("action")
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			output, _ := cmd.Flags().GetString("output")
			return exportAudit(actor, action, from, to, output)
		},
	}
	auditExportCmd.Flags().StringP("actor", "a", "", "Filter by actor id")
	auditExportCmd.Flags().String("action", "", "Filter by action name")
	auditExportCmd.Flags().String("from", "", "Start date (YYYY-MM-DD)")
	auditExportCmd.Flags().String("to", "", "End date (YYYY-MM-DD)")
	auditExportCmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")

	var auditCleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audit entries older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			maxAge, _ := cmd.Flags().GetDuration("max-age")
			actor, _ := cmd.Flags().GetString("actor")
			return cleanupAudit(maxAge, actor)
		},
	}
	auditCleanupCmd.Flags().Duration("max-age", 5*365*24*time.Hour, "Retention window")
	auditCleanupCmd.Flags().StringP("actor", "a", "", "Administrator id (required)")
	_ = auditCleanupCmd.MarkFlagRequired("actor")

	auditCmd.AddCommand(auditExportCmd, auditCleanupCmd)

	// health
	var healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check database connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkHealth()
		},
	}

	rootCmd.AddCommand(restrictedCmd, requestsCmd, auditCmd, healthCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func connect() (*postgres.DB, *postgres.Store, error) {
	cfg := config.Load()

	if err := pkglogger.Init("error", false); err != nil {
		return nil, nil, err
	}

	db, err := postgres.NewDB(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, postgres.NewStore(db.Pool()), nil
}

func addRestricted(symbol, name, kind, actor, reason string) error {
	db, store, err := connect()
	if err != nil {
		return err
	}
	defer db.Close()

	registry := service.NewRegistry(store)
	inst, err := registry.Add(context.Background(), symbol, name,
		domain.InstrumentKind(kind), actor, reason, "cli")
	if err != nil {
		return err
	}

	fmt.Printf("restricted %s (%s)\n", inst.Symbol, inst.Kind)
	return nil
}

func removeRestricted(symbol, actor, reason string) error {
	db, store, err := connect()
	if err != nil {
		return err
	}
	defer db.Close()

	registry := service.NewRegistry(store)
	if err := registry.Remove(context.Background(), symbol, actor, reason, "cli"); err != nil {
		return err
	}

	fmt.Printf("unrestricted %s\n", symbol)
	return nil
}

func listRestricted() error {
	db, store, err := connect()
	if err != nil {
		return err
	}
	defer db.Close()

	registry := service.NewRegistry(store)
	instruments, err := registry.List(context.Background())
	if err != nil {
		return err
	}

	if len(instruments) == 0 {
		fmt.Println("no restricted instruments")
		return nil
	}

	fmt.Printf("%-12s %-8s %-30s %s\n", "SYMBOL", "KIND", "NAME", "SINCE")
	for _, inst := range instruments {
		fmt.Printf("%-12s %-8s %-30s %s\n",
			inst.Symbol, inst.Kind, inst.Name, inst.CreatedAt.Format("2006-01-02"))
	}
	return nil
}

func listRequests(status, submitter string, page, size int) error {
	db, store, err := connect()
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := store.ListRequests(context.Background(),
		domain.RequestFilter{
			Status:      domain.RequestStatus(status),
			SubmitterID: submitter,
		},
		domain.SortNewestFirst,
		domain.Pagination{Page: page, PageSize: size},
	)
	if err != nil {
		return err
	}

	w := csv.NewWriter(os.Stdout)
	defer w.Flush()

	if err := w.Write([]string{
		"id", "submitter", "symbol", "side", "quantity", "currency",
		"unit_price", "total_usd", "status", "escalated", "created_at",
	}); err != nil {
		return err
	}

	for _, req := range result.Items {
		record := []string{
			req.ID,
			req.SubmitterID,
			req.Symbol,
			string(req.Side),
			strconv.FormatInt(req.Quantity, 10),
			req.Currency,
			req.UnitPrice.StringFixed(2),
			req.TotalValueUSD.StringFixed(2),
			string(req.Status),
			strconv.FormatBool(req.Escalated),
			req.CreatedAt.Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "page %d of %d total requests\n", result.Page, result.TotalCount)
	return nil
}

func exportAudit(actor, action, from, to, output string) error {
	db, store, err := connect()
	if err != nil {
		return err
	}
	defer db.Close()

	filter := domain.AuditFilter{ActorID: actor, Action: action}
	if from != "" {
		parsed, err := time.Parse("2006-01-02", from)
		if err != nil {
			return fmt.Errorf("invalid from date: %w", err)
		}
		filter.From = &parsed
	}
	if to != "" {
		parsed, err := time.Parse("2006-01-02", to)
		if err != nil {
			return fmt.Errorf("invalid to date: %w", err)
		}
		filter.To = &parsed
	}

	out := os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	w := csv.NewWriter(out)
	defer w.Flush()

	if err := w.Write([]string{
		"id", "actor", "role", "action", "target_type", "target_id",
		"details", "origin", "created_at",
	}); err != nil {
		return err
	}

	trail := service.NewAuditTrail(store)
	exported := 0

	for page := 1; ; page++ {
		result, err := trail.Query(context.Background(), filter,
			domain.Pagination{Page: page, PageSize: 500})
		if err != nil {
			return err
		}

		for _, entry := range result.Items {
			record := []string{
				entry.ID,
				entry.ActorID,
				string(entry.ActorRole),
				entry.Action,
				entry.TargetType,
				entry.TargetID,
				entry.Details,
				entry.Origin,
				entry.CreatedAt.Format(time.RFC3339),
			}
			if err := w.Write(record); err != nil {
				return err
			}
			exported++
		}

		if !result.HasMore {
			break
		}
	}

	fmt.Fprintf(os.Stderr, "exported %d audit entries\n", exported)
	return nil
}

func cleanupAudit(maxAge time.Duration, actor string) error {
	db, store, err := connect()
	if err != nil {
		return err
	}
	defer db.Close()

	trail := service.NewAuditTrail(store)
	cutoff := time.Now().Add(-maxAge)

	deleted, err := trail.Purge(context.Background(), actor, cutoff, "cli")
	if err != nil {
		return err
	}

	fmt.Printf("deleted %d audit entries older than %s\n", deleted, cutoff.Format("2006-01-02"))
	return nil
}

func checkHealth() error {
	db, _, err := connect()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database unhealthy: %w", err)
	}

	fmt.Println("database: healthy")
	return nil
}
