// Command worklog-engine consolidates raw activity exports into durable,
// customer-linked session and work item records.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opsledger/worklog-engine/pkg/config"
	"github.com/opsledger/worklog-engine/pkg/database"
	"github.com/opsledger/worklog-engine/pkg/ingest"
	"github.com/opsledger/worklog-engine/pkg/llm"
	"github.com/opsledger/worklog-engine/pkg/logging"
	"github.com/opsledger/worklog-engine/pkg/models"
	"github.com/opsledger/worklog-engine/pkg/repositories"
	"github.com/opsledger/worklog-engine/pkg/services"
	"github.com/opsledger/worklog-engine/pkg/syncro"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "worklog-engine",
		Short:         "Consolidates activity logs into customer-linked work records",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	root.AddCommand(
		newRunCmd(&configPath),
		newIngestCmd(&configPath),
		newLinkCmd(&configPath),
		newAnalyzeCmd(&configPath),
		newWorkItemsCmd(&configPath),
		newRosterCmd(&configPath),
		newMigrateCmd(&configPath),
	)
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: ingest, link, analyze, build work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, func(ctx context.Context, a *app) error {
				summary, err := a.consolidation.Run(ctx)
				if err != nil {
					return err
				}
				return printSummary(summary)
			})
		},
	}
}

func newIngestCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Ingest new source files into sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, func(ctx context.Context, a *app) error {
				summary := &services.RunSummary{}
				if err := a.consolidation.Ingest(ctx, summary); err != nil {
					return err
				}
				return printSummary(summary)
			})
		},
	}
}

func newLinkCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "link",
		Short: "Resolve unlinked sessions against the customer roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, func(ctx context.Context, a *app) error {
				summary := &services.RunSummary{}
				if err := a.consolidation.Link(ctx, summary); err != nil {
					return err
				}
				return printSummary(summary)
			})
		},
	}
}

func newAnalyzeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Generate titles and summaries for linked sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, func(ctx context.Context, a *app) error {
				summary := &services.RunSummary{}
				if err := a.consolidation.Analyze(ctx, summary); err != nil {
					return err
				}
				return printSummary(summary)
			})
		},
	}
}

func newWorkItemsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "workitems",
		Short: "Rebuild the work item set from linked sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, func(ctx context.Context, a *app) error {
				summary := &services.RunSummary{}
				if err := a.consolidation.BuildWorkItems(ctx, summary); err != nil {
					return err
				}
				return printSummary(summary)
			})
		},
	}
}

func newRosterCmd(configPath *string) *cobra.Command {
	roster := &cobra.Command{
		Use:   "roster",
		Short: "Manage the cached customer roster",
	}
	roster.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Fetch and store a fresh roster snapshot regardless of cache policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, func(ctx context.Context, a *app) error {
				fresh, err := a.roster.Refresh(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("roster refreshed: %d customers\n", len(fresh.Customers))
				return nil
			})
		},
	})
	return roster
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath, Version)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Env)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			return runMigrations(cfg, logger)
		},
	}
}

// app holds the wired service graph for one command invocation.
type app struct {
	cfg           *config.Config
	logger        *zap.Logger
	db            *database.DB
	consolidation services.ConsolidationService
	roster        services.RosterService
}

// withApp wires the full dependency graph, runs fn, and tears down.
func withApp(ctx context.Context, configPath string, fn func(context.Context, *app) error) error {
	cfg, err := config.Load(configPath, Version)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("Starting worklog-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env))

	if err := runMigrations(cfg, logger); err != nil {
		return err
	}

	db, err := database.Connect(ctx, &database.Config{
		ConnString: cfg.Database.ConnectionString(),
		MaxConns:   cfg.Database.MaxConnections,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	a, err := buildApp(cfg, logger, db)
	if err != nil {
		return err
	}
	return fn(ctx, a)
}

func buildApp(cfg *config.Config, logger *zap.Logger, db *database.DB) (*app, error) {
	sessionRepo := repositories.NewSessionRepository(db)
	workItemRepo := repositories.NewWorkItemRepository(db)
	rosterRepo := repositories.NewRosterRepository(db)

	// Without Syncro credentials the engine runs off the stored snapshot
	// and skips ticket ingestion.
	var fetcher services.RosterFetcher
	var gateway *syncro.Gateway
	if cfg.Syncro.BaseURL != "" && cfg.Syncro.APIKey != "" {
		var err error
		gateway, err = syncro.NewGateway(&cfg.Syncro, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build syncro gateway: %w", err)
		}
		fetcher = gateway
	} else {
		logger.Warn("Syncro API not configured, roster refresh and ticket ingestion disabled")
		fetcher = unavailableFetcher{}
	}
	rosterSvc := services.NewRosterService(cfg.Roster, fetcher, rosterRepo, logger)

	// Without an LLM key resolution stops at the fuzzy tier and sessions
	// stay Linked instead of Complete.
	var client llm.Client
	var analyzer services.AnalyzerService
	if cfg.LLM.APIKey != "" {
		var err error
		client, err = llm.NewFromConfig(&cfg.LLM, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build llm client: %w", err)
		}
		analyzer = services.NewAnalyzerService(client, cfg.LLM.Timeout(), logger)
	} else {
		logger.Warn("LLM not configured, arbitration and analysis disabled")
	}

	resolver := services.NewResolverService(services.ResolverConfig{
		FuzzyThreshold: cfg.Processing.FuzzyMatchThreshold,
		FuzzyMargin:    cfg.Processing.FuzzyMatchMargin,
		ArbiterTimeout: cfg.LLM.Timeout(),
	}, client, logger)

	readers := []ingest.Reader{
		ingest.NewScreenConnectReader(cfg.Ingest.ScreenConnectDir, cfg.Ingest.StateDir, logger),
		ingest.NewNotesReader(cfg.Ingest.NotesDir, cfg.Ingest.StateDir, logger),
	}
	if gateway != nil {
		readers = append(readers, ingest.NewTicketReader(gateway, cfg.Ingest.StateDir, logger))
	}

	consolidation := services.NewConsolidationService(
		readers,
		sessionRepo,
		workItemRepo,
		rosterSvc,
		services.NewMergeService(logger),
		resolver,
		analyzer,
		services.NewWorkItemBuilder(cfg.Processing.WorkItemMergeGap(), logger),
		cfg.Processing.SegmentMergeGap(),
		logger,
	)

	return &app{
		cfg:           cfg,
		logger:        logger,
		db:            db,
		consolidation: consolidation,
		roster:        rosterSvc,
	}, nil
}

func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer sqlDB.Close()
	return database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger)
}

// unavailableFetcher stands in when Syncro credentials are absent.
type unavailableFetcher struct{}

func (unavailableFetcher) FetchRoster(context.Context) (*models.Roster, error) {
	return nil, fmt.Errorf("syncro api not configured")
}

func printSummary(summary *services.RunSummary) error {
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
