// Package main provides the main entry point for the question bank admin CLI tool.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/OrtoQBank/ortoqbank-sub001/cmd/adm/commands"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/aggindex"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/config"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/database"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/observability"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/query"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/repair"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/services"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/taxonomy"

	"github.com/spf13/cobra"
)

func main() {
	ctx := context.Background()

	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// The admin CLI is quiet: no exporters, errors only.
	cfg.Server.LogLevel = "error"
	cfg.OpenTelemetry.EnableTracing = false
	cfg.OpenTelemetry.EnableMetrics = false
	cfg.OpenTelemetry.EnableLogging = false

	_, _, logger, err := observability.SetupObservability(&cfg.OpenTelemetry, "qbank-admin")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize observability: %v\n", err)
		os.Exit(1)
	}

	dbManager := database.NewManager(logger)
	db, err := dbManager.InitDBWithoutMigrations(cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn(ctx, "Failed to close database connection", map[string]interface{}{"error": err.Error()})
		}
	}()

	store, err := aggindex.Open(cfg.Index, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open index store: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn(ctx, "Failed to close index store", map[string]interface{}{"error": err.Error()})
		}
	}()

	taxonomyService := services.NewTaxonomyService(db, logger)
	questionService := services.NewQuestionService(db, store, logger)
	factService := services.NewUserFactService(db, store, questionService, logger)
	resolver := taxonomy.NewResolver(taxonomyService, logger)
	engine := query.NewEngine(store, resolver, logger)

	checkpoints := repair.NewSQLCheckpointStore(db, logger)
	workflow := repair.NewWorkflow(store,
		commands.NewPrimaryAdapter(questionService, factService),
		checkpoints, logger, cfg.EffectiveRepairPageSize())

	rootCmd := &cobra.Command{
		Use:   "adm",
		Short: "Question Bank Administration Tool",
		Long: `Question Bank Administration Tool

CLI for operating the question bank: running consistency repairs,
inspecting aggregate counts, and sampling questions.`,

		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				fmt.Printf("Error showing help: %v\n", err)
			}
		},
	}

	rootCmd.AddCommand(commands.RepairCommands(workflow, logger))
	rootCmd.AddCommand(commands.QuizCommands(engine, logger))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
