// Command server runs the question bank HTTP API: counting, sampling,
// question and taxonomy writes, and the repair workflow.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/OrtoQBank/ortoqbank-sub001/internal/aggindex"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/config"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/database"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/handlers"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/models"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/observability"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/query"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/repair"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/services"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/taxonomy"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.NewConfig()
	if err != nil {
		return err
	}

	tp, mp, logger, err := observability.SetupObservability(&cfg.OpenTelemetry, "qbank-server")
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if sdkTP, ok := tp.(*trace.TracerProvider); ok && sdkTP != nil {
			if err := sdkTP.Shutdown(ctx); err != nil {
				logger.Error(ctx, "Failed to shut down tracer provider", err)
			}
		}
		if mp != nil {
			if err := mp.Shutdown(ctx); err != nil {
				logger.Error(ctx, "Failed to shut down meter provider", err)
			}
		}
		_ = logger.Sync()
	}()

	ctx := context.Background()
	logger.Info(ctx, "Starting server", map[string]interface{}{
		"version": version.Version,
		"commit":  version.Commit,
	})

	dbManager := database.NewManager(logger)
	dbConfig := database.DefaultDatabaseConfig()
	if cfg.Database.URL != "" {
		dbConfig.URL = cfg.Database.URL
	}
	if cfg.Database.MaxOpenConns > 0 {
		dbConfig.MaxOpenConns = cfg.Database.MaxOpenConns
	}
	if cfg.Database.MaxIdleConns > 0 {
		dbConfig.MaxIdleConns = cfg.Database.MaxIdleConns
	}
	dbConfig.ConnMaxLifetime = cfg.Database.ConnMaxLifetime

	db, err := dbManager.InitDBWithConfig(dbConfig)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error(ctx, "Failed to close database", err)
		}
	}()

	store, err := aggindex.Open(cfg.Index, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error(ctx, "Failed to close index store", err)
		}
	}()

	taxonomyService := services.NewTaxonomyService(db, logger)
	questionService := services.NewQuestionService(db, store, logger)
	factService := services.NewUserFactService(db, store, questionService, logger)

	resolver := taxonomy.NewResolver(taxonomyService, logger)
	engine := query.NewEngine(store, resolver, logger)

	checkpoints := repair.NewSQLCheckpointStore(db, logger)
	workflow := repair.NewWorkflow(store, &repairPrimary{
		questions: questionService,
		facts:     factService,
	}, checkpoints, logger, cfg.EffectiveRepairPageSize())

	router := handlers.NewRouter(cfg, logger, &handlers.Handlers{
		Quiz:     handlers.NewQuizHandler(engine, cfg, logger),
		Question: handlers.NewQuestionHandler(questionService, factService, logger),
		Taxonomy: handlers.NewTaxonomyHandler(taxonomyService, logger),
		Repair:   handlers.NewRepairHandler(workflow, logger),
	})

	port := cfg.Server.Port
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "HTTP server listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info(ctx, "Shutting down", map[string]interface{}{"signal": sig.String()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info(ctx, "Server stopped")
	return nil
}

// repairPrimary adapts the services to the repair workflow's primary store
// interface.
type repairPrimary struct {
	questions services.QuestionServiceInterface
	facts     services.UserFactServiceInterface
}

func (p *repairPrimary) ScanQuestions(ctx context.Context, cursor string, pageSize int) ([]*models.Question, string, bool, error) {
	return p.questions.ScanQuestions(ctx, cursor, pageSize)
}

func (p *repairPrimary) ScanUserFacts(ctx context.Context, cursor string, pageSize int) ([]*models.UserFact, string, bool, error) {
	return p.facts.ScanUserFacts(ctx, cursor, pageSize)
}

func (p *repairPrimary) GetQuestionsByIDs(ctx context.Context, ids []string) ([]*models.Question, error) {
	return p.questions.GetQuestionsByIDs(ctx, ids)
}
