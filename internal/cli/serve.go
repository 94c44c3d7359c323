package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pitchforge/engine/internal/adapters/otel"
	"github.com/pitchforge/engine/internal/adapters/turso"
	"github.com/pitchforge/engine/internal/app"
	"github.com/pitchforge/engine/internal/dispatch"
	"github.com/pitchforge/engine/internal/evaluator"
	"github.com/pitchforge/engine/internal/imagegen"
	"github.com/pitchforge/engine/internal/judge"
	"github.com/pitchforge/engine/internal/lifecycle"
	"github.com/pitchforge/engine/internal/migrate"
	"github.com/pitchforge/engine/internal/ports"
	"github.com/pitchforge/engine/internal/server"
	"github.com/pitchforge/engine/internal/vault"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the incubator API server",
	Long: `Start the HTTP API server.

Runs pending database migrations, loads the content vault, and serves the
session, judging and leaderboard endpoints.

Examples:
  pitchforge serve                          # Listen on :8080
  PITCHFORGE_ADDR=:3000 pitchforge serve    # Listen on :3000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := app.New()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := turso.NewDB(cfg.DatabasePath, cfg.DatabaseAuthToken)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if err := migrate.RunAll(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	contentVault, err := vault.Load(cfg.VaultDir)
	if err != nil {
		return fmt.Errorf("load vault %s: %w", cfg.VaultDir, err)
	}
	for _, verr := range contentVault.Validate() {
		log.Printf("vault warning: %v", verr)
	}

	if err := os.MkdirAll(cfg.GeneratedDir, 0o755); err != nil {
		return fmt.Errorf("create generated dir: %w", err)
	}

	var metrics ports.MetricsRecorder
	if cfg.OTELEnabled {
		exporter, err := otel.NewExporter(ctx, otel.Config{
			Endpoint: cfg.OTELEndpoint,
			Enabled:  cfg.OTELEnabled,
			Insecure: cfg.OTELInsecure,
		})
		if err != nil {
			return fmt.Errorf("init metrics exporter: %w", err)
		}
		metrics = exporter
	} else {
		metrics = otel.NewNoOpExporter()
	}
	defer func() {
		if err := metrics.Shutdown(context.Background()); err != nil {
			log.Printf("metrics shutdown: %v", err)
		}
	}()

	judgeClient := judge.NewClient(cfg.JudgeEndpoint, cfg.JudgeAPIKey, cfg.JudgeModel, cfg.JudgeTimeout)
	evalCfg := evaluator.DefaultConfig()
	evalCfg.HardTimeout = cfg.EvalHardTimeout
	evalCfg.FailureThreshold = cfg.FailureThreshold
	evalCfg.RecoveryTimeout = cfg.RecoveryTimeout
	eval := evaluator.New(judgeClient, evalCfg, nil)

	pool := dispatch.NewPool(cfg.WorkerPoolSize)
	submit := func(ctx context.Context, fn func(context.Context) (evaluator.Result, error)) (evaluator.Result, error) {
		return dispatch.Submit(ctx, pool, fn)
	}

	var images *imagegen.Client
	if cfg.ImageEndpoint != "" {
		images = imagegen.NewClient(cfg.ImageEndpoint, cfg.ImageAPIKey, cfg.ImageModel, cfg.GeneratedDir)
	}

	sessions := turso.NewSessionRepository(db)
	teams := turso.NewTeamContextRepository(db)

	manager := lifecycle.NewManager(sessions, teams, contentVault, eval, submit, metrics, lifecycle.Options{
		Scoring:          cfg.Scoring(),
		AllowFailProceed: cfg.AllowFailProceed,
		DispatchTimeout:  cfg.DispatchTimeout,
	})

	srv := server.NewHTTPServer(server.Config{Addr: cfg.Addr, GeneratedDir: cfg.GeneratedDir}, manager, sessions, contentVault, images)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
