package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apihttp "ozzus/sbe-monitor/internal/api/http"
	"ozzus/sbe-monitor/internal/backend"
	"ozzus/sbe-monitor/internal/config"
	"ozzus/sbe-monitor/internal/engine"
	"ozzus/sbe-monitor/internal/lib/logger/sl"
	"ozzus/sbe-monitor/internal/lib/logger/slogpretty"
	"ozzus/sbe-monitor/internal/repository"
	"ozzus/sbe-monitor/internal/service"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	envLocal        = "local"
	envDev          = "dev"
	envProd         = "prod"
	shutdownTimeout = 10 * time.Second
)

var (
	flagConfigFilePath string

	cfg *config.Config
	log *slog.Logger
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "config file to load - default is config/local.yaml or local.yaml in current directory")
	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initAgent

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if log == nil {
			log = slog.Default()
		}
		log.Error("agent failed", sl.Err(err))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "agent",
	Short:        "Health-check agent for the scoring platform",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "fetch jobs from the job source, check hosts and report back",
	RunE:  doRun,
}

var checkCmd = &cobra.Command{
	Use:   "check <job.json>",
	Short: "run one job file through the pipeline and print the report",
	Args:  cobra.ExactArgs(1),
	RunE:  doCheck,
}

func initAgent(_ *cobra.Command, _ []string) error {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	var err error
	cfg, err = config.Load(flagConfigFilePath)
	if err != nil {
		return err
	}

	log = setupLogger(cfg.Env)
	return nil
}

func doRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	log.Info("starting application",
		slog.String("env", cfg.Env),
		slog.String("agent", cfg.Agent.Name),
		slog.String("source", cfg.Source.Kind),
		slog.String("store", cfg.Store.Driver),
	)

	deps, err := buildDeps(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	loop, err := engine.New(log)
	if err != nil {
		return err
	}

	pipeline := buildPipeline(log, cfg, deps.results)

	agentService := service.NewAgentService(log, loop, deps.tasks, deps.jobs, pipeline, service.Config{
		AgentID:       cfg.Agent.Name,
		FetchInterval: cfg.GetFetchInterval(),
		FetchCron:     cfg.Scheduler.FetchCron,
		StartInterval: cfg.GetStartInterval(),
		FetchTimeout:  cfg.GetSourceTimeout(),
	})

	healthController := apihttp.NewHealthController(agentService, cfg.Agent.Name)
	router := apihttp.NewRouter(log, healthController)

	httpServer := &nethttp.Server{
		Addr:              ":" + cfg.Server.HealthPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := agentService.Start(); err != nil {
			return err
		}

		<-gctx.Done()
		log.Info("shutting down agent...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return agentService.Stop(shutdownCtx)
	})

	g.Go(func() error {
		log.Info("starting health server", slog.String("port", cfg.Server.HealthPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown failed", sl.Err(err))
		}
		return nil
	})

	log.Info("application started and ready",
		slog.String("health_port", cfg.Server.HealthPort),
		slog.String("agent_id", cfg.Agent.Name),
	)

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("agent stopped gracefully")
	return nil
}

func doCheck(cmd *cobra.Command, args []string) error {
	b, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read job file: %w", err)
	}

	job, err := backend.DecodeJob(b)
	if err != nil {
		return fmt.Errorf("decode job file: %w", err)
	}

	pipeline := buildPipeline(log, cfg, repository.NewWriterResultRepository(cmd.OutOrStdout()))

	res, err := pipeline.Run(cmd.Context(), job)
	if err != nil {
		return err
	}
	return res.ReportErr
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stderr)

	return slog.New(handler)
}
