// Mendd is a build-healing daemon. It clones a repository, runs its test
// suite, asks an LLM for fixes, commits them to a working branch, and watches
// the remote CI pipeline, iterating until the build is green or the iteration
// budget runs out.
//
// Usage:
//
//	# Start with defaults
//	mendd
//
//	# Configure via file and environment
//	mendd --config /etc/mendd/config.yaml
//	MENDD_SERVER_PORT=9090 MENDD_FIXER_API_KEY=sk-... mendd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mendd/internal/ci"
	"github.com/fyrsmithlabs/mendd/internal/config"
	"github.com/fyrsmithlabs/mendd/internal/controller"
	"github.com/fyrsmithlabs/mendd/internal/fixer"
	"github.com/fyrsmithlabs/mendd/internal/gitrepo"
	"github.com/fyrsmithlabs/mendd/internal/httpapi"
	"github.com/fyrsmithlabs/mendd/internal/logging"
	"github.com/fyrsmithlabs/mendd/internal/run"
	"github.com/fyrsmithlabs/mendd/internal/telemetry"
	"github.com/fyrsmithlabs/mendd/internal/testrunner"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  mendd           Start the mendd daemon\n")
			fmt.Fprintf(os.Stderr, "  mendd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := runDaemon(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("mendd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// runDaemon starts the daemon and blocks until the context is cancelled.
func runDaemon(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("starting mendd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("ci_enabled", !cfg.CI.Disabled),
	)

	tel, err := telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	ctrl, store, err := initController(cfg, logger)
	if err != nil {
		return err
	}

	srv, err := httpapi.NewServer(ctrl, store, logger, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}
	return nil
}

// initController wires the run store and stage adapters into the controller.
func initController(cfg *config.Config, logger *zap.Logger) (*controller.Controller, *run.Store, error) {
	store := run.NewStore()

	repoSvc := gitrepo.NewService(&gitrepo.Config{
		BaseDir:     cfg.Git.BaseDir,
		AuthorName:  cfg.Git.AuthorName,
		AuthorEmail: cfg.Git.AuthorEmail,
	}, logger.Named("gitrepo"))

	testSvc := testrunner.NewService(logger.Named("testrunner"))

	fixSvc, err := fixer.NewService(&fixer.Config{
		BaseURL: cfg.Fixer.BaseURL,
		Model:   cfg.Fixer.Model,
		APIKey:  cfg.Fixer.APIKey.Value(),
	}, logger.Named("fixer"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create fix service: %w", err)
	}

	// A nil CI adapter makes every iteration record a SKIPPED timeline entry.
	var ciAdapter controller.CIAdapter
	if !cfg.CI.Disabled {
		ciAdapter = ci.NewService(&ci.Config{
			PollInterval: cfg.CI.PollInterval.Duration(),
			PollTimeout:  cfg.CI.PollTimeout.Duration(),
			AbsenceGrace: 30 * time.Second,
		}, logger.Named("ci"))
	}

	ctrlCfg := controller.DefaultConfig()
	ctrlCfg.StageTimeout = cfg.Runner.StageTimeout.Duration()
	ctrlCfg.CIPollTimeout = cfg.CI.PollTimeout.Duration()
	ctrlCfg.Retry.MaxRetries = cfg.Runner.MaxRetries

	ctrl, err := controller.New(store, repoSvc, testSvc, fixSvc, ciAdapter, ctrlCfg, logger.Named("controller"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create controller: %w", err)
	}
	return ctrl, store, nil
}
