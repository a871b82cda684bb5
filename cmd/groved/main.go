// Command groved runs the Grove scheduler as a long-running daemon,
// collecting from every configured connector instance on its own cadence
// until signalled. All configuration is environmental; see the GROVE_*
// variables.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hashicorp-forge/grove/internal/entrypoint"
	"github.com/hashicorp-forge/grove/pkg/logger"
	"github.com/hashicorp-forge/grove/pkg/models"
	"github.com/hashicorp-forge/grove/pkg/settings"

	// Link in every backend and connector so their init functions
	// populate the registries.
	_ "github.com/hashicorp-forge/grove/pkg/caches/dynamodb"
	_ "github.com/hashicorp-forge/grove/pkg/caches/localfile"
	_ "github.com/hashicorp-forge/grove/pkg/caches/memory"
	_ "github.com/hashicorp-forge/grove/pkg/configs/localfile"
	_ "github.com/hashicorp-forge/grove/pkg/configs/s3"
	_ "github.com/hashicorp-forge/grove/pkg/connector/connectors/heartbeat"
	_ "github.com/hashicorp-forge/grove/pkg/connector/connectors/httpjson"
	_ "github.com/hashicorp-forge/grove/pkg/outputs/gcs"
	_ "github.com/hashicorp-forge/grove/pkg/outputs/kafka"
	_ "github.com/hashicorp-forge/grove/pkg/outputs/localfile"
	_ "github.com/hashicorp-forge/grove/pkg/outputs/s3"
	_ "github.com/hashicorp-forge/grove/pkg/outputs/stdout"
	_ "github.com/hashicorp-forge/grove/pkg/processors/filterpaths"
	_ "github.com/hashicorp-forge/grove/pkg/processors/splitpath"
	_ "github.com/hashicorp-forge/grove/pkg/processors/zippaths"
	_ "github.com/hashicorp-forge/grove/pkg/secrets/localfile"
	_ "github.com/hashicorp-forge/grove/pkg/secrets/ssm"
	_ "github.com/hashicorp-forge/grove/pkg/secrets/vault"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:     "groved",
		Short:   "Grove - SaaS audit log collection, daemon mode",
		Long:    "Grove collects security-relevant audit events from SaaS providers which do not natively stream logs. The daemon form schedules every configured connector instance on its own cadence and runs until signalled.",
		Version: models.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(run())
			return nil
		},
	}

	if err := root.Execute(); err != nil {
		os.Exit(entrypoint.ExitRunFailed)
	}
}

func run() int {
	if err := logger.Init(logger.Config{Level: settings.LogLevel(), Encoding: "json"}); err != nil {
		logger.Error("unable to initialize logger", zap.Error(err))
		return entrypoint.ExitBackendFailed
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get().With(zap.String("component", "groved"))
	log.Info("Grove daemon started",
		zap.Duration("config_refresh", settings.ConfigRefresh()),
		zap.Int("workers", settings.WorkerCount()))

	backends, err := entrypoint.Setup()
	if err != nil {
		log.Error("failed to initialize backend handlers", zap.Error(err))
		return entrypoint.ExitBackendFailed
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := entrypoint.NewScheduler(backends, entrypoint.RuntimeInformation())

	err = sched.Daemon(ctx)
	log.Info("Grove daemon has exited")
	return entrypoint.ExitCode(err)
}
