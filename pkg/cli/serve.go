package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/trustcore/pkg/api"
	"github.com/telekom/trustcore/pkg/config"
	"github.com/telekom/trustcore/pkg/version"
)

func NewServeCommand() *cobra.Command {
	var listenAddress string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the audit pipeline and its HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			log := rt.Logger()
			log.Info("Starting trustcore", version.GetBuildInfo().ZapFields()...)

			cfg, err := rt.LoadConfig()
			if err != nil {
				return err
			}
			if listenAddress != "" {
				cfg.Server.ListenAddress = listenAddress
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, log, rt.debug)
		},
	}

	cmd.Flags().StringVar(&listenAddress, "listen-address", getEnvString("TRUSTCORE_LISTEN_ADDRESS", ""),
		"The address the HTTP API binds to (host:port); overrides server.listenAddress")

	return cmd
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger, debug bool) error {
	pipeline, err := BuildPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := pipeline.Close(); err != nil {
			log.Warn("Failed to close audit pipeline", zap.Error(err))
		}
	}()

	server, err := api.NewServer(log, cfg.Server, pipeline.Service, pipeline.Subscriber, debug)
	if err != nil {
		return err
	}
	defer server.Close()

	log.Info("Audit pipeline ready",
		zap.Int("policy_layers", len(cfg.Policy.Layers)),
		zap.String("jsonl_path", cfg.Audit.JSONLPath),
		zap.Bool("queued", cfg.Audit.Queue.Enabled),
		zap.Bool("sink_breaker", cfg.Audit.SinkBreaker.Enabled))

	return server.Listen(ctx)
}
