package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/straja-ai/postscore/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the postscore HTTP server.

Endpoints:
  GET  /healthz              Health check
  POST /api/analyze          Analyze a post, single JSON answer
  POST /api/analyze/stream   Analyze a post, progress as server-sent events`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("addr", "a", "", "HTTP listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	srv := server.New(cfg, server.Options{
		Resolver:  rt.factory,
		Telemetry: rt.telemetry,
		Observer:  rt.observer,
	})
	return srv.Start(ctx)
}
