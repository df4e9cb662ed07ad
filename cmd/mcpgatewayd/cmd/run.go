package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/mcp-gateway/gateway/internal/config"
	"github.com/mcp-gateway/gateway/internal/gateway"
)

var (
	portFlag int
	devMode  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the gateway",
	Long: `Start the gateway: load configuration, bring every configured and
previously-persisted upstream server online, and serve the proxy,
well-known discovery, management MCP, and health endpoints until
SIGTERM/SIGINT.`,
	RunE: runGateway,
}

func init() {
	runCmd.Flags().IntVar(&portFlag, "port", 0, "listen port (default 3333, or server.port from config)")
	runCmd.Flags().BoolVar(&devMode, "dev", false, "enable development mode (verbose logging)")
	rootCmd.AddCommand(runCmd)
}

func runGateway(cmd *cobra.Command, args []string) error {
	config.InitViper(v, cfgFile)
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if storageDir != "" {
		cfg.Storage.Dir = storageDir
	}
	if portFlag != 0 {
		cfg.Server.Port = portFlag
	}
	if devMode {
		cfg.DevMode = true
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	// ctx is cancelled on the first SIGINT/SIGTERM; stop() restores default
	// signal handling so a second Ctrl+C forces an immediate exit.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to construct gateway: %w", err)
	}
	if err := gw.Init(ctx); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := newHTTPServer(addr, gw.Handler())

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", addr, "storage_dir", cfg.Storage.Dir)
		if err := httpServer.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining")
	case err := <-errCh:
		if !isServerClosed(err) {
			return fmt.Errorf("gateway server error: %w", err)
		}
	}

	shutdownErr := shutdownHTTPServer(httpServer)
	if err := gw.Close(context.Background()); err != nil {
		logger.Error("error during gateway shutdown", "error", err)
	}
	logger.Info("gateway stopped")
	return shutdownErr
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
