package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Tyrowin/nexus-chat-server/internal/logging"
	"github.com/Tyrowin/nexus-chat-server/internal/notify"
	"github.com/Tyrowin/nexus-chat-server/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nexus-chat-server",
		Short:         "Real-time chat delivery and presence server",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServer,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringP("config", "c", "", "YAML config file (default $CONFIG_FILE)")

	root.AddCommand(&cobra.Command{
		Use:   "vapid",
		Short: "Print a fresh VAPID key pair for Web Push",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			keys, err := notify.GenerateVAPIDKeys()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", keys.Public, keys.Private)
			return nil
		},
	})
	return root
}

func runServer(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}

	cfg, err := server.LoadConfig(path)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	app, err := server.NewApp(cfg, logger)
	if err != nil {
		return err
	}
	app.Start()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- app.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
			return errors.Join(err, app.Shutdown(shutdownTimeout))
		}
	}

	if err := app.Shutdown(shutdownTimeout); err != nil {
		logger.Error("shutdown completed with errors", zap.Error(err))
		return err
	}
	logger.Info("graceful shutdown complete")
	return nil
}
