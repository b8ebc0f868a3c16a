package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/messenger-relay/internal/assistant"
	"github.com/xaenox/messenger-relay/internal/messenger"
	"github.com/xaenox/messenger-relay/internal/models"
	"github.com/xaenox/messenger-relay/internal/server"
	"github.com/xaenox/messenger-relay/internal/webhook"
	"github.com/xaenox/messenger-relay/pkg/config"
)

var (
	version    = "dev"
	configPath string
)

func main() {
	root := &cobra.Command{
		Use:   "relay",
		Short: "Relay Messenger page messages to an OpenAI assistant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to an optional YAML config file")
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", configPath))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize assistant
	var replier assistant.Replier
	if cfg.OpenAI.APIKey == "" {
		logger.Warn("OPENAI_API_KEY is not set, every message will get the apology reply")
		replier = assistant.NewStaticReplier(models.ApologyReply())
	} else {
		gpt := assistant.NewGPTAssistant(cfg.OpenAI, logger)
		if err := gpt.EnsureAssistant(ctx); err != nil {
			logger.Fatal("Failed to prepare assistant", zap.Error(err))
		}
		logger.Info("Using assistant", zap.String("assistant_id", gpt.AssistantID()))
		replier = gpt
	}

	deliverer := messenger.New(cfg.Messenger.GraphURL, cfg.Messenger.PageAccessToken, cfg.Messenger.Timeout, logger)
	handler := webhook.NewHandler(cfg.Messenger.VerifyToken, replier, deliverer, logger, webhook.Options{
		AllEvents: cfg.Webhook.ProcessAllEvents,
		PageID:    cfg.Messenger.PageID,
	})

	srv := server.NewServer(cfg.ListenAddr(), server.StaticDir{
		Prefix: cfg.Server.StaticPrefix,
		Root:   cfg.Server.StaticDir,
	}, handler, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server error", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
