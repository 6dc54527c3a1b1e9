package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"warelay/internal/config"
	"warelay/internal/constants"
	"warelay/internal/database"
	"warelay/internal/metrics"
	"warelay/internal/retry"
	"warelay/internal/service"
	"warelay/internal/tracing"
	"warelay/pkg/waclient"
	"warelay/pkg/waclient/types"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("warelay %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	// Missing .env is fine; environment may be set by the supervisor
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting warelay")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)
	}

	tracingManager := tracing.NewTracingManager(tracing.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
		UseStdout:      cfg.Tracing.UseStdout,
	}, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	registry := metrics.NewRegistry()

	// Delivery journal is optional; without a path the sender runs unjournaled
	var journal *database.Database
	if cfg.Database.Path != "" {
		backoff := retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond,
			MaxDelay:     time.Duration(constants.DefaultMaxBackoffMs) * time.Millisecond,
			Multiplier:   2.0,
			MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
			JitterRatio:  constants.DefaultSendJitterRatio,
		})
		err = backoff.Retry(ctx, func() error {
			var initErr error
			journal, initErr = database.New(cfg.Database.Path)
			if initErr != nil {
				logger.Warnf("Failed to initialize delivery journal: %v", initErr)
			}
			return initErr
		})
		if err != nil {
			return fmt.Errorf("failed to initialize delivery journal after retries: %w", err)
		}
		defer func() {
			if err := journal.Close(); err != nil {
				logger.Warnf("Failed to close delivery journal: %v", err)
			}
		}()

		go cleanupJournal(ctx, journal, cfg.RetentionDays, logger)
	}

	var authStore *waclient.AuthStore
	if cfg.AuthDir != "" {
		authStore, err = waclient.NewAuthStore(cfg.AuthDir, os.Getenv("WARELAY_ENCRYPTION_SECRET"), logger)
		if err != nil {
			return fmt.Errorf("failed to initialize auth store: %w", err)
		}
		if cfg.ClearAuthOnStart {
			if err := authStore.Clear(); err != nil {
				logger.Warnf("Failed to clear auth material: %v", err)
			} else {
				logger.Info("Cleared stored auth material, a fresh QR scan will be required")
			}
		}
	}

	dedup := service.NewDedupCache(cfg.Dedup.TTLMs, logger, registry)
	dedup.Start(ctx)
	defer dedup.Stop()

	var socketClient *waclient.SocketClient
	var restClient *waclient.RestClient
	var clients []types.WAClient

	if cfg.Socket.Enabled {
		socketClient = waclient.NewSocketClient(waclient.SocketConfig{
			GatewayURL:        cfg.Socket.GatewayURL,
			ReconnectAttempts: cfg.Socket.ReconnectAttempts,
			ReconnectDelay:    time.Duration(cfg.Socket.ReconnectDelaySec) * time.Second,
			AuthStore:         authStore,
		}, logger)
		clients = append(clients, socketClient)
	}
	if cfg.Rest.Enabled {
		restClient = waclient.NewRestClient(waclient.RestConfig{
			BaseURL:            cfg.Rest.APIBaseURL,
			APIKey:             os.Getenv("WARELAY_API_KEY"),
			SessionName:        cfg.Rest.SessionName,
			Timeout:            time.Duration(cfg.Rest.TimeoutSec) * time.Second,
			StatusPollInterval: time.Duration(cfg.Rest.StatusPollSec) * time.Second,
			ReconnectAttempts:  cfg.Rest.ReconnectAttempts,
			ReconnectDelay:     time.Duration(cfg.Rest.ReconnectDelaySec) * time.Second,
			AuthStore:          authStore,
		}, logger)
		clients = append(clients, restClient)
	}

	sender := service.NewSender(cfg.Send, logger, journalOrNil(journal), registry)

	aggregator := service.NewEventAggregator(dedup, messageHandler(logger, clients), logger)
	for _, client := range clients {
		aggregator.Attach(client)
		if err := client.Initialize(ctx); err != nil {
			logger.WithError(err).WithField("client", client.Name()).Warn("Adapter initialization failed")
		}
	}
	defer func() {
		aggregator.Detach()
		for _, client := range clients {
			if err := client.Destroy(); err != nil {
				logger.WithError(err).WithField("client", client.Name()).Warn("Adapter teardown failed")
			}
		}
	}()

	healthService := service.NewHealthService(clients, dedup)

	primary, fallback := pickSendRoute(socketClient, restClient)
	server := NewServer(cfg.Server.Port, healthService, registry, sender, primary, fallback, restClient, journal, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		serverErrCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// messageHandler is the downstream consumer of deduplicated messages: it logs
// the delivery and acknowledges it with a read receipt on the adapter that
// saw the chat.
func messageHandler(logger *logrus.Logger, clients []types.WAClient) service.MessageHandler {
	return func(ctx context.Context, msg *types.NormalizedMessage) error {
		logger.WithFields(logrus.Fields{
			"jid":     msg.From,
			"id":      msg.ID.Preferred(),
			"type":    msg.Type,
			"isGroup": msg.IsGroup,
		}).Info("Message received")

		if msg.IsStatus || msg.FromMe {
			return nil
		}
		for _, client := range clients {
			if client.IsReady() {
				return client.SendSeen(ctx, msg.ChatID())
			}
		}
		return nil
	}
}

// pickSendRoute prefers the socket adapter for outbound sends and keeps the
// other adapter as the failover path.
func pickSendRoute(socketClient *waclient.SocketClient, restClient *waclient.RestClient) (types.WAClient, types.WAClient) {
	switch {
	case socketClient != nil && restClient != nil:
		return socketClient, restClient
	case socketClient != nil:
		return socketClient, nil
	case restClient != nil:
		return restClient, nil
	default:
		return nil, nil
	}
}

// journalOrNil avoids handing the sender a typed-nil interface value
func journalOrNil(journal *database.Database) service.DeliveryRecorder {
	if journal == nil {
		return nil
	}
	return journal
}

func cleanupJournal(ctx context.Context, journal *database.Database, retentionDays int, logger *logrus.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		removed, err := journal.CleanupOldRecords(ctx, retentionDays)
		if err != nil {
			logger.Warnf("Journal cleanup failed: %v", err)
		} else if removed > 0 {
			logger.WithField("removed", removed).Info("Pruned old delivery journal entries")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
