package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/adapters/exchange"
	"cryptoSignalBot/internal/adapters/kafka"
	"cryptoSignalBot/internal/adapters/logger"
	"cryptoSignalBot/internal/adapters/telegram"
	"cryptoSignalBot/internal/app"
	httpapi "cryptoSignalBot/internal/http"
	"cryptoSignalBot/internal/notify"
	"cryptoSignalBot/internal/ports"
	"cryptoSignalBot/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Initialize Storage (ledger and user directory)
	backend, err := storage.Open(cfg, appLogger.WithComponent("storage"))
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize storage")
		log.Fatalf("FATAL: Failed to initialize storage: %v", err) // Also log to stderr
	}
	defer func() {
		if err := backend.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing storage")
		}
	}()

	// 4. Initialize Exchange Adapters
	exchanges, err := exchange.NewRegistry(exchange.Config{
		BingXBaseURL:      cfg.BingXBaseURL,
		OKXBaseURL:        cfg.OKXBaseURL,
		BybitBaseURL:      cfg.BybitBaseURL,
		BitgetBaseURL:     cfg.BitgetBaseURL,
		OKXDemo:           cfg.OKXDemo,
		Timeout:           cfg.RequestTimeout,
		MaxAttempts:       cfg.MaxAttempts,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Logger:            appLogger.WithComponent("exchange"),
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize exchange adapters")
		log.Fatalf("FATAL: Failed to initialize exchange adapters: %v", err)
	}
	appLogger.Info(ctx, "Exchange adapters initialized", map[string]interface{}{"venues": len(exchanges)})

	// 5. Initialize Notification Sinks
	var sinks []ports.Notifier
	if cfg.TelegramBotToken != "" {
		tg, err := telegram.NewNotifier(telegram.Config{
			BotToken:       cfg.TelegramBotToken,
			SupportContact: cfg.SupportContact,
			Logger:         appLogger.WithComponent("telegram"),
		})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize Telegram notifier")
			log.Fatalf("FATAL: Failed to initialize Telegram notifier: %v", err)
		}
		sinks = append(sinks, tg)
	} else {
		appLogger.Warn(ctx, "TELEGRAM_BOT_TOKEN not set, user notifications disabled")
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := kafka.NewPublisher(kafka.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			Logger:  appLogger.WithComponent("kafka"),
		})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize Kafka publisher")
			log.Fatalf("FATAL: Failed to initialize Kafka publisher: %v", err)
		}
		defer func() {
			if err := pub.Close(); err != nil {
				appLogger.Error(context.Background(), err, "Error closing Kafka publisher")
			}
		}()
		sinks = append(sinks, pub)
	}
	queue := notify.NewQueue(cfg.NotifyQueueSize, appLogger.WithComponent("notify"), sinks...)
	go queue.Run(ctx)

	// 6. Initialize Application Service
	signalService, err := app.NewSignalService(
		app.Config{
			Leverage:        cfg.Leverage,
			RiskPercent:     cfg.RiskPercent,
			MarginBuffer:    cfg.MarginBuffer,
			BreakevenOffset: cfg.BreakevenOffset,
			LegDelay:        cfg.LegDelay,
			EntrySettle:     cfg.EntrySettle,
			Workers:         cfg.Workers,
		},
		appLogger.WithComponent("signals"),
		backend.Directory,
		backend.Ledger,
		exchanges,
		queue,
	)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize signal service")
		log.Fatalf("FATAL: Failed to initialize signal service: %v", err)
	}
	appLogger.Info(ctx, "Signal service initialized")

	// 7. Start the Breakeven Watcher
	if cfg.BreakevenEvery > 0 {
		watcher := app.NewBreakevenWatcher(cfg.BreakevenEvery, signalService.Breakeven(), backend.Ledger,
			backend.Directory, exchanges, appLogger.WithComponent("breakeven"))
		go watcher.Run(ctx)
	} else {
		appLogger.Info(ctx, "Breakeven watcher disabled")
	}

	// 8. Start the HTTP Server
	api := httpapi.NewServer(httpapi.Config{
		WebhookToken:    cfg.WebhookToken,
		JWTSecret:       cfg.AdminJWTSecret,
		DispatchTimeout: cfg.DispatchTimeout,
		Logger:          appLogger.WithComponent("http"),
	}, signalService, backend.Ledger)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		appLogger.Info(ctx, "HTTP server listening", map[string]interface{}{"addr": cfg.HTTPAddr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error(ctx, err, "HTTP server exited with error")
			stop()
		}
	}()

	<-ctx.Done()
	appLogger.Info(context.Background(), "Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, err, "HTTP server shutdown failed")
	}
	if err := queue.Close(shutdownCtx); err != nil {
		appLogger.Warn(shutdownCtx, "Notification queue not drained before shutdown", map[string]interface{}{"error": err.Error()})
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
