package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudsolutiongmbh/contactio/internal/config"
	"github.com/cloudsolutiongmbh/contactio/internal/database"
	"github.com/cloudsolutiongmbh/contactio/internal/delta"
	"github.com/cloudsolutiongmbh/contactio/internal/graph"
	"github.com/cloudsolutiongmbh/contactio/internal/ingest"
	"github.com/cloudsolutiongmbh/contactio/internal/payload"
	"github.com/cloudsolutiongmbh/contactio/internal/ratelimit"
	"github.com/cloudsolutiongmbh/contactio/internal/store/postgres"
	"github.com/cloudsolutiongmbh/contactio/internal/subscription"
	"github.com/cloudsolutiongmbh/contactio/internal/web"
	"github.com/cloudsolutiongmbh/contactio/internal/web/handlers"
	"github.com/cloudsolutiongmbh/contactio/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Database
	db, err := postgres.NewDB(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Migrations
	if err := database.RunMigrations(migrations.FS, cfg.DatabaseURL); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Stores
	mailboxStore := postgres.NewMailboxStore(db)
	subscriptionStore := postgres.NewSubscriptionStore(db)
	messageStore := postgres.NewMessageStore(db)
	conversationStore := postgres.NewConversationStore(db)
	lockStore := postgres.NewLockStore(db)
	settingsStore := postgres.NewTenantSettingsStore(db)
	jobStore := postgres.NewIngestJobStore(db)

	// Graph client
	graphClient := graph.NewClient(cfg.GraphTenantID, cfg.GraphClientID, cfg.GraphClientSecret)

	// Payload decryption is optional: without a private key, rich
	// notification content is ignored and message metadata is fetched
	// from Graph instead.
	var decryptor *payload.Decryptor
	if cfg.EncryptionPrivateKey != "" {
		decryptor, err = payload.NewDecryptor(cfg.EncryptionPrivateKey)
		if err != nil {
			slog.Error("failed to load encryption private key", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("no encryption private key configured, encrypted notification payloads will be re-fetched")
	}

	// Services
	ingestService := ingest.NewService(lockStore, conversationStore, messageStore, settingsStore)
	subscriptionService := subscription.NewService(mailboxStore, subscriptionStore, settingsStore, graphClient, subscription.Options{
		WebhookURL:        cfg.WebhookURL,
		EncryptionCertPEM: cfg.EncryptionCertPEM,
		ClientID:          cfg.GraphClientID,
		TenantID:          cfg.GraphTenantID,
		RedirectURI:       cfg.GraphRedirectURI,
	})
	deltaService := delta.NewService(mailboxStore, subscriptionStore, jobStore, graphClient, slog.Default())

	rootCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	// Ingest workers
	for i := 0; i < cfg.IngestWorkers; i++ {
		worker := ingest.NewWorker(jobStore, ingestService, graphClient, ingest.WorkerOptions{})
		go worker.Run(rootCtx)
	}

	// Subscription renewal loop
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.RenewCheckMinutes) * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
			}
			renewed, err := subscriptionService.RenewExpiring(rootCtx, time.Duration(cfg.RenewWindowHours)*time.Hour)
			if err != nil {
				slog.Error("subscription renewal failed", "renewed", renewed, "error", err)
				continue
			}
			if renewed > 0 {
				slog.Info("renewed subscriptions", "count", renewed)
			}
		}
	}()

	// Scheduled delta sync, off unless configured
	if cfg.DeltaSyncEveryMinutes > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(cfg.DeltaSyncEveryMinutes) * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-rootCtx.Done():
					return
				case <-ticker.C:
				}
				enqueued, failed := deltaService.SyncAll(rootCtx)
				slog.Info("scheduled delta sync", "enqueued", enqueued, "failed_mailboxes", failed)
			}
		}()
	}

	// Rate limiter
	limiter := ratelimit.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	// Handlers
	webhookHandler := handlers.NewWebhookHandler(subscriptionStore, jobStore, decryptor, slog.Default())
	adminHandler := handlers.NewAdminHandler(subscriptionService, deltaService, subscriptionStore, messageStore, settingsStore, slog.Default())

	// Router
	router := web.NewRouter(web.RouterDeps{
		WebhookHandler: webhookHandler,
		AdminHandler:   adminHandler,
		AdminTokenHash: cfg.AdminTokenBcrypt,
		Limiter:        limiter,
	})

	// Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("contactio starting", "addr", addr, "workers", cfg.IngestWorkers)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down...")
	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}
