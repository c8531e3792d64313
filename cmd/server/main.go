package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"luxeconcierge.com/lead-intake/internal/api"
	"luxeconcierge.com/lead-intake/internal/auth"
	"luxeconcierge.com/lead-intake/internal/cache"
	"luxeconcierge.com/lead-intake/internal/config"
	"luxeconcierge.com/lead-intake/internal/core"
	"luxeconcierge.com/lead-intake/internal/logging"
	"luxeconcierge.com/lead-intake/internal/store"
)

func main() {
	ingestFile := flag.String("ingest", "", "Ingest a markdown knowledge table for -tenant and exit")
	ingestTenant := flag.String("tenant", "", "Tenant the ingested knowledge belongs to")
	tokenSubject := flag.String("token", "", "Print a staff JWT for the given subject and exit")
	flag.Parse()

	if err := config.LoadConfig(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	cfg := config.AppConfig
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			AttachStacktrace: true,
		}); err != nil {
			logrus.WithError(err).Warn("Sentry initialization failed")
		}
		defer sentry.Flush(2 * time.Second)
	}

	if *tokenSubject != "" {
		token, err := auth.GenerateJWT(cfg.JWTSecret, *tokenSubject, auth.DefaultTokenTTL)
		if err != nil {
			logrus.Fatalf("Failed to mint token: %v", err)
		}
		fmt.Println(token)
		return
	}

	ctx := context.Background()

	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	llmService, err := core.NewLLMService(ctx, core.LLMOptions{
		APIKey:         cfg.GeminiAPIKey,
		ChatModel:      cfg.ChatModel,
		EmbeddingModel: cfg.EmbeddingModel,
		Timeout:        cfg.ProviderTimeout,
	})
	if err != nil {
		logrus.Fatalf("Failed to initialize LLM service: %v", err)
	}
	defer llmService.Close()

	if *ingestFile != "" {
		if *ingestTenant == "" {
			logrus.Fatal("-ingest requires -tenant")
		}
		logrus.WithFields(logrus.Fields{"file": *ingestFile, "tenant_id": *ingestTenant}).Info("Starting knowledge ingestion")
		n, err := dbStore.IngestKnowledgeFromFile(ctx, *ingestFile, *ingestTenant, llmService.Embed)
		if err != nil {
			logrus.Fatalf("Knowledge ingestion failed: %v", err)
		}
		logrus.Infof("Knowledge ingestion complete. Ingested %d chunks.", n)
		return
	}

	rules, err := core.LoadScoringRules(cfg.ScoringRulesPath)
	if err != nil {
		logrus.Fatalf("Failed to load scoring rules: %v", err)
	}

	var customizations core.CustomizationSource = dbStore
	var invalidator api.CacheInvalidator
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			logrus.WithError(err).Warn("Redis unavailable, reading customizations from the database")
		} else {
			defer redisCache.Close()
			cached := cache.NewCachedCustomizations(dbStore, redisCache, cfg.CustomizationCacheTTL)
			customizations = cached
			invalidator = cached
		}
	}

	var notifier core.Notifier = core.NopNotifier{}
	if cfg.SMTP.Enabled() {
		notifier = core.NewEmailNotifier(core.EmailOptions{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			To:       cfg.SMTP.To,
		})
	} else {
		logrus.Info("SMTP not configured, HOT lead notifications will only be logged")
	}

	leadService := core.NewLeadService(dbStore, rules)
	chatService := core.NewChatService(
		dbStore,
		llmService,
		core.NewPromptAssembler(customizations),
		core.NewContextBuilder(dbStore, llmService),
		leadService,
		notifier,
	)

	apiHandler := api.NewAPIHandler(chatService, leadService, dbStore, invalidator, cfg.JWTSecret)
	router := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ProviderTimeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logrus.Infof("Starting server on %s", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Could not listen on %s: %v", serverAddr, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	// In-flight HOT lead notifications.
	chatService.Wait()
	logrus.Info("Server exiting gracefully")
}
