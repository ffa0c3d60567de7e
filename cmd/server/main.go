// @title           Video Effects Backend API
// @version         1.0.0
// @description     Backend API for applying video effects remotely. Clients upload through resumable uploads, submit a transformation, and follow its progress over a server-sent event stream while a worker runs ffmpeg.

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"video-effects-backend/internal/config"
	"video-effects-backend/internal/database"
	"video-effects-backend/internal/handlers"
	"video-effects-backend/internal/logging"
	"video-effects-backend/internal/metrics"
	"video-effects-backend/internal/middleware"
	"video-effects-backend/internal/models"
	"video-effects-backend/internal/remote"
	"video-effects-backend/internal/supabase"
	"video-effects-backend/internal/worker"
)

// recordStore is satisfied by both the direct Postgres client and the
// PostgREST client.
type recordStore interface {
	remote.Store
	worker.Records
	GetQuota(ctx context.Context, userID uuid.UUID) (models.Quota, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	log := logging.Component(logger, "server")

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	storageClient := supabase.NewStorageClient(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, cfg.SupabaseStorageBucket, cfg.SignedURLTTL)

	var store recordStore
	var feed remote.Feed
	var pinger handlers.Pinger
	if cfg.DatabaseURL != "" {
		migrator, err := database.NewMigrator(cfg.DatabaseURL, logging.Component(logger, "migrations"))
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize migrator")
		}
		if err := migrator.Run(ctx); err != nil {
			log.WithError(err).Fatal("Migration failed")
		}
		migrator.Close()
		log.Info("Migrations completed successfully")

		dbClient, err := supabase.NewDatabaseClient(cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize database client")
		}
		defer dbClient.Close()
		store = dbClient
		pinger = dbClient

		hub := supabase.NewHub(logging.Component(logger, "realtime"))
		if err := hub.Listen(ctx, cfg.DatabaseURL); err != nil {
			log.WithError(err).Fatal("Failed to start realtime listener")
		}
		feed = hub
	} else {
		log.Warn("DATABASE_URL not set. Using the REST API for records; migrations skipped and status streams poll.")
		restClient, err := supabase.NewRestClient(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey)
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize Supabase client")
		}
		store = restClient
		feed = supabase.NewPollingFeed(restClient, 2*time.Second, logging.Component(logger, "realtime"))
	}

	coordinator := remote.NewCoordinator(store, feed,
		remote.NewTokenIssuer(cfg.AccessTokenSecret, cfg.AccessTokenTTL),
		remote.WithURLSigner(storageClient),
		remote.WithMetrics(m),
		remote.WithLogger(logging.Component(logger, "remote")),
	)

	w := worker.NewWorker(store, storageClient,
		worker.WithBinaries(cfg.FFmpegPath, cfg.FFprobePath),
		worker.WithScratchDir(cfg.ScratchDir),
		worker.WithProgressInterval(cfg.ProgressInterval),
		worker.WithMetrics(m),
		worker.WithLogger(logging.Component(logger, "worker")),
	)
	dispatcher := worker.NewDispatcher(w, cfg.WorkerConcurrency, logging.Component(logger, "dispatcher"))

	transformationsHandler := handlers.NewTransformationsHandler(coordinator, logging.Component(logger, "handlers"))
	webhookHandler := handlers.NewWebhookHandler(cfg, dispatcher, logging.Component(logger, "webhook"))
	quotaHandler := handlers.NewQuotaHandler(store)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	healthHandler := handlers.NewHealthHandler(pinger)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")

	// Status stream (scoped access token)
	api.GET("/transformations/:id/events", middleware.AccessTokenMiddleware(coordinator), transformationsHandler.Events)

	// Webhook (no session auth, uses WEBHOOK_SECRET)
	api.POST("/webhooks/transformations", webhookHandler.HandleTransformationCreated)

	authed := api.Group("")
	authed.Use(middleware.AuthMiddleware(cfg))
	authed.POST("/transformations", transformationsHandler.Create)
	authed.GET("/transformations/:id", transformationsHandler.Get)
	authed.POST("/transformations/:id/token", transformationsHandler.IssueToken)
	authed.GET("/quota", quotaHandler.GetQuota)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown incomplete")
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Worker jobs still running at shutdown")
	}
}
