package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vocaldesk/vocaldesk/internal/api"
	"github.com/vocaldesk/vocaldesk/internal/config"
	"github.com/vocaldesk/vocaldesk/internal/db"
	"github.com/vocaldesk/vocaldesk/internal/mailer"
	"github.com/vocaldesk/vocaldesk/internal/models"
	"github.com/vocaldesk/vocaldesk/internal/queue"
	"github.com/vocaldesk/vocaldesk/internal/session"
	"github.com/vocaldesk/vocaldesk/internal/storage"
	"github.com/vocaldesk/vocaldesk/internal/synth"
	"github.com/vocaldesk/vocaldesk/internal/worker"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.WithField("component", "main")
	log.Info("starting vocaldesk API")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer database.Close()
	log.Info("connected to database")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.EnsureSchema(ctx); err != nil {
		cancel()
		log.WithError(err).Fatal("failed to ensure schema")
	}
	if err := seedAdmin(ctx, database, cfg); err != nil {
		cancel()
		log.WithError(err).Fatal("failed to seed admin user")
	}
	cancel()

	redisClient, err := queue.NewClient(cfg.RedisURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info("connected to redis")

	q := queue.New(redisClient)
	sessions := session.New(redisClient, cfg.SessionTTL)

	store, err := storage.New(cfg.DataDir)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize storage")
	}
	log.WithField("dir", cfg.DataDir).Info("initialized storage")

	var synthClient synth.Client
	switch cfg.SynthProvider {
	case "compat":
		synthClient = synth.NewCompatClient(cfg.SynthBaseURL, cfg.SynthAPIKey, cfg.SynthTimeout)
		log.WithField("base_url", cfg.SynthBaseURL).Info("synthesis provider: openai-compatible")
	default:
		synthClient = synth.NewOpenAIClient(cfg.OpenAIKey)
		log.Info("synthesis provider: openai")
	}

	mail := mailer.New(database)

	handler := api.NewHandler(
		database, database, database, database,
		sessions, q, mail, synthClient, store, cfg.SynthTimeout,
	)
	router := api.NewRouter(handler, sessions, database, api.RouterConfig{
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	var workerCancel context.CancelFunc
	if cfg.WorkerEnabled {
		log.Info("worker enabled, starting background processing")

		w := worker.New(database, database, synthClient, store, mail, q, worker.Config{
			Interval:          cfg.WorkerInterval,
			MaxAttempts:       cfg.WorkerMaxAttempts,
			MaxConcurrentRows: cfg.MaxConcurrentRows,
			SynthTimeout:      cfg.SynthTimeout,
			Retention:         cfg.Retention,
		})

		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())
		go w.Start(workerCtx)
	}

	go func() {
		log.WithField("port", cfg.APIPort).Info("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	if workerCancel != nil {
		workerCancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}

	log.Info("server exited")
}

// seedAdmin creates the bootstrap admin account on an empty user table so
// a fresh install can be signed into.
func seedAdmin(ctx context.Context, database *db.DB, cfg *config.Config) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}

	count, err := database.CountUsers(ctx)
	if err != nil || count > 0 {
		return err
	}

	salt, err := db.NewSalt()
	if err != nil {
		return err
	}

	admin := &models.User{
		ID:           uuid.New(),
		Email:        cfg.AdminEmail,
		PasswordSalt: salt,
		PasswordHash: db.HashPassword(salt, cfg.AdminPassword),
		Permissions:  models.PermissionMask, // all 20 bits
	}

	if err := database.CreateUser(ctx, admin); err != nil {
		return err
	}

	logrus.WithField("email", cfg.AdminEmail).Info("seeded admin user")
	return nil
}
