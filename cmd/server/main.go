package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/boardsync/internal/api"
	"github.com/eldtechnologies/boardsync/internal/config"
	"github.com/eldtechnologies/boardsync/internal/events"
	"github.com/eldtechnologies/boardsync/internal/persist"
	"github.com/eldtechnologies/boardsync/internal/realtime"
	"github.com/eldtechnologies/boardsync/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Initialize the durable store
	dataStore := openStore(ctx, cfg, logger)
	defer dataStore.Close()

	// Initialize Redis store
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		redisStore.SetSnapshotTTL(cfg.SnapshotCacheTTL)
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Initialize the event feed
	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer publisher.Close()
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing board events to Kafka")
	}

	// Snapshot writer
	writerOpts := []persist.Option{
		persist.WithLogger(logger.With().Str("component", "persist").Logger()),
		persist.WithInterval(cfg.SnapshotFlushInterval),
		persist.WithPublisher(publisher),
	}
	if redisStore != nil {
		writerOpts = append(writerOpts, persist.WithCache(redisStore))
	}
	writer := persist.NewWriter(dataStore, writerOpts...)

	// Realtime hub
	hub := realtime.NewHub(realtime.Options{
		MaxSnapshotBytes: cfg.MaxSnapshotBytes,
		HistoryDepth:     cfg.HistoryDepth,
		MessageRate:      cfg.MessageRate,
		MessageBurst:     cfg.MessageBurst,
		AllowedOrigins:   cfg.AllowedOrigins,
	}, writer, writer, logger.With().Str("component", "realtime").Logger())

	// The hub stops before the writer so its last enqueued snapshots are
	// part of the final flush.
	hubCtx, stopHub := context.WithCancel(ctx)
	writerCtx, stopWriter := context.WithCancel(ctx)
	hubDone := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(hubDone)
		hub.Run(hubCtx)
	}()

	go func() {
		defer close(writerDone)
		writer.Run(writerCtx)
	}()

	// Create router
	router := api.NewRouter(logger, cfg, api.Deps{
		Store:     dataStore,
		Redis:     redisStore,
		Live:      hub,
		Pending:   writer,
		Publisher: publisher,
		WebSocket: hub.ServeWS,
	})

	// Create server. No write timeout: it would cut long-lived WebSocket
	// connections, which manage their own deadlines.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("store", cfg.StoreDriver()).
			Msg("starting boardsync server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	// Stopping the hub closes every WebSocket; the writer flushes what is
	// pending before returning.
	stopHub()
	<-hubDone
	stopWriter()
	<-writerDone

	logger.Info().Int("pending", writer.Pending()).Msg("server stopped")
}

// openStore selects the DataStore from DATABASE_URL: PostgreSQL or MongoDB
// when a URL is set, SQLite otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) store.DataStore {
	switch cfg.StoreDriver() {
	case "postgres":
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")

		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		logger.Info().Msg("connected to PostgreSQL")
		return pg

	case "mongo":
		m, err := store.NewMongoStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("mongodb connection failed")
		}
		logger.Info().Msg("connected to MongoDB")
		return m

	default:
		sqlite, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite")
		return sqlite
	}
}
