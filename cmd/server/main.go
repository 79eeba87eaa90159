package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/finchlabs/portfolio-ledger/internal/api"
	"github.com/finchlabs/portfolio-ledger/internal/audit"
	"github.com/finchlabs/portfolio-ledger/internal/config"
	"github.com/finchlabs/portfolio-ledger/internal/database"
	"github.com/finchlabs/portfolio-ledger/internal/kafka"
	"github.com/finchlabs/portfolio-ledger/internal/ledger"
	"github.com/finchlabs/portfolio-ledger/internal/pricesync"
	"github.com/finchlabs/portfolio-ledger/internal/quotes"
	"github.com/finchlabs/portfolio-ledger/pkg/logger"
)

func main() {
	cfg := config.Load()

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
	})

	log.Info().Msg("Starting portfolio ledger service")

	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.RunMigrations(cfg.Database.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	var producer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Kafka producer enabled")
	}

	var quoteCache *quotes.Cache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		defer rdb.Close()
		quoteCache = quotes.NewCache(rdb, cfg.Redis.QuoteTTL, log)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Quote cache enabled")
	}

	trail := audit.NewTrail(db, log)

	var events ledger.EventPublisher
	if producer != nil {
		events = producer
	}
	positions := ledger.NewService(db, trail, events, log)

	listed := quotes.NewListedClient(cfg.Quotes.ListedBaseURL, cfg.Quotes.Timeout, log)
	digital := quotes.NewDigitalClient(cfg.Quotes.DigitalBaseURL, cfg.Quotes.Timeout, log)
	syncEngine := pricesync.NewEngine(db, listed, digital, quoteCache, trail, cfg.Quotes.Timeout, log)

	handler := api.NewHandler(positions, syncEngine, trail, log)
	router := api.SetupRoutes(handler)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
}
