package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ledger/internal/cache"
	"ledger/internal/config"
	"ledger/internal/db"
	"ledger/internal/events"
	"ledger/internal/handlers"
	"ledger/internal/middleware"
	"ledger/internal/services"
	"ledger/internal/store"
	"ledger/internal/websocket"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	accounts, closeStore := openStore(cfg)
	defer closeStore()

	var idempotency middleware.IdempotencyStore
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect redis")
		}
		defer client.Close()
		idempotency = cache.NewIdempotencyRepository(client)
		log.Info().Str("addr", cfg.RedisAddr).Msg("idempotency keys enabled")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RabbitMQURL != "" {
		conn, err := amqp.Dial(cfg.RabbitMQURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect rabbitmq")
		}
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open rabbitmq channel")
		}
		defer ch.Close()
		if err := events.DeclareExchange(ch, cfg.LedgerExchange); err != nil {
			log.Fatal().Err(err).Str("exchange", cfg.LedgerExchange).Msg("failed to declare exchange")
		}
		publisher = events.NewRabbitMQPublisher(ch, cfg.LedgerExchange)
	}

	hub := websocket.NewHub()
	loc := cfg.Location()
	service := services.NewLedgerService(accounts, publisher, hub, func() time.Time { return time.Now().In(loc) })

	handler := handlers.New(cfg, service, hub, idempotency)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Str("store", cfg.StoreDriver).Msg("ledger API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}

func setupLogger(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(middleware.Level(cfg.LogLevel))
	if cfg.AppEnv == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func openStore(cfg config.Config) (services.AccountStore, func()) {
	switch cfg.StoreDriver {
	case "memory":
		return store.NewMemoryAccountStore(cfg.LockTimeout), func() {}
	case "postgres":
		database, err := db.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect database")
		}
		return store.OpenAccountStore(database, cfg.LockTimeout), func() { _ = database.Close() }
	default:
		log.Fatal().Str("driver", cfg.StoreDriver).Msg("unknown store driver")
		return nil, nil
	}
}
