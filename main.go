package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cart-order-service/catalog"
	"cart-order-service/config"
	"cart-order-service/events"
	"cart-order-service/handlers"
	"cart-order-service/middleware"
	"cart-order-service/payments"
	"cart-order-service/repository"
	"cart-order-service/routes"
	"cart-order-service/services"
	"cart-order-service/upstream"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("failed to load configuration")
	}
	log := config.NewLogger(cfg)
	cfg.Watch(log)

	gin.SetMode(cfg.GinMode)

	db, err := config.OpenDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("failed to open database")
	}

	var cat catalog.Client = catalog.NewHTTPClient(cfg.CatalogBaseURL, cfg.CatalogPolicy(), log)
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		cat = catalog.NewCachedClient(cat, catalog.NewRedisCache(rdb, "catalog"), cfg.CatalogCacheTTL, log)
		log.Info().Str("addr", cfg.RedisAddr).Dur("ttl", cfg.CatalogCacheTTL).Msg("catalog cache enabled")
	}

	var pub events.Publisher = events.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		pub = events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.OrderEventsTopic), upstream.DefaultPolicy(), log)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.OrderEventsTopic).Msg("order events enabled")
	}

	orders := services.NewOrderService(repository.NewOrderRepository(db), cat, pub, log)
	carts := services.NewCartService(repository.NewCartRepository(db), orders, log)

	if err := handlers.RegisterValidators(); err != nil {
		log.Fatal().Err(err).Msg("failed to register validators")
	}
	h := handlers.New(carts, orders, cfg.PaymentWebhookSecret, log)

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logger(log), middleware.CORS(cfg.CORSOrigins))
	routes.SetupRoutes(r, h, []byte(cfg.JWTSecret))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var workers sync.WaitGroup
	if cfg.AMQPURL != "" {
		consumer := payments.NewConsumer(cfg.AMQPURL, cfg.PaymentQueue, orders, upstream.DefaultPolicy(), log)
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := consumer.Run(ctx); err != nil {
				log.Error().Err(err).Msg("payment consumer stopped")
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	workers.Wait()
	if err := pub.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close event publisher")
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("shutdown completed")
}
