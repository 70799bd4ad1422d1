/**
 * @description
 * This is the main entry point for the ledger-service. It is responsible for
 * initializing all components of the service, including configuration, the
 * account/ledger store, the message broker, the optional Redis rate limiter,
 * the core transaction engine, and the HTTP server. It wires everything
 * together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/acctnum, pkg/rabbitmq: Account number generation and RabbitMQ clients.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/paystream/ledger-service/internal/api"
	"github.com/paystream/ledger-service/internal/app"
	"github.com/paystream/ledger-service/internal/config"
	"github.com/paystream/ledger-service/internal/store"
	"github.com/paystream/ledger-service/pkg/acctnum"
	rmrabbit "github.com/paystream/ledger-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting ledger-service\" port=%s store=%s", cfg.ServerPort, cfg.StoreBackend)

	lockTimeout := time.Duration(cfg.LockTimeoutMS) * time.Millisecond
	numbers := acctnum.NewWithLength(cfg.AccountNumberLength)

	// Initialize the data access layer (repository).
	var repository store.Repository
	switch strings.ToLower(strings.TrimSpace(cfg.StoreBackend)) {
	case "memory":
		repository = store.NewMemoryRepository(numbers, lockTimeout)
		log.Println("level=info component=bootstrap msg=\"using in-memory store\"")
	default:
		// Establish a connection pool to the PostgreSQL database.
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
		}
		poolConfig.MaxConns = 50
		poolConfig.MinConns = 5
		poolConfig.MaxConnLifetime = 30 * time.Minute
		poolConfig.MaxConnIdleTime = 5 * time.Minute

		dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
		}
		defer dbpool.Close()
		log.Println("level=info component=bootstrap msg=\"database connected\"")

		repository = store.NewPostgresRepository(dbpool, numbers, lockTimeout)
	}

	// Initialize the RabbitMQ producer to publish ledger events.
	var producer rmrabbit.Publisher
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; ledger events disabled\" env=RABBITMQ_URL")
		producer = &rmrabbit.EventProducerFallback{}
	} else if eventProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the core application service with its dependencies.
	ledgerService := app.NewService(repository, producer, cfg.AsyncWithdrawals())

	// Wire up the settlement consumer when withdrawals settle asynchronously.
	if cfg.AsyncWithdrawals() {
		rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
		}
		defer rabbitConsumer.Close()

		settlementConsumer := app.NewSettlementConsumer(repository)
		bindings := map[string]func([]byte) bool{
			app.SettlementRoutingKey: settlementConsumer.HandleSettlementUpdate,
		}
		if err := rabbitConsumer.ConsumeWithBindings(cfg.SettlementExchange, cfg.SettlementEventQueue, bindings); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"settlement consumer start failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"settlement consumer started\"")
	}

	// Connect Redis when transfer rate limiting is enabled.
	var limiter app.OperationRateLimiter
	if cfg.TransferRateLimitPerMin > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled\" env=REDIS_URL")
		} else if redisOptions, parseErr := redis.ParseURL(cfg.RedisURL); parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				limiter = app.NewRedisOperationRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the API handlers and router.
	ledgerHandlers := api.NewLedgerHandlers(ledgerService, limiter, cfg.TransferRateLimitPerMin)
	router := api.LedgerRoutes(ledgerHandlers, cfg.JWTSecret)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
