package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/market-settlement/internal/api"
	"github.com/example/market-settlement/internal/auth"
	"github.com/example/market-settlement/internal/config"
	"github.com/example/market-settlement/internal/domain/order"
	"github.com/example/market-settlement/internal/domain/stock"
	"github.com/example/market-settlement/internal/idempotency"
	"github.com/example/market-settlement/internal/infrastructure/kafka"
	"github.com/example/market-settlement/internal/infrastructure/store"
	"github.com/example/market-settlement/internal/payment"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()

	if cfg.JWTSecret == "" {
		log.Fatal("[API] JWT_SECRET environment variable is required")
	}
	if len(cfg.JWTSecret) < 32 {
		log.Fatal("[API] JWT_SECRET must be at least 32 characters long")
	}
	if cfg.WebhookSecret == "" {
		log.Fatal("[API] PAYMENT_WEBHOOK_SECRET environment variable is required")
	}

	log.Println("[API] ========================================")
	log.Println("[API] Marketplace Settlement Service")
	log.Println("[API] ========================================")
	log.Printf("[API] Kafka: %v", cfg.KafkaBrokers)
	log.Printf("[API] Topic: %s", cfg.KafkaTopic)
	log.Printf("[API] Gateway: %s", cfg.GatewayURL)

	// Initialize Kafka producer
	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	// Initialize PostgreSQL connection
	db, err := store.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("[API] Failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()
	log.Println("[API] Connected to PostgreSQL")

	// Initialize stores
	var stockStore stock.Store
	switch cfg.StockBackend {
	case "dynamo":
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			log.Fatalf("[API] Failed to load AWS config: %v", err)
		}
		stockStore = store.NewDynamoStockStore(dynamodb.NewFromConfig(awsCfg), cfg.DynamoStockTable)
		log.Printf("[API] Stock backend: DynamoDB (%s)", cfg.DynamoStockTable)
	default:
		stockStore = store.NewPostgresStockStore(db)
		log.Println("[API] Stock backend: PostgreSQL")
	}
	orderRepo := store.NewPostgresOrderRepository(db)
	chainLedger := store.NewPostgresLedger(db)
	paymentRecords := store.NewPostgresRecordStore(db)
	users := store.NewPostgresUserDirectory(db)

	// The idempotency guard prefers Redis when configured; Postgres otherwise.
	var guard idempotency.Guard
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		guard = idempotency.NewRedisGuard(rdb, "")
		log.Printf("[API] Idempotency guard: Redis (%s)", cfg.RedisAddr)
	} else {
		guard = idempotency.NewPostgresGuard(db)
		log.Println("[API] Idempotency guard: PostgreSQL")
	}

	// Initialize domain services
	orderSvc := order.NewService(orderRepo, stockStore, chainLedger, producer, cfg.LedgerTimeout)
	gateway := payment.NewHTTPGateway(cfg.GatewayURL, cfg.GatewayTimeout)
	reconciler := payment.NewReconciler(gateway, orderSvc, paymentRecords, guard, producer, cfg.WebhookSecret, cfg.GatewayTimeout)

	// Initialize token service
	tokens := auth.NewTokenService(cfg.JWTSecret, 15*time.Minute)

	// Initialize API
	handlers := api.NewHandlers(orderSvc, reconciler)
	authHandlers := api.NewAuthHandlers(users, tokens)
	router := api.NewRouter(handlers, authHandlers, tokens)

	// Start HTTP server
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		log.Printf("[API] Server started on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[API] Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[API] Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	if err := orderSvc.VerifyLedger(context.Background()); err != nil {
		log.Printf("[API] Ledger verification on shutdown failed: %v", err)
	}
}
