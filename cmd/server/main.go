package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hardik25812/caidene-order-sub000/config"
	"github.com/hardik25812/caidene-order-sub000/internal/api"
	"github.com/hardik25812/caidene-order-sub000/internal/broker"
	"github.com/hardik25812/caidene-order-sub000/internal/dnsverify"
	"github.com/hardik25812/caidene-order-sub000/internal/provisioner"
	"github.com/hardik25812/caidene-order-sub000/internal/redisclient"
	"github.com/hardik25812/caidene-order-sub000/internal/retry"
	"github.com/hardik25812/caidene-order-sub000/internal/service"
	"github.com/hardik25812/caidene-order-sub000/internal/store"
	"github.com/hardik25812/caidene-order-sub000/internal/util"
	"github.com/hardik25812/caidene-order-sub000/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting fulfillment service")

	tp, err := util.InitTracer("fulfillment-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	provClient := provisioner.NewClient(cfg.Provisioner, redisClient)

	retryPolicy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
	}

	fulfillmentService := service.NewFulfillmentService(
		db, db, db, provClient, eventPublisher, retryPolicy, cfg.Inventory.LowThreshold)

	resolver := dnsverify.NewNetResolver(cfg.DNS.ResolveTimeout)
	poller := dnsverify.NewPoller(db, db, resolver, eventPublisher, redisClient)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	paymentConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayment, cfg.Kafka.ConsumerGroup)
	fulfillmentWorker := worker.NewFulfillmentWorker(paymentConsumer, fulfillmentService)
	go func() {
		if err := fulfillmentWorker.Start(workerCtx); err != nil {
			log.Printf("Fulfillment worker error: %v", err)
		}
	}()

	dnsWorker := worker.NewDNSPollWorker(poller, cfg.DNS.PollInterval)
	go func() {
		if err := dnsWorker.Start(workerCtx); err != nil {
			log.Printf("DNS poll worker error: %v", err)
		}
	}()

	janitor := worker.NewReservationJanitor(db, cfg.Inventory.ReservationTTL, cfg.Inventory.ReclaimPeriod)
	go func() {
		if err := janitor.Start(workerCtx); err != nil {
			log.Printf("Reservation janitor error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(fulfillmentService, poller, db, redisClient, cfg.Inventory.LowThreshold)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	fulfillmentWorker.Stop()

	log.Println("Server exited")
}
