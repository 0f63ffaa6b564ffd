/**
 * @description
 * Entry point for the ledger HTTP API. It loads configuration, opens the
 * ledger store and optional Redis and RabbitMQ connections, wires the
 * application service and serves the chi router until SIGINT or SIGTERM.
 *
 * @dependencies
 * - github.com/joho/godotenv: .env loading for local development.
 * - internal/api, internal/app, internal/bootstrap, internal/config.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bonafide-ptnguyen/Mealathon/internal/api"
	"github.com/bonafide-ptnguyen/Mealathon/internal/bootstrap"
	"github.com/bonafide-ptnguyen/Mealathon/internal/config"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	logger := bootstrap.NewLogger(cfg)
	if cfg.JWKSURL == "" {
		logger.Error("JWKS_URL must be configured for authenticated routes")
		os.Exit(1)
	}
	if cfg.InternalAPIKey == "" {
		logger.Warn("INTERNAL_API_KEY not set; internal routes are unauthenticated")
	}

	ctx := context.Background()
	repository, closeStore, err := bootstrap.OpenRepository(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open ledger store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	redisClient := bootstrap.OpenRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	publisher, brokered := bootstrap.OpenPublisher(cfg, logger)
	defer publisher.Close()

	service := bootstrap.NewService(cfg, repository, redisClient, logger)
	waitRefunds := bootstrap.WireRefundDispatch(cfg, service, publisher, brokered, logger)
	stopJobs, _ := bootstrap.StartEmbeddedScheduler(cfg, service, logger)

	handlers := api.NewHandlers(service, logger)
	router := api.NewRouter(handlers, api.RouterOptions{
		Auth:           api.AuthMiddleware(api.NewJWKSCache(cfg.JWKSURL, 0), cfg.JWTAudience, cfg.JWTIssuer),
		InternalAPIKey: cfg.InternalAPIKey,
		AllowedOrigins: cfg.AllowedOrigins(),
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", serverAddr, "store", cfg.LedgerStore)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	stopJobs()
	waitRefunds()
	logger.Info("shutdown complete")
}
