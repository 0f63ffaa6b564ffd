/**
 * @description
 * Entry point for the refund worker. It consumes refund requests from the
 * events exchange and runs the refund saga for each failed campaign. A
 * message is requeued while the campaign still has unrefunded donations.
 */
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/bonafide-ptnguyen/Mealathon/internal/app"
	"github.com/bonafide-ptnguyen/Mealathon/internal/bootstrap"
	"github.com/bonafide-ptnguyen/Mealathon/internal/config"
	"github.com/bonafide-ptnguyen/Mealathon/internal/domain"
	"github.com/bonafide-ptnguyen/Mealathon/pkg/rabbitmq"
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
	if err := bootstrap.RequireSharedStore(cfg, "refund worker"); err != nil {
		logger.Error("unsupported ledger store", "error", err)
		os.Exit(1)
	}
	if cfg.RabbitMQURL == "" {
		logger.Error("RABBITMQ_URL must be configured")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repository, closeStore, err := bootstrap.OpenRepository(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open ledger store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	service := bootstrap.NewService(cfg, repository, nil, logger)
	consumer := app.NewRefundConsumer(service.RunRefundSaga, logger, cfg.JobTimeout())

	rabbitConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Error("rabbitmq consumer init failed", "error", err)
		os.Exit(1)
	}
	defer rabbitConsumer.Close()

	bindings := map[string]func([]byte) bool{
		domain.RefundRequestedRoutingKey: consumer.HandleMessage,
	}
	logger.Info("refund worker consuming", "exchange", cfg.EventsExchange, "queue", cfg.RefundQueue)
	if err := rabbitConsumer.ConsumeWithBindings(ctx, cfg.EventsExchange, cfg.RefundQueue, cfg.RefundConcurrency, bindings); err != nil {
		logger.Error("refund consumer stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("refund worker stopped gracefully")
}
