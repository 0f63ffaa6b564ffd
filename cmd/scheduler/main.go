/**
 * @description
 * Entry point for the ledger scheduler. This is a non-HTTP, long-running
 * process that runs the lifecycle sweep, refund recovery and propagation
 * repair on cron schedules.
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
	if err := bootstrap.RequireSharedStore(cfg, "scheduler"); err != nil {
		logger.Error("unsupported ledger store; the API runs the jobs itself in memory mode", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	repository, closeStore, err := bootstrap.OpenRepository(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open ledger store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	publisher, brokered := bootstrap.OpenPublisher(cfg, logger)
	defer publisher.Close()

	service := bootstrap.NewService(cfg, repository, nil, logger)
	waitRefunds := bootstrap.WireRefundDispatch(cfg, service, publisher, brokered, logger)

	jobs := app.NewJobs(service, logger, cfg)
	scheduler := app.NewScheduler(jobs, logger, cfg)
	if scheduler.Start() == 0 {
		logger.Error("no jobs scheduled; check the *_SCHEDULE settings")
		<-scheduler.Stop().Done()
		os.Exit(1)
	}
	logger.Info("scheduler started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping scheduler")
	<-scheduler.Stop().Done()
	waitRefunds()
	logger.Info("scheduler stopped gracefully")
}
