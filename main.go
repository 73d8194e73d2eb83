package main

import (
	"context"
	"log"
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"

	"quorum/config"
	controller "quorum/controllers"
	"quorum/events"
	"quorum/middleware"
	"quorum/routes"
	"quorum/utils"
	"quorum/worker"
)

func main() {
	logger := log.New(os.Stdout, "QUORUM: ", log.Ldate|log.Ltime|log.Lshortfile)

	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if dsn := config.AppConfig.SentryDSN; dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
	}

	db, err := config.ConnectDB()
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	cache := config.ConnectRedis()
	hub := events.NewHub(log.New(os.Stdout, "HUB: ", log.LstdFlags))
	notifier := utils.NewNotifier(config.AppConfig.SMTP, nil)
	lifecycle := controller.NewLifecycle(db, hub, cache, notifier,
		log.New(os.Stdout, "LIFECYCLE: ", log.LstdFlags))

	app := fiber.New()
	app.Use(middleware.CORS())

	routes.SetupRoutes(app, db, hub, lifecycle)

	// Deadline sweeper closes questions whose deadline passed with no cast
	// arriving to trigger the lazy check.
	deadlineWorker := worker.NewDeadlineWorker(db, lifecycle,
		config.AppConfig.DeadlineSweepInterval,
		log.New(os.Stdout, "DEADLINE: ", log.LstdFlags))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go deadlineWorker.Start(ctx)

	logger.Printf("Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
