package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/podbrief/api/internal/client"
	"github.com/podbrief/api/internal/config"
	"github.com/podbrief/api/internal/engine"
	"github.com/podbrief/api/internal/handler"
	"github.com/podbrief/api/internal/middleware"
	"github.com/podbrief/api/internal/service"
	"github.com/podbrief/api/internal/stage"
	"github.com/podbrief/api/internal/store"
	ws "github.com/podbrief/api/internal/websocket"
	"github.com/podbrief/api/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize clients
	scribeClient := client.NewScribeClient(&cfg.Scribe)
	llmClient := client.NewLLMClient(&cfg.LLM)
	if !llmClient.IsConfigured() {
		log.Printf("Warning: LLM API key not set, summarization will fail")
	}
	storageClient, err := client.NewS3Client(&cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize storage client: %v", err)
	}

	// Initialize stores and scheduler
	execStore := store.NewRedisStore(redisClient, cfg.Pipeline.Retention)
	scheduler := service.NewAsynqScheduler(asynqClient, cfg.Pipeline.Retention)

	// Initialize workflow engine
	cleanHandler := stage.NewCleanHandler(storageClient)
	summarizeHandler := stage.NewSummarizeHandler(llmClient, cfg.LLM.MaxTranscriptChars)
	formatHandler := stage.NewFormatHandler(storageClient, cfg.Storage.OutputBucket, cfg.Pipeline.SummaryPrefix)

	eng := engine.New(execStore, scribeClient, cleanHandler, summarizeHandler, formatHandler, scheduler, hub, engine.Config{
		PollInterval:      cfg.Pipeline.PollInterval,
		MaxPollFailures:   cfg.Pipeline.MaxPollFailures,
		SubmitAttempts:    cfg.Pipeline.SubmitAttempts,
		SubmitTimeout:     cfg.Pipeline.SubmitTimeout,
		PollTimeout:       cfg.Pipeline.PollTimeout,
		StageTimeout:      cfg.Pipeline.StageTimeout,
		TranscriptsBucket: cfg.Storage.TranscriptsBucket,
		TranscriptPrefix:  cfg.Pipeline.TranscriptPrefix,
	})

	// Initialize services
	workflowService := service.NewWorkflowService(execStore, scheduler, cfg.Pipeline.ExecutionTimeout, cfg.Storage.OutputBucket)

	// Initialize handlers
	workflowHandler := handler.NewWorkflowHandler(workflowService, validate)
	eventsHandler := handler.NewEventsHandler(workflowService, cfg.Pipeline.UploadPrefix)

	// Initialize middleware
	rateLimiter := middleware.NewRateLimiter(redisClient)

	var authenticate fiber.Handler
	if cfg.Gateway.Enabled {
		authenticate = middleware.GatewayAuthMiddleware()
	} else {
		authenticate = middleware.NewAuthMiddleware(cfg.JWT.Secret).Authenticate()
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Storage notification webhook
	app.Post("/events/object-created", eventsHandler.ObjectCreated)

	// API routes
	api := app.Group("/api", authenticate)

	workflows := api.Group("/workflows")
	workflows.Post("/start", rateLimiter.StartLimit(cfg.RateLimit.StartPerHour), workflowHandler.Start)
	workflows.Get("/status/:executionId", workflowHandler.Status)
	workflows.Get("/result/:executionId", workflowHandler.Result)
	workflows.Get("/history/:executionId", workflowHandler.History)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/executions/:executionId", websocket.New(func(c *websocket.Conn) {
		executionID := c.Params("executionId")
		hub.HandleConnection(c, executionID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, eng)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, eng *engine.Engine) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				service.QueueWorkflow: 10,
			},
		},
	)

	workflowWorker := worker.NewWorkflowWorker(eng)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeWorkflowStep, workflowWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
