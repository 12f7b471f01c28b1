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

	"motochefe-engagement/internal/config"
	"motochefe-engagement/internal/database"
	"motochefe-engagement/internal/handlers"
	"motochefe-engagement/internal/middleware"
	"motochefe-engagement/internal/repository"
	"motochefe-engagement/internal/router"
	"motochefe-engagement/internal/services"
	"motochefe-engagement/internal/websocket"
	"motochefe-engagement/internal/worker"
	"motochefe-engagement/migrations"
)

func main() {
	log.Println("🚀 Starting MotoChefe engagement collector...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Printf("✓ Environment variables loaded (env=%s)", cfg.Env)

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		log.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, migrations.FS); err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Initialize Repositories & Services ────
	engagementRepo := repository.NewEngagementRepo(pool)
	engagementService := services.NewEngagementService(engagementRepo, redisClients.Queue, redisClients.PubSub)
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)

	// ──── Initialize Handlers ────
	engagementHandler := handlers.NewEngagementHandler(engagementService)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"postgres": pool,
		"redis":    redisClients,
	})
	collectLimiter := middleware.NewRateLimiter(cfg.CollectRateLimit, cfg.CollectRateWindow)

	// ──── Step 5: Start Ingest Worker Pool ────
	workerPool := worker.NewPool(redisClients.Queue, engagementService, cfg.IngestWorkers, cfg.IngestMaxAttempts)
	workerPool.Start()
	log.Printf("✓ Worker pool started (%d goroutines, %d attempts per batch)", cfg.IngestWorkers, cfg.IngestMaxAttempts)

	if depth, err := workerPool.QueueDepth(context.Background()); err == nil && (depth.Pending > 0 || depth.Retrying > 0 || depth.Dead > 0) {
		log.Printf("  Backlog: %d batches pending, %d awaiting retry, %d dead-lettered", depth.Pending, depth.Retrying, depth.Dead)
	}

	// ──── Step 6: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth)
	log.Println("✓ WebSocket hub started")

	// ──── Step 7: Start HTTP Server ────
	r := router.New(router.Deps{
		JWTAuth:        jwtAuth,
		Engagement:     engagementHandler,
		Health:         healthHandler,
		CollectLimiter: collectLimiter,
		WebSocket:      wsHub.HandleWebSocket,
		FrontendURL:    cfg.FrontendURL,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	idle := make(chan struct{})
	go func() {
		defer close(idle)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}

		wsHub.Close()
		workerPool.Stop()
		collectLimiter.Stop()
	}()

	log.Printf("✓ Engagement collector ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1/engagement", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws?course_id=<id>&token=<admin jwt>", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
	<-idle
}
