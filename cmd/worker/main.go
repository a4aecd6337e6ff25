package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	config "github.com/postwing/engine/configs"
	"github.com/postwing/engine/internal/ops"
	"github.com/postwing/engine/internal/platform"
	"github.com/postwing/engine/internal/queue"
	"github.com/postwing/engine/internal/reconciler"
	"github.com/postwing/engine/internal/repository"
	"github.com/postwing/engine/internal/service"
	"github.com/postwing/engine/internal/worker"
	"github.com/postwing/engine/pkg/backoff"
	"github.com/postwing/engine/pkg/ratelimit"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURI})
	defer redisClient.Close()

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	asynqClient := asynq.NewClient(redisConn)
	defer asynqClient.Close()

	postRepo := repository.NewPostRepository(db)
	targetRepo := repository.NewPlatformTargetRepository(db)
	accountRepo := repository.NewConnectedAccountRepository(db)
	analyticsRepo := repository.NewAnalyticsRepository(db)
	postMediaRepo := repository.NewPostMediaRepository(db)
	mediaAssetRepo := repository.NewMediaAssetRepository(db)
	postAccountRepo := repository.NewPostAccountRepository(db)
	jobRepo := repository.NewJobRepository(db)

	mediaService := service.NewMediaService(*cfg, postMediaRepo, mediaAssetRepo)

	adapters := platform.NewRegistry(
		platform.NewTiktokAdapter(*cfg),
		platform.NewInstagramAdapter(*cfg),
		platform.NewYoutubeAdapter(*cfg, mediaService),
	)

	limiter := ratelimit.NewRedisLimiter(redisClient, ratelimit.Config{
		Capacity:       cfg.RateLimit.Capacity,
		RefillRate:     cfg.RateLimit.RefillRate,
		RefillInterval: cfg.RateLimit.RefillInterval,
	})

	policy := backoff.New(cfg.Worker.BackoffBase, cfg.Worker.BackoffCap)

	publishProcessor := worker.NewPublishProcessor(postRepo, targetRepo, accountRepo,
		mediaService, adapters, limiter, policy, cfg.Worker.CallTimeout)
	analyticsProcessor := worker.NewAnalyticsProcessor(targetRepo, accountRepo,
		analyticsRepo, adapters, cfg.Worker.CallTimeout)
	tokenProcessor := worker.NewTokenProcessor(accountRepo, adapters,
		cfg.SecretKey, cfg.Worker.CallTimeout)

	transport := queue.NewAsynqTransport(asynqClient, jobRepo, cfg.Worker.MaxAttempts)

	rec := reconciler.New(cfg.Reconciler, postRepo, targetRepo, accountRepo, postAccountRepo, jobRepo, transport)
	cronRunner := rec.Start()
	defer cronRunner.Stop()

	srv := worker.NewServer(redisConn, cfg.Worker, jobRepo,
		publishProcessor, analyticsProcessor, tokenProcessor)

	go func() {
		log.Println("Starting the worker server...")
		if err := srv.Run(); err != nil {
			log.Fatalf("Could not start worker server: %v", err)
		}
	}()

	inspector := asynq.NewInspector(redisConn)
	opsServer := ops.NewServer(db, redisClient, jobRepo, inspector)
	go func() {
		log.Printf("Ops server listening on %s", cfg.OpsAddr)
		if err := opsServer.Listen(cfg.OpsAddr); err != nil {
			log.Fatalf("Failed to start ops server: %v", err)
		}
	}()

	gracefulShutdown(srv, opsServer, db)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(srv *worker.Server, opsServer *ops.Server, db *sql.DB) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down worker...")

	srv.Shutdown()
	if err := opsServer.Shutdown(); err != nil {
		log.Printf("Failed to shut down ops server: %v", err)
	}

	closeDB(db)
	log.Println("Worker shutdown complete.")
}
