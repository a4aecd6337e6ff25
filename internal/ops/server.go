// Package ops exposes the operational surface of the worker: liveness and
// queue/job statistics for alerting. It binds to an internal port and has no
// authentication.
package ops

import (
	"database/sql"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/postwing/engine/internal/repository"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	app       *fiber.App
	db        *sql.DB
	redis     *redis.Client
	jobs      repository.JobRepository
	inspector *asynq.Inspector
}

func NewServer(db *sql.DB, redisClient *redis.Client, jobs repository.JobRepository, inspector *asynq.Inspector) *Server {
	s := &Server{
		app:       fiber.New(fiber.Config{DisableStartupMessage: true}),
		db:        db,
		redis:     redisClient,
		jobs:      jobs,
		inspector: inspector,
	}

	s.app.Get("/healthz", s.health)
	s.app.Get("/stats", s.stats)
	s.app.Get("/jobs/:key", s.job)
	return s
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) health(c *fiber.Ctx) error {
	if err := s.db.PingContext(c.Context()); err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "down", "database": err.Error()})
	}
	if err := s.redis.Ping(c.Context()).Err(); err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "down", "redis": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// stats reports job counts by kind and state from the ledger plus live queue
// depth and archive size from asynq. Dead-letter growth is the alert signal.
func (s *Server) stats(c *fiber.Ctx) error {
	counts, err := s.jobs.CountByKindAndState(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	response := fiber.Map{"jobs": counts}

	queueInfo, err := s.inspector.GetQueueInfo("default")
	if err != nil {
		slog.Info(err.Error())
	} else {
		response["queue"] = fiber.Map{
			"pending":   queueInfo.Pending,
			"active":    queueInfo.Active,
			"scheduled": queueInfo.Scheduled,
			"retry":     queueInfo.Retry,
			"archived":  queueInfo.Archived,
		}
	}

	return c.JSON(response)
}

// job looks up one ledger row by idempotency key, e.g. /jobs/publish:42.
// Used when chasing a dead-lettered or stuck unit of work.
func (s *Server) job(c *fiber.Ctx) error {
	job, err := s.jobs.GetByKey(c.Context(), c.Params("key"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if job == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no job with that key"})
	}
	return c.JSON(fiber.Map{"job": job, "terminal": job.Terminal()})
}
