package server

import (
	"context"
	"errors"
	"time"

	"backend-safetrack/internal/antitheft"
	"backend-safetrack/internal/auth"
	"backend-safetrack/internal/config"
	"backend-safetrack/internal/db"
	"backend-safetrack/internal/evidence"
	"backend-safetrack/internal/metrics"
	"backend-safetrack/internal/notify"
	"backend-safetrack/internal/points"
	"backend-safetrack/internal/ratelimit"
	"backend-safetrack/internal/shared/apperr"
	"backend-safetrack/internal/sharing"
	"backend-safetrack/internal/status"
	"backend-safetrack/internal/stream"
	"backend-safetrack/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App       *fiber.App
	Cfg       config.Config
	DB        db.Querier
	Redis     *redis.Client
	Stream    *stream.Hub
	Publisher notify.Publisher

	Events   *antitheft.Service
	Sessions *tracking.Service
	Shares   *sharing.Issuer
}

func NewServer(cfg config.Config, q db.Querier, redisClient *redis.Client, publisher notify.Publisher) *Server {
	app := fiber.New(fiber.Config{ErrorHandler: apperr.ErrorHandler})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(metrics.Middleware())

	if publisher == nil {
		publisher = notify.Nop{}
	}
	hub := stream.NewHub(redisClient)
	ledger := points.NewLedger(q, cfg.PointBatchLimit, cfg.PointParentLimit)
	sessions := tracking.NewService(q, ledger, hub, publisher)

	s := &Server{
		App:       app,
		Cfg:       cfg,
		DB:        q,
		Redis:     redisClient,
		Stream:    hub,
		Publisher: publisher,
		Events:    antitheft.NewService(q, ledger, hub, publisher),
		Sessions:  sessions,
		Shares:    sharing.NewIssuer(q, sessions, publisher),
	}

	registerRoutes(s, ledger)
	return s
}

func registerRoutes(s *Server, ledger *points.Ledger) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.App.Get("/metrics", metrics.Handler())

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)
	shareLimiter := ratelimit.New(s.Redis, "share", s.Cfg.ShareRateLimit, time.Duration(s.Cfg.ShareRateWindowSeconds)*time.Second)
	media := evidence.NewRegistry(s.DB)

	api := s.App.Group("/api/v1")
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	antiTheft := api.Group("/anti-theft")
	antitheft.RegisterRoutes(antiTheft, s.Events, media, jwtMiddleware)
	status.RegisterRoutes(antiTheft, status.NewAggregator(s.Events, ledger, media, s.Cfg.StatusHistoryLimit), jwtMiddleware)

	paths := api.Group("/paths")
	sharing.RegisterRoutes(paths, s.Shares, jwtMiddleware, shareLimiter.Middleware())
	tracking.RegisterRoutes(paths, s.Sessions, jwtMiddleware)

	stream.RegisterRoutes(api.Group("/stream"), s.Stream, stream.Access{
		Owner:  s.ownsChannel,
		Shared: s.Shares.SessionFor,
	}, jwtMiddleware, shareLimiter.Middleware())
}

// ownsChannel accepts an anti-theft event or a tracking session owned by
// the caller.
func (s *Server) ownsChannel(ctx context.Context, ownerID, channelID string) error {
	_, err := s.Events.Event(ctx, ownerID, channelID)
	if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return s.Sessions.Owns(ctx, ownerID, channelID)
}

// Close stops the stream hub and drains pending notifications.
func (s *Server) Close() {
	s.Stream.Close()
	s.Publisher.Close()
}
