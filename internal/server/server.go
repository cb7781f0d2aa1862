package server

import (
	"context"
	"database/sql"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/api"
	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/auth"
	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/config"
	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/engine"
	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/sensor"
	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/store"
	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/stream"
)

type Server struct {
	App     *fiber.App
	Cfg     config.Config
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Stream  *stream.Hub
	Manager *engine.Manager
	Log     *zap.Logger

	remote *store.PostgresStore
	local  *store.SQLiteStore
}

func NewServer(cfg config.Config, pg *pgxpool.Pool, redisClient *redis.Client, localDB *sql.DB, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     pg,
		Redis:  redisClient,
		Stream: stream.NewHub(redisClient, log),
		Log:    log,
	}

	var remote store.Store
	if pg != nil {
		s.remote = store.NewPostgresStore(pg, log)
		remote = s.remote
	}
	if localDB != nil {
		s.local = store.NewSQLiteStore(localDB, log)
	}
	tiered := store.NewTiered(remote, s.local, log)

	loc := sensor.NewPushLocationSource()
	hr := sensor.NewPushHeartRateSource()
	s.Manager = engine.NewManager(engine.Deps{
		Location:  loc,
		HeartRate: hr,
		Store:     tiered,
		Log:       log,
		Tuning:    cfg.Tuning(),
		Observer:  s.Stream.BroadcastSnapshot,
	})

	registerRoutes(s, &api.Handler{
		Manager:   s.Manager,
		Location:  loc,
		HeartRate: hr,
		Store:     tiered,
	})
	return s
}

// Migrate prepares both session stores; a missing backend is skipped.
func (s *Server) Migrate(ctx context.Context) error {
	if s.remote != nil {
		if err := s.remote.Migrate(ctx); err != nil {
			return err
		}
	}
	if s.local != nil {
		if err := s.local.Init(ctx); err != nil {
			return err
		}
	}
	return nil
}

func registerRoutes(s *Server, h *api.Handler) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	api.RegisterRoutes(s.App.Group("/sessions"), h, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}
