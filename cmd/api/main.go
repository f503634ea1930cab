package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-safetrack/internal/config"
	"backend-safetrack/internal/db"
	"backend-safetrack/internal/logger"
	"backend-safetrack/internal/notify"
	"backend-safetrack/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	initLogger      func(logger.Config) error
	migrate         func(string) error
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	connectNotify   func(context.Context, string) (notify.Publisher, error)
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *pgxpool.Pool, *redis.Client, notify.Publisher, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		initLogger:      logger.Initialize,
		migrate:         db.Migrate,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		connectNotify:   connectNotify,
		notify:          signal.Notify,
		run:             Run,
	}
}

// connectNotify returns a no-op publisher when no NATS url is configured.
func connectNotify(ctx context.Context, url string) (notify.Publisher, error) {
	if url == "" {
		return notify.Nop{}, nil
	}
	pub, err := notify.Connect(ctx, url)
	if err != nil {
		return nil, err
	}
	return pub, nil
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()

	if err := deps.initLogger(logger.Config{Debug: cfg.LogDebug}); err != nil {
		logger.Warn("logger init failed, continuing with default", zap.Error(err))
	}
	defer logger.Sync()

	if cfg.AutoMigrate {
		if err := deps.migrate(cfg.PostgresURL); err != nil {
			logger.Error(err, zap.String("step", "migrate"))
			return
		}
	}

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		logger.Error(err, zap.String("step", "postgres"))
	}

	rdb := deps.connectRedis(cfg)

	pub, err := deps.connectNotify(context.Background(), cfg.NATSURL)
	if err != nil {
		logger.Warn("notifications disabled", zap.Error(err))
		pub = notify.Nop{}
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, pg, rdb, pub, signals, nil); err != nil {
		logger.Error(err, zap.String("step", "serve"))
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server and waits for termination signals.
func Run(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client, pub notify.Publisher, signals <-chan os.Signal, listen ListenFunc) error {
	var q db.Querier
	if pg != nil {
		q = pg
	}
	srv := server.NewServer(cfg, q, rdb, pub)

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			srv.Close()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := shutdownFn(srv.App, shutdownCtx)
	srv.Close()
	if pg != nil {
		pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
