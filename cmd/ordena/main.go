package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	app "github.com/ordena/ordena"
	"github.com/ordena/ordena/internal/config"
	"github.com/ordena/ordena/internal/engine"
	"github.com/ordena/ordena/internal/relayqueue"
	"github.com/ordena/ordena/internal/server"
	"github.com/ordena/ordena/pkg/api"
	"github.com/ordena/ordena/pkg/log"
	"github.com/ordena/ordena/pkg/orderflow"
	"github.com/ordena/ordena/pkg/worker"
)

type ordena struct {
	cfg    *config.Config
	db     *sql.DB
	rdb    *redis.Client
	engine api.Engine
	queue  relayqueue.Queue

	consumer     *worker.Consumer
	consumerStop context.CancelFunc
	consumerDone chan struct{}

	apiServer  *server.Server
	httpServer *http.Server
	quit       chan os.Signal
}

var (
	ErrOpenDatabase = errors.New("failed to open database")
	ErrCreateEngine = errors.New("failed to create engine")
	ErrCreateQueue  = errors.New("failed to create relay queue")
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	s := &ordena{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (s *ordena) run() error {
	if err := s.initializeEngine(); err != nil {
		return err
	}
	if err := s.initializeQueue(); err != nil {
		return err
	}
	s.startConsumer()
	s.startServer()

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *ordena) setupLogging() {
	level, ok := logLevels[s.cfg.LogLevel]
	if !ok {
		level = slog.LevelInfo
	}

	env := os.Getenv("ENV")
	logger := log.NewWithLevel(app.Name, env, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Ordena starting",
		slog.String("log_level", s.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("db_path", s.cfg.DatabasePath),
		slog.String("queue_backend", s.cfg.QueueBackend),
		slog.String("api_host", s.cfg.APIHost),
		slog.Int("api_port", s.cfg.APIPort))
}

func (s *ordena) initializeEngine() error {
	db, err := sql.Open("sqlite", s.cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenDatabase, err)
	}
	s.db = db

	p, err := engine.NewSQLitePersistence(db)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateEngine, err)
	}
	s.engine = engine.NewEngineWithConfig(engine.Config{
		Persistence:       p,
		Observer:          api.NewLoggingObserver(slog.Default()),
		Logger:            slog.Default(),
		TimerPollInterval: s.cfg.TimerPollInterval,
	})

	if err := orderflow.Register(s.engine, orderflow.Config{
		PaymentTimeout: s.cfg.PaymentTimeout,
	}); err != nil {
		return err
	}

	recovered, err := s.engine.Recover(context.Background())
	if err != nil {
		return err
	}
	if recovered > 0 {
		slog.Info("Recovered running instances", slog.Int("count", recovered))
	}
	return nil
}

func (s *ordena) initializeQueue() error {
	switch s.cfg.QueueBackend {
	case config.QueueBackendMemory:
		s.queue = relayqueue.NewInMemoryQueue(0)

	case config.QueueBackendSQLite:
		q, err := relayqueue.NewSQLiteQueue(s.db)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCreateQueue, err)
		}
		s.queue = q

	case config.QueueBackendRedis:
		s.rdb = redis.NewClient(&redis.Options{Addr: s.cfg.RedisAddr})
		s.queue = relayqueue.NewRedisQueue(s.rdb, s.cfg.RedisPrefix)

	default:
		return fmt.Errorf("%w: %s", ErrCreateQueue, s.cfg.QueueBackend)
	}
	return nil
}

func (s *ordena) startConsumer() {
	ctx, cancel := context.WithCancel(context.Background())
	s.consumerStop = cancel
	s.consumerDone = make(chan struct{})

	s.consumer = worker.NewConsumer(s.engine, s.queue, slog.Default())
	go func() {
		defer close(s.consumerDone)
		_ = s.consumer.Run(ctx)
	}()
}

func (s *ordena) startServer() {
	s.apiServer = server.NewServer(s.engine, s.queue, slog.Default())
	mux := s.apiServer.SetupRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: mux,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
		}
	}()
}

func (s *ordena) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}

	s.consumerStop()
	select {
	case <-s.consumerDone:
	case <-ctx.Done():
		slog.Warn("Consumer did not stop in time")
	}

	if err := s.engine.Close(); err != nil {
		slog.Error("Engine shutdown failed", log.Error(err))
	}

	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	if err := s.db.Close(); err != nil {
		slog.Error("Database close failed", log.Error(err))
	}

	slog.Info("Server exited")
}
