package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"roomchat/internal/api"
	"roomchat/internal/middleware"
	"roomchat/internal/realtime"
	"roomchat/internal/repository"
	"roomchat/internal/service"
	"roomchat/internal/storage"
	"roomchat/internal/utils"
	"roomchat/internal/worker"
	"roomchat/pkg/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// 載入應用程式配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := utils.InitLogger(cfg.Log.Level)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化 repositories
	repos, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := realtime.NewRegistry()
	broker := realtime.NewBroker(logger)
	tokens := utils.NewTokenManager(cfg.JWT.Secret, cfg.JWT.TTL)

	g, gctx := errgroup.WithContext(ctx)

	// Redis 是選用的：有設定時啟用跨行程轉送與到期排程
	var (
		scheduler service.ExpiryScheduler
		queueOpt  asynq.RedisConnOpt
	)
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opt)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}

		relay := realtime.NewRedisRelay(client, broker, cfg.Redis.ChannelPrefix, logger)
		g.Go(func() error { return relay.Run(gctx) })

		queueOpt, err = asynq.ParseRedisURI(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url for asynq: %w", err)
		}
		expiryScheduler := worker.NewScheduler(queueOpt, logger)
		defer expiryScheduler.Close()
		scheduler = expiryScheduler
	} else {
		logger.Info("redis not configured, running as a single node")
	}

	// 初始化 services
	services := service.NewServices(service.Dependencies{
		Repos:    repos,
		Registry: registry,
		Broker:   broker,
		Tokens:   tokens,
		Session: service.SessionSettings{
			WriteWait:        cfg.Session.WriteWait,
			PongWait:         cfg.Session.PongWait,
			PingPeriod:       cfg.Session.PingPeriod,
			MaxFrameBytes:    cfg.Session.MaxFrameBytes,
			SendBuffer:       cfg.Session.SendBuffer,
			MaxMessageLength: cfg.Session.MaxMessageLength,
		},
		Scheduler: scheduler,
		Logger:    logger,
	})

	if queueOpt != nil {
		expiryWorker := worker.NewServer(queueOpt, services.Moderation.HandleExpiry, logger)
		g.Go(func() error { return expiryWorker.Run(gctx) })
	}

	// 設置 Gin 路由
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLog(logger))
	api.SetupRoutes(r, services, tokens, cfg.Server.AllowedOrigins)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("http server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		// 被 hijack 的 websocket 連線不受 Shutdown 管理，要先自行關閉
		services.Sessions.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openStore 依設定選擇 PostgreSQL 或記憶體儲存
func openStore(cfg *config.Config, logger *slog.Logger) (*repository.Repositories, func(), error) {
	if cfg.DB.Driver == config.DriverMemory {
		logger.Warn("using in-memory store, data will be lost on exit")
		return repository.NewMemoryRepositories(repository.NewMemoryStore()), func() {}, nil
	}

	// 初始化資料庫連接
	db, err := storage.NewPostgresDB(storage.Options{
		Host:     cfg.DB.Host,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		Name:     cfg.DB.Name,
		Port:     cfg.DB.Port,
		SSLMode:  cfg.DB.SSLMode,
		TimeZone: cfg.DB.TimeZone,
	})
	if err != nil {
		return nil, nil, err
	}
	// 自動遷移資料庫結構
	if err := db.AutoMigrate(); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("auto migrate: %w", err)
	}
	return repository.NewRepositories(db), func() {
		if err := db.Close(); err != nil {
			logger.Warn("close database", "error", err)
		}
	}, nil
}
