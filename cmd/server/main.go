package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/convohq/convo/internal/accounts"
	"github.com/convohq/convo/internal/api"
	"github.com/convohq/convo/internal/cache"
	"github.com/convohq/convo/internal/config"
	"github.com/convohq/convo/internal/db"
	"github.com/convohq/convo/internal/events"
	"github.com/convohq/convo/internal/observ"
	"github.com/convohq/convo/internal/presence"
	"github.com/convohq/convo/internal/repository/postgres"
	"github.com/convohq/convo/internal/service"
	"github.com/convohq/convo/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, "convo")
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	database, err := db.New(context.Background(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	kv, err := cache.NewRedis(context.Background(), cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer kv.Close()

	coord := cache.NewCoordinator(kv, logger, cfg.SmartPageSizes, cfg.RecentWindow)

	pool := database.Pool()
	channelRepo := postgres.NewChannelStore(pool)
	membershipRepo := postgres.NewMembershipStore(pool)
	messageRepo := postgres.NewMessageStore(pool)

	hub := ws.NewHub(logger)
	pres := presence.New(kv, coord, logger)
	publisher := events.NewPublisher(kv, cfg.EventsTopic, logger)
	accountClient := accounts.NewClient(cfg.AccountsURL, logger)
	userInfo := service.NewUserInfoService(accountClient, kv, logger)

	channelSvc := service.NewChannelService(channelRepo, membershipRepo, coord, logger)
	memberSvc := service.NewMemberService(membershipRepo, channelRepo, coord, logger)
	deliverySvc := service.NewDeliveryService(memberSvc, pres, hub, userInfo, publisher, coord, logger)
	messageSvc := service.NewMessageService(messageRepo, channelSvc, memberSvc, coord, deliverySvc, logger)

	router := api.NewRouter(api.RouterDeps{
		Channels:   api.NewChannelHandler(channelSvc, deliverySvc, logger),
		Members:    api.NewMembershipHandler(memberSvc, messageSvc, deliverySvc, userInfo, logger),
		Messages:   api.NewMessageHandler(messageSvc, userInfo, logger),
		WS:         api.NewWSHandler(hub, pres, deliverySvc, coord, cfg.InstanceID, logger),
		DB:         database,
		Cache:      kv,
		Hub:        hub,
		JWTSecret:  cfg.JWTSecret,
		Production: cfg.IsProduction(),
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.String("instance_id", cfg.InstanceID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
