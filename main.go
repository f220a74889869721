package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TMProject/global/config"
	"TMProject/logger"
	"TMProject/middleware"
	"TMProject/module/chat"
	"TMProject/module/chat/reply"
	"TMProject/module/chat/service"
	"TMProject/module/chat/store"
	"TMProject/service/bus"
	"TMProject/service/cache"
	"TMProject/service/cachebus"
	"TMProject/service/mgo"
	redisstore "TMProject/service/storage/redis"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func buildTransport(cfg *config.Settings) bus.Transport {
	switch cfg.BusDriver {
	case config.BusDriverKafka:
		return bus.NewKafka(cfg.KafkaBrokers, cfg.KafkaClientID)
	case config.BusDriverRedis:
		return bus.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case config.BusDriverNats:
		return bus.NewNats(cfg.NatsServers, cfg.NatsName)
	case config.BusDriverMemory:
		return bus.NewMemoryBroker().Transport()
	default:
		return nil
	}
}

func main() {
	cfg := config.Load()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgo.StartAsync(rootCtx, &mgo.Config{
		URI:         cfg.MongoURI,
		Database:    cfg.MongoDB,
		Username:    cfg.MongoUser,
		Password:    cfg.MongoPassword,
		MaxPoolSize: cfg.MongoPoolSize,
	})
	waitCtx, cancel := context.WithTimeout(rootCtx, 30*time.Second)
	defer cancel()
	if err := mgo.WaitReady(waitCtx); err != nil {
		logger.Error("mongo not ready", zap.Error(err))
		os.Exit(1)
	}

	// shared cache tier is optional; without Redis every instance runs
	// on its local TTL cache alone
	var shared *redisstore.Cache
	if cfg.RedisAddr != "" {
		if err := redisstore.InitRedis(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}); err != nil {
			logger.Warn("redis unavailable, continuing without shared tier", zap.Error(err))
		} else {
			shared = redisstore.NewCache(cfg.TopicPrefix)
		}
	}

	local := cache.New()

	transport := buildTransport(cfg)
	b := bus.New(bus.Config{
		Enabled:        transport != nil,
		TopicPrefix:    cfg.TopicPrefix,
		Topics:         []string{service.MessagesTopic, cachebus.Topic},
		HandlerTimeout: time.Duration(cfg.HandlerTimeoutMS) * time.Millisecond,
		Reconnect:      cfg.BusReconnect,
	}, transport)
	defer b.Stop()

	st := store.NewMongoStore(mgo.GetDB())
	mat := store.NewMaterializer(st, local, shared, cfg.WindowSize, cfg.CacheSizes, cfg.LatestCacheTTL)
	inv := cachebus.New(local, shared, b)
	svc := service.New(st, mat, reply.NewResolver(st), local, shared, inv, b,
		cfg.LatestCacheTTL, cfg.MaxLatestCount)

	b.StartConsumer(svc.EventHandler())

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Origin())
	chat.NewHandler(svc).RegisterRoutes(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logger.Infof("listening on %s (bus=%s)", srv.Addr, cfg.BusDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server exited", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	redisstore.CloseRedis()
}
