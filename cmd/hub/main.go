package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"device-hub/internal/api"
	"device-hub/internal/config"
	"device-hub/internal/devices"
	"device-hub/internal/health"
	"device-hub/internal/hub"
	"device-hub/internal/manager"
	"device-hub/internal/models"
	"device-hub/internal/sensors"
	"device-hub/internal/storage"
	"device-hub/internal/syncer"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	local, err := storage.NewStore(cfg.StatePath)
	if err != nil {
		log.Fatal("state store init failed", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		MaxRetries: 3,
	})

	var provider health.Provider
	if cfg.Offline {
		provider = health.NewMemoryProvider()
	} else {
		provider = health.NewRedisProvider(redisClient, log.Named("health"))
	}

	var transport devices.Transport
	transport, err = devices.NewMQTTTransport(
		cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.AnnounceTopic, cfg.MQTT.DataTopic,
		log.Named("mqtt"))
	if err != nil {
		// Run degraded rather than abort: scans and connects will fail with
		// a clear reason until the broker comes back.
		log.Warn("device transport unavailable", zap.Error(err))
		transport = devices.Unavailable{Reason: err.Error()}
	}

	source := sensors.NewSimSource(models.AllSensorTypes...)
	remote := syncer.NewRedisStore(redisClient)

	wsHub := hub.NewHub(log.Named("hub"))
	go wsHub.Run()

	mgr := manager.New(cfg, source, provider, transport, remote, local, wsHub, log.Named("manager"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := mgr.Initialize(ctx); err != nil {
		cancel()
		log.Fatal("manager initialization failed", zap.Error(err))
	}
	cancel()

	handler := api.NewHandler(mgr, wsHub, log.Named("api"))
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	srv.SetKeepAlivesEnabled(false)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown error", zap.Error(err))
	}

	mgr.Cleanup()
	wsHub.Close()
	transport.Close()
	if err := redisClient.Close(); err != nil {
		log.Warn("redis close error", zap.Error(err))
	}
	log.Info("stopped")
}
