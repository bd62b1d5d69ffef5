package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"presenced/config"
	"presenced/handlers"
	"presenced/hub"
	"presenced/journal"
	"presenced/presence"
)

func main() {
	cfg := config.Load()

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	var sink presence.EventSink
	if cfg.RedisAddr != "" {
		j := journal.New(cfg.RedisAddr)
		defer j.Close()
		sink = j
		logrus.WithField("addr", cfg.RedisAddr).Info("event journal enabled")
	}

	registry := presence.NewRegistry()
	rooms := presence.NewRoomTable(cfg.MaxRooms)
	feed := presence.NewEventFeed(cfg.EventRetention)
	h := hub.New()

	coord := presence.NewCoordinator(presence.CoordinatorConfig{
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		SweepInterval:     cfg.SweepInterval,
	}, registry, rooms, feed, h, sink)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go coord.Run(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handlers.RegisterRoutes(router, h, coord, cfg)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: router}
	go func() {
		logrus.WithField("addr", cfg.ListenAddr).Info("presence server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")

	coord.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("forced shutdown")
	}
}
