package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/arenabuilder"
	"github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/obslog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.Init(cfg.Log); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	ctx := context.Background()
	deps, err := arenabuilder.New(ctx, cfg)
	if err != nil {
		logger.Fatal("arena_init_failed", zap.Error(err))
	}
	if err := deps.Start(ctx); err != nil {
		logger.Fatal("arena_start_failed", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", deps.Socket)
	wsServer := &http.Server{
		Addr:              cfg.WSAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          obslog.StdLogger("ws_http"),
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("ws_listen", zap.String("addr", cfg.WSAddr))
		if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("api_listen", zap.String("addr", cfg.APIAddr))
		if err := deps.API.ListenAndServe(cfg.APIAddr); err != nil {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-quit:
		logger.Info("shutdown_signal", zap.String("signal", s.String()))
	case err := <-errCh:
		logger.Error("server_failed", zap.Error(err))
	}

	sctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// 소켓을 먼저 닫아야 Shutdown 이 hijack 된 연결을 기다리지 않는다
	deps.Hub.CloseAll("server shutdown")
	if err := wsServer.Shutdown(sctx); err != nil {
		logger.Warn("ws_shutdown", zap.Error(err))
	}
	if err := deps.API.Shutdown(sctx); err != nil {
		logger.Warn("api_shutdown", zap.Error(err))
	}
	if err := deps.Close(sctx); err != nil {
		logger.Warn("deps_close", zap.Error(err))
	}
	logger.Info("arena_stopped")
}
