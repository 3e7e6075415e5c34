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

	"github.com/ent0n29/tars/internal/chatserver"
	"github.com/ent0n29/tars/internal/config"
	"github.com/ent0n29/tars/internal/logging"
	"github.com/ent0n29/tars/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger := logging.WithComponent("chatserver")

	sessions := session.NewManager(cfg.ChatServerSessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		logger.Info().Str("sessionId", s.ID).Int("turns", s.TurnCount).Msg("session expired")
	})

	srv := chatserver.New(chatserver.Config{
		ChunkBytes: cfg.ChatServerChunkBytes,
		ChunkDelay: cfg.ChatServerChunkDelay,
	}, sessions, chatserver.EchoResponder{}, logger)

	httpServer := &http.Server{
		Addr:              cfg.ChatServerBindAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		logger.Info().Str("addr", cfg.ChatServerBindAddr).Msg("chat server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	logger.Info().Msg("shutdown complete")
}
