package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gilesd/giles/internal/config"
	"github.com/gilesd/giles/internal/game"
	"github.com/gilesd/giles/internal/games/set"
	"github.com/gilesd/giles/internal/games/ygame"
	"github.com/gilesd/giles/internal/httpapi"
	"github.com/gilesd/giles/internal/hub"
	"github.com/gilesd/giles/internal/session"
	"github.com/gilesd/giles/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	games := game.NewRegistry()
	for _, gt := range []game.Type{ygame.Type, set.Type} {
		if err := games.Register(gt); err != nil {
			logger.Fatal("registering game type", zap.Error(err))
		}
	}

	h := hub.NewHub(ctx, games, logger)
	sessions := session.Handler(h, games, cfg.MOTD, logger)

	g, ctx := errgroup.WithContext(ctx)

	telnet := transport.NewTelnetServer(cfg.TelnetAddr, sessions, logger)
	g.Go(func() error { return telnet.ListenAndServe(ctx) })

	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpapi.SetupRoutes(h, sessions),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}
