package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/iliyamo/sportsbook/internal/config"
	"github.com/iliyamo/sportsbook/internal/handler"
	"github.com/iliyamo/sportsbook/internal/logger"
	"github.com/iliyamo/sportsbook/internal/middleware"
	"github.com/iliyamo/sportsbook/internal/migrations"
	"github.com/iliyamo/sportsbook/internal/payment"
	"github.com/iliyamo/sportsbook/internal/repository"
	"github.com/iliyamo/sportsbook/internal/router"
	"github.com/iliyamo/sportsbook/internal/service"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func runServe(ctx context.Context, migrate bool) error {
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if migrate {
		if err := migrations.Up(a.db); err != nil {
			return err
		}
		a.log.Info("migrations applied")
	}

	rdb := a.redisClient()
	if rdb != nil {
		defer rdb.Close()
	}
	pub, closePub := a.publisher()
	defer closePub()
	provider, err := a.provider()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := middleware.NewMetrics(reg)

	e := newServer(a, rdb, pub, provider, metrics, reg)
	addr := ":" + a.cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           e,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("listening", slog.String("addr", addr), slog.String("env", a.cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("graceful shutdown failed", logger.Err(err))
		return err
	}
	return nil
}

// newServer wires repositories into handlers and mounts them.
func newServer(a *app, rdb *redis.Client, pub service.EventPublisher, provider payment.Provider, metrics *middleware.Metrics, reg prometheus.Gatherer) *echo.Echo {
	cfg, log := a.cfg, a.log
	cacheCfg := config.LoadCacheConfig()
	invalidator := middleware.NewCacheInvalidator(cacheCfg, rdb)

	users := repository.NewUserRepo(a.db)
	tokens := repository.NewTokenRepo(a.db)
	facilities := repository.NewFacilityRepo(a.db)
	bookings := repository.NewBookingRepo(a.db)
	payments := repository.NewPaymentRepo(a.db)
	matches := repository.NewMatchRepo(a.db)
	chat := repository.NewChatRepo(a.db)
	stats := repository.NewStatsRepo(a.db)

	h := router.Handlers{
		Auth:       handler.NewAuthHandler(cfg, users, tokens, log),
		Profile:    handler.NewProfileHandler(users, stats, log),
		Facilities: handler.NewFacilityHandler(facilities, bookings, invalidator, log),
		Bookings: &handler.BookingHandler{
			Cfg: cfg.Booking, Facilities: facilities, Bookings: bookings, Payments: payments,
			Provider: provider, Pub: pub, Metrics: metrics, Log: log,
		},
		Payments: &handler.PaymentHandler{
			Cfg: cfg.Payment, Facilities: facilities, Bookings: bookings, Payments: payments,
			Provider: provider, Pub: pub, Metrics: metrics, Log: log,
		},
		Matches: &handler.MatchHandler{
			Matches: matches, Facilities: facilities, Bookings: bookings, Chat: chat,
			Stats: stats, Users: users, Cache: invalidator, Pub: pub, Log: log,
		},
		Chat:          &handler.ChatHandler{Chat: chat, Users: users, Pub: pub, Log: log},
		Leaderboard:   handler.NewLeaderboardHandler(stats, log),
		Notifications: handler.NewNotificationHandler(repository.NewNotificationRepo(a.db), log),
		Dashboard:     &handler.DashboardHandler{Dashboard: repository.NewDashboardRepo(a.db), Log: log},
		AdminUsers:    &handler.AdminUserHandler{Users: users, Tokens: tokens, Log: log},
		Readiness:     &handler.Readiness{DB: a.db, Redis: rdb},
	}
	m := router.Middlewares{
		JWTSecret: cfg.JWTSecret,
		Active:    middleware.RequireActive(users, log),
		RateLimit: middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log),
		Cache:     middleware.NewRedisCache(cacheCfg, rdb, log),
		Metrics:   metrics,
		Gatherer:  reg,
		Logger:    middleware.RequestLogger(log),
	}
	return router.New(h, m)
}
