package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/sportsbook/internal/config"
	"github.com/iliyamo/sportsbook/internal/database"
	"github.com/iliyamo/sportsbook/internal/logger"
	"github.com/iliyamo/sportsbook/internal/payment"
	"github.com/iliyamo/sportsbook/internal/service"
)

// app holds the process-wide dependencies shared by the subcommands.
type app struct {
	cfg config.Config
	log *slog.Logger
	db  *sql.DB
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.Env, cfg.LogLevel)
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("database connected", slog.String("host", cfg.DBHost), slog.String("name", cfg.DBName))
	return &app{cfg: cfg, log: log, db: db}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.log.Warn("close database", logger.Err(err))
	}
}

// redisClient returns a connected client or nil; every Redis feature degrades
// without one.
func (a *app) redisClient() *redis.Client {
	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb == nil {
		a.log.Warn("redis unavailable: response cache off, rate limiting per process")
	}
	return rdb
}

// publisher dials RabbitMQ, falling back to logging events when the broker
// cannot be reached.  The returned close func is never nil.
func (a *app) publisher() (service.EventPublisher, func()) {
	p, err := service.NewPublisher(a.cfg.Broker.URL, a.cfg.Broker.Exchange, a.log)
	if err != nil {
		a.log.Warn("rabbitmq unavailable: events will only be logged", logger.Err(err))
		return service.LogPublisher{Log: a.log}, func() {}
	}
	return p, func() { _ = p.Close() }
}

// provider returns nil when no processor keys are configured, which turns
// the checkout endpoints into 503s.
func (a *app) provider() (payment.Provider, error) {
	o, err := payment.NewOmise(a.cfg.Payment.PublicKey, a.cfg.Payment.SecretKey)
	if errors.Is(err, payment.ErrDisabled) {
		a.log.Warn("payments disabled: OMISE_SECRET_KEY is not set")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}
