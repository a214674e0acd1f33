package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/sportsbook/internal/logger"
	"github.com/iliyamo/sportsbook/internal/queue"
	"github.com/iliyamo/sportsbook/internal/repository"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume domain events into notifications and sweep stale bookings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			consumer := queue.NewConsumer(a.cfg.Broker, repository.NewNotificationRepo(a.db), a.log)
			err = runWorker(ctx, consumer.Run, func(ctx context.Context) {
				sweepLoop(ctx, repository.NewBookingRepo(a.db), a.cfg.Booking.SweepInterval, a.log)
			})
			if err != nil {
				return err
			}
			a.log.Info("worker stopped")
			return nil
		},
	}
}

// runWorker runs consume and sweep side by side.  Whichever returns first
// stops the other, so a consumer that dies takes the worker down with its
// error instead of leaving the sweeper running alone.
func runWorker(ctx context.Context, consume func(context.Context) error, sweep func(context.Context)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- consume(ctx)
		cancel()
	}()

	sweep(ctx)
	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// bookingSweeper moves bookings whose hold lapsed to EXPIRED and finished
// ones to COMPLETED.
type bookingSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
	SweepCompleted(ctx context.Context) (int64, error)
}

// sweepLoop sweeps once immediately and then every interval until ctx is
// done.
func sweepLoop(ctx context.Context, s bookingSweeper, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		sweep(ctx, s, log)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func sweep(ctx context.Context, s bookingSweeper, log *slog.Logger) {
	if n, err := s.SweepExpired(ctx); err != nil {
		log.Warn("sweep expired bookings", logger.Err(err))
	} else if n > 0 {
		log.Info("expired pending bookings", slog.Int64("count", n))
	}
	if n, err := s.SweepCompleted(ctx); err != nil {
		log.Warn("sweep completed bookings", logger.Err(err))
	} else if n > 0 {
		log.Info("completed past bookings", slog.Int64("count", n))
	}
}
