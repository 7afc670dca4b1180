package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/noretmy/escrow-backend/pkg/logger"
)

// Check is a named dependency probe.
type Check struct {
	Name string
	Ping func(context.Context) error
}

// Ready pings every dependency concurrently and reports all that failed.
func Ready(ctx context.Context, logg *logger.Logger, checks ...Check) error {
	var (
		mu   sync.Mutex
		errs error
		wg   sync.WaitGroup
	)
	for _, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := check.Ping(ctx); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s ping failed: %w", check.Name, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if errs != nil {
		return errs
	}
	if logg != nil {
		logg.Info(ctx, "dependencies ready")
	}
	return nil
}

// Task is a long-running loop that returns when its context ends.
type Task struct {
	Name string
	Run  func(context.Context) error
}

// Supervise runs tasks until ctx ends or one of them fails; the first failure
// cancels the rest. Shutdown by ctx is not an error.
func Supervise(ctx context.Context, logg *logger.Logger, tasks ...Task) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		g.Go(func() error {
			err := task.Run(gctx)
			if Stopped(err) {
				if err == nil && gctx.Err() == nil {
					return fmt.Errorf("%s exited without being stopped", task.Name)
				}
				return nil
			}
			if logg != nil {
				logg.Error(logg.WithField(gctx, "task", task.Name), "task stopped unexpectedly", err)
			}
			return fmt.Errorf("%s: %w", task.Name, err)
		})
	}
	return g.Wait()
}
