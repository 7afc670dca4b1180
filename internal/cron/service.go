package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/noretmy/escrow-backend/pkg/logger"
	"github.com/noretmy/escrow-backend/pkg/metrics"
)

const (
	defaultInterval   = 15 * time.Minute
	defaultJobTimeout = 5 * time.Minute
)

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronMetrics
	Interval time.Duration
	// JobTimeout bounds each job run; the cycle moves on when it expires.
	JobTimeout time.Duration
}

// Service runs the registered jobs in order, one cycle per interval, and only
// on the replica that holds the lock.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronMetrics
	interval   time.Duration
	jobTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Lock == nil {
		return nil, errors.New("lock required")
	}
	s := &Service{
		logg:       params.Logger,
		registry:   params.Registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   params.Interval,
		jobTimeout: params.JobTimeout,
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.jobTimeout <= 0 {
		s.jobTimeout = defaultJobTimeout
	}
	return s, nil
}

// Run starts a cycle now and then once per interval until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		failed, err := s.runCycle(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "cron cycle aborted", err)
		case failed > 0:
			s.logg.Warn(s.logg.WithField(ctx, "failed_jobs", failed), "cron cycle finished with failures")
		}

		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single cycle and reports how many jobs failed.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	return s.runCycle(ctx)
}

func (s *Service) runCycle(ctx context.Context) (failed int, err error) {
	held, err := s.lock.Acquire(ctx)
	switch {
	case err != nil:
		s.metrics.ObserveCycle(metrics.CycleAborted)
		return 0, fmt.Errorf("lock acquire: %w", err)
	case !held:
		s.metrics.ObserveCycle(metrics.CycleSkipped)
		s.logg.Info(ctx, "cron lock held by another replica; skipping cycle")
		return 0, nil
	}
	s.metrics.ObserveCycle(metrics.CycleRan)
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "failed to release cron lock", err)
		}
	}()

	for _, job := range s.registry.Jobs() {
		if ctx.Err() != nil {
			return failed, ctx.Err()
		}
		if !s.runJob(ctx, job) {
			failed++
		}
	}
	return failed, nil
}

func (s *Service) runJob(ctx context.Context, job Job) bool {
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "event": "cron.job"})
	start := time.Now()
	err := s.invoke(jobCtx, job)
	elapsed := time.Since(start)

	s.metrics.ObserveRun(job.Name(), elapsed, err)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return false
	}
	s.logg.Info(jobCtx, "job completed")
	return true
}

// invoke runs job under the per-job timeout and turns a panic into an error
// so later jobs in the cycle still run.
func (s *Service) invoke(ctx context.Context, job Job) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	err = job.Run(ctx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		return fmt.Errorf("timed out after %s: %w", s.jobTimeout, err)
	}
	return err
}
