// Package app holds the start-up and shutdown plumbing shared by every binary
// under cmd/.
package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/noretmy/escrow-backend/pkg/config"
	"github.com/noretmy/escrow-backend/pkg/instance"
	"github.com/noretmy/escrow-backend/pkg/logger"
)

// Process is one running binary: its config, its logger and the resources to
// release on the way out.
type Process struct {
	Kind   string
	Config *config.Config
	Logger *logger.Logger

	closers []closer
	exit    func(code int)
}

type closer struct {
	name string
	fn   func() error
}

// Start loads .env and the environment config, then builds the logger at the
// configured level. It exits the process when the config is invalid.
func Start(kind string) *Process {
	p := &Process{Kind: kind, Logger: logger.New(logger.Options{ServiceName: kind}), exit: os.Exit}
	if err := godotenv.Load(); err != nil {
		p.Logger.Debug(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	p.Must(context.Background(), "load config", err)
	cfg.Service.Kind = kind
	p.Config = cfg
	p.Logger = logger.New(logger.Options{
		ServiceName: kind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	return p
}

// Must logs err, releases everything registered with OnClose and exits with
// status 1. A nil err is a no-op.
func (p *Process) Must(ctx context.Context, step string, err error) {
	if err == nil {
		return
	}
	p.Logger.Error(ctx, "failed to "+step, err)
	p.Exit(ctx, 1)
}

// Exit releases resources and ends the process with code.
func (p *Process) Exit(ctx context.Context, code int) {
	p.Close(ctx)
	p.exit(code)
}

// OnClose registers fn to run at shutdown. Closers run in reverse order.
func (p *Process) OnClose(name string, fn func() error) {
	p.closers = append(p.closers, closer{name: name, fn: fn})
}

// Close runs the registered closers once, newest first.
func (p *Process) Close(ctx context.Context) {
	for i := len(p.closers) - 1; i >= 0; i-- {
		c := p.closers[i]
		if err := c.fn(); err != nil {
			p.Logger.Error(ctx, "error closing "+c.name, err)
		}
	}
	p.closers = nil
}

// SignalContext is cancelled on SIGINT or SIGTERM and carries the process
// identity fields plus extra.
func (p *Process) SignalContext(extra map[string]any) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	fields := map[string]any{
		"serviceKind": p.Kind,
		"instance":    instance.ID(p.Kind),
	}
	if p.Config != nil {
		fields["env"] = p.Config.App.Env
	}
	for k, v := range extra {
		fields[k] = v
	}
	return p.Logger.WithFields(ctx, fields), stop
}

// Stopped reports whether err only means the process was asked to stop.
func Stopped(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}
