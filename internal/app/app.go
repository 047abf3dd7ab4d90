package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wiserd/internal/config"
)

// App owns the service container and ties its lifetime to a context.
type App struct {
	cfg      *config.Config
	services *Services
	cancel   context.CancelFunc
}

// New validates cfg and wires every service. No network call happens here,
// so a bad configuration is reported before the controller is contacted.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, services: services}, nil
}

// Services exposes the service container
func (a *App) Services() *Services {
	return a.services
}

// Start launches the services under a child of ctx. The first discovery pass
// has already run, successfully or not, when Start returns.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	if err := a.services.Start(ctx); err != nil {
		return err
	}

	log.Info().
		Str("controller", a.cfg.Wiser.Address).
		Bool("mqtt", a.cfg.MQTT.Enabled).
		Bool("poller", a.cfg.Poller.Enabled).
		Msg("wiserd started")
	return nil
}

// Stop cancels background loops and tears the services down. Safe to call more than once.
func (a *App) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	return a.services.Stop()
}

// Run starts the app, blocks until ctx is done and then stops it.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return errors.Join(err, a.Stop())
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down...")
	return a.Stop()
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		if parent.Err() == nil {
			log.Warn().Msg("Received shutdown signal")
		}
	}()
	return ctx, stop
}
