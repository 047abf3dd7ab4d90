package app

import (
	"context"
	"errors"
	"sync"

	"github.com/dokzlo13/wiserd/internal/config"
	"github.com/dokzlo13/wiserd/internal/db"
	"github.com/dokzlo13/wiserd/internal/eventbus"
	"github.com/dokzlo13/wiserd/internal/ledger"
	"github.com/dokzlo13/wiserd/internal/registry"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB       *db.DB
	Ledger   *ledger.Ledger
	Bus      *eventbus.Bus
	Registry *registry.Registry

	// High-level services
	Bridge  *BridgeService
	MQTT    *MQTTService
	Health  *HealthService
	Cleanup *LedgerService

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
}

// NewServices validates cfg and creates all services with proper dependency injection.
// A configuration error is returned before the database is opened or the network is touched.
func NewServices(cfg *config.Config) (*Services, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Ledger = ledger.New(database.DB)

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	s.Registry = registry.New(s.Bus, s.Ledger)

	s.Bridge = NewBridgeService(cfg, s.Registry, s.Bus, s.Ledger)
	s.MQTT = NewMQTTService(cfg, s.Registry, s.Bus)
	s.Health = NewHealthService(cfg, s.Bridge, s.Registry, s.Bus, s.MQTT, s.Ledger)
	s.Cleanup = NewLedgerService(s.Ledger, cfg.Ledger.RetentionDays, cfg.Ledger.CleanupInterval.Duration())

	return s, nil
}

// Start starts all services in the correct order: the hub transport first so
// registrations are mirrored, then the first discovery pass and background loops.
func (s *Services) Start(ctx context.Context) error {
	if err := s.MQTT.Start(ctx); err != nil {
		return err
	}

	s.Bridge.Start(ctx, &s.wg)
	s.Cleanup.Start(ctx, &s.wg)
	s.Health.Start(ctx, &s.wg)

	return nil
}

// Stop gracefully stops all services. Background loops must already be
// cancelled through the context passed to Start. Safe to call more than once.
func (s *Services) Stop() error {
	s.stopOnce.Do(func() {
		s.wg.Wait()

		var errs []error
		if s.cfg.Bridge.UnregisterOnShutdown {
			errs = append(errs, s.Bridge.UnregisterAll())
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		s.Bus.Close(ctx)

		errs = append(errs, s.MQTT.Close(), s.Bridge.Close(), s.DB.Close())
		s.stopErr = errors.Join(errs...)
	})
	return s.stopErr
}
