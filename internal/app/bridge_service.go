package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wiserd/internal/bridge"
	"github.com/dokzlo13/wiserd/internal/config"
	"github.com/dokzlo13/wiserd/internal/eventbus"
	"github.com/dokzlo13/wiserd/internal/ledger"
	"github.com/dokzlo13/wiserd/internal/poller"
	"github.com/dokzlo13/wiserd/internal/registry"
	"github.com/dokzlo13/wiserd/internal/wiser"
)

// BridgeService wraps the controller client, discovery and the state poller.
type BridgeService struct {
	cfg *config.Config

	Client     *wiser.Client
	Discoverer *bridge.Discoverer
	Poller     *poller.Poller

	registry *registry.Registry
	bus      *eventbus.Bus
	ledger   *ledger.Ledger

	ready      atomic.Bool
	lastReport atomic.Pointer[bridge.Report]
}

// NewBridgeService wires the bridge components. Nothing is contacted until Start.
func NewBridgeService(cfg *config.Config, reg *registry.Registry, bus *eventbus.Bus, l *ledger.Ledger) *BridgeService {
	client := wiser.NewClient(
		wiser.Connection{Address: cfg.Wiser.Address, Token: cfg.Wiser.Token},
		wiser.Options{
			Timeout:      cfg.Wiser.Timeout.Duration(),
			Retries:      cfg.Wiser.Retries,
			RateLimitRPS: cfg.Wiser.RateLimitRPS,
		},
	)

	builder := bridge.NewBuilder(cfg.Bridge.VendorID, cfg.Bridge.VendorName)
	translator := bridge.NewTranslator(client, cfg.Bridge.IdentifyPattern, cfg.Bridge.IdentifyColor)
	discoverer := bridge.NewDiscoverer(client, builder, translator, reg)

	return &BridgeService{
		cfg:        cfg,
		Client:     client,
		Discoverer: discoverer,
		Poller:     poller.New(client, discoverer, cfg.Poller.Interval.Duration(), cfg.Wiser.RateLimitRPS),
		registry:   reg,
		bus:        bus,
		ledger:     l,
	}
}

// Ready reports whether the first discovery pass has finished
func (s *BridgeService) Ready() bool {
	return s.ready.Load()
}

// LastReport returns the report of the most recent successful discovery pass, or nil
func (s *BridgeService) LastReport() *bridge.Report {
	return s.lastReport.Load()
}

// Start runs discovery until one pass succeeds, then keeps the poller running.
// The first attempt happens synchronously so a reachable controller is mirrored
// before Start returns.
func (s *BridgeService) Start(ctx context.Context, wg *sync.WaitGroup) {
	if s.Discover(ctx) == nil {
		s.startPoller(ctx, wg)
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(s.cfg.Poller.Interval.Duration())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.Discover(ctx) == nil {
					s.startPoller(ctx, wg)
					return
				}
			}
		}
	}()
}

func (s *BridgeService) startPoller(ctx context.Context, wg *sync.WaitGroup) {
	if !s.cfg.Poller.Enabled {
		log.Info().Msg("Poller is disabled")
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.Poller.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Poller error")
		}
	}()
}

// Discover runs one discovery pass and records it
func (s *BridgeService) Discover(ctx context.Context) error {
	start := time.Now()
	report, err := s.Discoverer.Run(ctx)
	if err != nil {
		log.Error().Err(err).Str("controller", s.cfg.Wiser.Address).Msg("Discovery failed")
		return err
	}

	s.lastReport.Store(report)
	s.ready.Store(true)

	data := map[string]any{
		"registered": report.Registered(),
		"skipped":    report.Skipped(),
		"failed":     report.Failed(),
		"duration":   time.Since(start).String(),
	}
	if err := s.ledger.Append(ledger.Entry{EventType: ledger.EventDiscoveryCompleted, Payload: data, Source: "discovery"}); err != nil {
		log.Warn().Err(err).Msg("Failed to record discovery in ledger")
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.EventTypeDiscoveryCompleted, Data: data})
	return nil
}

// UnregisterAll detaches every bridged device and forgets their bindings
func (s *BridgeService) UnregisterAll() error {
	err := s.registry.UnregisterAll()
	s.Discoverer.Forget()
	return err
}

// Close releases the controller client
func (s *BridgeService) Close() error {
	return s.Client.Close()
}
