package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wiserd/internal/config"
	"github.com/dokzlo13/wiserd/internal/eventbus"
	"github.com/dokzlo13/wiserd/internal/mqtt"
	"github.com/dokzlo13/wiserd/internal/registry"
)

// MQTTService exposes registered devices to the hub over MQTT.
type MQTTService struct {
	cfg      *config.Config
	registry *registry.Registry
	bus      *eventbus.Bus

	Client  *mqtt.Client
	Exposer *mqtt.Exposer
}

// NewMQTTService creates the service. The broker is contacted in Start.
func NewMQTTService(cfg *config.Config, reg *registry.Registry, bus *eventbus.Bus) *MQTTService {
	return &MQTTService{
		cfg:      cfg,
		registry: reg,
		bus:      bus,
	}
}

// Start connects to the broker and begins mirroring devices
func (s *MQTTService) Start(_ context.Context) error {
	if !s.cfg.MQTT.Enabled {
		log.Info().Msg("MQTT transport is disabled")
		return nil
	}

	client, err := mqtt.Connect(s.cfg.MQTT)
	if err != nil {
		return err
	}
	s.Client = client
	s.Exposer = mqtt.NewExposer(client, s.registry, client.Topics(), byte(s.cfg.MQTT.QoS), s.cfg.MQTT.StateDebounce.Duration())

	// Retained topics may have been cleared while we were away
	client.SetOnConnect(s.Exposer.PublishAll)

	return s.Exposer.Start(s.bus)
}

// HealthCheck reports broker connectivity. A disabled transport is always healthy.
func (s *MQTTService) HealthCheck(ctx context.Context) error {
	if s.Client == nil {
		return nil
	}
	return s.Client.HealthCheck(ctx)
}

// Close disconnects from the broker
func (s *MQTTService) Close() error {
	if s.Exposer != nil {
		s.Exposer.Close()
	}
	if s.Client == nil {
		return nil
	}
	return s.Client.Close()
}
