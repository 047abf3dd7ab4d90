// Package registry is the in-process host for capability devices: it owns
// registered devices, fans their attribute changes out on the event bus and
// dispatches hub commands to their handlers with a ledger audit trail.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wiserd/internal/capability"
	"github.com/dokzlo13/wiserd/internal/eventbus"
	"github.com/dokzlo13/wiserd/internal/ledger"
)

var (
	ErrAlreadyRegistered = capability.ErrAlreadyRegistered
	ErrDeviceNotFound    = capability.ErrDeviceNotFound

	// ErrDuplicateCommand is returned when a command id has already completed
	ErrDuplicateCommand = errors.New("command already completed")
)

// Publisher is the part of the event bus the registry needs
type Publisher interface {
	Publish(eventbus.Event)
}

// CommandLedger records dispatched commands
type CommandLedger interface {
	Append(ledger.Entry) error
	HasCompleted(idempotencyKey string) bool
}

// Invocation is one inbound command for a device
type Invocation struct {
	DeviceID string
	Command  capability.Command
	Request  capability.Request
	// ID deduplicates redelivered commands. Empty means a fresh id is generated.
	ID     string
	Source string
}

// Registry holds registered devices in registration order.
// All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*capability.Device
	order   []string

	bus    Publisher
	ledger CommandLedger
}

// New creates a registry. bus and ledger may be nil.
func New(bus Publisher, l CommandLedger) *Registry {
	return &Registry{
		devices: make(map[string]*capability.Device),
		bus:     bus,
		ledger:  l,
	}
}

// Register attaches a device and starts publishing its attribute changes
func (r *Registry) Register(dev *capability.Device) error {
	r.mu.Lock()
	if _, ok := r.devices[dev.ID()]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, dev.ID())
	}
	r.devices[dev.ID()] = dev
	r.order = append(r.order, dev.ID())
	r.mu.Unlock()

	dev.SetObserver(r.observe)

	log.Debug().Str("id", dev.ID()).Str("type", string(dev.Type())).Msg("Device registered")
	r.publish(eventbus.Event{Type: eventbus.EventTypeDeviceRegistered, DeviceID: dev.ID()})
	return nil
}

// Unregister detaches one device and stops its timers
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	dev, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	delete(r.devices, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	dev.SetObserver(nil)
	dev.Close()

	log.Debug().Str("id", id).Msg("Device unregistered")
	r.publish(eventbus.Event{Type: eventbus.EventTypeDeviceUnregistered, DeviceID: id})
	return nil
}

// UnregisterAll detaches every device. Safe to call with nothing registered.
func (r *Registry) UnregisterAll() error {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := r.Unregister(id); err != nil && !errors.Is(err, ErrDeviceNotFound) {
			errs = append(errs, err)
		}
	}
	if len(ids) > 0 {
		log.Info().Int("count", len(ids)).Msg("Unregistered all devices")
	}
	return errors.Join(errs...)
}

// Get returns a registered device
func (r *Registry) Get(id string) (*capability.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return dev, nil
}

// List returns registered devices in registration order
func (r *Registry) List() []*capability.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*capability.Device, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.devices[id])
	}
	return out
}

// Len returns the number of registered devices
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Dispatch runs a command on a device and returns the id it was recorded under.
// Routing problems (unknown device or command, duplicate id) are returned; handler
// failures are logged, recorded and published but not returned.
func (r *Registry) Dispatch(ctx context.Context, inv Invocation) (string, error) {
	if inv.ID != "" && r.ledger != nil && r.ledger.HasCompleted(inv.ID) {
		log.Debug().Str("id", inv.ID).Str("device", inv.DeviceID).Msg("Ignoring already completed command")
		return inv.ID, ErrDuplicateCommand
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}

	dev, err := r.Get(inv.DeviceID)
	if err != nil {
		return inv.ID, err
	}

	start := time.Now()
	err = dev.Handle(ctx, inv.Command, inv.Request)
	if errors.Is(err, capability.ErrUnknownCommand) {
		return inv.ID, err
	}

	entry := ledger.Entry{
		EventType:      ledger.EventCommandCompleted,
		DeviceID:       inv.DeviceID,
		Command:        string(inv.Command),
		Payload:        requestPayload(inv.Request),
		Source:         inv.Source,
		IdempotencyKey: inv.ID,
	}

	if err != nil {
		log.Error().
			Err(err).
			Str("id", inv.ID).
			Str("device", inv.DeviceID).
			Str("command", string(inv.Command)).
			Msg("Command failed")

		entry.EventType = ledger.EventCommandFailed
		entry.Payload["error"] = err.Error()
		r.publish(eventbus.Event{
			Type:     eventbus.EventTypeCommandFailed,
			DeviceID: inv.DeviceID,
			Data:     map[string]any{"id": inv.ID, "command": string(inv.Command), "error": err.Error()},
		})
	} else {
		log.Info().
			Str("id", inv.ID).
			Str("device", inv.DeviceID).
			Str("command", string(inv.Command)).
			Dur("duration", time.Since(start)).
			Msg("Command handled")
	}

	if r.ledger != nil {
		if lerr := r.ledger.Append(entry); lerr != nil {
			log.Warn().Err(lerr).Str("id", inv.ID).Msg("Failed to record command in ledger")
		}
	}
	return inv.ID, nil
}

func (r *Registry) observe(c capability.Change) {
	r.publish(eventbus.Event{
		Type:     eventbus.EventTypeAttributeChanged,
		DeviceID: c.DeviceID,
		Data: map[string]any{
			"capability": string(c.Capability),
			"attribute":  c.Attribute,
			"value":      c.Value,
		},
	})
}

func (r *Registry) publish(e eventbus.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}

func requestPayload(req capability.Request) map[string]any {
	return map[string]any{
		"level":                    req.Level,
		"hue":                      req.Hue,
		"saturation":               req.Saturation,
		"color_temperature_mireds": req.ColorTemperatureMireds,
		"lift_percent_100ths":      req.LiftPercent100ths,
		"identify_time":            req.IdentifyTime,
	}
}
