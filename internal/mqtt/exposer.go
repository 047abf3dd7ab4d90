package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wiserd/internal/capability"
	"github.com/dokzlo13/wiserd/internal/eventbus"
	"github.com/dokzlo13/wiserd/internal/registry"
)

const commandTimeout = 30 * time.Second

// Transport is the broker surface the exposer needs. *Client satisfies it.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
}

// Host resolves devices and runs commands on them. *registry.Registry satisfies it.
type Host interface {
	Get(id string) (*capability.Device, error)
	List() []*capability.Device
	Dispatch(ctx context.Context, inv registry.Invocation) (string, error)
}

// Subscriber is the part of the event bus the exposer listens on
type Subscriber interface {
	Subscribe(eventType eventbus.EventType, handler eventbus.Handler) (unsubscribe func())
}

// SetCommand is the JSON body accepted on a device set topic
type SetCommand struct {
	Command                capability.Command `json:"command"`
	ID                     string             `json:"id,omitempty"`
	Level                  *int               `json:"level,omitempty"`
	Hue                    *int               `json:"hue,omitempty"`
	Saturation             *int               `json:"saturation,omitempty"`
	ColorTemperatureMireds *int               `json:"color_temperature_mireds,omitempty"`
	LiftPercent100ths      *int               `json:"lift_percent_100ths,omitempty"`
	IdentifyTime           *int               `json:"identify_time,omitempty"`
}

// Request converts the payload into a capability request, clamping out-of-range values
func (c SetCommand) Request() capability.Request {
	var req capability.Request
	if c.Level != nil {
		req.Level = capability.LevelFromInt(*c.Level)
	}
	if c.Hue != nil {
		req.Hue = uint8(clamp(*c.Hue, 0, int(capability.MaxHue)))
	}
	if c.Saturation != nil {
		req.Saturation = uint8(clamp(*c.Saturation, 0, int(capability.MaxSaturation)))
	}
	if c.ColorTemperatureMireds != nil {
		req.ColorTemperatureMireds = uint16(clamp(*c.ColorTemperatureMireds, int(capability.MinColorTemperatureMireds), int(capability.MaxColorTemperatureMireds)))
	}
	if c.LiftPercent100ths != nil {
		req.LiftPercent100ths = capability.LiftFromInt(*c.LiftPercent100ths)
	}
	if c.IdentifyTime != nil {
		req.IdentifyTime = uint16(clamp(*c.IdentifyTime, 0, 0xFFFF))
	}
	return req
}

// DeviceConfig is the retained description of a device
type DeviceConfig struct {
	ID           string                      `json:"id"`
	Type         capability.DeviceType       `json:"type"`
	Info         capability.BasicInformation `json:"info"`
	Capabilities []capability.Kind           `json:"capabilities"`
	Commands     []capability.Command        `json:"commands"`
	StateTopic   string                      `json:"state_topic"`
	SetTopic     string                      `json:"set_topic"`
}

// Exposer mirrors registered devices onto retained MQTT topics and routes
// inbound set commands to the host.
type Exposer struct {
	transport Transport
	host      Host
	topics    Topics
	qos       byte
	states    *debouncer
	unsub     []func()
}

// NewExposer creates an exposer publishing under topics with the given QoS.
// State updates of one device within stateQuiet are coalesced into one message;
// zero publishes every change.
func NewExposer(transport Transport, host Host, topics Topics, qos byte, stateQuiet time.Duration) *Exposer {
	e := &Exposer{
		transport: transport,
		host:      host,
		topics:    topics,
		qos:       qos,
	}
	e.states = newDebouncer(stateQuiet, e.flushState)
	return e
}

// Start subscribes to bus events and to the device set topics, then
// publishes every device already registered.
func (e *Exposer) Start(bus Subscriber) error {
	e.unsub = append(e.unsub,
		bus.Subscribe(eventbus.EventTypeDeviceRegistered, e.onRegistered),
		bus.Subscribe(eventbus.EventTypeAttributeChanged, e.onChanged),
		bus.Subscribe(eventbus.EventTypeDeviceUnregistered, e.onUnregistered),
	)

	if err := e.transport.Subscribe(e.topics.AllDeviceSets(), e.qos, e.HandleSet); err != nil {
		return fmt.Errorf("subscribe to set topics: %w", err)
	}

	e.PublishAll()
	return nil
}

// PublishAll republishes config and state of every registered device
func (e *Exposer) PublishAll() {
	for _, dev := range e.host.List() {
		e.publishDevice(dev)
	}
}

// HandleSet decodes a set payload and dispatches it. Redelivered commands
// whose id already completed are dropped silently.
func (e *Exposer) HandleSet(topic string, payload []byte) error {
	id, err := e.topics.ParseDeviceSet(topic)
	if err != nil {
		return err
	}

	var cmd SetCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if cmd.Command == "" {
		return fmt.Errorf("%w: missing command", ErrInvalidPayload)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	invID, err := e.host.Dispatch(ctx, registry.Invocation{
		DeviceID: id,
		Command:  cmd.Command,
		Request:  cmd.Request(),
		ID:       cmd.ID,
		Source:   "mqtt",
	})
	if errors.Is(err, registry.ErrDuplicateCommand) {
		log.Debug().Str("id", invID).Str("device", id).Msg("Dropping redelivered MQTT command")
		return nil
	}
	if err != nil {
		return fmt.Errorf("dispatch %s to %s: %w", cmd.Command, id, err)
	}
	return nil
}

func (e *Exposer) onRegistered(ev eventbus.Event) {
	dev, err := e.host.Get(ev.DeviceID)
	if err != nil {
		return
	}
	e.publishDevice(dev)
}

func (e *Exposer) onChanged(ev eventbus.Event) {
	e.states.touch(ev.DeviceID)
}

func (e *Exposer) flushState(id string) {
	dev, err := e.host.Get(id)
	if err != nil {
		return
	}
	e.publishState(dev)
}

// Close detaches from the bus and stops pending state publishes.
// Unregistrations published before Close still clear their retained topics.
func (e *Exposer) Close() {
	for _, unsubscribe := range e.unsub {
		unsubscribe()
	}
	e.unsub = nil
	e.states.close()
}

func (e *Exposer) onUnregistered(ev eventbus.Event) {
	e.states.cancel(ev.DeviceID)
	// An empty retained message deletes the retained topic on the broker
	for _, topic := range []string{e.topics.DeviceConfig(ev.DeviceID), e.topics.DeviceState(ev.DeviceID)} {
		if err := e.transport.Publish(topic, nil, e.qos, true); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Failed to clear retained topic")
		}
	}
}

func (e *Exposer) publishDevice(dev *capability.Device) {
	cfg := DeviceConfig{
		ID:           dev.ID(),
		Type:         dev.Type(),
		Info:         dev.Info(),
		Capabilities: dev.Kinds(),
		Commands:     dev.Commands(),
		StateTopic:   e.topics.DeviceState(dev.ID()),
		SetTopic:     e.topics.DeviceSet(dev.ID()),
	}
	e.publishJSON(e.topics.DeviceConfig(dev.ID()), cfg)
	e.publishState(dev)
}

func (e *Exposer) publishState(dev *capability.Device) {
	e.publishJSON(e.topics.DeviceState(dev.ID()), dev.Snapshot())
}

func (e *Exposer) publishJSON(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to encode MQTT payload")
		return
	}
	if err := e.transport.Publish(topic, payload, e.qos, true); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Failed to publish MQTT message")
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
