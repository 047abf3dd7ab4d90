package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wiserd/internal/capability"
	"github.com/dokzlo13/wiserd/internal/wiser"
)

// ErrCommandFailed marks a hub command whose load round-trip failed
var ErrCommandFailed = errors.New("command translation failed")

// LoadController is the part of the controller client the translator needs
type LoadController interface {
	SetLoadState(ctx context.Context, id wiser.LoadID, update wiser.LoadUpdate) (*wiser.Load, error)
	Identify(ctx context.Context, id wiser.LoadID, ping wiser.Ping)
}

// Binding ties one capability device to the load behind it
type Binding struct {
	LoadID      wiser.LoadID
	OutputIndex int
	VendorID    string // controller device id
	Archetype   Archetype
	Device      *capability.Device

	mu      sync.Mutex
	lastBri int
}

// Apply feeds a confirmed load state into the device attributes.
// For brightness loads on/off follows bri != 0 and level follows bri while on.
// For covers the current lift follows pos; a stopped motor also settles the target.
func (b *Binding) Apply(state wiser.LoadState) error {
	switch state.Kind {
	case wiser.StateBrightness:
		if !b.Archetype.brightness() {
			return fmt.Errorf("%w: %s load %s got %s state", ErrStateMismatch, b.Archetype, b.LoadID, state.Kind)
		}
		b.applyOnOff(state.Bri)
		if state.Bri != 0 {
			b.applyLevel(state.Bri)
		}
	case wiser.StateMotion:
		if b.Archetype != MotorizedCover {
			return fmt.Errorf("%w: %s load %s got %s state", ErrStateMismatch, b.Archetype, b.LoadID, state.Kind)
		}
		b.applyMotion(state.Motion)
	default:
		return fmt.Errorf("%w: load %s got %s state", ErrStateMismatch, b.LoadID, state.Kind)
	}
	return nil
}

func (b *Binding) applyOnOff(bri int) {
	b.remember(bri)
	if onOff := b.Device.OnOff(); onOff != nil {
		onOff.SetOn(bri != 0)
	}
}

func (b *Binding) applyLevel(bri int) {
	b.remember(bri)
	if level := b.Device.LevelControl(); level != nil {
		level.SetCurrent(capability.LevelFromInt(bri))
	}
}

func (b *Binding) applyMotion(m wiser.Motion) {
	cover := b.Device.WindowCovering()
	if cover == nil {
		return
	}

	pos := capability.LiftFromInt(m.Pos)
	prev := cover.CurrentLift()
	cover.SetCurrentLift(pos)

	if !m.Running {
		cover.SetTargetLift(pos)
		cover.SetStatus(capability.AllStopped)
		return
	}

	switch {
	case pos > prev:
		cover.SetStatus(capability.OperationalStatus{Global: capability.Closing, Lift: capability.Closing})
	case pos < prev:
		cover.SetStatus(capability.OperationalStatus{Global: capability.Opening, Lift: capability.Opening})
	}
}

func (b *Binding) remember(bri int) {
	if bri == 0 {
		return
	}
	b.mu.Lock()
	b.lastBri = bri
	b.mu.Unlock()
}

// onBri returns the brightness an "on" command requests: the last level seen, or full
func (b *Binding) onBri() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastBri == 0 {
		return int(capability.MaxLevel)
	}
	return b.lastBri
}

// Translator binds hub commands of capability devices to load mutations
// identifyTimeout bounds a background identify ping
const identifyTimeout = 10 * time.Second

type Translator struct {
	loads           LoadController
	identifyPattern string
	identifyColor   string
}

// NewTranslator creates a translator. Identify requests flash loads with pattern and color.
func NewTranslator(loads LoadController, identifyPattern, identifyColor string) *Translator {
	return &Translator{
		loads:           loads,
		identifyPattern: identifyPattern,
		identifyColor:   identifyColor,
	}
}

// Bind installs command handlers on dev for the load and returns the binding
func (t *Translator) Bind(arch Archetype, dev *capability.Device, load *wiser.Load, vendorID string, outputIndex int) *Binding {
	b := &Binding{
		LoadID:      load.ID,
		OutputIndex: outputIndex,
		VendorID:    vendorID,
		Archetype:   arch,
		Device:      dev,
	}
	if load.State.Kind == wiser.StateBrightness {
		b.remember(load.State.Bri)
	}

	dev.AddCommandHandler(capability.CommandIdentify, t.identify(b))

	if arch.brightness() {
		dev.AddCommandHandler(capability.CommandOn, t.switchTo(b, true))
		dev.AddCommandHandler(capability.CommandOff, t.switchTo(b, false))
		dev.AddCommandHandler(capability.CommandToggle, t.toggle(b))
	}
	if arch.dimmable() {
		dev.AddCommandHandler(capability.CommandMoveToLevel, t.moveToLevel(b, false))
		dev.AddCommandHandler(capability.CommandMoveToLevelWithOnOff, t.moveToLevel(b, true))
	}
	if arch == ColorCapable {
		dev.AddCommandHandler(capability.CommandMoveToHueAndSaturation, moveToHueAndSaturation(b))
		dev.AddCommandHandler(capability.CommandMoveToColorTemperature, moveToColorTemperature(b))
	}
	if arch == MotorizedCover {
		dev.AddCommandHandler(capability.CommandStopMotion, stopMotion(b))
		dev.AddCommandHandler(capability.CommandGoToLiftPercentage, goToLiftPercentage(b))
	}

	return b
}

func (t *Translator) identify(b *Binding) capability.Handler {
	return func(ctx context.Context, req capability.Request) error {
		log.Info().Stringer("load", b.LoadID).Uint16("identify_time", req.IdentifyTime).Msg("Identify")
		b.Device.Identify().Start(req.IdentifyTime)

		ping := wiser.Ping{
			TimeMs:       int(req.IdentifyTime) * 1000,
			BlinkPattern: t.identifyPattern,
			Color:        t.identifyColor,
		}
		// The hub does not wait for the flash; the ping outlives the dispatch context.
		pingCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), identifyTimeout)
		go func() {
			defer cancel()
			t.loads.Identify(pingCtx, b.LoadID, ping)
		}()
		return nil
	}
}

func (t *Translator) switchTo(b *Binding, on bool) capability.Handler {
	cmd := capability.CommandOff
	if on {
		cmd = capability.CommandOn
	}
	return func(ctx context.Context, _ capability.Request) error {
		bri := 0
		if on {
			bri = b.onBri()
		}

		state, err := t.mutate(ctx, b, cmd, bri)
		if err != nil {
			return err
		}
		b.applyOnOff(state.Bri)
		if state.Bri != 0 {
			b.applyLevel(state.Bri)
		}
		return nil
	}
}

func (t *Translator) toggle(b *Binding) capability.Handler {
	on, off := t.switchTo(b, true), t.switchTo(b, false)
	return func(ctx context.Context, req capability.Request) error {
		if onOff := b.Device.OnOff(); onOff != nil && onOff.On() {
			return off(ctx, req)
		}
		return on(ctx, req)
	}
}

func (t *Translator) moveToLevel(b *Binding, withOnOff bool) capability.Handler {
	cmd := capability.CommandMoveToLevel
	if withOnOff {
		cmd = capability.CommandMoveToLevelWithOnOff
	}
	return func(ctx context.Context, req capability.Request) error {
		state, err := t.mutate(ctx, b, cmd, int(req.Level))
		if err != nil {
			return err
		}
		b.applyLevel(state.Bri)
		if withOnOff {
			b.applyOnOff(state.Bri)
		}
		return nil
	}
}

// mutate posts bri and returns the confirmed brightness state
func (t *Translator) mutate(ctx context.Context, b *Binding, cmd capability.Command, bri int) (wiser.LoadState, error) {
	log.Debug().Stringer("load", b.LoadID).Str("command", string(cmd)).Int("bri", bri).Msg("Setting load state")

	load, err := t.loads.SetLoadState(ctx, b.LoadID, wiser.WithBri(bri))
	if err != nil {
		return wiser.LoadState{}, fmt.Errorf("%w: %s on load %s: %w", ErrCommandFailed, cmd, b.LoadID, err)
	}
	if load.State.Kind != wiser.StateBrightness {
		return wiser.LoadState{}, fmt.Errorf("%w: %s on load %s: controller confirmed %s state", ErrCommandFailed, cmd, b.LoadID, load.State.Kind)
	}

	log.Debug().Stringer("load", b.LoadID).Int("requested", bri).Int("confirmed", load.State.Bri).Msg("Load state confirmed")
	return load.State, nil
}

// Color is never sent to the controller; the values are kept locally.
func moveToHueAndSaturation(b *Binding) capability.Handler {
	return func(_ context.Context, req capability.Request) error {
		b.Device.ColorControl().SetHueSaturation(req.Hue, req.Saturation)
		log.Debug().Stringer("load", b.LoadID).Uint8("hue", req.Hue).Uint8("saturation", req.Saturation).Msg("Hue and saturation set locally")
		return nil
	}
}

func moveToColorTemperature(b *Binding) capability.Handler {
	return func(_ context.Context, req capability.Request) error {
		b.Device.ColorControl().SetColorTemperature(req.ColorTemperatureMireds)
		log.Debug().Stringer("load", b.LoadID).Uint16("mireds", req.ColorTemperatureMireds).Msg("Color temperature set locally")
		return nil
	}
}

// Cover commands have no controller endpoint and act on the local attributes only.
func stopMotion(b *Binding) capability.Handler {
	return func(_ context.Context, _ capability.Request) error {
		b.Device.WindowCovering().StopMotion()
		log.Debug().Stringer("load", b.LoadID).Msg("Cover stopped")
		return nil
	}
}

func goToLiftPercentage(b *Binding) capability.Handler {
	return func(_ context.Context, req capability.Request) error {
		b.Device.WindowCovering().GoToLift(req.LiftPercent100ths)
		log.Info().Stringer("load", b.LoadID).Uint16("lift_percent_100ths", req.LiftPercent100ths).Msg("Cover moved")
		return nil
	}
}
