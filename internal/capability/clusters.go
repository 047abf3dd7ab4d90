package capability

import (
	"sync"
	"time"
)

// Attribute names as published to the hub
const (
	AttrIdentifyTime           = "identifyTime"
	AttrOnOff                  = "onOff"
	AttrCurrentLevel           = "currentLevel"
	AttrCurrentHue             = "currentHue"
	AttrCurrentSaturation      = "currentSaturation"
	AttrColorTemperatureMireds = "colorTemperatureMireds"
	AttrColorMode              = "colorMode"
	AttrCurrentLift            = "currentPositionLiftPercent100ths"
	AttrTargetLift             = "targetPositionLiftPercent100ths"
	AttrOperationalStatus      = "operationalStatus"
)

// Value ranges
const (
	MinLevel uint8 = 0
	MaxLevel uint8 = 254

	MaxHue        uint8 = 254
	MaxSaturation uint8 = 254

	MinColorTemperatureMireds     uint16 = 153
	MaxColorTemperatureMireds     uint16 = 500
	DefaultColorTemperatureMireds uint16 = 250

	MaxLiftPercent100ths uint16 = 10000
)

// LevelFromInt converts a vendor brightness into a level, clamping to [MinLevel, MaxLevel]
func LevelFromInt(v int) uint8 {
	if v < int(MinLevel) {
		return MinLevel
	}
	if v > int(MaxLevel) {
		return MaxLevel
	}
	return uint8(v)
}

// LiftFromInt converts a vendor position into hundredths of a percent, clamping to [0, MaxLiftPercent100ths]
func LiftFromInt(v int) uint16 {
	if v < 0 {
		return 0
	}
	if v > int(MaxLiftPercent100ths) {
		return MaxLiftPercent100ths
	}
	return uint16(v)
}

func clampLevel(v uint8) uint8 {
	if v > MaxLevel {
		return MaxLevel
	}
	return v
}

func clampLift(v uint16) uint16 {
	if v > MaxLiftPercent100ths {
		return MaxLiftPercent100ths
	}
	return v
}

// PowerSource describes how the device is powered. Bridged loads are always mains wired.
type PowerSource struct {
	Wired bool
}

// Identify tracks the remaining identify time in seconds and counts it down to zero
type Identify struct {
	dev       *Device
	remaining uint16

	timerMu sync.Mutex
	timer   *time.Timer
}

// Remaining returns the identify time left, in seconds
func (c *Identify) Remaining() uint16 {
	c.dev.mu.RLock()
	defer c.dev.mu.RUnlock()
	return c.remaining
}

// Start sets the identify time and arms a timer that resets it to zero. Zero stops identifying.
func (c *Identify) Start(seconds uint16) {
	c.timerMu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if seconds > 0 {
		c.timer = time.AfterFunc(time.Duration(seconds)*time.Second, func() {
			set(c.dev, KindIdentify, AttrIdentifyTime, &c.remaining, 0)
		})
	}
	c.timerMu.Unlock()

	set(c.dev, KindIdentify, AttrIdentifyTime, &c.remaining, seconds)
}

// Stop cancels a running identify
func (c *Identify) Stop() {
	c.Start(0)
}

// OnOff is the on/off capability
type OnOff struct {
	dev *Device
	on  bool
}

func (c *OnOff) On() bool {
	c.dev.mu.RLock()
	defer c.dev.mu.RUnlock()
	return c.on
}

// SetOn writes the on/off attribute; returns false when it already held v
func (c *OnOff) SetOn(v bool) bool {
	return set(c.dev, KindOnOff, AttrOnOff, &c.on, v)
}

// LevelControl is the dimming capability
type LevelControl struct {
	dev     *Device
	current uint8
}

func (c *LevelControl) Current() uint8 {
	c.dev.mu.RLock()
	defer c.dev.mu.RUnlock()
	return c.current
}

func (c *LevelControl) SetCurrent(v uint8) bool {
	return set(c.dev, KindLevelControl, AttrCurrentLevel, &c.current, clampLevel(v))
}

// ColorMode tells which color attributes are authoritative
type ColorMode uint8

const (
	ColorModeHueSaturation ColorMode = iota
	ColorModeXY
	ColorModeColorTemperature
)

func (m ColorMode) String() string {
	switch m {
	case ColorModeHueSaturation:
		return "hs"
	case ColorModeXY:
		return "xy"
	case ColorModeColorTemperature:
		return "ct"
	default:
		return "unknown"
	}
}

// ColorControl holds hue/saturation and color temperature. The controller never
// reports color, so these values are only ever set locally.
type ColorControl struct {
	dev        *Device
	hue        uint8
	saturation uint8
	mireds     uint16
	mode       ColorMode
}

func (c *ColorControl) Hue() uint8 {
	c.dev.mu.RLock()
	defer c.dev.mu.RUnlock()
	return c.hue
}

func (c *ColorControl) Saturation() uint8 {
	c.dev.mu.RLock()
	defer c.dev.mu.RUnlock()
	return c.saturation
}

func (c *ColorControl) ColorTemperatureMireds() uint16 {
	c.dev.mu.RLock()
	defer c.dev.mu.RUnlock()
	return c.mireds
}

func (c *ColorControl) Mode() ColorMode {
	c.dev.mu.RLock()
	defer c.dev.mu.RUnlock()
	return c.mode
}

// SetHueSaturation writes hue and saturation and switches to hue/saturation mode
func (c *ColorControl) SetHueSaturation(hue, saturation uint8) {
	if hue > MaxHue {
		hue = MaxHue
	}
	if saturation > MaxSaturation {
		saturation = MaxSaturation
	}
	set(c.dev, KindColorControl, AttrCurrentHue, &c.hue, hue)
	set(c.dev, KindColorControl, AttrCurrentSaturation, &c.saturation, saturation)
	c.setMode(ColorModeHueSaturation)
}

// SetColorTemperature writes the color temperature and switches to temperature mode
func (c *ColorControl) SetColorTemperature(mireds uint16) {
	if mireds < MinColorTemperatureMireds {
		mireds = MinColorTemperatureMireds
	}
	if mireds > MaxColorTemperatureMireds {
		mireds = MaxColorTemperatureMireds
	}
	set(c.dev, KindColorControl, AttrColorTemperatureMireds, &c.mireds, mireds)
	c.setMode(ColorModeColorTemperature)
}

func (c *ColorControl) setMode(m ColorMode) {
	c.dev.mu.Lock()
	if c.mode == m {
		c.dev.mu.Unlock()
		return
	}
	c.mode = m
	obs := c.dev.observer
	c.dev.mu.Unlock()

	if obs != nil {
		obs(Change{DeviceID: c.dev.id, Capability: KindColorControl, Attribute: AttrColorMode, Value: m.String()})
	}
}

// MovementStatus is the movement of one cover axis
type MovementStatus uint8

const (
	Stopped MovementStatus = iota
	Opening
	Closing
)

func (s MovementStatus) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Opening:
		return "opening"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s MovementStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// OperationalStatus is the movement of a cover per axis
type OperationalStatus struct {
	Global MovementStatus `json:"global"`
	Lift   MovementStatus `json:"lift"`
	Tilt   MovementStatus `json:"tilt"`
}

// AllStopped is the status of a cover at rest
var AllStopped = OperationalStatus{Global: Stopped, Lift: Stopped, Tilt: Stopped}

// Moving reports whether any axis is moving
func (s OperationalStatus) Moving() bool {
	return s != AllStopped
}

// WindowCovering is a lift-aware cover. Positions are hundredths of a percent.
type WindowCovering struct {
	dev     *Device
	current uint16
	target  uint16
	status  OperationalStatus
}

func (c *WindowCovering) CurrentLift() uint16 {
	c.dev.mu.RLock()
	defer c.dev.mu.RUnlock()
	return c.current
}

func (c *WindowCovering) TargetLift() uint16 {
	c.dev.mu.RLock()
	defer c.dev.mu.RUnlock()
	return c.target
}

func (c *WindowCovering) Status() OperationalStatus {
	c.dev.mu.RLock()
	defer c.dev.mu.RUnlock()
	return c.status
}

func (c *WindowCovering) SetCurrentLift(v uint16) bool {
	return set(c.dev, KindWindowCovering, AttrCurrentLift, &c.current, clampLift(v))
}

func (c *WindowCovering) SetTargetLift(v uint16) bool {
	return set(c.dev, KindWindowCovering, AttrTargetLift, &c.target, clampLift(v))
}

func (c *WindowCovering) SetStatus(s OperationalStatus) bool {
	return set(c.dev, KindWindowCovering, AttrOperationalStatus, &c.status, s)
}

// StopMotion freezes the target at the current position and stops every axis
func (c *WindowCovering) StopMotion() {
	c.SetTargetLift(c.CurrentLift())
	c.SetStatus(AllStopped)
}

// GoToLift moves current and target to v at once and stops every axis
func (c *WindowCovering) GoToLift(v uint16) {
	c.SetCurrentLift(v)
	c.SetTargetLift(v)
	c.SetStatus(AllStopped)
}
