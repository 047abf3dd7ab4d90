// Package capability models the hub-facing side of the bridge: devices made of
// typed capabilities whose attributes are observable and whose commands are
// dispatched to registered handlers.
package capability

import (
	"sort"
	"sync"
)

// Kind names a capability (cluster) attached to a device
type Kind string

const (
	KindBasicInformation Kind = "basicInformation"
	KindIdentify         Kind = "identify"
	KindGroups           Kind = "groups"
	KindScenes           Kind = "scenes"
	KindPowerSource      Kind = "powerSource"
	KindOnOff            Kind = "onOff"
	KindLevelControl     Kind = "levelControl"
	KindColorControl     Kind = "colorControl"
	KindWindowCovering   Kind = "windowCovering"
)

// DeviceType is the hub-facing device category
type DeviceType string

const (
	DeviceTypeOnOffLight         DeviceType = "onOffLight"
	DeviceTypeDimmableLight      DeviceType = "dimmableLight"
	DeviceTypeExtendedColorLight DeviceType = "extendedColorLight"
	DeviceTypeWindowCovering     DeviceType = "windowCovering"
)

// BasicInformation is the identity block of a bridged device
type BasicInformation struct {
	Name                  string `json:"name"`
	SerialNumber          string `json:"serial_number"`
	VendorID              uint16 `json:"vendor_id"`
	VendorName            string `json:"vendor_name"`
	ProductName           string `json:"product_name"`
	SoftwareVersion       uint32 `json:"software_version"`
	SoftwareVersionString string `json:"software_version_string"`
	HardwareVersion       uint32 `json:"hardware_version"`
	HardwareVersionString string `json:"hardware_version_string"`
}

// Change describes one attribute write that altered a value
type Change struct {
	DeviceID   string
	Capability Kind
	Attribute  string
	Value      any
}

// Observer receives attribute changes. It is called outside the device lock.
type Observer func(Change)

// Device is a bridged device with its attached capabilities.
// Capability accessors return nil when the capability is not attached.
type Device struct {
	id   string
	typ  DeviceType
	info BasicInformation

	mu        sync.RWMutex
	observer  Observer
	reachable bool
	kinds     map[Kind]struct{}
	handlers  map[Command]Handler

	identify    *Identify
	powerSource *PowerSource
	onOff       *OnOff
	level       *LevelControl
	color       *ColorControl
	covering    *WindowCovering
}

// NewDevice creates a device with identity, identify, groups, scenes and a wired power source attached
func NewDevice(id string, typ DeviceType, info BasicInformation) *Device {
	d := &Device{
		id:        id,
		typ:       typ,
		info:      info,
		reachable: true,
		kinds:     make(map[Kind]struct{}),
		handlers:  make(map[Command]Handler),
	}
	d.kinds[KindBasicInformation] = struct{}{}
	d.kinds[KindGroups] = struct{}{}
	d.kinds[KindScenes] = struct{}{}

	d.identify = &Identify{dev: d}
	d.kinds[KindIdentify] = struct{}{}
	d.powerSource = &PowerSource{Wired: true}
	d.kinds[KindPowerSource] = struct{}{}
	return d
}

// ID returns the stable device id
func (d *Device) ID() string { return d.id }

// Type returns the device category
func (d *Device) Type() DeviceType { return d.typ }

// Info returns the identity block
func (d *Device) Info() BasicInformation { return d.info }

// Reachable reports whether the last contact with the backing load succeeded
func (d *Device) Reachable() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.reachable
}

// SetReachable records whether the backing load answered
func (d *Device) SetReachable(v bool) bool {
	return set(d, KindBasicInformation, "reachable", &d.reachable, v)
}

// SetObserver installs the attribute change observer, replacing any previous one
func (d *Device) SetObserver(o Observer) {
	d.mu.Lock()
	d.observer = o
	d.mu.Unlock()
}

// Has reports whether a capability is attached
func (d *Device) Has(k Kind) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.kinds[k]
	return ok
}

// Kinds returns the attached capabilities in name order
func (d *Device) Kinds() []Kind {
	d.mu.RLock()
	defer d.mu.RUnlock()
	kinds := make([]Kind, 0, len(d.kinds))
	for k := range d.kinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (d *Device) attach(k Kind) {
	d.mu.Lock()
	d.kinds[k] = struct{}{}
	d.mu.Unlock()
}

// AttachOnOff attaches the on/off capability
func (d *Device) AttachOnOff(on bool) *OnOff {
	d.onOff = &OnOff{dev: d, on: on}
	d.attach(KindOnOff)
	return d.onOff
}

// AttachLevelControl attaches the level capability; level is clamped to [MinLevel, MaxLevel]
func (d *Device) AttachLevelControl(level uint8) *LevelControl {
	d.level = &LevelControl{dev: d, current: clampLevel(level)}
	d.attach(KindLevelControl)
	return d.level
}

// AttachColorControl attaches hue/saturation and color temperature in their default state
func (d *Device) AttachColorControl() *ColorControl {
	d.color = &ColorControl{
		dev:    d,
		mireds: DefaultColorTemperatureMireds,
		mode:   ColorModeColorTemperature,
	}
	d.attach(KindColorControl)
	return d.color
}

// AttachWindowCovering attaches a lift-aware cover, stopped at position
func (d *Device) AttachWindowCovering(position uint16) *WindowCovering {
	position = clampLift(position)
	d.covering = &WindowCovering{dev: d, current: position, target: position}
	d.attach(KindWindowCovering)
	return d.covering
}

func (d *Device) Identify() *Identify             { return d.identify }
func (d *Device) PowerSource() *PowerSource       { return d.powerSource }
func (d *Device) OnOff() *OnOff                   { return d.onOff }
func (d *Device) LevelControl() *LevelControl     { return d.level }
func (d *Device) ColorControl() *ColorControl     { return d.color }
func (d *Device) WindowCovering() *WindowCovering { return d.covering }

// Snapshot returns all attribute values keyed by capability then attribute
func (d *Device) Snapshot() map[Kind]map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()

	snap := map[Kind]map[string]any{
		KindBasicInformation: {"reachable": d.reachable},
		KindIdentify:         {AttrIdentifyTime: d.identify.remaining},
		KindPowerSource:      {"wired": d.powerSource.Wired},
	}
	if d.onOff != nil {
		snap[KindOnOff] = map[string]any{AttrOnOff: d.onOff.on}
	}
	if d.level != nil {
		snap[KindLevelControl] = map[string]any{AttrCurrentLevel: d.level.current}
	}
	if d.color != nil {
		snap[KindColorControl] = map[string]any{
			AttrCurrentHue:             d.color.hue,
			AttrCurrentSaturation:      d.color.saturation,
			AttrColorTemperatureMireds: d.color.mireds,
			AttrColorMode:              d.color.mode.String(),
		}
	}
	if d.covering != nil {
		snap[KindWindowCovering] = map[string]any{
			AttrCurrentLift:       d.covering.current,
			AttrTargetLift:        d.covering.target,
			AttrOperationalStatus: d.covering.status,
		}
	}
	return snap
}

// Close stops timers owned by the device. Safe to call more than once.
func (d *Device) Close() {
	d.identify.Stop()
}

// set writes field under the device lock and notifies the observer when the value changed.
// It returns whether a change happened.
func set[T comparable](d *Device, k Kind, attr string, field *T, v T) bool {
	d.mu.Lock()
	if *field == v {
		d.mu.Unlock()
		return false
	}
	*field = v
	obs := d.observer
	d.mu.Unlock()

	if obs != nil {
		obs(Change{DeviceID: d.id, Capability: k, Attribute: attr, Value: v})
	}
	return true
}
