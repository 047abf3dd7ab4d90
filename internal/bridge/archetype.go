// Package bridge maps Wiser loads onto capability devices: it classifies loads,
// builds their capability sets, binds hub commands to load mutations and runs
// discovery passes against the controller.
package bridge

import (
	"github.com/dokzlo13/wiserd/internal/capability"
	"github.com/dokzlo13/wiserd/internal/wiser"
)

// Archetype is the hub-facing category a load is mapped to
type Archetype int

const (
	Unsupported Archetype = iota
	SimpleOnOff
	Dimmable
	ColorCapable
	MotorizedCover
)

// String returns the archetype name
func (a Archetype) String() string {
	switch a {
	case SimpleOnOff:
		return "simple_on_off"
	case Dimmable:
		return "dimmable"
	case ColorCapable:
		return "color_capable"
	case MotorizedCover:
		return "motorized_cover"
	default:
		return "unsupported"
	}
}

// Supported reports whether loads of this archetype are bridged
func (a Archetype) Supported() bool {
	return a != Unsupported
}

// DeviceType returns the capability device category for the archetype
func (a Archetype) DeviceType() capability.DeviceType {
	switch a {
	case Dimmable:
		return capability.DeviceTypeDimmableLight
	case ColorCapable:
		return capability.DeviceTypeExtendedColorLight
	case MotorizedCover:
		return capability.DeviceTypeWindowCovering
	default:
		return capability.DeviceTypeOnOffLight
	}
}

// brightness reports whether the archetype is driven by a {bri} state
func (a Archetype) brightness() bool {
	return a == SimpleOnOff || a == Dimmable || a == ColorCapable
}

// dimmable reports whether the archetype carries a level capability
func (a Archetype) dimmable() bool {
	return a == Dimmable || a == ColorCapable
}

// Classify maps a vendor load type onto an archetype. Unknown types yield Unsupported.
func Classify(t wiser.LoadType) Archetype {
	switch t {
	case wiser.LoadTypeOnOff:
		return SimpleOnOff
	case wiser.LoadTypeDim:
		return Dimmable
	case wiser.LoadTypeDALI:
		return ColorCapable
	case wiser.LoadTypeMotor:
		return MotorizedCover
	default:
		return Unsupported
	}
}
