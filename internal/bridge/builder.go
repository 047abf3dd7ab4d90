package bridge

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wiserd/internal/capability"
	"github.com/dokzlo13/wiserd/internal/wiser"
)

var (
	// ErrUnsupportedArchetype is returned when asked to build a device for an unsupported load
	ErrUnsupportedArchetype = errors.New("unsupported archetype")
	// ErrStateMismatch is returned when a load state does not fit its archetype
	ErrStateMismatch = errors.New("load state does not match archetype")
)

// Builder assembles capability devices from loads
type Builder struct {
	vendorID   uint16
	vendorName string
}

// NewBuilder creates a builder that stamps devices with the given vendor identity
func NewBuilder(vendorID uint16, vendorName string) *Builder {
	return &Builder{vendorID: vendorID, vendorName: vendorName}
}

// DeviceID returns the stable capability device id of an output's load
func DeviceID(load wiser.LoadID, outputIndex int) string {
	return fmt.Sprintf("wiser-%d-%d", load, outputIndex)
}

// Build creates the capability device for a load driven by output outputIndex of device,
// with attributes seeded from the load's current state.
func (b *Builder) Build(arch Archetype, load *wiser.Load, device *wiser.DeviceDetail, outputIndex int) (*capability.Device, error) {
	if !arch.Supported() {
		return nil, fmt.Errorf("%w: load %s type %q", ErrUnsupportedArchetype, load.ID, load.Type)
	}

	want := wiser.StateMotion
	if arch.brightness() {
		want = wiser.StateBrightness
	}
	if load.State.Kind != want {
		return nil, fmt.Errorf("%w: %s load %s has %s state", ErrStateMismatch, arch, load.ID, load.State.Kind)
	}

	dev := capability.NewDevice(DeviceID(load.ID, outputIndex), arch.DeviceType(), b.info(load, device, outputIndex))

	switch arch {
	case SimpleOnOff:
		dev.AttachOnOff(load.State.On())
	case Dimmable:
		dev.AttachOnOff(load.State.On())
		dev.AttachLevelControl(capability.LevelFromInt(load.State.Bri))
	case ColorCapable:
		dev.AttachOnOff(load.State.On())
		dev.AttachLevelControl(capability.LevelFromInt(load.State.Bri))
		dev.AttachColorControl()
	case MotorizedCover:
		// Always start stopped at the reported position, even if the motor is running.
		dev.AttachWindowCovering(capability.LiftFromInt(load.State.Motion.Pos))
	}

	return dev, nil
}

func (b *Builder) info(load *wiser.Load, device *wiser.DeviceDetail, outputIndex int) capability.BasicInformation {
	serial := device.SerialNr()
	if serial == "" {
		serial = device.ID
	}
	serial = serial + "_" + strconv.Itoa(outputIndex)

	return capability.BasicInformation{
		Name:                  resolveName(serial, load.Name, device.C.CommName, device.A.CommName),
		SerialNumber:          serial,
		VendorID:              b.vendorID,
		VendorName:            b.vendorName,
		ProductName:           device.CommName(),
		SoftwareVersion:       parseVersion("fw_id", device.FwID()),
		SoftwareVersionString: device.FirmwareVersion(),
		HardwareVersion:       parseVersion("hw_id", device.HwID()),
		HardwareVersionString: device.HwID(),
	}
}

// resolveName returns the first non-blank candidate, or a name derived from the serial
func resolveName(serial string, candidates ...string) string {
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return c
		}
	}
	return "Wiser " + serial
}

// parseVersion parses decimal, 0x hex or 0 octal ids. Garbage yields 0.
func parseVersion(field, s string) uint32 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		log.Debug().Str("field", field).Str("value", s).Msg("Non-numeric version id, using 0")
		return 0
	}
	return uint32(v)
}
