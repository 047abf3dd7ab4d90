package capability

import "errors"

var (
	// ErrAlreadyRegistered is returned when a device id is registered twice
	ErrAlreadyRegistered = errors.New("device already registered")
	// ErrDeviceNotFound is returned for an id that is not registered
	ErrDeviceNotFound = errors.New("device not found")
)

// Registry is the host side that owns registered devices. The bridge only
// depends on this interface.
type Registry interface {
	// Register attaches a device to the host. Registering an id twice returns ErrAlreadyRegistered.
	Register(dev *Device) error
	// Unregister detaches one device
	Unregister(id string) error
	// UnregisterAll detaches every device. Safe with nothing registered.
	UnregisterAll() error
}
