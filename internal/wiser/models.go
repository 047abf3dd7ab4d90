package wiser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// LoadType is the vendor type tag of a load
type LoadType string

// Known load types
const (
	LoadTypeOnOff LoadType = "onoff"
	LoadTypeDim   LoadType = "dim"
	LoadTypeMotor LoadType = "motor"
	LoadTypeDALI  LoadType = "dali"
)

// LoadID identifies a load on the controller. The API sends it as a number
// in device outputs and occasionally as a numeric string on load records.
type LoadID int

// UnmarshalJSON accepts both 12 and "12"
func (id *LoadID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("load id %q is not numeric", s)
		}
		*id = LoadID(n)
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = LoadID(n)
	return nil
}

// String returns the decimal form used in URLs
func (id LoadID) String() string {
	return strconv.Itoa(int(id))
}

// Channel is the output channel of a load; sent as a number or a string depending on firmware.
type Channel string

// UnmarshalJSON accepts any scalar
func (c *Channel) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Channel(s)
		return nil
	}
	if string(data) == "null" {
		*c = ""
		return nil
	}
	*c = Channel(data)
	return nil
}

// AsShipped holds the factory ("a") identity of a device
type AsShipped struct {
	FwID       string `json:"fw_id"`
	HwID       string `json:"hw_id"`
	FwRevision string `json:"fw_revision"`
	CommRef    string `json:"comm_ref"`
	Address    string `json:"address"`
	NubesID    int    `json:"nubes_id"`
	CommName   string `json:"comm_name"`
	SerialNr   string `json:"serial_nr"`
}

// Configured holds the installer-configured ("c") identity of a device
type Configured struct {
	FwID      string `json:"fw_id"`
	HwID      string `json:"hw_id"`
	FwVersion string `json:"fw_version"`
	CommRef   string `json:"comm_ref"`
	CmdMatrix string `json:"cmd_matrix"`
	NubesID   int    `json:"nubes_id"`
	CommName  string `json:"comm_name"`
	SerialNr  string `json:"serial_nr"`
}

// Device is the basic device record returned by GET /devices
type Device struct {
	ID       string     `json:"id"`
	LastSeen int64      `json:"last_seen"`
	A        AsShipped  `json:"a"`
	C        Configured `json:"c"`
}

// CommName returns the commercial name, preferring the configured value
func (d *Device) CommName() string {
	return firstNonEmpty(d.C.CommName, d.A.CommName)
}

// SerialNr returns the serial number, preferring the configured value
func (d *Device) SerialNr() string {
	return firstNonEmpty(d.C.SerialNr, d.A.SerialNr)
}

// FwID returns the firmware id, preferring the configured value
func (d *Device) FwID() string {
	return firstNonEmpty(d.C.FwID, d.A.FwID)
}

// HwID returns the hardware id, preferring the configured value
func (d *Device) HwID() string {
	return firstNonEmpty(d.C.HwID, d.A.HwID)
}

// FirmwareVersion returns the human readable firmware version
func (d *Device) FirmwareVersion() string {
	return firstNonEmpty(d.C.FwVersion, d.A.FwRevision)
}

// Input is a physical input (button) of a device
type Input struct {
	Type string `json:"type"`
}

// Output is a connector slot on a device, mapped to one load
type Output struct {
	Load    LoadID `json:"load"`
	Type    string `json:"type"`
	SubType string `json:"sub_type"`
}

// DeviceDetail is the full device record returned by GET /devices/{id}
type DeviceDetail struct {
	Device
	Inputs  []Input  `json:"inputs"`
	Outputs []Output `json:"outputs"`
}

// Load is the vendor's atomic controllable unit
type Load struct {
	ID      LoadID    `json:"id"`
	Name    string    `json:"name"`
	Unused  bool      `json:"unused"`
	Type    LoadType  `json:"type"`
	SubType string    `json:"sub_type"`
	Device  string    `json:"device"`
	Channel Channel   `json:"channel"`
	State   LoadState `json:"-"`
}

// UnmarshalJSON decodes a load and validates its state against the type tag
func (l *Load) UnmarshalJSON(data []byte) error {
	type plain Load
	var aux struct {
		plain
		LegacySubType string          `json:"subtype"`
		State         json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*l = Load(aux.plain)
	if l.SubType == "" {
		l.SubType = aux.LegacySubType
	}

	state, err := ParseState(l.Type, aux.State)
	if err != nil {
		return fmt.Errorf("load %s: %w", l.ID, err)
	}
	l.State = state
	return nil
}

// LoadUpdate is a partial load mutation. A nil Bri posts no body.
type LoadUpdate struct {
	Bri *int `json:"bri,omitempty"`
}

// WithBri returns an update setting the brightness
func WithBri(bri int) LoadUpdate {
	return LoadUpdate{Bri: &bri}
}

// Ping is the body of an identify request
type Ping struct {
	TimeMs       int    `json:"time_ms"`
	BlinkPattern string `json:"blink_pattern"`
	Color        string `json:"color"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
