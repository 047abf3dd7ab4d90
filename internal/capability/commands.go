package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownCommand is returned when a device has no handler for a command
var ErrUnknownCommand = errors.New("unknown command")

// Command is the name of an inbound hub command
type Command string

const (
	CommandIdentify               Command = "identify"
	CommandOn                     Command = "on"
	CommandOff                    Command = "off"
	CommandToggle                 Command = "toggle"
	CommandMoveToLevel            Command = "moveToLevel"
	CommandMoveToLevelWithOnOff   Command = "moveToLevelWithOnOff"
	CommandMoveToHueAndSaturation Command = "moveToHueAndSaturation"
	CommandMoveToColorTemperature Command = "moveToColorTemperature"
	CommandStopMotion             Command = "stopMotion"
	CommandGoToLiftPercentage     Command = "goToLiftPercentage"
)

// Request carries the arguments of a command. Only the fields relevant to the command are read.
type Request struct {
	Level                  uint8
	Hue                    uint8
	Saturation             uint8
	ColorTemperatureMireds uint16
	LiftPercent100ths      uint16
	IdentifyTime           uint16 // seconds
}

// Handler executes one command against a device
type Handler func(ctx context.Context, req Request) error

// AddCommandHandler registers h for cmd, replacing any previous handler
func (d *Device) AddCommandHandler(cmd Command, h Handler) {
	d.mu.Lock()
	d.handlers[cmd] = h
	d.mu.Unlock()
}

// Commands returns the commands the device accepts, sorted by name
func (d *Device) Commands() []Command {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cmds := make([]Command, 0, len(d.handlers))
	for c := range d.handlers {
		cmds = append(cmds, c)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i] < cmds[j] })
	return cmds
}

// Handle runs the handler registered for cmd
func (d *Device) Handle(ctx context.Context, cmd Command, req Request) error {
	d.mu.RLock()
	h, ok := d.handlers[cmd]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s on device %s", ErrUnknownCommand, cmd, d.id)
	}
	return h(ctx, req)
}
