package bridge

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wiserd/internal/capability"
	"github.com/dokzlo13/wiserd/internal/wiser"
)

type fakeSource struct {
	devices     []wiser.Device
	details     map[string]*wiser.DeviceDetail
	loads       map[wiser.LoadID]*wiser.Load
	failDevices map[string]bool
	failLoads   map[wiser.LoadID]bool

	mu        sync.Mutex
	loadCalls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		details:     make(map[string]*wiser.DeviceDetail),
		loads:       make(map[wiser.LoadID]*wiser.Load),
		failDevices: make(map[string]bool),
		failLoads:   make(map[wiser.LoadID]bool),
	}
}

// addDevice adds a device whose outputs drive the given loads in order
func (s *fakeSource) addDevice(id, serial string, loads ...*wiser.Load) {
	detail := &wiser.DeviceDetail{
		Device: wiser.Device{
			ID: id,
			A:  wiser.AsShipped{SerialNr: serial, CommName: "Dimmer 2K", FwID: "0x0201", HwID: "17"},
		},
	}
	for _, l := range loads {
		detail.Outputs = append(detail.Outputs, wiser.Output{Load: l.ID})
		s.loads[l.ID] = l
	}
	s.devices = append(s.devices, detail.Device)
	s.details[id] = detail
}

func (s *fakeSource) ListDevices(context.Context) ([]wiser.Device, error) {
	return s.devices, nil
}

func (s *fakeSource) GetDevice(_ context.Context, id string) (*wiser.DeviceDetail, error) {
	if s.failDevices[id] {
		return nil, &wiser.TransportError{Op: "GetDevice", Err: fmt.Errorf("connection refused")}
	}
	d, ok := s.details[id]
	if !ok {
		return nil, fmt.Errorf("no device %s", id)
	}
	return d, nil
}

func (s *fakeSource) GetLoad(_ context.Context, id wiser.LoadID) (*wiser.Load, error) {
	s.mu.Lock()
	s.loadCalls++
	s.mu.Unlock()

	if s.failLoads[id] {
		return nil, &wiser.TransportError{Op: "GetLoad", Err: fmt.Errorf("timeout")}
	}
	l, ok := s.loads[id]
	if !ok {
		return nil, fmt.Errorf("no load %s", id)
	}
	copied := *l
	return &copied, nil
}

type fakeController struct {
	mu       sync.Mutex
	requests []wiser.LoadUpdate
	pings    []wiser.Ping
	// pingGate, when set, holds Identify until it is closed
	pingGate chan struct{}
	// confirm maps a requested bri onto the bri the controller reports back
	confirm func(bri int) int
	err     error
}

func (c *fakeController) SetLoadState(_ context.Context, id wiser.LoadID, update wiser.LoadUpdate) (*wiser.Load, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, update)
	if c.err != nil {
		return nil, c.err
	}
	bri := 0
	if update.Bri != nil {
		bri = *update.Bri
	}
	if c.confirm != nil {
		bri = c.confirm(bri)
	}
	return &wiser.Load{ID: id, State: wiser.BrightnessState(bri)}, nil
}

func (c *fakeController) Identify(ctx context.Context, _ wiser.LoadID, ping wiser.Ping) {
	if c.pingGate != nil {
		select {
		case <-c.pingGate:
		case <-ctx.Done():
			return
		}
	}
	c.mu.Lock()
	c.pings = append(c.pings, ping)
	c.mu.Unlock()
}

func (c *fakeController) sentPings() []wiser.Ping {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wiser.Ping(nil), c.pings...)
}

func (c *fakeController) lastBri() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 || c.requests[len(c.requests)-1].Bri == nil {
		return -1
	}
	return *c.requests[len(c.requests)-1].Bri
}

type fakeRegistry struct {
	mu      sync.Mutex
	devices map[string]*capability.Device
	order   []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{devices: make(map[string]*capability.Device)}
}

func (r *fakeRegistry) Register(dev *capability.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[dev.ID()]; ok {
		return capability.ErrAlreadyRegistered
	}
	r.devices[dev.ID()] = dev
	r.order = append(r.order, dev.ID())
	return nil
}

func (r *fakeRegistry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, id)
	return nil
}

func (r *fakeRegistry) UnregisterAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = make(map[string]*capability.Device)
	return nil
}

func (r *fakeRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

func dimLoad(id wiser.LoadID, name string, bri int) *wiser.Load {
	return &wiser.Load{ID: id, Name: name, Type: wiser.LoadTypeDim, State: wiser.BrightnessState(bri)}
}

func onOffLoad(id wiser.LoadID, name string, bri int) *wiser.Load {
	return &wiser.Load{ID: id, Name: name, Type: wiser.LoadTypeOnOff, State: wiser.BrightnessState(bri)}
}

func daliLoad(id wiser.LoadID, name string, bri int) *wiser.Load {
	return &wiser.Load{ID: id, Name: name, Type: wiser.LoadTypeDALI, State: wiser.BrightnessState(bri)}
}

func motorLoad(id wiser.LoadID, name string, pos int, running bool) *wiser.Load {
	return &wiser.Load{ID: id, Name: name, Type: wiser.LoadTypeMotor, State: wiser.MotionState(wiser.Motion{Pos: pos, Running: running})}
}

// captureLogs redirects the global logger for the duration of the test
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf).Level(zerolog.DebugLevel)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func countLevel(buf *bytes.Buffer, level string) int {
	return strings.Count(buf.String(), `"level":"`+level+`"`)
}
