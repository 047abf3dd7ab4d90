package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wiserd/internal/capability"
	"github.com/dokzlo13/wiserd/internal/wiser"
)

// Source is the read side of the controller client
type Source interface {
	ListDevices(ctx context.Context) ([]wiser.Device, error)
	GetDevice(ctx context.Context, id string) (*wiser.DeviceDetail, error)
	GetLoad(ctx context.Context, id wiser.LoadID) (*wiser.Load, error)
}

// Outcome is the terminal state of one item in a discovery pass
type Outcome int

const (
	Registered Outcome = iota
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Registered:
		return "registered"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Result describes what happened to one output. OutputIndex is -1 when the whole device failed.
type Result struct {
	VendorID    string
	OutputIndex int
	LoadID      wiser.LoadID
	Archetype   Archetype
	Outcome     Outcome
	Reason      string
	Err         error
}

// Report collects the results of a discovery pass in traversal order
type Report struct {
	Results []Result
}

func (r *Report) count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

func (r *Report) Registered() int { return r.count(Registered) }
func (r *Report) Skipped() int    { return r.count(Skipped) }
func (r *Report) Failed() int     { return r.count(Failed) }

type bindingKey struct {
	load  wiser.LoadID
	index int
}

// Discoverer walks devices, outputs and loads and registers one capability device per supported load
type Discoverer struct {
	source     Source
	builder    *Builder
	translator *Translator
	registry   capability.Registry

	// Serializes passes
	runMu sync.Mutex

	mu       sync.RWMutex
	bindings map[bindingKey]*Binding
}

// NewDiscoverer creates a discoverer
func NewDiscoverer(source Source, builder *Builder, translator *Translator, registry capability.Registry) *Discoverer {
	return &Discoverer{
		source:     source,
		builder:    builder,
		translator: translator,
		registry:   registry,
		bindings:   make(map[bindingKey]*Binding),
	}
}

// Run performs one discovery pass. Failures of single devices or loads are recorded in
// the report and never stop the pass; only a failed device listing or a cancelled
// context return an error.
func (d *Discoverer) Run(ctx context.Context) (*Report, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	report := &Report{}

	devices, err := d.source.ListDevices(ctx)
	if err != nil {
		return report, fmt.Errorf("list devices: %w", err)
	}
	log.Info().Int("devices", len(devices)).Msg("Starting discovery")

	for _, basic := range devices {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		detail, err := d.source.GetDevice(ctx, basic.ID)
		if err != nil {
			log.Error().Err(err).Str("device", basic.ID).Msg("Failed to fetch device detail")
			report.Results = append(report.Results, Result{VendorID: basic.ID, OutputIndex: -1, Outcome: Failed, Err: err})
			continue
		}

		for index, output := range detail.Outputs {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Results = append(report.Results, d.discoverOutput(ctx, detail, index, output))
		}
	}

	log.Info().
		Int("registered", report.Registered()).
		Int("skipped", report.Skipped()).
		Int("failed", report.Failed()).
		Msg("Discovery finished")

	return report, nil
}

// discoverOutput runs fetch, classify, build, bind and register for one output
func (d *Discoverer) discoverOutput(ctx context.Context, device *wiser.DeviceDetail, index int, output wiser.Output) (res Result) {
	res = Result{VendorID: device.ID, OutputIndex: index, LoadID: output.Load}

	defer func() {
		if r := recover(); r != nil {
			res.Outcome = Failed
			res.Err = fmt.Errorf("panic: %v", r)
			log.Error().Interface("panic", r).Str("device", device.ID).Int("output", index).Msg("Recovered from panic during discovery")
		}
	}()

	key := bindingKey{load: output.Load, index: index}
	d.mu.RLock()
	_, bound := d.bindings[key]
	d.mu.RUnlock()
	if bound {
		res.Outcome = Skipped
		res.Reason = "already registered"
		return res
	}

	load, err := d.source.GetLoad(ctx, output.Load)
	if err != nil {
		log.Error().Err(err).Str("device", device.ID).Int("output", index).Stringer("load", output.Load).Msg("Failed to fetch load")
		res.Outcome = Failed
		res.Err = err
		return res
	}

	arch := Classify(load.Type)
	res.Archetype = arch
	if !arch.Supported() {
		log.Warn().Str("device", device.ID).Stringer("load", load.ID).Str("type", string(load.Type)).Msg("Load type not supported, skipping")
		res.Outcome = Skipped
		res.Reason = fmt.Sprintf("unsupported load type %q", load.Type)
		return res
	}

	dev, err := d.builder.Build(arch, load, device, index)
	if err != nil {
		log.Error().Err(err).Str("device", device.ID).Stringer("load", load.ID).Msg("Failed to build capability device")
		res.Outcome = Failed
		res.Err = err
		return res
	}

	binding := d.translator.Bind(arch, dev, load, device.ID, index)

	if err := d.registry.Register(dev); err != nil {
		dev.Close()
		if errors.Is(err, capability.ErrAlreadyRegistered) {
			res.Outcome = Skipped
			res.Reason = "already registered"
			return res
		}
		log.Error().Err(err).Str("device", device.ID).Stringer("load", load.ID).Msg("Failed to register capability device")
		res.Outcome = Failed
		res.Err = err
		return res
	}

	d.mu.Lock()
	d.bindings[key] = binding
	d.mu.Unlock()

	log.Info().
		Str("id", dev.ID()).
		Str("name", dev.Info().Name).
		Str("archetype", arch.String()).
		Stringer("load", load.ID).
		Msg("Registered device")

	res.Outcome = Registered
	return res
}

// Bindings returns the registered bindings ordered by load id then output index
func (d *Discoverer) Bindings() []*Binding {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*Binding, 0, len(d.bindings))
	for _, b := range d.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LoadID != out[j].LoadID {
			return out[i].LoadID < out[j].LoadID
		}
		return out[i].OutputIndex < out[j].OutputIndex
	})
	return out
}

// Forget drops all bindings, typically after the registry was cleared
func (d *Discoverer) Forget() {
	d.mu.Lock()
	d.bindings = make(map[bindingKey]*Binding)
	d.mu.Unlock()
}
