// Package poller refreshes bound devices from the controller on an interval.
// The controller has no push channel, so polling is the only feedback path
// besides command confirmations.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/wiserd/internal/bridge"
	"github.com/dokzlo13/wiserd/internal/wiser"
)

const defaultInterval = time.Minute

// LoadReader fetches the current state of one load
type LoadReader interface {
	GetLoad(ctx context.Context, id wiser.LoadID) (*wiser.Load, error)
}

// BindingSource lists the bindings to refresh
type BindingSource interface {
	Bindings() []*bridge.Binding
}

// Stats summarizes one pass
type Stats struct {
	Refreshed int
	Failed    int
}

// Poller periodically applies the controller's load state to bound devices
type Poller struct {
	reader   LoadReader
	bindings BindingSource
	limiter  *rate.Limiter
	interval time.Duration

	trigger chan struct{}
	passMu  sync.Mutex
}

// New creates a poller. A zero interval defaults to one minute; a zero rate disables pacing.
func New(reader LoadReader, bindings BindingSource, interval time.Duration, rateLimitRPS float64) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if rateLimitRPS > 0 {
		burst := int(rateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rateLimitRPS), burst)
	}

	return &Poller{
		reader:   reader,
		bindings: bindings,
		limiter:  limiter,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests an immediate pass. Multiple triggers before the pass runs collapse into one.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled
func (p *Poller) Run(ctx context.Context) error {
	log.Info().Dur("interval", p.interval).Msg("Poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Poller stopping")
			return nil
		case <-p.trigger:
			p.Poll(ctx)
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs one refresh pass over all bindings. Failures are per load and never abort the pass.
func (p *Poller) Poll(ctx context.Context) Stats {
	p.passMu.Lock()
	defer p.passMu.Unlock()

	var stats Stats
	bindings := p.bindings.Bindings()
	fetched := make(map[wiser.LoadID]*wiser.Load, len(bindings))

	for _, b := range bindings {
		if ctx.Err() != nil {
			break
		}

		load, ok := fetched[b.LoadID]
		if !ok {
			var err error
			load, err = p.fetch(ctx, b.LoadID)
			if err != nil {
				log.Error().Err(err).
					Str("load", b.LoadID.String()).
					Str("device", b.Device.ID()).
					Msg("Failed to poll load")
				b.Device.SetReachable(false)
				stats.Failed++
				continue
			}
			fetched[b.LoadID] = load
		}

		b.Device.SetReachable(true)
		if err := b.Apply(load.State); err != nil {
			log.Error().Err(err).Str("device", b.Device.ID()).Msg("Failed to apply polled state")
			stats.Failed++
			continue
		}
		stats.Refreshed++
	}

	log.Debug().Int("refreshed", stats.Refreshed).Int("failed", stats.Failed).Msg("Poll pass completed")
	return stats
}

func (p *Poller) fetch(ctx context.Context, id wiser.LoadID) (*wiser.Load, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.reader.GetLoad(ctx, id)
}
