package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wiserd/internal/capability"
	"github.com/dokzlo13/wiserd/internal/config"
	"github.com/dokzlo13/wiserd/internal/eventbus"
	"github.com/dokzlo13/wiserd/internal/ledger"
)

// Readiness reports whether the bridge finished its first discovery pass
type Readiness interface {
	Ready() bool
}

// DeviceLister lists registered devices
type DeviceLister interface {
	List() []*capability.Device
}

// BusStats reports event bus counters
type BusStats interface {
	Stats() eventbus.Stats
}

// Checker reports the health of an optional dependency
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// History looks up ledger entries
type History interface {
	Find(q ledger.Query) ([]*ledger.Entry, error)
}

// HealthService provides HTTP health check endpoints.
type HealthService struct {
	cfg     *config.Config
	ready   Readiness
	devices DeviceLister
	bus     BusStats
	broker  Checker
	history History
	server  *http.Server
}

type healthView struct {
	Status  string         `json:"status"`
	Devices int            `json:"devices"`
	Events  eventbus.Stats `json:"events"`
	MQTT    string         `json:"mqtt"`
}

type deviceView struct {
	ID        string                             `json:"id"`
	Type      capability.DeviceType              `json:"type"`
	Info      capability.BasicInformation        `json:"info"`
	Reachable bool                               `json:"reachable"`
	State     map[capability.Kind]map[string]any `json:"state"`
}

// NewHealthService creates a new HealthService.
func NewHealthService(cfg *config.Config, ready Readiness, devices DeviceLister, bus BusStats, broker Checker, history History) *HealthService {
	return &HealthService{
		cfg:     cfg,
		ready:   ready,
		devices: devices,
		bus:     bus,
		broker:  broker,
		history: history,
	}
}

// Start begins the health check server if enabled.
func (s *HealthService) Start(ctx context.Context, wg *sync.WaitGroup) {
	if !s.cfg.Healthcheck.Enabled {
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.run(ctx)
	}()
}

// Handler returns the HTTP handler serving /health, /ready, /devices and /history
func (s *HealthService) Handler() http.Handler {
	mux := http.NewServeMux()

	// Always 200: a broken broker or controller is reported, not fatal
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		view := healthView{
			Status:  "healthy",
			Devices: len(s.devices.List()),
			Events:  s.bus.Stats(),
			MQTT:    "disabled",
		}
		if s.cfg.MQTT.Enabled {
			view.MQTT = "connected"
			if err := s.broker.HealthCheck(r.Context()); err != nil {
				view.MQTT = err.Error()
			}
		}
		writeJSON(w, http.StatusOK, view)
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "discovering"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	mux.HandleFunc("/devices", func(w http.ResponseWriter, r *http.Request) {
		devices := s.devices.List()
		out := make([]deviceView, 0, len(devices))
		for _, d := range devices {
			out = append(out, deviceView{
				ID:        d.ID(),
				Type:      d.Type(),
				Info:      d.Info(),
				Reachable: d.Reachable(),
				State:     d.Snapshot(),
			})
		}
		writeJSON(w, http.StatusOK, out)
	})

	// /history?device=wiser-4-0&type=command_failed&limit=20
	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()
		q := ledger.Query{
			EventType: ledger.EventType(params.Get("type")),
			DeviceID:  params.Get("device"),
		}
		if raw := params.Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
				return
			}
			q.Limit = limit
		}

		entries, err := s.history.Find(q)
		if err != nil {
			log.Error().Err(err).Msg("Failed to read ledger history")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ledger unavailable"})
			return
		}
		if entries == nil {
			entries = []*ledger.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	})

	return mux
}

func (s *HealthService) run(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Healthcheck.Host, s.cfg.Healthcheck.Port)

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	log.Info().Str("addr", addr).Msg("Starting health check server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Health check server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Health check server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write health response")
	}
}
