// Package api exposes the HTTP surface: zone and relay management, safety
// controls, statistics, health probes, Prometheus metrics and a WebSocket
// feed for live status and frames.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/lo"

	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/engine"
	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/types"
)

// Backend is the service surface the API exposes. The core service
// implements it; tests use a fake.
type Backend interface {
	Zones() []engine.Zone
	ZoneByID(id int) (engine.Zone, error)
	AddZone(z engine.Zone) error
	UpdateZone(id int, z engine.Zone) error
	RemoveZone(id int) error

	RelayStates() []engine.RelayStatus
	SetRelay(pin int, on bool) error
	EmergencyStop()

	Statistics() Statistics
	ResetStatistics()
	SystemStatus() SystemStatus
	StreamStats() types.StreamStats
	Ready() bool

	SubscribeFrames(label string, depth int) (<-chan types.Frame, func())
}

// Statistics is the aggregate counters snapshot.
type Statistics struct {
	TotalDetections uint64            `json:"total_detections"`
	FramesProcessed uint64            `json:"frames_processed"`
	WatchdogTrips   uint64            `json:"watchdog_trips"`
	UptimeSeconds   float64           `json:"uptime_seconds"`
	Zones           []ZoneStatistics  `json:"zones"`
	Relays          []RelayStatistics `json:"relays"`
}

// ZoneStatistics is one zone's counters.
type ZoneStatistics struct {
	ZoneID         int    `json:"zone_id"`
	Name           string `json:"name"`
	Active         bool   `json:"active"`
	DetectionCount uint64 `json:"detection_count"`
}

// RelayStatistics is one relay's counters.
type RelayStatistics struct {
	Pin         int    `json:"pin"`
	Active      bool   `json:"active"`
	Activations uint64 `json:"activations"`
}

// SystemStatus describes the daemon for the /api/system endpoint.
type SystemStatus struct {
	InstanceID      string            `json:"instance_id"`
	UptimeSeconds   float64           `json:"uptime_seconds"`
	DetectionPaused bool              `json:"detection_paused"`
	DetectorType    string            `json:"detector_type"`
	Stream          types.StreamStats `json:"stream"`
	MQTTConnected   bool              `json:"mqtt_connected"`
}

// Server serves the HTTP API.
type Server struct {
	backend Backend
	metrics http.Handler
	hub     *wsHub
}

// NewServer creates an API server. metricsHandler serves /metrics and may
// be nil to disable the endpoint.
func NewServer(backend Backend, metricsHandler http.Handler) *Server {
	return &Server{
		backend: backend,
		metrics: metricsHandler,
		hub:     newWSHub(backend),
	}
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/readiness", s.handleReadiness)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	r.Get("/ws", s.hub.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Route("/zones", func(r chi.Router) {
			r.Get("/", s.handleListZones)
			r.Post("/", s.handleAddZone)
			r.Get("/{id}", s.handleGetZone)
			r.Put("/{id}", s.handleUpdateZone)
			r.Delete("/{id}", s.handleRemoveZone)
		})

		r.Get("/relays", s.handleListRelays)
		r.Post("/relays/set", s.handleSetRelay)
		r.Post("/emergency-stop", s.handleEmergencyStop)

		r.Get("/statistics", s.handleStatistics)
		r.Post("/statistics/reset", s.handleResetStatistics)

		r.Get("/system", s.handleSystem)
		r.Get("/stream/status", s.handleStreamStatus)
	})

	return r
}

// zoneDTO is the wire shape of a zone. Timeouts travel in seconds.
type zoneDTO struct {
	ID             int        `json:"id"`
	Name           string     `json:"name"`
	X              int        `json:"x"`
	Y              int        `json:"y"`
	Width          int        `json:"width"`
	Height         int        `json:"height"`
	RelayPins      []int      `json:"relay_pins"`
	TimeoutS       int        `json:"timeout_s"`
	Active         bool       `json:"active"`
	LastDetection  *time.Time `json:"last_detection,omitempty"`
	DetectionCount uint64     `json:"detection_count"`
}

func zoneToDTO(z engine.Zone) zoneDTO {
	dto := zoneDTO{
		ID:             z.ID,
		Name:           z.Name,
		X:              z.Rect.X,
		Y:              z.Rect.Y,
		Width:          z.Rect.Width,
		Height:         z.Rect.Height,
		RelayPins:      z.RelayPins,
		TimeoutS:       int(z.Timeout / time.Second),
		Active:         z.Active,
		DetectionCount: z.DetectionCount,
	}
	if !z.LastDetection.IsZero() {
		t := z.LastDetection
		dto.LastDetection = &t
	}
	return dto
}

func zoneFromDTO(dto zoneDTO) engine.Zone {
	return engine.Zone{
		ID:        dto.ID,
		Name:      dto.Name,
		Rect:      types.PixelRect{X: dto.X, Y: dto.Y, Width: dto.Width, Height: dto.Height},
		RelayPins: dto.RelayPins,
		Timeout:   time.Duration(dto.TimeoutS) * time.Second,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !s.backend.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	zones := lo.Map(s.backend.Zones(), func(z engine.Zone, _ int) zoneDTO {
		return zoneToDTO(z)
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"zones": zones,
		"count": len(zones),
	})
}

func (s *Server) handleGetZone(w http.ResponseWriter, r *http.Request) {
	id, err := zoneID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	zone, err := s.backend.ZoneByID(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, zoneToDTO(zone))
}

func (s *Server) handleAddZone(w http.ResponseWriter, r *http.Request) {
	var dto zoneDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.backend.AddZone(zoneFromDTO(dto)); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"zone_id": dto.ID})
}

func (s *Server) handleUpdateZone(w http.ResponseWriter, r *http.Request) {
	id, err := zoneID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var dto zoneDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.backend.UpdateZone(id, zoneFromDTO(dto)); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"zone_id": id})
}

func (s *Server) handleRemoveZone(w http.ResponseWriter, r *http.Request) {
	id, err := zoneID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.backend.RemoveZone(id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"zone_id": id})
}

func (s *Server) handleListRelays(w http.ResponseWriter, r *http.Request) {
	relays := lo.Map(s.backend.RelayStates(), func(rs engine.RelayStatus, _ int) RelayStatistics {
		return RelayStatistics{Pin: rs.Pin, Active: rs.Active, Activations: rs.Activations}
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"relays": relays,
		"count":  len(relays),
	})
}

func (s *Server) handleSetRelay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pin int  `json:"pin"`
		On  bool `json:"on"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.backend.SetRelay(req.Pin, req.On); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pin": req.Pin, "on": req.On})
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	slog.Warn("emergency stop requested via http")
	s.backend.EmergencyStop()
	writeJSON(w, http.StatusOK, map[string]interface{}{"all_relays_off": true})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Statistics())
}

func (s *Server) handleResetStatistics(w http.ResponseWriter, r *http.Request) {
	s.backend.ResetStatistics()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.SystemStatus())
}

func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.StreamStats())
}

func zoneID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		return 0, fmt.Errorf("invalid zone id: %w", err)
	}
	return id, nil
}

// writeEngineError maps engine sentinels to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownZone), errors.Is(err, engine.ErrUnknownRelay):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, engine.ErrZoneLimit):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, engine.ErrInvalidZone):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
