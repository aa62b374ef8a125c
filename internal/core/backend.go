package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/api"
	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/engine"
	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/types"
)

// Service implements api.Backend so the HTTP surface and the MQTT control
// plane operate on the same state with the same error semantics.

// Zones returns all configured zones.
func (s *Service) Zones() []engine.Zone { return s.eng.Zones() }

// ZoneByID returns one zone.
func (s *Service) ZoneByID(id int) (engine.Zone, error) { return s.eng.ZoneByID(id) }

// AddZone registers a new zone.
func (s *Service) AddZone(z engine.Zone) error { return s.eng.AddZone(z) }

// UpdateZone replaces a zone's definition.
func (s *Service) UpdateZone(id int, z engine.Zone) error { return s.eng.UpdateZone(id, z) }

// RemoveZone deletes a zone and releases relays it owned exclusively.
func (s *Service) RemoveZone(id int) error { return s.eng.RemoveZone(id) }

// RelayStates returns the state of every registered relay.
func (s *Service) RelayStates() []engine.RelayStatus { return s.eng.RelayStates() }

// SetRelay is the manual override for a single relay.
func (s *Service) SetRelay(pin int, on bool) error {
	if on {
		return s.eng.ActivateRelay(pin)
	}
	return s.eng.DeactivateRelay(pin)
}

// EmergencyStop forces every relay off regardless of zone state.
func (s *Service) EmergencyStop() {
	s.eng.DisableAllRelays()
}

// Statistics returns the aggregate counters snapshot.
func (s *Service) Statistics() api.Statistics {
	stats := api.Statistics{
		TotalDetections: s.eng.TotalDetections(),
		FramesProcessed: s.framesProcessed.Load(),
		UptimeSeconds:   s.uptime().Seconds(),
	}
	if s.dog != nil {
		stats.WatchdogTrips = s.dog.Trips()
	}
	for _, z := range s.eng.Zones() {
		stats.Zones = append(stats.Zones, api.ZoneStatistics{
			ZoneID:         z.ID,
			Name:           z.Name,
			Active:         z.Active,
			DetectionCount: z.DetectionCount,
		})
	}
	for _, rs := range s.eng.RelayStates() {
		stats.Relays = append(stats.Relays, api.RelayStatistics{
			Pin:         rs.Pin,
			Active:      rs.Active,
			Activations: rs.Activations,
		})
	}
	return stats
}

// ResetStatistics clears detection and relay counters.
func (s *Service) ResetStatistics() {
	s.eng.ResetStatistics()
	s.framesProcessed.Store(0)
}

// SystemStatus describes the daemon.
func (s *Service) SystemStatus() api.SystemStatus {
	status := api.SystemStatus{
		InstanceID:      s.cfg.InstanceID,
		UptimeSeconds:   s.uptime().Seconds(),
		DetectionPaused: s.paused(),
		DetectorType:    s.cfg.Detector.Type,
		Stream:          s.StreamStats(),
	}
	if s.mqtt != nil {
		status.MQTTConnected = s.mqtt.Stats().Connected
	}
	return status
}

// StreamStats returns the camera session counters, or a disconnected
// snapshot when no session is up.
func (s *Service) StreamStats() types.StreamStats {
	if session := s.currentSession(); session != nil {
		return session.Stats()
	}
	return types.StreamStats{
		State:     types.StreamDisconnected,
		StateName: types.StreamDisconnected.String(),
	}
}

// Ready reports whether the daemon can serve traffic: running with a live
// camera session.
func (s *Service) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning && s.session != nil
}

// SubscribeFrames attaches a live frame consumer to the frame bus.
func (s *Service) SubscribeFrames(label string, depth int) (<-chan types.Frame, func()) {
	return s.frameBus.Subscribe(label, depth)
}

func (s *Service) uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.started.IsZero() {
		return 0
	}
	return time.Since(s.started)
}

// statusMap is the get_status payload on the control plane.
func (s *Service) statusMap() map[string]interface{} {
	status := s.SystemStatus()
	stats := s.Statistics()
	return map[string]interface{}{
		"instance_id":      status.InstanceID,
		"uptime_seconds":   status.UptimeSeconds,
		"detection_paused": status.DetectionPaused,
		"detector_type":    status.DetectorType,
		"stream":           status.Stream,
		"mqtt_connected":   status.MQTTConnected,
		"total_detections": stats.TotalDetections,
		"frames_processed": stats.FramesProcessed,
		"watchdog_trips":   stats.WatchdogTrips,
	}
}

// healthSnapshot is the periodic health payload on the health topic.
type healthSnapshot struct {
	InstanceID      string  `json:"instance_id"`
	Status          string  `json:"status"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	FramesProcessed uint64  `json:"frames_processed"`
	FPS             float64 `json:"fps"`
	StreamState     string  `json:"stream_state"`
	ActiveZones     int     `json:"active_zones"`
	WatchdogTrips   uint64  `json:"watchdog_trips"`
	Timestamp       string  `json:"timestamp"`
}

// runHealthReporter publishes a health snapshot every 30 seconds.
func (s *Service) runHealthReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishHealth()
		}
	}
}

func (s *Service) publishHealth() {
	streamStats := s.StreamStats()
	active := 0
	for _, z := range s.eng.Zones() {
		if z.Active {
			active++
		}
	}

	snap := healthSnapshot{
		InstanceID:      s.cfg.InstanceID,
		Status:          "ok",
		UptimeSeconds:   s.uptime().Seconds(),
		FramesProcessed: s.framesProcessed.Load(),
		FPS:             streamStats.FPS,
		StreamState:     streamStats.StateName,
		ActiveZones:     active,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}
	if s.dog != nil {
		snap.WatchdogTrips = s.dog.Trips()
	}
	if streamStats.State != types.StreamConnected {
		snap.Status = "degraded"
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		slog.Error("failed to marshal health snapshot", "error", err)
		return
	}
	if err := s.mqtt.PublishHealth(payload); err != nil {
		slog.Debug("health publish failed", "error", err)
	}
}
