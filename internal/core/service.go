// Package core wires the camera stream, detector, zone engine, watchdog and
// external surfaces into one service.
//
// Concurrency model: a single control loop owns the camera session and
// drives fetch, detect and engine update. The HTTP API, the MQTT control
// plane and the WebSocket feed run concurrently and reach shared state only
// through the engine's lock and the service's own mutex.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/api"
	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/config"
	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/control"
	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/detector"
	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/emitter"
	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/engine"
	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/framebus"
	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/metrics"
	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/relay"
	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/stream"
	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/types"
	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/watchdog"
)

// Service is the daemon orchestrator.
type Service struct {
	cfg *config.Config

	streamClient   *stream.Client
	det            detector.Detector
	eng            *engine.Engine
	dog            *watchdog.Watchdog
	frameBus       *framebus.Bus
	mqtt           *emitter.MQTTEmitter
	controlHandler *control.Handler
	instruments    *metrics.Metrics

	started   time.Time
	mu        sync.RWMutex
	session   *stream.Session
	isRunning bool
	isPaused  bool
	cancelRun context.CancelFunc

	framesProcessed atomic.Uint64

	wg         sync.WaitGroup
	httpServer *http.Server
}

// New builds a service from a configuration file.
func New(configPath string) (*Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("configuration loaded",
		"instance_id", cfg.InstanceID,
		"camera", cfg.Camera.StreamURL(),
		"zones", len(cfg.Zones),
		"detector", cfg.Detector.Type,
	)

	s := &Service{
		cfg:         cfg,
		frameBus:    framebus.New(),
		instruments: metrics.New(),
		streamClient: stream.NewClient(stream.Config{
			BufferSize:       cfg.Stream.BufferSizeKB * 1024,
			ReadTimeout:      time.Duration(cfg.Stream.ReadTimeoutS) * time.Second,
			MaxReadsPerFrame: cfg.Stream.MaxReadsPerFrame,
		}),
	}

	driver, err := buildDriver(cfg.Relay)
	if err != nil {
		return nil, err
	}

	s.eng = engine.New(engine.Config{
		Driver: driver,
		Sink:   s.onEngineEvent,
	})
	for _, zc := range cfg.Zones {
		zone := engine.Zone{
			ID:        zc.ID,
			Name:      zc.Name,
			Rect:      types.PixelRect{X: zc.X, Y: zc.Y, Width: zc.Width, Height: zc.Height},
			RelayPins: zc.RelayPins,
			Timeout:   zc.Timeout(),
		}
		if err := s.eng.AddZone(zone); err != nil {
			return nil, fmt.Errorf("failed to add configured zone %d: %w", zc.ID, err)
		}
	}

	s.det, err = buildDetector(cfg.Detector)
	if err != nil {
		return nil, err
	}

	if cfg.Watchdog.Enabled {
		s.dog = watchdog.New(watchdog.Config{
			Timeout: time.Duration(cfg.Watchdog.TimeoutS) * time.Second,
			OnTrip:  s.onWatchdogTrip,
		})
	}

	if cfg.MQTT.Broker != "" {
		s.mqtt = emitter.NewMQTTEmitter(cfg.MQTT, cfg.InstanceID)
	}

	return s, nil
}

func buildDriver(cfg config.RelayConfig) (relay.Driver, error) {
	switch cfg.Driver {
	case "sysfs":
		return relay.NewSysfsDriver(cfg.ActiveHigh), nil
	case "memory":
		slog.Warn("using in-memory relay driver, no hardware will switch")
		return relay.NewMemoryDriver(), nil
	default:
		return nil, fmt.Errorf("unknown relay driver %q", cfg.Driver)
	}
}

func buildDetector(cfg config.DetectorConfig) (detector.Detector, error) {
	switch cfg.Type {
	case "motion":
		return detector.NewMotionDetector(detector.MotionConfig{
			SampleStride:  cfg.Motion.SampleStride,
			ByteThreshold: cfg.Motion.ByteThreshold,
			Sensitivity:   cfg.Motion.Sensitivity,
		}), nil
	case "external":
		return detector.NewExternalDetector(detector.ExternalConfig{
			Command:    cfg.External.Command,
			Args:       cfg.External.Args,
			Confidence: cfg.External.Confidence,
		})
	default:
		return nil, fmt.Errorf("unknown detector type %q", cfg.Type)
	}
}

// Run starts all components and blocks in the control loop until the
// context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancelRun = cancel
	s.mu.Unlock()

	slog.Info("service starting", "instance_id", s.cfg.InstanceID)

	if err := s.det.Start(ctx); err != nil {
		return fmt.Errorf("failed to start detector: %w", err)
	}

	if s.mqtt != nil {
		if err := s.mqtt.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect mqtt: %w", err)
		}

		s.controlHandler = control.NewHandler(s.cfg.MQTT, s.mqtt.Client, control.CommandCallbacks{
			OnGetStatus:       s.statusMap,
			OnGetZones:        s.Zones,
			OnAddZone:         s.AddZone,
			OnUpdateZone:      s.UpdateZone,
			OnRemoveZone:      s.RemoveZone,
			OnSetRelay:        s.SetRelay,
			OnEmergencyStop:   s.EmergencyStop,
			OnResetStatistics: s.ResetStatistics,
			OnPause:           s.pauseDetection,
			OnResume:          s.resumeDetection,
			OnShutdown:        s.shutdownViaControl,
		})
		if err := s.controlHandler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runHealthReporter(ctx)
		}()
	}

	s.startHTTPServer()

	if s.dog != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.dog.Run(ctx)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.frameBus.RunStatsLogger(ctx, 10*time.Second)
	}()

	slog.Info("service running",
		"api_port", s.cfg.API.Port,
		"watchdog_enabled", s.dog != nil,
		"mqtt_enabled", s.mqtt != nil,
	)

	s.controlLoop(ctx)

	slog.Info("service run loop exiting")
	return nil
}

// controlLoop owns the camera session: connect, consume frames, reconnect
// on failure, forever until cancelled.
func (s *Service) controlLoop(ctx context.Context) {
	url := s.cfg.Camera.StreamURL()
	reconnectDelay := time.Duration(s.cfg.Stream.ReconnectDelayS) * time.Second

	for ctx.Err() == nil {
		session, err := s.streamClient.Connect(ctx, url)
		if err != nil {
			s.instruments.StreamReconnects.Inc()
			slog.Error("camera connect failed, retrying",
				"url", url,
				"error", err,
				"retry_in", reconnectDelay,
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		slog.Info("camera connected", "url", url, "multipart", session.Multipart())
		s.setSession(session)
		s.instruments.StreamConnected.Set(1)
		if s.dog != nil {
			s.dog.Arm()
		}

		s.consumeSession(ctx, session)

		session.Disconnect()
		s.setSession(nil)
		s.instruments.StreamConnected.Set(0)
		if s.dog != nil {
			s.dog.Disarm()
		}

		if ctx.Err() == nil {
			s.instruments.StreamReconnects.Inc()
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
		}
	}
}

// consumeSession pulls frames until the session fails or the context ends.
func (s *Service) consumeSession(ctx context.Context, session *stream.Session) {
	for ctx.Err() == nil {
		frame, err := session.NextFrame()
		if err != nil {
			switch {
			case errors.Is(err, stream.ErrFrameTooLarge):
				// Session stays usable, parsing resumes at the next boundary.
				slog.Warn("oversized frame discarded", "error", err)
				continue
			case errors.Is(err, stream.ErrTimeout):
				slog.Warn("camera stalled", "error", err)
				return
			default:
				slog.Warn("camera stream lost", "error", err)
				return
			}
		}

		frame.Width = s.cfg.Stream.FrameWidth
		frame.Height = s.cfg.Stream.FrameHeight

		s.handleFrame(ctx, frame)
	}
}

// handleFrame runs the per-frame pipeline: bookkeeping, fan-out, detect,
// engine update.
func (s *Service) handleFrame(ctx context.Context, frame types.Frame) {
	s.framesProcessed.Add(1)
	s.instruments.FramesTotal.Inc()
	if s.dog != nil {
		s.dog.FrameParsed()
	}
	s.frameBus.Publish(frame)

	if session := s.currentSession(); session != nil {
		s.instruments.FPS.Set(session.Stats().FPS)
	}

	if s.paused() {
		return
	}

	start := time.Now()
	detections, err := s.det.Detect(ctx, frame)
	s.instruments.DetectionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Error("detection failed",
			"frame_seq", frame.Seq,
			"trace_id", frame.TraceID,
			"error", err,
		)
		return
	}
	if len(detections) > 0 {
		s.instruments.DetectionsTotal.Add(float64(len(detections)))
	}

	if err := s.eng.Update(detections, frame.Width, frame.Height); err != nil {
		slog.Error("engine update failed", "frame_seq", frame.Seq, "error", err)
		return
	}

	active := 0
	for _, z := range s.eng.Zones() {
		if z.Active {
			active++
		}
	}
	s.instruments.ActiveZones.Set(float64(active))
}

// onWatchdogTrip is the safety action: all relays off, camera session
// dropped so the control loop reconnects from scratch.
func (s *Service) onWatchdogTrip() {
	s.instruments.WatchdogTrips.Inc()
	s.eng.DisableAllRelays()
	if session := s.currentSession(); session != nil {
		session.Disconnect()
	}
	s.publishEvent(emitter.WatchdogEvent{
		InstanceID: s.cfg.InstanceID,
		Reason:     "frame_staleness",
		At:         time.Now().UTC(),
	})
}

// onEngineEvent translates engine transitions into MQTT events and metrics.
// Runs outside the engine lock.
func (s *Service) onEngineEvent(ev engine.Event) {
	switch ev.Kind {
	case engine.EventZoneActivated, engine.EventZoneDeactivated:
		s.publishEvent(emitter.ZoneEvent{
			InstanceID: s.cfg.InstanceID,
			ZoneID:     ev.ZoneID,
			ZoneName:   ev.ZoneName,
			Active:     ev.Kind == engine.EventZoneActivated,
			At:         ev.At,
		})
	case engine.EventRelayChanged:
		direction := "off"
		if ev.On {
			direction = "on"
		}
		s.instruments.RelaySwitches.WithLabelValues(direction).Inc()
		s.publishEvent(emitter.RelayEvent{
			InstanceID: s.cfg.InstanceID,
			Pin:        ev.Pin,
			On:         ev.On,
			At:         ev.At,
		})
	case engine.EventEmergencyStop:
		s.instruments.EmergencyStops.Inc()
		s.publishEvent(emitter.WatchdogEvent{
			InstanceID: s.cfg.InstanceID,
			Reason:     "emergency_stop",
			At:         ev.At,
		})
	}
}

func (s *Service) publishEvent(ev emitter.Event) {
	if s.mqtt == nil {
		return
	}
	if err := s.mqtt.Publish(ev); err != nil {
		slog.Debug("event publish failed", "type", ev.Type(), "error", err)
	}
}

// startHTTPServer serves the API in the background.
func (s *Service) startHTTPServer() {
	server := api.NewServer(s, s.instruments.Handler())
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.API.Port),
		Handler:      server.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // streaming endpoints
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("http api listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http api server failed", "error", err)
		}
	}()
}

// Shutdown stops components in dependency order.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	slog.Info("shutting down service")

	// Stop the camera session first: no frames, no actuation changes.
	if session := s.currentSession(); session != nil {
		session.Disconnect()
	}

	if err := s.det.Stop(); err != nil {
		slog.Error("failed to stop detector", "error", err)
	}

	if s.controlHandler != nil {
		if err := s.controlHandler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			slog.Error("failed to stop http server", "error", err)
		}
	}

	slog.Info("waiting for goroutines to finish")
	s.wg.Wait()

	// Leave the outputs in a safe state before dropping the broker link.
	s.eng.DisableAllRelays()

	if s.mqtt != nil {
		if err := s.mqtt.Disconnect(); err != nil {
			slog.Error("failed to disconnect mqtt", "error", err)
		}
	}

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.isRunning = false
	s.mu.Unlock()

	slog.Info("service shutdown complete", "uptime", uptime)
	return nil
}

// ShutdownTimeout returns the configured graceful shutdown budget.
func (s *Service) ShutdownTimeout() time.Duration {
	return time.Duration(s.cfg.ShutdownTimeoutS) * time.Second
}

func (s *Service) shutdownViaControl() error {
	s.mu.RLock()
	cancel := s.cancelRun
	s.mu.RUnlock()
	if cancel == nil {
		return fmt.Errorf("service not running")
	}
	cancel()
	return nil
}

func (s *Service) pauseDetection() error {
	s.mu.Lock()
	s.isPaused = true
	s.mu.Unlock()
	slog.Info("detection paused")
	return nil
}

func (s *Service) resumeDetection() error {
	s.mu.Lock()
	s.isPaused = false
	s.mu.Unlock()
	slog.Info("detection resumed")
	return nil
}

func (s *Service) paused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isPaused
}

func (s *Service) setSession(session *stream.Session) {
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()
}

func (s *Service) currentSession() *stream.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}
