// Package control implements the MQTT control plane: remote commands for
// zone management, relay overrides and lifecycle, acknowledged on the
// health topic.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/config"
	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/engine"
)

// Command is one control plane message.
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response acknowledges a command.
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// CommandCallbacks wires commands to the service.
type CommandCallbacks struct {
	OnGetStatus       func() map[string]interface{}
	OnGetZones        func() []engine.Zone
	OnAddZone         func(engine.Zone) error
	OnUpdateZone      func(id int, z engine.Zone) error
	OnRemoveZone      func(id int) error
	OnSetRelay        func(pin int, on bool) error
	OnEmergencyStop   func()
	OnResetStatistics func()
	OnPause           func() error
	OnResume          func() error
	OnShutdown        func() error
}

// Handler subscribes to the control topic and dispatches commands.
type Handler struct {
	cfg       config.MQTTConfig
	client    mqtt.Client
	commands  chan Command
	callbacks CommandCallbacks
	done      chan struct{}
	stopOnce  sync.Once

	mu       sync.RWMutex
	isPaused bool
}

// NewHandler creates a control plane handler.
func NewHandler(cfg config.MQTTConfig, client mqtt.Client, callbacks CommandCallbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
		done:      make(chan struct{}),
	}
}

// Start subscribes to the control topic and begins processing commands.
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.Topics.Control
	qos := h.cfg.QoS["control"]

	slog.Info("subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control plane handler started")

	go h.processCommands(ctx)
	return nil
}

// Stop unsubscribes and stops command processing. The commands channel is
// never closed: a broker callback still in flight after Unsubscribe returns
// may attempt one last enqueue.
func (h *Handler) Stop() error {
	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.cfg.Topics.Control)
		token.Wait()
	}

	h.stopOnce.Do(func() { close(h.done) })

	slog.Info("control plane handler stopped")
	return nil
}

func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	select {
	case <-h.done:
		slog.Debug("handler stopped, dropping command", "command", cmd.Command)
		return
	default:
	}

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case cmd := <-h.commands:
			h.handleCommand(cmd)
		}
	}
}

func (h *Handler) handleCommand(cmd Command) {
	if cmd.Command == "shutdown" {
		h.handleShutdown(cmd)
		return
	}
	h.sendResponse(h.execute(cmd))
}

// execute runs one command and builds its acknowledgement.
func (h *Handler) execute(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command, Status: "success"}

	fail := func(err error) Response {
		resp.Status = "error"
		resp.Error = err.Error()
		return resp
	}

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			return fail(fmt.Errorf("get_status not implemented"))
		}
		resp.Data = h.callbacks.OnGetStatus()

	case "get_zones":
		if h.callbacks.OnGetZones == nil {
			return fail(fmt.Errorf("get_zones not implemented"))
		}
		zones := h.callbacks.OnGetZones()
		resp.Data = map[string]interface{}{
			"zones": zones,
			"count": len(zones),
		}

	case "add_zone":
		if h.callbacks.OnAddZone == nil {
			return fail(fmt.Errorf("add_zone not implemented"))
		}
		zone, err := zoneFromParams(cmd.Params)
		if err != nil {
			return fail(err)
		}
		if err := h.callbacks.OnAddZone(zone); err != nil {
			return fail(err)
		}
		resp.Data = map[string]interface{}{"zone_id": zone.ID}

	case "update_zone":
		if h.callbacks.OnUpdateZone == nil {
			return fail(fmt.Errorf("update_zone not implemented"))
		}
		zone, err := zoneFromParams(cmd.Params)
		if err != nil {
			return fail(err)
		}
		if err := h.callbacks.OnUpdateZone(zone.ID, zone); err != nil {
			return fail(err)
		}
		resp.Data = map[string]interface{}{"zone_id": zone.ID}

	case "remove_zone":
		if h.callbacks.OnRemoveZone == nil {
			return fail(fmt.Errorf("remove_zone not implemented"))
		}
		id, ok := intParam(cmd.Params, "zone_id")
		if !ok {
			return fail(fmt.Errorf("missing or invalid 'zone_id' parameter"))
		}
		if err := h.callbacks.OnRemoveZone(id); err != nil {
			return fail(err)
		}
		resp.Data = map[string]interface{}{"zone_id": id}

	case "set_relay":
		if h.callbacks.OnSetRelay == nil {
			return fail(fmt.Errorf("set_relay not implemented"))
		}
		pin, ok := intParam(cmd.Params, "pin")
		if !ok {
			return fail(fmt.Errorf("missing or invalid 'pin' parameter"))
		}
		on, ok := cmd.Params["on"].(bool)
		if !ok {
			return fail(fmt.Errorf("missing or invalid 'on' parameter (expected bool)"))
		}
		if err := h.callbacks.OnSetRelay(pin, on); err != nil {
			return fail(err)
		}
		resp.Data = map[string]interface{}{"pin": pin, "on": on}

	case "emergency_stop":
		if h.callbacks.OnEmergencyStop == nil {
			return fail(fmt.Errorf("emergency_stop not implemented"))
		}
		h.callbacks.OnEmergencyStop()
		resp.Data = map[string]interface{}{"all_relays_off": true}

	case "reset_statistics":
		if h.callbacks.OnResetStatistics == nil {
			return fail(fmt.Errorf("reset_statistics not implemented"))
		}
		h.callbacks.OnResetStatistics()

	case "pause_detection":
		if h.callbacks.OnPause == nil {
			return fail(fmt.Errorf("pause_detection not implemented"))
		}
		if err := h.callbacks.OnPause(); err != nil {
			return fail(err)
		}
		h.mu.Lock()
		h.isPaused = true
		h.mu.Unlock()
		resp.Data = map[string]interface{}{"detection_active": false}

	case "resume_detection":
		if h.callbacks.OnResume == nil {
			return fail(fmt.Errorf("resume_detection not implemented"))
		}
		if err := h.callbacks.OnResume(); err != nil {
			return fail(err)
		}
		h.mu.Lock()
		h.isPaused = false
		h.mu.Unlock()
		resp.Data = map[string]interface{}{"detection_active": true}

	default:
		return fail(fmt.Errorf("unknown command: %s", cmd.Command))
	}

	return resp
}

// handleShutdown acknowledges before triggering shutdown, otherwise the ack
// races the MQTT disconnect.
func (h *Handler) handleShutdown(cmd Command) {
	if h.callbacks.OnShutdown == nil {
		h.sendResponse(Response{
			CommandAck: cmd.Command,
			Status:     "error",
			Error:      "shutdown not implemented",
		})
		return
	}

	slog.Warn("shutdown command received via control plane")
	h.sendResponse(Response{
		CommandAck: cmd.Command,
		Status:     "success",
		Data:       map[string]interface{}{"shutdown_initiated": true},
	})

	go func() {
		time.Sleep(500 * time.Millisecond)
		if err := h.callbacks.OnShutdown(); err != nil {
			slog.Error("shutdown callback failed", "error", err)
		}
	}()
}

// zoneFromParams builds a zone from a decoded JSON params object. JSON
// numbers arrive as float64.
func zoneFromParams(params map[string]interface{}) (engine.Zone, error) {
	var z engine.Zone

	id, ok := intParam(params, "id")
	if !ok {
		return z, fmt.Errorf("missing or invalid 'id' parameter")
	}
	z.ID = id
	z.Name, _ = params["name"].(string)

	for _, field := range []struct {
		key string
		dst *int
	}{
		{"x", &z.Rect.X}, {"y", &z.Rect.Y},
		{"width", &z.Rect.Width}, {"height", &z.Rect.Height},
	} {
		v, ok := intParam(params, field.key)
		if !ok {
			return z, fmt.Errorf("missing or invalid '%s' parameter", field.key)
		}
		*field.dst = v
	}

	pinsRaw, ok := params["relay_pins"].([]interface{})
	if !ok {
		return z, fmt.Errorf("missing or invalid 'relay_pins' parameter (expected array)")
	}
	for i, raw := range pinsRaw {
		pin, ok := raw.(float64)
		if !ok {
			return z, fmt.Errorf("relay_pins[%d] is not a number", i)
		}
		z.RelayPins = append(z.RelayPins, int(pin))
	}

	timeoutS, ok := intParam(params, "timeout_s")
	if !ok {
		return z, fmt.Errorf("missing or invalid 'timeout_s' parameter")
	}
	z.Timeout = time.Duration(timeoutS) * time.Second

	return z, nil
}

func intParam(params map[string]interface{}, key string) (int, bool) {
	v, ok := params[key].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	token := h.client.Publish(h.cfg.Topics.Health, h.cfg.QoS["health"], false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

// IsPaused reports whether detection is paused.
func (h *Handler) IsPaused() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.isPaused
}
