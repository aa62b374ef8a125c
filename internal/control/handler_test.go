package control

import (
	"errors"
	"testing"
	"time"

	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/config"
	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/engine"
)

func zoneParams() map[string]interface{} {
	return map[string]interface{}{
		"id":         float64(3),
		"name":       "workbench",
		"x":          float64(100),
		"y":          float64(50),
		"width":      float64(200),
		"height":     float64(150),
		"relay_pins": []interface{}{float64(12), float64(13)},
		"timeout_s":  float64(30),
	}
}

func TestExecuteAddZone(t *testing.T) {
	var got engine.Zone
	h := NewHandler(cfgForTest(), nil, CommandCallbacks{
		OnAddZone: func(z engine.Zone) error {
			got = z
			return nil
		},
	})

	resp := h.execute(Command{Command: "add_zone", Params: zoneParams()})
	if resp.Status != "success" {
		t.Fatalf("status = %q (%s), want success", resp.Status, resp.Error)
	}
	if got.ID != 3 || got.Name != "workbench" {
		t.Errorf("zone = %+v, want id 3 name workbench", got)
	}
	if got.Rect.X != 100 || got.Rect.Width != 200 {
		t.Errorf("rect = %+v", got.Rect)
	}
	if len(got.RelayPins) != 2 || got.RelayPins[0] != 12 {
		t.Errorf("relay pins = %v, want [12 13]", got.RelayPins)
	}
	if got.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", got.Timeout)
	}
}

func TestExecuteAddZoneMissingField(t *testing.T) {
	h := NewHandler(cfgForTest(), nil, CommandCallbacks{
		OnAddZone: func(engine.Zone) error { return nil },
	})

	params := zoneParams()
	delete(params, "relay_pins")
	resp := h.execute(Command{Command: "add_zone", Params: params})
	if resp.Status != "error" {
		t.Errorf("status = %q, want error for missing relay_pins", resp.Status)
	}
}

func TestExecutePropagatesEngineErrors(t *testing.T) {
	h := NewHandler(cfgForTest(), nil, CommandCallbacks{
		OnRemoveZone: func(int) error {
			return errors.New("unknown zone: id 9")
		},
	})

	resp := h.execute(Command{
		Command: "remove_zone",
		Params:  map[string]interface{}{"zone_id": float64(9)},
	})
	if resp.Status != "error" || resp.Error == "" {
		t.Errorf("resp = %+v, want propagated error", resp)
	}
	if resp.CommandAck != "remove_zone" {
		t.Errorf("CommandAck = %q", resp.CommandAck)
	}
}

func TestExecuteSetRelay(t *testing.T) {
	var pin int
	var on bool
	h := NewHandler(cfgForTest(), nil, CommandCallbacks{
		OnSetRelay: func(p int, o bool) error {
			pin, on = p, o
			return nil
		},
	})

	resp := h.execute(Command{
		Command: "set_relay",
		Params:  map[string]interface{}{"pin": float64(13), "on": true},
	})
	if resp.Status != "success" {
		t.Fatalf("status = %q (%s)", resp.Status, resp.Error)
	}
	if pin != 13 || !on {
		t.Errorf("callback got pin=%d on=%v", pin, on)
	}
}

func TestExecuteEmergencyStop(t *testing.T) {
	stopped := false
	h := NewHandler(cfgForTest(), nil, CommandCallbacks{
		OnEmergencyStop: func() { stopped = true },
	})

	resp := h.execute(Command{Command: "emergency_stop"})
	if resp.Status != "success" || !stopped {
		t.Errorf("resp = %+v, stopped = %v", resp, stopped)
	}
}

func TestExecutePauseResumeTracksState(t *testing.T) {
	h := NewHandler(cfgForTest(), nil, CommandCallbacks{
		OnPause:  func() error { return nil },
		OnResume: func() error { return nil },
	})

	if h.IsPaused() {
		t.Fatal("handler starts paused")
	}
	h.execute(Command{Command: "pause_detection"})
	if !h.IsPaused() {
		t.Fatal("pause_detection did not mark handler paused")
	}
	h.execute(Command{Command: "resume_detection"})
	if h.IsPaused() {
		t.Fatal("resume_detection did not clear paused state")
	}
}

func TestExecuteUnknownCommand(t *testing.T) {
	h := NewHandler(cfgForTest(), nil, CommandCallbacks{})
	resp := h.execute(Command{Command: "make_coffee"})
	if resp.Status != "error" {
		t.Errorf("status = %q, want error", resp.Status)
	}
}

func TestExecuteUnimplementedCallback(t *testing.T) {
	h := NewHandler(cfgForTest(), nil, CommandCallbacks{})
	resp := h.execute(Command{Command: "get_status"})
	if resp.Status != "error" {
		t.Errorf("status = %q, want error for missing callback", resp.Status)
	}
}

// testMessage satisfies the paho Message interface for handler tests.
type testMessage struct{ payload []byte }

func (m testMessage) Duplicate() bool   { return false }
func (m testMessage) Qos() byte         { return 0 }
func (m testMessage) Retained() bool    { return false }
func (m testMessage) Topic() string     { return "switchd/control/test" }
func (m testMessage) MessageID() uint16 { return 0 }
func (m testMessage) Payload() []byte   { return m.payload }
func (m testMessage) Ack()              {}

// TestMessageAfterStopIsDropped verifies that a broker callback landing after
// Stop neither panics nor enqueues work, and that Stop stays idempotent.
func TestMessageAfterStopIsDropped(t *testing.T) {
	h := NewHandler(cfgForTest(), nil, CommandCallbacks{})
	if err := h.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	h.messageHandler(nil, testMessage{payload: []byte(`{"command":"get_status"}`)})

	select {
	case cmd := <-h.commands:
		t.Errorf("command %q enqueued after Stop", cmd.Command)
	default:
	}

	if err := h.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}

func cfgForTest() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: "localhost:1883",
		Topics: config.MQTTTopics{
			Control: "switchd/control/test",
			Events:  "switchd/events/test",
			Health:  "switchd/health/test",
		},
		QoS: map[string]byte{"control": 1, "health": 0},
	}
}
