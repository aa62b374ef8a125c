package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
instance_id: switchd-test
camera:
  host: 192.168.1.50
  port: 81
  path: /stream
stream:
  frame_width: 640
  frame_height: 480
detector:
  type: motion
zones:
  - id: 1
    name: desk
    x: 100
    y: 100
    width: 200
    height: 150
    relay_pins: [12]
    timeout_s: 30
relay:
  driver: memory
watchdog:
  enabled: true
mqtt:
  broker: localhost:1883
api:
  port: 9090
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "switchd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "switchd-test", cfg.InstanceID)
	assert.Equal(t, "http://192.168.1.50:81/stream", cfg.Camera.StreamURL())
	assert.Equal(t, 9090, cfg.API.Port)
	require.Len(t, cfg.Zones, 1)
	assert.Equal(t, []int{12}, cfg.Zones[0].RelayPins)
}

func TestLoadFillsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.ShutdownTimeoutS)
	assert.Equal(t, 100, cfg.Stream.BufferSizeKB)
	assert.Equal(t, 5, cfg.Stream.ReadTimeoutS)
	assert.Equal(t, 50, cfg.Stream.MaxReadsPerFrame)
	assert.Equal(t, 60, cfg.Watchdog.TimeoutS)
	assert.Equal(t, "switchd/control/switchd-test", cfg.MQTT.Topics.Control)
	assert.Equal(t, "switchd/events/switchd-test", cfg.MQTT.Topics.Events)
	assert.Equal(t, byte(1), cfg.MQTT.QoS["zone_event"])
}

func TestExplicitURLWins(t *testing.T) {
	cfg := &Config{
		InstanceID: "x",
		Camera:     CameraConfig{URL: "http://cam.local/video", Host: "ignored"},
		Stream:     StreamConfig{FrameWidth: 640, FrameHeight: 480},
	}
	require.NoError(t, Validate(cfg))
	assert.Equal(t, "http://cam.local/video", cfg.Camera.StreamURL())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SWITCHD_CAMERA_URL", "http://other-cam/stream")
	t.Setenv("SWITCHD_API_PORT", "7070")

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "http://other-cam/stream", cfg.Camera.StreamURL())
	assert.Equal(t, 7070, cfg.API.Port)
}

func TestValidationFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"missing instance id", func(c *Config) { c.InstanceID = "" }, "instance_id"},
		{"bad instance id", func(c *Config) { c.InstanceID = "Has Spaces" }, "instance_id"},
		{"no camera", func(c *Config) { c.Camera = CameraConfig{} }, "camera"},
		{"no frame size", func(c *Config) { c.Stream.FrameWidth = 0 }, "frame_width"},
		{"bad detector type", func(c *Config) { c.Detector.Type = "tea-leaves" }, "detector.type"},
		{"external without command", func(c *Config) { c.Detector.Type = "external" }, "command"},
		{"bad relay driver", func(c *Config) { c.Relay.Driver = "telepathy" }, "relay.driver"},
		{"duplicate zone id", func(c *Config) {
			c.Zones = append(c.Zones, c.Zones[0])
		}, "duplicate"},
		{"zone without relays", func(c *Config) { c.Zones[0].RelayPins = nil }, "relay pin"},
		{"zone without timeout", func(c *Config) { c.Zones[0].TimeoutS = 0 }, "timeout_s"},
		{"empty zone rect", func(c *Config) { c.Zones[0].Width = 0 }, "width"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{
				InstanceID: "switchd-test",
				Camera:     CameraConfig{Host: "cam"},
				Stream:     StreamConfig{FrameWidth: 640, FrameHeight: 480},
				Zones: []ZoneConfig{{
					ID: 1, Width: 10, Height: 10, RelayPins: []int{1}, TimeoutS: 5,
				}},
			}
			tc.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "instance_id: [unclosed"))
	require.Error(t, err)
}
