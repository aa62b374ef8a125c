// Package config loads and validates the daemon configuration from YAML,
// with environment variable overrides applied on top of the file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration.
type Config struct {
	InstanceID       string         `yaml:"instance_id" env:"SWITCHD_INSTANCE_ID"`
	ShutdownTimeoutS int            `yaml:"shutdown_timeout_s" env:"SWITCHD_SHUTDOWN_TIMEOUT_S"`
	Camera           CameraConfig   `yaml:"camera"`
	Stream           StreamConfig   `yaml:"stream"`
	Detector         DetectorConfig `yaml:"detector"`
	Zones            []ZoneConfig   `yaml:"zones"`
	Relay            RelayConfig    `yaml:"relay"`
	Watchdog         WatchdogConfig `yaml:"watchdog"`
	MQTT             MQTTConfig     `yaml:"mqtt"`
	API              APIConfig      `yaml:"api"`
}

// CameraConfig locates the MJPEG source. URL wins when set; otherwise the
// URL is assembled from host, port and path.
type CameraConfig struct {
	URL  string `yaml:"url" env:"SWITCHD_CAMERA_URL"`
	Host string `yaml:"host" env:"SWITCHD_CAMERA_HOST"`
	Port int    `yaml:"port" env:"SWITCHD_CAMERA_PORT"`
	Path string `yaml:"path" env:"SWITCHD_CAMERA_PATH"`
}

// StreamURL returns the effective camera URL.
func (c CameraConfig) StreamURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("http://%s:%d%s", c.Host, c.Port, c.Path)
}

// StreamConfig tunes the MJPEG client.
type StreamConfig struct {
	BufferSizeKB     int `yaml:"buffer_size_kb" env:"SWITCHD_STREAM_BUFFER_KB"`
	ReadTimeoutS     int `yaml:"read_timeout_s" env:"SWITCHD_STREAM_READ_TIMEOUT_S"`
	MaxReadsPerFrame int `yaml:"max_reads_per_frame"`
	// FrameWidth and FrameHeight describe the camera resolution; zones are
	// defined in this pixel space.
	FrameWidth  int `yaml:"frame_width"`
	FrameHeight int `yaml:"frame_height"`
	// ReconnectDelayS is the pause between reconnect attempts.
	ReconnectDelayS int `yaml:"reconnect_delay_s"`
}

// DetectorConfig selects and tunes the detector.
type DetectorConfig struct {
	// Type is "motion" or "external".
	Type string `yaml:"type" env:"SWITCHD_DETECTOR_TYPE"`

	Motion   MotionConfig   `yaml:"motion"`
	External ExternalConfig `yaml:"external"`
}

// MotionConfig tunes the frame-differencing detector.
type MotionConfig struct {
	SampleStride  int     `yaml:"sample_stride"`
	ByteThreshold int     `yaml:"byte_threshold"`
	Sensitivity   float64 `yaml:"sensitivity"`
}

// ExternalConfig configures the subprocess detector.
type ExternalConfig struct {
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	Confidence float64  `yaml:"confidence"`
}

// ZoneConfig defines one detection zone.
type ZoneConfig struct {
	ID        int    `yaml:"id"`
	Name      string `yaml:"name"`
	X         int    `yaml:"x"`
	Y         int    `yaml:"y"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	RelayPins []int  `yaml:"relay_pins"`
	TimeoutS  int    `yaml:"timeout_s"`
}

// Timeout returns the zone timeout as a duration.
func (z ZoneConfig) Timeout() time.Duration {
	return time.Duration(z.TimeoutS) * time.Second
}

// RelayConfig selects the relay driver.
type RelayConfig struct {
	// Driver is "sysfs" or "memory".
	Driver     string `yaml:"driver" env:"SWITCHD_RELAY_DRIVER"`
	ActiveHigh bool   `yaml:"active_high"`
}

// WatchdogConfig tunes the frame-staleness supervisor.
type WatchdogConfig struct {
	Enabled  bool `yaml:"enabled"`
	TimeoutS int  `yaml:"timeout_s" env:"SWITCHD_WATCHDOG_TIMEOUT_S"`
}

// MQTTConfig contains broker settings.
type MQTTConfig struct {
	Broker string          `yaml:"broker" env:"SWITCHD_MQTT_BROKER"`
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic names.
type MQTTTopics struct {
	Control string `yaml:"control"`
	Events  string `yaml:"events"`
	Health  string `yaml:"health"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	Port int `yaml:"port" env:"SWITCHD_API_PORT"`
}

// Load reads a YAML configuration file, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
