package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills defaults in place.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if cfg.Camera.URL == "" {
		if cfg.Camera.Host == "" {
			return fmt.Errorf("camera.url or camera.host is required")
		}
		if cfg.Camera.Port <= 0 {
			cfg.Camera.Port = 80
		}
		if cfg.Camera.Path == "" {
			cfg.Camera.Path = "/stream"
		}
	}

	if cfg.Stream.BufferSizeKB <= 0 {
		cfg.Stream.BufferSizeKB = 100
	}
	if cfg.Stream.ReadTimeoutS <= 0 {
		cfg.Stream.ReadTimeoutS = 5
	}
	if cfg.Stream.MaxReadsPerFrame <= 0 {
		cfg.Stream.MaxReadsPerFrame = 50
	}
	if cfg.Stream.FrameWidth <= 0 || cfg.Stream.FrameHeight <= 0 {
		return fmt.Errorf("stream.frame_width and stream.frame_height are required")
	}
	if cfg.Stream.ReconnectDelayS <= 0 {
		cfg.Stream.ReconnectDelayS = 3
	}

	switch cfg.Detector.Type {
	case "":
		cfg.Detector.Type = "motion"
	case "motion":
	case "external":
		if cfg.Detector.External.Command == "" {
			return fmt.Errorf("detector.external.command is required for external detector")
		}
	default:
		return fmt.Errorf("detector.type must be 'motion' or 'external', got %q", cfg.Detector.Type)
	}

	if err := validateZones(cfg.Zones); err != nil {
		return fmt.Errorf("zone validation failed: %w", err)
	}

	switch cfg.Relay.Driver {
	case "":
		cfg.Relay.Driver = "sysfs"
	case "sysfs", "memory":
	default:
		return fmt.Errorf("relay.driver must be 'sysfs' or 'memory', got %q", cfg.Relay.Driver)
	}

	if cfg.Watchdog.TimeoutS <= 0 {
		cfg.Watchdog.TimeoutS = 60
	}

	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.Topics.Control == "" {
			cfg.MQTT.Topics.Control = fmt.Sprintf("switchd/control/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Events == "" {
			cfg.MQTT.Topics.Events = fmt.Sprintf("switchd/events/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Health == "" {
			cfg.MQTT.Topics.Health = fmt.Sprintf("switchd/health/%s", cfg.InstanceID)
		}
		if cfg.MQTT.QoS == nil {
			cfg.MQTT.QoS = map[string]byte{
				"control":        1,
				"zone_event":     1,
				"relay_event":    1,
				"watchdog_event": 1,
				"health":         0,
			}
		}
	}

	if cfg.API.Port <= 0 {
		cfg.API.Port = 8080
	}

	return nil
}

// validateZones checks the static zone list. The engine re-validates on
// insert; checking here surfaces mistakes at startup with file context.
func validateZones(zones []ZoneConfig) error {
	seen := make(map[int]bool, len(zones))
	for _, z := range zones {
		if seen[z.ID] {
			return fmt.Errorf("zone %d: duplicate id", z.ID)
		}
		seen[z.ID] = true

		if z.Width <= 0 || z.Height <= 0 {
			return fmt.Errorf("zone %d: width and height must be > 0", z.ID)
		}
		if len(z.RelayPins) == 0 {
			return fmt.Errorf("zone %d: at least one relay pin is required", z.ID)
		}
		if z.TimeoutS <= 0 {
			return fmt.Errorf("zone %d: timeout_s must be > 0", z.ID)
		}
	}
	return nil
}
