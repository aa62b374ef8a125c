package detector

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/types"
)

const (
	// DefaultSampleStride compares every Nth byte of the JPEG payload.
	// Sampling compressed bytes is crude but cheap, and frame-to-frame JPEG
	// output changes broadly when the scene changes.
	DefaultSampleStride = 50

	// DefaultByteThreshold is the per-byte absolute difference above which a
	// sampled byte counts as changed.
	DefaultByteThreshold = 30

	// DefaultSensitivity is the changed-byte fraction above which the frame
	// counts as motion.
	DefaultSensitivity = 0.3
)

// MotionConfig tunes the frame-differencing detector.
type MotionConfig struct {
	SampleStride  int
	ByteThreshold int
	Sensitivity   float64
}

// MotionDetector detects motion by comparing consecutive JPEG payloads
// without decoding them. On motion it reports a single detection covering
// the center half of the frame; it cannot localize motion more precisely.
type MotionDetector struct {
	stride      int
	threshold   int
	sensitivity float64

	mu   sync.Mutex
	prev []byte
}

// NewMotionDetector creates a motion detector. Zero config fields take the
// package defaults.
func NewMotionDetector(cfg MotionConfig) *MotionDetector {
	if cfg.SampleStride <= 0 {
		cfg.SampleStride = DefaultSampleStride
	}
	if cfg.ByteThreshold <= 0 {
		cfg.ByteThreshold = DefaultByteThreshold
	}
	if cfg.Sensitivity <= 0 {
		cfg.Sensitivity = DefaultSensitivity
	}
	return &MotionDetector{
		stride:      cfg.SampleStride,
		threshold:   cfg.ByteThreshold,
		sensitivity: cfg.Sensitivity,
	}
}

// Start implements Detector.
func (d *MotionDetector) Start(ctx context.Context) error {
	slog.Info("motion detector started",
		"sample_stride", d.stride,
		"byte_threshold", d.threshold,
		"sensitivity", d.sensitivity,
	)
	return nil
}

// Detect implements Detector. The first frame only seeds the comparison
// baseline and never reports motion.
func (d *MotionDetector) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	if len(frame.Data) == 0 {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.prev == nil {
		d.prev = append([]byte(nil), frame.Data...)
		return nil, nil
	}

	difference := d.frameDifference(frame.Data, d.prev)
	d.prev = append(d.prev[:0], frame.Data...)

	if difference <= d.sensitivity {
		return nil, nil
	}

	slog.Debug("motion detected", "intensity", difference, "frame_seq", frame.Seq)
	confidence := difference
	if confidence > 1 {
		confidence = 1
	}
	return []types.Detection{{
		BBox:       types.NormalizedRect{X: 0.25, Y: 0.25, Width: 0.5, Height: 0.5},
		Confidence: confidence,
	}}, nil
}

// frameDifference returns the fraction of sampled bytes that differ by more
// than the threshold, over the shorter of the two payloads.
func (d *MotionDetector) frameDifference(a, b []byte) float64 {
	size := len(a)
	if len(b) < size {
		size = len(b)
	}
	if size == 0 {
		return 0
	}

	diffCount := 0
	totalSamples := 0
	for i := 0; i < size; i += d.stride {
		diff := int(a[i]) - int(b[i])
		if diff < 0 {
			diff = -diff
		}
		if diff > d.threshold {
			diffCount++
		}
		totalSamples++
	}
	return float64(diffCount) / float64(totalSamples)
}

// Reset drops the comparison baseline, typically after a reconnect so the
// first frame of the new session does not register as motion.
func (d *MotionDetector) Reset() {
	d.mu.Lock()
	d.prev = nil
	d.mu.Unlock()
}

// Stop implements Detector.
func (d *MotionDetector) Stop() error {
	d.Reset()
	return nil
}
