// Package detector produces presence detections from camera frames.
//
// Two implementations exist: a frame-differencing motion detector that runs
// in-process on raw JPEG bytes, and an external worker that delegates
// inference to a subprocess. Both report bounding boxes normalized to [0,1]
// so the zone engine stays independent of frame resolution.
package detector

import (
	"context"

	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/types"
)

// Detector turns one frame into zero or more detections.
type Detector interface {
	// Start prepares the detector. For subprocess-backed detectors this
	// spawns the worker; in-process detectors treat it as a no-op.
	Start(ctx context.Context) error

	// Detect evaluates one frame. Implementations must not block the
	// control loop on slow inference: a detector that cannot keep up
	// returns its most recent completed result instead of waiting.
	Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error)

	// Stop releases detector resources.
	Stop() error
}
