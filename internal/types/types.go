package types

import "time"

// Frame represents a single encoded image extracted from the camera stream.
type Frame struct {
	// Seq is the monotonic sequence number assigned by the demultiplexer
	Seq uint64
	// Timestamp is when the frame was parsed out of the stream
	Timestamp time.Time
	// Width in pixels (native stream resolution)
	Width int
	// Height in pixels
	Height int
	// Data contains the encoded frame bytes (JPEG)
	Data []byte
	// TraceID is a unique identifier for tracing a frame through the pipeline
	TraceID string
}

// NormalizedRect represents a rectangle with normalized coordinates (0.0 - 1.0).
// Detections use normalized coordinates so they are resolution-agnostic.
type NormalizedRect struct {
	X      float64 `json:"x"`      // Top-left X (0.0 = left edge, 1.0 = right edge)
	Y      float64 `json:"y"`      // Top-left Y (0.0 = top edge, 1.0 = bottom edge)
	Width  float64 `json:"width"`  // Width as fraction of frame width
	Height float64 `json:"height"` // Height as fraction of frame height
}

// ToPixels converts normalized coordinates to pixel coordinates for a given frame size.
func (r NormalizedRect) ToPixels(frameWidth, frameHeight int) PixelRect {
	return PixelRect{
		X:      int(r.X * float64(frameWidth)),
		Y:      int(r.Y * float64(frameHeight)),
		Width:  int(r.Width * float64(frameWidth)),
		Height: int(r.Height * float64(frameHeight)),
	}
}

// PixelRect represents a rectangle in pixel coordinates.
type PixelRect struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Area returns the pixel area of the rectangle.
func (r PixelRect) Area() int {
	return r.Width * r.Height
}

// Clamp ensures the rectangle is within the given frame dimensions.
func (r *PixelRect) Clamp(frameWidth, frameHeight int) {
	if r.X < 0 {
		r.X = 0
	}
	if r.Y < 0 {
		r.Y = 0
	}
	if r.X+r.Width > frameWidth {
		r.Width = frameWidth - r.X
	}
	if r.Y+r.Height > frameHeight {
		r.Height = frameHeight - r.Y
	}
}

// Intersects reports whether two rectangles share a non-zero area.
// Edges merely touching do not count (strict inequality on all four sides).
func (r PixelRect) Intersects(o PixelRect) bool {
	return r.X < o.X+o.Width &&
		r.X+r.Width > o.X &&
		r.Y < o.Y+o.Height &&
		r.Y+r.Height > o.Y
}

// Detection represents a single presence detection in a frame.
type Detection struct {
	// BBox is the bounding box in normalized coordinates [0.0, 1.0]
	BBox NormalizedRect `json:"bbox"`
	// Confidence is the detection confidence score [0.0, 1.0]
	Confidence float64 `json:"confidence"`
	// ClassID is the detected class (0 = person for single-class models)
	ClassID int `json:"class_id"`
}

// StreamState describes the connection state of a stream session.
type StreamState int

const (
	StreamDisconnected StreamState = iota
	StreamConnecting
	StreamConnected
	StreamStalled
)

// String returns the lowercase state name used in logs and status payloads.
func (s StreamState) String() string {
	switch s {
	case StreamConnecting:
		return "connecting"
	case StreamConnected:
		return "connected"
	case StreamStalled:
		return "stalled"
	default:
		return "disconnected"
	}
}

// StreamStats contains stream session statistics.
type StreamStats struct {
	FrameCount  uint64      `json:"frame_count"`
	FPS         float64     `json:"fps"`
	BytesRead   uint64      `json:"bytes_read"`
	Reconnects  uint32      `json:"reconnects"`
	State       StreamState `json:"-"`
	StateName   string      `json:"state"`
	LastFrameAt time.Time   `json:"last_frame_at"`
}
