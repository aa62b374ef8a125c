// Package framebus fans parsed camera frames out to live-view subscribers.
// The control loop publishes; WebSocket sessions and other observers
// subscribe. Subscribers never apply backpressure to the control loop: a
// slow subscriber drops frames, the publisher never blocks.
package framebus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/types"
)

// DefaultSubscriberDepth is the per-subscriber channel buffer.
const DefaultSubscriberDepth = 2

// Bus distributes frames to subscribers with a drop policy.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscriber
	nextID      uint64

	framesPublished uint64
	framesDropped   uint64
}

type subscriber struct {
	id      uint64
	label   string
	ch      chan types.Frame
	dropped uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subscribers: make(map[uint64]*subscriber)}
}

// Subscribe registers a frame consumer. The label only appears in logs and
// stats. The returned cancel function removes the subscription and closes
// the channel; it is safe to call more than once.
func (b *Bus) Subscribe(label string, depth int) (<-chan types.Frame, func()) {
	if depth <= 0 {
		depth = DefaultSubscriberDepth
	}

	b.mu.Lock()
	b.nextID++
	sub := &subscriber{
		id:    b.nextID,
		label: label,
		ch:    make(chan types.Frame, depth),
	}
	b.subscribers[sub.id] = sub
	total := len(b.subscribers)
	b.mu.Unlock()

	slog.Info("frame subscriber registered", "label", label, "subscribers", total)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, sub.id)
			total := len(b.subscribers)
			b.mu.Unlock()
			close(sub.ch)
			slog.Info("frame subscriber removed", "label", label, "subscribers", total)
		})
	}
	return sub.ch, cancel
}

// Publish delivers a frame to every subscriber. Full subscriber buffers
// drop the frame for that subscriber only.
func (b *Bus) Publish(frame types.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.framesPublished++
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- frame:
		default:
			sub.dropped++
			b.framesDropped++
			slog.Debug("frame dropped for subscriber",
				"label", sub.label,
				"frame_seq", frame.Seq,
				"trace_id", frame.TraceID,
			)
		}
	}
}

// Stats is a snapshot of bus counters.
type Stats struct {
	Subscribers     int               `json:"subscribers"`
	FramesPublished uint64            `json:"frames_published"`
	FramesDropped   uint64            `json:"frames_dropped"`
	DroppedByLabel  map[string]uint64 `json:"dropped_by_label,omitempty"`
}

// Stats returns a snapshot of bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	dropped := make(map[string]uint64)
	for _, sub := range b.subscribers {
		if sub.dropped > 0 {
			dropped[sub.label] += sub.dropped
		}
	}
	return Stats{
		Subscribers:     len(b.subscribers),
		FramesPublished: b.framesPublished,
		FramesDropped:   b.framesDropped,
		DroppedByLabel:  dropped,
	}
}

// RunStatsLogger logs bus throughput every interval and warns when a
// subscriber drops most of its frames.
func (b *Bus) RunStatsLogger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := b.Stats()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := b.Stats()
			deltaPublished := stats.FramesPublished - prev.FramesPublished
			deltaDropped := stats.FramesDropped - prev.FramesDropped

			if deltaPublished > 0 && float64(deltaDropped)/float64(deltaPublished) > 0.8 {
				slog.Warn("high frame drop rate on bus",
					"published_last_interval", deltaPublished,
					"dropped_last_interval", deltaDropped,
					"subscribers", stats.Subscribers,
				)
			}

			slog.Debug("framebus stats",
				"subscribers", stats.Subscribers,
				"published", stats.FramesPublished,
				"dropped", stats.FramesDropped,
			)
			prev = stats
		}
	}
}
