// Package watchdog supervises frame freshness. If the control loop stops
// parsing frames for longer than the configured timeout, the watchdog fires a
// safety callback that must force all relays off and drop the camera session.
package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultTimeout is how long the frame supply may stall before the
	// watchdog trips.
	DefaultTimeout = 60 * time.Second

	// DefaultInterval is how often staleness is checked.
	DefaultInterval = time.Second
)

// Config controls watchdog behavior.
type Config struct {
	// Timeout is the maximum allowed gap between parsed frames.
	Timeout time.Duration

	// Interval is the check period.
	Interval time.Duration

	// OnTrip runs when the timeout elapses. Called outside the watchdog
	// lock, at most once per stall episode.
	OnTrip func()

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Watchdog tracks the timestamp of the last parsed frame and trips when it
// goes stale. After tripping it stays disarmed until the next frame arrives,
// so a dead camera produces one safety action, not one per tick.
type Watchdog struct {
	timeout  time.Duration
	interval time.Duration
	onTrip   func()
	now      func() time.Time

	mu        sync.Mutex
	lastFrame time.Time
	armed     bool
	trips     uint64
}

// New creates a watchdog. It arms on the first FrameParsed call; until then a
// silent camera is the stream layer's problem, not a stall.
func New(cfg Config) *Watchdog {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Watchdog{
		timeout:  cfg.Timeout,
		interval: cfg.Interval,
		onTrip:   cfg.OnTrip,
		now:      cfg.Now,
	}
}

// FrameParsed records a successfully parsed frame and re-arms the watchdog.
func (w *Watchdog) FrameParsed() {
	w.mu.Lock()
	w.lastFrame = w.now()
	w.armed = true
	w.mu.Unlock()
}

// Arm starts the staleness clock without a frame, typically right after a
// successful connect, so a camera that never delivers a first frame still
// trips.
func (w *Watchdog) Arm() {
	w.FrameParsed()
}

// Disarm stops staleness tracking, typically during an intentional
// disconnect or while detection is paused.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	w.armed = false
	w.mu.Unlock()
}

// Run checks staleness every interval until the context ends.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	slog.Info("watchdog running", "timeout", w.timeout, "interval", w.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("watchdog stopped")
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check trips the watchdog when the last frame is older than the timeout.
func (w *Watchdog) check() {
	w.mu.Lock()
	stale := w.armed && w.now().Sub(w.lastFrame) >= w.timeout
	var age time.Duration
	if stale {
		age = w.now().Sub(w.lastFrame)
		w.armed = false
		w.trips++
	}
	w.mu.Unlock()

	if !stale {
		return
	}

	slog.Error("watchdog tripped, forcing safe state",
		"frame_age", age,
		"timeout", w.timeout,
	)
	if w.onTrip != nil {
		w.onTrip()
	}
}

// Trips returns how many times the watchdog has fired.
func (w *Watchdog) Trips() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.trips
}

// LastFrameAt returns the timestamp of the most recent parsed frame.
func (w *Watchdog) LastFrameAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastFrame
}

// Armed reports whether the watchdog is currently tracking staleness.
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}
