// Package engine maps presence detections to debounced, timeout-driven relay
// actuation across configured zones.
//
// One mutex guards the whole zone/relay table. Every critical section is
// O(zones) and short; nothing slow (I/O beyond a GPIO write, event publishing)
// happens while holding it, so the engine is safe to drive from the control
// loop and the API/control-plane goroutines at the same time.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/relay"
	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/types"
)

const (
	// DefaultMaxZones bounds the zone table.
	DefaultMaxZones = 10

	// DefaultMaxRelaysPerZone bounds the relays one zone may reference.
	DefaultMaxRelaysPerZone = 4
)

var (
	// ErrUnknownZone is returned when an operation references a zone id that
	// does not exist. State is left unchanged.
	ErrUnknownZone = errors.New("unknown zone")

	// ErrZoneLimit is returned when adding a zone would exceed the configured
	// maximum. State is left unchanged.
	ErrZoneLimit = errors.New("zone limit exceeded")

	// ErrUnknownRelay is returned for manual relay commands on a pin no zone
	// has ever referenced.
	ErrUnknownRelay = errors.New("unknown relay")

	// ErrInvalidZone is returned when a zone definition violates an invariant
	// (duplicate id, relay count, empty rectangle).
	ErrInvalidZone = errors.New("invalid zone definition")
)

// Zone is a rectangular region of interest mapped to one or more relays.
type Zone struct {
	ID             int             `json:"id"`
	Name           string          `json:"name"`
	Rect           types.PixelRect `json:"rect"`
	RelayPins      []int           `json:"relay_pins"`
	Timeout        time.Duration   `json:"timeout"`
	Active         bool            `json:"active"`
	LastDetection  time.Time       `json:"last_detection"`
	DetectionCount uint64          `json:"detection_count"`
}

// RelayStatus is a snapshot of one relay's bookkeeping.
type RelayStatus struct {
	Pin            int       `json:"pin"`
	Active         bool      `json:"active"`
	LastActivation time.Time `json:"last_activation"`
	Activations    uint64    `json:"activations"`
}

// EventKind classifies engine events.
type EventKind string

const (
	EventZoneActivated   EventKind = "zone_activated"
	EventZoneDeactivated EventKind = "zone_deactivated"
	EventRelayChanged    EventKind = "relay_changed"
	EventEmergencyStop   EventKind = "emergency_stop"
)

// Event describes one observable state transition. Events are published
// after the critical section, never while holding the engine lock.
type Event struct {
	Kind     EventKind
	ZoneID   int
	ZoneName string
	Pin      int
	On       bool
	At       time.Time
}

// EventSink receives engine events. Must not block for long.
type EventSink func(Event)

// Config controls engine limits and wiring.
type Config struct {
	Driver           relay.Driver
	MaxZones         int
	MaxRelaysPerZone int
	// Sink receives state-transition events (optional).
	Sink EventSink
	// Now overrides the clock (tests).
	Now func() time.Time
}

type relayState struct {
	pin            int
	active         bool
	lastActivation time.Time
	activations    uint64
}

// Engine holds the zone and relay tables and applies the actuation rules.
type Engine struct {
	mu     sync.Mutex
	driver relay.Driver
	zones  []*Zone
	relays map[int]*relayState

	maxZones         int
	maxRelaysPerZone int
	totalDetections  uint64

	sink EventSink
	now  func() time.Time
}

// New creates an engine. Zones from the initial configuration are added by
// the caller via AddZone so validation applies uniformly.
func New(cfg Config) *Engine {
	if cfg.MaxZones <= 0 {
		cfg.MaxZones = DefaultMaxZones
	}
	if cfg.MaxRelaysPerZone <= 0 {
		cfg.MaxRelaysPerZone = DefaultMaxRelaysPerZone
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		driver:           cfg.Driver,
		relays:           make(map[int]*relayState),
		maxZones:         cfg.MaxZones,
		maxRelaysPerZone: cfg.MaxRelaysPerZone,
		sink:             cfg.Sink,
		now:              cfg.Now,
	}
}

// Update re-evaluates every zone against the detections of one frame.
// It must run once per consumed frame. Cost is O(zones × detections).
//
// Update is all-or-nothing: invalid input is rejected before any state
// changes, so a failed call never leaves a partial relay configuration.
func (e *Engine) Update(detections []types.Detection, frameWidth, frameHeight int) error {
	if frameWidth <= 0 || frameHeight <= 0 {
		return fmt.Errorf("invalid frame dimensions %dx%d", frameWidth, frameHeight)
	}

	now := e.now()

	e.mu.Lock()
	var events []Event
	for _, zone := range e.zones {
		detected := false
		for i := range detections {
			if overlaps(&detections[i], zone, frameWidth, frameHeight) {
				detected = true
				break
			}
		}

		if detected {
			if !zone.Active {
				zone.Active = true
				slog.Info("zone activated", "zone_id", zone.ID, "zone_name", zone.Name)
				events = append(events, Event{
					Kind: EventZoneActivated, ZoneID: zone.ID, ZoneName: zone.Name, At: now,
				})
			}
			zone.LastDetection = now
			zone.DetectionCount++
			e.totalDetections++
			events = append(events, e.energizeZoneLocked(zone, now)...)
			continue
		}

		if zone.Active && now.Sub(zone.LastDetection) >= zone.Timeout {
			zone.Active = false
			slog.Info("zone deactivated",
				"zone_id", zone.ID,
				"zone_name", zone.Name,
				"timeout", zone.Timeout,
			)
			events = append(events, Event{
				Kind: EventZoneDeactivated, ZoneID: zone.ID, ZoneName: zone.Name, At: now,
			})
			events = append(events, e.releaseZoneLocked(zone, now)...)
		}
	}
	e.mu.Unlock()

	e.publish(events)
	return nil
}

// overlaps converts the normalized detection box to pixel space and tests it
// against the zone rectangle. Any non-zero-area intersection counts; edges
// merely touching do not.
func overlaps(d *types.Detection, zone *Zone, frameWidth, frameHeight int) bool {
	return d.BBox.ToPixels(frameWidth, frameHeight).Intersects(zone.Rect)
}

// energizeZoneLocked turns on every relay the zone references.
func (e *Engine) energizeZoneLocked(zone *Zone, now time.Time) []Event {
	var events []Event
	for _, pin := range zone.RelayPins {
		if ev, changed := e.setRelayLocked(pin, true, now); changed {
			events = append(events, ev)
		}
	}
	return events
}

// releaseZoneLocked turns off the zone's relays that no other active zone
// still references. Shared relays stay on: a relay is ON iff the logical OR
// of all referencing zones' active flags is true.
func (e *Engine) releaseZoneLocked(zone *Zone, now time.Time) []Event {
	var events []Event
	for _, pin := range zone.RelayPins {
		if e.relayWantedLocked(pin) {
			continue
		}
		if ev, changed := e.setRelayLocked(pin, false, now); changed {
			events = append(events, ev)
		}
	}
	return events
}

// relayWantedLocked reports whether any active zone references the pin.
func (e *Engine) relayWantedLocked(pin int) bool {
	for _, z := range e.zones {
		if !z.Active {
			continue
		}
		for _, p := range z.RelayPins {
			if p == pin {
				return true
			}
		}
	}
	return false
}

// setRelayLocked applies a logical relay state. Commanding a state the relay
// already holds is a no-op: duplicate physical writes are suppressed.
func (e *Engine) setRelayLocked(pin int, on bool, now time.Time) (Event, bool) {
	state, ok := e.relays[pin]
	if !ok {
		return Event{}, false
	}
	if state.active == on {
		return Event{}, false
	}

	if err := e.driver.SetPin(pin, on); err != nil {
		slog.Error("relay write failed", "pin", pin, "on", on, "error", err)
		return Event{}, false
	}

	state.active = on
	if on {
		state.lastActivation = now
		state.activations++
	}
	slog.Debug("relay switched", "pin", pin, "on", on)
	return Event{Kind: EventRelayChanged, Pin: pin, On: on, At: now}, true
}

// ActivateRelay manually switches a relay on, bypassing zone logic but using
// the same bookkeeping.
func (e *Engine) ActivateRelay(pin int) error {
	return e.manualRelay(pin, true)
}

// DeactivateRelay manually switches a relay off.
func (e *Engine) DeactivateRelay(pin int) error {
	return e.manualRelay(pin, false)
}

func (e *Engine) manualRelay(pin int, on bool) error {
	now := e.now()

	e.mu.Lock()
	if _, ok := e.relays[pin]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: pin %d", ErrUnknownRelay, pin)
	}
	ev, changed := e.setRelayLocked(pin, on, now)
	e.mu.Unlock()

	if changed {
		e.publish([]Event{ev})
	}
	return nil
}

// DisableAllRelays is the emergency stop: every known relay is forced OFF
// with an unconditional physical write and every zone goes Inactive,
// overriding timeouts. Safe to call concurrently with an in-flight Update.
func (e *Engine) DisableAllRelays() {
	now := e.now()

	e.mu.Lock()
	slog.Warn("emergency stop, disabling all relays", "relays", len(e.relays))
	for pin, state := range e.relays {
		// Deliberately no suppression here: bookkeeping is not trusted when
		// forcing a safe state.
		if err := e.driver.SetPin(pin, false); err != nil {
			slog.Error("relay write failed during emergency stop", "pin", pin, "error", err)
		}
		state.active = false
	}
	for _, zone := range e.zones {
		zone.Active = false
	}
	e.mu.Unlock()

	e.publish([]Event{{Kind: EventEmergencyStop, At: now}})
}

// AddZone inserts a new zone in Inactive state. Fails with ErrZoneLimit or
// ErrInvalidZone without mutating anything.
func (e *Engine) AddZone(z Zone) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.zones) >= e.maxZones {
		return fmt.Errorf("%w: max %d", ErrZoneLimit, e.maxZones)
	}
	if err := e.validateZoneLocked(&z, -1); err != nil {
		return err
	}

	z.Active = false
	z.LastDetection = time.Time{}
	z.DetectionCount = 0
	zone := z
	e.zones = append(e.zones, &zone)

	for _, pin := range zone.RelayPins {
		e.registerRelayLocked(pin)
	}

	slog.Info("zone added",
		"zone_id", zone.ID,
		"zone_name", zone.Name,
		"relays", zone.RelayPins,
		"timeout", zone.Timeout,
	)
	return nil
}

// RemoveZone deletes a zone. An Active zone is deactivated first and its
// exclusively-owned relays are released per the shared-ownership rule.
func (e *Engine) RemoveZone(id int) error {
	now := e.now()

	e.mu.Lock()
	idx := e.indexLocked(id)
	if idx == -1 {
		e.mu.Unlock()
		return fmt.Errorf("%w: id %d", ErrUnknownZone, id)
	}

	zone := e.zones[idx]
	var events []Event
	if zone.Active {
		zone.Active = false
		events = append(events, Event{
			Kind: EventZoneDeactivated, ZoneID: zone.ID, ZoneName: zone.Name, At: now,
		})
		events = append(events, e.releaseZoneLocked(zone, now)...)
	}

	e.zones = append(e.zones[:idx], e.zones[idx+1:]...)
	e.mu.Unlock()

	slog.Info("zone removed", "zone_id", id)
	e.publish(events)
	return nil
}

// UpdateZone replaces a zone's structure (name, rectangle, relays, timeout)
// while preserving its runtime state. Relays dropped from the zone are
// released if no other active zone wants them.
func (e *Engine) UpdateZone(id int, z Zone) error {
	now := e.now()

	e.mu.Lock()
	idx := e.indexLocked(id)
	if idx == -1 {
		e.mu.Unlock()
		return fmt.Errorf("%w: id %d", ErrUnknownZone, id)
	}
	z.ID = id
	if err := e.validateZoneLocked(&z, idx); err != nil {
		e.mu.Unlock()
		return err
	}

	zone := e.zones[idx]
	oldPins := zone.RelayPins
	zone.Name = z.Name
	zone.Rect = z.Rect
	zone.RelayPins = z.RelayPins
	zone.Timeout = z.Timeout

	for _, pin := range zone.RelayPins {
		e.registerRelayLocked(pin)
	}

	var events []Event
	for _, pin := range oldPins {
		if containsPin(zone.RelayPins, pin) || e.relayWantedLocked(pin) {
			continue
		}
		if ev, changed := e.setRelayLocked(pin, false, now); changed {
			events = append(events, ev)
		}
	}
	if zone.Active {
		events = append(events, e.energizeZoneLocked(zone, now)...)
	}
	e.mu.Unlock()

	slog.Info("zone updated", "zone_id", id, "zone_name", z.Name)
	e.publish(events)
	return nil
}

// validateZoneLocked enforces the zone invariants. skipIdx excludes the zone
// being replaced from the duplicate-id check (-1 for inserts).
func (e *Engine) validateZoneLocked(z *Zone, skipIdx int) error {
	if len(z.RelayPins) == 0 || len(z.RelayPins) > e.maxRelaysPerZone {
		return fmt.Errorf("%w: zone %d references %d relays (1..%d allowed)",
			ErrInvalidZone, z.ID, len(z.RelayPins), e.maxRelaysPerZone)
	}
	if z.Rect.Width <= 0 || z.Rect.Height <= 0 {
		return fmt.Errorf("%w: zone %d has empty rectangle", ErrInvalidZone, z.ID)
	}
	if z.Timeout <= 0 {
		return fmt.Errorf("%w: zone %d has no timeout", ErrInvalidZone, z.ID)
	}
	for i, existing := range e.zones {
		if i != skipIdx && existing.ID == z.ID {
			return fmt.Errorf("%w: duplicate zone id %d", ErrInvalidZone, z.ID)
		}
	}
	return nil
}

func (e *Engine) registerRelayLocked(pin int) {
	if _, ok := e.relays[pin]; ok {
		return
	}
	e.relays[pin] = &relayState{pin: pin}
	// Drive the pin to a known-off state on first sight.
	if err := e.driver.SetPin(pin, false); err != nil {
		slog.Error("relay init write failed", "pin", pin, "error", err)
	}
}

func (e *Engine) indexLocked(id int) int {
	for i, z := range e.zones {
		if z.ID == id {
			return i
		}
	}
	return -1
}

func containsPin(pins []int, pin int) bool {
	for _, p := range pins {
		if p == pin {
			return true
		}
	}
	return false
}

// Zones returns a snapshot of all zones.
func (e *Engine) Zones() []Zone {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Zone, 0, len(e.zones))
	for _, z := range e.zones {
		zone := *z
		zone.RelayPins = append([]int(nil), z.RelayPins...)
		out = append(out, zone)
	}
	return out
}

// ZoneByID returns a snapshot of one zone.
func (e *Engine) ZoneByID(id int) (Zone, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.indexLocked(id)
	if idx == -1 {
		return Zone{}, fmt.Errorf("%w: id %d", ErrUnknownZone, id)
	}
	zone := *e.zones[idx]
	zone.RelayPins = append([]int(nil), e.zones[idx].RelayPins...)
	return zone, nil
}

// RelayStates returns a snapshot of all relay bookkeeping.
func (e *Engine) RelayStates() []RelayStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]RelayStatus, 0, len(e.relays))
	for _, s := range e.relays {
		out = append(out, RelayStatus{
			Pin:            s.pin,
			Active:         s.active,
			LastActivation: s.lastActivation,
			Activations:    s.activations,
		})
	}
	return out
}

// RelayState reports the logical state of one relay.
func (e *Engine) RelayState(pin int) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.relays[pin]
	if !ok {
		return false, fmt.Errorf("%w: pin %d", ErrUnknownRelay, pin)
	}
	return s.active, nil
}

// TotalDetections returns the running detection counter.
func (e *Engine) TotalDetections() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalDetections
}

// ResetStatistics zeroes the total, per-zone and per-relay counters.
func (e *Engine) ResetStatistics() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.totalDetections = 0
	for _, z := range e.zones {
		z.DetectionCount = 0
	}
	for _, s := range e.relays {
		s.activations = 0
	}
	slog.Info("statistics reset")
}

func (e *Engine) publish(events []Event) {
	if e.sink == nil {
		return
	}
	for _, ev := range events {
		e.sink(ev)
	}
}
