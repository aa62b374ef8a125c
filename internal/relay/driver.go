// Package relay abstracts the physical switch outputs behind a logical
// on/off interface. Polarity (active-high vs active-low) is a property of
// the wiring, so it lives in the driver; everything above this package deals
// only in logical states.
package relay

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Driver writes a logical relay state to a physical pin.
type Driver interface {
	// SetPin drives the pin to the given logical state. Implementations map
	// logical on/off to the correct physical level for the wiring.
	SetPin(pin int, on bool) error
}

// MemoryDriver records pin writes in memory. Used in tests and when running
// without hardware attached.
type MemoryDriver struct {
	mu     sync.Mutex
	states map[int]bool
	writes []Write
}

// Write is one recorded SetPin call.
type Write struct {
	Pin int
	On  bool
}

// NewMemoryDriver creates an in-memory driver.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{states: make(map[int]bool)}
}

// SetPin implements Driver.
func (d *MemoryDriver) SetPin(pin int, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states[pin] = on
	d.writes = append(d.writes, Write{Pin: pin, On: on})
	return nil
}

// State returns the last written logical state for a pin.
func (d *MemoryDriver) State(pin int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.states[pin]
}

// Writes returns all recorded writes in order.
func (d *MemoryDriver) Writes() []Write {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Write, len(d.writes))
	copy(out, d.writes)
	return out
}

// SysfsDriver drives GPIO pins through the Linux sysfs interface
// (/sys/class/gpio). Pins are exported lazily on first write.
type SysfsDriver struct {
	activeHigh bool
	basePath   string

	mu       sync.Mutex
	exported map[int]bool
}

// NewSysfsDriver creates a sysfs GPIO driver. activeHigh selects the
// physical level that energizes the relay coil.
func NewSysfsDriver(activeHigh bool) *SysfsDriver {
	return &SysfsDriver{
		activeHigh: activeHigh,
		basePath:   "/sys/class/gpio",
		exported:   make(map[int]bool),
	}
}

// SetPin implements Driver.
func (d *SysfsDriver) SetPin(pin int, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.export(pin); err != nil {
		return err
	}

	level := "0"
	if on == d.activeHigh {
		level = "1"
	}

	path := fmt.Sprintf("%s/gpio%d/value", d.basePath, pin)
	if err := os.WriteFile(path, []byte(level), 0o644); err != nil {
		return fmt.Errorf("failed to write gpio %d: %w", pin, err)
	}

	slog.Debug("gpio write",
		"pin", pin,
		"logical", on,
		"physical", level,
		"active_high", d.activeHigh,
	)
	return nil
}

// export makes the pin available through sysfs and sets it to output mode.
func (d *SysfsDriver) export(pin int) error {
	if d.exported[pin] {
		return nil
	}

	exportPath := d.basePath + "/export"
	if err := os.WriteFile(exportPath, []byte(fmt.Sprintf("%d", pin)), 0o644); err != nil {
		// Already-exported pins report EBUSY; direction write below decides.
		slog.Debug("gpio export", "pin", pin, "error", err)
	}

	dirPath := fmt.Sprintf("%s/gpio%d/direction", d.basePath, pin)
	if err := os.WriteFile(dirPath, []byte("out"), 0o644); err != nil {
		return fmt.Errorf("failed to set gpio %d direction: %w", pin, err)
	}

	d.exported[pin] = true
	return nil
}
