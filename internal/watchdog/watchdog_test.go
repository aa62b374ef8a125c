package watchdog

import (
	"testing"
	"time"
)

type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestTripsOnStaleFrames(t *testing.T) {
	clock := newTestClock()
	tripped := 0
	w := New(Config{
		Timeout: 60 * time.Second,
		Now:     clock.Now,
		OnTrip:  func() { tripped++ },
	})

	w.FrameParsed()

	clock.Advance(59 * time.Second)
	w.check()
	if tripped != 0 {
		t.Fatal("tripped before the timeout elapsed")
	}

	clock.Advance(time.Second)
	w.check()
	if tripped != 1 {
		t.Fatalf("tripped = %d at exactly the timeout, want 1", tripped)
	}
	if w.Trips() != 1 {
		t.Errorf("Trips() = %d, want 1", w.Trips())
	}
}

func TestFiresOncePerStall(t *testing.T) {
	clock := newTestClock()
	tripped := 0
	w := New(Config{
		Timeout: 10 * time.Second,
		Now:     clock.Now,
		OnTrip:  func() { tripped++ },
	})

	w.FrameParsed()
	clock.Advance(time.Minute)
	for i := 0; i < 5; i++ {
		w.check()
	}
	if tripped != 1 {
		t.Errorf("tripped = %d during one stall, want 1", tripped)
	}
}

func TestRearmsAfterNextFrame(t *testing.T) {
	clock := newTestClock()
	tripped := 0
	w := New(Config{
		Timeout: 10 * time.Second,
		Now:     clock.Now,
		OnTrip:  func() { tripped++ },
	})

	w.FrameParsed()
	clock.Advance(time.Minute)
	w.check()
	if tripped != 1 || w.Armed() {
		t.Fatalf("after first stall: tripped = %d, armed = %v", tripped, w.Armed())
	}

	w.FrameParsed()
	if !w.Armed() {
		t.Fatal("FrameParsed must re-arm the watchdog")
	}
	clock.Advance(time.Minute)
	w.check()
	if tripped != 2 {
		t.Errorf("tripped = %d after second stall, want 2", tripped)
	}
}

func TestFrameRefreshPreventsTrip(t *testing.T) {
	clock := newTestClock()
	tripped := 0
	w := New(Config{
		Timeout: 10 * time.Second,
		Now:     clock.Now,
		OnTrip:  func() { tripped++ },
	})

	w.FrameParsed()
	for i := 0; i < 20; i++ {
		clock.Advance(5 * time.Second)
		w.FrameParsed()
		w.check()
	}
	if tripped != 0 {
		t.Errorf("tripped = %d with a healthy frame supply, want 0", tripped)
	}
}

func TestUnarmedNeverTrips(t *testing.T) {
	clock := newTestClock()
	tripped := 0
	w := New(Config{
		Timeout: time.Second,
		Now:     clock.Now,
		OnTrip:  func() { tripped++ },
	})

	clock.Advance(time.Hour)
	w.check()
	if tripped != 0 {
		t.Error("watchdog tripped before ever being armed")
	}
}

func TestDisarmStopsTracking(t *testing.T) {
	clock := newTestClock()
	tripped := 0
	w := New(Config{
		Timeout: time.Second,
		Now:     clock.Now,
		OnTrip:  func() { tripped++ },
	})

	w.FrameParsed()
	w.Disarm()
	clock.Advance(time.Hour)
	w.check()
	if tripped != 0 {
		t.Error("disarmed watchdog must not trip")
	}
}
