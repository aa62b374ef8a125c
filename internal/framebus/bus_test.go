package framebus

import (
	"testing"

	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/types"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := New()
	ch1, cancel1 := b.Subscribe("a", 4)
	ch2, cancel2 := b.Subscribe("b", 4)
	defer cancel1()
	defer cancel2()

	b.Publish(types.Frame{Seq: 1})
	b.Publish(types.Frame{Seq: 2})

	for _, ch := range []<-chan types.Frame{ch1, ch2} {
		for want := uint64(1); want <= 2; want++ {
			select {
			case f := <-ch:
				if f.Seq != want {
					t.Errorf("got seq %d, want %d", f.Seq, want)
				}
			default:
				t.Fatalf("missing frame %d", want)
			}
		}
	}
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("slow", 1)
	defer cancel()

	// Buffer holds one frame; the rest must drop, not block.
	for seq := uint64(1); seq <= 5; seq++ {
		b.Publish(types.Frame{Seq: seq})
	}

	f := <-ch
	if f.Seq != 1 {
		t.Errorf("buffered frame seq = %d, want 1", f.Seq)
	}

	stats := b.Stats()
	if stats.FramesPublished != 5 {
		t.Errorf("FramesPublished = %d, want 5", stats.FramesPublished)
	}
	if stats.FramesDropped != 4 {
		t.Errorf("FramesDropped = %d, want 4", stats.FramesDropped)
	}
	if stats.DroppedByLabel["slow"] != 4 {
		t.Errorf("DroppedByLabel[slow] = %d, want 4", stats.DroppedByLabel["slow"])
	}
}

func TestCancelClosesChannelAndIsIdempotent(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("x", 1)

	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	if got := b.Stats().Subscribers; got != 0 {
		t.Errorf("Subscribers = %d after cancel, want 0", got)
	}

	// Publishing with no subscribers must not panic.
	b.Publish(types.Frame{Seq: 1})
}
