package detector

import (
	"bytes"
	"context"
	"testing"

	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/types"
)

func frameOf(seq uint64, data []byte) types.Frame {
	return types.Frame{Seq: seq, Width: 640, Height: 480, Data: data}
}

func TestFirstFrameSeedsBaseline(t *testing.T) {
	d := NewMotionDetector(MotionConfig{})
	dets, err := d.Detect(context.Background(), frameOf(1, bytes.Repeat([]byte{0x80}, 5000)))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(dets) != 0 {
		t.Errorf("first frame produced %d detections, want 0", len(dets))
	}
}

func TestIdenticalFramesProduceNoMotion(t *testing.T) {
	d := NewMotionDetector(MotionConfig{})
	payload := bytes.Repeat([]byte{0x80}, 5000)

	d.Detect(context.Background(), frameOf(1, payload))
	for seq := uint64(2); seq <= 5; seq++ {
		dets, err := d.Detect(context.Background(), frameOf(seq, payload))
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if len(dets) != 0 {
			t.Errorf("frame %d: identical payload produced motion", seq)
		}
	}
}

func TestChangedFramesProduceCenteredDetection(t *testing.T) {
	d := NewMotionDetector(MotionConfig{})
	a := bytes.Repeat([]byte{0x00}, 5000)
	b := bytes.Repeat([]byte{0xFF}, 5000)

	d.Detect(context.Background(), frameOf(1, a))
	dets, err := d.Detect(context.Background(), frameOf(2, b))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(dets) != 1 {
		t.Fatalf("got %d detections, want 1", len(dets))
	}

	want := types.NormalizedRect{X: 0.25, Y: 0.25, Width: 0.5, Height: 0.5}
	if dets[0].BBox != want {
		t.Errorf("bbox = %+v, want centered half-frame %+v", dets[0].BBox, want)
	}
	if dets[0].Confidence <= 0 || dets[0].Confidence > 1 {
		t.Errorf("confidence = %v, want (0,1]", dets[0].Confidence)
	}
}

func TestSensitivityThreshold(t *testing.T) {
	// Stride 1 makes every byte a sample; flipping 20% of the bytes lands
	// between the two sensitivities.
	base := bytes.Repeat([]byte{0x00}, 1000)
	changed := append([]byte(nil), base...)
	for i := 0; i < 200; i++ {
		changed[i] = 0xFF
	}

	strict := NewMotionDetector(MotionConfig{SampleStride: 1, Sensitivity: 0.3})
	strict.Detect(context.Background(), frameOf(1, base))
	if dets, _ := strict.Detect(context.Background(), frameOf(2, changed)); len(dets) != 0 {
		t.Error("20% change should stay below a 0.3 sensitivity")
	}

	loose := NewMotionDetector(MotionConfig{SampleStride: 1, Sensitivity: 0.1})
	loose.Detect(context.Background(), frameOf(1, base))
	if dets, _ := loose.Detect(context.Background(), frameOf(2, changed)); len(dets) != 1 {
		t.Error("20% change should exceed a 0.1 sensitivity")
	}
}

func TestByteThresholdFiltersSmallNoise(t *testing.T) {
	base := bytes.Repeat([]byte{100}, 1000)
	noisy := bytes.Repeat([]byte{110}, 1000) // +10, under the default 30

	d := NewMotionDetector(MotionConfig{SampleStride: 1})
	d.Detect(context.Background(), frameOf(1, base))
	if dets, _ := d.Detect(context.Background(), frameOf(2, noisy)); len(dets) != 0 {
		t.Error("sub-threshold byte noise should not register as motion")
	}
}

func TestResetDropsBaseline(t *testing.T) {
	d := NewMotionDetector(MotionConfig{})
	a := bytes.Repeat([]byte{0x00}, 5000)
	b := bytes.Repeat([]byte{0xFF}, 5000)

	d.Detect(context.Background(), frameOf(1, a))
	d.Reset()

	// After reset the very different payload is a new baseline, not motion.
	dets, err := d.Detect(context.Background(), frameOf(2, b))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(dets) != 0 {
		t.Error("first frame after reset must only seed the baseline")
	}
}

func TestShorterFrameComparesCommonPrefix(t *testing.T) {
	d := NewMotionDetector(MotionConfig{SampleStride: 1})
	d.Detect(context.Background(), frameOf(1, bytes.Repeat([]byte{0x00}, 5000)))

	dets, err := d.Detect(context.Background(), frameOf(2, bytes.Repeat([]byte{0x00}, 500)))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(dets) != 0 {
		t.Error("identical common prefix should not register as motion")
	}
}

func TestEmptyFrameIgnored(t *testing.T) {
	d := NewMotionDetector(MotionConfig{})
	dets, err := d.Detect(context.Background(), frameOf(1, nil))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(dets) != 0 {
		t.Error("empty frame should be ignored")
	}
}
