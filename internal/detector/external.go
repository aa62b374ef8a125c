package detector

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/types"
)

const (
	externalInputDepth  = 5
	externalResultDepth = 10
	stdinWriteTimeout   = 2 * time.Second
	stopTimeout         = 2 * time.Second
)

// ExternalConfig configures a subprocess-backed detector.
type ExternalConfig struct {
	// Command is the worker executable, typically a wrapper script that
	// activates its own runtime environment.
	Command string

	// Args are passed to the command verbatim.
	Args []string

	// Confidence is forwarded to the worker as a detection threshold.
	Confidence float64
}

// frameRequest is one stdin message to the worker.
type frameRequest struct {
	FrameData []byte `msgpack:"frame_data"`
	Width     int    `msgpack:"width"`
	Height    int    `msgpack:"height"`
	Seq       uint64 `msgpack:"seq"`
	Timestamp string `msgpack:"timestamp"`
}

// detectionResult is one stdout message from the worker.
type detectionResult struct {
	FrameSeq   uint64 `msgpack:"frame_seq"`
	Detections []struct {
		X          float64 `msgpack:"x"`
		Y          float64 `msgpack:"y"`
		Width      float64 `msgpack:"width"`
		Height     float64 `msgpack:"height"`
		Confidence float64 `msgpack:"confidence"`
		ClassID    int     `msgpack:"class_id"`
	} `msgpack:"detections"`
	InferenceMS float64 `msgpack:"inference_ms"`
}

// ExternalDetector runs inference in a subprocess. Frames travel over stdin
// as length-prefixed msgpack messages (4-byte big-endian length, then the
// payload); results come back the same way over stdout; stderr is forwarded
// to the log.
//
// Inference is decoupled from the control loop: Detect hands the frame to
// the worker without waiting and returns the most recent completed result.
// A worker that falls behind causes frame drops, never loop stalls.
type ExternalDetector struct {
	command    string
	args       []string
	confidence float64

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	input chan types.Frame

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Bool

	mu     sync.Mutex
	latest []types.Detection

	framesSent     atomic.Uint64
	framesDropped  atomic.Uint64
	resultsRead    atomic.Uint64
	totalLatencyMS atomic.Uint64
	lastResultAt   atomic.Value // time.Time
}

// ExternalStats is a snapshot of worker throughput counters.
type ExternalStats struct {
	FramesSent    uint64    `json:"frames_sent"`
	FramesDropped uint64    `json:"frames_dropped"`
	ResultsRead   uint64    `json:"results_read"`
	AvgLatencyMS  float64   `json:"avg_latency_ms"`
	LastResultAt  time.Time `json:"last_result_at"`
}

// NewExternalDetector creates a subprocess detector.
func NewExternalDetector(cfg ExternalConfig) (*ExternalDetector, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("external detector command is required")
	}
	if cfg.Confidence <= 0 {
		cfg.Confidence = 0.5
	}
	return &ExternalDetector{
		command:    cfg.Command,
		args:       cfg.Args,
		confidence: cfg.Confidence,
		input:      make(chan types.Frame, externalInputDepth),
	}, nil
}

// Start spawns the worker process and its pump goroutines.
func (d *ExternalDetector) Start(ctx context.Context) error {
	if d.active.Load() {
		return fmt.Errorf("external detector already started")
	}

	d.input = make(chan types.Frame, externalInputDepth)
	d.ctx, d.cancel = context.WithCancel(ctx)

	args := append([]string{"--confidence", fmt.Sprintf("%.2f", d.confidence)}, d.args...)
	d.cmd = exec.CommandContext(d.ctx, d.command, args...)

	var err error
	if d.stdin, err = d.cmd.StdinPipe(); err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	if d.stdout, err = d.cmd.StdoutPipe(); err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if d.stderr, err = d.cmd.StderrPipe(); err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start worker process: %w", err)
	}

	d.active.Store(true)
	d.lastResultAt.Store(time.Now())

	d.wg.Add(4)
	go d.pumpFrames()
	go d.readResults()
	go d.logStderr()
	go d.waitProcess()

	slog.Info("external detector started",
		"command", d.command,
		"pid", d.cmd.Process.Pid,
		"confidence", d.confidence,
	)
	return nil
}

// Detect implements Detector. The frame is queued for the worker without
// blocking; the returned detections are the newest completed inference,
// which may lag the given frame by a few frames.
func (d *ExternalDetector) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	if !d.active.Load() {
		return nil, fmt.Errorf("external detector not running")
	}

	select {
	case d.input <- frame:
		d.framesSent.Add(1)
	default:
		d.framesDropped.Add(1)
	}

	d.mu.Lock()
	latest := d.latest
	d.mu.Unlock()
	return latest, nil
}

// pumpFrames forwards queued frames to the worker stdin.
func (d *ExternalDetector) pumpFrames() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case frame, ok := <-d.input:
			if !ok {
				return
			}
			if err := d.writeFrame(frame); err != nil {
				slog.Error("failed to send frame to worker",
					"frame_seq", frame.Seq,
					"trace_id", frame.TraceID,
					"error", err,
				)
			}
		}
	}
}

// writeFrame marshals one frame and writes it with length-prefix framing.
// The write runs in a helper goroutine so a hung worker cannot block the
// pump past the timeout.
func (d *ExternalDetector) writeFrame(frame types.Frame) error {
	payload, err := msgpack.Marshal(frameRequest{
		FrameData: frame.Data,
		Width:     frame.Width,
		Height:    frame.Height,
		Seq:       frame.Seq,
		Timestamp: frame.Timestamp.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		prefix := make([]byte, 4)
		binary.BigEndian.PutUint32(prefix, uint32(len(payload)))
		if _, err := d.stdin.Write(prefix); err != nil {
			writeErr <- err
			return
		}
		_, err := d.stdin.Write(payload)
		writeErr <- err
	}()

	select {
	case err := <-writeErr:
		return err
	case <-time.After(stdinWriteTimeout):
		return fmt.Errorf("stdin write timeout, worker may be hung")
	case <-d.ctx.Done():
		return d.ctx.Err()
	}
}

// readResults consumes length-prefixed msgpack results from worker stdout.
func (d *ExternalDetector) readResults() {
	defer d.wg.Done()

	prefix := make([]byte, 4)
	for {
		if _, err := io.ReadFull(d.stdout, prefix); err != nil {
			if err != io.EOF {
				slog.Error("failed to read result length prefix", "error", err)
			}
			return
		}

		payload := make([]byte, binary.BigEndian.Uint32(prefix))
		if _, err := io.ReadFull(d.stdout, payload); err != nil {
			slog.Error("failed to read result payload",
				"error", err,
				"expected_length", len(payload),
			)
			return
		}

		var result detectionResult
		if err := msgpack.Unmarshal(payload, &result); err != nil {
			slog.Error("failed to unmarshal worker result",
				"error", err,
				"payload_length", len(payload),
			)
			continue
		}

		detections := make([]types.Detection, 0, len(result.Detections))
		for _, det := range result.Detections {
			detections = append(detections, types.Detection{
				BBox: types.NormalizedRect{
					X: det.X, Y: det.Y, Width: det.Width, Height: det.Height,
				},
				Confidence: det.Confidence,
				ClassID:    det.ClassID,
			})
		}

		d.mu.Lock()
		d.latest = detections
		d.mu.Unlock()

		d.resultsRead.Add(1)
		d.totalLatencyMS.Add(uint64(result.InferenceMS))
		d.lastResultAt.Store(time.Now())
	}
}

// logStderr forwards worker stderr lines to the log, mapping the worker's
// level tags onto slog levels.
func (d *ExternalDetector) logStderr() {
	defer d.wg.Done()

	scanner := bufio.NewScanner(d.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]") || strings.Contains(line, "[CRITICAL]"):
			slog.Error("worker error", "log", line)
		case strings.Contains(line, "[WARNING]") || strings.Contains(line, "[WARN]"):
			slog.Warn("worker warning", "log", line)
		default:
			slog.Debug("worker log", "log", line)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("error reading worker stderr", "error", err)
	}
}

// waitProcess reaps the worker process so it cannot linger as a zombie.
func (d *ExternalDetector) waitProcess() {
	defer d.wg.Done()

	if d.cmd == nil || d.cmd.Process == nil {
		return
	}

	err := d.cmd.Wait()
	if err == nil {
		slog.Info("worker process exited cleanly", "pid", d.cmd.Process.Pid)
		return
	}

	select {
	case <-d.ctx.Done():
		slog.Debug("worker process exited on shutdown", "pid", d.cmd.Process.Pid)
	default:
		slog.Error("worker process exited unexpectedly",
			"pid", d.cmd.Process.Pid,
			"error", err,
		)
	}
}

// Stats returns throughput counters for health reporting.
func (d *ExternalDetector) Stats() ExternalStats {
	results := d.resultsRead.Load()
	var avg float64
	if results > 0 {
		avg = float64(d.totalLatencyMS.Load()) / float64(results)
	}
	var last time.Time
	if v := d.lastResultAt.Load(); v != nil {
		last = v.(time.Time)
	}
	return ExternalStats{
		FramesSent:    d.framesSent.Load(),
		FramesDropped: d.framesDropped.Load(),
		ResultsRead:   results,
		AvgLatencyMS:  avg,
		LastResultAt:  last,
	}
}

// Stop terminates the worker. Stdin close signals a graceful exit; a worker
// still alive after the timeout is killed.
func (d *ExternalDetector) Stop() error {
	if !d.active.Load() {
		return nil
	}
	d.active.Store(false)

	slog.Info("stopping external detector")
	if d.cancel != nil {
		d.cancel()
	}
	if d.stdin != nil {
		d.stdin.Close()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		slog.Warn("worker stop timeout, killing process")
		if d.cmd != nil && d.cmd.Process != nil {
			if err := d.cmd.Process.Kill(); err != nil {
				slog.Error("failed to kill worker process", "error", err)
			}
		}
	}

	slog.Info("external detector stopped",
		"frames_sent", d.framesSent.Load(),
		"results_read", d.resultsRead.Load(),
		"frames_dropped", d.framesDropped.Load(),
	)
	return nil
}
