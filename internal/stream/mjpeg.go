// Package stream turns an HTTP MJPEG feed (multipart/x-mixed-replace) into
// discrete JPEG frames under bounded memory.
//
// The demultiplexer is deliberately pull-based and retry-free: NextFrame
// surfaces transport errors to the caller, which owns the reconnect policy.
// A single fixed-capacity accumulation buffer is reused across frames; tails
// are compacted in place, never reallocated per frame.
//
// Cameras that do not advertise a multipart boundary are handled in
// single-frame mode: one response body yields one JPEG (located by SOI/EOI
// markers) and every accepted frame triggers one reconnect cycle.
package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/types"
)

const (
	// DefaultBufferSize is the accumulation buffer capacity. 100 KiB fits
	// several QVGA/VGA JPEG frames with room for interleaved part headers.
	DefaultBufferSize = 100 * 1024

	// DefaultReadTimeout bounds a single read from the camera socket.
	DefaultReadTimeout = 5 * time.Second

	// DefaultMaxReadsPerFrame bounds the read attempts per frame in
	// single-frame mode so the control loop can never block indefinitely.
	DefaultMaxReadsPerFrame = 50

	// minJPEGSize rejects fragments too small to be a real frame.
	minJPEGSize = 100
)

var (
	headerEnd = []byte("\r\n\r\n")
	jpegSOI   = []byte{0xFF, 0xD8}
	jpegEOI   = []byte{0xFF, 0xD9}
)

// Config controls demultiplexer behavior.
type Config struct {
	// BufferSize is the accumulation buffer capacity in bytes.
	BufferSize int
	// ReadTimeout is the per-read deadline on the camera socket.
	ReadTimeout time.Duration
	// MaxReadsPerFrame bounds read attempts per frame in single-frame mode.
	MaxReadsPerFrame int
}

func (c *Config) applyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.MaxReadsPerFrame <= 0 {
		c.MaxReadsPerFrame = DefaultMaxReadsPerFrame
	}
}

// Client connects to MJPEG cameras and produces Sessions.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a demultiplexer client.
func NewClient(cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg: cfg,
		// No overall client timeout: the response body is an endless stream.
		// Liveness is enforced per read via the session deadline.
		http: &http.Client{},
	}
}

// Connect performs the HTTP handshake and returns a ready Session.
//
// Content-Type decides the parse mode: multipart/* with a boundary parameter
// selects multipart mode; multipart/* without one fails with
// ErrMissingBoundary; anything else selects single-frame mode.
func (c *Client) Connect(ctx context.Context, url string) (*Session, error) {
	s := &Session{
		client: c,
		url:    url,
		buf:    make([]byte, c.cfg.BufferSize),
		state:  types.StreamConnecting,
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.dial(); err != nil {
		s.cancel()
		return nil, err
	}
	return s, nil
}

// Session is one connection to a camera stream.
//
// NextFrame must be called from a single goroutine (the control loop).
// Stats and Disconnect are safe to call concurrently with it.
type Session struct {
	client *Client
	url    string

	ctx    context.Context
	cancel context.CancelFunc

	multipart bool
	boundary  []byte

	// Accumulation buffer: buf[:n] holds unconsumed bytes.
	buf []byte
	n   int

	timedOut atomic.Bool
	seq      uint64

	mu           sync.Mutex
	body         io.ReadCloser
	state        types.StreamState
	frameCount   uint64
	bytesRead    uint64
	reconnects   uint32
	firstFrameAt time.Time
	lastFrameAt  time.Time
}

// dial performs one HTTP GET handshake and classifies the stream mode.
func (s *Session) dial() error {
	s.setState(types.StreamConnecting)

	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	resp, err := s.client.http.Do(req)
	if err != nil {
		s.setState(types.StreamDisconnected)
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		s.setState(types.StreamDisconnected)
		return fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}

	mediaType, params, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		b, ok := params["boundary"]
		if !ok || b == "" {
			resp.Body.Close()
			s.setState(types.StreamDisconnected)
			return fmt.Errorf("%w: content-type %q", ErrMissingBoundary, resp.Header.Get("Content-Type"))
		}
		s.multipart = true
		s.boundary = []byte("--" + b)
	} else {
		s.multipart = false
		s.boundary = nil
	}

	s.mu.Lock()
	s.body = resp.Body
	s.state = types.StreamConnected
	s.mu.Unlock()
	s.n = 0
	return nil
}

// currentBody returns the response body, or nil once the session is closed.
func (s *Session) currentBody() io.ReadCloser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.body
}

// closeBody closes and clears the response body under the lock.
func (s *Session) closeBody() {
	s.mu.Lock()
	if s.body != nil {
		s.body.Close()
		s.body = nil
	}
	s.mu.Unlock()
}

// NextFrame parses the next frame out of the stream.
//
// Errors are ErrDisconnected, ErrTimeout or ErrFrameTooLarge (possibly
// wrapped). After ErrFrameTooLarge the session stays usable and resumes at
// the next boundary; after the other two the caller should Disconnect and
// reconnect.
func (s *Session) NextFrame() (types.Frame, error) {
	if s.currentBody() == nil {
		return types.Frame{}, ErrDisconnected
	}
	if s.multipart {
		return s.nextMultipartFrame()
	}
	return s.nextSingleFrame()
}

// nextMultipartFrame scans for boundary → header terminator → next boundary
// and returns the payload between them.
func (s *Session) nextMultipartFrame() (types.Frame, error) {
	for {
		start := bytes.Index(s.buf[:s.n], s.boundary)
		if start == -1 {
			// Drop pre-boundary garbage, keeping a tail that could hold a
			// partial boundary token split across reads.
			if keep := len(s.boundary) - 1; s.n > keep {
				s.compact(s.n - keep)
			}
			if err := s.readMore(); err != nil {
				return types.Frame{}, err
			}
			continue
		}

		rest := s.buf[start+len(s.boundary) : s.n]
		hdr := bytes.Index(rest, headerEnd)
		if hdr == -1 {
			if s.n == len(s.buf) {
				return types.Frame{}, s.discardOversized()
			}
			if err := s.readMore(); err != nil {
				return types.Frame{}, err
			}
			continue
		}

		payloadStart := start + len(s.boundary) + hdr + len(headerEnd)
		next := bytes.Index(s.buf[payloadStart:s.n], s.boundary)
		if next == -1 {
			if s.n == len(s.buf) {
				return types.Frame{}, s.discardOversized()
			}
			if err := s.readMore(); err != nil {
				return types.Frame{}, err
			}
			continue
		}

		data := make([]byte, next)
		copy(data, s.buf[payloadStart:payloadStart+next])
		// Slide the tail (from the next boundary on) to the front.
		s.compact(payloadStart + next)

		// Part payloads carry trailing CRLF before the boundary; strip it so
		// the frame ends at the JPEG EOI marker.
		data = bytes.TrimSuffix(data, []byte("\r\n"))
		if len(data) == 0 {
			continue
		}

		return s.acceptFrame(data), nil
	}
}

// nextSingleFrame reads one whole response body (bounded attempts), locates
// the JPEG by SOI/EOI markers and reconnects for the next frame.
func (s *Session) nextSingleFrame() (types.Frame, error) {
	var readErr error
	for reads := 0; reads < s.client.cfg.MaxReadsPerFrame; reads++ {
		if s.n == len(s.buf) {
			break
		}
		if readErr = s.readMore(); readErr != nil {
			break
		}
	}

	start := bytes.Index(s.buf[:s.n], jpegSOI)
	end := bytes.LastIndex(s.buf[:s.n], jpegEOI)
	if start == -1 || end == -1 || end+len(jpegEOI) <= start+minJPEGSize {
		s.n = 0
		if readErr != nil {
			return types.Frame{}, readErr
		}
		if err := s.recycle(); err != nil {
			return types.Frame{}, err
		}
		return types.Frame{}, fmt.Errorf("%w: no complete jpeg in response", ErrDisconnected)
	}

	data := make([]byte, end+len(jpegEOI)-start)
	copy(data, s.buf[start:end+len(jpegEOI)])
	s.n = 0

	frame := s.acceptFrame(data)

	// Single-shot cameras serve one JPEG per request. A failed handshake here
	// does not invalidate the frame; the body stays nil and the next call
	// reports ErrDisconnected.
	_ = s.recycle()
	return frame, nil
}

// discardOversized drops the buffered payload, keeping only a tail that may
// contain the start of the next boundary, and reports the frame as lost.
func (s *Session) discardOversized() error {
	keep := len(s.boundary) - 1
	if s.n > keep {
		s.compact(s.n - keep)
	}
	return fmt.Errorf("%w: capacity %d", ErrFrameTooLarge, len(s.buf))
}

// compact slides buf[off:n] to the front of the buffer.
func (s *Session) compact(off int) {
	copy(s.buf, s.buf[off:s.n])
	s.n -= off
}

// readMore appends newly available bytes to the accumulation buffer,
// bounded by the per-read deadline.
func (s *Session) readMore() error {
	if s.n == len(s.buf) {
		return nil
	}
	body := s.currentBody()
	if body == nil {
		return fmt.Errorf("%w: session closed", ErrDisconnected)
	}

	// The read and the deadline race to settle first; whichever loses does
	// nothing. A read that returns in time is never undone by a late timer.
	s.timedOut.Store(false)
	var settled atomic.Bool
	timer := time.AfterFunc(s.client.cfg.ReadTimeout, func() {
		if settled.CompareAndSwap(false, true) {
			s.timedOut.Store(true)
			s.cancel()
		}
	})
	n, err := body.Read(s.buf[s.n : len(s.buf) : len(s.buf)])
	if settled.CompareAndSwap(false, true) {
		timer.Stop()
	}

	if n > 0 {
		s.n += n
		s.mu.Lock()
		s.bytesRead += uint64(n)
		s.mu.Unlock()
		return nil
	}
	if s.timedOut.Load() {
		s.setState(types.StreamStalled)
		return fmt.Errorf("%w: no data within %s", ErrTimeout, s.client.cfg.ReadTimeout)
	}
	if err != nil {
		s.setState(types.StreamDisconnected)
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

// recycle closes the current response and performs a fresh handshake on the
// same session (single-frame mode).
func (s *Session) recycle() error {
	s.closeBody()
	s.mu.Lock()
	s.reconnects++
	s.mu.Unlock()
	return s.dial()
}

// acceptFrame stamps metadata on an extracted frame and updates statistics.
func (s *Session) acceptFrame(data []byte) types.Frame {
	now := time.Now()
	s.seq++

	s.mu.Lock()
	s.frameCount++
	if s.firstFrameAt.IsZero() {
		s.firstFrameAt = now
	}
	s.lastFrameAt = now
	s.mu.Unlock()

	return types.Frame{
		Seq:       s.seq,
		Timestamp: now,
		Data:      data,
		TraceID:   uuid.New().String(),
	}
}

// Disconnect releases the connection. Safe to call multiple times and
// concurrently with NextFrame: closing the body unblocks an in-flight read.
func (s *Session) Disconnect() {
	s.cancel()
	s.mu.Lock()
	if s.body != nil {
		s.body.Close()
		s.body = nil
	}
	s.state = types.StreamDisconnected
	s.mu.Unlock()
}

// Multipart reports whether the session parses boundary-delimited parts.
func (s *Session) Multipart() bool {
	return s.multipart
}

// Stats returns a snapshot of session statistics. Average FPS is measured
// from the first parsed frame of the session.
func (s *Session) Stats() types.StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fps float64
	if s.frameCount > 0 {
		elapsed := time.Since(s.firstFrameAt).Seconds()
		if elapsed > 0 {
			fps = float64(s.frameCount) / elapsed
		}
	}

	return types.StreamStats{
		FrameCount:  s.frameCount,
		FPS:         fps,
		BytesRead:   s.bytesRead,
		Reconnects:  s.reconnects,
		State:       s.state,
		StateName:   s.state.String(),
		LastFrameAt: s.lastFrameAt,
	}
}

func (s *Session) setState(st types.StreamState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
