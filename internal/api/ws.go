package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout   = 5 * time.Second
	wsStatusInterval = time.Second
	wsFrameDepth     = 2
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	// The daemon sits on a trusted LAN segment with no cookie auth, so
	// cross-origin dashboards are allowed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsStatus is the periodic status message pushed to WebSocket clients.
type wsStatus struct {
	Type       string            `json:"type"`
	Zones      []ZoneStatistics  `json:"zones"`
	Relays     []RelayStatistics `json:"relays"`
	Detections uint64            `json:"total_detections"`
	At         time.Time         `json:"timestamp"`
}

// wsHub upgrades connections and runs one session per client. Clients get
// a status JSON message every second; with ?frames=1 they additionally get
// raw JPEG frames as binary messages.
type wsHub struct {
	backend Backend
}

func newWSHub(backend Backend) *wsHub {
	return &wsHub{backend: backend}
}

func (h *wsHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	wantFrames := r.URL.Query().Get("frames") == "1"
	slog.Info("websocket client connected", "remote", r.RemoteAddr, "frames", wantFrames)

	go h.runSession(conn, wantFrames)
}

func (h *wsHub) runSession(conn *websocket.Conn, wantFrames bool) {
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		// Drain reads so close frames and pings are processed; any read
		// error means the client is gone.
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var frameCh <-chan frameMsg
	var cancelFrames func()
	if wantFrames {
		ch, cancel := h.backend.SubscribeFrames(conn.RemoteAddr().String(), wsFrameDepth)
		cancelFrames = cancel
		proxied := make(chan frameMsg, wsFrameDepth)
		go func() {
			defer close(proxied)
			for f := range ch {
				select {
				case proxied <- frameMsg{seq: f.Seq, data: f.Data}:
				default:
				}
			}
		}()
		frameCh = proxied
	}
	if cancelFrames != nil {
		defer cancelFrames()
	}

	ticker := time.NewTicker(wsStatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			slog.Info("websocket client disconnected", "remote", conn.RemoteAddr())
			return

		case <-ticker.C:
			stats := h.backend.Statistics()
			msg := wsStatus{
				Type:       "status",
				Zones:      stats.Zones,
				Relays:     stats.Relays,
				Detections: stats.TotalDetections,
				At:         time.Now().UTC(),
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				slog.Debug("websocket status write failed", "error", err)
				return
			}

		case f, ok := <-frameCh:
			if !ok {
				frameCh = nil
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, f.data); err != nil {
				slog.Debug("websocket frame write failed", "error", err, "frame_seq", f.seq)
				return
			}
		}
	}
}

type frameMsg struct {
	seq  uint64
	data []byte
}
