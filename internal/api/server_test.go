package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/engine"
	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/relay"
	"github.com/prasannan-robots/Energy-Management-using-Surveillance-Camera/internal/types"
)

// fakeBackend wraps a real engine so API behavior matches production error
// mapping without spinning up the whole service.
type fakeBackend struct {
	engine      *engine.Engine
	ready       bool
	stopped     bool
	statsReset  bool
	frames      uint64
	streamStats types.StreamStats
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		engine: engine.New(engine.Config{Driver: relay.NewMemoryDriver()}),
		ready:  true,
		streamStats: types.StreamStats{
			State:     types.StreamConnected,
			StateName: "connected",
		},
	}
}

func (f *fakeBackend) Zones() []engine.Zone                   { return f.engine.Zones() }
func (f *fakeBackend) ZoneByID(id int) (engine.Zone, error)   { return f.engine.ZoneByID(id) }
func (f *fakeBackend) AddZone(z engine.Zone) error            { return f.engine.AddZone(z) }
func (f *fakeBackend) UpdateZone(id int, z engine.Zone) error { return f.engine.UpdateZone(id, z) }
func (f *fakeBackend) RemoveZone(id int) error                { return f.engine.RemoveZone(id) }
func (f *fakeBackend) RelayStates() []engine.RelayStatus      { return f.engine.RelayStates() }

func (f *fakeBackend) SetRelay(pin int, on bool) error {
	if on {
		return f.engine.ActivateRelay(pin)
	}
	return f.engine.DeactivateRelay(pin)
}

func (f *fakeBackend) EmergencyStop() {
	f.stopped = true
	f.engine.DisableAllRelays()
}

func (f *fakeBackend) Statistics() Statistics {
	return Statistics{
		TotalDetections: f.engine.TotalDetections(),
		FramesProcessed: f.frames,
	}
}

func (f *fakeBackend) ResetStatistics() { f.statsReset = true; f.engine.ResetStatistics() }

func (f *fakeBackend) SystemStatus() SystemStatus {
	return SystemStatus{InstanceID: "test", Stream: f.streamStats}
}

func (f *fakeBackend) StreamStats() types.StreamStats { return f.streamStats }
func (f *fakeBackend) Ready() bool                    { return f.ready }

func (f *fakeBackend) SubscribeFrames(string, int) (<-chan types.Frame, func()) {
	ch := make(chan types.Frame)
	close(ch)
	return ch, func() {}
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend()
	srv := httptest.NewServer(NewServer(backend, nil).Router())
	t.Cleanup(srv.Close)
	return srv, backend
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func testZoneBody(id int) map[string]interface{} {
	return map[string]interface{}{
		"id":         id,
		"name":       fmt.Sprintf("zone-%d", id),
		"x":          10,
		"y":          10,
		"width":      100,
		"height":     100,
		"relay_pins": []int{12},
		"timeout_s":  30,
	}
}

func TestZoneCRUD(t *testing.T) {
	srv, _ := newTestServer(t)

	// Create.
	resp := postJSON(t, srv.URL+"/api/zones", testZoneBody(1))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// Read back.
	resp, err := http.Get(srv.URL + "/api/zones/1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var dto zoneDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dto))
	assert.Equal(t, "zone-1", dto.Name)
	assert.Equal(t, 30, dto.TimeoutS)
	assert.Equal(t, []int{12}, dto.RelayPins)

	// Update.
	body := testZoneBody(1)
	body["name"] = "renamed"
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/zones/1", bytes.NewReader(mustJSON(t, body)))
	require.NoError(t, err)
	putResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, putResp.StatusCode)
	putResp.Body.Close()

	// Delete.
	req, err = http.NewRequest(http.MethodDelete, srv.URL+"/api/zones/1", nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, delResp.StatusCode)
	delResp.Body.Close()

	// Gone.
	resp, err = http.Get(srv.URL + "/api/zones/1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestZoneErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)

	// Unknown zone -> 404.
	resp, err := http.Get(srv.URL + "/api/zones/99")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	// Invalid zone definition -> 422.
	bad := testZoneBody(1)
	bad["relay_pins"] = []int{}
	resp = postJSON(t, srv.URL+"/api/zones", bad)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	// Zone limit -> 409.
	for id := 1; id <= engine.DefaultMaxZones; id++ {
		resp := postJSON(t, srv.URL+"/api/zones", testZoneBody(id))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}
	resp = postJSON(t, srv.URL+"/api/zones", testZoneBody(engine.DefaultMaxZones+1))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// Malformed body -> 400.
	r, err := http.Post(srv.URL+"/api/zones", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
	r.Body.Close()
}

func TestRelaySetAndList(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/zones", testZoneBody(1))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/relays/set", map[string]interface{}{"pin": 12, "on": true})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Unknown pin -> 404.
	resp = postJSON(t, srv.URL+"/api/relays/set", map[string]interface{}{"pin": 99, "on": true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	listResp, err := http.Get(srv.URL + "/api/relays")
	require.NoError(t, err)
	defer listResp.Body.Close()

	var list struct {
		Relays []RelayStatistics `json:"relays"`
		Count  int               `json:"count"`
	}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, 12, list.Relays[0].Pin)
	assert.True(t, list.Relays[0].Active)
}

func TestEmergencyStop(t *testing.T) {
	srv, backend := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/emergency-stop", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.True(t, backend.stopped)
}

func TestStatisticsAndReset(t *testing.T) {
	srv, backend := newTestServer(t)
	backend.frames = 42

	resp, err := http.Get(srv.URL + "/api/statistics")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats Statistics
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, uint64(42), stats.FramesProcessed)

	r := postJSON(t, srv.URL+"/api/statistics/reset", nil)
	assert.Equal(t, http.StatusOK, r.StatusCode)
	r.Body.Close()
	assert.True(t, backend.statsReset)
}

func TestHealthAndReadiness(t *testing.T) {
	srv, backend := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/readiness")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	backend.ready = false
	resp, err = http.Get(srv.URL + "/readiness")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestSystemAndStreamStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/system")
	require.NoError(t, err)
	defer resp.Body.Close()

	var sys SystemStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sys))
	assert.Equal(t, "test", sys.InstanceID)

	streamResp, err := http.Get(srv.URL + "/api/stream/status")
	require.NoError(t, err)
	defer streamResp.Body.Close()

	var stream types.StreamStats
	require.NoError(t, json.NewDecoder(streamResp.Body).Decode(&stream))
	assert.Equal(t, "connected", stream.StateName)
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
