package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/energyctl/internal/events"
	"github.com/cjeanneret/energyctl/internal/logic/backlash"
	"github.com/cjeanneret/energyctl/internal/logic/energy"
	"github.com/cjeanneret/energyctl/internal/logic/lifecycle"
	"github.com/cjeanneret/energyctl/internal/logic/motion"
)

const hc = 12.398419843320026

type fakeMover struct {
	bus *events.Bus

	mu        sync.Mutex
	moveErr   error
	stopErr   error
	limitsErr error
	waveErr   error
	energies  []float64
	stops     int
}

func newFakeMover() *fakeMover {
	return &fakeMover{bus: events.NewBus(16)}
}

func (m *fakeMover) MoveEnergy(_ context.Context, e float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.moveErr != nil {
		return 0, m.moveErr
	}
	m.energies = append(m.energies, e)
	return e, nil
}

func (m *fakeMover) MoveWavelength(ctx context.Context, w float64) (float64, error) {
	return m.MoveEnergy(ctx, hc/w)
}

func (m *fakeMover) CancelMove(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	return m.stopErr
}

func (m *fakeMover) Limits(context.Context) (energy.Limits, error) {
	if m.limitsErr != nil {
		return energy.Limits{}, m.limitsErr
	}
	return energy.Limits{Min: 5, Max: 20}, nil
}

func (m *fakeMover) WavelengthLimits(context.Context) (energy.Limits, error) {
	if m.waveErr != nil {
		return energy.Limits{}, m.waveErr
	}
	return energy.Limits{Min: hc / 20, Max: hc / 5}, nil
}

func (m *fakeMover) Snapshot() motion.Snapshot {
	e := 12.0
	return motion.Snapshot{Status: lifecycle.StatusReady, Phase: lifecycle.PhaseIdle, Energy: &e}
}

func (m *fakeMover) Diagnostics(context.Context) motion.Diagnostics {
	pos, gap := 12.0, 9.0
	return motion.Diagnostics{
		CanMove:  true,
		State:    "STANDBY",
		Position: &pos,
		Gap:      &gap,
		Errors:   map[string]string{"wavelength": "bl/mono/energy: device unreachable"},
	}
}

func (m *fakeMover) Backlash() (bool, backlash.Params) {
	return true, backlash.Params{
		Backlash:     0.1,
		GapLimit:     5.5,
		PollInterval: 200 * time.Millisecond,
		Timeout:      30 * time.Second,
		SettleDelay:  time.Second,
	}
}

func (m *fakeMover) Subscribe(context.Context) (<-chan events.Envelope, func()) {
	return m.bus.Subscribe(events.StatusChanged{Status: lifecycle.StatusReady})
}

func newTestHandlers(m *fakeMover) *Handlers {
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
	}
	return NewHandlers(m, Info{Primary: "bl/mono/energy", Secondary: "bl/u20/gap"}, staticFS)
}

func newTestRouter(m *fakeMover, perMinute int) http.Handler {
	s := &Server{
		opts:     Options{MoveRequestsPerMinute: perMinute},
		handlers: newTestHandlers(m),
	}
	return s.Router()
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"]
}

// ---------- ValidateTarget ----------

func TestValidateTarget(t *testing.T) {
	cases := []struct {
		name    string
		v       float64
		wantErr bool
	}{
		{"typical", 12.4, false},
		{"tiny", 1e-6, false},
		{"zero", 0, true},
		{"negative", -1, true},
		{"nan", math.NaN(), true},
		{"pos_inf", math.Inf(1), true},
		{"neg_inf", math.Inf(-1), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateTarget("energy", tc.v)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// ---------- Moves ----------

func TestHandleMoveEnergy_Valid(t *testing.T) {
	m := newFakeMover()
	w := post(t, newTestRouter(m, 0), "/energy", `{"energy": 12.5}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var resp MoveResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 12.5, resp.Energy)
	assert.Equal(t, []float64{12.5}, m.energies)
}

func TestHandleMoveWavelength_Valid(t *testing.T) {
	m := newFakeMover()
	w := post(t, newTestRouter(m, 0), "/wavelength", `{"wavelength": 1.0}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp MoveResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.InDelta(t, hc, resp.Energy, 1e-12)
}

func TestHandleMove_GetMethodNotAllowed(t *testing.T) {
	w := get(t, newTestRouter(newFakeMover(), 0), "/energy")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleMove_InvalidJSON(t *testing.T) {
	w := post(t, newTestRouter(newFakeMover(), 0), "/energy", "not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid JSON", errorBody(t, w))
}

func TestHandleMove_InvalidTarget(t *testing.T) {
	m := newFakeMover()
	router := newTestRouter(m, 0)
	for _, body := range []string{`{"energy": 0}`, `{"energy": -3}`, `{}`} {
		w := post(t, router, "/energy", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	w := post(t, router, "/wavelength", `{"wavelength": -1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, m.energies)
}

func TestHandleMove_OversizedBody(t *testing.T) {
	big := `{"energy": 12, "pad": "` + strings.Repeat("x", maxBodyBytes) + `"}`
	w := post(t, newTestRouter(newFakeMover(), 0), "/energy", big)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleMove_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"already_moving", motion.ErrAlreadyMoving, http.StatusConflict},
		{"commit_failed", fmt.Errorf("%w: bl/mono/energy: boom", motion.ErrCommitFailed), http.StatusBadGateway},
		{"conversion", energy.ErrConversionUnavailable, http.StatusServiceUnavailable},
		{"limits", energy.ErrLimitsUnavailable, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newFakeMover()
			m.moveErr = tc.err
			w := post(t, newTestRouter(m, 0), "/energy", `{"energy": 12}`)
			assert.Equal(t, tc.want, w.Code)
			assert.Equal(t, tc.err.Error(), errorBody(t, w))
		})
	}
}

func TestHandleMove_RateLimiting(t *testing.T) {
	router := newTestRouter(newFakeMover(), 1)

	w1 := post(t, router, "/energy", `{"energy": 12}`)
	require.Equal(t, http.StatusOK, w1.Code)

	w2 := post(t, router, "/wavelength", `{"wavelength": 1}`)
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)
	assert.Equal(t, "60", w2.Header().Get("Retry-After"))

	// Stop is never rate limited.
	w3 := post(t, router, "/stop", "")
	assert.Equal(t, http.StatusOK, w3.Code)
}

// ---------- Stop ----------

func TestHandleStop(t *testing.T) {
	m := newFakeMover()
	w := post(t, newTestRouter(m, 0), "/stop", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"stopped"}`, w.Body.String())
	assert.Equal(t, 1, m.stops)
}

func TestHandleStop_DeviceError(t *testing.T) {
	m := newFakeMover()
	m.stopErr = errors.New("stop bl/mono/energy: unreachable")
	w := post(t, newTestRouter(m, 0), "/stop", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

// ---------- Queries ----------

func TestHandleLimits(t *testing.T) {
	w := get(t, newTestRouter(newFakeMover(), 0), "/limits")
	require.Equal(t, http.StatusOK, w.Code)

	var resp LimitsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, energy.Limits{Min: 5, Max: 20}, resp.Energy)
	require.NotNil(t, resp.Wavelength)
	assert.InDelta(t, hc/20, resp.Wavelength.Min, 1e-12)
	assert.InDelta(t, hc/5, resp.Wavelength.Max, 1e-12)
}

func TestHandleLimits_WavelengthUnavailable(t *testing.T) {
	m := newFakeMover()
	m.waveErr = energy.ErrLimitsUnavailable
	w := get(t, newTestRouter(m, 0), "/limits")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"wavelength":null`)
}

func TestHandleLimits_EnergyUnavailable(t *testing.T) {
	m := newFakeMover()
	m.limitsErr = energy.ErrLimitsUnavailable
	w := get(t, newTestRouter(m, 0), "/limits")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleStatus(t *testing.T) {
	w := get(t, newTestRouter(newFakeMover(), 0), "/status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"status": "ready",
		"phase": "idle",
		"busy": false,
		"energy": 12,
		"backlash": false,
		"device": {
			"can_move": true,
			"state": "STANDBY",
			"position": 12,
			"gap": 9,
			"errors": {"wavelength": "bl/mono/energy: device unreachable"}
		}
	}`, w.Body.String())
}

func TestHandleConfig(t *testing.T) {
	w := get(t, newTestRouter(newFakeMover(), 0), "/config")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ConfigResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, ConfigResponse{
		Info:           Info{Primary: "bl/mono/energy", Secondary: "bl/u20/gap"},
		Backlash:       true,
		BacklashMm:     0.1,
		GapLimitMm:     5.5,
		SettleDelayMs:  1000,
		PollIntervalMs: 200,
		WaitTimeoutMs:  30000,
	}, resp)
}

func TestServeIndex(t *testing.T) {
	w := get(t, newTestRouter(newFakeMover(), 0), "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Equal(t, "<html>test</html>", w.Body.String())
}

func TestServeIndex_Missing(t *testing.T) {
	h := NewHandlers(newFakeMover(), Info{}, fstest.MapFS{})
	w := httptest.NewRecorder()
	h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	w := get(t, newTestRouter(newFakeMover(), 0), "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
}

// ---------- Event streams ----------

func TestHandleEventStream(t *testing.T) {
	m := newFakeMover()
	srv := httptest.NewServer(newTestRouter(m, 0))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		t.Helper()
		var kind, data string
		for {
			line, err := r.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				kind = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && kind != "":
				return kind, data
			}
		}
	}

	kind, data := readEvent()
	assert.Equal(t, "statusChanged", kind)
	assert.Contains(t, data, `"status":"ready"`)

	require.Eventually(t, func() bool { return m.bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	m.bus.Publish(events.MoveStarted{MoveID: "abc", Target: 12})
	kind, data = readEvent()
	assert.Equal(t, "moveStarted", kind)
	assert.Contains(t, data, `"move_id":"abc"`)

	cancel()
	require.Eventually(t, func() bool { return m.bus.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHandleWebSocket(t *testing.T) {
	m := newFakeMover()
	srv := httptest.NewServer(newTestRouter(m, 0))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	type message struct {
		Kind string          `json:"kind"`
		Data json.RawMessage `json:"data"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "statusChanged", msg.Kind)
	assert.JSONEq(t, `{"status":"ready"}`, string(msg.Data))

	require.Eventually(t, func() bool { return m.bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	m.bus.Publish(events.EnergyChanged{Energy: 12, Wavelength: hc / 12})
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "energyChanged", msg.Kind)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return m.bus.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWriteJSON_Encodes(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusAccepted, map[string]int{"n": 1})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "{\"n\":1}\n", w.Body.String())
	assert.True(t, bytes.HasSuffix(w.Body.Bytes(), []byte("\n")))
}
