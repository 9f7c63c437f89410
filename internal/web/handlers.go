package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cjeanneret/energyctl/internal/debug"
	"github.com/cjeanneret/energyctl/internal/events"
	"github.com/cjeanneret/energyctl/internal/logic/backlash"
	"github.com/cjeanneret/energyctl/internal/logic/energy"
	"github.com/cjeanneret/energyctl/internal/logic/motion"
)

// maxBodyBytes bounds request bodies on POST endpoints.
const maxBodyBytes = 1 << 20

// heartbeat is the idle keep-alive period of event streams.
var heartbeat = 30 * time.Second

// Mover is the subset of the motion controller used by the handlers.
type Mover interface {
	MoveEnergy(ctx context.Context, e float64) (float64, error)
	MoveWavelength(ctx context.Context, w float64) (float64, error)
	CancelMove(ctx context.Context) error
	Limits(ctx context.Context) (energy.Limits, error)
	WavelengthLimits(ctx context.Context) (energy.Limits, error)
	Snapshot() motion.Snapshot
	Diagnostics(ctx context.Context) motion.Diagnostics
	Backlash() (bool, backlash.Params)
	Subscribe(ctx context.Context) (<-chan events.Envelope, func())
}

// Info describes the configured beamline for GET /config.
type Info struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
}

// EnergyRequest is the body of POST /energy.
type EnergyRequest struct {
	Energy float64 `json:"energy"`
}

// WavelengthRequest is the body of POST /wavelength.
type WavelengthRequest struct {
	Wavelength float64 `json:"wavelength"`
}

// MoveResponse reports the committed energy.
type MoveResponse struct {
	Energy float64 `json:"energy"`
}

// LimitsResponse carries energy and wavelength limits. Wavelength is nil
// when it cannot be resolved.
type LimitsResponse struct {
	Energy     energy.Limits  `json:"energy"`
	Wavelength *energy.Limits `json:"wavelength"`
}

// ConfigResponse is returned by GET /config.
type ConfigResponse struct {
	Info
	Backlash       bool    `json:"backlash"`
	BacklashMm     float64 `json:"backlash_mm"`
	GapLimitMm     float64 `json:"gap_limit_mm"`
	SettleDelayMs  int64   `json:"settle_delay_ms"`
	PollIntervalMs int64   `json:"poll_interval_ms"`
	WaitTimeoutMs  int64   `json:"wait_timeout_ms"`
}

// StatusResponse is returned by GET /status: the cached snapshot plus a
// live read of the devices.
type StatusResponse struct {
	motion.Snapshot
	Device motion.Diagnostics `json:"device"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Mover    Mover
	Info     Info
	staticFS fs.FS
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(mover Mover, info Info, staticFS fs.FS) *Handlers {
	return &Handlers{
		Mover:    mover,
		Info:     info,
		staticFS: staticFS,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger: debug.Component("web"),
	}
}

// ValidateTarget checks that a requested energy or wavelength is a finite
// positive number.
func ValidateTarget(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s must be a finite number", name)
	}
	if v <= 0 {
		return fmt.Errorf("%s must be > 0, got %g", name, v)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, motion.ErrAlreadyMoving):
		return http.StatusConflict
	case errors.Is(err, motion.ErrCommitFailed):
		return http.StatusBadGateway
	case errors.Is(err, energy.ErrConversionUnavailable), errors.Is(err, energy.ErrLimitsUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// HandleMoveEnergy handles POST /energy.
func (h *Handlers) HandleMoveEnergy(w http.ResponseWriter, r *http.Request) {
	var req EnergyRequest
	if !decode(w, r, &req) {
		return
	}
	if err := ValidateTarget("energy", req.Energy); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// The move outlives a client disconnect once accepted.
	e, err := h.Mover.MoveEnergy(context.WithoutCancel(r.Context()), req.Energy)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, MoveResponse{Energy: e})
}

// HandleMoveWavelength handles POST /wavelength.
func (h *Handlers) HandleMoveWavelength(w http.ResponseWriter, r *http.Request) {
	var req WavelengthRequest
	if !decode(w, r, &req) {
		return
	}
	if err := ValidateTarget("wavelength", req.Wavelength); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	e, err := h.Mover.MoveWavelength(context.WithoutCancel(r.Context()), req.Wavelength)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, MoveResponse{Energy: e})
}

// HandleStop handles POST /stop.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if err := h.Mover.CancelMove(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// HandleLimits handles GET /limits.
func (h *Handlers) HandleLimits(w http.ResponseWriter, r *http.Request) {
	el, err := h.Mover.Limits(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	resp := LimitsResponse{Energy: el}
	if wl, err := h.Mover.WavelengthLimits(r.Context()); err == nil {
		resp.Wavelength = &wl
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleStatus handles GET /status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Snapshot: h.Mover.Snapshot(),
		Device:   h.Mover.Diagnostics(r.Context()),
	})
}

// HandleConfig returns the beamline description and backlash settings.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	enabled, p := h.Mover.Backlash()
	writeJSON(w, http.StatusOK, ConfigResponse{
		Info:           h.Info,
		Backlash:       enabled,
		BacklashMm:     p.Backlash,
		GapLimitMm:     p.GapLimit,
		SettleDelayMs:  p.SettleDelay.Milliseconds(),
		PollIntervalMs: p.PollInterval.Milliseconds(),
		WaitTimeoutMs:  p.Timeout.Milliseconds(),
	})
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

// HandleEventStream handles GET /events/stream for SSE.
func (h *Handlers) HandleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Mover.Subscribe(r.Context())
	defer unsub()

	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Kind, data)
			flusher.Flush()

		case <-ticker.C:
			_, _ = w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// HandleWebSocket handles GET /events/ws. Each event is sent as one JSON
// text message; client messages are ignored.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("event", "ws.upgrade_failed").Msg("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	ch, unsub := h.Mover.Subscribe(ctx)
	defer unsub()

	// Reader: detect close frames and disconnects.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer func() {
		_ = conn.Close()
		<-readDone
	}()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-readDone:
			return
		case <-ctx.Done():
			return
		}
	}
}
