// Package monitor serves the web UI and HTTP API for the person counter:
// an MJPEG preview, status and event streams over SSE, and the control
// endpoints the page drives.
package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/andresvm/person-counter/internal/config"
	"github.com/andresvm/person-counter/internal/eventlog"
	"github.com/andresvm/person-counter/internal/logger"
	"github.com/andresvm/person-counter/internal/metrics"
	"github.com/andresvm/person-counter/internal/pipeline"
	"github.com/andresvm/person-counter/pkg/types"
)

const moduleName = "monitor"

// Controller is the pipeline surface the monitor drives.
type Controller interface {
	Start() error
	Stop()
	Reset()
	Running() bool
	Snapshot() *types.Snapshot
	SetConfidence(v float64) float64
	SetFrameSkip(v int) int
	Settings() (confidence, nms float64, frameSkip int)
}

// Server serves the monitor endpoints.
type Server struct {
	cfg     config.Monitor
	ctrl    Controller
	frames  *FrameBroadcaster
	status  *StatusBroadcaster
	events  *eventlog.Log
	started time.Time
}

// NewServer wires the monitor around a controller. The status broadcaster
// starts immediately.
func NewServer(cfg config.Monitor, ctrl Controller, events *eventlog.Log, mets *metrics.Metrics) *Server {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = config.Default().Monitor.StatusInterval
	}

	status := NewStatusBroadcaster(ctrl, cfg.StatusInterval)
	status.Start()

	return &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		frames:  NewFrameBroadcaster(mets),
		status:  status,
		events:  events,
		started: time.Now(),
	}
}

// Frames exposes the frame fanout so the pipeline can publish into it.
func (s *Server) Frames() *FrameBroadcaster {
	return s.frames
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/events/stream", s.handleEventsStream)
	mux.HandleFunc("/api/control/start", s.handleStart)
	mux.HandleFunc("/api/control/stop", s.handleStop)
	mux.HandleFunc("/api/control/reset", s.handleReset)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/health", s.handleHealth)

	return mux
}

// Start serves the monitor on its configured address. It blocks.
func (s *Server) Start() error {
	logger.Info(moduleName, "monitor listening on %s", s.cfg.Addr)
	return http.ListenAndServe(s.cfg.Addr, s.Handler())
}

// Close stops the status broadcaster.
func (s *Server) Close() {
	s.status.Stop()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)
	streamMJPEG(w, frameCh)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, statusPayload(s.ctrl))
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.status.Subscribe()
	defer s.status.Unsubscribe(id)
	streamSerializedEvents(w, eventCh, wantsProtobuf(r))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"events": s.events.Recent()})
}

func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	streamEventLog(w, s.events)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.ctrl.Start(); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, pipeline.ErrAlreadyRunning):
			status = http.StatusConflict
		case errors.Is(err, pipeline.ErrDetectorNotLoaded):
			status = http.StatusServiceUnavailable
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}
	writeJSON(w, map[string]any{"status": "running"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.ctrl.Stop()
	writeJSON(w, map[string]any{"status": "stopped"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.ctrl.Reset()
	writeJSON(w, map[string]any{"status": "reset"})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, settingsPayload(s.ctrl))

	case http.MethodPost:
		var req struct {
			ConfidenceThreshold *float64 `json:"confidence_threshold"`
			FrameSkip           *int     `json:"frame_skip"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONWithStatus(w, map[string]any{"error": "invalid config payload"}, http.StatusBadRequest)
			return
		}

		if req.ConfidenceThreshold != nil {
			s.ctrl.SetConfidence(*req.ConfidenceThreshold)
		}
		if req.FrameSkip != nil {
			s.ctrl.SetFrameSkip(*req.FrameSkip)
		}
		writeJSON(w, settingsPayload(s.ctrl))

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.ctrl.Snapshot()
	writeJSON(w, map[string]any{
		"status":          "ok",
		"running":         snap.Pipeline.Running,
		"detector_loaded": snap.Pipeline.DetectorLoaded,
		"uptime_seconds":  time.Since(s.started).Seconds(),
	})
}

// statusPayload renders the controller snapshot as the status document shared
// by /api/status and the status SSE stream.
func statusPayload(ctrl Controller) map[string]any {
	snap := ctrl.Snapshot()
	return map[string]any{
		"pipeline":         snap.Pipeline,
		"occupancy":        snap.Occupancy,
		"session":          snap.Session,
		"latest_detection": snap.LatestDetection,
		"timestamp":        float64(time.Now().Unix()),
	}
}

func settingsPayload(ctrl Controller) map[string]any {
	conf, nms, skip := ctrl.Settings()
	return map[string]any{
		"confidence_threshold": conf,
		"nms_threshold":        nms,
		"frame_skip":           skip,
	}
}

func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
