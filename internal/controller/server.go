// Package controller implements the Controller's HTTP surface and
// startup/shutdown lifecycle: one Manager per configured device, a
// gorilla/mux router mapping routes to action submissions and status
// reads, and graceful shutdown on interrupt.
package controller

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/negroni"
	"go.uber.org/zap"

	"github.com/bnavetta/samwise/internal/device"
	"github.com/bnavetta/samwise/internal/id"
	"github.com/bnavetta/samwise/internal/samerr"
)

// statusResponse is the GET /device/{id}/status body, serde-tagged the
// way the original server.rs tags StatusResponse: a "state" field and
// an optional "target".
type statusResponse struct {
	State  string `json:"state"`
	Target string `json:"target,omitempty"`
}

func statusResponseFor(s device.State) statusResponse {
	switch s.Kind {
	case device.StateRunning:
		return statusResponse{State: "running", Target: s.Target.String()}
	case device.StateOff:
		return statusResponse{State: "off"}
	default:
		return statusResponse{State: "unknown"}
	}
}

type actionResponse struct {
	Success bool   `json:"success"`
	Device  string `json:"device"`
	Action  string `json:"action"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type runRequest struct {
	Target string `json:"target"`
}

// maxRunBodyBytes bounds the POST /device/{id}/run body, matching the
// original server's content_length_limit(1024).
const maxRunBodyBytes = 1024

var actionsSubmitted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "samwise_actions_submitted_total",
		Help: "Actions submitted to a device's action queue, by device and action kind.",
	},
	[]string{"device", "action"},
)

var requestLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "samwise_http_request_duration_seconds",
		Help:    "Latency of Controller HTTP handlers.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"route"},
)

func init() {
	prometheus.MustRegister(actionsSubmitted, requestLatency)
}

// Server is the Controller's HTTP surface. It holds an immutable
// map from DeviceId to Handle, built once at startup.
type Server struct {
	devices map[id.DeviceId]*device.Handle
	log     *zap.Logger
}

// NewServer builds a Server over the given immutable device map.
func NewServer(devices map[id.DeviceId]*device.Handle, log *zap.Logger) *Server {
	return &Server{devices: devices, log: log}
}

// Router builds the gorilla/mux router for the Controller's HTTP
// surface, wrapped in negroni panic recovery the way ap.httpd wraps
// its own routers.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/device/{id}/status", withLatency("status", s.withDevice(s.handleStatus))).Methods("GET")
	r.HandleFunc("/device/{id}/suspend", withLatency("suspend", s.withDevice(s.handleAction(device.ActionSuspend)))).Methods("POST")
	r.HandleFunc("/device/{id}/shutdown", withLatency("shutdown", s.withDevice(s.handleAction(device.ActionShutDown)))).Methods("POST")
	r.HandleFunc("/device/{id}/reboot", withLatency("reboot", s.withDevice(s.handleAction(device.ActionReboot)))).Methods("POST")
	r.HandleFunc("/device/{id}/run", withLatency("run", s.withDevice(s.handleRun))).Methods("POST")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	n := negroni.New(negroni.NewRecovery())
	n.UseHandler(r)
	return n
}

// withLatency times next and records it under route in requestLatency,
// matching ap.httpd's t := time.Now() / latencies.Observe idiom.
func withLatency(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t := time.Now()
		next(w, r)
		requestLatency.WithLabelValues(route).Observe(time.Since(t).Seconds())
	}
}

// deviceHandlerFunc is an http.HandlerFunc that already has the
// requested device resolved.
type deviceHandlerFunc func(h *device.Handle, w http.ResponseWriter, r *http.Request)

// withDevice resolves {id} from the route and looks it up in the
// immutable device map, replying 404 if it's unknown before calling
// next.
func (s *Server) withDevice(next deviceHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		deviceID, err := id.ParseDeviceId(vars["id"])
		if err != nil {
			writeNotFound(w)
			return
		}

		h, ok := s.devices[deviceID]
		if !ok {
			writeNotFound(w)
			return
		}

		next(h, w, r)
	}
}

func (s *Server) handleStatus(h *device.Handle, w http.ResponseWriter, r *http.Request) {
	resp := statusResponseFor(h.LatestState())
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAction(kind device.ActionKind) deviceHandlerFunc {
	return func(h *device.Handle, w http.ResponseWriter, r *http.Request) {
		s.submit(h, w, device.Action{Kind: kind})
	}
}

func (s *Server) handleRun(h *device.Handle, w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRunBodyBytes)

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusInternalServerError, "invalid request body")
		return
	}

	target, err := parseTarget(req.Target)
	if err != nil {
		writeError(w, samerr.HTTPStatus(samerr.KindOf(err)), err.Error())
		return
	}

	s.submit(h, w, device.Action{Kind: device.ActionRun, Target: target})
}

func (s *Server) submit(h *device.Handle, w http.ResponseWriter, action device.Action) {
	result := h.Submit(action)
	switch result {
	case device.SubmitOK:
		actionsSubmitted.WithLabelValues(h.ID().String(), action.String()).Inc()
		writeJSON(w, http.StatusOK, actionResponse{
			Success: true,
			Device:  h.ID().String(),
			Action:  action.String(),
		})
	case device.SubmitBusy:
		writeError(w, http.StatusServiceUnavailable,
			"device "+h.ID().String()+" is busy with another action")
	case device.SubmitClosed:
		writeError(w, http.StatusServiceUnavailable,
			"device "+h.ID().String()+" is shutting down")
	}
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeNotFound(w)
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeNotFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "Not found")
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg})
}

func parseTarget(s string) (id.TargetId, error) {
	if s == "" {
		return "", samerr.New(samerr.KindUnknownTarget, "target is required")
	}
	return id.TargetId(s), nil
}
