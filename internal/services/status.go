package services

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/dpup/crosswalk/server/internal/lib/routing"
)

const kmlContentType = "application/vnd.google-earth.kml+xml"

// StatusHandler exposes session state over HTTP
type StatusHandler struct {
	session   *Session
	navigator *Navigator
	logger    *zap.Logger
}

// NewStatusHandler creates a status handler
func NewStatusHandler(session *Session, navigator *Navigator, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		session:   session,
		navigator: navigator,
		logger:    logger.With(zap.String("component", "status")),
	}
}

// DestinationRequest is the body of POST /v1/destination
type DestinationRequest struct {
	Destination string `json:"destination"`
}

// Status serves GET /v1/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, h.session.Status())
}

// Destination serves POST /v1/destination. An empty destination clears it.
func (h *StatusHandler) Destination(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req DestinationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	h.navigator.SetDestination(req.Destination)
	h.logger.Info("Destination requested", zap.String("destination", req.Destination))
	h.writeJSON(w, http.StatusAccepted, req)
}

// RouteKML serves GET /v1/route.kml with the current route
func (h *StatusHandler) RouteKML(w http.ResponseWriter, r *http.Request) {
	route, origin, ok := h.navigator.Route()
	if !ok {
		http.Error(w, "no route", http.StatusNotFound)
		return
	}

	name := h.navigator.Status().Destination
	if name == "" {
		name = route.Summary
	}

	w.Header().Set("Content-Type", kmlContentType)
	if err := routing.WriteKML(w, name, origin.Point, route); err != nil {
		h.logger.Error("Failed to write route KML", zap.Error(err))
	}
}

// Healthz serves GET /healthz
func (h *StatusHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	status := h.session.Status()
	code := http.StatusOK
	if !status.Running {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, map[string]interface{}{
		"ok":       status.Running,
		"session":  status.ID,
		"failures": len(status.Failures),
	})
}

func (h *StatusHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
