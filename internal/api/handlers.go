// Package api exposes the device-integration facade over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"device-hub/internal/config"
	"device-hub/internal/devices"
	"device-hub/internal/hub"
	"device-hub/internal/manager"
	"device-hub/internal/models"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler adapts manager calls to HTTP.
type Handler struct {
	mgr *manager.Manager
	hub *hub.Hub
	log *zap.Logger
}

// NewHandler builds the handler set.
func NewHandler(mgr *manager.Manager, h *hub.Hub, log *zap.Logger) *Handler {
	return &Handler{mgr: mgr, hub: h, log: log}
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// GetStatus returns the manager snapshot.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.mgr.GetStatus())
}

// ScanForDevices runs a discovery pass.
func (h *Handler) ScanForDevices(w http.ResponseWriter, r *http.Request) {
	found, err := h.mgr.ScanForDevices(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"devices": found})
}

// ConnectToDevice connects to the device named in the path.
func (h *Handler) ConnectToDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	d, err := h.mgr.ConnectToDevice(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, d)
}

// DisconnectFromDevice drops the connection; 404 when not connected.
func (h *Handler) DisconnectFromDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ok, err := h.mgr.DisconnectFromDevice(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		h.writeJSON(w, r, http.StatusNotFound, map[string]string{"error": "device not connected"})
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]string{"status": "disconnected"})
}

// GetConnectedDevices lists the connection registry.
func (h *Handler) GetConnectedDevices(w http.ResponseWriter, r *http.Request) {
	ds, err := h.mgr.GetConnectedDevices()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"devices": ds})
}

// GetAggregatedHealthData serves /data/aggregated?days=N.
func (h *Handler) GetAggregatedHealthData(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "days must be an integer"})
			return
		}
		days = parsed
	}
	agg, err := h.mgr.GetAggregatedHealthData(r.Context(), days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, agg)
}

// GetHealthData serves /data/{metric}?start=&end= (RFC 3339).
func (h *Handler) GetHealthData(w http.ResponseWriter, r *http.Request) {
	metric := models.MetricType(mux.Vars(r)["metric"])

	end := time.Now()
	start := end.AddDate(0, 0, -7)
	if raw := r.URL.Query().Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "start must be RFC 3339"})
			return
		}
		start = t
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "end must be RFC 3339"})
			return
		}
		end = t
	}

	points, err := h.mgr.GetHealthData(r.Context(), metric, start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"points": points})
}

// StartSensorMonitoring starts one sensor stream.
func (h *Handler) StartSensorMonitoring(w http.ResponseWriter, r *http.Request) {
	t := models.SensorType(mux.Vars(r)["type"])
	started, err := h.mgr.StartSensorMonitoring(t)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]bool{"monitoring": started})
}

// StopSensorMonitoring stops one sensor stream.
func (h *Handler) StopSensorMonitoring(w http.ResponseWriter, r *http.Request) {
	t := models.SensorType(mux.Vars(r)["type"])
	stopped, err := h.mgr.StopSensorMonitoring(t)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]bool{"stopped": stopped})
}

// UpdateConfiguration applies a partial config update.
func (h *Handler) UpdateConfiguration(w http.ResponseWriter, r *http.Request) {
	var upd config.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		h.writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.mgr.UpdateConfiguration(upd); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]string{"status": "updated"})
}

// FlushSyncQueue forces an immediate flush outside the timer.
func (h *Handler) FlushSyncQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.mgr.Syncer().Flush(r.Context()); err != nil {
		h.writeJSON(w, r, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"queue_size": h.mgr.Syncer().QueueSize(),
		"last_sync":  h.mgr.Syncer().LastSyncTime(),
	})
}

// ServeWebSocket upgrades the connection and attaches it to the hub.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	hub.NewClient(h.hub, conn, h.log.Named("ws"))
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	start := time.Now()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("response encode failed", zap.Error(err))
	}
	requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(status)).Inc()
}

// writeError maps manager errors to HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, manager.ErrNotInitialized):
		status = http.StatusConflict
	case errors.Is(err, manager.ErrInvalidWindow):
		status = http.StatusBadRequest
	case errors.Is(err, devices.ErrConnectFailed):
		// Expected transient failure, not an internal error.
		status = http.StatusBadGateway
	}
	h.writeJSON(w, r, status, map[string]string{"error": err.Error()})
}
