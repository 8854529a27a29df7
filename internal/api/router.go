package api

import (
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the HTTP facade over the manager.
func NewRouter(h *Handler) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.Healthz).Methods("GET")
	r.HandleFunc("/status", h.GetStatus).Methods("GET")

	r.HandleFunc("/devices", h.GetConnectedDevices).Methods("GET")
	r.HandleFunc("/devices/scan", h.ScanForDevices).Methods("POST")
	r.HandleFunc("/devices/{id}/connect", h.ConnectToDevice).Methods("POST")
	r.HandleFunc("/devices/{id}", h.DisconnectFromDevice).Methods("DELETE")

	r.HandleFunc("/data/aggregated", h.GetAggregatedHealthData).Methods("GET")
	r.HandleFunc("/data/{metric}", h.GetHealthData).Methods("GET")

	r.HandleFunc("/sensors/{type}/start", h.StartSensorMonitoring).Methods("POST")
	r.HandleFunc("/sensors/{type}/stop", h.StopSensorMonitoring).Methods("POST")

	r.HandleFunc("/config", h.UpdateConfiguration).Methods("PATCH")
	r.HandleFunc("/sync/flush", h.FlushSyncQueue).Methods("POST")

	r.HandleFunc("/ws", h.ServeWebSocket)
	r.Handle("/metrics", promhttp.Handler())

	return handlers.RecoveryHandler()(handlers.CombinedLoggingHandler(os.Stdout, r))
}
