package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeonardoBeccarini/iot_query/internal/readings"
)

// Connection is the part of mqtt.Client the probes need.
type Connection interface {
	IsConnectionOpen() bool
}

type health struct {
	mqtt     Connection
	store    readings.Pinger
	svc      *Service
	minError time.Duration
}

func (h *health) status(ctx context.Context) (mqttOK, storeOK bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return h.mqtt != nil && h.mqtt.IsConnectionOpen(), h.store.Ping(ctx) == nil
}

func (h *health) healthz(w http.ResponseWriter, r *http.Request) {
	type status struct {
		Status          string  `json:"status"`
		MQTTConnected   bool    `json:"mqtt_connected"`
		StoreOK         bool    `json:"store_ok"`
		LastWriteErrorS float64 `json:"last_write_error_age_sec"`
	}
	st := status{LastWriteErrorS: h.svc.LastErrorAge().Seconds()}
	st.MQTTConnected, st.StoreOK = h.status(r.Context())

	// ok se deps ok e nessun errore recente di scrittura
	switch {
	case st.MQTTConnected && st.StoreOK && h.svc.LastErrorAge() > 30*time.Second:
		st.Status = "ok"
	case st.MQTTConnected || st.StoreOK:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

func (h *health) readyz(w http.ResponseWriter, r *http.Request) {
	mqttOK, storeOK := h.status(r.Context())
	ready := mqttOK && storeOK && h.svc.LastErrorAge() > h.minError
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(struct {
		Ready bool `json:"ready"`
	}{ready})
}

// Router serves /healthz, /readyz and /metrics for the bridge.
func Router(conn Connection, store readings.Pinger, svc *Service, gatherer prometheus.Gatherer) http.Handler {
	h := &health{mqtt: conn, store: store, svc: svc, minError: 2 * time.Second}
	r := chi.NewRouter()
	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}
