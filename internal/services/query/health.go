package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/iot_query/internal/readings"
)

// Probe checks the dependencies the query path needs.
type Probe struct {
	store   readings.Pinger
	breaker interface{ State() gobreaker.State }
	devices int
	timeout time.Duration
}

// NewProbe; breaker may be nil.
func NewProbe(store readings.Pinger, breaker interface{ State() gobreaker.State }, devices int) *Probe {
	return &Probe{store: store, breaker: breaker, devices: devices, timeout: 2 * time.Second}
}

type probeStatus struct {
	Status       string `json:"status"`
	StoreOK      bool   `json:"store_ok"`
	StoreError   string `json:"store_error,omitempty"`
	Breaker      string `json:"breaker,omitempty"`
	IndexDevices int    `json:"index_devices"`
}

func (p *Probe) check(ctx context.Context) probeStatus {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	st := probeStatus{IndexDevices: p.devices}
	if err := p.store.Ping(ctx); err != nil {
		st.StoreError = err.Error()
	} else {
		st.StoreOK = true
	}
	open := false
	if p.breaker != nil {
		s := p.breaker.State()
		st.Breaker = s.String()
		open = s == gobreaker.StateOpen
	}
	// store giù => down; store su ma breaker aperto => degraded
	switch {
	case !st.StoreOK:
		st.Status = "down"
	case open:
		st.Status = "degraded"
	default:
		st.Status = "ok"
	}
	return st
}

// Ready reports whether queries can currently be answered from the store.
func (p *Probe) Ready(ctx context.Context) bool {
	return p.check(ctx).Status == "ok"
}

func (p *Probe) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p.check(r.Context()))
}

func (p *Probe) readyz(w http.ResponseWriter, r *http.Request) {
	ready := p.Ready(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(struct {
		Ready bool `json:"ready"`
	}{ready})
}

// AdminRouter serves /healthz, /readyz and /metrics.
func AdminRouter(p *Probe, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", p.healthz)
	r.Get("/readyz", p.readyz)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

// WatchHealth mirrors the probe into a gRPC health server until ctx is done.
func WatchHealth(ctx context.Context, hs *health.Server, p *Probe, every time.Duration) {
	set := func() {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if p.Ready(ctx) {
			status = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(healthServiceName, status)
	}
	set()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-t.C:
			set()
		}
	}
}

const healthServiceName = "iot_query.Query"

// ServeAdmin runs the admin HTTP server until ctx is done.
func ServeAdmin(ctx context.Context, addr string, h http.Handler) {
	hs := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(shCtx)
	}()
	log.Printf("query-svc: admin HTTP listening on %s", addr)
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("query-svc: admin server: %v", err)
	}
}

// ServeGRPCHealth exposes grpc.health.v1 on addr until ctx is done.
func ServeGRPCHealth(ctx context.Context, addr string, p *Probe) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	go WatchHealth(ctx, hs, p, 10*time.Second)
	go func() {
		<-ctx.Done()
		gs.GracefulStop()
	}()
	log.Printf("query-svc: gRPC health listening on %s", addr)
	return gs.Serve(lis)
}
