package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/LeonardoBeccarini/iot_query/internal/config"
	"github.com/LeonardoBeccarini/iot_query/internal/metadata"
	"github.com/LeonardoBeccarini/iot_query/internal/model"
	"github.com/LeonardoBeccarini/iot_query/internal/readings"
	"github.com/LeonardoBeccarini/iot_query/internal/services/query"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	q := cfg.Query

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// === Store ===
	store, err := readings.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			log.Printf("query-svc: close store: %v", err)
		}
	}()

	// === Metadata ===
	index, err := loadIndex(ctx, cfg, store)
	if err != nil {
		log.Fatalf("metadata: %v", err)
	}
	log.Printf("query-svc: metadata index with %d sensors on devices %v (boards %v)", index.Len(), index.Devices(), index.Boards())

	// === Engine ===
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		log.Fatalf("invalid TIMEZONE %q: %v", q.Timezone, err)
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := query.NewMetrics(reg)

	engine, err := query.NewEngine(index, store.Reader, query.Settings{
		Location:           loc,
		MoistureDevice:     q.MoistureDevice,
		MoistureWindow:     q.MoistureWindow,
		WaterDevice:        q.WaterDevice,
		CurrentBaseline:    q.CurrentBaseline,
		CurrentSensitivity: q.CurrentSensitivity,
	}, query.WithMetrics(metrics))
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	dispatcher := query.NewDispatcher(engine, q.QueryTimeout, metrics)

	// === Admin ===
	probe := query.NewProbe(store.Reader, store.Reader, len(index.Devices()))
	if q.AdminPort > 0 {
		go query.ServeAdmin(ctx, ":"+strconv.Itoa(q.AdminPort), query.AdminRouter(probe, reg))
	}
	if q.GRPCHealthPort > 0 {
		go func() {
			if err := query.ServeGRPCHealth(ctx, ":"+strconv.Itoa(q.GRPCHealthPort), probe); err != nil {
				log.Printf("query-svc: gRPC health: %v", err)
			}
		}()
	}

	// === TCP ===
	srv := query.NewServer(q.ListenAddr(), q.MaxPayload, dispatcher, metrics)
	err = srv.ListenAndServe(ctx)
	switch {
	case errors.Is(err, query.ErrSessionEnded):
		log.Printf("query-svc: ending server")
	case err != nil:
		log.Fatalf("query server: %v", err)
	default:
		log.Printf("query-svc: shutting down...")
	}
}

func loadIndex(ctx context.Context, cfg config.Config, store *readings.Backend) (*model.Index, error) {
	var (
		nodes []model.MetadataNode
		err   error
	)
	switch cfg.Query.MetadataSource {
	case config.BackendFile:
		nodes, err = metadata.LoadFile(cfg.Query.MetadataFile)
	case config.BackendMongo:
		db := store.Mongo
		if db == nil {
			client, cerr := readings.ConnectMongo(ctx, cfg.Store.Mongo.URI, cfg.Store.ConnectRetries)
			if cerr != nil {
				return nil, cerr
			}
			defer client.Disconnect(context.Background())
			db = client.Database(cfg.Store.Mongo.Database)
		}
		nodes, err = metadata.LoadMongo(ctx, db.Collection(cfg.Store.Mongo.MetadataCollection))
	default:
		return nil, fmt.Errorf("unknown metadata source %q", cfg.Query.MetadataSource)
	}
	if err != nil {
		return nil, err
	}
	return metadata.Build(nodes, metadata.BuildOptions{
		Calibration: map[string]float64{model.RoleWater: cfg.Query.WaterFactor},
	})
}
