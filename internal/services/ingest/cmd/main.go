package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeonardoBeccarini/iot_query/internal/config"
	"github.com/LeonardoBeccarini/iot_query/internal/readings"
	"github.com/LeonardoBeccarini/iot_query/internal/services/ingest"
	"github.com/LeonardoBeccarini/iot_query/pkg/dedup"
	"github.com/LeonardoBeccarini/iot_query/pkg/rabbitmq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// === Store ===
	store, err := readings.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer store.Close(context.Background())

	// === MQTT ===
	client, err := rabbitmq.Connect(ctx, rabbitmq.Config{
		Host:     cfg.MQTT.Host,
		Port:     cfg.MQTT.Port,
		User:     cfg.MQTT.User,
		Password: cfg.MQTT.Password,
		ClientID: cfg.MQTT.ClientID,
		Retries:  cfg.Store.ConnectRetries,
	}, "ingest")
	if err != nil {
		log.Fatalf("mqtt connection error: %v", err)
	}
	defer rabbitmq.Close(client)

	reg := prometheus.NewRegistry()
	svc := ingest.NewService(store, dedup.New(cfg.Ingest.DedupTTL, cfg.Ingest.DedupMax),
		cfg.Store.BoardField, cfg.Ingest.WriteTimeout, reg)

	// === HTTP ===
	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Ingest.HTTPPort),
		Handler:           ingest.Router(client, store, svc, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("ingest-svc: HTTP listening on %s", hs.Addr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	// === Consumer ===
	var topics []string
	for _, t := range strings.Split(cfg.MQTT.Topic, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	log.Printf("ingest-svc: %s backend, topics %v", store.Name, topics)
	if err := svc.Start(ctx, rabbitmq.NewConsumer(client, topics, nil)); err != nil {
		log.Fatalf("subscribe error: %v", err)
	}

	log.Printf("ingest-svc: shutting down...")
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = hs.Shutdown(shCtx)
}
