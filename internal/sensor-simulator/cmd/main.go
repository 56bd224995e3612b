package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/LeonardoBeccarini/iot_query/internal/config"
	"github.com/LeonardoBeccarini/iot_query/internal/metadata"
	sensorSimulator "github.com/LeonardoBeccarini/iot_query/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/iot_query/pkg/rabbitmq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	nodes, err := metadata.LoadFile(cfg.Simulator.MetadataFile)
	if err != nil {
		log.Fatalf("metadata: %v", err)
	}
	index, err := metadata.Build(nodes, metadata.BuildOptions{})
	if err != nil {
		log.Fatalf("metadata: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := rabbitmq.Connect(ctx, rabbitmq.Config{
		Host:     cfg.MQTT.Host,
		Port:     cfg.MQTT.Port,
		User:     cfg.MQTT.User,
		Password: cfg.MQTT.Password,
		Retries:  cfg.Store.ConnectRetries,
	}, "sensor-sim")
	if err != nil {
		log.Fatal(err)
	}
	defer rabbitmq.Close(client)

	plans := sensorSimulator.PlanFromIndex(index)
	log.Printf("sensor-sim: boards %v every %s", index.Boards(), cfg.Simulator.Interval)
	sim := sensorSimulator.NewSimulator(plans, rabbitmq.NewPublisher(client), cfg.Simulator.TopicPrefix, cfg.Store.BoardField)
	sim.Start(ctx, cfg.Simulator.Interval)
}
