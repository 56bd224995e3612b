package readings

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/LeonardoBeccarini/iot_query/internal/config"
	"github.com/LeonardoBeccarini/iot_query/internal/model"
)

// Appender is the write side used by the ingest bridge.
type Appender interface {
	Append(ctx context.Context, d model.Document) error
}

// Store is a reading backend that can be read, written and probed.
type Store interface {
	Source
	Appender
	Pinger
}

// Backend is an opened Store plus the handles needed to release it.
type Backend struct {
	Store
	// Reader is Store behind a circuit breaker; the query path reads through it.
	Reader *BreakerSource
	Name   string
	// Mongo is the database handle when Name == "mongo" (metadata lives there too).
	Mongo   *mongo.Database
	closers []func(context.Context) error
}

func (b *Backend) Close(ctx context.Context) error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func retryPolicy(ctx context.Context, retries int) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	if retries < 1 {
		retries = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries-1)), ctx)
}

// ConnectMongo connects and pings with exponential backoff.
func ConnectMongo(ctx context.Context, uri string, retries int) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	err = backoff.Retry(func() error {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pctx, readpref.Primary()); err != nil {
			log.Printf("readings: mongo ping failed: %v", err)
			return err
		}
		return nil
	}, retryPolicy(ctx, retries))
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo not reachable after retries: %w", err)
	}
	return client, nil
}

// Open connects the configured backend.
func Open(ctx context.Context, cfg config.Store) (*Backend, error) {
	b, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b.Reader = NewBreakerSource(b.Name, b.Store, cfg.BreakerFailures, cfg.BreakerOpenFor)
	return b, nil
}

func open(ctx context.Context, cfg config.Store) (*Backend, error) {
	switch cfg.Backend {
	case config.BackendMongo:
		client, err := ConnectMongo(ctx, cfg.Mongo.URI, cfg.ConnectRetries)
		if err != nil {
			return nil, err
		}
		db := client.Database(cfg.Mongo.Database)
		log.Printf("readings: mongo %s/%s ready", cfg.Mongo.Database, cfg.Mongo.ReadingsCollection)
		return &Backend{
			Store:   NewMongoSource(db.Collection(cfg.Mongo.ReadingsCollection), cfg.BoardField),
			Name:    cfg.Backend,
			Mongo:   db,
			closers: []func(context.Context) error{client.Disconnect},
		}, nil

	case config.BackendInflux:
		client := influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)
		src := NewInfluxSource(client, cfg.Influx.Org, cfg.Influx.Bucket, cfg.Influx.Measurement, cfg.BoardField)
		err := backoff.Retry(func() error {
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := src.Ping(pctx); err != nil {
				log.Printf("readings: influx ping failed: %v", err)
				return err
			}
			return nil
		}, retryPolicy(ctx, cfg.ConnectRetries))
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("influx not reachable after retries: %w", err)
		}
		log.Printf("readings: influx %s bucket=%s ready", cfg.Influx.URL, cfg.Influx.Bucket)
		return &Backend{
			Store: src,
			Name:  cfg.Backend,
			closers: []func(context.Context) error{func(context.Context) error {
				client.Close()
				return nil
			}},
		}, nil

	case config.BackendLocal:
		st, err := OpenLocalStore(cfg.Local.Path, cfg.Local.CompressionLevel, cfg.BoardField)
		if err != nil {
			return nil, err
		}
		log.Printf("readings: local store at %s ready", cfg.Local.Path)
		return &Backend{
			Store:   st,
			Name:    cfg.Backend,
			closers: []func(context.Context) error{func(context.Context) error { return st.Close() }},
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
