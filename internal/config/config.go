package config

import (
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Backends for the reading store and the metadata source.
const (
	BackendMongo  = "mongo"
	BackendInflux = "influx"
	BackendLocal  = "local"
	BackendFile   = "file"
)

type Mongo struct {
	URI                string
	Database           string
	ReadingsCollection string
	MetadataCollection string
}

type Influx struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

type Local struct {
	Path             string
	CompressionLevel int
}

// Store selects and configures the reading document store.
type Store struct {
	Backend    string
	BoardField string // payload key holding the board identifier
	Mongo      Mongo
	Influx     Influx
	Local      Local

	ConnectRetries  int
	BreakerFailures int
	BreakerOpenFor  time.Duration
}

type MQTT struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string
	Topic    string
}

// Query holds everything the query service needs besides the store.
type Query struct {
	Host         string
	Port         int
	MaxPayload   int
	QueryTimeout time.Duration

	AdminPort      int
	GRPCHealthPort int

	MetadataSource string
	MetadataFile   string

	Timezone       string
	MoistureDevice string
	MoistureWindow time.Duration
	WaterDevice    string

	CurrentBaseline    float64
	CurrentSensitivity float64
	WaterFactor        float64
}

// Ingest configures the MQTT -> store bridge.
type Ingest struct {
	HTTPPort     int
	DedupTTL     time.Duration
	DedupMax     int
	WriteTimeout time.Duration
}

// Simulator configures the telemetry generator.
type Simulator struct {
	MetadataFile string
	Interval     time.Duration
	TopicPrefix  string
}

type Config struct {
	Store     Store
	MQTT      MQTT
	Query     Query
	Ingest    Ingest
	Simulator Simulator
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("STORE_BACKEND", BackendMongo)
	v.SetDefault("BOARD_FIELD", "board_name")
	v.SetDefault("MONGODB_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGODB_DATABASE", "IoT_Database")
	v.SetDefault("MONGODB_READINGS_COLLECTION", "IoT_Table_virtual")
	v.SetDefault("MONGODB_METADATA_COLLECTION", "IoT_Table_metadata")
	v.SetDefault("INFLUX_URL", "http://localhost:8086")
	v.SetDefault("INFLUX_TOKEN", "")
	v.SetDefault("INFLUX_ORG", "iot")
	v.SetDefault("INFLUX_BUCKET", "telemetry")
	v.SetDefault("INFLUX_MEASUREMENT", "telemetry")
	v.SetDefault("LOCAL_STORE_PATH", "./data")
	v.SetDefault("LOCAL_COMPRESSION_LEVEL", 3)
	v.SetDefault("STORE_CONNECT_RETRIES", 5)
	v.SetDefault("BREAKER_FAILURES", 3)
	v.SetDefault("BREAKER_OPEN_FOR", "15s")

	v.SetDefault("RABBITMQ_HOST", "localhost")
	v.SetDefault("RABBITMQ_PORT", 1883)
	v.SetDefault("RABBITMQ_USER", "guest")
	v.SetDefault("RABBITMQ_PASSWORD", "guest")
	v.SetDefault("MQTT_CLIENT_ID", "")
	v.SetDefault("MQTT_TOPIC", "telemetry/#")

	v.SetDefault("QUERY_HOST", "127.0.0.1")
	v.SetDefault("QUERY_PORT", 5050)
	v.SetDefault("QUERY_MAX_PAYLOAD", 2036)
	v.SetDefault("QUERY_TIMEOUT", "0s")
	v.SetDefault("ADMIN_PORT", 9102)
	v.SetDefault("GRPC_HEALTH_PORT", 0)
	v.SetDefault("METADATA_SOURCE", BackendMongo)
	v.SetDefault("METADATA_FILE", "configs/metadata.yaml")
	v.SetDefault("TIMEZONE", "America/Los_Angeles")
	v.SetDefault("MOISTURE_DEVICE", "SmartFridge1")
	v.SetDefault("MOISTURE_WINDOW", "3h")
	v.SetDefault("WATER_DEVICE", "dishwasher")
	v.SetDefault("CURRENT_BASELINE_V", 2.5)
	v.SetDefault("CURRENT_SENSITIVITY_V_PER_A", 0.1)
	v.SetDefault("WATER_FACTOR", 0.264172)

	v.SetDefault("INGEST_HTTP_PORT", 8080)
	v.SetDefault("INGEST_DEDUP_TTL", "10m")
	v.SetDefault("INGEST_DEDUP_MAX", 20000)
	v.SetDefault("INGEST_WRITE_TIMEOUT", "5s")

	v.SetDefault("SIM_METADATA_FILE", "configs/metadata.yaml")
	v.SetDefault("SIM_INTERVAL", "10s")
	v.SetDefault("SIM_TOPIC_PREFIX", "telemetry")
}

// Load reads .env (if present), then the optional CONFIG_FILE, then the
// environment. Later sources win.
func Load() (Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Printf("config: loaded .env")
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	if f := strings.TrimSpace(v.GetString("CONFIG_FILE")); f != "" {
		v.SetConfigFile(f)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", f, err)
		}
	}
	cfg := fromViper(v)
	return cfg, cfg.Validate()
}

func fromViper(v *viper.Viper) Config {
	return Config{
		Store: Store{
			Backend:    strings.ToLower(v.GetString("STORE_BACKEND")),
			BoardField: v.GetString("BOARD_FIELD"),
			Mongo: Mongo{
				URI:                v.GetString("MONGODB_URI"),
				Database:           v.GetString("MONGODB_DATABASE"),
				ReadingsCollection: v.GetString("MONGODB_READINGS_COLLECTION"),
				MetadataCollection: v.GetString("MONGODB_METADATA_COLLECTION"),
			},
			Influx: Influx{
				URL:         v.GetString("INFLUX_URL"),
				Token:       v.GetString("INFLUX_TOKEN"),
				Org:         v.GetString("INFLUX_ORG"),
				Bucket:      v.GetString("INFLUX_BUCKET"),
				Measurement: v.GetString("INFLUX_MEASUREMENT"),
			},
			Local: Local{
				Path:             v.GetString("LOCAL_STORE_PATH"),
				CompressionLevel: v.GetInt("LOCAL_COMPRESSION_LEVEL"),
			},
			ConnectRetries:  v.GetInt("STORE_CONNECT_RETRIES"),
			BreakerFailures: v.GetInt("BREAKER_FAILURES"),
			BreakerOpenFor:  v.GetDuration("BREAKER_OPEN_FOR"),
		},
		MQTT: MQTT{
			Host:     v.GetString("RABBITMQ_HOST"),
			Port:     v.GetInt("RABBITMQ_PORT"),
			User:     v.GetString("RABBITMQ_USER"),
			Password: v.GetString("RABBITMQ_PASSWORD"),
			ClientID: v.GetString("MQTT_CLIENT_ID"),
			Topic:    v.GetString("MQTT_TOPIC"),
		},
		Query: Query{
			Host:               v.GetString("QUERY_HOST"),
			Port:               v.GetInt("QUERY_PORT"),
			MaxPayload:         v.GetInt("QUERY_MAX_PAYLOAD"),
			QueryTimeout:       v.GetDuration("QUERY_TIMEOUT"),
			AdminPort:          v.GetInt("ADMIN_PORT"),
			GRPCHealthPort:     v.GetInt("GRPC_HEALTH_PORT"),
			MetadataSource:     strings.ToLower(v.GetString("METADATA_SOURCE")),
			MetadataFile:       v.GetString("METADATA_FILE"),
			Timezone:           v.GetString("TIMEZONE"),
			MoistureDevice:     v.GetString("MOISTURE_DEVICE"),
			MoistureWindow:     v.GetDuration("MOISTURE_WINDOW"),
			WaterDevice:        v.GetString("WATER_DEVICE"),
			CurrentBaseline:    v.GetFloat64("CURRENT_BASELINE_V"),
			CurrentSensitivity: v.GetFloat64("CURRENT_SENSITIVITY_V_PER_A"),
			WaterFactor:        v.GetFloat64("WATER_FACTOR"),
		},
		Ingest: Ingest{
			HTTPPort:     v.GetInt("INGEST_HTTP_PORT"),
			DedupTTL:     v.GetDuration("INGEST_DEDUP_TTL"),
			DedupMax:     v.GetInt("INGEST_DEDUP_MAX"),
			WriteTimeout: v.GetDuration("INGEST_WRITE_TIMEOUT"),
		},
		Simulator: Simulator{
			MetadataFile: v.GetString("SIM_METADATA_FILE"),
			Interval:     v.GetDuration("SIM_INTERVAL"),
			TopicPrefix:  v.GetString("SIM_TOPIC_PREFIX"),
		},
	}
}

// Validate checks the values a service cannot start without.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendMongo, BackendInflux, BackendLocal:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	if strings.TrimSpace(c.Store.BoardField) == "" {
		return fmt.Errorf("BOARD_FIELD is required")
	}
	switch c.Query.MetadataSource {
	case BackendMongo, BackendFile:
	default:
		return fmt.Errorf("unknown METADATA_SOURCE %q", c.Query.MetadataSource)
	}
	if net.ParseIP(c.Query.Host) == nil {
		return fmt.Errorf("invalid QUERY_HOST %q: not an IP address", c.Query.Host)
	}
	if c.Query.Port < 0 || c.Query.Port > 65535 {
		return fmt.Errorf("QUERY_PORT %d is not in the port range", c.Query.Port)
	}
	if c.Query.MaxPayload <= 0 {
		return fmt.Errorf("QUERY_MAX_PAYLOAD must be positive")
	}
	if c.Query.CurrentSensitivity == 0 {
		return fmt.Errorf("CURRENT_SENSITIVITY_V_PER_A must not be zero")
	}
	if c.Query.MoistureWindow <= 0 {
		return fmt.Errorf("MOISTURE_WINDOW must be positive")
	}
	if c.Simulator.Interval <= 0 {
		return fmt.Errorf("SIM_INTERVAL must be positive")
	}
	return nil
}

// ListenAddr is the TCP address of the query server.
func (q Query) ListenAddr() string {
	return net.JoinHostPort(q.Host, fmt.Sprint(q.Port))
}
