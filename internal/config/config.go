package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

type Config struct {
	Service   ServiceConfig   `koanf:"service"`
	Kafka     KafkaConfig     `koanf:"kafka"`
	Postgres  PostgresConfig  `koanf:"postgres"`
	Inference InferenceConfig `koanf:"inference"`
	Queue     QueueConfig     `koanf:"queue"`
	Data      DataConfig      `koanf:"data"`
}

type ServiceConfig struct {
	InstanceID             string `koanf:"instance_id"`
	HTTPListen             string `koanf:"http_listen"`
	LogLevel               string `koanf:"log_level"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

type KafkaConfig struct {
	Brokers       []string   `koanf:"brokers"`
	ClientID      string     `koanf:"client_id"`
	TLS           TLSConfig  `koanf:"tls"`
	SASL          SASLConfig `koanf:"sasl"`
	FetchMaxBytes int32      `koanf:"fetch_max_bytes"`
}

type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CAFile   string `koanf:"ca_file"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type SASLConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Mechanism string `koanf:"mechanism"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
}

type PostgresConfig struct {
	DSN      string `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
	MinConns int32  `koanf:"min_conns"`
}

// InferenceConfig tunes the TCP inference service: listener address, the
// per-connection request-read deadline and the deadline a coalesced
// requester waits for an in-flight computation to finish.
type InferenceConfig struct {
	Listen              string `koanf:"listen"`
	ReadTimeoutSeconds   int    `koanf:"read_timeout_seconds"`
	WaitTimeoutSeconds   int    `koanf:"wait_timeout_seconds"`
	MaxOutstandingQuery  int    `koanf:"max_outstanding_query"`
	QueueSeedPolicy      string `koanf:"queue_seed_policy"` // "refuse" | "force" | "reset"
}

// QueueConfig names the per-tag processing queue and pub/sub completion
// topic prefixes, and sizes the in-process worker pool started per tag.
type QueueConfig struct {
	ProcQueueTopicPrefix string   `koanf:"procqueue_topic_prefix"`
	StatusTopic          string   `koanf:"status_topic"`
	WorkersPerTag        int      `koanf:"workers_per_tag"`
	GroupID              string   `koanf:"group_id"`
	Tags                 []string `koanf:"tags"`
}

type DataConfig struct {
	GeoIPFile       string `koanf:"geoip_file"`
	IXPFile         string `koanf:"ixp_file"`
	MetaIXPFile     string `koanf:"meta_ixp_file"`
	ConflictLogFile string `koanf:"conflict_log_file"`
	CompressPaths   bool   `koanf:"compress_paths"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Overlay environment variables: ASINFER_KAFKA__BROKERS -> kafka.brokers
	if err := k.Load(env.Provider("ASINFER_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "ASINFER_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{
			InstanceID:             "as-infer-1",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		Kafka: KafkaConfig{
			ClientID:      "as-infer",
			FetchMaxBytes: 52428800,
		},
		Postgres: PostgresConfig{
			MaxConns: 20,
			MinConns: 2,
		},
		Inference: InferenceConfig{
			Listen:              ":9323",
			ReadTimeoutSeconds:  10,
			WaitTimeoutSeconds:  180,
			MaxOutstandingQuery: 20,
			QueueSeedPolicy:     "refuse",
		},
		Queue: QueueConfig{
			ProcQueueTopicPrefix: "procqueue.",
			StatusTopic:          "inference.query_status",
			WorkersPerTag:        4,
			GroupID:              "as-infer-workers",
		},
		Data: DataConfig{
			CompressPaths: true,
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers is required")
	}
	if c.Postgres.DSN == "" {
		return fmt.Errorf("config: postgres.dsn is required")
	}
	if c.Kafka.FetchMaxBytes <= 0 {
		return fmt.Errorf("config: kafka.fetch_max_bytes must be > 0 (got %d)", c.Kafka.FetchMaxBytes)
	}
	if c.Postgres.MaxConns <= 0 {
		return fmt.Errorf("config: postgres.max_conns must be > 0 (got %d)", c.Postgres.MaxConns)
	}
	if c.Postgres.MinConns < 0 {
		return fmt.Errorf("config: postgres.min_conns must be >= 0 (got %d)", c.Postgres.MinConns)
	}
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: service.shutdown_timeout_seconds must be > 0 (got %d)", c.Service.ShutdownTimeoutSeconds)
	}
	if c.Inference.Listen == "" {
		return fmt.Errorf("config: inference.listen is required")
	}
	if c.Inference.ReadTimeoutSeconds <= 0 {
		return fmt.Errorf("config: inference.read_timeout_seconds must be > 0 (got %d)", c.Inference.ReadTimeoutSeconds)
	}
	if c.Inference.WaitTimeoutSeconds <= 0 {
		return fmt.Errorf("config: inference.wait_timeout_seconds must be > 0 (got %d)", c.Inference.WaitTimeoutSeconds)
	}
	if c.Inference.MaxOutstandingQuery <= 0 {
		return fmt.Errorf("config: inference.max_outstanding_query must be > 0 (got %d)", c.Inference.MaxOutstandingQuery)
	}
	switch c.Inference.QueueSeedPolicy {
	case "refuse", "force", "reset":
	default:
		return fmt.Errorf("config: inference.queue_seed_policy must be one of refuse|force|reset (got %q)", c.Inference.QueueSeedPolicy)
	}
	if c.Queue.ProcQueueTopicPrefix == "" {
		return fmt.Errorf("config: queue.procqueue_topic_prefix is required")
	}
	if c.Queue.StatusTopic == "" {
		return fmt.Errorf("config: queue.status_topic is required")
	}
	if c.Queue.WorkersPerTag <= 0 {
		return fmt.Errorf("config: queue.workers_per_tag must be > 0 (got %d)", c.Queue.WorkersPerTag)
	}
	if c.Queue.GroupID == "" {
		return fmt.Errorf("config: queue.group_id is required")
	}
	if _, err := zapLevel(c.Service.LogLevel); err != nil {
		return err
	}
	return nil
}

// zapLevel validates the configured log level string without importing zap
// here, keeping config decoupled from the logging package.
func zapLevel(level string) (string, error) {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return level, nil
	default:
		return "", fmt.Errorf("config: service.log_level must be one of debug|info|warn|error (got %q)", level)
	}
}

// BuildTLSConfig creates a *tls.Config from the Kafka TLS settings. Returns nil if TLS is disabled.
func (k *KafkaConfig) BuildTLSConfig() (*tls.Config, error) {
	if !k.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if k.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(k.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if k.TLS.CertFile != "" && k.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(k.TLS.CertFile, k.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// BuildSASLMechanism creates a SASL mechanism from the Kafka SASL settings. Returns nil if SASL is disabled.
func (k *KafkaConfig) BuildSASLMechanism() sasl.Mechanism {
	if !k.SASL.Enabled {
		return nil
	}
	switch strings.ToUpper(k.SASL.Mechanism) {
	case "PLAIN":
		return plain.Auth{User: k.SASL.Username, Pass: k.SASL.Password}.AsMechanism()
	default:
		return nil
	}
}
