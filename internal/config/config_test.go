package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			InstanceID:             "test",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			FetchMaxBytes: 52428800,
		},
		Postgres: PostgresConfig{
			DSN:      "postgres://localhost/test",
			MaxConns: 10,
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
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidate_NoBrokers(t *testing.T) {
	cfg := validConfig()
	cfg.Kafka.Brokers = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty brokers")
	}
}

func TestValidate_NoDSN(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.DSN = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestValidate_NoInferenceListen(t *testing.T) {
	cfg := validConfig()
	cfg.Inference.Listen = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty inference.listen")
	}
}

func TestValidate_BadQueueSeedPolicy(t *testing.T) {
	cfg := validConfig()
	cfg.Inference.QueueSeedPolicy = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid queue_seed_policy")
	}
}

func TestValidate_ZeroWaitTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Inference.WaitTimeoutSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for wait_timeout_seconds = 0")
	}
}

func TestValidate_ZeroWorkersPerTag(t *testing.T) {
	cfg := validConfig()
	cfg.Queue.WorkersPerTag = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for workers_per_tag = 0")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Service.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestValidate_ShutdownTimeoutZero(t *testing.T) {
	cfg := validConfig()
	cfg.Service.ShutdownTimeoutSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for shutdown_timeout_seconds = 0")
	}
}

func writeMinimalYAML(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	data := `
kafka:
  brokers:
    - "localhost:9092"
postgres:
  dsn: "postgres://localhost/test"
`
	if err := os.WriteFile(p, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_EnvOverrideDSN(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("ASINFER_POSTGRES__DSN", "postgres://envhost/envdb")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Postgres.DSN != "postgres://envhost/envdb" {
		t.Errorf("expected DSN from env, got %q", cfg.Postgres.DSN)
	}
}

func TestLoad_EnvOverrideLogLevel(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("ASINFER_SERVICE__LOG_LEVEL", "debug")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service.LogLevel != "debug" {
		t.Errorf("expected log_level 'debug' from env, got %q", cfg.Service.LogLevel)
	}
}

func TestLoad_EnvBadQueueSeedPolicyFailsValidation(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("ASINFER_INFERENCE__QUEUE_SEED_POLICY", "bogus")

	_, err := Load(p)
	if err == nil {
		t.Fatal("expected validation error for invalid queue_seed_policy via env")
	}
}

func TestLoad_Defaults(t *testing.T) {
	p := writeMinimalYAML(t)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Inference.Listen != ":9323" {
		t.Errorf("expected default listen :9323, got %q", cfg.Inference.Listen)
	}
	if cfg.Inference.MaxOutstandingQuery != 20 {
		t.Errorf("expected default max_outstanding_query 20, got %d", cfg.Inference.MaxOutstandingQuery)
	}
}
