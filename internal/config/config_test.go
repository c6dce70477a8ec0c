package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  rest_port: 9090
visibility:
  metric: hex
  policy:
    base_radius: 30
    move_threshold: 2
storage:
  driver: badger
cache:
  enabled: true
  ttl: 5s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 9090, cfg.Server.GetRESTPort())
	assert.Equal(t, "hex", cfg.Visibility.Metric)
	assert.Equal(t, 30.0, cfg.Visibility.Policy.BaseRadius)
	assert.Equal(t, 2.0, cfg.Visibility.Policy.MoveThreshold)
	// Незаданные поля остаются по умолчанию
	assert.Equal(t, 1.0, cfg.Visibility.Policy.ZoomFactor)
	assert.Equal(t, 16, cfg.Visibility.CellSize)
	assert.Equal(t, "badger", cfg.Storage.Driver)
	assert.Equal(t, 5*time.Second, cfg.Cache.TTL)
	assert.True(t, cfg.Cache.Compress)
}

func TestLoadEmptyPath(t *testing.T) {
	t.Setenv("RPG_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Nil(t, cfg)

	cfg, err = LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "visibility:\n  metric: spiral\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "storage:\n  driver: sqlite\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "visibility:\n  policy:\n    min_radius: -3\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvFallbacks(t *testing.T) {
	t.Setenv("RPG_REST_PORT", "7000")
	t.Setenv("RPG_NATS_URL", "nats://nats:4222")
	t.Setenv("RPG_CONFIG", "")

	cfg, err := LoadOrDefault("")
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.GetRESTPort())
	assert.Equal(t, 2112, cfg.Server.GetMetricsPort())
	assert.Equal(t, "nats://nats:4222", cfg.EventBus.URL)
}

func TestEventBusDriver(t *testing.T) {
	assert.Equal(t, "memory", EventBusConfig{}.ResolvedDriver())
	assert.Equal(t, "nats", EventBusConfig{URL: "nats://localhost:4222"}.ResolvedDriver())
	assert.Equal(t, "kafka", EventBusConfig{Driver: "Kafka", URL: "nats://ignored"}.ResolvedDriver())

	cfg, err := Load(writeConfig(t, `
eventbus:
  driver: kafka
  kafka:
    brokers: ["kafka-1:9092"]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"kafka-1:9092"}, cfg.EventBus.Kafka.Brokers)
	assert.Equal(t, "rpg-map-events", cfg.EventBus.Kafka.Topic)

	_, err = Load(writeConfig(t, "eventbus:\n  driver: kafka\n"))
	assert.Error(t, err, "kafka без брокеров")

	_, err = Load(writeConfig(t, "eventbus:\n  driver: nats\n"))
	assert.Error(t, err, "nats без URL")

	_, err = Load(writeConfig(t, "eventbus:\n  driver: rabbit\n"))
	assert.Error(t, err)
}

func TestKafkaBrokersEnv(t *testing.T) {
	t.Setenv("RPG_CONFIG", "")
	t.Setenv("RPG_EVENTBUS_DRIVER", "kafka")
	t.Setenv("RPG_KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092")

	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, "kafka", cfg.EventBus.ResolvedDriver())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.EventBus.Kafka.Brokers)
	require.NoError(t, cfg.Validate())
}

func TestSnapshotConfig(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.Snapshots.Endpoint)
	assert.Equal(t, "map-snapshots", cfg.Snapshots.Bucket)

	_, err := Load(writeConfig(t, "snapshots:\n  endpoint: minio:9000\n  bucket: \"\"\n"))
	assert.Error(t, err)
}
