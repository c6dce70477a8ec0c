package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/annel0/rpg-companion/internal/visibility"
	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации приложения.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Visibility VisibilityConfig `yaml:"visibility"`
	Storage    StorageConfig    `yaml:"storage"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"eventbus"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	MapGen     MapGenConfig     `yaml:"mapgen"`
	Snapshots  SnapshotConfig   `yaml:"snapshots"`
}

type ServerConfig struct {
	RESTPort    int    `yaml:"rest_port"`
	MetricsPort int    `yaml:"metrics_port"`
	InstanceID  string `yaml:"instance_id"`
}

type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// VisibilityConfig параметры движка видимости по умолчанию для новых карт
type VisibilityConfig struct {
	Metric   string                  `yaml:"metric"`
	CellSize int                     `yaml:"cell_size"`
	Policy   visibility.PolicyConfig `yaml:"policy"`
}

// StorageConfig выбор и настройки хранилища тайлов.
// Driver: memory | badger | mongo | maria | postgres
type StorageConfig struct {
	Driver   string         `yaml:"driver"`
	DataPath string         `yaml:"data_path"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Maria    MariaConfig    `yaml:"maria"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type MariaConfig struct {
	DSN string `yaml:"dsn"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// CacheConfig кеш результатов видимости. Пустой RedisAddr означает in-memory кеш.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
	Compress      bool          `yaml:"compress"`
}

// EventBusConfig шина событий изменения тайлов.
// Driver: memory | nats | kafka. Пустой Driver выбирает nats при заданном URL, иначе memory.
type EventBusConfig struct {
	Driver    string      `yaml:"driver"`
	URL       string      `yaml:"url"`
	Stream    string      `yaml:"stream"`
	Retention int         `yaml:"retention_hours"`
	Kafka     KafkaConfig `yaml:"kafka"`
}

type KafkaConfig struct {
	Brokers []string      `yaml:"brokers"`
	Topic   string        `yaml:"topic"`
	MaxWait time.Duration `yaml:"max_wait"`
}

// ResolvedDriver возвращает фактический драйвер шины с учётом пустого Driver
func (e EventBusConfig) ResolvedDriver() string {
	if e.Driver != "" {
		return strings.ToLower(e.Driver)
	}
	if e.URL != "" {
		return "nats"
	}
	return "memory"
}

// SnapshotConfig S3-совместимое хранилище снимков карт (MinIO).
// Пустой Endpoint отключает снимки.
type SnapshotConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// MapGenConfig демо-карта, генерируемая при старте, если хранилище пусто
type MapGenConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
	Metric  string `yaml:"metric"`
	Seed    int64  `yaml:"seed"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	Radius  int    `yaml:"radius"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			InstanceID: "rpg-companion-01",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Visibility: VisibilityConfig{
			Metric:   "chebyshev",
			CellSize: visibility.DefaultCellSize,
			Policy:   visibility.DefaultPolicyConfig(),
		},
		Storage: StorageConfig{
			Driver:   "memory",
			DataPath: "data",
			Mongo: MongoConfig{
				URI:      "mongodb://localhost:27017",
				Database: "rpg_companion",
			},
		},
		Cache: CacheConfig{
			TTL:      30 * time.Second,
			Compress: true,
		},
		EventBus: EventBusConfig{
			Stream:    "MAPS",
			Retention: 24,
			Kafka: KafkaConfig{
				Topic:   "rpg-map-events",
				MaxWait: time.Second,
			},
		},
		Telemetry: TelemetryConfig{
			ServiceName: "rpg-companion",
		},
		MapGen: MapGenConfig{
			Name:   "demo",
			Metric: "hex",
			Seed:   1,
			Width:  64,
			Height: 64,
			Radius: 24,
		},
		Snapshots: SnapshotConfig{
			Bucket: "map-snapshots",
		},
	}
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "RPG_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "RPG_METRICS_PORT", 2112)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	// Используем дефолтное значение
	return defaultPort
}

// applyEnv переопределяет адреса внешних сервисов из окружения
func (c *Config) applyEnv() {
	overrides := []struct {
		env    string
		target *string
	}{
		{"RPG_STORAGE_DRIVER", &c.Storage.Driver},
		{"RPG_MONGO_URI", &c.Storage.Mongo.URI},
		{"RPG_MARIA_DSN", &c.Storage.Maria.DSN},
		{"RPG_POSTGRES_DSN", &c.Storage.Postgres.DSN},
		{"RPG_REDIS_ADDR", &c.Cache.RedisAddr},
		{"RPG_NATS_URL", &c.EventBus.URL},
		{"RPG_EVENTBUS_DRIVER", &c.EventBus.Driver},
		{"RPG_MINIO_ENDPOINT", &c.Snapshots.Endpoint},
		{"RPG_MINIO_ACCESS_KEY", &c.Snapshots.AccessKey},
		{"RPG_MINIO_SECRET_KEY", &c.Snapshots.SecretKey},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}

	// Список брокеров через запятую: kafka-1:9092,kafka-2:9092
	if v := os.Getenv("RPG_KAFKA_BROKERS"); v != "" {
		c.EventBus.Kafka.Brokers = c.EventBus.Kafka.Brokers[:0]
		for _, broker := range strings.Split(v, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				c.EventBus.Kafka.Brokers = append(c.EventBus.Kafka.Brokers, broker)
			}
		}
	}
}

// Validate проверяет согласованность конфигурации
func (c *Config) Validate() error {
	if _, err := visibility.MetricByName(c.Visibility.Metric); err != nil {
		return fmt.Errorf("visibility.metric: %w", err)
	}
	if err := c.Visibility.Policy.Validate(); err != nil {
		return fmt.Errorf("visibility.policy: %w", err)
	}

	switch c.Storage.Driver {
	case "memory", "badger", "mongo", "maria", "postgres":
	default:
		return fmt.Errorf("storage.driver: неизвестный драйвер %q", c.Storage.Driver)
	}

	switch c.EventBus.ResolvedDriver() {
	case "memory":
	case "nats":
		if c.EventBus.URL == "" {
			return fmt.Errorf("eventbus.url: обязателен для драйвера nats")
		}
	case "kafka":
		if len(c.EventBus.Kafka.Brokers) == 0 {
			return fmt.Errorf("eventbus.kafka.brokers: обязателен для драйвера kafka")
		}
	default:
		return fmt.Errorf("eventbus.driver: неизвестный драйвер %q", c.EventBus.Driver)
	}

	if c.Snapshots.Endpoint != "" && c.Snapshots.Bucket == "" {
		return fmt.Errorf("snapshots.bucket: обязателен при заданном endpoint")
	}

	if c.MapGen.Enabled {
		if _, err := visibility.MetricByName(c.MapGen.Metric); err != nil {
			return fmt.Errorf("mapgen.metric: %w", err)
		}
	}
	return nil
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать из ENV RPG_CONFIG или возвращает nil, nil.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("RPG_CONFIG")
		if path == "" {
			return nil, nil // конфиг не задан - использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault как Load, но возвращает Default(), если файл не задан
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = Default()
		cfg.applyEnv()
	}
	return cfg, nil
}
