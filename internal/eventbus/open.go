package eventbus

import (
	"fmt"
	"time"

	"github.com/annel0/rpg-companion/internal/config"
)

// Open создаёт шину по конфигурации: in-memory, NATS JetStream или Kafka.
func Open(cfg config.EventBusConfig) (EventBus, error) {
	switch cfg.ResolvedDriver() {
	case "memory":
		return NewMemoryBus(1024), nil
	case "nats":
		return NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
	case "kafka":
		return NewKafkaBus(cfg.Kafka)
	default:
		return nil, fmt.Errorf("неизвестный драйвер шины событий: %s", cfg.Driver)
	}
}
