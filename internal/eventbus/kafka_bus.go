package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/rpg-companion/internal/config"
	"github.com/annel0/rpg-companion/internal/logging"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// groupPrefix префикс consumer group подписок.
// Каждая подписка получает свою группу, чтобы все инстансы видели все события.
const groupPrefix = "rpg-companion-"

// KafkaBus реализует EventBus поверх топика Kafka.
// Ключ сообщения - ID карты: события одной карты попадают в одну партицию и не переупорядочиваются.
type KafkaBus struct {
	writer  *kafka.Writer
	brokers []string
	topic   string
	maxWait time.Duration

	published uint64
	consumed  uint64
	dropped   uint64

	mu     sync.Mutex
	subs   map[int]*kafkaSub
	nextID int
	closed bool
}

// NewKafkaBus создаёт писателя топика. Соединение с брокерами устанавливается лениво.
func NewKafkaBus(cfg config.KafkaConfig) (*KafkaBus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: brokers are required")
	}
	if cfg.Topic == "" {
		cfg.Topic = "rpg-map-events"
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Second
	}

	return &KafkaBus{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		brokers: cfg.Brokers,
		topic:   cfg.Topic,
		maxWait: cfg.MaxWait,
		subs:    make(map[int]*kafkaSub),
	}, nil
}

// Publish сериализует Envelope в JSON и пишет в топик с ключом карты
func (kb *KafkaBus) Publish(ctx context.Context, ev *Envelope) error {
	kb.mu.Lock()
	closed := kb.closed
	kb.mu.Unlock()
	if closed {
		return ErrBusClosed
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	key := MapIDOf(ev)
	if key == "" {
		key = ev.Source
	}

	err = kb.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.EventType)},
			{Key: "source", Value: []byte(ev.Source)},
		},
	})
	if err != nil {
		atomic.AddUint64(&kb.dropped, 1)
		return fmt.Errorf("kafka write: %w", err)
	}
	atomic.AddUint64(&kb.published, 1)
	return nil
}

// Subscribe запускает чтение новых сообщений топика в отдельной горутине
func (kb *KafkaBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if kb.closed {
		return nil, ErrBusClosed
	}

	groupID := groupPrefix + uuid.NewString()
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kb.brokers,
		Topic:       kb.topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     kb.maxWait,
		StartOffset: kafka.LastOffset,
	})

	cctx, cancel := context.WithCancel(ctx)
	sub := &kafkaSub{bus: kb, id: kb.nextID, cancel: cancel, done: make(chan struct{})}
	kb.subs[sub.id] = sub
	kb.nextID++

	go kb.readLoop(cctx, reader, groupID, f, h, sub.done)

	return sub, nil
}

func (kb *KafkaBus) readLoop(ctx context.Context, reader *kafka.Reader, groupID string, f Filter, h Handler, done chan struct{}) {
	defer close(done)
	defer reader.Close()

	logger := logging.GetEventBusLogger()
	logger.Debug("Kafka подписка %s на %s", groupID, kb.topic)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			logger.Warn("Ошибка чтения %s: %v", kb.topic, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var ev Envelope
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			logger.Warn("Некорректное событие в %s key=%s: %v", kb.topic, string(msg.Key), err)
			continue
		}
		if !matchFilter(&ev, f) {
			continue
		}
		h(ctx, &ev)
		atomic.AddUint64(&kb.consumed, 1)
	}
}

// Metrics возвращает текущие метрики
func (kb *KafkaBus) Metrics() Stats {
	stats := kb.writer.Stats()
	return Stats{
		Published: atomic.LoadUint64(&kb.published),
		Consumed:  atomic.LoadUint64(&kb.consumed),
		Dropped:   atomic.LoadUint64(&kb.dropped),
		InFlight:  int(stats.QueueLength),
	}
}

// Close останавливает подписки и дожидается отправки буфера писателя
func (kb *KafkaBus) Close() error {
	kb.mu.Lock()
	if kb.closed {
		kb.mu.Unlock()
		return nil
	}
	kb.closed = true
	subs := make([]*kafkaSub, 0, len(kb.subs))
	for id, sub := range kb.subs {
		subs = append(subs, sub)
		delete(kb.subs, id)
	}
	kb.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return kb.writer.Close()
}

type kafkaSub struct {
	bus    *KafkaBus
	id     int
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *kafkaSub) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	s.stop()
}

func (s *kafkaSub) stop() {
	s.cancel()
	<-s.done
}
