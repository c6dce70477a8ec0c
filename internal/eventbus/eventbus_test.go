package eventbus

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/annel0/rpg-companion/internal/config"
	"github.com/annel0/rpg-companion/internal/vec"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector собирает события, полученные подписчиком
type collector struct {
	mu     sync.Mutex
	events []*Envelope
}

func (c *collector) handle(ctx context.Context, ev *Envelope) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()
	ctx := context.Background()

	all := &collector{}
	tilesOnly := &collector{}
	_, err := bus.Subscribe(ctx, Filter{}, all.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, Filter{Types: []string{EventTileUpserted, EventTileRemoved}}, tilesOnly.handle)
	require.NoError(t, err)

	up, err := NewTileUpserted("node-a", "m1", vec.Vec2{X: 1, Y: 2}, map[string]interface{}{"terrain": "hill"})
	require.NoError(t, err)
	created, err := NewMapCreated("node-a", MapEvent{MapID: "m1", Name: "Map", Metric: "hex"})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, up))
	require.NoError(t, bus.Publish(ctx, created))

	assert.Eventually(t, func() bool { return all.count() == 2 && tilesOnly.count() == 1 },
		time.Second, 10*time.Millisecond)

	stats := bus.Metrics()
	assert.Equal(t, uint64(2), stats.Published)
	assert.Eventually(t, func() bool { return bus.Metrics().Consumed == 3 }, time.Second, 10*time.Millisecond)
}

func TestMemoryBus_SourceFilterAndUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()
	ctx := context.Background()

	remote := &collector{}
	sub, err := bus.Subscribe(ctx, Filter{Sources: []string{"node-b"}}, remote.handle)
	require.NoError(t, err)

	local, _ := NewTileRemoved("node-a", "m1", vec.Vec2{})
	other, _ := NewTileRemoved("node-b", "m1", vec.Vec2{})
	require.NoError(t, bus.Publish(ctx, local))
	require.NoError(t, bus.Publish(ctx, other))

	assert.Eventually(t, func() bool { return remote.count() == 1 }, time.Second, 10*time.Millisecond)

	sub.Unsubscribe()
	again, _ := NewTileRemoved("node-b", "m1", vec.Vec2{})
	require.NoError(t, bus.Publish(ctx, again))
	assert.Eventually(t, func() bool { return bus.Metrics().InFlight == 0 }, time.Second, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, remote.count())
}

func TestMemoryBus_DropsLowPriorityWhenFull(t *testing.T) {
	mb := &memoryBus{
		subscribers: make(map[int]subscriber),
		buffer:      make(chan *Envelope, 1),
		capacity:    1,
	}
	// dispatchLoop не запущен: буфер не опустошается
	ctx := context.Background()

	require.NoError(t, mb.Publish(ctx, &Envelope{EventType: "a", Priority: 1}))
	require.NoError(t, mb.Publish(ctx, &Envelope{EventType: "b", Priority: 1}))

	stats := mb.Metrics()
	assert.Equal(t, uint64(1), stats.Published)
	assert.Equal(t, uint64(1), stats.Dropped)

	// High-priority ждёт места до отмены контекста
	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := mb.Publish(cctx, &Envelope{EventType: "c", Priority: 9})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryBus_Close(t *testing.T) {
	bus := NewMemoryBus(4)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	err := bus.Publish(context.Background(), &Envelope{EventType: EventMapCreated})
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestEventPayloads(t *testing.T) {
	up, err := NewTileUpserted("node-a", "m1", vec.Vec2{X: -4, Y: 7}, map[string]interface{}{"terrain": "forest"})
	require.NoError(t, err)
	assert.NotEmpty(t, up.ID)
	assert.Equal(t, "node-a", up.Source)
	assert.Equal(t, EventTileUpserted, up.EventType)
	assert.Equal(t, payloadVersion, up.Version)

	tile, err := DecodeTile(up)
	require.NoError(t, err)
	assert.Equal(t, "m1", tile.MapID)
	assert.Equal(t, vec.Vec2{X: -4, Y: 7}, tile.Coord)
	assert.Equal(t, "forest", tile.Payload["terrain"])

	created, err := NewMapCreated("node-a", MapEvent{MapID: "m2", Name: "Caves", Metric: "manhattan", CellSize: 8})
	require.NoError(t, err)
	m, err := DecodeMap(created)
	require.NoError(t, err)
	assert.Equal(t, "Caves", m.Name)
	assert.Equal(t, 8, m.CellSize)

	_, err = DecodeTile(created)
	assert.Error(t, err)
	_, err = DecodeMap(up)
	assert.Error(t, err)

	assert.Equal(t, "m1", MapIDOf(up))
	assert.Equal(t, "m2", MapIDOf(created))
	assert.Empty(t, MapIDOf(&Envelope{EventType: "chat.message"}))
	assert.Len(t, EventDescriptions, 3)
}

func TestMetricsExporter_Collect(t *testing.T) {
	bus := NewMemoryBus(8)
	defer bus.Close()

	reg := prometheus.NewRegistry()
	exporter := NewMetricsExporter(bus, reg)
	defer exporter.Stop()

	ev, _ := NewTileRemoved("node-a", "m1", vec.Vec2{})
	require.NoError(t, bus.Publish(context.Background(), ev))
	require.NoError(t, bus.Publish(context.Background(), ev))

	prev := exporter.collect(Stats{})
	assert.Equal(t, 2.0, testutil.ToFloat64(exporter.published))

	// Повторный сбор без новых событий ничего не добавляет
	exporter.collect(prev)
	assert.Equal(t, 2.0, testutil.ToFloat64(exporter.published))
}

func TestOpen_MemoryByDefault(t *testing.T) {
	bus, err := Open(config.EventBusConfig{})
	require.NoError(t, err)
	defer bus.Close()
	assert.NotNil(t, bus)
}

func TestOpen_Drivers(t *testing.T) {
	_, err := Open(config.EventBusConfig{Driver: "kafka"})
	assert.Error(t, err, "kafka без брокеров")

	_, err = Open(config.EventBusConfig{Driver: "rabbit"})
	assert.Error(t, err)

	// Писатель Kafka подключается лениво: создание и закрытие без брокера не падают
	bus, err := Open(config.EventBusConfig{Driver: "kafka", Kafka: config.KafkaConfig{Brokers: []string{"127.0.0.1:1"}}})
	require.NoError(t, err)
	require.IsType(t, &KafkaBus{}, bus)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	err = bus.Publish(context.Background(), &Envelope{EventType: EventMapCreated})
	assert.ErrorIs(t, err, ErrBusClosed)
	_, err = bus.Subscribe(context.Background(), Filter{}, func(context.Context, *Envelope) {})
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestKafkaBus(t *testing.T) {
	brokers := os.Getenv("RPG_TEST_KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("RPG_TEST_KAFKA_BROKERS не задан, пропускаем тест Kafka")
	}

	bus, err := NewKafkaBus(config.KafkaConfig{
		Brokers: strings.Split(brokers, ","),
		Topic:   "rpg-map-events-test",
		MaxWait: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	defer bus.Close()

	got := &collector{}
	sub, err := bus.Subscribe(context.Background(), Filter{Types: []string{EventTileUpserted}}, got.handle)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	// Новая группа читает с конца топика: публикуем, пока читатель не подключится
	assert.Eventually(t, func() bool {
		ev, err := NewTileUpserted("node-a", "m1", vec.Vec2{X: 3, Y: 3}, nil)
		if err != nil {
			return false
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := bus.Publish(ctx, ev); err != nil {
			return false
		}
		return got.count() >= 1
	}, 30*time.Second, 500*time.Millisecond)

	assert.GreaterOrEqual(t, bus.Metrics().Published, uint64(1))
}

func TestJetStreamBus(t *testing.T) {
	url := os.Getenv("RPG_TEST_NATS_URL")
	if url == "" {
		t.Skip("RPG_TEST_NATS_URL не задан, пропускаем тест JetStream")
	}

	bus, err := NewJetStreamBus(url, "MAPS_TEST", time.Hour)
	if err != nil {
		t.Skipf("NATS недоступен: %v", err)
	}
	defer bus.Close()

	got := &collector{}
	sub, err := bus.Subscribe(context.Background(), Filter{Types: []string{EventTileUpserted}}, got.handle)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	ev, err := NewTileUpserted("node-a", "m1", vec.Vec2{X: 3, Y: 3}, nil)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), ev))

	assert.Eventually(t, func() bool { return got.count() == 1 }, 5*time.Second, 50*time.Millisecond)

	replayed := &collector{}
	replaySub, err := bus.Replay(context.Background(), time.Now().Add(-time.Minute), Filter{Sources: []string{"node-a"}}, replayed.handle)
	require.NoError(t, err)
	defer replaySub.Unsubscribe()
	assert.Eventually(t, func() bool { return replayed.count() >= 1 }, 5*time.Second, 50*time.Millisecond)

	stats, err := bus.StreamStats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats[EventTileUpserted], uint64(1))
}
