package maps

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/rpg-companion/internal/cache"
	"github.com/annel0/rpg-companion/internal/eventbus"
	"github.com/annel0/rpg-companion/internal/logging"
	"github.com/annel0/rpg-companion/internal/metrics"
	"github.com/annel0/rpg-companion/internal/schema"
	"github.com/annel0/rpg-companion/internal/storage"
	"github.com/annel0/rpg-companion/internal/vec"
	"github.com/annel0/rpg-companion/internal/visibility"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Map карта с индексом тайлов.
//
// Индекс защищён RWMutex: запросы видимости идут под RLock, изменения под Lock.
// writeMu сериализует писателей целиком (хранилище + индекс), чтобы порядок
// записей в хранилище и в индексе совпадал.
type Map struct {
	meta   storage.MapMeta
	metric visibility.Metric

	writeMu sync.Mutex
	mu      sync.RWMutex
	index   *visibility.TileIndex

	resolver  *visibility.Resolver
	validator *schema.PayloadValidator // nil - payload не проверяется
	deps      *dependencies
}

// dependencies общие для всех карт менеджера
type dependencies struct {
	instanceID string
	repo       storage.TileRepo
	cache      cache.ResultCache
	bus        eventbus.EventBus
	metrics    *metrics.VisibilityMetrics
	logger     *logging.Logger
	tracer     oteltrace.Tracer
}

func newMap(meta storage.MapMeta, metric visibility.Metric, policy *visibility.Policy, validator *schema.PayloadValidator, deps *dependencies) *Map {
	var observer visibility.Observer
	if deps.metrics != nil {
		observer = deps.metrics.ForMap(meta.ID)
	}

	return &Map{
		meta:     meta,
		metric:   metric,
		index:    visibility.NewTileIndex(metric, meta.CellSize),
		resolver:  visibility.NewResolver(policy, observer),
		validator: validator,
		deps:      deps,
	}
}

// ID идентификатор карты
func (m *Map) ID() string { return m.meta.ID }

// Name имя карты
func (m *Map) Name() string { return m.meta.Name }

// Metric метрика расстояния карты
func (m *Map) Metric() visibility.Metric { return m.metric }

// Meta описание карты
func (m *Map) Meta() storage.MapMeta { return m.meta }

// Policy политика радиуса карты
func (m *Map) Policy() *visibility.Policy { return m.resolver.Policy() }

// Len количество тайлов
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index.Len()
}

// Stats статистика индекса
func (m *Map) Stats() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index.Stats()
}

// Tiles снимок всех тайлов карты
func (m *Map) Tiles() []*visibility.Tile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index.Tiles()
}

// PayloadSchema схема полезной нагрузки тайлов; пусто, если карта её не задаёт
func (m *Map) PayloadSchema() string { return m.meta.PayloadSchema }

// PutTile сохраняет тайл, обновляет индекс, сбрасывает кеш и публикует tile.upserted
func (m *Map) PutTile(ctx context.Context, tile visibility.Tile) error {
	ctx, span := m.startSpan(ctx, "maps.PutTile", attribute.Int("tile.x", tile.Coord.X), attribute.Int("tile.y", tile.Coord.Y))
	defer span.End()

	if err := m.validator.Validate(tile.Payload); err != nil {
		span.RecordError(err)
		return fmt.Errorf("tile (%d, %d): %w", tile.Coord.X, tile.Coord.Y, err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := m.deps.repo.SaveTile(ctx, m.meta.ID, tile); err != nil {
		return m.fail(span, fmt.Errorf("save tile: %w", err))
	}

	m.applyUpsert(ctx, []visibility.Tile{tile})

	ev, err := eventbus.NewTileUpserted(m.deps.instanceID, m.meta.ID, tile.Coord, tile.Payload)
	if err == nil {
		m.publish(ctx, ev)
	}
	return nil
}

// PutTiles массовая вставка (генерация карт); публикует событие на каждый тайл
func (m *Map) PutTiles(ctx context.Context, tiles []visibility.Tile) error {
	ctx, span := m.startSpan(ctx, "maps.PutTiles", attribute.Int("tiles.count", len(tiles)))
	defer span.End()

	// Пачка принимается целиком или отклоняется целиком
	for _, tile := range tiles {
		if err := m.validator.Validate(tile.Payload); err != nil {
			span.RecordError(err)
			return fmt.Errorf("tile (%d, %d): %w", tile.Coord.X, tile.Coord.Y, err)
		}
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := m.deps.repo.SaveTiles(ctx, m.meta.ID, tiles); err != nil {
		return m.fail(span, fmt.Errorf("save tiles: %w", err))
	}

	m.applyUpsert(ctx, tiles)

	for _, tile := range tiles {
		ev, err := eventbus.NewTileUpserted(m.deps.instanceID, m.meta.ID, tile.Coord, tile.Payload)
		if err == nil {
			m.publish(ctx, ev)
		}
	}
	return nil
}

// RemoveTile удаляет тайл; отсутствие тайла не ошибка
func (m *Map) RemoveTile(ctx context.Context, coord vec.Vec2) error {
	ctx, span := m.startSpan(ctx, "maps.RemoveTile", attribute.Int("tile.x", coord.X), attribute.Int("tile.y", coord.Y))
	defer span.End()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := m.deps.repo.DeleteTile(ctx, m.meta.ID, coord); err != nil {
		return m.fail(span, fmt.Errorf("delete tile: %w", err))
	}

	m.applyRemove(ctx, coord)

	ev, err := eventbus.NewTileRemoved(m.deps.instanceID, m.meta.ID, coord)
	if err == nil {
		m.publish(ctx, ev)
	}
	return nil
}

// Query возвращает тайлы в радиусе от центра; при настроенном кеше результат кешируется
// по версии индекса
func (m *Map) Query(ctx context.Context, center vec.Vec2, radius float64) ([]*visibility.Tile, error) {
	if err := visibility.ValidateRadius(radius); err != nil {
		return nil, err
	}

	version := m.indexVersion()

	key := cache.Key{MapID: m.meta.ID, Version: version, Center: center, Radius: radius}
	if m.deps.cache != nil {
		cached, err := m.deps.cache.Get(ctx, key)
		if err == nil {
			m.observeQuery("hit")
			return toPointers(cached), nil
		}
		if !cache.IsCacheMiss(err) {
			m.deps.logger.Warn("Кеш карты %s недоступен: %v", m.meta.ID, err)
		}
	}

	tiles, version, err := m.queryIndex(center, radius)
	if err != nil {
		return nil, err
	}

	if m.deps.cache == nil {
		m.observeQuery("off")
		return tiles, nil
	}

	m.observeQuery("miss")
	key.Version = version
	if err := m.deps.cache.Set(ctx, key, toValues(tiles)); err != nil {
		m.deps.logger.Warn("Не удалось закешировать запрос карты %s: %v", m.meta.ID, err)
	}
	return tiles, nil
}

// Resolve разрешение видимости для снимка камеры и предыдущего состояния клиента
func (m *Map) Resolve(cam *visibility.CameraState, prev *visibility.RadiusState) (visibility.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resolver.Resolve(cam, m.index, prev, nil)
}

// NewViewer создаёт зрителя карты (WebSocket-сессия)
func (m *Map) NewViewer() *visibility.Viewer {
	return visibility.NewViewer(m.resolver)
}

// UpdateViewer обрабатывает кадр камеры зрителя под RLock индекса
func (m *Map) UpdateViewer(v *visibility.Viewer, cam *visibility.CameraState) (visibility.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return v.Update(m.index, cam)
}

// Вспомогательные методы

func (m *Map) indexVersion() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index.Version()
}

// queryIndex запрос к индексу под RLock вместе с версией, к которой относится результат
func (m *Map) queryIndex(center vec.Vec2, radius float64) ([]*visibility.Tile, uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tiles, err := m.index.QueryRadius(center, radius)
	return tiles, m.index.Version(), err
}

// applyUpsert меняет индекс и сбрасывает кеш; используется и репликацией
func (m *Map) applyUpsert(ctx context.Context, tiles []visibility.Tile) {
	m.mu.Lock()
	for _, tile := range tiles {
		m.index.Insert(tile)
	}
	n := m.index.Len()
	m.mu.Unlock()

	m.afterChange(ctx, n)
}

func (m *Map) applyRemove(ctx context.Context, coord vec.Vec2) {
	m.mu.Lock()
	m.index.Remove(coord)
	n := m.index.Len()
	m.mu.Unlock()

	m.afterChange(ctx, n)
}

func (m *Map) afterChange(ctx context.Context, n int) {
	if m.deps.cache != nil {
		if err := m.deps.cache.InvalidateMap(ctx, m.meta.ID); err != nil {
			m.deps.logger.Warn("Не удалось сбросить кеш карты %s: %v", m.meta.ID, err)
		}
	}
	if m.deps.metrics != nil {
		m.deps.metrics.SetIndexedTiles(m.meta.ID, n)
	}
}

func (m *Map) publish(ctx context.Context, ev *eventbus.Envelope) {
	if m.deps.bus == nil {
		return
	}
	if span := oteltrace.SpanFromContext(ctx); span.SpanContext().HasTraceID() {
		ev.CorrelationID = span.SpanContext().TraceID().String()
	}
	// Изменение уже сохранено: ошибка шины не откатывает его
	if err := m.deps.bus.Publish(ctx, ev); err != nil {
		m.deps.logger.Warn("Не удалось опубликовать %s для карты %s: %v", ev.EventType, m.meta.ID, err)
	}
}

func (m *Map) observeQuery(result string) {
	if m.deps.metrics != nil {
		m.deps.metrics.ObserveQuery(m.meta.ID, result)
	}
}

func (m *Map) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	attrs = append(attrs, attribute.String("map.id", m.meta.ID))
	return m.deps.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

func (m *Map) fail(span oteltrace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	m.deps.logger.Error("Карта %s: %v", m.meta.ID, err)
	return err
}

func toValues(tiles []*visibility.Tile) []visibility.Tile {
	result := make([]visibility.Tile, len(tiles))
	for i, tile := range tiles {
		result[i] = *tile
	}
	return result
}

func toPointers(tiles []visibility.Tile) []*visibility.Tile {
	result := make([]*visibility.Tile, len(tiles))
	for i := range tiles {
		result[i] = &tiles[i]
	}
	return result
}

// newMeta заполняет время создания
func newMeta(id, name, metric string, cellSize int, now time.Time) storage.MapMeta {
	return storage.MapMeta{ID: id, Name: name, Metric: metric, CellSize: cellSize, CreatedAt: now.UTC()}
}
