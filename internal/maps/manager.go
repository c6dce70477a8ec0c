package maps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/annel0/rpg-companion/internal/cache"
	"github.com/annel0/rpg-companion/internal/eventbus"
	"github.com/annel0/rpg-companion/internal/logging"
	"github.com/annel0/rpg-companion/internal/metrics"
	"github.com/annel0/rpg-companion/internal/observability"
	"github.com/annel0/rpg-companion/internal/schema"
	"github.com/annel0/rpg-companion/internal/storage"
	"github.com/annel0/rpg-companion/internal/visibility"
	"github.com/google/uuid"
)

var (
	// ErrMapNotFound карта с указанным ID не зарегистрирована
	ErrMapNotFound = errors.New("map not found")
	// ErrMapExists карта с указанным ID уже зарегистрирована
	ErrMapExists = errors.New("map already exists")
	// ErrInvalidSpec некорректные параметры создания карты
	ErrInvalidSpec = errors.New("invalid map spec")
)

// mapIDPattern допустимый ID карты: ID входит в ключи хранилищ и кеша вместе с разделителем ':'
var mapIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Spec параметры создания карты. Пустой ID генерируется, пустая метрика берётся из Options.DefaultMetric.
// PayloadSchema (JSON Schema) ограничивает полезную нагрузку тайлов карты.
type Spec struct {
	ID            string          `json:"id,omitempty"`
	Name          string          `json:"name"`
	Metric        string          `json:"metric,omitempty"`
	CellSize      int             `json:"cell_size,omitempty"`
	PayloadSchema json.RawMessage `json:"payload_schema,omitempty"`
}

// Options зависимости менеджера. Cache, Bus и Metrics необязательны.
type Options struct {
	InstanceID      string
	Policy          visibility.PolicyConfig
	DefaultMetric   string // пусто - chebyshev
	DefaultCellSize int

	Repo    storage.TileRepo
	Cache   cache.ResultCache
	Bus     eventbus.EventBus
	Metrics *metrics.VisibilityMetrics

	// Clock источник времени для CreatedAt; nil означает time.Now
	Clock func() time.Time
}

// Manager реестр карт инстанса
type Manager struct {
	deps            *dependencies
	policyCfg       visibility.PolicyConfig
	defaultMetric   string
	defaultCellSize int
	clock           func() time.Time

	mu   sync.RWMutex
	maps map[string]*Map

	sub eventbus.Subscription
}

// NewManager создаёт менеджер карт
func NewManager(opts Options) (*Manager, error) {
	if opts.Repo == nil {
		return nil, fmt.Errorf("maps: repository is required")
	}
	// Проверяем политику заранее, чтобы Create не падал на каждой карте
	if _, err := visibility.NewPolicy(opts.Policy, visibility.Chebyshev); err != nil {
		return nil, fmt.Errorf("maps: invalid policy: %w", err)
	}
	if _, err := visibility.MetricByName(opts.DefaultMetric); err != nil {
		return nil, fmt.Errorf("maps: default metric: %w", err)
	}
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Manager{
		deps: &dependencies{
			instanceID: opts.InstanceID,
			repo:       opts.Repo,
			cache:      opts.Cache,
			bus:        opts.Bus,
			metrics:    opts.Metrics,
			logger:     logging.GetMapsLogger(),
			tracer:     observability.Tracer("maps"),
		},
		policyCfg:       opts.Policy,
		defaultMetric:   opts.DefaultMetric,
		defaultCellSize: opts.DefaultCellSize,
		clock:           opts.Clock,
		maps:            make(map[string]*Map),
	}, nil
}

// InstanceID идентификатор инстанса (Source событий шины)
func (mgr *Manager) InstanceID() string {
	return mgr.deps.instanceID
}

// Create регистрирует новую карту, сохраняет её и публикует map.created
func (mgr *Manager) Create(ctx context.Context, spec Spec) (*Map, error) {
	if spec.Metric == "" {
		spec.Metric = mgr.defaultMetric
	}
	metric, err := visibility.MetricByName(spec.Metric)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(spec.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidSpec)
	}
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	if !mapIDPattern.MatchString(spec.ID) {
		return nil, fmt.Errorf("%w: map id %q must match %s", ErrInvalidSpec, spec.ID, mapIDPattern)
	}
	if spec.CellSize <= 0 {
		spec.CellSize = mgr.defaultCellSize
	}

	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if _, exists := mgr.maps[spec.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrMapExists, spec.ID)
	}

	meta := newMeta(spec.ID, spec.Name, metric.Name(), spec.CellSize, mgr.clock())
	if _, err := schema.Compile(spec.PayloadSchema); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	if len(spec.PayloadSchema) > 0 && string(spec.PayloadSchema) != "null" {
		meta.PayloadSchema = string(spec.PayloadSchema)
	}

	m, err := mgr.buildMap(meta)
	if err != nil {
		return nil, err
	}

	if err := mgr.deps.repo.SaveMap(ctx, meta); err != nil {
		return nil, fmt.Errorf("save map: %w", err)
	}
	mgr.maps[meta.ID] = m

	mgr.deps.logger.Info("🗺️ Карта создана: %s (%s, metric=%s)", meta.Name, meta.ID, meta.Metric)

	mapEvent := eventbus.MapEvent{
		MapID:    meta.ID,
		Name:     meta.Name,
		Metric:   meta.Metric,
		CellSize: meta.CellSize,
		Created:  meta.CreatedAt,
	}
	if meta.PayloadSchema != "" {
		mapEvent.PayloadSchema = json.RawMessage(meta.PayloadSchema)
	}
	ev, err := eventbus.NewMapCreated(mgr.deps.instanceID, mapEvent)
	if err == nil {
		m.publish(ctx, ev)
	}
	return m, nil
}

// Get возвращает карту по ID
func (mgr *Manager) Get(id string) (*Map, error) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	m, ok := mgr.maps[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMapNotFound, id)
	}
	return m, nil
}

// List возвращает карты, отсортированные по имени и ID
func (mgr *Manager) List() []*Map {
	mgr.mu.RLock()
	result := make([]*Map, 0, len(mgr.maps))
	for _, m := range mgr.maps {
		result = append(result, m)
	}
	mgr.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].meta.Name != result[j].meta.Name {
			return result[i].meta.Name < result[j].meta.Name
		}
		return result[i].meta.ID < result[j].meta.ID
	})
	return result
}

// Load восстанавливает все карты и их тайлы из хранилища
func (mgr *Manager) Load(ctx context.Context) error {
	metas, err := mgr.deps.repo.ListMaps(ctx)
	if err != nil {
		return fmt.Errorf("list maps: %w", err)
	}

	for _, meta := range metas {
		if _, err := mgr.loadMap(ctx, meta); err != nil {
			return err
		}
	}

	mgr.deps.logger.Info("📦 Загружено карт: %d", len(metas))
	return nil
}

// loadMap создаёт карту из описания и наполняет индекс тайлами хранилища
func (mgr *Manager) loadMap(ctx context.Context, meta storage.MapMeta) (*Map, error) {
	m, err := mgr.buildMap(meta)
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", meta.ID, err)
	}

	tiles, err := mgr.deps.repo.LoadTiles(ctx, meta.ID)
	if err != nil && !errors.Is(err, storage.ErrMapNotFound) {
		return nil, fmt.Errorf("load tiles of %s: %w", meta.ID, err)
	}
	if len(tiles) > 0 {
		m.applyUpsert(ctx, tiles)
	}

	mgr.mu.Lock()
	mgr.maps[meta.ID] = m
	mgr.mu.Unlock()

	mgr.deps.logger.Debug("Карта %s загружена: %s", meta.ID, m.Stats())
	return m, nil
}

func (mgr *Manager) buildMap(meta storage.MapMeta) (*Map, error) {
	metric, err := visibility.MetricByName(meta.Metric)
	if err != nil {
		return nil, err
	}
	policy, err := visibility.NewPolicy(mgr.policyCfg, metric)
	if err != nil {
		return nil, err
	}
	validator, err := schema.Compile(json.RawMessage(meta.PayloadSchema))
	if err != nil {
		return nil, err
	}
	return newMap(meta, metric, policy, validator, mgr.deps), nil
}

// Close отписывается от шины
func (mgr *Manager) Close() {
	mgr.mu.Lock()
	sub := mgr.sub
	mgr.sub = nil
	mgr.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}
