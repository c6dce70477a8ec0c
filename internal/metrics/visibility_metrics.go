package metrics

import (
	"time"

	"github.com/annel0/rpg-companion/internal/visibility"
	"github.com/prometheus/client_golang/prometheus"
)

// VisibilityMetrics Prometheus-метрики движка видимости.
//
// Метрики:
// * visibility_resolve_duration_seconds{map} - histogram
// * visibility_resolves_total{map,outcome} - counter (recomputed/reused/requeried)
// * visibility_visible_tiles{map} - histogram размера VisibleSet
// * visibility_queries_total{map,cache} - counter прямых запросов радиуса (hit/miss/off)
// * visibility_indexed_tiles{map} - gauge числа тайлов в индексе
type VisibilityMetrics struct {
	resolveDuration *prometheus.HistogramVec
	resolves        *prometheus.CounterVec
	visibleTiles    *prometheus.HistogramVec
	queries         *prometheus.CounterVec
	indexedTiles    *prometheus.GaugeVec
}

// NewVisibilityMetrics создаёт метрики и регистрирует их в reg
// (nil означает глобальный регистр Prometheus).
func NewVisibilityMetrics(reg prometheus.Registerer) *VisibilityMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	vm := &VisibilityMetrics{
		resolveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "visibility",
			Name:      "resolve_duration_seconds",
			Help:      "Длительность разрешения видимости.",
			Buckets:   []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"map"}),
		resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "visibility",
			Name:      "resolves_total",
			Help:      "Число разрешений видимости по исходу.",
		}, []string{"map", "outcome"}),
		visibleTiles: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "visibility",
			Name:      "visible_tiles",
			Help:      "Размер набора видимых тайлов.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 9),
		}, []string{"map"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "visibility",
			Name:      "queries_total",
			Help:      "Число запросов тайлов в радиусе по результату кеша.",
		}, []string{"map", "cache"}),
		indexedTiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "visibility",
			Name:      "indexed_tiles",
			Help:      "Количество тайлов в индексе карты.",
		}, []string{"map"}),
	}

	reg.MustRegister(vm.resolveDuration, vm.resolves, vm.visibleTiles, vm.queries, vm.indexedTiles)
	return vm
}

// ForMap возвращает наблюдателя резолвера для конкретной карты
func (vm *VisibilityMetrics) ForMap(mapID string) visibility.Observer {
	return &mapObserver{metrics: vm, mapID: mapID}
}

// SetIndexedTiles обновляет число тайлов карты
func (vm *VisibilityMetrics) SetIndexedTiles(mapID string, n int) {
	vm.indexedTiles.WithLabelValues(mapID).Set(float64(n))
}

// ObserveQuery учитывает прямой запрос радиуса; cache: hit, miss или off
func (vm *VisibilityMetrics) ObserveQuery(mapID, cache string) {
	vm.queries.WithLabelValues(mapID, cache).Inc()
}

// Outcome исход разрешения видимости для метки outcome
func Outcome(recomputed, reused bool) string {
	switch {
	case recomputed:
		return "recomputed"
	case reused:
		return "reused"
	default:
		return "requeried"
	}
}

type mapObserver struct {
	metrics *VisibilityMetrics
	mapID   string
}

func (o *mapObserver) ObserveResolve(duration time.Duration, tiles int, recomputed, reused bool) {
	o.metrics.resolveDuration.WithLabelValues(o.mapID).Observe(duration.Seconds())
	o.metrics.resolves.WithLabelValues(o.mapID, Outcome(recomputed, reused)).Inc()
	o.metrics.visibleTiles.WithLabelValues(o.mapID).Observe(float64(tiles))
}
