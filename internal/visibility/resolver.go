package visibility

import (
	"fmt"
	"time"
)

// Result результат разрешения видимости для слоя отрисовки
type Result struct {
	Tiles      []*Tile      `json:"tiles"`
	State      *RadiusState `json:"radius_state"`
	Recomputed bool         `json:"recomputed"`
	Reused     bool         `json:"reused"`
}

// Frame последний VisibleSet, который вызывающая сторона может переиспользовать.
// Действителен, пока не изменилось состояние радиуса и версия индекса.
type Frame struct {
	State   *RadiusState
	Version uint64
	Tiles   []*Tile
}

// Observer получает статистику каждого разрешения (метрики, логи)
type Observer interface {
	ObserveResolve(duration time.Duration, tiles int, recomputed, reused bool)
}

// Resolver связывает политику радиуса и индекс тайлов
type Resolver struct {
	policy   *Policy
	observer Observer
}

// NewResolver создаёт резолвер; observer может быть nil
func NewResolver(policy *Policy, observer Observer) *Resolver {
	return &Resolver{policy: policy, observer: observer}
}

// Policy возвращает политику резолвера
func (r *Resolver) Policy() *Policy {
	return r.policy
}

// Resolve вычисляет VisibleSet для снимка камеры.
//
// Если политика вернула prev без изменений и cached относится к тому же состоянию
// и той же версии индекса, тайлы берутся из cached без запроса к индексу.
func (r *Resolver) Resolve(cam *CameraState, index *TileIndex, prev *RadiusState, cached *Frame) (Result, error) {
	start := time.Now()

	if index.Metric().Name() != r.policy.Metric().Name() {
		return Result{}, fmt.Errorf("%w: index=%s policy=%s", ErrMetricMismatch, index.Metric().Name(), r.policy.Metric().Name())
	}

	state := r.policy.Update(prev, cam)
	recomputed := state != prev

	if !recomputed && cached != nil && cached.State == state && cached.Version == index.Version() {
		r.observe(start, len(cached.Tiles), false, true)
		return Result{Tiles: cached.Tiles, State: state, Reused: true}, nil
	}

	tiles, err := index.QueryRadius(state.Center, state.Radius)
	if err != nil {
		return Result{}, err
	}

	r.observe(start, len(tiles), recomputed, false)
	return Result{Tiles: tiles, State: state, Recomputed: recomputed}, nil
}

func (r *Resolver) observe(start time.Time, tiles int, recomputed, reused bool) {
	if r.observer != nil {
		r.observer.ObserveResolve(time.Since(start), tiles, recomputed, reused)
	}
}

// Resolve разрешение видимости без кеша и наблюдателя
func Resolve(cam *CameraState, index *TileIndex, policy *Policy, prev *RadiusState) (Result, error) {
	return NewResolver(policy, nil).Resolve(cam, index, prev, nil)
}
