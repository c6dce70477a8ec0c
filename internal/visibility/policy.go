package visibility

import (
	"fmt"
	"math"
	"time"

	"github.com/annel0/rpg-companion/internal/vec"
)

// DefaultBaseRadius радиус при zoom = 1 и отсутствующей камере
const DefaultBaseRadius = 20.0

// PolicyConfig параметры политики радиуса.
//
// MaxRadius = 0 означает отсутствие верхней границы.
// MoveThreshold и ZoomThreshold задают, насколько камера должна сдвинуться
// (в метрике карты) или изменить zoom, чтобы радиус был пересчитан.
type PolicyConfig struct {
	BaseRadius    float64 `yaml:"base_radius" json:"base_radius"`
	ZoomFactor    float64 `yaml:"zoom_factor" json:"zoom_factor"`
	MinRadius     float64 `yaml:"min_radius" json:"min_radius"`
	MaxRadius     float64 `yaml:"max_radius" json:"max_radius"`
	MoveThreshold float64 `yaml:"move_threshold" json:"move_threshold"`
	ZoomThreshold float64 `yaml:"zoom_threshold" json:"zoom_threshold"`
}

// DefaultPolicyConfig возвращает конфигурацию по умолчанию
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		BaseRadius:    DefaultBaseRadius,
		ZoomFactor:    1.0,
		ZoomThreshold: 0.05,
	}
}

// normalize подставляет значения по умолчанию вместо нулевых
func (c PolicyConfig) normalize() PolicyConfig {
	if c.BaseRadius == 0 {
		c.BaseRadius = DefaultBaseRadius
	}
	if c.ZoomFactor <= 0 || math.IsNaN(c.ZoomFactor) {
		c.ZoomFactor = 1.0
	}
	return c
}

// Validate проверяет границы конфигурации
func (c PolicyConfig) Validate() error {
	if err := ValidateRadius(c.BaseRadius); err != nil {
		return fmt.Errorf("base_radius: %w", err)
	}
	if err := ValidateRadius(c.MinRadius); err != nil {
		return fmt.Errorf("min_radius: %w", err)
	}
	if err := ValidateRadius(c.MaxRadius); err != nil {
		return fmt.Errorf("max_radius: %w", err)
	}
	if c.MaxRadius > 0 && c.MaxRadius < c.MinRadius {
		return fmt.Errorf("%w: max_radius %.2f < min_radius %.2f", ErrInvalidRadius, c.MaxRadius, c.MinRadius)
	}
	if c.MoveThreshold < 0 || c.ZoomThreshold < 0 {
		return fmt.Errorf("thresholds must be non-negative")
	}
	return nil
}

// RadiusState последнее вычисленное окно видимости.
// Zoom хранится, чтобы сравнивать с ним следующий снимок камеры.
type RadiusState struct {
	Radius     float64   `json:"radius"`
	Center     vec.Vec2  `json:"center"`
	Zoom       float64   `json:"zoom"`
	LastUpdate time.Time `json:"last_update"`
}

// ComputeRadius переводит состояние камеры в радиус:
// clamp(BaseRadius / (Zoom * ZoomFactor), MinRadius, MaxRadius).
// Для nil камеры или zoom <= 0 (и NaN) используется BaseRadius, zoom = +Inf даёт MinRadius.
func ComputeRadius(cam *CameraState, cfg PolicyConfig) float64 {
	cfg = cfg.normalize()

	radius := cfg.BaseRadius
	if cam != nil && cam.Zoom > 0 {
		// При +Inf частное равно 0, радиус не растёт с приближением
		radius = cfg.BaseRadius / (cam.Zoom * cfg.ZoomFactor)
	}

	if radius < cfg.MinRadius {
		radius = cfg.MinRadius
	}
	if cfg.MaxRadius > 0 && radius > cfg.MaxRadius {
		radius = cfg.MaxRadius
	}
	return radius
}

// Policy решает, какой радиус использовать и когда его пересчитывать.
// Не хранит состояния между вызовами: предыдущий RadiusState передаётся явно.
type Policy struct {
	cfg    PolicyConfig
	metric Metric

	// Clock источник времени для LastUpdate; nil означает time.Now
	Clock func() time.Time
}

// NewPolicy создаёт политику для карты с заданной метрикой
func NewPolicy(cfg PolicyConfig, metric Metric) (*Policy, error) {
	cfg = cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if metric == nil {
		metric = Chebyshev
	}
	return &Policy{cfg: cfg, metric: metric}, nil
}

// Config возвращает нормализованную конфигурацию
func (p *Policy) Config() PolicyConfig {
	return p.cfg
}

// Metric возвращает метрику, в которой измеряется сдвиг камеры
func (p *Policy) Metric() Metric {
	return p.metric
}

// ComputeRadius вычисляет радиус для снимка камеры
func (p *Policy) ComputeRadius(cam *CameraState) float64 {
	return ComputeRadius(cam, p.cfg)
}

// ShouldRecompute возвращает true, если предыдущего состояния нет, камера сдвинулась
// дальше MoveThreshold или zoom изменился больше чем на ZoomThreshold.
func (p *Policy) ShouldRecompute(prev *RadiusState, cam *CameraState) bool {
	if prev == nil {
		return true
	}

	c := effectiveCamera(cam)
	if p.metric.Distance(prev.Center, c.Position) > p.cfg.MoveThreshold {
		return true
	}
	return math.Abs(c.Zoom-prev.Zoom) > p.cfg.ZoomThreshold
}

// Update возвращает prev без изменений (тот же указатель), если пересчёт не нужен,
// иначе новое состояние со свежей отметкой времени.
func (p *Policy) Update(prev *RadiusState, cam *CameraState) *RadiusState {
	if !p.ShouldRecompute(prev, cam) {
		return prev
	}

	c := effectiveCamera(cam)
	return &RadiusState{
		Radius:     p.ComputeRadius(cam),
		Center:     c.Position,
		Zoom:       c.Zoom,
		LastUpdate: p.now(),
	}
}

func (p *Policy) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}

// effectiveCamera заменяет отсутствующую камеру вырожденной: центр {0,0}, zoom 0
func effectiveCamera(cam *CameraState) CameraState {
	if cam == nil {
		return CameraState{}
	}
	c := *cam
	switch {
	case math.IsInf(c.Zoom, 1):
		// RadiusState уходит клиенту в JSON, а Inf не кодируется
		c.Zoom = math.MaxFloat64
	case c.Zoom < 0 || math.IsNaN(c.Zoom):
		c.Zoom = 0
	}
	return c
}
