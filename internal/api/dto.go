package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/annel0/rpg-companion/internal/maps"
	"github.com/annel0/rpg-companion/internal/visibility"
)

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// CreateMapRequest запрос на создание карты
type CreateMapRequest struct {
	ID            string          `json:"id"`
	Name          string          `json:"name" binding:"required"`
	Metric        string          `json:"metric"`
	CellSize      int             `json:"cell_size"`
	PayloadSchema json.RawMessage `json:"payload_schema"`
}

// MapInfo описание карты в ответах API
type MapInfo struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Metric        string          `json:"metric"`
	CoordSystem   string          `json:"coord_system"`
	CellSize      int             `json:"cell_size"`
	Tiles         int             `json:"tiles"`
	PayloadSchema json.RawMessage `json:"payload_schema,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Stats         string          `json:"stats,omitempty"`
}

// TileDTO тайл с координатой в системе координат карты
type TileDTO struct {
	Coord   visibility.CoordInput  `json:"coord"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// QueryRequest прямой запрос тайлов в радиусе
type QueryRequest struct {
	Center visibility.CoordInput `json:"center"`
	Radius *float64              `json:"radius" binding:"required"`
}

// CameraDTO снимок камеры от клиента
type CameraDTO struct {
	Position visibility.CoordInput `json:"position"`
	Zoom     float64               `json:"zoom"`
}

// RadiusStateDTO состояние радиуса, которое клиент хранит между кадрами
type RadiusStateDTO struct {
	Radius     float64               `json:"radius"`
	Center     visibility.CoordInput `json:"center"`
	Zoom       float64               `json:"zoom"`
	LastUpdate time.Time             `json:"last_update"`
}

// ResolveRequest запрос разрешения видимости. Отсутствующая камера допустима.
type ResolveRequest struct {
	Camera   *CameraDTO      `json:"camera"`
	Previous *RadiusStateDTO `json:"previous"`
}

// ResolveResponse видимые тайлы и новое состояние радиуса
type ResolveResponse struct {
	Tiles       []TileDTO      `json:"tiles"`
	RadiusState RadiusStateDTO `json:"radius_state"`
	Recomputed  bool           `json:"recomputed"`
}

func newMapInfo(m *maps.Map, withStats bool) MapInfo {
	meta := m.Meta()
	info := MapInfo{
		ID:          meta.ID,
		Name:        meta.Name,
		Metric:      meta.Metric,
		CoordSystem: string(m.Metric().System()),
		CellSize:    meta.CellSize,
		Tiles:       m.Len(),
		CreatedAt:   meta.CreatedAt,
	}
	if meta.PayloadSchema != "" {
		info.PayloadSchema = json.RawMessage(meta.PayloadSchema)
	}
	if withStats {
		info.Stats = m.Stats()
	}
	return info
}

func toTileDTOs(system visibility.CoordSystem, tiles []*visibility.Tile) []TileDTO {
	result := make([]TileDTO, 0, len(tiles))
	for _, tile := range tiles {
		result = append(result, TileDTO{
			Coord:   visibility.FormatCoord(system, tile.Coord),
			Payload: tile.Payload,
		})
	}
	return result
}

func toRadiusStateDTO(system visibility.CoordSystem, state *visibility.RadiusState) RadiusStateDTO {
	if state == nil {
		return RadiusStateDTO{}
	}
	return RadiusStateDTO{
		Radius:     state.Radius,
		Center:     visibility.FormatCoord(system, state.Center),
		Zoom:       state.Zoom,
		LastUpdate: state.LastUpdate,
	}
}

func (dto *CameraDTO) toCamera(system visibility.CoordSystem) (*visibility.CameraState, error) {
	if dto == nil {
		return nil, nil
	}
	pos, err := visibility.ParseCoord(system, dto.Position)
	if err != nil {
		return nil, fmt.Errorf("camera position: %w", err)
	}
	return &visibility.CameraState{Position: pos, Zoom: dto.Zoom}, nil
}

func (dto *RadiusStateDTO) toRadiusState(system visibility.CoordSystem) (*visibility.RadiusState, error) {
	if dto == nil {
		return nil, nil
	}
	if err := visibility.ValidateRadius(dto.Radius); err != nil {
		return nil, fmt.Errorf("previous radius: %w", err)
	}
	center, err := visibility.ParseCoord(system, dto.Center)
	if err != nil {
		return nil, fmt.Errorf("previous center: %w", err)
	}
	return &visibility.RadiusState{
		Radius:     dto.Radius,
		Center:     center,
		Zoom:       dto.Zoom,
		LastUpdate: dto.LastUpdate,
	}, nil
}
