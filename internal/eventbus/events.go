package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/annel0/rpg-companion/internal/vec"
	"github.com/google/uuid"
)

// Типы событий карт
const (
	EventTileUpserted = "tile.upserted"
	EventTileRemoved  = "tile.removed"
	EventMapCreated   = "map.created"
)

// payloadVersion текущая версия схемы полезной нагрузки
const payloadVersion = 1

// TileEvent полезная нагрузка tile.upserted / tile.removed.
// Для tile.removed Payload пуст.
type TileEvent struct {
	MapID   string                 `json:"map_id"`
	Coord   vec.Vec2               `json:"coord"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// MapEvent полезная нагрузка map.created
type MapEvent struct {
	MapID         string          `json:"map_id"`
	Name          string          `json:"name"`
	Metric        string          `json:"metric"`
	CellSize      int             `json:"cell_size"`
	PayloadSchema json.RawMessage `json:"payload_schema,omitempty"`
	Created       time.Time       `json:"created"`
}

// NewEnvelope упаковывает полезную нагрузку в JSON-конверт
func NewEnvelope(source, eventType string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Version:   payloadVersion,
		Priority:  5, // изменения карты не дропаются при переполнении буфера
		Payload:   data,
	}, nil
}

// NewTileUpserted создаёт событие вставки/замены тайла
func NewTileUpserted(source, mapID string, coord vec.Vec2, payload map[string]interface{}) (*Envelope, error) {
	return NewEnvelope(source, EventTileUpserted, TileEvent{MapID: mapID, Coord: coord, Payload: payload})
}

// NewTileRemoved создаёт событие удаления тайла
func NewTileRemoved(source, mapID string, coord vec.Vec2) (*Envelope, error) {
	return NewEnvelope(source, EventTileRemoved, TileEvent{MapID: mapID, Coord: coord})
}

// NewMapCreated создаёт событие создания карты
func NewMapCreated(source string, ev MapEvent) (*Envelope, error) {
	return NewEnvelope(source, EventMapCreated, ev)
}

// DecodeTile разбирает полезную нагрузку событий тайла
func DecodeTile(ev *Envelope) (TileEvent, error) {
	var out TileEvent
	if ev.EventType != EventTileUpserted && ev.EventType != EventTileRemoved {
		return out, fmt.Errorf("unexpected event type %s", ev.EventType)
	}
	if err := json.Unmarshal(ev.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", ev.EventType, err)
	}
	return out, nil
}

// DecodeMap разбирает полезную нагрузку map.created
func DecodeMap(ev *Envelope) (MapEvent, error) {
	var out MapEvent
	if ev.EventType != EventMapCreated {
		return out, fmt.Errorf("unexpected event type %s", ev.EventType)
	}
	if err := json.Unmarshal(ev.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", ev.EventType, err)
	}
	return out, nil
}

// EventDescriptions описания типов событий карт (инструменты диагностики)
var EventDescriptions = map[string]string{
	EventTileUpserted: "тайл добавлен или заменён",
	EventTileRemoved:  "тайл удалён",
	EventMapCreated:   "создана карта",
}

// MapIDOf возвращает ID карты события или пустую строку для неизвестных типов
func MapIDOf(ev *Envelope) string {
	switch ev.EventType {
	case EventTileUpserted, EventTileRemoved:
		if te, err := DecodeTile(ev); err == nil {
			return te.MapID
		}
	case EventMapCreated:
		if me, err := DecodeMap(ev); err == nil {
			return me.MapID
		}
	}
	return ""
}
