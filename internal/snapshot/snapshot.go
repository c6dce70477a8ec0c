// Package snapshot выгружает карты целиком в S3-совместимое хранилище и загружает их обратно.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/rpg-companion/internal/storage"
	"github.com/annel0/rpg-companion/internal/visibility"
	"github.com/klauspost/compress/zstd"
)

// FormatVersion версия формата снимка
const FormatVersion = 1

// objectSuffix расширение объектов снимков
const objectSuffix = ".json.zst"

var (
	// ErrSnapshotNotFound объект снимка отсутствует в хранилище
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrInvalidSnapshot объект не является снимком поддерживаемой версии
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)

// Snapshot содержимое одного снимка: описание карты и все её тайлы
type Snapshot struct {
	Version    int               `json:"version"`
	Source     string            `json:"source"`
	ExportedAt time.Time         `json:"exported_at"`
	Map        storage.MapMeta   `json:"map"`
	Tiles      []visibility.Tile `json:"tiles"`
}

// Encode сериализует снимок в JSON со сжатием zstd
func Encode(s *Snapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer enc.Close()

	return enc.EncodeAll(data, make([]byte, 0, len(data)/4)), nil
}

// Decode разбирает снимок и проверяет версию формата
func Decode(data []byte) (*Snapshot, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrInvalidSnapshot, err)
	}

	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if s.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidSnapshot, s.Version)
	}
	if s.Map.ID == "" {
		return nil, fmt.Errorf("%w: map id is empty", ErrInvalidSnapshot)
	}
	return &s, nil
}

// objectKey ключ объекта: <map-id>/<время выгрузки>.json.zst
func objectKey(mapID string, at time.Time) string {
	return mapID + "/" + at.UTC().Format("20060102T150405.000Z") + objectSuffix
}
