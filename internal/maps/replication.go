package maps

import (
	"context"
	"fmt"

	"github.com/annel0/rpg-companion/internal/eventbus"
	"github.com/annel0/rpg-companion/internal/storage"
	"github.com/annel0/rpg-companion/internal/visibility"
)

// StartReplication подписывает менеджер на события карт других инстансов.
// Такие события меняют только локальный индекс: хранилище уже обновлено источником,
// повторной публикации нет.
func (mgr *Manager) StartReplication(ctx context.Context) error {
	if mgr.deps.bus == nil {
		return nil
	}

	filter := eventbus.Filter{Types: []string{
		eventbus.EventTileUpserted,
		eventbus.EventTileRemoved,
		eventbus.EventMapCreated,
	}}
	sub, err := mgr.deps.bus.Subscribe(ctx, filter, mgr.handleEvent)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	mgr.mu.Lock()
	mgr.sub = sub
	mgr.mu.Unlock()

	mgr.deps.logger.Info("🔄 Репликация карт запущена (instance=%s)", mgr.deps.instanceID)
	return nil
}

func (mgr *Manager) handleEvent(ctx context.Context, ev *eventbus.Envelope) {
	if ev.Source == mgr.deps.instanceID {
		return
	}

	var err error
	switch ev.EventType {
	case eventbus.EventMapCreated:
		err = mgr.applyMapCreated(ctx, ev)
	case eventbus.EventTileUpserted, eventbus.EventTileRemoved:
		err = mgr.applyTileEvent(ctx, ev)
	}
	if err != nil {
		mgr.deps.logger.Warn("Событие %s (%s) от %s не применено: %v", ev.EventType, ev.ID, ev.Source, err)
	}
}

func (mgr *Manager) applyMapCreated(ctx context.Context, ev *eventbus.Envelope) error {
	payload, err := eventbus.DecodeMap(ev)
	if err != nil {
		return err
	}
	if _, err := mgr.Get(payload.MapID); err == nil {
		return nil
	}

	_, err = mgr.loadMap(ctx, storage.MapMeta{
		ID:            payload.MapID,
		Name:          payload.Name,
		Metric:        payload.Metric,
		CellSize:      payload.CellSize,
		PayloadSchema: string(payload.PayloadSchema),
		CreatedAt:     payload.Created,
	})
	return err
}

func (mgr *Manager) applyTileEvent(ctx context.Context, ev *eventbus.Envelope) error {
	payload, err := eventbus.DecodeTile(ev)
	if err != nil {
		return err
	}
	m, err := mgr.Get(payload.MapID)
	if err != nil {
		return err
	}

	// Сериализуемся с локальными писателями
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if ev.EventType == eventbus.EventTileRemoved {
		m.applyRemove(ctx, payload.Coord)
	} else {
		m.applyUpsert(ctx, []visibility.Tile{{Coord: payload.Coord, Payload: payload.Payload}})
	}
	return nil
}
