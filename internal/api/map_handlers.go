package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/annel0/rpg-companion/internal/maps"
	"github.com/annel0/rpg-companion/internal/schema"
	"github.com/annel0/rpg-companion/internal/snapshot"
	"github.com/annel0/rpg-companion/internal/visibility"
	"github.com/gin-gonic/gin"
)

// handleListMaps возвращает все карты инстанса
func (rs *RestServer) handleListMaps(c *gin.Context) {
	list := rs.manager.List()
	infos := make([]MapInfo, 0, len(list))
	for _, m := range list {
		infos = append(infos, newMapInfo(m, false))
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список карт",
		Data:    infos,
	})
}

// handleCreateMap создаёт карту
func (rs *RestServer) handleCreateMap(c *gin.Context) {
	var req CreateMapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rs.badRequest(c, "Неверный формат запроса")
		return
	}

	m, err := rs.manager.Create(c.Request.Context(), maps.Spec{
		ID:            req.ID,
		Name:          req.Name,
		Metric:        req.Metric,
		CellSize:      req.CellSize,
		PayloadSchema: req.PayloadSchema,
	})
	if err != nil {
		rs.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Карта создана",
		Data:    newMapInfo(m, false),
	})
}

// handleGetMap возвращает описание карты со статистикой индекса
func (rs *RestServer) handleGetMap(c *gin.Context) {
	m, ok := rs.lookupMap(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Карта",
		Data:    newMapInfo(m, true),
	})
}

// handleListTiles возвращает все тайлы карты
func (rs *RestServer) handleListTiles(c *gin.Context) {
	m, ok := rs.lookupMap(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Тайлы карты",
		Data:    toTileDTOs(m.Metric().System(), m.Tiles()),
	})
}

// handlePutTile добавляет или заменяет тайл
func (rs *RestServer) handlePutTile(c *gin.Context) {
	m, ok := rs.lookupMap(c)
	if !ok {
		return
	}

	var req TileDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		rs.badRequest(c, "Неверный формат запроса")
		return
	}

	coord, err := visibility.ParseCoord(m.Metric().System(), req.Coord)
	if err != nil {
		rs.respondError(c, err)
		return
	}

	if err := m.PutTile(c.Request.Context(), visibility.Tile{Coord: coord, Payload: req.Payload}); err != nil {
		rs.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Тайл сохранён",
		Data:    TileDTO{Coord: visibility.FormatCoord(m.Metric().System(), coord), Payload: req.Payload},
	})
}

// handleDeleteTile удаляет тайл; координата в query (?x=&y= или ?q=&r=)
func (rs *RestServer) handleDeleteTile(c *gin.Context) {
	m, ok := rs.lookupMap(c)
	if !ok {
		return
	}

	in, err := coordFromQuery(c)
	if err != nil {
		rs.respondError(c, err)
		return
	}
	coord, err := visibility.ParseCoord(m.Metric().System(), in)
	if err != nil {
		rs.respondError(c, err)
		return
	}

	if err := m.RemoveTile(c.Request.Context(), coord); err != nil {
		rs.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Тайл удалён",
	})
}

// handleQuery прямой запрос тайлов в радиусе
func (rs *RestServer) handleQuery(c *gin.Context) {
	m, ok := rs.lookupMap(c)
	if !ok {
		return
	}

	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rs.badRequest(c, "Неверный формат запроса")
		return
	}

	system := m.Metric().System()
	center, err := visibility.ParseCoord(system, req.Center)
	if err != nil {
		rs.respondError(c, err)
		return
	}

	tiles, err := m.Query(c.Request.Context(), center, *req.Radius)
	if err != nil {
		rs.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Тайлы в радиусе",
		Data:    toTileDTOs(system, tiles),
	})
}

// handleResolve разрешение видимости для снимка камеры.
// Клиент хранит radius_state из ответа и присылает его как previous в следующем запросе.
func (rs *RestServer) handleResolve(c *gin.Context) {
	m, ok := rs.lookupMap(c)
	if !ok {
		return
	}

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rs.badRequest(c, "Неверный формат запроса")
		return
	}

	system := m.Metric().System()
	cam, err := req.Camera.toCamera(system)
	if err != nil {
		rs.respondError(c, err)
		return
	}
	prev, err := req.Previous.toRadiusState(system)
	if err != nil {
		rs.respondError(c, err)
		return
	}

	res, err := m.Resolve(cam, prev)
	if err != nil {
		rs.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Видимые тайлы",
		Data: ResolveResponse{
			Tiles:       toTileDTOs(system, res.Tiles),
			RadiusState: toRadiusStateDTO(system, res.State),
			Recomputed:  res.Recomputed,
		},
	})
}

// Вспомогательные методы

// lookupMap находит карту по :id и отвечает 404, если её нет
func (rs *RestServer) lookupMap(c *gin.Context) (*maps.Map, bool) {
	m, err := rs.manager.Get(c.Param("id"))
	if err != nil {
		rs.respondError(c, err)
		return nil, false
	}
	return m, true
}

// respondError переводит ошибку домена в HTTP-статус
func (rs *RestServer) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "Внутренняя ошибка сервера"

	switch {
	case errors.Is(err, maps.ErrMapNotFound):
		status, message = http.StatusNotFound, "Карта не найдена"
	case errors.Is(err, maps.ErrMapExists):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, schema.ErrPayloadRejected):
		status, message = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, snapshot.ErrSnapshotNotFound):
		status, message = http.StatusNotFound, "Снимок не найден"
	case errors.Is(err, visibility.ErrInvalidRadius),
		errors.Is(err, visibility.ErrInvalidCoordinate),
		errors.Is(err, visibility.ErrUnknownMetric),
		errors.Is(err, maps.ErrInvalidSpec),
		errors.Is(err, snapshot.ErrInvalidSnapshot):
		status, message = http.StatusBadRequest, err.Error()
	default:
		rs.logger.Error("Ошибка обработки %s %s: %v", c.Request.Method, c.FullPath(), err)
		_ = c.Error(err)
	}

	c.JSON(status, GenericResponse{
		Success: false,
		Message: message,
	})
}

func (rs *RestServer) badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, GenericResponse{
		Success: false,
		Message: message,
	})
}

// coordFromQuery читает x/y/q/r из query-параметров; отсутствующие остаются nil
func coordFromQuery(c *gin.Context) (visibility.CoordInput, error) {
	var in visibility.CoordInput
	fields := []struct {
		name string
		dst  **int
	}{
		{"x", &in.X}, {"y", &in.Y}, {"q", &in.Q}, {"r", &in.R},
	}

	for _, f := range fields {
		raw, present := c.GetQuery(f.name)
		if !present {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return visibility.CoordInput{}, fmt.Errorf("%w: %s=%q", visibility.ErrInvalidCoordinate, f.name, raw)
		}
		*f.dst = &v
	}
	return in, nil
}
