package api

import (
	"net/http"

	"github.com/annel0/rpg-companion/internal/snapshot"
	"github.com/gin-gonic/gin"
)

// ImportSnapshotRequest запрос загрузки карты из снимка
type ImportSnapshotRequest struct {
	Key   string `json:"key" binding:"required"`
	MapID string `json:"map_id"`
	Name  string `json:"name"`
}

// handleListSnapshots список снимков; ?map_id= ограничивает одной картой
func (rs *RestServer) handleListSnapshots(c *gin.Context) {
	if !rs.snapshotsEnabled(c) {
		return
	}

	list, err := rs.snapshots.List(c.Request.Context(), c.Query("map_id"))
	if err != nil {
		rs.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Снимки карт",
		Data:    list,
	})
}

// handleExportSnapshot сохраняет снимок карты
func (rs *RestServer) handleExportSnapshot(c *gin.Context) {
	if !rs.snapshotsEnabled(c) {
		return
	}

	info, err := rs.snapshots.Export(c.Request.Context(), c.Param("id"))
	if err != nil {
		rs.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Снимок сохранён",
		Data:    info,
	})
}

// handleImportSnapshot создаёт карту из снимка
func (rs *RestServer) handleImportSnapshot(c *gin.Context) {
	if !rs.snapshotsEnabled(c) {
		return
	}

	var req ImportSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rs.badRequest(c, "Неверный формат запроса")
		return
	}

	m, err := rs.snapshots.Import(c.Request.Context(), req.Key, snapshot.ImportOptions{MapID: req.MapID, Name: req.Name})
	if err != nil {
		rs.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Карта загружена из снимка",
		Data:    newMapInfo(m, false),
	})
}

func (rs *RestServer) snapshotsEnabled(c *gin.Context) bool {
	if rs.snapshots != nil {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, GenericResponse{
		Success: false,
		Message: "Хранилище снимков не настроено",
	})
	return false
}
