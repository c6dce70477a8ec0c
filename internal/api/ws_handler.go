package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/annel0/rpg-companion/internal/maps"
	"github.com/annel0/rpg-companion/internal/visibility"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsReadLimit   = 4096
	wsPongWait    = 60 * time.Second
	wsPingPeriod  = 30 * time.Second
	wsWriteWait   = 10 * time.Second
	wsSendBacklog = 16
)

// Типы кадров, которые сервер отправляет зрителю
const (
	FrameVisible   = "visible"
	FrameUnchanged = "unchanged"
	FrameError     = "error"
)

// Конфигурация WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS для REST тоже открыт
	},
}

// CameraMessage кадр камеры от клиента. Reset сбрасывает состояние зрителя.
type CameraMessage struct {
	Camera *CameraDTO `json:"camera"`
	Reset  bool       `json:"reset,omitempty"`
}

// ViewFrame ответ сервера на кадр камеры
type ViewFrame struct {
	Type        string          `json:"type"`
	Tiles       []TileDTO       `json:"tiles,omitempty"`
	RadiusState *RadiusStateDTO `json:"radius_state,omitempty"`
	Recomputed  bool            `json:"recomputed,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// viewerSession WebSocket-сессия одного зрителя карты
type viewerSession struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	m      *maps.Map
	viewer *visibility.Viewer
	system visibility.CoordSystem

	closeOnce sync.Once
}

// handleViewerStream поток кадров камеры: на каждый кадр сервер отвечает видимыми тайлами,
// если набор изменился, иначе коротким кадром unchanged
func (rs *RestServer) handleViewerStream(c *gin.Context) {
	m, ok := rs.lookupMap(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		rs.logger.Warn("Ошибка upgrade WebSocket для карты %s: %v", m.ID(), err)
		return
	}

	session := &viewerSession{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, wsSendBacklog),
		m:      m,
		viewer: m.NewViewer(),
		system: m.Metric().System(),
	}

	rs.registerSession(session)
	rs.logger.Info("👁️ Зритель %s подключён к карте %s", session.id, m.ID())

	go rs.writePump(session)
	rs.readPump(session)
}

// readPump читает кадры камеры до закрытия соединения
func (rs *RestServer) readPump(s *viewerSession) {
	defer func() {
		rs.unregisterSession(s)
		close(s.send)
		rs.logger.Info("👁️ Зритель %s отключён от карты %s", s.id, s.m.ID())
	}()

	s.conn.SetReadLimit(wsReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				rs.logger.Warn("Ошибка чтения WebSocket %s: %v", s.id, err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		frame := s.handleMessage(message)
		data, err := json.Marshal(frame)
		if err != nil {
			rs.logger.Error("Ошибка сериализации кадра %s: %v", s.id, err)
			continue
		}

		select {
		case s.send <- data:
		default:
			// Клиент не успевает читать
			rs.logger.Warn("Зритель %s не успевает принимать кадры, соединение закрыто", s.id)
			return
		}
	}
}

// writePump отправляет кадры клиенту и пингует соединение
func (rs *RestServer) writePump(s *viewerSession) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage обрабатывает один кадр камеры
func (s *viewerSession) handleMessage(message []byte) ViewFrame {
	var msg CameraMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return ViewFrame{Type: FrameError, Message: "invalid camera message"}
	}

	if msg.Reset {
		s.viewer.Reset()
	}

	cam, err := msg.Camera.toCamera(s.system)
	if err != nil {
		return ViewFrame{Type: FrameError, Message: err.Error()}
	}

	res, err := s.m.UpdateViewer(s.viewer, cam)
	if err != nil {
		return ViewFrame{Type: FrameError, Message: err.Error()}
	}

	state := toRadiusStateDTO(s.system, res.State)
	if res.Reused {
		return ViewFrame{Type: FrameUnchanged, RadiusState: &state}
	}

	return ViewFrame{
		Type:        FrameVisible,
		Tiles:       toTileDTOs(s.system, res.Tiles),
		RadiusState: &state,
		Recomputed:  res.Recomputed,
	}
}

func (s *viewerSession) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}

func (rs *RestServer) registerSession(s *viewerSession) {
	rs.sessionsMu.Lock()
	rs.sessions[s.id] = s
	rs.sessionsMu.Unlock()
}

func (rs *RestServer) unregisterSession(s *viewerSession) {
	rs.sessionsMu.Lock()
	delete(rs.sessions, s.id)
	rs.sessionsMu.Unlock()
}

// ViewerCount количество открытых WebSocket-сессий
func (rs *RestServer) ViewerCount() int {
	rs.sessionsMu.Lock()
	defer rs.sessionsMu.Unlock()
	return len(rs.sessions)
}

// closeSessions закрывает все WebSocket-сессии (остановка сервера)
func (rs *RestServer) closeSessions() {
	rs.sessionsMu.Lock()
	sessions := make([]*viewerSession, 0, len(rs.sessions))
	for _, s := range rs.sessions {
		sessions = append(sessions, s)
	}
	rs.sessionsMu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}
