package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/annel0/rpg-companion/internal/api"
	"github.com/annel0/rpg-companion/internal/vec"
	"github.com/annel0/rpg-companion/internal/visibility"
	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
)

// zoomStep множитель изменения зума клавишами +/-
const zoomStep = 1.25

func main() {
	var (
		server = flag.String("server", "http://localhost:8088", "REST API base URL")
		mapID  = flag.String("map", "", "Map ID to view")
		zoom   = flag.Float64("zoom", 20, "Initial camera zoom")
	)
	flag.Parse()

	if *mapID == "" {
		log.Fatalf("❌ -map is required")
	}

	info, err := fetchMap(*server, *mapID)
	if err != nil {
		log.Fatalf("❌ Failed to load map: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(strings.TrimSuffix(*server, "/"), "http") + "/ws/maps/" + *mapID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatalf("❌ Failed to connect to %s: %v", wsURL, err)
	}
	defer conn.Close()

	screen, err := tcell.NewScreen()
	if err != nil {
		log.Fatalf("❌ Failed to create screen: %v", err)
	}
	if err := screen.Init(); err != nil {
		log.Fatalf("❌ Failed to init screen: %v", err)
	}
	defer screen.Fini()

	view := &viewState{
		mapID:  info.ID,
		system: visibility.CoordSystem(info.CoordSystem),
		zoom:   *zoom,
		status: "connecting",
	}

	if err := run(screen, conn, view); err != nil {
		screen.Fini()
		log.Fatalf("❌ %v", err)
	}
}

// run главный цикл: клавиши двигают камеру, кадры сервера обновляют видимые тайлы
func run(screen tcell.Screen, conn *websocket.Conn, view *viewState) error {
	frames := make(chan api.ViewFrame, 8)
	readErr := make(chan error, 1)
	go func() {
		for {
			var frame api.ViewFrame
			if err := conn.ReadJSON(&frame); err != nil {
				readErr <- err
				return
			}
			frames <- frame
		}
	}()

	events := make(chan tcell.Event, 100)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			events <- ev
		}
	}()

	if err := sendCamera(conn, view, false); err != nil {
		return err
	}
	draw(screen, view)

	for {
		select {
		case ev := <-events:
			reset, quit := handleKey(ev, view)
			if quit {
				return nil
			}
			if _, ok := ev.(*tcell.EventResize); ok {
				screen.Sync()
			} else if err := sendCamera(conn, view, reset); err != nil {
				return err
			}
			draw(screen, view)

		case frame := <-frames:
			applyFrame(view, frame)
			draw(screen, view)

		case err := <-readErr:
			return fmt.Errorf("connection closed: %w", err)
		}
	}
}

// handleKey меняет камеру по клавишам; возвращает признак сброса зрителя и выхода
func handleKey(ev tcell.Event, view *viewState) (reset, quit bool) {
	key, ok := ev.(*tcell.EventKey)
	if !ok {
		return false, false
	}

	switch key.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return false, true
	case tcell.KeyUp:
		view.camera.Y--
	case tcell.KeyDown:
		view.camera.Y++
	case tcell.KeyLeft:
		view.camera.X--
	case tcell.KeyRight:
		view.camera.X++
	case tcell.KeyRune:
		switch key.Rune() {
		case 'q':
			return false, true
		case '+', '=':
			view.zoom *= zoomStep
		case '-':
			view.zoom /= zoomStep
		case 'r':
			return true, false
		case '0':
			view.camera = vec.Vec2{}
		}
	}
	return false, false
}

// applyFrame обновляет состояние по кадру сервера; unchanged оставляет прежние тайлы
func applyFrame(view *viewState, frame api.ViewFrame) {
	switch frame.Type {
	case api.FrameVisible:
		tiles := make([]visibility.Tile, 0, len(frame.Tiles))
		for _, dto := range frame.Tiles {
			coord, err := visibility.ParseCoord(view.system, dto.Coord)
			if err != nil {
				continue
			}
			tiles = append(tiles, visibility.Tile{Coord: coord, Payload: dto.Payload})
		}
		view.tiles = tiles
		view.status = "visible"
		if frame.Recomputed {
			view.status = "recomputed"
		}
	case api.FrameUnchanged:
		view.status = "unchanged"
	case api.FrameError:
		view.status = "error: " + frame.Message
	}
	if frame.RadiusState != nil {
		view.radius = frame.RadiusState.Radius
	}
}

func sendCamera(conn *websocket.Conn, view *viewState, reset bool) error {
	msg := api.CameraMessage{
		Camera: &api.CameraDTO{Position: visibility.FormatCoord(view.system, view.camera), Zoom: view.zoom},
		Reset:  reset,
	}
	if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

// fetchMap читает описание карты через REST API
func fetchMap(server, mapID string) (*api.MapInfo, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(strings.TrimSuffix(server, "/") + "/api/maps/" + mapID)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Success bool        `json:"success"`
		Message string      `json:"message"`
		Data    api.MapInfo `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !body.Success {
		return nil, fmt.Errorf("%s (HTTP %d)", body.Message, resp.StatusCode)
	}
	return &body.Data, nil
}
