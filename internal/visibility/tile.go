package visibility

import "github.com/annel0/rpg-companion/internal/vec"

// Tile клетка карты. Payload непрозрачен для движка и никогда им не изменяется.
type Tile struct {
	Coord   vec.Vec2               `json:"coord"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// CameraState снимок камеры, который присылает слой отрисовки.
// nil означает отсутствующую камеру (вырожденный случай).
type CameraState struct {
	Position vec.Vec2 `json:"position"`
	Zoom     float64  `json:"zoom"`
}
