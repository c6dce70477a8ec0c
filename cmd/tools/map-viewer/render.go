package main

import (
	"fmt"

	"github.com/annel0/rpg-companion/internal/vec"
	"github.com/annel0/rpg-companion/internal/visibility"
	"github.com/gdamore/tcell/v2"
)

// glyph символ и стиль клетки
type glyph struct {
	r     rune
	style tcell.Style
}

var terrainGlyphs = map[string]glyph{
	"water":     {'~', tcell.StyleDefault.Foreground(tcell.ColorBlue)},
	"plains":    {'.', tcell.StyleDefault.Foreground(tcell.ColorGreen)},
	"desert":    {':', tcell.StyleDefault.Foreground(tcell.ColorYellow)},
	"forest":    {'"', tcell.StyleDefault.Foreground(tcell.ColorDarkGreen)},
	"hills":     {'n', tcell.StyleDefault.Foreground(tcell.ColorOlive)},
	"mountains": {'^', tcell.StyleDefault.Foreground(tcell.ColorWhite)},
}

var featureGlyphs = map[string]glyph{
	"tree":   {'♣', tcell.StyleDefault.Foreground(tcell.ColorDarkGreen)},
	"cactus": {'¥', tcell.StyleDefault.Foreground(tcell.ColorGreenYellow)},
	"ore":    {'*', tcell.StyleDefault.Foreground(tcell.ColorSilver)},
}

var (
	emptyGlyph   = glyph{'·', tcell.StyleDefault.Foreground(tcell.ColorGray)}
	unknownGlyph = glyph{'#', tcell.StyleDefault.Foreground(tcell.ColorGray)}
	cameraGlyph  = glyph{'@', tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true)}
	statusStyle  = tcell.StyleDefault.Reverse(true)
)

// glyphFor выбирает символ по payload: объект важнее местности
func glyphFor(payload map[string]interface{}) glyph {
	if len(payload) == 0 {
		return emptyGlyph
	}
	if feature, ok := payload["feature"].(string); ok {
		if g, ok := featureGlyphs[feature]; ok {
			return g
		}
	}
	if terrain, ok := payload["terrain"].(string); ok {
		if g, ok := terrainGlyphs[terrain]; ok {
			return g
		}
	}
	return unknownGlyph
}

// project переводит координату карты в позицию на экране с камерой в центре.
// Клетка занимает два столбца; гекс-ряды сдвигаются на полклетки.
func project(system visibility.CoordSystem, camera, coord vec.Vec2, width, height int) (int, int) {
	dx := coord.X - camera.X
	dy := coord.Y - camera.Y

	sx := width/2 + dx*2
	if system == visibility.CoordHex {
		sx += dy
	}
	return sx, height/2 + dy
}

// viewState то, что видит зритель
type viewState struct {
	mapID  string
	system visibility.CoordSystem
	camera vec.Vec2
	zoom   float64
	radius float64
	tiles  []visibility.Tile
	status string
}

// draw рисует видимые тайлы, камеру и строку статуса (последняя строка экрана)
func draw(screen tcell.Screen, v *viewState) {
	screen.Clear()
	width, height := screen.Size()
	mapHeight := height - 1

	for _, tile := range v.tiles {
		sx, sy := project(v.system, v.camera, tile.Coord, width, mapHeight)
		if sx < 0 || sx >= width || sy < 0 || sy >= mapHeight {
			continue
		}
		g := glyphFor(tile.Payload)
		screen.SetContent(sx, sy, g.r, nil, g.style)
	}

	cx, cy := project(v.system, v.camera, v.camera, width, mapHeight)
	screen.SetContent(cx, cy, cameraGlyph.r, nil, cameraGlyph.style)

	line := fmt.Sprintf(" %s  cam %s  zoom %.1f  radius %.1f  tiles %d  %s",
		v.mapID, formatCoord(v.system, v.camera), v.zoom, v.radius, len(v.tiles), v.status)
	col := 0
	for _, r := range line {
		if col >= width {
			break
		}
		screen.SetContent(col, height-1, r, nil, statusStyle)
		col++
	}
	for ; col < width; col++ {
		screen.SetContent(col, height-1, ' ', nil, statusStyle)
	}

	screen.Show()
}

func formatCoord(system visibility.CoordSystem, v vec.Vec2) string {
	if system == visibility.CoordHex {
		return fmt.Sprintf("q=%d r=%d", v.X, v.Y)
	}
	return fmt.Sprintf("x=%d y=%d", v.X, v.Y)
}
