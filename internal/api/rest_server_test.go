package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/annel0/rpg-companion/internal/maps"
	"github.com/annel0/rpg-companion/internal/storage"
	"github.com/annel0/rpg-companion/internal/vec"
	"github.com/annel0/rpg-companion/internal/visibility"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) (*RestServer, *maps.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mgr, err := maps.NewManager(maps.Options{
		InstanceID: "api-test",
		Policy:     visibility.DefaultPolicyConfig(),
		Repo:       storage.NewMemoryTileRepo(),
	})
	require.NoError(t, err)
	t.Cleanup(mgr.Close)

	rs, err := NewRestServer(Config{Manager: mgr, Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	return rs, mgr
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, testResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp testResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func xy(x, y int) visibility.CoordInput {
	return visibility.CoordInput{X: &x, Y: &y}
}

func qr(q, r int) visibility.CoordInput {
	return visibility.CoordInput{Q: &q, R: &r}
}

func fillSquare(t *testing.T, m *maps.Map, half int) {
	t.Helper()
	tiles := make([]visibility.Tile, 0)
	for x := -half; x <= half; x++ {
		for y := -half; y <= half; y++ {
			tiles = append(tiles, visibility.Tile{Coord: vec.Vec2{X: x, Y: y}})
		}
	}
	require.NoError(t, m.PutTiles(context.Background(), tiles))
}

func TestHealth(t *testing.T) {
	rs, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	rs.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "api-test", body["instance_id"])
	assert.EqualValues(t, 0, body["maps"])
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))
}

func TestMaps_CreateListGet(t *testing.T) {
	rs, _ := newTestServer(t)
	h := rs.Handler()

	rec, resp := doJSON(t, h, http.MethodPost, "/api/maps", CreateMapRequest{ID: "dungeon", Name: "Dungeon"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Success)

	var created MapInfo
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	assert.Equal(t, "dungeon", created.ID)
	assert.Equal(t, "chebyshev", created.Metric)
	assert.Equal(t, "cartesian", created.CoordSystem)

	rec, resp = doJSON(t, h, http.MethodGet, "/api/maps", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []MapInfo
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list, 1)

	rec, resp = doJSON(t, h, http.MethodGet, "/api/maps/dungeon", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info MapInfo
	require.NoError(t, json.Unmarshal(resp.Data, &info))
	assert.Contains(t, info.Stats, "metric=chebyshev")
}

func TestMaps_Errors(t *testing.T) {
	rs, _ := newTestServer(t)
	h := rs.Handler()

	rec, resp := doJSON(t, h, http.MethodGet, "/api/maps/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)

	rec, _ = doJSON(t, h, http.MethodPost, "/api/maps", CreateMapRequest{Name: "X", Metric: "taxicab"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, h, http.MethodPost, "/api/maps", map[string]string{"metric": "hex"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, h, http.MethodPost, "/api/maps", CreateMapRequest{ID: "a", Name: "A"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, _ = doJSON(t, h, http.MethodPost, "/api/maps", CreateMapRequest{ID: "a", Name: "B"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = doJSON(t, h, http.MethodPost, "/api/maps", CreateMapRequest{ID: "a:b", Name: "AB"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTiles_PutListDelete(t *testing.T) {
	rs, _ := newTestServer(t)
	h := rs.Handler()

	rec, _ := doJSON(t, h, http.MethodPost, "/api/maps", CreateMapRequest{ID: "m", Name: "M"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = doJSON(t, h, http.MethodPut, "/api/maps/m/tiles", TileDTO{
		Coord:   xy(1, 2),
		Payload: map[string]interface{}{"terrain": "grass"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Гекс-координата на декартовой карте
	rec, _ = doJSON(t, h, http.MethodPut, "/api/maps/m/tiles", TileDTO{Coord: qr(1, 2)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp := doJSON(t, h, http.MethodGet, "/api/maps/m/tiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tiles []TileDTO
	require.NoError(t, json.Unmarshal(resp.Data, &tiles))
	require.Len(t, tiles, 1)
	assert.Equal(t, 1, *tiles[0].Coord.X)
	assert.Equal(t, 2, *tiles[0].Coord.Y)
	assert.Equal(t, "grass", tiles[0].Payload["terrain"])

	rec, _ = doJSON(t, h, http.MethodDelete, "/api/maps/m/tiles?x=abc&y=2", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, h, http.MethodDelete, "/api/maps/m/tiles?x=1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, h, http.MethodDelete, "/api/maps/m/tiles?x=1&y=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, resp = doJSON(t, h, http.MethodGet, "/api/maps/m/tiles", nil)
	require.NoError(t, json.Unmarshal(resp.Data, &tiles))
	assert.Empty(t, tiles)

	rec, _ = doJSON(t, h, http.MethodPut, "/api/maps/missing/tiles", TileDTO{Coord: xy(0, 0)})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTiles_HexMap(t *testing.T) {
	rs, _ := newTestServer(t)
	h := rs.Handler()

	rec, _ := doJSON(t, h, http.MethodPost, "/api/maps", CreateMapRequest{ID: "hex", Name: "Hex", Metric: "hex"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = doJSON(t, h, http.MethodPut, "/api/maps/hex/tiles", TileDTO{Coord: qr(1, -1)})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, h, http.MethodPut, "/api/maps/hex/tiles", TileDTO{Coord: xy(1, -1)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, resp := doJSON(t, h, http.MethodPost, "/api/maps/hex/query", QueryRequest{Center: qr(0, 0), Radius: floatPtr(1)})
	var tiles []TileDTO
	require.NoError(t, json.Unmarshal(resp.Data, &tiles))
	require.Len(t, tiles, 1)
	require.NotNil(t, tiles[0].Coord.Q)
	assert.Equal(t, 1, *tiles[0].Coord.Q)
	assert.Equal(t, -1, *tiles[0].Coord.R)
	assert.Nil(t, tiles[0].Coord.X)

	rec, _ = doJSON(t, h, http.MethodDelete, "/api/maps/hex/tiles?q=1&r=-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQuery(t *testing.T) {
	rs, mgr := newTestServer(t)
	h := rs.Handler()

	m, err := mgr.Create(context.Background(), maps.Spec{ID: "q", Name: "Q"})
	require.NoError(t, err)
	fillSquare(t, m, 2)

	rec, resp := doJSON(t, h, http.MethodPost, "/api/maps/q/query", QueryRequest{Center: xy(0, 0), Radius: floatPtr(1)})
	require.Equal(t, http.StatusOK, rec.Code)
	var tiles []TileDTO
	require.NoError(t, json.Unmarshal(resp.Data, &tiles))
	assert.Len(t, tiles, 9)

	rec, _ = doJSON(t, h, http.MethodPost, "/api/maps/q/query", QueryRequest{Center: xy(0, 0), Radius: floatPtr(-1)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, h, http.MethodPost, "/api/maps/q/query", map[string]interface{}{"center": xy(0, 0)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuery_CoordinateOutOfRange(t *testing.T) {
	rs, _ := newTestServer(t)
	h := rs.Handler()

	rec, _ := doJSON(t, h, http.MethodPost, "/api/maps", CreateMapRequest{ID: "edge", Name: "Edge"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, _ = doJSON(t, h, http.MethodPut, "/api/maps/edge/tiles", TileDTO{Coord: xy(0, 0)})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, h, http.MethodPost, "/api/maps/edge/query", QueryRequest{Center: xy(math.MaxInt-2, 0), Radius: floatPtr(5)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, h, http.MethodPut, "/api/maps/edge/tiles", TileDTO{Coord: xy(visibility.MaxCoordinate+1, 0)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Карта по-прежнему принимает запись
	done := make(chan int, 1)
	go func() {
		rec, _ := doJSON(t, h, http.MethodPut, "/api/maps/edge/tiles", TileDTO{Coord: xy(1, 1)})
		done <- rec.Code
	}()
	select {
	case code := <-done:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(3 * time.Second):
		t.Fatal("запись в карту заблокирована")
	}
}

func TestResolve(t *testing.T) {
	rs, mgr := newTestServer(t)
	h := rs.Handler()

	m, err := mgr.Create(context.Background(), maps.Spec{ID: "r", Name: "R"})
	require.NoError(t, err)
	fillSquare(t, m, 2)

	camera := &CameraDTO{Position: xy(0, 0), Zoom: 20}
	rec, resp := doJSON(t, h, http.MethodPost, "/api/maps/r/resolve", ResolveRequest{Camera: camera})
	require.Equal(t, http.StatusOK, rec.Code)

	var first ResolveResponse
	require.NoError(t, json.Unmarshal(resp.Data, &first))
	assert.True(t, first.Recomputed)
	assert.Equal(t, 1.0, first.RadiusState.Radius)
	assert.Len(t, first.Tiles, 9)

	// Та же камера и предыдущее состояние - радиус не пересчитывается
	_, resp = doJSON(t, h, http.MethodPost, "/api/maps/r/resolve", ResolveRequest{Camera: camera, Previous: &first.RadiusState})
	var second ResolveResponse
	require.NoError(t, json.Unmarshal(resp.Data, &second))
	assert.False(t, second.Recomputed)
	assert.Len(t, second.Tiles, 9)
	assert.True(t, first.RadiusState.LastUpdate.Equal(second.RadiusState.LastUpdate))

	// Без камеры - базовый радиус, вся карта
	_, resp = doJSON(t, h, http.MethodPost, "/api/maps/r/resolve", ResolveRequest{})
	var degenerate ResolveResponse
	require.NoError(t, json.Unmarshal(resp.Data, &degenerate))
	assert.Equal(t, visibility.DefaultBaseRadius, degenerate.RadiusState.Radius)
	assert.Len(t, degenerate.Tiles, 25)

	rec, _ = doJSON(t, h, http.MethodPost, "/api/maps/r/resolve", ResolveRequest{
		Camera:   camera,
		Previous: &RadiusStateDTO{Radius: -5, Center: xy(0, 0), Zoom: 20},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, h, http.MethodPost, "/api/maps/r/resolve", ResolveRequest{Camera: &CameraDTO{Position: qr(0, 0), Zoom: 1}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpointAndCORS(t *testing.T) {
	rs, _ := newTestServer(t)
	h := rs.Handler()

	doJSON(t, h, http.MethodGet, "/api/maps", nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rest_api_http_request_duration_seconds")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/maps", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewRestServer_RequiresManager(t *testing.T) {
	_, err := NewRestServer(Config{})
	assert.Error(t, err)
}

func floatPtr(v float64) *float64 {
	return &v
}
