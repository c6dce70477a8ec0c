package metrics

import (
	"testing"
	"time"

	"github.com/annel0/rpg-companion/internal/vec"
	"github.com/annel0/rpg-companion/internal/visibility"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, "recomputed", Outcome(true, false))
	assert.Equal(t, "reused", Outcome(false, true))
	assert.Equal(t, "requeried", Outcome(false, false))
}

func TestVisibilityMetrics_ObserveResolve(t *testing.T) {
	reg := prometheus.NewRegistry()
	vm := NewVisibilityMetrics(reg)

	obs := vm.ForMap("m1")
	obs.ObserveResolve(time.Millisecond, 10, true, false)
	obs.ObserveResolve(time.Microsecond, 10, false, true)
	obs.ObserveResolve(time.Microsecond, 10, false, true)

	assert.Equal(t, 1.0, testutil.ToFloat64(vm.resolves.WithLabelValues("m1", "recomputed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(vm.resolves.WithLabelValues("m1", "reused")))

	vm.SetIndexedTiles("m1", 42)
	assert.Equal(t, 42.0, testutil.ToFloat64(vm.indexedTiles.WithLabelValues("m1")))

	vm.ObserveQuery("m1", "hit")
	assert.Equal(t, 1.0, testutil.ToFloat64(vm.queries.WithLabelValues("m1", "hit")))
}

func TestVisibilityMetrics_WithViewer(t *testing.T) {
	reg := prometheus.NewRegistry()
	vm := NewVisibilityMetrics(reg)

	policy, err := visibility.NewPolicy(visibility.DefaultPolicyConfig(), visibility.Chebyshev)
	require.NoError(t, err)
	index := visibility.NewTileIndex(visibility.Chebyshev, 0)
	index.Insert(visibility.Tile{Coord: vec.Vec2{X: 0, Y: 0}})

	viewer := visibility.NewViewer(visibility.NewResolver(policy, vm.ForMap("demo")))
	cam := &visibility.CameraState{Zoom: 1}

	_, err = viewer.Update(index, cam)
	require.NoError(t, err)
	_, err = viewer.Update(index, cam)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(vm.resolves.WithLabelValues("demo", "recomputed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(vm.resolves.WithLabelValues("demo", "reused")))
	assert.Equal(t, 1, testutil.CollectAndCount(vm.visibleTiles))
}
