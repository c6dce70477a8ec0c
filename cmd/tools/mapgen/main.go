package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/annel0/rpg-companion/internal/config"
	"github.com/annel0/rpg-companion/internal/eventbus"
	"github.com/annel0/rpg-companion/internal/mapgen"
	"github.com/annel0/rpg-companion/internal/maps"
	"github.com/annel0/rpg-companion/internal/storage"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config (default: RPG_CONFIG or built-in defaults)")
		name       = flag.String("name", "", "Map name (default: mapgen.name)")
		metric     = flag.String("metric", "", "Distance metric: chebyshev, manhattan, euclidean, hex")
		width      = flag.Int("width", 0, "Width of a cartesian map")
		height     = flag.Int("height", 0, "Height of a cartesian map")
		radius     = flag.Int("radius", 0, "Radius of a hex map")
		seed       = flag.Int64("seed", 0, "Noise seed (0 = current time)")
	)
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	gen := cfg.MapGen
	if *name != "" {
		gen.Name = *name
	}
	if *metric != "" {
		gen.Metric = *metric
	}
	if *width > 0 {
		gen.Width = *width
	}
	if *height > 0 {
		gen.Height = *height
	}
	if *radius > 0 {
		gen.Radius = *radius
	}
	gen.Seed = *seed
	if gen.Seed == 0 {
		gen.Seed = time.Now().UnixNano()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	repo, err := storage.Open(cfg.Storage)
	if err != nil {
		log.Fatalf("❌ Failed to open storage: %v", err)
	}
	defer repo.Close()

	// События позволяют запущенным инстансам подхватить карту без перезапуска
	bus, err := eventbus.Open(cfg.EventBus)
	if err != nil {
		log.Fatalf("❌ Failed to connect event bus: %v", err)
	}
	defer bus.Close()

	manager, err := maps.NewManager(maps.Options{
		InstanceID:      "mapgen-" + cfg.Server.InstanceID,
		Policy:          cfg.Visibility.Policy,
		DefaultCellSize: cfg.Visibility.CellSize,
		Repo:            repo,
		Bus:             bus,
	})
	if err != nil {
		log.Fatalf("❌ Failed to create maps manager: %v", err)
	}
	defer manager.Close()

	if err := manager.Load(ctx); err != nil {
		log.Fatalf("❌ Failed to load maps: %v", err)
	}

	m, created, err := mapgen.Seed(ctx, manager, gen)
	if err != nil {
		log.Fatalf("❌ Generation failed: %v", err)
	}

	if !created {
		fmt.Printf("ℹ️  Map %q already exists: id=%s tiles=%d\n", m.Name(), m.ID(), m.Len())
		return
	}
	fmt.Printf("✅ Map %q generated: id=%s metric=%s tiles=%d seed=%d\n", m.Name(), m.ID(), m.Metric().Name(), m.Len(), gen.Seed)
	fmt.Println(m.Stats())
}
