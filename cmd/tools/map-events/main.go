package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/annel0/rpg-companion/internal/config"
	"github.com/annel0/rpg-companion/internal/eventbus"
)

const timeFormat = "2006-01-02T15:04:05Z"

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config (default: RPG_CONFIG or built-in defaults)")
		natsURL    = flag.String("nats", "", "NATS URL (overrides eventbus.url)")
		command    = flag.String("cmd", "tail", "Command: tail, stats, types")
		eventTypes = flag.String("types", "", "Event types filter (comma-separated)")
		mapIDs     = flag.String("maps", "", "Map IDs filter (comma-separated)")
		sources    = flag.String("sources", "", "Source instance IDs filter (comma-separated)")
		since      = flag.String("since", "1h", "Replay events since (duration like 30m or RFC3339 time)")
		limit      = flag.Int("limit", 100, "Maximum number of events (0 = unlimited)")
		follow     = flag.Bool("follow", false, "Follow new events (like tail -f)")
	)
	flag.Parse()

	if *command == "types" {
		showTypes()
		return
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	if *natsURL != "" {
		cfg.EventBus.URL = *natsURL
	}
	if cfg.EventBus.URL == "" {
		log.Fatalf("❌ NATS URL is not configured (use -nats or eventbus.url)")
	}

	bus, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream, time.Duration(cfg.EventBus.Retention)*time.Hour)
	if err != nil {
		log.Fatalf("❌ Failed to connect to NATS: %v", err)
	}
	defer bus.Close()

	switch *command {
	case "tail":
		if err := tailEvents(bus, &TailOptions{
			EventTypes: parseStringList(*eventTypes),
			Maps:       parseStringList(*mapIDs),
			Sources:    parseStringList(*sources),
			Since:      *since,
			Limit:      *limit,
			Follow:     *follow,
		}); err != nil {
			log.Fatalf("❌ Tail failed: %v", err)
		}

	case "stats":
		if err := showStats(bus, parseStringList(*eventTypes)); err != nil {
			log.Fatalf("❌ Stats failed: %v", err)
		}

	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: tail, stats, types")
		os.Exit(1)
	}
}

type TailOptions struct {
	EventTypes []string
	Maps       []string
	Sources    []string
	Since      string
	Limit      int
	Follow     bool
}

// tailEvents выводит события стрима начиная с since
func tailEvents(bus *eventbus.JetStreamBus, opts *TailOptions) error {
	startTime, err := parseSinceTime(opts.Since, time.Now())
	if err != nil {
		return fmt.Errorf("invalid since time: %v", err)
	}

	fmt.Printf("🎬 Tailing map events since %s (limit: %d, follow: %v)\n",
		startTime.UTC().Format(timeFormat), opts.Limit, opts.Follow)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	maps := toSet(opts.Maps)
	var count int64

	sub, err := bus.Replay(ctx, startTime, eventbus.Filter{Types: opts.EventTypes, Sources: opts.Sources}, func(_ context.Context, ev *eventbus.Envelope) {
		if len(maps) > 0 && !maps[eventbus.MapIDOf(ev)] {
			return
		}
		n := atomic.AddInt64(&count, 1)
		if opts.Limit > 0 && n > int64(opts.Limit) && !opts.Follow {
			cancel()
			return
		}
		printEvent(ev)
	})
	if err != nil {
		return fmt.Errorf("failed to start replay: %v", err)
	}
	defer sub.Unsubscribe()

	if !opts.Follow {
		// Без follow ждём, пока поток истории не затихнет
		idle := time.NewTicker(time.Second)
		defer idle.Stop()
		last := int64(-1)
		for {
			select {
			case <-ctx.Done():
				fmt.Printf("\n📊 Total events: %d\n", min64(atomic.LoadInt64(&count), int64(opts.Limit)))
				return nil
			case <-idle.C:
				current := atomic.LoadInt64(&count)
				if current == last {
					fmt.Printf("\n📊 Total events: %d\n", current)
					return nil
				}
				last = current
			}
		}
	}

	<-ctx.Done()
	fmt.Printf("\n📊 Total events: %d\n", atomic.LoadInt64(&count))
	return nil
}

// showStats выводит количество сообщений стрима по типам событий
func showStats(bus *eventbus.JetStreamBus, types []string) error {
	fmt.Println("📊 Event statistics")

	stats, err := bus.StreamStats()
	if err != nil {
		return fmt.Errorf("failed to get stats: %v", err)
	}

	filter := toSet(types)
	keys := make([]string, 0, len(stats))
	var total uint64
	for eventType, n := range stats {
		if len(filter) > 0 && !filter[eventType] {
			continue
		}
		keys = append(keys, eventType)
		total += n
	}
	sort.Strings(keys)

	fmt.Printf("Total events: %d\n", total)
	fmt.Println("\nBy event type:")
	for _, k := range keys {
		fmt.Printf("  %s: %d events\n", k, stats[k])
	}
	return nil
}

// showTypes выводит известные типы событий
func showTypes() {
	fmt.Println("📋 Available event types")

	types := make([]string, 0, len(eventbus.EventDescriptions))
	for t := range eventbus.EventDescriptions {
		types = append(types, t)
	}
	sort.Strings(types)

	for _, t := range types {
		fmt.Printf("Type: %s\n", t)
		fmt.Printf("  Description: %s\n", eventbus.EventDescriptions[t])
	}
}

// printEvent выводит событие в читаемом формате
func printEvent(ev *eventbus.Envelope) {
	fmt.Printf("[%s] %s [%s] %s\n",
		ev.Timestamp.Format("15:04:05"),
		ev.Source,
		ev.EventType,
		ev.ID)

	switch ev.EventType {
	case eventbus.EventTileUpserted, eventbus.EventTileRemoved:
		if te, err := eventbus.DecodeTile(ev); err == nil {
			fmt.Printf("  Map: %s Tile: (%d,%d) Payload: %v\n", te.MapID, te.Coord.X, te.Coord.Y, te.Payload)
		}
	case eventbus.EventMapCreated:
		if me, err := eventbus.DecodeMap(ev); err == nil {
			fmt.Printf("  Map: %s Name: %s Metric: %s\n", me.MapID, me.Name, me.Metric)
		}
	}
}

// parseStringList парсит строку с разделителями-запятыми
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseSinceTime парсит относительное время типа "1h", "30m"
func parseSinceTime(since string, from time.Time) (time.Time, error) {
	if since == "" {
		return from, nil
	}

	duration, err := time.ParseDuration(since)
	if err != nil {
		// Пробуем парсить как абсолютное время
		return time.Parse(time.RFC3339, since)
	}

	return from.Add(-duration), nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

func min64(a, b int64) int64 {
	if b > 0 && b < a {
		return b
	}
	return a
}
