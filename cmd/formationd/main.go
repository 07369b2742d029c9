// Command formationd wires the target cache, rule engine, recognition
// engine, formation store, delta-sync service, subscription bus, stream
// service, cleanup scheduler, and metrics registry into the HTTP/WS server
// and serves SPEC_FULL.md §6's surface. Grounded on the donor's
// cmd/simrunner/main.go flag-parsing and signal-driven graceful-shutdown
// shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rhino11/formation/internal/bus"
	"github.com/rhino11/formation/internal/cache"
	"github.com/rhino11/formation/internal/config"
	"github.com/rhino11/formation/internal/deltasync"
	"github.com/rhino11/formation/internal/logging"
	"github.com/rhino11/formation/internal/metrics"
	"github.com/rhino11/formation/internal/recognition"
	"github.com/rhino11/formation/internal/rules"
	"github.com/rhino11/formation/internal/scheduler"
	"github.com/rhino11/formation/internal/server"
	"github.com/rhino11/formation/internal/store"
	"github.com/rhino11/formation/internal/stream"
)

func main() {
	var (
		configPath    = flag.String("config", "", "Path to configuration file (defaults built in if omitted)")
		enableMetrics = flag.Bool("metrics", true, "Expose /metrics")
	)
	flag.Parse()

	fmt.Println("Formation Recognition Service")
	fmt.Println("==============================")

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logging.Base().SetLevel(level)
	}

	targetCache := cache.New(cache.Config{
		TargetTTL:     config.Dur(cfg.Cache.TargetTTL),
		DeltaTTL:      config.Dur(cfg.Cache.DeltaTTL),
		DeltaMaxItems: cfg.Cache.DeltaMaxPerTarget,
	})

	ruleManager := rules.NewManager()
	if !ruleManager.ApplyPreset(cfg.Recognition.DefaultPreset) {
		log.Fatalf("unknown default preset %q", cfg.Recognition.DefaultPreset)
	}
	applyHostilePairs(ruleManager, cfg.Recognition.HostilePairs)

	engine := recognition.New(ruleManager, recognition.Config{
		SamplingStep:         config.Dur(cfg.Recognition.SamplingStep),
		PersistenceThreshold: cfg.Recognition.PersistenceThreshold,
		MinFormationDuration: config.Dur(cfg.Recognition.MinFormationDuration),
		MinTrackPoints:       cfg.Recognition.MinTrackPoints,
		MinInterval:          config.Dur(cfg.Recognition.MinInterval),
	}, targetCache)

	formationStore := store.New(config.Dur(cfg.Recognition.FormationTTL))
	syncService := deltasync.New(targetCache, config.Dur(cfg.Sync.SessionTTL))
	subscriptionBus := bus.New(syncService, formationStore)

	streamService := stream.New(targetCache, engine, formationStore, subscriptionBus, stream.Config{
		RecognizeInterval:  config.Dur(cfg.Recognition.RecognizeInterval),
		MinChangeThreshold: cfg.Recognition.MinChangeThreshold,
		MinPendingTrigger:  stream.DefaultConfig().MinPendingTrigger,
	})

	cleanupScheduler := scheduler.New(formationStore, targetCache)

	var metricsRegistry *metrics.Registry
	if *enableMetrics {
		metricsRegistry = metrics.New()
		targetCache.SetMetrics(metricsRegistry)
		subscriptionBus.SetMetrics(metricsRegistry)
		streamService.SetMetrics(metricsRegistry)
		cleanupScheduler.SetMetrics(metricsRegistry)
	}

	streamService.Start()
	cleanupScheduler.Start()

	httpServer := server.NewServer(cfg, server.Deps{
		Cache:     targetCache,
		Rules:     ruleManager,
		Engine:    engine,
		Store:     formationStore,
		Sync:      syncService,
		Bus:       subscriptionBus,
		Stream:    streamService,
		Scheduler: cleanupScheduler,
		Metrics:   metricsRegistry,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatalf("server error: %v", err)
		}
	}()
	fmt.Printf("Listening on %s:%d\n", cfg.Server.Host, cfg.Server.Port)

	<-ctx.Done()
	fmt.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	streamService.Stop()
	cleanupScheduler.Stop()
	if err := httpServer.Stop(shutdownCtx); err != nil && err != http.ErrServerClosed {
		log.Printf("graceful shutdown error: %v", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadConfig(path)
}

// applyHostilePairs overrides every attribute rule installed by the active
// preset with the configured hostile-pair table, converting config's plain
// [2]string into rules.HostilePair. Presets otherwise hard-code the RED/BLUE
// default (internal/rules/presets.go).
func applyHostilePairs(m *rules.Manager, pairs []config.HostilePair) {
	if len(pairs) == 0 {
		return
	}
	converted := make([]rules.HostilePair, len(pairs))
	for i, p := range pairs {
		converted[i] = rules.HostilePair{p[0], p[1]}
	}
	for _, r := range m.Rules() {
		if attr, ok := r.(*rules.AttributeRule); ok {
			attr.HostilePairs = converted
		}
	}
}
