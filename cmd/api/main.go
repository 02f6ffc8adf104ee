package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"screenreel/internal/bus"
	"screenreel/internal/capture"
	"screenreel/internal/config"
	"screenreel/internal/database"
	"screenreel/internal/export"
	"screenreel/internal/metrics"
	"screenreel/internal/server"
	"screenreel/internal/session"
	"screenreel/internal/store"
)

func gracefulShutdown(fiberServer *server.FiberServer, coordinator *session.Coordinator, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Finalize any live recording before the process goes away; an
	// interrupted capture would otherwise lose its tail chunks.
	if _, err := coordinator.Stop(shutdownCtx, "shutdown"); err != nil {
		log.Printf("Stop active session during shutdown: %v", err)
	}

	if err := fiberServer.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")
	done <- true
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Server starting on %s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Export archive path: %s", cfg.Export.OutputDir)

	m := metrics.New(prometheus.DefaultRegisterer)

	limits := store.Limits{
		Sessions:    cfg.Store.MaxSessions,
		Actions:     cfg.Store.MaxActions,
		Screenshots: cfg.Store.MaxScreenshots,
		Chunks:      cfg.Store.MaxChunks,
		UploadJobs:  cfg.Store.MaxUploadJobs,
	}

	var db database.Service
	var st store.Store
	if cfg.Store.Backend == "memory" {
		log.Printf("Store: in-memory backend, records do not survive a restart")
		st = store.NewMemoryStore(limits, m.ObserveEviction)
	} else {
		log.Printf("Database: %s:%s/%s", cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)
		mongoDB, err := database.New(cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer mongoDB.Close()
		db = mongoDB

		mongoStore := store.NewMongoStore(mongoDB.GetDatabase(), limits, m.ObserveEviction)
		indexCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := mongoStore.EnsureIndexes(indexCtx); err != nil {
			cancel()
			log.Fatalf("Failed to create store indexes: %v", err)
		}
		cancel()
		st = mongoStore
	}

	b := bus.New()
	coordinator := session.NewCoordinator(b)

	provider := capture.NewRTMPProvider(cfg.Capture.RTMPPort, cfg.Capture.PublishKeyHash)
	go func() {
		if err := provider.Start(); err != nil {
			log.Fatalf("RTMP ingest server error: %v", err)
		}
	}()

	exporter := export.NewExporter(st, cfg.Export.OutputDir, m.ObserveExport)

	var stills capture.StillEncoder = capture.PassthroughStillEncoder{}
	if cfg.Capture.UseFFmpeg {
		ff := capture.NewFFmpegStillEncoder()
		if err := ff.CheckAvailable(); err != nil {
			log.Printf("ffmpeg unavailable, falling back to passthrough stills: %v", err)
		} else {
			if version, err := ff.Version(); err == nil {
				log.Printf("Using %s for still extraction", version)
			}
			stills = ff
		}
	}

	hostCfg := capture.DefaultConfig()
	hostCfg.Timeslice = cfg.Capture.Timeslice
	hostCfg.SettleAfter = cfg.Capture.SettleDelay
	hostCfg.FinalizeTimeout = cfg.Capture.FinalizeTimeout

	host := capture.NewRecorderHost(b, st, provider,
		func() capture.ChunkEncoder { return capture.NewSegmentEncoder() },
		stills, exporter, hostCfg)
	host.SetArtifactObservers(
		func() { m.ChunksPersisted.Inc() },
		func() { m.ScreenshotsPersisted.Inc() },
	)
	host.SetSessionObservers(
		func() { m.ActiveSessions.Inc(); m.SessionsStarted.Inc() },
		func() { m.ActiveSessions.Dec(); m.SessionsEnded.Inc() },
	)

	fiberServer := server.New(cfg, db, b, coordinator, st, exporter)
	fiberServer.RegisterFiberRoutes()

	done := make(chan bool, 1)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := fiberServer.Listen(addr); err != nil {
			panic(fmt.Sprintf("http server error: %s", err))
		}
	}()

	go gracefulShutdown(fiberServer, coordinator, done)

	<-done
	log.Println("Graceful shutdown complete.")
}
