package main

import (
	"context"
	"fmt"
	"log"

	"github.com/rustfin/rustfin/internal/api"
	"github.com/rustfin/rustfin/internal/catalog"
	"github.com/rustfin/rustfin/internal/config"
	"github.com/rustfin/rustfin/internal/db"
	"github.com/rustfin/rustfin/internal/events"
	"github.com/rustfin/rustfin/internal/jobs"
	"github.com/rustfin/rustfin/internal/metadata"
	"github.com/rustfin/rustfin/internal/probe"
	"github.com/rustfin/rustfin/internal/provider"
	"github.com/rustfin/rustfin/internal/scanner"
	"github.com/rustfin/rustfin/internal/scheduler"
	"github.com/rustfin/rustfin/internal/transcode"

	"github.com/google/uuid"
)

const bannerArt = `
           _    __ _
 _ __ _  _ ___| |_/ _(_)_ _
| '_ \ || (_-<  _  _| | ' \
| .__/\_,_/__/\__|_| |_|_||_|
|_|
`

func main() {
	fmt.Println(bannerArt)
	fmt.Println("  rustfin media engine")

	cfg := config.Load()

	sqldb, err := db.Connect(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer sqldb.Close()

	cfg.MergeFromDB(sqldb)

	store := catalog.New(sqldb)
	if err := store.EnsureSchema(); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}
	log.Println("catalog store ready")

	bus := events.NewBus(0)

	prober := probe.New(cfg.FFprobePath)
	sc := scanner.New(store, bus, prober)

	var metaProvider metadata.MetadataProvider
	if cfg.TMDBAPIKey != "" {
		metaProvider = provider.NewTMDBProvider(cfg.TMDBAPIKey)
	}
	engine := metadata.NewEngine(store, bus)

	transcodeCfg := transcode.DefaultConfig(cfg.DataDir + "/transcode")
	transcodeCfg.FFmpegPath = cfg.FFmpegPath
	transcodeCfg.MaxConcurrentSessions = cfg.MaxTranscodes
	transcodeMgr := transcode.New(transcodeCfg, bus)
	defer transcodeMgr.Close()

	jobQueue := jobs.NewQueue("")
	scanHandler := jobs.NewScanHandler(sc, store, jobQueue)
	metadataHandler := jobs.NewMetadataRefreshHandler(store, engine, metaProvider)
	jobs.RegisterHandlers(jobQueue, scanHandler, metadataHandler)

	go func() {
		if err := jobQueue.Start(context.Background()); err != nil {
			log.Printf("job queue worker stopped: %v", err)
		}
	}()
	defer jobQueue.Stop()

	sched, err := scheduler.New(store, cfg.ScanCron, func(libraryID uuid.UUID) {
		_, err := jobQueue.EnqueueUnique(jobs.TaskScanLibrary,
			jobs.ScanPayload{LibraryID: libraryID.String()},
			"scheduled-scan-"+libraryID.String())
		if err != nil {
			log.Printf("scheduler: enqueue scan error: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("start scheduler: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	server := api.NewServer(cfg, api.Deps{
		Store:     store,
		Queue:     jobQueue,
		Engine:    engine,
		Provider:  metaProvider,
		Prober:    prober,
		Transcode: transcodeMgr,
		Bus:       bus,
	})

	log.Printf("api listening on :%d", cfg.Port)
	if err := server.Start(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
