package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/withObsrvr/obsrvr-fast-flux/internal/config"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/logging"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/reconciler"
	"github.com/withObsrvr/obsrvr-fast-flux/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/fast-flux.yaml", "path to the YAML configuration")
	logLevel := flag.String("log-level", "", "override logging.level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "override logging.format (text, json)")
	dryRun := flag.Bool("dry-run", false, "index every site, print file counts and exit")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("[main] fast-flux %s (%s)", reconciler.Version, reconciler.GitSHA)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[main] failed to load config: %v", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	logging.Setup(cfg.Logging)

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("[main] failed to create storage: %v", err)
	}
	defer store.Close()

	r, err := reconciler.New(cfg, store)
	if err != nil {
		log.Fatalf("[main] failed to create reconciler: %v", err)
	}
	defer r.Close()

	if *dryRun {
		sites, err := r.DryRun(ctx)
		if err != nil {
			log.Fatalf("[main] dry run failed: %v", err)
		}
		for _, si := range sites {
			log.Printf("[main] site %s: %d files, %d unique timestamps",
				si.Config.Name, si.Index.Count(), si.Index.UniqueTimestamps())
		}
		log.Printf("[main] dry run: %d intervals of %d records",
			len(cfg.Intervals()), cfg.NRecords())
		return
	}

	res, err := r.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			log.Printf("[main] interrupted after %d intervals: %v", res.Committed, err)
			os.Exit(130)
		}
		log.Printf("[main] run failed: %v", err)
		os.Exit(1)
	}

	log.Printf("[main] run %s complete: %d committed, %d skipped, summary %s",
		res.RunID, res.Committed, res.Skipped, res.SummaryKey)
}
