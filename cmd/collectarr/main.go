package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/voyagen/collectarr/internal/cache"
	"github.com/voyagen/collectarr/internal/config"
	"github.com/voyagen/collectarr/internal/dispatcharr"
	"github.com/voyagen/collectarr/internal/dvr"
	"github.com/voyagen/collectarr/internal/scheduler"
	"github.com/voyagen/collectarr/internal/server"
	"github.com/voyagen/collectarr/internal/service"
	"github.com/voyagen/collectarr/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Optional config file path (YAML); else use env DVR_URL and DATABASE_URL")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Run migrations.
	absMigrations, err := filepath.Abs("migrations")
	if err != nil {
		absMigrations = "migrations"
	}
	if _, err := os.Stat(absMigrations); err != nil {
		if exe, e := os.Executable(); e == nil {
			absMigrations = filepath.Join(filepath.Dir(exe), "migrations")
		}
	}
	migrationsPath := "file://" + absMigrations
	if err := store.RunMigrations(cfg.DatabaseURL, migrationsPath); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "db: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	// Connect to Redis if REDIS_URL is configured.
	var rds *cache.Redis
	var appStore store.Store = pg
	if cfg.RedisURL != "" {
		rds, err = cache.New(cfg.RedisURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "redis: %v\n", err)
			os.Exit(1)
		}
		defer rds.Close()

		if err := rds.Ping(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "redis ping: %v\n", err)
			os.Exit(1)
		}

		appStore = store.NewCachedStore(pg, rds)
		fmt.Fprintln(os.Stderr, "redis connected (caching and job queue enabled)")
	} else {
		fmt.Fprintln(os.Stderr, "redis disabled (REDIS_URL not set)")
	}

	dvrClient := dvr.NewClient(cfg.DVRURL, cfg.HTTPTimeout)

	// Create the Dispatcharr client if DISPATCHARR_URL is configured.
	var disp *dispatcharr.Client
	if cfg.DispatcharrURL != "" {
		disp = dispatcharr.NewClient(cfg.DispatcharrURL, cfg.DispatcharrUsername, cfg.DispatcharrPassword, cfg.HTTPTimeout)
		fmt.Fprintln(os.Stderr, "dispatcharr integration enabled")
	} else {
		fmt.Fprintln(os.Stderr, "dispatcharr integration disabled (DISPATCHARR_URL not set)")
	}

	var groups service.GroupProvider
	if disp != nil {
		groups = disp
	}
	syncSvc := service.NewSync(appStore, dvrClient, groups, rds)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Scheduled passes go through the Redis queue when it exists, so the
	// worker below serializes them with API-triggered jobs. Without Redis
	// the dispatcher runs the pass itself.
	sched := scheduler.New(cfg.SyncInterval, func(jobCtx context.Context, job cache.SyncJob) {
		if rds != nil {
			if err := cache.Enqueue(jobCtx, rds, cache.DefaultQueue, job); err != nil {
				log.Printf("schedule: enqueue: %v", err)
			}
			return
		}
		runJob(jobCtx, syncSvc, job)
	})
	if rules, err := appStore.ListRules(ctx); err == nil {
		sched.Reload(rules)
	} else {
		log.Printf("schedule: initial rules: %v", err)
	}
	sched.Start(ctx)

	// Start the background sync worker if Redis is available.
	if rds != nil {
		go runSyncWorker(ctx, rds, syncSvc)
	}

	srv := server.New(appStore, cfg, syncSvc, disp, sched, rds)
	if err := srv.ListenAndServe(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

// runSyncWorker continuously dequeues sync jobs from Redis and processes
// them. It stops when ctx is cancelled (graceful shutdown).
func runSyncWorker(ctx context.Context, rds *cache.Redis, svc *service.Sync) {
	log.Println("sync worker started")
	for {
		select {
		case <-ctx.Done():
			log.Println("sync worker stopping")
			return
		default:
		}

		job, err := cache.Dequeue(ctx, rds, cache.DefaultQueue, 5*time.Second)
		if err != nil {
			log.Printf("sync worker: dequeue error: %v", err)
			time.Sleep(2 * time.Second)
			continue
		}
		if job == nil {
			continue // timeout, loop back to check ctx
		}

		log.Printf("sync worker: processing job rule_id=%q requested_at=%s", job.RuleID, job.RequestedAt.Format(time.RFC3339))
		runJob(ctx, svc, *job)
	}
}

func runJob(ctx context.Context, svc *service.Sync, job cache.SyncJob) {
	var err error
	if job.RuleID != "" {
		_, err = svc.SyncRule(ctx, job.RuleID)
	} else {
		_, err = svc.SyncAll(ctx)
	}
	if err != nil {
		log.Printf("sync worker: %v", err)
	}
}
