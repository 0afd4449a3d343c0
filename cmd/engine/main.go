package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"opowatch-engine/internal/config"
	"opowatch-engine/internal/dedup"
	"opowatch-engine/internal/domain"
	"opowatch-engine/internal/events"
	"opowatch-engine/internal/fetch"
	"opowatch-engine/internal/httpapi"
	"opowatch-engine/internal/index"
	"opowatch-engine/internal/ingest"
	"opowatch-engine/internal/scheduler"
	"opowatch-engine/internal/secrets"
)

func main() {
	dataDir := os.Getenv("OPOWATCH_DATA_DIR")
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatal(err)
	}

	// Two engines sharing one sqlite file end in tears.
	lock := flock.New(filepath.Join(dataDir, "engine.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		log.Fatalf("instance lock: %v", err)
	}
	if !locked {
		log.Fatalf("another engine is already running in %s", dataDir)
	}
	defer func() { _ = lock.Unlock() }()

	userCfgPath, err := config.EnsureUserConfig(dataDir)
	if err != nil {
		log.Fatalf("config bootstrap failed: %v", err)
	}

	var cfgVal atomic.Value // stores config.Config
	loadCfg := func() (config.Config, error) {
		cfg, err := config.Load(userCfgPath)
		if err != nil {
			return cfg, err
		}
		normalized, vr := config.NormalizeAndValidate(cfg)
		if !vr.OK() {
			return cfg, fmt.Errorf("config invalid: %v", vr.Errors)
		}
		for _, warn := range vr.Warnings {
			log.Printf("[config] warning: %s", warn)
		}
		return normalized, nil
	}
	cfg, err := loadCfg()
	if err != nil {
		log.Fatalf("config load failed (%s): %v", userCfgPath, err)
	}
	cfgVal.Store(cfg)

	ix, err := index.Open(filepath.Join(dataDir, "opowatch.db"))
	if err != nil {
		log.Fatal(err)
	}
	defer ix.Close()
	if err := ix.Migrate(); err != nil {
		log.Fatal(err)
	}

	hub := events.NewHub()

	limiter := fetch.NewHostLimiter(cfg.Source.RequestsPerSecond, cfg.Source.Burst)
	client := fetch.New(fetch.Config{
		BaseURL:     cfg.Source.BaseURL,
		UserAgent:   cfg.Source.UserAgent,
		MaxAttempts: cfg.Ingest.MaxAttempts,
		RetryBase:   time.Duration(cfg.Ingest.RetryBaseMs) * time.Millisecond,
	}, limiter)

	runner := &ingest.Runner{
		Fetcher: client,
		Index:   ix,
		Locks:   dedup.NewKeyedLock(),
		Hub:     hub,
		Opts: ingest.Options{
			SectionCode:   cfg.Source.SectionCode,
			Workers:       cfg.Ingest.Workers,
			HydrateBodies: cfg.Source.HydrateBodies,
		},
	}
	manager := ingest.NewManager(runner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Ingest.DailyEnabled {
		interval := time.Duration(cfg.Ingest.IntervalHours) * time.Hour
		go scheduler.Every(ctx, interval, "ingest", func(ctx context.Context) error {
			c := cfgVal.Load().(config.Config)
			today := domain.DateOf(time.Now().UTC())
			rng := domain.Range{From: today.AddDays(-c.Ingest.LookbackDays), To: today}
			if _, started := manager.TryRun(ctx, rng); !started {
				log.Printf("[ingest] scheduled run skipped: already running")
			}
			return nil
		})
	}

	mux := httpapi.NewMux(httpapi.Deps{
		Index:       ix,
		Hub:         hub,
		Ingest:      manager,
		CfgVal:      &cfgVal,
		UserCfgPath: userCfgPath,
		LoadCfg:     loadCfg,
		AdminToken:  secrets.GetAdminToken,
	})

	handler := httpapi.Chain(mux,
		httpapi.RequestID,
		httpapi.Recover,
		httpapi.AccessLog,
		httpapi.Cors,
	)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.App.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("engine listening on http://%s (data=%s)", addr, dataDir)

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Fatal(srv.Serve(ln))
}
