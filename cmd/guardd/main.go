// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/abdliliaai/visiony-guard-sub000/internal/api"
	"github.com/abdliliaai/visiony-guard-sub000/internal/capture"
	"github.com/abdliliaai/visiony-guard-sub000/internal/config"
	"github.com/abdliliaai/visiony-guard-sub000/internal/detect"
	"github.com/abdliliaai/visiony-guard-sub000/internal/health"
	vylog "github.com/abdliliaai/visiony-guard-sub000/internal/log"
	"github.com/abdliliaai/visiony-guard-sub000/internal/notify"
	"github.com/abdliliaai/visiony-guard-sub000/internal/publish"
	"github.com/abdliliaai/visiony-guard-sub000/internal/registry"
	"github.com/abdliliaai/visiony-guard-sub000/internal/snapshot"
	"github.com/abdliliaai/visiony-guard-sub000/internal/store"
	"github.com/abdliliaai/visiony-guard-sub000/internal/transcode"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	vylog.Configure(vylog.Config{
		Level:   os.Getenv("VY_LOG_LEVEL"),
		Service: "guardd",
		Version: version,
	})
	logger := vylog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("addr", cfg.API.ListenAddr).
		Msg("starting guardd")
	logger.Info().Msgf("→ Detection service: %s (timeout %s)", cfg.Detection.Endpoint, cfg.Detection.Timeout)
	logger.Info().Msgf("→ HLS root: %s", cfg.Pipeline.HLSRoot)
	logger.Info().Msgf("→ Tick interval: %s", cfg.Pipeline.TickInterval)

	if cfg.Postgres.DSN == "" {
		logger.Fatal().Msg("VY_DATABASE_DSN must be set: the pipeline needs a datastore for events and device status")
	}
	db, err := store.New(cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "store.connect_failed").Msg("failed to connect to Postgres")
	}
	defer func() { _ = db.Close() }()
	if err := db.Init(); err != nil {
		logger.Fatal().Err(err).Str("event", "store.init_failed").Msg("failed to initialize datastore schema")
	}

	var snapshots publish.SnapshotStore = snapshot.NoopStore{}
	if cfg.Minio.Endpoint != "" {
		s3, err := snapshot.NewMinioStore(ctx, snapshot.Options{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			UseSSL:    cfg.Minio.UseSSL,
		})
		if err != nil {
			logger.Fatal().Err(err).Str("event", "snapshot.connect_failed").Msg("failed to connect to MinIO")
		}
		snapshots = s3
	} else {
		logger.Warn().Msg("→ Snapshot storage: NOT configured, events will carry no image references")
	}

	var notifier publish.Broadcaster
	var redisNotifier *notify.RedisNotifier
	if cfg.Redis.Addr != "" {
		redisNotifier, err = notify.NewRedisNotifier(ctx, notify.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			logger.Fatal().Err(err).Str("event", "notify.connect_failed").Msg("failed to connect to Redis")
		}
		defer func() { _ = redisNotifier.Close() }()
		notifier = redisNotifier
	} else {
		logger.Warn().Msg("→ Live notifications: NOT configured (no Redis address)")
	}

	detector := detect.NewClient(cfg.Detection.Endpoint, cfg.Detection.Timeout)
	grabber := capture.NewGrabber(cfg.Pipeline.FFmpegBin, cfg.Pipeline.CaptureTimeout)
	supervisor := transcode.NewSupervisor(cfg.Pipeline.FFmpegBin, cfg.Pipeline.HLSRoot, cfg.Pipeline.StopGrace)
	publisher := publish.New(snapshots, db, notifier)

	reg := registry.New(ctx, registry.Deps{
		Supervisor:    registry.WrapSupervisor(supervisor),
		Grabber:       grabber,
		Detector:      detector,
		Thresholds:    db,
		Publisher:     publisher,
		Status:        db,
		TickInterval:  cfg.Pipeline.TickInterval,
		StopGrace:     cfg.Pipeline.StopGrace,
		CleanupOnStop: true,
	})

	hm := health.NewManager(version, reg)
	hm.RegisterChecker(health.CheckerFunc{CheckName: "detection_service", Probe: detector.Health})
	hm.RegisterChecker(health.CheckerFunc{CheckName: "datastore", Probe: func(ctx context.Context) error {
		return db.DB.PingContext(ctx)
	}})
	if redisNotifier != nil {
		hm.RegisterChecker(health.CheckerFunc{CheckName: "redis", Probe: redisNotifier.Ping})
	}

	apiServer := api.New(api.Config{
		HLSRoot:      cfg.Pipeline.HLSRoot,
		RateLimitRPM: cfg.API.RateLimitRPM,
	}, reg, hm)

	httpServer := &http.Server{
		Addr:         cfg.API.ListenAddr,
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:        cfg.Metrics.ListenAddr,
			Handler:     mux,
			ReadTimeout: cfg.API.ReadTimeout,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", httpServer.Addr).Msg("control API listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			logger.Info().Str("addr", metricsServer.Addr).Msg("metrics listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Str("event", "shutdown").Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
		defer cancel()

		// Stop every active device through the per-device stop path
		// before the process exits, bounded by the shutdown deadline.
		if err := reg.StopAll(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("not all streams stopped cleanly")
		}

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("api server shutdown failed")
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("metrics server shutdown failed")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("daemon failed")
	}

	logger.Info().Msg("server exiting")
}
