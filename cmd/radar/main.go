package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/navid-fn/optionsradar/configs"
	"github.com/navid-fn/optionsradar/internal/buffer"
	"github.com/navid-fn/optionsradar/internal/cboe"
	"github.com/navid-fn/optionsradar/internal/cleaner"
	"github.com/navid-fn/optionsradar/internal/events"
	"github.com/navid-fn/optionsradar/internal/faulttolerance"
	"github.com/navid-fn/optionsradar/internal/history"
	"github.com/navid-fn/optionsradar/internal/logger"
	"github.com/navid-fn/optionsradar/internal/metrics"
	"github.com/navid-fn/optionsradar/internal/scheduler"
	"github.com/navid-fn/optionsradar/internal/server/handler"
	"github.com/navid-fn/optionsradar/internal/server/router"
	"github.com/navid-fn/optionsradar/internal/service"
	"github.com/navid-fn/optionsradar/internal/state"
	"github.com/navid-fn/optionsradar/internal/storage"
	"github.com/navid-fn/optionsradar/internal/syncer"
)

func main() {
	cfg := configs.AppLoad()
	log := logger.New(cfg.LogLevel)
	gin.SetMode(cfg.Server.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, registry, err := openStorage(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to open option store: %v", err)
	}
	st, closeState, err := openState(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to open state store: %v", err)
	}
	defer closeState()

	bus := events.NewBus(log)
	client := cboe.NewClient(cboe.Config{
		BaseURL:           cfg.CBOE.BaseURL,
		Timeout:           cfg.CBOE.Timeout,
		RequestsPerSecond: cfg.CBOE.RequestsPerSecond,
		MaxAttempts:       cfg.CBOE.MaxAttempts,
		BreakerFailures:   cfg.CBOE.BreakerFailures,
		BreakerCooldown:   cfg.CBOE.BreakerCooldown,
		UserAgent:         cfg.CBOE.UserAgent,
	}, nil, log)

	store := storage.NewOptionStore(backend, log)
	coordinator := syncer.NewCoordinator(client, registry, store, log, syncer.Options{
		StoreTimeout: cfg.Storage.OpTimeout,
		Publisher:    bus,
	})
	buf := buffer.New(st, coordinator, registry, store, log, buffer.Config{
		Lease:     cfg.Scheduler.ProcessingLease,
		Publisher: bus,
	})

	loc, err := time.LoadLocation(cfg.Cleaner.Timezone)
	if err != nil {
		log.Warnf("Unknown timezone %s, using %s: %v", cfg.Cleaner.Timezone, cleaner.DefaultTimezone, err)
	}
	gc := cleaner.New(registry, store, log, cleaner.Config{
		Location:  loc,
		Freshness: cfg.Cleaner.FreshnessWindow,
		Publisher: bus,
	})
	sched := scheduler.New(st, buf, registry, gc, log, scheduler.Config{
		DefaultSchedule:   scheduler.Schedule(cfg.Scheduler.RefillSchedule),
		DefaultBatchSize:  cfg.Scheduler.BatchSize,
		InitialDrainDelay: cfg.Scheduler.InitialDrainDelay,
		DrainDelay:        cfg.Scheduler.DrainDelay,
		CleanupInterval:   cfg.Scheduler.CleanupInterval,
		Publisher:         bus,
	})

	// Metrics
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)
	m.RegisterBreaker("cboe", client.BreakerState)
	if err := m.Subscribe(bus); err != nil {
		log.Fatalf("Failed to subscribe metrics: %v", err)
	}

	// Health
	health := faulttolerance.NewHealthMonitor(log, time.Minute)
	health.AddCheck("option_store", true, store.Ping)
	health.AddCheck("state_store", true, st.Ping)
	health.AddCheck("cboe", false, client.TestConnectivity)

	// History and event export outlive ctx so shutdown can flush them.
	var wg sync.WaitGroup
	bgCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	if cfg.History.Enabled {
		sink, err := history.NewClickHouseSink(cfg.History.DSN)
		if err != nil {
			log.Fatalf("Failed to connect to ClickHouse: %v", err)
		}
		defer sink.Close()

		recorder := history.NewRecorder(sink, log, history.Config{
			BatchSize:    cfg.History.BatchSize,
			BatchTimeout: cfg.History.BatchTimeout,
		})
		if err := bus.Subscribe(events.TopicSyncCompleted, recorder.Handle); err != nil {
			log.Fatalf("Failed to subscribe history recorder: %v", err)
		}
		health.AddCheck("clickhouse", false, sink.Ping)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := recorder.Start(bgCtx); err != nil {
				log.Errorf("History recorder stopped: %v", err)
			}
		}()
	}

	if cfg.Kafka.Enabled {
		sink, err := openKafka(cfg.Kafka, log)
		if err != nil {
			log.Fatalf("Failed to create Kafka producer: %v", err)
		}
		defer sink.Close()
		if err := events.Forward(bus, sink, log); err != nil {
			log.Fatalf("Failed to forward events: %v", err)
		}
	}

	optionsService := service.NewOptionsService(registry, store)
	adminService := service.NewAdminService(registry, client, coordinator, buf, sched, gc, log)

	engine := router.NewRouter(&router.Config{
		OptionsHandler: handler.NewOptionsHandler(optionsService, log),
		AdminHandler:   handler.NewAdminHandler(adminService, log),
		Health:         health,
		Gatherer:       promRegistry,
		AdminToken:     cfg.Server.AdminToken,
		Logger:         log,
	})
	if cfg.Server.AdminToken == "" {
		log.Warn("ADMIN_TOKEN is empty, admin endpoints are disabled")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	health.Start(ctx)
	sched.Start(ctx)

	go func() {
		log.Infof("HTTP server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP server failed: %v", err)
			stop()
		}
	}()

	log.Info("Options radar started successfully")
	<-ctx.Done()
	log.Info("Shutting down...")

	sched.Stop()
	health.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP server shutdown: %v", err)
	}

	bus.Wait()
	cancelBackground()
	wg.Wait()

	log.Info("Options radar shutdown complete")
}

func openStorage(cfg configs.StorageConfig) (storage.Backend, storage.SymbolRegistry, error) {
	if cfg.Driver == "memory" {
		return storage.NewMemoryBackend(), storage.NewMemoryRegistry(), nil
	}

	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, nil, err
	}
	return storage.NewPostgresBackend(db), storage.NewPostgresRegistry(db), nil
}

func openState(ctx context.Context, cfg configs.RedisConfig) (state.Store, func(), error) {
	if cfg.Driver == "memory" {
		return state.NewMemoryStore(nil), func() {}, nil
	}

	rs, err := state.NewRedisStore(ctx, cfg.Addr, cfg.Password, cfg.DB, cfg.Prefix)
	if err != nil {
		return nil, nil, err
	}
	return rs, func() { _ = rs.Close() }, nil
}

func openKafka(cfg configs.KafkaConfig, log *logrus.Logger) (events.Sink, error) {
	switch cfg.Client {
	case "kafka-go":
		return events.NewWriterSink(cfg.Broker, cfg.Topic, log), nil
	case "confluent", "":
		return events.NewConfluentSink(cfg.Broker, cfg.Topic, log)
	default:
		return nil, fmt.Errorf("unknown KAFKA_CLIENT %q", cfg.Client)
	}
}
