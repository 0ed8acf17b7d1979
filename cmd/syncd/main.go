package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sony/gobreaker/v2"

	"market-syncv1/config"
	"market-syncv1/internal/api"
	"market-syncv1/internal/circuitbreaker"
	"market-syncv1/internal/fetch"
	"market-syncv1/internal/jobs"
	"market-syncv1/internal/logger"
	"market-syncv1/internal/markethours"
	"market-syncv1/internal/metrics"
	"market-syncv1/internal/model"
	"market-syncv1/internal/ratelimit"
	"market-syncv1/internal/retry"
	"market-syncv1/internal/scheduler"
	"market-syncv1/internal/store/memory"
	pgstore "market-syncv1/internal/store/postgres"
	redisstore "market-syncv1/internal/store/redis"
	sqlitestore "market-syncv1/internal/store/sqlite"
	"market-syncv1/internal/upsert"
	"market-syncv1/internal/warmer"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// ---- Load config from env ----
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[syncd] %v", err)
	}
	level, _ := cfg.SlogLevel()
	lg := logger.Init(cfg.ServiceName, level)
	lg.Info("starting", "store", cfg.StoreBackend, "tz", cfg.MarketTZ)

	clock := clockwork.NewRealClock()

	// ---- Session clock ----
	loc, err := time.LoadLocation(cfg.MarketTZ)
	if err != nil {
		log.Fatalf("[syncd] MARKET_TZ %q: %v", cfg.MarketTZ, err)
	}
	cal := markethours.DefaultCalendar()
	if cfg.CalendarPath != "" {
		if cal, err = markethours.LoadCalendar(cfg.CalendarPath); err != nil {
			log.Fatalf("[syncd] calendar: %v", err)
		}
	}
	session, err := markethours.NewClock(loc, markethours.USEquityHours, cal, clock)
	if err != nil {
		log.Fatalf("[syncd] session clock: %v", err)
	}
	lg.Info("market status", "status", session.StatusString(clock.Now()))

	// ---- Context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Store ----
	store, err := openStore(ctx, cfg, lg)
	if err != nil {
		log.Fatalf("[syncd] store: %v", err)
	}
	defer store.Close()

	// ---- Cache (redis, in-process fallback) ----
	var cache model.Cache
	cacheBackend := "redis"
	rc, err := redisstore.New(ctx, redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Channel:  cfg.CacheChannel,
	}, lg)
	if err != nil {
		lg.Warn("redis init failed, continuing with in-process cache", "addr", cfg.RedisAddr, "err", err)
		cache = memory.New(clock)
		cacheBackend = "memory"
	} else {
		defer rc.Close()
		cache = rc
	}

	// ---- Metrics & health ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	health := metrics.NewHealthStatus(cfg.StoreBackend, cacheBackend)

	// ---- Upsert pipeline ----
	pipeline := upsert.New(store, upsert.Config{ChunkSize: cfg.ChunkSize, ChunkDelay: cfg.ChunkDelay}, clock, lg)
	pipeline.OnChunk = m.ObserveChunk

	// ---- Rate limiters per upstream ----
	limits, _ := cfg.ParseRateLimits()
	limiters := make(map[string]*ratelimit.Limiter, len(limits))
	for name, n := range limits {
		l, err := ratelimit.New(name, n, clock)
		if err != nil {
			log.Fatalf("[syncd] rate limit %s: %v", name, err)
		}
		l.OnWait = m.ObserveLimiterWait
		limiters[name] = l
	}

	// ---- Refresh scheduler ----
	cadences := scheduler.DefaultCadences()
	for name, v := range cfg.CadenceOverrides {
		over, err := scheduler.ParseCadences(v)
		if err != nil {
			log.Fatalf("[syncd] CADENCE_%s: %v", name, err)
		}
		cadences.Override(markethours.Session(name), over)
	}
	sched, err := scheduler.New(scheduler.Config{
		Cadences: cadences,
		Retry: retry.Policy{
			MaxAttempts: cfg.RetryAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    retry.DefaultPolicy.MaxDelay,
		},
		BreakerFailures: uint32(cfg.FetchBreakerFailures),
		BreakerTimeout:  cfg.FetchBreakerTimeout,
		RefreshTimeout:  cfg.RefreshTimeout,
	}, session, clock, fetch.FileSource{Dir: cfg.FetchDir}, pipeline, limiters, lg)
	if err != nil {
		log.Fatalf("[syncd] scheduler: %v", err)
	}
	sched.OnRefresh = func(class model.DataClass, outcome string, rows int64, d time.Duration) {
		m.ObserveRefresh(string(class), outcome, d)
		if outcome == scheduler.OutcomeOK {
			health.SetLastRefreshAt(clock.Now())
		}
	}
	sched.OnBreakerChange = func(name string, _, to gobreaker.State) {
		m.SetBreakerState(name, gobreakerState(to))
	}

	// ---- Cache warmer ----
	warm, err := warmer.New(cache, warmer.FromStore(store, clock), warmer.Config{
		TTL: cfg.PayloadTTL,
		Breaker: circuitbreaker.Config{
			FailureThreshold: cfg.WarmFailureThreshold,
			ResetTimeout:     cfg.WarmResetTimeout,
			MonitorWindow:    cfg.WarmMonitorWindow,
			CallTimeout:      cfg.WarmCallTimeout,
		},
	}, clock, lg)
	if err != nil {
		log.Fatalf("[syncd] warmer: %v", err)
	}
	warm.OnWarm = func(outcome string) {
		m.WarmTotal.WithLabelValues(outcome).Inc()
		if outcome == warmer.OutcomeFresh {
			health.SetLastWarmAt(warm.LastGoodAt())
		}
	}
	warm.Breaker().OnStateChange = func(name string, _, to circuitbreaker.State) {
		m.SetBreakerState(name, int(to))
		health.SetWarmBreaker(to.String())
	}

	// ---- Loops ----
	runner := jobs.New(lg)
	runner.OnRun = func(name string, d time.Duration, _ error) {
		m.JobDuration.WithLabelValues(name).Observe(d.Seconds())
	}
	sessionNames := make([]string, len(markethours.Sessions))
	for i, s := range markethours.Sessions {
		sessionNames[i] = string(s)
	}
	mustSchedule(runner.Every("refresh", cfg.RefreshTick, func(ctx context.Context) error {
		st := session.Now()
		m.SetSession(string(st.Session), sessionNames)
		health.SetSession(string(st.Session))
		_, err := sched.Cycle(ctx)
		return err
	}))
	mustSchedule(runner.Every("warm", cfg.WarmTick, func(ctx context.Context) error {
		err := warm.Warm(ctx)
		if at := warm.LastGoodAt(); !at.IsZero() {
			m.PayloadAge.Set(clock.Since(at).Seconds())
		}
		return err
	}))

	// ---- HTTP: metrics, health, payload read path ----
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, reg, health, map[string]http.Handler{
		"/api/": api.NewRouter(warm, session, lg),
	}, lg)
	metricsSrv.Start()
	health.StartLivenessChecker(ctx, store, cache, 10*time.Second)

	runner.Start(ctx)
	lg.Info("running", "refresh_tick", cfg.RefreshTick, "warm_tick", cfg.WarmTick, "cache", cacheBackend)

	// ---- Wait for shutdown signal ----
	<-sigCh
	lg.Info("shutdown signal received, cleaning up")
	cancel()
	runner.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
	lg.Info("shutdown complete")
}

func openStore(ctx context.Context, cfg *config.Config, lg *slog.Logger) (model.Store, error) {
	switch cfg.StoreBackend {
	case "postgres":
		s, err := pgstore.Open(ctx, pgstore.Config{DSN: cfg.PostgresDSN}, lg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := sqlitestore.Open(ctx, sqlitestore.Config{DBPath: cfg.SQLitePath}, lg)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func mustSchedule(err error) {
	if err != nil {
		log.Fatalf("[syncd] %v", err)
	}
}

// gobreakerState maps gobreaker's ordering onto the
// closed=0/open=1/half-open=2 gauge convention.
func gobreakerState(s gobreaker.State) int {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	}
	return 0
}
