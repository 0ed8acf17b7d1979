package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is a dependency that can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus represents the daemon health.
type HealthStatus struct {
	mu sync.RWMutex

	StoreOK       bool      `json:"store_ok"`
	CacheOK       bool      `json:"cache_ok"`
	CacheBackend  string    `json:"cache_backend"`
	StoreBackend  string    `json:"store_backend"`
	Session       string    `json:"session"`
	WarmBreaker   string    `json:"warm_breaker"`
	LastWarmAt    time.Time `json:"last_warm_at"`
	LastRefreshAt time.Time `json:"last_refresh_at"`

	// Liveness probe results
	StoreLatencyMs float64   `json:"store_latency_ms"`
	CacheLatencyMs float64   `json:"cache_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(storeBackend, cacheBackend string) *HealthStatus {
	return &HealthStatus{
		StoreBackend: storeBackend,
		CacheBackend: cacheBackend,
		WarmBreaker:  "closed",
		StartedAt:    time.Now(),
	}
}

func (h *HealthStatus) SetSession(s string) {
	h.mu.Lock()
	h.Session = s
	h.mu.Unlock()
}

func (h *HealthStatus) SetWarmBreaker(state string) {
	h.mu.Lock()
	h.WarmBreaker = state
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastWarmAt(t time.Time) {
	h.mu.Lock()
	h.LastWarmAt = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastRefreshAt(t time.Time) {
	h.mu.Lock()
	if t.After(h.LastRefreshAt) {
		h.LastRefreshAt = t
	}
	h.mu.Unlock()
}

// CheckStore pings storage and records latency + health.
func (h *HealthStatus) CheckStore(ctx context.Context, p Pinger) {
	ok, latency := probe(ctx, p)
	h.mu.Lock()
	h.StoreOK = ok
	h.StoreLatencyMs = latency
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckCache pings the cache and records latency + connectivity.
func (h *HealthStatus) CheckCache(ctx context.Context, p Pinger) {
	ok, latency := probe(ctx, p)
	h.mu.Lock()
	h.CacheOK = ok
	h.CacheLatencyMs = latency
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

func probe(ctx context.Context, p Pinger) (bool, float64) {
	start := time.Now()
	err := p.Ping(ctx)
	return err == nil, float64(time.Since(start).Microseconds()) / 1000.0
}

// StartLivenessChecker probes both dependencies now and then every interval.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, store, cache Pinger, interval time.Duration) {
	check := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if store != nil {
			h.CheckStore(probeCtx, store)
		}
		if cache != nil {
			h.CheckCache(probeCtx, cache)
		}
	}
	check()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
//
// unhealthy: storage is down, or no payload has ever been warmed.
// degraded:  the cache is down or the warm breaker is not closed; readers
// get the last-good payload.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.CacheOK || h.WarmBreaker != "closed" {
		overallStatus = "degraded"
	}
	if !h.StoreOK || h.LastWarmAt.IsZero() {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	payloadAge := ""
	if !h.LastWarmAt.IsZero() {
		payloadAge = time.Since(h.LastWarmAt).Round(time.Second).String()
	}

	status := struct {
		Status         string  `json:"status"`
		Uptime         string  `json:"uptime"`
		Session        string  `json:"session"`
		StoreBackend   string  `json:"store_backend"`
		StoreOK        bool    `json:"store_ok"`
		StoreLatencyMs float64 `json:"store_latency_ms"`
		CacheBackend   string  `json:"cache_backend"`
		CacheOK        bool    `json:"cache_ok"`
		CacheLatencyMs float64 `json:"cache_latency_ms"`
		WarmBreaker    string  `json:"warm_breaker"`
		PayloadAge     string  `json:"payload_age"`
		LastRefreshAt  string  `json:"last_refresh_at"`
		LastCheckAt    string  `json:"last_check_at"`
	}{
		Status:         overallStatus,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		Session:        h.Session,
		StoreBackend:   h.StoreBackend,
		StoreOK:        h.StoreOK,
		StoreLatencyMs: h.StoreLatencyMs,
		CacheBackend:   h.CacheBackend,
		CacheOK:        h.CacheOK,
		CacheLatencyMs: h.CacheLatencyMs,
		WarmBreaker:    h.WarmBreaker,
		PayloadAge:     payloadAge,
		LastRefreshAt:  h.LastRefreshAt.Format(time.RFC3339),
		LastCheckAt:    h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz, plus any
// extra handlers mounted by the caller.
type Server struct {
	addr   string
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a metrics and health server. extra maps paths to
// handlers, e.g. the payload read endpoint.
func NewServer(addr string, gatherer prometheus.Gatherer, health *HealthStatus, extra map[string]http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)
	for path, h := range extra {
		mux.Handle(path, h)
	}

	return &Server{
		addr:   addr,
		logger: logger,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("metrics server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("metrics server error", "err", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
