package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"

	readinessTimeout = 5 * time.Second
)

// HealthChecker probes the credential store and the key cache. The store is
// load-bearing: without it no key can be validated past the cache TTL. The
// cache is an accelerator, so losing it only degrades the service.
type HealthChecker struct {
	db    *sql.DB
	cache *redis.Client
}

// NewHealthChecker creates a health checker over the given backends. Either
// may be nil, in which case it is skipped.
func NewHealthChecker(db *sql.DB, cache *redis.Client) *HealthChecker {
	return &HealthChecker{db: db, cache: cache}
}

// HealthStatus is the aggregate readiness report
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus reports a single backend probe
type DependencyStatus struct {
	Status    string  `json:"status"`
	Message   string  `json:"message,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
}

// Liveness answers 200 whenever the process is serving requests
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealthJSON(w, http.StatusOK, HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	})
}

// Readiness probes the backends and answers 503 only when the credential
// store is down; a degraded cache still serves traffic.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := h.Check(ctx)

	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealthJSON(w, code, status)
}

// Check probes every configured backend and aggregates the worst outcome
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Dependencies: make(map[string]DependencyStatus),
	}

	if h.db != nil {
		db := h.probeStore(ctx)
		status.Dependencies["credential_store"] = db
		switch db.Status {
		case StatusUnhealthy:
			status.Status = StatusUnhealthy
		case StatusDegraded:
			if status.Status == StatusHealthy {
				status.Status = StatusDegraded
			}
		}
	}

	if h.cache != nil {
		cache := h.probeCache(ctx)
		status.Dependencies["key_cache"] = cache
		// Validation falls through to the store on cache failure, so a dead
		// cache never makes the whole service unhealthy.
		if cache.Status == StatusUnhealthy && status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
	}

	return status
}

func (h *HealthChecker) probeStore(ctx context.Context) DependencyStatus {
	start := time.Now()

	var one int
	err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	probe := DependencyStatus{
		Status:    StatusHealthy,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		probe.Status = StatusUnhealthy
		probe.Message = err.Error()
		return probe
	}

	if stats := h.db.Stats(); stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections {
		probe.Status = StatusDegraded
		probe.Message = "connection pool exhausted"
	}
	return probe
}

func (h *HealthChecker) probeCache(ctx context.Context) DependencyStatus {
	start := time.Now()
	err := h.cache.Ping(ctx).Err()

	probe := DependencyStatus{
		Status:    StatusHealthy,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		probe.Status = StatusUnhealthy
		probe.Message = err.Error()
	}
	return probe
}

func writeHealthJSON(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

// RegisterHealthRoutes registers the probe endpoints on the internal mux
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}