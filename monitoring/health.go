package monitoring

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"market_terminal/metrics"
)

type HealthStatus struct {
	Status          string            `json:"status"`
	Uptime          string            `json:"uptime"`
	StartTime       time.Time         `json:"start_time"`
	MemoryUsage     uint64            `json:"memory_usage"`
	GoroutineCount  int               `json:"goroutine_count"`
	TicksReceived   uint64            `json:"ticks_received"`
	DecodeErrors    uint64            `json:"decode_errors"`
	FallbackTicks   uint64            `json:"fallback_ticks"`
	LastFrameAgeSec float64           `json:"last_frame_age_sec"`
	ComponentStatus map[string]string `json:"component_status"`
}

var (
	startTime      = time.Now()
	healthChecksMu sync.RWMutex
	healthChecks   = make(map[string]func() bool)
)

// RegisterHealthCheck is safe to call while the handler is serving.
func RegisterHealthCheck(name string, check func() bool) {
	healthChecksMu.Lock()
	defer healthChecksMu.Unlock()
	healthChecks[name] = check
}

func snapshotHealthChecks() map[string]func() bool {
	healthChecksMu.RLock()
	defer healthChecksMu.RUnlock()
	out := make(map[string]func() bool, len(healthChecks))
	for name, check := range healthChecks {
		out[name] = check
	}
	return out
}

func HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	ticks, decodeErrs, fallback, _, _ := metrics.GetStats()

	status := HealthStatus{
		Status:          "ok",
		Uptime:          time.Since(startTime).String(),
		StartTime:       startTime,
		MemoryUsage:     m.Alloc,
		GoroutineCount:  runtime.NumGoroutine(),
		TicksReceived:   ticks,
		DecodeErrors:    decodeErrs,
		FallbackTicks:   fallback,
		LastFrameAgeSec: metrics.LastFrameAge().Seconds(),
		ComponentStatus: make(map[string]string),
	}

	// Check all registered components
	for name, check := range snapshotHealthChecks() {
		if check() {
			status.ComponentStatus[name] = "healthy"
		} else {
			status.ComponentStatus[name] = "unhealthy"
			status.Status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
