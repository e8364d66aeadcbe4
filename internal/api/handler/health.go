package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/vportnov/linkpost/internal/service"
)

var startTime = time.Now()

// HealthHandler handles health check and stats endpoints.
type HealthHandler struct {
	stats    func() service.Stats
	cacheLen func() int
	tempPath string
}

// NewHealthHandler creates a new health handler. stats and cacheLen may
// be nil; the corresponding sections are then omitted.
func NewHealthHandler(stats func() service.Stats, cacheLen func() int, tempPath string) *HealthHandler {
	return &HealthHandler{
		stats:    stats,
		cacheLen: cacheLen,
		tempPath: tempPath,
	}
}

// HealthResponse is the JSON response for health checks.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Live handles GET /health - liveness probe.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready - readiness probe. The process serves
// traffic as soon as it is up; readiness mirrors liveness.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	h.Live(w, r)
}

// SystemStats contains system and pipeline statistics.
type SystemStats struct {
	Uptime         int64          `json:"uptime_seconds"`
	UptimeHuman    string         `json:"uptime_human"`
	MemAllocMB     int64          `json:"mem_alloc_mb"`
	MemSysMB       int64          `json:"mem_sys_mb"`
	NumGoroutines  int            `json:"num_goroutines"`
	NumCPU         int            `json:"num_cpu"`
	Fetch          *service.Stats `json:"fetch,omitempty"`
	CacheEntries   *int           `json:"cache_entries,omitempty"`
	TempPath       string         `json:"temp_path,omitempty"`
	DiskFreeBytes  int64          `json:"disk_free_bytes"`
	DiskTotalBytes int64          `json:"disk_total_bytes"`
	DiskUsedPct    float64        `json:"disk_used_pct"`
}

// Stats handles GET /api/v1/stats.
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(startTime)
	stats := SystemStats{
		Uptime:        int64(uptime.Seconds()),
		UptimeHuman:   formatUptime(uptime),
		MemAllocMB:    int64(m.Alloc / 1024 / 1024),
		MemSysMB:      int64(m.Sys / 1024 / 1024),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		TempPath:      h.tempPath,
	}

	if h.stats != nil {
		s := h.stats()
		stats.Fetch = &s
	}
	if h.cacheLen != nil {
		n := h.cacheLen()
		stats.CacheEntries = &n
	}
	if h.tempPath != "" {
		total, free, used, pct := getDiskStats(h.tempPath)
		_ = used
		stats.DiskTotalBytes = total
		stats.DiskFreeBytes = free
		stats.DiskUsedPct = pct
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(stats)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}
