package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/quantfolio/quantfolio/internal/database"
	"github.com/quantfolio/quantfolio/internal/scheduler"
)

// SystemHandlers handles system monitoring endpoints.
type SystemHandlers struct {
	log          zerolog.Logger
	startupTime  time.Time
	configDB     *database.DB
	cacheDB      *database.DB
	rebalanceJob scheduler.Job
}

// NewSystemHandlers creates system handlers. rebalanceJob may be nil when
// scheduling is disabled.
func NewSystemHandlers(log zerolog.Logger, configDB, cacheDB *database.DB, rebalanceJob scheduler.Job) *SystemHandlers {
	return &SystemHandlers{
		log:          log.With().Str("component", "system_handlers").Logger(),
		startupTime:  time.Now(),
		configDB:     configDB,
		cacheDB:      cacheDB,
		rebalanceJob: rebalanceJob,
	}
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string          `json:"status"` // "healthy" or "unhealthy"
	Databases map[string]bool `json:"databases"`
}

// HandleHealth handles GET /health.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Databases: make(map[string]bool),
	}

	for name, db := range map[string]*database.DB{"config": h.configDB, "cache": h.cacheDB} {
		if db == nil {
			continue
		}
		ok := db.HealthCheck(r.Context()) == nil
		response.Databases[name] = ok
		if !ok {
			response.Status = "unhealthy"
		}
	}

	code := http.StatusOK
	if response.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(response)
}

// SystemStatusResponse is the /api/system/status payload.
type SystemStatusResponse struct {
	Status      string  `json:"status"`
	UptimeHours float64 `json:"uptime_hours"`
	CPUPercent  float64 `json:"cpu_percent"`
	RAMPercent  float64 `json:"ram_percent"`
}

// HandleSystemStatus handles GET /api/system/status.
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, ramPercent := h.getSystemStats()

	response := SystemStatusResponse{
		Status:      "healthy",
		UptimeHours: time.Since(h.startupTime).Hours(),
		CPUPercent:  cpuPercent,
		RAMPercent:  ramPercent,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// HandleTriggerRebalance handles POST /api/jobs/rebalance: run the planning
// job immediately, outside its schedule.
func (h *SystemHandlers) HandleTriggerRebalance(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.rebalanceJob == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "error",
			"message": "Rebalance job not registered",
		})
		return
	}

	h.log.Info().Msg("Manual rebalance triggered")

	if err := h.rebalanceJob.Run(); err != nil {
		h.log.Error().Err(err).Msg("Manual rebalance failed")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "success",
		"message": "Rebalance completed",
	})
}

// getSystemStats samples CPU and RAM usage. The 100ms CPU window keeps the
// endpoint responsive for frequent pollers.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}
