package ui

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"selinf/adapters/rng"
	"selinf/app"
	"selinf/domain/core"
	"selinf/domain/selection"
	"selinf/internal/errors"
	"selinf/internal/inference"
	"selinf/internal/report"
	"selinf/internal/testkit"
)

// RunRequest overrides the server configuration for one run. Zero fields
// keep the configured value.
type RunRequest struct {
	Scenario   string  `json:"scenario"`
	Replicates int     `json:"replicates"`
	Workers    int     `json:"workers"`
	Seed       *uint64 `json:"seed"`
	TotalSteps int     `json:"total_steps"`
	BurnIn     *int    `json:"burn_in"`
}

// RunView is the JSON form of a finished run. Per-target results are left
// to the workbook and database exports since skipped targets carry NaN.
type RunView struct {
	RunID       core.RunID                 `json:"run_id"`
	Fingerprint core.ConfigFingerprint     `json:"fingerprint"`
	StartedAt   core.Timestamp             `json:"started_at"`
	Replicates  int                        `json:"replicates"`
	Skipped     int                        `json:"skipped"`
	Null        []float64                  `json:"null"`
	Alternative []float64                  `json:"alternative"`
	NullMean    float64                    `json:"null_mean"`
	NullStdDev  float64                    `json:"null_std_dev"`
	Uniformity  *selection.UniformityCheck `json:"uniformity,omitempty"`
}

func viewOf(s *selection.ReplicateSummary) RunView {
	return RunView{
		RunID:       s.RunID,
		Fingerprint: s.Fingerprint,
		StartedAt:   s.StartedAt,
		Replicates:  s.Replicates,
		Skipped:     s.Skipped,
		Null:        s.Null,
		Alternative: s.Alternative,
		NullMean:    s.NullMean,
		NullStdDev:  s.NullStdDev,
		Uniformity:  s.Uniformity,
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListRuns(c *gin.Context) {
	s.runsMutex.RLock()
	views := make([]RunView, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		views = append(views, viewOf(s.runs[s.order[i]]))
	}
	s.runsMutex.RUnlock()
	c.JSON(http.StatusOK, gin.H{"runs": views})
}

func (s *Server) handleGetRun(c *gin.Context) {
	summary, ok := s.lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, viewOf(summary))
}

func (s *Server) handleRunReport(c *gin.Context) {
	summary, ok := s.lookup(c.Param("id"))
	if !ok {
		c.String(http.StatusNotFound, "run not found")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", report.HTML(summary))
}

func (s *Server) handleCreateRun(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := *s.config
	if req.Scenario != "" {
		cfg.Replicates.Scenario = req.Scenario
	}
	if req.Replicates > 0 {
		cfg.Replicates.Count = req.Replicates
	}
	if req.Workers > 0 {
		cfg.Replicates.Workers = req.Workers
	}
	if req.Seed != nil {
		cfg.Replicates.Seed = *req.Seed
	}
	if req.TotalSteps > 0 {
		cfg.Sampler.TotalSteps = req.TotalSteps
	}
	if req.BurnIn != nil {
		cfg.Sampler.BurnIn = *req.BurnIn
	}
	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": errors.GetCode(err)})
		return
	}
	scenario, err := testkit.ScenarioFor(&cfg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rngPort := rng.NewPCGAdapter()
	driver, err := inference.NewDriver(cfg.Settings(), rngPort, s.logger)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	service := app.NewReplicateService(driver, rngPort, s.sink, s.metrics, s.logger)
	summary, err := service.Run(c.Request.Context(), app.ReplicateRequest{
		Scenario:    scenario,
		Replicates:  cfg.Replicates.Count,
		Workers:     cfg.Replicates.Workers,
		Seed:        cfg.Replicates.Seed,
		Fingerprint: cfg.Fingerprint(),
	})
	if summary != nil {
		// a sink failure still returns the computed summary
		s.store(summary)
	}
	if err != nil {
		status := http.StatusInternalServerError
		if code := errors.GetCode(err); code == errors.CodeInvalidInput || code == errors.CodeConfigInvalid {
			status = http.StatusBadRequest
		}
		s.logger.Error("run failed: %v", err)
		c.JSON(status, gin.H{"error": err.Error(), "code": errors.GetCode(err)})
		return
	}
	c.JSON(http.StatusCreated, viewOf(summary))
}
