// Package handler provides HTTP handlers for the BeeWatch API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/beewatch/beewatch/internal/api/models"
	"github.com/beewatch/beewatch/internal/api/response"
	"github.com/beewatch/beewatch/internal/feature"
	"github.com/beewatch/beewatch/internal/featureflags"
	"github.com/beewatch/beewatch/internal/provider/resilience"
)

// Pipeline describes how grids are produced.
type Pipeline interface {
	Mode() feature.Mode
	ProviderName() string
	ClassifierName() string
	MaxRadius(ctx context.Context) int
}

// DegradationFlags reports the runtime switches that reduce the pipeline.
type DegradationFlags interface {
	ForceSimulated(ctx context.Context) bool
	RulesOnly(ctx context.Context) bool
}

// Pinger checks a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OpsConfig holds the dependencies of OpsHandler. Everything but Version is optional.
type OpsConfig struct {
	Version   string
	BuildTime string
	Pipeline  Pipeline
	Flags     DegradationFlags
	Registry  *resilience.Registry

	// Database is pinged by readiness checks when set.
	Database Pinger

	Now func() time.Time
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	pipeline  Pipeline
	flags     DegradationFlags
	registry  *resilience.Registry
	database  Pinger
	now       func() time.Time
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		pipeline:  cfg.Pipeline,
		flags:     cfg.Flags,
		registry:  cfg.Registry,
		database:  cfg.Database,
		now:       cfg.Now,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		response.ServiceUnavailable(w, r, "grid pipeline not configured")
		return
	}
	if h.database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.database.Ping(ctx); err != nil {
			response.ServiceUnavailable(w, r, "database unreachable")
			return
		}
	}

	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
	})
}

// SystemStatus handles GET /v1/ops/status - pipeline, provider and subsystem status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(h.now()),
		Subsystems: []models.SubsystemStatus{},
		Providers:  []models.ProviderStatus{},
	}

	if h.pipeline != nil {
		status.Pipeline = models.PipelineStatus{
			Mode:       string(h.pipeline.Mode()),
			Provider:   h.pipeline.ProviderName(),
			Classifier: h.pipeline.ClassifierName(),
			MaxRadius:  h.pipeline.MaxRadius(ctx),
		}
	} else {
		status.Status = models.HealthStatusFail
	}

	if h.database != nil {
		sub := models.SubsystemStatus{Name: "postgres", Status: models.HealthStatusOK}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := h.database.Ping(pingCtx); err != nil {
			detail := err.Error()
			sub.Status = models.HealthStatusDegraded
			sub.Detail = &detail
			status.Status = worst(status.Status, models.HealthStatusDegraded)
		}
		cancel()
		status.Subsystems = append(status.Subsystems, sub)
	}

	if h.registry != nil {
		for _, ph := range h.registry.Snapshot() {
			ps := providerStatus(ph)
			if ps.Status != models.HealthStatusOK {
				status.Status = worst(status.Status, models.HealthStatusDegraded)
			}
			status.Providers = append(status.Providers, ps)
		}
	}

	if h.flags != nil {
		if h.flags.ForceSimulated(ctx) {
			status.ActiveDegradationFlags = append(status.ActiveDegradationFlags, featureflags.FlagForceSimulatedMode)
		}
		if h.flags.RulesOnly(ctx) {
			status.ActiveDegradationFlags = append(status.ActiveDegradationFlags, featureflags.FlagRulesOnlyClassification)
		}
		if len(status.ActiveDegradationFlags) > 0 {
			status.Status = worst(status.Status, models.HealthStatusDegraded)
		}
	}

	response.JSON(w, r, http.StatusOK, status)
}

func providerStatus(ph resilience.ProviderHealth) models.ProviderStatus {
	ps := models.ProviderStatus{
		Provider:            ph.Name,
		Stage:               string(ph.Stage),
		CircuitState:        ph.CircuitState.String(),
		ConsecutiveFailures: ph.ConsecutiveFailures,
	}
	if ph.LastLatency > 0 {
		ms := ph.LastLatency.Milliseconds()
		ps.LastLatencyMs = &ms
	}
	switch ph.Status() {
	case resilience.StatusDown:
		ps.Status = models.HealthStatusFail
	case resilience.StatusDegraded:
		ps.Status = models.HealthStatusDegraded
	default:
		ps.Status = models.HealthStatusOK
	}
	if ph.LastSuccessAt != nil {
		ts := models.Timestamp(*ph.LastSuccessAt)
		ps.LastSuccessAt = &ts
	}
	if ph.LastFailureAt != nil {
		ts := models.Timestamp(*ph.LastFailureAt)
		ps.LastFailureAt = &ts
	}
	if ph.LastError != "" {
		msg := ph.LastError
		ps.Message = &msg
	}
	return ps
}

// worst returns the more severe of two statuses.
func worst(a, b models.HealthStatus) models.HealthStatus {
	rank := map[models.HealthStatus]int{
		models.HealthStatusOK:       0,
		models.HealthStatusDegraded: 1,
		models.HealthStatusFail:     2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
