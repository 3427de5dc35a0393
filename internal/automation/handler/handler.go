// Package handler exposes the automation control surface over HTTP.
package handler

import (
	"context"
	"net/http"

	"crm_automation_backend/internal/automation/transport"
	"crm_automation_backend/internal/leads/scoring"
	"crm_automation_backend/internal/progression"
	progrepo "crm_automation_backend/internal/progression/repository"
	"crm_automation_backend/internal/qualification"
	"crm_automation_backend/internal/scheduling"
	"crm_automation_backend/platform/httpkit"
	"crm_automation_backend/platform/logger"
	"crm_automation_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidLeadID    = "invalid lead ID"
)

// Handler handles HTTP requests for the automation endpoints.
type Handler struct {
	engine    *progression.Engine
	qualifier *qualification.Service
	scheduler *scheduling.Service
	scorer    *scoring.Service
	rules     *progrepo.Repository
	val       *validator.Validator
	log       *logger.Logger

	// runCtx outlives individual requests so that an engine started over
	// HTTP keeps running after the request completes.
	runCtx context.Context
}

// New creates a new automation handler.
func New(runCtx context.Context, engine *progression.Engine, qualifier *qualification.Service, scheduler *scheduling.Service, scorer *scoring.Service, rules *progrepo.Repository, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{
		engine:    engine,
		qualifier: qualifier,
		scheduler: scheduler,
		scorer:    scorer,
		rules:     rules,
		val:       val,
		log:       log,
		runCtx:    runCtx,
	}
}

// Score recomputes and returns the composite score breakdown for a lead.
// GET /api/v1/automation/leads/:id/score
func (h *Handler) Score(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidLeadID, nil)
		return
	}

	breakdown, err := h.scorer.ScoreLead(c.Request.Context(), leadID, tenantID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, breakdown)
}

// StartEngine starts the progression engine's timer loop.
// POST /api/v1/automation/engine/start
func (h *Handler) StartEngine(c *gin.Context) {
	h.engine.Start(h.runCtx)
	httpkit.OK(c, transport.EngineStateResponse{IsRunning: h.engine.IsRunning()})
}

// StopEngine stops the engine, waiting for the in-flight pass to finish.
// POST /api/v1/automation/engine/stop
func (h *Handler) StopEngine(c *gin.Context) {
	h.engine.Stop()
	httpkit.OK(c, transport.EngineStateResponse{IsRunning: h.engine.IsRunning()})
}

// RunOnce triggers a single evaluation pass over all tenants.
// POST /api/v1/automation/engine/run
func (h *Handler) RunOnce(c *gin.Context) {
	stats, err := h.engine.ProcessAllLeads(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, stats)
}

// EngineStats reports cumulative execution statistics.
// GET /api/v1/automation/engine/stats
func (h *Handler) EngineStats(c *gin.Context) {
	stats, err := h.engine.GetStats(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, stats)
}

// Detect runs the qualification detector for the tenant.
// POST /api/v1/automation/qualification/detect
func (h *Handler) Detect(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	var req transport.DetectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	results, err := h.qualifier.Detect(c.Request.Context(), tenantID, req.Criteria())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.DetectResponse{Count: len(results), Results: results})
}

// Recommend returns the call recommendation for a single lead.
// GET /api/v1/automation/leads/:id/recommendation
func (h *Handler) Recommend(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidLeadID, nil)
		return
	}

	rec, err := h.qualifier.Recommend(c.Request.Context(), leadID, tenantID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, rec)
}

// Slots lists free calendar slots for an assignee.
// GET /api/v1/automation/calendar/slots
func (h *Handler) Slots(c *gin.Context) {
	var req transport.SlotsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	slots, err := h.scheduler.FindFreeSlots(c.Request.Context(), req.AssigneeID, req.Duration())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.SlotsResponse{
		AssigneeID: req.AssigneeID,
		Duration:   req.Duration().String(),
		Slots:      slots,
	})
}

// AutoSchedule books a follow-up call for one lead.
// POST /api/v1/automation/leads/:id/auto-schedule
func (h *Handler) AutoSchedule(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidLeadID, nil)
		return
	}

	result, err := h.scheduler.AutoSchedule(c.Request.Context(), leadID, tenantID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// AutoScheduleBatch books calls for every currently qualified lead.
// POST /api/v1/automation/schedule/batch
func (h *Handler) AutoScheduleBatch(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	batch, err := h.scheduler.AutoScheduleQualified(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.BatchScheduleResponse{
		Processed: batch.Processed,
		Scheduled: batch.Scheduled,
		Errors:    batch.Errors,
		Results:   batch.Results,
	})
}

// ListRules lists the tenant's active progression rules.
// GET /api/v1/automation/rules
func (h *Handler) ListRules(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	rules, err := h.rules.ListActive(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, rules)
}

// SeedRules installs the default rule set for a tenant without rules.
// POST /api/v1/automation/rules/seed
func (h *Handler) SeedRules(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	created, err := progression.SeedDefaults(c.Request.Context(), h.rules, tenantID, h.log)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.SeedResponse{Created: created})
}
