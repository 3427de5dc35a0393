// Package transport defines the request and response shapes of the
// automation HTTP surface.
package transport

import (
	"time"

	"crm_automation_backend/internal/qualification"
	"crm_automation_backend/internal/scheduling"

	"github.com/google/uuid"
)

// DetectRequest tunes the qualification detector. Omitted fields fall back
// to the service defaults.
type DetectRequest struct {
	MinSentimentScore    float64 `json:"minSentimentScore" validate:"omitempty,gte=-1,lte=1"`
	MinEngagementScore   int     `json:"minEngagementScore" validate:"omitempty,gte=0,lte=100"`
	DaysSinceLastContact int     `json:"daysSinceLastContact" validate:"omitempty,gte=1"`
}

// Criteria converts the request into service criteria.
func (r DetectRequest) Criteria() qualification.Criteria {
	return qualification.Criteria{
		MinSentimentScore:    r.MinSentimentScore,
		MinEngagementScore:   r.MinEngagementScore,
		DaysSinceLastContact: r.DaysSinceLastContact,
	}
}

// DetectResponse lists qualified leads, best first.
type DetectResponse struct {
	Count   int                    `json:"count"`
	Results []qualification.Result `json:"results"`
}

// SlotsRequest queries free calendar slots for an assignee.
type SlotsRequest struct {
	AssigneeID      uuid.UUID `form:"assigneeId" binding:"required"`
	DurationMinutes int       `form:"durationMinutes"`
}

// Duration returns the requested slot length, defaulting to 30 minutes.
func (r SlotsRequest) Duration() time.Duration {
	if r.DurationMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(r.DurationMinutes) * time.Minute
}

// SlotsResponse lists candidate start times in ascending order.
type SlotsResponse struct {
	AssigneeID uuid.UUID   `json:"assigneeId"`
	Duration   string      `json:"duration"`
	Slots      []time.Time `json:"slots"`
}

// BatchScheduleResponse reports one batch auto-schedule pass.
type BatchScheduleResponse struct {
	Processed int                         `json:"processed"`
	Scheduled int                         `json:"scheduled"`
	Errors    int                         `json:"errors"`
	Results   []scheduling.ScheduleResult `json:"results"`
}

// SeedResponse reports how many default rules were installed.
type SeedResponse struct {
	Created int `json:"created"`
}

// EngineStateResponse reports the engine's running flag after a control
// operation.
type EngineStateResponse struct {
	IsRunning bool `json:"isRunning"`
}
